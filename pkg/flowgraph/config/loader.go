package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	koanfyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const maxConfigFileSize = 1024 * 1024

// jsonParser reads JSON config files into koanf.
type jsonParser struct{}

func (jsonParser) Unmarshal(b []byte) (map[string]any, error) {
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func (jsonParser) Marshal(m map[string]any) ([]byte, error) {
	return json.Marshal(m)
}

// parserFor picks the file parser by extension. Files without an
// extension are read as YAML.
func parserFor(path string) (koanf.Parser, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml", "":
		return koanfyaml.Parser(), nil
	case ".json":
		return jsonParser{}, nil
	default:
		return nil, fmt.Errorf("unsupported config file extension: %s", ext)
	}
}

// Load layers an optional config file and the environment into a Config.
//
// Precedence, highest first:
//  1. Environment variables starting with envPrefix
//  2. The file at path, YAML or JSON by extension (skipped if path is empty
//     or the file does not exist)
//
// Environment names drop the prefix, lowercase, and split section from
// field on the first underscore:
//
//	WAPIFLOW_CHECKPOINT_PATH        -> checkpoint.path
//	WAPIFLOW_EXTRACT_PRIMARY_TIMEOUT -> extract.primary_timeout
func Load(path, envPrefix string) (Config, error) {
	k := koanf.New(".")

	if path != "" {
		parser, err := parserFor(path)
		if err != nil {
			return Config{}, err
		}
		content, err := readBounded(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return Config{}, err
		default:
			if err := k.Load(rawbytes.Provider(content), parser); err != nil {
				return Config{}, fmt.Errorf("load config file %s: %w", path, err)
			}
		}
	}

	if envPrefix != "" {
		if err := k.Load(env.Provider(envPrefix, ".", envKey(envPrefix)), nil); err != nil {
			return Config{}, fmt.Errorf("load environment: %w", err)
		}
	}

	return New(k.All()), nil
}

// envKey maps PREFIX_SECTION_FIELD_NAME to section.field_name.
func envKey(prefix string) func(string) string {
	return func(s string) string {
		lower := strings.ToLower(strings.TrimPrefix(s, prefix))
		section, field, ok := strings.Cut(lower, "_")
		if !ok {
			return lower
		}
		return section + "." + field
	}
}

func readBounded(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat config file: %w", err)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file %s exceeds %d bytes", path, maxConfigFileSize)
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return content, nil
}
