package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// JSON schemas for tier output. A reply failing its schema counts as a
// tier failure.
const (
	NameSchema = `{
	"type": "object",
	"required": ["first_name"],
	"properties": {
		"first_name": {"type": "string", "minLength": 2, "pattern": "^[A-Za-z][A-Za-z .'-]*$"},
		"last_name": {"type": "string"}
	}
}`

	PhoneSchema = `{
	"type": "object",
	"required": ["phone"],
	"properties": {"phone": {"type": "string", "pattern": "^[6-9][0-9]{9}$"}}
}`

	VehicleSchema = `{
	"type": "object",
	"anyOf": [{"required": ["brand"]}, {"required": ["plate"]}],
	"properties": {
		"brand": {"type": "string", "minLength": 2},
		"model": {"type": "string"},
		"plate": {"type": "string", "pattern": "^[A-Z]{2}[0-9]{1,2}[A-Z]{1,3}[0-9]{4}$"}
	}
}`

	DateSchema = `{
	"type": "object",
	"required": ["date"],
	"properties": {"date": {"type": "string", "format": "date"}}
}`
)

// Schema validates extractor output.
type Schema struct {
	schema *jsonschema.Schema
}

// CompileSchema compiles a JSON schema document.
func CompileSchema(name, doc string) (*Schema, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat = true
	url := name + ".json"
	if err := c.AddResource(url, strings.NewReader(doc)); err != nil {
		return nil, fmt.Errorf("add schema %s: %w", name, err)
	}
	s, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}
	return &Schema{schema: s}, nil
}

// MustCompileSchema is like CompileSchema but panics on error.
func MustCompileSchema(name, doc string) *Schema {
	s, err := CompileSchema(name, doc)
	if err != nil {
		panic(err)
	}
	return s
}

// Validate checks fields against the schema.
func (s *Schema) Validate(fields map[string]any) error {
	// Round-trip so numbers and nested values have their JSON types.
	data, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	return s.schema.Validate(doc)
}

// SchemaValidated wraps an extractor so output failing the schema is a tier failure.
func SchemaValidated(inner Extractor, s *Schema) Extractor {
	return ExtractorFunc(func(ctx context.Context, in Input) (Data, error) {
		data, err := inner.Extract(ctx, in)
		if err != nil {
			return Data{}, err
		}
		if err := s.Validate(data.Fields); err != nil {
			return Data{}, fmt.Errorf("schema: %w", err)
		}
		return data, nil
	})
}
