// Command wapiflow runs the vehicle-service booking assistant.
//
// It serves the chat API, offers a local chat REPL against the same
// workflow, and inspects stored conversation checkpoints.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/wapiflow/pkg/flowgraph/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// envPrefix marks environment overrides, e.g. WAPIFLOW_SERVER_ADDR.
const envPrefix = "WAPIFLOW_"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// rootFlags are shared by every subcommand.
type rootFlags struct {
	configPath string
	logFormat  string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:   "wapiflow",
		Short: "Vehicle-service booking assistant",
		Long: `wapiflow drives booking conversations through a checkpointed workflow.

Configuration is read from a YAML file and overridden by WAPIFLOW_*
environment variables, e.g. WAPIFLOW_CHECKPOINT_PATH=/var/lib/wapiflow.db.`,
		Version:      version,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&flags.configPath, "config", "wapiflow.yaml", "config file (skipped if missing)")
	cmd.PersistentFlags().StringVar(&flags.logFormat, "log-format", "text", "log format: text or json")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "log level, overrides log.level from config")

	cmd.AddCommand(
		newServeCmd(flags),
		newChatCmd(flags),
		newCheckpointsCmd(flags),
		newVersionCmd(),
	)
	return cmd
}

// load reads the layered config and builds the process logger.
func (f *rootFlags) load(stderr io.Writer) (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(f.configPath, envPrefix)
	if err != nil {
		return config.Config{}, nil, err
	}
	level := f.logLevel
	if level == "" {
		level = cfg.String("log.level", "info")
	}
	logger, err := newLogger(stderr, f.logFormat, level)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logger, nil
}

func newLogger(w io.Writer, format, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	switch strings.ToLower(format) {
	case "text", "":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q (valid: text, json)", format)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "wapiflow %s\n", version)
		},
	}
}
