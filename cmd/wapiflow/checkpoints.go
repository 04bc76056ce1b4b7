package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/randalmurphal/wapiflow/pkg/booking"
	"github.com/randalmurphal/wapiflow/pkg/flowgraph/checkpoint"
)

type checkpointFlags struct {
	*rootFlags
	outputJSON bool
	outputYAML bool
}

// structured writes v as JSON or YAML when either was requested.
func (f *checkpointFlags) structured(out io.Writer, v any) (bool, error) {
	switch {
	case f.outputJSON:
		return true, writeJSON(out, v)
	case f.outputYAML:
		return true, writeYAML(out, v)
	default:
		return false, nil
	}
}

// open returns the durable store the server writes to.
func (f *checkpointFlags) open(cmd *cobra.Command) (*checkpoint.SQLiteStore, error) {
	cfg, _, err := f.load(cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}
	return checkpoint.NewSQLiteStore(booking.SettingsFrom(cfg).CheckpointPath)
}

func newCheckpointsCmd(root *rootFlags) *cobra.Command {
	flags := &checkpointFlags{rootFlags: root}

	cmd := &cobra.Command{
		Use:     "checkpoints",
		Aliases: []string{"cp"},
		Short:   "Inspect stored conversation checkpoints",
		Long: `Inspect and clear conversation checkpoints in the durable store
(checkpoint.path).

Examples:
  # Conversations from one number range, newest activity in the last day
  wapiflow checkpoints list --pattern '9198*' --since 24h

  # Latest state of a conversation
  wapiflow checkpoints show 919876543210

  # The same, as YAML
  wapiflow checkpoints show 919876543210 --yaml

  # Every version written for a conversation
  wapiflow checkpoints history 919876543210

  # Forget a conversation
  wapiflow checkpoints clear 919876543210`,
	}
	cmd.PersistentFlags().BoolVar(&flags.outputJSON, "json", false, "output as JSON")
	cmd.PersistentFlags().BoolVar(&flags.outputYAML, "yaml", false, "output as YAML")
	cmd.MarkFlagsMutuallyExclusive("json", "yaml")

	cmd.AddCommand(
		newCheckpointsListCmd(flags),
		newCheckpointsShowCmd(flags),
		newCheckpointsHistoryCmd(flags),
		newCheckpointsClearCmd(flags),
	)
	return cmd
}

func newCheckpointsListCmd(flags *checkpointFlags) *cobra.Command {
	var (
		pattern string
		since   time.Duration
		limit   int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the latest checkpoint of each conversation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := flags.open(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			filter := checkpoint.Filter{Pattern: pattern, Limit: limit}
			if since > 0 {
				filter.Since = time.Now().Add(-since)
			}
			recs, err := store.List(cmd.Context(), filter)
			if err != nil {
				return fmt.Errorf("failed to list checkpoints: %w", err)
			}

			out := cmd.OutOrStdout()
			if ok, err := flags.structured(out, summaries(recs)); ok {
				return err
			}
			if len(recs) == 0 {
				fmt.Fprintln(out, "No conversations found")
				return nil
			}
			return writeRecordTable(out, "CONVERSATION", recs, func(r *checkpoint.Record) string { return r.ConversationID })
		},
	}

	cmd.Flags().StringVar(&pattern, "pattern", "", "glob over conversation IDs, e.g. '9198*'")
	cmd.Flags().DurationVar(&since, "since", 0, "only conversations updated within this window")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of conversations (0 for all)")
	return cmd
}

func newCheckpointsShowCmd(flags *checkpointFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "show <conversation-id>",
		Short: "Print the latest state of a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := flags.open(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			rec, err := store.Get(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("conversation %s: %w", args[0], err)
			}

			out := cmd.OutOrStdout()
			if flags.outputJSON {
				return writeJSON(out, rec)
			}
			if flags.outputYAML {
				view, err := newRecordView(rec)
				if err != nil {
					return err
				}
				return writeYAML(out, view)
			}
			fmt.Fprintf(out, "Conversation: %s\n", rec.ConversationID)
			fmt.Fprintf(out, "Version: %d\n", rec.Version)
			fmt.Fprintf(out, "Node: %s\n", rec.NodeID)
			fmt.Fprintf(out, "Step: %s\n", rec.Step)
			fmt.Fprintf(out, "Updated: %s\n\n", rec.Timestamp.Format(time.DateTime))

			var pretty bytes.Buffer
			if err := json.Indent(&pretty, rec.State, "", "  "); err != nil {
				return fmt.Errorf("decode state: %w", err)
			}
			fmt.Fprintln(out, pretty.String())
			return nil
		},
	}
}

func newCheckpointsHistoryCmd(flags *checkpointFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "history <conversation-id>",
		Short: "List every stored version of a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := flags.open(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			recs, err := store.History(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("conversation %s: %w", args[0], err)
			}

			out := cmd.OutOrStdout()
			if ok, err := flags.structured(out, summaries(recs)); ok {
				return err
			}
			if len(recs) == 0 {
				fmt.Fprintf(out, "No checkpoints for %s\n", args[0])
				return nil
			}
			return writeRecordTable(out, "VERSION", recs, func(r *checkpoint.Record) string { return fmt.Sprint(r.Version) })
		},
	}
}

func newCheckpointsClearCmd(flags *checkpointFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "clear <conversation-id>",
		Short: "Delete every checkpoint of a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := flags.open(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Delete(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("failed to clear %s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared %s\n", args[0])
			return nil
		},
	}
}

// recordSummary is a Record without its state payload.
type recordSummary struct {
	ConversationID string    `json:"conversation_id" yaml:"conversation_id"`
	Version        int64     `json:"version" yaml:"version"`
	NodeID         string    `json:"node_id" yaml:"node_id"`
	Step           string    `json:"step" yaml:"step"`
	Timestamp      time.Time `json:"timestamp" yaml:"timestamp"`
	Digest         string    `json:"digest" yaml:"digest"`
}

// recordView is a Record with its state decoded, for YAML output.
type recordView struct {
	Summary recordSummary  `yaml:",inline"`
	State   map[string]any `yaml:"state"`
}

func newRecordView(rec *checkpoint.Record) (recordView, error) {
	view := recordView{Summary: summarize(rec)}
	if err := json.Unmarshal(rec.State, &view.State); err != nil {
		return recordView{}, fmt.Errorf("decode state: %w", err)
	}
	return view, nil
}

func summarize(r *checkpoint.Record) recordSummary {
	return recordSummary{
		ConversationID: r.ConversationID,
		Version:        r.Version,
		NodeID:         r.NodeID,
		Step:           r.Step,
		Timestamp:      r.Timestamp,
		Digest:         r.Digest,
	}
}

func summaries(recs []*checkpoint.Record) []recordSummary {
	out := make([]recordSummary, 0, len(recs))
	for _, r := range recs {
		out = append(out, summarize(r))
	}
	return out
}

func writeRecordTable(out io.Writer, keyHeader string, recs []*checkpoint.Record, key func(*checkpoint.Record) string) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "%s\tNODE\tSTEP\tUPDATED\tDIGEST\n", keyHeader)
	for _, r := range recs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			key(r),
			r.NodeID,
			r.Step,
			r.Timestamp.Format(time.DateTime),
			truncate(r.Digest, 12),
		)
	}
	return w.Flush()
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeYAML(out io.Writer, v any) error {
	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
