package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/wapiflow/pkg/booking"
	"github.com/randalmurphal/wapiflow/pkg/flowgraph/observability"
)

const defaultChatID = "919876543210"

func newChatCmd(flags *rootFlags) *cobra.Command {
	var id string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the booking workflow in the terminal",
		Long: `Chat with the booking workflow in the terminal.

Each line you type is one inbound message for the conversation. State is
checkpointed exactly as under serve, so a chat can be picked up again later.
Type /quit or send EOF to leave, /reset to start the conversation over.

Examples:
  # Chat as the default test number
  wapiflow chat

  # Chat as someone else, against a scratch database
  WAPIFLOW_CHECKPOINT_PATH=/tmp/chat.db wapiflow chat --id 919000000001`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := flags.load(cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			printer := booking.SenderFunc(func(_ context.Context, _ string, text string) error {
				_, err := fmt.Fprintf(out, "bot> %s\n", text)
				return err
			})

			a, err := buildApp(booking.SettingsFrom(cfg), logger, observability.NoopMetrics{}, booking.WithSender(printer))
			if err != nil {
				return err
			}
			defer a.Close()

			return chatLoop(cmd.Context(), a.runner, id, cmd.InOrStdin(), out)
		},
	}

	cmd.Flags().StringVar(&id, "id", defaultChatID, "conversation ID (the customer's WhatsApp number)")
	return cmd
}

// chatLoop feeds each input line to the runner until EOF or /quit.
func chatLoop(ctx context.Context, r *booking.Runner, id string, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	fmt.Fprintf(out, "Chatting as %s. /reset starts over, /quit leaves.\n", id)

	for {
		fmt.Fprint(out, "you> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/reset":
			if err := r.Clear(ctx, id); err != nil {
				return err
			}
			fmt.Fprintln(out, "Conversation cleared.")
			continue
		}

		c, err := r.Run(ctx, id, line, nil)
		if err != nil && c == nil {
			return err
		}
		if err != nil {
			fmt.Fprintf(out, "(cycle failed: %v)\n", err)
		}
	}
}
