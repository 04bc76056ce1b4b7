package booking

import (
	"context"
	"log/slog"
)

// Sender delivers the assistant's reply to the customer.
type Sender interface {
	Send(ctx context.Context, conversationID, text string) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, conversationID, text string) error

// Send implements Sender.
func (f SenderFunc) Send(ctx context.Context, conversationID, text string) error {
	return f(ctx, conversationID, text)
}

// LogSender logs replies instead of delivering them. It is the default
// when replies travel back in the HTTP response.
type LogSender struct {
	Logger *slog.Logger
}

// Send implements Sender.
func (s LogSender) Send(ctx context.Context, conversationID, text string) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "reply",
		slog.String("conversation_id", conversationID),
		slog.Int("length", len(text)),
	)
	return nil
}
