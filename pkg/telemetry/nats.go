package telemetry

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/randalmurphal/wapiflow/pkg/state"
)

// DefaultSubjectPrefix is the subject root milestones are published under.
const DefaultSubjectPrefix = "wapiflow.milestones"

// NATSPublisher publishes milestones as JSON on <prefix>.<name>.
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
}

// NewNATSPublisher wraps an open connection. The caller owns conn.
func NewNATSPublisher(conn *nats.Conn, prefix string) *NATSPublisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSPublisher{conn: conn, prefix: prefix}
}

// ConnectNATS dials url with reconnects enabled.
func ConnectNATS(url string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("wapiflow"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}
	return nc, nil
}

// Subject returns the subject for a milestone name.
func (p *NATSPublisher) Subject(name string) string {
	return p.prefix + "." + name
}

// Publish implements Publisher. The milestone ID travels in the
// Nats-Msg-Id header so JetStream consumers can deduplicate.
func (p *NATSPublisher) Publish(ctx context.Context, m state.Milestone) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode milestone: %w", err)
	}
	msg := nats.NewMsg(p.Subject(m.Name))
	msg.Header.Set(nats.MsgIdHdr, m.ID)
	msg.Header.Set("Conversation-Id", m.ConversationID)
	msg.Data = data
	if err := p.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish milestone %s: %w", m.Name, err)
	}
	return nil
}
