package checkpoint

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/zeebo/blake3"
)

// Format is the current record encoding version.
// Increment when making breaking changes to Record.
const Format = 1

// Record is a point-in-time copy of a conversation's state.
type Record struct {
	Format         int             `json:"format"`
	ConversationID string          `json:"conversation_id"`
	Version        int64           `json:"version"`
	NodeID         string          `json:"node_id"`
	Step           string          `json:"step,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
	Digest         string          `json:"digest"`
	State          json.RawMessage `json:"state"`
}

// New creates a record for an already JSON-encoded state.
func New(conversationID string, version int64, nodeID string, state []byte) *Record {
	return &Record{
		Format:         Format,
		ConversationID: conversationID,
		Version:        version,
		NodeID:         nodeID,
		Timestamp:      time.Now().UTC(),
		Digest:         Digest(state),
		State:          append(json.RawMessage(nil), state...),
	}
}

// WithStep records the workflow step the state was at.
func (r *Record) WithStep(step string) *Record {
	r.Step = step
	return r
}

// Digest returns the hex blake3 hash of an encoded state.
func Digest(state []byte) string {
	sum := blake3.Sum256(state)
	return hex.EncodeToString(sum[:])
}

// Validate checks the fields every store relies on.
func (r *Record) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: nil", ErrInvalidRecord)
	}
	if r.ConversationID == "" {
		return fmt.Errorf("%w: empty conversation id", ErrInvalidRecord)
	}
	if r.Version <= 0 {
		return fmt.Errorf("%w: version %d", ErrInvalidRecord, r.Version)
	}
	return nil
}

// Decode unmarshals the state snapshot into v.
func (r *Record) Decode(v any) error {
	if r.Format != Format {
		return fmt.Errorf("%w: got %d, expected %d", ErrFormatMismatch, r.Format, Format)
	}
	return json.Unmarshal(r.State, v)
}

// Clone returns a copy that shares no memory with r.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	out.State = append(json.RawMessage(nil), r.State...)
	return &out
}

// Marshal serializes a record to JSON.
func (r *Record) Marshal() ([]byte, error) {
	return json.Marshal(r)
}

// Unmarshal deserializes a record from JSON.
func Unmarshal(data []byte) (*Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}
