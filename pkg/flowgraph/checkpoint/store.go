// Package checkpoint persists conversation state snapshots so a conversation
// survives process restarts.
//
// Two tiers exist: a process-local MemoryStore and a durable SQLiteStore.
// DualStore combines them with write-through and read-through semantics.
package checkpoint

import (
	"context"
	"errors"
)

// Store persists checkpoint records keyed by conversation.
// Implementations must be safe for concurrent use.
type Store interface {
	// Put stores rec as the newest record for rec.ConversationID.
	// Returns ErrStaleVersion if rec.Version does not exceed the stored one.
	Put(ctx context.Context, rec *Record) error

	// Get returns the newest record for a conversation.
	// Returns ErrNotFound if none exists.
	Get(ctx context.Context, conversationID string) (*Record, error)

	// List returns the newest record of every conversation matching filter,
	// ordered by conversation ID.
	List(ctx context.Context, filter Filter) ([]*Record, error)

	// Delete removes every record of a conversation.
	// Returns nil if the conversation has none.
	Delete(ctx context.Context, conversationID string) error

	// Close releases any resources (connections, files).
	Close() error
}

// Sentinel errors for checkpoint operations.
var (
	// ErrNotFound indicates no checkpoint exists for the conversation.
	ErrNotFound = errors.New("checkpoint not found")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("checkpoint store closed")

	// ErrStaleVersion indicates a put whose version does not advance the stored one.
	ErrStaleVersion = errors.New("checkpoint version is not newer than stored version")

	// ErrInvalidRecord indicates a record missing its conversation ID or version.
	ErrInvalidRecord = errors.New("invalid checkpoint record")

	// ErrBadPattern indicates a malformed List filter pattern.
	ErrBadPattern = errors.New("invalid conversation pattern")

	// ErrFormatMismatch indicates a record was written with an incompatible Format.
	ErrFormatMismatch = errors.New("checkpoint format mismatch")
)
