package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	flowerrors "github.com/randalmurphal/wapiflow/pkg/flowgraph/errors"
	"github.com/randalmurphal/wapiflow/pkg/flowgraph/observability"
)

// DualStore layers a fast tier over a durable tier.
//
//   - Put writes fast, then durable. Durable failures are logged and
//     counted but never returned; the fast tier stays authoritative.
//   - Get reads fast; on a miss it reads durable and rehydrates fast.
//   - List merges both tiers, preferring fast records per conversation.
type DualStore struct {
	fast    Store
	durable Store
	logger  *slog.Logger

	durableFailures atomic.Int64
	rehydrations    atomic.Int64
}

// DualOption configures a DualStore.
type DualOption func(*DualStore)

// WithDualLogger sets the logger used for degraded-tier warnings.
func WithDualLogger(logger *slog.Logger) DualOption {
	return func(d *DualStore) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDualStore combines a fast and a durable store.
func NewDualStore(fast, durable Store, opts ...DualOption) *DualStore {
	d := &DualStore{
		fast:    fast,
		durable: durable,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Put implements Store.
func (d *DualStore) Put(ctx context.Context, rec *Record) error {
	if err := d.fast.Put(ctx, rec); err != nil {
		return fmt.Errorf("fast tier: %w", err)
	}

	if err := d.durable.Put(ctx, rec); err != nil {
		failure := &flowerrors.CheckpointDurableWriteFailure{
			ConversationID: rec.ConversationID,
			Version:        rec.Version,
			Err:            err,
		}
		d.durableFailures.Add(1)
		observability.LogDurableWriteFailure(d.logger, rec.ConversationID, rec.Version, failure)
	}
	return nil
}

// Get implements Store.
func (d *DualStore) Get(ctx context.Context, conversationID string) (*Record, error) {
	rec, err := d.fast.Get(ctx, conversationID)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("fast tier: %w", err)
	}

	rec, err = d.durable.Get(ctx, conversationID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("durable tier: %w", err)
	}

	if err := d.fast.Put(ctx, rec); err != nil {
		d.logger.Warn("fast tier rehydration failed",
			slog.String("conversation_id", conversationID),
			slog.String("error", err.Error()),
		)
	} else {
		d.rehydrations.Add(1)
	}
	return rec, nil
}

// List implements Store. A failing durable tier degrades to fast-only results.
func (d *DualStore) List(ctx context.Context, filter Filter) ([]*Record, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	partial := filter.unlimited()

	fastRecs, err := d.fast.List(ctx, partial)
	if err != nil {
		return nil, fmt.Errorf("fast tier: %w", err)
	}

	durableRecs, err := d.durable.List(ctx, partial)
	if err != nil {
		d.logger.Warn("durable checkpoint list failed, returning fast tier only",
			slog.String("error", err.Error()),
		)
		durableRecs = nil
	}

	seen := make(map[string]bool, len(fastRecs))
	merged := make([]*Record, 0, len(fastRecs)+len(durableRecs))
	for _, rec := range fastRecs {
		seen[rec.ConversationID] = true
		merged = append(merged, rec)
	}
	for _, rec := range durableRecs {
		if !seen[rec.ConversationID] {
			merged = append(merged, rec)
		}
	}
	return filter.apply(merged), nil
}

// Delete implements Store. It clears both tiers.
func (d *DualStore) Delete(ctx context.Context, conversationID string) error {
	return errors.Join(
		d.fast.Delete(ctx, conversationID),
		d.durable.Delete(ctx, conversationID),
	)
}

// Close implements Store.
func (d *DualStore) Close() error {
	return errors.Join(d.fast.Close(), d.durable.Close())
}

// DurableFailures returns how many durable writes have failed.
func (d *DualStore) DurableFailures() int64 {
	return d.durableFailures.Load()
}

// Rehydrations returns how many fast-tier misses were served from durable.
func (d *DualStore) Rehydrations() int64 {
	return d.rehydrations.Load()
}
