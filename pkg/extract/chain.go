package extract

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	flowerrors "github.com/randalmurphal/wapiflow/pkg/flowgraph/errors"
	"github.com/randalmurphal/wapiflow/pkg/flowgraph/observability"
)

// Chain is an ordered fallback over tiers for one field.
type Chain struct {
	field   string
	tiers   []Tier
	logger  *slog.Logger
	metrics observability.MetricsRecorder
}

// ChainOption configures a Chain.
type ChainOption func(*Chain)

// WithLogger sets the logger for tier attempts.
func WithLogger(logger *slog.Logger) ChainOption {
	return func(c *Chain) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics records per-tier attempts.
func WithMetrics(m observability.MetricsRecorder) ChainOption {
	return func(c *Chain) {
		if m != nil {
			c.metrics = m
		}
	}
}

// NewChain creates a chain for field over tiers, tried in order.
// Panics if no tiers are given or a tier has no extractor.
func NewChain(field string, tiers []Tier, opts ...ChainOption) *Chain {
	if len(tiers) == 0 {
		panic("extract: chain needs at least one tier")
	}
	for i, t := range tiers {
		if t.Extractor == nil {
			panic(fmt.Sprintf("extract: tier %d (%s) has no extractor", i, t.Name))
		}
	}
	c := &Chain{
		field:   field,
		tiers:   append([]Tier(nil), tiers...),
		logger:  slog.Default(),
		metrics: observability.NoopMetrics{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Field returns the field the chain extracts.
func (c *Chain) Field() string {
	return c.field
}

// Tiers returns the tier names in order.
func (c *Chain) Tiers() []string {
	names := make([]string, len(c.tiers))
	for i, t := range c.tiers {
		names[i] = t.Name
	}
	return names
}

// Run tries each tier exactly once. A tier fails by returning an error,
// returning no fields, panicking, or exceeding its timeout; the chain then
// moves on and never revisits it. When all tiers fail Run returns
// *errors.ExtractionFailure. If ctx itself is done, Run returns ctx.Err().
func (c *Chain) Run(ctx context.Context, in Input) (Result, error) {
	failure := &flowerrors.ExtractionFailure{Field: c.field}

	for _, tier := range c.tiers {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		start := time.Now()
		data, err := attempt(ctx, tier, in)
		elapsed := time.Since(start)

		if err == nil && len(data.Fields) == 0 {
			err = ErrNoMatch
		}
		c.metrics.RecordExtraction(ctx, c.field, tier.Name, err == nil, elapsed)

		if err != nil {
			if ctx.Err() != nil {
				return Result{}, ctx.Err()
			}
			c.logger.Warn("extraction tier failed",
				slog.String("field", c.field),
				slog.String("tier", tier.Name),
				slog.String("error", err.Error()),
			)
			failure.Tiers = append(failure.Tiers, tier.Name)
			failure.Errs = append(failure.Errs, fmt.Errorf("%s: %w", tier.Name, err))
			continue
		}

		result := Result{
			Fields:     data.Fields,
			Confidence: tier.confidence(data.Confidence),
			Method:     tier.Method,
			Tier:       tier.Name,
		}
		c.logger.Info("extraction succeeded",
			slog.String("field", c.field),
			slog.String("tier", tier.Name),
			slog.Float64("confidence", result.Confidence),
		)
		return result, nil
	}

	return Result{}, failure
}

// attempt runs one tier under its timeout. An extractor that ignores its
// context is abandoned when the timeout fires.
func attempt(ctx context.Context, tier Tier, in Input) (Data, error) {
	tctx, cancel := context.WithTimeout(ctx, tier.timeout())
	defer cancel()

	type reply struct {
		data Data
		err  error
	}
	done := make(chan reply, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- reply{err: fmt.Errorf("extractor panicked: %v", r)}
			}
		}()
		data, err := tier.Extractor.Extract(tctx, in)
		done <- reply{data: data, err: err}
	}()

	select {
	case r := <-done:
		return r.data, r.err
	case <-tctx.Done():
		return Data{}, &flowerrors.TimeoutError{
			Operation: tier.Name + " extraction",
			Duration:  tier.timeout().String(),
		}
	}
}
