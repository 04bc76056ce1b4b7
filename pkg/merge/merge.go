// Package merge arbitrates writes of extracted data into confidence-bearing
// state records.
//
// A record already holding data is only replaced by data of strictly higher
// confidence; ties keep the existing value. Fields absent from the incoming
// data are preserved from the existing record.
//
// Basic usage:
//
//	outcome, err := merge.Merge(ctx, conv, "customer",
//	    map[string]any{"first_name": "Ravi", "last_name": "Kumar"}, 0.70,
//	    merge.WithTurn(conv.UserTurns()))
package merge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"math"

	flowerrors "github.com/randalmurphal/wapiflow/pkg/flowgraph/errors"
	"github.com/randalmurphal/wapiflow/pkg/flowgraph/observability"
	"github.com/randalmurphal/wapiflow/pkg/state"
)

// Confidence thresholds shared by extraction and merge callers.
const (
	// MinimumConfidence is the lowest confidence a node should act on.
	MinimumConfidence = 0.6

	// HighConfidence marks data that needs no confirmation.
	HighConfidence = 0.85
)

// TurnKey is the entry recording which user turn produced the data.
const TurnKey = "turn_extracted"

// ErrInvalidConfidence indicates a confidence outside [0,1].
var ErrInvalidConfidence = errors.New("confidence must be within [0,1]")

// Outcome describes what a merge did to the target record.
type Outcome string

const (
	// OutcomeInserted means the target was empty and now holds the data.
	OutcomeInserted Outcome = "inserted"
	// OutcomeReplaced means the incoming data won on confidence.
	OutcomeReplaced Outcome = "replaced"
	// OutcomeKept means the existing record was left untouched.
	OutcomeKept Outcome = "kept"
	// OutcomeCustom means a custom Func produced the record.
	OutcomeCustom Outcome = "custom"
)

// Func is a custom merge strategy. The returned record's confidence is
// overwritten with the larger of the two confidences.
type Func func(existing, incoming map[string]any, existingConfidence, incomingConfidence float64) (map[string]any, error)

type options struct {
	fn         Func
	turn       int
	hasTurn    bool
	onConflict func(*flowerrors.MergeConflict)
	logger     *slog.Logger
	metrics    observability.MetricsRecorder
}

// Option configures a merge call.
type Option func(*options)

// WithFunc supplies a custom strategy. If it fails, the default strategy
// decides instead.
func WithFunc(fn Func) Option {
	return func(o *options) {
		o.fn = fn
	}
}

// WithTurn tags the written record with the index of the user turn.
func WithTurn(turn int) Option {
	return func(o *options) {
		o.turn = turn
		o.hasTurn = true
	}
}

// WithConflictObserver receives every discarded write.
func WithConflictObserver(fn func(*flowerrors.MergeConflict)) Option {
	return func(o *options) {
		o.onConflict = fn
	}
}

// WithLogger sets the logger for merge decisions.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetrics counts merge outcomes per path.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// Merge writes data into the record at path according to confidence.
// It mutates c and is meant to be called on the clone a node receives.
func Merge(ctx context.Context, c *state.Conversation, path string, data map[string]any, confidence float64, opts ...Option) (Outcome, error) {
	o := options{metrics: observability.NoopMetrics{}}
	for _, opt := range opts {
		opt(&o)
	}

	if math.IsNaN(confidence) || confidence < 0 || confidence > 1 {
		return "", fmt.Errorf("%w: %v", ErrInvalidConfidence, confidence)
	}

	p, err := state.ParsePath(path)
	if err != nil {
		return "", err
	}

	outcome, err := apply(c, p, data, confidence, &o)
	if err != nil {
		return "", err
	}
	o.metrics.RecordMerge(ctx, path, string(outcome))
	return outcome, nil
}

func apply(c *state.Conversation, p state.Path, data map[string]any, confidence float64, o *options) (Outcome, error) {
	current := c.GetPath(p)
	if state.IsEmpty(current) {
		if err := c.SetPath(p, o.record(data, confidence)); err != nil {
			return "", err
		}
		o.log("merge inserted", p, 0, confidence)
		return OutcomeInserted, nil
	}

	existing, ok := current.(map[string]any)
	if !ok {
		return "", fmt.Errorf("%w: %s", state.ErrNotMapping, p)
	}
	existingConfidence := state.Confidence(existing)

	if o.fn != nil {
		merged, err := o.custom(existing, data, existingConfidence, confidence)
		if err == nil {
			merged[state.ConfidenceKey] = math.Max(existingConfidence, confidence)
			o.tag(merged)
			if err := c.SetPath(p, merged); err != nil {
				return "", err
			}
			o.log("merge custom", p, existingConfidence, confidence)
			return OutcomeCustom, nil
		}
		if o.logger != nil {
			o.logger.Error("custom merge failed, using default strategy",
				slog.String("path", p.String()),
				slog.String("error", err.Error()),
			)
		}
	}

	if confidence > existingConfidence {
		merged := state.CopyMap(existing)
		maps.Copy(merged, data)
		merged[state.ConfidenceKey] = confidence
		o.tag(merged)
		if err := c.SetPath(p, merged); err != nil {
			return "", err
		}
		o.log("merge replaced", p, existingConfidence, confidence)
		return OutcomeReplaced, nil
	}

	conflict := &flowerrors.MergeConflict{
		Path:     p.String(),
		Existing: existingConfidence,
		Incoming: confidence,
	}
	if o.onConflict != nil {
		o.onConflict(conflict)
	}
	if o.logger != nil {
		o.logger.Info("merge kept existing", slog.String("reason", conflict.Error()))
	}
	return OutcomeKept, nil
}

// custom runs the custom strategy, turning a panic or a nil result into an error.
func (o *options) custom(existing, incoming map[string]any, ec, ic float64) (merged map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("merge func panicked: %v", r)
		}
	}()
	merged, err = o.fn(state.CopyMap(existing), maps.Clone(incoming), ec, ic)
	if err == nil && merged == nil {
		err = errors.New("merge func returned nil")
	}
	return merged, err
}

func (o *options) record(data map[string]any, confidence float64) map[string]any {
	out := make(map[string]any, len(data)+2)
	maps.Copy(out, data)
	out[state.ConfidenceKey] = confidence
	o.tag(out)
	return out
}

func (o *options) tag(m map[string]any) {
	if o.hasTurn {
		m[TurnKey] = o.turn
	}
}

func (o *options) log(msg string, p state.Path, existing, incoming float64) {
	if o.logger == nil {
		return
	}
	o.logger.Debug(msg,
		slog.String("path", p.String()),
		slog.Float64("existing_confidence", existing),
		slog.Float64("incoming_confidence", incoming),
	)
}

// Accept reports whether confidence clears MinimumConfidence.
func Accept(confidence float64) bool {
	return confidence >= MinimumConfidence
}

// NeedsConfirmation reports whether data at this confidence should be
// echoed back to the user before it is relied on.
func NeedsConfirmation(confidence float64) bool {
	return confidence < HighConfidence
}
