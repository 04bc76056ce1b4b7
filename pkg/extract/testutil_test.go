package extract

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/randalmurphal/wapiflow/pkg/flowgraph/observability"
)

var errModelDown = errors.New("model unavailable")

// counting wraps an extractor and counts invocations.
type counting struct {
	calls atomic.Int32
	inner Extractor
}

func (c *counting) Extract(ctx context.Context, in Input) (Data, error) {
	c.calls.Add(1)
	return c.inner.Extract(ctx, in)
}

func failing(err error) Extractor {
	return ExtractorFunc(func(context.Context, Input) (Data, error) {
		return Data{}, err
	})
}

func returning(fields map[string]any, confidence float64) Extractor {
	return ExtractorFunc(func(context.Context, Input) (Data, error) {
		return Data{Fields: fields, Confidence: confidence}, nil
	})
}

// blocking waits for its context, like a model call that never answers.
func blocking() Extractor {
	return ExtractorFunc(func(ctx context.Context, _ Input) (Data, error) {
		<-ctx.Done()
		return Data{}, ctx.Err()
	})
}

// extractionMetrics records "field/tier:ok|fail".
type extractionMetrics struct {
	observability.NoopMetrics
	mu       sync.Mutex
	attempts []string
}

func (m *extractionMetrics) RecordExtraction(_ context.Context, field, tier string, success bool, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	outcome := "fail"
	if success {
		outcome = "ok"
	}
	m.attempts = append(m.attempts, fmt.Sprintf("%s/%s:%s", field, tier, outcome))
}
