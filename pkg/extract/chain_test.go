package extract

import (
	"context"
	"errors"
	"testing"
	"time"

	flowerrors "github.com/randalmurphal/wapiflow/pkg/flowgraph/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChain_FallsBackInOrder(t *testing.T) {
	primary := &counting{inner: failing(errModelDown)}
	secondary := &counting{inner: Fields(ParseName)}
	chain := NewChain("customer", []Tier{
		{Name: "name_llm", Method: MethodLLM, Extractor: primary},
		{Name: "name_pattern", Method: MethodPattern, Extractor: secondary},
	})

	result, err := chain.Run(context.Background(), Input{Message: "My name is Ravi Kumar"})

	require.NoError(t, err)
	assert.Equal(t, MethodPattern, result.Method)
	assert.Equal(t, "name_pattern", result.Tier)
	assert.Equal(t, 0.70, result.Confidence)
	assert.Equal(t, map[string]any{"first_name": "Ravi", "last_name": "Kumar"}, result.Fields)
	assert.Equal(t, int32(1), primary.calls.Load())
	assert.Equal(t, int32(1), secondary.calls.Load())

	tagged := result.Tagged()
	assert.Equal(t, "pattern", tagged[MethodKey])
	assert.NotContains(t, result.Fields, MethodKey)
}

func TestChain_StopsAtFirstSuccess(t *testing.T) {
	later := &counting{inner: Fields(ParseName)}
	chain := NewChain("customer", []Tier{
		{Name: "first", Method: MethodLLM, Extractor: returning(map[string]any{"first_name": "Sneha"}, 0)},
		{Name: "second", Method: MethodPattern, Extractor: later},
	})

	result, err := chain.Run(context.Background(), Input{Message: "Sneha"})

	require.NoError(t, err)
	assert.Equal(t, 0.95, result.Confidence)
	assert.Zero(t, later.calls.Load())
}

func TestChain_TimeoutFallsThrough(t *testing.T) {
	chain := NewChain("customer", []Tier{
		{Name: "slow", Method: MethodLLM, Timeout: 20 * time.Millisecond, Extractor: blocking()},
		NameTier(),
	})

	start := time.Now()
	result, err := chain.Run(context.Background(), Input{Message: "I'm Priya"})

	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, "name_pattern", result.Tier)
	assert.Equal(t, "Priya", result.Fields["first_name"])
}

func TestChain_AbandonsExtractorIgnoringContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	stuck := ExtractorFunc(func(context.Context, Input) (Data, error) {
		<-release
		return Data{}, nil
	})
	chain := NewChain("customer", []Tier{
		{Name: "stuck", Method: MethodLLM, Timeout: 10 * time.Millisecond, Extractor: stuck},
	})

	_, err := chain.Run(context.Background(), Input{Message: "x"})

	var timeout *flowerrors.TimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, "stuck extraction", timeout.Operation)
}

func TestChain_PanicIsATierFailure(t *testing.T) {
	chain := NewChain("customer", []Tier{
		{Name: "broken", Method: MethodLLM, Extractor: ExtractorFunc(func(context.Context, Input) (Data, error) {
			panic("boom")
		})},
		NameTier(),
	})

	result, err := chain.Run(context.Background(), Input{Message: "Ravi"})

	require.NoError(t, err)
	assert.Equal(t, "name_pattern", result.Tier)
}

func TestChain_TotalFailure(t *testing.T) {
	metrics := &extractionMetrics{}
	chain := NewChain("customer", []Tier{
		{Name: "name_llm", Method: MethodLLM, Extractor: failing(errModelDown)},
		NameTier(),
	}, WithMetrics(metrics))

	_, err := chain.Run(context.Background(), Input{Message: "hello"})

	var failure *flowerrors.ExtractionFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, "customer", failure.Field)
	assert.Equal(t, []string{"name_llm", "name_pattern"}, failure.Tiers)
	assert.Equal(t, "customer_extraction_failed", failure.Code())
	assert.ErrorIs(t, err, errModelDown)
	assert.ErrorIs(t, err, ErrNoMatch)
	assert.Equal(t, []string{"customer/name_llm:fail", "customer/name_pattern:fail"}, metrics.attempts)
}

func TestChain_EmptyFieldsCountAsNoMatch(t *testing.T) {
	chain := NewChain("vehicle", []Tier{
		{Name: "empty", Method: MethodLLM, Extractor: returning(map[string]any{}, 0.9)},
	})

	_, err := chain.Run(context.Background(), Input{Message: "x"})

	assert.ErrorIs(t, err, ErrNoMatch)
}

func TestChain_ReportedConfidence(t *testing.T) {
	tests := []struct {
		name     string
		tier     Tier
		reported float64
		want     float64
	}{
		{"reported wins", Tier{Method: MethodLLM}, 0.81, 0.81},
		{"out of range ignored", Tier{Method: MethodLLM}, 7, 0.95},
		{"tier override", Tier{Method: MethodPattern, Confidence: 0.65}, 0, 0.65},
		{"rule based default", Tier{Method: MethodRuleBased}, 0, 0.80},
		{"fallback default", Tier{Method: MethodFallback}, 0, 0.50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tier := tt.tier
			tier.Name = "t"
			tier.Extractor = returning(map[string]any{"x": "y"}, tt.reported)

			result, err := NewChain("f", []Tier{tier}).Run(context.Background(), Input{})

			require.NoError(t, err)
			assert.Equal(t, tt.want, result.Confidence)
		})
	}
}

func TestChain_ParentCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	tier := &counting{inner: Fields(ParseName)}
	chain := NewChain("customer", []Tier{{Name: "p", Method: MethodPattern, Extractor: tier}})

	_, err := chain.Run(ctx, Input{Message: "Ravi"})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, tier.calls.Load())
}

func TestChain_ParentCancelledMidTier(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	next := &counting{inner: Fields(ParseName)}
	chain := NewChain("customer", []Tier{
		{Name: "slow", Method: MethodLLM, Extractor: ExtractorFunc(func(tctx context.Context, _ Input) (Data, error) {
			cancel()
			<-tctx.Done()
			return Data{}, tctx.Err()
		})},
		{Name: "next", Method: MethodPattern, Extractor: next},
	})

	_, err := chain.Run(ctx, Input{Message: "Ravi"})

	assert.True(t, errors.Is(err, context.Canceled))
	assert.Zero(t, next.calls.Load())
}

func TestNewChain_Panics(t *testing.T) {
	assert.PanicsWithValue(t, "extract: chain needs at least one tier", func() {
		NewChain("x", nil)
	})
	assert.PanicsWithValue(t, "extract: tier 0 (bad) has no extractor", func() {
		NewChain("x", []Tier{{Name: "bad"}})
	})
}

func TestChain_Introspection(t *testing.T) {
	chain := NewChain("vehicle", []Tier{VehicleTier(), {Name: "fallback", Method: MethodFallback, Extractor: failing(ErrNoMatch)}})

	assert.Equal(t, "vehicle", chain.Field())
	assert.Equal(t, []string{"vehicle_pattern", "fallback"}, chain.Tiers())
}
