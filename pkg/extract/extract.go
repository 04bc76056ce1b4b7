// Package extract runs ordered extraction tiers over an inbound message.
//
// A Chain tries each tier once, in order, under that tier's timeout. The
// first tier returning data wins and its result is tagged with the tier's
// method and confidence. When every tier fails the chain reports a
// *errors.ExtractionFailure, and Node turns that into a clarification
// question so the conversation never stalls.
package extract

import (
	"context"
	"errors"
	"time"

	"github.com/randalmurphal/wapiflow/pkg/state"
)

// Method identifies how data was extracted.
type Method string

const (
	MethodLLM       Method = "llm"
	MethodPattern   Method = "pattern"
	MethodRuleBased Method = "rule_based"
	MethodFallback  Method = "fallback"
)

// MethodKey is the entry recording which method produced merged data.
const MethodKey = "extraction_method"

// DefaultConfidence returns the confidence assigned to a method's results
// when the tier reports none.
func DefaultConfidence(m Method) float64 {
	switch m {
	case MethodLLM:
		return 0.95
	case MethodPattern:
		return 0.70
	case MethodRuleBased:
		return 0.80
	default:
		return 0.50
	}
}

// ErrNoMatch is returned by an extractor that found nothing in the input.
var ErrNoMatch = errors.New("no match")

// Input is what every extractor sees.
type Input struct {
	Message string
	History []state.Turn
	Context map[string]any
}

// InputFrom builds an Input from a conversation.
func InputFrom(c *state.Conversation) Input {
	return Input{
		Message: c.UserMessage,
		History: c.History,
		Context: c.Fields,
	}
}

// Data is an extractor's reply. A zero Confidence means "use the tier default".
type Data struct {
	Fields     map[string]any
	Confidence float64
}

// Extractor extracts structured fields from an Input.
type Extractor interface {
	Extract(ctx context.Context, in Input) (Data, error)
}

// ExtractorFunc adapts a function to Extractor.
type ExtractorFunc func(ctx context.Context, in Input) (Data, error)

// Extract implements Extractor.
func (f ExtractorFunc) Extract(ctx context.Context, in Input) (Data, error) {
	return f(ctx, in)
}

// Fields adapts a function returning only fields, or nil for no match.
func Fields(fn func(message string) map[string]any) Extractor {
	return ExtractorFunc(func(_ context.Context, in Input) (Data, error) {
		fields := fn(in.Message)
		if len(fields) == 0 {
			return Data{}, ErrNoMatch
		}
		return Data{Fields: fields}, nil
	})
}

// Tier is one ranked strategy in a chain.
type Tier struct {
	// Name identifies the tier in logs, metrics and failure reports.
	Name string

	Method Method

	// Confidence overrides DefaultConfidence(Method). Zero keeps the default.
	Confidence float64

	// Timeout bounds the tier. Zero means DefaultTierTimeout.
	Timeout time.Duration

	Extractor Extractor
}

// DefaultTierTimeout bounds tiers that set no timeout.
const DefaultTierTimeout = 5 * time.Second

func (t Tier) confidence(reported float64) float64 {
	if reported > 0 && reported <= 1 {
		return reported
	}
	if t.Confidence > 0 {
		return t.Confidence
	}
	return DefaultConfidence(t.Method)
}

func (t Tier) timeout() time.Duration {
	if t.Timeout > 0 {
		return t.Timeout
	}
	return DefaultTierTimeout
}

// Result is a successful extraction.
type Result struct {
	Fields     map[string]any
	Confidence float64
	Method     Method
	Tier       string
}

// Tagged returns the fields with MethodKey set.
func (r Result) Tagged() map[string]any {
	out := make(map[string]any, len(r.Fields)+1)
	for k, v := range r.Fields {
		out[k] = v
	}
	out[MethodKey] = string(r.Method)
	return out
}
