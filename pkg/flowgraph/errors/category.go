// Package errors classifies failures raised inside workflow nodes and
// provides the recovery primitives built on that classification.
//
// Two views of a failure exist:
//   - Category decides recovery: retry it, give up, fall through to the
//     next extraction tier, or ask the user.
//   - Class decides bookkeeping: the diagnostic code a node's failure
//     policy appends to the conversation's error log.
package errors

import (
	"errors"
	"fmt"
)

// Category represents how an error should be handled.
type Category int

const (
	// CategoryTransient indicates retry will likely help.
	// Examples: timeouts, 5xx responses, dropped connections.
	CategoryTransient Category = iota

	// CategoryPermanent indicates retry won't help.
	// Examples: missing records, rejected payloads, bad credentials.
	CategoryPermanent

	// CategoryEscalatable indicates a different strategy might succeed.
	// Examples: an extraction model replied with malformed JSON.
	CategoryEscalatable

	// CategoryUserInput indicates only the user can resolve it.
	// Examples: every extraction tier exhausted.
	CategoryUserInput
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryTransient:
		return "transient"
	case CategoryPermanent:
		return "permanent"
	case CategoryEscalatable:
		return "escalatable"
	case CategoryUserInput:
		return "user_input"
	default:
		return "unknown"
	}
}

// CategorizedError wraps an error with its category and context.
type CategorizedError struct {
	Err      error
	Category Category
	Retries  int
	Context  string
}

// Error implements the error interface.
func (e *CategorizedError) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("%s: %s (category: %s, attempts: %d)",
			e.Context, e.Err, e.Category, e.Retries)
	}
	return fmt.Sprintf("%s (category: %s, attempts: %d)",
		e.Err, e.Category, e.Retries)
}

// Unwrap returns the underlying error.
func (e *CategorizedError) Unwrap() error {
	return e.Err
}

// Transient marks err as retryable.
func Transient(err error, context string) *CategorizedError {
	return &CategorizedError{Err: err, Category: CategoryTransient, Context: context}
}

// Permanent marks err as not retryable.
func Permanent(err error, context string) *CategorizedError {
	return &CategorizedError{Err: err, Category: CategoryPermanent, Context: context}
}

// Categorize determines how an error should be handled.
func Categorize(err error) Category {
	if err == nil {
		return CategoryPermanent
	}

	var catErr *CategorizedError
	if errors.As(err, &catErr) {
		return catErr.Category
	}

	var exhausted *ExtractionFailure
	if errors.As(err, &exhausted) {
		return CategoryUserInput
	}

	var jsonErr *JSONParseError
	if errors.As(err, &jsonErr) {
		return CategoryEscalatable
	}

	switch Classify(err) {
	case ClassTransientNetwork:
		return CategoryTransient
	case ClassNotFound, ClassValidation:
		return CategoryPermanent
	}

	// Unknown errors are permanent (fail safe)
	return CategoryPermanent
}

// IsRetryable reports whether the error should be retried.
func IsRetryable(err error) bool {
	return Categorize(err) == CategoryTransient
}

// NeedsUser reports whether only a new user message can resolve err.
func NeedsUser(err error) bool {
	return Categorize(err) == CategoryUserInput
}
