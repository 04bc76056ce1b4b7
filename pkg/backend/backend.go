// Package backend is the booking backend the workflow calls out to.
//
// Every call goes through one contract, Backend.Do(ctx, op, params), and
// fails with one of the collaborator errors from pkg/flowgraph/errors
// (NotFoundError, ValidationError, ServerError, NetworkError). Nodes treat
// them uniformly; only the recorded error code differs.
package backend

import (
	"context"
	"fmt"
)

// Operations the booking flow uses.
const (
	OpLookupCustomer   = "lookup_customer"
	OpRegisterCustomer = "register_customer"
	OpListVehicles     = "list_vehicles"
	OpListServices     = "list_services"
	OpListSlots        = "list_slots"
	OpCalculatePrice   = "calculate_price"
	OpCreateBooking    = "create_booking"
)

// Params are an operation's named arguments.
type Params map[string]any

// Response is an operation's decoded reply.
type Response map[string]any

// Backend performs named operations.
type Backend interface {
	Do(ctx context.Context, op string, params Params) (Response, error)
}

// Func adapts a function to Backend.
type Func func(ctx context.Context, op string, params Params) (Response, error)

// Do implements Backend.
func (f Func) Do(ctx context.Context, op string, params Params) (Response, error) {
	return f(ctx, op, params)
}

// UnknownOperationError is returned for an operation the backend does not serve.
type UnknownOperationError struct {
	Op string
}

func (e *UnknownOperationError) Error() string {
	return fmt.Sprintf("unknown backend operation %q", e.Op)
}

// List returns the mappings stored under key, skipping non-mapping entries.
func (r Response) List(key string) []map[string]any {
	raw, _ := r[key].([]any)
	out := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

// Map returns the mapping stored under key, or nil.
func (r Response) Map(key string) map[string]any {
	m, _ := r[key].(map[string]any)
	return m
}

// String returns the string stored under key, or "".
func (r Response) String(key string) string {
	s, _ := r[key].(string)
	return s
}
