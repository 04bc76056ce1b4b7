package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ExtractionFailure reports that every tier of an extraction chain failed.
type ExtractionFailure struct {
	Field string
	Tiers []string
	Errs  []error
}

// Error implements the error interface.
func (e *ExtractionFailure) Error() string {
	return fmt.Sprintf("%s extraction failed after tiers [%s]: %v",
		e.Field, strings.Join(e.Tiers, ", "), errors.Join(e.Errs...))
}

// Unwrap exposes the per-tier errors.
func (e *ExtractionFailure) Unwrap() []error {
	return e.Errs
}

// Code returns "<field>_extraction_failed".
func (e *ExtractionFailure) Code() string {
	return e.Field + "_extraction_failed"
}

// MergeConflict reports incoming data discarded for not exceeding the
// stored confidence. It is informational and never aborts a node.
type MergeConflict struct {
	Path     string
	Existing float64
	Incoming float64
}

// Error implements the error interface.
func (e *MergeConflict) Error() string {
	return fmt.Sprintf("merge into %s discarded: incoming confidence %.2f does not exceed %.2f",
		e.Path, e.Incoming, e.Existing)
}

// StateExtractionFailure reports that a node could not derive its input
// parameters from state.
type StateExtractionFailure struct {
	Node string
	Path string
	Err  error
}

// Error implements the error interface.
func (e *StateExtractionFailure) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("node %s: cannot read %s from state: %v", e.Node, e.Path, e.Err)
	}
	return fmt.Sprintf("node %s: cannot read %s from state", e.Node, e.Path)
}

// Unwrap returns the underlying error.
func (e *StateExtractionFailure) Unwrap() error {
	return e.Err
}

// Code returns "<node>_param_extraction_failed".
func (e *StateExtractionFailure) Code() string {
	return e.Node + "_param_extraction_failed"
}

// MissingParam builds a StateExtractionFailure for an absent state path.
func MissingParam(node, path string) *StateExtractionFailure {
	return &StateExtractionFailure{Node: node, Path: path, Err: errors.New("value is missing")}
}

// CheckpointDurableWriteFailure reports a durable-tier write that failed
// while the fast tier succeeded. Persistence is degraded, not lost.
type CheckpointDurableWriteFailure struct {
	ConversationID string
	Version        int64
	Err            error
}

// Error implements the error interface.
func (e *CheckpointDurableWriteFailure) Error() string {
	return fmt.Sprintf("durable checkpoint write for %s v%d failed: %v",
		e.ConversationID, e.Version, e.Err)
}

// Unwrap returns the underlying error.
func (e *CheckpointDurableWriteFailure) Unwrap() error {
	return e.Err
}
