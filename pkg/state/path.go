package state

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for path addressing.
var (
	// ErrInvalidPath indicates a malformed dot-path (empty or with empty segments).
	ErrInvalidPath = errors.New("invalid state path")

	// ErrReadOnlyPath indicates an attempt to Set an append-only or immutable field.
	ErrReadOnlyPath = errors.New("state path is read-only")

	// ErrNotMapping indicates Set would have to descend through a non-mapping value.
	ErrNotMapping = errors.New("intermediate value is not a mapping")

	// ErrFieldType indicates a value of the wrong type for a typed core field.
	ErrFieldType = errors.New("wrong value type for field")
)

// Path is a parsed dot-separated state address such as "customer.first_name".
// The zero Path is invalid.
type Path struct {
	segments []string
}

// ParsePath parses a dot-separated path. Every segment must be non-empty
// and free of whitespace.
func ParsePath(s string) (Path, error) {
	if s == "" {
		return Path{}, fmt.Errorf("%w: empty", ErrInvalidPath)
	}
	segments := strings.Split(s, ".")
	for _, seg := range segments {
		if seg == "" || strings.ContainsAny(seg, " \t\n\r") {
			return Path{}, fmt.Errorf("%w: %q", ErrInvalidPath, s)
		}
	}
	return Path{segments: segments}, nil
}

// MustPath is like ParsePath but panics on malformed input.
// Intended for package-level path constants.
func MustPath(s string) Path {
	p, err := ParsePath(s)
	if err != nil {
		panic(err)
	}
	return p
}

// Root returns the first segment.
func (p Path) Root() string {
	if len(p.segments) == 0 {
		return ""
	}
	return p.segments[0]
}

// Len returns the number of segments.
func (p Path) Len() int {
	return len(p.segments)
}

// Child returns a new path with seg appended.
func (p Path) Child(seg string) Path {
	segments := make([]string, len(p.segments), len(p.segments)+1)
	copy(segments, p.segments)
	return Path{segments: append(segments, seg)}
}

// String returns the dot-separated form.
func (p Path) String() string {
	return strings.Join(p.segments, ".")
}

// IsValid reports whether the path has at least one segment.
func (p Path) IsValid() bool {
	return len(p.segments) > 0
}
