package checkpoint

import (
	"fmt"
	"sort"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// Filter selects records for List. The zero Filter matches everything.
type Filter struct {
	// Pattern is a glob over conversation IDs, e.g. "9198*".
	Pattern string

	// Since drops records older than this instant.
	Since time.Time

	// Limit caps the result size; zero means no limit.
	Limit int
}

// Validate checks the pattern syntax.
func (f Filter) Validate() error {
	if f.Pattern != "" && !doublestar.ValidatePattern(f.Pattern) {
		return fmt.Errorf("%w: %q", ErrBadPattern, f.Pattern)
	}
	return nil
}

// Match reports whether r passes the filter.
func (f Filter) Match(r *Record) bool {
	if !f.Since.IsZero() && r.Timestamp.Before(f.Since) {
		return false
	}
	if f.Pattern == "" {
		return true
	}
	ok, err := doublestar.Match(f.Pattern, r.ConversationID)
	return err == nil && ok
}

// apply filters, orders by conversation ID, and truncates to Limit.
func (f Filter) apply(recs []*Record) []*Record {
	out := make([]*Record, 0, len(recs))
	for _, r := range recs {
		if f.Match(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ConversationID < out[j].ConversationID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

// unlimited returns f without its Limit, for merging partial results.
func (f Filter) unlimited() Filter {
	f.Limit = 0
	return f
}
