package history

import (
	"cmp"
	"slices"
	"strings"
	"time"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/sebas/softphone/internal/session"
)

// SortField selects the ordering key for query results.
type SortField int

const (
	// SortNone keeps ledger order (most recent first)
	SortNone SortField = iota
	SortByTime
	SortByDuration
	SortByRemote
)

// String returns the string representation of the sort field
func (f SortField) String() string {
	switch f {
	case SortNone:
		return "none"
	case SortByTime:
		return "time"
	case SortByDuration:
		return "duration"
	case SortByRemote:
		return "remote"
	default:
		return "unknown"
	}
}

// ParseSortField parses the names produced by String.
func ParseSortField(s string) (SortField, bool) {
	switch strings.ToLower(s) {
	case "", "none":
		return SortNone, true
	case "time", "start":
		return SortByTime, true
	case "duration":
		return SortByDuration, true
	case "remote", "remote_uri":
		return SortByRemote, true
	}
	return SortNone, false
}

// Order is the sort direction.
type Order int

const (
	Ascending Order = iota
	Descending
)

// Filter selects history records. Zero-valued fields do not constrain the
// result; set fields combine with AND.
type Filter struct {
	Direction *session.Direction
	RemoteURI string
	Answered  *bool
	Missed    *bool
	Video     *bool

	// From and To bound StartTime, both inclusive
	From time.Time
	To   time.Time

	// Tags matches records carrying at least one of the listed tags
	Tags []string

	// Search is a case-insensitive substring of remote URI or display name
	Search string

	SortBy SortField
	Order  Order
	Offset int
	Limit  int // 0 means no limit
}

// Result is a page of records plus the pre-pagination match count.
type Result struct {
	Records    []Record
	TotalCount int
	HasMore    bool
}

// Match reports whether r satisfies every constraint of f.
func (f Filter) Match(r Record) bool {
	if f.Direction != nil && r.Direction != *f.Direction {
		return false
	}
	if f.RemoteURI != "" && r.RemoteURI != f.RemoteURI {
		return false
	}
	if f.Answered != nil && r.WasAnswered != *f.Answered {
		return false
	}
	if f.Missed != nil && r.WasMissed != *f.Missed {
		return false
	}
	if f.Video != nil && r.Video != *f.Video {
		return false
	}
	if !f.From.IsZero() && r.StartTime.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && r.StartTime.After(f.To) {
		return false
	}
	if len(f.Tags) > 0 && !slices.ContainsFunc(f.Tags, func(t string) bool {
		return slices.Contains(r.Tags, t)
	}) {
		return false
	}
	if f.Search != "" {
		needle := strings.ToLower(f.Search)
		if !strings.Contains(strings.ToLower(r.RemoteURI), needle) &&
			!strings.Contains(strings.ToLower(r.RemoteDisplayName), needle) {
			return false
		}
	}
	return true
}

// sortRecords orders records in place. Equal keys keep ledger order.
func (f Filter) sortRecords(records []Record) {
	var less func(a, b Record) int
	switch f.SortBy {
	case SortByTime:
		less = func(a, b Record) int { return a.StartTime.Compare(b.StartTime) }
	case SortByDuration:
		less = func(a, b Record) int { return cmp.Compare(a.Duration, b.Duration) }
	case SortByRemote:
		// Collator instances are not safe for concurrent use.
		c := collate.New(language.Und, collate.IgnoreCase)
		less = func(a, b Record) int { return c.CompareString(a.RemoteURI, b.RemoteURI) }
	default:
		return
	}
	if f.Order == Descending {
		asc := less
		less = func(a, b Record) int { return asc(b, a) }
	}
	slices.SortStableFunc(records, less)
}

// paginate applies Offset and Limit.
func (f Filter) paginate(records []Record) ([]Record, bool) {
	offset := max(f.Offset, 0)
	if offset >= len(records) {
		return nil, false
	}
	records = records[offset:]
	if f.Limit > 0 && len(records) > f.Limit {
		return records[:f.Limit], true
	}
	return records, false
}
