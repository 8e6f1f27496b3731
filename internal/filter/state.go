package filter

import (
	"fmt"
	"slices"

	"showfilter/internal/model"
)

// TagMatch controls how IncludeTags combine.
type TagMatch string

const (
	MatchAny TagMatch = "any"
	MatchAll TagMatch = "all"
)

// ParseTagMatch accepts "any" or "all".
func ParseTagMatch(s string) (TagMatch, error) {
	switch TagMatch(s) {
	case MatchAny, MatchAll:
		return TagMatch(s), nil
	}
	return "", fmt.Errorf("tag match must be either %q or %q, got %q", MatchAny, MatchAll, s)
}

// State is the filter configuration driving event selection. The zero value
// is not quite the default: use New, which sets TagMatch to MatchAny.
type State struct {
	IncludeTags []string
	ExcludeTags []string
	TagMatch    TagMatch

	// Inclusive calendar-day bounds; nil leaves that side open.
	StartDate *model.Date
	EndDate   *model.Date

	// DaysOfWeek holds 0 (Sunday) through 6.
	DaysOfWeek []int

	// Limit caps the result after sorting; 0 means unlimited.
	Limit int

	SpecialFilter string
}

// New returns the default state: no constraints, any-match.
func New() State {
	return State{TagMatch: MatchAny}
}

// Clone returns a deep copy.
func (s State) Clone() State {
	out := s
	out.IncludeTags = slices.Clone(s.IncludeTags)
	out.ExcludeTags = slices.Clone(s.ExcludeTags)
	out.DaysOfWeek = slices.Clone(s.DaysOfWeek)
	if s.StartDate != nil {
		d := *s.StartDate
		out.StartDate = &d
	}
	if s.EndDate != nil {
		d := *s.EndDate
		out.EndDate = &d
	}
	return out
}

// Equal compares field by field. Nil and empty slices are equal, and an
// empty TagMatch equals MatchAny.
func (s State) Equal(o State) bool {
	return slices.Equal(s.IncludeTags, o.IncludeTags) &&
		slices.Equal(s.ExcludeTags, o.ExcludeTags) &&
		s.tagMatch() == o.tagMatch() &&
		dateEqual(s.StartDate, o.StartDate) &&
		dateEqual(s.EndDate, o.EndDate) &&
		slices.Equal(s.DaysOfWeek, o.DaysOfWeek) &&
		s.Limit == o.Limit &&
		s.SpecialFilter == o.SpecialFilter
}

// IsDefault reports whether s places no constraint at all.
func (s State) IsDefault() bool {
	return s.Equal(New())
}

// SetDates sets both bounds; a zero Date clears that side.
func (s *State) SetDates(start, end model.Date) {
	s.StartDate = datePtr(start)
	s.EndDate = datePtr(end)
}

func (s State) tagMatch() TagMatch {
	if s.TagMatch == "" {
		return MatchAny
	}
	return s.TagMatch
}

func datePtr(d model.Date) *model.Date {
	if d.IsZero() {
		return nil
	}
	return &d
}

func dateEqual(a, b *model.Date) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
