// Package filter selects and orders events according to a State.
package filter

import (
	"slices"

	"showfilter/internal/model"
)

// Apply runs the filter pipeline over events and returns a new slice:
// tag inclusion, tag exclusion, date range, day of week, a stable sort by
// start, then the limit. A stage with nothing configured passes everything
// through. events is never modified.
//
// Events whose Start is zero (unparseable upstream) never match a date or
// weekday constraint and sort after every dated event.
func Apply(events []model.Event, st State) []model.Event {
	out := make([]model.Event, 0, len(events))
	for _, ev := range events {
		if matches(ev, st) {
			out = append(out, ev)
		}
	}

	slices.SortStableFunc(out, compareStart)

	if st.Limit > 0 && len(out) > st.Limit {
		out = out[:st.Limit]
	}
	return out
}

func matches(ev model.Event, st State) bool {
	return includeOK(ev, st) &&
		excludeOK(ev, st) &&
		dateOK(ev, st) &&
		weekdayOK(ev, st)
}

func includeOK(ev model.Event, st State) bool {
	if len(st.IncludeTags) == 0 {
		return true
	}
	if st.tagMatch() == MatchAll {
		for _, tag := range st.IncludeTags {
			if !ev.HasTag(tag) {
				return false
			}
		}
		return true
	}
	for _, tag := range st.IncludeTags {
		if ev.HasTag(tag) {
			return true
		}
	}
	return false
}

// excludeOK is evaluated on its own so that exclusion always beats inclusion.
func excludeOK(ev model.Event, st State) bool {
	for _, tag := range st.ExcludeTags {
		if ev.HasTag(tag) {
			return false
		}
	}
	return true
}

// dateOK compares calendar days in the event's own zone, so an event at
// 21:00 on the end date is still inside the range. An inverted range
// (start after end) matches nothing.
func dateOK(ev model.Event, st State) bool {
	if st.StartDate == nil && st.EndDate == nil {
		return true
	}
	if ev.Start.IsZero() {
		return false
	}
	d := model.DateOf(ev.Start)
	if st.StartDate != nil && d.Before(*st.StartDate) {
		return false
	}
	if st.EndDate != nil && d.After(*st.EndDate) {
		return false
	}
	return true
}

func weekdayOK(ev model.Event, st State) bool {
	if len(st.DaysOfWeek) == 0 {
		return true
	}
	if ev.Start.IsZero() {
		return false
	}
	return slices.Contains(st.DaysOfWeek, int(ev.Start.Weekday()))
}

func compareStart(a, b model.Event) int {
	switch {
	case a.Start.IsZero() && b.Start.IsZero():
		return 0
	case a.Start.IsZero():
		return 1
	case b.Start.IsZero():
		return -1
	}
	return a.Start.Compare(b.Start)
}
