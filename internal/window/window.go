// Package window turns symbolic quick filters ("this-weekend") and relative
// offsets ("2w") into concrete calendar-date windows.
//
// Every function here is a pure function of the supplied "today", so callers
// can pin the clock in tests.
package window

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	"showfilter/internal/model"
)

// Quick filter names.
const (
	ThisWeek    = "this-week"
	NextWeek    = "next-week"
	ThisWeekend = "this-weekend"
	NextWeekend = "next-weekend"
	Next7Days   = "next-7-days"
	Next30Days  = "next-30-days"
)

var names = []string{ThisWeek, NextWeek, ThisWeekend, NextWeekend, Next7Days, Next30Days}

// ErrInvalidOffset is returned by Offset for anything that is not <int><d|w|m>.
var ErrInvalidOffset = errors.New("invalid date offset")

// Window is an inclusive range of calendar days.
type Window struct {
	Start model.Date
	End   model.Date
}

// Names returns the recognized quick filter names in display order.
func Names() []string {
	out := make([]string, len(names))
	copy(out, names)
	return out
}

// Known reports whether name is a recognized quick filter.
func Known(name string) bool {
	return slices.Contains(names, name)
}

// Resolve computes the window for a quick filter relative to today's
// calendar day (in today's location). Weeks run Monday to Sunday.
// Unknown names return false and a zero Window; callers leave their dates
// untouched in that case.
func Resolve(name string, today time.Time) (Window, bool) {
	d := model.DateOf(today)

	switch name {
	case ThisWeek:
		mon := thisMonday(d)
		return Window{Start: mon, End: mon.AddDays(6)}, true

	case NextWeek:
		mon := thisMonday(d).AddDays(7)
		return Window{Start: mon, End: mon.AddDays(6)}, true

	case ThisWeekend:
		sat := onOrAfter(d, time.Saturday)
		if d.Weekday() == time.Sunday {
			sat = d.AddDays(-1)
		}
		return Window{Start: sat, End: sat.AddDays(1)}, true

	case NextWeekend:
		// Weekdays look ahead to the coming Saturday; once the weekend has
		// started, the following one.
		from := d
		if d.Weekday() == time.Saturday {
			from = d.AddDays(1)
		}
		sat := onOrAfter(from, time.Saturday)
		return Window{Start: sat, End: sat.AddDays(1)}, true

	case Next7Days:
		return Window{Start: d, End: d.AddDays(7)}, true

	case Next30Days:
		return Window{Start: d, End: d.AddDays(30)}, true
	}

	return Window{}, false
}

// Offset parses "<N><unit>" (unit d, w or m) and returns [today, today+N].
// Months use calendar-month arithmetic, not 30-day blocks.
func Offset(spec string, today time.Time) (Window, error) {
	spec = strings.TrimSpace(spec)
	if len(spec) < 2 {
		return Window{}, fmt.Errorf("%w: %q", ErrInvalidOffset, spec)
	}

	n, err := strconv.Atoi(spec[:len(spec)-1])
	if err != nil {
		return Window{}, fmt.Errorf("%w: %q", ErrInvalidOffset, spec)
	}

	d := model.DateOf(today)
	var end model.Date
	switch spec[len(spec)-1] {
	case 'd':
		end = d.AddDays(n)
	case 'w':
		end = d.AddDays(n * 7)
	case 'm':
		end = d.AddMonths(n)
	default:
		return Window{}, fmt.Errorf("%w: unknown unit in %q", ErrInvalidOffset, spec)
	}

	return Window{Start: d, End: end}, nil
}

// thisMonday is the most recent Monday on or before d. Sunday belongs to the
// week that started six days earlier.
func thisMonday(d model.Date) model.Date {
	return onOrAfter(d.AddDays(-6), time.Monday)
}

var rruleWeekdays = [...]rrule.Weekday{rrule.SU, rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR, rrule.SA}

// onOrAfter returns the first day >= d falling on wd: the single
// occurrence of a weekly rule anchored at d. The rule is fully determined
// here, so a construction error is a programming error.
func onOrAfter(d model.Date, wd time.Weekday) model.Date {
	r, err := rrule.NewRRule(rrule.ROption{
		Freq:      rrule.WEEKLY,
		Dtstart:   d.In(time.UTC),
		Byweekday: []rrule.Weekday{rruleWeekdays[wd]},
		Count:     1,
	})
	if err != nil {
		panic(fmt.Sprintf("window: weekly rule for %s from %s: %v", wd, d, err))
	}
	return model.DateOf(r.All()[0])
}

// MonthGrid is the span of whole weeks covering anchor's month, with weeks
// starting on firstDay. It is the range a month calendar displays.
func MonthGrid(anchor model.Date, firstDay time.Weekday) Window {
	first := model.Date{Year: anchor.Year, Month: anchor.Month, Day: 1}
	last := first.AddMonths(1).AddDays(-1)
	return Window{
		Start: onOrAfter(first.AddDays(-6), firstDay),
		End:   onOrAfter(last, (firstDay+6)%7),
	}
}
