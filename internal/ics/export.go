// Package ics renders filtered events as an iCalendar feed.
package ics

import (
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/google/uuid"

	"showfilter/internal/model"
)

// DefaultDuration is used for events since the API only sends a start.
const DefaultDuration = 2 * time.Hour

// ProductID identifies the generator in PRODID.
const ProductID = "-//showfilter//showfilter//EN"

// uidNamespace scopes the name-based UUIDs used for event UIDs.
var uidNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:showfilter:event"))

// ExportOptions control feed rendering.
type ExportOptions struct {
	// Name becomes the calendar's display name.
	Name string
	// Duration is added to each start to produce DTEND.
	Duration time.Duration
	// Now stamps DTSTAMP. Defaults to time.Now.
	Now time.Time
}

// Export renders events as a VCALENDAR with one VEVENT each. Events without
// a parseable start are left out.
func Export(events []model.Event, opts ExportOptions) []byte {
	if opts.Duration <= 0 {
		opts.Duration = DefaultDuration
	}
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}

	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(ProductID)
	if opts.Name != "" {
		cal.SetName(opts.Name)
	}

	for _, e := range events {
		if e.Start.IsZero() {
			continue
		}

		ve := cal.AddEvent(EventUID(e))
		ve.SetDtStampTime(opts.Now)
		ve.SetStartAt(e.Start)
		ve.SetEndAt(e.Start.Add(opts.Duration))
		ve.SetSummary(e.Title)
		if e.Description != "" {
			ve.SetDescription(e.Description)
		}
		if e.URL != "" {
			ve.SetURL(e.URL)
		}
		// One CATEGORIES line per tag; commas in a joined value get escaped.
		for _, tag := range e.Tags {
			ve.AddCategory(tag)
		}
	}

	return []byte(cal.Serialize())
}

// EventUID is stable for the same title, start and stream, so calendar
// clients update entries in place across refreshes.
func EventUID(e model.Event) string {
	name := string(e.Type) + "|" + e.Title + "|" + e.Start.UTC().Format(time.RFC3339)
	return uuid.NewSHA1(uidNamespace, []byte(name)).String() + "@showfilter"
}
