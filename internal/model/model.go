package model

import "time"

// EventType names the upstream stream an event came from. The values match
// the API path segments.
type EventType string

const (
	TypeShows   EventType = "shows"
	TypeClasses EventType = "classes"
)

// Valid reports whether t is one of the known streams.
func (t EventType) Valid() bool {
	return t == TypeShows || t == TypeClasses
}

// Event is a single scheduled occurrence of a show or class as delivered by
// the theatre API. The filter engine only reads Start, Tags and Type; the
// remaining fields are carried through for presentation.
type Event struct {
	Title string
	// Start is the occurrence time in the zone the API reported it in.
	// A zero Start means the upstream value could not be parsed.
	Start    time.Time
	StartRaw string
	Tags     []string
	Type     EventType

	Description string
	Image       string
	// Cost is the formatted price, empty when the API did not send one.
	Cost         string
	URL          string
	NextDate     string
	GroupedDates GroupedDates
}

// GroupedDates is the API's collapsed description of a multi-date run,
// e.g. "Every Friday".
type GroupedDates struct {
	Grouped bool   `json:"grouped"`
	Message string `json:"message"`
}

// HasTag reports whether the event carries tag.
func (e Event) HasTag(tag string) bool {
	for _, t := range e.Tags {
		if t == tag {
			return true
		}
	}
	return false
}
