// Package source fetches show and class listings from a theatre's JSON API
// and expands the records into model.Events.
package source

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"showfilter/internal/model"
)

// DefaultDescription stands in for records without a description body.
const DefaultDescription = "No description given."

// ErrMalformedResponse is returned when the body is not the expected
// {"data": {...}} envelope.
var ErrMalformedResponse = errors.New("malformed api response")

// ViewCards is the view in which each record yields only its first date and
// expired records are hidden.
const ViewCards = "cards"

type apiResponse struct {
	Data map[string]apiItem `json:"data"`
}

type apiItem struct {
	Name         string             `json:"name"`
	Dates        []string           `json:"dates"`
	Timezone     string             `json:"timezone"`
	DisplayUntil string             `json:"display_until"`
	Description  apiDescription     `json:"description"`
	Img          apiImage           `json:"img"`
	Cost         apiCost            `json:"cost"`
	URL          string             `json:"url"`
	GroupedDates model.GroupedDates `json:"grouped_dates"`
	NextDate     string             `json:"next_date"`
	Tags         []string           `json:"tags"`
	Category     string             `json:"category"`
}

type apiDescription struct {
	Body string `json:"body"`
}

type apiImage struct {
	URL string `json:"url"`
}

type apiCost struct {
	Formatted string `json:"formatted"`
}

// ProcessOptions control how records expand into events.
type ProcessOptions struct {
	// View "cards" emits one event per record and drops records whose
	// display_until is before today. Any other view emits one event per date.
	View string
	// AssetBase prefixes relative image paths when set.
	AssetBase string
	// Location applies to dates without an explicit offset when the record
	// carries no usable timezone.
	Location *time.Location
	Now      time.Time
}

// Batch is the result of processing one response body.
type Batch struct {
	Events []model.Event
	// Expired counts records hidden by display_until.
	Expired int
	// Malformed counts dates that could not be parsed.
	Malformed int
}

// Process decodes body and expands it. Records are visited in key order so
// the output is deterministic.
func Process(body []byte, typ model.EventType, opts ProcessOptions) (Batch, error) {
	var resp apiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return Batch{}, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	if resp.Data == nil {
		return Batch{}, fmt.Errorf("%w: missing data", ErrMalformedResponse)
	}

	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	cards := opts.View == ViewCards

	keys := make([]string, 0, len(resp.Data))
	for k := range resp.Data {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var b Batch
	for _, k := range keys {
		item := resp.Data[k]
		itemLoc := itemLocation(item.Timezone, loc)

		if cards && expired(item.DisplayUntil, itemLoc, now) {
			b.Expired++
			continue
		}

		for _, raw := range item.Dates {
			start, err := ParseStart(raw, itemLoc)
			if err != nil {
				b.Malformed++
				continue
			}
			b.Events = append(b.Events, toEvent(item, typ, raw, start, opts.AssetBase))
			if cards {
				break
			}
		}
	}

	return b, nil
}

func toEvent(item apiItem, typ model.EventType, raw string, start time.Time, assetBase string) model.Event {
	desc := item.Description.Body
	if desc == "" {
		desc = DefaultDescription
	}

	img := item.Img.URL
	if assetBase != "" && strings.HasPrefix(img, "/") {
		img = assetBase + img
	}

	tags := slices.Clone(item.Tags)
	if item.Category != "" {
		tags = append(tags, item.Category)
	}
	if tags == nil {
		tags = []string{}
	}

	next := item.NextDate
	if next == "" && len(item.Dates) > 0 {
		next = item.Dates[len(item.Dates)-1]
	}

	return model.Event{
		Title:        item.Name,
		Start:        start,
		StartRaw:     raw,
		Tags:         tags,
		Type:         typ,
		Description:  desc,
		Image:        img,
		Cost:         item.Cost.Formatted,
		URL:          item.URL,
		NextDate:     next,
		GroupedDates: item.GroupedDates,
	}
}

// expired reports whether displayUntil falls before the start of today.
// Missing or unparseable values never expire a record.
func expired(displayUntil string, loc *time.Location, now time.Time) bool {
	if displayUntil == "" {
		return false
	}
	t, err := ParseStart(displayUntil, loc)
	if err != nil {
		return false
	}
	n := now.In(loc)
	today := time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, loc)
	return t.Before(today)
}

func itemLocation(name string, fallback *time.Location) *time.Location {
	if name == "" {
		return fallback
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return fallback
	}
	return loc
}

var startLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	model.DateLayout,
}

// ParseStart reads an API timestamp. Values with an offset keep it; the rest
// are interpreted in loc.
func ParseStart(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	for _, layout := range startLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized start time %q", s)
}
