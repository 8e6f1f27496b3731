// Package attr reads the declarative widget parameters (the data-* style
// attributes of an embed) into an immutable FilterConfig.
//
// Parsing is forgiving so that a page can still render something; Validate
// is strict and is what initialization runs before a widget is built.
package attr

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"showfilter/internal/filter"
	"showfilter/internal/model"
	"showfilter/internal/window"
)

// Attribute names, without the optional "data-" prefix.
const (
	KeyTheatre       = "theatre"
	KeyType          = "type"
	KeyView          = "view"
	KeyCategory      = "category"
	KeyDevelopment   = "development"
	KeyIncludeTags   = "include-tags"
	KeyExcludeTags   = "exclude-tags"
	KeyTagMatch      = "tag-match"
	KeyDateRange     = "date-range"
	KeyDateOffset    = "date-offset"
	KeyDaysOfWeek    = "days-of-week"
	KeySpecialFilter = "special-filter"
	KeyLimit         = "limit"
	KeyCombinedView  = "combined-view"
	KeyShowFilters   = "show-filters"
	KeyShowTags      = "show-tags"
	KeyStartDate     = "start-date"
	KeyStartDOW      = "start-dow"
)

// Views a widget can render.
const (
	ViewCards    = "cards"
	ViewCalendar = "calendar"
)

// ErrConfig is matched by every *ConfigError.
var ErrConfig = errors.New("invalid widget config")

// ConfigError reports a declarative parameter that cannot be used. It is
// fatal to widget initialization.
type ConfigError struct {
	Field string
	Msg   string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return e.Field + ": " + e.Msg
}

func (e *ConfigError) Is(target error) bool {
	return target == ErrConfig
}

// Source yields raw attribute values by name.
type Source interface {
	Get(name string) (string, bool)
}

// Map is a Source backed by a plain map. Keys may carry the "data-" prefix
// or not; the prefixed form wins when both are present.
type Map map[string]string

func (m Map) Get(name string) (string, bool) {
	if v, ok := m["data-"+name]; ok {
		return v, true
	}
	v, ok := m[name]
	return v, ok
}

// FilterConfig is the parsed, read-only snapshot of a widget's declarative
// parameters.
type FilterConfig struct {
	Theatre     string
	Type        model.EventType
	View        string
	Category    string
	Development bool

	IncludeTags []string
	ExcludeTags []string
	TagMatch    filter.TagMatch

	// DateRange and DateOffset are kept raw; they are resolved against the
	// clock when the filter state is built.
	DateRange  string
	DateOffset string

	DaysOfWeek    []int
	SpecialFilter string
	Limit         int

	CombinedView bool
	ShowFilters  bool
	ShowTags     bool

	// CalendarDate picks the month the calendar view opens on; nil means
	// the current month. StartDOW is the first column of the grid.
	CalendarDate *model.Date
	StartDOW     time.Weekday

	// Raw forms of the numeric and date fields, checked by Validate.
	rawDays      []string
	rawLimit     string
	rawStartDate string
	rawStartDOW  string
}

// ParseCommaSeparated splits on commas, trims each token and drops empties.
func ParseCommaSeparated(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Parse reads src into a FilterConfig. Only a missing theatre fails here;
// unusable values fall back to defaults and are reported by Validate.
func Parse(src Source) (FilterConfig, error) {
	get := func(name string) string {
		v, _ := src.Get(name)
		return strings.TrimSpace(v)
	}

	cfg := FilterConfig{
		Theatre:       get(KeyTheatre),
		Type:          model.EventType(get(KeyType)),
		View:          get(KeyView),
		Category:      get(KeyCategory),
		Development:   get(KeyDevelopment) == "true",
		IncludeTags:   ParseCommaSeparated(get(KeyIncludeTags)),
		ExcludeTags:   ParseCommaSeparated(get(KeyExcludeTags)),
		TagMatch:      filter.TagMatch(get(KeyTagMatch)),
		DateRange:     get(KeyDateRange),
		DateOffset:    get(KeyDateOffset),
		SpecialFilter: get(KeySpecialFilter),
		CombinedView:  get(KeyCombinedView) == "true",
		ShowFilters:   get(KeyShowFilters) == "true",
		ShowTags:      get(KeyShowTags) == "true",
		StartDOW:      time.Monday,
		rawDays:       ParseCommaSeparated(get(KeyDaysOfWeek)),
		rawLimit:      get(KeyLimit),
		rawStartDate:  get(KeyStartDate),
		rawStartDOW:   get(KeyStartDOW),
	}

	if cfg.Theatre == "" {
		return cfg, &ConfigError{Field: KeyTheatre, Msg: "theatre name is required"}
	}
	if cfg.Type == "" {
		cfg.Type = model.TypeShows
	}
	if cfg.TagMatch == "" {
		cfg.TagMatch = filter.MatchAny
	}

	for _, tok := range cfg.rawDays {
		if n, err := strconv.Atoi(tok); err == nil {
			cfg.DaysOfWeek = append(cfg.DaysOfWeek, n)
		}
	}
	if n, err := strconv.Atoi(cfg.rawLimit); err == nil {
		cfg.Limit = n
	}
	if d, err := model.ParseDate(cfg.rawStartDate); err == nil {
		cfg.CalendarDate = &d
	}
	if n, err := strconv.Atoi(cfg.rawStartDOW); err == nil && n >= 0 && n <= 6 {
		cfg.StartDOW = time.Weekday(n)
	}

	return cfg, nil
}

// Validate checks cfg strictly. Out-of-range days and a negative or
// non-numeric limit are rejected rather than dropped.
func Validate(cfg FilterConfig) error {
	if cfg.Theatre == "" {
		return &ConfigError{Field: KeyTheatre, Msg: "theatre name is required"}
	}
	if !cfg.Type.Valid() {
		return &ConfigError{Field: KeyType, Msg: fmt.Sprintf("type must be %q or %q, got %q", model.TypeShows, model.TypeClasses, cfg.Type)}
	}
	if cfg.TagMatch != "" {
		if _, err := filter.ParseTagMatch(string(cfg.TagMatch)); err != nil {
			return &ConfigError{Field: KeyTagMatch, Msg: err.Error()}
		}
	}

	if cfg.rawDays != nil && len(cfg.rawDays) != len(cfg.DaysOfWeek) {
		return &ConfigError{Field: KeyDaysOfWeek, Msg: "days of week must be integers between 0 and 6"}
	}
	for _, d := range cfg.DaysOfWeek {
		if d < 0 || d > 6 {
			return &ConfigError{Field: KeyDaysOfWeek, Msg: fmt.Sprintf("days of week must be between 0 and 6, got %d", d)}
		}
	}

	if cfg.rawLimit != "" {
		if _, err := strconv.Atoi(cfg.rawLimit); err != nil {
			return &ConfigError{Field: KeyLimit, Msg: fmt.Sprintf("limit must be a positive number, got %q", cfg.rawLimit)}
		}
	}
	if cfg.Limit < 0 {
		return &ConfigError{Field: KeyLimit, Msg: "limit must be a positive number"}
	}

	if cfg.rawStartDate != "" {
		if _, err := model.ParseDate(cfg.rawStartDate); err != nil {
			return &ConfigError{Field: KeyStartDate, Msg: err.Error()}
		}
	}
	if cfg.rawStartDOW != "" {
		if n, err := strconv.Atoi(cfg.rawStartDOW); err != nil || n < 0 || n > 6 {
			return &ConfigError{Field: KeyStartDOW, Msg: fmt.Sprintf("start day of week must be between 0 and 6, got %q", cfg.rawStartDOW)}
		}
	}

	if cfg.DateRange != "" {
		if _, _, err := ParseDateRange(cfg.DateRange, time.Now()); err != nil {
			return &ConfigError{Field: KeyDateRange, Msg: err.Error()}
		}
	}
	if cfg.DateOffset != "" {
		if _, err := window.Offset(cfg.DateOffset, time.Now()); err != nil {
			return &ConfigError{Field: KeyDateOffset, Msg: err.Error()}
		}
	}

	return nil
}

// InitialState builds the filter state a widget starts with. Date sources
// are applied in order, each overriding the last: date-offset, date-range,
// then the special filter.
func (c FilterConfig) InitialState(today time.Time) filter.State {
	st := filter.New()
	st.IncludeTags = slices.Clone(c.IncludeTags)
	st.ExcludeTags = slices.Clone(c.ExcludeTags)
	if c.TagMatch != "" {
		st.TagMatch = c.TagMatch
	}
	st.DaysOfWeek = slices.Clone(c.DaysOfWeek)
	st.Limit = max(c.Limit, 0)
	st.SpecialFilter = c.SpecialFilter

	if c.DateOffset != "" {
		if w, err := window.Offset(c.DateOffset, today); err == nil {
			st.SetDates(w.Start, w.End)
		}
	}
	if c.DateRange != "" {
		if start, end, err := ParseDateRange(c.DateRange, today); err == nil && (start != nil || end != nil) {
			st.StartDate, st.EndDate = start, end
		}
	}
	if w, ok := window.Resolve(c.SpecialFilter, today); ok {
		st.SetDates(w.Start, w.End)
	}

	return st
}

// CalendarMonth is the day whose month the calendar view shows.
func (c FilterConfig) CalendarMonth(today time.Time) model.Date {
	if c.CalendarDate != nil {
		return *c.CalendarDate
	}
	return model.DateOf(today)
}

// CalendarGrid is the range of whole weeks the calendar view shows.
func (c FilterConfig) CalendarGrid(today time.Time) window.Window {
	return window.MonthGrid(c.CalendarMonth(today), c.StartDOW)
}

// ParseDateRange reads "START,END". "START," is open-ended into the future,
// ",END" runs from today through END, and "START,END" is fully bounded.
// A value with no comma is treated as a start date.
func ParseDateRange(value string, today time.Time) (start, end *model.Date, err error) {
	startStr, endStr, _ := strings.Cut(value, ",")
	startStr = strings.TrimSpace(startStr)
	endStr = strings.TrimSpace(endStr)

	if startStr != "" {
		d, err := model.ParseDate(startStr)
		if err != nil {
			return nil, nil, fmt.Errorf("date range start: %w", err)
		}
		start = &d
	}
	if endStr != "" {
		d, err := model.ParseDate(endStr)
		if err != nil {
			return nil, nil, fmt.Errorf("date range end: %w", err)
		}
		end = &d
		if start == nil {
			t := model.DateOf(today)
			start = &t
		}
	}

	return start, end, nil
}
