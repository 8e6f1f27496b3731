// Package widget ties one parsed FilterConfig to its live filter state and
// the events fetched for it. Every state change goes through a single update
// path that also publishes the shareable query string.
package widget

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"showfilter/internal/attr"
	"showfilter/internal/filter"
	appLog "showfilter/internal/log"
	"showfilter/internal/model"
	"showfilter/internal/source"
	"showfilter/internal/urlstate"
	"showfilter/internal/window"
)

var (
	// ErrInvalidFilter is returned by SetFilter for unusable values.
	ErrInvalidFilter = errors.New("invalid filter value")
	// ErrSuperseded is returned by a Refresh whose results were dropped
	// because a newer Refresh started after it.
	ErrSuperseded = errors.New("refresh superseded by a newer one")
)

// Fetcher loads one event stream.
type Fetcher interface {
	FetchEvents(ctx context.Context, req source.Request) ([]model.Event, error)
}

// Status describes the last refresh.
type Status struct {
	Loading   bool      `json:"loading"`
	Loaded    bool      `json:"loaded"`
	Err       error     `json:"-"`
	UpdatedAt time.Time `json:"updated_at,omitzero"`
}

// Error returns the failure message, empty when the last refresh worked.
func (s Status) Error() string {
	if s.Err == nil {
		return ""
	}
	return s.Err.Error()
}

// Result is a filtered snapshot.
type Result struct {
	Events []model.Event
	// Total is the number of events before filtering.
	Total  int
	State  filter.State
	Status Status
}

// Options configure a Widget.
type Options struct {
	Name     string
	Now      func() time.Time
	Location *time.Location
	// OnChange receives the encoded query after every state change.
	OnChange func(query string)
}

// Widget is safe for concurrent use.
type Widget struct {
	name     string
	cfg      attr.FilterConfig
	fetcher  Fetcher
	now      func() time.Time
	loc      *time.Location
	onChange func(string)

	mu     sync.RWMutex
	state  filter.State
	events []model.Event
	status Status
	seq    uint64
}

// New builds a widget from a validated config. The initial state applies
// the config's date-offset, date-range and special filter in that order.
func New(cfg attr.FilterConfig, fetcher Fetcher, opts Options) *Widget {
	w := &Widget{
		name:     opts.Name,
		cfg:      cfg,
		fetcher:  fetcher,
		now:      opts.Now,
		loc:      opts.Location,
		onChange: opts.OnChange,
	}
	if w.name == "" {
		w.name = cfg.Theatre
	}
	if w.now == nil {
		w.now = time.Now
	}
	if w.loc == nil {
		w.loc = time.Local
	}
	w.state = cfg.InitialState(w.today())
	return w
}

func (w *Widget) Name() string { return w.name }

// Config returns the immutable configuration.
func (w *Widget) Config() attr.FilterConfig { return w.cfg }

func (w *Widget) today() time.Time {
	return w.now().In(w.loc)
}

// FilterState returns a copy of the live state.
func (w *Widget) FilterState() filter.State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state.Clone()
}

// Query returns the live state encoded as URL parameters.
func (w *Widget) Query() string {
	return urlstate.Query(w.FilterState())
}

// update is the single mutation path. fn works on a copy; the copy is only
// committed when fn succeeds.
func (w *Widget) update(fn func(st *filter.State) error) error {
	w.mu.Lock()
	next := w.state.Clone()
	if err := fn(&next); err != nil {
		w.mu.Unlock()
		return err
	}
	changed := !next.Equal(w.state)
	w.state = next
	query := urlstate.Query(next)
	w.mu.Unlock()

	if changed && w.onChange != nil {
		w.onChange(query)
	}
	return nil
}

// SetFilter sets one field by its URL parameter name. Values use the same
// text forms as the query string; an empty value clears the field.
func (w *Widget) SetFilter(field, value string) error {
	value = strings.TrimSpace(value)
	invalid := func(msg string) error {
		return fmt.Errorf("%w: %s: %s", ErrInvalidFilter, field, msg)
	}

	return w.update(func(st *filter.State) error {
		switch field {
		case urlstate.ParamIncludeTags:
			st.IncludeTags = attr.ParseCommaSeparated(value)
		case urlstate.ParamExcludeTags:
			st.ExcludeTags = attr.ParseCommaSeparated(value)
		case urlstate.ParamTagMatch:
			if value == "" {
				st.TagMatch = filter.MatchAny
				return nil
			}
			m, err := filter.ParseTagMatch(value)
			if err != nil {
				return invalid(err.Error())
			}
			st.TagMatch = m
		case urlstate.ParamStartDate, urlstate.ParamEndDate:
			var d *model.Date
			if value != "" {
				parsed, err := model.ParseDate(value)
				if err != nil {
					return invalid(err.Error())
				}
				d = &parsed
			}
			if field == urlstate.ParamStartDate {
				st.StartDate = d
			} else {
				st.EndDate = d
			}
		case urlstate.ParamDaysOfWeek:
			var days []int
			for _, tok := range attr.ParseCommaSeparated(value) {
				n, err := strconv.Atoi(tok)
				if err != nil || n < 0 || n > 6 {
					return invalid(fmt.Sprintf("day %q is not between 0 and 6", tok))
				}
				days = append(days, n)
			}
			st.DaysOfWeek = days
		case urlstate.ParamLimit:
			if value == "" {
				st.Limit = 0
				return nil
			}
			n, err := strconv.Atoi(value)
			if err != nil || n < 0 {
				return invalid("limit must be a non-negative integer")
			}
			st.Limit = n
		case urlstate.ParamSpecialFilter:
			st.SpecialFilter = value
		default:
			return fmt.Errorf("%w: unknown field %q", ErrInvalidFilter, field)
		}
		return nil
	})
}

// ResetFilters returns every field to its default, ignoring the config.
func (w *Widget) ResetFilters() {
	_ = w.update(func(st *filter.State) error {
		*st = filter.New()
		return nil
	})
}

// ApplyQuickFilter records name as the special filter and, when it is a
// known window, replaces the date range with it. Unknown names leave the
// dates alone.
func (w *Widget) ApplyQuickFilter(name string) {
	name = strings.TrimSpace(name)
	if !window.Known(name) {
		appLog.Debug("unknown quick filter, dates left as they are", "widget", w.name, "name", name)
	}
	today := w.today()
	_ = w.update(func(st *filter.State) error {
		st.SpecialFilter = name
		if win, ok := window.Resolve(name, today); ok {
			st.SetDates(win.Start, win.End)
		}
		return nil
	})
}

// Status reports the last refresh.
func (w *Widget) Status() Status {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.status
}

// Events filters the loaded events with the live state.
func (w *Widget) Events() Result {
	return w.EventsFor(w.FilterState())
}

// EventsFor filters the loaded events with st without touching the live
// state.
func (w *Widget) EventsFor(st filter.State) Result {
	w.mu.RLock()
	events := w.events
	status := w.status
	w.mu.RUnlock()

	return Result{
		Events: filter.Apply(events, st),
		Total:  len(events),
		State:  st.Clone(),
		Status: status,
	}
}

// Tags lists the distinct tags of the loaded events, sorted.
func (w *Widget) Tags() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()

	seen := map[string]struct{}{}
	for _, e := range w.events {
		for _, t := range e.Tags {
			seen[t] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

// Types lists the streams this widget shows.
func (w *Widget) Types() []model.EventType {
	if w.cfg.CombinedView {
		return []model.EventType{model.TypeShows, model.TypeClasses}
	}
	return []model.EventType{w.cfg.Type}
}

// Refresh fetches every stream concurrently and replaces the loaded events.
// Results of a Refresh that was overtaken by a newer one are dropped and
// ErrSuperseded is returned. Streams that fail contribute no events; their
// errors are joined into Status.Err and returned.
func (w *Widget) Refresh(ctx context.Context) error {
	w.mu.Lock()
	w.seq++
	seq := w.seq
	w.status.Loading = true
	w.mu.Unlock()

	base := source.Request{
		Theatre:     w.cfg.Theatre,
		Category:    w.cfg.Category,
		Development: w.cfg.Development,
		View:        w.cfg.View,
	}
	// The calendar only asks for the weeks it displays.
	if w.cfg.View == attr.ViewCalendar {
		grid := w.cfg.CalendarGrid(w.today())
		base.Start, base.End = grid.Start, grid.End
	}

	types := w.Types()
	results := make([][]model.Event, len(types))
	errs := make([]error, len(types))

	var wg sync.WaitGroup
	for i, typ := range types {
		wg.Go(func() {
			req := base
			req.Type = typ
			results[i], errs[i] = w.fetcher.FetchEvents(ctx, req)
		})
	}
	wg.Wait()

	var merged []model.Event
	for _, events := range results {
		merged = append(merged, events...)
	}
	err := errors.Join(errs...)

	w.mu.Lock()
	defer w.mu.Unlock()

	if seq != w.seq {
		appLog.Debug("dropping stale refresh", "widget", w.name, "seq", seq, "latest", w.seq)
		return ErrSuperseded
	}

	w.events = merged
	w.status = Status{
		Loading:   false,
		Loaded:    true,
		Err:       err,
		UpdatedAt: w.now(),
	}

	if err != nil {
		appLog.Error("widget refresh failed", err, "widget", w.name, "events", len(merged))
		return err
	}
	appLog.Info("widget refreshed", "widget", w.name, "events", len(merged))
	return nil
}
