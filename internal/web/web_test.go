package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"showfilter/internal/attr"
	"showfilter/internal/config"
	"showfilter/internal/filter"
	appLog "showfilter/internal/log"
	"showfilter/internal/model"
	"showfilter/internal/source"
	"showfilter/internal/widget"
)

func init() {
	appLog.SetOutput(io.Discard)
}

var wednesday = time.Date(2025, 4, 16, 10, 0, 0, 0, time.UTC)

type fetcherFunc func(ctx context.Context, req source.Request) ([]model.Event, error)

func (f fetcherFunc) FetchEvents(ctx context.Context, req source.Request) ([]model.Event, error) {
	return f(ctx, req)
}

func ev(title string, day int, typ model.EventType, tags ...string) model.Event {
	return model.Event{
		Title: title,
		Start: time.Date(2025, 4, day, 20, 0, 0, 0, time.UTC),
		Tags:  tags,
		Type:  typ,
		URL:   "https://thepit.example/" + strings.ReplaceAll(strings.ToLower(title), " ", "-"),
	}
}

var showsFetcher = fetcherFunc(func(_ context.Context, req source.Request) ([]model.Event, error) {
	if req.Type == model.TypeClasses {
		return []model.Event{ev("Improv 101", 14, model.TypeClasses, "class")}, nil
	}
	return []model.Event{
		ev("Friday Improv", 18, model.TypeShows, "improv"),
		ev("Sketch Night", 16, model.TypeShows, "comedy", "sketch"),
	}, nil
})

func newTestWidget(t *testing.T, name string, attrs attr.Map, f widget.Fetcher) *widget.Widget {
	t.Helper()
	if _, ok := attrs["theatre"]; !ok {
		attrs["theatre"] = "thepit"
	}
	cfg, err := attr.Parse(attrs)
	require.NoError(t, err)
	require.NoError(t, attr.Validate(cfg))

	return widget.New(cfg, f, widget.Options{
		Name:     name,
		Now:      func() time.Time { return wednesday },
		Location: time.UTC,
	})
}

func newTestServer(t *testing.T, widgets ...*widget.Widget) (*Server, *config.Config) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Timezone = "UTC"
	cfg.Widgets = nil

	s := NewServer(cfg, widgets, false)
	s.now = func() time.Time { return wednesday }
	return s, cfg
}

func loaded(t *testing.T, name string, attrs attr.Map) *widget.Widget {
	t.Helper()
	w := newTestWidget(t, name, attrs, showsFetcher)
	require.NoError(t, w.Refresh(context.Background()))
	return w
}

func do(t *testing.T, h http.Handler, method, target string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req := httptest.NewRequest(method, target, body)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func eventTitles(resp eventsResponse) []string {
	out := make([]string, 0, len(resp.Events))
	for _, e := range resp.Events {
		out = append(out, e.Title)
	}
	return out
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)

	rec := do(t, s.Handler(), http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestBasicAuth(t *testing.T) {
	s, cfg := newTestServer(t, loaded(t, "shows", attr.Map{}))
	cfg.BasicAuth = &config.BasicAuthConfig{Username: "admin", Password: "secret"}
	h := s.Handler()

	rec := do(t, h, http.MethodGet, "/api/widgets", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), `realm="showfilter"`)

	rec = do(t, h, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/widgets", nil)
	req.SetBasicAuth("admin", "wrong")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/widgets", nil)
	req.SetBasicAuth("admin", "secret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBasicAuthDisabledWhenIncomplete(t *testing.T) {
	s, cfg := newTestServer(t)
	cfg.BasicAuth = &config.BasicAuthConfig{Username: "admin"}

	rec := do(t, s.Handler(), http.MethodGet, "/api/widgets", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWidgetsList(t *testing.T) {
	s, _ := newTestServer(t,
		loaded(t, "shows", attr.Map{"include-tags": "improv"}),
		newTestWidget(t, "all", attr.Map{"combined-view": "true", "view": "calendar"}, showsFetcher),
	)

	rec := do(t, s.Handler(), http.MethodGet, "/api/widgets", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	list := decode[[]widgetSummary](t, rec)
	require.Len(t, list, 2)

	assert.Equal(t, "shows", list[0].Name)
	assert.Equal(t, ViewCards, list[0].View)
	assert.Equal(t, "include-tags=improv", list[0].Query)
	assert.True(t, list[0].Status.Loaded)
	assert.NotNil(t, list[0].Status.UpdatedAt)

	assert.Equal(t, "all", list[1].Name)
	assert.Equal(t, ViewCalendar, list[1].View)
	assert.True(t, list[1].CombinedView)
	assert.False(t, list[1].Status.Loaded)
}

func TestEvents(t *testing.T) {
	s, _ := newTestServer(t, loaded(t, "shows", attr.Map{}))
	h := s.Handler()

	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{"no filter", "", []string{"Sketch Night", "Friday Improv"}},
		{"include tag", "?include-tags=improv", []string{"Friday Improv"}},
		{"repeated keys join", "?include-tags=improv&include-tags=sketch", []string{"Sketch Night", "Friday Improv"}},
		{"match all", "?include-tags=comedy,sketch&tag-match=all", []string{"Sketch Night"}},
		{"exclude", "?exclude-tags=comedy", []string{"Friday Improv"}},
		{"start date", "?start-date=2025-04-17", []string{"Friday Improv"}},
		{"weekday", "?days-of-week=3", []string{"Sketch Night"}},
		{"limit", "?limit=1", []string{"Sketch Night"}},
		{"special filter resolves", "?special-filter=this-weekend", []string{}},
		{"explicit dates beat special filter", "?special-filter=this-weekend&start-date=2025-04-18", []string{"Friday Improv"}},
		{"bad values ignored", "?limit=-3&days-of-week=9", []string{"Sketch Night", "Friday Improv"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodGet, "/api/widgets/shows/events"+tt.query, nil)
			require.Equal(t, http.StatusOK, rec.Code)

			resp := decode[eventsResponse](t, rec)
			assert.Equal(t, tt.want, eventTitles(resp))
			assert.Equal(t, 2, resp.Total)
		})
	}
}

func TestEventsResponseShape(t *testing.T) {
	s, _ := newTestServer(t, loaded(t, "shows", attr.Map{}))

	rec := do(t, s.Handler(), http.MethodGet, "/api/widgets/shows/events?special-filter=this-week", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))

	resp := decode[eventsResponse](t, rec)
	assert.Equal(t, "shows", resp.Widget)
	assert.Equal(t, "this-week", resp.State.SpecialFilter)
	assert.Equal(t, "2025-04-14", resp.State.StartDate)
	assert.Equal(t, "2025-04-20", resp.State.EndDate)
	assert.Equal(t, []string{}, resp.State.IncludeTags)
	assert.Empty(t, resp.Message)

	q, err := url.ParseQuery(resp.Query)
	require.NoError(t, err)
	assert.Equal(t, "this-week", q.Get("special-filter"))
	assert.Equal(t, "2025-04-14", q.Get("start-date"))

	require.NotEmpty(t, resp.Events)
	assert.Equal(t, []string{"comedy", "sketch"}, resp.Events[0].Tags)
	assert.Equal(t, model.TypeShows, resp.Events[0].Type)
}

func TestEventsDoNotChangeLiveState(t *testing.T) {
	w := loaded(t, "shows", attr.Map{})
	s, _ := newTestServer(t, w)

	do(t, s.Handler(), http.MethodGet, "/api/widgets/shows/events?include-tags=improv", nil)
	assert.Empty(t, w.FilterState().IncludeTags)
	assert.Empty(t, w.Query())
}

func TestEventsEmptyDateClearsConfiguredBound(t *testing.T) {
	s, _ := newTestServer(t, loaded(t, "shows", attr.Map{"date-range": "2025-04-17,"}))
	h := s.Handler()

	resp := decode[eventsResponse](t, do(t, h, http.MethodGet, "/api/widgets/shows/events", nil))
	assert.Equal(t, []string{"Friday Improv"}, eventTitles(resp))

	resp = decode[eventsResponse](t, do(t, h, http.MethodGet, "/api/widgets/shows/events?start-date=", nil))
	assert.Equal(t, []string{"Sketch Night", "Friday Improv"}, eventTitles(resp))
}

func TestEventsMessages(t *testing.T) {
	failing := fetcherFunc(func(context.Context, source.Request) ([]model.Event, error) {
		return nil, errors.New("upstream down")
	})
	broken := newTestWidget(t, "broken", attr.Map{}, failing)
	require.Error(t, broken.Refresh(context.Background()))

	s, _ := newTestServer(t,
		loaded(t, "shows", attr.Map{}),
		newTestWidget(t, "pending", attr.Map{}, showsFetcher),
		broken,
	)
	h := s.Handler()

	tests := []struct {
		target string
		want   string
	}{
		{"/api/widgets/shows/events?include-tags=nothing", "No events found matching your criteria."},
		{"/api/widgets/broken/events", "Unable to load events right now. Please try again later."},
		{"/api/widgets/pending/events", "No events found matching your criteria."},
	}
	for _, tt := range tests {
		resp := decode[eventsResponse](t, do(t, h, http.MethodGet, tt.target, nil))
		assert.Equal(t, tt.want, resp.Message, tt.target)
	}

	resp := decode[eventsResponse](t, do(t, h, http.MethodGet, "/api/widgets/broken/events", nil))
	assert.Equal(t, "upstream down", resp.Status.Error)
}

func TestUnknownWidget(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	for _, target := range []string{
		"/api/widgets/nope/events",
		"/api/widgets/nope/state",
		"/widgets/nope",
		"/widgets/nope/calendar.ics",
	} {
		rec := do(t, h, http.MethodGet, target, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code, target)
	}
}

func TestPostState(t *testing.T) {
	w := loaded(t, "shows", attr.Map{"include-tags": "improv"})
	s, _ := newTestServer(t, w)
	h := s.Handler()

	rec := do(t, h, http.MethodGet, "/api/widgets/shows/state", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"improv"}, decode[stateResponse](t, rec).State.IncludeTags)

	rec = do(t, h, http.MethodPost, "/api/widgets/shows/state", url.Values{"field": {"include-tags"}, "value": {"comedy"}})
	require.Equal(t, http.StatusOK, rec.Code)
	st := decode[stateResponse](t, rec)
	assert.Equal(t, []string{"comedy"}, st.State.IncludeTags)
	assert.Equal(t, "include-tags=comedy", st.Query)
	assert.Equal(t, []string{"comedy"}, w.FilterState().IncludeTags)

	resp := decode[eventsResponse](t, do(t, h, http.MethodGet, "/api/widgets/shows/events", nil))
	assert.Equal(t, []string{"Sketch Night"}, eventTitles(resp))

	rec = do(t, h, http.MethodPost, "/api/widgets/shows/state", url.Values{"action": {"quick"}, "name": {"this-week"}})
	require.Equal(t, http.StatusOK, rec.Code)
	st = decode[stateResponse](t, rec)
	assert.Equal(t, "this-week", st.State.SpecialFilter)
	assert.Equal(t, "2025-04-14", st.State.StartDate)
	assert.Equal(t, "2025-04-20", st.State.EndDate)

	rec = do(t, h, http.MethodPost, "/api/widgets/shows/state", url.Values{"action": {"reset"}})
	require.Equal(t, http.StatusOK, rec.Code)
	st = decode[stateResponse](t, rec)
	assert.Equal(t, "", st.Query)
	assert.Equal(t, "any", st.State.TagMatch)
	assert.Empty(t, st.State.IncludeTags)
}

func TestPostStateRejects(t *testing.T) {
	w := loaded(t, "shows", attr.Map{"limit": "5"})
	s, _ := newTestServer(t, w)
	h := s.Handler()

	tests := []struct {
		name string
		form url.Values
	}{
		{"negative limit", url.Values{"field": {"limit"}, "value": {"-1"}}},
		{"bad day", url.Values{"field": {"days-of-week"}, "value": {"1,7"}}},
		{"bad date", url.Values{"field": {"start-date"}, "value": {"04/18/2025"}}},
		{"bad tag match", url.Values{"field": {"tag-match"}, "value": {"some"}}},
		{"unknown field", url.Values{"field": {"colour"}, "value": {"red"}}},
		{"missing field", url.Values{"value": {"x"}}},
		{"unknown action", url.Values{"action": {"explode"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/api/widgets/shows/state", tt.form)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.NotEmpty(t, decode[map[string]string](t, rec)["error"])
		})
	}

	assert.Equal(t, 5, w.FilterState().Limit)
}

func TestRefresh(t *testing.T) {
	calls := 0
	counting := fetcherFunc(func(ctx context.Context, req source.Request) ([]model.Event, error) {
		calls++
		return showsFetcher(ctx, req)
	})
	failing := fetcherFunc(func(context.Context, source.Request) ([]model.Event, error) {
		return nil, errors.New("boom")
	})

	s, _ := newTestServer(t,
		newTestWidget(t, "shows", attr.Map{}, counting),
		newTestWidget(t, "broken", attr.Map{}, failing),
	)
	h := s.Handler()

	rec := do(t, h, http.MethodPost, "/api/widgets/shows/refresh", url.Values{})
	require.Equal(t, http.StatusOK, rec.Code)
	st := decode[statusDTO](t, rec)
	assert.True(t, st.Loaded)
	assert.Empty(t, st.Error)
	assert.Equal(t, 1, calls)

	rec = do(t, h, http.MethodPost, "/api/widgets/broken/refresh", url.Values{})
	require.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "boom", decode[statusDTO](t, rec).Error)
}

func TestICSFeed(t *testing.T) {
	s, cfg := newTestServer(t, loaded(t, "shows", attr.Map{}))
	cfg.EventDurationMinutes = 90
	h := s.Handler()

	rec := do(t, h, http.MethodGet, "/widgets/shows/calendar.ics?include-tags=improv", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/calendar; charset=utf-8", rec.Header().Get("Content-Type"))

	cal, err := ical.ParseCalendar(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	require.Len(t, cal.Events(), 1)

	ve := cal.Events()[0]
	assert.Equal(t, "Friday Improv", ve.GetProperty(ical.ComponentPropertySummary).Value)
	start, err := ve.GetStartAt()
	require.NoError(t, err)
	end, err := ve.GetEndAt()
	require.NoError(t, err)
	assert.Equal(t, 90*time.Minute, end.Sub(start))

	all := do(t, h, http.MethodGet, "/widgets/shows/calendar.ics", nil)
	cal, err = ical.ParseCalendar(bytes.NewReader(all.Body.Bytes()))
	require.NoError(t, err)
	assert.Len(t, cal.Events(), 2)
}

func TestICSFeedCache(t *testing.T) {
	w := loaded(t, "shows", attr.Map{})
	s, _ := newTestServer(t, w)
	h := s.Handler()

	now := wednesday
	s.now = func() time.Time { return now }

	first := do(t, h, http.MethodGet, "/widgets/shows/calendar.ics", nil).Body.String()
	require.Len(t, s.icsCache, 1)

	now = now.Add(time.Second)
	assert.Equal(t, first, do(t, h, http.MethodGet, "/widgets/shows/calendar.ics", nil).Body.String())

	// A later DTSTAMP means the feed was rebuilt.
	now = now.Add(time.Minute)
	assert.NotEqual(t, first, do(t, h, http.MethodGet, "/widgets/shows/calendar.ics", nil).Body.String())
}

func TestICSFeedCacheIsBounded(t *testing.T) {
	now := wednesday
	clock := func() time.Time { return now }

	cfg, err := attr.Parse(attr.Map{"theatre": "thepit"})
	require.NoError(t, err)
	w := widget.New(cfg, showsFetcher, widget.Options{Name: "shows", Now: clock, Location: time.UTC})
	require.NoError(t, w.Refresh(context.Background()))

	s, _ := newTestServer(t, w)
	s.now = clock
	h := s.Handler()

	for i := 1; i <= 500; i++ {
		rec := do(t, h, http.MethodGet, "/widgets/shows/calendar.ics?limit="+strconv.Itoa(i), nil)
		require.Equal(t, http.StatusOK, rec.Code)
		require.LessOrEqual(t, len(s.icsCache), icsCacheMax)
	}
	assert.Contains(t, s.icsCache, "shows?limit=500")

	// Expired entries go on the next insert.
	now = now.Add(icsCacheTTL)
	do(t, h, http.MethodGet, "/widgets/shows/calendar.ics", nil)
	assert.Len(t, s.icsCache, 1)

	// So do entries built before the widget's latest refresh.
	do(t, h, http.MethodGet, "/widgets/shows/calendar.ics?limit=2", nil)
	require.Len(t, s.icsCache, 2)
	now = now.Add(time.Second)
	require.NoError(t, w.Refresh(context.Background()))
	do(t, h, http.MethodGet, "/widgets/shows/calendar.ics?limit=3", nil)
	assert.Len(t, s.icsCache, 1)
}

func TestIndexPage(t *testing.T) {
	s, _ := newTestServer(t, loaded(t, "shows", attr.Map{"include-tags": "improv"}))

	rec := do(t, s.Handler(), http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), `href="/widgets/shows?include-tags=improv"`)

	rec = do(t, s.Handler(), http.MethodGet, "/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWidgetPageCards(t *testing.T) {
	s, _ := newTestServer(t, loaded(t, "shows", attr.Map{"show-tags": "true"}))

	rec := do(t, s.Handler(), http.MethodGet, "/widgets/shows", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()

	assert.Contains(t, body, `data-ready="true"`)
	assert.Contains(t, body, `data-view="cards"`)
	assert.Contains(t, body, "Friday Improv")
	assert.Contains(t, body, "Friday, Apr 18, 2025 @ 8:00 PM")
	assert.Contains(t, body, "<span>sketch</span>")
	assert.Contains(t, body, `href="/widgets/shows/calendar.ics?days-of-week=`)
	assert.NotContains(t, body, `class="filters"`)
	assert.Less(t, strings.Index(body, "Sketch Night"), strings.Index(body, "Friday Improv"))
}

func TestWidgetPageCalendar(t *testing.T) {
	s, _ := newTestServer(t, loaded(t, "all", attr.Map{"view": "calendar", "combined-view": "true"}))

	rec := do(t, s.Handler(), http.MethodGet, "/widgets/all", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()

	assert.Contains(t, body, `data-view="calendar"`)
	assert.Contains(t, body, `data-date="2025-04-14"`)
	assert.Contains(t, body, "Monday, April 14")
	assert.Contains(t, body, "Improv 101")
	assert.Contains(t, body, "8:00 PM")
	assert.NotContains(t, body, "<span>class</span>")

	// April 2025 in Monday-first weeks.
	assert.Contains(t, body, "<caption>April 2025</caption>")
	assert.Contains(t, body, `data-start-dow="1"`)
	assert.Less(t, strings.Index(body, `<th scope="col">Mon</th>`), strings.Index(body, `<th scope="col">Sun</th>`))
	assert.Contains(t, body, `class="day outside" data-date="2025-03-31"`)
	assert.Contains(t, body, `class="day today" data-date="2025-04-16"`)
	assert.Contains(t, body, `data-date="2025-05-04"`)
	assert.NotContains(t, body, `data-date="2025-05-05"`)
	assert.Equal(t, 35, strings.Count(body, `<td class="day`))
}

func TestWidgetPageCalendarStart(t *testing.T) {
	s, _ := newTestServer(t, loaded(t, "june", attr.Map{"view": "calendar", "start-date": "2025-06-10", "start-dow": "0"}))

	body := do(t, s.Handler(), http.MethodGet, "/widgets/june", nil).Body.String()

	assert.Contains(t, body, "<caption>June 2025</caption>")
	assert.Contains(t, body, `data-start-dow="0"`)
	assert.Less(t, strings.Index(body, `<th scope="col">Sun</th>`), strings.Index(body, `<th scope="col">Mon</th>`))
	assert.Contains(t, body, `class="day" data-date="2025-06-01"`)
	assert.Contains(t, body, `data-date="2025-07-05"`)
	assert.NotContains(t, body, `data-date="2025-04-18"`)
	assert.NotContains(t, body, "Friday Improv")
}

func TestWidgetPageStates(t *testing.T) {
	s, _ := newTestServer(t,
		newTestWidget(t, "pending", attr.Map{}, showsFetcher),
		loaded(t, "shows", attr.Map{}),
	)
	h := s.Handler()

	body := do(t, h, http.MethodGet, "/widgets/pending", nil).Body.String()
	assert.NotContains(t, body, `data-ready="true"`)

	body = do(t, h, http.MethodGet, "/widgets/shows?special-filter=this-weekend", nil).Body.String()
	assert.Contains(t, body, `data-ready="true"`)
	assert.Contains(t, body, "No events found matching your criteria.")
	assert.Contains(t, body, "/widgets/shows/calendar.ics?")
}

func TestWidgetPageFilterPanel(t *testing.T) {
	s, _ := newTestServer(t, loaded(t, "shows", attr.Map{"show-filters": "true", "include-tags": "improv"}))

	rec := do(t, s.Handler(), http.MethodGet, "/widgets/shows?days-of-week=5&start-date=2025-04-17", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()

	assert.Contains(t, body, `class="filters"`)
	assert.Contains(t, body, `name="include-tags" value="improv" checked`)
	assert.Contains(t, body, `name="include-tags" value="comedy">`)
	assert.Contains(t, body, `name="days-of-week" value="5" checked`)
	assert.Contains(t, body, `name="start-date" value="2025-04-17"`)
	assert.Contains(t, body, "Next Weekend")
	assert.Contains(t, body, "Reset")
}

func TestBuildPanelLinks(t *testing.T) {
	w := loaded(t, "shows", attr.Map{"special-filter": "this-week"})
	s, _ := newTestServer(t, w)

	req := httptest.NewRequest(http.MethodGet, "/widgets/shows?include-tags=&start-date=2025-04-17&cache=1", nil)
	st, q := s.requestState(req, w)
	p := buildPanel("/widgets/shows", q, st, w.FilterState(), w.Tags())

	require.Len(t, p.Quick, 6)
	assert.True(t, p.Quick[0].Active)

	link, err := url.Parse(p.Quick[3].URL)
	require.NoError(t, err)
	lq := link.Query()
	assert.Equal(t, "next-weekend", lq.Get("special-filter"))
	assert.False(t, lq.Has("start-date"))
	assert.True(t, lq.Has("include-tags"))
	assert.Equal(t, "1", lq.Get("cache"))

	reset, err := url.Parse(p.ResetURL)
	require.NoError(t, err)
	rst, _ := s.requestState(httptest.NewRequest(http.MethodGet, reset.String(), nil), w)
	assert.True(t, rst.IsDefault())
}

func TestActiveFilterBadges(t *testing.T) {
	w := loaded(t, "shows", attr.Map{"show-filters": "true", "include-tags": "improv", "special-filter": "this-week"})
	s, _ := newTestServer(t, w)

	req := httptest.NewRequest(http.MethodGet, "/widgets/shows?limit=2&days-of-week=5,0&utm_source=mail", nil)
	st, q := s.requestState(req, w)
	p := buildPanel("/widgets/shows", q, st, w.FilterState(), w.Tags())

	labels := make([]string, 0, len(p.Badges))
	for _, b := range p.Badges {
		labels = append(labels, b.Label)
	}
	assert.Equal(t, []string{
		"Tags (any): improv",
		"Date: 2025-04-14 to 2025-04-20",
		"Days: Fri, Sun",
		"Limit: 2",
		"Quick Filter: this week",
	}, labels)

	follow := func(t *testing.T, link string) filter.State {
		t.Helper()
		u, err := url.Parse(link)
		require.NoError(t, err)
		assert.Equal(t, "/widgets/shows", u.Path)
		assert.Equal(t, "mail", u.Query().Get("utm_source"))
		got, _ := s.requestState(httptest.NewRequest(http.MethodGet, link, nil), w)
		return got
	}

	tags := follow(t, p.Badges[0].ClearURL)
	assert.Empty(t, tags.IncludeTags)
	assert.Equal(t, "this-week", tags.SpecialFilter)
	assert.Equal(t, []int{5, 0}, tags.DaysOfWeek)
	assert.Equal(t, 2, tags.Limit)

	dates := follow(t, p.Badges[1].ClearURL)
	assert.Nil(t, dates.StartDate)
	assert.Nil(t, dates.EndDate)
	assert.Equal(t, "this-week", dates.SpecialFilter)

	limit := follow(t, p.Badges[3].ClearURL)
	assert.Zero(t, limit.Limit)
	assert.Equal(t, []string{"improv"}, limit.IncludeTags)

	quick := follow(t, p.Badges[4].ClearURL)
	assert.Empty(t, quick.SpecialFilter)
	assert.Nil(t, quick.StartDate)
	assert.Nil(t, quick.EndDate)
	assert.Equal(t, []string{"improv"}, quick.IncludeTags)
}

func TestWidgetPageBadges(t *testing.T) {
	s, _ := newTestServer(t,
		loaded(t, "plain", attr.Map{"show-filters": "true"}),
		loaded(t, "shows", attr.Map{"show-filters": "true", "exclude-tags": "sketch"}),
	)
	h := s.Handler()

	body := do(t, h, http.MethodGet, "/widgets/plain", nil).Body.String()
	assert.NotContains(t, body, "Active Filters:")

	body = do(t, h, http.MethodGet, "/widgets/shows", nil).Body.String()
	assert.Contains(t, body, "Active Filters:")
	assert.Contains(t, body, "Exclude Tags: sketch")
	assert.Contains(t, body, `href="/widgets/shows?exclude-tags="`)
	assert.Contains(t, body, "Clear All")
}

func TestViewOf(t *testing.T) {
	assert.Equal(t, ViewCalendar, viewOf("calendar"))
	assert.Equal(t, ViewCards, viewOf("cards"))
	assert.Equal(t, ViewCards, viewOf(""))
	assert.Equal(t, ViewCards, viewOf("grid"))
}

func TestListenAndServeStopsOnCancel(t *testing.T) {
	s, cfg := newTestServer(t)
	cfg.Listen = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestPageHandlerSkipsBasicAuth(t *testing.T) {
	s, cfg := newTestServer(t, loaded(t, "shows", attr.Map{}))
	cfg.BasicAuth = &config.BasicAuthConfig{Username: "admin", Password: "secret"}

	assert.Equal(t, http.StatusUnauthorized, do(t, s.Handler(), http.MethodGet, "/widgets/shows", nil).Code)

	rec := do(t, s.PageHandler(), http.MethodGet, "/widgets/shows", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `data-ready="true"`)
}

func TestWidgetPageShareLink(t *testing.T) {
	s, _ := newTestServer(t, loaded(t, "shows", attr.Map{}))

	body := do(t, s.Handler(), http.MethodGet, "/widgets/shows?utm_source=mail&limit=1&special-filter=bogus", nil).Body.String()
	assert.Contains(t, body, `class="share" href="/widgets/shows?limit=1&amp;special-filter=bogus&amp;utm_source=mail"`)

	body = do(t, s.Handler(), http.MethodGet, "/widgets/shows", nil).Body.String()
	assert.Contains(t, body, `class="share" href="/widgets/shows"`)
}

func TestWidgetPageShareLinkKeepsClearedConfig(t *testing.T) {
	w := loaded(t, "shows", attr.Map{"include-tags": "improv"})
	s, _ := newTestServer(t, w)
	h := s.Handler()

	body := do(t, h, http.MethodGet, "/widgets/shows?include-tags=", nil).Body.String()
	assert.Contains(t, body, `class="share" href="/widgets/shows?include-tags="`)
	assert.Contains(t, body, "Sketch Night")

	// Following the shared link must not bring the configured tag back.
	rec := do(t, h, http.MethodGet, "/api/widgets/shows/events?include-tags=", nil)
	assert.Equal(t, []string{"Sketch Night", "Friday Improv"}, eventTitles(decode[eventsResponse](t, rec)))
}
