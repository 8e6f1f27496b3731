package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"showfilter/internal/config"
	"showfilter/internal/filter"
	"showfilter/internal/ics"
	appLog "showfilter/internal/log"
	"showfilter/internal/model"
	"showfilter/internal/urlstate"
	"showfilter/internal/widget"
	"showfilter/internal/window"
)

// icsCacheTTL bounds how long a rendered feed is reused for the same widget
// and query. A refresh of the widget invalidates it earlier.
const icsCacheTTL = 30 * time.Second

// icsCacheMax caps the number of cached feeds; every distinct query is a key.
const icsCacheMax = 64

// Server serves the widgets as JSON, HTML pages and iCalendar feeds.
type Server struct {
	cfg     *config.Config
	debug   bool
	mux     *http.ServeMux
	widgets map[string]*widget.Widget
	names   []string
	now     func() time.Time

	icsMu    sync.RWMutex
	icsCache map[string]icsCacheEntry
}

// icsCacheEntry holds a rendered feed and when it was built.
type icsCacheEntry struct {
	widget    string
	body      []byte
	loadedAt  time.Time
	updatedAt time.Time
}

// NewServer constructs a Server for the given widgets, addressed by name.
func NewServer(cfg *config.Config, widgets []*widget.Widget, debug bool) *Server {
	s := &Server{
		cfg:      cfg,
		debug:    debug,
		mux:      http.NewServeMux(),
		widgets:  make(map[string]*widget.Widget, len(widgets)),
		now:      time.Now,
		icsCache: map[string]icsCacheEntry{},
	}
	for _, w := range widgets {
		s.widgets[w.Name()] = w
		s.names = append(s.names, w.Name())
	}
	s.registerRoutes()
	return s
}

// Handler returns the root handler, wrapped with basic auth when configured.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty username or password counts as disabled.
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="showfilter", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// PageHandler returns the routes without basic auth. It is only served on
// a private loopback listener, e.g. for snapshot capture.
func (s *Server) PageHandler() http.Handler {
	return s.mux
}

// ListenAndServe serves on cfg.Listen until ctx is canceled, then shuts
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return err
	}
	appLog.Info("starting HTTP server", "listen", "http://"+ln.Addr().String(), "debug", s.debug)
	return s.Serve(ctx, ln, s.Handler())
}

// Serve serves h on ln until ctx is canceled. The listener is already
// accepting connections when Serve is called.
func (s *Server) Serve(ctx context.Context, ln net.Listener, h http.Handler) error {
	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(appLog.Logger().Handler(), slog.LevelError),
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /{$}", s.handleIndex)

	s.mux.HandleFunc("GET /api/widgets", s.handleWidgets)
	s.mux.HandleFunc("GET /api/widgets/{name}/events", s.withWidget(s.handleEvents))
	s.mux.HandleFunc("GET /api/widgets/{name}/state", s.withWidget(s.handleGetState))
	s.mux.HandleFunc("POST /api/widgets/{name}/state", s.withWidget(s.handlePostState))
	s.mux.HandleFunc("POST /api/widgets/{name}/refresh", s.withWidget(s.handleRefresh))

	s.mux.HandleFunc("GET /widgets/{name}", s.withWidget(s.handlePage))
	s.mux.HandleFunc("GET /widgets/{name}/calendar.ics", s.withWidget(s.handleICS))
}

type widgetHandler func(w http.ResponseWriter, r *http.Request, wd *widget.Widget)

// withWidget resolves the {name} path value or answers 404.
func (s *Server) withWidget(h widgetHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wd, ok := s.widgets[r.PathValue("name")]
		if !ok {
			writeError(w, http.StatusNotFound, "unknown widget")
			return
		}
		h(w, r, wd)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// widgetSummary is the JSON shape for GET /api/widgets.
type widgetSummary struct {
	Name         string          `json:"name"`
	Theatre      string          `json:"theatre"`
	Type         model.EventType `json:"type"`
	View         string          `json:"view"`
	CombinedView bool            `json:"combined_view"`
	Query        string          `json:"query"`
	Status       statusDTO       `json:"status"`
}

func (s *Server) summaries() []widgetSummary {
	out := make([]widgetSummary, 0, len(s.names))
	for _, name := range s.names {
		wd := s.widgets[name]
		cfg := wd.Config()
		out = append(out, widgetSummary{
			Name:         name,
			Theatre:      cfg.Theatre,
			Type:         cfg.Type,
			View:         viewOf(cfg.View),
			CombinedView: cfg.CombinedView,
			Query:        wd.Query(),
			Status:       toStatusDTO(wd.Status()),
		})
	}
	return out
}

func (s *Server) handleWidgets(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.summaries())
}

// requestState overlays the request's query on the widget's live state
// without changing it. A special filter in the query resolves to its window
// unless the query also names explicit dates.
func (s *Server) requestState(r *http.Request, wd *widget.Widget) (filter.State, url.Values) {
	q := joinRepeated(r.URL.Query())

	st := wd.FilterState()
	p := urlstate.Decode(q)
	if p.Empty() {
		return st, q
	}
	p.Overlay(&st)

	if p.Has(urlstate.ParamSpecialFilter) && !p.Has(urlstate.ParamStartDate) && !p.Has(urlstate.ParamEndDate) {
		today := s.now().In(s.location())
		if win, ok := window.Resolve(st.SpecialFilter, today); ok {
			st.SetDates(win.Start, win.End)
		}
	}

	return st, q
}

// joinRepeated folds repeated keys (checkbox groups) into one
// comma-separated value.
func joinRepeated(q url.Values) url.Values {
	out := make(url.Values, len(q))
	for k, vs := range q {
		out.Set(k, strings.Join(vs, ","))
	}
	return out
}

func (s *Server) location() *time.Location {
	if s.cfg == nil {
		return time.Local
	}
	return s.cfg.Location()
}

// GET /api/widgets/{name}/events?<filter params>
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request, wd *widget.Widget) {
	st, _ := s.requestState(r, wd)
	res := wd.EventsFor(st)

	writeJSON(w, http.StatusOK, eventsResponse{
		Widget:  wd.Name(),
		State:   toStateDTO(res.State),
		Query:   urlstate.Query(res.State),
		Events:  toEventDTOs(res.Events),
		Total:   res.Total,
		Status:  toStatusDTO(res.Status),
		Message: message(res),
	})
}

// GET /api/widgets/{name}/state
func (s *Server) handleGetState(w http.ResponseWriter, _ *http.Request, wd *widget.Widget) {
	st := wd.FilterState()
	writeJSON(w, http.StatusOK, stateResponse{
		State: toStateDTO(st),
		Query: urlstate.Query(st),
	})
}

// POST /api/widgets/{name}/state
//
// Form values:
//   - field=<url param>&value=<text>: set one field
//   - action=reset: reset every field to its default
//   - action=quick&name=<quick filter>: apply a quick filter
func (s *Server) handlePostState(w http.ResponseWriter, r *http.Request, wd *widget.Widget) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form")
		return
	}

	switch action := r.PostForm.Get("action"); action {
	case "reset":
		wd.ResetFilters()
	case "quick":
		wd.ApplyQuickFilter(r.PostForm.Get("name"))
	case "", "set":
		field := r.PostForm.Get("field")
		if field == "" {
			writeError(w, http.StatusBadRequest, "field is required")
			return
		}
		if err := wd.SetFilter(field, r.PostForm.Get("value")); err != nil {
			if errors.Is(err, widget.ErrInvalidFilter) {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			appLog.Error("set filter failed", err, "widget", wd.Name(), "field", field)
			writeError(w, http.StatusInternalServerError, "failed to set filter")
			return
		}
	default:
		writeError(w, http.StatusBadRequest, "unknown action "+action)
		return
	}

	appLog.Debug("widget state changed", "widget", wd.Name(), "query", wd.Query())
	s.handleGetState(w, r, wd)
}

// POST /api/widgets/{name}/refresh
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request, wd *widget.Widget) {
	err := wd.Refresh(r.Context())
	if err != nil && !errors.Is(err, widget.ErrSuperseded) {
		writeJSON(w, http.StatusBadGateway, toStatusDTO(wd.Status()))
		return
	}
	writeJSON(w, http.StatusOK, toStatusDTO(wd.Status()))
}

// GET /widgets/{name}/calendar.ics?<filter params>
func (s *Server) handleICS(w http.ResponseWriter, r *http.Request, wd *widget.Widget) {
	st, _ := s.requestState(r, wd)
	status := wd.Status()
	key := wd.Name() + "?" + urlstate.Query(st)
	now := s.now()

	s.icsMu.RLock()
	ce, ok := s.icsCache[key]
	s.icsMu.RUnlock()
	if ok && now.Sub(ce.loadedAt) < icsCacheTTL && ce.updatedAt.Equal(status.UpdatedAt) {
		writeICS(w, ce.body)
		return
	}

	res := wd.EventsFor(st)
	dur := ics.DefaultDuration
	if s.cfg != nil {
		dur = s.cfg.EventDuration()
	}
	body := ics.Export(res.Events, ics.ExportOptions{
		Name:     wd.Name(),
		Duration: dur,
		Now:      now,
	})

	s.storeICS(key, icsCacheEntry{widget: wd.Name(), body: body, loadedAt: now, updatedAt: status.UpdatedAt})
	writeICS(w, body)
}

// storeICS inserts e after dropping expired entries, entries built before
// the widget's latest refresh and, when still full, the oldest entry.
func (s *Server) storeICS(key string, e icsCacheEntry) {
	s.icsMu.Lock()
	defer s.icsMu.Unlock()

	for k, old := range s.icsCache {
		if e.loadedAt.Sub(old.loadedAt) >= icsCacheTTL ||
			(old.widget == e.widget && !old.updatedAt.Equal(e.updatedAt)) {
			delete(s.icsCache, k)
		}
	}

	for len(s.icsCache) >= icsCacheMax {
		oldest := ""
		for k, old := range s.icsCache {
			if oldest == "" || old.loadedAt.Before(s.icsCache[oldest].loadedAt) {
				oldest = k
			}
		}
		delete(s.icsCache, oldest)
	}

	s.icsCache[key] = e
}

func writeICS(w http.ResponseWriter, body []byte) {
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// message is the user-facing note shown instead of (or above) results.
func message(res widget.Result) string {
	switch {
	case res.Status.Err != nil && len(res.Events) == 0:
		return "Unable to load events right now. Please try again later."
	case res.Status.Loading && !res.Status.Loaded:
		return "Loading events..."
	case len(res.Events) == 0:
		return "No events found matching your criteria."
	}
	return ""
}

// eventsResponse is the JSON shape for the events endpoint.
type eventsResponse struct {
	Widget  string     `json:"widget"`
	State   stateDTO   `json:"state"`
	Query   string     `json:"query"`
	Events  []eventDTO `json:"events"`
	Total   int        `json:"total"`
	Status  statusDTO  `json:"status"`
	Message string     `json:"message,omitempty"`
}

type stateResponse struct {
	State stateDTO `json:"state"`
	Query string   `json:"query"`
}

// stateDTO is a JSON-friendly view of filter.State.
type stateDTO struct {
	IncludeTags   []string `json:"include_tags"`
	ExcludeTags   []string `json:"exclude_tags"`
	TagMatch      string   `json:"tag_match"`
	StartDate     string   `json:"start_date,omitempty"`
	EndDate       string   `json:"end_date,omitempty"`
	DaysOfWeek    []int    `json:"days_of_week"`
	Limit         int      `json:"limit"`
	SpecialFilter string   `json:"special_filter,omitempty"`
}

type statusDTO struct {
	Loading   bool       `json:"loading"`
	Loaded    bool       `json:"loaded"`
	Error     string     `json:"error,omitempty"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// eventDTO keeps the field names of the upstream event shape.
type eventDTO struct {
	Title        string             `json:"title"`
	Start        time.Time          `json:"start"`
	Tags         []string           `json:"tags"`
	Type         model.EventType    `json:"type"`
	Description  string             `json:"description"`
	Image        string             `json:"img,omitempty"`
	Cost         string             `json:"cost,omitempty"`
	URL          string             `json:"show_url,omitempty"`
	NextDate     string             `json:"next_date,omitempty"`
	GroupedDates model.GroupedDates `json:"grouped_dates"`
}

func toStateDTO(st filter.State) stateDTO {
	out := stateDTO{
		IncludeTags:   orEmpty(st.IncludeTags),
		ExcludeTags:   orEmpty(st.ExcludeTags),
		TagMatch:      string(st.TagMatch),
		DaysOfWeek:    orEmpty(st.DaysOfWeek),
		Limit:         st.Limit,
		SpecialFilter: st.SpecialFilter,
	}
	if out.TagMatch == "" {
		out.TagMatch = string(filter.MatchAny)
	}
	if st.StartDate != nil {
		out.StartDate = st.StartDate.String()
	}
	if st.EndDate != nil {
		out.EndDate = st.EndDate.String()
	}
	return out
}

func toStatusDTO(st widget.Status) statusDTO {
	out := statusDTO{
		Loading: st.Loading,
		Loaded:  st.Loaded,
		Error:   st.Error(),
	}
	if !st.UpdatedAt.IsZero() {
		t := st.UpdatedAt
		out.UpdatedAt = &t
	}
	return out
}

func toEventDTOs(events []model.Event) []eventDTO {
	out := make([]eventDTO, 0, len(events))
	for _, e := range events {
		out = append(out, eventDTO{
			Title:        e.Title,
			Start:        e.Start,
			Tags:         orEmpty(e.Tags),
			Type:         e.Type,
			Description:  e.Description,
			Image:        e.Image,
			Cost:         e.Cost,
			URL:          e.URL,
			NextDate:     e.NextDate,
			GroupedDates: e.GroupedDates,
		})
	}
	return out
}

// orEmpty keeps JSON arrays as [] rather than null.
func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return slices.Clone(s)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
