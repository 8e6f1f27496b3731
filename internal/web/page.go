package web

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"showfilter/internal/attr"
	"showfilter/internal/filter"
	appLog "showfilter/internal/log"
	"showfilter/internal/model"
	"showfilter/internal/urlstate"
	"showfilter/internal/widget"
	"showfilter/internal/window"
)

// View names understood by the page renderer.
const (
	ViewCards    = attr.ViewCards
	ViewCalendar = attr.ViewCalendar
)

//go:embed templates/*.html
var templateFS embed.FS

var pages = template.Must(template.New("").ParseFS(templateFS, "templates/*.html"))

var dayLabels = [7]string{"Sun", "Mon", "Tue", "Wed", "Thu", "Fri", "Sat"}

var quickLabels = map[string]string{
	window.ThisWeek:    "This Week",
	window.NextWeek:    "Next Week",
	window.ThisWeekend: "This Weekend",
	window.NextWeekend: "Next Weekend",
	window.Next7Days:   "Next 7 Days",
	window.Next30Days:  "Next 30 Days",
}

// resetQuery spells out every default so it overrides the widget's
// configured state.
var resetQuery = urlstate.EncodeFull(filter.New()).Encode()

type indexData struct {
	Widgets []indexItem
}

type indexItem struct {
	widgetSummary
	URL string
}

type pageData struct {
	Name    string
	Theatre string
	View    string
	Ready   bool
	Failed  bool
	Message string

	Cards []cardView

	// Calendar view: a month of whole weeks.
	Month    string
	StartDOW int
	Weekdays []string
	Weeks    []weekView

	ShowFilters bool
	ShowTags    bool
	Panel       panelView

	Query    string
	ShareURL string
	ICSURL   string
}

type cardView struct {
	Title       string
	When        string
	Time        string
	Grouped     string
	Cost        string
	Image       string
	URL         string
	Description string
	Type        string
	Tags        []string
}

type weekView struct {
	Days []dayView
}

type dayView struct {
	Date    string
	Label   string
	Day     int
	Outside bool
	Today   bool
	Events  []cardView
}

type panelView struct {
	Action      string
	Tags        []option
	TagMatchAll bool
	StartDate   string
	EndDate     string
	Days        []option
	Limit       string
	Quick       []quickLink
	Badges      []badge
	ResetURL    string
}

// badge is one active filter with a link that clears it.
type badge struct {
	Label    string
	ClearURL string
}

type option struct {
	Value   string
	Label   string
	Checked bool
}

type quickLink struct {
	Label  string
	URL    string
	Active bool
}

func viewOf(v string) string {
	if v == ViewCalendar {
		return ViewCalendar
	}
	return ViewCards
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	var data indexData
	for _, sum := range s.summaries() {
		u := "/widgets/" + url.PathEscape(sum.Name)
		if sum.Query != "" {
			u += "?" + sum.Query
		}
		data.Widgets = append(data.Widgets, indexItem{widgetSummary: sum, URL: u})
	}
	render(w, "index", data)
}

// GET /widgets/{name}?<filter params>
//
// The root element carries data-ready="true" once events have been loaded
// (successfully or not), which is what the snapshot capture waits for.
func (s *Server) handlePage(w http.ResponseWriter, r *http.Request, wd *widget.Widget) {
	st, q := s.requestState(r, wd)
	res := wd.EventsFor(st)
	cfg := wd.Config()
	loc := s.location()
	base := "/widgets/" + url.PathEscape(wd.Name())

	data := pageData{
		Name:        wd.Name(),
		Theatre:     cfg.Theatre,
		View:        viewOf(cfg.View),
		Ready:       res.Status.Loaded,
		Failed:      res.Status.Err != nil,
		Message:     message(res),
		ShowFilters: cfg.ShowFilters,
		ShowTags:    cfg.ShowTags,
		Query:       urlstate.Query(res.State),
		// The feed link pins the full state so it survives config changes.
		ICSURL: base + "/calendar.ics?" + urlstate.EncodeFull(res.State).Encode(),
	}

	// Share links keep unrelated params (tracking, cache) from the request
	// and pin any configured field the visitor cleared.
	data.ShareURL = base
	if share := urlstate.Merge(r.URL.Query(), res.State, wd.FilterState()).Encode(); share != "" {
		data.ShareURL += "?" + share
	}

	cards := make([]cardView, 0, len(res.Events))
	for _, e := range res.Events {
		cards = append(cards, toCard(e, loc))
	}
	if data.View == ViewCalendar {
		today := s.now().In(loc)
		month := cfg.CalendarMonth(today)
		data.Month = month.In(time.UTC).Format("January 2006")
		data.StartDOW = int(cfg.StartDOW)
		for i := range 7 {
			data.Weekdays = append(data.Weekdays, dayLabels[(int(cfg.StartDOW)+i)%7])
		}
		data.Weeks = calendarWeeks(cfg.CalendarGrid(today), month.Month, model.DateOf(today), res.Events, cards, loc)
	} else {
		data.Cards = cards
	}

	if cfg.ShowFilters {
		data.Panel = buildPanel(base, q, res.State, wd.FilterState(), wd.Tags())
	}

	render(w, "widget", data)
}

func render(w http.ResponseWriter, name string, data any) {
	var buf bytes.Buffer
	if err := pages.ExecuteTemplate(&buf, name, data); err != nil {
		appLog.Error("template render failed", err, "template", name)
		http.Error(w, "render failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func toCard(e model.Event, loc *time.Location) cardView {
	c := cardView{
		Title:       e.Title,
		Cost:        e.Cost,
		Image:       e.Image,
		URL:         e.URL,
		Description: e.Description,
		Type:        string(e.Type),
		Tags:        e.Tags,
	}
	if e.Start.IsZero() {
		c.When = "No upcoming date"
	} else {
		t := e.Start.In(loc)
		c.When = t.Format("Monday, Jan 2, 2006") + " @ " + t.Format("3:04 PM")
		c.Time = t.Format("3:04 PM")
	}
	if e.GroupedDates.Grouped {
		c.Grouped = e.GroupedDates.Message
	}
	return c
}

// calendarWeeks lays the grid out in rows of seven days and files each card
// under its event's day. Events outside the grid are not shown.
func calendarWeeks(grid window.Window, month time.Month, today model.Date, events []model.Event, cards []cardView, loc *time.Location) []weekView {
	byDay := map[model.Date][]cardView{}
	for i, e := range events {
		if e.Start.IsZero() {
			continue
		}
		d := model.DateOf(e.Start.In(loc))
		byDay[d] = append(byDay[d], cards[i])
	}

	var weeks []weekView
	for d := grid.Start; !d.After(grid.End); d = d.AddDays(1) {
		if len(weeks) == 0 || len(weeks[len(weeks)-1].Days) == 7 {
			weeks = append(weeks, weekView{})
		}
		wk := &weeks[len(weeks)-1]
		wk.Days = append(wk.Days, dayView{
			Date:    d.String(),
			Label:   d.In(time.UTC).Format("Monday, January 2"),
			Day:     d.Day,
			Outside: d.Month != month,
			Today:   d == today,
			Events:  byDay[d],
		})
	}
	return weeks
}

// buildPanel fills the filter form for st. live is the widget's own state,
// which the panel's links are overlaid on.
func buildPanel(base string, q url.Values, st, live filter.State, tags []string) panelView {
	p := panelView{
		Action:      base,
		TagMatchAll: st.TagMatch == filter.MatchAll,
		Badges:      activeBadges(base, q, st, live),
		ResetURL:    base + "?" + resetQuery,
	}
	if st.StartDate != nil {
		p.StartDate = st.StartDate.String()
	}
	if st.EndDate != nil {
		p.EndDate = st.EndDate.String()
	}
	if st.Limit > 0 {
		p.Limit = strconv.Itoa(st.Limit)
	}

	all := slices.Clone(tags)
	for _, t := range st.IncludeTags {
		if !slices.Contains(all, t) {
			all = append(all, t)
		}
	}
	slices.Sort(all)
	for _, t := range all {
		p.Tags = append(p.Tags, option{Value: t, Label: t, Checked: slices.Contains(st.IncludeTags, t)})
	}

	for d, label := range dayLabels {
		p.Days = append(p.Days, option{
			Value:   strconv.Itoa(d),
			Label:   label,
			Checked: slices.Contains(st.DaysOfWeek, d),
		})
	}

	for _, name := range window.Names() {
		link := url.Values{}
		for k, v := range q {
			link[k] = slices.Clone(v)
		}
		link.Set(urlstate.ParamSpecialFilter, name)
		link.Del(urlstate.ParamStartDate)
		link.Del(urlstate.ParamEndDate)
		p.Quick = append(p.Quick, quickLink{
			Label:  quickLabels[name],
			URL:    base + "?" + link.Encode(),
			Active: st.SpecialFilter == name,
		})
	}

	return p
}

// activeBadges lists the filters in effect. Each clear link keeps the rest
// of the view; clearing the quick filter also drops the dates it set.
func activeBadges(base string, q url.Values, st, live filter.State) []badge {
	without := func(f func(*filter.State)) string {
		c := st.Clone()
		f(&c)
		if enc := urlstate.Merge(q, c, live).Encode(); enc != "" {
			return base + "?" + enc
		}
		return base
	}

	var out []badge
	if len(st.IncludeTags) > 0 {
		match := st.TagMatch
		if match == "" {
			match = filter.MatchAny
		}
		out = append(out, badge{
			Label:    fmt.Sprintf("Tags (%s): %s", match, strings.Join(st.IncludeTags, ", ")),
			ClearURL: without(func(c *filter.State) { c.IncludeTags = nil }),
		})
	}
	if len(st.ExcludeTags) > 0 {
		out = append(out, badge{
			Label:    "Exclude Tags: " + strings.Join(st.ExcludeTags, ", "),
			ClearURL: without(func(c *filter.State) { c.ExcludeTags = nil }),
		})
	}
	if st.StartDate != nil || st.EndDate != nil {
		start, end := "Any", "Any"
		if st.StartDate != nil {
			start = st.StartDate.String()
		}
		if st.EndDate != nil {
			end = st.EndDate.String()
		}
		out = append(out, badge{
			Label:    "Date: " + start + " to " + end,
			ClearURL: without(func(c *filter.State) { c.StartDate, c.EndDate = nil, nil }),
		})
	}
	if len(st.DaysOfWeek) > 0 {
		names := make([]string, 0, len(st.DaysOfWeek))
		for _, d := range st.DaysOfWeek {
			names = append(names, dayLabels[d])
		}
		out = append(out, badge{
			Label:    "Days: " + strings.Join(names, ", "),
			ClearURL: without(func(c *filter.State) { c.DaysOfWeek = nil }),
		})
	}
	if st.Limit > 0 {
		out = append(out, badge{
			Label:    "Limit: " + strconv.Itoa(st.Limit),
			ClearURL: without(func(c *filter.State) { c.Limit = 0 }),
		})
	}
	if st.SpecialFilter != "" {
		out = append(out, badge{
			Label: "Quick Filter: " + strings.ReplaceAll(st.SpecialFilter, "-", " "),
			ClearURL: without(func(c *filter.State) {
				c.SpecialFilter = ""
				c.StartDate, c.EndDate = nil, nil
			}),
		})
	}
	return out
}
