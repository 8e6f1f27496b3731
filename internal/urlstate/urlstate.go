// Package urlstate mirrors a filter.State into query parameters and back, so
// a filtered view can be bookmarked or shared.
package urlstate

import (
	"net/url"
	"strconv"
	"strings"

	"showfilter/internal/attr"
	"showfilter/internal/filter"
	"showfilter/internal/model"
)

// Query parameter names.
const (
	ParamIncludeTags   = "include-tags"
	ParamExcludeTags   = "exclude-tags"
	ParamTagMatch      = "tag-match"
	ParamStartDate     = "start-date"
	ParamEndDate       = "end-date"
	ParamDaysOfWeek    = "days-of-week"
	ParamLimit         = "limit"
	ParamSpecialFilter = "special-filter"
)

// Params lists every parameter the codec owns, in encoding order.
var Params = []string{
	ParamIncludeTags, ParamExcludeTags, ParamTagMatch, ParamStartDate,
	ParamEndDate, ParamDaysOfWeek, ParamLimit, ParamSpecialFilter,
}

// Encode returns the minimal parameter set for st: anything equal to its
// default is left out. Lists keep the state's order.
func Encode(st filter.State) url.Values {
	q := url.Values{}

	if len(st.IncludeTags) > 0 {
		q.Set(ParamIncludeTags, strings.Join(st.IncludeTags, ","))
	}
	if len(st.ExcludeTags) > 0 {
		q.Set(ParamExcludeTags, strings.Join(st.ExcludeTags, ","))
	}
	if st.TagMatch != "" && st.TagMatch != filter.MatchAny {
		q.Set(ParamTagMatch, string(st.TagMatch))
	}
	if st.StartDate != nil {
		q.Set(ParamStartDate, st.StartDate.String())
	}
	if st.EndDate != nil {
		q.Set(ParamEndDate, st.EndDate.String())
	}
	if len(st.DaysOfWeek) > 0 {
		days := make([]string, len(st.DaysOfWeek))
		for i, d := range st.DaysOfWeek {
			days[i] = strconv.Itoa(d)
		}
		q.Set(ParamDaysOfWeek, strings.Join(days, ","))
	}
	if st.Limit > 0 {
		q.Set(ParamLimit, strconv.Itoa(st.Limit))
	}
	if st.SpecialFilter != "" {
		q.Set(ParamSpecialFilter, st.SpecialFilter)
	}

	return q
}

// EncodeFull sets every parameter, defaults included, so the result fully
// determines the state when overlaid on any other.
func EncodeFull(st filter.State) url.Values {
	q := Encode(st)
	defaults := map[string]string{
		ParamTagMatch: string(filter.MatchAny),
		ParamLimit:    "0",
	}
	for _, p := range Params {
		if !q.Has(p) {
			q.Set(p, defaults[p])
		}
	}
	return q
}

// Query is Encode rendered as a query string.
func Query(st filter.State) string {
	return Encode(st).Encode()
}

// Merge replaces the codec's parameters in q with those for st and keeps
// every unrelated parameter. The result is meant to be overlaid on base: a
// field at its default in st but set in base is spelled out so it stays
// cleared, everything else is left minimal.
func Merge(q url.Values, st, base filter.State) url.Values {
	out := url.Values{}
	for k, v := range q {
		out[k] = append([]string(nil), v...)
	}
	for _, p := range Params {
		out.Del(p)
	}

	enc, full, from := Encode(st), EncodeFull(st), Encode(base)
	for _, p := range Params {
		if !enc.Has(p) && from.Has(p) {
			enc.Set(p, full.Get(p))
		}
	}
	for k, v := range enc {
		out[k] = v
	}
	return out
}

// Partial is a decoded query: the values found plus which parameters were
// present at all.
type Partial struct {
	state   filter.State
	present map[string]bool
}

// Decode reads q leniently. An unparseable limit becomes 0, days outside
// 0..6 are dropped, unparseable dates and unknown tag-match values are
// ignored. An empty date is present and clears that bound. Nothing here
// fails.
func Decode(q url.Values) Partial {
	p := Partial{state: filter.New(), present: map[string]bool{}}

	if q.Has(ParamIncludeTags) {
		p.present[ParamIncludeTags] = true
		p.state.IncludeTags = attr.ParseCommaSeparated(q.Get(ParamIncludeTags))
	}
	if q.Has(ParamExcludeTags) {
		p.present[ParamExcludeTags] = true
		p.state.ExcludeTags = attr.ParseCommaSeparated(q.Get(ParamExcludeTags))
	}
	if q.Has(ParamTagMatch) {
		if m, err := filter.ParseTagMatch(strings.TrimSpace(q.Get(ParamTagMatch))); err == nil {
			p.present[ParamTagMatch] = true
			p.state.TagMatch = m
		}
	}
	if q.Has(ParamStartDate) {
		if d, ok := decodeDate(q.Get(ParamStartDate)); ok {
			p.present[ParamStartDate] = true
			p.state.StartDate = d
		}
	}
	if q.Has(ParamEndDate) {
		if d, ok := decodeDate(q.Get(ParamEndDate)); ok {
			p.present[ParamEndDate] = true
			p.state.EndDate = d
		}
	}
	if q.Has(ParamDaysOfWeek) {
		p.present[ParamDaysOfWeek] = true
		p.state.DaysOfWeek = ParseDays(q.Get(ParamDaysOfWeek))
	}
	if q.Has(ParamLimit) {
		p.present[ParamLimit] = true
		p.state.Limit = ParseLimit(q.Get(ParamLimit))
	}
	if q.Has(ParamSpecialFilter) {
		p.present[ParamSpecialFilter] = true
		p.state.SpecialFilter = strings.TrimSpace(q.Get(ParamSpecialFilter))
	}

	return p
}

// decodeDate reports ok for a valid date or an empty value (nil).
func decodeDate(v string) (*model.Date, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, true
	}
	d, err := model.ParseDate(v)
	if err != nil {
		return nil, false
	}
	return &d, true
}

// DecodeState decodes q onto the default state.
func DecodeState(q url.Values) filter.State {
	return Decode(q).State()
}

// Has reports whether param was present and usable.
func (p Partial) Has(param string) bool {
	return p.present[param]
}

// Empty reports whether no codec parameter was usable.
func (p Partial) Empty() bool {
	return len(p.present) == 0
}

// State returns the default state with the decoded values applied.
func (p Partial) State() filter.State {
	return p.state.Clone()
}

// Overlay writes the present values onto st and leaves the rest alone.
func (p Partial) Overlay(st *filter.State) {
	src := p.state.Clone()
	if p.Has(ParamIncludeTags) {
		st.IncludeTags = src.IncludeTags
	}
	if p.Has(ParamExcludeTags) {
		st.ExcludeTags = src.ExcludeTags
	}
	if p.Has(ParamTagMatch) {
		st.TagMatch = src.TagMatch
	}
	if p.Has(ParamStartDate) {
		st.StartDate = src.StartDate
	}
	if p.Has(ParamEndDate) {
		st.EndDate = src.EndDate
	}
	if p.Has(ParamDaysOfWeek) {
		st.DaysOfWeek = src.DaysOfWeek
	}
	if p.Has(ParamLimit) {
		st.Limit = src.Limit
	}
	if p.Has(ParamSpecialFilter) {
		st.SpecialFilter = src.SpecialFilter
	}
}

// ParseDays keeps the integer tokens in 0..6 and silently drops the rest.
func ParseDays(value string) []int {
	var out []int
	for _, tok := range attr.ParseCommaSeparated(value) {
		n, err := strconv.Atoi(tok)
		if err != nil || n < 0 || n > 6 {
			continue
		}
		out = append(out, n)
	}
	return out
}

// ParseLimit coerces value to a non-negative integer, 0 when unusable.
func ParseLimit(value string) int {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || n < 0 {
		return 0
	}
	return n
}
