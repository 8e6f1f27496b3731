package urlstate

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"showfilter/internal/filter"
	"showfilter/internal/model"
)

func date(s string) *model.Date {
	d, err := model.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return &d
}

func TestEncodeDefaultIsEmpty(t *testing.T) {
	assert.Empty(t, Encode(filter.New()))
	assert.Empty(t, Query(filter.State{}))
}

func TestEncodeAllFields(t *testing.T) {
	st := filter.State{
		IncludeTags:   []string{"improv", "comedy"},
		ExcludeTags:   []string{"sold-out"},
		TagMatch:      filter.MatchAll,
		StartDate:     date("2025-04-14"),
		EndDate:       date("2025-04-20"),
		DaysOfWeek:    []int{6, 0},
		Limit:         10,
		SpecialFilter: "this-week",
	}

	q := Encode(st)

	assert.Equal(t, "improv,comedy", q.Get(ParamIncludeTags))
	assert.Equal(t, "sold-out", q.Get(ParamExcludeTags))
	assert.Equal(t, "all", q.Get(ParamTagMatch))
	assert.Equal(t, "2025-04-14", q.Get(ParamStartDate))
	assert.Equal(t, "2025-04-20", q.Get(ParamEndDate))
	assert.Equal(t, "6,0", q.Get(ParamDaysOfWeek))
	assert.Equal(t, "10", q.Get(ParamLimit))
	assert.Equal(t, "this-week", q.Get(ParamSpecialFilter))
}

func TestEncodeOmitsDefaults(t *testing.T) {
	st := filter.New()
	st.IncludeTags = []string{"comedy"}
	st.TagMatch = filter.MatchAny

	q := Encode(st)

	assert.Equal(t, url.Values{ParamIncludeTags: {"comedy"}}, q)
}

func TestRoundTrip(t *testing.T) {
	states := []filter.State{
		filter.New(),
		{TagMatch: filter.MatchAny, IncludeTags: []string{"a", "b c"}},
		{TagMatch: filter.MatchAll, IncludeTags: []string{"x"}, ExcludeTags: []string{"y", "z"}},
		{TagMatch: filter.MatchAny, StartDate: date("2025-04-01")},
		{TagMatch: filter.MatchAny, EndDate: date("2025-12-31")},
		{TagMatch: filter.MatchAny, DaysOfWeek: []int{3, 1, 0}, Limit: 7},
		{
			TagMatch:      filter.MatchAny,
			StartDate:     date("2025-04-19"),
			EndDate:       date("2025-04-20"),
			SpecialFilter: "next-weekend",
		},
	}

	for _, st := range states {
		got := DecodeState(Encode(st))
		assert.True(t, got.Equal(st), "state %+v decoded as %+v", st, got)

		// And through an actual query string.
		q, err := url.ParseQuery(Query(st))
		require.NoError(t, err)
		assert.True(t, DecodeState(q).Equal(st))
	}
}

func TestDecodeLenient(t *testing.T) {
	q := url.Values{
		ParamLimit:      {"lots"},
		ParamDaysOfWeek: {"1, 9,-1,x,6"},
		ParamTagMatch:   {"most"},
		ParamStartDate:  {"not-a-date"},
		ParamEndDate:    {"2025-04-30"},
	}

	p := Decode(q)
	st := p.State()

	assert.Equal(t, 0, st.Limit)
	assert.Equal(t, []int{1, 6}, st.DaysOfWeek)
	assert.Equal(t, filter.MatchAny, st.TagMatch)
	assert.Nil(t, st.StartDate)
	require.NotNil(t, st.EndDate)
	assert.Equal(t, "2025-04-30", st.EndDate.String())

	assert.True(t, p.Has(ParamLimit))
	assert.False(t, p.Has(ParamTagMatch))
	assert.False(t, p.Has(ParamStartDate))
	assert.False(t, p.Empty())
}

func TestDecodeNegativeLimit(t *testing.T) {
	st := DecodeState(url.Values{ParamLimit: {"-4"}})
	assert.Equal(t, 0, st.Limit)
}

func TestOverlayOnlyTouchesPresent(t *testing.T) {
	base := filter.New()
	base.IncludeTags = []string{"comedy"}
	base.Limit = 5
	base.StartDate = date("2025-04-01")

	p := Decode(url.Values{ParamLimit: {"2"}, ParamExcludeTags: {"kids"}})
	p.Overlay(&base)

	assert.Equal(t, []string{"comedy"}, base.IncludeTags)
	assert.Equal(t, []string{"kids"}, base.ExcludeTags)
	assert.Equal(t, 2, base.Limit)
	assert.Equal(t, "2025-04-01", base.StartDate.String())
}

func TestOverlayEmptyListClears(t *testing.T) {
	base := filter.New()
	base.IncludeTags = []string{"comedy"}

	Decode(url.Values{ParamIncludeTags: {""}}).Overlay(&base)

	assert.Empty(t, base.IncludeTags)
}

func TestDecodeIgnoresUnrelated(t *testing.T) {
	p := Decode(url.Values{"utm_source": {"newsletter"}})

	assert.True(t, p.Empty())
	assert.True(t, p.State().IsDefault())
}

func TestMergeKeepsUnrelatedParams(t *testing.T) {
	q := url.Values{"utm_source": {"newsletter"}, ParamLimit: {"9"}, ParamSpecialFilter: {"this-week"}}
	st := filter.New()
	st.Limit = 3

	out := Merge(q, st, filter.New())

	assert.Equal(t, "newsletter", out.Get("utm_source"))
	assert.Equal(t, "3", out.Get(ParamLimit))
	assert.False(t, out.Has(ParamSpecialFilter))
	assert.Equal(t, "9", q.Get(ParamLimit))
}

func TestMergeKeepsClearedBaseFields(t *testing.T) {
	base := filter.New()
	base.IncludeTags = []string{"comedy"}
	base.TagMatch = filter.MatchAll
	base.StartDate = date("2025-04-01")

	st := base.Clone()
	st.IncludeTags = nil
	st.TagMatch = filter.MatchAny
	st.StartDate = nil
	st.Limit = 2

	out := Merge(url.Values{}, st, base)

	assert.Equal(t, url.Values{
		ParamIncludeTags: {""},
		ParamTagMatch:    {"any"},
		ParamStartDate:   {""},
		ParamLimit:       {"2"},
	}, out)

	got := base.Clone()
	Decode(out).Overlay(&got)
	assert.True(t, st.Equal(got), "got %+v", got)
}

func TestDecodeEmptyDateClears(t *testing.T) {
	base := filter.New()
	base.StartDate = date("2025-04-01")
	base.EndDate = date("2025-04-30")

	p := Decode(url.Values{ParamStartDate: {" "}})
	assert.True(t, p.Has(ParamStartDate))
	assert.False(t, p.Has(ParamEndDate))

	p.Overlay(&base)
	assert.Nil(t, base.StartDate)
	assert.Equal(t, "2025-04-30", base.EndDate.String())
}

func TestEncodeFullOverridesEverything(t *testing.T) {
	configured := filter.State{
		IncludeTags:   []string{"comedy"},
		ExcludeTags:   []string{"kids"},
		TagMatch:      filter.MatchAll,
		StartDate:     date("2025-04-01"),
		EndDate:       date("2025-04-30"),
		DaysOfWeek:    []int{5, 6},
		Limit:         4,
		SpecialFilter: "this-week",
	}

	tests := []struct {
		name string
		st   filter.State
	}{
		{"default", filter.New()},
		{"partial", filter.State{TagMatch: filter.MatchAny, IncludeTags: []string{"improv"}, Limit: 2}},
		{"dates only", filter.State{TagMatch: filter.MatchAny, StartDate: date("2025-05-01")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := EncodeFull(tt.st)
			for _, p := range Params {
				assert.True(t, q.Has(p), p)
			}

			got := configured.Clone()
			Decode(q).Overlay(&got)
			assert.True(t, got.Equal(tt.st), "%+v", got)
		})
	}
}
