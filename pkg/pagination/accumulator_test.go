package pagination

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spacetraveling/blog/pkg/post"
)

// fakeSource serves canned pages by locator and records every call.
type fakeSource struct {
	mu    sync.Mutex
	pages map[string]*post.Pagination
	err   error
	calls []string
}

func (f *fakeSource) FetchPage(ctx context.Context, locator string) (*post.Pagination, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, locator)
	if f.err != nil {
		return nil, f.err
	}
	page, ok := f.pages[locator]
	if !ok {
		return nil, errors.New("unknown locator " + locator)
	}
	return page, nil
}

func summary(uid string) post.Summary {
	return post.Summary{UID: uid, Data: post.SummaryData{Title: "Post " + uid}}
}

func uids(items []post.Summary) []string {
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = item.UID
	}
	return out
}

func TestAccumulate_EmptyStateLastPage(t *testing.T) {
	src := &fakeSource{pages: map[string]*post.Pagination{
		"L1": {Results: []post.Summary{summary("A"), summary("B")}, NextPage: ""},
	}}

	got, err := Accumulate(context.Background(), src, PageState{NextPage: "L1"})
	require.NoError(t, err)

	assert.Equal(t, []string{"A", "B"}, uids(got.Items))
	assert.Equal(t, "", got.NextPage)
	assert.False(t, got.HasMore())
	assert.Equal(t, []string{"L1"}, src.calls)
}

func TestAccumulate_AppendsAndPassesLocatorThrough(t *testing.T) {
	src := &fakeSource{pages: map[string]*post.Pagination{
		"L1": {Results: []post.Summary{summary("B")}, NextPage: "L2"},
	}}

	got, err := Accumulate(context.Background(), src, PageState{
		Items:    []post.Summary{summary("A")},
		NextPage: "L1",
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"A", "B"}, uids(got.Items))
	assert.Equal(t, "L2", got.NextPage)
}

func TestAccumulate_NoDeduplication(t *testing.T) {
	src := &fakeSource{pages: map[string]*post.Pagination{
		"L1": {Results: []post.Summary{summary("A")}, NextPage: "L2"},
	}}

	got, err := Accumulate(context.Background(), src, PageState{
		Items:    []post.Summary{summary("A")},
		NextPage: "L1",
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"A", "A"}, uids(got.Items))
}

func TestAccumulate_NotIdempotent(t *testing.T) {
	src := &fakeSource{pages: map[string]*post.Pagination{
		"L1": {Results: []post.Summary{summary("B"), summary("C")}, NextPage: "L2"},
	}}
	start := PageState{Items: []post.Summary{summary("A")}, NextPage: "L1"}

	once, err := Accumulate(context.Background(), src, start)
	require.NoError(t, err)

	// Re-applying the same locator appends the same page again.
	twice, err := Accumulate(context.Background(), src, PageState{Items: once.Items, NextPage: "L1"})
	require.NoError(t, err)

	assert.Equal(t, []string{"A", "B", "C", "B", "C"}, uids(twice.Items))
	assert.Equal(t, []string{"L1", "L1"}, src.calls)
}

func TestAccumulate_DoesNotMutateInput(t *testing.T) {
	src := &fakeSource{pages: map[string]*post.Pagination{
		"L1": {Results: []post.Summary{summary("C")}, NextPage: ""},
	}}

	items := make([]post.Summary, 2, 10) // spare capacity must not be written into
	items[0], items[1] = summary("A"), summary("B")
	start := PageState{Items: items, NextPage: "L1"}

	got, err := Accumulate(context.Background(), src, start)
	require.NoError(t, err)

	assert.Equal(t, []string{"A", "B"}, uids(start.Items))
	assert.Equal(t, "L1", start.NextPage)
	assert.Equal(t, []string{"A", "B", "C"}, uids(got.Items))

	full := items[:3]
	assert.Equal(t, "", full[2].UID, "backing array of input was written")
}

func TestAccumulate_FetchErrorKeepsState(t *testing.T) {
	fetchErr := errors.New("connection refused")
	src := &fakeSource{err: fetchErr}
	start := PageState{Items: []post.Summary{summary("A")}, NextPage: "L1"}

	got, err := Accumulate(context.Background(), src, start)
	require.Error(t, err)

	assert.ErrorIs(t, err, fetchErr)
	assert.Equal(t, start, got)
	assert.Len(t, src.calls, 1, "no retry expected")
}

func TestAccumulate_Exhausted(t *testing.T) {
	src := &fakeSource{}
	start := PageState{Items: []post.Summary{summary("A")}}

	got, err := Accumulate(context.Background(), src, start)

	assert.ErrorIs(t, err, ErrExhausted)
	assert.Equal(t, start, got)
	assert.Empty(t, src.calls)
}

func TestAccumulate_NilSource(t *testing.T) {
	_, err := Accumulate(context.Background(), nil, PageState{NextPage: "L1"})
	assert.ErrorIs(t, err, ErrNilSource)
}

func TestNewPageState(t *testing.T) {
	first := &post.Pagination{Results: []post.Summary{summary("A")}, NextPage: "L2"}

	state := NewPageState(first)
	assert.Equal(t, []string{"A"}, uids(state.Items))
	assert.True(t, state.HasMore())

	state.Items[0].UID = "changed"
	assert.Equal(t, "A", first.Results[0].UID)

	assert.False(t, NewPageState(nil).HasMore())
}

func TestDrain(t *testing.T) {
	src := &fakeSource{pages: map[string]*post.Pagination{
		"L1": {Results: []post.Summary{summary("B")}, NextPage: "L2"},
		"L2": {Results: []post.Summary{summary("C")}, NextPage: "L3"},
		"L3": {Results: []post.Summary{summary("D")}, NextPage: ""},
	}}
	start := PageState{Items: []post.Summary{summary("A")}, NextPage: "L1"}

	t.Run("until exhausted", func(t *testing.T) {
		got, err := Drain(context.Background(), src, start, 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"A", "B", "C", "D"}, uids(got.Items))
		assert.False(t, got.HasMore())
	})

	t.Run("page limit", func(t *testing.T) {
		got, err := Drain(context.Background(), src, start, 2)
		require.NoError(t, err)
		assert.Equal(t, []string{"A", "B", "C"}, uids(got.Items))
		assert.Equal(t, "L3", got.NextPage)
	})

	t.Run("already exhausted", func(t *testing.T) {
		got, err := Drain(context.Background(), src, PageState{Items: start.Items}, 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"A"}, uids(got.Items))
	})
}

func TestAccumulator_LogsAndKeepsStateOnError(t *testing.T) {
	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)

	src := &fakeSource{pages: map[string]*post.Pagination{
		"L1": {Results: []post.Summary{summary("B")}, NextPage: "L2"},
	}}
	acc := NewAccumulator(src, logger)

	got, err := acc.Accumulate(context.Background(), PageState{Items: []post.Summary{summary("A")}, NextPage: "L1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, uids(got.Items))

	// L2 is unknown to the fake source.
	after, err := acc.Accumulate(context.Background(), got)
	require.Error(t, err)
	assert.Equal(t, got, after)

	drained, err := acc.Drain(context.Background(), got, 0)
	require.Error(t, err)
	assert.Equal(t, got, drained)
}

func TestPageState_JSON(t *testing.T) {
	t.Run("exhausted locator is null", func(t *testing.T) {
		data, err := json.Marshal(PageState{Items: []post.Summary{{UID: "a"}}})
		require.NoError(t, err)
		assert.JSONEq(t, `{"results":[{"uid":"a","first_publication_date":null,"data":{"title":"","subtitle":"","author":""}}],"next_page":null}`, string(data))
	})

	t.Run("empty listing", func(t *testing.T) {
		data, err := json.Marshal(PageState{})
		require.NoError(t, err)
		assert.JSONEq(t, `{"results":[],"next_page":null}`, string(data))
	})

	t.Run("decodes null and locator", func(t *testing.T) {
		var state PageState
		require.NoError(t, json.Unmarshal([]byte(`{"results":[],"next_page":null}`), &state))
		assert.False(t, state.HasMore())

		start := PageState{Items: []post.Summary{summary("A")}, NextPage: "https://cms.example/search?page=2"}
		data, err := json.Marshal(start)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(data, &state))
		assert.Equal(t, start.NextPage, state.NextPage)
		assert.Equal(t, []string{"A"}, uids(state.Items))
	})
}
