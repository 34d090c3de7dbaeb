package pagination

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/spacetraveling/blog/pkg/post"
)

var (
	// ErrExhausted is returned when accumulating a state that has no next page.
	ErrExhausted = errors.New("pagination exhausted")

	// ErrNilSource is returned when no page source was supplied.
	ErrNilSource = errors.New("page source is required")
)

// Prometheus metrics for "load more" accumulation.
var (
	accumulateTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "blog_pagination_accumulate_total",
		Help: "Total accumulate transitions by result",
	}, []string{"result"})

	accumulatedItemsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "blog_pagination_items_appended_total",
		Help: "Total post summaries appended by accumulate transitions",
	})
)

// PageSource fetches the page a next-page locator points at.
type PageSource interface {
	FetchPage(ctx context.Context, locator string) (*post.Pagination, error)
}

// PageState is the listing shown to a reader: the posts loaded so far and the
// locator of the next page. NextPage is empty once the listing is exhausted.
type PageState struct {
	Items    []post.Summary `json:"results"`
	NextPage string         `json:"next_page"`
}

// NewPageState builds the initial state from the first page of a listing.
func NewPageState(first *post.Pagination) PageState {
	if first == nil {
		return PageState{}
	}
	items := make([]post.Summary, len(first.Results))
	copy(items, first.Results)
	return PageState{Items: items, NextPage: first.NextPage}
}

// MarshalJSON writes an exhausted locator as null, matching the CMS
// next_page field. Items is never null.
func (s PageState) MarshalJSON() ([]byte, error) {
	wire := struct {
		Items    []post.Summary `json:"results"`
		NextPage *string        `json:"next_page"`
	}{Items: s.Items}
	if wire.Items == nil {
		wire.Items = []post.Summary{}
	}
	if s.HasMore() {
		wire.NextPage = &s.NextPage
	}
	return json.Marshal(wire)
}

// HasMore reports whether another page can be loaded.
func (s PageState) HasMore() bool {
	return s.NextPage != ""
}

// Accumulate fetches the page at state.NextPage and returns a new state whose
// items are state.Items followed by the fetched results, in order. The input
// state is never modified. On failure the unchanged state is returned along
// with the error.
func Accumulate(ctx context.Context, source PageSource, state PageState) (PageState, error) {
	if source == nil {
		return state, ErrNilSource
	}
	if !state.HasMore() {
		return state, ErrExhausted
	}

	page, err := source.FetchPage(ctx, state.NextPage)
	if err != nil {
		return state, fmt.Errorf("fetch next page: %w", err)
	}
	if page == nil {
		return state, fmt.Errorf("fetch next page: empty response")
	}

	items := make([]post.Summary, 0, len(state.Items)+len(page.Results))
	items = append(items, state.Items...)
	items = append(items, page.Results...)

	return PageState{Items: items, NextPage: page.NextPage}, nil
}

// Drain applies Accumulate until the listing is exhausted or maxPages pages
// have been loaded. maxPages <= 0 means no limit. On failure the state
// accumulated so far is returned with the error.
func Drain(ctx context.Context, source PageSource, state PageState, maxPages int) (PageState, error) {
	next, _, err := drain(ctx, state, maxPages, func(ctx context.Context, s PageState) (PageState, error) {
		return Accumulate(ctx, source, s)
	})
	return next, err
}

// drain applies step until the state is exhausted or maxPages steps
// succeeded. limited reports that it stopped at maxPages.
func drain(ctx context.Context, state PageState, maxPages int, step func(context.Context, PageState) (PageState, error)) (_ PageState, limited bool, _ error) {
	for loaded := 0; state.HasMore(); loaded++ {
		if maxPages > 0 && loaded >= maxPages {
			return state, true, nil
		}
		next, err := step(ctx, state)
		if err != nil {
			return state, false, err
		}
		state = next
	}
	return state, false, nil
}

// Accumulator is Accumulate bound to a page source, with logging and metrics.
type Accumulator struct {
	source PageSource
	logger zerolog.Logger
}

// NewAccumulator creates an accumulator over source.
func NewAccumulator(source PageSource, logger zerolog.Logger) *Accumulator {
	return &Accumulator{
		source: source,
		logger: logger,
	}
}

// Accumulate loads the next page into state. See the package-level Accumulate.
func (a *Accumulator) Accumulate(ctx context.Context, state PageState) (PageState, error) {
	start := time.Now()

	next, err := Accumulate(ctx, a.source, state)
	switch {
	case errors.Is(err, ErrExhausted):
		accumulateTotal.WithLabelValues("exhausted").Inc()
		a.logger.Debug().Int("items", len(state.Items)).Msg("Load more requested on exhausted listing")
		return next, err
	case err != nil:
		accumulateTotal.WithLabelValues("error").Inc()
		a.logger.Warn().
			Err(err).
			Str("locator", state.NextPage).
			Int("items", len(state.Items)).
			Msg("Load more failed - keeping current listing")
		return next, err
	}

	appended := len(next.Items) - len(state.Items)
	accumulateTotal.WithLabelValues("ok").Inc()
	accumulatedItemsTotal.Add(float64(appended))

	a.logger.Debug().
		Str("locator", state.NextPage).
		Int("appended", appended).
		Int("items", len(next.Items)).
		Bool("has_more", next.HasMore()).
		Dur("duration", time.Since(start)).
		Msg("Loaded next page")

	return next, nil
}

// Drain loads every remaining page, up to maxPages (<= 0 for no limit).
func (a *Accumulator) Drain(ctx context.Context, state PageState, maxPages int) (PageState, error) {
	next, limited, err := drain(ctx, state, maxPages, a.Accumulate)
	if limited {
		a.logger.Debug().
			Int("pages", maxPages).
			Int("items", len(next.Items)).
			Msg("Stopped loading pages at limit")
	}
	return next, err
}
