package pagination

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/spacetraveling/blog/pkg/post"
)

// Config holds batch fetcher configuration
type Config struct {
	// MaxConcurrency is the maximum number of parallel page requests
	MaxConcurrency int
	// Timeout per page fetch
	Timeout time.Duration
}

// DefaultConfig returns safe default configuration for the CMS API
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 4,
		Timeout:        15 * time.Second,
	}
}

// PageFetcher fetches a listing page by its number (1-based).
type PageFetcher interface {
	FetchPageNumber(ctx context.Context, pageNum int) (*post.Pagination, error)
}

// PageResult represents the result of fetching a single page
type PageResult struct {
	PageNumber int
	Page       *post.Pagination
	Error      error
}

// BatchFetcher fetches every page of a listing with a bounded worker pool
type BatchFetcher struct {
	fetcher PageFetcher
	config  Config
}

// NewBatchFetcher creates a new batch fetcher
func NewBatchFetcher(fetcher PageFetcher, config Config) *BatchFetcher {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 4
	}
	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}

	return &BatchFetcher{
		fetcher: fetcher,
		config:  config,
	}
}

// FetchAll fetches page 1 to learn the page count, then the remaining pages in
// parallel. Results are returned in page order. Any failed page fails the
// whole fetch.
func (bf *BatchFetcher) FetchAll(ctx context.Context) ([]post.Summary, error) {
	start := time.Now()

	first, err := bf.fetcher.FetchPageNumber(ctx, 1)
	if err != nil {
		return nil, fmt.Errorf("fetch first page: %w", err)
	}

	totalPages := first.TotalPages
	if totalPages <= 1 {
		log.Info().
			Int("posts", len(first.Results)).
			Dur("duration", time.Since(start)).
			Msg("Fetch complete (single page)")
		return append([]post.Summary(nil), first.Results...), nil
	}

	log.Info().
		Int("total_pages", totalPages).
		Int("workers", bf.config.MaxConcurrency).
		Msg("Starting parallel page fetch")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	pages := make([]*post.Pagination, totalPages+1)
	pages[1] = first

	pageQueue := make(chan int, totalPages)
	for page := 2; page <= totalPages; page++ {
		pageQueue <- page
	}
	close(pageQueue)

	pageResults := make(chan PageResult, totalPages)

	var wg sync.WaitGroup
	for i := 0; i < bf.config.MaxConcurrency; i++ {
		wg.Add(1)
		go bf.worker(ctx, pageQueue, pageResults, &wg, i)
	}

	go func() {
		wg.Wait()
		close(pageResults)
	}()

	var firstErr error
	for result := range pageResults {
		if result.Error != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("fetch page %d: %w", result.PageNumber, result.Error)
				cancel()
			}
			continue
		}
		pages[result.PageNumber] = result.Page
	}
	if firstErr != nil {
		return nil, firstErr
	}

	var summaries []post.Summary
	for page := 1; page <= totalPages; page++ {
		if pages[page] == nil {
			return nil, fmt.Errorf("page %d missing from batch", page)
		}
		summaries = append(summaries, pages[page].Results...)
	}

	log.Info().
		Int("pages", totalPages).
		Int("posts", len(summaries)).
		Dur("duration", time.Since(start)).
		Msg("Fetch complete")

	return summaries, nil
}

// worker processes pages from the queue
func (bf *BatchFetcher) worker(ctx context.Context, pageQueue <-chan int, results chan<- PageResult, wg *sync.WaitGroup, workerID int) {
	defer wg.Done()
	pagesProcessed := 0

	for pageNum := range pageQueue {
		if ctx.Err() != nil {
			results <- PageResult{PageNumber: pageNum, Error: ctx.Err()}
			continue
		}

		pageCtx, cancel := context.WithTimeout(ctx, bf.config.Timeout)
		page, err := bf.fetcher.FetchPageNumber(pageCtx, pageNum)
		cancel()

		if err != nil {
			log.Warn().
				Err(err).
				Int("worker_id", workerID).
				Int("page", pageNum).
				Msg("Page fetch failed")
		}

		results <- PageResult{PageNumber: pageNum, Page: page, Error: err}
		pagesProcessed++
	}

	log.Debug().
		Int("worker_id", workerID).
		Int("pages_processed", pagesProcessed).
		Msg("Worker completed")
}
