package site

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/spacetraveling/blog/pkg/logging"
	"github.com/spacetraveling/blog/pkg/pagination"
	"github.com/spacetraveling/blog/pkg/post"
	"github.com/spacetraveling/blog/pkg/prismic"
)

var exportPagesWritten = promauto.NewCounter(prometheus.CounterOpts{
	Name: "blog_export_pages_written_total",
	Help: "Total HTML files written by static exports",
})

// ExportReport summarizes a static export.
type ExportReport struct {
	ListingPages int
	Posts        int
	Assets       int
	Duration     time.Duration
}

// Exporter renders the blog to a directory:
//
//	index.html             first listing page
//	page/<n>/index.html    listing with pages 1..n accumulated
//	post/<uid>/index.html  one file per post
//	static/...             stylesheet, script and images
type Exporter struct {
	server  *Server
	fetcher pagination.PageFetcher
	workers int
	logger  zerolog.Logger
}

// NewExporter creates an exporter over the server's CMS and templates.
// When fetcher is non-nil every listing page is fetched up front with a
// BatchFetcher instead of following next_page locators one by one.
// workers bounds concurrent post fetches.
func NewExporter(server *Server, fetcher pagination.PageFetcher, workers int) *Exporter {
	if workers <= 0 {
		workers = 1
	}
	return &Exporter{
		server:  server,
		fetcher: fetcher,
		workers: workers,
		logger:  logging.NewLogger(logging.ComponentExport),
	}
}

// listingSnapshot is the listing after n pages were loaded.
type listingSnapshot struct {
	items   []post.Summary
	hasMore bool
}

// Export writes every page under dir.
func (e *Exporter) Export(ctx context.Context, dir string) (*ExportReport, error) {
	start := time.Now()

	var snapshots []listingSnapshot
	var err error
	if e.fetcher != nil {
		snapshots, err = e.batchSnapshots(ctx)
	} else {
		snapshots, err = e.accumulatedSnapshots(ctx)
	}
	if err != nil {
		return nil, err
	}

	for i, snap := range snapshots {
		if err := e.writeListing(dir, i+1, snap); err != nil {
			return nil, err
		}
	}

	all := snapshots[len(snapshots)-1].items
	uids := uniqueUIDs(all)
	if err := e.writePosts(ctx, dir, uids); err != nil {
		return nil, err
	}

	assets, err := e.writeAssets(dir)
	if err != nil {
		return nil, err
	}

	report := &ExportReport{
		ListingPages: len(snapshots),
		Posts:        len(uids),
		Assets:       assets,
		Duration:     time.Since(start),
	}

	e.logger.Info().
		Str("dir", dir).
		Int("listing_pages", report.ListingPages).
		Int("posts", report.Posts).
		Int("assets", report.Assets).
		Dur("duration", report.Duration).
		Msg("Export complete")

	return report, nil
}

// accumulatedSnapshots follows next_page locators until the listing is exhausted.
func (e *Exporter) accumulatedSnapshots(ctx context.Context) ([]listingSnapshot, error) {
	first, err := e.server.cms.Query(ctx, e.server.ListingOptions())
	if err != nil {
		return nil, fmt.Errorf("query posts: %w", err)
	}

	state := pagination.NewPageState(first)
	snapshots := []listingSnapshot{{items: state.Items, hasMore: state.HasMore()}}

	for state.HasMore() {
		state, err = e.server.accumulator.Accumulate(ctx, state)
		if err != nil {
			return nil, fmt.Errorf("accumulate listing page %d: %w", len(snapshots)+1, err)
		}
		snapshots = append(snapshots, listingSnapshot{items: state.Items, hasMore: state.HasMore()})
	}
	return snapshots, nil
}

// batchSnapshots fetches all pages in parallel and slices the result into
// the same cumulative listings.
func (e *Exporter) batchSnapshots(ctx context.Context) ([]listingSnapshot, error) {
	bf := pagination.NewBatchFetcher(e.fetcher, pagination.Config{MaxConcurrency: e.workers})
	all, err := bf.FetchAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch listing: %w", err)
	}

	size := e.server.opts.PageSize
	var snapshots []listingSnapshot
	for n := size; ; n += size {
		end := min(n, len(all))
		snapshots = append(snapshots, listingSnapshot{items: all[:end], hasMore: end < len(all)})
		if end == len(all) {
			return snapshots, nil
		}
	}
}

func (e *Exporter) writeListing(dir string, n int, snap listingSnapshot) error {
	view := homeView{Posts: snap.items}
	if snap.hasMore {
		view.LoadMoreURL = "/page/" + strconv.Itoa(n+1) + "/"
	}

	body, err := render(e.server.pages.home, view)
	if err != nil {
		return err
	}

	path := filepath.Join(dir, "index.html")
	if n > 1 {
		path = filepath.Join(dir, "page", strconv.Itoa(n), "index.html")
	}
	if err := writeFile(path, body); err != nil {
		return err
	}
	exportPagesWritten.Inc()
	return nil
}

func (e *Exporter) writePosts(ctx context.Context, dir string, uids []string) error {
	for _, uid := range uids {
		if !validUID(uid) {
			return fmt.Errorf("refusing to export post with uid %q", uid)
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)

	for _, uid := range uids {
		uid := uid
		g.Go(func() error {
			detail, err := e.server.cms.GetByUID(ctx, prismic.DocumentTypePosts, uid)
			if err != nil {
				return fmt.Errorf("get post %q: %w", uid, err)
			}

			body, err := render(e.server.pages.post, newPostView(detail))
			if err != nil {
				return err
			}
			if err := writeFile(filepath.Join(dir, "post", uid, "index.html"), body); err != nil {
				return err
			}
			exportPagesWritten.Inc()
			e.logger.Debug().Str("uid", uid).Msg("Post exported")
			return nil
		})
	}

	return g.Wait()
}

// writeAssets copies the embedded static files to dir/static.
func (e *Exporter) writeAssets(dir string) (int, error) {
	assets := e.server.pages.assets
	var n int
	err := fs.WalkDir(assets, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		data, err := fs.ReadFile(assets, path)
		if err != nil {
			return fmt.Errorf("read asset %s: %w", path, err)
		}
		if err := writeFile(filepath.Join(dir, "static", filepath.FromSlash(path)), data); err != nil {
			return err
		}
		n++
		return nil
	})
	return n, err
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// validUID rejects uids that would escape their post directory.
func validUID(uid string) bool {
	return uid != "" && uid != "." && uid != ".." && filepath.Base(uid) == uid
}

func uniqueUIDs(items []post.Summary) []string {
	seen := make(map[string]bool, len(items))
	uids := make([]string, 0, len(items))
	for _, item := range items {
		if seen[item.UID] {
			continue
		}
		seen[item.UID] = true
		uids = append(uids, item.UID)
	}
	return uids
}
