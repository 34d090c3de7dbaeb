// Package pagination implements "load more" accumulation over the CMS's
// next-page locators, plus a parallel fetcher for whole listings.
//
// A listing starts from the first page rendered by the server and grows one
// page at a time:
//
//	state := pagination.NewPageState(firstPage)
//	state, err := pagination.Accumulate(ctx, cmsClient, state)
//
// Accumulate is append-only: the fetched results follow the existing items in
// the order the CMS returned them, nothing is de-duplicated, and calling it
// twice with the same state appends the same page twice. The next-page
// locator of the response replaces the old one; an empty locator means the
// listing is exhausted.
//
// BatchFetcher is used when every post is needed at once (static export):
//   - Fetches page 1 to learn total_pages
//   - Distributes pages 2..N across a worker pool (default 4 workers)
//   - Returns the summaries of all pages in page order
package pagination
