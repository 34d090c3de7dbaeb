package prismic

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spacetraveling/blog/pkg/post"
)

// DocumentTypePosts is the custom type holding blog posts.
const DocumentTypePosts = "posts"

// DefaultPageSize matches the listing size of the blog home page.
const DefaultPageSize = 20

// SummaryFields are the fields fetched for listings.
var SummaryFields = []string{"posts.title", "posts.subtitle", "posts.content", "posts.author"}

// Ref is a content release pointer returned by the API root.
type Ref struct {
	ID          string `json:"id"`
	Ref         string `json:"ref"`
	Label       string `json:"label"`
	IsMasterRef bool   `json:"isMasterRef"`
}

type apiInfo struct {
	Refs []Ref `json:"refs"`
}

// detailResponse is a search response whose results carry full documents.
type detailResponse struct {
	Results []post.Detail `json:"results"`
}

// At builds an equality predicate, e.g. At("document.type", "posts").
func At(path, value string) string {
	return fmt.Sprintf("[at(%s,%q)]", path, value)
}

// QueryOptions selects documents for Query.
type QueryOptions struct {
	// DocumentType restricts results to one custom type. Empty means any type.
	DocumentType string

	// Predicates are additional predicates built with At.
	Predicates []string

	// Fetch limits the returned fields, e.g. "posts.title".
	Fetch []string

	PageSize int
	Page     int
}

func (o QueryOptions) query() string {
	predicates := make([]string, 0, len(o.Predicates)+1)
	if o.DocumentType != "" {
		predicates = append(predicates, At("document.type", o.DocumentType))
	}
	predicates = append(predicates, o.Predicates...)
	return "[" + strings.Join(predicates, "") + "]"
}

// MasterRef returns the ref of the published content. The ref is reused for
// Config.RefTTL before the API root is asked again.
func (c *Client) MasterRef(ctx context.Context) (string, error) {
	c.refMu.Lock()
	defer c.refMu.Unlock()

	if c.masterRef != "" && time.Since(c.refFetchedAt) < c.config.RefTTL {
		return c.masterRef, nil
	}

	var info apiInfo
	if err := c.getJSON(ctx, c.endpoint, requestOptions{}, &info); err != nil {
		return "", fmt.Errorf("fetch api root: %w", err)
	}

	for _, ref := range info.Refs {
		if !ref.IsMasterRef {
			continue
		}
		if previous := c.masterRef; previous != "" && previous != ref.Ref {
			c.purgeRef(ctx, previous)
		}
		c.masterRef = ref.Ref
		c.refFetchedAt = time.Now()
		c.logger.Debug().Str("ref", ref.Ref).Msg("Master ref refreshed")
		return ref.Ref, nil
	}

	return "", ErrNoMasterRef
}

// purgeRef drops cached responses of a release that is no longer master.
// Failures only cost memory until the entries expire.
func (c *Client) purgeRef(ctx context.Context, ref string) {
	if c.cache == nil {
		return
	}
	purged, err := c.cache.PurgeRef(ctx, ref)
	if err != nil {
		c.logger.Warn().Err(err).Str("ref", ref).Msg("Failed to purge superseded ref")
		return
	}
	c.logger.Info().Str("ref", ref).Int("entries", purged).Msg("Purged cache of superseded ref")
}

// searchURL builds the documents search URL for a ref.
func (c *Client) searchURL(ref string, opts QueryOptions) *url.URL {
	u := *c.endpoint
	u.Path = strings.TrimRight(u.Path, "/") + "/documents/search"

	q := url.Values{}
	q.Set("ref", ref)
	q.Set("q", opts.query())
	if len(opts.Fetch) > 0 {
		q.Set("fetch", strings.Join(opts.Fetch, ","))
	}
	if opts.PageSize > 0 {
		q.Set("pageSize", strconv.Itoa(opts.PageSize))
	}
	if opts.Page > 0 {
		q.Set("page", strconv.Itoa(opts.Page))
	}
	u.RawQuery = q.Encode()
	return &u
}

// Query returns one page of documents matching opts.
func (c *Client) Query(ctx context.Context, opts QueryOptions) (*post.Pagination, error) {
	ref, err := c.MasterRef(ctx)
	if err != nil {
		return nil, err
	}

	var page post.Pagination
	if err := c.getJSON(ctx, c.searchURL(ref, opts), requestOptions{serveFresh: true}, &page); err != nil {
		return nil, fmt.Errorf("query %s: %w", opts.query(), err)
	}
	return &page, nil
}

// GetByUID returns the document of documentType with the given uid.
func (c *Client) GetByUID(ctx context.Context, documentType, uid string) (*post.Detail, error) {
	ref, err := c.MasterRef(ctx)
	if err != nil {
		return nil, err
	}

	opts := QueryOptions{
		DocumentType: documentType,
		Predicates:   []string{At("my."+documentType+".uid", uid)},
		PageSize:     1,
	}

	var resp detailResponse
	if err := c.getJSON(ctx, c.searchURL(ref, opts), requestOptions{serveFresh: true}, &resp); err != nil {
		return nil, fmt.Errorf("get %s %q: %w", documentType, uid, err)
	}
	if len(resp.Results) == 0 {
		return nil, fmt.Errorf("get %s %q: %w", documentType, uid, ErrNotFound)
	}
	return &resp.Results[0], nil
}

// FetchPage fetches the page a next_page locator points at. It makes exactly
// one request: no retries, and a cached copy is only used through a
// conditional request. The locator must point at the configured API host.
func (c *Client) FetchPage(ctx context.Context, locator string) (*post.Pagination, error) {
	u, err := url.Parse(locator)
	if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidLocator, locator)
	}
	if u.Host != c.endpoint.Host {
		return nil, fmt.Errorf("%w: host %q is not %q", ErrInvalidLocator, u.Host, c.endpoint.Host)
	}

	var page post.Pagination
	if err := c.getJSON(ctx, u, requestOptions{attempts: 1}, &page); err != nil {
		return nil, fmt.Errorf("fetch page: %w", err)
	}
	return &page, nil
}

// Lister pages through one query by page number.
type Lister struct {
	client *Client
	opts   QueryOptions
}

// Lister returns a Lister for opts. The page number of opts is ignored.
func (c *Client) Lister(opts QueryOptions) *Lister {
	return &Lister{client: c, opts: opts}
}

// FetchPageNumber returns page pageNum (1-based) of the query.
func (l *Lister) FetchPageNumber(ctx context.Context, pageNum int) (*post.Pagination, error) {
	opts := l.opts
	opts.Page = pageNum
	return l.client.Query(ctx, opts)
}

// getJSON performs a GET through the client pipeline and decodes a 200 body into v.
func (c *Client) getJSON(ctx context.Context, u *url.URL, opts requestOptions, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := c.do(req, opts)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return &APIError{
			StatusCode: resp.StatusCode,
			ErrorClass: ErrorClassClient,
			Message:    resp.Status,
			Err:        ErrNotFound,
		}
	default:
		return &APIError{
			StatusCode: resp.StatusCode,
			ErrorClass: c.classifyError(resp, nil),
			Message:    resp.Status,
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
