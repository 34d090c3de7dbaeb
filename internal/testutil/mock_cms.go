// Package testutil provides testing utilities for the blog and its CMS client.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/spacetraveling/blog/pkg/post"
)

// APIPath is the API root served by MockCMS.
const APIPath = "/api/v2"

// MasterRef is the ref MockCMS advertises as master.
const MasterRef = "YGZ-master-ref"

var uidPredicate = regexp.MustCompile(`at\(my\.[a-z_]+\.uid,"([^"]*)"\)`)

// MockCMSResponse defines a canned response for a path.
type MockCMSResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockCMS is a CMS-like server serving a fixed set of posts.
// The search endpoint paginates the posts and links pages through next_page.
type MockCMS struct {
	server   *httptest.Server
	mu       sync.RWMutex
	posts     []post.Detail
	masterRef string
	handlers  map[string]http.HandlerFunc

	requestCount     int
	searchCount      int
	conditionalCount int
	lastHeader       http.Header
	lastQuery        url.Values
}

// NewMockCMS starts a mock server for posts.
func NewMockCMS(posts []post.Detail) *MockCMS {
	mock := &MockCMS{
		posts:     posts,
		masterRef: MasterRef,
		handlers:  make(map[string]http.HandlerFunc),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.requestCount++
		mock.lastHeader = r.Header.Clone()
		mock.lastQuery = r.URL.Query()
		if r.Header.Get("If-None-Match") != "" {
			mock.conditionalCount++
		}
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.Unlock()

		if exists {
			handler(w, r)
			return
		}

		switch r.URL.Path {
		case APIPath:
			mock.apiRoot(w, r)
		case APIPath + "/documents/search":
			mock.search(w, r)
		default:
			http.NotFound(w, r)
		}
	}))

	return mock
}

// URL returns the server base URL.
func (m *MockCMS) URL() string {
	return m.server.URL
}

// Endpoint returns the API root URL to configure clients with.
func (m *MockCMS) Endpoint() string {
	return m.server.URL + APIPath
}

// Close shuts down the mock server.
func (m *MockCMS) Close() {
	m.server.Close()
}

// SetPosts replaces the served posts.
func (m *MockCMS) SetPosts(posts []post.Detail) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.posts = posts
}

// SetMasterRef publishes a new release. Searches under the old ref fail
// from then on, as they do once the CMS drops a release.
func (m *MockCMS) SetMasterRef(ref string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.masterRef = ref
}

// SetHandler overrides the handler for a path.
func (m *MockCMS) SetHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// ClearHandler restores the default handler for a path.
func (m *MockCMS) ClearHandler(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.handlers, path)
}

// SetResponse configures a canned response for a path.
func (m *MockCMS) SetResponse(path string, resp MockCMSResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}
		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// RequestCount returns the number of requests served.
func (m *MockCMS) RequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.requestCount
}

// SearchCount returns the number of search requests answered by the default handler.
func (m *MockCMS) SearchCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.searchCount
}

// ConditionalCount returns the number of requests carrying If-None-Match.
func (m *MockCMS) ConditionalCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.conditionalCount
}

// LastHeader returns the headers of the latest request.
func (m *MockCMS) LastHeader() http.Header {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastHeader
}

// LastQuery returns the query of the latest request.
func (m *MockCMS) LastQuery() url.Values {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastQuery
}

func setDefaultHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-RateLimit-Remaining", "100")
	w.Header().Set("X-RateLimit-Reset", "60")
	w.Header().Set("Cache-Control", "max-age=300")
}

func (m *MockCMS) apiRoot(w http.ResponseWriter, r *http.Request) {
	setDefaultHeaders(w)

	m.mu.RLock()
	ref := m.masterRef
	m.mu.RUnlock()

	writeJSON(w, map[string]any{
		"refs": []map[string]any{
			{"id": "master", "ref": ref, "label": "Master", "isMasterRef": true},
		},
	})
}

func (m *MockCMS) search(w http.ResponseWriter, r *http.Request) {
	setDefaultHeaders(w)

	query := r.URL.Query()

	m.mu.RLock()
	ref := m.masterRef
	m.mu.RUnlock()

	if query.Get("ref") != ref {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"message":"unknown ref"}`))
		return
	}

	m.mu.Lock()
	m.searchCount++
	posts := m.posts
	m.mu.Unlock()

	if match := uidPredicate.FindStringSubmatch(query.Get("q")); match != nil {
		var results []post.Detail
		for _, p := range posts {
			if p.UID == match[1] {
				results = append(results, p)
			}
		}
		writeJSON(w, map[string]any{"results": results})
		return
	}

	pageSize := atoiDefault(query.Get("pageSize"), 20)
	page := atoiDefault(query.Get("page"), 1)

	etag := fmt.Sprintf(`"page-%d-%d-%d"`, page, pageSize, len(posts))
	w.Header().Set("ETag", etag)
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	totalPages := (len(posts) + pageSize - 1) / pageSize
	start := (page - 1) * pageSize
	end := start + pageSize
	if start > len(posts) {
		start = len(posts)
	}
	if end > len(posts) {
		end = len(posts)
	}

	results := make([]post.Summary, 0, end-start)
	for _, p := range posts[start:end] {
		results = append(results, Summarize(p))
	}

	var nextPage string
	if page < totalPages {
		next := *r.URL
		q := next.Query()
		q.Set("page", strconv.Itoa(page+1))
		q.Set("pageSize", strconv.Itoa(pageSize))
		next.RawQuery = q.Encode()
		nextPage = m.server.URL + next.RequestURI()
	}

	writeJSON(w, post.Pagination{
		Page:             page,
		ResultsPerPage:   pageSize,
		TotalResultsSize: len(posts),
		TotalPages:       totalPages,
		NextPage:         nextPage,
		Results:          results,
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func atoiDefault(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// Summarize reduces a post to its listing fields.
func Summarize(p post.Detail) post.Summary {
	return post.Summary{
		UID:                  p.UID,
		FirstPublicationDate: p.FirstPublicationDate,
		Data: post.SummaryData{
			Title:    p.Data.Title,
			Author:   p.Data.Author,
			Subtitle: "Subtitle of " + p.Data.Title,
		},
	}
}

// SamplePosts returns n posts with uids post-1..post-n, published a day apart.
func SamplePosts(n int) []post.Detail {
	base := time.Date(2021, time.March, 15, 19, 25, 28, 0, time.UTC)
	posts := make([]post.Detail, n)
	for i := range posts {
		published := &post.Timestamp{Time: base.AddDate(0, 0, -i)}
		posts[i] = post.Detail{
			UID:                  fmt.Sprintf("post-%d", i+1),
			FirstPublicationDate: published,
			Data: post.DetailData{
				Title:  fmt.Sprintf("Post %d", i+1),
				Banner: post.Banner{URL: fmt.Sprintf("https://images.example.com/banner-%d.png", i+1)},
				Author: "Joseph Oliveira",
				Content: []post.Section{
					{
						Heading: "Proin et varius",
						Body: []post.Block{
							{Text: "Lorem ipsum dolor sit amet"},
							{Text: "consectetur adipiscing elit"},
						},
					},
				},
			},
		}
	}
	return posts
}
