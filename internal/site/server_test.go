package site

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spacetraveling/blog/internal/testutil"
	"github.com/spacetraveling/blog/pkg/pagination"
	"github.com/spacetraveling/blog/pkg/post"
	"github.com/spacetraveling/blog/pkg/prismic"
)

// newMockServer wires a Server to a real CMS client talking to a mock CMS.
func newMockServer(t *testing.T, posts int, pageSize int) (*Server, *testutil.MockCMS, *prismic.Client) {
	t.Helper()

	mock := testutil.NewMockCMS(testutil.SamplePosts(posts))
	t.Cleanup(mock.Close)

	cfg := prismic.DefaultConfig(mock.Endpoint(), nil, "SpaceTraveling/test")
	cfg.InitialBackoff = 5 * time.Millisecond
	client, err := prismic.New(cfg)
	require.NoError(t, err)

	opts := DefaultOptions()
	opts.PageSize = pageSize
	s, err := NewServer(client, opts)
	require.NoError(t, err)

	return s, mock, client
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func postState(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/posts/more", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	h.ServeHTTP(w, req)
	return w
}

func TestNewServer_RequiresCMS(t *testing.T) {
	_, err := NewServer(nil, DefaultOptions())
	assert.Error(t, err)
}

func TestHome(t *testing.T) {
	s, _, _ := newMockServer(t, 5, 2)
	h := s.Handler()

	t.Run("first page with load more", func(t *testing.T) {
		w := get(t, h, "/")

		require.Equal(t, http.StatusOK, w.Code)
		body := w.Body.String()
		assert.Contains(t, body, `href="/post/post-1"`)
		assert.Contains(t, body, `href="/post/post-2"`)
		assert.NotContains(t, body, "post-3")
		assert.Contains(t, body, "15 mar 2021")
		assert.Contains(t, body, "Joseph Oliveira")
		assert.Contains(t, body, "Carregar mais posts")
		assert.Contains(t, body, `href="/?pages=2"`)
	})

	t.Run("accumulated pages", func(t *testing.T) {
		w := get(t, h, "/?pages=2")

		require.Equal(t, http.StatusOK, w.Code)
		body := w.Body.String()
		for _, uid := range []string{"post-1", "post-2", "post-3", "post-4"} {
			assert.Contains(t, body, `href="/post/`+uid+`"`)
		}
		assert.NotContains(t, body, "post-5")
		assert.Contains(t, body, `href="/?pages=3"`)
	})

	t.Run("exhausted hides load more", func(t *testing.T) {
		w := get(t, h, "/?pages=3")

		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `href="/post/post-5"`)
		assert.NotContains(t, w.Body.String(), "Carregar mais posts")
	})

	t.Run("invalid pages", func(t *testing.T) {
		for _, q := range []string{"0", "-1", "abc"} {
			w := get(t, h, "/?pages="+q)
			assert.Equal(t, http.StatusBadRequest, w.Code, "pages=%s", q)
		}
	})
}

func TestHome_MaxPagesCap(t *testing.T) {
	s, mock, _ := newMockServer(t, 30, 2)
	s.opts.MaxPages = 10
	h := s.Handler()

	t.Run("at the cap", func(t *testing.T) {
		w := get(t, h, "/?pages=10")

		require.Equal(t, http.StatusOK, w.Code)
		body := w.Body.String()
		assert.Equal(t, 20, strings.Count(body, `<li class="post">`))
		assert.Contains(t, body, `href="/post/post-20"`)
		assert.NotContains(t, body, `href="/post/post-21"`)
		assert.NotContains(t, body, `href="/?pages=11"`)
		assert.NotContains(t, body, `href="/?pages=10"`)
		assert.Contains(t, body, `<button class="load-more" type="button" data-next-page=`)
		assert.Equal(t, 10, mock.SearchCount())
	})

	t.Run("below the cap", func(t *testing.T) {
		w := get(t, h, "/?pages=9")

		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `href="/?pages=10"`)
	})

	t.Run("above the cap", func(t *testing.T) {
		before := mock.SearchCount()
		for _, q := range []string{"11", "50"} {
			w := get(t, h, "/?pages="+q)
			assert.Equal(t, http.StatusBadRequest, w.Code, "pages=%s", q)
		}
		assert.Equal(t, before, mock.SearchCount())
	})
}

func TestHome_CMSDown(t *testing.T) {
	s, mock, _ := newMockServer(t, 3, 2)
	mock.SetResponse(testutil.APIPath, testutil.MockCMSResponse{StatusCode: http.StatusBadRequest})

	w := get(t, s.Handler(), "/")

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), "Não foi possível carregar os posts")
}

func TestPost(t *testing.T) {
	s, _, _ := newMockServer(t, 2, 20)
	h := s.Handler()

	w := get(t, h, "/post/post-2")

	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "<h1>Post 2</h1>")
	assert.Contains(t, body, `src="https://images.example.com/banner-2.png"`)
	assert.Contains(t, body, "14 mar 2021")
	assert.Contains(t, body, "1 min")
	assert.Contains(t, body, "Proin et varius")
	// Every body block is rendered, not only the first.
	assert.Contains(t, body, "Lorem ipsum dolor sit amet")
	assert.Contains(t, body, "consectetur adipiscing elit")

	w = get(t, h, "/post/unknown")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPost_EscapesContent(t *testing.T) {
	posts := testutil.SamplePosts(1)
	posts[0].Data.Title = `<script>alert("x")</script>`

	s, mock, _ := newMockServer(t, 0, 20)
	mock.SetPosts(posts)

	w := get(t, s.Handler(), "/post/post-1")

	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "<script>")
}

func TestMore(t *testing.T) {
	s, mock, client := newMockServer(t, 5, 2)
	h := s.Handler()

	first, err := client.Query(context.Background(), s.ListingOptions())
	require.NoError(t, err)
	start, err := json.Marshal(pagination.NewPageState(first))
	require.NoError(t, err)

	w := postState(t, h, string(start))
	require.Equal(t, http.StatusOK, w.Code)

	var got moreResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Len(t, got.Items, 4)
	assert.Equal(t, "post-3", got.Items[2].UID)
	assert.NotEmpty(t, got.NextPage)
	assert.Empty(t, got.Error)
	assert.NotContains(t, w.Body.String(), `"error"`)

	t.Run("exhausted", func(t *testing.T) {
		w := postState(t, h, `{"results":[{"uid":"a"}],"next_page":""}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)

		var raw map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &raw))
		assert.JSONEq(t, "null", string(raw["next_page"]))
		assert.Contains(t, raw, "error")

		var resp moreResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Len(t, resp.Items, 1)
		assert.Empty(t, resp.NextPage)
		assert.NotEmpty(t, resp.Error)
	})

	t.Run("foreign locator", func(t *testing.T) {
		w := postState(t, h, `{"results":[],"next_page":"https://evil.example.com/x"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("malformed", func(t *testing.T) {
		w := postState(t, h, `{"results":`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("fetch failure keeps state", func(t *testing.T) {
		mock.SetResponse(testutil.APIPath+"/documents/search", testutil.MockCMSResponse{StatusCode: http.StatusInternalServerError})
		defer mock.ClearHandler(testutil.APIPath + "/documents/search")

		w := postState(t, h, string(start))
		assert.Equal(t, http.StatusBadGateway, w.Code)

		var resp moreResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Len(t, resp.Items, 2)
		assert.Equal(t, first.NextPage, resp.NextPage)
		assert.NotEmpty(t, resp.Error)
	})

	t.Run("method not allowed", func(t *testing.T) {
		w := get(t, h, "/api/posts/more")
		assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	})
}

// fakeCMS fails readiness and serves a fixed listing.
type fakeCMS struct {
	mu      sync.Mutex
	pingErr error
}

func (f *fakeCMS) FetchPage(ctx context.Context, locator string) (*post.Pagination, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeCMS) Query(ctx context.Context, opts prismic.QueryOptions) (*post.Pagination, error) {
	return &post.Pagination{Results: []post.Summary{{UID: "only"}}}, nil
}

func (f *fakeCMS) GetByUID(ctx context.Context, documentType, uid string) (*post.Detail, error) {
	return nil, prismic.ErrNotFound
}

func (f *fakeCMS) Ping(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pingErr
}

func TestHealthAndReady(t *testing.T) {
	cms := &fakeCMS{}
	s, err := NewServer(cms, DefaultOptions())
	require.NoError(t, err)
	h := s.Handler()

	w := get(t, h, "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	w = get(t, h, "/ready")
	assert.Equal(t, http.StatusOK, w.Code)

	cms.mu.Lock()
	cms.pingErr = errors.New("redis down")
	cms.mu.Unlock()

	w = get(t, h, "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "redis down")
}

func TestMetricsAndNotFound(t *testing.T) {
	s, err := NewServer(&fakeCMS{}, DefaultOptions())
	require.NoError(t, err)
	h := s.Handler()

	get(t, h, "/")
	w := get(t, h, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "blog_http_requests_total")

	w = get(t, h, "/nope")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "Página não encontrada")
}

func TestRun_Shutdown(t *testing.T) {
	s, err := NewServer(&fakeCMS{}, DefaultOptions())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, "127.0.0.1:0") }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestStaticAssets(t *testing.T) {
	s, _, _ := newMockServer(t, 1, 2)
	h := s.Handler()

	tests := []struct {
		path        string
		contentType string
		contains    string
	}{
		{"/static/site.css", "text/css", ".load-more"},
		{"/static/load-more.js", "javascript", "/api/posts/more"},
		{"/static/images/logo.svg", "image/svg+xml", "<svg"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := get(t, h, tt.path)

			require.Equal(t, http.StatusOK, w.Code)
			assert.Contains(t, w.Header().Get("Content-Type"), tt.contentType)
			assert.Equal(t, "public, max-age=3600", w.Header().Get("Cache-Control"))
			assert.Contains(t, w.Body.String(), tt.contains)
		})
	}

	t.Run("layout references", func(t *testing.T) {
		body := get(t, h, "/").Body.String()
		for _, tt := range tests {
			assert.Contains(t, body, tt.path)
		}
	})

	t.Run("missing asset", func(t *testing.T) {
		w := get(t, h, "/static/missing.css")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}
