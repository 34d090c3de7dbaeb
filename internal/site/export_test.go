package site

import (
	"context"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spacetraveling/blog/internal/testutil"
)

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestExport_Accumulated(t *testing.T) {
	s, _, _ := newMockServer(t, 5, 2)
	dir := t.TempDir()

	report, err := NewExporter(s, nil, 2).Export(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, 3, report.ListingPages)
	assert.Equal(t, 5, report.Posts)

	index := readFile(t, filepath.Join(dir, "index.html"))
	assert.Contains(t, index, "post-2")
	assert.NotContains(t, index, "post-3")
	assert.Contains(t, index, `href="/page/2/"`)

	page2 := readFile(t, filepath.Join(dir, "page", "2", "index.html"))
	assert.Contains(t, page2, "post-1")
	assert.Contains(t, page2, "post-4")
	assert.Contains(t, page2, `href="/page/3/"`)

	page3 := readFile(t, filepath.Join(dir, "page", "3", "index.html"))
	assert.Contains(t, page3, "post-5")
	assert.NotContains(t, page3, "Carregar mais posts")

	assert.Equal(t, 3, report.Assets)

	for i := 1; i <= 5; i++ {
		uid := testutil.SamplePosts(5)[i-1].UID
		body := readFile(t, filepath.Join(dir, "post", uid, "index.html"))
		assert.Contains(t, body, "1 min")
	}
}

func TestExport_StaticAssets(t *testing.T) {
	s, _, _ := newMockServer(t, 1, 2)
	dir := t.TempDir()

	_, err := NewExporter(s, nil, 1).Export(context.Background(), dir)
	require.NoError(t, err)

	index := readFile(t, filepath.Join(dir, "index.html"))
	for _, asset := range []string{"site.css", "load-more.js", "images/logo.svg"} {
		assert.Contains(t, index, "/static/"+asset)

		want, err := fs.ReadFile(s.pages.assets, asset)
		require.NoError(t, err)
		assert.Equal(t, string(want), readFile(t, filepath.Join(dir, "static", filepath.FromSlash(asset))))
	}
}

func TestExport_Batch(t *testing.T) {
	s, _, client := newMockServer(t, 7, 3)
	dir := t.TempDir()

	lister := client.Lister(s.ListingOptions())
	report, err := NewExporter(s, lister, 4).Export(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, 3, report.ListingPages)
	assert.Equal(t, 7, report.Posts)

	page3 := readFile(t, filepath.Join(dir, "page", "3", "index.html"))
	assert.Contains(t, page3, "post-7")
	assert.NotContains(t, page3, "Carregar mais posts")

	_, err = os.Stat(filepath.Join(dir, "post", "post-7", "index.html"))
	assert.NoError(t, err)
}

func TestExport_Empty(t *testing.T) {
	s, _, _ := newMockServer(t, 0, 20)
	dir := t.TempDir()

	report, err := NewExporter(s, nil, 1).Export(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, 1, report.ListingPages)
	assert.Equal(t, 0, report.Posts)
	assert.NotContains(t, readFile(t, filepath.Join(dir, "index.html")), "Carregar mais posts")
}

func TestExport_FailsOnBrokenPage(t *testing.T) {
	s, mock, _ := newMockServer(t, 4, 2)
	// Only the API root answers; every search fails.
	mock.SetResponse(testutil.APIPath+"/documents/search", testutil.MockCMSResponse{StatusCode: http.StatusBadRequest})

	_, err := NewExporter(s, nil, 1).Export(context.Background(), t.TempDir())
	assert.Error(t, err)
}

func TestValidUID(t *testing.T) {
	tests := map[string]bool{
		"como-utilizar-hooks": true,
		"":                    false,
		".":                   false,
		"..":                  false,
		"../etc":              false,
		"a/b":                 false,
	}
	for uid, want := range tests {
		assert.Equal(t, want, validUID(uid), "uid %q", uid)
	}
}
