package site

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"

	"github.com/spacetraveling/blog/pkg/post"
)

//go:embed templates/*.html
var templateFS embed.FS

// staticFS holds the stylesheet, script and images served under /static/.
//
//go:embed static
var staticFS embed.FS

type homeView struct {
	Posts       []post.Summary
	NextPage    string
	LoadMoreURL string
}

type postView struct {
	Post        *post.Detail
	ReadingTime int
}

type errorView struct {
	Status  int
	Message string
}

// pages holds one template set per page, each sharing the layout, and the
// static assets they reference.
type pages struct {
	home   *template.Template
	post   *template.Template
	error  *template.Template
	assets fs.FS
}

func loadPages() (*pages, error) {
	base, err := template.New("layout").
		Funcs(template.FuncMap{"date": FormatDate}).
		ParseFS(templateFS, "templates/layout.html")
	if err != nil {
		return nil, fmt.Errorf("parse layout: %w", err)
	}

	parse := func(name string) (*template.Template, error) {
		clone, err := base.Clone()
		if err != nil {
			return nil, err
		}
		t, err := clone.ParseFS(templateFS, "templates/"+name)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
		return t, nil
	}

	assets, err := fs.Sub(staticFS, "static")
	if err != nil {
		return nil, fmt.Errorf("static assets: %w", err)
	}

	p := &pages{assets: assets}
	if p.home, err = parse("home.html"); err != nil {
		return nil, err
	}
	if p.post, err = parse("post.html"); err != nil {
		return nil, err
	}
	if p.error, err = parse("error.html"); err != nil {
		return nil, err
	}
	return p, nil
}

// render executes the layout of t into a buffer so a failed template never
// leaves a half-written page behind.
func render(t *template.Template, data any) ([]byte, error) {
	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", data); err != nil {
		return nil, fmt.Errorf("render %s: %w", t.Name(), err)
	}
	return buf.Bytes(), nil
}
