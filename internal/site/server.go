// Package site serves the blog: the post listing with "load more"
// accumulation, post pages with reading time, and a JSON endpoint that
// advances a listing state by one page. It also renders the same pages to a
// static directory.
package site

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/spacetraveling/blog/pkg/logging"
	"github.com/spacetraveling/blog/pkg/metrics"
	"github.com/spacetraveling/blog/pkg/pagination"
	"github.com/spacetraveling/blog/pkg/post"
	"github.com/spacetraveling/blog/pkg/prismic"
)

// CMS is the subset of the CMS client the site needs.
type CMS interface {
	pagination.PageSource
	Query(ctx context.Context, opts prismic.QueryOptions) (*post.Pagination, error)
	GetByUID(ctx context.Context, documentType, uid string) (*post.Detail, error)
	Ping(ctx context.Context) error
}

// Options configures a Server.
type Options struct {
	// PageSize is the number of posts per listing page.
	PageSize int

	// MaxPages caps the ?pages=N listing parameter.
	MaxPages int

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DefaultOptions returns the listing layout of the blog: 20 posts per page.
func DefaultOptions() Options {
	return Options{
		PageSize:        prismic.DefaultPageSize,
		MaxPages:        10,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Server renders the blog over a CMS.
type Server struct {
	cms         CMS
	accumulator *pagination.Accumulator
	pages       *pages
	opts        Options
	router      *mux.Router
	logger      zerolog.Logger
}

// NewServer creates a server and registers its routes.
func NewServer(cms CMS, opts Options) (*Server, error) {
	if cms == nil {
		return nil, fmt.Errorf("cms client is required")
	}
	defaults := DefaultOptions()
	if opts.PageSize <= 0 {
		opts.PageSize = defaults.PageSize
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = defaults.MaxPages
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = defaults.ShutdownTimeout
	}

	p, err := loadPages()
	if err != nil {
		return nil, err
	}

	logger := logging.NewLogger(logging.ComponentSite)

	s := &Server{
		cms:         cms,
		accumulator: pagination.NewAccumulator(cms, logging.NewLogger(logging.ComponentPaginator)),
		pages:       p,
		opts:        opts,
		logger:      logger,
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() *mux.Router {
	router := mux.NewRouter()

	router.Use(metrics.Middleware)
	router.Use(s.requestLogger)
	router.Use(s.recoverer)

	router.HandleFunc("/", s.handleHome).Methods(http.MethodGet)
	router.HandleFunc("/post/{slug}", s.handlePost).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/posts/more", s.handleMore).Methods(http.MethodPost)

	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/ready", s.handleReady).Methods(http.MethodGet)
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	router.PathPrefix("/static/").Handler(staticHandler(s.pages.assets)).Methods(http.MethodGet)

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.renderError(w, http.StatusNotFound, "Página não encontrada")
	})

	return router
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListingOptions is the CMS query behind the post listing.
func (s *Server) ListingOptions() prismic.QueryOptions {
	return prismic.QueryOptions{
		DocumentType: prismic.DocumentTypePosts,
		Fetch:        prismic.SummaryFields,
		PageSize:     s.opts.PageSize,
	}
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("Starting blog server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info().Msg("Shutting down blog server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// staticHandler serves the embedded assets under /static/.
func staticHandler(assets fs.FS) http.Handler {
	files := http.StripPrefix("/static/", http.FileServer(http.FS(assets)))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "public, max-age=3600")
		files.ServeHTTP(w, r)
	})
}

// statusWriter captures the response status for request logging.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", sw.status).
			Dur("duration", time.Since(start)).
			Msg("Request served")
	})
}

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error().
					Interface("panic", err).
					Bytes("stack", debug.Stack()).
					Str("path", r.URL.Path).
					Msg("Handler panicked")
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
