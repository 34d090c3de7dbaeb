package site

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/spacetraveling/blog/pkg/pagination"
	"github.com/spacetraveling/blog/pkg/post"
	"github.com/spacetraveling/blog/pkg/prismic"
	"github.com/spacetraveling/blog/pkg/readtime"
)

// maxStateBytes bounds the listing state a client may post back.
const maxStateBytes = 1 << 20

// moreResponse is the body of POST /api/posts/more. Error is set when the
// state could not be advanced; the state is then returned unchanged.
type moreResponse struct {
	pagination.PageState
	Error string `json:"error,omitempty"`
}

// MarshalJSON adds the error to the state's own encoding, which would
// otherwise be promoted and drop it.
func (r moreResponse) MarshalJSON() ([]byte, error) {
	state, err := json.Marshal(r.PageState)
	if err != nil || r.Error == "" {
		return state, err
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(state, &fields); err != nil {
		return nil, err
	}
	if fields["error"], err = json.Marshal(r.Error); err != nil {
		return nil, err
	}
	return json.Marshal(fields)
}

// listing returns the first page of posts accumulated with pages-1 further pages.
func (s *Server) listing(ctx context.Context, pages int) (pagination.PageState, error) {
	first, err := s.cms.Query(ctx, s.ListingOptions())
	if err != nil {
		return pagination.PageState{}, fmt.Errorf("query posts: %w", err)
	}

	state := pagination.NewPageState(first)
	if pages <= 1 {
		return state, nil
	}
	return s.accumulator.Drain(ctx, state, pages-1)
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	pages := 1
	if raw := r.URL.Query().Get("pages"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			s.renderError(w, http.StatusBadRequest, "Parâmetro pages inválido")
			return
		}
		if n > s.opts.MaxPages {
			s.renderError(w, http.StatusBadRequest, "Parâmetro pages acima do limite")
			return
		}
		pages = n
	}

	state, err := s.listing(r.Context(), pages)
	if err != nil {
		if len(state.Items) == 0 {
			s.logger.Error().Err(err).Msg("Listing unavailable")
			s.renderError(w, http.StatusBadGateway, "Não foi possível carregar os posts")
			return
		}
		// Render what was accumulated; the link retries the missing page.
		s.logger.Warn().Err(err).Int("items", len(state.Items)).Msg("Serving partial listing")
	}

	// The link never points past MaxPages; scripts keep loading through
	// data-next-page and POST /api/posts/more.
	var loadMore string
	if state.HasMore() && pages < s.opts.MaxPages {
		loadMore = "/?pages=" + strconv.Itoa(pages+1)
	}

	s.writePage(w, http.StatusOK, s.pages.home, homeView{
		Posts:       state.Items,
		NextPage:    state.NextPage,
		LoadMoreURL: loadMore,
	})
}

func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	slug := mux.Vars(r)["slug"]

	detail, err := s.cms.GetByUID(r.Context(), prismic.DocumentTypePosts, slug)
	if err != nil {
		if errors.Is(err, prismic.ErrNotFound) {
			s.renderError(w, http.StatusNotFound, "Post não encontrado")
			return
		}
		s.logger.Error().Err(err).Str("uid", slug).Msg("Post unavailable")
		s.renderError(w, http.StatusBadGateway, "Não foi possível carregar o post")
		return
	}

	s.writePage(w, http.StatusOK, s.pages.post, newPostView(detail))
}

func newPostView(detail *post.Detail) postView {
	return postView{
		Post:        detail,
		ReadingTime: readtime.Estimate(detail.Data.Content),
	}
}

func (s *Server) handleMore(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxStateBytes)

	var state pagination.PageState
	if err := json.NewDecoder(r.Body).Decode(&state); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid listing state: " + err.Error()})
		return
	}

	next, err := s.accumulator.Accumulate(r.Context(), state)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, moreResponse{PageState: next})
	case errors.Is(err, pagination.ErrExhausted), errors.Is(err, prismic.ErrInvalidLocator):
		writeJSON(w, http.StatusBadRequest, moreResponse{PageState: state, Error: err.Error()})
	default:
		writeJSON(w, http.StatusBadGateway, moreResponse{PageState: state, Error: "fetch next page failed"})
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.cms.Ping(r.Context()); err != nil {
		s.logger.Warn().Err(err).Msg("Readiness check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) renderError(w http.ResponseWriter, status int, message string) {
	s.writePage(w, status, s.pages.error, errorView{Status: status, Message: message})
}

func (s *Server) writePage(w http.ResponseWriter, status int, tmpl *template.Template, data any) {
	body, err := render(tmpl, data)
	if err != nil {
		s.logger.Error().Err(err).Msg("Template rendering failed")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	w.Write(body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
