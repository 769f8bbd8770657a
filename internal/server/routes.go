package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	gojson "github.com/goccy/go-json"

	"github.com/moforw/albaum/internal/engine"
	"github.com/moforw/albaum/internal/index"
)

type factView struct {
	Text      string `json:"text"`
	CreatedAt string `json:"createdAt,omitempty"`
	Version   int    `json:"version"`
}

func (s *Server) view(f *index.Fact) factView {
	return factView{
		Text:      f.Text,
		CreatedAt: s.engine.Main().Clock().Format(f.CreatedAt),
		Version:   f.Version,
	}
}

func (s *Server) views(fs []*index.Fact) []factView {
	res := make([]factView, len(fs))
	for i, f := range fs {
		res[i] = s.view(f)
	}
	return res
}

// status maps engine errors to HTTP status codes.
func status(err error) int {
	switch {
	case errors.Is(err, engine.ErrInputTooShort):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	}
	return http.StatusInternalServerError
}

func decode(r *http.Request, v any) error {
	return gojson.NewDecoder(r.Body).Decode(v)
}

func (s *Server) handleListFacts(w http.ResponseWriter, r *http.Request) {
	if text := r.URL.Query().Get("text"); text != "" {
		f, err := s.engine.Lookup(text)
		if err != nil {
			writeError(w, status(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, s.view(f))
		return
	}

	facts := s.engine.Facts()
	writeJSON(w, http.StatusOK, map[string]any{
		"facts": s.views(facts),
		"count": len(facts),
	})
}

func (s *Server) handleStoreFact(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	f, err := s.engine.Store(r.Context(), req.Text)
	if err != nil {
		writeError(w, status(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, s.view(f))
}

func (s *Server) handleEditFact(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text    string `json:"text"`
		NewText string `json:"newText"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	f, err := s.engine.Lookup(req.Text)
	if err != nil {
		writeError(w, status(err), err.Error())
		return
	}
	g, err := s.engine.Edit(r.Context(), f, req.NewText)
	if err != nil {
		writeError(w, status(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.view(g))
}

func (s *Server) handleDeleteFact(w http.ResponseWriter, r *http.Request) {
	text := r.URL.Query().Get("text")
	if text == "" {
		writeError(w, http.StatusBadRequest, "text parameter required")
		return
	}

	f, err := s.engine.Lookup(text)
	if err != nil {
		writeError(w, status(err), err.Error())
		return
	}
	if err := s.engine.Delete(r.Context(), f); err != nil {
		writeError(w, status(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type groupView struct {
	Key    string     `json:"key"`
	Score  int        `json:"score"`
	Pinned bool       `json:"pinned"`
	Single bool       `json:"single"`
	Facts  []factView `json:"facts"`
}

// handleSearch runs a search with the request context, so a client that
// gives up on a query never publishes its results.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")

	groups, err := s.engine.Search(r.Context(), q)
	if err != nil {
		writeError(w, status(err), err.Error())
		return
	}

	res := make([]groupView, len(groups))
	for i, g := range groups {
		res[i] = groupView{
			Key:    g.Key,
			Score:  g.Score,
			Pinned: g.Pinned,
			Single: g.Single(),
			Facts:  s.views(g.Facts),
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"query":   q,
		"results": res,
		"count":   len(res),
	})
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	input := r.URL.Query().Get("input")
	backspacing, _ := strconv.ParseBool(r.URL.Query().Get("backspacing"))

	c := s.engine.Check(input, backspacing)
	resp := map[string]any{
		"input":    c.Input,
		"extended": c.Extended,
	}
	if c.Match != nil {
		resp["match"] = s.view(c.Match)
	}
	writeJSON(w, http.StatusOK, resp)
}

type pinRequest struct {
	Texts []string `json:"texts"`
}

func (s *Server) handleListPins(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"pinned": s.engine.Pinned()})
}

func (s *Server) handlePin(w http.ResponseWriter, r *http.Request) {
	var req pinRequest
	if err := decode(r, &req); err != nil || len(req.Texts) == 0 {
		writeError(w, http.StatusBadRequest, "texts required")
		return
	}
	s.engine.Pin(req.Texts...)
	writeJSON(w, http.StatusOK, map[string]any{"pinned": s.engine.Pinned()})
}

func (s *Server) handleUnpin(w http.ResponseWriter, r *http.Request) {
	var req pinRequest
	if err := decode(r, &req); err != nil || len(req.Texts) == 0 {
		writeError(w, http.StatusBadRequest, "texts required")
		return
	}
	s.engine.Unpin(req.Texts...)
	writeJSON(w, http.StatusOK, map[string]any{"pinned": s.engine.Pinned()})
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"title":      s.engine.Title(s.version),
		"caption":    s.engine.Caption(),
		"font":       s.engine.Font(),
		"fontSize":   s.engine.FontSize(),
		"timeFormat": s.engine.TimeFormat(),
		"flash":      s.engine.CurrentFlash(),
	})
}

func (s *Server) handleSetFontSize(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Size int `json:"size"`
	}
	if err := decode(r, &req); err != nil || req.Size <= 0 {
		writeError(w, http.StatusBadRequest, "positive size required")
		return
	}
	if err := s.engine.SetFontSize(r.Context(), req.Size); err != nil {
		writeError(w, status(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"fontSize": s.engine.FontSize()})
}
