package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lazypower/mnemo/internal/temporal"
)

func (s *Server) handleInsertFact(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Subject    string         `json:"subject"`
		Predicate  string         `json:"predicate"`
		Object     string         `json:"object"`
		ValidFrom  string         `json:"valid_from"`
		Confidence *float64       `json:"confidence"`
		Metadata   map[string]any `json:"metadata"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	from, err := parseTime("valid_from", req.ValidFrom)
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := s.facts.Insert(r.Context(), temporal.InsertInput{
		Namespace:  chi.URLParam(r, "ns"),
		Subject:    req.Subject,
		Predicate:  req.Predicate,
		Object:     req.Object,
		ValidFrom:  from,
		Confidence: req.Confidence,
		Metadata:   req.Metadata,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	status := http.StatusCreated
	if res.Updated {
		status = http.StatusOK
	}
	writeJSON(w, status, res)
}

func (s *Server) handleCurrentFact(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f, err := s.facts.Current(r.Context(), chi.URLParam(r, "ns"), q.Get("subject"), q.Get("predicate"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (s *Server) handleFactAt(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	at, err := parseTime("at", q.Get("at"))
	if err != nil {
		writeError(w, err)
		return
	}
	f, err := s.facts.QueryAt(r.Context(), chi.URLParam(r, "ns"), q.Get("subject"), q.Get("predicate"), at)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	facts, err := s.facts.Timeline(r.Context(), chi.URLParam(r, "ns"), q.Get("subject"), q.Get("predicate"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"facts": facts})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	at, err := parseTime("at", q.Get("at"))
	if err != nil {
		writeError(w, err)
		return
	}
	facts, err := s.facts.Snapshot(r.Context(), chi.URLParam(r, "ns"), q.Get("subject"), at)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"facts": facts})
}

func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	t1, err := parseTime("t1", q.Get("t1"))
	if err != nil {
		writeError(w, err)
		return
	}
	t2, err := parseTime("t2", q.Get("t2"))
	if err != nil {
		writeError(w, err)
		return
	}
	d, err := s.facts.Compare(r.Context(), chi.URLParam(r, "ns"), q.Get("subject"), q.Get("predicate"), t1, t2)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleVolatile(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 10)
	if err != nil {
		writeError(w, err)
		return
	}
	v, err := s.facts.MostVolatile(r.Context(), chi.URLParam(r, "ns"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pairs": v})
}

func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Subject   string `json:"subject"`
		Predicate string `json:"predicate"`
		At        string `json:"at"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	at, err := parseTime("at", req.At)
	if err != nil {
		writeError(w, err)
		return
	}
	f, err := s.facts.Invalidate(r.Context(), chi.URLParam(r, "ns"), req.Subject, req.Predicate, at)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (s *Server) handleGetFact(w http.ResponseWriter, r *http.Request) {
	f, err := s.facts.Get(r.Context(), chi.URLParam(r, "ns"), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (s *Server) handleUpdateFact(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Confidence *float64       `json:"confidence"`
		Metadata   map[string]any `json:"metadata"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	f, err := s.facts.Update(r.Context(), chi.URLParam(r, "ns"), chi.URLParam(r, "id"), req.Confidence, req.Metadata)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (s *Server) handlePurgeFact(w http.ResponseWriter, r *http.Request) {
	if err := s.facts.Purge(r.Context(), chi.URLParam(r, "ns"), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
