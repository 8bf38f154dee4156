package server

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/lazypower/mnemo/internal/engine"
	"github.com/lazypower/mnemo/internal/sector"
)

func (s *Server) handleListNamespaces(w http.ResponseWriter, r *http.Request) {
	list, err := s.engine.Registry.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"namespaces": list})
}

func (s *Server) handleGetNamespace(w http.ResponseWriter, r *http.Request) {
	ns, err := s.engine.Registry.Get(r.Context(), chi.URLParam(r, "ns"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ns)
}

func (s *Server) handleDescribeNamespace(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Description string `json:"description"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	name := chi.URLParam(r, "ns")
	if err := s.engine.Registry.Ensure(r.Context(), name); err != nil {
		writeError(w, err)
		return
	}
	if err := s.engine.Registry.Describe(r.Context(), name, req.Description); err != nil {
		writeError(w, err)
		return
	}
	s.handleGetNamespace(w, r)
}

func (s *Server) handleAddMemory(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content  string         `json:"content"`
		Sector   string         `json:"sector"`
		Salience *float64       `json:"salience"`
		Tags     []string       `json:"tags"`
		Metadata map[string]any `json:"metadata"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := s.engine.Add(r.Context(), engine.AddInput{
		Namespace: chi.URLParam(r, "ns"),
		Content:   req.Content,
		Sector:    sector.Sector(strings.ToLower(req.Sector)),
		Salience:  req.Salience,
		Tags:      req.Tags,
		Metadata:  req.Metadata,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleListMemories(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 100)
	if err != nil {
		writeError(w, err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		writeError(w, err)
		return
	}
	mems, err := s.engine.List(r.Context(), chi.URLParam(r, "ns"), limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"memories": mems})
}

func (s *Server) handleGetMemory(w http.ResponseWriter, r *http.Request) {
	m, err := s.engine.Get(r.Context(), chi.URLParam(r, "ns"), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleUpdateMemory(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content  *string        `json:"content"`
		Sector   string         `json:"sector"`
		Tags     *[]string      `json:"tags"`
		Metadata map[string]any `json:"metadata"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := s.engine.Update(r.Context(), engine.UpdateInput{
		Namespace: chi.URLParam(r, "ns"),
		ID:        chi.URLParam(r, "id"),
		Content:   req.Content,
		Sector:    sector.Sector(strings.ToLower(req.Sector)),
		Tags:      req.Tags,
		Metadata:  req.Metadata,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleDeleteMemory(w http.ResponseWriter, r *http.Request) {
	hard := r.URL.Query().Get("hard") == "true"
	if err := s.engine.Delete(r.Context(), chi.URLParam(r, "ns"), chi.URLParam(r, "id"), hard); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// handleReinforce serves both the namespaced and the bare memory route.
func (s *Server) handleReinforce(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Boost float64 `json:"boost"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	sal, err := s.engine.Reinforce(r.Context(), engine.ReinforceInput{
		Namespace: chi.URLParam(r, "ns"),
		ID:        chi.URLParam(r, "id"),
		Boost:     req.Boost,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "salience": sal})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query       string   `json:"query"`
		K           int      `json:"k"`
		Sectors     []string `json:"sectors"`
		Sector      string   `json:"sector"`
		MinSalience float64  `json:"min_salience"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	names := req.Sectors
	if req.Sector != "" {
		names = append(names, req.Sector)
	}
	sectors, err := sector.ParseList(names)
	if err != nil {
		writeError(w, err)
		return
	}
	results, err := s.engine.Query(r.Context(), engine.QueryInput{
		Namespace:   chi.URLParam(r, "ns"),
		Text:        req.Query,
		K:           req.K,
		Sectors:     sectors,
		MinSalience: req.MinSalience,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}
