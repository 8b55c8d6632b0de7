package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// handleListGroups returns all groups with their aggregated state.
//
// Query parameters:
//   - subgroup: filter by subgroup flag (true/false)
func (s *Server) handleListGroups(w http.ResponseWriter, r *http.Request) {
	groups := s.registry.Groups()

	if subStr := r.URL.Query().Get("subgroup"); subStr != "" {
		sub, err := strconv.ParseBool(subStr)
		if err != nil {
			writeBadRequest(w, "invalid subgroup filter")
			return
		}
		filtered := groups[:0]
		for _, g := range groups {
			if g.Subgroup == sub {
				filtered = append(filtered, g)
			}
		}
		groups = filtered
	}

	writeJSON(w, http.StatusOK, map[string]any{"groups": groups, "count": len(groups)})
}

// handleGetGroup returns a single group by mesh ID.
func (s *Server) handleGetGroup(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeBadRequest(w, "invalid group ID")
		return
	}

	group, ok := s.registry.GetGroup(id)
	if !ok {
		writeNotFound(w, "group not found")
		return
	}

	writeJSON(w, http.StatusOK, group)
}
