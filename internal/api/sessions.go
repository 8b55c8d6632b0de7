package api

import (
	"net/http"

	"github.com/cynclan/cync-lan/internal/bridges/cync"
)

// sessionEntry is a session snapshot annotated with its election status.
type sessionEntry struct {
	cync.SessionStats
	Primary bool `json:"primary"`
}

// handleListSessions returns a snapshot of every live device session in
// arrival order, with the primary listener flagged.
func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	registry := s.bridge.Sessions()

	primaryID := ""
	if primary := registry.Primary(); primary != nil {
		primaryID = primary.ID()
	}

	stats := registry.Stats()
	entries := make([]sessionEntry, 0, len(stats))
	for _, st := range stats {
		entries = append(entries, sessionEntry{
			SessionStats: st,
			Primary:      primaryID != "" && st.ID == primaryID,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": entries,
		"count":    len(entries),
		"ready":    registry.ReadyCount(),
	})
}
