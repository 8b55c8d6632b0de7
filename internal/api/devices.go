package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// handleListDevices returns all devices with their current state.
//
// Query parameters:
//   - home: filter by home ID
//   - online: filter by availability (true/false)
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices := s.registry.Devices()

	if homeStr := r.URL.Query().Get("home"); homeStr != "" {
		homeID, err := strconv.Atoi(homeStr)
		if err != nil {
			writeBadRequest(w, "invalid home ID")
			return
		}
		filtered := devices[:0]
		for _, d := range devices {
			if d.HomeID == homeID {
				filtered = append(filtered, d)
			}
		}
		devices = filtered
	}

	if onlineStr := r.URL.Query().Get("online"); onlineStr != "" {
		online, err := strconv.ParseBool(onlineStr)
		if err != nil {
			writeBadRequest(w, "invalid online filter")
			return
		}
		filtered := devices[:0]
		for _, d := range devices {
			if d.Online == online {
				filtered = append(filtered, d)
			}
		}
		devices = filtered
	}

	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleGetDevice returns a single device by mesh ID.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id, err := parseDeviceID(r)
	if err != nil {
		writeBadRequest(w, "invalid device ID")
		return
	}

	dev, ok := s.registry.GetDevice(id)
	if !ok {
		writeNotFound(w, "device not found")
		return
	}

	writeJSON(w, http.StatusOK, dev)
}

// handleDeviceHistory returns state-transition journal entries for a device.
//
// Query parameters:
//   - limit: maximum entries to return (default 50, capped at 200)
//   - since: RFC3339 timestamp; entries at or before it are dropped
func (s *Server) handleDeviceHistory(w http.ResponseWriter, r *http.Request) {
	id, err := parseDeviceID(r)
	if err != nil {
		writeBadRequest(w, "invalid device ID")
		return
	}

	limit, err := parseHistoryLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	since, err := parseSinceParam(r.URL.Query().Get("since"))
	if err != nil {
		writeBadRequest(w, "invalid since timestamp")
		return
	}

	if _, ok := s.registry.GetDevice(id); !ok {
		writeNotFound(w, "device not found")
		return
	}

	if s.history == nil {
		writeUnavailable(w, "state history is not enabled")
		return
	}

	entries, err := s.history.History(r.Context(), id, limit)
	if err != nil {
		s.logger.Error("history query failed", "device", id, "error", err)
		writeInternalError(w, "failed to load device history")
		return
	}

	if !since.IsZero() {
		filtered := entries[:0]
		for _, entry := range entries {
			if entry.CreatedAt.After(since) {
				filtered = append(filtered, entry)
			}
		}
		entries = filtered
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": id,
		"history":   entries,
		"count":     len(entries),
	})
}

// parseDeviceID parses the {id} path parameter as a mesh device ID.
func parseDeviceID(r *http.Request) (int, error) {
	return strconv.Atoi(chi.URLParam(r, "id"))
}

// parseHistoryLimit parses the limit query parameter with bounds enforcement.
func parseHistoryLimit(raw string) (int, error) {
	if raw == "" {
		return defaultHistoryLimit, nil
	}

	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, fmt.Errorf("invalid limit")
	}
	if limit > maxHistoryLimit {
		return 0, fmt.Errorf("limit exceeds maximum of %d", maxHistoryLimit)
	}

	return limit, nil
}

// parseSinceParam parses the since parameter as RFC3339.
func parseSinceParam(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}

	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, err
	}
	return parsed.UTC(), nil
}
