package api

import (
	"net/http"
	"strconv"
)

// handleListDevices returns every attached device with its bound role, if any.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	writeOK(w, s.state.Views())
}

// handleDeviceHistory returns persisted sightings, newest first.
// Accepts an optional ?limit= query parameter.
func (s *Server) handleDeviceHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, CodeNotFound)
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, CodeInvalidParam)
			return
		}
		limit = n
	}

	sightings, err := s.history.List(r.Context(), limit)
	if err != nil {
		s.logger.Error("listing device sightings", "error", err)
		writeError(w, CodeDBError)
		return
	}

	writeOK(w, sightings)
}
