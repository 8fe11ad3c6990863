package gateway

import (
	"encoding/json"
	"io"
	"net/http"
)

func (s *SimState) handleAdminStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Status())
}

// handleAdminReplay reconfigures the replay window and restarts the
// stream. Any change restarts from the window start under a fresh run.
func (s *SimState) handleAdminReplay(w http.ResponseWriter, r *http.Request) {
	var req ReplayRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, codeInvalidValue, "Invalid request body")
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, codeInvalidValue, "Invalid request body")
			return
		}
	}

	runID, bars, err := s.Reconfigure(r.Context(), req)
	if err != nil {
		s.log.Error("replay reconfigure failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, wireError{Code: codeInternal, Msg: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":     true,
		"run_id": runID,
		"bars":   bars,
	})
}
