package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/MimeLyc/transcript-collector/internal/checkpoint"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
	})
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, s.progress.Snapshot())
}

type statsResponse struct {
	Total        int            `json:"total"`
	Succeeded    int            `json:"succeeded"`
	SuccessRatio float64        `json:"success_ratio"`
	BySource     map[string]int `json:"by_source"`
	ByErrorKind  map[string]int `json:"by_error_kind"`
}

func newStatsResponse(st checkpoint.Stats) statsResponse {
	ret := statsResponse{
		Total:        st.Total,
		Succeeded:    st.Succeeded,
		SuccessRatio: st.SuccessRatio(),
		BySource:     make(map[string]int, len(st.BySource)),
		ByErrorKind:  make(map[string]int, len(st.ByErrorKind)),
	}
	for k, v := range st.BySource {
		ret.BySource[string(k)] = v
	}
	for k, v := range st.ByErrorKind {
		ret.ByErrorKind[string(k)] = v
	}
	return ret
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.stats == nil {
		writeError(w, http.StatusNotImplemented, "stats are not configured")
		return
	}
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	st, err := s.stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, newStatsResponse(st))
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if s.trigger == nil {
		writeError(w, http.StatusNotImplemented, "manual runs are not enabled")
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !s.trigger() {
		writeJSON(w, http.StatusConflict, map[string]any{
			"started": false,
			"error":   "a run is already in progress",
		})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"started": true,
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}
