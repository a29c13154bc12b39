package server

import (
	"encoding/json"
	"net/http"
)

// StatusHandler serves a JSON snapshot produced by Report on GET /status.
type StatusHandler struct {
	Report func(r *http.Request) (any, error)
}

func (h StatusHandler) Routes() []string {
	return []string{"GET /status"}
}

func (h StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	v, err := h.Report(r)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
