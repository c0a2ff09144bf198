package handler

import "net/http"

// HealthHandler answers liveness probes.
type HealthHandler struct {
	// current reports the run the runtime is tracking, if any
	current func() (string, bool)
}

func NewHealthHandler(current func() (string, bool)) *HealthHandler {
	return &HealthHandler{current: current}
}

// HandleHealth reports that the server is up.
//
// HTTP: GET /healthz
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]string{"status": "ok"}
	if h.current != nil {
		if id, ok := h.current(); ok {
			body["currentRun"] = id
		}
	}
	writeJSON(w, http.StatusOK, body)
}
