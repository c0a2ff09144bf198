package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/live-playground/internal/apperror"
	"github.com/sakif/live-playground/internal/registry"
)

// FrameworkHandler serves the framework catalog.
type FrameworkHandler struct {
	registry *registry.Registry
	logger   *slog.Logger
}

func NewFrameworkHandler(reg *registry.Registry, logger *slog.Logger) *FrameworkHandler {
	return &FrameworkHandler{registry: reg, logger: logger}
}

// HandleList returns every framework without its template.
//
// HTTP: GET /api/frameworks?kind=frontend|backend|fullstack
func (h *FrameworkHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	kind, err := registry.ParseKind(r.URL.Query().Get("kind"))
	if err != nil {
		writeError(w, apperror.ValidationFailed("kind", err.Error()))
		return
	}

	frameworks := h.registry.List(kind)
	out := make([]registry.Framework, 0, len(frameworks))
	for _, fw := range frameworks {
		out = append(out, fw.Summary())
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleGet returns one framework with its starter template.
//
// HTTP: GET /api/frameworks/{id}
func (h *FrameworkHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	fw, ok := h.registry.Get(id)
	if !ok {
		writeError(w, apperror.NotFound("framework", id))
		return
	}
	writeJSON(w, http.StatusOK, fw)
}
