package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/sakif/live-playground/internal/service"
)

// Renderer turns frontend source into a document; *service.RenderService
// implements it.
type Renderer interface {
	Render(ctx context.Context, req service.RenderRequest) (string, error)
}

// RenderHandler serves frontend previews.
type RenderHandler struct {
	renderer Renderer
	logger   *slog.Logger
}

func NewRenderHandler(renderer Renderer, logger *slog.Logger) *RenderHandler {
	return &RenderHandler{renderer: renderer, logger: logger}
}

// RenderResponse carries the document for the preview frame's srcdoc.
type RenderResponse struct {
	Document string `json:"document"`
}

// HandleRender renders a frontend framework's source.
//
// HTTP: POST /api/render
// REQUEST BODY: {"framework": "react", "code": "...", "mode": "simple", "files": {...}}
func (h *RenderHandler) HandleRender(w http.ResponseWriter, r *http.Request) {
	var req service.RenderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.logger.Warn("invalid render request body", slog.String("error", err.Error()))
		writeError(w, err)
		return
	}

	doc, err := h.renderer.Render(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, RenderResponse{Document: doc})
}
