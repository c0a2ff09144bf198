package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sakif/live-playground/internal/apperror"
	"github.com/sakif/live-playground/internal/executor"
	"github.com/sakif/live-playground/internal/registry"
)

// RenderRequest asks a frontend executor for a document.
type RenderRequest struct {
	Framework string          `json:"framework"`
	Code      string          `json:"code"`
	Mode      string          `json:"mode"`
	Files     *executor.Files `json:"files,omitempty"`
}

// RenderService turns frontend source into renderable documents.
type RenderService struct {
	registry *registry.Registry
	logger   *slog.Logger
}

func NewRenderService(reg *registry.Registry, logger *slog.Logger) *RenderService {
	return &RenderService{
		registry: reg,
		logger:   logger,
	}
}

// Render validates the request and runs the framework's executor. Errors in
// the user's code never fail here; they are rendered inside the document.
//
// Empty code with no files renders the framework's starter template.
func (s *RenderService) Render(ctx context.Context, req RenderRequest) (string, error) {
	fw, ok := s.registry.Get(req.Framework)
	if !ok {
		return "", apperror.NotFound("framework", req.Framework)
	}
	if fw.Kind != registry.KindFrontend {
		return "", apperror.ValidationFailed("framework",
			fmt.Sprintf("%s is a %s framework and cannot be rendered", fw.ID, fw.Kind))
	}

	mode, err := executor.ParseMode(req.Mode)
	if err != nil {
		return "", apperror.ValidationFailed("mode", err.Error())
	}

	size := len(req.Code)
	if req.Files != nil {
		size += len(req.Files.Markup) + len(req.Files.Style) + len(req.Files.Code)
	}
	if size > MaxCodeLength {
		return "", apperror.ValidationFailed("code",
			fmt.Sprintf("code must be %d characters or less", MaxCodeLength))
	}

	code := req.Code
	if code == "" && req.Files == nil {
		code = fw.Template.Code
	}

	doc, err := fw.Executor.Execute(ctx, code, executor.Request{Mode: mode, Files: req.Files})
	if err != nil {
		return "", fmt.Errorf("rendering %s: %w", fw.ID, err)
	}

	s.logger.Debug("document rendered",
		slog.String("framework", fw.ID),
		slog.String("mode", string(mode)),
		slog.Int("bytes", len(doc)),
	)
	return doc, nil
}
