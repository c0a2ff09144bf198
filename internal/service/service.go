// Package service contains the business logic layer of the application.
//
//	Handler (HTTP layer)     → parses requests, writes responses
//	Service (Business layer) → validates, enforces rules, orchestrates
//	Runtime / Repository     → runs code, reads/writes run history
//
// Services take primitives and domain types, never *http.Request, so the CLI
// uses the same RenderService as the server. They return apperror values and
// leave the status-code mapping to the handler.
package service

import (
	"fmt"

	"github.com/sakif/live-playground/internal/apperror"
	"github.com/sakif/live-playground/internal/fstree"
)

// Validation constants.
const (
	MaxCodeLength    = 200000  // ~200KB of source in one editor buffer
	MaxFilesSize     = 2000000 // ~2MB across a whole file tree
	MaxFileCount     = 500
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// validateTree checks a file tree against the size caps and rejects paths
// that would escape the working directory.
func validateTree(field string, t fstree.Template) error {
	files := fstree.Flatten(t)
	if len(files) > MaxFileCount {
		return apperror.ValidationFailed(field,
			fmt.Sprintf("at most %d files are allowed", MaxFileCount))
	}
	size := 0
	for _, contents := range files {
		size += len(contents)
	}
	if size > MaxFilesSize {
		return apperror.ValidationFailed(field,
			fmt.Sprintf("files must total %d bytes or less", MaxFilesSize))
	}
	if _, err := fstree.Build(files); err != nil {
		return apperror.ValidationFailed(field, err.Error())
	}
	return nil
}

func clampList(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
