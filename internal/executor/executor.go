// Package executor holds the contracts shared by every executor: the frontend
// request shape and the streamed terminal event used by the backend runtimes.
package executor

import (
	"context"
	"fmt"
)

// Mode selects who supplies the document shell.
type Mode string

const (
	// ModeSimple: the executor builds its own document around the source.
	ModeSimple Mode = "simple"
	// ModeAdvanced: the caller supplies markup/style/code fragments to splice into.
	ModeAdvanced Mode = "advanced"
)

// ParseMode accepts "" as simple.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeSimple:
		return ModeSimple, nil
	case ModeAdvanced:
		return ModeAdvanced, nil
	}
	return "", fmt.Errorf("unknown execution mode %q", s)
}

// Files are the optional caller-supplied fragments for advanced mode.
type Files struct {
	Markup string `json:"markup,omitempty" yaml:"markup,omitempty"`
	Style  string `json:"style,omitempty" yaml:"style,omitempty"`
	Code   string `json:"code,omitempty" yaml:"code,omitempty"`
}

// Request is the frontend execution request.
type Request struct {
	Mode  Mode   `json:"mode"`
	Files *Files `json:"files,omitempty"`
}

// UseAdvanced reports whether the advanced path applies. Advanced mode without
// both markup and style silently degrades to simple.
func (r Request) UseAdvanced() bool {
	return r.Mode == ModeAdvanced && r.Files != nil && r.Files.Markup != "" && r.Files.Style != ""
}

// Frontend turns source text into a complete renderable document.
//
// Failures of the user's code are rendered inside the returned document; an
// error return means something went wrong in the executor itself.
type Frontend interface {
	Execute(ctx context.Context, code string, req Request) (string, error)
}

// StreamKind classifies a terminal event.
type StreamKind string

const (
	Stdout StreamKind = "stdout"
	Stderr StreamKind = "stderr"
	Error  StreamKind = "error"
)

// OutputEvent is one unit of streamed terminal output.
type OutputEvent struct {
	Kind StreamKind `json:"kind"`
	Text string     `json:"text"`
}
