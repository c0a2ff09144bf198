// Package fullstack runs a backend template that also serves a prepared
// frontend document from its own origin.
package fullstack

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/sakif/live-playground/internal/executor"
	"github.com/sakif/live-playground/internal/executor/frontend"
	"github.com/sakif/live-playground/internal/fstree"
	"github.com/sakif/live-playground/internal/runtime"
)

const (
	// Placeholder stands for the backend address in frontend source. The
	// frontend is served by the backend itself, so it is replaced with "".
	Placeholder = "__BACKEND_URL__"
	// FrontendPath is where the prepared document lands in the backend tree.
	FrontendPath = "public/index.html"

	MarkupFile = "index.html"
	StyleFile  = "style.css"
)

// CodeFiles are the frontend entry candidates, first present wins.
var CodeFiles = []string{"App.jsx", "app.jsx", "main.jsx", "app.js"}

// Template is a full-stack file set.
type Template struct {
	Files Files `json:"files" yaml:"files"`
}

type Files struct {
	Frontend fstree.Template `json:"frontend" yaml:"frontend"`
	Backend  fstree.Template `json:"backend" yaml:"backend"`
}

// Callbacks receive progress. Any of them may be nil.
type Callbacks struct {
	OnBackendOutput runtime.OutputFunc
	OnBackendReady  func(url string)
	OnFrontendReady func(url string)
	OnError         func(message string)
}

// Runner starts backend trees; *runtime.Orchestrator implements it.
type Runner interface {
	Execute(ctx context.Context, files fstree.Template, onOutput runtime.OutputFunc, onReady runtime.ReadyFunc) (runtime.State, error)
	Cleanup(ctx context.Context) error
}

// Coordinator sequences the frontend preparation and the backend run.
type Coordinator struct {
	runner Runner
	react  *frontend.React
	logger *slog.Logger

	mu         sync.Mutex
	backendURL string
	running    bool
}

func New(runner Runner, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		runner: runner,
		react:  frontend.NewReact(),
		logger: logger,
	}
}

// PrepareFrontend builds the document the backend will serve: the frontend
// fragments with the placeholder removed, spliced the way the React executor
// does it so the React runtime is always present.
func (c *Coordinator) PrepareFrontend(ctx context.Context, files fstree.Template) (string, error) {
	strip := func(s string) string { return strings.ReplaceAll(s, Placeholder, "") }

	markup, _ := files.Lookup(MarkupFile)
	style, _ := files.Lookup(StyleFile)
	var code string
	for _, name := range CodeFiles {
		if src, ok := files.Lookup(name); ok {
			code = src
			break
		}
	}

	req := executor.Request{
		Mode:  executor.ModeAdvanced,
		Files: &executor.Files{Markup: strip(markup), Style: strip(style), Code: strip(code)},
	}
	doc, err := c.react.Execute(ctx, strip(code), req)
	if err != nil {
		return "", fmt.Errorf("preparing frontend: %w", err)
	}
	return doc, nil
}

// Execute prepares the frontend, adds it to the backend tree and runs the
// backend. OnBackendReady is always called before OnFrontendReady, with the
// same URL.
//
// A readiness timeout returns StateTimeout and neither ready callback fires.
// Errors are passed to OnError and returned.
func (c *Coordinator) Execute(ctx context.Context, tmpl Template, cb Callbacks) (runtime.State, error) {
	state, err := c.execute(ctx, tmpl, cb)
	if err != nil {
		c.logger.Error("full-stack execution failed", slog.String("error", err.Error()))
		if cb.OnError != nil {
			cb.OnError(err.Error())
		}
		return runtime.StateFailed, err
	}
	return state, nil
}

func (c *Coordinator) execute(ctx context.Context, tmpl Template, cb Callbacks) (runtime.State, error) {
	doc, err := c.PrepareFrontend(ctx, tmpl.Files.Frontend)
	if err != nil {
		return "", err
	}
	backend, err := tmpl.Files.Backend.With(FrontendPath, doc)
	if err != nil {
		return "", fmt.Errorf("adding frontend to backend files: %w", err)
	}

	c.setSession("", false)
	ready := make(chan string, 1)
	state, err := c.runner.Execute(ctx, backend, cb.OnBackendOutput, func(url string) {
		c.setSession(url, true)
		if cb.OnBackendReady != nil {
			cb.OnBackendReady(url)
		}
		select {
		case ready <- url:
		default:
		}
	})
	if err != nil {
		return "", err
	}

	select {
	case url := <-ready:
		c.logger.Info("full-stack app ready", slog.String("url", url))
		if cb.OnFrontendReady != nil {
			cb.OnFrontendReady(url)
		}
	default:
		c.logger.Warn("backend never reported ready, frontend not announced", slog.String("state", string(state)))
	}
	return state, nil
}

// Cleanup stops the backend if one is marked running and clears the session.
func (c *Coordinator) Cleanup(ctx context.Context) error {
	var err error
	if c.IsRunning() {
		err = c.runner.Cleanup(ctx)
	}
	c.setSession("", false)
	return err
}

func (c *Coordinator) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *Coordinator) BackendURL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.backendURL
}

func (c *Coordinator) setSession(url string, running bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.backendURL, c.running = url, running
}
