package frontend

import (
	"context"

	"github.com/sakif/live-playground/internal/document"
	"github.com/sakif/live-playground/internal/executor"
)

// CDN builds shared with the full-stack coordinator.
const (
	ReactURL    = "https://unpkg.com/react@18/umd/react.development.js"
	ReactDOMURL = "https://unpkg.com/react-dom@18/umd/react-dom.development.js"
	BabelURL    = "https://unpkg.com/@babel/standalone/babel.min.js"
)

// ReactDeps are the script tags a JSX document needs, in load order.
func ReactDeps() []string {
	return []string{
		document.ExternalScript(ReactURL, map[string]string{"crossorigin": ""}),
		document.ExternalScript(ReactDOMURL, map[string]string{"crossorigin": ""}),
		document.ExternalScript(BabelURL, nil),
	}
}

// ReactBody wraps JSX so an App component, when defined, is mounted at #root.
func ReactBody(code string) string {
	// hooks are destructured outside the guard so user code may redeclare them
	return `const { useState, useEffect, useMemo, useRef, useCallback } = React;
` + guard(stripModuleSyntax(code)+`
if (typeof App !== "undefined") {
  ReactDOM.createRoot(document.getElementById("`+MountID+`")).render(<App />);
}`)
}

// React runs JSX through Babel in the browser.
type React struct{}

func NewReact() *React { return &React{} }

var _ executor.Frontend = (*React)(nil)

func (React) Execute(ctx context.Context, code string, req executor.Request) (string, error) {
	return pipeline{
		deps:       ReactDeps(),
		scriptType: "text/babel",
		body:       ReactBody,
	}.execute(ctx, code, req)
}
