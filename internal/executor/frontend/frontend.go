// Package frontend implements one executor per UI framework. Each turns source
// text into a complete document for the preview frame.
//
// All executors share the same shape. Simple mode composes a fresh document with
// a #root mount point; advanced mode splices into caller-supplied markup. User
// code always runs inside a guard that renders the error in #root instead of
// leaving a blank frame, so Execute only fails on executor bugs.
package frontend

import (
	"context"
	"encoding/base64"
	"regexp"

	"github.com/sakif/live-playground/internal/document"
	"github.com/sakif/live-playground/internal/executor"
)

// MountID is the id of the element every executor renders into.
const MountID = "root"

// mountMarkup is the simple-mode root element.
const mountMarkup = `<div id="` + MountID + `"></div>`

// errorRenderer is emitted ahead of every guarded script.
const errorRenderer = `function __renderError(stage, error) {
  console.error(error);
  var root = document.getElementById("` + MountID + `") || document.body;
  var pre = document.createElement("pre");
  pre.style.cssText = "color: red; font-family: monospace; padding: 1rem; white-space: pre-wrap;";
  pre.textContent = stage + (error && error.message ? error.message : String(error));
  root.replaceChildren(pre);
}
window.addEventListener("error", function (event) {
  __renderError("Error: ", event.error || event.message);
});`

// pipeline is a framework's specialization of the shared pipeline.
type pipeline struct {
	// scripts declared ahead of the user's code, in load order
	deps []string
	// type attribute of the execution script
	scriptType string
	// body builds the execution script body for the given user code
	body func(code string) string
	// mount optionally replaces the simple-mode root (pre-rendered content)
	mount func(code string) string
}

// execute is the common Execute implementation.
func (rt pipeline) execute(ctx context.Context, code string, req executor.Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if req.UseAdvanced() {
		if req.Files.Code != "" {
			code = req.Files.Code
		}
		scripts := append(append([]string{}, rt.deps...), rt.script(code))
		return document.Splice(req.Files.Markup, req.Files.Style, scripts), nil
	}

	markup := mountMarkup
	if rt.mount != nil {
		markup = rt.mount(code)
	}
	return document.Compose(document.Parts{
		Markup:      markup,
		HeadScripts: rt.deps,
		BodyScripts: []string{rt.script(code)},
	}), nil
}

func (rt pipeline) script(code string) string {
	return document.InlineScript(errorRenderer+"\n"+rt.body(code), rt.scriptType)
}

// guard wraps code so a thrown error is rendered into the mount point.
func guard(code string) string {
	return "try {\n" + code + "\n} catch (error) {\n  __renderError(\"Error: \", error);\n}"
}

// encode base64s source so it can sit inside a script literal whatever it contains.
func encode(source string) string {
	return base64.StdEncoding.EncodeToString([]byte(source))
}

// decodeExpr is the JS expression that turns an encode()d literal back into UTF-8 text.
func decodeExpr(b64 string) string {
	return `new TextDecoder().decode(Uint8Array.from(atob("` + b64 + `"), function (c) { return c.charCodeAt(0); }))`
}

var (
	importLine    = regexp.MustCompile(`(?m)^\s*import\s[^;\n]*?from\s+["'][^"']+["'];?[ \t]*$|^\s*import\s+["'][^"']+["'];?[ \t]*$`)
	exportDefault = regexp.MustCompile(`(?m)^(\s*)export\s+default\s+`)
	exportNamed   = regexp.MustCompile(`(?m)^(\s*)export\s+(const|let|var|function|class)\b`)
)

// stripModuleSyntax drops import lines and export keywords. CDN globals stand in
// for the imports and the code runs as a plain block.
func stripModuleSyntax(code string) string {
	code = importLine.ReplaceAllString(code, "")
	code = exportDefault.ReplaceAllString(code, "$1")
	code = exportNamed.ReplaceAllString(code, "$1$2")
	return code
}
