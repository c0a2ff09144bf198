package frontend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/sakif/live-playground/internal/document"
	"github.com/sakif/live-playground/internal/executor"
	"github.com/sakif/live-playground/internal/reactive"
)

// Angular has no official in-browser runtime, so it is approximated. The
// @Component metadata literal is cut out of the source, the remaining class is
// transpiled with Babel, and the instance gets two synthesized methods: render,
// which substitutes {{ expr }} from instance properties, and attachEvents, which
// rebinds every (click) element and re-renders after each handled click.
type Angular struct{}

func NewAngular() *Angular { return &Angular{} }

var _ executor.Frontend = (*Angular)(nil)

func (a *Angular) Execute(ctx context.Context, code string, req executor.Request) (string, error) {
	return pipeline{
		deps:       []string{document.ExternalScript(BabelURL, nil)},
		scriptType: "module",
		body:       angularBody,
		mount:      angularMount,
	}.execute(ctx, code, req)
}

// Component is what the Go side learns from an Angular-style source file.
type Component struct {
	ClassName string
	// Metadata is the decorator's object literal, braces included.
	Metadata string
	Template string
	// Source is the file with the decorator call removed.
	Source string
	// State holds the literal field initializers of the class.
	State    reactive.State
	Bindings []reactive.Binding
}

var (
	errNoDecorator = errors.New("no @Component({...}) decorator found")
	errNoClass     = errors.New("no component class found after the decorator")

	decoratorStart = regexp.MustCompile(`@Component\s*\(`)
	className      = regexp.MustCompile(`\bclass\s+([A-Za-z_$][\w$]*)`)
	templateKey    = regexp.MustCompile(`\btemplate\s*:\s*`)
	fieldInit      = regexp.MustCompile(`(?m)^\s*(?:(?:public|private|protected|readonly)\s+)*([A-Za-z_$][\w$]*)\s*(?::\s*[^=;\n]+)?=\s*([^;\n]+?);?\s*$`)
)

// ParseComponent extracts the decorator metadata, template, class name and
// initial state from source.
func ParseComponent(source string) (*Component, error) {
	loc := decoratorStart.FindStringIndex(source)
	if loc == nil {
		return nil, errNoDecorator
	}
	args, argsEnd, err := ExtractBalanced(source, loc[1]-1)
	if err != nil {
		return nil, fmt.Errorf("decorator arguments: %w", err)
	}
	brace := strings.IndexByte(args, '{')
	if brace < 0 {
		return nil, errNoDecorator
	}
	meta, _, err := ExtractBalanced(args, brace)
	if err != nil {
		return nil, fmt.Errorf("decorator metadata: %w", err)
	}

	rest := stripModuleSyntax(source[:loc[0]] + source[argsEnd:])
	m := className.FindStringSubmatchIndex(rest)
	if m == nil {
		return nil, errNoClass
	}

	c := &Component{
		ClassName: rest[m[2]:m[3]],
		Metadata:  meta,
		Template:  templateOf(meta),
		Source:    rest,
		State:     reactive.State{},
	}
	if open := strings.IndexByte(rest[m[1]:], '{'); open >= 0 {
		if body, _, err := ExtractBalanced(rest, m[1]+open); err == nil {
			c.State = fieldState(body)
		}
	}
	c.Bindings = reactive.ClickBindings(c.Template)
	return c, nil
}

// templateOf returns the text of the metadata's template string, or "".
func templateOf(meta string) string {
	loc := templateKey.FindStringIndex(meta)
	if loc == nil || loc[1] >= len(meta) {
		return ""
	}
	start := loc[1]
	switch meta[start] {
	case '"', '\'', '`':
	default:
		return ""
	}
	end := skipString(meta, start)
	raw := meta[start+1 : end]
	if meta[start] == '`' {
		return raw
	}
	if s, err := strconv.Unquote(`"` + strings.ReplaceAll(strings.ReplaceAll(raw, `\'`, `'`), `"`, `\"`) + `"`); err == nil {
		return s
	}
	return raw
}

// fieldState collects literal field initializers (numbers, strings, booleans)
// from the top level of a class body. The first declaration of a name wins.
func fieldState(body string) reactive.State {
	state := reactive.State{}
	depth := 0
	var line strings.Builder
	flush := func() {
		if m := fieldInit.FindStringSubmatch(line.String()); m != nil {
			if _, seen := state[m[1]]; !seen {
				if v, ok := literal(strings.TrimSpace(m[2])); ok {
					state[m[1]] = v
				}
			}
		}
		line.Reset()
	}
	// only depth-1 lines are class members; method bodies sit deeper
	for i := 1; i < len(body)-1; i++ {
		c := body[i]
		switch c {
		case '{':
			depth++
		case '}':
			depth--
			line.Reset()
			continue
		case '\n', ';':
			if depth == 0 {
				flush()
			}
			line.Reset()
			continue
		}
		if depth == 0 {
			line.WriteByte(c)
		}
	}
	if depth == 0 {
		flush()
	}
	return state
}

func literal(s string) (any, bool) {
	switch s {
	case "true":
		return true, true
	case "false":
		return false, true
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, true
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f, true
	}
	if len(s) >= 2 && (s[0] == '\'' || s[0] == '"') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1], true
	}
	return nil, false
}

// angularMount pre-renders the template from the literal state so the frame has
// content before Babel loads.
func angularMount(code string) string {
	c, err := ParseComponent(code)
	if err != nil {
		return mountMarkup
	}
	return `<div id="` + MountID + `">` + reactive.Interpolate(c.Template, c.State) + `</div>`
}

func angularBody(code string) string {
	c, err := ParseComponent(code)
	if err != nil {
		msg, _ := json.Marshal(err.Error())
		return `__renderError("Component error: ", new Error(` + string(msg) + `));`
	}

	methods := make([]string, 0, len(c.Bindings))
	for _, b := range c.Bindings {
		methods = append(methods, b.Method)
	}
	bound, _ := json.Marshal(methods)

	program := c.Source + "\nreturn { Component: " + c.ClassName + ", meta: (" + c.Metadata + ") };"

	return `const source = ` + decodeExpr(encode(program)) + `;
const bindings = ` + string(bound) + `;
let compiled;
try {
  compiled = Babel.transform(source, {
    filename: "component.ts",
    presets: ["typescript"],
    parserOpts: { allowReturnOutsideFunction: true },
  }).code;
} catch (error) {
  __renderError("Transpile error: ", error);
}
if (compiled) {
  try {
    const { Component, meta } = new Function(compiled)();
    const template = meta.template || "";
    Component.prototype.render = function () {
      const self = this;
      return template.replace(/\{\{\s*([^{}]+?)\s*\}\}/g, function (m, expr) {
        const value = self[expr.trim()];
        return value === undefined || value === null ? "" : String(value);
      });
    };
    Component.prototype.attachEvents = function (root) {
      const self = this;
      root.querySelectorAll("[\\(click\\)]").forEach(function (el) {
        const method = el.getAttribute("(click)").replace(/\(.*$/, "").trim();
        // a fresh node carries no listeners from earlier renders
        const fresh = el.cloneNode(true);
        el.parentNode.replaceChild(fresh, el);
        fresh.addEventListener("click", function () {
          if (typeof self[method] !== "function") return;
          self[method]();
          self.update(root);
        });
      });
    };
    Component.prototype.update = function (root) {
      root.innerHTML = this.render();
      this.attachEvents(root);
    };
    const instance = new Component();
    bindings.forEach(function (name) {
      if (typeof instance[name] !== "function") console.warn("(click) binds undefined method " + name);
    });
    instance.update(document.getElementById("` + MountID + `"));
  } catch (error) {
    __renderError("Runtime error: ", error);
  }
}`
}
