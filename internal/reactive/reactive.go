// Package reactive is a minimal render/bind/dispatch loop for templates that use
// {{ expr }} interpolation and (click)="method()" bindings.
//
// There is no virtual DOM. A Driver renders markup from state, records which
// methods the markup binds, and on every dispatched click runs the handler,
// re-renders and re-binds. The generated browser runtime for the approximated
// component framework follows exactly this loop; this package is its Go model.
package reactive

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// State is the component instance's property bag.
type State map[string]any

// Handler computes the next state from the current one.
type Handler func(State) State

// Component has the two capabilities the loop needs.
type Component interface {
	Render(State) string
	Handler(method string) (Handler, bool)
}

// Binding is one declarative event binding found in rendered markup.
type Binding struct {
	Event  string
	Method string
}

var (
	interpolation = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)
	clickBinding  = regexp.MustCompile(`\(click\)\s*=\s*(?:"([^"]*)"|'([^']*)')`)
)

// Interpolate replaces every {{ expr }} with the state value at expr. Dotted
// paths walk nested maps. Unknown paths render as the empty string.
func Interpolate(template string, state State) string {
	return interpolation.ReplaceAllStringFunc(template, func(m string) string {
		expr := interpolation.FindStringSubmatch(m)[1]
		v, ok := lookup(state, expr)
		if !ok || v == nil {
			return ""
		}
		return fmt.Sprint(v)
	})
}

func lookup(state State, path string) (any, bool) {
	var cur any = state
	for _, part := range strings.Split(path, ".") {
		var m map[string]any
		switch v := cur.(type) {
		case State:
			m = v
		case map[string]any:
			m = v
		default:
			return nil, false
		}
		next, ok := m[strings.TrimSpace(part)]
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

// ClickBindings lists the (click) bindings in markup in document order. The
// call parentheses are stripped: (click)="increment()" binds "increment".
func ClickBindings(markup string) []Binding {
	matches := clickBinding.FindAllStringSubmatch(markup, -1)
	bindings := make([]Binding, 0, len(matches))
	for _, m := range matches {
		expr := m[1]
		if expr == "" {
			expr = m[2]
		}
		if name := MethodName(expr); name != "" {
			bindings = append(bindings, Binding{Event: "click", Method: name})
		}
	}
	return bindings
}

// MethodName strips a trailing call expression: "save(1)" -> "save".
func MethodName(expr string) string {
	if i := strings.IndexByte(expr, '('); i >= 0 {
		expr = expr[:i]
	}
	return strings.TrimSpace(expr)
}

// ErrUnbound is returned when dispatching a method the current markup does not bind.
var ErrUnbound = errors.New("reactive: method is not bound in rendered markup")

// Template is a Component backed by an interpolation template and named handlers.
type Template struct {
	Source   string
	Handlers map[string]Handler
}

func (t Template) Render(s State) string { return Interpolate(t.Source, s) }

func (t Template) Handler(method string) (Handler, bool) {
	h, ok := t.Handlers[method]
	return h, ok
}

// Driver owns the state and the current render of one component.
type Driver struct {
	comp    Component
	state   State
	markup  string
	bound   map[string]struct{}
	renders int
}

// NewDriver performs the initial render and bind.
func NewDriver(c Component, initial State) *Driver {
	if initial == nil {
		initial = State{}
	}
	d := &Driver{comp: c, state: initial}
	d.update()
	return d
}

// update re-renders and rebuilds the binding set from scratch, so listeners
// never accumulate across renders.
func (d *Driver) update() {
	d.markup = d.comp.Render(d.state)
	d.bound = make(map[string]struct{})
	for _, b := range ClickBindings(d.markup) {
		d.bound[b.Method] = struct{}{}
	}
	d.renders++
}

// Dispatch handles a click on an element bound to method.
func (d *Driver) Dispatch(method string) error {
	if _, ok := d.bound[method]; !ok {
		return fmt.Errorf("%w: %s", ErrUnbound, method)
	}
	h, ok := d.comp.Handler(method)
	if !ok {
		// bound in markup but the component never defined it: ignored, as the browser runtime does
		return nil
	}
	d.state = h(d.state)
	d.update()
	return nil
}

func (d *Driver) Markup() string { return d.markup }
func (d *Driver) State() State   { return d.state }
func (d *Driver) Renders() int   { return d.renders }

// Bound reports whether method has a live listener in the current render.
func (d *Driver) Bound(method string) bool {
	_, ok := d.bound[method]
	return ok
}
