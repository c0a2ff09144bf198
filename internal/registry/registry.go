// Package registry maps framework ids to their metadata, starter templates
// and, for frontend frameworks, their executors.
package registry

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/sakif/live-playground/internal/executor"
	"github.com/sakif/live-playground/internal/executor/frontend"
	"github.com/sakif/live-playground/internal/fstree"
	"github.com/sakif/live-playground/internal/fullstack"
)

//go:embed catalog.yaml
var catalog []byte

type Kind string

const (
	KindFrontend  Kind = "frontend"
	KindBackend   Kind = "backend"
	KindFullstack Kind = "fullstack"
)

// ParseKind accepts "" as "any kind".
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case "", KindFrontend, KindBackend, KindFullstack:
		return k, nil
	}
	return "", fmt.Errorf("unknown framework kind %q", s)
}

// Template is a framework's starter source. Frontend frameworks use Code and
// optionally Files; backend frameworks use Backend; full-stack ones use both
// Frontend and Backend.
type Template struct {
	Code     string          `json:"code,omitempty" yaml:"code"`
	Files    *executor.Files `json:"files,omitempty" yaml:"files"`
	Frontend fstree.Template `json:"frontend,omitempty" yaml:"frontend"`
	Backend  fstree.Template `json:"backend,omitempty" yaml:"backend"`
}

type Framework struct {
	ID          string    `json:"id" yaml:"id"`
	Name        string    `json:"name" yaml:"name"`
	Kind        Kind      `json:"kind" yaml:"kind"`
	Language    string    `json:"language" yaml:"language"`
	Description string    `json:"description" yaml:"description"`
	Template    *Template `json:"template,omitempty" yaml:"template"`

	Executor executor.Frontend `json:"-" yaml:"-"`
}

// Summary is the framework without its template.
func (f Framework) Summary() Framework {
	f.Template = nil
	return f
}

// Fullstack returns the template as a full-stack file set.
func (f Framework) Fullstack() fullstack.Template {
	if f.Template == nil {
		return fullstack.Template{}
	}
	return fullstack.Template{Files: fullstack.Files{Frontend: f.Template.Frontend, Backend: f.Template.Backend}}
}

// Registry is an immutable framework lookup.
type Registry struct {
	frameworks []Framework
	byID       map[string]int
}

// DefaultExecutors returns one executor per built-in frontend framework.
func DefaultExecutors() map[string]executor.Frontend {
	return map[string]executor.Frontend{
		"react":   frontend.NewReact(),
		"vue":     frontend.NewVue(),
		"svelte":  frontend.NewSvelte(),
		"angular": frontend.NewAngular(),
		"vanilla": frontend.NewVanilla(),
	}
}

// Default loads the embedded catalog with the built-in executors.
func Default() (*Registry, error) {
	return Load(catalog, DefaultExecutors())
}

// Load parses a YAML catalog. Every frontend framework must have an executor.
func Load(data []byte, executors map[string]executor.Frontend) (*Registry, error) {
	var doc struct {
		Frameworks []Framework `yaml:"frameworks"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing catalog: %w", err)
	}

	r := &Registry{byID: make(map[string]int, len(doc.Frameworks))}
	for _, f := range doc.Frameworks {
		if f.ID == "" {
			return nil, fmt.Errorf("catalog: framework without id")
		}
		if _, dup := r.byID[f.ID]; dup {
			return nil, fmt.Errorf("catalog: duplicate framework %q", f.ID)
		}
		switch f.Kind {
		case KindFrontend:
			exec, ok := executors[f.ID]
			if !ok {
				return nil, fmt.Errorf("catalog: no executor for frontend framework %q", f.ID)
			}
			f.Executor = exec
		case KindBackend, KindFullstack:
		default:
			return nil, fmt.Errorf("catalog: framework %q has unknown kind %q", f.ID, f.Kind)
		}
		if f.Template == nil {
			f.Template = &Template{}
		}
		r.byID[f.ID] = len(r.frameworks)
		r.frameworks = append(r.frameworks, f)
	}
	return r, nil
}

// Get looks a framework up by exact, case-sensitive id.
func (r *Registry) Get(id string) (Framework, bool) {
	i, ok := r.byID[id]
	if !ok {
		return Framework{}, false
	}
	return r.frameworks[i], true
}

func (r *Registry) Has(id string) bool {
	_, ok := r.byID[id]
	return ok
}

// List returns frameworks of the kind in catalog order; "" lists all.
func (r *Registry) List(kind Kind) []Framework {
	out := make([]Framework, 0, len(r.frameworks))
	for _, f := range r.frameworks {
		if kind == "" || f.Kind == kind {
			out = append(out, f)
		}
	}
	return out
}

func (r *Registry) Frontend() []Framework { return r.List(KindFrontend) }

func (r *Registry) Backend() []Framework { return r.List(KindBackend) }

func (r *Registry) Fullstack() []Framework { return r.List(KindFullstack) }
