// Package fstree models the nested file templates mounted into a backend runtime.
//
// A Template maps a path segment to an Entry, which is either a file (Contents)
// or a directory (a nested Template). Flatten and Build convert between that
// tree and flat "dir/sub/file" -> contents pairs.
package fstree

import (
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Template is one directory level.
type Template map[string]Entry

// Entry is a file when Dir is nil, a directory otherwise.
type Entry struct {
	Contents string
	Dir      Template
}

// File returns a file entry.
func File(contents string) Entry { return Entry{Contents: contents} }

// Directory returns a directory entry.
func Directory(t Template) Entry {
	if t == nil {
		t = Template{}
	}
	return Entry{Dir: t}
}

func (e Entry) IsDir() bool { return e.Dir != nil }

var ErrInvalidPath = errors.New("invalid path")

// Flatten returns the path -> contents pairs of every file in t. Empty
// directories have no files and therefore no pairs.
func Flatten(t Template) map[string]string {
	out := make(map[string]string)
	flatten(t, "", out)
	return out
}

func flatten(t Template, prefix string, out map[string]string) {
	for name, e := range t {
		p := name
		if prefix != "" {
			p = prefix + "/" + name
		}
		if e.IsDir() {
			flatten(e.Dir, p, out)
			continue
		}
		out[p] = e.Contents
	}
}

// Build nests flat pairs back into a Template. A path that is both a file and a
// directory prefix of another path is an error.
func Build(files map[string]string) (Template, error) {
	root := Template{}
	// sorted so conflicts are reported deterministically
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, p := range paths {
		parts, err := split(p)
		if err != nil {
			return nil, err
		}
		dir := root
		for i, part := range parts[:len(parts)-1] {
			e, ok := dir[part]
			switch {
			case !ok:
				e = Directory(nil)
				dir[part] = e
			case !e.IsDir():
				return nil, fmt.Errorf("fstree: %s is a file, cannot nest %s: %w",
					strings.Join(parts[:i+1], "/"), p, ErrInvalidPath)
			}
			dir = e.Dir
		}
		leaf := parts[len(parts)-1]
		if e, ok := dir[leaf]; ok && e.IsDir() {
			return nil, fmt.Errorf("fstree: %s is a directory: %w", p, ErrInvalidPath)
		}
		dir[leaf] = File(files[p])
	}
	return root, nil
}

func split(p string) ([]string, error) {
	clean := path.Clean(strings.TrimPrefix(p, "./"))
	if p == "" || clean == "." || strings.HasPrefix(clean, "/") || clean == ".." || strings.HasPrefix(clean, "../") {
		return nil, fmt.Errorf("fstree: %q: %w", p, ErrInvalidPath)
	}
	return strings.Split(clean, "/"), nil
}

// Lookup returns the file at a slash-separated path.
func (t Template) Lookup(p string) (string, bool) {
	parts, err := split(p)
	if err != nil {
		return "", false
	}
	dir := t
	for _, part := range parts[:len(parts)-1] {
		e, ok := dir[part]
		if !ok || !e.IsDir() {
			return "", false
		}
		dir = e.Dir
	}
	e, ok := dir[parts[len(parts)-1]]
	if !ok || e.IsDir() {
		return "", false
	}
	return e.Contents, true
}

// With returns a copy of t that also holds contents at path p, creating
// intermediate directories.
func (t Template) With(p, contents string) (Template, error) {
	files := Flatten(t)
	files[p] = contents
	return Build(files)
}

// Size is the total byte length of every file.
func (t Template) Size() int {
	n := 0
	for _, c := range Flatten(t) {
		n += len(c)
	}
	return n
}

// MarshalJSON writes files as strings and directories as objects.
func (e Entry) MarshalJSON() ([]byte, error) {
	if e.IsDir() {
		return json.Marshal(e.Dir)
	}
	return json.Marshal(e.Contents)
}

// UnmarshalJSON accepts a string (file) or an object (directory).
func (e *Entry) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*e = File(s)
		return nil
	}
	var dir Template
	if err := json.Unmarshal(data, &dir); err != nil {
		return fmt.Errorf("fstree: entry must be a string or an object: %w", err)
	}
	*e = Directory(dir)
	return nil
}

// UnmarshalYAML accepts a scalar (file) or a mapping (directory).
func (e *Entry) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*e = File(node.Value)
		return nil
	case yaml.MappingNode:
		var dir Template
		if err := node.Decode(&dir); err != nil {
			return err
		}
		*e = Directory(dir)
		return nil
	}
	return fmt.Errorf("fstree: line %d: entry must be a string or a mapping", node.Line)
}
