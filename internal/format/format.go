// Package format holds the fixed table of representations a resource can be
// served as, and the path arithmetic that maps one representation onto another.
package format

import (
	"path"
	"sort"
	"strings"
)

// Format identifies a representation by its file extension token.
type Format string

const (
	JSON       Format = "json"
	YAML       Format = "yaml"
	Markdown   Format = "md"
	HTML       Format = "html"
	TypeScript Format = "ts"
)

type entry struct {
	mediaType  string
	structured bool
	alternate  Format
}

// registry is initialised once and never mutated. Alternates are per format,
// not per pair: ts is derived from json while json is derived from yaml.
var registry = map[Format]entry{
	JSON:       {mediaType: "application/json", structured: true, alternate: YAML},
	YAML:       {mediaType: "text/yaml", structured: true, alternate: JSON},
	Markdown:   {mediaType: "text/markdown", alternate: HTML},
	HTML:       {mediaType: "text/html", alternate: Markdown},
	TypeScript: {mediaType: "text/plain", alternate: JSON},
}

// Parse recognises an extension token. The leading dot is optional.
func Parse(token string) (Format, bool) {
	f := Format(strings.TrimPrefix(token, "."))
	if _, ok := registry[f]; !ok {
		return "", false
	}
	return f, true
}

// All returns the registered formats in a stable order.
func All() []Format {
	out := make([]Format, 0, len(registry))
	for f := range registry {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Alternate returns the single format f is derived from.
func Alternate(f Format) (Format, bool) {
	e, ok := registry[f]
	if !ok || e.alternate == "" {
		return "", false
	}
	return e.alternate, true
}

// Valid reports whether f is a registered format.
func (f Format) Valid() bool {
	_, ok := registry[f]
	return ok
}

// MediaType returns the bare MIME type, or "" for unknown formats.
func (f Format) MediaType() string { return registry[f].mediaType }

// ContentType returns the Content-Type header value for f.
func (f Format) ContentType() string {
	mt := f.MediaType()
	if mt == "" {
		return ""
	}
	return mt + "; charset=utf-8"
}

// Structured reports whether f parses into a tree value rather than opaque text.
func (f Format) Structured() bool { return registry[f].structured }

// Ext returns the extension including the leading dot.
func (f Format) Ext() string { return "." + string(f) }

func (f Format) String() string { return string(f) }

// Resource is a request path split into the shared resource name and the
// requested format. Name keeps the directory and any inner dots.
type Resource struct {
	Name   string
	Format Format
}

// SplitPath splits the final segment of p on its last dot. It fails when the
// segment has no dot, the base name is empty, or the token is not registered.
func SplitPath(p string) (Resource, bool) {
	dir, file := path.Split(p)
	idx := strings.LastIndexByte(file, '.')
	if idx <= 0 {
		return Resource{}, false
	}
	f, ok := Parse(file[idx+1:])
	if !ok {
		return Resource{}, false
	}
	return Resource{Name: dir + file[:idx], Format: f}, true
}

// Path rebuilds the resource path with f as its extension.
func (r Resource) Path(f Format) string { return r.Name + f.Ext() }

// Base returns the final segment of the resource name without directories.
func (r Resource) Base() string { return path.Base(r.Name) }
