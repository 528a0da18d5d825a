// Package codec parses fetched representations and converts them along the
// supported format edges.
package codec

import (
	"context"
	"errors"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/mark3labs/docshift/internal/format"
)

// Document is a parsed representation. Structured formats carry Tree, opaque
// formats carry Text.
type Document struct {
	Format format.Format
	Tree   *yaml.Node
	Text   string
}

// Source describes where a document came from.
type Source struct {
	// Name is the resource base name without directories or extension.
	Name string
	// Location is the URL or path the document was fetched from.
	Location string
}

// Converter renders doc in the target format of its edge.
type Converter func(ctx context.Context, doc *Document, src Source) (string, error)

// TypeCompiler turns a JSON Schema document into type declarations.
type TypeCompiler interface {
	CompileTypes(ctx context.Context, schema []byte, src Source) (string, error)
}

// Edge is an ordered pair of formats.
type Edge struct {
	From format.Format
	To   format.Format
}

// Set is the immutable table of converters. Build it once with NewSet and
// share it across requests.
type Set struct {
	edges map[Edge]Converter
}

// Option configures a Set during construction.
type Option func(*Set)

// WithTypeCompiler enables the json to ts edge.
func WithTypeCompiler(c TypeCompiler) Option {
	return func(s *Set) {
		if c == nil {
			return
		}
		s.edges[Edge{format.JSON, format.TypeScript}] = typesConverter(c)
	}
}

// WithConverter registers or replaces a single edge.
func WithConverter(from, to format.Format, conv Converter) Option {
	return func(s *Set) { s.edges[Edge{from, to}] = conv }
}

// NewSet builds a Set with the json, yaml, markdown and html edges.
func NewSet(opts ...Option) *Set {
	s := &Set{edges: map[Edge]Converter{
		{format.JSON, format.YAML}:     toYAML,
		{format.YAML, format.JSON}:     toJSON,
		{format.Markdown, format.HTML}: markdownToHTML,
		{format.HTML, format.Markdown}: htmlToMarkdown,
	}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Parse decodes content according to f.
func (s *Set) Parse(content []byte, f format.Format) (*Document, error) {
	switch f {
	case format.JSON:
		tree, err := parseJSONTree(content)
		if err != nil {
			return nil, parseFailed(f, err)
		}
		return &Document{Format: f, Tree: tree}, nil
	case format.YAML:
		tree, err := parseYAMLTree(content)
		if err != nil {
			return nil, parseFailed(f, err)
		}
		return &Document{Format: f, Tree: tree}, nil
	case format.Markdown, format.HTML:
		return &Document{Format: f, Text: string(content)}, nil
	default:
		return nil, &Error{Code: Unsupported, From: f, Message: "unsupported format: " + string(f)}
	}
}

// Convert renders doc as the format to.
func (s *Set) Convert(ctx context.Context, doc *Document, to format.Format, src Source) (string, error) {
	conv, ok := s.edges[Edge{doc.Format, to}]
	if !ok {
		return "", unsupported(doc.Format, to)
	}
	out, err := conv(ctx, doc, src)
	if err != nil {
		var ce *Error
		if errors.As(err, &ce) {
			return "", err
		}
		return "", renderFailed(doc.Format, to, err)
	}
	return out, nil
}

// Supports reports whether the edge from → to has a converter.
func (s *Set) Supports(from, to format.Format) bool {
	_, ok := s.edges[Edge{from, to}]
	return ok
}

// Edges lists the registered edges in a stable order.
func (s *Set) Edges() []Edge {
	out := make([]Edge, 0, len(s.edges))
	for e := range s.edges {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].From == out[j].From {
			return out[i].To < out[j].To
		}
		return out[i].From < out[j].From
	})
	return out
}

func typesConverter(c TypeCompiler) Converter {
	return func(ctx context.Context, doc *Document, src Source) (string, error) {
		raw, err := treeToJSON(doc.Tree, "")
		if err != nil {
			return "", err
		}
		return c.CompileTypes(ctx, raw, src)
	}
}
