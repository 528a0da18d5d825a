// Package compile turns JSON Schema documents into TypeScript declarations,
// both for the json→ts codec edge and for the /compile endpoint.
package compile

import (
	"context"
	"path"
	"strings"

	"github.com/mark3labs/docshift/internal/codec"
	"github.com/mark3labs/docshift/internal/emitter/tsemitter"
	"github.com/mark3labs/docshift/internal/schema"
)

// Compiler compiles schemas with one fixed policy.
type Compiler struct {
	// ExternalRefs decides whether $refs into other documents are fetched and
	// declared or left as unknown.
	ExternalRefs schema.ExternalRefs
	MaxDocuments int
	LoadOptions  []schema.Option
	Banner       string
}

var _ codec.TypeCompiler = (*Compiler)(nil)

// CompileTypes implements codec.TypeCompiler. The resource name is used for
// the root declaration when the schema has no title.
func (c *Compiler) CompileTypes(ctx context.Context, data []byte, src codec.Source) (string, error) {
	s, err := schema.LoadData(ctx, data, src.Location, c.LoadOptions...)
	if err != nil {
		return "", err
	}
	return c.render(ctx, s, src.Name)
}

// CompileURL fetches the schema at rawURL and compiles it. The last path
// segment, minus its extension, names the root when the schema has no title.
func (c *Compiler) CompileURL(ctx context.Context, rawURL string) (string, error) {
	s, err := schema.Load(ctx, rawURL, c.LoadOptions...)
	if err != nil {
		return "", err
	}
	return c.render(ctx, s, fallbackName(rawURL))
}

// Build loads and compiles input into a model, for callers that write files.
func (c *Compiler) Build(ctx context.Context, input, name string) (*schema.Model, error) {
	s, err := schema.Load(ctx, input, c.LoadOptions...)
	if err != nil {
		return nil, err
	}
	return schema.Build(ctx, s, c.buildOptions(fallbackName(input), schema.WithName(name))...)
}

func (c *Compiler) render(ctx context.Context, s *schema.Source, defaultName string) (string, error) {
	m, err := schema.Build(ctx, s, c.buildOptions(defaultName)...)
	if err != nil {
		return "", err
	}
	return tsemitter.Render(m, tsemitter.RenderOptions{Banner: c.Banner})
}

func (c *Compiler) buildOptions(defaultName string, extra ...schema.BuildOption) []schema.BuildOption {
	policy := c.ExternalRefs
	if policy == "" {
		policy = schema.ExternalRefsOpaque
	}
	opts := []schema.BuildOption{schema.WithExternalRefs(policy), schema.WithDefaultName(defaultName)}
	if c.MaxDocuments > 0 {
		opts = append(opts, schema.WithMaxDocuments(c.MaxDocuments))
	}
	return append(opts, extra...)
}

func fallbackName(input string) string {
	p := input
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	base := path.Base(strings.ReplaceAll(p, "\\", "/"))
	if base == "." || base == "/" {
		return ""
	}
	return strings.TrimSuffix(base, path.Ext(base))
}
