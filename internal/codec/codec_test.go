package codec_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/mark3labs/docshift/internal/codec"
	"github.com/mark3labs/docshift/internal/format"
)

func convert(t *testing.T, s *codec.Set, content string, from, to format.Format) string {
	t.Helper()
	doc, err := s.Parse([]byte(content), from)
	require.NoError(t, err)
	out, err := s.Convert(context.Background(), doc, to, codec.Source{Name: "spec"})
	require.NoError(t, err)
	return out
}

func TestJSONToYAML(t *testing.T) {
	t.Parallel()

	out := convert(t, codec.NewSet(), `{"a":1}`, format.JSON, format.YAML)
	assert.Equal(t, "a: 1\n", out)

	var v map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &v))
	assert.Equal(t, map[string]any{"a": 1}, v)
}

func TestJSONToYAML_keepsKeyOrderAndQuotesAmbiguousStrings(t *testing.T) {
	t.Parallel()

	out := convert(t, codec.NewSet(), `{"zeta":"1","alpha":{"on":"true","list":[1,"two"]}}`, format.JSON, format.YAML)

	var doc yaml.Node
	require.NoError(t, yaml.Unmarshal([]byte(out), &doc))
	root := doc.Content[0]
	assert.Equal(t, "zeta", root.Content[0].Value)
	assert.Equal(t, "alpha", root.Content[2].Value)
	assert.Equal(t, "!!str", root.Content[1].ShortTag())

	var v map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &v))
	assert.Equal(t, "1", v["zeta"])
	assert.Equal(t, "true", v["alpha"].(map[string]any)["on"])
	assert.NotContains(t, out, "{")
}

func TestYAMLToJSON(t *testing.T) {
	t.Parallel()

	in := "b: 2\na:\n  - x\n  - <y>\nc: null\n"
	out := convert(t, codec.NewSet(), in, format.YAML, format.JSON)
	assert.Equal(t, "{\n  \"b\": 2,\n  \"a\": [\n    \"x\",\n    \"<y>\"\n  ],\n  \"c\": null\n}", out)
}

func TestYAMLToJSON_aliasesAndEmptyCollections(t *testing.T) {
	t.Parallel()

	in := "base: &b {k: v}\ncopy: *b\nempty: {}\nnone: []\n"
	out := convert(t, codec.NewSet(), in, format.YAML, format.JSON)

	var v map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &v))
	assert.Equal(t, map[string]any{"k": "v"}, v["copy"])
	assert.Equal(t, map[string]any{}, v["empty"])
	assert.Equal(t, []any{}, v["none"])
}

// nestedAliases builds a document whose levels each repeat the previous
// anchor ten times.
func nestedAliases(levels int) string {
	var b strings.Builder
	b.WriteString("l0: &l0 [x, x, x, x, x, x, x, x, x, x]\n")
	for i := 1; i <= levels; i++ {
		fmt.Fprintf(&b, "l%d: &l%d [", i, i)
		for j := 0; j < 10; j++ {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "*l%d", i-1)
		}
		b.WriteString("]\n")
	}
	return b.String()
}

func TestParse_excessiveAliasing(t *testing.T) {
	t.Parallel()

	_, err := codec.NewSet().Parse([]byte(nestedAliases(8)), format.YAML)
	require.Error(t, err)

	var ce *codec.Error
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, codec.ParseFailed, ce.Code)
	assert.Equal(t, 502, ce.StatusCode())
	assert.Contains(t, err.Error(), "excessive aliasing")
}

func TestParse_recursiveAnchor(t *testing.T) {
	t.Parallel()

	_, err := codec.NewSet().Parse([]byte("a: &a [1, *a]\n"), format.YAML)
	var ce *codec.Error
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, codec.ParseFailed, ce.Code)
}

func TestYAMLToJSON_modestAliasing(t *testing.T) {
	t.Parallel()

	out := convert(t, codec.NewSet(), nestedAliases(2), format.YAML, format.JSON)

	var v map[string][]any
	require.NoError(t, json.Unmarshal([]byte(out), &v))
	assert.Len(t, v["l2"], 10)
}

func TestYAMLToJSON_nonFiniteFloatsBecomeNull(t *testing.T) {
	t.Parallel()

	out := convert(t, codec.NewSet(), "a: .inf\nb: -.Inf\nc: .nan\nd: 1.5\n", format.YAML, format.JSON)
	assert.Equal(t, "{\n  \"a\": null,\n  \"b\": null,\n  \"c\": null,\n  \"d\": 1.5\n}", out)
}

func TestYAMLToJSON_duplicateKeyLastValueWins(t *testing.T) {
	t.Parallel()

	out := convert(t, codec.NewSet(), "a: 1\nb: 2\na: 3\n", format.YAML, format.JSON)
	assert.Equal(t, "{\n  \"a\": 3,\n  \"b\": 2\n}", out)
}

func TestRoundTrip_JSONYAMLJSON(t *testing.T) {
	t.Parallel()

	s := codec.NewSet()
	in := `{"openapi":"3.1.0","info":{"title":"Pets","version":"1.0"},"paths":{"/pets":{"get":{"responses":{"200":{"description":"ok"}}}}},"tags":[],"n":1.5,"flag":false,"nil":null}`

	yml := convert(t, s, in, format.JSON, format.YAML)
	back := convert(t, s, yml, format.YAML, format.JSON)

	var want, got any
	require.NoError(t, json.Unmarshal([]byte(in), &want))
	require.NoError(t, json.Unmarshal([]byte(back), &got))
	assert.Equal(t, want, got)
}

func TestMarkdownToHTML(t *testing.T) {
	t.Parallel()

	out := convert(t, codec.NewSet(), "# Title", format.Markdown, format.HTML)
	assert.Contains(t, out, "<h1>Title</h1>")
}

func TestHTMLToMarkdown(t *testing.T) {
	t.Parallel()

	out := convert(t, codec.NewSet(), "<h1>Title</h1><p>Some <strong>bold</strong> text.</p>", format.HTML, format.Markdown)
	assert.Contains(t, out, "# Title")
	assert.Contains(t, out, "**bold**")
}

func TestParse_invalidJSON(t *testing.T) {
	t.Parallel()

	_, err := codec.NewSet().Parse([]byte(`{"a":`), format.JSON)
	require.Error(t, err)

	var ce *codec.Error
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, codec.ParseFailed, ce.Code)
	assert.Equal(t, 502, ce.StatusCode())
}

func TestParse_invalidYAML(t *testing.T) {
	t.Parallel()

	_, err := codec.NewSet().Parse([]byte("a: [1, 2\n"), format.YAML)
	var ce *codec.Error
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, codec.ParseFailed, ce.Code)
}

func TestParse_opaquePassesThrough(t *testing.T) {
	t.Parallel()

	doc, err := codec.NewSet().Parse([]byte("<p>x</p>"), format.HTML)
	require.NoError(t, err)
	assert.Equal(t, "<p>x</p>", doc.Text)
	assert.Nil(t, doc.Tree)
}

func TestConvert_unsupported(t *testing.T) {
	t.Parallel()

	s := codec.NewSet()
	doc, err := s.Parse([]byte("# x"), format.Markdown)
	require.NoError(t, err)

	_, err = s.Convert(context.Background(), doc, format.JSON, codec.Source{})
	require.Error(t, err)
	assert.ErrorIs(t, err, codec.ErrUnsupportedConversion)
	assert.Contains(t, err.Error(), "md")
	assert.Contains(t, err.Error(), "json")

	var ce *codec.Error
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, format.Markdown, ce.From)
	assert.Equal(t, format.JSON, ce.To)
	assert.Equal(t, 501, ce.StatusCode())
}

func TestConvert_typesEdgeRequiresCompiler(t *testing.T) {
	t.Parallel()

	assert.False(t, codec.NewSet().Supports(format.JSON, format.TypeScript))

	c := &recordingCompiler{out: "export interface Spec {}\n"}
	s := codec.NewSet(codec.WithTypeCompiler(c))
	require.True(t, s.Supports(format.JSON, format.TypeScript))

	out := convert(t, s, `{"type":"object","title":"Spec"}`, format.JSON, format.TypeScript)
	assert.Equal(t, c.out, out)
	assert.JSONEq(t, `{"type":"object","title":"Spec"}`, string(c.schema))
	assert.Equal(t, "spec", c.src.Name)
}

func TestConvert_compilerFailureIsRenderFailed(t *testing.T) {
	t.Parallel()

	s := codec.NewSet(codec.WithTypeCompiler(&recordingCompiler{err: errors.New("bad ref")}))
	doc, err := s.Parse([]byte(`{}`), format.JSON)
	require.NoError(t, err)

	_, err = s.Convert(context.Background(), doc, format.TypeScript, codec.Source{})
	var ce *codec.Error
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, codec.RenderFailed, ce.Code)
	assert.Equal(t, 500, ce.StatusCode())
}

func TestEdges(t *testing.T) {
	t.Parallel()

	edges := codec.NewSet().Edges()
	assert.Equal(t, []codec.Edge{
		{From: format.HTML, To: format.Markdown},
		{From: format.JSON, To: format.YAML},
		{From: format.Markdown, To: format.HTML},
		{From: format.YAML, To: format.JSON},
	}, edges)
}

type recordingCompiler struct {
	out    string
	err    error
	schema []byte
	src    codec.Source
}

func (c *recordingCompiler) CompileTypes(_ context.Context, schema []byte, src codec.Source) (string, error) {
	c.schema = schema
	c.src = src
	return c.out, c.err
}
