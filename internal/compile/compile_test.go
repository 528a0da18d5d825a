package compile_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mark3labs/docshift/internal/codec"
	"github.com/mark3labs/docshift/internal/compile"
	"github.com/mark3labs/docshift/internal/schema"
)

func schemaServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/schemas/pet.schema.json", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{
			"type": "object",
			"required": ["name"],
			"properties": {
				"name": {"type": "string"},
				"owner": {"$ref": "owner.json"},
				"tag": {"$ref": "#/definitions/Tag"}
			},
			"definitions": {"Tag": {"type": "string"}}
		}`))
	})
	mux.HandleFunc("/schemas/owner.json", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"title": "Owner", "type": "object", "properties": {"id": {"type": "integer"}}}`))
	})
	mux.HandleFunc("/schemas/broken.json", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"type":`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func get(h http.Handler, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestHandler_MissingSchemaURL(t *testing.T) {
	t.Parallel()

	h := compile.NewHandler(compile.HandlerConfig{})
	for _, target := range []string{"/compile", "/compile?schemaUrl=", "/compile?schemaUrl=%20"} {
		rec := get(h, target)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, target)
		assert.Equal(t, "No schemaUrl passed", rec.Body.String(), target)
	}
}

func TestHandler_CompilesLocalRefsOpaqueExternals(t *testing.T) {
	t.Parallel()
	srv := schemaServer(t)

	h := compile.NewHandler(compile.HandlerConfig{Compiler: &compile.Compiler{}})
	rec := get(h, "/compile?schemaUrl="+url.QueryEscape(srv.URL+"/schemas/pet.schema.json"))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.Contains(t, body, "export interface PetSchema {")
	assert.Contains(t, body, "  name: string;")
	assert.Contains(t, body, "  owner?: unknown;")
	assert.Contains(t, body, "  tag?: Tag;")
	assert.Contains(t, body, "export type Tag = string;")
	assert.NotContains(t, body, "Owner")
}

func TestHandler_DeclaresExternalRefs(t *testing.T) {
	t.Parallel()
	srv := schemaServer(t)

	h := compile.NewHandler(compile.HandlerConfig{Compiler: &compile.Compiler{ExternalRefs: schema.ExternalRefsDeclare}})
	rec := get(h, "/compile?schemaUrl="+url.QueryEscape(srv.URL+"/schemas/pet.schema.json"))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "  owner?: Owner;")
	assert.Contains(t, body, "export interface Owner {")
	assert.Contains(t, body, "export type Tag = string;")
}

func TestHandler_Failures(t *testing.T) {
	t.Parallel()
	srv := schemaServer(t)

	h := compile.NewHandler(compile.HandlerConfig{})
	for _, target := range []string{
		srv.URL + "/schemas/broken.json",
		srv.URL + "/schemas/missing.json",
		"file:///etc/passwd",
		"/etc/passwd",
	} {
		rec := get(h, "/compile?schemaUrl="+url.QueryEscape(target))
		assert.Equal(t, http.StatusInternalServerError, rec.Code, target)
		assert.Equal(t, "failed to compile schema", rec.Body.String(), target)
	}
}

func TestHandler_RateLimited(t *testing.T) {
	t.Parallel()
	srv := schemaServer(t)

	h := compile.NewHandler(compile.HandlerConfig{Rate: 0.001, Burst: 1})
	target := "/compile?schemaUrl=" + url.QueryEscape(srv.URL+"/schemas/owner.json")

	require.Equal(t, http.StatusOK, get(h, target).Code)
	rec := get(h, target)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestHandler_MethodNotAllowed(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	compile.NewHandler(compile.HandlerConfig{}).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/compile?schemaUrl=x", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestCompiler_CompileTypesUsesResourceName(t *testing.T) {
	t.Parallel()

	c := &compile.Compiler{}
	out, err := c.CompileTypes(context.Background(), []byte(`{"type":"object","properties":{"id":{"type":"integer"}}}`), codec.Source{Name: "v1.0.report"})
	require.NoError(t, err)
	assert.Equal(t, "export interface V10Report {\n  id?: number;\n}\n", out)

	out, err = c.CompileTypes(context.Background(), []byte(`{"title":"Report","type":"string"}`), codec.Source{Name: "spec"})
	require.NoError(t, err)
	assert.Equal(t, "export type Report = string;\n", out)
}

func TestCompiler_Build(t *testing.T) {
	t.Parallel()
	srv := schemaServer(t)

	m, err := (&compile.Compiler{}).Build(context.Background(), srv.URL+"/schemas/owner.json", "account")
	require.NoError(t, err)
	assert.Equal(t, "Account", m.Name)
}
