package cli

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const petSchemaYAML = "" +
	"title: Pet\n" +
	"type: object\n" +
	"required: [name]\n" +
	"properties:\n" +
	"  name:\n" +
	"    type: string\n" +
	"  tag:\n" +
	"    $ref: '#/definitions/tag'\n" +
	"definitions:\n" +
	"  tag:\n" +
	"    type: string\n" +
	"    enum: [dog, cat]\n"

func captureStdout(fn func()) string {
	old := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w
	defer func() { os.Stdout = old }()
	fn()
	_ = w.Close()
	var buf bytes.Buffer
	_, _ = io.Copy(&buf, r)
	return buf.String()
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func TestCompilePipeline_Stdout(t *testing.T) {
	dir := t.TempDir()
	schemaPath := writeFile(t, dir, "pet.schema.yaml", petSchemaYAML)

	out := captureStdout(func() {
		if err := execute("compile", "--schema", schemaPath); err != nil {
			t.Fatalf("execute: %v", err)
		}
	})
	for _, want := range []string{"export interface Pet {", "name: string;", "tag?: Tag;", `export type Tag = "dog" | "cat";`} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestCompilePipeline_DryRunAndWrite(t *testing.T) {
	dir := t.TempDir()
	schemaPath := writeFile(t, dir, "pet.schema.yaml", petSchemaYAML)
	outDir := filepath.Join(dir, "types")

	out := captureStdout(func() {
		if err := execute("compile", "--schema", schemaPath, "--out", outDir, "--name", "animal", "--dry-run"); err != nil {
			t.Fatalf("execute: %v", err)
		}
	})
	if !strings.Contains(out, "Planned writes to") || !strings.Contains(out, "- Animal.d.ts") {
		t.Fatalf("expected dry-run plan output, got: %s", out)
	}
	if _, err := os.Stat(outDir); err == nil {
		t.Fatalf("expected no writes on dry-run")
	}

	captureStdout(func() {
		if err := execute("compile", "--schema", schemaPath, "--out", outDir, "--name", "animal"); err != nil {
			t.Fatalf("execute: %v", err)
		}
	})
	data, err := os.ReadFile(filepath.Join(outDir, "Animal.d.ts"))
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if !strings.Contains(string(data), "export interface Animal {") {
		t.Fatalf("unexpected declarations:\n%s", data)
	}

	err = execute("compile", "--schema", schemaPath, "--out", outDir, "--name", "animal")
	if !errors.Is(err, ErrUsage) {
		t.Fatalf("expected usage error without --force, got %v", err)
	}
}

func TestCompilePipeline_SchemaErrors(t *testing.T) {
	dir := t.TempDir()
	broken := writeFile(t, dir, "broken.json", `{"type": `)
	dangling := writeFile(t, dir, "dangling.json", `{"properties":{"a":{"$ref":"#/definitions/missing"}}}`)

	if err := execute("compile"); !errors.Is(err, ErrUsage) {
		t.Fatalf("expected usage error without --schema, got %v", err)
	}
	err := execute("compile", "--schema", broken)
	if !errors.Is(err, ErrUsage) || !strings.Contains(err.Error(), "Location:") {
		t.Fatalf("expected located usage error, got %v", err)
	}
	err = execute("compile", "--schema", dangling)
	if !errors.Is(err, ErrUsage) || !strings.Contains(err.Error(), "Ref: #/definitions/missing") {
		t.Fatalf("expected ref in usage error, got %v", err)
	}
}

func TestConvertPipeline(t *testing.T) {
	dir := t.TempDir()
	yamlPath := writeFile(t, dir, "openapi.yaml", "openapi: 3.0.0\ninfo:\n  title: Pets\n")
	mdPath := writeFile(t, dir, "README.md", "# Title\n")

	out := captureStdout(func() {
		if err := execute("convert", yamlPath, "--to", "json"); err != nil {
			t.Fatalf("execute: %v", err)
		}
	})
	want := "{\n  \"openapi\": \"3.0.0\",\n  \"info\": {\n    \"title\": \"Pets\"\n  }\n}\n"
	if out != want {
		t.Fatalf("json output mismatch:\n got %q\nwant %q", out, want)
	}

	htmlPath := filepath.Join(dir, "README.html")
	if err := execute("convert", mdPath, "--to", "html", "--out", htmlPath); err != nil {
		t.Fatalf("execute: %v", err)
	}
	data, err := os.ReadFile(htmlPath)
	if err != nil {
		t.Fatalf("read html: %v", err)
	}
	if !strings.Contains(string(data), "<h1>Title</h1>") {
		t.Fatalf("unexpected html: %s", data)
	}
	if err := execute("convert", mdPath, "--to", "html", "--out", htmlPath); !errors.Is(err, ErrUsage) {
		t.Fatalf("expected usage error without --force, got %v", err)
	}

	if err := execute("convert", mdPath, "--to", "json"); !errors.Is(err, ErrUsage) {
		t.Fatalf("expected usage error for md to json, got %v", err)
	}
	if err := execute("convert", filepath.Join(dir, "notes.txt"), "--to", "json"); !errors.Is(err, ErrUsage) {
		t.Fatalf("expected usage error for unknown extension, got %v", err)
	}
}

func TestConvertPipeline_SchemaToTypes(t *testing.T) {
	dir := t.TempDir()
	jsonPath := writeFile(t, dir, "v1.0.report.json", `{"type":"object","properties":{"id":{"type":"integer"}}}`)

	out := captureStdout(func() {
		if err := execute("convert", jsonPath, "--to", "ts"); err != nil {
			t.Fatalf("execute: %v", err)
		}
	})
	if !strings.Contains(out, "export interface V10Report {") || !strings.Contains(out, "id?: number;") {
		t.Fatalf("unexpected declarations:\n%s", out)
	}
}
