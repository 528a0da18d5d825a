package cli

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func captureServe(t *testing.T) **Config {
	t.Helper()
	var captured *Config
	serveRunner = func(ctx context.Context, cfg *Config) error {
		captured = cfg
		return nil
	}
	t.Cleanup(func() { serveRunner = runServe })
	return &captured
}

func execute(args ...string) error {
	root := NewRootCmd()
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	return root.Execute()
}

func TestServeConfigFromFlags(t *testing.T) {
	captured := captureServe(t)

	err := execute(
		"--verbose",
		"--log-format", "json",
		"serve",
		"--addr", ":9000",
		"--root", "./docs",
		"--compile-path", "/types",
		"--fetch-timeout", "3s",
		"--cache-control", "no-store",
		"--external-refs", "Declare",
		"--allow-file-refs",
		"--max-documents", "4",
		"--compile-rate", "2.5",
		"--compile-burst", "5",
	)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	cfg := *captured
	if cfg == nil {
		t.Fatalf("expected config to be captured")
	}

	if cfg.Addr != ":9000" {
		t.Errorf("addr mismatch: got %q", cfg.Addr)
	}
	if cfg.Root != "./docs" {
		t.Errorf("root mismatch: got %q", cfg.Root)
	}
	if cfg.CompilePath != "/types" {
		t.Errorf("compile path mismatch: got %q", cfg.CompilePath)
	}
	if cfg.FetchTimeout != 3*time.Second {
		t.Errorf("fetch timeout mismatch: got %v", cfg.FetchTimeout)
	}
	if cfg.CacheControl != "no-store" {
		t.Errorf("cache control mismatch: got %q", cfg.CacheControl)
	}
	if cfg.ExternalRefs != "declare" {
		t.Errorf("external refs mismatch: got %q", cfg.ExternalRefs)
	}
	if !cfg.AllowFileRefs {
		t.Errorf("expected allow-file-refs true")
	}
	if cfg.MaxDocuments != 4 {
		t.Errorf("max documents mismatch: got %d", cfg.MaxDocuments)
	}
	if cfg.CompileRate != 2.5 || cfg.CompileBurst != 5 {
		t.Errorf("compile limit mismatch: got %v/%d", cfg.CompileRate, cfg.CompileBurst)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("expected verbose to force debug, got %q", cfg.Log.Level)
	}
	if cfg.Log.Format != "json" {
		t.Errorf("log format mismatch: got %q", cfg.Log.Format)
	}
}

func TestServeConfigDefaults(t *testing.T) {
	captured := captureServe(t)

	if err := execute("serve", "--root", "."); err != nil {
		t.Fatalf("execute: %v", err)
	}
	cfg := *captured
	if cfg.Addr != ":8080" || cfg.CompilePath != "/compile" {
		t.Errorf("unexpected defaults: addr=%q compile=%q", cfg.Addr, cfg.CompilePath)
	}
	if cfg.FetchTimeout != 10*time.Second {
		t.Errorf("fetch timeout default: got %v", cfg.FetchTimeout)
	}
	if cfg.CacheControl != "public, max-age=3600" {
		t.Errorf("cache control default: got %q", cfg.CacheControl)
	}
	if cfg.ExternalRefs != "opaque" || cfg.MaxDocuments != 32 {
		t.Errorf("compile defaults: refs=%q docs=%d", cfg.ExternalRefs, cfg.MaxDocuments)
	}
}

func TestServeConfigPrecedence(t *testing.T) {
	captured := captureServe(t)

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	configContent := strings.TrimSpace(`root: from-config
addr: ":7000"
compile_path: /from-config
fetch-timeout: 2s
maxDocuments: 8
compileRate: 1
logLevel: warn
`) + "\n"
	if err := os.WriteFile(configPath, []byte(configContent), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("DOCSHIFT_ADDR", ":7100")
	t.Setenv("DOCSHIFT_MAX_DOCUMENTS", "9")
	t.Setenv("DOCSHIFT_LOG_LEVEL", "error")

	err := execute(
		"--config", configPath,
		"serve",
		"--addr", ":7200",
	)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	cfg := *captured

	if cfg.Root != "from-config" {
		t.Errorf("root: want from-config got %q", cfg.Root)
	}
	if cfg.CompilePath != "/from-config" {
		t.Errorf("compile path: want /from-config got %q", cfg.CompilePath)
	}
	if cfg.FetchTimeout != 2*time.Second {
		t.Errorf("fetch timeout: want 2s got %v", cfg.FetchTimeout)
	}
	if cfg.CompileRate != 1 {
		t.Errorf("compile rate: want 1 got %v", cfg.CompileRate)
	}
	if cfg.MaxDocuments != 9 {
		t.Errorf("max documents: want env value 9 got %d", cfg.MaxDocuments)
	}
	if cfg.Log.Level != "error" {
		t.Errorf("log level: want env value error got %q", cfg.Log.Level)
	}
	if cfg.Addr != ":7200" {
		t.Errorf("addr: want flag value :7200 got %q", cfg.Addr)
	}
	if cfg.ConfigPath != configPath {
		t.Errorf("config path mismatch: got %q", cfg.ConfigPath)
	}
}

func TestServeConfigEnvFile(t *testing.T) {
	captured := captureServe(t)

	envPath := filepath.Join(t.TempDir(), "docshift.env")
	if err := os.WriteFile(envPath, []byte("DOCSHIFT_UPSTREAM=https://docs.example.com\nDOCSHIFT_EXTERNAL_REFS=declare\n"), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	t.Setenv("DOCSHIFT_EXTERNAL_REFS", "opaque")

	if err := execute("--env-file", envPath, "serve"); err != nil {
		t.Fatalf("execute: %v", err)
	}
	cfg := *captured
	if cfg.Upstream != "https://docs.example.com" {
		t.Errorf("upstream from env file: got %q", cfg.Upstream)
	}
	if cfg.ExternalRefs != "opaque" {
		t.Errorf("process env should win over env file, got %q", cfg.ExternalRefs)
	}
}

func TestServeConfigMissingEnvFile(t *testing.T) {
	captureServe(t)

	err := execute("--env-file", filepath.Join(t.TempDir(), "nope.env"), "serve", "--root", ".")
	if !errors.Is(err, ErrUsage) {
		t.Fatalf("expected usage error for missing env file, got %v", err)
	}
}

func TestServeConfigErrors(t *testing.T) {
	captureServe(t)

	tmpDir := t.TempDir()
	badKey := filepath.Join(tmpDir, "bad.yaml")
	if err := os.WriteFile(badKey, []byte("unknown: value\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	badType := filepath.Join(tmpDir, "type.yaml")
	if err := os.WriteFile(badType, []byte("maxDocuments: many\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cases := []struct {
		name string
		args []string
		want string
	}{
		{"unknown key", []string{"--config", badKey, "serve", "--root", "."}, "unknown field"},
		{"bad type", []string{"--config", badType, "serve", "--root", "."}, "invalid integer"},
		{"no origin", []string{"serve"}, "exactly one of"},
		{"both origins", []string{"serve", "--root", ".", "--upstream", "http://x"}, "exactly one of"},
		{"bad policy", []string{"serve", "--root", ".", "--external-refs", "inline"}, "external refs"},
		{"bad level", []string{"--log-level", "loud", "serve", "--root", "."}, "log level"},
		{"bad format", []string{"--log-format", "xml", "serve", "--root", "."}, "log format"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := execute(tc.args...)
			if err == nil {
				t.Fatalf("expected an error")
			}
			if !errors.Is(err, ErrUsage) {
				t.Fatalf("expected usage error, got %v", err)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestNormalizeKey(t *testing.T) {
	t.Parallel()
	for _, in := range []string{"compilePath", "compile-path", "compile_path", " COMPILEPATH "} {
		if got := normalizeKey(in); got != "compilepath" {
			t.Errorf("normalizeKey(%q) = %q", in, got)
		}
	}
}
