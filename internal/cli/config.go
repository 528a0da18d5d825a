package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/mark3labs/docshift/internal/logging"
	"github.com/mark3labs/docshift/internal/negotiate"
	"github.com/mark3labs/docshift/internal/schema"
	"github.com/mark3labs/docshift/internal/server"
)

// envPrefix namespaces every environment override, e.g. DOCSHIFT_ROOT.
const envPrefix = "DOCSHIFT_"

// Config captures every setting shared by the commands after merging
// defaults, the config file, the environment and CLI overrides, in that
// order.
type Config struct {
	ConfigPath string
	EnvFile    string
	Verbose    bool
	Log        logging.Config

	Addr          string
	Root          string
	Upstream      string
	CompilePath   string
	FetchTimeout  time.Duration
	CacheControl  string
	ExternalRefs  string
	AllowFileRefs bool
	MaxDocuments  int
	CompileRate   float64
	CompileBurst  int
}

func defaultConfig() Config {
	return Config{
		Addr:         server.DefaultAddr,
		CompilePath:  server.DefaultCompilePath,
		FetchTimeout: negotiate.DefaultFetchTimeout,
		CacheControl: negotiate.DefaultCacheControl,
		ExternalRefs: string(schema.ExternalRefsOpaque),
		MaxDocuments: schema.DefaultMaxDocuments,
	}
}

// field binds one setting to its config key, environment variable and flag.
// Any of the three may be absent.
type field struct {
	key  string // normalised config key
	env  string
	flag string
	set  func(c *Config, v any) error
}

var fields = []field{
	{"addr", "ADDR", "addr", setString(func(c *Config) *string { return &c.Addr })},
	{"root", "ROOT", "root", setString(func(c *Config) *string { return &c.Root })},
	{"upstream", "UPSTREAM", "upstream", setString(func(c *Config) *string { return &c.Upstream })},
	{"compilepath", "COMPILE_PATH", "compile-path", setString(func(c *Config) *string { return &c.CompilePath })},
	{"fetchtimeout", "FETCH_TIMEOUT", "fetch-timeout", setDuration(func(c *Config) *time.Duration { return &c.FetchTimeout })},
	{"cachecontrol", "CACHE_CONTROL", "cache-control", setString(func(c *Config) *string { return &c.CacheControl })},
	{"externalrefs", "EXTERNAL_REFS", "external-refs", setString(func(c *Config) *string { return &c.ExternalRefs })},
	{"allowfilerefs", "ALLOW_FILE_REFS", "allow-file-refs", setBool(func(c *Config) *bool { return &c.AllowFileRefs })},
	{"maxdocuments", "MAX_DOCUMENTS", "max-documents", setInt(func(c *Config) *int { return &c.MaxDocuments })},
	{"compilerate", "COMPILE_RATE", "compile-rate", setFloat(func(c *Config) *float64 { return &c.CompileRate })},
	{"compileburst", "COMPILE_BURST", "compile-burst", setInt(func(c *Config) *int { return &c.CompileBurst })},
	{"loglevel", "LOG_LEVEL", "log-level", setString(func(c *Config) *string { return &c.Log.Level })},
	{"logformat", "LOG_FORMAT", "log-format", setString(func(c *Config) *string { return &c.Log.Format })},
	{"logfile", "LOG_FILE", "log-file", setString(func(c *Config) *string { return &c.Log.File })},
	{"verbose", "VERBOSE", "verbose", setBool(func(c *Config) *bool { return &c.Verbose })},
}

// resolveConfig layers defaults, the --config file, DOCSHIFT_* variables
// (with an optional .env file) and flags the user actually set.
func resolveConfig(cmd *cobra.Command) (*Config, error) {
	cfg := defaultConfig()
	flags := cmd.Flags()

	configPath, err := flags.GetString("config")
	if err != nil {
		return nil, err
	}
	configPath = strings.TrimSpace(configPath)
	if configPath != "" {
		cfg.ConfigPath = configPath
		if err := applyConfigFromFile(&cfg, configPath); err != nil {
			return nil, err
		}
	}

	envFile, err := flags.GetString("env-file")
	if err != nil {
		return nil, err
	}
	cfg.EnvFile = strings.TrimSpace(envFile)
	env, err := loadEnv(cfg.EnvFile)
	if err != nil {
		return nil, err
	}
	if err := applyEnv(&cfg, env); err != nil {
		return nil, err
	}

	if err := applyFlagOverrides(flags, &cfg); err != nil {
		return nil, err
	}

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyConfigFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return newUsageError(fmt.Sprintf("read config file %q: %v", path, err))
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return newUsageError(fmt.Sprintf("parse config file %q: %v", path, err))
	}

	for key, value := range raw {
		f, ok := fieldByKey(normalizeKey(key))
		if !ok {
			return newUsageError(fmt.Sprintf("config file %q: unknown field %q", path, key))
		}
		if err := f.set(cfg, value); err != nil {
			return newUsageError(fmt.Sprintf("config field %q: %v", key, err))
		}
	}
	return nil
}

// loadEnv returns the process environment over the entries of the env file.
// An unnamed file defaults to .env and may be missing.
func loadEnv(path string) (map[string]string, error) {
	env := map[string]string{}
	name := path
	if name == "" {
		name = ".env"
	}
	fileEnv, err := godotenv.Read(name)
	switch {
	case err == nil:
		for k, v := range fileEnv {
			env[k] = v
		}
	case path == "" && errors.Is(err, fs.ErrNotExist):
	default:
		return nil, newUsageError(fmt.Sprintf("read env file %q: %v", name, err))
	}
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok && strings.HasPrefix(k, envPrefix) {
			env[k] = v
		}
	}
	return env, nil
}

func applyEnv(cfg *Config, env map[string]string) error {
	for _, f := range fields {
		name := envPrefix + f.env
		value, ok := env[name]
		if !ok {
			continue
		}
		if err := f.set(cfg, value); err != nil {
			return newUsageError(fmt.Sprintf("environment %s: %v", name, err))
		}
	}
	return nil
}

func applyFlagOverrides(flags *pflag.FlagSet, cfg *Config) error {
	for _, f := range fields {
		fl := flags.Lookup(f.flag)
		if fl == nil || !fl.Changed {
			continue
		}
		if err := f.set(cfg, fl.Value.String()); err != nil {
			return newUsageError(fmt.Sprintf("flag --%s: %v", f.flag, err))
		}
	}
	return nil
}

func (c *Config) normalize() {
	c.Addr = strings.TrimSpace(c.Addr)
	c.Root = strings.TrimSpace(c.Root)
	c.Upstream = strings.TrimSpace(c.Upstream)
	c.CompilePath = strings.TrimSpace(c.CompilePath)
	c.ExternalRefs = strings.ToLower(strings.TrimSpace(c.ExternalRefs))
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
	if c.Verbose {
		c.Log.Level = "debug"
	}
}

func (c *Config) validate() error {
	if _, err := schema.ParseExternalRefs(c.ExternalRefs); err != nil {
		return newUsageError(fmt.Sprintf("unsupported external refs policy %q (allowed: opaque, declare)", c.ExternalRefs))
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return newUsageError(fmt.Sprintf("unsupported log level %q (allowed: debug, info, warn, error)", c.Log.Level))
	}
	switch c.Log.Format {
	case "", "console", "text", "json":
	default:
		return newUsageError(fmt.Sprintf("unsupported log format %q (allowed: console, json)", c.Log.Format))
	}
	if c.FetchTimeout <= 0 {
		return newUsageError("fetch timeout must be positive")
	}
	if c.MaxDocuments < 1 {
		return newUsageError("max documents must be at least 1")
	}
	if c.CompileRate < 0 || c.CompileBurst < 0 {
		return newUsageError("compile rate and burst must not be negative")
	}
	return nil
}

// policy returns the validated external refs policy.
func (c *Config) policy() schema.ExternalRefs {
	p, _ := schema.ParseExternalRefs(c.ExternalRefs)
	return p
}

func fieldByKey(key string) (field, bool) {
	for _, f := range fields {
		if f.key == key {
			return f, true
		}
	}
	return field{}, false
}

func normalizeKey(raw string) string {
	lowered := strings.ToLower(strings.TrimSpace(raw))
	lowered = strings.ReplaceAll(lowered, "-", "")
	lowered = strings.ReplaceAll(lowered, "_", "")
	return lowered
}

func setString(ptr func(*Config) *string) func(*Config, any) error {
	return func(c *Config, v any) error {
		s, err := valueAsString(v)
		if err != nil {
			return err
		}
		*ptr(c) = s
		return nil
	}
}

func setBool(ptr func(*Config) *bool) func(*Config, any) error {
	return func(c *Config, v any) error {
		b, err := valueAsBool(v)
		if err != nil {
			return err
		}
		*ptr(c) = b
		return nil
	}
}

func setInt(ptr func(*Config) *int) func(*Config, any) error {
	return func(c *Config, v any) error {
		switch val := v.(type) {
		case int:
			*ptr(c) = val
		case string:
			n, err := strconv.Atoi(strings.TrimSpace(val))
			if err != nil {
				return fmt.Errorf("invalid integer %q", val)
			}
			*ptr(c) = n
		default:
			return fmt.Errorf("expected integer, got %T", v)
		}
		return nil
	}
}

func setFloat(ptr func(*Config) *float64) func(*Config, any) error {
	return func(c *Config, v any) error {
		switch val := v.(type) {
		case int:
			*ptr(c) = float64(val)
		case float64:
			*ptr(c) = val
		case string:
			n, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
			if err != nil {
				return fmt.Errorf("invalid number %q", val)
			}
			*ptr(c) = n
		default:
			return fmt.Errorf("expected number, got %T", v)
		}
		return nil
	}
}

func setDuration(ptr func(*Config) *time.Duration) func(*Config, any) error {
	return func(c *Config, v any) error {
		switch val := v.(type) {
		case int:
			*ptr(c) = time.Duration(val) * time.Second
		case string:
			d, err := time.ParseDuration(strings.TrimSpace(val))
			if err != nil {
				return fmt.Errorf("invalid duration %q", val)
			}
			*ptr(c) = d
		default:
			return fmt.Errorf("expected duration, got %T", v)
		}
		return nil
	}
}

func valueAsString(v any) (string, error) {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val), nil
	case nil:
		return "", nil
	default:
		return "", fmt.Errorf("expected string, got %T", v)
	}
}

func valueAsBool(v any) (bool, error) {
	switch val := v.(type) {
	case bool:
		return val, nil
	case string:
		trimmed := strings.ToLower(strings.TrimSpace(val))
		switch trimmed {
		case "true", "t", "1", "yes", "y":
			return true, nil
		case "false", "f", "0", "no", "n":
			return false, nil
		case "":
			return false, nil
		default:
			return false, fmt.Errorf("invalid boolean value %q", val)
		}
	case nil:
		return false, nil
	default:
		return false, fmt.Errorf("expected boolean, got %T", v)
	}
}
