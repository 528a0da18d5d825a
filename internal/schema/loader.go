package schema

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"gopkg.in/yaml.v3"
)

// ErrorCode categorizes loader errors for clearer handling and messaging.
type ErrorCode string

const (
	InputError   ErrorCode = "InputError"
	NetworkError ErrorCode = "NetworkError"
	ParseError   ErrorCode = "ParseError"
	ResolveError ErrorCode = "ResolveError"
)

// SchemaError is a structured error with the document location and, for
// resolution failures, the offending $ref.
type SchemaError struct {
	Code     ErrorCode
	Message  string
	Location string // file path or URL
	Ref      string
	Cause    error
}

func (e *SchemaError) Error() string { return e.Message }
func (e *SchemaError) Unwrap() error { return e.Cause }

// Settings configures loader behavior.
type Settings struct {
	// HTTPTimeout bounds each HTTP request.
	HTTPTimeout time.Duration
	// MaxRetries is the number of attempts for transient HTTP failures
	// (>=500, 429, or network errors). 1 disables retrying.
	MaxRetries int
	// BackoffBase is the base delay for exponential backoff.
	BackoffBase time.Duration
	// AllowFileRefs permits local paths and file:// URLs, both as the input
	// and as $ref targets. Leave it off for anything reachable over HTTP.
	AllowFileRefs bool
	// MaxBodyBytes caps a fetched document.
	MaxBodyBytes int64
	// Client overrides the HTTP client; HTTPTimeout is ignored when set.
	Client *http.Client
}

// DefaultSettings returns recommended defaults.
func DefaultSettings() Settings {
	return Settings{
		HTTPTimeout:   10 * time.Second,
		MaxRetries:    1,
		BackoffBase:   200 * time.Millisecond,
		AllowFileRefs: false,
		MaxBodyBytes:  10 << 20,
	}
}

// Option mutates Settings.
type Option func(*Settings)

func WithHTTPTimeout(d time.Duration) Option  { return func(s *Settings) { s.HTTPTimeout = d } }
func WithMaxRetries(n int) Option             { return func(s *Settings) { s.MaxRetries = n } }
func WithBackoffBase(d time.Duration) Option  { return func(s *Settings) { s.BackoffBase = d } }
func WithAllowFileRefs(allow bool) Option     { return func(s *Settings) { s.AllowFileRefs = allow } }
func WithMaxBodyBytes(n int64) Option         { return func(s *Settings) { s.MaxBodyBytes = n } }
func WithHTTPClient(c *http.Client) Option    { return func(s *Settings) { s.Client = c } }

func newSettings(opts []Option) Settings {
	settings := DefaultSettings()
	for _, opt := range opts {
		opt(&settings)
	}
	return settings
}

// Source is a decoded JSON Schema document.
type Source struct {
	Location string
	Root     *openapi3.SchemaRef
	raw      map[string]any
	settings Settings
}

// Load reads and decodes a JSON Schema document. input may be an http/https
// URL or, when file refs are allowed, a filesystem path or file:// URL.
func Load(ctx context.Context, input string, opts ...Option) (*Source, error) {
	if strings.TrimSpace(input) == "" {
		return nil, &SchemaError{Code: InputError, Message: "schema: input is empty"}
	}
	settings := newSettings(opts)

	location, isFile, err := classify(input, settings)
	if err != nil {
		return nil, err
	}

	var raw []byte
	if isFile {
		raw, err = os.ReadFile(location)
		if err != nil {
			return nil, &SchemaError{Code: InputError, Message: fmt.Sprintf("read file %s: %v", location, err), Location: location, Cause: err}
		}
	} else {
		raw, err = fetchWithRetry(ctx, location, settings)
		if err != nil {
			return nil, &SchemaError{Code: NetworkError, Message: fmt.Sprintf("fetch %s: %v", location, err), Location: location, Cause: err}
		}
	}
	return decodeSource(raw, location, settings)
}

// LoadData decodes a document already in memory. location is used to
// resolve relative $refs and may be empty.
func LoadData(ctx context.Context, data []byte, location string, opts ...Option) (*Source, error) {
	_ = ctx
	return decodeSource(data, location, newSettings(opts))
}

// classify returns the canonical location of input and whether it is a local file.
func classify(input string, settings Settings) (string, bool, error) {
	u, uerr := url.Parse(input)
	isURL := uerr == nil && u.Scheme != "" && (u.Host != "" || strings.EqualFold(u.Scheme, "file"))
	if isURL {
		switch scheme := strings.ToLower(u.Scheme); scheme {
		case "http", "https":
			return u.String(), false, nil
		case "file":
			if !settings.AllowFileRefs {
				return "", false, &SchemaError{Code: InputError, Message: "schema: file:// URLs are blocked", Location: input}
			}
			return u.Path, true, nil
		default:
			return "", false, &SchemaError{Code: InputError, Message: fmt.Sprintf("schema: unsupported URL scheme %q (only http/https allowed)", scheme), Location: input}
		}
	}

	if !settings.AllowFileRefs {
		return "", false, &SchemaError{Code: InputError, Message: "schema: local paths are blocked", Location: input}
	}
	abs, err := filepath.Abs(input)
	if err != nil {
		return "", false, &SchemaError{Code: InputError, Message: fmt.Sprintf("resolve path: %v", err), Location: input, Cause: err}
	}
	return abs, true, nil
}

func decodeSource(raw []byte, location string, settings Settings) (*Source, error) {
	doc, err := decodeDocument(raw)
	if err != nil {
		return nil, &SchemaError{Code: ParseError, Message: fmt.Sprintf("parse schema: %v", err), Location: location, Cause: err}
	}
	upgradeDraft(doc)

	root, err := toSchemaRef(doc)
	if err != nil {
		return nil, &SchemaError{Code: ParseError, Message: fmt.Sprintf("decode schema: %v", err), Location: location, Cause: err}
	}
	return &Source{Location: location, Root: root, raw: doc, settings: settings}, nil
}

// decodeDocument accepts JSON, falling back to YAML for hand-written schemas.
func decodeDocument(raw []byte) (map[string]any, error) {
	var doc map[string]any
	jerr := json.Unmarshal(raw, &doc)
	if jerr == nil {
		if doc == nil {
			return nil, errors.New("schema document is null")
		}
		return doc, nil
	}
	var ydoc map[string]any
	if err := yaml.Unmarshal(raw, &ydoc); err != nil || ydoc == nil {
		return nil, jerr
	}
	norm, ok := stringKeys(ydoc).(map[string]any)
	if !ok {
		return nil, jerr
	}
	return norm, nil
}

// stringKeys converts YAML's map[any]any nodes so the tree marshals as JSON.
func stringKeys(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, e := range t {
			t[k] = stringKeys(e)
		}
		return t
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[fmt.Sprint(k)] = stringKeys(e)
		}
		return out
	case []any:
		for i, e := range t {
			t[i] = stringKeys(e)
		}
		return t
	default:
		return v
	}
}

func toSchemaRef(v any) (*openapi3.SchemaRef, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var ref openapi3.SchemaRef
	if err := json.Unmarshal(data, &ref); err != nil {
		return nil, err
	}
	return &ref, nil
}

// Lookup resolves a JSON pointer fragment ("/definitions/Pet") against the
// document. The empty pointer is the root.
func (s *Source) Lookup(pointer string) (*openapi3.SchemaRef, error) {
	if pointer == "" || pointer == "/" {
		return s.Root, nil
	}
	var cur any = s.raw
	for _, tok := range strings.Split(strings.TrimPrefix(pointer, "/"), "/") {
		if unescaped, err := url.PathUnescape(tok); err == nil {
			tok = unescaped
		}
		tok = strings.ReplaceAll(strings.ReplaceAll(tok, "~1", "/"), "~0", "~")
		switch node := cur.(type) {
		case map[string]any:
			next, ok := node[tok]
			if !ok {
				return nil, fmt.Errorf("pointer %q: no member %q", pointer, tok)
			}
			cur = next
		case []any:
			var idx int
			if _, err := fmt.Sscanf(tok, "%d", &idx); err != nil || idx < 0 || idx >= len(node) {
				return nil, fmt.Errorf("pointer %q: bad index %q", pointer, tok)
			}
			cur = node[idx]
		default:
			return nil, fmt.Errorf("pointer %q: cannot descend into %T", pointer, cur)
		}
	}
	if _, ok := cur.(map[string]any); !ok {
		return nil, fmt.Errorf("pointer %q does not name a schema", pointer)
	}
	return toSchemaRef(cur)
}

// Title returns the root schema title, if any.
func (s *Source) Title() string {
	if s.Root == nil || s.Root.Value == nil {
		return ""
	}
	return strings.TrimSpace(s.Root.Value.Title)
}

func fetchWithRetry(ctx context.Context, rawURL string, settings Settings) ([]byte, error) {
	client := settings.Client
	if client == nil {
		client = &http.Client{Timeout: settings.HTTPTimeout}
	}
	var lastErr error
	backoff := settings.BackoffBase
	if backoff <= 0 {
		backoff = 200 * time.Millisecond
	}
	attempts := settings.MaxRetries
	if attempts <= 0 {
		attempts = 1
	}
	for i := 0; i < attempts; i++ {
		body, retry, err := fetchOnce(ctx, client, rawURL, settings.MaxBodyBytes)
		if err == nil {
			return body, nil
		}
		if !retry {
			return nil, err
		}
		lastErr = err
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	if lastErr == nil {
		lastErr = errors.New("fetch failed")
	}
	return nil, lastErr
}

func fetchOnce(ctx context.Context, client *http.Client, rawURL string, limit int64) ([]byte, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Accept", "application/schema+json, application/json")
	resp, err := client.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, true, fmt.Errorf("transient http error %d", resp.StatusCode)
		}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, false, fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if limit <= 0 {
		limit = DefaultSettings().MaxBodyBytes
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, false, err
	}
	if int64(len(body)) > limit {
		return nil, false, fmt.Errorf("document exceeds %d bytes", limit)
	}
	return body, false, nil
}
