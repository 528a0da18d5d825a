// Package negotiate serves a resource in a format the origin does not store
// by converting its single alternate representation on the fly.
package negotiate

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/mark3labs/docshift/internal/codec"
	"github.com/mark3labs/docshift/internal/format"
)

const (
	// GuardHeader marks a fetch issued by the middleware itself. Requests
	// carrying it are never intercepted.
	GuardHeader = "X-Original-Format"
	// ConvertedFromHeader names the format a response was converted from.
	ConvertedFromHeader = "X-Converted-From"

	DefaultCacheControl = "public, max-age=3600"
	DefaultFetchTimeout = 10 * time.Second
)

type internalKey struct{}

// WithInternal tags ctx as belonging to a middleware fetch.
func WithInternal(ctx context.Context) context.Context {
	return context.WithValue(ctx, internalKey{}, true)
}

// IsInternal reports whether ctx was tagged by WithInternal.
func IsInternal(ctx context.Context) bool {
	v, _ := ctx.Value(internalKey{}).(bool)
	return v
}

// IsGuarded reports whether r must bypass negotiation. The guard header
// counts when present, even with an empty value.
func IsGuarded(r *http.Request) bool {
	return len(r.Header.Values(GuardHeader)) > 0 || IsInternal(r.Context())
}

// StatusCoder is implemented by errors that carry an HTTP status.
type StatusCoder interface {
	StatusCode() int
}

// Config configures the middleware. The zero value is usable.
type Config struct {
	// Fetcher retrieves alternates; defaults to a HandlerFetcher over next.
	Fetcher Fetcher
	// Codecs defaults to codec.NewSet().
	Codecs       *codec.Set
	Logger       *zap.Logger
	FetchTimeout time.Duration
	CacheControl string
	// ErrorHandler writes parse and conversion failures.
	ErrorHandler func(w http.ResponseWriter, r *http.Request, err error)
}

// New returns the negotiation middleware.
func New(cfg Config) func(http.Handler) http.Handler {
	if cfg.Codecs == nil {
		cfg.Codecs = codec.NewSet()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	if cfg.CacheControl == "" {
		cfg.CacheControl = DefaultCacheControl
	}
	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = defaultErrorHandler(cfg.Logger)
	}

	return func(next http.Handler) http.Handler {
		fetcher := cfg.Fetcher
		if fetcher == nil {
			fetcher = HandlerFetcher{Handler: next}
		}
		h := &handler{cfg: cfg, next: next, fetcher: fetcher}
		return h
	}
}

type handler struct {
	cfg     Config
	next    http.Handler
	fetcher Fetcher
}

func (h *handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		h.next.ServeHTTP(w, r)
		return
	}
	if IsGuarded(r) {
		h.next.ServeHTTP(w, r)
		return
	}
	res, ok := format.SplitPath(r.URL.Path)
	if !ok {
		h.next.ServeHTTP(w, r)
		return
	}
	alt, ok := format.Alternate(res.Format)
	if !ok {
		h.next.ServeHTTP(w, r)
		return
	}
	altPath := res.Path(alt)
	log := h.cfg.Logger.With(
		zap.String("path", r.URL.Path),
		zap.String("alternate", altPath),
	)

	fetched, err := h.fetch(r, altPath, res.Format)
	if err != nil {
		log.Debug("alternate fetch failed, passing through", zap.Error(err))
		h.next.ServeHTTP(w, r)
		return
	}
	if fetched.Status < 200 || fetched.Status >= 300 {
		log.Debug("alternate not available, passing through", zap.Int("status", fetched.Status))
		h.next.ServeHTTP(w, r)
		return
	}

	doc, err := h.cfg.Codecs.Parse(fetched.Body, alt)
	if err != nil {
		h.cfg.ErrorHandler(w, r, err)
		return
	}
	out, err := h.cfg.Codecs.Convert(r.Context(), doc, res.Format, codec.Source{Name: res.Base(), Location: fetched.Location})
	if err != nil {
		h.cfg.ErrorHandler(w, r, err)
		return
	}

	hdr := w.Header()
	hdr.Set("Content-Type", res.Format.ContentType())
	hdr.Set("Cache-Control", h.cfg.CacheControl)
	hdr.Set(ConvertedFromHeader, alt.String())
	hdr.Set("Content-Length", strconv.Itoa(len(out)))
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.WriteString(w, out); err != nil {
		log.Debug("write converted response", zap.Error(err))
	}
	log.Debug("converted", zap.String("from", alt.String()), zap.String("to", res.Format.String()), zap.Int("bytes", len(out)))
}

func (h *handler) fetch(r *http.Request, path string, requested format.Format) (*Fetched, error) {
	ctx, cancel := context.WithTimeout(r.Context(), h.cfg.FetchTimeout)
	defer cancel()
	return h.fetcher.Fetch(ctx, r, path, requested)
}

func defaultErrorHandler(logger *zap.Logger) func(http.ResponseWriter, *http.Request, error) {
	return func(w http.ResponseWriter, r *http.Request, err error) {
		status := http.StatusInternalServerError
		var sc StatusCoder
		if errors.As(err, &sc) {
			status = sc.StatusCode()
		}
		logger.Error("negotiation failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Error(err),
		)
		http.Error(w, http.StatusText(status), status)
	}
}
