// Package server hosts an origin behind the negotiation middleware together
// with the schema compile endpoint.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mark3labs/docshift/internal/codec"
	"github.com/mark3labs/docshift/internal/compile"
	"github.com/mark3labs/docshift/internal/negotiate"
	"github.com/mark3labs/docshift/internal/schema"
)

const (
	DefaultAddr        = ":8080"
	DefaultCompilePath = "/compile"
	shutdownTimeout    = 30 * time.Second
	readHeaderTimeout  = 10 * time.Second
)

// Config describes one docshift server. Exactly one of Root and Upstream
// must be set.
type Config struct {
	Addr string
	// Root is a directory served as the origin.
	Root string
	// Upstream is an origin URL reached through a reverse proxy.
	Upstream     string
	CompilePath  string
	FetchTimeout time.Duration
	CacheControl string
	Compiler     *compile.Compiler
	CompileRate  float64
	CompileBurst int
	Logger       *zap.Logger
}

type Server struct {
	cfg     Config
	handler http.Handler
	logger  *zap.Logger
}

// New validates cfg and assembles the handler chain.
func New(cfg Config) (*Server, error) {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.CompilePath == "" {
		cfg.CompilePath = DefaultCompilePath
	}
	if !strings.HasPrefix(cfg.CompilePath, "/") {
		return nil, fmt.Errorf("server: compile path %q must start with /", cfg.CompilePath)
	}
	if cfg.Compiler == nil {
		cfg.Compiler = &compile.Compiler{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = negotiate.DefaultFetchTimeout
	}

	var (
		origin  http.Handler
		fetcher negotiate.Fetcher
		// types compiles the json→ts edge; in directory mode its $ref
		// fetches against the internal origin stay in process.
		types = cfg.Compiler
	)
	switch {
	case cfg.Root != "" && cfg.Upstream != "":
		return nil, errors.New("server: set either a root directory or an upstream, not both")
	case cfg.Root != "":
		st, err := os.Stat(cfg.Root)
		if err != nil {
			return nil, fmt.Errorf("server: root: %w", err)
		}
		if !st.IsDir() {
			return nil, fmt.Errorf("server: root %q is not a directory", cfg.Root)
		}
		origin = http.FileServerFS(os.DirFS(cfg.Root))
		fetcher = negotiate.HandlerFetcher{Handler: origin, BaseURL: negotiate.InternalBaseURL()}
		types = inProcessRefs(cfg.Compiler, origin, cfg.FetchTimeout)
	case cfg.Upstream != "":
		u, err := url.Parse(cfg.Upstream)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, fmt.Errorf("server: upstream %q must be an http(s) URL", cfg.Upstream)
		}
		origin = newProxy(u, cfg.Logger)
		fetcher = negotiate.HTTPFetcher{Client: &http.Client{Timeout: cfg.FetchTimeout}, BaseURL: u}
	default:
		return nil, errors.New("server: a root directory or an upstream is required")
	}

	mux := http.NewServeMux()
	mux.Handle("GET "+cfg.CompilePath, compile.NewHandler(compile.HandlerConfig{
		Compiler: cfg.Compiler,
		Logger:   cfg.Logger.Named("compile"),
		Rate:     cfg.CompileRate,
		Burst:    cfg.CompileBurst,
	}))
	mux.Handle("/", origin)

	negotiator := negotiate.New(negotiate.Config{
		Fetcher:      fetcher,
		Codecs:       codec.NewSet(codec.WithTypeCompiler(types)),
		Logger:       cfg.Logger.Named("negotiate"),
		FetchTimeout: cfg.FetchTimeout,
		CacheControl: cfg.CacheControl,
	})

	h := Chain(mux,
		Recovery(cfg.Logger),
		RequestID(),
		AccessLog(cfg.Logger.Named("access")),
		negotiator,
	)
	return &Server{cfg: cfg, handler: h, logger: cfg.Logger}, nil
}

// inProcessRefs copies c so that documents under the internal origin are
// read from origin instead of the network.
func inProcessRefs(c *compile.Compiler, origin http.Handler, timeout time.Duration) *compile.Compiler {
	client := &http.Client{
		Timeout:   timeout,
		Transport: negotiate.HandlerTransport{Handler: origin, Host: negotiate.InternalHost},
	}
	cc := *c
	cc.LoadOptions = append(slices.Clip(c.LoadOptions), schema.WithHTTPClient(client))
	return &cc
}

func newProxy(target *url.URL, logger *zap.Logger) *httputil.ReverseProxy {
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			logger.Warn("upstream error", zap.String("path", r.URL.Path), zap.Error(err))
			http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		},
	}
}

// Handler returns the full middleware chain.
func (s *Server) Handler() http.Handler { return s.handler }

// Addr is the configured listen address.
func (s *Server) Addr() string { return s.cfg.Addr }

// ListenAndServe listens on the configured address and blocks until ctx is
// cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: readHeaderTimeout,
		ErrorLog:          zap.NewStdLog(s.logger.Named("http")),
	}

	s.logger.Info("listening", zap.String("addr", ln.Addr().String()))
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		s.logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
