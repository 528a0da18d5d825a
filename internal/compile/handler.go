package compile

import (
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	msgMissingSchemaURL = "No schemaUrl passed"
	msgCompileFailed    = "failed to compile schema"
)

// HandlerConfig configures the compile endpoint.
type HandlerConfig struct {
	Compiler *Compiler
	Logger   *zap.Logger
	// Rate limits compilations per second across all clients; zero disables
	// limiting.
	Rate  float64
	Burst int
}

// NewHandler serves GET ?schemaUrl=<url> with the generated declarations.
func NewHandler(cfg HandlerConfig) http.Handler {
	if cfg.Compiler == nil {
		cfg.Compiler = &Compiler{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	h := &handler{cfg: cfg}
	if cfg.Rate > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = int(math.Max(1, math.Ceil(cfg.Rate)))
		}
		h.limiter = rate.NewLimiter(rate.Limit(cfg.Rate), burst)
	}
	return h
}

type handler struct {
	cfg     HandlerConfig
	limiter *rate.Limiter
}

func (h *handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}
	schemaURL := strings.TrimSpace(r.URL.Query().Get("schemaUrl"))
	if schemaURL == "" {
		writeText(w, r, http.StatusUnprocessableEntity, msgMissingSchemaURL)
		return
	}
	if h.limiter != nil {
		if res := h.limiter.Reserve(); !res.OK() || res.Delay() > 0 {
			retry := 1
			if res.OK() {
				retry = int(math.Ceil(res.Delay().Seconds()))
				res.Cancel()
			}
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			return
		}
	}

	log := h.cfg.Logger.With(zap.String("schema_url", schemaURL))
	log.Info("compiling schema")
	out, err := h.cfg.Compiler.CompileURL(r.Context(), schemaURL)
	if err != nil {
		log.Error("compile failed", zap.Error(err))
		writeText(w, r, http.StatusInternalServerError, msgCompileFailed)
		return
	}
	writeText(w, r, http.StatusOK, out)
}

func writeText(w http.ResponseWriter, r *http.Request, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(status)
	if r.Method == http.MethodHead {
		return
	}
	_, _ = io.WriteString(w, body)
}
