package cli

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mark3labs/docshift/internal/compile"
	"github.com/mark3labs/docshift/internal/logging"
	"github.com/mark3labs/docshift/internal/schema"
	"github.com/mark3labs/docshift/internal/server"
)

var serveRunner = runServe

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve a directory or upstream with format negotiation",
		Long: "Serve a directory or proxy an upstream origin. A request for a missing sibling " +
			"format (spec.yaml next to spec.json, doc.html next to doc.md) is answered by converting " +
			"the stored representation.",
		Example: strings.TrimSpace(`  docshift serve --root ./docs
  docshift serve --upstream https://docs.example.com --external-refs declare
  docshift --config docshift.yaml serve --addr :9000`),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			if (cfg.Root == "") == (cfg.Upstream == "") {
				return newUsageError("serve: exactly one of --root or --upstream is required (set via flag, config file or environment)")
			}
			return serveRunner(cmd.Context(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.String("addr", server.DefaultAddr, "Listen address")
	flags.String("root", "", "Directory to serve")
	flags.String("upstream", "", "Origin URL to proxy instead of a directory")
	flags.String("compile-path", server.DefaultCompilePath, "Path of the schema compile endpoint")
	flags.Duration("fetch-timeout", 0, "Timeout for fetching an alternate representation (default 10s)")
	flags.String("cache-control", "", "Cache-Control sent with converted responses")
	flags.String("external-refs", "", "Cross-document $ref policy (opaque|declare)")
	flags.Bool("allow-file-refs", false, "Let compiled schemas reference local files")
	flags.Int("max-documents", 0, "Documents one compilation may load")
	flags.Float64("compile-rate", 0, "Compile requests per second (0 disables the limit)")
	flags.Int("compile-burst", 0, "Compile request burst")

	return cmd
}

func runServe(ctx context.Context, cfg *Config) error {
	logger, err := logging.New(cfg.Log, os.Stderr)
	if err != nil {
		return newUsageError(err.Error())
	}
	defer func() { _ = logger.Sync() }()

	srv, err := server.New(server.Config{
		Addr:         cfg.Addr,
		Root:         cfg.Root,
		Upstream:     cfg.Upstream,
		CompilePath:  cfg.CompilePath,
		FetchTimeout: cfg.FetchTimeout,
		CacheControl: cfg.CacheControl,
		Compiler:     newCompiler(cfg, cfg.AllowFileRefs),
		CompileRate:  cfg.CompileRate,
		CompileBurst: cfg.CompileBurst,
		Logger:       logger,
	})
	if err != nil {
		return newUsageError(err.Error())
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	logger.Info("starting docshift",
		zap.String("addr", srv.Addr()),
		zap.String("root", cfg.Root),
		zap.String("upstream", cfg.Upstream),
		zap.String("external_refs", string(cfg.policy())),
	)
	return srv.ListenAndServe(ctx)
}

func newCompiler(cfg *Config, allowFiles bool) *compile.Compiler {
	return &compile.Compiler{
		ExternalRefs: cfg.policy(),
		MaxDocuments: cfg.MaxDocuments,
		LoadOptions: []schema.Option{
			schema.WithAllowFileRefs(allowFiles),
			schema.WithHTTPTimeout(cfg.FetchTimeout),
		},
	}
}
