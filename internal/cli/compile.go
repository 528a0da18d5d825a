package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mark3labs/docshift/internal/emitter/tsemitter"
)

// CompileConfig is Config plus the options of one compile run.
type CompileConfig struct {
	Config
	Schema string
	Name   string
	Out    string
	DryRun bool
	Force  bool
}

var compileRunner = runCompile

func newCompileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compile",
		Short: "Compile a JSON Schema to TypeScript declarations",
		Long: "Compile a JSON Schema (JSON or YAML, local file or http/https URL) to TypeScript " +
			"declarations. Output goes to stdout unless --out names a directory.",
		Example: strings.TrimSpace(`  docshift compile --schema ./pet.schema.json
  docshift compile --schema https://example.com/pet.json --out ./types --external-refs declare`),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			cfg := &CompileConfig{Config: *base}
			flags := cmd.Flags()
			if cfg.Schema, err = flags.GetString("schema"); err != nil {
				return err
			}
			if cfg.Name, err = flags.GetString("name"); err != nil {
				return err
			}
			if cfg.Out, err = flags.GetString("out"); err != nil {
				return err
			}
			if cfg.DryRun, err = flags.GetBool("dry-run"); err != nil {
				return err
			}
			if cfg.Force, err = flags.GetBool("force"); err != nil {
				return err
			}
			cfg.Schema = strings.TrimSpace(cfg.Schema)
			cfg.Name = strings.TrimSpace(cfg.Name)
			cfg.Out = strings.TrimSpace(cfg.Out)
			if cfg.Schema == "" {
				return newUsageError("compile: --schema is required")
			}
			if cfg.DryRun && cfg.Out == "" {
				return newUsageError("compile: --dry-run needs --out")
			}
			return compileRunner(cmd.Context(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.String("schema", "", "Path or URL of the JSON Schema")
	flags.String("name", "", "Root declaration name (defaults to the schema title or file name)")
	flags.String("out", "", "Directory to write <name>.d.ts into")
	flags.Bool("dry-run", false, "Preview planned outputs without writing files")
	flags.Bool("force", false, "Overwrite an existing declaration file")
	flags.String("external-refs", "", "Cross-document $ref policy (opaque|declare)")
	flags.Int("max-documents", 0, "Documents one compilation may load")

	return cmd
}

func runCompile(ctx context.Context, cfg *CompileConfig) error {
	// Local schemas are the common case on the command line.
	compiler := newCompiler(&cfg.Config, true)
	m, err := compiler.Build(ctx, cfg.Schema, cfg.Name)
	if err != nil {
		return friendlyError(err)
	}

	if cfg.Out == "" {
		out, err := tsemitter.Render(m, tsemitter.RenderOptions{})
		if err != nil {
			return err
		}
		fmt.Fprint(os.Stdout, out)
		return nil
	}

	absOut := cfg.Out
	if ap, err := filepath.Abs(cfg.Out); err == nil {
		absOut = ap
	}
	res, err := tsemitter.Emit(ctx, m, tsemitter.Options{
		OutDir: cfg.Out,
		Force:  cfg.Force,
		DryRun: cfg.DryRun,
	})
	if err != nil {
		return wrapOutputError(err, absOut)
	}
	paths := make([]string, 0, len(res.Planned))
	for _, p := range res.Planned {
		paths = append(paths, p.RelPath)
	}
	if cfg.DryRun {
		printPlan(absOut, paths)
		return nil
	}
	for _, p := range paths {
		fmt.Fprintf(os.Stdout, "Wrote %s\n", filepath.Join(absOut, p))
	}
	return nil
}

func printPlan(outDir string, relPaths []string) {
	fmt.Fprintf(os.Stdout, "Planned writes to %s (%d files):\n", outDir, len(relPaths))
	for _, p := range relPaths {
		fmt.Fprintf(os.Stdout, "- %s\n", p)
	}
}

func wrapOutputError(err error, outDir string) error {
	// Provide clearer guidance for common FS failures.
	msg := err.Error()
	lower := strings.ToLower(msg)
	if strings.Contains(lower, "permission") || strings.Contains(lower, "read-only") || strings.Contains(lower, "mkdir") ||
		strings.Contains(lower, "rename") || strings.Contains(lower, "exists") {
		return newUsageError(fmt.Sprintf("output error for %s: %s\nHint: choose a different --out or use --force when appropriate.", outDir, msg))
	}
	return err
}
