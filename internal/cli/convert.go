package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mark3labs/docshift/internal/codec"
	"github.com/mark3labs/docshift/internal/format"
)

// ConvertConfig is Config plus the options of one offline conversion.
type ConvertConfig struct {
	Config
	Input string
	From  format.Format
	To    format.Format
	Out   string
	Force bool
}

var convertRunner = runConvert

func newConvertCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "convert <file>",
		Short: "Convert a file between formats without a server",
		Long: "Convert a local file through the same codecs the server uses. The source format " +
			"comes from the file extension unless --from is set.",
		Example: strings.TrimSpace(`  docshift convert openapi.yaml --to json
  docshift convert README.md --to html --out README.html
  docshift convert pet.schema.json --to ts`),
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			cfg := &ConvertConfig{Config: *base, Input: strings.TrimSpace(args[0])}
			flags := cmd.Flags()

			from, err := flags.GetString("from")
			if err != nil {
				return err
			}
			if from == "" {
				from = filepath.Ext(cfg.Input)
			}
			f, ok := format.Parse(strings.ToLower(from))
			if !ok {
				return newUsageError(fmt.Sprintf("convert: cannot tell the format of %q (use --from)", cfg.Input))
			}
			cfg.From = f

			to, err := flags.GetString("to")
			if err != nil {
				return err
			}
			if cfg.To, ok = format.Parse(strings.ToLower(strings.TrimSpace(to))); !ok {
				return newUsageError(fmt.Sprintf("convert: unsupported --to %q (allowed: %s)", to, formatList()))
			}
			if cfg.Out, err = flags.GetString("out"); err != nil {
				return err
			}
			if cfg.Force, err = flags.GetBool("force"); err != nil {
				return err
			}
			return convertRunner(cmd.Context(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.String("to", "", "Target format ("+formatList()+")")
	flags.String("from", "", "Source format when the extension does not say")
	flags.String("out", "", "Output file (stdout when omitted)")
	flags.Bool("force", false, "Overwrite the output file if it exists")
	flags.String("external-refs", "", "Cross-document $ref policy for --to ts (opaque|declare)")
	_ = cmd.MarkFlagRequired("to")

	return cmd
}

func runConvert(ctx context.Context, cfg *ConvertConfig) error {
	content, err := os.ReadFile(cfg.Input)
	if err != nil {
		return newUsageError(fmt.Sprintf("convert: %v", err))
	}
	location := cfg.Input
	if abs, err := filepath.Abs(cfg.Input); err == nil {
		location = abs
	}

	set := codec.NewSet(codec.WithTypeCompiler(newCompiler(&cfg.Config, true)))
	if !set.Supports(cfg.From, cfg.To) {
		return newUsageError(fmt.Sprintf("convert: no conversion from %s to %s", cfg.From, cfg.To))
	}
	doc, err := set.Parse(content, cfg.From)
	if err != nil {
		return friendlyError(err)
	}
	name := filepath.Base(cfg.Input)
	name = strings.TrimSuffix(name, filepath.Ext(name))
	out, err := set.Convert(ctx, doc, cfg.To, codec.Source{Name: name, Location: location})
	if err != nil {
		return friendlyError(err)
	}
	if !strings.HasSuffix(out, "\n") {
		out += "\n"
	}

	if cfg.Out == "" {
		fmt.Fprint(os.Stdout, out)
		return nil
	}
	if _, err := os.Stat(cfg.Out); err == nil && !cfg.Force {
		return newUsageError(fmt.Sprintf("convert: %q already exists (use --force to overwrite)", cfg.Out))
	}
	if err := os.WriteFile(cfg.Out, []byte(out), 0o644); err != nil {
		return newUsageError(fmt.Sprintf("convert: cannot write %s: %v", cfg.Out, err))
	}
	return nil
}

func formatList() string {
	all := format.All()
	names := make([]string, len(all))
	for i, f := range all {
		names[i] = f.String()
	}
	return strings.Join(names, ", ")
}
