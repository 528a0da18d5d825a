package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Execute runs the docshift CLI.
func Execute() error {
	return NewRootCmd().Execute()
}

// NewRootCmd constructs the root command so tests can exercise the CLI easily.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "docshift",
		Short: "Serve documents in every format they can be converted to",
		Long: "docshift serves a resource stored as .json, .yaml, .md or .html under its sibling " +
			"extensions too, converting on request, and compiles JSON Schemas to TypeScript declarations.",
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	// Convert Cobra flag errors (like unknown flags) into friendly usage errors
	// that also show the command's help text.
	cmd.SetFlagErrorFunc(flagError)

	pf := cmd.PersistentFlags()
	pf.StringP("config", "c", "", "Config file path (YAML or JSON)")
	pf.String("env-file", "", "Dotenv file with DOCSHIFT_* overrides (default .env when present)")
	pf.BoolP("verbose", "v", false, "Enable verbose logging output")
	pf.String("log-level", "", "Log level (debug|info|warn|error)")
	pf.String("log-format", "", "Log encoding (console|json)")
	pf.String("log-file", "", "Write logs to a rotating file instead of stderr")

	for _, sub := range []*cobra.Command{newServeCmd(), newCompileCmd(), newConvertCmd(), newInitCmd()} {
		sub.SetFlagErrorFunc(flagError)
		cmd.AddCommand(sub)
	}

	return cmd
}

func flagError(c *cobra.Command, err error) error {
	return newUsageError(fmt.Sprintf("%v\n\n%s", err, c.UsageString()))
}
