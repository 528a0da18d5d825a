package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

// InitConfig captures the options for the init command.
type InitConfig struct {
	OutputPath string
	Force      bool
}

var initRunner = runInit

func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Scaffold a sample docshift configuration file",
		Long:  "Scaffold a commented docshift configuration file that documents available options.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := cmd.Flags().GetString("out")
			if err != nil {
				return err
			}
			force, err := cmd.Flags().GetBool("force")
			if err != nil {
				return err
			}
			return initRunner(cmd.Context(), &InitConfig{OutputPath: out, Force: force})
		},
	}

	cmd.Flags().String("out", "docshift.yaml", "Where to write the sample config file")
	cmd.Flags().Bool("force", false, "Overwrite the target file if it already exists")

	return cmd
}

func runInit(ctx context.Context, cfg *InitConfig) error {
	_ = ctx

	out := strings.TrimSpace(cfg.OutputPath)
	if out == "" {
		out = "docshift.yaml"
	}
	absPath, err := filepath.Abs(out)
	if err != nil {
		return fmt.Errorf("init: resolve output path: %w", err)
	}

	if st, err := os.Stat(absPath); err == nil && !cfg.Force {
		if st.Mode().IsRegular() {
			return newUsageError(fmt.Sprintf("init: %q already exists (use --force to overwrite)", absPath))
		}
	}

	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return newUsageError(fmt.Sprintf("init: cannot create parent directory: %v", err))
	}

	content := strings.TrimSpace(sampleConfigYAML) + "\n"

	tmp := absPath + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		return newUsageError(fmt.Sprintf("init: cannot write temp file: %v\nHint: choose a different --out or check directory permissions.", err))
	}
	if err := os.Rename(tmp, absPath); err != nil {
		_ = os.Remove(tmp)
		return newUsageError(fmt.Sprintf("init: cannot place file at %s: %v", absPath, err))
	}
	fmt.Fprintf(os.Stdout, "Wrote sample config to %s\n", absPath)
	return nil
}

// sampleConfigYAML documents every config key. Each one can also be set as
// DOCSHIFT_<KEY> in the environment or a .env file; flags win over both.
const sampleConfigYAML = `# docshift configuration (YAML)
# All fields are optional. Environment variables (DOCSHIFT_ROOT, ...) override
# this file and command-line flags override both.

# Listen address for "docshift serve".
# addr: ":8080"

# Serve this directory ...
# root: ./docs
# ... or proxy this origin. Set exactly one of root and upstream.
# upstream: https://docs.example.com

# Path of the schema compile endpoint.
# compilePath: /compile

# Timeout for fetching the representation a response is converted from.
# fetchTimeout: 10s

# Cache-Control sent with converted responses.
# cacheControl: "public, max-age=3600"

# $refs into other documents: opaque leaves them as unknown, declare fetches
# and declares them.
# externalRefs: opaque

# Allow schemas to reference local files. Keep off when serving untrusted
# clients.
# allowFileRefs: false

# Documents one compilation may load, the root included.
# maxDocuments: 32

# Compile endpoint rate limit (requests per second, 0 disables) and burst.
# compileRate: 0
# compileBurst: 0

# Logging.
# logLevel: info
# logFormat: console
# logFile: ""

# Enable verbose logging (same as logLevel: debug).
# verbose: false
`
