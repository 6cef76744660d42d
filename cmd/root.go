package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/teemow/mcpmerge/internal/logging"
)

var (
	configPath     string
	credentialsDir string
	extensionsDir  string
	debugMode      bool
	logFormat      string
)

// rootCmd represents the base command for the mcpmerge application
var rootCmd = &cobra.Command{
	Use:   "mcpmerge",
	Short: "Merges MCP server configurations and manages Google credentials for them",
	Long: `mcpmerge combines MCP server configuration entries from hand-authored
configs and installed extensions, and manages the per-account Google OAuth
credentials those servers need.

It can run as:
  - A CLI (merge, extensions, auth)
  - A server exposing an HTTP API and MCP tools (serve)`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setupLogging(debugMode, logFormat)
	},
}

// version will be set by main
var version = "dev"

// SetVersion sets the version for the root command
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

// Execute is the main entry point for the CLI application
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "mcpmerge version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setupLogging installs the default logger on stderr. Stdout is left to
// command output and the stdio MCP transport.
func setupLogging(debug bool, format string) error {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger, err := logging.New(os.Stderr, logging.Options{Format: format, Level: level})
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: $XDG_CONFIG_HOME/mcpmerge/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&credentialsDir, "credentials-dir", "", "Credential store root (overrides config and MCPMERGE_CREDENTIALS_DIR)")
	rootCmd.PersistentFlags().StringVar(&extensionsDir, "extensions-dir", "", "Installed extensions directory (overrides config and MCPMERGE_EXTENSIONS_DIR)")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", logging.FormatText, "Log format on stderr (text, json)")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newMergeCmd())
	rootCmd.AddCommand(newExtensionsCmd())
	rootCmd.AddCommand(newAuthCmd())
	rootCmd.AddCommand(newGenerateDocsCmd())
	rootCmd.AddCommand(newVersionCmd())
}
