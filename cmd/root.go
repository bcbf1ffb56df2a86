package cmd

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/lakshaymaurya-felt/monolingual/internal/config"
)

var (
	// Global flags
	debug      bool
	configPath string

	// cfg is loaded once before any subcommand runs.
	cfg config.Config

	// Version info populated from main
	appVersion = "dev"
	appCommit  = "none"
	appDate    = "unknown"
)

// SetVersionInfo sets build-time version information.
func SetVersionInfo(version, commit, date string) {
	appVersion = version
	appCommit = commit
	appDate = date
}

var rootCmd = &cobra.Command{
	Use:   "monolingual",
	Short: "Remove unneeded languages and architectures from macOS apps",
	Long: `Monolingual - reclaim disk space from installed applications.

Removes localization folders (*.lproj) for languages you do not use and
strips unused CPU architectures from universal binaries. All changes are
made by a privileged helper; this command builds the request and shows
progress.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.LoadConfig(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Show detailed operation logs")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default is the user config dir)")

	// Register all subcommands
	rootCmd.AddCommand(scrubCmd)
	rootCmd.AddCommand(openCmd)
	rootCmd.AddCommand(defaultsCmd)
	rootCmd.AddCommand(helperCmd)
	rootCmd.AddCommand(completionCmd)
	rootCmd.AddCommand(versionCmd)
}

// debugLogger logs to stderr when --debug is set and discards otherwise.
func debugLogger(prefix string) *log.Logger {
	if !debug {
		return log.New(io.Discard, "", 0)
	}
	return log.New(os.Stderr, prefix, log.LstdFlags|log.Lmicroseconds)
}
