package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "eegbuds",
	Short: "Dual-earpiece EEG headset client",
	Long: `Command-line client for a two-earpiece Bluetooth LE EEG headset:

- Scan for nearby earpieces
- Read model, serial and firmware information from both sides
- Stream wearing status, combined samples and battery levels
- Record combined samples to CSV
- Expose the sample stream on a PTY or to websocket clients

Earpieces are addressed by link id (the platform address), positionally as
"[left-id] [right-id]" or by side as "right=<id>". When no ids are given
they come from the config file, or are discovered by scanning for names
ending in "L" and "R".`,
	Version: fmt.Sprintf("%s (commit %s, built %s)", formatVersion(version), commit, date),
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Ctrl+C is a normal exit, not an error - exit silently
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}

func init() {
	// Silence Cobra's "Error:" prefix - main() prints clean errors
	rootCmd.SilenceErrors = true

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(streamCmd)
	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(serveCmd)
	addPlatformCommands(rootCmd)

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "Config file (default: $XDG_CONFIG_HOME/eegbuds/config.yaml)")
	rootCmd.PersistentFlags().String("env", ".env", "Dotenv file with EEGBUDS_* overrides; ignored when missing")
	rootCmd.PersistentFlags().String("backend", "", "Bluetooth backend (goble, tinygo, sim)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("verbose", false, "Shortcut for --log-level=debug")

	// Add -v as a short flag for --version
	rootCmd.Flags().BoolP("version", "v", false, "Show version information")
}
