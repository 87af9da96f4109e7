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
	Use:   "swlink",
	Short: "Shearwater dive computer BLE link",
	Long: `Bluetooth Low Energy link to Shearwater dive computers (Perdix, Petrel):

- Scan for nearby dive computers
- Connect, resolve the vendor service and arm its notification characteristic
- Stream received frames as hex, raw bytes or through a PTY
- Mirror the vendor firmware catalog

Nothing is decoded: frames are handed to a downstream consumer as received.`,
	Version: formatVersion(version),
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
	rootCmd.SetVersionTemplate(fmt.Sprintf("swlink {{.Version}} (commit %s, built %s)\n", commit, date))

	rootCmd.AddCommand(connectCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(firmwareCmd)

	addRootFlags()
}

func addRootFlags() {
	// Global flags
	rootCmd.PersistentFlags().String("config", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("verbose", false, "Enable debug logging")

	// Add -v as a short flag for --version
	rootCmd.Flags().BoolP("version", "v", false, "Show version information")
}
