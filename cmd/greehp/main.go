// Greehp controls Gree air-to-water heat pumps over the local network.
//
// It speaks the device's encrypted UDP protocol directly: it reads status,
// switches power, sets the operating mode and water set points, shows a live
// monitor, and can bridge one or more heat pumps to HTTP, websocket and MQTT.
//
// Usage:
//
//	greehp [command] [flags]
//
// See 'greehp --help' for available commands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/muurk/greehp/internal/config"
	"github.com/muurk/greehp/internal/logging"
	"github.com/muurk/greehp/internal/ui"
	"github.com/muurk/greehp/internal/version"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// Global flags
var (
	deviceArg    string
	logLevel     string
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "greehp",
	Short: "Gree heat pump LAN controller",
	Long: `A command line client for Gree air-to-water heat pumps.

Talks to the heat pump's WiFi module over UDP port 7000 using the
vendor's encrypted LAN protocol. No cloud account is needed.

Devices can be addressed by IP with --device, or registered once with
'greehp device add' and then referred to by name.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := ui.ValidateFormat(outputFormat); err != nil {
			return err
		}
		level := logLevel
		if level == "" {
			if reg, err := config.LoadRegistry(); err == nil && reg.Preferences != nil {
				level = reg.Preferences.LogLevel
			}
		}
		return logging.Initialize(level)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
}

func init() {
	// Disable automatic completion command generation
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringVarP(&deviceArg, "device", "d", "", "Device name or host (default: the configured default device)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); silent when unset")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", ui.FormatTable, "Output format (table, json)")

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		p := ui.NewPrinter(cmd.OutOrStdout(), outputFormat)
		if p.JSON() {
			return p.PrintJSON(version.Get())
		}
		fmt.Fprintf(cmd.OutOrStdout(), "greehp %s\n", version.Full())
		return nil
	},
}
