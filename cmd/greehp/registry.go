package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/muurk/greehp/internal/config"
	"github.com/muurk/greehp/internal/ui"
)

var (
	addInterval  int
	addDefault   bool
	removeForced bool
)

func init() {
	deviceAddCmd.Flags().IntVar(&addInterval, "interval", config.DefaultPollingInterval,
		fmt.Sprintf("Polling interval in seconds (%d-%d)", config.MinPollingInterval, config.MaxPollingInterval))
	deviceAddCmd.Flags().BoolVar(&addDefault, "default", false, "Make this the default device")
	deviceRemoveCmd.Flags().BoolVarP(&removeForced, "yes", "y", false, "Skip confirmation prompt")

	deviceCmd.AddCommand(deviceAddCmd)
	deviceCmd.AddCommand(deviceListCmd)
	deviceCmd.AddCommand(deviceRemoveCmd)
	rootCmd.AddCommand(deviceCmd)
}

var deviceCmd = &cobra.Command{
	Use:   "device",
	Short: "Manage registered heat pumps",
	Long: `Register heat pumps by name so they can be addressed with --device.

Devices are stored in the greehp config file together with the MAC
learned at the last successful bind.`,
}

var deviceAddCmd = &cobra.Command{
	Use:   "add <name> <host>",
	Short: "Register a heat pump",
	Example: `  greehp device add garage 192.168.1.50
  greehp device add loft 192.168.1.51 --interval 5 --default`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := config.LoadRegistry()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		name, host := args[0], args[1]
		dev, err := reg.AddDevice(name, host, addInterval)
		if err != nil {
			return err
		}
		if addDefault || len(reg.Devices) == 1 {
			if reg.Preferences == nil {
				reg.Preferences = &config.Preferences{}
			}
			reg.Preferences.DefaultDevice = name
		}
		if err := reg.Save(); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		p := ui.NewPrinter(cmd.OutOrStdout(), outputFormat)
		return p.PrintResult(
			ui.NewSuccessResult("Device registered",
				ui.Param{Key: "Name", Value: name},
				ui.Param{Key: "Host", Value: dev.Host},
				ui.Param{Key: "Interval", Value: dev.Interval().String()},
			),
			map[string]any{"name": name, "device": dev},
		)
	},
}

// deviceEntry is the JSON form of one registered device
type deviceEntry struct {
	Name     string         `json:"name"`
	Default  bool           `json:"default"`
	Interval string         `json:"interval"`
	Device   *config.Device `json:"device"`
}

var deviceListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List registered heat pumps",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := config.LoadRegistry()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		def := ""
		if reg.Preferences != nil {
			def = reg.Preferences.DefaultDevice
		}

		entries := make([]deviceEntry, 0, len(reg.Devices))
		for _, name := range reg.DeviceNames() {
			dev := reg.GetDevice(name)
			entries = append(entries, deviceEntry{
				Name:     name,
				Default:  name == def,
				Interval: dev.Interval().String(),
				Device:   dev,
			})
		}

		p := ui.NewPrinter(cmd.OutOrStdout(), outputFormat)
		if p.JSON() {
			return p.PrintJSON(entries)
		}
		if len(entries) == 0 {
			path, _ := config.GetConfigPath()
			fmt.Fprintf(cmd.OutOrStdout(), "No devices registered in %s\n", path)
			return nil
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%d device(s) registered:\n\n", len(entries))
		for i, e := range entries {
			name := e.Name
			if e.Default {
				name += " (default)"
			}
			fmt.Fprintf(out, "%d. %s\n", i+1, name)
			fmt.Fprintf(out, "   Host:      %s\n", e.Device.Host)
			fmt.Fprintf(out, "   Interval:  %s\n", e.Interval)
			fmt.Fprintf(out, "   MAC:       %s\n", valueOr(e.Device.LastMAC, "-"))
			fmt.Fprintf(out, "   Last seen: %s\n\n", lastSeen(e.Device.LastSeen))
		}
		return nil
	},
}

var deviceRemoveCmd = &cobra.Command{
	Use:     "remove <name>",
	Aliases: []string{"rm"},
	Short:   "Forget a registered heat pump",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := config.LoadRegistry()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		name := args[0]
		dev := reg.GetDevice(name)
		if dev == nil {
			return fmt.Errorf("unknown device %q", name)
		}

		if !removeForced {
			warnings := []string{fmt.Sprintf("%s (%s) will be removed from the config", name, dev.Host)}
			if reg.Preferences != nil && reg.Preferences.DefaultDevice == name {
				warnings = append(warnings, "It is the default device; no default will remain")
			}
			if !ui.Confirm(os.Stdin, cmd.OutOrStdout(), "Remove device", warnings, "Remove it?") {
				fmt.Fprintln(cmd.OutOrStdout(), "Cancelled.")
				return nil
			}
		}

		reg.RemoveDevice(name)
		if err := reg.Save(); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		p := ui.NewPrinter(cmd.OutOrStdout(), outputFormat)
		return p.PrintResult(
			ui.NewSuccessResult("Device removed", ui.Param{Key: "Name", Value: name}),
			map[string]any{"removed": name},
		)
	},
}

func valueOr(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}

func lastSeen(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
