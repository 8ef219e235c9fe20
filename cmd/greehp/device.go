package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/muurk/greehp/internal/bridge"
	"github.com/muurk/greehp/internal/config"
	"github.com/muurk/greehp/internal/heatpump"
	"github.com/muurk/greehp/internal/logging"
	"github.com/muurk/greehp/internal/poller"
	"github.com/muurk/greehp/internal/protocol"
	"github.com/muurk/greehp/internal/ui"
)

// errNotAcknowledged is returned when the heat pump never confirmed a command
var errNotAcknowledged = errors.New("heat pump did not acknowledge the command")

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(setPowerCmd)
	rootCmd.AddCommand(setTempCmd)
	rootCmd.AddCommand(setModeCmd)
}

// target is a resolved device with an open session
type target struct {
	name       string
	device     *config.Device
	registry   *config.Registry
	registered bool
	session    *heatpump.Session
}

func openTarget() (*target, error) {
	reg, err := config.LoadRegistry()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	name, dev, err := reg.ResolveDevice(deviceArg)
	if err != nil {
		return nil, err
	}
	return &target{
		name:       name,
		device:     dev,
		registry:   reg,
		registered: reg.GetDevice(name) != nil,
		session:    heatpump.NewSession(dev.Host, nil),
	}, nil
}

func (t *target) Close() {
	if err := t.session.Close(); err != nil {
		logging.Debug("Failed to close session", zap.String("host", t.device.Host), zap.Error(err))
	}
}

// recordSeen stores the MAC and time of a successful poll for registered devices
func (t *target) recordSeen(snap poller.Snapshot) {
	if !t.registered {
		return
	}
	t.registry.UpdateDeviceLastSeen(t.name, snap.MAC)
	if err := t.registry.Save(); err != nil {
		logging.Warn("Failed to save config", zap.Error(err))
	}
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// commandFailure builds the failure box for a command, explaining the last error if known
func commandFailure(title string, s *heatpump.Session) (*ui.Result, error) {
	cause := s.LastError()
	if cause == nil {
		cause = errNotAcknowledged
	}
	return ui.NewFailureResult(title, cause), fmt.Errorf("%s: %w", title, cause)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show heat pump status",
	Long: `Poll the heat pump once and display its status.

Shows power, mode, water set points and the temperatures derived from the
device's sensor fields. Use --raw to list every field the device returned.`,
	Example: `  # Status of the default device
  greehp status

  # Status of a device by IP, as JSON
  greehp status --device 192.168.1.50 --format json`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

var showRaw bool

func init() {
	statusCmd.Flags().BoolVar(&showRaw, "raw", false, "Also list every raw field")
}

func runStatus(cmd *cobra.Command, args []string) error {
	t, err := openTarget()
	if err != nil {
		return err
	}
	defer t.Close()

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	c := poller.New(t.name, t.session, t.device.Interval())
	c.OnSuccess(t.recordSeen)
	snap := c.Poll(ctx)

	p := ui.NewPrinter(cmd.OutOrStdout(), outputFormat)
	if !snap.Available {
		res, err := commandFailure("Heat pump unreachable", t.session)
		_ = p.PrintResult(res, bridge.NewState(snap))
		return err
	}
	return p.PrintStatus(ui.StatusView{Snapshot: snap, ShowRaw: showRaw}, bridge.NewState(snap))
}

// runCommand sends one write and prints the outcome
func runCommand(cmd *cobra.Command, title string, detail ui.Param, send func(context.Context, *heatpump.Session) bool) error {
	t, err := openTarget()
	if err != nil {
		return err
	}
	defer t.Close()

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	p := ui.NewPrinter(cmd.OutOrStdout(), outputFormat)
	p.PrintHeader(ui.NewHeader(title, cmd.CommandPath(),
		ui.Param{Key: "Device", Value: fmt.Sprintf("%s (%s)", t.name, t.device.Host)},
		detail,
	))

	if !send(ctx, t.session) {
		res, err := commandFailure(title, t.session)
		_ = p.PrintResult(res, map[string]any{"ok": false, "device": t.name, "error": err.Error()})
		return err
	}

	if t.registered {
		t.registry.UpdateDeviceLastSeen(t.name, t.session.MAC())
		if err := t.registry.Save(); err != nil {
			logging.Warn("Failed to save config", zap.Error(err))
		}
	}

	return p.PrintResult(
		ui.NewSuccessResult(title, detail),
		map[string]any{"ok": true, "device": t.name, detail.Key: detail.Value},
	)
}

var setPowerCmd = &cobra.Command{
	Use:       "set-power <on|off>",
	Short:     "Switch the heat pump on or off",
	Example:   `  greehp set-power on`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"on", "off"},
	RunE: func(cmd *cobra.Command, args []string) error {
		on, err := bridge.ParsePower(args[0])
		if err != nil {
			return err
		}
		value := "OFF"
		if on {
			value = "ON"
		}
		return runCommand(cmd, "Set power", ui.Param{Key: "Power", Value: value},
			func(ctx context.Context, s *heatpump.Session) bool {
				return s.SetPower(ctx, on)
			})
	},
}

var setTempCmd = &cobra.Command{
	Use:   "set-temp <cold|hot|shower> <celsius>",
	Short: "Set a water temperature set point",
	Long: `Set one of the water temperature set points.

  cold     cooling water outlet, 5-30 °C
  hot      heating water outlet, 30-60 °C
  shower   domestic hot water tank, 30-60 °C`,
	Example: `  # Domestic hot water to 50 °C
  greehp set-temp shower 50`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := protocol.ParseTemperatureKind(args[0])
		if err != nil {
			return err
		}
		value, err := bridge.ParseSetPoint(kind, args[1])
		if err != nil {
			return err
		}
		return runCommand(cmd, "Set temperature", ui.Param{Key: string(kind), Value: fmt.Sprintf("%d °C", value)},
			func(ctx context.Context, s *heatpump.Session) bool {
				return s.SetTemperature(ctx, kind, value)
			})
	},
}

var setModeCmd = &cobra.Command{
	Use:   "set-mode <mode>",
	Short: "Set the operating mode",
	Long: `Set the operating mode by number or name.

  1  Heat
  2  Hot water
  3  Cool + Hot water
  4  Heat + Hot water
  5  Cool`,
	Example: `  greehp set-mode 4
  greehp set-mode "hot water"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, err := protocol.ParseMode(args[0])
		if err != nil {
			return err
		}
		return runCommand(cmd, "Set mode", ui.Param{Key: "Mode", Value: fmt.Sprintf("%s (%d)", mode, int(mode))},
			func(ctx context.Context, s *heatpump.Session) bool {
				return s.SetMode(ctx, int(mode))
			})
	},
}
