package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/muurk/greehp/internal/logging"
	"github.com/muurk/greehp/internal/poller"
	"github.com/muurk/greehp/internal/ui"
)

func init() {
	rootCmd.AddCommand(monitorCmd)
}

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Live view of a heat pump",
	Long: `Poll the heat pump at its configured interval and show a live view.

Values that changed since the previous poll are highlighted. Press r to
poll immediately, f to toggle the raw field list and q to quit.`,
	Example: `  greehp monitor --device garage`,
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !ui.IsTerminal() {
			return errors.New("monitor needs an interactive terminal (use 'greehp status' instead)")
		}

		t, err := openTarget()
		if err != nil {
			return err
		}
		defer t.Close()

		ctx, cancel := signalContext(cmd.Context())
		defer cancel()

		c := poller.New(t.name, t.session, t.device.Interval())
		c.OnSuccess(t.recordSeen)

		updates, unsubscribe := c.Subscribe()
		defer unsubscribe()

		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := c.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logging.Warn("Poller stopped", zap.String("device", t.name), zap.Error(err))
			}
		}()

		err = ui.RunMonitor(ctx, ui.NewMonitorModel(t.name, updates, c.RequestRefresh))
		cancel()
		<-done
		return err
	},
}
