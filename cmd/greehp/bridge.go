package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/muurk/greehp/internal/bridge"
	"github.com/muurk/greehp/internal/config"
	"github.com/muurk/greehp/internal/heatpump"
	"github.com/muurk/greehp/internal/logging"
	"github.com/muurk/greehp/internal/poller"
	"github.com/muurk/greehp/internal/transport"
)

// lastSeenInterval bounds how often an unchanged device is written back
const lastSeenInterval = 15 * time.Minute

// Bridge flags
var (
	bridgeListen    string
	bridgeOrigins   []string
	bridgeAll       bool
	mqttBroker      string
	mqttUsername    string
	mqttPrefix      string
	mqttQoS         int
	mqttDisabled    bool
	bridgeSaveState bool
)

func init() {
	bridgeCmd.Flags().StringVar(&bridgeListen, "listen", "", "HTTP listen address (default from config, then "+config.DefaultHTTPListen+")")
	bridgeCmd.Flags().StringSliceVar(&bridgeOrigins, "allowed-origin", nil, "Allowed CORS and websocket origin (repeatable; default any)")
	bridgeCmd.Flags().BoolVar(&bridgeAll, "all", false, "Bridge every configured device instead of --device")
	bridgeCmd.Flags().StringVar(&mqttBroker, "mqtt-broker", "", "MQTT broker URL, e.g. tcp://192.168.1.2:1883 (default from config)")
	bridgeCmd.Flags().StringVar(&mqttUsername, "mqtt-username", "", "MQTT username (password from "+config.MQTTPasswordEnvVar+")")
	bridgeCmd.Flags().StringVar(&mqttPrefix, "mqtt-prefix", "", "MQTT topic prefix (default "+config.DefaultTopicPrefix+")")
	bridgeCmd.Flags().IntVar(&mqttQoS, "mqtt-qos", -1, "MQTT QoS 0-2 (default from config)")
	bridgeCmd.Flags().BoolVar(&mqttDisabled, "no-mqtt", false, "Disable MQTT even if configured")
	bridgeCmd.Flags().BoolVar(&bridgeSaveState, "save-last-seen", true, "Record the MAC and last poll time of registered devices")

	rootCmd.AddCommand(bridgeCmd)
}

var bridgeCmd = &cobra.Command{
	Use:   "bridge",
	Short: "Serve heat pumps over HTTP, websocket and MQTT",
	Long: `Poll one or more heat pumps and expose them to other systems.

HTTP API:
  GET  /api/status                    status of the default device
  POST /api/power|mode|temperature    commands to the default device
  GET  /api/devices                   status of every device
  *    /api/devices/{device}/...      the same routes for a named device
  GET  /ws                            websocket stream of state updates

MQTT (when a broker is configured):
  <prefix>/<device>/state             retained JSON state
  <prefix>/<device>/availability      online or offline
  <prefix>/<device>/set/<target>      power, mode, cold, hot or shower`,
	Example: `  # Bridge the default device on the configured address
  greehp bridge

  # Bridge all devices and publish to a broker
  greehp bridge --all --mqtt-broker tcp://192.168.1.2:1883`,
	Args: cobra.NoArgs,
	RunE: runBridge,
}

func runBridge(cmd *cobra.Command, args []string) error {
	reg, err := config.LoadRegistry()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	names, devices, err := bridgeDevices(reg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	// every device replies to local port 7000, so all sessions share one socket
	dialer := transport.NewSharedDialer()
	recorder := newLastSeenRecorder(reg)
	controllers := make([]bridge.Controller, 0, len(names))
	sessions := make([]*heatpump.Session, 0, len(names))
	var wg sync.WaitGroup

	for i, name := range names {
		dev := devices[i]
		session := heatpump.NewSession(dev.Host, dialer)
		sessions = append(sessions, session)

		c := poller.New(name, session, dev.Interval())
		if bridgeSaveState && reg.GetDevice(name) != nil {
			c.OnSuccess(func(snap poller.Snapshot) {
				recorder.record(name, snap.MAC)
			})
		}
		controllers = append(controllers, c)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logging.Warn("Poller stopped", zap.String("device", name), zap.Error(err))
			}
		}()
	}

	defer func() {
		cancel()
		wg.Wait()
		for _, s := range sessions {
			if err := s.Close(); err != nil {
				logging.Debug("Failed to close session", zap.String("host", s.Host()), zap.Error(err))
			}
		}
	}()

	cfg := bridgeConfig(reg)
	srv, err := bridge.New(cfg, controllers...)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "greehp bridge serving %d device(s) on http://%s\n", len(names), cfg.Listen)
	return srv.Start(ctx)
}

// bridgeDevices picks the devices to serve: all registered ones with --all,
// otherwise the single device named by --device or the default
func bridgeDevices(reg *config.Registry) ([]string, []*config.Device, error) {
	if !bridgeAll {
		name, dev, err := reg.ResolveDevice(deviceArg)
		if err != nil {
			return nil, nil, err
		}
		return []string{name}, []*config.Device{dev}, nil
	}

	names := reg.DeviceNames()
	if len(names) == 0 {
		return nil, nil, errors.New("no devices configured (use 'greehp device add')")
	}
	devices := make([]*config.Device, 0, len(names))
	for _, name := range names {
		devices = append(devices, reg.GetDevice(name))
	}
	return names, devices, nil
}

// bridgeConfig merges command line flags over saved preferences
func bridgeConfig(reg *config.Registry) *bridge.Config {
	prefs := reg.Preferences
	if prefs == nil {
		prefs = &config.Preferences{}
	}

	cfg := &bridge.Config{Listen: bridgeListen, AllowedOrigins: bridgeOrigins}
	if cfg.Listen == "" && prefs.HTTP != nil {
		cfg.Listen = prefs.HTTP.Listen
	}

	if mqttDisabled {
		return cfg
	}
	m := bridge.MQTTConfig{Password: config.MQTTPassword()}
	if prefs.MQTT != nil {
		m.Broker = prefs.MQTT.Broker
		m.Username = prefs.MQTT.Username
		m.ClientID = prefs.MQTT.ClientID
		m.TopicPrefix = prefs.MQTT.TopicPrefix
		m.QoS = prefs.MQTT.QoS
	}
	if mqttBroker != "" {
		m.Broker = mqttBroker
	}
	if mqttUsername != "" {
		m.Username = mqttUsername
	}
	if mqttPrefix != "" {
		m.TopicPrefix = mqttPrefix
	}
	if mqttQoS >= 0 {
		m.QoS = byte(mqttQoS)
	}
	if m.Broker != "" {
		cfg.MQTT = &m
	}
	return cfg
}

// lastSeenRecorder writes poll results back to the registry. A device is
// saved when its MAC changes, otherwise at most once per interval.
type lastSeenRecorder struct {
	mu       sync.Mutex
	reg      *config.Registry
	interval time.Duration
	saved    map[string]time.Time
	save     func() error
	now      func() time.Time
}

func newLastSeenRecorder(reg *config.Registry) *lastSeenRecorder {
	return &lastSeenRecorder{
		reg:      reg,
		interval: lastSeenInterval,
		saved:    make(map[string]time.Time),
		save:     reg.Save,
		now:      time.Now,
	}
}

// record notes a successful poll and reports whether the registry was saved
func (r *lastSeenRecorder) record(name, mac string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	dev := r.reg.GetDevice(name)
	if dev == nil {
		return false
	}
	now := r.now()
	changed := mac != "" && mac != dev.LastMAC
	if last, ok := r.saved[name]; ok && !changed && now.Sub(last) < r.interval {
		return false
	}

	r.reg.UpdateDeviceLastSeen(name, mac)
	if err := r.save(); err != nil {
		logging.Warn("Failed to save config", zap.String("device", name), zap.Error(err))
		return false
	}
	r.saved[name] = now
	return true
}
