package config

import (
	"fmt"
	"net"
	"sort"
	"strings"
	"time"
)

const (
	// DefaultPollingInterval is the status polling interval in seconds
	DefaultPollingInterval = 10

	// MinPollingInterval and MaxPollingInterval bound the polling interval in seconds
	MinPollingInterval = 1
	MaxPollingInterval = 10

	// DefaultTopicPrefix is the MQTT topic root used by the bridge
	DefaultTopicPrefix = "greehp"

	// DefaultHTTPListen is the bridge HTTP listen address
	DefaultHTTPListen = "127.0.0.1:8087"
)

// Registry represents the entire user configuration file.
type Registry struct {
	Version     int                `yaml:"version"`
	Devices     map[string]*Device `yaml:"devices,omitempty"` // Keyed by device name
	Preferences *Preferences       `yaml:"preferences,omitempty"`
}

// Device represents one configured heat pump.
type Device struct {
	Host            string    `yaml:"host"`                       // IP address or hostname
	PollingInterval int       `yaml:"polling_interval,omitempty"` // Seconds between status polls (1-10)
	LastMAC         string    `yaml:"last_mac,omitempty"`         // MAC learned during the last successful bind
	LastSeen        time.Time `yaml:"last_seen,omitempty"`        // Last successful status poll
}

// Interval returns the polling interval clamped to the accepted range
func (d *Device) Interval() time.Duration {
	return time.Duration(ClampPollingInterval(d.PollingInterval)) * time.Second
}

// Preferences represents application-wide user preferences.
type Preferences struct {
	LogLevel      string     `yaml:"log_level,omitempty"`      // debug, info, warn or error
	DefaultDevice string     `yaml:"default_device,omitempty"` // Used when --device is omitted
	MQTT          *MQTTPrefs `yaml:"mqtt,omitempty"`
	HTTP          *HTTPPrefs `yaml:"http,omitempty"`
}

// MQTTPrefs configures the bridge's MQTT connection.
// Note: the broker password is NEVER stored; it is read from GREEHP_MQTT_PASSWORD.
type MQTTPrefs struct {
	Broker      string `yaml:"broker"`                 // e.g. tcp://192.168.1.2:1883
	Username    string `yaml:"username,omitempty"`     // Optional broker username
	ClientID    string `yaml:"client_id,omitempty"`    // Generated when empty
	TopicPrefix string `yaml:"topic_prefix,omitempty"` // Topic root (default "greehp")
	QoS         byte   `yaml:"qos"`                    // 0, 1 or 2
}

// HTTPPrefs configures the bridge's HTTP API.
type HTTPPrefs struct {
	Listen string `yaml:"listen"` // host:port
}

// NewRegistry creates a new Registry with default values.
func NewRegistry() *Registry {
	return &Registry{
		Version:     1,
		Devices:     make(map[string]*Device),
		Preferences: defaultPreferences(),
	}
}

func defaultPreferences() *Preferences {
	return &Preferences{
		LogLevel: "",
		MQTT: &MQTTPrefs{
			TopicPrefix: DefaultTopicPrefix,
		},
		HTTP: &HTTPPrefs{
			Listen: DefaultHTTPListen,
		},
	}
}

// ClampPollingInterval forces seconds into 1-10, mapping unset to the default
func ClampPollingInterval(seconds int) int {
	switch {
	case seconds == 0:
		return DefaultPollingInterval
	case seconds < MinPollingInterval:
		return MinPollingInterval
	case seconds > MaxPollingInterval:
		return MaxPollingInterval
	default:
		return seconds
	}
}

// ValidateDeviceName checks that a device name can be used as a registry key and MQTT topic level
func ValidateDeviceName(name string) error {
	if name == "" {
		return fmt.Errorf("device name is required")
	}
	if strings.ContainsAny(name, "/+# \t") {
		return fmt.Errorf("device name %q must not contain spaces or any of / + #", name)
	}
	return nil
}

// GetDevice retrieves a device by name.
// Returns nil if the device doesn't exist in the registry.
func (r *Registry) GetDevice(name string) *Device {
	return r.Devices[name]
}

// EnsureDevice ensures a device entry exists in the registry.
// Returns the device entry (existing or newly created).
func (r *Registry) EnsureDevice(name string) *Device {
	if r.Devices == nil {
		r.Devices = make(map[string]*Device)
	}

	if device, exists := r.Devices[name]; exists {
		return device
	}

	device := &Device{PollingInterval: DefaultPollingInterval}
	r.Devices[name] = device
	return device
}

// AddDevice adds or replaces a device entry after validating it.
func (r *Registry) AddDevice(name, host string, pollingInterval int) (*Device, error) {
	if err := ValidateDeviceName(name); err != nil {
		return nil, err
	}
	if strings.TrimSpace(host) == "" {
		return nil, fmt.Errorf("host is required for device %q", name)
	}
	if pollingInterval < 0 || pollingInterval > MaxPollingInterval {
		return nil, fmt.Errorf("polling interval must be between %d and %d seconds, got %d",
			MinPollingInterval, MaxPollingInterval, pollingInterval)
	}

	device := r.EnsureDevice(name)
	if device.Host != host {
		device.LastMAC = ""
		device.LastSeen = time.Time{}
	}
	device.Host = host
	device.PollingInterval = ClampPollingInterval(pollingInterval)
	return device, nil
}

// RemoveDevice deletes a device entry. It reports whether the device existed.
func (r *Registry) RemoveDevice(name string) bool {
	if _, ok := r.Devices[name]; !ok {
		return false
	}
	delete(r.Devices, name)
	if r.Preferences != nil && r.Preferences.DefaultDevice == name {
		r.Preferences.DefaultDevice = ""
	}
	return true
}

// UpdateDeviceLastSeen records a successful poll of a device.
func (r *Registry) UpdateDeviceLastSeen(name, mac string) {
	device := r.EnsureDevice(name)
	device.LastSeen = time.Now()
	if mac != "" {
		device.LastMAC = mac
	}
}

// DeviceNames returns the configured device names in sorted order.
func (r *Registry) DeviceNames() []string {
	names := make([]string, 0, len(r.Devices))
	for name := range r.Devices {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ResolveDevice maps a --device argument to a registry entry.
// The argument may be a device name or a host. An empty argument selects the
// default device, or the only device when exactly one is configured. A host
// that is not in the registry yields an ad-hoc entry named after the host.
func (r *Registry) ResolveDevice(arg string) (string, *Device, error) {
	if arg == "" {
		if r.Preferences != nil && r.Preferences.DefaultDevice != "" {
			arg = r.Preferences.DefaultDevice
		} else if len(r.Devices) == 1 {
			for name, d := range r.Devices {
				return name, d, nil
			}
		} else if len(r.Devices) == 0 {
			return "", nil, fmt.Errorf("no device configured (use --device <host> or 'greehp device add')")
		} else {
			return "", nil, fmt.Errorf("several devices configured, choose one with --device (%s)",
				strings.Join(r.DeviceNames(), ", "))
		}
	}

	if d, ok := r.Devices[arg]; ok {
		return arg, d, nil
	}
	for _, name := range r.DeviceNames() {
		if r.Devices[name].Host == arg {
			return name, r.Devices[name], nil
		}
	}
	if net.ParseIP(arg) != nil || strings.Contains(arg, ".") {
		return arg, &Device{Host: arg, PollingInterval: DefaultPollingInterval}, nil
	}
	return "", nil, fmt.Errorf("unknown device %q", arg)
}
