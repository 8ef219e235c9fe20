// Package config provides user configuration management for greehp.
//
// This package manages a YAML configuration file listing the heat pumps greehp
// talks to, with per-device polling intervals and the bridge's MQTT and HTTP
// preferences. The file follows OS-specific conventions for storage location.
//
// # Configuration File Location
//
// The configuration file is stored in platform-appropriate locations:
//   - Linux: $XDG_CONFIG_HOME/greehp/config.yaml or $HOME/.config/greehp/config.yaml
//   - macOS: $HOME/.config/greehp/config.yaml
//   - Windows: %LOCALAPPDATA%\greehp\config.yaml
//
// GREEHP_CONFIG overrides the location on every platform.
//
// # Example
//
//	version: 1
//	devices:
//	  garage:
//	    host: 192.168.1.50
//	    polling_interval: 10
//	preferences:
//	  default_device: garage
//	  mqtt:
//	    broker: tcp://192.168.1.2:1883
//	    topic_prefix: greehp
//	  http:
//	    listen: 127.0.0.1:8087
//
// # Security
//
// The MQTT broker password is NEVER stored in the file. It is read from
// GREEHP_MQTT_PASSWORD when the bridge starts.
//
// # Thread Safety
//
// The global registry uses sync.Once for safe initialization across goroutines.
// File operations are protected by a mutex to ensure atomic writes.
package config
