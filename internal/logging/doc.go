// Package logging provides structured logging for greehp.
//
// This package wraps a global zap logger with convenience functions for the
// patterns used by the device client, the poller and the bridge.
//
// # Log Levels
//
//   - Debug: datagram contents, backoff delays, handshake transitions
//   - Info: bridge startup, HTTP requests, MQTT connection events
//   - Warn: failed attempts, rebinding, unavailable devices
//   - Error: exhausted retries, invalid commands
//
// # Configuration
//
// Logging is silent unless a level is given, either explicitly or through
// the GREEHP_LOG_LEVEL environment variable:
//
//	if err := logging.Initialize(""); err != nil {
//	    log.Fatal(err)
//	}
//	defer logging.Sync()
//
// Output goes to stderr so that command output on stdout stays clean.
//
// # Thread Safety
//
// All logging functions are safe for concurrent use. Initialize and SetLogger
// are expected to be called once at startup.
package logging
