// Package heatpump is the session client for a Gree heat pump.
//
// A Session performs discovery and binding, then status and command
// exchanges, over a transport.Transport. Every public operation runs a
// bounded retry loop:
//
//   - each attempt ensures the session is bound, then performs one exchange
//   - a failed attempt closes the transport, drops the session key and
//     backs off min(2^attempt, 10) seconds before the next attempt
//   - success clears the recovery state
//   - exhausting every attempt fully resets the session
//
// Failures are never returned to the caller. Update yields an empty map and
// the setters yield false once retries are exhausted; the cause is logged
// and available from LastError.
//
// # Handshake
//
// The handshake is a small state machine:
//
//	unbound --scan--> discovering --bind--> binding --complete--> bound
//
// Any failure returns it to unbound. A bound session reuses its MAC and key
// for subsequent exchanges.
//
// # Degradation
//
// Update keeps the most recent good status. If the caller's context ends an
// episode while recovery is still within its retry budget, Update returns that
// cached status rather than an empty map.
//
// The context is checked before each attempt and during backoff. An attempt
// already in flight is not cancelled; the datagram timeout bounds it.
//
// # Usage Example
//
//	s := heatpump.NewSession("192.168.1.50", nil)
//	defer s.Close()
//
//	fields := s.Update(ctx)
//	if len(fields) == 0 {
//	    log.Printf("heat pump unreachable: %v", s.LastError())
//	}
//	s.SetTemperature(ctx, protocol.TemperatureHot, 45)
package heatpump
