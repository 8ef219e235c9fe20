// Package bridge exposes polled heat pumps to other systems.
//
// Three surfaces share the same device states and write validation:
//
//   - HTTP API (chi) with CORS:
//     GET /api/status, POST /api/power, POST /api/mode,
//     POST /api/temperature/{cold|hot|shower} for the default device, the
//     same routes under /api/devices/{device}, plus /api/devices,
//     /api/version and /healthz
//   - a websocket stream at /ws that pushes a State after every poll
//   - MQTT: <prefix>/<device>/state (retained JSON), <prefix>/<device>/availability
//     and writes on <prefix>/<device>/set/{power,mode,cold,hot,shower}
//
// Set points are checked against their ranges (cold 5-30 °C, hot and shower
// 30-60 °C) before anything is sent to the device.
//
// # Usage Example
//
//	srv, err := bridge.New(&bridge.Config{Listen: ":8087"}, coordinator)
//	if err != nil {
//	    return err
//	}
//	return srv.Start(ctx)
package bridge
