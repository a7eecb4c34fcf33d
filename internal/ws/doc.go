// Package ws runs the client session over a WebSocket.
//
// The package implements:
//   - Protocol: the {"t":...,"c":...} tagged messages exchanged with the client
//   - Handler: claims the bridge, upgrades the connection and runs the session loop
//   - Service: ties the handler to the session broker for the HTTP layer
//
// Each session runs two goroutines. The ingress reader forwards client text
// messages into a bounded queue. The tick loop updates the controller, sends
// the servo state and then consumes at most one queued message per tick.
package ws
