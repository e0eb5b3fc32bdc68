// Package integration holds end-to-end tests that start the real alarm-panel
// server and drive it through the gRPC client.
package integration
