// Package client implements the alarm-ctl commands on top of the gRPC client.
//
// Each command loads the settings, detects the local actor, calls the panel
// and renders the reply for a terminal.
package client
