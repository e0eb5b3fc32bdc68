// Package version exposes build metadata of the alarm panel binaries.
//
// Version, Commit and BuildTime are injected with ldflags. UserAgent and the
// MQTT discovery payload reuse them so peers can tell which build talks to them.
package version
