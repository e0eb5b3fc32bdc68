// Package state implements persistence for the alarm panel.
//
// It defines the repository interfaces the panel and rule engine depend on
// (snapshot, rule runtime rows, alarm events, rule action logs) and two
// implementations: MemoryRepository for tests and ephemeral deployments, and
// FileRepository which keeps the snapshot and runtime rows in a protobuf JSON
// document on disk.
package state
