// Package alarm contains core domain types for the alarm panel.
//
// It defines the panel State values, the Snapshot aggregate (the single
// authoritative alarm instance), Timing captured at transition time, the
// Actor that caused a change and the append-only Event record. Clone helpers
// keep callers from mutating the aggregate held by the panel.
package alarm
