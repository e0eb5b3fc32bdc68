// Package events records the append-only alarm event log and forwards events to export sinks.
package events
