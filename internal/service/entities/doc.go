// Package entities caches the states of external entities (sensors, switches,
// presence trackers) that rule conditions and sensors are evaluated against.
package entities
