// Package timing resolves the effective delay, arming and trigger durations
// for a target state from a settings profile.
package timing

import (
	"github.com/oshokin/alarm-panel/internal/domain/alarm"
	"github.com/oshokin/alarm-panel/internal/settings"
)

// Resolve starts from the profile's base durations and applies the partial
// override for target, if one exists. Malformed overrides are ignored.
func Resolve(profile *settings.Profile, target alarm.State) alarm.Timing {
	t := alarm.Timing{
		DelaySeconds:   profile.DelayTime(),
		ArmingSeconds:  profile.ArmingTime(),
		TriggerSeconds: profile.TriggerTime(),
	}

	overrides := profile.StateOverrides()
	if overrides == nil {
		return t
	}

	override := settings.AsMap(overrides[string(target)])
	if override == nil {
		return t
	}

	if v, ok := overrideSeconds(override, settings.KeyDelayTime); ok {
		t.DelaySeconds = v
	}

	if v, ok := overrideSeconds(override, settings.KeyArmingTime); ok {
		t.ArmingSeconds = v
	}

	if v, ok := overrideSeconds(override, settings.KeyTriggerTime); ok {
		t.TriggerSeconds = v
	}

	return t
}

// ApplyZoneDelay replaces only the entry delay when the zone declares one.
func ApplyZoneDelay(t alarm.Timing, zone *alarm.Zone) alarm.Timing {
	if zone == nil || zone.EntryDelaySeconds == nil || *zone.EntryDelaySeconds < 0 {
		return t
	}

	t.DelaySeconds = *zone.EntryDelaySeconds

	return t
}

func overrideSeconds(override map[string]any, key string) (int, bool) {
	raw, ok := override[key]
	if !ok || raw == nil {
		return 0, false
	}

	v, ok := settings.AsInt(raw)
	if !ok || v < 0 {
		return 0, false
	}

	return v, true
}
