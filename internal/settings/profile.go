// Package settings exposes the active settings profile as a key/value reader
// with typed getters. Values come from loosely typed sources (YAML, TOML, JSON)
// so the getters accept any numeric or boolean representation and fall back
// to defaults instead of failing.
package settings

import (
	"maps"
	"math"
	"strconv"
	"strings"
	"sync"
)

// Profile keys.
const (
	KeyDelayTime          = "delay_time"
	KeyArmingTime         = "arming_time"
	KeyTriggerTime        = "trigger_time"
	KeyDisarmAfterTrigger = "disarm_after_trigger"
	KeyCodeArmRequired    = "code_arm_required"
	KeyStateOverrides     = "state_overrides"
)

// Defaults used when a key is missing or unreadable.
const (
	DefaultDelayTime   = 30
	DefaultArmingTime  = 60
	DefaultTriggerTime = 120
)

// Profile is a named, read-only set of panel settings.
type Profile struct {
	Name   string
	values map[string]any
}

// NewProfile copies values into a new profile.
func NewProfile(name string, values map[string]any) *Profile {
	return &Profile{
		Name:   name,
		values: maps.Clone(values),
	}
}

// Raw returns the raw value for key.
func (p *Profile) Raw(key string) (any, bool) {
	if p == nil {
		return nil, false
	}

	v, ok := p.values[key]

	return v, ok
}

// Int reads an integer, accepting any numeric representation.
func (p *Profile) Int(key string, def int) int {
	v, ok := p.Raw(key)
	if !ok {
		return def
	}

	if n, ok := AsInt(v); ok {
		return n
	}

	return def
}

// Bool reads a boolean.
func (p *Profile) Bool(key string, def bool) bool {
	v, ok := p.Raw(key)
	if !ok {
		return def
	}

	switch b := v.(type) {
	case bool:
		return b
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(b))
		if err != nil {
			return def
		}

		return parsed
	default:
		return def
	}
}

// Seconds reads a non-negative duration in seconds. Negative values fall back to def.
func (p *Profile) Seconds(key string, def int) int {
	if n := p.Int(key, def); n >= 0 {
		return n
	}

	return def
}

// DelayTime is the entry delay in seconds.
func (p *Profile) DelayTime() int { return p.Seconds(KeyDelayTime, DefaultDelayTime) }

// ArmingTime is the exit delay in seconds.
func (p *Profile) ArmingTime() int { return p.Seconds(KeyArmingTime, DefaultArmingTime) }

// TriggerTime is the triggered duration in seconds.
func (p *Profile) TriggerTime() int { return p.Seconds(KeyTriggerTime, DefaultTriggerTime) }

// DisarmAfterTrigger reports whether the panel disarms when the trigger time ends.
func (p *Profile) DisarmAfterTrigger() bool { return p.Bool(KeyDisarmAfterTrigger, false) }

// CodeArmRequired reports whether arming needs a valid code.
func (p *Profile) CodeArmRequired() bool { return p.Bool(KeyCodeArmRequired, true) }

// StateOverrides returns the raw per-state override map. Entries may be
// malformed; consumers must tolerate that.
func (p *Profile) StateOverrides() map[string]any {
	v, ok := p.Raw(KeyStateOverrides)
	if !ok {
		return nil
	}

	return AsMap(v)
}

// AsInt converts numeric values of any common decoded type. Fractions and
// values outside the int range are rejected.
func AsInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return fromInt64(n)
	case uint:
		return fromUint64(uint64(n))
	case uint32:
		return fromUint64(uint64(n))
	case uint64:
		return fromUint64(n)
	case float64:
		return fromFloat(n)
	case float32:
		return fromFloat(float64(n))
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, false
		}

		return parsed, true
	default:
		return 0, false
	}
}

func fromInt64(n int64) (int, bool) {
	if n < math.MinInt || n > math.MaxInt {
		return 0, false
	}

	return int(n), true
}

func fromUint64(n uint64) (int, bool) {
	if n > math.MaxInt {
		return 0, false
	}

	return int(n), true
}

func fromFloat(f float64) (int, bool) {
	if math.IsNaN(f) || f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, false
	}

	return fromInt64(int64(f))
}

// AsMap normalises decoded maps to map[string]any, or returns nil.
func AsMap(v any) map[string]any {
	switch m := v.(type) {
	case map[string]any:
		return m
	case map[any]any:
		out := make(map[string]any, len(m))

		for k, val := range m {
			ks, ok := k.(string)
			if !ok {
				continue
			}

			out[ks] = val
		}

		return out
	default:
		return nil
	}
}

// Source yields the profile that is active right now.
type Source interface {
	Active() *Profile
}

// Static is a Source whose profile can be swapped at runtime.
type Static struct {
	mu      sync.RWMutex
	profile *Profile
}

// NewStatic creates a source serving profile.
func NewStatic(profile *Profile) *Static {
	return &Static{profile: profile}
}

// Active returns the current profile.
func (s *Static) Active() *Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.profile
}

// Replace swaps the active profile. In-flight transitions keep the timing
// they captured when they started.
func (s *Static) Replace(profile *Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.profile = profile
}
