// Package codes validates user PIN codes against configured bcrypt hashes.
package codes

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/oshokin/alarm-panel/internal/metrics"
)

var (
	// ErrCodeRequired is returned when an operation needs a code and none was given.
	ErrCodeRequired = errors.New("code required")
	// ErrInvalidCode is returned when no enabled code matches.
	ErrInvalidCode = errors.New("invalid code")
	// ErrCodeExpired is returned when the matching code is past its expiry.
	ErrCodeExpired = errors.New("code expired")
	// ErrCodeExhausted is returned when the matching code has no uses left.
	ErrCodeExhausted = errors.New("code exhausted")
	// ErrUnknownCode is returned by MarkUsed for an id that is not configured.
	ErrUnknownCode = errors.New("unknown code")
)

// Code is one configured user code.
type Code struct {
	ID       int64
	Label    string
	Username string
	// Hash is the bcrypt hash of the PIN.
	Hash    []byte
	MaxUses *int
	// UseCount includes uses reserved by callers still running their operation.
	UseCount   int
	ExpiresAt  *time.Time
	LastUsedAt *time.Time
	Enabled    bool
}

// Definition is the configured form of a code. Exactly one of PIN or Hash is expected.
type Definition struct {
	ID        int64
	Label     string
	Username  string
	PIN       string
	Hash      string
	MaxUses   *int
	ExpiresAt *time.Time
	Enabled   bool
}

// Validator checks raw codes. It is safe for concurrent use.
type Validator struct {
	mu    sync.Mutex
	codes []*Code
}

// NewValidator hashes plain PINs and builds the validator.
func NewValidator(definitions []Definition) (*Validator, error) {
	v := &Validator{codes: make([]*Code, 0, len(definitions))}

	for _, d := range definitions {
		hash := []byte(d.Hash)

		if d.PIN != "" {
			var err error

			hash, err = bcrypt.GenerateFromPassword([]byte(d.PIN), bcrypt.DefaultCost)
			if err != nil {
				return nil, fmt.Errorf("hash code %d: %w", d.ID, err)
			}
		}

		if len(hash) == 0 {
			return nil, fmt.Errorf("code %d: pin or hash is required", d.ID)
		}

		v.codes = append(v.codes, &Code{
			ID:        d.ID,
			Label:     d.Label,
			Username:  d.Username,
			Hash:      hash,
			MaxUses:   d.MaxUses,
			ExpiresAt: d.ExpiresAt,
			Enabled:   d.Enabled,
		})
	}

	return v, nil
}

// Validate finds the code matching raw. username narrows the search to that
// user's codes when not empty. The returned Code is a copy.
func (v *Validator) Validate(username, raw string, now time.Time) (*Code, error) {
	return v.check(username, raw, now, false)
}

// Reserve validates raw like Validate and takes one use of the matching code in
// the same critical section, so concurrent callers cannot exceed max_uses.
// Callers give the use back with Release when their operation fails.
func (v *Validator) Reserve(username, raw string, now time.Time) (*Code, error) {
	return v.check(username, raw, now, true)
}

// Release returns a use taken by Reserve.
func (v *Validator) Release(codeID int64) {
	v.mu.Lock()
	defer v.mu.Unlock()

	for _, c := range v.codes {
		if c.ID == codeID && c.UseCount > 0 {
			c.UseCount--

			return
		}
	}
}

func (v *Validator) check(username, raw string, now time.Time, reserve bool) (*Code, error) {
	code, err := v.validate(username, raw, now, reserve)

	result := metrics.ResultSuccess
	if err != nil {
		result = err.Error()
	}

	metrics.IncCodeAttempt(result)

	return code, err
}

func (v *Validator) validate(username, raw string, now time.Time, reserve bool) (*Code, error) {
	if raw == "" {
		return nil, ErrCodeRequired
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	for _, c := range v.codes {
		if !c.Enabled || (username != "" && c.Username != "" && c.Username != username) {
			continue
		}

		if bcrypt.CompareHashAndPassword(c.Hash, []byte(raw)) != nil {
			continue
		}

		if c.ExpiresAt != nil && !now.Before(*c.ExpiresAt) {
			return nil, ErrCodeExpired
		}

		if c.MaxUses != nil && c.UseCount >= *c.MaxUses {
			return nil, ErrCodeExhausted
		}

		if reserve {
			c.UseCount++
		}

		cloned := *c

		return &cloned, nil
	}

	return nil, ErrInvalidCode
}

// MarkUsed stamps the last use of the code. The use itself was counted by Reserve.
func (v *Validator) MarkUsed(_ context.Context, codeID int64, at time.Time) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	for _, c := range v.codes {
		if c.ID == codeID {
			c.LastUsedAt = &at

			return nil
		}
	}

	return fmt.Errorf("%w: %d", ErrUnknownCode, codeID)
}

// Get returns a copy of the code with the given id.
func (v *Validator) Get(codeID int64) (*Code, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	for _, c := range v.codes {
		if c.ID == codeID {
			cloned := *c

			return &cloned, true
		}
	}

	return nil, false
}
