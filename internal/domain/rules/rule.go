package rules

import (
	"cmp"
	"slices"
	"time"

	"github.com/oshokin/alarm-panel/internal/domain/alarm"
)

// Rule is a user-defined automation.
type Rule struct {
	ID       int64
	Name     string
	Kind     string
	Enabled  bool
	Priority int
	When     Condition
	Then     []Action
	// CooldownSeconds is the minimum spacing between firings, nil for none.
	CooldownSeconds *int
	// Definition keeps the decoded source for display.
	Definition map[string]any
}

// ParseDefinition builds the when/then parts of a rule from its decoded definition.
func ParseDefinition(definition map[string]any) (Condition, []Action) {
	when, ok := definition["when"]
	if !ok {
		return Unknown{Reason: "definition has no when"}, ParseActions(definition["then"])
	}

	return ParseCondition(when), ParseActions(definition["then"])
}

// CooldownActive reports whether the rule fired too recently to fire at now.
func (r *Rule) CooldownActive(lastFiredAt *time.Time, now time.Time) bool {
	if r.CooldownSeconds == nil || lastFiredAt == nil {
		return false
	}

	return now.Sub(*lastFiredAt) < time.Duration(*r.CooldownSeconds)*time.Second
}

// SortForEvaluation orders rules by priority (highest first) then id.
func SortForEvaluation(list []*Rule) {
	slices.SortStableFunc(list, func(a, b *Rule) int {
		if c := cmp.Compare(b.Priority, a.Priority); c != 0 {
			return c
		}

		return cmp.Compare(a.ID, b.ID)
	})
}

// RuntimeNode is the single logical anchor runtime rows are keyed by.
const RuntimeNode = "alarm"

// RuntimeState is the persisted scheduling memory of one rule.
type RuntimeState struct {
	RuleID       int64      `json:"rule_id"`
	NodeID       string     `json:"node_id"`
	BecameTrueAt *time.Time `json:"became_true_at,omitempty"`
	ScheduledFor *time.Time `json:"scheduled_for,omitempty"`
	LastFiredAt  *time.Time `json:"last_fired_at,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// NewRuntimeState creates an empty runtime row.
func NewRuntimeState(ruleID int64) *RuntimeState {
	return &RuntimeState{RuleID: ruleID, NodeID: RuntimeNode}
}

// ClearSchedule forgets a pending for-condition.
func (s *RuntimeState) ClearSchedule() {
	s.BecameTrueAt = nil
	s.ScheduledFor = nil
}

// Due reports whether a pending schedule has come due.
func (s *RuntimeState) Due(now time.Time) bool {
	return s.ScheduledFor != nil && !s.ScheduledFor.After(now)
}

// Clone returns an independent copy.
func (s *RuntimeState) Clone() *RuntimeState {
	if s == nil {
		return nil
	}

	cloned := *s
	cloned.BecameTrueAt = cloneTime(s.BecameTrueAt)
	cloned.ScheduledFor = cloneTime(s.ScheduledFor)
	cloned.LastFiredAt = cloneTime(s.LastFiredAt)

	return &cloned
}

// ActionResult is the outcome of one executed action.
type ActionResult struct {
	Index int    `json:"index"`
	Type  string `json:"type"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// ActionLog is the audit record of one rule firing.
type ActionLog struct {
	ID          string         `json:"id"`
	RuleID      int64          `json:"rule_id"`
	RuleName    string         `json:"rule_name"`
	FiredAt     time.Time      `json:"fired_at"`
	Kind        string         `json:"kind"`
	Results     []ActionResult `json:"results"`
	Error       string         `json:"error,omitempty"`
	StateBefore alarm.State    `json:"alarm_state_before,omitempty"`
	StateAfter  alarm.State    `json:"alarm_state_after,omitempty"`
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}

	v := *t

	return &v
}

// TimePtr returns a pointer to t.
func TimePtr(t time.Time) *time.Time {
	return &t
}
