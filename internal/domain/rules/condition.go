package rules

import (
	"fmt"
	"strings"

	"github.com/oshokin/alarm-panel/internal/settings"
)

// Operator names used in rule definitions.
const (
	OpEntityState = "entity_state"
	OpAll         = "all"
	OpAny         = "any"
	OpNot         = "not"
	OpFor         = "for"
)

// Condition is one node of a rule's when-tree.
type Condition interface {
	// Op returns the operator name of the node.
	Op() string
	isCondition()
}

// EntityState matches when the entity's state equals a string exactly.
type EntityState struct {
	EntityID string
	Equals   string
}

// All matches when every child matches. An empty list never matches.
type All struct {
	Children []Condition
}

// Any matches when at least one child matches. An empty list never matches.
type Any struct {
	Children []Condition
}

// Not negates its child.
type Not struct {
	Child Condition
}

// For requires Child to hold continuously for Seconds. Only a root For is
// scheduled; anywhere else it behaves like Child.
type For struct {
	Seconds int
	Child   Condition
}

// Unknown is a node that could not be parsed. It never matches.
type Unknown struct {
	Reason string
}

func (EntityState) Op() string { return OpEntityState }
func (All) Op() string         { return OpAll }
func (Any) Op() string         { return OpAny }
func (Not) Op() string         { return OpNot }
func (For) Op() string         { return OpFor }
func (Unknown) Op() string     { return "unknown" }

func (EntityState) isCondition() {}
func (All) isCondition()         {}
func (Any) isCondition()         {}
func (Not) isCondition()         {}
func (For) isCondition()         {}
func (Unknown) isCondition()     {}

// ExtractFor returns the duration and inner condition of a root For node.
func ExtractFor(c Condition) (int, Condition, bool) {
	f, ok := c.(For)
	if !ok {
		return 0, nil, false
	}

	return f.Seconds, f.Child, true
}

// ParseCondition converts a decoded definition node into a Condition.
func ParseCondition(raw any) Condition {
	node := settings.AsMap(raw)
	if node == nil {
		return Unknown{Reason: fmt.Sprintf("node is %T, not an object", raw)}
	}

	op, _ := node["op"].(string)

	switch strings.ToLower(strings.TrimSpace(op)) {
	case OpEntityState:
		entityID, _ := node["entity_id"].(string)
		equals, ok := node["equals"].(string)

		if strings.TrimSpace(entityID) == "" || !ok {
			return Unknown{Reason: "entity_state needs entity_id and a string equals"}
		}

		return EntityState{EntityID: entityID, Equals: equals}
	case OpAll:
		children, ok := parseChildren(node["children"])
		if !ok {
			return Unknown{Reason: "all needs a children list"}
		}

		return All{Children: children}
	case OpAny:
		children, ok := parseChildren(node["children"])
		if !ok {
			return Unknown{Reason: "any needs a children list"}
		}

		return Any{Children: children}
	case OpNot:
		child, ok := node["child"]
		if !ok {
			return Unknown{Reason: "not needs a child"}
		}

		return Not{Child: ParseCondition(child)}
	case OpFor:
		seconds, ok := settings.AsInt(node["seconds"])
		if !ok || seconds <= 0 {
			return Unknown{Reason: "for needs positive seconds"}
		}

		child, ok := node["child"]
		if !ok {
			return Unknown{Reason: "for needs a child"}
		}

		return For{Seconds: seconds, Child: ParseCondition(child)}
	default:
		return Unknown{Reason: fmt.Sprintf("unknown operator %q", op)}
	}
}

func parseChildren(raw any) ([]Condition, bool) {
	list, ok := raw.([]any)
	if !ok {
		return nil, false
	}

	children := make([]Condition, 0, len(list))
	for _, item := range list {
		children = append(children, ParseCondition(item))
	}

	return children, true
}
