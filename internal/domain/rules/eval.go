package rules

// Entities is a snapshot of external entity states keyed by entity id.
// A missing key means the entity has no known state.
type Entities map[string]string

// Trace is the explained verdict of one condition node.
type Trace struct {
	Op       string   `json:"op"`
	Result   bool     `json:"result"`
	EntityID string   `json:"entity_id,omitempty"`
	Expected string   `json:"expected,omitempty"`
	Actual   *string  `json:"actual,omitempty"`
	Seconds  int      `json:"seconds,omitempty"`
	Children []*Trace `json:"children,omitempty"`
	Reason   string   `json:"reason,omitempty"`
}

// Eval reports whether c matches entities. A For node evaluates its child and
// ignores the duration. Unknown and malformed nodes never match.
func Eval(c Condition, entities Entities) bool {
	switch n := c.(type) {
	case EntityState:
		actual, ok := entities[n.EntityID]

		return ok && actual == n.Equals
	case All:
		if len(n.Children) == 0 {
			return false
		}

		for _, child := range n.Children {
			if !Eval(child, entities) {
				return false
			}
		}

		return true
	case Any:
		for _, child := range n.Children {
			if Eval(child, entities) {
				return true
			}
		}

		return false
	case Not:
		if n.Child == nil {
			return false
		}

		return !Eval(n.Child, entities)
	case For:
		if n.Child == nil {
			return false
		}

		return Eval(n.Child, entities)
	default:
		return false
	}
}

// Explain evaluates c like Eval and returns the per-node trace. Every child is
// visited so the trace is complete.
func Explain(c Condition, entities Entities) (bool, *Trace) {
	trace := explain(c, entities)

	return trace.Result, trace
}

func explain(c Condition, entities Entities) *Trace {
	switch n := c.(type) {
	case EntityState:
		trace := &Trace{Op: OpEntityState, EntityID: n.EntityID, Expected: n.Equals}

		if actual, ok := entities[n.EntityID]; ok {
			trace.Actual = &actual
			trace.Result = actual == n.Equals
		}

		return trace
	case All:
		trace := &Trace{Op: OpAll, Result: len(n.Children) > 0}

		for _, child := range n.Children {
			childTrace := explain(child, entities)
			trace.Children = append(trace.Children, childTrace)
			trace.Result = trace.Result && childTrace.Result
		}

		if len(n.Children) == 0 {
			trace.Reason = "no children"
		}

		return trace
	case Any:
		trace := &Trace{Op: OpAny}

		for _, child := range n.Children {
			childTrace := explain(child, entities)
			trace.Children = append(trace.Children, childTrace)
			trace.Result = trace.Result || childTrace.Result
		}

		if len(n.Children) == 0 {
			trace.Reason = "no children"
		}

		return trace
	case Not:
		trace := &Trace{Op: OpNot}
		if n.Child == nil {
			trace.Reason = "no child"

			return trace
		}

		childTrace := explain(n.Child, entities)
		trace.Children = []*Trace{childTrace}
		trace.Result = !childTrace.Result

		return trace
	case For:
		trace := &Trace{Op: OpFor, Seconds: n.Seconds}
		if n.Child == nil {
			trace.Reason = "no child"

			return trace
		}

		childTrace := explain(n.Child, entities)
		trace.Children = []*Trace{childTrace}
		trace.Result = childTrace.Result

		return trace
	case Unknown:
		return &Trace{Op: n.Op(), Reason: n.Reason}
	default:
		return &Trace{Op: "unknown", Reason: "unsupported node"}
	}
}
