package rules

import (
	"slices"
	"sync"

	domain "github.com/oshokin/alarm-panel/internal/domain/rules"
)

// Catalog holds the configured rules. It is safe for concurrent use.
type Catalog struct {
	mu    sync.RWMutex
	rules []*domain.Rule
}

// NewCatalog creates a catalog with list.
func NewCatalog(list []*domain.Rule) *Catalog {
	c := &Catalog{}
	c.Replace(list)

	return c
}

// Replace swaps the rule set.
func (c *Catalog) Replace(list []*domain.Rule) {
	sorted := slices.Clone(list)
	domain.SortForEvaluation(sorted)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.rules = sorted
}

// Enabled returns the enabled rules in evaluation order.
func (c *Catalog) Enabled() []*domain.Rule {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*domain.Rule, 0, len(c.rules))
	for _, r := range c.rules {
		if r.Enabled {
			out = append(out, r)
		}
	}

	return out
}

// All returns every rule in evaluation order.
func (c *Catalog) All() []*domain.Rule {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return slices.Clone(c.rules)
}
