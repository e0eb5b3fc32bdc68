package entities

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/oshokin/alarm-panel/internal/logger"
)

var errEmptyEntityID = errors.New("entity id is empty")

// Update is an incoming entity state.
type Update struct {
	EntityID string `json:"entity_id"`
	State    string `json:"state"`
}

// Change is a committed state change.
type Change struct {
	EntityID string
	Previous string
	// Known is false when the entity had no state before.
	Known   bool
	Current string
}

// Listener is told about every change after it was stored.
type Listener interface {
	EntityChanged(ctx context.Context, change Change)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(ctx context.Context, change Change)

// EntityChanged calls f.
func (f ListenerFunc) EntityChanged(ctx context.Context, change Change) {
	f(ctx, change)
}

// Ingestor writes updates to the store and fans changes out to listeners.
// Updates are applied one at a time so previous states are exact.
type Ingestor struct {
	store     Store
	listeners []Listener
	mu        sync.Mutex
}

// NewIngestor creates an ingestor over store.
func NewIngestor(store Store) *Ingestor {
	return &Ingestor{store: store}
}

// Store returns the backing store.
func (i *Ingestor) Store() Store {
	return i.store
}

// AddListener registers a listener. It must be called before updates flow.
func (i *Ingestor) AddListener(l Listener) {
	i.listeners = append(i.listeners, l)
}

// Apply stores u. Listeners only hear about actual changes.
func (i *Ingestor) Apply(ctx context.Context, u Update) (Change, bool, error) {
	entityID := strings.TrimSpace(u.EntityID)
	if entityID == "" {
		return Change{}, false, errEmptyEntityID
	}

	change, changed, err := i.apply(ctx, entityID, u.State)
	if err != nil || !changed {
		return change, changed, err
	}

	logger.DebugKV(ctx, "Entity state changed",
		"entity_id", change.EntityID,
		"from", change.Previous,
		"to", change.Current)

	for _, l := range i.listeners {
		l.EntityChanged(ctx, change)
	}

	return change, true, nil
}

func (i *Ingestor) apply(ctx context.Context, entityID, state string) (Change, bool, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	previous, known, err := i.store.Get(ctx, entityID)
	if err != nil {
		return Change{}, false, err
	}

	change := Change{EntityID: entityID, Previous: previous, Known: known, Current: state}
	if known && previous == state {
		return change, false, nil
	}

	if err = i.store.Set(ctx, entityID, state); err != nil {
		return Change{}, false, fmt.Errorf("store entity: %w", err)
	}

	return change, true, nil
}
