package state

import (
	"context"
	"sync"

	"github.com/oshokin/alarm-panel/internal/domain/alarm"
	"github.com/oshokin/alarm-panel/internal/domain/rules"
)

// MemoryRepository keeps everything in process memory.
type MemoryRepository struct {
	// retention caps events and action logs; oldest entries are dropped.
	retention int

	mu       sync.RWMutex
	snapshot *alarm.Snapshot
	runtime  map[int64]*rules.RuntimeState
	events   []*alarm.Event
	logs     []*rules.ActionLog
}

// NewMemoryRepository creates an empty repository. A non-positive retention
// uses DefaultRetention.
func NewMemoryRepository(retention int) *MemoryRepository {
	if retention <= 0 {
		retention = DefaultRetention
	}

	return &MemoryRepository{
		retention: retention,
		runtime:   make(map[int64]*rules.RuntimeState),
	}
}

// Load returns the stored snapshot or ErrNotFound.
func (r *MemoryRepository) Load(context.Context) (*alarm.Snapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.snapshot == nil {
		return nil, ErrNotFound
	}

	return r.snapshot.Clone(), nil
}

// Save stores a copy of the snapshot.
func (r *MemoryRepository) Save(_ context.Context, snapshot *alarm.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.snapshot = snapshot.Clone()

	return nil
}

// ListRuntime returns copies of every runtime row.
func (r *MemoryRepository) ListRuntime(context.Context) (map[int64]*rules.RuntimeState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[int64]*rules.RuntimeState, len(r.runtime))
	for id, s := range r.runtime {
		out[id] = s.Clone()
	}

	return out, nil
}

// SaveRuntime upserts a runtime row.
func (r *MemoryRepository) SaveRuntime(_ context.Context, s *rules.RuntimeState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.runtime[s.RuleID] = s.Clone()

	return nil
}

// AppendEvent appends an event, trimming to retention.
func (r *MemoryRepository) AppendEvent(_ context.Context, event *alarm.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = appendBounded(r.events, event.Clone(), r.retention)

	return nil
}

// ListEvents returns up to limit events, newest first.
func (r *MemoryRepository) ListEvents(_ context.Context, limit int) ([]*alarm.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return newestFirst(r.events, limit, (*alarm.Event).Clone), nil
}

// AppendActionLog appends a rule audit record, trimming to retention.
func (r *MemoryRepository) AppendActionLog(_ context.Context, log *rules.ActionLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cloned := *log
	r.logs = appendBounded(r.logs, &cloned, r.retention)

	return nil
}

// ListActionLogs returns up to limit records, newest first.
func (r *MemoryRepository) ListActionLogs(_ context.Context, limit int) ([]*rules.ActionLog, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return newestFirst(r.logs, limit, func(l *rules.ActionLog) *rules.ActionLog {
		cloned := *l

		return &cloned
	}), nil
}

// Close is a no-op.
func (r *MemoryRepository) Close() error {
	return nil
}

func appendBounded[T any](list []T, item T, limit int) []T {
	list = append(list, item)
	if len(list) > limit {
		list = append(list[:0:0], list[len(list)-limit:]...)
	}

	return list
}

func newestFirst[T any](list []T, limit int, clone func(T) T) []T {
	if limit <= 0 || limit > len(list) {
		limit = len(list)
	}

	out := make([]T, 0, limit)
	for i := len(list) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, clone(list[i]))
	}

	return out
}
