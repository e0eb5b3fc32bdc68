package state

import (
	"context"
	"errors"

	"github.com/oshokin/alarm-panel/internal/domain/alarm"
	"github.com/oshokin/alarm-panel/internal/domain/rules"
)

// ErrNotFound is returned when no snapshot has been stored yet.
var ErrNotFound = errors.New("state not found")

// DefaultRetention bounds in-memory event and action log history.
const DefaultRetention = 1000

// SnapshotRepository persists the single alarm aggregate.
type SnapshotRepository interface {
	Load(ctx context.Context) (*alarm.Snapshot, error)
	Save(ctx context.Context, snapshot *alarm.Snapshot) error
}

// RuntimeRepository persists per-rule runtime rows.
type RuntimeRepository interface {
	ListRuntime(ctx context.Context) (map[int64]*rules.RuntimeState, error)
	SaveRuntime(ctx context.Context, state *rules.RuntimeState) error
}

// EventRepository is the append-only alarm event log.
type EventRepository interface {
	AppendEvent(ctx context.Context, event *alarm.Event) error
	// ListEvents returns the newest events first.
	ListEvents(ctx context.Context, limit int) ([]*alarm.Event, error)
}

// ActionLogRepository is the append-only rule firing audit log.
type ActionLogRepository interface {
	AppendActionLog(ctx context.Context, log *rules.ActionLog) error
	// ListActionLogs returns the newest records first.
	ListActionLogs(ctx context.Context, limit int) ([]*rules.ActionLog, error)
}

// Repository bundles every persistence concern of the panel.
type Repository interface {
	SnapshotRepository
	RuntimeRepository
	EventRepository
	ActionLogRepository
	Close() error
}
