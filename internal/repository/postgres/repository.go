package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Registers the "pgx" database/sql driver.

	"github.com/oshokin/alarm-panel/internal/domain/alarm"
	"github.com/oshokin/alarm-panel/internal/domain/rules"
	"github.com/oshokin/alarm-panel/internal/repository/state"
)

var errNilDB = errors.New("postgres repository: nil db")

// Repository implements state.Repository on PostgreSQL.
type Repository struct {
	db *sql.DB
}

var _ state.Repository = (*Repository)(nil)

// Open connects with the pgx driver and verifies the connection.
func Open(ctx context.Context, dsn string) (*Repository, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if err = db.PingContext(ctx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return New(db), nil
}

// New wraps an existing handle.
func New(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Close releases the pool.
func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}

	return r.db.Close()
}

// Load reads the singleton snapshot row.
func (r *Repository) Load(ctx context.Context) (*alarm.Snapshot, error) {
	if r == nil || r.db == nil {
		return nil, errNilDB
	}

	row := r.db.QueryRowContext(ctx, `
SELECT current_state, previous_state, target_armed_state, entered_at, exit_at,
	last_transition_reason, last_transition_actor, timing_snapshot, settings_profile
FROM alarm_state_snapshots
WHERE id = 1`)

	var (
		s         alarm.Snapshot
		exitAt    sql.NullTime
		actorJSON []byte
		timing    []byte
	)

	err := row.Scan(
		&s.CurrentState,
		&s.PreviousState,
		&s.TargetArmedState,
		&s.EnteredAt,
		&exitAt,
		&s.LastReason,
		&actorJSON,
		&timing,
		&s.ProfileName,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, state.ErrNotFound
		}

		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	s.EnteredAt = s.EnteredAt.UTC()

	if exitAt.Valid {
		t := exitAt.Time.UTC()
		s.ExitAt = &t
	}

	if s.LastActor, err = decodeNullable[alarm.Actor](actorJSON); err != nil {
		return nil, fmt.Errorf("decode actor: %w", err)
	}

	if s.Timing, err = decodeNullable[alarm.Timing](timing); err != nil {
		return nil, fmt.Errorf("decode timing: %w", err)
	}

	return &s, nil
}

// Save upserts the singleton snapshot row.
func (r *Repository) Save(ctx context.Context, s *alarm.Snapshot) error {
	if r == nil || r.db == nil {
		return errNilDB
	}

	actorJSON, err := encodeNullable(s.LastActor)
	if err != nil {
		return err
	}

	timing, err := encodeNullable(s.Timing)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO alarm_state_snapshots (
	id, current_state, previous_state, target_armed_state, entered_at, exit_at,
	last_transition_reason, last_transition_actor, timing_snapshot, settings_profile
) VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (id) DO UPDATE SET
	current_state = EXCLUDED.current_state,
	previous_state = EXCLUDED.previous_state,
	target_armed_state = EXCLUDED.target_armed_state,
	entered_at = EXCLUDED.entered_at,
	exit_at = EXCLUDED.exit_at,
	last_transition_reason = EXCLUDED.last_transition_reason,
	last_transition_actor = EXCLUDED.last_transition_actor,
	timing_snapshot = EXCLUDED.timing_snapshot,
	settings_profile = EXCLUDED.settings_profile`,
		string(s.CurrentState),
		string(s.PreviousState),
		string(s.TargetArmedState),
		s.EnteredAt,
		nullTime(s.ExitAt),
		s.LastReason,
		actorJSON,
		timing,
		s.ProfileName,
	)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}

	return nil
}

// ListRuntime reads every runtime row of the alarm anchor.
func (r *Repository) ListRuntime(ctx context.Context) (map[int64]*rules.RuntimeState, error) {
	if r == nil || r.db == nil {
		return nil, errNilDB
	}

	rows, err := r.db.QueryContext(ctx, `
SELECT rule_id, node_id, became_true_at, scheduled_for, last_fired_at, updated_at
FROM rule_runtime_states
WHERE node_id = $1`, rules.RuntimeNode)
	if err != nil {
		return nil, fmt.Errorf("list runtime: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]*rules.RuntimeState)

	for rows.Next() {
		var (
			s                                   rules.RuntimeState
			becameTrue, scheduledFor, lastFired sql.NullTime
		)

		if err = rows.Scan(&s.RuleID, &s.NodeID, &becameTrue, &scheduledFor, &lastFired, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan runtime: %w", err)
		}

		s.BecameTrueAt = timePtr(becameTrue)
		s.ScheduledFor = timePtr(scheduledFor)
		s.LastFiredAt = timePtr(lastFired)
		s.UpdatedAt = s.UpdatedAt.UTC()
		out[s.RuleID] = &s
	}

	return out, rows.Err()
}

// SaveRuntime upserts one runtime row.
func (r *Repository) SaveRuntime(ctx context.Context, s *rules.RuntimeState) error {
	if r == nil || r.db == nil {
		return errNilDB
	}

	nodeID := s.NodeID
	if nodeID == "" {
		nodeID = rules.RuntimeNode
	}

	updatedAt := s.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, `
INSERT INTO rule_runtime_states (rule_id, node_id, became_true_at, scheduled_for, last_fired_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (rule_id, node_id) DO UPDATE SET
	became_true_at = EXCLUDED.became_true_at,
	scheduled_for = EXCLUDED.scheduled_for,
	last_fired_at = EXCLUDED.last_fired_at,
	updated_at = EXCLUDED.updated_at`,
		s.RuleID, nodeID, nullTime(s.BecameTrueAt), nullTime(s.ScheduledFor), nullTime(s.LastFiredAt), updatedAt)
	if err != nil {
		return fmt.Errorf("save runtime: %w", err)
	}

	return nil
}

// AppendEvent inserts an alarm event.
func (r *Repository) AppendEvent(ctx context.Context, e *alarm.Event) error {
	if r == nil || r.db == nil {
		return errNilDB
	}

	actorJSON, err := encodeNullable(e.Actor)
	if err != nil {
		return err
	}

	metadata := e.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}

	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	var codeID sql.NullInt64
	if e.CodeID != nil {
		codeID = sql.NullInt64{Int64: *e.CodeID, Valid: true}
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO alarm_events (id, event_type, state_from, state_to, ts, actor, code_id, sensor_id, metadata)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, string(e.Type), string(e.StateFrom), string(e.StateTo), e.Timestamp, actorJSON, codeID, e.SensorID, metaJSON)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}

	return nil
}

// ListEvents returns the newest events first.
func (r *Repository) ListEvents(ctx context.Context, limit int) ([]*alarm.Event, error) {
	if r == nil || r.db == nil {
		return nil, errNilDB
	}

	rows, err := r.db.QueryContext(ctx, `
SELECT id, event_type, state_from, state_to, ts, actor, code_id, sensor_id, metadata
FROM alarm_events
ORDER BY ts DESC, seq DESC
LIMIT $1`, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []*alarm.Event

	for rows.Next() {
		var (
			e         alarm.Event
			actorJSON []byte
			codeID    sql.NullInt64
			metaJSON  []byte
		)

		if err = rows.Scan(&e.ID, &e.Type, &e.StateFrom, &e.StateTo, &e.Timestamp, &actorJSON, &codeID,
			&e.SensorID, &metaJSON); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}

		e.Timestamp = e.Timestamp.UTC()

		if codeID.Valid {
			id := codeID.Int64
			e.CodeID = &id
		}

		if e.Actor, err = decodeNullable[alarm.Actor](actorJSON); err != nil {
			return nil, fmt.Errorf("decode actor: %w", err)
		}

		if len(metaJSON) > 0 {
			if err = json.Unmarshal(metaJSON, &e.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata: %w", err)
			}
		}

		out = append(out, &e)
	}

	return out, rows.Err()
}

// AppendActionLog inserts a rule audit record.
func (r *Repository) AppendActionLog(ctx context.Context, l *rules.ActionLog) error {
	if r == nil || r.db == nil {
		return errNilDB
	}

	results, err := json.Marshal(l.Results)
	if err != nil {
		return fmt.Errorf("encode results: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO rule_action_logs (
	id, rule_id, rule_name, fired_at, kind, results, error, alarm_state_before, alarm_state_after
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		l.ID, l.RuleID, l.RuleName, l.FiredAt, l.Kind, results, l.Error, string(l.StateBefore), string(l.StateAfter))
	if err != nil {
		return fmt.Errorf("append action log: %w", err)
	}

	return nil
}

// ListActionLogs returns the newest audit records first.
func (r *Repository) ListActionLogs(ctx context.Context, limit int) ([]*rules.ActionLog, error) {
	if r == nil || r.db == nil {
		return nil, errNilDB
	}

	rows, err := r.db.QueryContext(ctx, `
SELECT id, rule_id, rule_name, fired_at, kind, results, error, alarm_state_before, alarm_state_after
FROM rule_action_logs
ORDER BY fired_at DESC, seq DESC
LIMIT $1`, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list action logs: %w", err)
	}
	defer rows.Close()

	var out []*rules.ActionLog

	for rows.Next() {
		var (
			l       rules.ActionLog
			results []byte
		)

		if err = rows.Scan(&l.ID, &l.RuleID, &l.RuleName, &l.FiredAt, &l.Kind, &results, &l.Error,
			&l.StateBefore, &l.StateAfter); err != nil {
			return nil, fmt.Errorf("scan action log: %w", err)
		}

		l.FiredAt = l.FiredAt.UTC()

		if err = json.Unmarshal(results, &l.Results); err != nil {
			return nil, fmt.Errorf("decode results: %w", err)
		}

		out = append(out, &l)
	}

	return out, rows.Err()
}

func normalizeLimit(limit int) int {
	const maxLimit = 1000
	if limit <= 0 || limit > maxLimit {
		return maxLimit
	}

	return limit
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}

	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}

	v := t.Time.UTC()

	return &v
}

func encodeNullable[T any](v *T) ([]byte, error) {
	if v == nil {
		return nil, nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}

	return data, nil
}

func decodeNullable[T any](data []byte) (*T, error) {
	if len(data) == 0 {
		return nil, nil //nolint:nilnil // Absent column maps to nil.
	}

	v := new(T)
	if err := json.Unmarshal(data, v); err != nil {
		return nil, err
	}

	return v, nil
}
