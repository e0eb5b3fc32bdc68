package postgres

import (
	"context"
	"fmt"
)

// schema bootstraps the tables. Real migrations are owned by deployment tooling.
const schema = `
CREATE TABLE IF NOT EXISTS alarm_state_snapshots (
	id SMALLINT PRIMARY KEY CHECK (id = 1),
	current_state TEXT NOT NULL,
	previous_state TEXT NOT NULL DEFAULT '',
	target_armed_state TEXT NOT NULL DEFAULT '',
	entered_at TIMESTAMPTZ NOT NULL,
	exit_at TIMESTAMPTZ NULL,
	last_transition_reason TEXT NOT NULL DEFAULT '',
	last_transition_actor JSONB NULL,
	timing_snapshot JSONB NULL,
	settings_profile TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS alarm_events (
	id UUID PRIMARY KEY,
	seq BIGSERIAL,
	event_type TEXT NOT NULL,
	state_from TEXT NOT NULL DEFAULT '',
	state_to TEXT NOT NULL DEFAULT '',
	ts TIMESTAMPTZ NOT NULL,
	actor JSONB NULL,
	code_id BIGINT NULL,
	sensor_id TEXT NOT NULL DEFAULT '',
	metadata JSONB NOT NULL DEFAULT '{}'::jsonb
);

CREATE INDEX IF NOT EXISTS alarm_events_ts_idx ON alarm_events (ts DESC, seq DESC);

CREATE TABLE IF NOT EXISTS rule_runtime_states (
	rule_id BIGINT NOT NULL,
	node_id TEXT NOT NULL,
	became_true_at TIMESTAMPTZ NULL,
	scheduled_for TIMESTAMPTZ NULL,
	last_fired_at TIMESTAMPTZ NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (rule_id, node_id)
);

CREATE TABLE IF NOT EXISTS rule_action_logs (
	id UUID PRIMARY KEY,
	seq BIGSERIAL,
	rule_id BIGINT NOT NULL,
	rule_name TEXT NOT NULL,
	fired_at TIMESTAMPTZ NOT NULL,
	kind TEXT NOT NULL DEFAULT '',
	results JSONB NOT NULL DEFAULT '[]'::jsonb,
	error TEXT NOT NULL DEFAULT '',
	alarm_state_before TEXT NOT NULL DEFAULT '',
	alarm_state_after TEXT NOT NULL DEFAULT ''
);
`

// EnsureSchema creates missing tables.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}

	return nil
}
