package trace

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fmzchao/studio/common/db"
)

// PostgresSink persists events as rows keyed by (run_id, sequence). Replayed
// deliveries hit the primary key and are dropped.
type PostgresSink struct {
	db *db.DB
}

// NewPostgresSink creates a Postgres-backed trace sink
func NewPostgresSink(database *db.DB) *PostgresSink {
	return &PostgresSink{db: database}
}

// EnsureSchema creates the trace table when it does not exist
func (s *PostgresSink) EnsureSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS run_trace_events (
			run_id     TEXT        NOT NULL,
			sequence   BIGINT      NOT NULL,
			node_ref   TEXT        NOT NULL,
			event_type TEXT        NOT NULL,
			level      TEXT        NOT NULL,
			message    TEXT,
			payload    JSONB       NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (run_id, sequence)
		)
	`

	if _, err := s.db.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create trace table: %w", err)
	}
	return nil
}

// Append inserts the event row
func (s *PostgresSink) Append(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal trace event: %w", err)
	}

	query := `
		INSERT INTO run_trace_events (run_id, sequence, node_ref, event_type, level, message, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (run_id, sequence) DO NOTHING
	`

	_, err = s.db.Exec(
		ctx,
		query,
		event.RunID,
		event.Sequence,
		event.NodeRef,
		string(event.Type),
		string(event.Level),
		event.Message,
		payload,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert trace event: %w", err)
	}
	return nil
}

// RunEvents loads the events of one run ordered by sequence
func (s *PostgresSink) RunEvents(ctx context.Context, runID string) ([]Event, error) {
	query := `
		SELECT payload
		FROM run_trace_events
		WHERE run_id = $1
		ORDER BY sequence ASC
	`

	rows, err := s.db.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query trace events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan trace event: %w", err)
		}
		var event Event
		if err := json.Unmarshal(payload, &event); err != nil {
			return nil, fmt.Errorf("failed to unmarshal trace event: %w", err)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}
