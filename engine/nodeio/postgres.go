package nodeio

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/fmzchao/studio/common/db"
)

// PostgresSink persists node-I/O events as append-only rows
type PostgresSink struct {
	db *db.DB
}

// NewPostgresSink creates a Postgres-backed node-I/O sink
func NewPostgresSink(database *db.DB) *PostgresSink {
	return &PostgresSink{db: database}
}

// EnsureSchema creates the node-I/O table when it does not exist
func (s *PostgresSink) EnsureSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS node_io_events (
			id           BIGSERIAL   PRIMARY KEY,
			run_id       TEXT        NOT NULL,
			node_ref     TEXT        NOT NULL,
			kind         TEXT        NOT NULL,
			component_id TEXT,
			status       TEXT,
			payload      JSONB       NOT NULL,
			created_at   TIMESTAMPTZ NOT NULL
		)
	`

	if _, err := s.db.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create node-io table: %w", err)
	}
	if _, err := s.db.Exec(ctx,
		`CREATE INDEX IF NOT EXISTS node_io_events_run_idx ON node_io_events (run_id, node_ref)`); err != nil {
		return fmt.Errorf("failed to create node-io index: %w", err)
	}
	return nil
}

// Write inserts the event row
func (s *PostgresSink) Write(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal node-io event: %w", err)
	}

	query := `
		INSERT INTO node_io_events (run_id, node_ref, kind, component_id, status, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err = s.db.Exec(
		ctx,
		query,
		event.RunID,
		event.NodeRef,
		string(event.Kind),
		event.ComponentID,
		event.Status,
		payload,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert node-io event: %w", err)
	}
	return nil
}

// WriteBatch inserts several events in one transaction
func (s *PostgresSink) WriteBatch(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}
	return s.db.WithTx(ctx, func(tx pgx.Tx) error {
		query := `
			INSERT INTO node_io_events (run_id, node_ref, kind, component_id, status, payload, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`
		for _, event := range events {
			payload, err := json.Marshal(event)
			if err != nil {
				return fmt.Errorf("failed to marshal node-io event: %w", err)
			}
			if _, err := tx.Exec(ctx, query,
				event.RunID,
				event.NodeRef,
				string(event.Kind),
				event.ComponentID,
				event.Status,
				payload,
				event.Timestamp,
			); err != nil {
				return fmt.Errorf("failed to insert node-io event: %w", err)
			}
		}
		return nil
	})
}
