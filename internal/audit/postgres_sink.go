package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"
)

// PostgresSink persists audit events in PostgreSQL.
type PostgresSink struct {
	db *sql.DB
}

// NewPostgresSink creates a PostgreSQL-backed audit sink.
func NewPostgresSink(db *sql.DB) *PostgresSink {
	return &PostgresSink{db: db}
}

// Migrate creates the audit_events table if it doesn't exist.
func (s *PostgresSink) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS audit_events (
			id              VARCHAR(64) PRIMARY KEY,
			transaction_id  VARCHAR(64) NOT NULL,
			amount          NUMERIC(14,2) NOT NULL,
			risk_score      NUMERIC(5,4) NOT NULL CHECK (risk_score >= 0 AND risk_score <= 1),
			verdict         VARCHAR(10) NOT NULL CHECK (verdict IN ('ALLOW', 'FLAG', 'BLOCK')),
			rules           JSONB NOT NULL DEFAULT '[]',
			degraded        BOOLEAN NOT NULL DEFAULT FALSE,
			created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_audit_events_created_at
			ON audit_events (created_at DESC);

		CREATE INDEX IF NOT EXISTS idx_audit_events_blocks
			ON audit_events (created_at DESC) WHERE verdict = 'BLOCK';
	`)
	return err
}

func (s *PostgresSink) Record(ctx context.Context, e *Event) error {
	rulesJSON, err := json.Marshal(e.Rules)
	if err != nil {
		return fmt.Errorf("failed to marshal rules: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_events (id, transaction_id, amount, risk_score, verdict, rules, degraded, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		e.ID,
		e.TransactionID,
		e.Amount,
		e.RiskScore,
		e.Verdict,
		rulesJSON,
		e.Degraded,
		e.CreatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return fmt.Errorf("duplicate audit event %s", e.ID)
		}
		return fmt.Errorf("failed to record audit event: %w", err)
	}
	return nil
}

// ListRecent returns up to limit events, newest first.
func (s *PostgresSink) ListRecent(ctx context.Context, limit int) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, transaction_id, amount, risk_score, verdict, rules, degraded, created_at
		FROM audit_events
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Event
	for rows.Next() {
		var e Event
		var rulesJSON []byte
		if err := rows.Scan(&e.ID, &e.TransactionID, &e.Amount, &e.RiskScore, &e.Verdict, &rulesJSON, &e.Degraded, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		if err := json.Unmarshal(rulesJSON, &e.Rules); err != nil {
			return nil, fmt.Errorf("failed to unmarshal rules: %w", err)
		}
		result = append(result, &e)
	}
	return result, rows.Err()
}
