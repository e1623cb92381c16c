// Package audit records anonymized scoring decisions. Events carry the
// amount, scores, verdict and triggered rules but never identities,
// device IDs or coordinates, so a sink (or the live feed fed from it)
// can be exposed more widely than the scoring API itself.
package audit

import (
	"context"
	"time"
)

// Event is one anonymized scoring decision.
type Event struct {
	ID            string    `json:"id"`
	TransactionID string    `json:"transaction_id"`
	Amount        float64   `json:"amount"`
	RiskScore     float64   `json:"risk_score"`
	Verdict       string    `json:"verdict"`
	Rules         []string  `json:"rules,omitempty"`
	Degraded      bool      `json:"degraded"`
	CreatedAt     time.Time `json:"created_at"`
}

// Sink persists audit events.
type Sink interface {
	Record(ctx context.Context, e *Event) error
	ListRecent(ctx context.Context, limit int) ([]*Event, error)
}
