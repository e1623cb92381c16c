// Package feature turns raw payment transactions into fixed-length numeric
// feature vectors using normalization parameters fitted at training time.
//
// The transform is a pure function: the same transaction and the same
// parameters always produce a bit-identical vector. That determinism is what
// makes per-feature attributions reproducible.
package feature

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Vector is a fixed-length ordered numeric feature vector.
type Vector []float64

// Clone returns an independent copy of the vector.
func (v Vector) Clone() Vector {
	out := make(Vector, len(v))
	copy(out, v)
	return out
}

// Transaction is the immutable raw input to the scoring pipeline.
type Transaction struct {
	TransactionID string    `json:"transaction_id"`
	Sender        string    `json:"sender"`
	Receiver      string    `json:"receiver"`
	Amount        float64   `json:"amount"`
	DeviceID      string    `json:"device_id"`
	Latitude      float64   `json:"latitude"`
	Longitude     float64   `json:"longitude"`
	Timestamp     time.Time `json:"timestamp"`

	// Derived lag features, filled in by the caller from the identity's
	// history before transformation. Zero when no history exists.
	TimeSinceLast float64 `json:"time_since_last,omitempty"` // seconds
	AmountDelta   float64 `json:"amount_delta,omitempty"`
}

// Hour returns the transaction's local hour of day.
func (t *Transaction) Hour() int { return t.Timestamp.Hour() }

// identityRe matches payment identities of the form "handle@provider".
var identityRe = regexp.MustCompile(`^[A-Za-z0-9._-]+@[A-Za-z0-9]+$`)

// ValidationError reports a malformed or out-of-range input field.
// It maps to a 4xx response and never mutates history.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// Validate checks every declared field domain. It returns the first
// violation as a *ValidationError.
func (t *Transaction) Validate() error {
	if strings.TrimSpace(t.Sender) == "" {
		return &ValidationError{Field: "sender", Message: "is required"}
	}
	if !identityRe.MatchString(t.Sender) {
		return &ValidationError{Field: "sender", Message: "must be a payment identity (handle@provider)"}
	}
	if strings.TrimSpace(t.Receiver) == "" {
		return &ValidationError{Field: "receiver", Message: "is required"}
	}
	if !identityRe.MatchString(t.Receiver) {
		return &ValidationError{Field: "receiver", Message: "must be a payment identity (handle@provider)"}
	}
	if t.Amount <= 0 {
		return &ValidationError{Field: "amount", Message: "must be positive"}
	}
	if t.Latitude < -90 || t.Latitude > 90 {
		return &ValidationError{Field: "latitude", Message: "must be within [-90, 90]"}
	}
	if t.Longitude < -180 || t.Longitude > 180 {
		return &ValidationError{Field: "longitude", Message: "must be within [-180, 180]"}
	}
	if t.Timestamp.IsZero() {
		return &ValidationError{Field: "timestamp", Message: "is required"}
	}
	return nil
}
