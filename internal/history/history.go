// Package history maintains a bounded rolling window of recent feature
// vectors per identity. The window feeds the sequential model and the
// velocity / travel statistics the rule engine reads.
//
// The store itself is not responsible for request ordering: callers must
// serialize {snapshot, score, append} per identity (the engine holds a
// keyed lock for that critical section). Different identities never contend.
package history

import (
	"context"
	"fmt"
	"time"

	"github.com/veilpay/riskengine/internal/feature"
)

// Entry is one stored observation for an identity. Location and amount are
// kept alongside the vector so rule statistics never need a second store.
type Entry struct {
	Vector    feature.Vector `json:"vector"`
	Amount    float64        `json:"amount"`
	Latitude  float64        `json:"latitude"`
	Longitude float64        `json:"longitude"`
	Timestamp time.Time      `json:"timestamp"`
}

// Store is the per-identity rolling window store.
type Store interface {
	// Snapshot returns up to the window size of most recent entries for the
	// identity, oldest first. The returned slice is the caller's copy.
	Snapshot(ctx context.Context, identity string) ([]Entry, error)

	// Append records a new entry for the identity, evicting the oldest once
	// the window is full.
	Append(ctx context.Context, identity string, e Entry) error
}

// StoreError wraps a transient storage failure. The engine retries the
// operation once and then degrades to a padded window.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("history store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// BuildWindow assembles the fixed-length sequence the sequential model
// consumes. A full history yields the stored vectors as-is; anything less
// yields the current vector repeated w times. The trained weights expect a
// constant-state sequence for sparse histories, not zero padding.
func BuildWindow(entries []Entry, current feature.Vector, w int) [][]float64 {
	window := make([][]float64, 0, w)
	if len(entries) >= w {
		for _, e := range entries[len(entries)-w:] {
			window = append(window, e.Vector)
		}
		return window
	}
	for i := 0; i < w; i++ {
		window = append(window, current)
	}
	return window
}

// CountSince returns how many entries carry a timestamp at or after the
// cutoff.
func CountSince(entries []Entry, cutoff time.Time) int {
	n := 0
	for _, e := range entries {
		if !e.Timestamp.Before(cutoff) {
			n++
		}
	}
	return n
}

// Last returns the most recent entry, or false when the history is empty.
func Last(entries []Entry) (Entry, bool) {
	if len(entries) == 0 {
		return Entry{}, false
	}
	return entries[len(entries)-1], true
}
