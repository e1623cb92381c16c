package audit

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySinkRecordAndList(t *testing.T) {
	s := NewMemorySink(100)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := s.Record(ctx, &Event{
			ID:            fmt.Sprintf("audit_%d", i),
			TransactionID: fmt.Sprintf("txn_%d", i),
			Amount:        float64(100 * (i + 1)),
			RiskScore:     0.1 * float64(i),
			Verdict:       "ALLOW",
			CreatedAt:     time.Now().UTC(),
		})
		require.NoError(t, err)
	}

	events, err := s.ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 3)

	// Newest first.
	assert.Equal(t, "audit_2", events[0].ID)
	assert.Equal(t, "audit_0", events[2].ID)
}

func TestMemorySinkLimit(t *testing.T) {
	s := NewMemorySink(100)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Record(ctx, &Event{ID: fmt.Sprintf("audit_%d", i)}))
	}

	events, err := s.ListRecent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "audit_4", events[0].ID)
	assert.Equal(t, "audit_3", events[1].ID)
}

func TestMemorySinkEviction(t *testing.T) {
	s := NewMemorySink(2)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		require.NoError(t, s.Record(ctx, &Event{ID: fmt.Sprintf("audit_%d", i)}))
	}

	events, err := s.ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "audit_3", events[0].ID)
	assert.Equal(t, "audit_2", events[1].ID)
}

func TestMemorySinkCopiesEvents(t *testing.T) {
	s := NewMemorySink(10)
	ctx := context.Background()

	e := &Event{ID: "audit_x", Verdict: "FLAG"}
	require.NoError(t, s.Record(ctx, e))
	e.Verdict = "BLOCK"

	events, err := s.ListRecent(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "FLAG", events[0].Verdict)
}
