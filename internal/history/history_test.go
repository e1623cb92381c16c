package history

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/veilpay/riskengine/internal/feature"
)

func entryAt(ts time.Time, v ...float64) Entry {
	return Entry{Vector: feature.Vector(v), Timestamp: ts, Amount: 100}
}

func TestMemoryStoreSnapshotEmpty(t *testing.T) {
	s := NewMemoryStore(10)
	entries, err := s.Snapshot(context.Background(), "alice@okbank")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty snapshot, got %d entries", len(entries))
	}
}

func TestMemoryStoreAppendAndSnapshotOrder(t *testing.T) {
	s := NewMemoryStore(10)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		if err := s.Append(ctx, "alice@okbank", entryAt(base.Add(time.Duration(i)*time.Minute), float64(i))); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	entries, err := s.Snapshot(ctx, "alice@okbank")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	for i, e := range entries {
		if e.Vector[0] != float64(i) {
			t.Errorf("entry %d has vector %v, want oldest-first order", i, e.Vector)
		}
	}
}

func TestMemoryStoreEviction(t *testing.T) {
	s := NewMemoryStore(3)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		_ = s.Append(ctx, "bob@okbank", entryAt(base.Add(time.Duration(i)*time.Minute), float64(i)))
	}

	entries, _ := s.Snapshot(ctx, "bob@okbank")
	if len(entries) != 3 {
		t.Fatalf("expected window of 3, got %d", len(entries))
	}
	if entries[0].Vector[0] != 2 || entries[2].Vector[0] != 4 {
		t.Errorf("oldest entries not evicted: %v", entries)
	}
}

func TestMemoryStoreSnapshotIsACopy(t *testing.T) {
	s := NewMemoryStore(10)
	ctx := context.Background()
	_ = s.Append(ctx, "alice@okbank", entryAt(time.Now(), 1, 2, 3))

	snap, _ := s.Snapshot(ctx, "alice@okbank")
	snap[0].Vector[0] = 999

	again, _ := s.Snapshot(ctx, "alice@okbank")
	if again[0].Vector[0] != 1 {
		t.Fatal("snapshot mutation leaked into the store")
	}
}

func TestMemoryStoreIdentitiesIndependent(t *testing.T) {
	s := NewMemoryStore(10)
	ctx := context.Background()
	_ = s.Append(ctx, "alice@okbank", entryAt(time.Now(), 1))

	entries, _ := s.Snapshot(ctx, "bob@okbank")
	if len(entries) != 0 {
		t.Fatal("identities must not share windows")
	}
}

func TestBuildWindowFullHistory(t *testing.T) {
	entries := []Entry{
		entryAt(time.Now(), 1),
		entryAt(time.Now(), 2),
		entryAt(time.Now(), 3),
	}
	current := feature.Vector{9}

	window := BuildWindow(entries, current, 3)
	want := [][]float64{{1}, {2}, {3}}
	if !reflect.DeepEqual(window, want) {
		t.Fatalf("window = %v, want %v", window, want)
	}
}

func TestBuildWindowPadsWithCurrentVector(t *testing.T) {
	current := feature.Vector{7, 8}

	for _, n := range []int{0, 1, 2} {
		entries := make([]Entry, n)
		for i := range entries {
			entries[i] = entryAt(time.Now(), float64(i))
		}

		window := BuildWindow(entries, current, 3)
		if len(window) != 3 {
			t.Fatalf("window length %d, want 3", len(window))
		}
		for i, v := range window {
			if !reflect.DeepEqual(v, []float64(current)) {
				t.Fatalf("history of %d: window[%d] = %v, want repeated current vector", n, i, v)
			}
		}
	}
}

func TestCountSince(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	entries := []Entry{
		entryAt(base.Add(-2 * time.Hour)),
		entryAt(base.Add(-30 * time.Minute)),
		entryAt(base.Add(-10 * time.Minute)),
		entryAt(base),
	}

	if got := CountSince(entries, base.Add(-time.Hour)); got != 3 {
		t.Errorf("CountSince = %d, want 3", got)
	}
	if got := CountSince(entries, base.Add(time.Minute)); got != 0 {
		t.Errorf("CountSince future cutoff = %d, want 0", got)
	}
}

func TestLast(t *testing.T) {
	if _, ok := Last(nil); ok {
		t.Fatal("Last of empty history should report false")
	}

	entries := []Entry{entryAt(time.Now(), 1), entryAt(time.Now(), 2)}
	last, ok := Last(entries)
	if !ok || last.Vector[0] != 2 {
		t.Fatalf("Last = %v, %v", last, ok)
	}
}
