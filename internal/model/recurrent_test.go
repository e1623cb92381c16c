package model

import (
	"errors"
	"math"
	"testing"
)

// testRecurrent builds a minimal GRU: one hidden unit, two inputs. The
// update gate bias is large so the hidden state tracks the candidate
// tanh(x0 + x1) of the latest step; the readout is sigmoid(5*h).
func testRecurrent(t *testing.T) *Recurrent {
	t.Helper()
	r, err := NewRecurrent(&Recurrent{
		InputDim:  2,
		HiddenDim: 1,
		Window:    3,
		Wz:        [][]float64{{0, 0}},
		Uz:        [][]float64{{0}},
		Bz:        []float64{100},
		Wr:        [][]float64{{0, 0}},
		Ur:        [][]float64{{0}},
		Br:        []float64{0},
		Wh:        [][]float64{{1, 1}},
		Uh:        [][]float64{{0}},
		Bh:        []float64{0},
		OutW:      []float64{5},
		OutB:      0,
	})
	if err != nil {
		t.Fatalf("NewRecurrent: %v", err)
	}
	return r
}

func TestRecurrentScore(t *testing.T) {
	r := testRecurrent(t)

	window := [][]float64{{0, 0}, {0, 0}, {0.5, 0.5}}
	got, err := r.Score(window)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}

	// Update gate saturates to 1, so h after the last step is tanh(1.0).
	want := sigmoid(5 * math.Tanh(1.0))
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("Score = %v, want %v", got, want)
	}
}

func TestRecurrentScoreDeterministic(t *testing.T) {
	r := testRecurrent(t)
	window := [][]float64{{0.1, 0.2}, {0.3, 0.4}, {0.5, 0.6}}

	a, err := r.Score(window)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	b, err := r.Score(window)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if a != b {
		t.Fatalf("same window scored differently: %v vs %v", a, b)
	}
}

func TestRecurrentScoreBounds(t *testing.T) {
	r := testRecurrent(t)

	for _, v := range []float64{-100, -1, 0, 1, 100} {
		window := [][]float64{{v, v}, {v, v}, {v, v}}
		got, err := r.Score(window)
		if err != nil {
			t.Fatalf("Score: %v", err)
		}
		if got < 0 || got > 1 {
			t.Errorf("Score(%v) = %v outside [0,1]", v, got)
		}
	}
}

func TestRecurrentScoreWindowLength(t *testing.T) {
	r := testRecurrent(t)

	if _, err := r.Score([][]float64{{0, 0}}); err == nil {
		t.Fatal("expected error for short window")
	}
	if _, err := r.Score([][]float64{{0, 0}, {0, 0}, {0}}); err == nil {
		t.Fatal("expected error for wrong input dim")
	}
}

func TestNewRecurrentRejectsBadShapes(t *testing.T) {
	r := &Recurrent{
		InputDim: 2, HiddenDim: 1, Window: 3,
		Wz: [][]float64{{0}}, // wrong input dim
		Uz: [][]float64{{0}}, Bz: []float64{0},
		Wr: [][]float64{{0, 0}}, Ur: [][]float64{{0}}, Br: []float64{0},
		Wh: [][]float64{{0, 0}}, Uh: [][]float64{{0}}, Bh: []float64{0},
		OutW: []float64{0},
	}
	_, err := NewRecurrent(r)
	if err == nil {
		t.Fatal("expected shape error")
	}
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestLoadRecurrentMissingFile(t *testing.T) {
	_, err := LoadRecurrent("testdata/does_not_exist.json")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}
