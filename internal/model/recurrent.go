package model

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
)

// Recurrent is a single-layer GRU followed by a sigmoid readout, scoring a
// fixed-length window of feature vectors. Weight matrices are row-major
// [hidden][input] / [hidden][hidden], exported at training time. Immutable
// after load.
type Recurrent struct {
	InputDim  int `json:"input_dim"`
	HiddenDim int `json:"hidden_dim"`
	Window    int `json:"window"`

	// Update gate, reset gate, and candidate weights.
	Wz [][]float64 `json:"wz"`
	Uz [][]float64 `json:"uz"`
	Bz []float64   `json:"bz"`
	Wr [][]float64 `json:"wr"`
	Ur [][]float64 `json:"ur"`
	Br []float64   `json:"br"`
	Wh [][]float64 `json:"wh"`
	Uh [][]float64 `json:"uh"`
	Bh []float64   `json:"bh"`

	// Readout.
	OutW []float64 `json:"out_w"`
	OutB float64   `json:"out_b"`
}

// NewRecurrent validates a constructed model. Use LoadRecurrent for file
// artifacts.
func NewRecurrent(r *Recurrent) (*Recurrent, error) {
	if r.InputDim < 1 || r.HiddenDim < 1 || r.Window < 1 {
		return nil, fmt.Errorf("%w: recurrent model has invalid dimensions", ErrUnavailable)
	}
	for name, m := range map[string][][]float64{"wz": r.Wz, "wr": r.Wr, "wh": r.Wh} {
		if err := checkShape(m, r.HiddenDim, r.InputDim); err != nil {
			return nil, fmt.Errorf("%w: matrix %s: %v", ErrUnavailable, name, err)
		}
	}
	for name, m := range map[string][][]float64{"uz": r.Uz, "ur": r.Ur, "uh": r.Uh} {
		if err := checkShape(m, r.HiddenDim, r.HiddenDim); err != nil {
			return nil, fmt.Errorf("%w: matrix %s: %v", ErrUnavailable, name, err)
		}
	}
	for name, v := range map[string][]float64{"bz": r.Bz, "br": r.Br, "bh": r.Bh, "out_w": r.OutW} {
		if len(v) != r.HiddenDim {
			return nil, fmt.Errorf("%w: vector %s has length %d, want %d", ErrUnavailable, name, len(v), r.HiddenDim)
		}
	}
	return r, nil
}

func checkShape(m [][]float64, rows, cols int) error {
	if len(m) != rows {
		return fmt.Errorf("has %d rows, want %d", len(m), rows)
	}
	for i, row := range m {
		if len(row) != cols {
			return fmt.Errorf("row %d has %d cols, want %d", i, len(row), cols)
		}
	}
	return nil
}

// LoadRecurrent reads a recurrent model artifact from a JSON file.
func LoadRecurrent(path string) (*Recurrent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read recurrent model %s: %v", ErrUnavailable, path, err)
	}
	var r Recurrent
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("%w: parse recurrent model %s: %v", ErrUnavailable, path, err)
	}
	return NewRecurrent(&r)
}

// Score runs the GRU over a window of exactly Window vectors and returns a
// probability in [0, 1].
func (r *Recurrent) Score(window [][]float64) (float64, error) {
	if len(window) != r.Window {
		return 0, fmt.Errorf("window has %d vectors, model expects %d", len(window), r.Window)
	}
	for i, vec := range window {
		if len(vec) != r.InputDim {
			return 0, fmt.Errorf("window vector %d has %d features, model expects %d", i, len(vec), r.InputDim)
		}
	}

	h := make([]float64, r.HiddenDim)
	z := make([]float64, r.HiddenDim)
	rg := make([]float64, r.HiddenDim)
	cand := make([]float64, r.HiddenDim)

	for _, x := range window {
		for i := 0; i < r.HiddenDim; i++ {
			z[i] = sigmoid(dot(r.Wz[i], x) + dot(r.Uz[i], h) + r.Bz[i])
			rg[i] = sigmoid(dot(r.Wr[i], x) + dot(r.Ur[i], h) + r.Br[i])
		}
		for i := 0; i < r.HiddenDim; i++ {
			gated := 0.0
			for j := 0; j < r.HiddenDim; j++ {
				gated += r.Uh[i][j] * rg[j] * h[j]
			}
			cand[i] = math.Tanh(dot(r.Wh[i], x) + gated + r.Bh[i])
		}
		for i := 0; i < r.HiddenDim; i++ {
			h[i] = (1-z[i])*h[i] + z[i]*cand[i]
		}
	}

	return sigmoid(dot(r.OutW, h) + r.OutB), nil
}

func dot(a, b []float64) float64 {
	s := 0.0
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}
