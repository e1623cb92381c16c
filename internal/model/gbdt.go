package model

import (
	"encoding/json"
	"fmt"
	"os"
)

// TreeNode is one node of a regression tree. Leaves have Feature == -1 and
// carry the leaf margin in Value. Internal nodes route v < Threshold to
// Left, otherwise Right. Cover is the training row count that reached the
// node; it weights the expected-value decomposition used for attribution.
type TreeNode struct {
	Feature   int     `json:"feature"`
	Threshold float64 `json:"threshold"`
	Left      int     `json:"left"`
	Right     int     `json:"right"`
	Value     float64 `json:"value"`
	Cover     float64 `json:"cover"`
}

// IsLeaf reports whether the node is a leaf.
func (n *TreeNode) IsLeaf() bool { return n.Feature < 0 }

// Tree is a single regression tree; Nodes[0] is the root.
type Tree struct {
	Nodes []TreeNode `json:"nodes"`
}

// Ensemble is a gradient-boosted tree ensemble producing a fraud
// probability for one feature vector. Immutable after load.
type Ensemble struct {
	NumFeatures int     `json:"num_features"`
	BaseMargin  float64 `json:"base_margin"`
	Trees       []Tree  `json:"trees"`

	// expected[t][i] is the cover-weighted expected margin of the subtree
	// rooted at node i of tree t. Precomputed at load.
	expected [][]float64
}

// NewEnsemble validates a constructed ensemble and precomputes the
// expected-value tables. Use LoadEnsemble for file artifacts.
func NewEnsemble(e *Ensemble) (*Ensemble, error) {
	if e.NumFeatures < 1 {
		return nil, fmt.Errorf("%w: ensemble has no features", ErrUnavailable)
	}
	if len(e.Trees) == 0 {
		return nil, fmt.Errorf("%w: ensemble has no trees", ErrUnavailable)
	}
	e.expected = make([][]float64, len(e.Trees))
	for t := range e.Trees {
		tree := &e.Trees[t]
		if len(tree.Nodes) == 0 {
			return nil, fmt.Errorf("%w: tree %d is empty", ErrUnavailable, t)
		}
		for i, n := range tree.Nodes {
			if n.IsLeaf() {
				continue
			}
			if n.Feature >= e.NumFeatures {
				return nil, fmt.Errorf("%w: tree %d node %d splits on feature %d of %d",
					ErrUnavailable, t, i, n.Feature, e.NumFeatures)
			}
			if n.Left < 0 || n.Left >= len(tree.Nodes) || n.Right < 0 || n.Right >= len(tree.Nodes) {
				return nil, fmt.Errorf("%w: tree %d node %d has out-of-range children", ErrUnavailable, t, i)
			}
		}
		exp := make([]float64, len(tree.Nodes))
		if err := fillExpected(tree, 0, exp, make([]bool, len(tree.Nodes))); err != nil {
			return nil, fmt.Errorf("%w: tree %d: %v", ErrUnavailable, t, err)
		}
		e.expected[t] = exp
	}
	return e, nil
}

// fillExpected computes subtree expected margins bottom-up. The visiting
// set guards against cycles in a corrupt artifact.
func fillExpected(tree *Tree, idx int, exp []float64, visiting []bool) error {
	if visiting[idx] {
		return fmt.Errorf("cycle at node %d", idx)
	}
	visiting[idx] = true
	defer func() { visiting[idx] = false }()

	n := &tree.Nodes[idx]
	if n.IsLeaf() {
		exp[idx] = n.Value
		return nil
	}
	if err := fillExpected(tree, n.Left, exp, visiting); err != nil {
		return err
	}
	if err := fillExpected(tree, n.Right, exp, visiting); err != nil {
		return err
	}

	lc, rc := tree.Nodes[n.Left].Cover, tree.Nodes[n.Right].Cover
	if lc+rc <= 0 {
		// Unweighted artifact: fall back to an even split.
		exp[idx] = (exp[n.Left] + exp[n.Right]) / 2
		return nil
	}
	exp[idx] = (lc*exp[n.Left] + rc*exp[n.Right]) / (lc + rc)
	return nil
}

// LoadEnsemble reads an ensemble artifact from a JSON file.
func LoadEnsemble(path string) (*Ensemble, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read ensemble %s: %v", ErrUnavailable, path, err)
	}
	var e Ensemble
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("%w: parse ensemble %s: %v", ErrUnavailable, path, err)
	}
	return NewEnsemble(&e)
}

// Predict scores one feature vector, returning a probability in [0, 1].
func (e *Ensemble) Predict(vec []float64) (float64, error) {
	margin, err := e.margin(vec)
	if err != nil {
		return 0, err
	}
	return sigmoid(margin), nil
}

// Baseline returns the ensemble's baseline probability: the prediction for
// an "average" input, taking the expected margin at every root.
func (e *Ensemble) Baseline() float64 {
	margin := e.BaseMargin
	for t := range e.Trees {
		margin += e.expected[t][0]
	}
	return sigmoid(margin)
}

// PredictContrib scores a vector and decomposes the margin over features by
// walking each decision path: every split contributes the change in subtree
// expectation to the feature it tests. Contributions sum exactly to
// margin(vec) - baseline margin.
func (e *Ensemble) PredictContrib(vec []float64) (prob float64, contrib []float64, err error) {
	if len(vec) != e.NumFeatures {
		return 0, nil, fmt.Errorf("feature vector has %d features, model expects %d", len(vec), e.NumFeatures)
	}

	contrib = make([]float64, e.NumFeatures)
	margin := e.BaseMargin

	for t := range e.Trees {
		tree := &e.Trees[t]
		exp := e.expected[t]
		idx := 0
		for !tree.Nodes[idx].IsLeaf() {
			n := &tree.Nodes[idx]
			next := n.Right
			if vec[n.Feature] < n.Threshold {
				next = n.Left
			}
			contrib[n.Feature] += exp[next] - exp[idx]
			idx = next
		}
		margin += tree.Nodes[idx].Value
	}

	return sigmoid(margin), contrib, nil
}

func (e *Ensemble) margin(vec []float64) (float64, error) {
	if len(vec) != e.NumFeatures {
		return 0, fmt.Errorf("feature vector has %d features, model expects %d", len(vec), e.NumFeatures)
	}
	margin := e.BaseMargin
	for t := range e.Trees {
		tree := &e.Trees[t]
		idx := 0
		for !tree.Nodes[idx].IsLeaf() {
			n := &tree.Nodes[idx]
			if vec[n.Feature] < n.Threshold {
				idx = n.Left
			} else {
				idx = n.Right
			}
		}
		margin += tree.Nodes[idx].Value
	}
	return margin, nil
}
