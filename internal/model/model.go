// Package model wraps the two pre-trained risk models: a gradient-boosted
// tree ensemble scoring a single feature vector, and a recurrent network
// scoring a fixed-length window of vectors. Both are loaded once at startup
// from exported weight artifacts and are immutable afterwards; scoring is
// read-only and safe for unbounded concurrency.
package model

import (
	"errors"
	"math"
)

// ErrUnavailable reports that a model failed to load at startup. The engine
// must refuse to serve rather than degrade silently.
var ErrUnavailable = errors.New("model unavailable")

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}
