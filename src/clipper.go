package tempo

import (
	"math"

	"github.com/sirupsen/logrus"
)

// DefaultMaxNorm is the usual clipping threshold.
const DefaultMaxNorm = 0.25

// epsSafe guards against divide-by-zero on degenerate all-zero
// gradients.
const epsSafe = 1e-16

// Clip rescales a layer's accumulated gradients in place so their
// combined L2 norm does not exceed maxNorm. Gradients at or below the
// threshold are left untouched. Counters vanishing and exploding
// gradients through the recurrent weight matrices.
func Clip(layer Layer, maxNorm float64) error {
	grads := layer.Gradients()
	if grads == nil {
		return &Error{
			Component: "Clip",
			Kind:      KindUninitialized,
			Cause:     "gradient access before layer initialization",
		}
	}

	total := 0.0
	for _, g := range grads {
		total += sumSquaresSafe(g, epsSafe)
	}
	norm := math.Sqrt(total)

	coef := maxNorm / (norm + epsSafe)
	if coef >= 1 {
		return nil
	}

	for _, g := range grads {
		mulScalar(g, coef)
	}

	logger.WithFields(logrus.Fields{
		"norm":    norm,
		"maxNorm": maxNorm,
		"coef":    coef,
	}).Debug("gradients clipped")

	return nil
}
