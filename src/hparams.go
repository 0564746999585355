package tempo

import "fmt"

// Hyperparameter keys consulted by activation calls.
const (
	LeakySlope         = "leaky_slope"         // LeakyReLU negative slope
	ELUAlpha           = "elu_alpha"           // ELU saturation scale
	SoftmaxTemperature = "softmax_temperature" // softmax sharpening divisor
	MinEpsilon         = "min_epsilon"         // floating-point guard for downstream losses
)

// HParams is the per-pass hyperparameter context. It is threaded
// explicitly through Forward/Backward rather than stored globally, so
// concurrent passes with different values stay independent. A key an
// activation requires but the caller never set is a configuration
// error, reported at call time and never defaulted.
type HParams struct {
	values map[string]float64
}

// NewHParams returns an empty context.
func NewHParams() *HParams {
	return &HParams{values: make(map[string]float64)}
}

// Set stores a named scalar and returns the context for chaining.
func (hp *HParams) Set(key string, value float64) *HParams {
	hp.values[key] = value
	return hp
}

// Get returns the named scalar or a KindMissingHyperparameter error.
func (hp *HParams) Get(key string) (float64, error) {
	if hp == nil {
		return 0, &Error{
			Component: "HParams",
			Kind:      KindMissingHyperparameter,
			Cause:     fmt.Sprintf("no hyperparameter context supplied, %q required", key),
		}
	}
	v, ok := hp.values[key]
	if !ok {
		return 0, &Error{
			Component: "HParams",
			Kind:      KindMissingHyperparameter,
			Cause:     fmt.Sprintf("key %q not set in hyperparameter context", key),
		}
	}
	return v, nil
}
