package tempo

import (
	"fmt"
	"math"
	"strings"
)

// Kind classifies engine failures. All are local and synchronous; the
// caller decides whether to abort or skip the batch.
type Kind string

const (
	KindShapeMismatch         Kind = "shape mismatch"
	KindUninitialized         Kind = "uninitialized layer access"
	KindMissingHyperparameter Kind = "missing hyperparameter"
	KindNumericalInstability  Kind = "numerical instability"
)

// TensorInfo captures tensor state for error reporting
type TensorInfo struct {
	Shape      []int
	Size       int
	NaNCount   int
	InfCount   int
	MinValue   float64
	MaxValue   float64
	BadIndices []int // First 10 corrupted indices
}

// Format returns a compact string representation
func (t *TensorInfo) Format() string {
	s := fmt.Sprintf("%v size=%d", t.Shape, t.Size)
	if t.NaNCount > 0 || t.InfCount > 0 {
		s += fmt.Sprintf(" (corrupt: %d NaN, %d Inf)", t.NaNCount, t.InfCount)
	} else {
		s += fmt.Sprintf(" range=[%.4f, %.4f]", t.MinValue, t.MaxValue)
	}
	return s
}

// Error is the standard error type for tempo
type Error struct {
	Component string      // "Dense", "GRU", "Activation", "Clip"
	Kind      Kind        // failure classification
	Phase     string      // "forward", "backward", "init"
	Info      *TensorInfo // nil if not relevant
	Expected  string      // what was expected
	Cause     string      // human-readable cause
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	fmt.Fprintf(&b, "tempo: %s %s", e.Component, e.Kind)
	if e.Phase != "" {
		fmt.Fprintf(&b, " in %s", e.Phase)
	}
	b.WriteString("\n")

	if e.Info != nil {
		fmt.Fprintf(&b, "  tensor:   %s\n", e.Info.Format())
	}
	if e.Expected != "" {
		fmt.Fprintf(&b, "  expected: %s\n", e.Expected)
	}
	fmt.Fprintf(&b, "  cause:    %s", e.Cause)

	return b.String()
}

// ScanTensor checks for NaN/Inf and collects stats
func ScanTensor(t *Tensor) *TensorInfo {
	if t == nil {
		return nil
	}

	info := &TensorInfo{
		Shape:      t.shape,
		Size:       len(t.data),
		MinValue:   math.Inf(1),
		MaxValue:   math.Inf(-1),
		BadIndices: make([]int, 0, 10),
	}

	for i, v := range t.data {
		if math.IsNaN(v) {
			info.NaNCount++
			if len(info.BadIndices) < 10 {
				info.BadIndices = append(info.BadIndices, i)
			}
		} else if math.IsInf(v, 0) {
			info.InfCount++
			if len(info.BadIndices) < 10 {
				info.BadIndices = append(info.BadIndices, i)
			}
		} else {
			if v < info.MinValue {
				info.MinValue = v
			}
			if v > info.MaxValue {
				info.MaxValue = v
			}
		}
	}

	// Handle empty or all-corrupt tensors
	if math.IsInf(info.MinValue, 1) {
		info.MinValue = 0
	}
	if math.IsInf(info.MaxValue, -1) {
		info.MaxValue = 0
	}

	return info
}

// checkFinite reports non-finite values post-activation. Reported, not
// clamped; the stability-preserving formulas live in the activations.
func checkFinite(t *Tensor, component, phase string) error {
	info := ScanTensor(t)
	if info == nil {
		return nil
	}
	if info.NaNCount > 0 || info.InfCount > 0 {
		return &Error{
			Component: component,
			Kind:      KindNumericalInstability,
			Phase:     phase,
			Info:      info,
			Cause:     fmt.Sprintf("%d NaN, %d Inf values at indices %v", info.NaNCount, info.InfCount, info.BadIndices),
		}
	}
	return nil
}

func shapeError(component, phase string, t *Tensor, expected string) error {
	return &Error{
		Component: component,
		Kind:      KindShapeMismatch,
		Phase:     phase,
		Info:      ScanTensor(t),
		Expected:  expected,
		Cause:     "input shape inconsistent with configured layer dimensions",
	}
}
