package tempo

import (
	"fmt"
	"math/rand"

	"github.com/sirupsen/logrus"
)

// DenseLayer - one-shot affine transform plus activation over a
// (features, batch) input. It establishes the minimal layer contract
// the recurrent layer extends.
type DenseLayer struct {
	state       *LayerState
	units       int
	activation  Activation
	initializer Initializer
	rng         *rand.Rand
}

// DenseBuilder for fluent configuration
type DenseBuilder struct {
	layer *DenseLayer
}

func Dense(units int) *DenseBuilder {
	return &DenseBuilder{
		layer: &DenseLayer{
			state: newLayerState(),
			units: units,
		},
	}
}

func (b *DenseBuilder) WithActivation(act Activation) *DenseBuilder {
	b.layer.activation = act
	return b
}

func (b *DenseBuilder) WithInitializer(init Initializer) *DenseBuilder {
	b.layer.initializer = init
	return b
}

func (b *DenseBuilder) WithRNG(rng *rand.Rand) *DenseBuilder {
	b.layer.rng = rng
	return b
}

func (b *DenseBuilder) Build() (*DenseLayer, error) {
	d := b.layer
	if d.units <= 0 {
		return nil, fmt.Errorf("tempo: Dense requires units > 0, got %d", d.units)
	}
	if d.activation == nil {
		return nil, fmt.Errorf("tempo: Dense requires activation - use WithActivation()")
	}
	if d.initializer == nil {
		return nil, fmt.Errorf("tempo: Dense requires initializer - use WithInitializer()")
	}
	if d.rng == nil {
		return nil, fmt.Errorf("tempo: Dense requires random source - use WithRNG()")
	}
	return d, nil
}

// initParams fixes shapes from the first input and initializes
// parameters once. Explicit uninitialized -> initialized transition.
func (d *DenseLayer) initParams(features int) {
	s := d.state
	s.Dims["v"] = features
	s.Dims["o"] = d.units

	s.addParam("W", []int{d.units, features}, d.initializer, d.rng)
	s.addParam("b", []int{d.units, 1}, Zeros(), d.rng)

	s.Initialized = true

	logger.WithFields(logrus.Fields{
		"layer":    d.name(),
		"features": features,
		"units":    d.units,
	}).Debug("parameters initialized")
}

// Forward caches X, computes Z = W*X + b and A = activation(Z), caches
// both and returns A. X is (features, batch).
func (d *DenseLayer) Forward(x *Tensor, hp *HParams) (*Tensor, error) {
	if x == nil || len(x.shape) != 2 {
		return nil, shapeError("Dense", "forward", x, "2D input (features, batch)")
	}

	if !d.state.Initialized {
		d.initParams(x.shape[0])
	} else if x.shape[0] != d.state.Dims["v"] {
		return nil, shapeError("Dense", "forward", x,
			fmt.Sprintf("%d features", d.state.Dims["v"]))
	}

	s := d.state
	m := x.shape[1]
	s.Dims["m"] = m
	s.BatchSize = m
	s.input = x

	z := NewTensor(d.units, m)
	matMul(s.Params["W"], x, z)
	addCol(z, s.Params["b"])

	a := NewTensor(d.units, m)
	if err := d.activation.apply(z, a, hp, false); err != nil {
		return nil, err
	}
	if err := checkFinite(a, "Dense", "forward"); err != nil {
		return nil, err
	}

	s.fwd["Z"] = []*Tensor{z}
	s.fwd["A"] = []*Tensor{a}

	return a, nil
}

// Backward chains the output gradient through the activation, then
// accumulates dW and db (mean over batch) and returns the input
// gradient W^T * dZ.
func (d *DenseLayer) Backward(dA *Tensor, hp *HParams) (*Tensor, error) {
	s := d.state
	if !s.Initialized || s.input == nil || len(s.fwd["A"]) == 0 {
		return nil, &Error{
			Component: "Dense",
			Kind:      KindUninitialized,
			Phase:     "backward",
			Cause:     "backward requires the cache of an immediately preceding forward",
		}
	}

	a := s.fwd["A"][0]
	if dA == nil || !sameShape(dA.shape, a.shape) {
		return nil, shapeError("Dense", "backward", dA,
			fmt.Sprintf("output gradient of shape %v", a.shape))
	}

	// Derivative on the cached activated tensor, never the pre-activation
	dZ, err := applyDerivative(d.activation, a, dA, hp)
	if err != nil {
		return nil, err
	}

	m := s.BatchSize
	scale := 1.0 / float64(m)

	dW := NewTensor(s.Shapes["W"]...)
	matMulTransB(dZ, s.input, dW)
	addScaled(s.Grads["W"], dW, scale)

	db := NewTensor(s.Shapes["b"]...)
	sumCols(dZ, db)
	addScaled(s.Grads["b"], db, scale)

	dX := NewTensor(s.input.shape...)
	matMulTransA(s.Params["W"], dZ, dX)

	return dX, nil
}

// Parameters returns the named weight tensors, nil before the first
// forward call initializes them.
func (d *DenseLayer) Parameters() map[string]*Tensor {
	if !d.state.Initialized {
		return nil
	}
	return d.state.Params
}

// Gradients returns the named accumulated gradient tensors, nil before
// initialization.
func (d *DenseLayer) Gradients() map[string]*Tensor {
	if !d.state.Initialized {
		return nil
	}
	return d.state.Grads
}

// ZeroGrads resets accumulated gradients; the external loop calls this
// at the start of each training step.
func (d *DenseLayer) ZeroGrads() { d.state.ZeroGrads() }

// State exposes the layer's owned state record.
func (d *DenseLayer) State() *LayerState { return d.state }

func (d *DenseLayer) name() string { return "dense" }
