package tempo

import (
	"fmt"
	"math/rand"

	"github.com/sirupsen/logrus"
)

// GRULayer - gated recurrent unit over (features, batch, time) input.
// Three gates per timestep (update, reset, candidate) plus an output
// projection; the backward pass accumulates parameter gradients by
// backprop-through-time over the cached per-step activations.
type GRULayer struct {
	state *LayerState

	units       int // hidden size
	outputUnits int // 0 until configured or derived on first forward

	updateAct Activation
	resetAct  Activation
	inputAct  Activation
	outputAct Activation

	initializer   Initializer
	recurrentInit Initializer
	rng           *rand.Rand
}

// GRUBuilder for fluent configuration
type GRUBuilder struct {
	layer *GRULayer
}

// GRU starts a builder for a recurrent layer with the given hidden
// size. Gate activations default to sigmoid/sigmoid/tanh/softmax.
func GRU(units int) *GRUBuilder {
	return &GRUBuilder{
		layer: &GRULayer{
			state:     newLayerState(),
			units:     units,
			updateAct: Sigmoid(),
			resetAct:  Sigmoid(),
			inputAct:  Tanh(),
			outputAct: Softmax(),
		},
	}
}

// WithBinaryOutput selects single final-step output mode: the layer
// returns only the last timestep's output, for one label per sequence
// rather than one per timestep.
func (b *GRUBuilder) WithBinaryOutput(binary bool) *GRUBuilder {
	b.layer.state.Binary = binary
	return b
}

// WithOutputUnits overrides the output size. Default: 2 in binary
// mode, otherwise the input feature count.
func (b *GRUBuilder) WithOutputUnits(units int) *GRUBuilder {
	b.layer.outputUnits = units
	return b
}

func (b *GRUBuilder) WithUpdateActivation(act Activation) *GRUBuilder {
	b.layer.updateAct = act
	return b
}

func (b *GRUBuilder) WithResetActivation(act Activation) *GRUBuilder {
	b.layer.resetAct = act
	return b
}

func (b *GRUBuilder) WithInputActivation(act Activation) *GRUBuilder {
	b.layer.inputAct = act
	return b
}

func (b *GRUBuilder) WithOutputActivation(act Activation) *GRUBuilder {
	b.layer.outputAct = act
	return b
}

func (b *GRUBuilder) WithInitializer(init Initializer) *GRUBuilder {
	b.layer.initializer = init
	return b
}

// WithRecurrentInitializer sets the initializer for Uz, Ur, Uh.
// Orthogonal is the usual choice; falls back to the main initializer.
func (b *GRUBuilder) WithRecurrentInitializer(init Initializer) *GRUBuilder {
	b.layer.recurrentInit = init
	return b
}

func (b *GRUBuilder) WithRNG(rng *rand.Rand) *GRUBuilder {
	b.layer.rng = rng
	return b
}

func (b *GRUBuilder) Build() (*GRULayer, error) {
	g := b.layer
	if g.units <= 0 {
		return nil, fmt.Errorf("tempo: GRU requires units > 0, got %d", g.units)
	}
	if g.initializer == nil {
		return nil, fmt.Errorf("tempo: GRU requires initializer - use WithInitializer()")
	}
	if g.rng == nil {
		return nil, fmt.Errorf("tempo: GRU requires random source - use WithRNG()")
	}
	if g.recurrentInit == nil {
		g.recurrentInit = g.initializer
	}
	return g, nil
}

// initParams fixes shapes from the first input's feature count and
// initializes all parameters once. Biases start at zero.
func (g *GRULayer) initParams(features int) {
	s := g.state
	h := g.units
	o := g.outputUnits
	if o <= 0 {
		if s.Binary {
			o = 2
		} else {
			o = features
		}
		g.outputUnits = o
	}

	s.Dims["v"] = features
	s.Dims["h"] = h
	s.Dims["o"] = o

	for _, gate := range []string{"z", "r", "h"} {
		s.addParam("W"+gate, []int{h, features}, g.initializer, g.rng)
		s.addParam("U"+gate, []int{h, h}, g.recurrentInit, g.rng)
		s.addParam("b"+gate, []int{h, 1}, Zeros(), g.rng)
	}
	s.addParam("Wy", []int{o, h}, g.initializer, g.rng)
	s.addParam("by", []int{o, 1}, Zeros(), g.rng)

	s.Initialized = true

	logger.WithFields(logrus.Fields{
		"layer":    g.name(),
		"features": features,
		"hidden":   h,
		"output":   o,
		"binary":   s.Binary,
	}).Debug("parameters initialized")
}

// initForward caches X, derives the timestep count and resets the
// per-step cache sequences. The hidden state before the first timestep
// is the zero tensor.
func (g *GRULayer) initForward(x *Tensor) *Tensor {
	s := g.state
	m := x.shape[1]
	steps := x.shape[2]

	s.input = x
	s.Dims["m"] = m
	s.BatchSize = m
	s.Timesteps = steps

	for _, c := range []string{"z", "r", "h", "hp", "A"} {
		s.fwd[c] = make([]*Tensor, steps)
	}

	return NewTensor(g.units, m) // h_{-1} = 0
}

// gate computes act(W*xt + U*h + b) into a fresh (hidden, batch) tensor.
func (g *GRULayer) gate(w, u, b, xt, h *Tensor, act Activation, hp *HParams) (*Tensor, error) {
	s := g.state
	m := s.BatchSize
	pre := NewTensor(w.shape[0], m)
	tmp := NewTensor(w.shape[0], m)
	matMul(w, xt, pre)
	matMul(u, h, tmp)
	elemAdd(pre, tmp, pre)
	addCol(pre, b)
	out := NewTensor(w.shape[0], m)
	if err := act.apply(pre, out, hp, false); err != nil {
		return nil, err
	}
	return out, nil
}

// Forward runs the full multi-timestep pass. Per timestep t:
//
//	z_t = act(Wz*X_t + Uz*h_{t-1} + bz)
//	r_t = act(Wr*X_t + Ur*h_{t-1} + br)
//	hc  = act(Wh*X_t + Uh*(r_t .* h_{t-1}) + bh)
//	h_t = (1-z_t) .* h_{t-1} + z_t .* hc
//	y_t = act(Wy*h_t + by)
//
// The output is (o, m, T), or only the final step's (o, m) in binary
// mode. Gate activations and hidden states are cached per step for the
// backward pass.
func (g *GRULayer) Forward(x *Tensor, hp *HParams) (*Tensor, error) {
	if x == nil || len(x.shape) != 3 {
		return nil, shapeError("GRU", "forward", x, "3D input (features, batch, time)")
	}

	if !g.state.Initialized {
		g.initParams(x.shape[0])
	} else if x.shape[0] != g.state.Dims["v"] {
		return nil, shapeError("GRU", "forward", x,
			fmt.Sprintf("%d features", g.state.Dims["v"]))
	}

	s := g.state
	p := s.Params
	m := x.shape[1]
	steps := x.shape[2]

	h := g.initForward(x)
	xt := NewTensor(s.Dims["v"], m)

	for t := 0; t < steps; t++ {
		timeStep(x, t, xt)

		zt, err := g.gate(p["Wz"], p["Uz"], p["bz"], xt, h, g.updateAct, hp)
		if err != nil {
			return nil, err
		}
		rt, err := g.gate(p["Wr"], p["Ur"], p["br"], xt, h, g.resetAct, hp)
		if err != nil {
			return nil, err
		}

		rh := NewTensor(g.units, m)
		elemMul(rt, h, rh)
		hc, err := g.gate(p["Wh"], p["Uh"], p["bh"], xt, rh, g.inputAct, hp)
		if err != nil {
			return nil, err
		}

		// h_t = (1-z) .* h_{t-1} + z .* hc
		hNew := NewTensor(g.units, m)
		for i := range hNew.data {
			z := zt.data[i]
			hNew.data[i] = (1-z)*h.data[i] + z*hc.data[i]
		}

		s.fwd["z"][t] = zt
		s.fwd["r"][t] = rt
		s.fwd["hp"][t] = h
		s.fwd["h"][t] = hNew

		// Per-step output projection
		pre := NewTensor(s.Dims["o"], m)
		matMul(p["Wy"], hNew, pre)
		addCol(pre, p["by"])
		yt := NewTensor(s.Dims["o"], m)
		if err := g.outputAct.apply(pre, yt, hp, false); err != nil {
			return nil, err
		}
		s.fwd["A"][t] = yt

		h = hNew
	}

	return g.endForward()
}

// endForward stacks the cached outputs into a dense tensor; in binary
// mode the intermediate outputs are discarded and only the last
// timestep's survives.
func (g *GRULayer) endForward() (*Tensor, error) {
	s := g.state
	steps := s.Timesteps

	var out *Tensor
	if s.Binary {
		out = s.fwd["A"][steps-1]
	} else {
		out = NewTensor(s.Dims["o"], s.BatchSize, steps)
		for t := 0; t < steps; t++ {
			setTimeStep(out, t, s.fwd["A"][t])
		}
	}
	if err := checkFinite(out, "GRU", "forward"); err != nil {
		return nil, err
	}
	return out, nil
}

// stepGrad computes the hidden-state gradient for one timestep: the
// output-error term (absent on non-output steps) plus the gradient
// carried from t+1, gated by (1-z_t) before the input-gate derivative.
// The derivative is evaluated on the blended hidden state, mirroring
// the forward/derivative pairing used everywhere else in the engine.
func (g *GRULayer) stepGrad(dXt, dhn *Tensor, t int, hp *HParams) (*Tensor, error) {
	s := g.state
	m := s.BatchSize

	pre := dhn.Clone()
	if dXt != nil {
		tmp := NewTensor(g.units, m)
		matMulTransA(s.Params["Wy"], dXt, tmp)
		elemAdd(pre, tmp, pre)
	}

	om := NewTensor(g.units, m)
	oneMinus(s.fwd["z"][t], om)
	elemMul(pre, om, pre)

	return applyDerivative(g.inputAct, s.fwd["h"][t], pre, hp)
}

// Backward accumulates parameter gradients by backprop-through-time
// and returns the gradient with respect to the input, shape
// (features, batch, time). Expects the output gradient shaped like the
// forward result: (o, m) in binary mode, (o, m, T) otherwise. All
// accumulations are means over the batch, added into the existing
// gradient tensors; the loop stops after t=0 with no gradient exposed
// for the zero initial hidden state.
func (g *GRULayer) Backward(dA *Tensor, hp *HParams) (*Tensor, error) {
	s := g.state
	steps := s.Timesteps
	if !s.Initialized || s.input == nil || steps == 0 || len(s.fwd["h"]) != steps {
		return nil, &Error{
			Component: "GRU",
			Kind:      KindUninitialized,
			Phase:     "backward",
			Cause:     "backward requires the cache of an immediately preceding forward",
		}
	}

	m := s.BatchSize
	o := s.Dims["o"]
	v := s.Dims["v"]
	p := s.Params

	if s.Binary {
		if dA == nil || !sameShape(dA.shape, []int{o, m}) {
			return nil, shapeError("GRU", "backward", dA,
				fmt.Sprintf("output gradient of shape [%d %d]", o, m))
		}
	} else {
		if dA == nil || !sameShape(dA.shape, []int{o, m, steps}) {
			return nil, shapeError("GRU", "backward", dA,
				fmt.Sprintf("output gradient of shape [%d %d %d]", o, m, steps))
		}
	}

	s.bwd["dX"] = dA
	scale := 1.0 / float64(m)

	// initBackward: dh_next starts at zero; the last timestep's
	// hidden-state gradient comes from the output error alone.
	dhn := NewTensor(g.units, m)
	dXt := NewTensor(o, m)
	if s.Binary {
		copy(dXt.data, dA.data)
	} else {
		timeStep(dA, steps-1, dXt)
	}
	dh, err := g.stepGrad(dXt, dhn, steps-1, hp)
	if err != nil {
		return nil, err
	}

	dX := NewTensor(v, m, steps)
	xt := NewTensor(v, m)

	for t := steps - 1; t >= 0; t-- {
		if t < steps-1 {
			hasOutput := !s.Binary
			if hasOutput {
				timeStep(dA, t, dXt)
			} else {
				dXt = nil
			}
			dh, err = g.stepGrad(dXt, dhn, t, hp)
			if err != nil {
				return nil, err
			}
		}

		zt := s.fwd["z"][t]
		rt := s.fwd["r"][t]
		ht := s.fwd["h"][t]
		hpT := s.fwd["hp"][t]
		timeStep(s.input, t, xt)

		// Output projection gradients; only timesteps that produced
		// an output contribute.
		if dXt != nil {
			tmpOH := NewTensor(o, g.units)
			matMulTransB(dXt, ht, tmpOH)
			addScaled(s.Grads["Wy"], tmpOH, scale)

			tmpO1 := NewTensor(o, 1)
			sumCols(dXt, tmpO1)
			addScaled(s.Grads["by"], tmpO1, scale)
		}

		// Candidate-hidden gradients from dh, X_t and r_t .* h_{t-1}
		tmpHV := NewTensor(g.units, v)
		matMulTransB(dh, xt, tmpHV)
		addScaled(s.Grads["Wh"], tmpHV, scale)

		rh := NewTensor(g.units, m)
		elemMul(rt, hpT, rh)
		tmpHH := NewTensor(g.units, g.units)
		matMulTransB(dh, rh, tmpHH)
		addScaled(s.Grads["Uh"], tmpHH, scale)

		tmpH1 := NewTensor(g.units, 1)
		sumCols(dh, tmpH1)
		addScaled(s.Grads["bh"], tmpH1, scale)

		// Through the reset gate: dr = act'((Uh^T dh) .* h_{t-1})
		uhdh := NewTensor(g.units, m)
		matMulTransA(p["Uh"], dh, uhdh)
		drPre := NewTensor(g.units, m)
		elemMul(uhdh, hpT, drPre)
		dr, err := applyDerivative(g.resetAct, rt, drPre, hp)
		if err != nil {
			return nil, err
		}
		s.bwd["dr"] = dr

		matMulTransB(dr, xt, tmpHV)
		addScaled(s.Grads["Wr"], tmpHV, scale)
		matMulTransB(dr, hpT, tmpHH)
		addScaled(s.Grads["Ur"], tmpHH, scale)
		sumCols(dr, tmpH1)
		addScaled(s.Grads["br"], tmpH1, scale)

		// Through the update gate: dz = act'(dh .* h_{t-1})
		dzPre := NewTensor(g.units, m)
		elemMul(dh, hpT, dzPre)
		dz, err := applyDerivative(g.updateAct, zt, dzPre, hp)
		if err != nil {
			return nil, err
		}
		s.bwd["dz"] = dz

		matMulTransB(dz, xt, tmpHV)
		addScaled(s.Grads["Wz"], tmpHV, scale)
		matMulTransB(dz, hpT, tmpHH)
		addScaled(s.Grads["Uz"], tmpHH, scale)
		sumCols(dz, tmpH1)
		addScaled(s.Grads["bz"], tmpH1, scale)

		// Hidden-state gradient flowing to t-1: the direct (1-z) path
		// plus the gated contributions through Uz, Ur and Uh.
		next := NewTensor(g.units, m)
		tmp := NewTensor(g.units, m)
		matMulTransA(p["Uz"], dz, next)
		matMulTransA(p["Ur"], dr, tmp)
		elemAdd(next, tmp, next)
		elemMul(uhdh, rt, tmp)
		elemAdd(next, tmp, next)
		om := NewTensor(g.units, m)
		oneMinus(zt, om)
		elemMul(dh, om, tmp)
		elemAdd(next, tmp, next)
		dhn = next
		s.bwd["dhn"] = dhn

		// Input gradient for this timestep
		gx := NewTensor(v, m)
		tmpVM := NewTensor(v, m)
		matMulTransA(p["Wz"], dz, gx)
		matMulTransA(p["Wr"], dr, tmpVM)
		elemAdd(gx, tmpVM, gx)
		matMulTransA(p["Wh"], dh, tmpVM)
		elemAdd(gx, tmpVM, gx)
		setTimeStep(dX, t, gx)
	}

	return dX, nil
}

// Parameters returns the named weight tensors, nil before the first
// forward call initializes them.
func (g *GRULayer) Parameters() map[string]*Tensor {
	if !g.state.Initialized {
		return nil
	}
	return g.state.Params
}

// Gradients returns the named accumulated gradient tensors, nil before
// initialization.
func (g *GRULayer) Gradients() map[string]*Tensor {
	if !g.state.Initialized {
		return nil
	}
	return g.state.Grads
}

// ZeroGrads resets accumulated gradients; the external loop calls this
// at the start of each training step.
func (g *GRULayer) ZeroGrads() { g.state.ZeroGrads() }

// State exposes the layer's owned state record.
func (g *GRULayer) State() *LayerState { return g.state }

func (g *GRULayer) name() string { return "gru" }
