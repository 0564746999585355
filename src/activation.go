package tempo

import "math"

// Activation computes a nonlinearity or its derivative, element-wise
// except softmax. The context hp supplies named scalars some members
// require; a missing key is an error, never a silent default.
//
// Derivative contract: with deriv true the caller passes the cached
// activated tensor, not the pre-activation input. Sigmoid, tanh and
// softmax derivatives are y(1-y)-style formulas over the forward
// output; ELU recomputes the forward function on the supplied value.
// Every backward pass in this engine honors this pairing.
type Activation interface {
	apply(x, out *Tensor, hp *HParams, deriv bool) error
	name() string
}

// IdentityActivation - pass-through. Reference and testing use only,
// not a differentiable nonlinearity for real training.
type IdentityActivation struct{}

func Identity() Activation { return &IdentityActivation{} }

func (f *IdentityActivation) apply(x, out *Tensor, hp *HParams, deriv bool) error {
	if deriv {
		out.Fill(1)
		return nil
	}
	copy(out.data, x.data)
	return nil
}

func (f *IdentityActivation) name() string { return "identity" }

// ReLUActivation - Rectified Linear Unit
type ReLUActivation struct{}

func ReLU() Activation { return &ReLUActivation{} }

func (f *ReLUActivation) apply(x, out *Tensor, hp *HParams, deriv bool) error {
	for i, v := range x.data {
		if deriv {
			if v > 0 {
				out.data[i] = 1
			} else {
				out.data[i] = 0
			}
		} else {
			out.data[i] = math.Max(0, v)
		}
	}
	return nil
}

func (f *ReLUActivation) name() string { return "relu" }

// LeakyReLUActivation - negative slope read from the context
type LeakyReLUActivation struct{}

func LeakyReLU() Activation { return &LeakyReLUActivation{} }

func (f *LeakyReLUActivation) apply(x, out *Tensor, hp *HParams, deriv bool) error {
	a, err := hp.Get(LeakySlope)
	if err != nil {
		return err
	}
	for i, v := range x.data {
		if deriv {
			if v > 0 {
				out.data[i] = 1
			} else {
				out.data[i] = a
			}
		} else {
			out.data[i] = math.Max(a*v, v)
		}
	}
	return nil
}

func (f *LeakyReLUActivation) name() string { return "leaky_relu" }

// ELUActivation - Exponential Linear Unit, alpha from the context.
// The derivative recomputes elu on the supplied value rather than
// caching it separately.
type ELUActivation struct{}

func ELU() Activation { return &ELUActivation{} }

func (f *ELUActivation) apply(x, out *Tensor, hp *HParams, deriv bool) error {
	a, err := hp.Get(ELUAlpha)
	if err != nil {
		return err
	}
	for i, v := range x.data {
		if deriv {
			if v > 0 {
				out.data[i] = 1
			} else {
				out.data[i] = a*(math.Exp(v)-1) + a
			}
		} else {
			if v > 0 {
				out.data[i] = v
			} else {
				out.data[i] = a * (math.Exp(v) - 1)
			}
		}
	}
	return nil
}

func (f *ELUActivation) name() string { return "elu" }

// SigmoidActivation
type SigmoidActivation struct{}

func Sigmoid() Activation { return &SigmoidActivation{} }

func (f *SigmoidActivation) apply(x, out *Tensor, hp *HParams, deriv bool) error {
	for i, v := range x.data {
		if deriv {
			out.data[i] = v * (1 - v)
		} else if v >= 0 {
			out.data[i] = 1.0 / (1.0 + math.Exp(-v))
		} else {
			// Stable form for negative values: exp(-v) overflows for v < -709
			expV := math.Exp(v)
			out.data[i] = expV / (1.0 + expV)
		}
	}
	return nil
}

func (f *SigmoidActivation) name() string { return "sigmoid" }

// TanhActivation
type TanhActivation struct{}

func Tanh() Activation { return &TanhActivation{} }

func (f *TanhActivation) apply(x, out *Tensor, hp *HParams, deriv bool) error {
	for i, v := range x.data {
		if deriv {
			out.data[i] = 1 - v*v
		} else {
			out.data[i] = math.Tanh(v)
		}
	}
	return nil
}

func (f *TanhActivation) name() string { return "tanh" }

// SoftmaxActivation - normalizes over the feature axis, one
// distribution per batch sample. Temperature from the context.
//
// The derivative is the simplified element-wise y*(1-y) form, not the
// full Jacobian. That approximation matches this engine's gradient
// composition and the loss it is paired with downstream.
type SoftmaxActivation struct{}

func Softmax() Activation { return &SoftmaxActivation{} }

func (f *SoftmaxActivation) apply(x, out *Tensor, hp *HParams, deriv bool) error {
	if deriv {
		for i, v := range x.data {
			out.data[i] = v * (1 - v)
		}
		return nil
	}

	temp, err := hp.Get(SoftmaxTemperature)
	if err != nil {
		return err
	}

	rows := x.shape[0]
	cols := 1
	if len(x.shape) > 1 {
		cols = x.shape[1]
	}

	// One distribution per column: shift by the column max before
	// exponentiating, then normalize by the column sum.
	for j := 0; j < cols; j++ {
		maxV := x.data[j]
		for i := 1; i < rows; i++ {
			if x.data[i*cols+j] > maxV {
				maxV = x.data[i*cols+j]
			}
		}
		sum := 0.0
		for i := 0; i < rows; i++ {
			e := math.Exp((x.data[i*cols+j] - maxV) / temp)
			out.data[i*cols+j] = e
			sum += e
		}
		for i := 0; i < rows; i++ {
			out.data[i*cols+j] /= sum
		}
	}
	return nil
}

func (f *SoftmaxActivation) name() string { return "softmax" }

// applyDerivative chains an incoming gradient through an activation:
// out = grad * f'(y), with y the cached activated tensor.
func applyDerivative(act Activation, y, grad *Tensor, hp *HParams) (*Tensor, error) {
	d := NewTensor(y.shape...)
	if err := act.apply(y, d, hp, true); err != nil {
		return nil, err
	}
	out := NewTensor(y.shape...)
	elemMul(grad, d, out)
	return out, nil
}
