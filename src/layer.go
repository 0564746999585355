package tempo

import "math/rand"

// Layer is the forward/backward contract shared by the dense and
// recurrent variants. Backward requires the cache populated by the
// immediately preceding Forward on the same batch; Gradients are
// accumulated in place and zeroed by the external training loop via
// ZeroGrads at the start of each step.
type Layer interface {
	Forward(x *Tensor, hp *HParams) (*Tensor, error)
	Backward(dA *Tensor, hp *HParams) (*Tensor, error)
	Parameters() map[string]*Tensor
	Gradients() map[string]*Tensor
	ZeroGrads()
	name() string
}

// LayerState is the single owned record behind every layer instance:
// dimensions, per-parameter shapes, parameters, gradients and the
// forward/backward caches. Parameter shapes are fixed once Initialized
// turns true and never resized; gradient shapes always mirror their
// parameter keys.
type LayerState struct {
	Dims   map[string]int     // "v" features, "h" hidden, "o" output, "m" batch
	Shapes map[string][]int   // per-parameter tensor shape
	Params map[string]*Tensor // named weight/bias tensors
	Grads  map[string]*Tensor // accumulated, keys mirror Params

	input *Tensor             // cached forward input
	fwd   map[string][]*Tensor // named per-timestep sequences
	bwd   map[string]*Tensor   // transient per-step working tensors

	Initialized bool // params fixed, shapes locked
	Binary      bool // recurrent layer returns only the final timestep output
	Timesteps   int
	BatchSize   int
}

func newLayerState() *LayerState {
	return &LayerState{
		Dims:   make(map[string]int),
		Shapes: make(map[string][]int),
		Params: make(map[string]*Tensor),
		Grads:  make(map[string]*Tensor),
		fwd:    make(map[string][]*Tensor),
		bwd:    make(map[string]*Tensor),
	}
}

// addParam registers one parameter: records its shape, initializes the
// weight tensor and allocates a zero gradient of the same shape.
func (s *LayerState) addParam(key string, shape []int, init Initializer, rng *rand.Rand) {
	s.Shapes[key] = shape
	p := NewTensor(shape...)
	init.initialize(p, rng)
	s.Params[key] = p
	s.Grads[key] = NewTensor(shape...)
}

// ZeroGrads resets every gradient tensor in place.
func (s *LayerState) ZeroGrads() {
	for _, g := range s.Grads {
		g.Zero()
	}
}
