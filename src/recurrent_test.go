package tempo

import (
	"math"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/diff/fd"
)

func seqHParams() *HParams {
	return NewHParams().
		Set(SoftmaxTemperature, 1.0).
		Set(MinEpsilon, 1e-16)
}

func TestGRUBuildValidation(t *testing.T) {
	_, err := GRU(8).Build()
	require.Error(t, err)

	_, err = GRU(8).WithInitializer(Xavier()).Build()
	require.Error(t, err)

	layer, err := GRU(8).
		WithInitializer(Xavier()).
		WithRNG(rand.New(rand.NewSource(1))).
		Build()
	require.NoError(t, err)
	require.NotNil(t, layer)
}

func TestGRURequiresThreeDimensionalInput(t *testing.T) {
	layer, err := GRU(4).
		WithInitializer(Xavier()).
		WithRNG(rand.New(rand.NewSource(1))).
		Build()
	require.NoError(t, err)

	_, err = layer.Forward(NewTensor(3, 2), seqHParams())
	requireKind(t, err, KindShapeMismatch)
}

func TestGRUZeroInputZeroWeights(t *testing.T) {
	layer, err := GRU(4).
		WithInitializer(Zeros()).
		WithOutputActivation(Identity()).
		WithRNG(rand.New(rand.NewSource(1))).
		Build()
	require.NoError(t, err)

	x := NewTensor(3, 2, 5)
	out, err := layer.Forward(x, seqHParams())
	require.NoError(t, err)

	// Candidate is tanh(0)=0 throughout, so every blended hidden
	// state stays at the zero initial state.
	for tt := 0; tt < 5; tt++ {
		for _, v := range layer.State().fwd["h"][tt].Data() {
			assert.Equal(t, 0.0, v, "timestep %d", tt)
		}
	}
	for _, v := range out.Data() {
		assert.Equal(t, 0.0, v)
	}
}

func TestGRUOutputShapes(t *testing.T) {
	rng := rand.New(rand.NewSource(2))

	seq, err := GRU(6).
		WithInitializer(Xavier()).
		WithRecurrentInitializer(Orthogonal()).
		WithRNG(rng).
		Build()
	require.NoError(t, err)

	x := NewTensor(3, 2, 4)
	out, err := seq.Forward(x, seqHParams())
	require.NoError(t, err)
	// Sequence mode: one output per timestep, output size defaults to
	// the feature count
	require.Empty(t, cmp.Diff([]int{3, 2, 4}, out.Shape()))

	bin, err := GRU(6).
		WithBinaryOutput(true).
		WithInitializer(Xavier()).
		WithRNG(rng).
		Build()
	require.NoError(t, err)

	out, err = bin.Forward(x, seqHParams())
	require.NoError(t, err)
	// Binary mode: only the final timestep survives, two output rows
	require.Empty(t, cmp.Diff([]int{2, 2}, out.Shape()))
	require.Equal(t, 4, bin.State().Timesteps)
	require.True(t, bin.State().Binary)
}

// Fixed deterministic weights: everything zero except Wh = 0.1*I.
// Gates sit at sigmoid(0)=0.5, the candidate is tanh(0.1*x_t), so
//
//	h_0 = 0.5*tanh(0.1*x_0)
//	h_1 = 0.5*h_0 + 0.5*tanh(0.1*x_1)
func TestGRUForwardHandComputed(t *testing.T) {
	layer, err := GRU(3).
		WithInitializer(Zeros()).
		WithOutputActivation(Identity()).
		WithRNG(rand.New(rand.NewSource(1))).
		Build()
	require.NoError(t, err)

	x := NewTensor(3, 2, 4)
	for i := 0; i < 3; i++ {
		for j := 0; j < 2; j++ {
			for tt := 0; tt < 4; tt++ {
				x.Set(0.3*float64(i)-0.2*float64(j)+0.1*float64(tt), i, j, tt)
			}
		}
	}

	// First forward initializes the (all-zero) parameters
	_, err = layer.Forward(x, seqHParams())
	require.NoError(t, err)

	wh := layer.Parameters()["Wh"]
	for i := 0; i < 3; i++ {
		wh.Set(0.1, i, i)
	}

	_, err = layer.Forward(x, seqHParams())
	require.NoError(t, err)

	h0 := layer.State().fwd["h"][0]
	h1 := layer.State().fwd["h"][1]
	for i := 0; i < 3; i++ {
		for j := 0; j < 2; j++ {
			want0 := 0.5 * math.Tanh(0.1*x.At(i, j, 0))
			require.InDelta(t, want0, h0.At(i, j), 1e-12, "h0[%d,%d]", i, j)

			want1 := 0.5*want0 + 0.5*math.Tanh(0.1*x.At(i, j, 1))
			require.InDelta(t, want1, h1.At(i, j), 1e-12, "h1[%d,%d]", i, j)
		}
	}
}

func TestGRUBackwardBeforeForward(t *testing.T) {
	layer, err := GRU(4).
		WithInitializer(Xavier()).
		WithRNG(rand.New(rand.NewSource(1))).
		Build()
	require.NoError(t, err)

	_, err = layer.Backward(NewTensor(2, 2), seqHParams())
	requireKind(t, err, KindUninitialized)
}

func TestGRUBackwardShapesAndAccumulation(t *testing.T) {
	hp := seqHParams()
	rng := rand.New(rand.NewSource(21))

	layer, err := GRU(5).
		WithInitializer(Xavier()).
		WithRecurrentInitializer(Orthogonal()).
		WithRNG(rng).
		Build()
	require.NoError(t, err)

	x := NewTensor(3, 2, 4)
	x.fillRandNorm(0, 1, rng)

	out, err := layer.Forward(x, hp)
	require.NoError(t, err)

	dA := NewTensor(out.Shape()...)
	dA.Fill(0.1)

	dX, err := layer.Backward(dA, hp)
	require.NoError(t, err)

	// Input gradient mirrors the input shape
	require.Empty(t, cmp.Diff(x.Shape(), dX.Shape()))

	// Gradient shapes mirror parameter shapes, and every gate picked
	// up a contribution
	for key, p := range layer.Parameters() {
		g := layer.Gradients()[key]
		require.Empty(t, cmp.Diff(p.Shape(), g.Shape()), "key %s", key)

		nonZero := false
		for _, v := range g.Data() {
			if v != 0 {
				nonZero = true
				break
			}
		}
		assert.True(t, nonZero, "gradient %s never accumulated", key)
	}
}

func TestGRUBinaryBackwardShape(t *testing.T) {
	hp := seqHParams()
	rng := rand.New(rand.NewSource(8))

	layer, err := GRU(4).
		WithBinaryOutput(true).
		WithInitializer(Xavier()).
		WithRNG(rng).
		Build()
	require.NoError(t, err)

	x := NewTensor(3, 2, 6)
	x.fillRandNorm(0, 1, rng)

	out, err := layer.Forward(x, hp)
	require.NoError(t, err)

	// Wrong-shaped output gradient is rejected
	_, err = layer.Backward(NewTensor(2, 2, 6), hp)
	requireKind(t, err, KindShapeMismatch)

	dA := NewTensor(out.Shape()...)
	dA.Fill(1)
	dX, err := layer.Backward(dA, hp)
	require.NoError(t, err)
	require.Empty(t, cmp.Diff(x.Shape(), dX.Shape()))
}

// Finite-difference check on the output projection. With an identity
// output activation the loss sum(outputs) is linear in Wy and by, so
// the accumulated analytic gradients are exact.
func TestGRUOutputWeightGradientCheck(t *testing.T) {
	hp := seqHParams()
	rng := rand.New(rand.NewSource(17))

	layer, err := GRU(3).
		WithOutputActivation(Identity()).
		WithInitializer(Xavier()).
		WithRecurrentInitializer(Orthogonal()).
		WithRNG(rng).
		Build()
	require.NoError(t, err)

	x := NewTensor(2, 1, 3)
	x.fillRandNorm(0, 1, rng)

	out, err := layer.Forward(x, hp)
	require.NoError(t, err)

	dA := NewTensor(out.Shape()...)
	dA.Fill(1)
	_, err = layer.Backward(dA, hp)
	require.NoError(t, err)

	for _, key := range []string{"Wy", "by"} {
		p := layer.Parameters()[key]
		analytic := layer.Gradients()[key].Clone()

		loss := func(flat []float64) float64 {
			saved := p.Clone()
			copy(p.Data(), flat)
			defer copy(p.Data(), saved.Data())

			out, err := layer.Forward(x, hp)
			require.NoError(t, err)
			sum := 0.0
			for _, v := range out.Data() {
				sum += v
			}
			return sum
		}

		numeric := fd.Gradient(nil, loss, p.Clone().Data(), nil)
		for i, want := range numeric {
			assert.InDelta(t, want, analytic.Data()[i], 1e-6, "%s entry %d", key, i)
		}
	}
}

func TestGRUForwardOverwritesCache(t *testing.T) {
	hp := seqHParams()
	rng := rand.New(rand.NewSource(4))

	layer, err := GRU(4).
		WithInitializer(Xavier()).
		WithRNG(rng).
		Build()
	require.NoError(t, err)

	_, err = layer.Forward(NewTensor(3, 2, 5), hp)
	require.NoError(t, err)
	require.Equal(t, 5, layer.State().Timesteps)

	// A shorter batch replaces the cache; nothing from the previous
	// pass is retained
	_, err = layer.Forward(NewTensor(3, 2, 3), hp)
	require.NoError(t, err)
	require.Equal(t, 3, layer.State().Timesteps)
	require.Len(t, layer.State().fwd["h"], 3)
}
