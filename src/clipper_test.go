package tempo

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clipFixture(t *testing.T) *DenseLayer {
	t.Helper()
	layer, err := Dense(3).
		WithActivation(Identity()).
		WithInitializer(Xavier()).
		WithRNG(rand.New(rand.NewSource(3))).
		Build()
	require.NoError(t, err)

	x := NewTensor(2, 4)
	x.fillRandNorm(0, 1, rand.New(rand.NewSource(4)))
	_, err = layer.Forward(x, NewHParams())
	require.NoError(t, err)
	return layer
}

func combinedNorm(grads map[string]*Tensor) float64 {
	total := 0.0
	for _, g := range grads {
		for _, v := range g.Data() {
			total += v * v
		}
	}
	return math.Sqrt(total)
}

func TestClipBeforeInitialization(t *testing.T) {
	layer, err := Dense(3).
		WithActivation(Identity()).
		WithInitializer(Xavier()).
		WithRNG(rand.New(rand.NewSource(3))).
		Build()
	require.NoError(t, err)

	requireKind(t, Clip(layer, DefaultMaxNorm), KindUninitialized)
}

func TestClipLeavesSmallGradientsUntouched(t *testing.T) {
	layer := clipFixture(t)
	layer.Gradients()["W"].Fill(0.01)
	layer.Gradients()["b"].Fill(0.01)
	before := combinedNorm(layer.Gradients())
	require.Less(t, before, DefaultMaxNorm)

	require.NoError(t, Clip(layer, DefaultMaxNorm))

	for _, v := range layer.Gradients()["W"].Data() {
		assert.Equal(t, 0.01, v)
	}
	for _, v := range layer.Gradients()["b"].Data() {
		assert.Equal(t, 0.01, v)
	}
}

func TestClipRescalesToMaxNorm(t *testing.T) {
	layer := clipFixture(t)
	layer.Gradients()["W"].Fill(2)
	layer.Gradients()["b"].Fill(-3)
	before := combinedNorm(layer.Gradients())
	require.Greater(t, before, DefaultMaxNorm)

	require.NoError(t, Clip(layer, DefaultMaxNorm))

	after := combinedNorm(layer.Gradients())
	assert.InDelta(t, DefaultMaxNorm, after, 1e-9)

	// Direction is preserved, only the magnitude shrinks
	w := layer.Gradients()["W"].Data()
	b := layer.Gradients()["b"].Data()
	for _, v := range w {
		assert.Positive(t, v)
	}
	for _, v := range b {
		assert.Negative(t, v)
	}
	assert.InDelta(t, -1.5, b[0]/w[0], 1e-9)
}

func TestClipZeroGradientsIsStable(t *testing.T) {
	layer := clipFixture(t)
	// All-zero gradients must not divide by a zero norm
	require.NoError(t, Clip(layer, DefaultMaxNorm))
	for _, v := range layer.Gradients()["W"].Data() {
		assert.False(t, math.IsNaN(v))
		assert.False(t, math.IsInf(v, 0))
	}
}
