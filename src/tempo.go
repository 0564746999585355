// Package tempo is a small neural-network computation engine for Go.
//
// Tempo provides hand-derived forward and backward passes over batched
// float64 arrays: a dense layer, a gated recurrent (GRU) layer with
// backprop-through-time, an activation library with matched
// forward/derivative semantics, weight initializers and a gradient-norm
// clipper. Dataset handling, the training loop and the optimizer live
// outside the engine; they consume the layer contract directly.
//
// Tensors are laid out (features, batch) for one-shot layers and
// (features, batch, time) for recurrent input. Hyperparameters are an
// explicit value threaded through every call, so independent passes can
// run concurrently with different settings.
//
// Basic usage:
//
//	rng := rand.New(rand.NewSource(42))
//	hp := tempo.NewHParams().
//		Set(tempo.SoftmaxTemperature, 1.0).
//		Set(tempo.MinEpsilon, 1e-16)
//
//	layer, err := tempo.GRU(24).
//		WithBinaryOutput(true).
//		WithInitializer(tempo.Xavier()).
//		WithRecurrentInitializer(tempo.Orthogonal()).
//		WithRNG(rng).
//		Build()
//
//	out, err := layer.Forward(x, hp)     // x: (features, batch, time)
//	dx, err := layer.Backward(dOut, hp)  // accumulates layer.Gradients()
//	err = tempo.Clip(layer, tempo.DefaultMaxNorm)
package tempo

import "github.com/sirupsen/logrus"

// Version of the tempo library
const Version = "1.0.0"

var logger = newLogger()

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.WarnLevel)
	return l
}

// SetLogger replaces the package logger. Layers log one-time
// initialization and clipping events at debug level.
func SetLogger(l *logrus.Logger) {
	if l != nil {
		logger = l
	}
}
