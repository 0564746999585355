package tempo

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Initializer produces initial weight tensors. Every member draws from
// the injected random source so runs are reproducible.
type Initializer interface {
	initialize(t *Tensor, rng *rand.Rand)
	name() string
}

// XavierInit - standard normal scaled by sqrt(2 / sum(shape))
type XavierInit struct{}

func Xavier() Initializer { return &XavierInit{} }

func (x *XavierInit) initialize(t *Tensor, rng *rand.Rand) {
	dims := 0
	for _, s := range t.shape {
		dims += s
	}
	t.fillRandNorm(0, 1, rng)
	mulScalar(t, math.Sqrt(2.0/float64(dims)))
}

func (x *XavierInit) name() string { return "xavier" }

// OrthogonalInit - QR-based orthonormal weights. Mitigates vanishing
// and exploding gradients through the recurrent weight matrices.
type OrthogonalInit struct{}

func Orthogonal() Initializer { return &OrthogonalInit{} }

func (o *OrthogonalInit) initialize(t *Tensor, rng *rand.Rand) {
	rows := t.shape[0]
	cols := 1
	for _, s := range t.shape[1:] {
		cols *= s
	}

	// QR needs a tall matrix; transpose first when rows < cols.
	qRows, qCols := rows, cols
	if rows < cols {
		qRows, qCols = cols, rows
	}

	w := mat.NewDense(qRows, qCols, nil)
	for i := 0; i < qRows; i++ {
		for j := 0; j < qCols; j++ {
			w.Set(i, j, rng.NormFloat64())
		}
	}

	var qr mat.QR
	qr.Factorize(w)

	var q, r mat.Dense
	qr.QTo(&q)
	qr.RTo(&r)

	// Sign-correct the thin Q factor with the sign of R's diagonal to
	// make the decomposition unique.
	for j := 0; j < qCols; j++ {
		if r.At(j, j) < 0 {
			for i := 0; i < qRows; i++ {
				q.Set(i, j, -q.At(i, j))
			}
		}
	}

	if rows < cols {
		// Transpose back
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				t.data[i*cols+j] = q.At(j, i)
			}
		}
		return
	}
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			t.data[i*cols+j] = q.At(i, j)
		}
	}
}

func (o *OrthogonalInit) name() string { return "orthogonal" }

// ZerosInit - initialize with zeros
type ZerosInit struct{}

func Zeros() Initializer { return &ZerosInit{} }

func (z *ZerosInit) initialize(t *Tensor, rng *rand.Rand) {
	t.Fill(0)
}

func (z *ZerosInit) name() string { return "zeros" }

// OnesInit - initialize with ones
type OnesInit struct{}

func Ones() Initializer { return &OnesInit{} }

func (o *OnesInit) initialize(t *Tensor, rng *rand.Rand) {
	t.Fill(1)
}

func (o *OnesInit) name() string { return "ones" }

// ConstantInit - initialize with a constant value
type ConstantInit struct {
	Value float64
}

func Constant(value float64) Initializer {
	return &ConstantInit{Value: value}
}

func (c *ConstantInit) initialize(t *Tensor, rng *rand.Rand) {
	t.Fill(c.Value)
}

func (c *ConstantInit) name() string { return "constant" }
