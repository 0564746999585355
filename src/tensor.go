package tempo

import (
	"math/rand"
)

// Tensor is an n-dimensional array of float64. Shapes in this engine are
// 2D (features, batch) or 3D (features, batch, time). The type is
// exported because an external optimizer consumes and mutates the
// parameter tensors a layer hands out.
type Tensor struct {
	data   []float64
	shape  []int
	stride []int
}

// NewTensor allocates a zero tensor of the given shape.
func NewTensor(shape ...int) *Tensor {
	size := 1
	for _, s := range shape {
		if s <= 0 {
			s = 1 // Ensure non-zero size
		}
		size *= s
	}
	stride := make([]int, len(shape))
	for i := len(shape) - 1; i >= 0; i-- {
		if i == len(shape)-1 {
			stride[i] = 1
		} else {
			stride[i] = stride[i+1] * shape[i+1]
		}
	}
	return &Tensor{
		data:   make([]float64, size),
		shape:  shape,
		stride: stride,
	}
}

// FromSlice builds a tensor of the given shape from row-major values.
func FromSlice(values []float64, shape ...int) *Tensor {
	t := NewTensor(shape...)
	copy(t.data, values)
	return t
}

// Shape returns the tensor dimensions.
func (t *Tensor) Shape() []int { return t.shape }

// Size returns the number of elements.
func (t *Tensor) Size() int { return len(t.data) }

// Data returns the backing row-major slice.
func (t *Tensor) Data() []float64 { return t.data }

// At reads the element at the given indices.
func (t *Tensor) At(indices ...int) float64 {
	idx := 0
	for i, v := range indices {
		idx += v * t.stride[i]
	}
	return t.data[idx]
}

// Set writes the element at the given indices.
func (t *Tensor) Set(value float64, indices ...int) {
	idx := 0
	for i, v := range indices {
		idx += v * t.stride[i]
	}
	t.data[idx] = value
}

// Fill sets every element to value.
func (t *Tensor) Fill(value float64) {
	for i := range t.data {
		t.data[i] = value
	}
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	nt := NewTensor(t.shape...)
	copy(nt.data, t.data)
	return nt
}

// Zero resets every element to 0.
func (t *Tensor) Zero() {
	for i := range t.data {
		t.data[i] = 0
	}
}

func (t *Tensor) fillRandNorm(mean, std float64, rng *rand.Rand) {
	for i := range t.data {
		t.data[i] = rng.NormFloat64()*std + mean
	}
}

// Matrix operations over 2D tensors (rows, cols) - no bounds checking.

// matMul computes out = a @ b for a (m,k) and b (k,n).
func matMul(a, b, out *Tensor) {
	m := a.shape[0]
	k := a.shape[1]
	n := b.shape[1]

	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			sum := 0.0
			for l := 0; l < k; l++ {
				sum += a.data[i*k+l] * b.data[l*n+j]
			}
			out.data[i*n+j] = sum
		}
	}
}

// matMulTransA computes out = a^T @ b for a (k,m) and b (k,n).
func matMulTransA(a, b, out *Tensor) {
	m := a.shape[1]
	k := a.shape[0]
	n := b.shape[1]

	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			sum := 0.0
			for l := 0; l < k; l++ {
				sum += a.data[l*m+i] * b.data[l*n+j]
			}
			out.data[i*n+j] = sum
		}
	}
}

// matMulTransB computes out = a @ b^T for a (m,k) and b (n,k).
func matMulTransB(a, b, out *Tensor) {
	m := a.shape[0]
	k := a.shape[1]
	n := b.shape[0]

	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			sum := 0.0
			for l := 0; l < k; l++ {
				sum += a.data[i*k+l] * b.data[j*k+l]
			}
			out.data[i*n+j] = sum
		}
	}
}

func elemMul(a, b, out *Tensor) {
	for i := range a.data {
		out.data[i] = a.data[i] * b.data[i]
	}
}

func elemAdd(a, b, out *Tensor) {
	for i := range a.data {
		out.data[i] = a.data[i] + b.data[i]
	}
}

func mulScalar(a *Tensor, s float64) {
	for i := range a.data {
		a.data[i] *= s
	}
}

// addScaled accumulates dst += s * src. Gradient tensors grow this way
// across timesteps within one backward pass.
func addScaled(dst, src *Tensor, s float64) {
	for i := range dst.data {
		dst.data[i] += s * src.data[i]
	}
}

// oneMinus computes out = 1 - a.
func oneMinus(a, out *Tensor) {
	for i := range a.data {
		out.data[i] = 1 - a.data[i]
	}
}

// addCol broadcasts a (rows,1) column across every column of a (rows,cols).
func addCol(a, col *Tensor) {
	rows := a.shape[0]
	cols := a.shape[1]
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			a.data[i*cols+j] += col.data[i]
		}
	}
}

// sumCols reduces a (rows,cols) tensor to (rows,1) by summing columns.
func sumCols(a, out *Tensor) {
	rows := a.shape[0]
	cols := a.shape[1]
	for i := 0; i < rows; i++ {
		sum := 0.0
		for j := 0; j < cols; j++ {
			sum += a.data[i*cols+j]
		}
		out.data[i] = sum
	}
}

// timeStep copies slice t of a (features, batch, time) tensor into a
// (features, batch) tensor.
func timeStep(x *Tensor, t int, out *Tensor) {
	v := x.shape[0]
	m := x.shape[1]
	steps := x.shape[2]
	for i := 0; i < v; i++ {
		for j := 0; j < m; j++ {
			out.data[i*m+j] = x.data[i*m*steps+j*steps+t]
		}
	}
}

// setTimeStep writes a (features, batch) tensor into slice t of a
// (features, batch, time) tensor.
func setTimeStep(x *Tensor, t int, src *Tensor) {
	v := x.shape[0]
	m := x.shape[1]
	steps := x.shape[2]
	for i := 0; i < v; i++ {
		for j := 0; j < m; j++ {
			x.data[i*m*steps+j*steps+t] = src.data[i*m+j]
		}
	}
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// sumSquaresSafe accumulates (v+eps)^2 over the tensor; eps avoids a
// degenerate zero norm in the clipper.
func sumSquaresSafe(t *Tensor, eps float64) float64 {
	sum := 0.0
	for _, v := range t.data {
		d := v + eps
		sum += d * d
	}
	return sum
}
