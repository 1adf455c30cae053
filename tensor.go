package main

import (
	"fmt"
	"math"
	"math/rand"
)

// ===========================================================================
// TENSOR CORE
// ===========================================================================
//
// Everything in this model - encoder projection, attention scoring, LSTM
// gates, the vocabulary head - reduces to a handful of dense operations on
// row-major float64 arrays. Tensor keeps the data flat and carries a
// same-sized gradient buffer so the backward pass can accumulate into
// parameters in place.
//
// Shape errors are programmer bugs, not runtime conditions: they panic.
// Tensor is not safe for concurrent use; the compute engine (compute.go)
// only parallelizes over disjoint output rows.
//
// ===========================================================================

// Tensor is a multi-dimensional array of float64 values in row-major order,
// with a gradient buffer of the same size for backpropagation.
type Tensor struct {
	data  []float64 // flat storage for all elements
	shape []int     // dimensions, e.g. [batch, positions, features]
	grad  []float64 // gradient accumulator, same length as data
}

// NewTensor creates a zero-filled tensor with the given shape.
// Panics if the shape is empty or has a non-positive dimension.
func NewTensor(shape ...int) *Tensor {
	if len(shape) == 0 {
		panic("tensor: shape cannot be empty")
	}

	size := 1
	for i, dim := range shape {
		if dim <= 0 {
			panic(fmt.Sprintf("tensor: shape[%d] must be positive, got %d", i, dim))
		}
		size *= dim
	}

	// Copy the shape so callers can't mutate it afterwards.
	shapeCopy := make([]int, len(shape))
	copy(shapeCopy, shape)

	return &Tensor{
		data:  make([]float64, size),
		shape: shapeCopy,
		grad:  make([]float64, size),
	}
}

// NewTensorRand creates a tensor with values drawn from a normal
// distribution with standard deviation 0.02, via the Box-Muller transform.
// Layers that need a different scale multiply afterwards.
func NewTensorRand(shape ...int) *Tensor {
	t := NewTensor(shape...)

	for i := 0; i < len(t.data); i += 2 {
		u1, u2 := rand.Float64(), rand.Float64()
		mag := 0.02 * math.Sqrt(-2*math.Log(u1))
		t.data[i] = mag * math.Cos(2*math.Pi*u2)
		if i+1 < len(t.data) {
			t.data[i+1] = mag * math.Sin(2*math.Pi*u2)
		}
	}

	return t
}

// Shape returns a copy of the tensor's shape.
func (t *Tensor) Shape() []int {
	shape := make([]int, len(t.shape))
	copy(shape, t.shape)
	return shape
}

// Dims returns the rank of the tensor.
func (t *Tensor) Dims() int {
	return len(t.shape)
}

// Size returns the total number of elements.
func (t *Tensor) Size() int {
	return len(t.data)
}

// At returns the element at the given indices. Panics on bad indices.
func (t *Tensor) At(indices ...int) float64 {
	return t.data[t.flatIndex(indices)]
}

// Set stores value at the given indices. Panics on bad indices.
func (t *Tensor) Set(value float64, indices ...int) {
	t.data[t.flatIndex(indices)] = value
}

// flatIndex converts multi-dimensional indices to a flat offset.
func (t *Tensor) flatIndex(indices []int) int {
	if len(indices) != len(t.shape) {
		panic(fmt.Sprintf("tensor: expected %d indices, got %d", len(t.shape), len(indices)))
	}

	idx := 0
	stride := 1
	for i := len(indices) - 1; i >= 0; i-- {
		if indices[i] < 0 || indices[i] >= t.shape[i] {
			panic(fmt.Sprintf("tensor: index[%d]=%d out of bounds [0,%d)", i, indices[i], t.shape[i]))
		}
		idx += indices[i] * stride
		stride *= t.shape[i]
	}
	return idx
}

// ZeroGrad clears the gradient buffer. Call before a backward pass.
func (t *Tensor) ZeroGrad() {
	for i := range t.grad {
		t.grad[i] = 0
	}
}

// Clone creates a deep copy of the tensor, gradient included.
func (t *Tensor) Clone() *Tensor {
	clone := NewTensor(t.shape...)
	copy(clone.data, t.data)
	copy(clone.grad, t.grad)
	return clone
}

// Reshape returns a view with a different shape over the SAME backing
// arrays. The element count must not change. The decoder uses this for the
// (batch, rnn) -> (batch*timesteps, rnn) flatten, which is a no-op per step.
func (t *Tensor) Reshape(newShape ...int) *Tensor {
	newSize := 1
	for _, dim := range newShape {
		newSize *= dim
	}
	if newSize != len(t.data) {
		panic(fmt.Sprintf("tensor: cannot reshape size %d to %v (size %d)", len(t.data), newShape, newSize))
	}

	shapeCopy := make([]int, len(newShape))
	copy(shapeCopy, newShape)

	return &Tensor{
		data:  t.data,
		shape: shapeCopy,
		grad:  t.grad,
	}
}

// String returns a short description for debugging.
func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(shape=%v, size=%d)", t.shape, len(t.data))
}

// ===========================================================================
// OPERATIONS
// ===========================================================================

// Add performs element-wise addition: out = a + b.
func Add(a, b *Tensor) *Tensor {
	if !shapeEqual(a.shape, b.shape) {
		panic(fmt.Sprintf("tensor: cannot add shapes %v and %v", a.shape, b.shape))
	}
	out := NewTensor(a.shape...)
	for i := range out.data {
		out.data[i] = a.data[i] + b.data[i]
	}
	return out
}

// Mul performs element-wise (Hadamard) multiplication: out = a * b.
func Mul(a, b *Tensor) *Tensor {
	if !shapeEqual(a.shape, b.shape) {
		panic(fmt.Sprintf("tensor: cannot multiply shapes %v and %v", a.shape, b.shape))
	}
	out := NewTensor(a.shape...)
	for i := range out.data {
		out.data[i] = a.data[i] * b.data[i]
	}
	return out
}

// Scale multiplies every element by a scalar.
func Scale(a *Tensor, scalar float64) *Tensor {
	out := NewTensor(a.shape...)
	for i := range out.data {
		out.data[i] = a.data[i] * scalar
	}
	return out
}

// MatMul performs matrix multiplication C = A @ B for A (M, K) and B (K, N).
// Execution is delegated to the compute engine, which may split output rows
// across goroutines; results are identical either way.
func MatMul(a, b *Tensor) *Tensor {
	return MatMulWithConfig(a, b, globalComputeConfig)
}

// Transpose returns A^T for a 2D matrix.
func Transpose(a *Tensor) *Tensor {
	if len(a.shape) != 2 {
		panic("tensor: Transpose requires 2D tensor")
	}

	m, n := a.shape[0], a.shape[1]
	out := NewTensor(n, m)
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			out.data[j*m+i] = a.data[i*n+j]
		}
	}
	return out
}

// Concat joins two 2D tensors along the column axis:
// (M, Na) ++ (M, Nb) -> (M, Na+Nb). The decoder uses it to prepend the
// context vector to each recurrent layer's input.
func Concat(a, b *Tensor) *Tensor {
	if len(a.shape) != 2 || len(b.shape) != 2 {
		panic("tensor: Concat requires 2D tensors")
	}
	if a.shape[0] != b.shape[0] {
		panic(fmt.Sprintf("tensor: cannot concat row counts %d and %d", a.shape[0], b.shape[0]))
	}

	m, na, nb := a.shape[0], a.shape[1], b.shape[1]
	out := NewTensor(m, na+nb)
	for i := 0; i < m; i++ {
		copy(out.data[i*(na+nb):i*(na+nb)+na], a.data[i*na:(i+1)*na])
		copy(out.data[i*(na+nb)+na:(i+1)*(na+nb)], b.data[i*nb:(i+1)*nb])
	}
	return out
}

// SplitCols is the inverse of Concat: it copies a 2D tensor into two pieces
// split at column `at`. Used to route concat gradients back to their inputs.
func SplitCols(t *Tensor, at int) (*Tensor, *Tensor) {
	if len(t.shape) != 2 {
		panic("tensor: SplitCols requires 2D tensor")
	}
	m, n := t.shape[0], t.shape[1]
	if at <= 0 || at >= n {
		panic(fmt.Sprintf("tensor: split column %d outside (0,%d)", at, n))
	}

	left := NewTensor(m, at)
	right := NewTensor(m, n-at)
	for i := 0; i < m; i++ {
		copy(left.data[i*at:(i+1)*at], t.data[i*n:i*n+at])
		copy(right.data[i*(n-at):(i+1)*(n-at)], t.data[i*n+at:(i+1)*n])
	}
	return left, right
}

// ===========================================================================
// ACTIVATION FUNCTIONS
// ===========================================================================

// ReLU applies f(x) = max(0, x) element-wise. Large inputs go through the
// compute engine's parallel apply.
func ReLU(x *Tensor) *Tensor {
	return ParallelApply(x, func(v float64) float64 {
		return math.Max(0, v)
	}, globalComputeConfig)
}

// Tanh applies the hyperbolic tangent element-wise. Used by the Bahdanau
// score network and the LSTM candidate/output paths.
func Tanh(x *Tensor) *Tensor {
	return ParallelApply(x, math.Tanh, globalComputeConfig)
}

// Sigmoid applies 1/(1+exp(-x)) element-wise. Used by the LSTM gates.
func Sigmoid(x *Tensor) *Tensor {
	return ParallelApply(x, func(v float64) float64 {
		return 1.0 / (1.0 + math.Exp(-v))
	}, globalComputeConfig)
}

// Softmax converts each row of a 2D tensor to a probability distribution.
// Numerically stable: subtracts the row max before exponentiating.
// Attention calls this with rows = batch and columns = spatial positions.
func Softmax(x *Tensor) *Tensor {
	if len(x.shape) != 2 {
		panic("tensor: Softmax requires 2D tensor")
	}

	rows, cols := x.shape[0], x.shape[1]
	out := NewTensor(rows, cols)

	for r := 0; r < rows; r++ {
		row := x.data[r*cols : (r+1)*cols]

		maxVal := row[0]
		for _, v := range row[1:] {
			if v > maxVal {
				maxVal = v
			}
		}

		sum := 0.0
		for c, v := range row {
			e := math.Exp(v - maxVal)
			out.data[r*cols+c] = e
			sum += e
		}
		for c := 0; c < cols; c++ {
			out.data[r*cols+c] /= sum
		}
	}

	return out
}

// ===========================================================================
// HELPERS
// ===========================================================================

func shapeEqual(a, b []int) bool {
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

// addInto accumulates src's data into dst's data in place:
// dst += src. Both tensors must have identical shapes.
func addInto(dst, src *Tensor) {
	if !shapeEqual(dst.shape, src.shape) {
		panic(fmt.Sprintf("tensor: cannot accumulate shape %v into %v", src.shape, dst.shape))
	}
	for i := range dst.data {
		dst.data[i] += src.data[i]
	}
}
