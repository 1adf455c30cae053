package main

// ===========================================================================
// BACKWARD OPERATIONS
// ===========================================================================
//
// Gradient computation is hand-written per operation: every op the model
// uses in its forward pass has a matching backward function here or beside
// its layer. The chain rule composes them - each backward takes the
// gradient flowing in from the loss side and produces the gradient with
// respect to its inputs.
//
// The decoder unrolls over caption timesteps, so these functions get called
// once per timestep in reverse order during backpropagation through time;
// gradients that reach a tensor more than once (the shared context vector,
// the recurrent states) are summed.
//
// ===========================================================================

import "math"

// MatMulBackward computes gradients for C = A @ B.
//
//	gradA = gradC @ B^T
//	gradB = A^T @ gradC
//
// Derivation: C[i,j] = Σ_k A[i,k]·B[k,j], so ∂L/∂A[i,k] = Σ_j gradC[i,j]·B[k,j].
func MatMulBackward(a, b, gradC *Tensor) (gradA, gradB *Tensor) {
	gradA = MatMul(gradC, Transpose(b))
	gradB = MatMul(Transpose(a), gradC)
	return gradA, gradB
}

// ReLUBackward computes the gradient for y = max(0, x):
// the gradient passes through where x was positive and dies elsewhere.
func ReLUBackward(x, gradY *Tensor) *Tensor {
	gradX := NewTensor(x.shape...)
	for i := range x.data {
		if x.data[i] > 0 {
			gradX.data[i] = gradY.data[i]
		}
	}
	return gradX
}

// TanhBackward computes the gradient for y = tanh(x) given y itself:
// dy/dx = 1 - y², so the forward output is all the cache needed.
func TanhBackward(y, gradY *Tensor) *Tensor {
	gradX := NewTensor(y.shape...)
	for i := range y.data {
		gradX.data[i] = gradY.data[i] * (1.0 - y.data[i]*y.data[i])
	}
	return gradX
}

// SigmoidBackward computes the gradient for y = σ(x) given y itself:
// dy/dx = y·(1-y).
func SigmoidBackward(y, gradY *Tensor) *Tensor {
	gradX := NewTensor(y.shape...)
	for i := range y.data {
		gradX.data[i] = gradY.data[i] * y.data[i] * (1.0 - y.data[i])
	}
	return gradX
}

// SoftmaxBackward computes the gradient through a row-wise softmax.
//
// With y = softmax(x):
//
//	∂y[i]/∂x[j] = y[i]·(δ[i,j] - y[j])
//
// which collapses to gradX[i] = y[i]·(gradY[i] - Σ_j gradY[j]·y[j]) per row.
// Attention uses this over the position axis when pushing the context-vector
// gradient back into the scores.
func SoftmaxBackward(y, gradY *Tensor) *Tensor {
	if len(y.shape) != 2 {
		panic("SoftmaxBackward: requires 2D tensor")
	}

	rows, cols := y.shape[0], y.shape[1]
	gradX := NewTensor(y.shape...)

	for r := 0; r < rows; r++ {
		dot := 0.0
		for c := 0; c < cols; c++ {
			dot += gradY.data[r*cols+c] * y.data[r*cols+c]
		}
		for c := 0; c < cols; c++ {
			i := r*cols + c
			gradX.data[i] = y.data[i] * (gradY.data[i] - dot)
		}
	}

	return gradX
}

// AccumulateGrad adds grad's DATA into t's gradient buffer. Used when a
// tensor feeds multiple consumers in the forward pass (the context vector,
// encoder output, recurrent states).
func (t *Tensor) AccumulateGrad(grad *Tensor) {
	if !shapeEqual(t.shape, grad.shape) {
		panic("AccumulateGrad: shape mismatch")
	}
	for i := range t.grad {
		t.grad[i] += grad.data[i]
	}
}

// GradNorm returns the global L2 norm over the gradient buffers of params.
func GradNorm(params []*Tensor) float64 {
	sum := 0.0
	for _, p := range params {
		for _, g := range p.grad {
			sum += g * g
		}
	}
	return math.Sqrt(sum)
}
