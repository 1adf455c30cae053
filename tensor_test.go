package main

import (
	"math"
	"testing"
)

// TestTensorBasics tests basic tensor creation and access.
func TestTensorBasics(t *testing.T) {
	// Create a 2x3 matrix
	tensor := NewTensor(2, 3)

	shape := tensor.Shape()
	if len(shape) != 2 || shape[0] != 2 || shape[1] != 3 {
		t.Errorf("expected shape [2 3], got %v", shape)
	}

	if tensor.Size() != 6 {
		t.Errorf("expected size 6, got %d", tensor.Size())
	}

	// Test setting and getting values
	tensor.Set(1.5, 0, 0)
	tensor.Set(2.5, 1, 2)

	if v := tensor.At(0, 0); v != 1.5 {
		t.Errorf("expected 1.5, got %f", v)
	}

	if v := tensor.At(1, 2); v != 2.5 {
		t.Errorf("expected 2.5, got %f", v)
	}

	// New tensors start zeroed
	if v := tensor.At(1, 0); v != 0 {
		t.Errorf("expected fresh tensor value 0, got %f", v)
	}
}

// TestTensorShapeIsolated tests that Shape() returns a copy, not the
// internal slice.
func TestTensorShapeIsolated(t *testing.T) {
	tensor := NewTensor(2, 3)
	shape := tensor.Shape()
	shape[0] = 99

	if got := tensor.Shape()[0]; got != 2 {
		t.Errorf("mutating Shape() result leaked into the tensor: got %d", got)
	}
}

// TestMatMul tests matrix multiplication against hand-computed values.
func TestMatMul(t *testing.T) {
	// A (2x3) @ B (3x2) = C (2x2)
	a := NewTensor(2, 3)
	a.Set(1, 0, 0)
	a.Set(2, 0, 1)
	a.Set(3, 0, 2)
	a.Set(4, 1, 0)
	a.Set(5, 1, 1)
	a.Set(6, 1, 2)

	b := NewTensor(3, 2)
	b.Set(1, 0, 0)
	b.Set(2, 0, 1)
	b.Set(3, 1, 0)
	b.Set(4, 1, 1)
	b.Set(5, 2, 0)
	b.Set(6, 2, 1)

	c := MatMul(a, b)

	shape := c.Shape()
	if len(shape) != 2 || shape[0] != 2 || shape[1] != 2 {
		t.Fatalf("expected shape [2 2], got %v", shape)
	}

	// C[0,0] = 1*1 + 2*3 + 3*5 = 22
	// C[0,1] = 1*2 + 2*4 + 3*6 = 28
	// C[1,0] = 4*1 + 5*3 + 6*5 = 49
	// C[1,1] = 4*2 + 5*4 + 6*6 = 64
	expected := [][]float64{
		{22, 28},
		{49, 64},
	}
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			if v := c.At(i, j); v != expected[i][j] {
				t.Errorf("C[%d,%d]: expected %f, got %f", i, j, expected[i][j], v)
			}
		}
	}
}

// TestMatMulShapeMismatch tests that incompatible shapes panic.
func TestMatMulShapeMismatch(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for (2x3) @ (2x3)")
		}
	}()
	MatMul(NewTensor(2, 3), NewTensor(2, 3))
}

// TestTranspose tests matrix transposition.
func TestTranspose(t *testing.T) {
	a := NewTensor(2, 3)
	for i := 0; i < 2; i++ {
		for j := 0; j < 3; j++ {
			a.Set(float64(i*3+j), i, j)
		}
	}

	at := Transpose(a)

	shape := at.Shape()
	if shape[0] != 3 || shape[1] != 2 {
		t.Fatalf("expected shape [3 2], got %v", shape)
	}
	for i := 0; i < 2; i++ {
		for j := 0; j < 3; j++ {
			if at.At(j, i) != a.At(i, j) {
				t.Errorf("transpose[%d,%d] != a[%d,%d]", j, i, i, j)
			}
		}
	}
}

// TestElementwiseOps tests Add, Mul and Scale.
func TestElementwiseOps(t *testing.T) {
	a := NewTensor(2, 2)
	b := NewTensor(2, 2)
	for i := 0; i < 4; i++ {
		a.data[i] = float64(i + 1) // 1 2 3 4
		b.data[i] = 2
	}

	sum := Add(a, b)
	prod := Mul(a, b)
	scaled := Scale(a, 10)

	for i := 0; i < 4; i++ {
		if sum.data[i] != float64(i+3) {
			t.Errorf("Add[%d]: expected %f, got %f", i, float64(i+3), sum.data[i])
		}
		if prod.data[i] != float64(2*(i+1)) {
			t.Errorf("Mul[%d]: expected %f, got %f", i, float64(2*(i+1)), prod.data[i])
		}
		if scaled.data[i] != float64(10*(i+1)) {
			t.Errorf("Scale[%d]: expected %f, got %f", i, float64(10*(i+1)), scaled.data[i])
		}
	}

	// Operands must be untouched
	if a.data[0] != 1 || b.data[0] != 2 {
		t.Error("elementwise ops modified their operands")
	}
}

// TestConcatSplit tests that SplitCols undoes Concat.
func TestConcatSplit(t *testing.T) {
	a := NewTensor(2, 3)
	b := NewTensor(2, 2)
	for i := range a.data {
		a.data[i] = float64(i)
	}
	for i := range b.data {
		b.data[i] = float64(100 + i)
	}

	joined := Concat(a, b)
	shape := joined.Shape()
	if shape[0] != 2 || shape[1] != 5 {
		t.Fatalf("expected shape [2 5], got %v", shape)
	}

	// Row layout: a's columns first, then b's
	if joined.At(0, 2) != a.At(0, 2) || joined.At(0, 3) != b.At(0, 0) {
		t.Error("Concat misplaced columns")
	}

	left, right := SplitCols(joined, 3)
	for i := 0; i < 2; i++ {
		for j := 0; j < 3; j++ {
			if left.At(i, j) != a.At(i, j) {
				t.Errorf("left[%d,%d]: expected %f, got %f", i, j, a.At(i, j), left.At(i, j))
			}
		}
		for j := 0; j < 2; j++ {
			if right.At(i, j) != b.At(i, j) {
				t.Errorf("right[%d,%d]: expected %f, got %f", i, j, b.At(i, j), right.At(i, j))
			}
		}
	}
}

// TestReshapeSharesData tests that Reshape returns a view over the same
// backing array, which the attention module relies on.
func TestReshapeSharesData(t *testing.T) {
	a := NewTensor(2, 6)
	view := a.Reshape(4, 3)

	view.Set(7.5, 3, 2) // last element
	if got := a.At(1, 5); got != 7.5 {
		t.Errorf("reshape did not share data: expected 7.5, got %f", got)
	}

	defer func() {
		if recover() == nil {
			t.Error("expected panic for size-changing reshape")
		}
	}()
	a.Reshape(5, 3)
}

// TestClone tests that Clone copies values and detaches storage.
func TestClone(t *testing.T) {
	a := NewTensor(2, 2)
	a.Set(3, 1, 1)

	b := a.Clone()
	b.Set(9, 1, 1)

	if a.At(1, 1) != 3 {
		t.Errorf("clone shares storage: expected 3, got %f", a.At(1, 1))
	}
	if b.At(0, 0) != 0 || b.At(1, 1) != 9 {
		t.Error("clone did not copy values")
	}
}

// TestActivations tests ReLU, Tanh and Sigmoid at known points.
func TestActivations(t *testing.T) {
	x := NewTensor(1, 3)
	x.data[0] = -2
	x.data[1] = 0
	x.data[2] = 2

	relu := ReLU(x)
	if relu.data[0] != 0 || relu.data[1] != 0 || relu.data[2] != 2 {
		t.Errorf("ReLU(-2,0,2): expected (0,0,2), got %v", relu.data)
	}

	tanh := Tanh(x)
	if math.Abs(tanh.data[2]-math.Tanh(2)) > 1e-15 {
		t.Errorf("Tanh(2): expected %f, got %f", math.Tanh(2), tanh.data[2])
	}

	sig := Sigmoid(x)
	if math.Abs(sig.data[1]-0.5) > 1e-15 {
		t.Errorf("Sigmoid(0): expected 0.5, got %f", sig.data[1])
	}
	// sigmoid(2) = 1/(1+e^-2) = 0.880797...
	if math.Abs(sig.data[2]-0.8807970779778823) > 1e-12 {
		t.Errorf("Sigmoid(2): got %f", sig.data[2])
	}
}

// TestSoftmax tests that rows form probability distributions and that
// equal logits give uniform weights.
func TestSoftmax(t *testing.T) {
	x := NewTensor(2, 4)
	// Row 0: all equal, so uniform 0.25 each
	// Row 1: one dominant logit
	x.Set(50, 1, 2)

	y := Softmax(x)

	for i := 0; i < 2; i++ {
		sum := 0.0
		for j := 0; j < 4; j++ {
			sum += y.At(i, j)
		}
		if math.Abs(sum-1) > 1e-12 {
			t.Errorf("row %d: probabilities sum to %f, want 1", i, sum)
		}
	}
	for j := 0; j < 4; j++ {
		if math.Abs(y.At(0, j)-0.25) > 1e-12 {
			t.Errorf("uniform row: expected 0.25, got %f", y.At(0, j))
		}
	}
	if y.At(1, 2) < 0.999 {
		t.Errorf("dominant logit: expected ~1, got %f", y.At(1, 2))
	}
}

// TestSoftmaxStability tests large logits do not overflow to NaN.
func TestSoftmaxStability(t *testing.T) {
	x := NewTensor(1, 3)
	x.data[0] = 1000
	x.data[1] = 1001
	x.data[2] = 1002

	y := Softmax(x)
	sum := 0.0
	for _, v := range y.data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Fatalf("softmax produced non-finite value %f", v)
		}
		sum += v
	}
	if math.Abs(sum-1) > 1e-12 {
		t.Errorf("probabilities sum to %f, want 1", sum)
	}
}

// TestAddInto tests in-place accumulation.
func TestAddInto(t *testing.T) {
	dst := NewTensor(2, 2)
	src := NewTensor(2, 2)
	dst.data[3] = 1
	src.data[3] = 2

	addInto(dst, src)

	if dst.data[3] != 3 {
		t.Errorf("expected 3, got %f", dst.data[3])
	}
	if src.data[3] != 2 {
		t.Error("addInto modified the source")
	}
}

// TestZeroGrad tests gradient reset.
func TestZeroGrad(t *testing.T) {
	a := NewTensor(2, 2)
	g := NewTensor(2, 2)
	for i := range g.data {
		g.data[i] = float64(i + 1)
	}
	a.AccumulateGrad(g)
	if a.grad[3] != 4 {
		t.Fatalf("expected grad[3]=4 before reset, got %f", a.grad[3])
	}

	a.ZeroGrad()
	for i, v := range a.grad {
		if v != 0 {
			t.Errorf("grad[%d]: expected 0 after ZeroGrad, got %f", i, v)
		}
	}
}
