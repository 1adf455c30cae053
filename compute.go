package main

import (
	"runtime"
	"sync"
)

// ===========================================================================
// COMPUTE ENGINE
// ===========================================================================
//
// The training loop is a single logical thread of control; all parallelism
// in this repo lives behind the two entry points in this file. Matrix
// multiplies split output rows across goroutines, element-wise maps split
// the flat buffer. Both produce results identical to the single-threaded
// path, so callers never observe the difference.
//
// Small problems stay single-threaded: for the decoder's per-step matmuls
// the goroutine spawn cost can exceed the arithmetic, which is why
// MinSizeForParallel exists.
//
// ===========================================================================

// ComputeConfig controls parallel execution of tensor operations.
type ComputeConfig struct {
	// Parallel enables multi-goroutine execution.
	Parallel bool

	// NumWorkers is the number of worker goroutines; 0 means runtime.NumCPU().
	NumWorkers int

	// MinSizeForParallel is the smallest problem dimension worth splitting.
	MinSizeForParallel int
}

// DefaultComputeConfig returns the standard parallel configuration.
func DefaultComputeConfig() ComputeConfig {
	return ComputeConfig{
		Parallel:           true,
		NumWorkers:         0,
		MinSizeForParallel: 64,
	}
}

// SingleThreadedConfig returns a deterministic, single-goroutine configuration.
func SingleThreadedConfig() ComputeConfig {
	return ComputeConfig{
		Parallel:           false,
		NumWorkers:         1,
		MinSizeForParallel: 0,
	}
}

func (c ComputeConfig) numWorkers() int {
	if !c.Parallel {
		return 1
	}
	if c.NumWorkers > 0 {
		return c.NumWorkers
	}
	return runtime.NumCPU()
}

func (c ComputeConfig) shouldParallelize(size int) bool {
	return c.Parallel && size >= c.MinSizeForParallel
}

// Global compute configuration; tensor.go's MatMul and activations use it.
var globalComputeConfig = DefaultComputeConfig()

// SetGlobalComputeConfig sets the global compute configuration.
func SetGlobalComputeConfig(cfg ComputeConfig) {
	globalComputeConfig = cfg
}

// GetGlobalComputeConfig returns the current global compute configuration.
func GetGlobalComputeConfig() ComputeConfig {
	return globalComputeConfig
}

// MatMulWithConfig performs C = A @ B under the given configuration.
// A must be (M, K), B must be (K, N); the result is (M, N).
func MatMulWithConfig(a, b *Tensor, cfg ComputeConfig) *Tensor {
	if len(a.shape) != 2 || len(b.shape) != 2 {
		panic("tensor: MatMul requires 2D tensors")
	}

	m, k1 := a.shape[0], a.shape[1]
	k2, n := b.shape[0], b.shape[1]
	if k1 != k2 {
		panic("tensor: incompatible dimensions for matmul")
	}
	k := k1

	out := NewTensor(m, n)

	if !cfg.shouldParallelize(m) {
		matmulRows(a, b, out, 0, m, n, k)
		return out
	}

	numWorkers := cfg.numWorkers()
	rowsPerWorker := (m + numWorkers - 1) / numWorkers

	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		start := w * rowsPerWorker
		end := start + rowsPerWorker
		if end > m {
			end = m
		}
		if start >= m {
			break
		}

		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			matmulRows(a, b, out, s, e, n, k)
		}(start, end)
	}
	wg.Wait()

	return out
}

// matmulRows computes output rows [startRow, endRow). Workers write to
// disjoint row ranges, so no synchronization is needed beyond the WaitGroup.
func matmulRows(a, b, out *Tensor, startRow, endRow, n, k int) {
	for i := startRow; i < endRow; i++ {
		arow := a.data[i*k : (i+1)*k]
		orow := out.data[i*n : (i+1)*n]
		for kk, av := range arow {
			if av == 0 {
				continue
			}
			brow := b.data[kk*n : (kk+1)*n]
			for j := range orow {
				orow[j] += av * brow[j]
			}
		}
	}
}

// ParallelApply maps fn over every element, splitting the flat buffer
// across workers when the tensor is large enough.
func ParallelApply(t *Tensor, fn func(float64) float64, cfg ComputeConfig) *Tensor {
	out := NewTensor(t.shape...)
	size := len(t.data)

	if !cfg.shouldParallelize(size) {
		for i := 0; i < size; i++ {
			out.data[i] = fn(t.data[i])
		}
		return out
	}

	numWorkers := cfg.numWorkers()
	elemsPerWorker := (size + numWorkers - 1) / numWorkers

	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		start := w * elemsPerWorker
		end := start + elemsPerWorker
		if end > size {
			end = size
		}
		if start >= size {
			break
		}

		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			for i := s; i < e; i++ {
				out.data[i] = fn(t.data[i])
			}
		}(start, end)
	}
	wg.Wait()

	return out
}
