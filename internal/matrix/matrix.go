// Package matrix holds the CPU side of the harness: deterministic test data
// and the sequential reference multiplication the device result is checked
// against.
package matrix

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Multiply computes out += a·b for dim×dim row-major matrices with 32-bit
// wraparound. out must be zeroed by the caller for a plain product.
func Multiply(a, b, out []int32, dim int) error {
	n := dim * dim
	if len(a) != n || len(b) != n || len(out) != n {
		return fmt.Errorf("matrix size mismatch: dim %d needs %d elements, got a=%d b=%d out=%d",
			dim, n, len(a), len(b), len(out))
	}
	for i := 0; i < dim; i++ {
		for j := 0; j < dim; j++ {
			for k := 0; k < dim; k++ {
				out[i*dim+j] += a[i*dim+k] * b[k*dim+j]
			}
		}
	}
	return nil
}

// Fill writes pseudo-random values in [0, max) derived from seed. The same
// seed always produces the same matrix. max <= 0 means the full non-negative
// int32 range.
func Fill(dst []int32, seed int64, max int32) {
	rng := rand.New(rand.NewSource(seed))
	for i := range dst {
		if max <= 0 {
			dst[i] = rng.Int31()
		} else {
			dst[i] = rng.Int31n(max)
		}
	}
}

// Bound returns the largest absolute value in m.
func Bound(m []int32) int64 {
	var bound int64
	for _, v := range m {
		x := int64(v)
		if x < 0 {
			x = -x
		}
		if x > bound {
			bound = x
		}
	}
	return bound
}

// Exact reports whether a·b can be computed without int32 overflow, i.e.
// whether wraparound can be ruled out for every element.
func Exact(a, b []int32, dim int) bool {
	ba, bb := Bound(a), Bound(b)
	if ba == 0 || bb == 0 {
		return true
	}
	// dim·ba·bb <= MaxInt32, evaluated without overflowing int64.
	return ba <= math.MaxInt32/bb/int64(dim)
}

// ErrCrossCheckSkipped is returned by CrossCheck when the inputs may wrap.
var ErrCrossCheckSkipped = errors.New("matrix: cross-check skipped, product may overflow int32")

// CrossCheck recomputes a·b with gonum in float64 and compares it with want.
// It only runs when the product is exact in int32; otherwise it returns
// ErrCrossCheckSkipped.
func CrossCheck(a, b, want []int32, dim int) error {
	if len(a) != dim*dim || len(b) != dim*dim || len(want) != dim*dim {
		return fmt.Errorf("matrix size mismatch for dim %d", dim)
	}
	if !Exact(a, b, dim) {
		return ErrCrossCheckSkipped
	}

	da := mat.NewDense(dim, dim, toFloat64(a))
	db := mat.NewDense(dim, dim, toFloat64(b))
	var prod mat.Dense
	prod.Mul(da, db)

	for i := 0; i < dim; i++ {
		for j := 0; j < dim; j++ {
			got := prod.At(i, j)
			if got != float64(want[i*dim+j]) {
				return fmt.Errorf("matrix: cross-check mismatch at (%d,%d): gonum %v, reference %d",
					i, j, got, want[i*dim+j])
			}
		}
	}
	return nil
}

func toFloat64(m []int32) []float64 {
	out := make([]float64, len(m))
	for i, v := range m {
		out[i] = float64(v)
	}
	return out
}
