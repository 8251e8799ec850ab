package verify

import (
	"errors"
	"fmt"
	"math/rand"
)

var (
	ErrMismatch     = errors.New("verify: result mismatch")
	ErrSizeMismatch = errors.New("verify: size mismatch")
)

// Mismatch is the first element where the device result differs from the
// reference.
type Mismatch struct {
	Index int
	Want  int32
	Got   int32
}

func (m *Mismatch) Error() string {
	return fmt.Sprintf("result mismatch at i = %d: CPU result = %d, device result = %d", m.Index, m.Want, m.Got)
}

func (m *Mismatch) Unwrap() error {
	return ErrMismatch
}

// Compare checks got against want element by element and stops at the first
// difference.
func Compare(want, got []int32) error {
	if len(want) != len(got) {
		return fmt.Errorf("%w: want %d elements, got %d", ErrSizeMismatch, len(want), len(got))
	}
	for i := range want {
		if want[i] != got[i] {
			return &Mismatch{Index: i, Want: want[i], Got: got[i]}
		}
	}
	return nil
}

// Freivalds probabilistically verifies that c = a·b for dim×dim matrices in
// int32 arithmetic. Wraparound is multiplication modulo 2^32, which is a
// ring, so the identity a(br) = cr holds exactly for a correct c. Each round
// uses a random 0/1 vector; a wrong c survives a round with probability at
// most 1/2.
func Freivalds(a, b, c []int32, dim, rounds int, seed int64) bool {
	n := dim * dim
	if dim < 1 || len(a) != n || len(b) != n || len(c) != n {
		return false
	}

	rng := rand.New(rand.NewSource(seed))
	r := make([]int32, dim)
	for round := 0; round < rounds; round++ {
		for j := range r {
			r[j] = int32(rng.Intn(2))
		}

		br := multiplyVector(b, r, dim)
		abr := multiplyVector(a, br, dim)
		cr := multiplyVector(c, r, dim)

		for i := range abr {
			if abr[i] != cr[i] {
				return false
			}
		}
	}
	return true
}

func multiplyVector(m, v []int32, dim int) []int32 {
	out := make([]int32, dim)
	for i := 0; i < dim; i++ {
		var sum int32
		for j := 0; j < dim; j++ {
			sum += m[i*dim+j] * v[j]
		}
		out[i] = sum
	}
	return out
}
