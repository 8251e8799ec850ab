//go:build !opencl

package opencl

import "github.com/fxnlabs/fpga-mmult/internal/accel"

// Runtime is a placeholder when OpenCL support is not compiled in.
type Runtime struct{}

var _ accel.Runtime = (*Runtime)(nil)

// New always fails with ErrNotAvailable.
func New() (*Runtime, error) {
	return nil, ErrNotAvailable
}

// Platforms always fails with ErrNotAvailable.
func (*Runtime) Platforms() ([]accel.Platform, error) {
	return nil, ErrNotAvailable
}
