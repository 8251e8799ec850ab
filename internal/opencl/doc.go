// Package opencl binds the accel runtime interfaces to a native OpenCL 1.2
// ICD through cgo. It is compiled only with the "opencl" build tag; without
// it New reports ErrNotAvailable and callers fall back to the emulator.
//
// Host memory handed to CreateBuffer with MemUseHostPtr is retained by the
// runtime until the buffer is released, so it must not live on the Go heap.
// Use regions from the hostmem package.
package opencl

import "errors"

// ErrNotAvailable is returned by New when the binary was built without
// OpenCL support.
var ErrNotAvailable = errors.New("opencl: not available (build with -tags opencl)")
