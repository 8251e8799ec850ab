package emulator

import (
	"encoding/binary"
	"fmt"
	"unsafe"

	"github.com/fxnlabs/fpga-mmult/internal/accel"
)

// Arg is a kernel argument as seen by the device: either a buffer's device
// memory or a scalar.
type Arg struct {
	Mem    []byte
	Value  int32
	Buffer bool
}

// Kernel is a routine the emulated device can run.
type Kernel interface {
	Arity() int
	Run(args []Arg) error
}

// MMult multiplies two dim×dim int32 matrices, row-major, with 32-bit
// wraparound: mmult(in1, in2, out, dim).
type MMult struct{}

func (MMult) Arity() int { return 4 }

func (MMult) Run(args []Arg) error {
	if len(args) != 4 || !args[0].Buffer || !args[1].Buffer || !args[2].Buffer || args[3].Buffer {
		return accel.StatusInvalidKernelArgs
	}
	dim := int(args[3].Value)
	if dim < 1 {
		return fmt.Errorf("%w: dim %d", accel.StatusInvalidArgValue, dim)
	}
	size := dim * dim * 4
	in1, in2, out := args[0].Mem, args[1].Mem, args[2].Mem
	if len(in1) < size || len(in2) < size || len(out) < size {
		return fmt.Errorf("%w: buffers smaller than %d bytes", accel.StatusInvalidArgValue, size)
	}

	at := func(m []byte, i int) int32 {
		return int32(binary.NativeEndian.Uint32(m[i*4:]))
	}
	for i := 0; i < dim; i++ {
		for j := 0; j < dim; j++ {
			var sum int32
			for k := 0; k < dim; k++ {
				sum += at(in1, i*dim+k) * at(in2, k*dim+j)
			}
			binary.NativeEndian.PutUint32(out[(i*dim+j)*4:], uint32(sum))
		}
	}
	return nil
}

// KernelFunc adapts a function to the Kernel interface.
type KernelFunc struct {
	N  int
	Fn func(args []Arg) error
}

func (k KernelFunc) Arity() int           { return k.N }
func (k KernelFunc) Run(args []Arg) error { return k.Fn(args) }

func addrOf(b []byte) uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(b)))
}
