package accel

import (
	"errors"
	"fmt"

	"github.com/fxnlabs/fpga-mmult/internal/hostmem"
	"go.uber.org/zap"
)

// ElementSize is the size in bytes of one matrix element (int32).
const ElementSize = 4

// Role identifies a buffer's part in the multiplication.
type Role int

const (
	RoleInputA Role = iota
	RoleInputB
	RoleOutput
)

func (r Role) String() string {
	switch r {
	case RoleInputA:
		return "in1"
	case RoleInputB:
		return "in2"
	case RoleOutput:
		return "out"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// Matrices are the caller-owned host regions of one run. The pipeline only
// writes into Out.
type Matrices struct {
	A   *hostmem.Region
	B   *hostmem.Region
	Out *hostmem.Region
}

// DeviceBuffer is a device buffer together with the access flags it was
// created with.
type DeviceBuffer struct {
	Buffer
	Role  Role
	Flags MemFlags
}

// BufferSet holds the three buffers of one dispatch.
type BufferSet struct {
	A   *DeviceBuffer
	B   *DeviceBuffer
	Out *DeviceBuffer
}

// Release releases every buffer in reverse creation order.
func (s *BufferSet) Release() error {
	var errs []error
	for _, b := range []*DeviceBuffer{s.Out, s.B, s.A} {
		if b != nil {
			errs = append(errs, b.Release())
		}
	}
	return errors.Join(errs...)
}

// BufferManager creates device buffers over host regions and guards the
// direction of every migration.
type BufferManager struct {
	alignment int
	log       *zap.Logger
}

// NewBufferManager returns a manager that expects host regions aligned to
// alignment bytes.
func NewBufferManager(alignment int, log *zap.Logger) *BufferManager {
	return &BufferManager{
		alignment: alignment,
		log:       log.Named("buffers"),
	}
}

// MatrixBytes returns the buffer size for a dim×dim matrix.
func MatrixBytes(dim int) int {
	return dim * dim * ElementSize
}

// Allocate creates the read-only inputs and the write-only output, in that
// order, each using its host region in place. On failure the buffers already
// created are released.
func (m *BufferManager) Allocate(ctx Context, mats Matrices, dim int) (*BufferSet, error) {
	if dim < 1 {
		return nil, newError(ErrBufferAlloc, "CreateBuffer", fmt.Errorf("dimension must be positive, got %d", dim))
	}

	set := &BufferSet{}
	specs := []struct {
		role   Role
		flags  MemFlags
		region *hostmem.Region
		dst    **DeviceBuffer
	}{
		{RoleInputA, MemUseHostPtr | MemReadOnly, mats.A, &set.A},
		{RoleInputB, MemUseHostPtr | MemReadOnly, mats.B, &set.B},
		{RoleOutput, MemUseHostPtr | MemWriteOnly, mats.Out, &set.Out},
	}

	for _, spec := range specs {
		buf, err := m.create(ctx, spec.role, spec.flags, spec.region, dim)
		if err != nil {
			_ = set.Release()
			return nil, err
		}
		*spec.dst = buf
	}
	return set, nil
}

func (m *BufferManager) create(ctx Context, role Role, flags MemFlags, region *hostmem.Region, dim int) (*DeviceBuffer, error) {
	if err := checkFlags(flags); err != nil {
		return nil, newError(ErrBufferAlloc, "CreateBuffer", fmt.Errorf("%s: %w", role, err))
	}
	if region == nil || region.Len() == 0 {
		return nil, newError(ErrBufferAlloc, "CreateBuffer", fmt.Errorf("%s: no host region", role))
	}
	size := MatrixBytes(dim)
	if region.Len() != size {
		return nil, newError(ErrBufferAlloc, "CreateBuffer",
			fmt.Errorf("%s: host region is %d bytes, want %d", role, region.Len(), size))
	}
	if !region.Aligned(m.alignment) {
		// The runtime stages the data through its own aligned copy, which
		// costs a memcpy on every migration but stays correct.
		m.log.Warn("host region not aligned, runtime will stage a copy",
			zap.Stringer("role", role),
			zap.Uintptr("addr", region.Addr()),
			zap.Int("alignment", m.alignment))
	}

	buf, err := ctx.CreateBuffer(flags, region.Bytes())
	if err != nil {
		return nil, newError(ErrBufferAlloc, "CreateBuffer", fmt.Errorf("%s: %w", role, err))
	}
	if buf.Size() != size {
		_ = buf.Release()
		return nil, newError(ErrBufferAlloc, "CreateBuffer",
			fmt.Errorf("%s: runtime created %d bytes, want %d", role, buf.Size(), size))
	}

	m.log.Debug("created buffer", zap.Stringer("role", role), zap.Int("bytes", size))
	return &DeviceBuffer{Buffer: buf, Role: role, Flags: flags}, nil
}

// Migrate enqueues a migration of bufs after checking that every buffer may
// move in that direction: read-only buffers never go back to the host and
// write-only buffers are never sent to the device.
func (m *BufferManager) Migrate(q Queue, dir Migration, bufs ...*DeviceBuffer) error {
	if len(bufs) == 0 {
		return newError(ErrBufferAlloc, "EnqueueMigrateMemObjects", errors.New("no buffers to migrate"))
	}
	raw := make([]Buffer, 0, len(bufs))
	for _, b := range bufs {
		if err := CheckMigration(b.Flags, dir); err != nil {
			return newError(ErrBufferAlloc, "EnqueueMigrateMemObjects", fmt.Errorf("%s: %w", b.Role, err))
		}
		raw = append(raw, b.Buffer)
	}

	if err := q.EnqueueMigrate(raw, dir); err != nil {
		return newError(ErrDispatch, "EnqueueMigrateMemObjects", err)
	}
	m.log.Debug("enqueued migration", zap.Stringer("direction", dir), zap.Int("buffers", len(bufs)))
	return nil
}

// CheckMigration reports whether a buffer with flags may migrate in dir.
func CheckMigration(flags MemFlags, dir Migration) error {
	switch {
	case dir == MigrateToHost && flags.Has(MemReadOnly):
		return errors.New("read-only buffer cannot migrate to host")
	case dir == MigrateToDevice && flags.Has(MemWriteOnly):
		return errors.New("write-only buffer cannot migrate to device")
	}
	return nil
}

func checkFlags(flags MemFlags) error {
	access := 0
	for _, f := range []MemFlags{MemReadWrite, MemReadOnly, MemWriteOnly} {
		if flags.Has(f) {
			access++
		}
	}
	if access > 1 {
		return fmt.Errorf("conflicting access flags %#x", uint64(flags))
	}
	return nil
}
