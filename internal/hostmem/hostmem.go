// Package hostmem allocates host memory that a device runtime may keep
// referencing after the allocating call returns.
//
// On unix, regions are backed by anonymous mmap mappings instead of the Go
// heap, so their addresses never move and cgo pointer rules do not apply when
// the runtime is handed the pointer with CL_MEM_USE_HOST_PTR semantics. Other
// platforms fall back to an over-allocated heap slice.
package hostmem

import (
	"errors"
	"fmt"
	"unsafe"
)

// PageSize is the alignment device runtimes need to use host memory in place.
const PageSize = 4096

var (
	ErrInvalidSize      = errors.New("hostmem: invalid size")
	ErrInvalidAlignment = errors.New("hostmem: alignment must be a positive power of two")
)

// Region is an owned block of host memory aligned to Align bytes.
type Region struct {
	mapping []byte
	data    []byte
	align   int
}

// Alloc maps size bytes aligned to align. The memory is zeroed.
func Alloc(size, align int) (*Region, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}
	if align <= 0 || align&(align-1) != 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidAlignment, align)
	}

	// mmap returns page-aligned memory; larger alignments are carved out of
	// an over-sized mapping.
	length := size
	if align > pageSize() {
		length += align
	}
	mapping, err := mapAnon(length)
	if err != nil {
		return nil, err
	}

	base := uintptr(unsafe.Pointer(&mapping[0]))
	offset := int((uintptr(align) - base%uintptr(align)) % uintptr(align))

	return &Region{
		mapping: mapping,
		data:    mapping[offset : offset+size : offset+size],
		align:   align,
	}, nil
}

// AllocInt32 maps room for n int32 values aligned to align.
func AllocInt32(n, align int) (*Region, error) {
	return Alloc(n*4, align)
}

// Bytes returns the region contents. Nil after Close.
func (r *Region) Bytes() []byte {
	return r.data
}

// Int32s returns a typed view of the region.
func (r *Region) Int32s() []int32 {
	if len(r.data) < 4 {
		return nil
	}
	return unsafe.Slice((*int32)(unsafe.Pointer(&r.data[0])), len(r.data)/4)
}

// Len returns the size in bytes.
func (r *Region) Len() int {
	return len(r.data)
}

// Addr returns the start address of the region, or 0 after Close.
func (r *Region) Addr() uintptr {
	if len(r.data) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&r.data[0]))
}

// Aligned reports whether the region start is a multiple of align.
func (r *Region) Aligned(align int) bool {
	return IsAligned(r.Addr(), align)
}

// Zero clears the region.
func (r *Region) Zero() {
	clear(r.data)
}

// Close unmaps the region. It is safe to call more than once.
func (r *Region) Close() error {
	if r.mapping == nil {
		return nil
	}
	err := unmap(r.mapping)
	r.mapping = nil
	r.data = nil
	return err
}

// Misaligned returns a region whose start is shifted off the page boundary by
// shift bytes. It exists to exercise the staging-copy path of a runtime; the
// returned region owns its mapping like any other.
func Misaligned(size, shift int) (*Region, error) {
	if shift <= 0 || shift%4 != 0 {
		return nil, fmt.Errorf("hostmem: shift must be a positive multiple of 4, got %d", shift)
	}
	r, err := Alloc(size+shift, PageSize)
	if err != nil {
		return nil, err
	}
	r.data = r.data[shift : shift+size : shift+size]
	return r, nil
}

// IsAligned reports whether addr is a multiple of align.
func IsAligned(addr uintptr, align int) bool {
	if align <= 0 {
		return false
	}
	return addr%uintptr(align) == 0
}
