//go:build !unix

package hostmem

// Without mmap the heap slice is over-allocated by a page so Alloc can carve
// an aligned start out of it. The garbage collector does not move heap
// objects, but the caller must keep the Region reachable while a runtime
// holds the pointer.
func pageSize() int {
	return 1
}

func mapAnon(length int) ([]byte, error) {
	return make([]byte, length+PageSize), nil
}

func unmap([]byte) error {
	return nil
}
