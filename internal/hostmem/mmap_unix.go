//go:build unix

package hostmem

import (
	"fmt"

	"golang.org/x/sys/unix"
)

func pageSize() int {
	return unix.Getpagesize()
}

func mapAnon(length int) ([]byte, error) {
	mapping, err := unix.Mmap(-1, 0, length, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("hostmem: mmap %d bytes: %w", length, err)
	}
	return mapping, nil
}

func unmap(mapping []byte) error {
	if err := unix.Munmap(mapping); err != nil {
		return fmt.Errorf("hostmem: munmap: %w", err)
	}
	return nil
}
