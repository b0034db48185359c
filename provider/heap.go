package provider

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/mems/memutils"
)

// HeapProvider backs regions with ordinary Go allocations. Go's collector never moves heap
// objects, so the address of a region stays fixed for as long as the region is referenced.
type HeapProvider struct{}

var _ Provider = HeapProvider{}

func NewHeapProvider() HeapProvider {
	return HeapProvider{}
}

func (HeapProvider) Map(size int) ([]byte, error) {
	if size <= 0 {
		return nil, errors.Wrapf(memutils.ErrInvalidSize, "heap: requested %d bytes", size)
	}

	return make([]byte, size), nil
}

// Unmap drops nothing: the region is reclaimed by the garbage collector once the caller lets go of it
func (HeapProvider) Unmap(region []byte) error {
	if len(region) == 0 {
		return errors.New("heap: attempted to unmap an empty region")
	}

	return nil
}
