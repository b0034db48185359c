//go:generate mockgen -package mocks -destination ./mocks/provider.go github.com/vkngwrapper/mems/provider Provider

// Package provider supplies the page-granular backing memory that MeMS blocks live in.
package provider

import "unsafe"

// Provider obtains regions of real memory from the host and returns them when they are no longer
// needed. Regions returned by Map must be zero-initialized, readable and writable, and exactly
// size bytes long.
type Provider interface {
	Map(size int) ([]byte, error)
	// Unmap releases a region previously returned by Map. The region must be the slice Map returned,
	// not a subslice of it.
	Unmap(region []byte) error
}

// RegionAddress returns the address of the first byte of region, or 0 for an empty region
func RegionAddress(region []byte) uintptr {
	if len(region) == 0 {
		return 0
	}

	return uintptr(unsafe.Pointer(&region[0]))
}
