//go:build unix

package provider

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/mems/memutils"
	"golang.org/x/sys/unix"
)

// MmapProvider maps anonymous private memory straight from the kernel
type MmapProvider struct{}

var _ Provider = MmapProvider{}

func NewMmapProvider() MmapProvider {
	return MmapProvider{}
}

// Default returns the provider best suited to the host: anonymous mappings on unix
func Default() Provider {
	return NewMmapProvider()
}

func (MmapProvider) Map(size int) ([]byte, error) {
	if size <= 0 {
		return nil, errors.Wrapf(memutils.ErrInvalidSize, "mmap: requested %d bytes", size)
	}

	region, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "mmap: failed to map %d bytes", size), memutils.ErrOutOfMemory)
	}

	return region, nil
}

func (MmapProvider) Unmap(region []byte) error {
	if err := unix.Munmap(region); err != nil {
		return errors.Wrapf(err, "mmap: failed to unmap %d bytes", len(region))
	}

	return nil
}
