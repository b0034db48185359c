package mems

import "fmt"

// Address is a location in either the MeMS virtual address space or the host's memory
type Address uint64

const (
	// NullAddress is returned in place of an address when an operation fails. No block is ever
	// placed at it.
	NullAddress Address = 0
	// DefaultStartAddress is the virtual address the first block is placed at unless
	// CreateOptions.StartAddress says otherwise
	DefaultStartAddress Address = 0x10000000
)

func (a Address) String() string {
	return fmt.Sprintf("%#x", uint64(a))
}

// Add returns the address offset bytes past a
func (a Address) Add(offset int) Address {
	return a + Address(offset)
}
