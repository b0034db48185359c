package memutils

import "github.com/cockroachdb/errors"

var (
	// ErrPowerOfTwo is the error returned from CheckPow2 or other methods if the number being tested is not a power of two
	ErrPowerOfTwo = errors.New("number must be a power of two")
	// ErrOutOfMemory is returned when the memory provider cannot satisfy a request for a new block
	ErrOutOfMemory = errors.New("out of memory")
	// ErrInvalidAddress is returned when a virtual address does not fall inside any block
	ErrInvalidAddress = errors.New("invalid virtual address")
	// ErrInvalidSize is returned when an allocation of zero or negative bytes is requested
	ErrInvalidSize = errors.New("allocation size must be greater than zero")
	// ErrAllocatorInUse is returned when an allocator that still owns blocks is re-initialized
	ErrAllocatorInUse = errors.New("allocator still owns mapped blocks")
	// ErrCorruption is returned when a freed segment no longer carries its poison pattern
	ErrCorruption = errors.New("memory corruption detected")
)
