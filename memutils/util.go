package memutils

import (
	"github.com/cockroachdb/errors"
	"golang.org/x/exp/constraints"
)

// DefaultPageSize is the unit in which memory is requested from the memory provider
// and the granularity to which every allocation is rounded.
const DefaultPageSize = 4096

func CheckPow2[T constraints.Integer](number T, name string) error {
	if number <= 0 || number&(number-1) != 0 {
		return errors.Wrapf(ErrPowerOfTwo, "%s is %d", name, number)
	}
	return nil
}

// AlignUp rounds value up to the next multiple of alignment, which must be a power of two
func AlignUp[T constraints.Integer](value T, alignment T) T {
	return (value + alignment - 1) &^ (alignment - 1)
}

// AlignDown rounds value down to the previous multiple of alignment, which must be a power of two
func AlignDown[T constraints.Integer](value T, alignment T) T {
	return value &^ (alignment - 1)
}

// PageCount returns the number of pages of pageSize bytes needed to hold size bytes
func PageCount(size, pageSize int) int {
	return (size + pageSize - 1) / pageSize
}
