package memutils

import "github.com/cockroachdb/errors"

// Validatable is implemented by every structure that can check its own internal consistency.
// DebugValidate acts upon it.
type Validatable interface {
	Validate() error
}

// ValidateEach validates every item in order and stops at the first failure, annotating
// the error with the failing item's index
func ValidateEach[T Validatable](items []T) error {
	for index, item := range items {
		if err := item.Validate(); err != nil {
			return errors.Wrapf(err, "item %d failed validation", index)
		}
	}

	return nil
}
