package provider

import (
	"fmt"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/mems/memutils"
)

// BudgetProvider wraps another Provider and refuses to map more than a fixed number of bytes in
// total. Unmapped regions are returned to the budget.
type BudgetProvider struct {
	inner       Provider
	budget      int64
	mappedBytes int64
}

var _ Provider = &BudgetProvider{}

func NewBudgetProvider(inner Provider, maxBytes int) *BudgetProvider {
	return &BudgetProvider{
		inner:  inner,
		budget: int64(maxBytes),
	}
}

// MappedBytes returns the number of bytes currently charged against the budget
func (p *BudgetProvider) MappedBytes() int {
	return int(atomic.LoadInt64(&p.mappedBytes))
}

func (p *BudgetProvider) reserve(size int) error {
	for {
		currentVal := atomic.LoadInt64(&p.mappedBytes)
		targetVal := currentVal + int64(size)

		if targetVal > p.budget {
			return errors.Wrapf(memutils.ErrOutOfMemory, "mapping %d bytes would exceed the budget of %d bytes (%d in use)", size, p.budget, currentVal)
		}

		if atomic.CompareAndSwapInt64(&p.mappedBytes, currentVal, targetVal) {
			return nil
		}
	}
}

func (p *BudgetProvider) release(size int) {
	newVal := atomic.AddInt64(&p.mappedBytes, int64(-size))
	if newVal < 0 {
		panic(fmt.Sprintf("mapped bytes budget went negative: %d", newVal))
	}
}

func (p *BudgetProvider) Map(size int) (region []byte, err error) {
	err = p.reserve(size)
	if err != nil {
		return nil, err
	}
	defer func() {
		// If we failed out, roll back the reservation
		if err != nil {
			p.release(size)
		}
	}()

	return p.inner.Map(size)
}

func (p *BudgetProvider) Unmap(region []byte) error {
	err := p.inner.Unmap(region)
	if err != nil {
		return err
	}

	p.release(len(region))
	return nil
}
