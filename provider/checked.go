package provider

import (
	"runtime"
	"sync"

	"github.com/cockroachdb/errors"
)

// CheckedProvider wraps another Provider and remembers every region that is currently mapped,
// along with where it was mapped from, so that tests can assert nothing leaked.
type CheckedProvider struct {
	inner Provider

	mutex       sync.Mutex
	mappedBytes int
	regions     map[uintptr]*mappedRegion
}

type mappedRegion struct {
	pc   uintptr
	line int
	size int
}

var _ Provider = &CheckedProvider{}

func NewCheckedProvider(inner Provider) *CheckedProvider {
	return &CheckedProvider{
		inner:   inner,
		regions: make(map[uintptr]*mappedRegion),
	}
}

// mapFrames skips CheckedProvider.Map and the block list that calls it
const mapFrames = 3

func (p *CheckedProvider) Map(size int) ([]byte, error) {
	region, err := p.inner.Map(size)
	if err != nil {
		return nil, err
	}

	info := &mappedRegion{size: size}
	if pc, _, line, ok := runtime.Caller(mapFrames); ok {
		info.pc = pc
		info.line = line
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.regions[RegionAddress(region)] = info
	p.mappedBytes += size
	return region, nil
}

func (p *CheckedProvider) Unmap(region []byte) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	address := RegionAddress(region)
	info, ok := p.regions[address]
	if !ok {
		return errors.Newf("attempted to unmap region at %#x, which is not mapped", address)
	}
	if info.size != len(region) {
		return errors.Newf("attempted to unmap %d bytes at %#x, but %d bytes were mapped", len(region), address, info.size)
	}

	err := p.inner.Unmap(region)
	if err != nil {
		return err
	}

	delete(p.regions, address)
	p.mappedBytes -= info.size
	return nil
}

// MappedBytes returns the number of bytes currently mapped through this provider
func (p *CheckedProvider) MappedBytes() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	return p.mappedBytes
}

// RegionCount returns the number of regions currently mapped through this provider
func (p *CheckedProvider) RegionCount() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	return len(p.regions)
}

type TestingT interface {
	Errorf(format string, args ...interface{})
	Helper()
}

// AssertSize reports every region that is still mapped and fails if the outstanding byte count is not size
func (p *CheckedProvider) AssertSize(t TestingT, size int) {
	t.Helper()

	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.mappedBytes == size {
		return
	}

	for address, info := range p.regions {
		name := "unknown"
		if f := runtime.FuncForPC(info.pc); f != nil {
			name = f.Name()
		}
		t.Errorf("LEAK of %d bytes at %#x FROM %s line %d", info.size, address, name, info.line)
	}

	t.Errorf("invalid mapped size exp=%d, got=%d", size, p.mappedBytes)
}
