package provider_test

import (
	"fmt"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/mems/memutils"
	"github.com/vkngwrapper/mems/provider"
	"github.com/vkngwrapper/mems/provider/mocks"
	"go.uber.org/mock/gomock"
)

func TestHeapProviderZeroed(t *testing.T) {
	p := provider.NewHeapProvider()

	region, err := p.Map(8192)
	require.NoError(t, err)
	require.Len(t, region, 8192)
	require.Equal(t, make([]byte, 8192), region)
	require.NotZero(t, provider.RegionAddress(region))

	require.NoError(t, p.Unmap(region))

	_, err = p.Map(0)
	require.True(t, errors.Is(err, memutils.ErrInvalidSize))
}

func TestBudgetProvider(t *testing.T) {
	p := provider.NewBudgetProvider(provider.NewHeapProvider(), 3*4096)

	first, err := p.Map(2 * 4096)
	require.NoError(t, err)
	require.Equal(t, 2*4096, p.MappedBytes())

	_, err = p.Map(2 * 4096)
	require.True(t, errors.Is(err, memutils.ErrOutOfMemory))
	require.Equal(t, 2*4096, p.MappedBytes())

	second, err := p.Map(4096)
	require.NoError(t, err)
	require.Equal(t, 3*4096, p.MappedBytes())

	require.NoError(t, p.Unmap(first))
	require.NoError(t, p.Unmap(second))
	require.Equal(t, 0, p.MappedBytes())
}

func TestBudgetProviderRollsBackFailedMap(t *testing.T) {
	ctrl := gomock.NewController(t)
	inner := mocks.NewMockProvider(ctrl)
	inner.EXPECT().Map(4096).Return(nil, errors.New("no memory for you"))

	p := provider.NewBudgetProvider(inner, 4096)
	_, err := p.Map(4096)
	require.Error(t, err)
	require.Equal(t, 0, p.MappedBytes())
}

type recordingT struct {
	errors []string
}

func (r *recordingT) Errorf(format string, args ...interface{}) {
	r.errors = append(r.errors, fmt.Sprintf(format, args...))
}

func (r *recordingT) Helper() {}

func TestCheckedProviderTracksRegions(t *testing.T) {
	p := provider.NewCheckedProvider(provider.NewHeapProvider())

	first, err := p.Map(4096)
	require.NoError(t, err)
	second, err := p.Map(8192)
	require.NoError(t, err)

	require.Equal(t, 2, p.RegionCount())
	require.Equal(t, 3*4096, p.MappedBytes())

	var leaked recordingT
	p.AssertSize(&leaked, 0)
	require.Len(t, leaked.errors, 3)

	require.Error(t, p.Unmap(second[:4096]))
	require.Error(t, p.Unmap(make([]byte, 4096)))

	require.NoError(t, p.Unmap(first))
	require.NoError(t, p.Unmap(second))
	p.AssertSize(t, 0)

	require.Error(t, p.Unmap(first))
}
