//go:build unix

package provider_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/mems/provider"
)

func TestMmapProviderReadWrite(t *testing.T) {
	p := provider.NewMmapProvider()

	region, err := p.Map(2 * 4096)
	require.NoError(t, err)
	require.Len(t, region, 2*4096)

	require.Equal(t, make([]byte, 2*4096), region)

	region[0] = 0xde
	region[len(region)-1] = 0xad
	require.Equal(t, byte(0xde), region[0])
	require.Equal(t, byte(0xad), region[len(region)-1])

	require.Zero(t, provider.RegionAddress(region)%4096)
	require.NoError(t, p.Unmap(region))
}
