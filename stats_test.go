package mems

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/mems/memutils"
)

func TestPrintStats(t *testing.T) {
	_, allocator := checkedAllocator(t, 0)

	p1 := mustMalloc(t, allocator, 100)
	mustMalloc(t, allocator, 100)
	allocator.Free(p1)

	var out strings.Builder
	require.NoError(t, allocator.PrintStats(&out))
	require.Equal(t, `MeMS System Statistics
Pages used:    2
Space used:    4.0 KiB
Space unused:  4.0 KiB
Main chain length: 2
MAIN[0x10000000:0x10000fff]-> H[0x10000000:0x10000fff] <-> NULL
MAIN[0x10001000:0x10001fff]-> P[0x10001000:0x10001fff] <-> NULL
Sub-chain length array: [1, 1]
`, out.String())

	require.NoError(t, allocator.Finish())
}

func TestPrintStatsEmpty(t *testing.T) {
	_, allocator := checkedAllocator(t, 0)

	var out strings.Builder
	require.NoError(t, allocator.PrintStats(&out))
	require.Equal(t, `MeMS System Statistics
Pages used:    0
Space used:    0 B
Space unused:  0 B
Main chain length: 0
Sub-chain length array: []
`, out.String())

	require.NoError(t, allocator.Finish())
}

func TestStatsDoesNotModify(t *testing.T) {
	_, allocator := checkedAllocator(t, 0)

	a := mustMalloc(t, allocator, 3*testPageSize)
	allocator.Free(a)
	mustMalloc(t, allocator, testPageSize)

	first := allocator.Stats()
	second := allocator.Stats()
	require.Equal(t, first, second)
	require.Equal(t, 3, first.MappedPages)
	require.Equal(t, testPageSize, first.UsedBytes)
	require.Equal(t, 2*testPageSize, first.FreeBytes)
	require.Len(t, first.Blocks[0].Segments, 2)

	var stats memutils.Statistics
	allocator.AddStatistics(&stats)
	require.Equal(t, memutils.Statistics{
		BlockCount:      1,
		AllocationCount: 1,
		BlockBytes:      3 * testPageSize,
		AllocationBytes: testPageSize,
	}, stats)

	require.NoError(t, allocator.Finish())
}

func TestBuildStatsString(t *testing.T) {
	_, allocator := checkedAllocator(t, CreateCorruptionDetection)

	a := mustMalloc(t, allocator, 2*testPageSize)
	allocator.Free(a)
	mustMalloc(t, allocator, testPageSize)
	mustMalloc(t, allocator, 2*testPageSize)

	type segmentJson struct {
		Offset       int
		VirtualStart string
		Type         string
		Size         int
	}
	type blockJson struct {
		VirtualBase  string
		PhysicalBase string
		TotalBytes   int
		UnusedBytes  int
		Allocations  int
		UnusedRanges int
		Segments     []segmentJson
	}
	type statsJson struct {
		General string
		Config  struct {
			PageSize     int
			StartAddress string
			Cursor       string
			Flags        string
		}
		Total struct {
			BlockCount       int
			BlockBytes       int
			AllocationCount  int
			AllocationBytes  int
			UnusedRangeCount int
		}
		Blocks map[string]blockJson
	}

	var brief statsJson
	require.NoError(t, json.Unmarshal([]byte(allocator.BuildStatsString(false)), &brief))
	require.Equal(t, "MeMS", brief.General)
	require.Equal(t, testPageSize, brief.Config.PageSize)
	require.Equal(t, "0x10000000", brief.Config.StartAddress)
	require.Equal(t, "0x10004000", brief.Config.Cursor)
	require.Equal(t, "CreateCorruptionDetection", brief.Config.Flags)
	require.Equal(t, 2, brief.Total.BlockCount)
	require.Equal(t, 4*testPageSize, brief.Total.BlockBytes)
	require.Equal(t, 2, brief.Total.AllocationCount)
	require.Equal(t, 3*testPageSize, brief.Total.AllocationBytes)
	require.Equal(t, 1, brief.Total.UnusedRangeCount)
	require.Nil(t, brief.Blocks)

	var detailed statsJson
	require.NoError(t, json.Unmarshal([]byte(allocator.BuildStatsString(true)), &detailed))
	require.Len(t, detailed.Blocks, 2)

	first := detailed.Blocks["0"]
	require.Equal(t, "0x10000000", first.VirtualBase)
	require.Equal(t, 2*testPageSize, first.TotalBytes)
	require.Equal(t, testPageSize, first.UnusedBytes)
	require.Equal(t, 1, first.Allocations)
	require.Equal(t, 1, first.UnusedRanges)
	require.Equal(t, []segmentJson{
		{Offset: 0, VirtualStart: "0x10000000", Type: "PROCESS", Size: testPageSize},
		{Offset: testPageSize, VirtualStart: "0x10001000", Type: "HOLE", Size: testPageSize},
	}, first.Segments)

	second := detailed.Blocks["1"]
	require.Equal(t, "0x10002000", second.VirtualBase)
	require.Equal(t, []segmentJson{
		{Offset: 0, VirtualStart: "0x10002000", Type: "PROCESS", Size: 2 * testPageSize},
	}, second.Segments)

	require.NoError(t, allocator.Finish())
}
