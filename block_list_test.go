package mems

import (
	"io"
	"log/slog"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/mems/memutils"
	"github.com/vkngwrapper/mems/provider"
)

func readyBlockList(t *testing.T, corruptionDetection bool) (*provider.CheckedProvider, *memoryBlockList) {
	checked := provider.NewCheckedProvider(provider.NewHeapProvider())
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	var list memoryBlockList
	list.Init(logger, checked, &memoryCallbacks{}, testPageSize, DefaultStartAddress, corruptionDetection)
	require.NoError(t, list.Validate())

	return checked, &list
}

func TestBlockListFindBlock(t *testing.T) {
	checked, list := readyBlockList(t, false)

	_, found := list.FindBlock(DefaultStartAddress)
	require.False(t, found)

	sizes := []int{testPageSize, 3 * testPageSize, 2 * testPageSize}
	for _, size := range sizes {
		_, _, err := list.Allocate(size)
		require.NoError(t, err)
	}
	require.NoError(t, list.Validate())
	require.Equal(t, DefaultStartAddress+6*testPageSize, list.Cursor())

	base := DefaultStartAddress
	for index, size := range sizes {
		for _, vaddr := range []Address{base, base.Add(size / 2), base.Add(size - 1)} {
			block, found := list.FindBlock(vaddr)
			require.True(t, found)
			require.Equal(t, index, block.ID())
		}
		base = base.Add(size)
	}

	_, found = list.FindBlock(DefaultStartAddress - 1)
	require.False(t, found)
	_, found = list.FindBlock(list.Cursor())
	require.False(t, found)

	require.NoError(t, list.Destroy())
	checked.AssertSize(t, 0)
}

func TestBlockListAllocateRejectsPartialPages(t *testing.T) {
	_, list := readyBlockList(t, false)

	require.Panics(t, func() {
		_, _, _ = list.Allocate(100)
	})
	require.True(t, list.IsEmpty())
}

func TestBlockListFreeUnknownSegment(t *testing.T) {
	checked, list := readyBlockList(t, true)

	block, vaddr, err := list.Allocate(2 * testPageSize)
	require.NoError(t, err)

	_, err = list.Free(block, vaddr.Add(testPageSize))
	require.True(t, errors.Is(err, memutils.ErrInvalidAddress))

	_, err = list.Free(block, block.VirtualEnd())
	require.True(t, errors.Is(err, memutils.ErrInvalidAddress))

	segment, err := list.Free(block, vaddr)
	require.NoError(t, err)
	require.Equal(t, 2*testPageSize, segment.Size)
	require.NoError(t, list.CheckCorruption())

	_, err = list.Free(block, vaddr)
	require.True(t, errors.Is(err, memutils.ErrInvalidAddress))

	require.NoError(t, list.Validate())
	require.NoError(t, list.Destroy())
	checked.AssertSize(t, 0)
}

func TestBlockListValidateDetectsGaps(t *testing.T) {
	_, list := readyBlockList(t, false)

	_, _, err := list.Allocate(testPageSize)
	require.NoError(t, err)
	_, _, err = list.Allocate(testPageSize)
	require.NoError(t, err)
	require.NoError(t, list.Validate())

	list.blocks[1].virtualBase = list.blocks[1].virtualBase.Add(testPageSize)
	require.Error(t, list.Validate())
	list.blocks[1].virtualBase = list.blocks[0].VirtualEnd()

	list.cursor = list.cursor.Add(testPageSize)
	require.Error(t, list.Validate())
	list.cursor = list.blocks[1].VirtualEnd()

	require.NoError(t, list.Validate())
	require.NoError(t, list.Destroy())
}
