package mems

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/mems/internal/utils"
	"github.com/vkngwrapper/mems/memutils"
	"github.com/vkngwrapper/mems/memutils/metadata"
)

// Allocator owns a private virtual address space and the host memory backing it. Memory is
// handed out in whole pages from a chain of blocks, each block obtained from the memory provider
// in one piece and sub-divided into PROCESS and HOLE segments.
type Allocator struct {
	mutex       utils.OptionalRWMutex
	logger      *slog.Logger
	createFlags CreateFlags
	pageSize    int
	finished    bool

	callbacks memoryCallbacks
	blockList memoryBlockList

	// Virtual start of every live allocation, pointing at the block that owns it
	allocations *swiss.Map[Address, *memoryBlock]
}

func (a *Allocator) checkNotFinished(operation string) {
	if a.finished {
		panic(fmt.Sprintf("attempted to call %s on an allocator that has been finished", operation))
	}
}

// PageSize returns the granularity of every block and every allocation
func (a *Allocator) PageSize() int { return a.pageSize }

// Init prepares the allocator for use: the block chain is emptied and the next block will be
// placed at the start address. It is safe to call repeatedly, and it is how a finished allocator
// is brought back into service. Init refuses with memutils.ErrAllocatorInUse while any block is
// still mapped.
func (a *Allocator) Init() error {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if !a.blockList.IsEmpty() {
		return errors.Wrapf(memutils.ErrAllocatorInUse, "%d blocks are still mapped, call Finish first", a.blockList.BlockCount())
	}

	a.blockList.Reset()
	a.allocations = swiss.NewMap[Address, *memoryBlock](42)
	a.finished = false

	return nil
}

// Malloc reserves at least size bytes and returns the virtual address of the reservation. The size
// is rounded up to a whole number of pages. The first hole large enough to hold the request is
// used; if there is none, a new block is mapped from the memory provider.
//
// On failure NullAddress is returned along with an error: memutils.ErrInvalidSize for a size
// that is not positive, memutils.ErrOutOfMemory when the provider could not map a new block.
func (a *Allocator) Malloc(size int) (Address, error) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	a.checkNotFinished("Malloc")

	if size <= 0 {
		return NullAddress, errors.Wrapf(memutils.ErrInvalidSize, "requested %d bytes", size)
	}
	if size > math.MaxInt-a.pageSize {
		return NullAddress, errors.Wrapf(memutils.ErrOutOfMemory, "requested %d bytes, which cannot be rounded to a page boundary", size)
	}

	allocSize := memutils.AlignUp(size, a.pageSize)

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "Allocator::Malloc",
		slog.Int("size", size),
		slog.Int("allocSize", allocSize))

	block, vaddr, err := a.blockList.Allocate(allocSize)
	if err != nil {
		return NullAddress, err
	}

	a.allocations.Put(vaddr, block)
	memutils.DebugValidate(&a.blockList)

	return vaddr, nil
}

// Free releases the allocation beginning at vaddr. Its segment becomes a hole and is merged with
// any neighboring holes in the same block. The memory stays mapped and will be reused by later
// calls to Malloc.
//
// Addresses that are not the start of a live allocation are ignored: that includes addresses
// inside an allocation, addresses that were already freed, and addresses that were never handed
// out.
func (a *Allocator) Free(vaddr Address) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	a.checkNotFinished("Free")

	block, ok := a.allocations.Get(vaddr)
	if !ok {
		a.logger.LogAttrs(context.Background(), slog.LevelDebug, "Allocator::Free ignored an address that is not a live allocation",
			slog.String("address", vaddr.String()))
		return
	}

	segment, err := a.blockList.Free(block, vaddr)
	if err != nil {
		a.logger.LogAttrs(context.Background(), slog.LevelDebug, "Allocator::Free ignored an address that could not be released",
			slog.String("address", vaddr.String()),
			slog.Any("error", err))
		return
	}

	a.allocations.Delete(vaddr)
	memutils.DebugValidate(&a.blockList)

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "Allocator::Free",
		slog.String("address", vaddr.String()),
		slog.Int("block.id", block.id),
		slog.Int("size", segment.Size))
}

// Get translates a virtual address to the host address that backs it. Any address inside a
// mapped block translates, whether or not it currently belongs to an allocation. Addresses
// outside every block return NullAddress and memutils.ErrInvalidAddress.
func (a *Allocator) Get(vaddr Address) (Address, error) {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	a.checkNotFinished("Get")

	block, found := a.blockList.FindBlock(vaddr)
	if !found {
		return NullAddress, errors.Wrapf(memutils.ErrInvalidAddress, "%s is not inside a mapped block", vaddr)
	}

	return block.Translate(vaddr), nil
}

// Bytes returns the host memory backing the length bytes starting at vaddr. The whole range must
// lie inside a single block. The slice stays valid until Finish is called.
func (a *Allocator) Bytes(vaddr Address, length int) ([]byte, error) {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	a.checkNotFinished("Bytes")

	if length < 0 {
		return nil, errors.Wrapf(memutils.ErrInvalidSize, "requested %d bytes", length)
	}

	block, found := a.blockList.FindBlock(vaddr)
	if !found {
		return nil, errors.Wrapf(memutils.ErrInvalidAddress, "%s is not inside a mapped block", vaddr)
	}

	offset := block.offsetOf(vaddr)
	if length > block.Size()-offset {
		return nil, errors.Wrapf(memutils.ErrInvalidAddress, "%d bytes at %s run past the end of block %d at %s", length, vaddr, block.id, block.VirtualEnd())
	}

	return block.bytes(offset, length), nil
}

// Finish returns every block to the memory provider. Allocations that were never freed are
// logged and released along with their blocks. If any block fails to unmap, the remaining blocks
// are still attempted and the failures are returned together.
//
// The allocator cannot be used again until Init is called. Calling Finish twice panics.
func (a *Allocator) Finish() error {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	a.checkNotFinished("Finish")

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "Allocator::Finish",
		slog.Int("blockCount", a.blockList.BlockCount()),
		slog.Int("allocationCount", a.allocations.Count()))

	err := a.blockList.Destroy()
	a.blockList.Reset()
	a.allocations = swiss.NewMap[Address, *memoryBlock](42)
	a.finished = true

	return err
}

// Validate checks every internal invariant of the allocator: blocks are laid out back to back
// from the start address, each block's segments tile it exactly with no adjacent holes, and every
// live allocation is a PROCESS segment in the block recorded for it.
func (a *Allocator) Validate() error {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	a.checkNotFinished("Validate")

	err := a.blockList.Validate()
	if err != nil {
		return err
	}

	var stats memutils.Statistics
	a.blockList.AddStatistics(&stats)
	if stats.AllocationCount != a.allocations.Count() {
		return errors.Newf("blocks contain %d allocations, but %d are live", stats.AllocationCount, a.allocations.Count())
	}

	a.allocations.Iter(func(vaddr Address, block *memoryBlock) (stop bool) {
		if !block.Contains(vaddr) {
			err = errors.Newf("allocation %s is recorded against block %d, which does not contain it", vaddr, block.id)
			return true
		}

		segment, found := block.metadata.FindSegment(block.offsetOf(vaddr))
		if !found || segment.Kind != metadata.SegmentProcess {
			err = errors.Newf("allocation %s does not begin a PROCESS segment in block %d", vaddr, block.id)
			return true
		}

		return false
	})

	return err
}

// CheckCorruption verifies that no freed memory has been written to since it was freed. It is
// only available when the allocator was created with CreateCorruptionDetection.
func (a *Allocator) CheckCorruption() error {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	a.checkNotFinished("CheckCorruption")

	if a.createFlags&CreateCorruptionDetection == 0 {
		return errors.New("corruption detection was not enabled when this allocator was created")
	}

	return a.blockList.CheckCorruption()
}

// AllocationCount returns the number of live allocations
func (a *Allocator) AllocationCount() int {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	return a.allocations.Count()
}

// BlockCount returns the number of blocks currently mapped
func (a *Allocator) BlockCount() int {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	return a.blockList.BlockCount()
}
