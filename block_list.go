package mems

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/mems/memutils"
	"github.com/vkngwrapper/mems/memutils/metadata"
	"github.com/vkngwrapper/mems/provider"
)

// memoryBlockList is the main chain: every block the allocator has mapped, in creation order.
// Blocks are placed at the cursor, which only ever moves forward, so creation order is also
// virtual address order and block ranges never overlap.
type memoryBlockList struct {
	logger    *slog.Logger
	provider  provider.Provider
	callbacks *memoryCallbacks

	pageSize            int
	startAddress        Address
	corruptionDetection bool

	cursor      Address
	blocks      []*memoryBlock
	nextBlockId int
}

func (l *memoryBlockList) PageSize() int         { return l.pageSize }
func (l *memoryBlockList) Cursor() Address       { return l.cursor }
func (l *memoryBlockList) BlockCount() int       { return len(l.blocks) }
func (l *memoryBlockList) IsEmpty() bool         { return len(l.blocks) == 0 }
func (l *memoryBlockList) StartAddress() Address { return l.startAddress }

func (l *memoryBlockList) Init(
	logger *slog.Logger,
	memoryProvider provider.Provider,
	callbacks *memoryCallbacks,
	pageSize int,
	startAddress Address,
	corruptionDetection bool,
) {
	l.logger = logger
	l.provider = memoryProvider
	l.callbacks = callbacks
	l.pageSize = pageSize
	l.startAddress = startAddress
	l.corruptionDetection = corruptionDetection
	l.Reset()
}

// Reset empties the chain and rewinds the cursor. Blocks still in the chain are dropped
// without being unmapped.
func (l *memoryBlockList) Reset() {
	l.blocks = nil
	l.cursor = l.startAddress
	l.nextBlockId = 0
}

func (l *memoryBlockList) Destroy() error {
	var combined error
	for _, block := range l.blocks {
		err := block.Destroy(l.provider, l.callbacks)
		if err != nil {
			l.logger.LogAttrs(context.Background(), slog.LevelError, "failed to release memory block",
				slog.Int("block.id", block.id),
				slog.Any("error", err))
			combined = errors.CombineErrors(combined, err)
		}
	}

	l.blocks = nil
	return combined
}

// CreateBlock maps a new region of blockSize bytes and appends it to the chain at the cursor.
// Nothing is changed if the provider fails.
func (l *memoryBlockList) CreateBlock(blockSize int) (*memoryBlock, error) {
	region, err := l.provider.Map(blockSize)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "failed to map a block of %d bytes", blockSize), memutils.ErrOutOfMemory)
	}

	if len(region) != blockSize {
		unmapErr := l.provider.Unmap(region)
		return nil, errors.CombineErrors(
			errors.Newf("memory provider returned %d bytes when %d were requested", len(region), blockSize),
			unmapErr,
		)
	}

	block := &memoryBlock{}
	block.Init(l.logger, l.nextBlockId, l.cursor, region, l.pageSize)
	l.nextBlockId++

	l.blocks = append(l.blocks, block)
	l.cursor = l.cursor.Add(blockSize)

	l.callbacks.Map(block.PhysicalBase(), blockSize)
	l.logger.LogAttrs(context.Background(), slog.LevelDebug, "    Created new block",
		slog.Int("block.id", block.id),
		slog.String("virtualBase", block.virtualBase.String()),
		slog.Int("size", blockSize))

	return block, nil
}

// Allocate finds the first hole, in chain order and then address order, that can hold size bytes
// and claims it. If no hole is large enough a new block of exactly size bytes is created.
func (l *memoryBlockList) Allocate(size int) (*memoryBlock, Address, error) {
	if size%l.pageSize != 0 {
		panic(fmt.Sprintf("allocation size %d is not a multiple of the page size %d", size, l.pageSize))
	}

	// 1. Search existing blocks
	for blockIndex := 0; blockIndex < len(l.blocks); blockIndex++ {
		currentBlock := l.blocks[blockIndex]
		if currentBlock == nil {
			panic(fmt.Sprintf("a memory block at index %d is unexpectedly nil", blockIndex))
		}

		vaddr, found, err := l.allocFromBlock(currentBlock, size, l.corruptionDetection)
		if err != nil {
			return nil, NullAddress, err
		} else if found {
			l.logger.LogAttrs(context.Background(), slog.LevelDebug, "    Returned from existing block", slog.Int("block.id", currentBlock.id))
			return currentBlock, vaddr, nil
		}
	}

	// 2. Map a new block
	block, err := l.CreateBlock(size)
	if err != nil {
		return nil, NullAddress, err
	}

	vaddr, found, err := l.allocFromBlock(block, size, false)
	if err != nil {
		return nil, NullAddress, err
	} else if !found {
		panic(fmt.Sprintf("a freshly created block of %d bytes could not hold an allocation of %d bytes", block.Size(), size))
	}

	return block, vaddr, nil
}

// allocFromBlock claims the first suitable hole in block. When checkHole is set the hole must
// still carry the marker it was poisoned with when it was freed.
func (l *memoryBlockList) allocFromBlock(block *memoryBlock, size int, checkHole bool) (Address, bool, error) {
	success, request, err := block.metadata.CreateAllocationRequest(size)
	if err != nil || !success {
		return NullAddress, false, err
	}

	if checkHole {
		err = block.CheckSegment(request.Offset, request.Size)
		if err != nil {
			return NullAddress, false, err
		}
	}

	err = block.metadata.Alloc(request)
	if err != nil {
		return NullAddress, false, err
	}

	return block.virtualBase.Add(request.Offset), true, nil
}

// FindBlock returns the block whose virtual range contains vaddr
func (l *memoryBlockList) FindBlock(vaddr Address) (*memoryBlock, bool) {
	// Index of the first block that starts after vaddr, the block before it is the only candidate
	index := sort.Search(len(l.blocks), func(i int) bool {
		return l.blocks[i].virtualBase > vaddr
	})
	if index == 0 {
		return nil, false
	}

	block := l.blocks[index-1]
	if !block.Contains(vaddr) {
		return nil, false
	}

	return block, true
}

// Free releases the PROCESS segment that begins at vaddr inside block
func (l *memoryBlockList) Free(block *memoryBlock, vaddr Address) (metadata.Segment, error) {
	if !block.Contains(vaddr) {
		return metadata.Segment{}, errors.Wrapf(memutils.ErrInvalidAddress, "%s is outside block %d", vaddr, block.id)
	}

	offset := block.offsetOf(vaddr)
	segment, found := block.metadata.FindSegment(offset)
	if !found {
		return metadata.Segment{}, errors.Wrapf(memutils.ErrInvalidAddress, "no segment begins at %s", vaddr)
	}

	_, err := block.metadata.Free(offset)
	if err != nil {
		return metadata.Segment{}, err
	}

	if l.corruptionDetection {
		block.PoisonSegment(segment)
	}

	return segment, nil
}

func (l *memoryBlockList) AddStatistics(stats *memutils.Statistics) {
	for blockIndex := 0; blockIndex < len(l.blocks); blockIndex++ {
		block := l.blocks[blockIndex]
		if block == nil {
			panic(fmt.Sprintf("failed to take statistics of nil block at index %d", blockIndex))
		}
		block.metadata.AddStatistics(stats)
	}
}

func (l *memoryBlockList) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	for blockIndex := 0; blockIndex < len(l.blocks); blockIndex++ {
		block := l.blocks[blockIndex]
		if block == nil {
			panic(fmt.Sprintf("failed to take statistics of nil block at index %d", blockIndex))
		}
		block.metadata.AddDetailedStatistics(stats)
	}
}

func (l *memoryBlockList) Validate() error {
	expectedBase := l.startAddress
	for blockIndex, block := range l.blocks {
		if block == nil {
			return errors.Newf("unexpected nil block at index %d", blockIndex)
		}

		// Blocks are laid out back to back from the start address in creation order
		if block.virtualBase != expectedBase {
			return errors.Newf("block %d at index %d starts at %s, expected %s", block.id, blockIndex, block.virtualBase, expectedBase)
		}
		expectedBase = block.VirtualEnd()
	}

	if expectedBase != l.cursor {
		return errors.Newf("the last block ends at %s, but the cursor is at %s", expectedBase, l.cursor)
	}

	return memutils.ValidateEach(l.blocks)
}

func (l *memoryBlockList) CheckCorruption() error {
	for blockIndex := 0; blockIndex < len(l.blocks); blockIndex++ {
		err := l.blocks[blockIndex].CheckCorruption()
		if err != nil {
			return err
		}
	}

	return nil
}

func (l *memoryBlockList) PrintDetailedMap(json jwriter.ObjectState) {
	for i := 0; i < len(l.blocks); i++ {
		block := l.blocks[i]

		blockObj := json.Name(strconv.Itoa(block.id)).Object()

		blockObj.Name("VirtualBase").String(block.virtualBase.String())
		blockObj.Name("PhysicalBase").String(block.PhysicalBase().String())
		block.metadata.BlockJsonData(blockObj)

		l.printDetailedMapSegments(block, blockObj)

		blockObj.End()
	}
}

func (l *memoryBlockList) printDetailedMapSegments(block *memoryBlock, json jwriter.ObjectState) {
	arrayState := json.Name("Segments").Array()
	defer arrayState.End()

	_ = block.metadata.VisitAllRegions(func(segment metadata.Segment) error {
		obj := arrayState.Object()
		defer obj.End()

		obj.Name("Offset").Int(segment.Offset)
		obj.Name("VirtualStart").String(block.virtualBase.Add(segment.Offset).String())
		obj.Name("Type").String(segment.Kind.String())
		obj.Name("Size").Int(segment.Size)

		return nil
	})
}
