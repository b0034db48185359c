package mems

import (
	"context"
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/mems/memutils"
	"github.com/vkngwrapper/mems/memutils/metadata"
	"github.com/vkngwrapper/mems/provider"
)

// memoryBlock is one region obtained from the memory provider together with the range of
// virtual addresses it backs. Within a block, virtual and physical layouts match byte for byte.
type memoryBlock struct {
	id          int
	virtualBase Address
	physical    []byte
	logger      *slog.Logger

	metadata metadata.BlockMetadata
}

func (b *memoryBlock) Init(
	logger *slog.Logger,
	id int,
	virtualBase Address,
	region []byte,
	pageSize int,
) {
	if b.physical != nil {
		panic("attempting to initialize a memory block that is already in use")
	}

	b.id = id
	b.virtualBase = virtualBase
	b.physical = region
	b.logger = logger

	b.metadata = metadata.NewFirstFitBlockMetadata(pageSize)
	b.metadata.Init(len(region))
}

func (b *memoryBlock) ID() int { return b.id }

func (b *memoryBlock) Size() int { return len(b.physical) }

func (b *memoryBlock) VirtualBase() Address { return b.virtualBase }

// VirtualEnd returns the first virtual address past the end of the block
func (b *memoryBlock) VirtualEnd() Address { return b.virtualBase.Add(b.Size()) }

func (b *memoryBlock) PhysicalBase() Address {
	return Address(provider.RegionAddress(b.physical))
}

func (b *memoryBlock) Contains(vaddr Address) bool {
	return vaddr >= b.virtualBase && vaddr < b.VirtualEnd()
}

func (b *memoryBlock) offsetOf(vaddr Address) int {
	return int(vaddr - b.virtualBase)
}

// Translate maps a virtual address inside the block to the host address backing it
func (b *memoryBlock) Translate(vaddr Address) Address {
	return b.PhysicalBase().Add(b.offsetOf(vaddr))
}

func (b *memoryBlock) bytes(offset, size int) []byte {
	return b.physical[offset : offset+size : offset+size]
}

func (b *memoryBlock) Destroy(memoryProvider provider.Provider, callbacks *memoryCallbacks) error {
	if b.physical == nil {
		panic("attempting to destroy a memory block, but it did not have a backing memory region")
	}

	if !b.metadata.IsEmpty() {
		// Log all remaining allocations, the memory goes back to the provider regardless
		err := b.metadata.VisitAllRegions(func(segment metadata.Segment) error {
			if segment.IsFree() {
				return nil
			}

			b.logUnreleasedMemory(segment)
			return nil
		})
		if err != nil {
			b.logger.LogAttrs(context.Background(),
				slog.LevelError,
				"[UNRELEASED MEMORY] error while iterating unreleased memory",
				slog.Any("error", err))
		}
	}

	size := b.Size()
	callbacks.Unmap(b.PhysicalBase(), size)

	err := memoryProvider.Unmap(b.physical)
	if err != nil {
		return errors.Wrapf(err, "failed to unmap block %d (%d bytes at %s)", b.id, size, b.virtualBase)
	}

	b.physical = nil
	b.metadata = nil
	return nil
}

func (b *memoryBlock) logUnreleasedMemory(segment metadata.Segment) {
	b.logger.LogAttrs(context.Background(), slog.LevelError, "[UNRELEASED MEMORY] unfreed allocation",
		slog.Int("block.id", b.id),
		slog.String("address", b.virtualBase.Add(segment.Offset).String()),
		slog.Int("size", segment.Size),
	)
}

func (b *memoryBlock) Validate() error {
	if b.physical == nil {
		return errors.New("no valid memory for this memory block")
	}
	if b.metadata.Size() != b.Size() {
		return errors.Newf("this memory block is %d bytes, but its metadata has size %d", b.Size(), b.metadata.Size())
	}
	if b.Size()%b.metadata.PageSize() != 0 {
		return errors.Newf("this memory block is %d bytes, which is not a multiple of the page size %d", b.Size(), b.metadata.PageSize())
	}

	return b.metadata.Validate()
}

// PoisonSegment overwrites a freed segment with the corruption detection marker
func (b *memoryBlock) PoisonSegment(segment metadata.Segment) {
	memutils.WriteMagicValue(b.bytes(segment.Offset, segment.Size))
}

// CheckSegment verifies that a hole still carries the marker written by PoisonSegment
func (b *memoryBlock) CheckSegment(offset, size int) error {
	damaged, ok := memutils.ValidateMagicValue(b.bytes(offset, size))
	if !ok {
		return errors.Wrapf(memutils.ErrCorruption, "freed memory at %s was written to after being freed", b.virtualBase.Add(offset+damaged))
	}

	return nil
}

// CheckCorruption verifies the marker across every hole in the block
func (b *memoryBlock) CheckCorruption() error {
	return b.metadata.VisitAllRegions(func(segment metadata.Segment) error {
		if !segment.IsFree() {
			return nil
		}

		return b.CheckSegment(segment.Offset, segment.Size)
	})
}
