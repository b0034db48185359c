package metadata

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/mems/memutils"
)

// BlockMetadata represents the partition of a single block of mapped memory into segments. It
// manages allocations within the block, allowing them to be requested and freed, as well as
// enumerated and queried. Every segment is either a PROCESS segment (allocated) or a HOLE
// segment (free), and together the segments cover the block exactly.
type BlockMetadata interface {
	// Init must be called before the BlockMetadata is used. It sizes the block in bytes and
	// leaves it as a single hole.
	Init(size int)
	// Size retrieves the size in bytes that the block was initialized with
	Size() int
	// PageSize retrieves the granularity every segment size is a multiple of
	PageSize() int

	// Validate performs internal consistency checks on the metadata. When the implementation is
	// functioning correctly, it should not be possible for this method to return an error.
	Validate() error
	// AllocationCount returns the number of PROCESS segments in the block
	AllocationCount() int
	// FreeRegionsCount returns the number of HOLE segments in the block. Adjacent holes are always
	// merged, so this is also the number of distinct free regions.
	FreeRegionsCount() int
	// SumFreeSize returns the number of free bytes of memory in the block.
	SumFreeSize() int
	// SegmentCount returns the total number of segments, allocated and free
	SegmentCount() int
	// MayHaveFreeBlock is a fast heuristic indicating whether the block could possibly support an
	// allocation of the provided size. It never produces false negatives.
	MayHaveFreeBlock(size int) bool
	// IsEmpty will return true if this block has no PROCESS segments
	IsEmpty() bool

	// VisitAllRegions will call the provided callback once for each segment in the block,
	// in address order. Iteration stops at the first error returned by the callback.
	VisitAllRegions(handleSegment func(segment Segment) error) error
	// FindSegment returns the segment that begins at exactly offset, if any
	FindSegment(offset int) (Segment, bool)

	// AddDetailedStatistics sums this block's allocation statistics into the statistics currently present
	// in the provided memutils.DetailedStatistics object.
	AddDetailedStatistics(stats *memutils.DetailedStatistics)
	// AddStatistics sums this block's allocation statistics into the statistics currently present in the
	// provided memutils.Statistics object.
	AddStatistics(stats *memutils.Statistics)
	// BlockJsonData populates a json object with information about this block
	BlockJsonData(json jwriter.ObjectState)

	// CreateAllocationRequest locates the first hole, in address order, that can hold allocSize
	// bytes. allocSize must already be a multiple of PageSize. The returned request can be passed
	// to Alloc to commit the allocation.
	CreateAllocationRequest(allocSize int) (bool, AllocationRequest, error)
	// Alloc commits an AllocationRequest object, creating the PROCESS segment it describes. The
	// implementation must return an error if the request no longer matches a suitable hole.
	Alloc(request AllocationRequest) error
	// Free converts the PROCESS segment beginning at offset into a hole and merges it with
	// neighboring holes. It returns an error wrapping memutils.ErrInvalidAddress if no PROCESS
	// segment begins at offset.
	Free(offset int) (Segment, error)
}

// BlockMetadataBase is a simple struct that provides a few shared utilities for BlockMetadata
// implementations.
type BlockMetadataBase struct {
	size     int
	pageSize int
}

// NewBlockMetadata creates a new BlockMetadataBase for blocks carved into pageSize-granular segments
func NewBlockMetadata(pageSize int) BlockMetadataBase {
	memutils.DebugCheckPow2(pageSize, "pageSize")

	return BlockMetadataBase{
		size:     0,
		pageSize: pageSize,
	}
}

// Init prepares this structure for allocations and sizes the block in bytes based on the parameter size.
func (m *BlockMetadataBase) Init(size int) {
	m.size = size
}

// Size returns the size of the block in bytes
func (m *BlockMetadataBase) Size() int { return m.size }

// PageSize returns the granularity of the block's segments
func (m *BlockMetadataBase) PageSize() int { return m.pageSize }

func (m *BlockMetadataBase) blockJsonData(json jwriter.ObjectState, unusedBytes, allocationCount, unusedRangeCount int) {
	json.Name("TotalBytes").Int(m.Size())
	json.Name("UnusedBytes").Int(unusedBytes)
	json.Name("Allocations").Int(allocationCount)
	json.Name("UnusedRanges").Int(unusedRangeCount)
}
