package metadata

import (
	"sort"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/pkg/errors"
	"github.com/vkngwrapper/mems/memutils"
	"golang.org/x/exp/slices"
)

// FirstFitBlockMetadata is a BlockMetadata implementation that keeps the block's segments in a
// single vector sorted by offset. Allocations take the first hole large enough to hold them,
// splitting it when it is larger than needed, and frees merge the released segment with any
// neighboring holes. Segments are only ever addressed by index, so splitting and merging are
// vector splices.
type FirstFitBlockMetadata struct {
	BlockMetadataBase

	segments        []Segment
	sumFreeSize     int
	allocationCount int
}

var _ BlockMetadata = &FirstFitBlockMetadata{}

// NewFirstFitBlockMetadata creates a new FirstFitBlockMetadata whose segment sizes are always
// a multiple of pageSize
func NewFirstFitBlockMetadata(pageSize int) *FirstFitBlockMetadata {
	return &FirstFitBlockMetadata{
		BlockMetadataBase: NewBlockMetadata(pageSize),
	}
}

// Init prepares this structure for allocations and sizes the block in bytes based on the parameter size.
// The whole block starts out as one hole.
func (m *FirstFitBlockMetadata) Init(size int) {
	m.BlockMetadataBase.Init(size)
	m.segments = []Segment{{Offset: 0, Size: size, Kind: SegmentHole}}
	m.sumFreeSize = size
	m.allocationCount = 0
}

func (m *FirstFitBlockMetadata) AllocationCount() int { return m.allocationCount }

func (m *FirstFitBlockMetadata) FreeRegionsCount() int {
	return len(m.segments) - m.allocationCount
}

func (m *FirstFitBlockMetadata) SumFreeSize() int { return m.sumFreeSize }

func (m *FirstFitBlockMetadata) SegmentCount() int { return len(m.segments) }

func (m *FirstFitBlockMetadata) IsEmpty() bool { return m.allocationCount == 0 }

// MayHaveFreeBlock returns false only when the block has fewer free bytes than size, in which
// case no hole can possibly hold it.
func (m *FirstFitBlockMetadata) MayHaveFreeBlock(size int) bool {
	return m.sumFreeSize >= size
}

// Validate performs internal consistency checks on the metadata: segments must be nonempty,
// page-granular, contiguous and cover the block exactly, no two holes may be adjacent, and the
// cached counters must match the segment vector.
func (m *FirstFitBlockMetadata) Validate() error {
	if len(m.segments) == 0 {
		return errors.New("block metadata has no segments")
	}

	var offset, freeSize, allocCount int
	for index, segment := range m.segments {
		if segment.Size <= 0 {
			return errors.Errorf("segment at index %d has non-positive size %d", index, segment.Size)
		}

		if segment.Size%m.PageSize() != 0 {
			return errors.Errorf("segment at index %d has size %d, which is not a multiple of the page size %d", index, segment.Size, m.PageSize())
		}

		if segment.Offset != offset {
			return errors.Errorf("segment at index %d has offset %d, but the previous segment ended at %d", index, segment.Offset, offset)
		}

		if segment.IsFree() {
			if index > 0 && m.segments[index-1].IsFree() {
				return errors.Errorf("segments at index %d and %d are both holes and should have been merged", index-1, index)
			}
			freeSize += segment.Size
		} else if segment.Kind == SegmentProcess {
			allocCount++
		} else {
			return errors.Errorf("segment at index %d has unknown kind %d", index, segment.Kind)
		}

		offset = segment.End()
	}

	if offset != m.Size() {
		return errors.Errorf("segments cover %d bytes, but the block is %d bytes", offset, m.Size())
	}

	if freeSize != m.sumFreeSize {
		return errors.Errorf("counted %d free bytes, but metadata indicates we should have %d", freeSize, m.sumFreeSize)
	}

	if allocCount != m.allocationCount {
		return errors.Errorf("counted %d allocations, but metadata indicates we should have %d", allocCount, m.allocationCount)
	}

	return nil
}

// VisitAllRegions will call the provided callback once for each segment in the block, in address order.
func (m *FirstFitBlockMetadata) VisitAllRegions(handleSegment func(segment Segment) error) error {
	for _, segment := range m.segments {
		err := handleSegment(segment)
		if err != nil {
			return err
		}
	}

	return nil
}

func (m *FirstFitBlockMetadata) findSegmentIndex(offset int) (int, bool) {
	index := sort.Search(len(m.segments), func(i int) bool {
		return m.segments[i].Offset >= offset
	})

	if index < len(m.segments) && m.segments[index].Offset == offset {
		return index, true
	}

	return -1, false
}

// FindSegment returns the segment that begins at exactly offset, if any
func (m *FirstFitBlockMetadata) FindSegment(offset int) (Segment, bool) {
	index, found := m.findSegmentIndex(offset)
	if !found {
		return Segment{}, false
	}

	return m.segments[index], true
}

// AddDetailedStatistics sums this block's allocation statistics into the statistics currently present
// in the provided memutils.DetailedStatistics object.
func (m *FirstFitBlockMetadata) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	stats.BlockCount++
	stats.BlockBytes += m.Size()

	for _, segment := range m.segments {
		if segment.IsFree() {
			stats.AddUnusedRange(segment.Size)
		} else {
			stats.AddAllocation(segment.Size)
		}
	}
}

// AddStatistics sums this block's allocation statistics into the statistics currently present in the
// provided memutils.Statistics object.
func (m *FirstFitBlockMetadata) AddStatistics(stats *memutils.Statistics) {
	stats.BlockCount++
	stats.AllocationCount += m.allocationCount
	stats.BlockBytes += m.Size()
	stats.AllocationBytes += m.Size() - m.sumFreeSize
}

// BlockJsonData populates a json object with information about this block
func (m *FirstFitBlockMetadata) BlockJsonData(json jwriter.ObjectState) {
	m.blockJsonData(json, m.sumFreeSize, m.allocationCount, m.FreeRegionsCount())
}

// CreateAllocationRequest scans the segments in address order and returns a request targeting the
// first hole of at least allocSize bytes. It returns false if no hole is large enough.
func (m *FirstFitBlockMetadata) CreateAllocationRequest(allocSize int) (bool, AllocationRequest, error) {
	if allocSize <= 0 {
		return false, AllocationRequest{}, errors.Wrapf(memutils.ErrInvalidSize, "requested %d bytes", allocSize)
	}

	if allocSize%m.PageSize() != 0 {
		return false, AllocationRequest{}, errors.Errorf("allocation size %d is not a multiple of the page size %d", allocSize, m.PageSize())
	}

	if !m.MayHaveFreeBlock(allocSize) {
		return false, AllocationRequest{}, nil
	}

	for index, segment := range m.segments {
		if !segment.IsFree() || segment.Size < allocSize {
			continue
		}

		request := AllocationRequest{
			SegmentIndex: index,
			Offset:       segment.Offset,
			Size:         allocSize,
			Type:         AllocationRequestSplit,
		}
		if segment.Size == allocSize {
			request.Type = AllocationRequestExact
		}

		return true, request, nil
	}

	return false, AllocationRequest{}, nil
}

// Alloc commits an AllocationRequest produced by CreateAllocationRequest. An exact request converts
// the hole in place; a split request shrinks the hole to the requested size and inserts the remainder
// as a new hole immediately after it.
func (m *FirstFitBlockMetadata) Alloc(request AllocationRequest) error {
	if request.SegmentIndex < 0 || request.SegmentIndex >= len(m.segments) {
		return errors.Errorf("allocation request targets segment %d, but the block only has %d segments", request.SegmentIndex, len(m.segments))
	}

	segment := m.segments[request.SegmentIndex]
	if !segment.IsFree() {
		return errors.Errorf("allocation request targets segment %d, which is no longer a hole", request.SegmentIndex)
	}

	if segment.Offset != request.Offset {
		return errors.Errorf("allocation request expected offset %d, but segment %d is at offset %d", request.Offset, request.SegmentIndex, segment.Offset)
	}

	if segment.Size < request.Size {
		return errors.Errorf("allocation request needs %d bytes, but segment %d only has %d", request.Size, request.SegmentIndex, segment.Size)
	}

	switch request.Type {
	case AllocationRequestExact:
		if segment.Size != request.Size {
			return errors.Errorf("exact allocation request for %d bytes targets a hole of %d bytes", request.Size, segment.Size)
		}
		m.segments[request.SegmentIndex].Kind = SegmentProcess
	case AllocationRequestSplit:
		if segment.Size == request.Size {
			return errors.Errorf("split allocation request for %d bytes would leave an empty hole", request.Size)
		}

		remainder := Segment{
			Offset: segment.Offset + request.Size,
			Size:   segment.Size - request.Size,
			Kind:   SegmentHole,
		}
		m.segments[request.SegmentIndex] = Segment{
			Offset: segment.Offset,
			Size:   request.Size,
			Kind:   SegmentProcess,
		}
		m.segments = slices.Insert(m.segments, request.SegmentIndex+1, remainder)
	default:
		return errors.Errorf("unknown allocation request type %d", request.Type)
	}

	m.sumFreeSize -= request.Size
	m.allocationCount++
	return nil
}

// Free converts the PROCESS segment beginning at offset into a hole, then merges it with the
// preceding and following segments if they are holes. It returns the resulting hole.
func (m *FirstFitBlockMetadata) Free(offset int) (Segment, error) {
	index, found := m.findSegmentIndex(offset)
	if !found {
		return Segment{}, errors.Wrapf(memutils.ErrInvalidAddress, "no segment begins at offset %d", offset)
	}

	if m.segments[index].IsFree() {
		return Segment{}, errors.Wrapf(memutils.ErrInvalidAddress, "segment at offset %d is already a hole", offset)
	}

	m.segments[index].Kind = SegmentHole
	m.sumFreeSize += m.segments[index].Size
	m.allocationCount--

	// Merge the following hole into this one
	if index+1 < len(m.segments) && m.segments[index+1].IsFree() {
		m.segments[index].Size += m.segments[index+1].Size
		m.segments = slices.Delete(m.segments, index+1, index+2)
	}

	// Merge this hole into the preceding one
	if index > 0 && m.segments[index-1].IsFree() {
		m.segments[index-1].Size += m.segments[index].Size
		m.segments = slices.Delete(m.segments, index, index+1)
		index--
	}

	return m.segments[index], nil
}
