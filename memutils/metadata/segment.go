package metadata

// SegmentKind tags a Segment as either handed out to a caller or available for reuse
type SegmentKind uint32

const (
	// SegmentHole marks a segment that is free and may satisfy a future allocation
	SegmentHole SegmentKind = iota
	// SegmentProcess marks a segment that is currently allocated
	SegmentProcess
)

var segmentKindMapping = map[SegmentKind]string{
	SegmentHole:    "HOLE",
	SegmentProcess: "PROCESS",
}

func (k SegmentKind) String() string {
	return segmentKindMapping[k]
}

// Segment is a contiguous span of a block. Offset is measured in bytes from the start of the
// block, so the segment's virtual start is the block's virtual base plus Offset.
type Segment struct {
	Offset int
	Size   int
	Kind   SegmentKind
}

// End returns the offset of the first byte after the segment
func (s Segment) End() int {
	return s.Offset + s.Size
}

func (s Segment) IsFree() bool {
	return s.Kind == SegmentHole
}
