package metadata

// AllocationRequestType is an enum that indicates how an AllocationRequest will change the
// segment it targets. It is returned in AllocationRequest from CreateAllocationRequest
type AllocationRequestType uint32

const (
	// AllocationRequestExact indicates that the target hole is exactly the requested size and will
	// be converted to a PROCESS segment in place
	AllocationRequestExact AllocationRequestType = iota
	// AllocationRequestSplit indicates that the target hole is larger than the requested size and will
	// be split into a leading PROCESS segment and a trailing HOLE segment
	AllocationRequestSplit
)

var allocationRequestMapping = map[AllocationRequestType]string{
	AllocationRequestExact: "Exact",
	AllocationRequestSplit: "Split",
}

func (t AllocationRequestType) String() string {
	return allocationRequestMapping[t]
}

// AllocationRequest is a type returned from BlockMetadata.CreateAllocationRequest which indicates where and how
// the metadata intends to allocate new memory. It can be committed to the metadata with BlockMetadata.Alloc
// as long as the metadata has not been modified in the meantime.
type AllocationRequest struct {
	// SegmentIndex is the position of the target hole in the block's segment list
	SegmentIndex int
	// Offset is the offset in bytes of the new allocation within the block
	Offset int
	// Size is the total size of the allocation, already rounded to the block's page size
	Size int
	// Type identifies whether the target hole is consumed whole or split
	Type AllocationRequestType
}
