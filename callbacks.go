package mems

// MapMemoryCallback is called right after the allocator maps a new block of memory
type MapMemoryCallback func(
	allocator *Allocator,
	physicalBase Address,
	size int,
	userData interface{},
)

// UnmapMemoryCallback is called right before the allocator returns a block of memory to the provider
type UnmapMemoryCallback func(
	allocator *Allocator,
	physicalBase Address,
	size int,
	userData interface{},
)

// MemoryCallbackOptions lets the consumer observe every block the allocator maps and unmaps.
// Either callback may be nil.
type MemoryCallbackOptions struct {
	Map      MapMemoryCallback
	Unmap    UnmapMemoryCallback
	UserData interface{}
}

type memoryCallbacks struct {
	Callbacks *MemoryCallbackOptions
	Allocator *Allocator
}

func (c *memoryCallbacks) Map(physicalBase Address, size int) {
	if c != nil && c.Callbacks != nil && c.Callbacks.Map != nil {
		c.Callbacks.Map(c.Allocator, physicalBase, size, c.Callbacks.UserData)
	}
}

func (c *memoryCallbacks) Unmap(physicalBase Address, size int) {
	if c != nil && c.Callbacks != nil && c.Callbacks.Unmap != nil {
		c.Callbacks.Unmap(c.Allocator, physicalBase, size, c.Callbacks.UserData)
	}
}
