package mems

import (
	"log/slog"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/mems/memutils"
	"github.com/vkngwrapper/mems/provider"
)

// CreateFlags indicate specific allocator behaviors to activate or deactivate
type CreateFlags int32

const (
	// CreateExternallySynchronized ensures that this allocator will not be synchronized internally.
	// The consumer must guarantee it is used from only one goroutine at a time or is synchronized
	// by some other mechanism, but performance may improve because the internal mutex is not used.
	CreateExternallySynchronized CreateFlags = 1 << iota
	// CreateCorruptionDetection fills every freed segment with a marker pattern and verifies the
	// pattern before the segment is handed out again, catching writes through stale addresses.
	CreateCorruptionDetection
)

var createFlagsMapping = map[CreateFlags]string{
	CreateExternallySynchronized: "CreateExternallySynchronized",
	CreateCorruptionDetection:    "CreateCorruptionDetection",
}

func (f CreateFlags) String() string {
	if f == 0 {
		return "None"
	}

	var names []string
	for bit := CreateFlags(1); bit != 0 && bit <= f; bit <<= 1 {
		if f&bit == 0 {
			continue
		}

		name, ok := createFlagsMapping[bit]
		if !ok {
			name = "Unknown"
		}
		names = append(names, name)
	}

	return strings.Join(names, "|")
}

// CreateOptions contains optional settings when creating an allocator. It is valid to leave
// all the fields blank.
type CreateOptions struct {
	// Flags indicates specific allocator behaviors to activate or deactivate
	Flags CreateFlags
	// PageSize is the granularity of every block and every allocation. It must be a power of
	// two. memutils.DefaultPageSize is used when it is 0.
	PageSize int
	// StartAddress is the virtual address at which the first block is placed. It must be
	// aligned to PageSize. DefaultStartAddress is used when it is 0.
	StartAddress Address

	// Provider supplies the memory blocks are backed by. provider.Default() is used when it is nil.
	Provider provider.Provider
	// MemoryCallbackOptions is an optional set of callbacks that will be executed when blocks are
	// mapped and unmapped
	MemoryCallbackOptions *MemoryCallbackOptions
}

// New creates a new Allocator and initializes it, ready for Malloc. The logger may be nil,
// in which case slog.Default() is used.
func New(logger *slog.Logger, options CreateOptions) (*Allocator, error) {
	if logger == nil {
		logger = slog.Default()
	}

	pageSize := options.PageSize
	if pageSize == 0 {
		pageSize = memutils.DefaultPageSize
	}
	err := memutils.CheckPow2(pageSize, "CreateOptions.PageSize")
	if err != nil {
		return nil, err
	}

	startAddress := options.StartAddress
	if startAddress == NullAddress {
		startAddress = DefaultStartAddress
	}
	if startAddress%Address(pageSize) != 0 {
		return nil, errors.Newf("CreateOptions.StartAddress %s is not aligned to the page size %d", startAddress, pageSize)
	}

	memoryProvider := options.Provider
	if memoryProvider == nil {
		memoryProvider = provider.Default()
	}

	allocator := &Allocator{
		logger:      logger,
		createFlags: options.Flags,
		pageSize:    pageSize,
	}
	allocator.mutex.UseMutex = options.Flags&CreateExternallySynchronized == 0
	allocator.callbacks = memoryCallbacks{
		Callbacks: options.MemoryCallbackOptions,
		Allocator: allocator,
	}
	allocator.blockList.Init(
		logger,
		memoryProvider,
		&allocator.callbacks,
		pageSize,
		startAddress,
		options.Flags&CreateCorruptionDetection != 0,
	)
	err = allocator.Init()
	if err != nil {
		return nil, err
	}

	logger.Debug("Allocator::New",
		slog.Int("PageSize", pageSize),
		slog.String("StartAddress", startAddress.String()),
		slog.String("Flags", options.Flags.String()))

	return allocator, nil
}
