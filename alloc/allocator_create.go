package alloc

import (
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/pagealloc/memutils"
)

// CreateFlags indicate specific allocator behaviors to activate or deactivate
type CreateFlags int32

var allocatorCreateFlagsMapping = common.NewFlagStringMapping[CreateFlags]()

func (f CreateFlags) Register(str string) {
	allocatorCreateFlagsMapping.Register(f, str)
}
func (f CreateFlags) String() string {
	return allocatorCreateFlagsMapping.FlagsToString(f)
}

const (
	// AllocatorCreateInternallySynchronized guards every allocator operation with an internal mutex.
	// Without it, the consumer must guarantee the allocator is used from only one goroutine at a time.
	AllocatorCreateInternallySynchronized CreateFlags = 1 << iota
	// AllocatorCreateTrackAllocations records every live allocation so that freeing an allocation
	// twice, or freeing one that this allocator never returned, fails with ErrDoubleFree instead of
	// corrupting the allocator's free lists. Placement of allocations is not affected.
	AllocatorCreateTrackAllocations
	// AllocatorCreateBalancedTypeAccounting causes PoolAllocator.Free to release an allocation's
	// reserved size from the per-memory-type total even when the freed region is merged into a
	// neighboring free span. Without it, the per-type total is only released when no merge occurs.
	AllocatorCreateBalancedTypeAccounting
)

func init() {
	AllocatorCreateInternallySynchronized.Register("AllocatorCreateInternallySynchronized")
	AllocatorCreateTrackAllocations.Register("AllocatorCreateTrackAllocations")
	AllocatorCreateBalancedTypeAccounting.Register("AllocatorCreateBalancedTypeAccounting")
}

const (
	// DefaultMinBlockPages is the number of pages used as the minimum size of a new block when
	// CreateOptions.MinBlockPages is not provided
	DefaultMinBlockPages int = 10
)

// CreateOptions contains optional settings when creating an allocator
type CreateOptions struct {
	// Flags indicates specific allocator behaviors to activate or deactivate
	Flags CreateFlags

	// PageSize is the granularity that PoolAllocator rounds every allocation to. It must be a power
	// of two. If it is left as 0, the backend's page granularity is used.
	PageSize int
	// MinBlockPages is the smallest block PoolAllocator will allocate, measured in pages. If it is
	// left as 0, DefaultMinBlockPages is used.
	MinBlockPages int

	// MemoryCallbackOptions is an optional set of callbacks that will be executed whenever native
	// memory is allocated or freed by this allocator
	MemoryCallbackOptions *MemoryCallbackOptions

	// HeapSizeLimits can be left empty. If it is provided, though, it must be a slice
	// with a number of entries corresponding to the number of heaps reported by the backend.
	// Each entry must be either the maximum number of bytes that should be allocated from the
	// corresponding device memory heap, or -1 (or 0) indicating no limit.
	//
	// Heap memory limits will be enforced at runtime: allocations that would need a new block
	// beyond the limit fail with ErrOutOfMemory.
	HeapSizeLimits []int
}

// NewPoolAllocator creates an allocator that sub-allocates from large native blocks, one pool of
// blocks per memory type
//
// logger - Receives debug traces and unreleased memory reports. May be nil.
//
// backend - The raw device memory primitive that blocks will be allocated from
//
// options - Optional parameters: it is valid to leave all the fields blank
func NewPoolAllocator(logger *slog.Logger, backend Backend, options CreateOptions) (*PoolAllocator, error) {
	allocator := &PoolAllocator{}

	err := allocator.init(logger, backend, allocator, options)
	if err != nil {
		return nil, err
	}

	pageSize := options.PageSize
	if pageSize == 0 {
		pageSize = allocator.deviceMemory.PageGranularity()
	}
	err = memutils.CheckPow2(pageSize, "CreateOptions.PageSize")
	if err != nil {
		return nil, errors.Mark(err, ErrInvalidArgument)
	}

	minBlockPages := options.MinBlockPages
	if minBlockPages == 0 {
		minBlockPages = DefaultMinBlockPages
	} else if minBlockPages < 0 {
		return nil, errors.Wrapf(ErrInvalidArgument, "CreateOptions.MinBlockPages must not be negative, but was %d", minBlockPages)
	}

	allocator.pageSize = pageSize
	allocator.blockMinSize = minBlockPages * pageSize
	allocator.balancedTypeAccounting = options.Flags&AllocatorCreateBalancedTypeAccounting != 0

	typeCount := allocator.deviceMemory.MemoryTypeCount()
	allocator.pools = make([]memoryPool, typeCount)
	for typeIndex := 0; typeIndex < typeCount; typeIndex++ {
		allocator.pools[typeIndex].Init(allocator.logger, typeIndex)
	}

	allocator.logger.Debug("Allocator::NewPoolAllocator",
		slog.Int("PageSize", allocator.pageSize),
		slog.Int("BlockMinSize", allocator.blockMinSize),
		slog.String("Flags", options.Flags.String()),
	)

	return allocator, nil
}

// NewPassThroughAllocator creates an allocator that performs exactly one native allocation for
// every Alloc call. PageSize and MinBlockPages are ignored.
//
// logger - Receives debug traces and unreleased memory reports. May be nil.
//
// backend - The raw device memory primitive that allocations will be made from
//
// options - Optional parameters: it is valid to leave all the fields blank
func NewPassThroughAllocator(logger *slog.Logger, backend Backend, options CreateOptions) (*PassThroughAllocator, error) {
	allocator := &PassThroughAllocator{
		dedicated: newDedicatedAllocations(),
	}

	err := allocator.init(logger, backend, allocator, options)
	if err != nil {
		return nil, err
	}

	allocator.logger.Debug("Allocator::NewPassThroughAllocator",
		slog.String("Flags", options.Flags.String()),
	)

	return allocator, nil
}
