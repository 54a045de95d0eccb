package alloc

import (
	"context"
	"io"
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/pagealloc/alloc/internal/utils"
	"github.com/vkngwrapper/pagealloc/alloc/internal/vulkan"
	"github.com/vkngwrapper/pagealloc/memutils"
)

//go:generate mockgen -source ./internal/vulkan/device_memory.go -destination ./mocks/mock_backend.go -package mocks -mock_names MemoryDriver=MockBackend -exclude_interfaces MemoryCallbacks

// Backend is the raw device memory primitive that allocators are built on. It reports the
// device's memory types and heaps and performs exactly one native allocation per AllocateMemory call.
// The alloc/vulkan package provides an implementation backed by a core1_0.Device.
type Backend = vulkan.MemoryDriver

// Allocator hands out Allocation values carved from native device memory. Allocators are not
// internally synchronized unless they are created with AllocatorCreateInternallySynchronized:
// the consumer must ensure that only one goroutine at a time calls into them.
type Allocator interface {
	// Alloc reserves at least size bytes of memory in the provided memory type. usage is the set
	// of memory properties the consumer requires; any value other than exactly
	// core1_0.MemoryPropertyDeviceLocal asks for the allocation to start its own page.
	Alloc(usage core1_0.MemoryPropertyFlags, memoryTypeIndex int, size int) (Allocation, error)
	// Free returns an Allocation previously returned by Alloc on this same allocator
	Free(allocation Allocation) error
	// FindMemoryTypeIndex returns the first memory type whose bit is set in memoryTypeBits and whose
	// property flags include all of required, or ErrTypeNotFound
	FindMemoryTypeIndex(memoryTypeBits uint32, required core1_0.MemoryPropertyFlags) (int, error)
	MemoryTypeCount() int

	// TotalMemorySize is the number of bytes of native memory currently held by the allocator
	TotalMemorySize() int
	// TotalMemoryUsed is the number of bytes currently reserved by live allocations
	TotalMemoryUsed() int
	// AllocatedSize is the running total of bytes reserved in a single memory type
	AllocatedSize(memoryTypeIndex int) int
	// AllocationCount is the number of Alloc calls that have not been matched by a Free
	AllocationCount() int

	CalculateStatistics() Statistics
	// BuildStatsString produces a JSON document describing the allocator's memory. If detailedMap
	// is true, every block and its free spans are included.
	BuildStatsString(detailedMap bool) string

	// Destroy releases all native memory held by the allocator. Allocations that are still live
	// are logged and reported in the returned error, but their memory is released anyway.
	Destroy() error
}

// Statistics is a snapshot of an allocator's memory, per memory type and in total
type Statistics struct {
	MemoryTypes []memutils.DetailedStatistics
	Total       memutils.DetailedStatistics
}

const validUsageFlags = core1_0.MemoryPropertyDeviceLocal |
	core1_0.MemoryPropertyHostVisible |
	core1_0.MemoryPropertyHostCoherent |
	core1_0.MemoryPropertyHostCached |
	core1_0.MemoryPropertyLazilyAllocated

// allocatorBase is the bookkeeping that both allocator implementations compose
type allocatorBase struct {
	logger       *slog.Logger
	mutex        utils.OptionalRWMutex
	createFlags  CreateFlags
	deviceMemory *vulkan.DeviceMemoryProperties
	tracker      *allocationTracker

	totalMemorySize           int
	totalMemoryUsed           int
	allocationCount           int
	memoryTypeAllocationSizes []int
	memoryTypeAllocationCount []int
}

func (a *allocatorBase) init(
	logger *slog.Logger,
	backend Backend,
	self Allocator,
	options CreateOptions,
) error {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	a.logger = logger
	a.createFlags = options.Flags
	a.mutex.UseMutex = options.Flags&AllocatorCreateInternallySynchronized != 0

	var err error
	a.deviceMemory, err = vulkan.NewDeviceMemoryProperties(
		backend,
		&memoryCallbacks{
			Callbacks: options.MemoryCallbackOptions,
			Allocator: self,
		},
		options.HeapSizeLimits,
	)
	if err != nil {
		return errors.Mark(err, ErrInvalidArgument)
	}

	if options.Flags&AllocatorCreateTrackAllocations != 0 {
		a.tracker = newAllocationTracker()
	}

	typeCount := a.deviceMemory.MemoryTypeCount()
	a.memoryTypeAllocationSizes = make([]int, typeCount)
	a.memoryTypeAllocationCount = make([]int, typeCount)

	return nil
}

func (a *allocatorBase) validateAlloc(usage core1_0.MemoryPropertyFlags, memoryTypeIndex int, size int) error {
	if memoryTypeIndex < 0 || memoryTypeIndex >= a.deviceMemory.MemoryTypeCount() {
		return errors.Wrapf(ErrInvalidArgument, "memory type index %d is out of range: the device has %d memory types",
			memoryTypeIndex, a.deviceMemory.MemoryTypeCount())
	}
	if size <= 0 {
		return errors.Wrapf(ErrInvalidArgument, "allocation size must be positive, but was %d", size)
	}
	if usage&^validUsageFlags != 0 {
		return errors.Wrapf(ErrInvalidArgument, "usage flags contain unsupported bits: %s", usage.String())
	}

	return nil
}

func (a *allocatorBase) validateFree(allocation Allocation) error {
	if allocation.IsNull() {
		return errors.Wrap(ErrInvalidArgument, "attempted to free a null allocation")
	}
	if allocation.memoryTypeIndex < 0 || allocation.memoryTypeIndex >= a.deviceMemory.MemoryTypeCount() {
		return errors.Wrapf(ErrInvalidArgument, "allocation %s has an out of range memory type", allocation.String())
	}
	if allocation.size <= 0 {
		return errors.Wrapf(ErrInvalidArgument, "allocation %s has an invalid size", allocation.String())
	}

	return nil
}

// allocateBlock performs a single native allocation, mapping backend failures to ErrOutOfMemory
func (a *allocatorBase) allocateBlock(memoryTypeIndex int, size int) (core1_0.DeviceMemory, error) {
	memory, res, err := a.deviceMemory.AllocateVulkanMemory(memoryTypeIndex, size)
	if err != nil {
		a.logger.Debug("    native allocation FAILED",
			slog.Int("MemoryTypeIndex", memoryTypeIndex),
			slog.Int("Size", size),
			slog.String("Result", res.String()))
		return nil, errors.Mark(
			errors.Wrapf(err, "failed to allocate %d bytes of memory type %d", size, memoryTypeIndex),
			ErrOutOfMemory)
	}

	a.totalMemorySize += size
	return memory, nil
}

func (a *allocatorBase) freeBlock(memoryTypeIndex int, size int, memory core1_0.DeviceMemory) {
	a.deviceMemory.FreeVulkanMemory(memoryTypeIndex, size, memory)
	a.totalMemorySize -= size
}

func (a *allocatorBase) recordAlloc(allocation Allocation, reservedSize int) {
	a.totalMemoryUsed += reservedSize
	a.memoryTypeAllocationSizes[allocation.memoryTypeIndex] += reservedSize
	a.memoryTypeAllocationCount[allocation.memoryTypeIndex]++
	a.allocationCount++

	if a.tracker != nil {
		a.tracker.Add(allocation)
	}
}

// recordFree always releases the total and the live count. The per-type total is only released
// when releaseTypeSize is set.
func (a *allocatorBase) recordFree(allocation Allocation, reservedSize int, releaseTypeSize bool) {
	a.totalMemoryUsed -= reservedSize
	if releaseTypeSize {
		a.memoryTypeAllocationSizes[allocation.memoryTypeIndex] -= reservedSize
	}
	a.memoryTypeAllocationCount[allocation.memoryTypeIndex]--
	a.allocationCount--

	if a.tracker != nil {
		a.tracker.Remove(allocation)
	}
}

func (a *allocatorBase) checkLive(allocation Allocation) error {
	if a.tracker == nil {
		return nil
	}

	if !a.tracker.IsLive(allocation) {
		return errors.Wrapf(ErrDoubleFree, "allocation %s", allocation.String())
	}

	return nil
}

func (a *allocatorBase) FindMemoryTypeIndex(memoryTypeBits uint32, required core1_0.MemoryPropertyFlags) (int, error) {
	a.logger.Debug("Allocator::FindMemoryTypeIndex")

	typeIndex, _, err := a.deviceMemory.FindMemoryType(memoryTypeBits, required)
	if err != nil {
		return -1, errors.Wrapf(ErrTypeNotFound, "memory type bits %#x with properties %s", memoryTypeBits, required.String())
	}

	return typeIndex, nil
}

func (a *allocatorBase) MemoryTypeCount() int {
	return a.deviceMemory.MemoryTypeCount()
}

func (a *allocatorBase) TotalMemorySize() int {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	return a.totalMemorySize
}

func (a *allocatorBase) TotalMemoryUsed() int {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	return a.totalMemoryUsed
}

func (a *allocatorBase) AllocatedSize(memoryTypeIndex int) int {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	if memoryTypeIndex < 0 || memoryTypeIndex >= len(a.memoryTypeAllocationSizes) {
		return 0
	}

	return a.memoryTypeAllocationSizes[memoryTypeIndex]
}

func (a *allocatorBase) AllocationCount() int {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	return a.allocationCount
}

// HeapBudget reports how much native memory has been allocated from a single device heap, and
// the configured limit for that heap
func (a *allocatorBase) HeapBudget(heapIndex int) (memutils.Statistics, int) {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	var budget vulkan.Budget
	a.deviceMemory.HeapBudget(heapIndex, &budget)
	return budget.Statistics, budget.Limit
}

// logUnreleasedAllocations reports every allocation that is still live. Individual allocations are
// only known when AllocatorCreateTrackAllocations is set; otherwise only the count is reported.
func (a *allocatorBase) logUnreleasedAllocations() {
	if a.allocationCount == 0 {
		return
	}

	a.logger.LogAttrs(context.Background(), slog.LevelError, "[UNRELEASED MEMORY] allocator destroyed with live allocations",
		slog.Int("allocations", a.allocationCount),
		slog.Int("usedBytes", a.totalMemoryUsed),
	)

	if a.tracker == nil {
		return
	}

	a.tracker.Visit(func(allocation Allocation) {
		a.logger.LogAttrs(context.Background(), slog.LevelError, "[UNRELEASED MEMORY] unfreed allocation",
			slog.Int("memoryTypeIndex", allocation.memoryTypeIndex),
			slog.Int("block", allocation.blockID),
			slog.Int("offset", allocation.offset),
			slog.Int("size", allocation.size),
		)
	})
}

func (a *allocatorBase) resetBookkeeping() {
	a.totalMemoryUsed = 0
	a.allocationCount = 0
	clear(a.memoryTypeAllocationSizes)
	clear(a.memoryTypeAllocationCount)

	if a.tracker != nil {
		a.tracker.Reset()
	}
}
