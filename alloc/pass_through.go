package alloc

import (
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/core/v2/core1_0"
)

// PassThroughAllocator performs exactly one native allocation for every Alloc call and exactly one
// native free for every Free call. Every Allocation it returns has offset 0 and block id 0, and its
// bookkeeping is by requested size, without page rounding. It is mainly useful as a baseline to
// compare PoolAllocator against.
type PassThroughAllocator struct {
	allocatorBase

	dedicated *swiss.Map[core1_0.DeviceMemory, Allocation]
}

var _ Allocator = &PassThroughAllocator{}

func newDedicatedAllocations() *swiss.Map[core1_0.DeviceMemory, Allocation] {
	return swiss.NewMap[core1_0.DeviceMemory, Allocation](64)
}

func (a *PassThroughAllocator) Alloc(usage core1_0.MemoryPropertyFlags, memoryTypeIndex int, size int) (Allocation, error) {
	a.logger.Debug("PassThroughAllocator::Alloc",
		slog.String("Usage", usage.String()),
		slog.Int("MemoryTypeIndex", memoryTypeIndex),
		slog.Int("Size", size),
	)

	err := a.validateAlloc(usage, memoryTypeIndex, size)
	if err != nil {
		return Allocation{}, err
	}

	a.mutex.Lock()
	defer a.mutex.Unlock()

	memory, err := a.allocateBlock(memoryTypeIndex, size)
	if err != nil {
		return Allocation{}, err
	}

	allocation := Allocation{
		memory:          memory,
		memoryTypeIndex: memoryTypeIndex,
		size:            size,
	}
	a.dedicated.Put(memory, allocation)
	a.recordAlloc(allocation, size)

	return allocation, nil
}

func (a *PassThroughAllocator) Free(allocation Allocation) error {
	a.logger.Debug("PassThroughAllocator::Free", slog.String("Allocation", allocation.String()))

	err := a.validateFree(allocation)
	if err != nil {
		return err
	}

	a.mutex.Lock()
	defer a.mutex.Unlock()

	err = a.checkLive(allocation)
	if err != nil {
		return err
	}

	dedicated := a.dedicated
	live, ok := dedicated.Get(allocation.memory)
	if !ok || live != allocation {
		return errors.Wrapf(ErrInvalidArgument, "allocation %s was not made by this allocator or has already been freed", allocation.String())
	}

	dedicated.Delete(allocation.memory)
	a.freeBlock(allocation.memoryTypeIndex, allocation.size, allocation.memory)
	a.recordFree(allocation, allocation.size, true)

	return nil
}

func (a *PassThroughAllocator) Destroy() error {
	a.logger.Debug("PassThroughAllocator::Destroy")

	a.mutex.Lock()
	defer a.mutex.Unlock()

	a.logUnreleasedAllocations()

	var err error
	if a.allocationCount > 0 {
		err = errors.Newf("%d allocations were not freed before the destruction of this allocator", a.allocationCount)
	}

	dedicated := a.dedicated
	var live []Allocation
	dedicated.Iter(func(_ core1_0.DeviceMemory, allocation Allocation) bool {
		live = append(live, allocation)
		return false
	})

	for _, allocation := range live {
		a.freeBlock(allocation.memoryTypeIndex, allocation.size, allocation.memory)
	}

	a.dedicated = newDedicatedAllocations()
	a.resetBookkeeping()
	return err
}
