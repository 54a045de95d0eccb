package alloc

import (
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/pagealloc/memutils"
)

// PoolAllocator sub-allocates from large native blocks. Each memory type has its own pool of blocks,
// and each block is divided into pages of PageSize bytes. Requests are placed first-fit: blocks are
// searched in the order they were created, and free spans within each block in the order they were
// recorded. Blocks are never released until the allocator is destroyed.
//
// Every allocation reserves PageSize * (size / PageSize + 1) bytes, which is always at least one byte
// more than requested, even when size is already a multiple of PageSize.
type PoolAllocator struct {
	allocatorBase

	pageSize               int
	blockMinSize           int
	balancedTypeAccounting bool
	pools                  []memoryPool
}

var _ Allocator = &PoolAllocator{}

// PageSize is the granularity that every allocation's reserved size is a multiple of
func (a *PoolAllocator) PageSize() int {
	return a.pageSize
}

// BlockMinSize is the smallest block the allocator will create
func (a *PoolAllocator) BlockMinSize() int {
	return a.blockMinSize
}

// BlockCount is the number of blocks that have been created for a single memory type
func (a *PoolAllocator) BlockCount(memoryTypeIndex int) int {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	if memoryTypeIndex < 0 || memoryTypeIndex >= len(a.pools) {
		return 0
	}

	return a.pools[memoryTypeIndex].BlockCount()
}

func (a *PoolAllocator) reservedSize(size int) int {
	memutils.DebugCheckPow2(a.pageSize, "pageSize")
	return memutils.PageRoundUp(size, a.pageSize)
}

func (a *PoolAllocator) Alloc(usage core1_0.MemoryPropertyFlags, memoryTypeIndex int, size int) (Allocation, error) {
	a.logger.Debug("PoolAllocator::Alloc",
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

	reservedSize := a.reservedSize(size)
	needsOwnPage := usage != core1_0.MemoryPropertyDeviceLocal

	pool := &a.pools[memoryTypeIndex]
	block, spanIndex := pool.FindSpan(reservedSize, needsOwnPage)

	if block == nil {
		blockSize := max(2*reservedSize, a.blockMinSize)

		memory, err := a.allocateBlock(memoryTypeIndex, blockSize)
		if err != nil {
			return Allocation{}, err
		}

		block = pool.AddBlock(memory, blockSize)
		spanIndex = 0
	}

	offset := block.Carve(spanIndex, reservedSize, needsOwnPage)
	memutils.DebugValidate(block)

	allocation := Allocation{
		memory:          block.memory,
		memoryTypeIndex: memoryTypeIndex,
		blockID:         block.id,
		size:            size,
		offset:          offset,
	}
	a.recordAlloc(allocation, reservedSize)

	return allocation, nil
}

func (a *PoolAllocator) Free(allocation Allocation) error {
	a.logger.Debug("PoolAllocator::Free", slog.String("Allocation", allocation.String()))

	err := a.validateFree(allocation)
	if err != nil {
		return err
	}

	a.mutex.Lock()
	defer a.mutex.Unlock()

	reservedSize := a.reservedSize(allocation.size)

	block := a.pools[allocation.memoryTypeIndex].Block(allocation.blockID)
	if block == nil {
		return errors.Wrapf(ErrInvalidArgument, "allocation %s refers to a block that does not exist", allocation.String())
	}
	if block.memory != allocation.memory {
		return errors.Wrapf(ErrInvalidArgument, "allocation %s does not belong to the memory of block %d", allocation.String(), block.id)
	}
	if memutils.AlignDown(allocation.offset, uint(a.pageSize)) != allocation.offset || !block.ContainsRange(allocation.offset, reservedSize) {
		return errors.Wrapf(ErrInvalidArgument, "allocation %s does not fit within the %d bytes of block %d", allocation.String(), block.size, block.id)
	}

	err = a.checkLive(allocation)
	if err != nil {
		return err
	}

	merged := block.Release(allocation.offset, reservedSize)
	memutils.DebugValidate(block)

	a.recordFree(allocation, reservedSize, !merged || a.balancedTypeAccounting)

	return nil
}

// Validate checks every block's free list for consistency
func (a *PoolAllocator) Validate() error {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	for i := range a.pools {
		err := a.pools[i].Validate()
		if err != nil {
			return err
		}
	}

	return nil
}

func (a *PoolAllocator) Destroy() error {
	a.logger.Debug("PoolAllocator::Destroy")

	a.mutex.Lock()
	defer a.mutex.Unlock()

	a.logUnreleasedAllocations()

	var err error
	for i := range a.pools {
		err = errors.CombineErrors(err, a.pools[i].Destroy(a.freeBlock))
	}

	a.resetBookkeeping()
	return err
}
