package alloc

import (
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/core/v2/core1_0"
)

// Two live allocations never share a memory type, native memory object and offset
type trackingKey struct {
	memoryTypeIndex int
	memory          core1_0.DeviceMemory
	offset          int
}

func keyFor(allocation Allocation) trackingKey {
	return trackingKey{
		memoryTypeIndex: allocation.memoryTypeIndex,
		memory:          allocation.memory,
		offset:          allocation.offset,
	}
}

// allocationTracker records the set of live allocations for allocators created with
// AllocatorCreateTrackAllocations
type allocationTracker struct {
	live *swiss.Map[trackingKey, Allocation]
}

func newAllocationTracker() *allocationTracker {
	return &allocationTracker{
		live: swiss.NewMap[trackingKey, Allocation](64),
	}
}

func (t *allocationTracker) Add(allocation Allocation) {
	t.live.Put(keyFor(allocation), allocation)
}

func (t *allocationTracker) Remove(allocation Allocation) {
	t.live.Delete(keyFor(allocation))
}

// IsLive returns true if exactly this allocation was returned by Alloc and has not been freed since
func (t *allocationTracker) IsLive(allocation Allocation) bool {
	tracked, ok := t.live.Get(keyFor(allocation))
	return ok && tracked == allocation
}

func (t *allocationTracker) Count() int {
	return t.live.Count()
}

func (t *allocationTracker) Visit(visit func(allocation Allocation)) {
	t.live.Iter(func(_ trackingKey, allocation Allocation) bool {
		visit(allocation)
		return false
	})
}

func (t *allocationTracker) Reset() {
	t.live = swiss.NewMap[trackingKey, Allocation](64)
}
