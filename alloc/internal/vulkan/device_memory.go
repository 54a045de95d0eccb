package vulkan

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/pagealloc/memutils"
)

// MemoryDriver is the raw device memory primitive that allocators are built on: it reports the
// device's memory types and heaps and performs 1:1 native allocations and frees
type MemoryDriver interface {
	MemoryProperties() *core1_0.PhysicalDeviceMemoryProperties
	// PageGranularity is the power-of-two alignment that satisfies every resource the device creates
	PageGranularity() int
	AllocateMemory(memoryTypeIndex int, size int) (core1_0.DeviceMemory, common.VkResult, error)
	FreeMemory(memory core1_0.DeviceMemory)
}

type MemoryCallbacks interface {
	Allocate(memoryType int, memory core1_0.DeviceMemory, size int)
	Free(memoryType int, memory core1_0.DeviceMemory, size int)
}

type Budget struct {
	Statistics memutils.Statistics
	// Limit is the maximum number of block bytes that may be allocated from the heap, or 0 if
	// the heap is unlimited
	Limit int
}

type DeviceMemoryProperties struct {
	// Number of real allocations that have been made from device memory, per heap
	blockCount []int
	// Size of real allocations that have been made from device memory, per heap
	blockBytes []int
	// Number of live native allocations across all heaps
	memoryCount int

	memoryCallbacks MemoryCallbacks
	heapLimits      []int
	granularity     int

	driver           MemoryDriver
	memoryProperties *core1_0.PhysicalDeviceMemoryProperties
}

func NewDeviceMemoryProperties(
	driver MemoryDriver,
	memoryCallbacks MemoryCallbacks,
	heapSizeLimits []int,
) (*DeviceMemoryProperties, error) {
	if driver == nil {
		return nil, errors.New("a memory driver is required")
	}

	memoryProperties := driver.MemoryProperties()
	if memoryProperties == nil {
		return nil, errors.New("the memory driver did not report any memory properties")
	}

	if len(memoryProperties.MemoryTypes) > common.MaxMemoryTypes {
		return nil, errors.Newf("the memory driver reported %d memory types, but at most %d are supported",
			len(memoryProperties.MemoryTypes), common.MaxMemoryTypes)
	}

	heapCount := len(memoryProperties.MemoryHeaps)
	for typeIndex, memoryType := range memoryProperties.MemoryTypes {
		if memoryType.HeapIndex < 0 || memoryType.HeapIndex >= heapCount {
			return nil, errors.Newf("memory type %d refers to heap %d, but the driver reported %d heaps",
				typeIndex, memoryType.HeapIndex, heapCount)
		}
	}

	heapLimitCount := len(heapSizeLimits)
	if heapLimitCount > 0 && heapLimitCount != heapCount {
		return nil, errors.New("HeapSizeLimits was provided, but the length does not equal the number of device memory heaps")
	}

	granularity := driver.PageGranularity()
	if granularity < 1 {
		granularity = 1
	}
	err := memutils.CheckPow2(granularity, "backend page granularity")
	if err != nil {
		return nil, err
	}

	heapLimits := make([]int, heapCount)
	copy(heapLimits, heapSizeLimits)

	return &DeviceMemoryProperties{
		blockCount:       make([]int, heapCount),
		blockBytes:       make([]int, heapCount),
		memoryCallbacks:  memoryCallbacks,
		heapLimits:       heapLimits,
		granularity:      granularity,
		driver:           driver,
		memoryProperties: memoryProperties,
	}, nil
}

func (m *DeviceMemoryProperties) MemoryTypeCount() int {
	return len(m.memoryProperties.MemoryTypes)
}

func (m *DeviceMemoryProperties) MemoryHeapCount() int {
	return len(m.memoryProperties.MemoryHeaps)
}

func (m *DeviceMemoryProperties) MemoryTypeIndexToHeapIndex(memTypeIndex int) int {
	return m.memoryProperties.MemoryTypes[memTypeIndex].HeapIndex
}

func (m *DeviceMemoryProperties) MemoryTypeProperties(memoryTypeIndex int) core1_0.MemoryType {
	return m.memoryProperties.MemoryTypes[memoryTypeIndex]
}

func (m *DeviceMemoryProperties) MemoryHeapProperties(heapIndex int) core1_0.MemoryHeap {
	return m.memoryProperties.MemoryHeaps[heapIndex]
}

// PageGranularity is the smallest alignment the backend guarantees every resource is satisfied by,
// clamped to a minimum of 1
func (m *DeviceMemoryProperties) PageGranularity() int {
	return m.granularity
}

// FindMemoryType returns the first memory type whose bit is set in memoryTypeBits and whose
// property flags include all of requiredFlags
func (m *DeviceMemoryProperties) FindMemoryType(memoryTypeBits uint32, requiredFlags core1_0.MemoryPropertyFlags) (int, common.VkResult, error) {
	for memTypeIndex := 0; memTypeIndex < m.MemoryTypeCount(); memTypeIndex++ {
		memTypeBit := uint32(1 << memTypeIndex)

		if memTypeBit&memoryTypeBits == 0 {
			// This memory type is banned by the bitmask
			continue
		}

		flags := m.memoryProperties.MemoryTypes[memTypeIndex].PropertyFlags
		if requiredFlags&flags != requiredFlags {
			// This memory type is missing required flags
			continue
		}

		return memTypeIndex, core1_0.VKSuccess, nil
	}

	return -1, core1_0.VKErrorFeatureNotPresent, core1_0.VKErrorFeatureNotPresent.ToError()
}

func (m *DeviceMemoryProperties) AllocateVulkanMemory(memoryTypeIndex int, size int) (core1_0.DeviceMemory, common.VkResult, error) {
	heapIndex := m.MemoryTypeIndexToHeapIndex(memoryTypeIndex)
	heapLimit := m.heapLimits[heapIndex]

	if heapLimit > 0 && m.blockBytes[heapIndex]+size > heapLimit {
		return nil, core1_0.VKErrorOutOfDeviceMemory, errors.Wrapf(core1_0.VKErrorOutOfDeviceMemory.ToError(),
			"allocating %d bytes would exceed the limit of %d bytes for heap %d", size, heapLimit, heapIndex)
	}

	memory, res, err := m.driver.AllocateMemory(memoryTypeIndex, size)
	if err != nil {
		return nil, res, err
	}
	if memory == nil {
		return nil, core1_0.VKErrorUnknown, errors.Newf("the memory driver returned a nil memory handle for %d bytes of memory type %d", size, memoryTypeIndex)
	}

	m.blockBytes[heapIndex] += size
	m.blockCount[heapIndex]++
	m.memoryCount++

	if m.memoryCallbacks != nil {
		m.memoryCallbacks.Allocate(memoryTypeIndex, memory, size)
	}

	return memory, res, nil
}

func (m *DeviceMemoryProperties) FreeVulkanMemory(memoryTypeIndex int, size int, memory core1_0.DeviceMemory) {
	if m.memoryCallbacks != nil {
		m.memoryCallbacks.Free(memoryTypeIndex, memory, size)
	}

	m.driver.FreeMemory(memory)

	heapIndex := m.MemoryTypeIndexToHeapIndex(memoryTypeIndex)
	m.blockBytes[heapIndex] -= size
	if m.blockBytes[heapIndex] < 0 {
		panic(fmt.Sprintf("block bytes for heapIndex %d went negative", heapIndex))
	}

	m.blockCount[heapIndex]--
	if m.blockCount[heapIndex] < 0 {
		panic(fmt.Sprintf("block count for heapIndex %d went negative", heapIndex))
	}

	m.memoryCount--
}

func (m *DeviceMemoryProperties) HeapBudget(heapIndex int, budget *Budget) {
	budget.Statistics.Clear()
	budget.Statistics.BlockCount = m.blockCount[heapIndex]
	budget.Statistics.BlockBytes = m.blockBytes[heapIndex]
	budget.Limit = m.heapLimits[heapIndex]
	if budget.Limit < 0 {
		budget.Limit = 0
	}
}

// MemoryCount is the number of live native allocations made through this object
func (m *DeviceMemoryProperties) MemoryCount() int {
	return m.memoryCount
}
