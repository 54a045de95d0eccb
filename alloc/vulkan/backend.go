package vulkan

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/driver"
	"github.com/vkngwrapper/extensions/v2/ext_memory_priority"
	"github.com/vkngwrapper/pagealloc/alloc"
	"github.com/vkngwrapper/pagealloc/memutils"
)

// DefaultPriority is the memory priority used when ext_memory_priority is active and
// BackendOptions.Priority is left as 0
const DefaultPriority float32 = 0.5

// BackendOptions contains optional settings when creating a Backend
type BackendOptions struct {
	// AllocationCallbacks is an optional set of callbacks that will be executed from Vulkan on memory
	// allocated through this backend. Pooled allocations do not map 1:1 with native allocations,
	// so these will not always be called.
	AllocationCallbacks *driver.AllocationCallbacks

	// Priority is the value passed in MemoryPriorityAllocateInfo for every native allocation when
	// the device has ext_memory_priority active. It must be between 0 and 1.
	Priority float32

	// MinPageSize raises the page granularity reported to allocators. It must be 0 or a power of two.
	// Use it when resources (optimal-tiling images, for instance) report a MemoryRequirements.Alignment
	// larger than any of the device's limits.
	MinPageSize int
}

// Backend allocates native memory from a core1_0.Device. It reports the memory types and heaps of
// the PhysicalDevice the Device was created from.
type Backend struct {
	device              core1_0.Device
	memoryProperties    *core1_0.PhysicalDeviceMemoryProperties
	granularity         int
	allocationCallbacks *driver.AllocationCallbacks

	useMemoryPriority bool
	priority          float32
}

var _ alloc.Backend = &Backend{}

// NewBackend creates a Backend that can be passed to alloc.NewPoolAllocator or
// alloc.NewPassThroughAllocator
//
// device - The Device that memory will be allocated from
//
// physicalDevice - The PhysicalDevice that owns the provided Device
//
// options - Optional parameters: it is valid to leave all the fields blank
func NewBackend(device core1_0.Device, physicalDevice core1_0.PhysicalDevice, options BackendOptions) (*Backend, error) {
	if device == nil {
		return nil, errors.New("a device is required")
	}
	if physicalDevice == nil {
		return nil, errors.New("a physical device is required")
	}

	priority := options.Priority
	if priority == 0 {
		priority = DefaultPriority
	}
	if priority < 0 || priority > 1 {
		return nil, errors.Newf("BackendOptions.Priority must be between 0 and 1, but was %f", options.Priority)
	}

	if options.MinPageSize != 0 {
		err := memutils.CheckPow2(options.MinPageSize, "BackendOptions.MinPageSize")
		if err != nil {
			return nil, err
		}
	}

	deviceProperties, err := physicalDevice.Properties()
	if err != nil {
		return nil, err
	}

	granularity := pageGranularity(deviceProperties.Limits, options.MinPageSize)

	return &Backend{
		device:              device,
		memoryProperties:    physicalDevice.MemoryProperties(),
		granularity:         granularity,
		allocationCallbacks: options.AllocationCallbacks,

		useMemoryPriority: device.IsDeviceExtensionActive(ext_memory_priority.ExtensionName),
		priority:          priority,
	}, nil
}

// pageGranularity is the largest of the device's alignment limits. Vulkan requires each of them to be a
// power of two, so the result is one as well.
func pageGranularity(limits *core1_0.PhysicalDeviceLimits, minPageSize int) int {
	granularity := max(1, minPageSize)
	if limits == nil {
		return granularity
	}

	return max(granularity,
		limits.BufferImageGranularity,
		limits.MinMemoryMapAlignment,
		limits.NonCoherentAtomSize,
		limits.MinTexelBufferOffsetAlignment,
		limits.MinUniformBufferOffsetAlignment,
		limits.MinStorageBufferOffsetAlignment,
	)
}

func (b *Backend) MemoryProperties() *core1_0.PhysicalDeviceMemoryProperties {
	return b.memoryProperties
}

// PageGranularity is the largest of BufferImageGranularity, MinMemoryMapAlignment, NonCoherentAtomSize,
// the Min*OffsetAlignment limits and BackendOptions.MinPageSize
func (b *Backend) PageGranularity() int {
	return b.granularity
}

func (b *Backend) AllocateMemory(memoryTypeIndex int, size int) (core1_0.DeviceMemory, common.VkResult, error) {
	allocInfo := core1_0.MemoryAllocateInfo{
		AllocationSize:  size,
		MemoryTypeIndex: memoryTypeIndex,
	}

	if b.useMemoryPriority {
		priorityInfo := ext_memory_priority.MemoryPriorityAllocateInfo{
			Priority: b.priority,
		}
		priorityInfo.Next = allocInfo.Next
		allocInfo.Next = priorityInfo
	}

	return b.device.AllocateMemory(b.allocationCallbacks, allocInfo)
}

func (b *Backend) FreeMemory(memory core1_0.DeviceMemory) {
	memory.Free(b.allocationCallbacks)
}
