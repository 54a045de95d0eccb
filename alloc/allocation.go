package alloc

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
)

// Allocation describes a region of native device memory handed out by an Allocator. It is a plain
// value: copying it is free and does not affect ownership. The consumer is responsible for passing
// it back to Allocator.Free exactly once, after the device has stopped using the memory.
type Allocation struct {
	memory          core1_0.DeviceMemory
	memoryTypeIndex int
	blockID         int
	size            int
	offset          int
}

// Memory is the native memory object this allocation was carved from. Every allocation from the
// same block shares the same handle.
func (a Allocation) Memory() core1_0.DeviceMemory { return a.memory }

// MemoryTypeIndex is the device memory type the allocation lives in
func (a Allocation) MemoryTypeIndex() int { return a.memoryTypeIndex }

// BlockID is the index of the owning block within the pool for MemoryTypeIndex. It is always 0
// for allocations made by a PassThroughAllocator.
func (a Allocation) BlockID() int { return a.blockID }

// Size is the size in bytes that was requested. The allocator may have reserved more.
func (a Allocation) Size() int { return a.size }

// Offset is the byte offset within Memory where the allocation begins
func (a Allocation) Offset() int { return a.offset }

// IsNull returns true for the zero Allocation, which does not refer to any memory
func (a Allocation) IsNull() bool { return a.memory == nil }

func (a Allocation) String() string {
	return fmt.Sprintf("[type=%d block=%d offset=%d size=%d]", a.memoryTypeIndex, a.blockID, a.offset, a.size)
}

// BindBuffer binds the provided buffer to this allocation's memory at this allocation's offset
func (a Allocation) BindBuffer(buffer core1_0.Buffer) (common.VkResult, error) {
	if buffer == nil {
		return core1_0.VKErrorUnknown, errors.Wrap(ErrInvalidArgument, "attempted to bind a nil buffer")
	}
	if a.IsNull() {
		return core1_0.VKErrorUnknown, errors.Wrap(ErrInvalidArgument, "attempted to bind a buffer to a null allocation")
	}

	return buffer.BindBufferMemory(a.memory, a.offset)
}

// BindImage binds the provided image to this allocation's memory at this allocation's offset
func (a Allocation) BindImage(image core1_0.Image) (common.VkResult, error) {
	if image == nil {
		return core1_0.VKErrorUnknown, errors.Wrap(ErrInvalidArgument, "attempted to bind a nil image")
	}
	if a.IsNull() {
		return core1_0.VKErrorUnknown, errors.Wrap(ErrInvalidArgument, "attempted to bind an image to a null allocation")
	}

	return image.BindImageMemory(a.memory, a.offset)
}

func (a Allocation) printParameters(json *jwriter.ObjectState) {
	json.Name("MemoryType").Int(a.memoryTypeIndex)
	json.Name("Block").Int(a.blockID)
	json.Name("Offset").Int(a.offset)
	json.Name("Size").Int(a.size)
}
