package resource

import (
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/pagealloc/alloc"
)

// Buffer is a native buffer bound to memory from an Allocator. Destroying the Buffer destroys
// the native buffer and returns its memory to the allocator.
type Buffer struct {
	buffer  core1_0.Buffer
	binding memoryBinding
}

// NewBuffer allocates memory with the requested property flags for an already-created native buffer
// and binds the buffer to it. If binding fails, the memory is freed before returning.
func NewBuffer(allocator alloc.Allocator, buffer core1_0.Buffer, properties core1_0.MemoryPropertyFlags) (*Buffer, error) {
	if buffer == nil {
		return nil, alloc.ErrInvalidArgument
	}

	b := &Buffer{buffer: buffer}
	err := b.binding.bind(allocator, buffer.MemoryRequirements(), properties, func(allocation alloc.Allocation) (common.VkResult, error) {
		return allocation.BindBuffer(buffer)
	})
	if err != nil {
		return nil, err
	}

	return b, nil
}

func (b *Buffer) VulkanBuffer() core1_0.Buffer {
	return b.buffer
}

func (b *Buffer) Allocation() alloc.Allocation {
	return b.binding.allocation
}

// Destroy destroys the native buffer and frees its memory. The device must no longer be using the
// buffer. Calling Destroy more than once has no effect.
func (b *Buffer) Destroy() error {
	if b.binding.released {
		return nil
	}

	b.buffer.Destroy(nil)
	return b.binding.release()
}
