package resource

import (
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/pagealloc/alloc"
)

// Image is a native image bound to memory from an Allocator
type Image struct {
	image   core1_0.Image
	binding memoryBinding
}

// NewImage allocates memory with the requested property flags for an already-created native image
// and binds the image to it. If binding fails, the memory is freed before returning.
//
// Optimal-tiling images generally want core1_0.MemoryPropertyDeviceLocal, which lets the allocator
// pack them tightly alongside other device-local resources.
func NewImage(allocator alloc.Allocator, image core1_0.Image, properties core1_0.MemoryPropertyFlags) (*Image, error) {
	if image == nil {
		return nil, alloc.ErrInvalidArgument
	}

	i := &Image{image: image}
	err := i.binding.bind(allocator, image.MemoryRequirements(), properties, func(allocation alloc.Allocation) (common.VkResult, error) {
		return allocation.BindImage(image)
	})
	if err != nil {
		return nil, err
	}

	return i, nil
}

func (i *Image) VulkanImage() core1_0.Image {
	return i.image
}

func (i *Image) Allocation() alloc.Allocation {
	return i.binding.allocation
}

// Destroy destroys the native image and frees its memory. Calling Destroy more than once has no effect.
func (i *Image) Destroy() error {
	if i.binding.released {
		return nil
	}

	i.image.Destroy(nil)
	return i.binding.release()
}
