package resource

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/pagealloc/alloc"
	"github.com/vkngwrapper/pagealloc/memutils"
)

// memoryBinding owns the single Allocation backing a native resource
type memoryBinding struct {
	allocator  alloc.Allocator
	allocation alloc.Allocation
	released   bool
}

func (b *memoryBinding) bind(
	allocator alloc.Allocator,
	requirements *core1_0.MemoryRequirements,
	properties core1_0.MemoryPropertyFlags,
	bindMemory func(allocation alloc.Allocation) (common.VkResult, error),
) error {
	if allocator == nil {
		return errors.Wrap(alloc.ErrInvalidArgument, "an allocator is required")
	}
	if requirements == nil {
		return errors.Wrap(alloc.ErrInvalidArgument, "the resource did not report its memory requirements")
	}

	memoryTypeIndex, err := allocator.FindMemoryTypeIndex(requirements.MemoryTypeBits, properties)
	if err != nil {
		return err
	}

	allocation, err := allocator.Alloc(properties, memoryTypeIndex, requirements.Size)
	if err != nil {
		return err
	}

	if requirements.Alignment > 1 && memutils.AlignUp(allocation.Offset(), uint(requirements.Alignment)) != allocation.Offset() {
		freeErr := allocator.Free(allocation)
		return errors.CombineErrors(
			errors.Wrapf(alloc.ErrInvalidArgument, "allocation %s does not satisfy the required alignment of %d", allocation.String(), requirements.Alignment),
			freeErr,
		)
	}

	_, err = bindMemory(allocation)
	if err != nil {
		freeErr := allocator.Free(allocation)
		return errors.CombineErrors(errors.Wrapf(err, "failed to bind allocation %s", allocation.String()), freeErr)
	}

	b.allocator = allocator
	b.allocation = allocation
	return nil
}

func (b *memoryBinding) release() error {
	if b.released {
		return nil
	}
	b.released = true

	return b.allocator.Free(b.allocation)
}
