package alloc

import "github.com/cockroachdb/errors"

var (
	// ErrInvalidArgument is returned when a memory type index is out of range, a size is not positive,
	// usage flags contain unknown bits, or an Allocation does not belong to the allocator it is freed to
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrOutOfMemory is returned when the device refuses to allocate a new block of native memory
	ErrOutOfMemory = errors.New("out of device memory")
	// ErrTypeNotFound is returned when no memory type satisfies the requested type bits and property flags
	ErrTypeNotFound = errors.New("no suitable memory type")
	// ErrDoubleFree is returned by allocators created with AllocatorCreateTrackAllocations when an
	// Allocation is freed that is not currently live
	ErrDoubleFree = errors.New("allocation is not live")
)
