package alloc

import (
	"context"
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/pagealloc/memutils"
	"golang.org/x/exp/slices"
)

// freeSpan is an unused byte range inside a block
type freeSpan struct {
	offset int
	size   int
}

func (s freeSpan) end() int {
	return s.offset + s.size
}

// deviceMemoryBlock is a single native memory object divided into used and free regions. Only the
// free regions are recorded: everything not covered by layout is in use by some allocation.
type deviceMemoryBlock struct {
	id              int
	memoryTypeIndex int
	memory          core1_0.DeviceMemory
	size            int
	logger          *slog.Logger

	layout []freeSpan
	// pageReserved is set when the block serves an allocation that needs its own page. While it is set,
	// only spans beginning at offset 0 are offered to new allocations.
	pageReserved    bool
	allocationCount int
}

func (b *deviceMemoryBlock) Init(
	logger *slog.Logger,
	memoryTypeIndex int,
	memory core1_0.DeviceMemory,
	size int,
	id int,
) {
	if b.memory != nil {
		panic("attempting to initialize a device memory block that is already in use")
	}

	b.logger = logger
	b.memoryTypeIndex = memoryTypeIndex
	b.memory = memory
	b.size = size
	b.id = id
	b.layout = []freeSpan{{offset: 0, size: size}}
	b.pageReserved = false
	b.allocationCount = 0
}

// FindSpan returns the index of the first free span that can hold reservedSize bytes, or -1
func (b *deviceMemoryBlock) FindSpan(reservedSize int, needsOwnPage bool) int {
	startOfBlockOnly := needsOwnPage || b.pageReserved

	return slices.IndexFunc(b.layout, func(span freeSpan) bool {
		if span.size < reservedSize {
			return false
		}

		return !startOfBlockOnly || span.offset == 0
	})
}

// Carve removes reservedSize bytes from the front of the span at spanIndex and returns the offset of
// the removed region
func (b *deviceMemoryBlock) Carve(spanIndex int, reservedSize int, needsOwnPage bool) int {
	span := &b.layout[spanIndex]
	if span.size < reservedSize {
		panic("attempted to carve an allocation from a free span that is too small to hold it")
	}

	offset := span.offset
	span.offset += reservedSize
	span.size -= reservedSize

	if span.size == 0 {
		b.layout = slices.Delete(b.layout, spanIndex, spanIndex+1)
	}

	if needsOwnPage {
		b.pageReserved = true
	}
	b.allocationCount++

	return offset
}

// Release returns the region [offset, offset+reservedSize) to the block. If a free span begins exactly
// where the region ends, the region is merged into it and Release returns true. Otherwise, a new span
// is appended to the end of the layout. Spans that end where the region begins are never merged.
func (b *deviceMemoryBlock) Release(offset int, reservedSize int) (merged bool) {
	b.pageReserved = false
	b.allocationCount--

	end := offset + reservedSize
	spanIndex := slices.IndexFunc(b.layout, func(span freeSpan) bool {
		return span.offset == end
	})

	if spanIndex >= 0 {
		b.layout[spanIndex].offset = offset
		b.layout[spanIndex].size += reservedSize
		return true
	}

	b.layout = append(b.layout, freeSpan{offset: offset, size: reservedSize})
	return false
}

// ContainsRange returns true if [offset, offset+size) lies within the block
func (b *deviceMemoryBlock) ContainsRange(offset int, size int) bool {
	return offset >= 0 && size > 0 && offset+size <= b.size
}

func (b *deviceMemoryBlock) FreeBytes() int {
	var free int
	for _, span := range b.layout {
		free += span.size
	}
	return free
}

func (b *deviceMemoryBlock) IsEmpty() bool {
	return b.allocationCount == 0
}

func (b *deviceMemoryBlock) Validate() error {
	if b.memory == nil {
		return errors.New("no valid memory for this memory block")
	}
	if b.size < 1 {
		return errors.New("this memory block has an invalid size")
	}
	if b.allocationCount < 0 {
		return errors.Newf("this memory block has a negative allocation count %d", b.allocationCount)
	}

	sorted := slices.Clone(b.layout)
	slices.SortFunc(sorted, func(left, right freeSpan) bool {
		return left.offset < right.offset
	})

	for i, span := range sorted {
		if span.size <= 0 {
			return errors.Newf("free span at offset %d has non-positive size %d", span.offset, span.size)
		}
		if !b.ContainsRange(span.offset, span.size) {
			return errors.Newf("free span [%d, %d) lies outside of the block's %d bytes", span.offset, span.end(), b.size)
		}
		if i > 0 && sorted[i-1].end() > span.offset {
			return errors.Newf("free span [%d, %d) overlaps free span [%d, %d)",
				sorted[i-1].offset, sorted[i-1].end(), span.offset, span.end())
		}
	}

	return nil
}

func (b *deviceMemoryBlock) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	stats.AddBlock(b.size)
	stats.AddAllocations(b.allocationCount, b.size-b.FreeBytes())

	for _, span := range b.layout {
		stats.AddUnusedRange(span.size)
	}
}

func (b *deviceMemoryBlock) PrintDetailedMap(json *jwriter.ObjectState) {
	json.Name("TotalBytes").Int(b.size)
	json.Name("UnusedBytes").Int(b.FreeBytes())
	json.Name("Allocations").Int(b.allocationCount)
	json.Name("UnusedRanges").Int(len(b.layout))
	json.Name("PageReserved").Bool(b.pageReserved)

	spans := json.Name("FreeSpans").Array()
	defer spans.End()

	for _, span := range b.layout {
		obj := spans.Object()
		obj.Name("Offset").Int(span.offset)
		obj.Name("Size").Int(span.size)
		obj.End()
	}
}

// Destroy releases the block's native memory through freeMemory. If allocations are still live,
// the memory is released anyway and an error is returned.
func (b *deviceMemoryBlock) Destroy(freeMemory func(memoryTypeIndex int, size int, memory core1_0.DeviceMemory)) error {
	if b.memory == nil {
		panic("attempting to destroy a memory block, but it did not have a backing vulkan memory handle")
	}

	var err error
	if !b.IsEmpty() {
		b.logger.LogAttrs(context.Background(), slog.LevelError, "[UNRELEASED MEMORY] block destroyed with live allocations",
			slog.Int("memoryTypeIndex", b.memoryTypeIndex),
			slog.Int("block", b.id),
			slog.Int("allocations", b.allocationCount),
			slog.Int("usedBytes", b.size-b.FreeBytes()),
		)

		err = errors.Newf("%d allocations in block %d of memory type %d were not freed before the destruction of this memory block",
			b.allocationCount, b.id, b.memoryTypeIndex)
	}

	freeMemory(b.memoryTypeIndex, b.size, b.memory)

	b.memory = nil
	b.layout = nil
	return err
}
