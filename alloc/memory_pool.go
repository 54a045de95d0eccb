package alloc

import (
	"log/slog"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/pagealloc/memutils"
)

// memoryPool is the ordered list of blocks for a single memory type. Blocks are only ever appended,
// so a block's index in the list is also its id.
type memoryPool struct {
	logger          *slog.Logger
	memoryTypeIndex int
	blocks          []*deviceMemoryBlock
}

func (p *memoryPool) Init(logger *slog.Logger, memoryTypeIndex int) {
	p.logger = logger
	p.memoryTypeIndex = memoryTypeIndex
	p.blocks = nil
}

// FindSpan searches blocks in order, and free spans in order within each block, returning the first
// span that can hold reservedSize bytes. If there is none, the returned block is nil.
func (p *memoryPool) FindSpan(reservedSize int, needsOwnPage bool) (*deviceMemoryBlock, int) {
	for _, block := range p.blocks {
		spanIndex := block.FindSpan(reservedSize, needsOwnPage)
		if spanIndex >= 0 {
			return block, spanIndex
		}
	}

	return nil, -1
}

// AddBlock appends a new block backed by memory, consisting of a single free span
func (p *memoryPool) AddBlock(memory core1_0.DeviceMemory, size int) *deviceMemoryBlock {
	block := &deviceMemoryBlock{}
	block.Init(p.logger, p.memoryTypeIndex, memory, size, len(p.blocks))
	p.blocks = append(p.blocks, block)

	p.logger.Debug("    Created new block",
		slog.Int("MemoryTypeIndex", p.memoryTypeIndex),
		slog.Int("BlockID", block.id),
		slog.Int("Size", size),
	)

	return block
}

// Block returns the block with the provided id, or nil if there is no such block
func (p *memoryPool) Block(blockID int) *deviceMemoryBlock {
	if blockID < 0 || blockID >= len(p.blocks) {
		return nil
	}

	return p.blocks[blockID]
}

func (p *memoryPool) BlockCount() int {
	return len(p.blocks)
}

func (p *memoryPool) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	for _, block := range p.blocks {
		block.AddDetailedStatistics(stats)
	}
}

func (p *memoryPool) PrintDetailedMap(json *jwriter.ObjectState) {
	blocks := json.Name("Blocks").Object()
	defer blocks.End()

	for _, block := range p.blocks {
		blockObj := blocks.Name(strconv.Itoa(block.id)).Object()
		block.PrintDetailedMap(&blockObj)
		blockObj.End()
	}
}

func (p *memoryPool) Validate() error {
	for _, block := range p.blocks {
		err := block.Validate()
		if err != nil {
			return errors.Wrapf(err, "block %d of memory type %d", block.id, p.memoryTypeIndex)
		}
	}

	return nil
}

// Destroy releases every block in the pool. Blocks with live allocations are still released, but
// their errors are combined into the returned error.
func (p *memoryPool) Destroy(freeMemory func(memoryTypeIndex int, size int, memory core1_0.DeviceMemory)) error {
	var err error
	for _, block := range p.blocks {
		err = errors.CombineErrors(err, block.Destroy(freeMemory))
	}

	p.blocks = nil
	return err
}
