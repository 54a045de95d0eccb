package alloc

import (
	"bytes"
	"io"
	"log/slog"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/pagealloc/alloc/mocks"
	"go.uber.org/mock/gomock"
)

const (
	deviceLocal = core1_0.MemoryPropertyDeviceLocal
	hostVisible = core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCoherent
)

type fakeMemory struct {
	core1_0.DeviceMemory
	id   int
	size int
}

func testMemoryProperties() *core1_0.PhysicalDeviceMemoryProperties {
	return &core1_0.PhysicalDeviceMemoryProperties{
		MemoryTypes: []core1_0.MemoryType{
			{
				PropertyFlags: core1_0.MemoryPropertyDeviceLocal,
				HeapIndex:     0,
			},
			{
				PropertyFlags: core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCoherent,
				HeapIndex:     1,
			},
			{
				PropertyFlags: core1_0.MemoryPropertyDeviceLocal | core1_0.MemoryPropertyHostVisible,
				HeapIndex:     0,
			},
		},
		MemoryHeaps: []core1_0.MemoryHeap{
			{
				Size:  1000000,
				Flags: core1_0.MemoryHeapDeviceLocal,
			},
			{
				Size:  1000000,
				Flags: 0,
			},
		},
	}
}

// fakeBackend hands out a distinct fakeMemory for every allocation and remembers which are live
type fakeBackend struct {
	granularity int
	nextID      int
	failNext    bool

	live        map[*fakeMemory]int
	allocations []int
}

func newFakeBackend(granularity int) *fakeBackend {
	return &fakeBackend{
		granularity: granularity,
		live:        make(map[*fakeMemory]int),
	}
}

func (b *fakeBackend) MemoryProperties() *core1_0.PhysicalDeviceMemoryProperties {
	return testMemoryProperties()
}

func (b *fakeBackend) PageGranularity() int {
	return b.granularity
}

func (b *fakeBackend) AllocateMemory(memoryTypeIndex int, size int) (core1_0.DeviceMemory, common.VkResult, error) {
	if b.failNext {
		b.failNext = false
		return nil, core1_0.VKErrorOutOfDeviceMemory, core1_0.VKErrorOutOfDeviceMemory.ToError()
	}

	b.nextID++
	memory := &fakeMemory{id: b.nextID, size: size}
	b.live[memory] = memoryTypeIndex
	b.allocations = append(b.allocations, size)
	return memory, core1_0.VKSuccess, nil
}

func (b *fakeBackend) FreeMemory(memory core1_0.DeviceMemory) {
	fake := memory.(*fakeMemory)
	if _, ok := b.live[fake]; !ok {
		panic("freed memory that was not live")
	}
	delete(b.live, fake)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func bufferLogger() (*slog.Logger, *bytes.Buffer) {
	var buffer bytes.Buffer
	return slog.New(slog.NewJSONHandler(&buffer, nil)), &buffer
}

// readyMockBackend returns a gomock backend reporting the test memory properties
func readyMockBackend(ctrl *gomock.Controller, granularity int) *mocks.MockBackend {
	backend := mocks.NewMockBackend(ctrl)
	backend.EXPECT().MemoryProperties().Return(testMemoryProperties()).AnyTimes()
	backend.EXPECT().PageGranularity().Return(granularity).AnyTimes()
	return backend
}

// readyPoolAllocator creates a pool allocator with 256-byte pages and 2560-byte minimum blocks
func readyPoolAllocator(t *testing.T, backend Backend, flags CreateFlags) *PoolAllocator {
	allocator, err := NewPoolAllocator(testLogger(), backend, CreateOptions{
		Flags:         flags,
		PageSize:      256,
		MinBlockPages: 10,
	})
	require.NoError(t, err)
	require.Equal(t, 256, allocator.PageSize())
	require.Equal(t, 2560, allocator.BlockMinSize())

	return allocator
}

func requireLayout(t *testing.T, allocator *PoolAllocator, memoryTypeIndex, blockID int, expected ...freeSpan) {
	t.Helper()

	block := allocator.pools[memoryTypeIndex].Block(blockID)
	require.NotNil(t, block)
	if len(expected) == 0 {
		require.Empty(t, block.layout)
		return
	}
	require.Equal(t, expected, block.layout)
}

func requireErrorIs(t *testing.T, err error, target error) {
	t.Helper()

	require.Error(t, err)
	require.Truef(t, errors.Is(err, target), "expected %+v to be %v", err, target)
}
