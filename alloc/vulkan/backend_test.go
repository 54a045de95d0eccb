package vulkan

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/driver"
	"github.com/vkngwrapper/core/v2/mocks"
	"github.com/vkngwrapper/extensions/v2/ext_memory_priority"
	"github.com/vkngwrapper/pagealloc/alloc"
	"github.com/vkngwrapper/pagealloc/memutils"
	"go.uber.org/mock/gomock"
)

type BackendSetup struct {
	Limits         *core1_0.PhysicalDeviceLimits
	MemoryPriority bool
	BackendOptions BackendOptions
}

func readyBackend(t *testing.T, ctrl *gomock.Controller, setup BackendSetup) (*mocks.MockDevice, *Backend) {
	device := mocks.NewMockDevice(ctrl)
	physicalDevice := mocks.NewMockPhysicalDevice(ctrl)

	device.EXPECT().IsDeviceExtensionActive(ext_memory_priority.ExtensionName).Return(setup.MemoryPriority).AnyTimes()
	physicalDevice.EXPECT().Properties().Return(&core1_0.PhysicalDeviceProperties{
		DriverType: core1_0.PhysicalDeviceTypeDiscreteGPU,
		Limits:     setup.Limits,
	}, nil)
	physicalDevice.EXPECT().MemoryProperties().Return(&core1_0.PhysicalDeviceMemoryProperties{
		MemoryTypes: []core1_0.MemoryType{
			{
				PropertyFlags: core1_0.MemoryPropertyDeviceLocal,
				HeapIndex:     0,
			},
			{
				PropertyFlags: core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCoherent,
				HeapIndex:     1,
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
	})

	backend, err := NewBackend(device, physicalDevice, setup.BackendOptions)
	require.NoError(t, err)

	return device, backend
}

func TestBackendAllocateMemory(t *testing.T) {
	ctrl := gomock.NewController(t)
	callbacks := &driver.AllocationCallbacks{}

	device, backend := readyBackend(t, ctrl, BackendSetup{
		Limits: &core1_0.PhysicalDeviceLimits{
			BufferImageGranularity: 64,
			NonCoherentAtomSize:    1,
		},
		BackendOptions: BackendOptions{
			AllocationCallbacks: callbacks,
		},
	})
	require.Equal(t, 64, backend.PageGranularity())
	require.Len(t, backend.MemoryProperties().MemoryTypes, 2)

	memory := mocks.EasyMockDeviceMemory(ctrl)
	device.EXPECT().AllocateMemory(callbacks, core1_0.MemoryAllocateInfo{
		AllocationSize:  4096,
		MemoryTypeIndex: 1,
	}).Return(memory, core1_0.VKSuccess, nil)
	memory.EXPECT().Free(callbacks)

	allocated, res, err := backend.AllocateMemory(1, 4096)
	require.NoError(t, err)
	require.Equal(t, core1_0.VKSuccess, res)
	require.Equal(t, memory, allocated)

	backend.FreeMemory(allocated)
}

func TestBackendMemoryPriority(t *testing.T) {
	ctrl := gomock.NewController(t)

	device, backend := readyBackend(t, ctrl, BackendSetup{
		Limits:         &core1_0.PhysicalDeviceLimits{BufferImageGranularity: 1},
		MemoryPriority: true,
		BackendOptions: BackendOptions{Priority: 0.75},
	})

	memory := mocks.EasyMockDeviceMemory(ctrl)
	device.EXPECT().AllocateMemory(nil, core1_0.MemoryAllocateInfo{
		AllocationSize:  1024,
		MemoryTypeIndex: 0,
		NextOptions: common.NextOptions{
			Next: ext_memory_priority.MemoryPriorityAllocateInfo{
				Priority: 0.75,
			},
		},
	}).Return(memory, core1_0.VKSuccess, nil)

	_, _, err := backend.AllocateMemory(0, 1024)
	require.NoError(t, err)

	defaultDevice, defaultBackend := readyBackend(t, ctrl, BackendSetup{
		Limits:         &core1_0.PhysicalDeviceLimits{BufferImageGranularity: 1},
		MemoryPriority: true,
	})

	defaultDevice.EXPECT().AllocateMemory(nil, core1_0.MemoryAllocateInfo{
		AllocationSize:  1024,
		MemoryTypeIndex: 0,
		NextOptions: common.NextOptions{
			Next: ext_memory_priority.MemoryPriorityAllocateInfo{
				Priority: DefaultPriority,
			},
		},
	}).Return(memory, core1_0.VKSuccess, nil)

	_, _, err = defaultBackend.AllocateMemory(0, 1024)
	require.NoError(t, err)
}

func TestBackendPageGranularity(t *testing.T) {
	testCases := []struct {
		name        string
		limits      *core1_0.PhysicalDeviceLimits
		minPageSize int
		expected    int
	}{
		{
			name:     "NoLimits",
			expected: 1,
		},
		{
			name:     "BufferImageGranularity",
			limits:   &core1_0.PhysicalDeviceLimits{BufferImageGranularity: 1024, NonCoherentAtomSize: 64},
			expected: 1024,
		},
		{
			name: "OffsetAlignment",
			limits: &core1_0.PhysicalDeviceLimits{
				BufferImageGranularity:          1,
				NonCoherentAtomSize:             64,
				MinMemoryMapAlignment:           64,
				MinTexelBufferOffsetAlignment:   16,
				MinUniformBufferOffsetAlignment: 256,
				MinStorageBufferOffsetAlignment: 32,
			},
			expected: 256,
		},
		{
			name:        "MinPageSize",
			limits:      &core1_0.PhysicalDeviceLimits{BufferImageGranularity: 1, MinUniformBufferOffsetAlignment: 256},
			minPageSize: 65536,
			expected:    65536,
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)

			_, backend := readyBackend(t, ctrl, BackendSetup{
				Limits:         testCase.limits,
				BackendOptions: BackendOptions{MinPageSize: testCase.minPageSize},
			})
			require.Equal(t, testCase.expected, backend.PageGranularity())
			require.NoError(t, memutils.CheckPow2(backend.PageGranularity(), "page granularity"))
		})
	}
}

func TestNewBackendValidation(t *testing.T) {
	ctrl := gomock.NewController(t)

	_, err := NewBackend(nil, mocks.NewMockPhysicalDevice(ctrl), BackendOptions{})
	require.Error(t, err)

	_, err = NewBackend(mocks.NewMockDevice(ctrl), nil, BackendOptions{})
	require.Error(t, err)

	_, err = NewBackend(mocks.NewMockDevice(ctrl), mocks.NewMockPhysicalDevice(ctrl), BackendOptions{Priority: 1.5})
	require.ErrorContains(t, err, "BackendOptions.Priority")

	_, err = NewBackend(mocks.NewMockDevice(ctrl), mocks.NewMockPhysicalDevice(ctrl), BackendOptions{MinPageSize: 48})
	require.ErrorIs(t, err, memutils.PowerOfTwoError)
	require.ErrorContains(t, err, "BackendOptions.MinPageSize")
}

func TestBackendWithPoolAllocator(t *testing.T) {
	ctrl := gomock.NewController(t)

	device, backend := readyBackend(t, ctrl, BackendSetup{
		Limits: &core1_0.PhysicalDeviceLimits{
			BufferImageGranularity:          1,
			NonCoherentAtomSize:             64,
			MinUniformBufferOffsetAlignment: 256,
		},
	})

	allocator, err := alloc.NewPoolAllocator(nil, backend, alloc.CreateOptions{})
	require.NoError(t, err)
	require.Equal(t, 256, allocator.PageSize())

	memory := mocks.EasyMockDeviceMemory(ctrl)
	device.EXPECT().AllocateMemory(nil, core1_0.MemoryAllocateInfo{
		AllocationSize:  2560,
		MemoryTypeIndex: 0,
	}).Return(memory, core1_0.VKSuccess, nil)

	allocation, err := allocator.Alloc(core1_0.MemoryPropertyDeviceLocal, 0, 100)
	require.NoError(t, err)
	require.Equal(t, 0, allocation.Offset())
	require.Equal(t, memory, allocation.Memory())

	device.EXPECT().AllocateMemory(nil, core1_0.MemoryAllocateInfo{
		AllocationSize:  10240,
		MemoryTypeIndex: 0,
	}).Return(nil, core1_0.VKErrorOutOfDeviceMemory, core1_0.VKErrorOutOfDeviceMemory.ToError())

	_, err = allocator.Alloc(core1_0.MemoryPropertyDeviceLocal, 0, 5000)
	require.True(t, errors.Is(err, alloc.ErrOutOfMemory))

	memory.EXPECT().Free(nil)

	require.NoError(t, allocator.Free(allocation))
	require.NoError(t, allocator.Destroy())
}
