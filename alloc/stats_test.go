package alloc

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPoolAllocatorCalculateStatistics(t *testing.T) {
	allocator := readyPoolAllocator(t, newFakeBackend(1), 0)

	_, err := allocator.Alloc(deviceLocal, 0, 100)
	require.NoError(t, err)
	_, err = allocator.Alloc(deviceLocal, 0, 100)
	require.NoError(t, err)
	_, err = allocator.Alloc(hostVisible, 1, 3000)
	require.NoError(t, err)

	stats := allocator.CalculateStatistics()
	require.Len(t, stats.MemoryTypes, 3)

	type0 := stats.MemoryTypes[0]
	require.Equal(t, 1, type0.BlockCount)
	require.Equal(t, 2560, type0.BlockBytes)
	require.Equal(t, 2, type0.AllocationCount)
	require.Equal(t, 512, type0.AllocationBytes)
	require.Equal(t, 1, type0.UnusedRangeCount)
	require.Equal(t, 2048, type0.UnusedRangeSizeMin)
	require.Equal(t, 2048, type0.UnusedRangeSizeMax)
	require.Equal(t, 2048, type0.UnusedBytes())

	type1 := stats.MemoryTypes[1]
	require.Equal(t, 1, type1.BlockCount)
	require.Equal(t, 6144, type1.BlockBytes)
	require.Equal(t, 3072, type1.AllocationBytes)

	type2 := stats.MemoryTypes[2]
	require.Equal(t, 0, type2.BlockCount)
	require.Equal(t, math.MaxInt, type2.UnusedRangeSizeMin)

	require.Equal(t, 2, stats.Total.BlockCount)
	require.Equal(t, 2560+6144, stats.Total.BlockBytes)
	require.Equal(t, 3, stats.Total.AllocationCount)
	require.Equal(t, 512+3072, stats.Total.AllocationBytes)
	require.Equal(t, allocator.TotalMemoryUsed(), stats.Total.AllocationBytes)
	require.Equal(t, 2, stats.Total.UnusedRangeCount)
	require.Equal(t, 2048, stats.Total.UnusedRangeSizeMin)
	require.Equal(t, 3072, stats.Total.UnusedRangeSizeMax)
}

func TestPoolAllocatorBuildStatsString(t *testing.T) {
	allocator := readyPoolAllocator(t, newFakeBackend(1), AllocatorCreateTrackAllocations)

	first, err := allocator.Alloc(deviceLocal, 0, 100)
	require.NoError(t, err)
	_, err = allocator.Alloc(deviceLocal, 0, 100)
	require.NoError(t, err)
	require.NoError(t, allocator.Free(first))

	var summary map[string]any
	require.NoError(t, json.Unmarshal([]byte(allocator.BuildStatsString(false)), &summary))
	require.NotContains(t, summary, "DefaultPools")

	general := summary["General"].(map[string]any)
	require.Equal(t, "PoolAllocator", general["Allocator"])
	require.Equal(t, float64(2560), general["TotalMemorySize"])
	require.Equal(t, float64(256), general["TotalMemoryUsed"])
	require.Equal(t, float64(1), general["AllocationCount"])
	require.Contains(t, general["Flags"], "AllocatorCreateTrackAllocations")

	config := summary["Config"].(map[string]any)
	require.Equal(t, float64(256), config["PageSize"])
	require.Equal(t, float64(2560), config["BlockMinSize"])

	total := summary["Total"].(map[string]any)
	require.Equal(t, float64(1), total["BlockCount"])
	require.Equal(t, float64(2), total["UnusedRangeCount"])

	heap0 := summary["MemoryInfo"].(map[string]any)["Heap 0"].(map[string]any)
	require.Equal(t, float64(1000000), heap0["Size"])
	budget := heap0["Budget"].(map[string]any)
	require.Equal(t, float64(2560), budget["BlockBytes"])
	type0 := heap0["MemoryTypes"].(map[string]any)["Type 0"].(map[string]any)
	require.Equal(t, float64(256), type0["AllocatedSize"])
	require.Contains(t, heap0["MemoryTypes"], "Type 2")
	require.NotContains(t, heap0["MemoryTypes"], "Type 1")

	var detailed map[string]any
	require.NoError(t, json.Unmarshal([]byte(allocator.BuildStatsString(true)), &detailed))

	pools := detailed["DefaultPools"].(map[string]any)
	require.NotContains(t, pools, "Type 1")

	block := pools["Type 0"].(map[string]any)["Blocks"].(map[string]any)["0"].(map[string]any)
	require.Equal(t, float64(2560), block["TotalBytes"])
	require.Equal(t, float64(2304), block["UnusedBytes"])
	require.Equal(t, float64(1), block["Allocations"])
	require.Equal(t, false, block["PageReserved"])
	require.Equal(t, []any{
		map[string]any{"Offset": float64(512), "Size": float64(2048)},
		map[string]any{"Offset": float64(0), "Size": float64(256)},
	}, block["FreeSpans"])
}

func TestPassThroughAllocatorBuildStatsString(t *testing.T) {
	allocator, err := NewPassThroughAllocator(testLogger(), newFakeBackend(1), CreateOptions{})
	require.NoError(t, err)

	_, err = allocator.Alloc(hostVisible, 1, 300)
	require.NoError(t, err)

	var detailed map[string]any
	require.NoError(t, json.Unmarshal([]byte(allocator.BuildStatsString(true)), &detailed))

	general := detailed["General"].(map[string]any)
	require.Equal(t, "PassThroughAllocator", general["Allocator"])
	require.NotContains(t, detailed, "Config")

	dedicated := detailed["DedicatedAllocations"].([]any)
	require.Equal(t, []any{
		map[string]any{
			"MemoryType": float64(1),
			"Block":      float64(0),
			"Offset":     float64(0),
			"Size":       float64(300),
		},
	}, dedicated)

	var summary map[string]any
	require.NoError(t, json.Unmarshal([]byte(allocator.BuildStatsString(false)), &summary))
	require.NotContains(t, summary, "DedicatedAllocations")
}
