package alloc

import (
	"fmt"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/pagealloc/alloc/internal/vulkan"
	"github.com/vkngwrapper/pagealloc/memutils"
)

func newStatistics(memoryTypeCount int) Statistics {
	stats := Statistics{
		MemoryTypes: make([]memutils.DetailedStatistics, memoryTypeCount),
	}

	stats.Total.Clear()
	for i := range stats.MemoryTypes {
		stats.MemoryTypes[i].Clear()
	}

	return stats
}

func (s *Statistics) sumTotal() {
	for i := range s.MemoryTypes {
		s.Total.AddDetailedStatistics(&s.MemoryTypes[i])
	}
}

func printDetailedStatistics(json *jwriter.ObjectState, stats *memutils.DetailedStatistics) {
	json.Name("BlockCount").Int(stats.BlockCount)
	json.Name("BlockBytes").Int(stats.BlockBytes)
	json.Name("AllocationCount").Int(stats.AllocationCount)
	json.Name("AllocationBytes").Int(stats.AllocationBytes)
	json.Name("UnusedRangeCount").Int(stats.UnusedRangeCount)

	if stats.UnusedRangeCount > 0 {
		json.Name("UnusedRangeSizeMin").Int(stats.UnusedRangeSizeMin)
		json.Name("UnusedRangeSizeMax").Int(stats.UnusedRangeSizeMax)
	}
}

// printStats writes the sections shared by every allocator: general info, totals, and per-heap
// and per-type summaries
func (a *allocatorBase) printStats(json *jwriter.ObjectState, allocatorName string, stats *Statistics) {
	general := json.Name("General").Object()
	general.Name("Allocator").String(allocatorName)
	general.Name("Flags").String(a.createFlags.String())
	general.Name("MemoryTypeCount").Int(a.deviceMemory.MemoryTypeCount())
	general.Name("MemoryHeapCount").Int(a.deviceMemory.MemoryHeapCount())
	general.Name("TotalMemorySize").Int(a.totalMemorySize)
	general.Name("TotalMemoryUsed").Int(a.totalMemoryUsed)
	general.Name("AllocationCount").Int(a.allocationCount)
	general.End()

	total := json.Name("Total").Object()
	printDetailedStatistics(&total, &stats.Total)
	total.End()

	memoryInfo := json.Name("MemoryInfo").Object()
	defer memoryInfo.End()

	for heapIndex := 0; heapIndex < a.deviceMemory.MemoryHeapCount(); heapIndex++ {
		heapInfo := memoryInfo.Name(fmt.Sprintf("Heap %d", heapIndex)).Object()

		heapProperties := a.deviceMemory.MemoryHeapProperties(heapIndex)
		heapInfo.Name("Flags").String(heapProperties.Flags.String())
		heapInfo.Name("Size").Int(heapProperties.Size)

		var budget vulkan.Budget
		a.deviceMemory.HeapBudget(heapIndex, &budget)

		budgetObj := heapInfo.Name("Budget").Object()
		budgetObj.Name("BlockCount").Int(budget.Statistics.BlockCount)
		budgetObj.Name("BlockBytes").Int(budget.Statistics.BlockBytes)
		budgetObj.Name("Limit").Int(budget.Limit)
		budgetObj.End()

		memoryTypes := heapInfo.Name("MemoryTypes").Object()
		for typeIndex := 0; typeIndex < a.deviceMemory.MemoryTypeCount(); typeIndex++ {
			if a.deviceMemory.MemoryTypeIndexToHeapIndex(typeIndex) != heapIndex {
				continue
			}

			typeInfo := memoryTypes.Name(fmt.Sprintf("Type %d", typeIndex)).Object()
			typeInfo.Name("Flags").String(a.deviceMemory.MemoryTypeProperties(typeIndex).PropertyFlags.String())
			typeInfo.Name("AllocatedSize").Int(a.memoryTypeAllocationSizes[typeIndex])

			typeStats := typeInfo.Name("Stats").Object()
			printDetailedStatistics(&typeStats, &stats.MemoryTypes[typeIndex])
			typeStats.End()

			typeInfo.End()
		}
		memoryTypes.End()

		heapInfo.End()
	}
}

func (a *PoolAllocator) calculateStatistics() Statistics {
	stats := newStatistics(len(a.pools))
	for typeIndex := range a.pools {
		a.pools[typeIndex].AddDetailedStatistics(&stats.MemoryTypes[typeIndex])
	}
	stats.sumTotal()

	return stats
}

func (a *PoolAllocator) CalculateStatistics() Statistics {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	return a.calculateStatistics()
}

func (a *PoolAllocator) BuildStatsString(detailedMap bool) string {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	stats := a.calculateStatistics()

	writer := jwriter.NewWriter()
	root := writer.Object()

	a.printStats(&root, "PoolAllocator", &stats)

	config := root.Name("Config").Object()
	config.Name("PageSize").Int(a.pageSize)
	config.Name("BlockMinSize").Int(a.blockMinSize)
	config.End()

	if detailedMap {
		pools := root.Name("DefaultPools").Object()
		for typeIndex := range a.pools {
			if a.pools[typeIndex].BlockCount() == 0 {
				continue
			}

			poolObj := pools.Name(fmt.Sprintf("Type %d", typeIndex)).Object()
			a.pools[typeIndex].PrintDetailedMap(&poolObj)
			poolObj.End()
		}
		pools.End()
	}

	root.End()
	return string(writer.Bytes())
}

func (a *PassThroughAllocator) calculateStatistics() Statistics {
	stats := newStatistics(a.deviceMemory.MemoryTypeCount())

	a.dedicated.Iter(func(_ core1_0.DeviceMemory, allocation Allocation) bool {
		typeStats := &stats.MemoryTypes[allocation.memoryTypeIndex]
		typeStats.AddBlock(allocation.size)
		typeStats.AddAllocations(1, allocation.size)
		return false
	})
	stats.sumTotal()

	return stats
}

func (a *PassThroughAllocator) CalculateStatistics() Statistics {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	return a.calculateStatistics()
}

func (a *PassThroughAllocator) BuildStatsString(detailedMap bool) string {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	stats := a.calculateStatistics()

	writer := jwriter.NewWriter()
	root := writer.Object()

	a.printStats(&root, "PassThroughAllocator", &stats)

	if detailedMap {
		dedicated := root.Name("DedicatedAllocations").Array()
		a.dedicated.Iter(func(_ core1_0.DeviceMemory, allocation Allocation) bool {
			obj := dedicated.Object()
			allocation.printParameters(&obj)
			obj.End()
			return false
		})
		dedicated.End()
	}

	root.End()
	return string(writer.Bytes())
}
