package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/vkngwrapper/pagealloc/alloc"
)

const (
	descTotalMemory = iota
	descUsedMemory
	descLiveAllocations
	descAllocatedBytes
	descBlockCount
	descUnusedRanges
)

// Collector exposes the bookkeeping of an alloc.Allocator as Prometheus gauges. Values are read
// from the allocator on every scrape.
type Collector struct {
	allocator   alloc.Allocator
	descriptors []*prometheus.Desc
}

var _ prometheus.Collector = &Collector{}

// NewCollector creates a Collector whose metric names are prefixed with namespace
func NewCollector(namespace string, allocator alloc.Allocator) *Collector {
	return &Collector{
		allocator: allocator,
		descriptors: []*prometheus.Desc{
			descTotalMemory: prometheus.NewDesc(
				prometheus.BuildFQName(namespace, "", "total_memory_bytes"),
				"Bytes of native memory currently held by the allocator.",
				nil,
				nil,
			),
			descUsedMemory: prometheus.NewDesc(
				prometheus.BuildFQName(namespace, "", "used_memory_bytes"),
				"Bytes reserved by live allocations.",
				nil,
				nil,
			),
			descLiveAllocations: prometheus.NewDesc(
				prometheus.BuildFQName(namespace, "", "live_allocations"),
				"Number of live allocations.",
				nil,
				nil,
			),
			descAllocatedBytes: prometheus.NewDesc(
				prometheus.BuildFQName(namespace, "", "allocated_bytes"),
				"Per-memory-type allocated size as tracked by the allocator.",
				[]string{
					"memory_type",
				},
				nil,
			),
			descBlockCount: prometheus.NewDesc(
				prometheus.BuildFQName(namespace, "", "blocks"),
				"Number of native memory blocks of a memory type.",
				[]string{
					"memory_type",
				},
				nil,
			),
			descUnusedRanges: prometheus.NewDesc(
				prometheus.BuildFQName(namespace, "", "unused_ranges"),
				"Number of free spans in the blocks of a memory type.",
				[]string{
					"memory_type",
				},
				nil,
			),
		},
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range c.descriptors {
		ch <- d
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(
		c.descriptors[descTotalMemory],
		prometheus.GaugeValue,
		float64(c.allocator.TotalMemorySize()),
	)
	ch <- prometheus.MustNewConstMetric(
		c.descriptors[descUsedMemory],
		prometheus.GaugeValue,
		float64(c.allocator.TotalMemoryUsed()),
	)
	ch <- prometheus.MustNewConstMetric(
		c.descriptors[descLiveAllocations],
		prometheus.GaugeValue,
		float64(c.allocator.AllocationCount()),
	)

	stats := c.allocator.CalculateStatistics()
	for typeIndex := 0; typeIndex < c.allocator.MemoryTypeCount(); typeIndex++ {
		memoryType := strconv.Itoa(typeIndex)

		ch <- prometheus.MustNewConstMetric(
			c.descriptors[descAllocatedBytes],
			prometheus.GaugeValue,
			float64(c.allocator.AllocatedSize(typeIndex)),
			memoryType,
		)

		if typeIndex >= len(stats.MemoryTypes) {
			continue
		}

		ch <- prometheus.MustNewConstMetric(
			c.descriptors[descBlockCount],
			prometheus.GaugeValue,
			float64(stats.MemoryTypes[typeIndex].BlockCount),
			memoryType,
		)
		ch <- prometheus.MustNewConstMetric(
			c.descriptors[descUnusedRanges],
			prometheus.GaugeValue,
			float64(stats.MemoryTypes[typeIndex].UnusedRangeCount),
			memoryType,
		)
	}
}
