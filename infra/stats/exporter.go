package stats

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Source is the read side of the pool.
type Source interface {
	TotalSize() uint64
	UsedSize() uint64
	RealUsedSize() uint64
	MaxUsedSize() uint64
	FreeSize() uint64
	Fragments() uint64
}

// Classes iterates the allocation request histogram.
type Classes interface {
	Each(fn func(class int, size, count uint64))
}

// Groups iterates the per-group accounting. A Source implementing it
// gets the shmem_group_* series.
type Groups interface {
	EachGroup(fn func(name string, fragments, used, realUsed uint64))
}

// Exporter is a prometheus.Collector over a Source.
type Exporter struct {
	gauges   []prometheus.GaugeFunc
	classes  Classes
	requests *prometheus.Desc

	groups     Groups
	groupFrags *prometheus.Desc
	groupUsed  *prometheus.Desc
	groupReal  *prometheus.Desc
}

// NewExporter builds the collector. classes may be nil.
func NewExporter(src Source, classes Classes) *Exporter {
	gauge := func(name, help string, fn func() uint64) prometheus.GaugeFunc {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help}, func() float64 {
			return float64(fn())
		})
	}
	e := &Exporter{
		gauges: []prometheus.GaugeFunc{
			gauge("shmem_total_size", "Size of the shared memory region in bytes.", src.TotalSize),
			gauge("shmem_used_size", "Bytes held by live allocations.", src.UsedSize),
			gauge("shmem_real_used_size", "Bytes held by live allocations and allocator bookkeeping.", src.RealUsedSize),
			gauge("shmem_max_used_size", "Peak of shmem_used_size since startup.", src.MaxUsedSize),
			gauge("shmem_free_size", "Bytes available for allocation.", src.FreeSize),
			gauge("shmem_fragments", "Number of fragments across all arenas.", src.Fragments),
		},
		classes: classes,
		requests: prometheus.NewDesc(
			"shmem_alloc_requests_total",
			"Allocation requests by size class since startup.",
			[]string{"size"}, nil,
		),
	}
	if g, ok := src.(Groups); ok {
		e.groups = g
		e.groupFrags = prometheus.NewDesc("shmem_group_fragments",
			"Live fragments charged to an accounting group.", []string{"group"}, nil)
		e.groupUsed = prometheus.NewDesc("shmem_group_memory_used",
			"Bytes held by live allocations of an accounting group.", []string{"group"}, nil)
		e.groupReal = prometheus.NewDesc("shmem_group_real_used",
			"Bytes held by an accounting group including fragment overhead.", []string{"group"}, nil)
	}
	return e
}

func (e *Exporter) Describe(ch chan<- *prometheus.Desc) {
	for _, g := range e.gauges {
		g.Describe(ch)
	}
	ch <- e.requests
	if e.groups != nil {
		ch <- e.groupFrags
		ch <- e.groupUsed
		ch <- e.groupReal
	}
}

func (e *Exporter) Collect(ch chan<- prometheus.Metric) {
	for _, g := range e.gauges {
		g.Collect(ch)
	}
	if e.groups != nil {
		e.groups.EachGroup(func(name string, fragments, used, realUsed uint64) {
			ch <- prometheus.MustNewConstMetric(e.groupFrags, prometheus.GaugeValue, float64(fragments), name)
			ch <- prometheus.MustNewConstMetric(e.groupUsed, prometheus.GaugeValue, float64(used), name)
			ch <- prometheus.MustNewConstMetric(e.groupReal, prometheus.GaugeValue, float64(realUsed), name)
		})
	}
	if e.classes == nil {
		return
	}
	e.classes.Each(func(_ int, size, count uint64) {
		ch <- prometheus.MustNewConstMetric(e.requests, prometheus.CounterValue, float64(count), strconv.FormatUint(size, 10))
	})
}
