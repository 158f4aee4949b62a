package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// FileName is the textfile-collector output inside the data directory.
const FileName = "metrics.prom"

// Recorder collects watchdog metrics in a private registry and writes them
// to a file in the node_exporter textfile format. A nil *Recorder is valid
// and records nothing.
type Recorder struct {
	path string
	reg  *prometheus.Registry

	ticks            prometheus.Counter
	relaunches       *prometheus.CounterVec
	relaunchFailures *prometheus.CounterVec
	up               *prometheus.GaugeVec
	rss              *prometheus.GaugeVec

	mu sync.Mutex
}

// New returns a Recorder that flushes to path. An empty path keeps metrics
// in memory only.
func New(path string) *Recorder {
	r := &Recorder{
		path: path,
		reg:  prometheus.NewRegistry(),
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "shieldserve",
			Subsystem: "watchdog",
			Name:      "ticks_total",
			Help:      "Number of completed poll cycles.",
		}),
		relaunches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shieldserve",
			Subsystem: "watchdog",
			Name:      "relaunches_total",
			Help:      "Number of successful relaunches after a process died.",
		}, []string{"role"}),
		relaunchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shieldserve",
			Subsystem: "watchdog",
			Name:      "relaunch_failures_total",
			Help:      "Number of relaunch attempts that failed to start a process.",
		}, []string{"role"}),
		up: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "shieldserve",
			Subsystem: "process",
			Name:      "up",
			Help:      "Whether the supervised process was alive at the last poll (1 = alive).",
		}, []string{"role"}),
		rss: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "shieldserve",
			Subsystem: "process",
			Name:      "resident_memory_bytes",
			Help:      "Resident set size of the supervised process at the last poll.",
		}, []string{"role"}),
	}
	r.reg.MustRegister(r.ticks, r.relaunches, r.relaunchFailures, r.up, r.rss)
	return r
}

// Gatherer exposes the underlying registry.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.reg
}

func (r *Recorder) Tick() {
	if r != nil {
		r.ticks.Inc()
	}
}

func (r *Recorder) Relaunched(role string) {
	if r != nil {
		r.relaunches.WithLabelValues(role).Inc()
	}
}

func (r *Recorder) RelaunchFailed(role string) {
	if r != nil {
		r.relaunchFailures.WithLabelValues(role).Inc()
	}
}

// Observe records liveness and, for live processes, resident memory.
func (r *Recorder) Observe(role string, pid int, alive bool) {
	if r == nil {
		return
	}
	if !alive {
		r.up.WithLabelValues(role).Set(0)
		r.rss.WithLabelValues(role).Set(0)
		return
	}
	r.up.WithLabelValues(role).Set(1)
	if p, err := gopsproc.NewProcess(int32(pid)); err == nil {
		if mi, err := p.MemoryInfo(); err == nil && mi != nil {
			r.rss.WithLabelValues(role).Set(float64(mi.RSS))
		}
	}
}

// Flush writes the current values to the textfile. It is a no-op without a
// path.
func (r *Recorder) Flush() error {
	if r == nil || r.path == "" {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return prometheus.WriteToTextfile(r.path, r.reg)
}
