package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/process"
)

// Usage is a CPU and memory sample for one process.
type Usage struct {
	PID        int32     `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryMB   float64   `json:"memory_mb"`
	NumThreads int32     `json:"num_threads"`
	Timestamp  time.Time `json:"timestamp"`
}

// ResourceProbe samples supervised processes with gopsutil and exports the
// results as gauges.
type ResourceProbe struct {
	interval time.Duration

	mu     sync.RWMutex
	last   map[string]Usage
	handle map[int32]*process.Process

	cpu     *prometheus.GaugeVec
	memory  *prometheus.GaugeVec
	threads *prometheus.GaugeVec
}

func NewResourceProbe(interval time.Duration) *ResourceProbe {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &ResourceProbe{
		interval: interval,
		last:     map[string]Usage{},
		handle:   map[int32]*process.Process{},
		cpu: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "process", Name: "cpu_percent",
			Help: "CPU usage percent of a supervised process.",
		}, []string{"name"}),
		memory: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "process", Name: "memory_mb",
			Help: "Resident memory of a supervised process in MB.",
		}, []string{"name"}),
		threads: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "process", Name: "threads",
			Help: "Thread count of a supervised process.",
		}, []string{"name"}),
	}
}

func (p *ResourceProbe) Register(r prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{p.cpu, p.memory, p.threads} {
		if err := r.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Run samples pids() every interval until ctx is done.
func (p *ResourceProbe) Run(ctx context.Context, pids func() map[string]int) {
	t := time.NewTicker(p.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			p.Collect(pids())
		}
	}
}

// Collect samples each named pid once. Names with pid <= 0 are dropped.
func (p *ResourceProbe) Collect(pids map[string]int) {
	now := time.Now()
	next := make(map[string]Usage, len(pids))
	handles := make(map[int32]*process.Process, len(pids))
	for name, pid := range pids {
		if pid <= 0 {
			continue
		}
		u, h, err := p.sample(int32(pid), now)
		if err != nil {
			slog.Debug("process sample failed", "name", name, "pid", pid, "error", err)
			continue
		}
		next[name] = u
		handles[int32(pid)] = h
		p.cpu.WithLabelValues(name).Set(u.CPUPercent)
		p.memory.WithLabelValues(name).Set(u.MemoryMB)
		p.threads.WithLabelValues(name).Set(float64(u.NumThreads))
	}

	p.mu.Lock()
	for name := range p.last {
		if _, ok := next[name]; !ok {
			p.cpu.DeleteLabelValues(name)
			p.memory.DeleteLabelValues(name)
			p.threads.DeleteLabelValues(name)
		}
	}
	p.last = next
	p.handle = handles
	p.mu.Unlock()
}

// sample reuses the handle from the previous round so CPUPercent measures
// the interval between samples.
func (p *ResourceProbe) sample(pid int32, now time.Time) (Usage, *process.Process, error) {
	p.mu.RLock()
	h := p.handle[pid]
	p.mu.RUnlock()
	if h == nil {
		var err error
		if h, err = process.NewProcess(pid); err != nil {
			return Usage{}, nil, fmt.Errorf("open process: %w", err)
		}
	}
	mem, err := h.MemoryInfo()
	if err != nil {
		return Usage{}, nil, fmt.Errorf("memory info: %w", err)
	}
	cpu, err := h.Percent(0)
	if err != nil {
		cpu = 0
	}
	threads, _ := h.NumThreads()
	return Usage{
		PID:        pid,
		CPUPercent: cpu,
		MemoryMB:   float64(mem.RSS) / 1024 / 1024,
		NumThreads: threads,
		Timestamp:  now,
	}, h, nil
}

// Get returns the last sample for name.
func (p *ResourceProbe) Get(name string) (Usage, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	u, ok := p.last[name]
	return u, ok
}

// All returns a copy of the last samples.
func (p *ResourceProbe) All() map[string]Usage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]Usage, len(p.last))
	for k, v := range p.last {
		out[k] = v
	}
	return out
}
