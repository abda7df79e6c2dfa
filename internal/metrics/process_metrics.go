package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// ProcessMetrics holds CPU and memory figures for the supervised child.
type ProcessMetrics struct {
	PID        int32     `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryMB   float64   `json:"memory_mb"`
	MemoryRSS  uint64    `json:"memory_rss"`
	MemoryVMS  uint64    `json:"memory_vms"`
	NumThreads int32     `json:"num_threads"`
	NumFDs     int32     `json:"num_fds,omitempty"` // Unix only
	Timestamp  time.Time `json:"timestamp"`
}

// ProcessMetricsConfig holds configuration for child resource sampling.
type ProcessMetricsConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Interval   time.Duration `mapstructure:"interval"`
	MaxHistory int           `mapstructure:"max_history"`
}

// ProcessSampler periodically samples the resources of whatever pid the
// supplied function reports and keeps a bounded history.
type ProcessSampler struct {
	enabled    bool
	interval   time.Duration
	maxHistory int

	mu      sync.RWMutex
	handle  *process.Process
	history []ProcessMetrics

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewProcessSampler applies defaults (5s interval, 100 samples of history).
func NewProcessSampler(cfg ProcessMetricsConfig) *ProcessSampler {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = 100
	}
	return &ProcessSampler{
		enabled:    cfg.Enabled,
		interval:   cfg.Interval,
		maxHistory: cfg.MaxHistory,
		stopCh:     make(chan struct{}),
	}
}

// Start launches the sampling loop. pid returns 0 when no child is running.
func (s *ProcessSampler) Start(ctx context.Context, pid func() int) {
	if !s.enabled {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				p := pid()
				if p <= 0 {
					s.reset()
					continue
				}
				m, err := s.Sample(ctx, p)
				if err != nil {
					slog.Debug("child resource sample failed", "pid", p, "error", err)
					continue
				}
				s.record(m)
			}
		}
	}()
}

// Stop stops the sampling loop and waits for it to exit.
func (s *ProcessSampler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

// Sample takes a one-shot measurement of pid. The process handle is cached
// between calls so CPU percentages are computed over the sampling interval.
func (s *ProcessSampler) Sample(ctx context.Context, pid int) (ProcessMetrics, error) {
	s.mu.Lock()
	h := s.handle
	if h == nil || h.Pid != int32(pid) {
		var err error
		h, err = process.NewProcessWithContext(ctx, int32(pid))
		if err != nil {
			s.mu.Unlock()
			return ProcessMetrics{}, fmt.Errorf("failed to create process handle: %w", err)
		}
		s.handle = h
	}
	s.mu.Unlock()

	cpu, err := h.CPUPercentWithContext(ctx)
	if err != nil {
		cpu = 0
	}
	mem, err := h.MemoryInfoWithContext(ctx)
	if err != nil {
		return ProcessMetrics{}, fmt.Errorf("failed to get memory info: %w", err)
	}
	threads, err := h.NumThreadsWithContext(ctx)
	if err != nil {
		threads = 0
	}
	m := ProcessMetrics{
		PID:        int32(pid),
		CPUPercent: cpu,
		MemoryMB:   float64(mem.RSS) / 1024 / 1024,
		MemoryRSS:  mem.RSS,
		MemoryVMS:  mem.VMS,
		NumThreads: threads,
		Timestamp:  time.Now(),
	}
	if runtime.GOOS != "windows" {
		if fds, err := h.NumFDsWithContext(ctx); err == nil {
			m.NumFDs = fds
		}
	}
	setChildResources(m.CPUPercent, m.MemoryRSS)
	return m, nil
}

func (s *ProcessSampler) record(m ProcessMetrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, m)
	if over := len(s.history) - s.maxHistory; over > 0 {
		s.history = append(s.history[:0], s.history[over:]...)
	}
}

func (s *ProcessSampler) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handle = nil
	s.history = s.history[:0]
	setChildResources(0, 0)
}

// Latest returns the most recent periodic sample.
func (s *ProcessSampler) Latest() (ProcessMetrics, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.history) == 0 {
		return ProcessMetrics{}, false
	}
	return s.history[len(s.history)-1], true
}

// History returns a copy of the retained samples, oldest first.
func (s *ProcessSampler) History() []ProcessMetrics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ProcessMetrics, len(s.history))
	copy(out, s.history)
	return out
}
