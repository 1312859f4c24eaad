package app

import (
	"sync/atomic"
	"time"

	"github.com/dshills/tasksmith/internal/integration/process"
	"github.com/dshills/tasksmith/internal/integration/task"
)

// Metrics counts task executions. It is a process.Listener.
type Metrics struct {
	started   atomic.Uint64
	succeeded atomic.Uint64
	failed    atomic.Uint64
	canceled  atomic.Uint64
	running   atomic.Int64
	lines     atomic.Uint64
	reveals   atomic.Uint64

	runTotalNs atomic.Int64
	runMinNs   atomic.Int64
	runMaxNs   atomic.Int64

	startTime time.Time
}

// NewMetrics creates a metrics tracker.
func NewMetrics() *Metrics {
	m := &Metrics{startTime: time.Now()}
	m.runMinNs.Store(1<<63 - 1)
	return m
}

// OnStarted implements process.Listener.
func (m *Metrics) OnStarted(*process.Execution) {
	m.started.Add(1)
	m.running.Add(1)
}

// OnOutput implements process.Listener.
func (m *Metrics) OnOutput(*process.Execution, process.OutputLine) {
	m.lines.Add(1)
}

// OnReveal implements process.Listener.
func (m *Metrics) OnReveal(*process.Execution, task.RevealStrategy) {
	m.reveals.Add(1)
}

// OnCompleted implements process.Listener.
func (m *Metrics) OnCompleted(e *process.Execution) {
	m.running.Add(-1)
	switch e.State() {
	case process.ExecutionStateSucceeded:
		m.succeeded.Add(1)
	case process.ExecutionStateCanceled:
		m.canceled.Add(1)
	default:
		m.failed.Add(1)
	}
	m.recordDuration(e.Duration())
}

func (m *Metrics) recordDuration(d time.Duration) {
	ns := d.Nanoseconds()
	m.runTotalNs.Add(ns)

	for {
		old := m.runMinNs.Load()
		if ns >= old || m.runMinNs.CompareAndSwap(old, ns) {
			break
		}
	}
	for {
		old := m.runMaxNs.Load()
		if ns <= old || m.runMaxNs.CompareAndSwap(old, ns) {
			break
		}
	}
}

// Snapshot returns the current counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	s := MetricsSnapshot{
		Uptime:      time.Since(m.startTime),
		Started:     m.started.Load(),
		Succeeded:   m.succeeded.Load(),
		Failed:      m.failed.Load(),
		Canceled:    m.canceled.Load(),
		Running:     m.running.Load(),
		OutputLines: m.lines.Load(),
		Reveals:     m.reveals.Load(),
		MaxRun:      time.Duration(m.runMaxNs.Load()),
	}
	if minNs := m.runMinNs.Load(); minNs != 1<<63-1 {
		s.MinRun = time.Duration(minNs)
	}
	if done := s.Completed(); done > 0 {
		s.AvgRun = time.Duration(m.runTotalNs.Load() / int64(done))
	}
	return s
}

// MetricsSnapshot is a point-in-time view of Metrics.
type MetricsSnapshot struct {
	Uptime      time.Duration
	Started     uint64
	Succeeded   uint64
	Failed      uint64
	Canceled    uint64
	Running     int64
	OutputLines uint64
	Reveals     uint64
	AvgRun      time.Duration
	MinRun      time.Duration
	MaxRun      time.Duration
}

// Completed returns the number of finished executions.
func (s MetricsSnapshot) Completed() uint64 {
	return s.Succeeded + s.Failed + s.Canceled
}

// FailureRate returns the percentage of finished executions that failed.
func (s MetricsSnapshot) FailureRate() float64 {
	done := s.Completed()
	if done == 0 {
		return 0
	}
	return float64(s.Failed) / float64(done) * 100
}
