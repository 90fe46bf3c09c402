package engine

import (
	"log/slog"
	"sync"
	"time"
)

// Heartbeat probe tuning. A task that pins the runtime (busy loop with
// GOMAXPROCS saturated, or blocking work on a locked OS thread) starves
// every other goroutine; the probe measures the largest gap between 200 ms
// wake-ups to catch it. Detection is diagnostic only.
const (
	probeTick          = 200 * time.Millisecond
	probeGapThreshold  = time.Second
	probeCallThreshold = time.Second
	probeInitial       = 5
	probeInterval      = 50
)

type probeStats struct {
	calls      int
	cleanCalls int
	warned     bool
}

// blockMonitor flags task and metric functions that starve the scheduler.
// One warning per function identity; after probeInitial clean calls probing
// is skipped, re-armed every probeInterval-th call to catch regressions.
type blockMonitor struct {
	log *slog.Logger

	mu    sync.Mutex
	stats map[uintptr]*probeStats
}

func newBlockMonitor(log *slog.Logger) *blockMonitor {
	return &blockMonitor{log: log, stats: make(map[uintptr]*probeStats)}
}

// shouldProbe records the call and decides whether this invocation is probed.
func (m *blockMonitor) shouldProbe(fn uintptr) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.stats[fn]
	if !ok {
		st = &probeStats{}
		m.stats[fn] = st
	}
	st.calls++

	if st.cleanCalls < probeInitial {
		return true
	}
	return st.calls%probeInterval == 0
}

// observe records the probe outcome and emits the one-time warning.
func (m *blockMonitor) observe(fn uintptr, name string, maxGap, elapsed time.Duration) {
	blocking := maxGap > probeGapThreshold && elapsed > probeCallThreshold

	m.mu.Lock()
	st := m.stats[fn]
	if st == nil {
		st = &probeStats{}
		m.stats[fn] = st
	}
	if blocking {
		st.cleanCalls = 0
	} else {
		st.cleanCalls++
	}
	warn := blocking && !st.warned
	if warn {
		st.warned = true
	}
	m.mu.Unlock()

	if warn {
		m.log.Warn("function likely blocking the scheduler",
			"function", name,
			"max_gap_ms", maxGap.Milliseconds(),
			"call_ms", elapsed.Milliseconds(),
		)
	}
}

// watch runs call, probing it with a concurrent heartbeat when due.
// The probe never aborts the call.
func (m *blockMonitor) watch(fn uintptr, name string, call func()) {
	if m == nil || !m.shouldProbe(fn) {
		call()
		return
	}

	stop := make(chan struct{})
	gapCh := make(chan time.Duration, 1)
	go func() {
		ticker := time.NewTicker(probeTick)
		defer ticker.Stop()

		var maxGap time.Duration
		last := time.Now()
		for {
			select {
			case <-stop:
				gapCh <- maxGap
				return
			case now := <-ticker.C:
				if gap := now.Sub(last); gap > maxGap {
					maxGap = gap
				}
				last = now
			}
		}
	}()

	start := time.Now()
	call()
	elapsed := time.Since(start)

	close(stop)
	m.observe(fn, name, <-gapCh, elapsed)
}
