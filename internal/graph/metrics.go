package graph

import (
	"sync/atomic"
	"time"
)

// LockMetrics tracks store lock acquisitions and hold times. All fields are
// atomics; recording happens on the store's hot paths.
type LockMetrics struct {
	writeCount   atomic.Uint64
	writeTotalNs atomic.Uint64
	writeMaxNs   atomic.Uint64

	readCount   atomic.Uint64
	readTotalNs atomic.Uint64
	readMaxNs   atomic.Uint64
}

// LockMetricsSnapshot is a point-in-time view of the lock metrics.
type LockMetricsSnapshot struct {
	WriteLockCount uint64 `json:"write_lock_count"`
	WriteLockAvgUs uint64 `json:"write_lock_avg_us"`
	WriteLockMaxUs uint64 `json:"write_lock_max_us"`
	ReadLockCount  uint64 `json:"read_lock_count"`
	ReadLockAvgUs  uint64 `json:"read_lock_avg_us"`
	ReadLockMaxUs  uint64 `json:"read_lock_max_us"`
}

func (m *LockMetrics) recordWrite(d time.Duration) {
	ns := uint64(d.Nanoseconds())
	m.writeCount.Add(1)
	m.writeTotalNs.Add(ns)
	storeMax(&m.writeMaxNs, ns)
}

func (m *LockMetrics) recordRead(d time.Duration) {
	ns := uint64(d.Nanoseconds())
	m.readCount.Add(1)
	m.readTotalNs.Add(ns)
	storeMax(&m.readMaxNs, ns)
}

func storeMax(a *atomic.Uint64, v uint64) {
	for {
		cur := a.Load()
		if v <= cur || a.CompareAndSwap(cur, v) {
			return
		}
	}
}

// Snapshot returns the current metric values.
func (m *LockMetrics) Snapshot() LockMetricsSnapshot {
	wc := m.writeCount.Load()
	rc := m.readCount.Load()
	s := LockMetricsSnapshot{
		WriteLockCount: wc,
		WriteLockMaxUs: m.writeMaxNs.Load() / 1000,
		ReadLockCount:  rc,
		ReadLockMaxUs:  m.readMaxNs.Load() / 1000,
	}
	if wc > 0 {
		s.WriteLockAvgUs = m.writeTotalNs.Load() / wc / 1000
	}
	if rc > 0 {
		s.ReadLockAvgUs = m.readTotalNs.Load() / rc / 1000
	}
	return s
}

// Reset zeroes all counters. Useful after warmup.
func (m *LockMetrics) Reset() {
	m.writeCount.Store(0)
	m.writeTotalNs.Store(0)
	m.writeMaxNs.Store(0)
	m.readCount.Store(0)
	m.readTotalNs.Store(0)
	m.readMaxNs.Store(0)
}
