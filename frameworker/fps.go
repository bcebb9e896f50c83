package frameworker

import (
	"sync"
	"time"
)

// fpsMeter is a ring buffer of frame arrival times
type fpsMeter struct {
	mu     sync.Mutex
	buf    []time.Time
	cursor int
	filled bool
}

func newFPSMeter(window int) *fpsMeter {
	if window < 2 {
		window = 2
	}
	return &fpsMeter{buf: make([]time.Time, window)}
}

// Mark records a frame arrival
func (m *fpsMeter) Mark(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buf[m.cursor] = t
	m.cursor++
	if m.cursor == len(m.buf) {
		m.cursor = 0
		m.filled = true
	}
}

// Rate is the frame rate over the window.  It is -1 when no frame has
// arrived within stale of now, which is how a dead backend is reported.
func (m *fpsMeter) Rate(now time.Time, stale time.Duration) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.cursor
	oldest := m.buf[0]
	if m.filled {
		n = len(m.buf)
		oldest = m.buf[m.cursor]
	}
	if n == 0 {
		return -1
	}
	newest := m.buf[(m.cursor-1+len(m.buf))%len(m.buf)]
	if now.Sub(newest) > stale {
		return -1
	}
	if n < 2 {
		return 0
	}
	dt := newest.Sub(oldest).Seconds()
	if dt <= 0 {
		return 0
	}
	return float64(n-1) / dt
}
