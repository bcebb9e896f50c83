// Package darksub collects a dark mask and subtracts it from frames.
//
// The controlling surface only needs a start/stop toggle and a notification
// when the mask is complete.  While collecting, frames pass through
// unchanged and are averaged into the mask; once MaskFrames have been seen
// the mask is finalized, collection stops, and one value is sent on
// Collected.
package darksub

import (
	"errors"
	"fmt"
	"sync"
)

// ErrSize is returned by Apply when a frame does not match the filter size
var ErrSize = errors.New("darksub: frame size does not match the mask")

// Filter is a dark subtraction filter.  It is safe for concurrent use, so a
// control surface may toggle collection while the acquisition loop calls Apply.
type Filter struct {
	size       int
	maskFrames int

	mu         sync.Mutex
	collecting bool
	sum        []uint64
	count      int
	mask       []uint16
	valid      bool

	collected chan struct{}
}

// New returns a filter for frames of size samples that averages maskFrames
// frames into its mask
func New(size, maskFrames int) *Filter {
	if maskFrames < 1 {
		maskFrames = 1
	}
	return &Filter{
		size:       size,
		maskFrames: maskFrames,
		sum:        make([]uint64, size),
		mask:       make([]uint16, size),
		collected:  make(chan struct{}, 1),
	}
}

// MaskFrames is the number of frames averaged into a mask
func (f *Filter) MaskFrames() int {
	return f.maskFrames
}

// StartCollecting discards any partial accumulation and begins a new mask.
// The previous mask, if any, stays in use until the new one is finalized.
func (f *Filter) StartCollecting() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.sum {
		f.sum[i] = 0
	}
	f.count = 0
	f.collecting = true
}

// StopCollecting ends collection early.  If any frames were accumulated the
// mask is finalized from them.
func (f *Filter) StopCollecting() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.collecting {
		return
	}
	f.collecting = false
	if f.count > 0 {
		f.finalize()
	}
}

// Collecting reports whether frames are currently being averaged
func (f *Filter) Collecting() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.collecting
}

// MaskValid reports whether a mask is available for subtraction
func (f *Filter) MaskValid() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.valid
}

// ClearMask drops the current mask; frames pass through unchanged afterwards
func (f *Filter) ClearMask() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.valid = false
}

// Mask returns a copy of the current mask, nil if none is valid
func (f *Filter) Mask() []uint16 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.valid {
		return nil
	}
	return append([]uint16(nil), f.mask...)
}

// Collected receives a value each time collection completes on its own.
// The channel is buffered by one; notifications are dropped if nobody reads.
func (f *Filter) Collected() <-chan struct{} {
	return f.collected
}

// Apply accumulates buf into the mask while collecting, otherwise subtracts
// the mask from buf in place, clamping at zero
func (f *Filter) Apply(buf []uint16) error {
	if len(buf) != f.size {
		return fmt.Errorf("%w: got %d, want %d", ErrSize, len(buf), f.size)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.collecting {
		for i, v := range buf {
			f.sum[i] += uint64(v)
		}
		f.count++
		if f.count >= f.maskFrames {
			f.collecting = false
			f.finalize()
			select {
			case f.collected <- struct{}{}:
			default:
			}
		}
		return nil
	}
	if !f.valid {
		return nil
	}
	for i, v := range buf {
		m := f.mask[i]
		if v > m {
			buf[i] = v - m
		} else {
			buf[i] = 0
		}
	}
	return nil
}

// finalize must be called with mu held
func (f *Filter) finalize() {
	n := uint64(f.count)
	for i, s := range f.sum {
		f.mask[i] = uint16((s + n/2) / n)
	}
	f.valid = true
}
