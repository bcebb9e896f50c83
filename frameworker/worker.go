// Package frameworker runs the acquisition loop: it reads raw frames from a
// camera.Source, restores their spatial order, applies dark subtraction and
// publishes the result to any number of readers.
package frameworker

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nasa-jpl/liveview/camera"
	"github.com/nasa-jpl/liveview/darksub"
	"github.com/nasa-jpl/liveview/frame"
	"github.com/nasa-jpl/liveview/interlace"
)

var (
	// ErrRunning is returned by Run if the worker is already running
	ErrRunning = errors.New("frameworker: already running")

	// ErrNoFrame is returned when no frame has been published yet
	ErrNoFrame = errors.New("frameworker: no frame received yet")
)

// Options configures a Worker.  Zero values select the defaults.
type Options struct {
	// Taps is the sensor readout tap count, default interlace.DefaultTaps
	Taps int

	// MaskFrames is the number of frames averaged into a dark mask, default 100
	MaskFrames int

	// FPSWindow is the number of frame arrivals the frame rate is computed over, default 30
	FPSWindow int

	// StaleAfter is how long without a frame before FPS reports -1, default 2s
	StaleAfter time.Duration

	// InitRetries bounds the attempts to initialize the source, default 5
	InitRetries uint64

	// ErrorPause is the wait after a failed read, default 100ms
	ErrorPause time.Duration

	// Registerer receives the worker's metrics.  If nil, a private registry is used
	Registerer prometheus.Registerer
}

func (o *Options) defaults() {
	if o.Taps == 0 {
		o.Taps = interlace.DefaultTaps
	}
	if o.MaskFrames == 0 {
		o.MaskFrames = 100
	}
	if o.FPSWindow == 0 {
		o.FPSWindow = 30
	}
	if o.StaleAfter == 0 {
		o.StaleAfter = 2 * time.Second
	}
	if o.InitRetries == 0 {
		o.InitRetries = 5
	}
	if o.ErrorPause == 0 {
		o.ErrorPause = 100 * time.Millisecond
	}
	if o.Registerer == nil {
		o.Registerer = prometheus.NewRegistry()
	}
}

// Worker owns one source and the per-stream processing state.
// Everything but Run is safe to call from any goroutine.
type Worker struct {
	src     camera.Source
	geom    interlace.Geometry
	di      *interlace.Deinterlacer
	dsf     *darksub.Filter
	fps     *fpsMeter
	opts    Options
	session string

	// Metrics are the worker's prometheus collectors
	Metrics *Metrics

	runMu   sync.Mutex
	running bool

	// raw is only touched by the Run goroutine
	raw []uint16

	mu      sync.RWMutex
	pub     []uint16
	pubSeq  uint64
	pubTime time.Time
	notify  chan struct{}
}

// New builds a worker for src.  The geometry comes from src.GetRes and the
// tap count from opts; an unsupported geometry is an error here rather than
// a failure in the capture loop.
func New(src camera.Source, opts Options) (*Worker, error) {
	opts.defaults()
	res, err := src.GetRes()
	if err != nil {
		return nil, err
	}
	geom := interlace.Geometry{Rows: res[0], Cols: res[1], Taps: opts.Taps}
	di, err := interlace.NewWithGeometry(geom)
	if err != nil {
		return nil, err
	}
	n := geom.FrameSize()
	w := &Worker{
		src:     src,
		geom:    geom,
		di:      di,
		dsf:     darksub.New(n, opts.MaskFrames),
		fps:     newFPSMeter(opts.FPSWindow),
		opts:    opts,
		session: uuid.New().String(),
		raw:     make([]uint16, n),
		pub:     make([]uint16, n),
		notify:  make(chan struct{}),
	}
	w.Metrics = newMetrics(opts.Registerer, w.FPS)
	return w, nil
}

// Geometry returns the sensor geometry
func (w *Worker) Geometry() interlace.Geometry {
	return w.geom
}

// Session is a random identifier for this worker, recorded in file headers
// so frames from one run can be grouped
func (w *Worker) Session() string {
	return w.session
}

// Run initializes the source and processes frames until ctx is done or the
// source is exhausted (io.EOF), in which case it returns nil.
func (w *Worker) Run(ctx context.Context) error {
	w.runMu.Lock()
	if w.running {
		w.runMu.Unlock()
		return ErrRunning
	}
	w.running = true
	w.runMu.Unlock()
	defer func() {
		w.runMu.Lock()
		w.running = false
		w.runMu.Unlock()
	}()

	err := w.initialize(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := w.src.Finalize(); err != nil {
			log.Println("error finalizing frame source:", err)
		}
	}()

	for {
		err := w.src.ReadFrame(ctx, w.raw)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				log.Println("frame source exhausted")
				return nil
			}
			w.Metrics.ReadErrors.Inc()
			log.Println("error reading frame:", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.opts.ErrorPause):
			}
			continue
		}
		if err := w.process(); err != nil {
			log.Println("error processing frame:", err)
			continue
		}
		w.publish(time.Now())
	}
}

func (w *Worker) initialize(ctx context.Context) error {
	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), w.opts.InitRetries), ctx)
	notify := func(err error, d time.Duration) {
		log.Printf("frame source initialization failed: %v, retrying in %v\n", err, d)
	}
	err := backoff.RetryNotify(w.src.Initialize, b, notify)
	if err != nil {
		return err
	}
	log.Printf("frame source initialized, %dx%d with %d taps\n", w.geom.Rows, w.geom.Cols, w.geom.Taps)
	return nil
}

func (w *Worker) process() error {
	if err := w.di.Apply(w.raw); err != nil {
		return err
	}
	wasCollecting := w.dsf.Collecting()
	if err := w.dsf.Apply(w.raw); err != nil {
		return err
	}
	if wasCollecting && !w.dsf.Collecting() && w.dsf.MaskValid() {
		w.Metrics.MasksCollected.Inc()
	}
	return nil
}

// publish swaps the freshly processed buffer in for readers
func (w *Worker) publish(now time.Time) {
	w.mu.Lock()
	w.raw, w.pub = w.pub, w.raw
	w.pubSeq++
	w.pubTime = now
	close(w.notify)
	w.notify = make(chan struct{})
	w.mu.Unlock()
	w.fps.Mark(now)
	w.Metrics.Frames.Inc()
}

// copyLocked must be called with mu held for reading
func (w *Worker) copyLocked() frame.Frame {
	return frame.Frame{
		Rows: w.geom.Rows,
		Cols: w.geom.Cols,
		Seq:  w.pubSeq,
		Time: w.pubTime,
		Pix:  append([]uint16(nil), w.pub...),
	}
}

// Latest returns a copy of the newest frame, or ErrNoFrame
func (w *Worker) Latest() (frame.Frame, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.pubSeq == 0 {
		return frame.Frame{}, ErrNoFrame
	}
	return w.copyLocked(), nil
}

// Next waits for a frame with sequence number greater than after
func (w *Worker) Next(ctx context.Context, after uint64) (frame.Frame, error) {
	for {
		w.mu.RLock()
		if w.pubSeq > after {
			f := w.copyLocked()
			w.mu.RUnlock()
			return f, nil
		}
		ch := w.notify
		w.mu.RUnlock()
		select {
		case <-ctx.Done():
			return frame.Frame{}, ctx.Err()
		case <-ch:
		}
	}
}

// FrameCount is the number of frames published so far
func (w *Worker) FrameCount() uint64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.pubSeq
}

// FPS is the backend frame rate, or -1 if frames are not arriving
func (w *Worker) FPS() float64 {
	return w.fps.Rate(time.Now(), w.opts.StaleAfter)
}

// ReportFPS calls fn with the frame rate every interval until ctx is done
func (w *Worker) ReportFPS(ctx context.Context, interval time.Duration, fn func(float64)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(w.FPS())
		}
	}
}

// CollectMask starts collecting a dark mask
func (w *Worker) CollectMask() {
	log.Printf("collecting dark mask over %d frames\n", w.dsf.MaskFrames())
	w.dsf.StartCollecting()
}

// StopCollectingMask stops collecting a dark mask
func (w *Worker) StopCollectingMask() {
	w.dsf.StopCollecting()
}

// SetMaskCollecting starts or stops mask collection
func (w *Worker) SetMaskCollecting(b bool) error {
	if b {
		w.CollectMask()
	} else {
		w.StopCollectingMask()
	}
	return nil
}

// ToggleMask flips mask collection and returns the new state
func (w *Worker) ToggleMask() bool {
	if w.dsf.Collecting() {
		w.StopCollectingMask()
		return false
	}
	w.CollectMask()
	return true
}

// MaskCollecting reports whether a dark mask is being collected
func (w *Worker) MaskCollecting() (bool, error) {
	return w.dsf.Collecting(), nil
}

// MaskValid reports whether dark subtraction is active
func (w *Worker) MaskValid() (bool, error) {
	return w.dsf.MaskValid(), nil
}

// ClearMask disables dark subtraction
func (w *Worker) ClearMask() {
	w.dsf.ClearMask()
}

// MaskCollected receives a value each time a mask completes on its own
func (w *Worker) MaskCollected() <-chan struct{} {
	return w.dsf.Collected()
}
