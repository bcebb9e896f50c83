/*Package camera describes the boundary between the acquisition loop and
whatever produces raw sensor frames

A Source hands out frames exactly as the sensor reads them, tap interleaved.
Reordering them is the acquisition loop's job, see package interlace.

*/
package camera

import (
	"context"
	"errors"
)

var (
	// ErrNotInitialized is returned by ReadFrame before Initialize succeeds
	ErrNotInitialized = errors.New("camera: source is not initialized")

	// ErrShortBuffer is returned when the buffer given to ReadFrame cannot hold a frame
	ErrShortBuffer = errors.New("camera: buffer is smaller than one frame")
)

// Source describes a producer of raw frames.
type Source interface {
	// Initialize prepares the source, for example opening a file or
	// connecting to a frame grabber.  It may be retried.
	Initialize() error

	// Finalize releases whatever Initialize acquired
	Finalize() error

	// GetRes gets the (H, W) of the frames returned by ReadFrame
	GetRes() ([2]int, error)

	// ReadFrame blocks until a frame is available, or ctx is done, and copies
	// it into buf.  buf holds H*W samples in the sensor's readout order.
	ReadFrame(ctx context.Context, buf []uint16) error
}
