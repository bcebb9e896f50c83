// Package imgrec contains an image recorder used to automatically save frames to disk.
package imgrec

import (
	"errors"
	"fmt"
	"go/types"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/astrogo/fitsio"

	"github.com/nasa-jpl/liveview/frame"
	"github.com/nasa-jpl/liveview/generichttp"
	"github.com/nasa-jpl/liveview/server"
)

// ErrNoRoot is returned when recording is attempted without a root folder
var ErrNoRoot = errors.New("imgrec: no root folder set")

// Recorder records FITS files with incrementing filenames in yyyy-mm-dd subfolders.
// It is safe for concurrent use.
type Recorder struct {
	mu      sync.Mutex
	root    string
	prefix  string
	enabled bool

	// counter is the index of the last file written in fldr
	counter int
	fldr    string

	// now is swapped out in tests
	now func() time.Time
}

// New returns a disabled recorder writing under root with filename prefix
func New(root, prefix string) *Recorder {
	return &Recorder{root: root, prefix: prefix, now: time.Now}
}

// Root is the root folder
func (r *Recorder) Root() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.root, nil
}

// SetRoot changes the root folder and creates it
func (r *Recorder) SetRoot(root string) error {
	if err := os.MkdirAll(root, 0777); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.root = root
	r.fldr = ""
	return nil
}

// Prefix is the filename prefix
func (r *Recorder) Prefix() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.prefix, nil
}

// SetPrefix changes the filename prefix; numbering restarts from the
// highest existing file with the new prefix
func (r *Recorder) SetPrefix(prefix string) error {
	if strings.ContainsAny(prefix, `/\`) {
		return fmt.Errorf("imgrec: prefix %q contains a path separator", prefix)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prefix = prefix
	r.fldr = ""
	return nil
}

// Enabled reports whether consumers should record
func (r *Recorder) Enabled() (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enabled, nil
}

// SetEnabled turns recording on or off.  The recorder does not check this
// flag itself; it lets consumers decide whether to call it.
func (r *Recorder) SetEnabled(b bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b && r.root == "" {
		return ErrNoRoot
	}
	r.enabled = b
	return nil
}

// scan finds the highest index already used in fldr
func (r *Recorder) scan(fldr string) (int, error) {
	entries, err := os.ReadDir(fldr)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, e := range entries {
		// skip directories, non-fits, and wrong prefix
		if e.IsDir() {
			continue
		}
		fn := e.Name()
		if !strings.HasSuffix(fn, ".fits") || !strings.HasPrefix(fn, r.prefix) {
			continue
		}
		bit := strings.TrimSuffix(strings.TrimPrefix(fn, r.prefix), ".fits")
		n, err := strconv.Atoi(bit)
		if err != nil {
			continue
		}
		if count < n {
			count = n
		}
	}
	return count, nil
}

// Create opens the next file in sequence and returns it with its path
func (r *Recorder) Create() (io.WriteCloser, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.root == "" {
		return nil, "", ErrNoRoot
	}
	fldr := filepath.Join(r.root, r.now().Format("2006-01-02"))
	if err := os.MkdirAll(fldr, 0777); err != nil {
		return nil, "", err
	}
	if fldr != r.fldr {
		n, err := r.scan(fldr)
		if err != nil {
			return nil, "", err
		}
		r.fldr = fldr
		r.counter = n
	}
	r.counter++
	fn := filepath.Join(fldr, fmt.Sprintf("%s%06d.fits", r.prefix, r.counter))
	f, err := os.OpenFile(fn, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0666)
	if err != nil {
		return nil, "", err
	}
	return f, fn, nil
}

// Record writes frames to the next file in sequence and returns its path
func (r *Recorder) Record(metadata []fitsio.Card, frames ...frame.Frame) (string, error) {
	f, fn, err := r.Create()
	if err != nil {
		return "", err
	}
	err = frame.WriteFITS(f, metadata, frames...)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return fn, err
}

// HTTPWrapper is an HTTP wrapper around an image recorder that allows the folder and prefix to be changed on the fly
//
// it does not implement server.HTTPer, offering an Inject method allowing it to be injected
// into another HTTPer
type HTTPWrapper struct {
	*Recorder
}

// NewHTTPWrapper returns an HTTP wrapper around a recorder
func NewHTTPWrapper(r *Recorder) HTTPWrapper {
	return HTTPWrapper{r}
}

// GetEnabled returns the Recorder's enabled flag as JSON
func (h HTTPWrapper) GetEnabled(w http.ResponseWriter, r *http.Request) {
	b, _ := h.Recorder.Enabled()
	hp := server.HumanPayload{T: types.Bool, Bool: b}
	hp.EncodeAndRespond(w, r)
}

// Inject adds GET and POST routes for /autowrite/root, /autowrite/prefix and /autowrite/enabled
// to the HTTPer which manipulate this wrapper's recorder
func (h HTTPWrapper) Inject(other server.HTTPer) {
	rt := other.RT()
	rt[server.MethodPath{Method: http.MethodPost, Path: "/autowrite/root"}] = generichttp.SetString(h.Recorder.SetRoot)
	rt[server.MethodPath{Method: http.MethodGet, Path: "/autowrite/root"}] = generichttp.GetString(h.Recorder.Root)
	rt[server.MethodPath{Method: http.MethodPost, Path: "/autowrite/prefix"}] = generichttp.SetString(h.Recorder.SetPrefix)
	rt[server.MethodPath{Method: http.MethodGet, Path: "/autowrite/prefix"}] = generichttp.GetString(h.Recorder.Prefix)
	rt[server.MethodPath{Method: http.MethodPost, Path: "/autowrite/enabled"}] = generichttp.SetBool(h.Recorder.SetEnabled)
	rt[server.MethodPath{Method: http.MethodGet, Path: "/autowrite/enabled"}] = h.GetEnabled
}
