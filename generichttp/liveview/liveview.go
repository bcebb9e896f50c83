// Package liveview provides an HTTP interface to a running acquisition loop
package liveview

import (
	"context"
	"encoding/json"
	"errors"
	"go/types"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/astrogo/fitsio"

	"github.com/nasa-jpl/liveview/frame"
	"github.com/nasa-jpl/liveview/frameworker"
	"github.com/nasa-jpl/liveview/generichttp"
	"github.com/nasa-jpl/liveview/imgrec"
	"github.com/nasa-jpl/liveview/interlace"
	"github.com/nasa-jpl/liveview/server"
)

// MaxBurst is the largest number of frames a single burst request may ask for
const MaxBurst = 1000

// Streamer is the view of the acquisition loop the HTTP interface needs.
// *frameworker.Worker satisfies it.
type Streamer interface {
	// Latest returns a copy of the newest frame
	Latest() (frame.Frame, error)

	// Next waits for a frame newer than after
	Next(ctx context.Context, after uint64) (frame.Frame, error)

	// FPS is the backend frame rate, -1 if stalled
	FPS() float64

	// FrameCount is the number of frames published so far
	FrameCount() uint64

	// Geometry is the sensor geometry
	Geometry() interlace.Geometry

	// Session identifies this acquisition run
	Session() string

	// MaskCollecting reports if a dark mask is being collected
	MaskCollecting() (bool, error)

	// SetMaskCollecting starts or stops dark mask collection
	SetMaskCollecting(bool) error

	// MaskValid reports if dark subtraction is active
	MaskValid() (bool, error)

	// ClearMask disables dark subtraction
	ClearMask()
}

var _ Streamer = (*frameworker.Worker)(nil)

// HTTPLiveView binds a Streamer to HTTP routes
type HTTPLiveView struct {
	s    Streamer
	name string
	rec  *imgrec.Recorder

	// RouteTable maps method, path pairs to http handlers
	RouteTable server.RouteTable
}

// NewHTTPLiveView returns a new HTTP wrapper with the route table pre-configured.
// name is recorded in the CAMERA card of FITS files.  If rec is not nil, the
// autowrite routes are added and FITS frames are also written to it while it is enabled.
func NewHTTPLiveView(s Streamer, name string, rec *imgrec.Recorder) HTTPLiveView {
	h := HTTPLiveView{s: s, name: name, rec: rec}
	rt := server.RouteTable{
		{Method: http.MethodGet, Path: "/frame"}:            GetFrame(s, h.metadata, rec),
		{Method: http.MethodGet, Path: "/burst"}:            Burst(s, h.metadata),
		{Method: http.MethodGet, Path: "/fps"}:              GetFPS(s),
		{Method: http.MethodGet, Path: "/frame-count"}:      generichttp.GetUint64(s.FrameCount),
		{Method: http.MethodGet, Path: "/geometry"}:         GetGeometry(s),
		{Method: http.MethodGet, Path: "/mask-collecting"}:  generichttp.GetBool(s.MaskCollecting),
		{Method: http.MethodPost, Path: "/mask-collecting"}: generichttp.SetBool(s.SetMaskCollecting),
		{Method: http.MethodGet, Path: "/mask-valid"}:       generichttp.GetBool(s.MaskValid),
		{Method: http.MethodPost, Path: "/mask-clear"}:      ClearMask(s),
	}
	h.RouteTable = rt
	if rec != nil {
		imgrec.NewHTTPWrapper(rec).Inject(h)
	}
	return h
}

// RT satisfies server.HTTPer
func (h HTTPLiveView) RT() server.RouteTable {
	return h.RouteTable
}

func (h HTTPLiveView) metadata() []fitsio.Card {
	g := h.s.Geometry()
	return []fitsio.Card{
		{Name: "CAMERA", Value: h.name, Comment: "frame source"},
		{Name: "SESSION", Value: h.s.Session(), Comment: "acquisition session id"},
		{Name: "TAPS", Value: g.Taps, Comment: "sensor readout taps"},
	}
}

// statusFor maps an error from the Streamer to an HTTP status
func statusFor(err error) int {
	if errors.Is(err, frameworker.ErrNoFrame) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// display holds the query parameters that shape a preview image
type display struct {
	floor, ceiling uint16
	rot            int
	flip           bool
}

func parseDisplay(r *http.Request) (display, error) {
	var (
		d   display
		err error
	)
	q := r.URL.Query()
	parse16 := func(key string) (uint16, error) {
		s := q.Get(key)
		if s == "" {
			return 0, nil
		}
		u, err := strconv.ParseUint(s, 10, 16)
		return uint16(u), err
	}
	if d.floor, err = parse16("floor"); err != nil {
		return d, err
	}
	if d.ceiling, err = parse16("ceiling"); err != nil {
		return d, err
	}
	if s := q.Get("rot"); s != "" {
		if d.rot, err = strconv.Atoi(s); err != nil {
			return d, err
		}
	}
	if s := q.Get("flip"); s != "" {
		if d.flip, err = strconv.ParseBool(s); err != nil {
			return d, err
		}
	}
	return d, nil
}

// GetFrame returns the newest frame on a GET request.
//
// the image format may be specified in a query parameter fmt; default to jpg.
// jpg and png are 8-bit previews; floor and ceiling set the display range and
// rot (degrees clockwise) and flip orient the image.  fits is the full 16-bit
// frame, untouched by the display parameters.
func GetFrame(s Streamer, metadata func() []fitsio.Card, rec *imgrec.Recorder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		format := r.URL.Query().Get("fmt")
		if format == "" {
			format = "jpg"
		}
		if format != "jpg" && format != "png" && format != "fits" {
			http.Error(w, "fmt must be one of jpg, png, fits", http.StatusBadRequest)
			return
		}
		disp, err := parseDisplay(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f, err := s.Latest()
		if err != nil {
			http.Error(w, err.Error(), statusFor(err))
			return
		}

		if format == "fits" {
			var w2 io.Writer = w
			if rec != nil {
				if enabled, _ := rec.Enabled(); enabled {
					fout, fn, err := rec.Create()
					if err != nil {
						log.Println("autowrite failed:", err)
					} else {
						defer fout.Close()
						w2 = io.MultiWriter(w, fout)
						log.Println("autowrite", fn)
					}
				}
			}
			hdr := w.Header()
			hdr.Set("Content-Type", "image/fits")
			hdr.Set("Content-Disposition", "attachment; filename=image.fits")
			err = frame.WriteFITS(w2, metadata(), f)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
			}
			return
		}

		var img image.Image = f.Gray8(disp.floor, disp.ceiling)
		img, err = frame.Orient(img, disp.rot, disp.flip)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		switch format {
		case "jpg":
			w.Header().Set("Content-Type", "image/jpeg")
			err = jpeg.Encode(w, img, nil)
		case "png":
			w.Header().Set("Content-Type", "image/png")
			err = png.Encode(w, img)
		}
		if err != nil {
			log.Println("error encoding frame:", err)
		}
	}
}

// Burst waits for the next N frames and returns them as a fits image cube.
// N is the query parameter frames, default 1.
func Burst(s Streamer, metadata func() []fitsio.Card) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n := 1
		if str := r.URL.Query().Get("frames"); str != "" {
			var err error
			n, err = strconv.Atoi(str)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
		}
		if n < 1 || n > MaxBurst {
			http.Error(w, "frames must be between 1 and "+strconv.Itoa(MaxBurst), http.StatusBadRequest)
			return
		}
		frames := make([]frame.Frame, 0, n)
		after := s.FrameCount()
		for len(frames) < n {
			f, err := s.Next(r.Context(), after)
			if err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
			frames = append(frames, f)
			after = f.Seq
		}
		cards := append(metadata(),
			fitsio.Card{Name: "NFRAMES", Value: n, Comment: "frames in burst"},
			fitsio.Card{Name: "SEQSTART", Value: int(frames[0].Seq), Comment: "sequence number of first frame"})
		hdr := w.Header()
		hdr.Set("Content-Type", "image/fits")
		hdr.Set("Content-Disposition", "attachment; filename=burst.fits")
		err := frame.WriteFITS(w, cards, frames...)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}

// GetGeometry returns the sensor geometry as json {"rows", "cols", "taps"}
func GetGeometry(s Streamer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		err := json.NewEncoder(w).Encode(s.Geometry())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}

// ClearMask disables dark subtraction on a POST request
func ClearMask(s Streamer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.ClearMask()
		w.WriteHeader(http.StatusOK)
	}
}

// GetFPS writes the backend frame rate as {"f64": value}
func GetFPS(s Streamer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		hp := server.HumanPayload{T: types.Float64, Float: s.FPS()}
		hp.EncodeAndRespond(w, r)
	}
}
