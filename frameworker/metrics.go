package frameworker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the prometheus collectors maintained by a Worker
type Metrics struct {
	// Frames counts frames published
	Frames prometheus.Counter

	// ReadErrors counts failed reads from the source
	ReadErrors prometheus.Counter

	// MasksCollected counts dark masks completed
	MasksCollected prometheus.Counter
}

func newMetrics(reg prometheus.Registerer, fps func() float64) *Metrics {
	f := promauto.With(reg)
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "liveview",
		Name:      "frames_per_second",
		Help:      "Frame rate at the backend, -1 when no frames are arriving.",
	}, fps)
	return &Metrics{
		Frames: f.NewCounter(prometheus.CounterOpts{
			Namespace: "liveview",
			Name:      "frames_total",
			Help:      "Frames de-interlaced and published.",
		}),
		ReadErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: "liveview",
			Name:      "frame_read_errors_total",
			Help:      "Errors returned by the frame source.",
		}),
		MasksCollected: f.NewCounter(prometheus.CounterOpts{
			Namespace: "liveview",
			Name:      "dark_masks_collected_total",
			Help:      "Dark subtraction masks completed.",
		}),
	}
}
