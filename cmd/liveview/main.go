package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/theckman/yacspin"

	yml "gopkg.in/yaml.v2"

	"github.com/nasa-jpl/liveview/camera"
	"github.com/nasa-jpl/liveview/camera/pattern"
	"github.com/nasa-jpl/liveview/camera/playback"
	"github.com/nasa-jpl/liveview/frameworker"
	"github.com/nasa-jpl/liveview/generichttp"
	"github.com/nasa-jpl/liveview/generichttp/liveview"
	"github.com/nasa-jpl/liveview/imgrec"
	"github.com/nasa-jpl/liveview/instance"
	"github.com/nasa-jpl/liveview/interlace"
	"github.com/nasa-jpl/liveview/server/middleware/locker"
	"github.com/nasa-jpl/liveview/util"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "liveview.yml"
	k              = koanf.New(".")
)

type geometry struct {
	Rows int `yaml:"Rows"`
	Cols int `yaml:"Cols"`
	Taps int `yaml:"Taps"`
}

type source struct {
	// Type is pattern or playback
	Type string `yaml:"Type"`

	// Path is the raw file replayed by playback
	Path string `yaml:"Path"`

	// FPS paces the source, zero for as fast as possible
	FPS float64 `yaml:"FPS"`

	// Loop rewinds playback at the end of the file
	Loop bool `yaml:"Loop"`
}

type mask struct {
	// Frames is the number of frames averaged into a dark mask
	Frames int `yaml:"Frames"`
}

type fps struct {
	// Window is the number of frames the rate is computed over
	Window int `yaml:"Window"`

	// StaleAfter is the number of seconds without a frame before the backend is considered stalled
	StaleAfter float64 `yaml:"StaleAfter"`

	// LogInterval is the number of seconds between FPS log lines, zero to disable
	LogInterval float64 `yaml:"LogInterval"`
}

type recorder struct {
	// Root is the root folder to write to
	Root string `yaml:"Root"`

	// Prefix is the filename prefix to use
	Prefix string `yaml:"Prefix"`
}

type config struct {
	Addr       string   `yaml:"Addr"`
	Root       string   `yaml:"Root"`
	SocketPath string   `yaml:"SocketPath"`
	Force      bool     `yaml:"Force"`
	Geometry   geometry `yaml:"Geometry"`
	Source     source   `yaml:"Source"`
	Mask       mask     `yaml:"Mask"`
	FPS        fps      `yaml:"FPS"`
	Recorder   recorder `yaml:"Recorder"`
}

func setupconfig() {
	k.Load(structs.Provider(config{
		Addr:       ":8000",
		Root:       "/",
		SocketPath: "/tmp/liveview.sock",
		Geometry:   geometry{Rows: 480, Cols: 1280, Taps: interlace.DefaultTaps},
		Source:     source{Type: "pattern", FPS: 30, Loop: true},
		Mask:       mask{Frames: 100},
		FPS:        fps{Window: 30, StaleAfter: 2, LogInterval: 5},
		Recorder:   recorder{Prefix: "liveview"},
	}, "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			log.Fatalf("error loading config: %v", err)
		}
	}
}

func root() {
	str := `liveview ingests frames from a multi-tap imaging sensor, restores
their spatial order, and serves them over HTTP for display and archival.

Usage:
	liveview <command>

Commands:
	run
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `liveview is amenable to configuration via its .yaml file.  For a primer on YAML, see
https://yaml.org/start.html

When no configuration is provided, the defaults are used.  Keys are not case-sensitive.
The command mkconf generates the configuration file with the default values.

Source.Type selects where frames come from:
	pattern   a synthetic moving ramp, for running without hardware
	playback  a raw file of little endian uint16 frames at Source.Path

Geometry.Cols must be a multiple of Geometry.Taps, and Rows*Cols may not exceed
2048*2048.

Only one liveview may run per SocketPath.  If a previous run crashed the
stale socket is cleaned up automatically.  If another server really is
running, set Force: true to take over anyway.

Prometheus metrics are served at /metrics; every other route is under Root.
GET <Root>/endpoints lists them.`
	fmt.Println(str)
}

func mkconf() {
	c := config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	c := config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	err = yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("liveview version %v\n", Version)
}

func newSource(cfg config) (camera.Source, error) {
	g := interlace.Geometry{Rows: cfg.Geometry.Rows, Cols: cfg.Geometry.Cols, Taps: cfg.Geometry.Taps}
	pace := util.Clamp(cfg.Source.FPS, 0, 10000)
	switch strings.ToLower(cfg.Source.Type) {
	case "pattern":
		return pattern.New(g, pace)
	case "playback":
		if cfg.Source.Path == "" {
			return nil, errors.New("playback source requires Source.Path")
		}
		return playback.New(cfg.Source.Path, g.Rows, g.Cols, pace, cfg.Source.Loop), nil
	default:
		return nil, fmt.Errorf("unknown source type %q, expected pattern or playback", cfg.Source.Type)
	}
}

// waitForFirstFrame spins until the worker publishes a frame or ctx is done
func waitForFirstFrame(ctx context.Context, w *frameworker.Worker) {
	spin, err := yacspin.New(yacspin.Config{
		Frequency:       100 * time.Millisecond,
		CharSet:         yacspin.CharSets[14],
		Suffix:          " ",
		Message:         "waiting for the first frame",
		StopMessage:     "receiving frames",
		StopFailMessage: "no frames received",
	})
	if err != nil {
		log.Println("error creating spinner:", err)
		return
	}
	if err := spin.Start(); err != nil {
		log.Println("error starting spinner:", err)
		return
	}
	if _, err := w.Next(ctx, 0); err != nil {
		spin.StopFail()
		return
	}
	spin.Stop()
}

// watchRecorderConfig applies edits to the Recorder section of the config
// file while running; everything else needs a restart
func watchRecorderConfig(rec *imgrec.Recorder) {
	f := file.Provider(ConfigFileName)
	err := f.Watch(func(event interface{}, err error) {
		if err != nil {
			log.Println("error watching config:", err)
			return
		}
		kk := koanf.New(".")
		if err := kk.Load(f, yaml.Parser()); err != nil {
			log.Println("error reloading config:", err)
			return
		}
		r := recorder{}
		if err := kk.Unmarshal("Recorder", &r); err != nil {
			log.Println("error reloading config:", err)
			return
		}
		if r.Root != "" {
			if err := rec.SetRoot(r.Root); err != nil {
				log.Println("error setting recorder root:", err)
			}
		}
		if err := rec.SetPrefix(r.Prefix); err != nil {
			log.Println("error setting recorder prefix:", err)
		}
		log.Printf("recorder config reloaded, root %q prefix %q\n", r.Root, r.Prefix)
	})
	if err != nil {
		log.Println("error watching config:", err)
	}
}

func run() {
	cfg := config{}
	err := k.Unmarshal("", &cfg)
	if err != nil {
		log.Fatal(err)
	}

	guard, err := instance.Acquire(cfg.SocketPath, cfg.Force)
	if err != nil {
		if errors.Is(err, instance.ErrAlreadyRunning) {
			log.Fatalf("%v; set Force: true in %s to take over", err, ConfigFileName)
		}
		log.Fatal(err)
	}
	defer guard.Release()

	src, err := newSource(cfg)
	if err != nil {
		log.Fatal(err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	w, err := frameworker.New(src, frameworker.Options{
		Taps:       cfg.Geometry.Taps,
		MaskFrames: cfg.Mask.Frames,
		FPSWindow:  cfg.FPS.Window,
		StaleAfter: util.SecsToDuration(cfg.FPS.StaleAfter),
		Registerer: reg,
	})
	if err != nil {
		log.Fatal(err)
	}
	g := w.Geometry()
	log.Printf("%s source, %dx%d with %d taps, session %s\n", cfg.Source.Type, g.Rows, g.Cols, g.Taps, w.Session())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// the spinner gives up if acquisition ends before a frame arrives
	spinCtx, spinCancel := context.WithCancel(ctx)
	defer spinCancel()
	runErr := make(chan error, 1)
	go func() {
		runErr <- w.Run(ctx)
		spinCancel()
	}()
	waitForFirstFrame(spinCtx, w)

	if cfg.FPS.LogInterval > 0 {
		go w.ReportFPS(ctx, util.SecsToDuration(cfg.FPS.LogInterval), func(f float64) {
			if f < 0 {
				log.Println("Warning: No Frames Received")
				return
			}
			log.Printf("FPS @ backend: %.1f\n", f)
		})
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-w.MaskCollected():
				log.Println("dark mask collected, subtraction enabled")
			}
		}
	}()

	rec := imgrec.New(cfg.Recorder.Root, cfg.Recorder.Prefix)
	if _, err := os.Stat(ConfigFileName); err == nil {
		watchRecorderConfig(rec)
	}
	lv := liveview.NewHTTPLiveView(w, cfg.Source.Type, rec)
	lk := locker.New()
	locker.Inject(lv, lk)

	// clean up the submux string
	hndlrS := generichttp.SubMuxSanitize(cfg.Root)
	rootR := chi.NewRouter()
	rootR.Use(middleware.Logger)
	rootR.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux := chi.NewRouter()
	mux.Use(lk.Check)
	lv.RT().Bind(mux)
	rootR.Mount(hndlrS, mux)

	srv := &http.Server{Addr: cfg.Addr, Handler: rootR}
	go func() {
		log.Println("now listening for requests at", cfg.Addr+hndlrS)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Println(err)
			stop()
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-runErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Println("acquisition stopped:", err)
			stop()
		} else {
			// playback without looping finished; keep serving the last frame
			<-ctx.Done()
		}
	}
	log.Println("shutting down")
	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		log.Println("error shutting down HTTP server:", err)
	}
}

func main() {
	var cmd string
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	setupconfig()
	cmd = args[1]
	cmd = strings.ToLower(cmd)
	switch cmd {
	case "help":
		help()
		return
	case "mkconf":
		mkconf()
		return
	case "conf":
		printconf()
		return
	case "run":
		run()
		return
	case "version":
		pversion()
		return
	default:
		log.Fatal("unknown command")
	}
}
