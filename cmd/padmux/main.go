package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"tailscale.com/tsweb"

	"github.com/banshee-data/padmux/internal/config"
	"github.com/banshee-data/padmux/internal/driver/portmidi"
	"github.com/banshee-data/padmux/internal/driver/serialmidi"
	"github.com/banshee-data/padmux/internal/driver/sim"
	"github.com/banshee-data/padmux/internal/httputil"
	"github.com/banshee-data/padmux/internal/launchpad"
	"github.com/banshee-data/padmux/internal/metrics"
	"github.com/banshee-data/padmux/internal/midi"
	"github.com/banshee-data/padmux/internal/router"
	"github.com/banshee-data/padmux/internal/session"
	"github.com/banshee-data/padmux/internal/version"
)

// flags holds the command line. Flags left unset do not override the
// configuration file.
type flags struct {
	configPath  string
	showVersion bool

	listen     string
	driver     string
	device     string
	serialPort string
}

func parseFlags(args []string, stderr io.Writer) (*flags, *config.Config, error) {
	f := &flags{}
	fs := flag.NewFlagSet("padmux", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&f.configPath, "config", "", "Path to a JSON configuration file")
	fs.BoolVar(&f.showVersion, "version", false, "Print the version and exit")
	fs.StringVar(&f.listen, "listen", config.DefaultListen, "Listen address for sessions and debug pages")
	fs.StringVar(&f.driver, "driver", config.DefaultDriver, "MIDI backend: sim, serial or portmidi")
	fs.StringVar(&f.device, "device", launchpad.DefaultPattern, "Substring of the Launchpad port name")
	fs.StringVar(&f.serialPort, "serial-port", "", "Serial device for the serial driver")
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}

	cfg := config.Empty()
	if f.configPath != "" {
		var err error
		if cfg, err = config.Load(f.configPath); err != nil {
			return nil, nil, err
		}
	}

	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "listen":
			cfg.Listen = &f.listen
		case "driver":
			cfg.Driver = &f.driver
		case "device":
			cfg.DevicePattern = &f.device
		case "serial-port":
			cfg.SerialPath = &f.serialPort
		}
	})
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return f, cfg, nil
}

// openDriver builds the configured backend. The returned cleanup runs after
// the actor has closed every port. pad is set only for the sim backend.
func openDriver(cfg *config.Config) (drv midi.Driver, cleanup func() error, pad *sim.Launchpad, err error) {
	cleanup = func() error { return nil }
	switch cfg.GetDriver() {
	case config.DriverSim:
		pad = sim.New(cfg.GetDevicePattern())
		return pad, cleanup, pad, nil
	case config.DriverSerial:
		d, err := serialmidi.New(cfg.SerialConfig())
		if err != nil {
			return nil, nil, nil, err
		}
		return d, cleanup, nil, nil
	case config.DriverPortMidi:
		d, terminate, err := portmidi.Open()
		if err != nil {
			return nil, nil, nil, err
		}
		return d, terminate, nil, nil
	}
	return nil, nil, nil, fmt.Errorf("unknown driver %q", cfg.GetDriver())
}

// run serves sessions on ln until ctx is done.
func run(ctx context.Context, cfg *config.Config, ln net.Listener) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	drv, cleanup, pad, err := openDriver(cfg)
	if err != nil {
		return fmt.Errorf("open %s driver: %w", cfg.GetDriver(), err)
	}
	defer func() {
		if err := cleanup(); err != nil {
			log.Printf("driver cleanup: %v", err)
		}
	}()

	actor := midi.NewActor(drv)
	defer actor.Close()

	dev, err := launchpad.FindFirst(ctx, actor, cfg.GetDevicePattern())
	if err != nil {
		return err
	}
	in, out, err := dev.Open(ctx, actor)
	if err != nil {
		return err
	}
	defer in.Close()
	defer out.Close()
	log.Printf("using %s", dev.Name())

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	r := router.New(launchpad.NewLights(out), router.WithMetrics(metrics.New(reg)))
	if err := r.Init(ctx); err != nil {
		return fmt.Errorf("initialise grid: %w", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := r.Run(ctx, launchpad.Events(ctx, in)); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("grid events: %v", err)
		}
		log.Print("grid routine terminated")
	}()

	sessions := session.NewHandler(ctx, r, cfg.SessionOptions())

	mux := http.NewServeMux()
	mux.Handle("/ws", sessions)
	mux.HandleFunc("/healthz", healthHandler(r, actor))
	mux.Handle("/metrics", metrics.Handler(reg))
	r.AttachAdminRoutes(mux)
	if pad != nil {
		pad.AttachAdminRoutes(mux)
	}
	debug := tsweb.Debugger(mux)
	debug.KVFunc("padmux version", func() any { return version.String() })
	debug.KVFunc("MIDI ports", func() any { return actor.Stats() })

	server := &http.Server{Handler: mux}
	serveErr := make(chan error, 1)
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()
	log.Printf("listening on %s", ln.Addr())

	select {
	case <-ctx.Done():
	case err = <-serveErr:
	}
	stop()
	log.Println("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	if serr := server.Shutdown(shutdownCtx); serr != nil {
		log.Printf("HTTP server shutdown error: %v", serr)
		if cerr := server.Close(); cerr != nil {
			log.Printf("HTTP server force close error: %v", cerr)
		}
	}

	// Sessions end with ctx; their cleanup still needs the actor.
	sessions.Wait()
	wg.Wait()
	log.Printf("Graceful shutdown complete")
	return err
}

type health struct {
	Status   string     `json:"status"`
	Version  string     `json:"version"`
	Sessions int        `json:"sessions"`
	Ports    midi.Stats `json:"ports"`
}

func healthHandler(r *router.Router, actor *midi.Actor) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		httputil.WriteJSONOK(w, health{
			Status:   "ok",
			Version:  version.Version,
			Sessions: len(r.Snapshot().Sessions),
			Ports:    actor.Stats(),
		})
	}
}

func main() {
	f, cfg, err := parseFlags(os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		log.Fatal(err)
	}
	if f.showVersion {
		fmt.Println(version.String())
		return
	}
	log.Print(version.String())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", cfg.GetListen())
	if err != nil {
		log.Fatalf("failed to listen: %v", err)
	}
	if err := run(ctx, cfg, ln); err != nil {
		log.Fatal(err)
	}
}
