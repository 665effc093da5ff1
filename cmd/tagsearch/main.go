// Command tagsearch locates a target RFID tag on a grid of reference tags by
// sweeping a reader antenna through a search profile and updating a
// Bayesian belief over the grid cells.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.bug.st/serial"
	"tailscale.com/tsweb"

	"github.com/banshee-data/tagsearch/internal/actuator"
	"github.com/banshee-data/tagsearch/internal/config"
	"github.com/banshee-data/tagsearch/internal/db"
	"github.com/banshee-data/tagsearch/internal/heatmap"
	"github.com/banshee-data/tagsearch/internal/monitoring"
	"github.com/banshee-data/tagsearch/internal/reader"
	"github.com/banshee-data/tagsearch/internal/search"
	"github.com/banshee-data/tagsearch/internal/serialmux"
	"github.com/banshee-data/tagsearch/internal/version"
)

var (
	configPath  = flag.String("config", "search.yaml", "Search configuration file (.json, .yaml or .yml)")
	dbPath      = flag.String("db", "tagsearch.db", "Run log database (empty disables recording)")
	devMode     = flag.Bool("dev", false, "Replay readings from -fixtures instead of driving hardware")
	fixtures    = flag.String("fixtures", "fixtures.jsonl", "Recorded readings used in dev mode")
	listen      = flag.String("listen", "localhost:8080", "Debug listen address for /metrics and /debug/ (empty disables)")
	outPrefix   = flag.String("out", "heatmap", "Output path prefix for the final .png and .html heat maps (empty disables)")
	cycles      = flag.Int("cycles", 0, "Override the configured number of cycles")
	replayRun   = flag.String("replay", "", "Recompute the posterior of a recorded run id instead of searching")
	debug       = flag.Bool("debug", false, "Enable debug logging")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

const heatmapTitle = "Target probability"

// options is the parsed command line.
type options struct {
	configPath string
	dbPath     string
	dev        bool
	fixtures   string
	listen     string
	outPrefix  string
	cycles     int
	replayRun  string
	debug      bool
}

func optionsFromFlags() options {
	return options{
		configPath: *configPath,
		dbPath:     *dbPath,
		dev:        *devMode,
		fixtures:   *fixtures,
		listen:     *listen,
		outPrefix:  *outPrefix,
		cycles:     *cycles,
		replayRun:  *replayRun,
		debug:      *debug,
	}
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, optionsFromFlags()); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("tagsearch: %v", err)
	}
}

func run(ctx context.Context, opts options) error {
	logger, err := monitoring.NewLogger(opts.debug)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync()
	monitoring.UseZap(logger)

	cfg, err := config.LoadSearchConfig(opts.configPath)
	if err != nil {
		return err
	}
	if opts.cycles > 0 {
		cfg.Cycles = &opts.cycles
	}

	var store *db.DB
	if opts.dbPath != "" {
		store, err = db.NewDB(opts.dbPath)
		if err != nil {
			return fmt.Errorf("failed to open run log: %w", err)
		}
		defer store.Close()
	}

	if opts.replayRun != "" {
		if store == nil {
			return errors.New("-replay needs a run log (-db)")
		}
		res, err := search.Replay(ctx, store, opts.replayRun)
		if err != nil {
			return err
		}
		return report(res, opts.outPrefix)
	}

	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	dev, err := openDevices(ctx, cfg, opts, &wg)
	if err != nil {
		return err
	}
	// monitors block in port reads until the ports are closed
	defer func() {
		cancel()
		dev.close()
		wg.Wait()
	}()

	var recorder search.Store
	if store != nil {
		recorder = store
	}
	runner, err := search.NewRunner(cfg, dev.pointer, dev.reader, recorder)
	if err != nil {
		return err
	}

	if opts.listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", monitoring.MetricsHandler())
		tsweb.Debugger(mux).Handle("heatmap", "Live target probability heat map", heatmap.Handler(heatmapTitle, runner.Probabilities))
		for name, m := range dev.muxes {
			m.AttachAdminRoutes(mux, name)
		}
		if store != nil {
			if err := store.AttachAdminRoutes(mux); err != nil {
				return err
			}
		}
		serveDebug(ctx, opts.listen, mux, &wg)
	}

	res, err := runner.Run(ctx)
	if err != nil {
		monitoring.Logf("search %s stopped after %d cycles: %v", res.RunID, res.CyclesRun, err)
		if res.Probabilities != nil {
			// keep the partial belief for inspection
			if rerr := report(res, opts.outPrefix); rerr != nil {
				monitoring.Logf("failed to write heat maps: %v", rerr)
			}
		}
		return err
	}
	return report(res, opts.outPrefix)
}

// report logs the result and writes the heat map files.
func report(res search.Result, outPrefix string) error {
	monitoring.Logf("run %s (%s): %d cycles, %d failed; most likely cell %s %v with p=%.4f",
		res.RunID, res.Method, res.CyclesRun, res.CyclesFailed, res.Best.Coord, res.Best.IDs, res.Best.Probability)
	if outPrefix == "" {
		return nil
	}
	if err := heatmap.SavePNG(outPrefix+".png", heatmapTitle, res.Probabilities); err != nil {
		return fmt.Errorf("failed to write png: %w", err)
	}
	if err := heatmap.SaveHTML(outPrefix+".html", heatmapTitle, res.Probabilities); err != nil {
		return fmt.Errorf("failed to write html: %w", err)
	}
	monitoring.Logf("wrote %s.png and %s.html", outPrefix, outPrefix)
	return nil
}

type adminMux interface {
	AttachAdminRoutes(mux *http.ServeMux, name string)
}

type devices struct {
	pointer actuator.Pointer
	reader  reader.Reader
	muxes   map[string]adminMux
	closers []func() error
}

func (d *devices) close() {
	for _, c := range d.closers {
		if err := c(); err != nil {
			monitoring.Logf("failed to close device: %v", err)
		}
	}
}

// openDevices returns the fixture reader in dev mode, otherwise the servo
// board and RFID reader on their serial ports with a monitor routine each.
func openDevices(ctx context.Context, cfg *config.SearchConfig, opts options, wg *sync.WaitGroup) (*devices, error) {
	if opts.dev {
		fr, err := reader.LoadFixture(opts.fixtures)
		if err != nil {
			return nil, err
		}
		monitoring.Logf("dev mode: replaying %d readings from %s", fr.Len(), opts.fixtures)
		return &devices{pointer: actuator.LogPointer{}, reader: fr}, nil
	}

	if cfg.Actuator == nil || cfg.Reader == nil {
		return nil, fmt.Errorf("%w: actuator and reader ports are required unless -dev is set", config.ErrInvalidConfig)
	}

	d := &devices{muxes: map[string]adminMux{}}
	open := func(name string, pc *config.PortConfig, terminator string) (*serialmux.SerialMux[serial.Port], error) {
		m, err := serialmux.NewRealSerialMux(pc.Path, pc.PortOptions)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s port %s: %w", name, pc.Path, err)
		}
		m.Terminator = terminator
		d.closers = append(d.closers, m.Close)
		d.muxes[name] = m

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
				monitoring.Logf("failed to monitor %s port: %v", name, err)
			}
			monitoring.Logf("%s monitor routine terminated", name)
		}()
		return m, nil
	}

	actuatorMux, err := open("actuator", cfg.Actuator, "\r")
	if err != nil {
		return nil, err
	}
	readerMux, err := open("reader", cfg.Reader, "\n")
	if err != nil {
		d.close()
		return nil, err
	}

	d.pointer = actuator.NewServoController(actuatorMux, cfg.GetSettleTime())
	d.reader = reader.NewSerialReader(readerMux, cfg.GetReadWindow(), cfg.GetReadRepeats(), cfg.GetReadCommand())
	return d, nil
}

// serveDebug runs the debug HTTP server until ctx is done.
func serveDebug(ctx context.Context, addr string, mux *http.ServeMux, wg *sync.WaitGroup) {
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		go func() {
			monitoring.Logf("debug server listening on %s", addr)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				monitoring.Logf("debug server failed: %v", err)
			}
		}()

		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			monitoring.Logf("debug server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				monitoring.Logf("debug server force close error: %v", err)
			}
		}
	}()
}
