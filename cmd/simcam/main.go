package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/cjeanneret/simcam/internal/config"
	"github.com/cjeanneret/simcam/internal/debug"
	"github.com/cjeanneret/simcam/internal/diag/memwatch"
	"github.com/cjeanneret/simcam/internal/display"
	"github.com/cjeanneret/simcam/internal/framebuf"
	"github.com/cjeanneret/simcam/internal/hw/framesource"
	"github.com/cjeanneret/simcam/internal/hw/gpio"
	"github.com/cjeanneret/simcam/internal/hw/strobe"
	"github.com/cjeanneret/simcam/internal/logic/acquisition"
	"github.com/cjeanneret/simcam/internal/logic/session"
	"github.com/cjeanneret/simcam/internal/tui"
	"github.com/cjeanneret/simcam/internal/web"
)

func main() {
	// CLI flags
	webPort := &webPortFlag{defaultPort: 8080}
	flag.Var(webPort, "web", "start web viewer on port; -web= for default 8080, -web 8980 for custom port")
	tuiMode := flag.Bool("tui", false, "run the terminal control panel")
	logPath := flag.String("log", "simcam.log", "debug log file while the terminal panel is running")
	cfgPath := flag.String("config", filepath.Join("configs", "default.yaml"), "path to config file")
	index := flag.Int("index", -1, "override camera index (>= 0)")
	source := flag.String("source", "", "override frame source (sim|opencv)")
	exposure := flag.Int("exposure", -1, "override initial exposure (0-100)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Load configuration
	if err := config.ValidateConfigPath(*cfgPath); err != nil {
		log.Fatalf("invalid config path: %v", err)
	}
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	// Negative index/exposure and empty source mean "use config value"
	overrides := cliOverrides{Index: *index, Source: *source, Exposure: *exposure}
	if err := validateCLIOverrides(overrides); err != nil {
		log.Fatalf("invalid CLI override: %v", err)
	}
	applyOverrides(cfg, overrides)

	// Initialize debug system
	debug.Init(cfg.Defaults.DebugLevel)
	var broadcaster *web.StatusBroadcaster
	var logOut io.Writer = os.Stdout
	if *tuiMode {
		// The panel owns the terminal
		f, err := os.OpenFile(*logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			log.Fatalf("open log file: %v", err)
		}
		defer f.Close()
		logOut = f
	}
	if webPort.port() > 0 {
		broadcaster = web.NewStatusBroadcaster()
		logOut = io.MultiWriter(logOut, web.BroadcastWriter(broadcaster))
	}
	debug.SetOutput(logOut)

	debug.Section("Initialization")
	debug.Value("Config path", *cfgPath)
	debug.Value("Debug level", cfg.Defaults.DebugLevel)
	debug.PrintStruct("Camera config", cfg.Camera)

	// Frame buffer
	debug.Step(1, "Allocating frame buffer")
	format, err := framebuf.ParsePixelFormat(cfg.Camera.PixelFormat)
	if err != nil {
		log.Fatalf("frame buffer: %v", err)
	}
	buf, err := framebuf.New(cfg.Camera.Width, cfg.Camera.Height, format)
	if err != nil {
		log.Fatalf("frame buffer: %v", err)
	}
	debug.Value("Frame buffer", fmt.Sprintf("%dx%d %s (%d bytes)", buf.Width(), buf.Height(), buf.Format(), buf.Len()))

	// Strobe GPIO, only when a pin is configured
	var gpioDriver gpio.Driver
	if cfg.StrobeEnabled() {
		debug.Step(2, "Initializing GPIO driver")
		debug.Value("Mock GPIO", cfg.Defaults.MockGPIO)
		gpioDriver, err = gpio.NewDriver(cfg.Defaults.MockGPIO)
		if err != nil {
			log.Fatalf("init GPIO failed: %v", err)
		}
		defer func() {
			if err := gpioDriver.Close(); err != nil {
				log.Printf("closing GPIO driver failed: %v", err)
			}
		}()
	}

	// Frame source
	debug.Step(3, "Creating frame source")
	src, err := newSourceFromConfig(cfg, format, gpioDriver)
	if err != nil {
		log.Fatalf("init frame source failed: %v", err)
	}
	debug.Value("Source", cfg.Camera.Source)

	// Displays
	var displays display.Multi
	var hub *web.FrameHub
	var redraw *display.Signal
	if webPort.port() > 0 {
		hub = web.NewFrameHub(buf, cfg.Web.JPEGQuality, cfg.Web.AllowedOrigins)
		displays = append(displays, hub)
	}
	if *tuiMode {
		redraw = display.NewSignal()
		displays = append(displays, redraw)
	}

	// Session
	debug.Step(4, "Creating session")
	sess := session.New(src, buf, displays, acquisition.Config{Interval: cfg.FrameInterval()}, cfg.Camera.Exposure)
	defer func() {
		if err := sess.Close(); err != nil {
			log.Printf("closing session failed: %v", err)
		}
		debug.Info("Session %s closed", sess.ID())
	}()
	debug.Value("Session", sess.ID())

	// Leak monitor
	debug.Step(5, "Starting memory monitor")
	watcher := startMemWatch(ctx, cfg, sess, broadcaster)

	debug.Summary(fmt.Sprintf("simcam session %s ready", sess.ID()))

	if cfg.Camera.AutoConnect && (webPort.port() > 0 || *tuiMode) {
		sess.Connect(cfg.Camera.Index)
	}

	switch {
	case webPort.port() > 0 && *tuiMode:
		go hub.Run(ctx)
		srv := newWebServer(webPort.port(), cfg, sess, broadcaster, hub, watcher)
		go func() {
			if err := srv.Run(ctx); err != nil {
				debug.Error(fmt.Errorf("web server: %w", err))
			}
		}()
		if err := runTUI(ctx, sess, buf, redraw, watcher, cfg.Camera.Index); err != nil {
			log.Printf("terminal panel: %v", err)
		}

	case webPort.port() > 0:
		go hub.Run(ctx)
		srv := newWebServer(webPort.port(), cfg, sess, broadcaster, hub, watcher)
		if err := srv.Run(ctx); err != nil {
			log.Printf("web server: %v", err)
		}

	case *tuiMode:
		if err := runTUI(ctx, sess, buf, redraw, watcher, cfg.Camera.Index); err != nil {
			log.Printf("terminal panel: %v", err)
		}

	default:
		if err := runHeadless(ctx, sess, cfg.Camera.Index, headlessReportInterval); err != nil {
			log.Printf("headless: %v", err)
		}
	}
}

// cliOverrides holds the values given on the command line.
type cliOverrides struct {
	Index    int    // < 0 = use config
	Source   string // "" = use config
	Exposure int    // < 0 = use config
}

// validateCLIOverrides checks the overrides that are set.
func validateCLIOverrides(o cliOverrides) error {
	switch o.Source {
	case "", config.SourceSim, config.SourceOpenCV:
	default:
		return fmt.Errorf("source must be %q or %q, got %q", config.SourceSim, config.SourceOpenCV, o.Source)
	}
	if o.Exposure > 100 {
		return fmt.Errorf("exposure must be between 0 and 100, got %d", o.Exposure)
	}
	return nil
}

// applyOverrides mutates cfg with the overrides that are set.
func applyOverrides(cfg *config.Config, o cliOverrides) {
	if o.Index >= 0 {
		cfg.Camera.Index = o.Index
	}
	if o.Source != "" {
		cfg.Camera.Source = o.Source
	}
	if o.Exposure >= 0 {
		cfg.Camera.Exposure = o.Exposure
	}
}

// webPortFlag implements flag.Value for -web: 0 = disabled, -web= or -web 8080 → 8080, -web 8980 → 8980.
type webPortFlag struct {
	val         int
	defaultPort int
}

func (w *webPortFlag) String() string {
	if w.val == 0 {
		return "0"
	}
	return strconv.Itoa(w.val)
}

func (w *webPortFlag) Set(s string) error {
	if s == "" {
		w.val = w.defaultPort
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	if v <= 0 || v > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", v)
	}
	w.val = v
	return nil
}

func (w *webPortFlag) port() int { return w.val }

// newSourceFromConfig selects a frame source implementation based on configuration.
// With a strobe pin configured, the source is wrapped so that every software
// trigger also pulses the line.
func newSourceFromConfig(cfg *config.Config, format framebuf.PixelFormat, g gpio.Driver) (framesource.Source, error) {
	var src framesource.Source
	switch cfg.Camera.Source {
	case config.SourceSim:
		src = framesource.NewSim(framesource.SimConfig{
			Devices:           cfg.Sim.Devices,
			Pattern:           cfg.Sim.Pattern,
			Format:            format,
			LeakBytesPerFrame: cfg.Sim.LeakBytesPerFrame,
		})
	case config.SourceOpenCV:
		cv, err := framesource.NewOpenCV(format)
		if err != nil {
			return nil, err
		}
		src = cv
	default:
		return nil, fmt.Errorf("unsupported frame source: %s", cfg.Camera.Source)
	}

	if cfg.StrobeEnabled() && g != nil {
		debug.Value("Strobe pin", cfg.Strobe.Pin)
		src = strobe.Wrap(src, strobe.NewLine(g, cfg.Strobe.Pin, cfg.StrobePulse()))
	}
	return src, nil
}

// startMemWatch runs the leak monitor until ctx is done. It returns nil when
// process memory cannot be read on this platform.
func startMemWatch(ctx context.Context, cfg *config.Config, sess *session.Session, broadcaster *web.StatusBroadcaster) *memwatch.Watcher {
	sampler, err := memwatch.NewProcessSampler(ctx)
	if err != nil {
		debug.Error(err)
		return nil
	}
	watcher := memwatch.New(sampler, cfg.MemSampleInterval(),
		memwatch.WithLeakCounter(sess.LeakedBytes),
		memwatch.WithOnSample(func(s memwatch.Sample) {
			if broadcaster != nil && sess.BugSimulation() {
				broadcaster.BroadcastData("memory", s)
			}
		}),
	)
	go watcher.Run(ctx)
	return watcher
}

func newWebServer(port int, cfg *config.Config, sess *session.Session, broadcaster *web.StatusBroadcaster, hub *web.FrameHub, watcher *memwatch.Watcher) *web.Server {
	formDefaults := web.FormConfig{
		CameraIndex: cfg.Camera.Index,
		Exposure:    cfg.Camera.Exposure,
		Source:      cfg.Camera.Source,
		Width:       cfg.Camera.Width,
		Height:      cfg.Camera.Height,
		PixelFormat: cfg.Camera.PixelFormat,
		IntervalMs:  cfg.Camera.FrameIntervalMs,
		Strobe:      cfg.StrobeEnabled(),
	}
	srv := web.NewServer(fmt.Sprintf(":%d", port), sess, broadcaster, hub, formDefaults)
	if watcher != nil {
		srv.SetMemory(watcher.Last)
	}
	return srv
}

func runTUI(ctx context.Context, sess *session.Session, buf *framebuf.Buffer, redraw *display.Signal, watcher *memwatch.Watcher, index int) error {
	panel := tui.Config{Buffer: buf, Signal: redraw, CameraIndex: index}
	if watcher != nil {
		panel.Memory = watcher.Last
	}
	p := tea.NewProgram(tui.New(sess, panel), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if ctx.Err() != nil {
		return nil
	}
	return err
}
