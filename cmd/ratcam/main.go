// Command ratcam is the single binary that plays all three roles of the
// surveillance system (MAIN, CAMERA, CHAT), re-exec'd into a child role
// via internal/rpc/singleton the same way the teacher's own
// internal/driver/servicelog is built to run either as an installed
// service or a foreground debug process from one executable.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kardianos/service"
	"github.com/spf13/cobra"

	"github.com/warpcomdev/ratcam/internal/camerastub"
	"github.com/warpcomdev/ratcam/internal/capture"
	"github.com/warpcomdev/ratcam/internal/chatauth"
	"github.com/warpcomdev/ratcam/internal/chatbot"
	"github.com/warpcomdev/ratcam/internal/chatbot/discordtransport"
	"github.com/warpcomdev/ratcam/internal/media"
	"github.com/warpcomdev/ratcam/internal/metrics"
	"github.com/warpcomdev/ratcam/internal/motion"
	"github.com/warpcomdev/ratcam/internal/plugin"
	"github.com/warpcomdev/ratcam/internal/pwmled"
	"github.com/warpcomdev/ratcam/internal/ratcamlog"
	"github.com/warpcomdev/ratcam/internal/recorder"
	"github.com/warpcomdev/ratcam/internal/rpc/processeshost"
	"github.com/warpcomdev/ratcam/internal/rpc/singleton"
	"github.com/warpcomdev/ratcam/internal/statusled"
)

// Environment variables the child roles are re-exec'd with, carrying
// everything singleton.Host.Start's fixed RoleEnv/SocketEnv pair leaves
// no room for: the settings file path and the flags that shape the
// plugin.Definition list must match exactly between MAIN and every
// child, or the two sides' topologies disagree.
const (
	envConfig      = "RATCAM_CONFIG_PATH"
	envToken       = "RATCAM_RESOLVED_TOKEN"
	envVerbose     = "RATCAM_VERBOSE"
	envLogfile     = "RATCAM_LOGFILE"
	envNoCamera    = "RATCAM_NO_CAMERA"
	envNoLight     = "RATCAM_NO_LIGHT"
	envNoStatusLED = "RATCAM_NO_STATUS_LED"
)

// configError marks a failure that maps to spec.md §6's exit code 1
// (missing or unreadable token); every other failure is exit code 2.
type configError struct{ err error }

func (e *configError) Error() string { return e.err.Error() }
func (e *configError) Unwrap() error { return e.err }

func exitCodeFor(err error) int {
	if err == nil {
		return 0
	}
	var cerr *configError
	if errors.As(err, &cerr) {
		return 1
	}
	return 2
}

func main() {
	if role, socket, ok := singleton.RoleFromEnv(); ok {
		os.Exit(runChild(role, socket))
		return
	}
	cmd := newRootCmd()
	if err := cmd.Execute(); err != nil {
		os.Exit(exitCodeFor(err))
	}
}

var (
	flagToken       string
	flagNoCamera    bool
	flagNoLight     bool
	flagNoStatusLED bool
	flagVerbose     bool
	flagLogfile     string
	flagConfigPath  string
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "ratcam",
		Short:        "Three-process motion-triggered camera surveillance daemon",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMain(cmd.Context())
		},
	}
	cmd.SetContext(context.Background())
	flags := cmd.Flags()
	flags.StringVarP(&flagToken, "token", "t", "", "override chat token from settings")
	flags.BoolVarP(&flagNoCamera, "no-camera", "nc", false, "disable the camera plugins at construction")
	flags.BoolVar(&flagNoLight, "no-light", false, "disable the PWM accessory light at construction")
	flags.BoolVar(&flagNoStatusLED, "no-status-led", false, "disable the status LED at construction")
	flags.BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	flags.StringVar(&flagLogfile, "logfile", "", "mirror logs to this file")
	flags.StringVar(&flagConfigPath, "config", "ratcam.yaml", "settings file path")
	return cmd
}

// runMain is MAIN's entry point: load settings, spawn the CAMERA and
// CHAT children, and run until signalled to stop.
func runMain(ctx context.Context) error {
	cfg, err := loadConfig(flagConfigPath)
	if err != nil {
		return &configError{err}
	}
	if err := cfg.Check(flagToken); err != nil {
		return &configError{err}
	}

	logger, err := ratcamlog.New(flagVerbose, flagLogfile)
	if err != nil {
		return fmt.Errorf("ratcam: building logger: %w", err)
	}

	// Propagate everything the child roles need to re-derive the exact
	// same Config and plugin.Definition list, since exec'd children
	// receive no command-line arguments of their own.
	os.Setenv(envConfig, flagConfigPath)
	os.Setenv(envToken, cfg.Telegram.Token)
	os.Setenv(envLogfile, flagLogfile)
	if flagVerbose {
		os.Setenv(envVerbose, "1")
	}
	if flagNoCamera {
		os.Setenv(envNoCamera, "1")
	}
	if flagNoLight {
		os.Setenv(envNoLight, "1")
	}
	if flagNoStatusLED {
		os.Setenv(envNoStatusLED, "1")
	}

	videoDuration = cfg.videoDuration()

	binary, err := os.Executable()
	if err != nil {
		return fmt.Errorf("ratcam: resolving own executable path: %w", err)
	}

	registry := buildMainRegistry(logger, cfg, !flagNoCamera, !flagNoLight, !flagNoStatusLED)
	defs := buildDefinitions(flagNoCamera, flagNoLight, flagNoStatusLED)
	metrics.ActivePlugins.Set(float64(len(defs)))

	baseDir := cfg.TempFolder + "/ratcam-ipc"
	host, err := processeshost.New(logger, baseDir, binary, registry, defs)
	if err != nil {
		return fmt.Errorf("ratcam: preparing process host: %w", err)
	}

	debugSrv := startDebugServer(logger, cfg.DebugAddr)

	prg := &mainProgram{host: host, logger: logger}
	svcConfig := &service.Config{
		Name:        "ratcam",
		DisplayName: "ratcam surveillance daemon",
		Description: "Motion-triggered camera surveillance with chat control",
	}
	svc, err := service.New(prg, svcConfig)
	if err != nil {
		stopDebugServer(context.Background(), debugSrv)
		return fmt.Errorf("ratcam: building service wrapper: %w", err)
	}
	prg.svcLogger, _ = svc.Logger(nil)

	runErr := svc.Run()
	stopDebugServer(context.Background(), debugSrv)
	if runErr != nil {
		return fmt.Errorf("ratcam: %w", runErr)
	}
	return nil
}

// mainProgram adapts processeshost.Host to kardianos/service's
// Interface, the same "one binary, two run modes" idiom the teacher
// reserves for servicelog, except here it is actually wired: Run blocks
// for the OS-signal/service-manager lifetime rather than just building a
// logger.
type mainProgram struct {
	host      *processeshost.Host
	logger    ratcamlog.Logger
	svcLogger service.Logger
}

func (p *mainProgram) Start(s service.Service) error {
	go func() {
		if err := p.host.Start(context.Background()); err != nil {
			p.logger.Error("process host failed to start", ratcamlog.Error(err))
			if p.svcLogger != nil {
				p.svcLogger.Error(err)
			}
		}
	}()
	return nil
}

func (p *mainProgram) Stop(s service.Service) error {
	p.host.Stop(context.Background())
	return nil
}

// runChild is the entry point for a re-exec'd CAMERA or CHAT process.
func runChild(role plugin.Process, socket string) int {
	logger, err := ratcamlog.New(os.Getenv(envVerbose) == "1", os.Getenv(envLogfile))
	if err != nil {
		return 2
	}

	cfg, err := loadConfig(os.Getenv(envConfig))
	if err != nil {
		logger.Error("loading config", ratcamlog.Error(err))
		return 2
	}
	if err := cfg.Check(os.Getenv(envToken)); err != nil {
		logger.Error("invalid config", ratcamlog.Error(err))
		return 1
	}
	videoDuration = cfg.videoDuration()

	noCamera := os.Getenv(envNoCamera) == "1"
	noLight := os.Getenv(envNoLight) == "1"
	noStatusLED := os.Getenv(envNoStatusLED) == "1"
	statusName := ""
	if !noStatusLED {
		statusName = "StatusLED"
	}

	var registry *plugin.Registry
	switch role {
	case plugin.CAMERA:
		registry = buildCameraRegistry(logger, cfg, !noCamera, statusName)
	case plugin.CHAT:
		registry, err = buildChatRegistry(logger, cfg)
		if err != nil {
			logger.Error("building chat registry", ratcamlog.Error(err))
			return 2
		}
	default:
		logger.Error("unexpected child role", ratcamlog.String("role", role.String()))
		return 2
	}

	defs := buildDefinitions(noCamera, noLight, noStatusLED)
	child, err := processeshost.NewChild(logger, role, socket, registry, defs)
	if err != nil {
		logger.Error("starting child host", ratcamlog.Error(err))
		return 2
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		if err := child.Server().Serve(ctx); err != nil {
			logger.Error("child server stopped", ratcamlog.Error(err))
		}
	}()
	singleton.SignalReady()

	if err := child.WaitActivated(); err != nil {
		logger.Error("activation failed", ratcamlog.Error(err))
		return 2
	}
	logger.Info("child process activated", ratcamlog.String("role", role.String()))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	child.Deactivate(shutdownCtx)
	return 0
}

// buildDefinitions is the single source of truth for the topology shape,
// called identically by MAIN and by every re-exec'd child so the
// Definition list both sides build plugin.Registry-free is always
// byte-for-byte the same.
func buildDefinitions(noCamera, noLight, noStatusLED bool) []plugin.Definition {
	defs := []plugin.Definition{
		{Name: "Media", Types: plugin.Triple[plugin.TypeName]{"Media", "Media", "Media"}},
	}
	if !noCamera {
		defs = append(defs,
			plugin.Definition{Name: "Motion", Types: plugin.Triple[plugin.TypeName]{"MotionMain", "MotionCamera", ""}},
			plugin.Definition{Name: "Capture", Types: plugin.Triple[plugin.TypeName]{"", "Capture", ""}},
			plugin.Definition{Name: "Recorder", Types: plugin.Triple[plugin.TypeName]{"", "Recorder", ""}},
		)
	}
	if !noStatusLED {
		defs = append(defs, plugin.Definition{Name: "StatusLED", Types: plugin.Triple[plugin.TypeName]{"StatusLED", "", ""}})
	}
	if !noLight {
		defs = append(defs, plugin.Definition{Name: "PWMLED", Types: plugin.Triple[plugin.TypeName]{"PWMLED", "", ""}})
	}
	defs = append(defs,
		plugin.Definition{Name: "Chatbot", Types: plugin.Triple[plugin.TypeName]{"", "", "Chatbot"}},
		plugin.Definition{Name: "ChatMediaBridge", Types: plugin.Triple[plugin.TypeName]{"", "", "ChatMediaBridge"}},
	)
	return defs
}

// buildMainRegistry wires MAIN's own plugin slots: the media bus every
// process hosts, plus whichever of the notifier/status-LED/PWM-light
// plugins the construction-time flags leave enabled.
func buildMainRegistry(logger ratcamlog.Logger, cfg *Config, includeCamera, includeLight, includeStatusLED bool) *plugin.Registry {
	reg := plugin.NewRegistry()

	bus := media.New(logger, "Media")
	reg.Register("Media", func() plugin.Plugin { return bus })

	if includeCamera {
		notifier := motion.NewMainNotifier(logger, "Motion")
		reg.Register("MotionMain", func() plugin.Plugin { return notifier })
	}
	if includeStatusLED {
		svc := statusled.NewService(logger, statusled.NewLoggingDriver(logger))
		reg.Register("StatusLED", func() plugin.Plugin { return svc })
	}
	if includeLight {
		mgr := pwmled.New(logger, pwmled.NewLoggingDriver(logger))
		reg.Register("PWMLED", func() plugin.Plugin { return mgr })
	}
	return reg
}

// buildCameraRegistry wires CAMERA's plugin slots: the media bus, and,
// when the camera is enabled, the no-hardware camerastub.Driver plus the
// motion detector, still-capture queue and dual-buffer recorder that
// share it.
func buildCameraRegistry(logger ratcamlog.Logger, cfg *Config, includeCamera bool, statusName string) *plugin.Registry {
	reg := plugin.NewRegistry()

	bus := media.New(logger, "Media")
	reg.Register("Media", func() plugin.Plugin { return bus })

	if !includeCamera {
		return reg
	}

	driver := camerastub.New(logger, 0, 0)

	motionCfg := motion.Config{
		Thresholds:    cfg.Detector.TriggerThresholds,
		AreaFractions: cfg.Detector.TriggerAreaFractions,
		TimeWindow:    cfg.timeWindow(),
		Framerate:     cfg.Camera.Framerate,
		JPEGQuality:   cfg.Camera.JPEGQuality,
		SpoolDir:      cfg.TempFolder,
	}
	detector := motion.NewCameraDetector(logger, "Motion", motionCfg, driver, motion.NewStillImager(), bus)
	reg.Register("MotionCamera", func() plugin.Plugin { return detector })

	captureCfg := capture.Config{
		SpoolDir:    cfg.TempFolder,
		JPEGQuality: cfg.Camera.JPEGQuality,
		Capacity:    4,
	}
	captureQueue := capture.New(logger, captureCfg, driver, bus)
	reg.Register("Capture", func() plugin.Plugin { return captureQueue })

	recCfg := recorder.Config{
		SpoolDir:            cfg.TempFolder,
		BufferMaxAge:        cfg.Camera.Buffer,
		SPSMaxAge:           cfg.Camera.Buffer,
		Timescale:           90000,
		Framerate:           cfg.Camera.Framerate,
		ClipLengthTolerance: cfg.Camera.ClipLengthTolerance,
	}
	rec := recorder.New(logger, recCfg, driver, bus)
	rec.SetStatusName(statusName)
	reg.Register("Recorder", func() plugin.Plugin { return rec })

	return reg
}

// buildChatRegistry wires CHAT's plugin slots: the media bus, the chat
// Root (bound to the Discord transport and the on-disk auth store), and
// the media bridge that broadcasts delivered photos/clips.
func buildChatRegistry(logger ratcamlog.Logger, cfg *Config) (*plugin.Registry, error) {
	reg := plugin.NewRegistry()

	bus := media.New(logger, "Media")
	reg.Register("Media", func() plugin.Plugin { return bus })

	transport, err := discordtransport.New(cfg.Telegram.Token)
	if err != nil {
		return nil, fmt.Errorf("ratcam: building chat transport: %w", err)
	}
	authStore := chatauth.New(logger, cfg.Telegram.AuthFile, time.Now)
	if err := authStore.Load(); err != nil {
		return nil, fmt.Errorf("ratcam: loading chat auth store: %w", err)
	}
	root := chatbot.New(logger, transport, authStore)
	reg.Register("Chatbot", func() plugin.Plugin { return root })

	bridge := newMediaBridge(logger, root)
	reg.Register("ChatMediaBridge", func() plugin.Plugin { return bridge })

	return reg, nil
}
