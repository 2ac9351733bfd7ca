package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goodtune/ktrack/internal/activity"
	"github.com/goodtune/ktrack/internal/api"
	"github.com/goodtune/ktrack/internal/checkpoint"
	"github.com/goodtune/ktrack/internal/clock"
	"github.com/goodtune/ktrack/internal/config"
	"github.com/goodtune/ktrack/internal/consent"
	"github.com/goodtune/ktrack/internal/control"
	"github.com/goodtune/ktrack/internal/metrics"
	"github.com/goodtune/ktrack/internal/session"
	"github.com/goodtune/ktrack/internal/storage"
	"github.com/goodtune/ktrack/internal/storage/bolt"
	"github.com/goodtune/ktrack/internal/storage/redis"
	"github.com/goodtune/ktrack/internal/systemd"
	"github.com/goodtune/ktrack/internal/timer"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the ktrack daemon",
	Long:  `Start the tracking session core with its local control API and metrics endpoint.`,
	RunE:  runDaemon,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("config", configPath).
		Msg("Starting ktrack")

	// Check for systemd socket activation
	sdListeners, err := systemd.GetListeners()
	if err != nil {
		return fmt.Errorf("failed to get systemd listeners: %w", err)
	}
	if sdListeners.Activated {
		logger.Info().Msg("Running with systemd socket activation")
	}

	// Initialize storage
	store, err := openStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	if store != nil {
		defer func() {
			if err := store.Close(); err != nil {
				logger.Error().Err(err).Msg("Failed to close storage")
			}
		}()
	}

	logger.Info().
		Str("type", cfg.Storage.Type).
		Str("path", cfg.Storage.Path).
		Msg("Storage initialized")

	clk := clock.RealClock{}
	tracking := cfg.Tracking
	thresholds := activity.Thresholds{}
	copy(thresholds[:], tracking.ProductivityThresholds)

	// Initialize collaborator API
	var client api.Client
	if cfg.API.UseMemory() {
		client = api.NewMemory(clk, thresholds)
		logger.Warn().Msg("No collaborator API configured, using in-process backend")
	} else {
		client = api.NewHTTPClient(cfg.API.BaseURL, parseDuration(cfg.API.Timeout, 15*time.Second), nil, logger)
		logger.Info().Str("base_url", cfg.API.BaseURL).Msg("Collaborator API client initialized")
	}

	// Initialize input source
	var source activity.InputSource
	if cfg.Simulation.Enabled {
		source = activity.NewSimulatedSource(clk, cfg.Simulation.PointerEventsPerMinute, cfg.Simulation.KeyEventsPerMinute, time.Now().UnixNano())
		logger.Info().
			Int("pointer_per_minute", cfg.Simulation.PointerEventsPerMinute).
			Int("key_per_minute", cfg.Simulation.KeyEventsPerMinute).
			Msg("Using simulated input source")
	} else {
		source = activity.NewManualSource()
		logger.Info().Msg("Using manual input source")
	}

	// Initialize session components
	gate := consent.NewGate(clk, logger)
	reconciler := timer.NewReconciler(timer.Config{
		TickInterval: parseDuration(tracking.TickInterval, timer.DefaultTickInterval),
		MaxSession:   parseDuration(tracking.MaxSessionDuration, timer.DefaultMaxSession),
	}, clk, logger)
	sampler := activity.NewSampler(activity.Config{
		Interval:      parseDuration(tracking.SampleInterval, activity.DefaultSampleInterval),
		PointerFactor: tracking.PointerFactor,
		KeyFactor:     tracking.KeyFactor,
		Thresholds:    thresholds,
	}, source, gate, clk, logger)
	scheduler := checkpoint.NewScheduler(parseDuration(tracking.CheckpointInterval, checkpoint.DefaultInterval), gate, clk, logger)
	defer sampler.Close()
	defer scheduler.Close()

	sess := session.New(client, session.Components{
		Gate:       gate,
		Reconciler: reconciler,
		Sampler:    sampler,
		Scheduler:  scheduler,
		Capture:    checkpoint.PlaceholderCapture{Clock: clk},
	}, store, session.Config{
		ReportTimeout: parseDuration(tracking.ReportTimeout, session.DefaultReportTimeout),
	}, clk, logger)

	restoreCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	restored, err := sess.Restore(restoreCtx)
	cancel()
	if err != nil {
		logger.Error().Err(err).Msg("Failed to restore mirrored session")
	} else if restored {
		logger.Info().Str("phase", string(sess.Phase())).Msg("Resumed mirrored session")
	}

	// Initialize Control Server
	controlAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.ControlPort)
	controlServer := control.NewServer(control.Config{ListenAddr: controlAddr}, sess, logger)

	// Use systemd socket-activated listener if available
	if sdListeners.Activated && sdListeners.Control != nil {
		controlServer.SetListener(sdListeners.Control)
	}

	if err := controlServer.Start(); err != nil {
		return fmt.Errorf("failed to start Control Server: %w", err)
	}

	// Initialize Metrics Server
	var metricsServer *metrics.Server
	if cfg.Server.MetricsPort > 0 {
		metricsAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.MetricsPort)
		metricsServer = metrics.NewServer(metricsAddr, logger)

		if sdListeners.Activated && sdListeners.Metrics != nil {
			metricsServer.SetListener(sdListeners.Metrics)
		}

		if err := metricsServer.Start(); err != nil {
			return fmt.Errorf("failed to start Metrics Server: %w", err)
		}
	}

	// Log startup complete
	logger.Info().Msg("ktrack startup complete")
	logger.Info().Msgf("Control API: http://%s/api/session", controlAddr)
	if metricsServer != nil {
		logger.Info().Msgf("Metrics: http://%s:%d/metrics", cfg.Server.BindAddress, cfg.Server.MetricsPort)
	}

	// Notify systemd that we're ready to serve requests
	if err := systemd.NotifyReady(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd ready notification")
	} else {
		logger.Debug().Msg("Sent systemd ready notification")
	}

	stopWatchdog := startWatchdog(logger)
	unsubscribe := sess.SubscribePhase(func(from, to session.Phase) {
		_ = systemd.NotifyStatus("session " + string(to))
	})

	// Wait for signals (shutdown or status dump)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	for {
		sig := <-sigChan
		if sig == syscall.SIGHUP {
			st := sess.Status()
			logger.Info().
				Str("phase", string(st.Phase)).
				Str("session_id", st.SessionID).
				Str("elapsed", st.Elapsed).
				Bool("monitoring", st.Monitoring).
				Int("checkpoints", st.Checkpoints).
				Msg("SIGHUP received, session status")
			continue
		}
		logger.Info().Msg("Shutdown signal received, gracefully stopping...")
		break
	}

	// Notify systemd that we're stopping
	if err := systemd.NotifyStopping(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd stopping notification")
	}

	unsubscribe()
	stopWatchdog()

	// The session itself is left as is: the mirrored descriptor lets the
	// next start resume it.
	if err := controlServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping Control Server")
	}

	if metricsServer != nil {
		if err := metricsServer.Stop(); err != nil {
			logger.Error().Err(err).Msg("Error stopping Metrics Server")
		}
	}

	logger.Info().Msg("ktrack stopped")

	return nil
}

// startWatchdog pings the systemd watchdog until the returned function is
// called. It does nothing when no watchdog is configured.
func startWatchdog(logger zerolog.Logger) func() {
	interval := systemd.WatchdogInterval()
	if interval <= 0 {
		return func() {}
	}

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := systemd.NotifyWatchdog(); err != nil {
					logger.Warn().Err(err).Msg("Failed to ping systemd watchdog")
				}
			case <-done:
				return
			}
		}
	}()

	logger.Debug().Dur("interval", interval).Msg("systemd watchdog enabled")
	return func() { close(done) }
}

func openStorage(cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Type {
	case "", "bolt":
		return bolt.Open(cfg.Path)
	case "redis":
		return redis.Open(cfg.Redis)
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}

// setupLogger configures the logger based on configuration
func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	// Set log level
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	zerolog.SetGlobalLevel(level)

	// Set output format
	if cfg.Format == "text" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Default to JSON
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// parseDuration parses a duration string with a fallback
func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
