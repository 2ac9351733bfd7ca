package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goodtune/ktrack/internal/activity"
	"github.com/goodtune/ktrack/internal/api"
	"github.com/goodtune/ktrack/internal/clock"
	"github.com/goodtune/ktrack/internal/config"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var stubListen string

var stubAPICmd = &cobra.Command{
	Use:   "stub-api",
	Short: "Serve an in-memory collaborator API",
	Long: `Serve the collaborator API from an in-memory backend. Point api.base_url
of another ktrack instance at it to exercise the HTTP client end to end.`,
	Example: `  ktrack stub-api --listen 127.0.0.1:8080
  KTRACK_API_BASE_URL=http://127.0.0.1:8080 KTRACK_API_OFFLINE=false ktrack run`,
	RunE: runStubAPI,
}

func init() {
	stubAPICmd.Flags().StringVar(&stubListen, "listen", "127.0.0.1:8080", "Address to listen on")
	rootCmd.AddCommand(stubAPICmd)
}

func runStubAPI(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	log.Logger = logger

	thresholds := activity.Thresholds{}
	copy(thresholds[:], cfg.Tracking.ProductivityThresholds)

	backend := api.NewMemory(clock.RealClock{}, thresholds)
	server := &http.Server{
		Addr:         stubListen,
		Handler:      api.NewHandler(backend, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("Stub API server error")
		}
	}()

	logger.Info().Str("addr", stubListen).Msg("Stub collaborator API started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info().Msg("Stopping stub collaborator API")
	return server.Close()
}
