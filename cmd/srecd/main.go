package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/kalkan/srec/internal/api"
	"github.com/kalkan/srec/internal/auth"
	"github.com/kalkan/srec/internal/config"
	"github.com/kalkan/srec/internal/httputil"
	"github.com/kalkan/srec/internal/metrics"
	"github.com/kalkan/srec/internal/passes"
	"github.com/kalkan/srec/internal/propagation"
	"github.com/kalkan/srec/internal/stream"
	"github.com/kalkan/srec/internal/tle"
	"github.com/kalkan/srec/internal/track"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "YAML config file (default $"+config.EnvFile+")")
	pflag.Parse()

	// Bootstrap logger until the configured level is known.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load(*configPath, logger)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	level, _ := cfg.SlogLevel()
	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	defaults, err := apiDefaults(cfg)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	store := tle.NewStore()
	source := tle.NewFileSource(cfg.TLEFile, logger)
	if _, err := source.Reload(store); err != nil {
		// Keep serving probes; /readyz reports 503 until a reload succeeds.
		logger.Error("initial TLE load failed", "source", source.Name(), "error", err)
	}

	pool := propagation.NewWorkerPool(cfg.Workers, logger)
	sessions := track.NewProvider(store, pool, logger)
	tracker := track.NewTracker(sessions, logger)

	clients := httputil.NewResolver(cfg.Stream)
	streamHandler := stream.NewHandler(tracker, store, stream.Config{
		MaxConcurrentPerIP: cfg.Stream.MaxConcurrentPerIP,
		MaxConcurrent:      cfg.Stream.MaxConcurrent,
		KeepaliveInterval:  time.Duration(cfg.Stream.KeepaliveSeconds) * time.Second,
		Clients:            clients,
	}, logger)

	srv := api.NewServer(cfg.HTTPAddr, logger, api.Deps{
		Store:    store,
		Sessions: sessions,
		Source:   source,
		Stream:   streamHandler,
		Defaults: defaults,
		Auth:     auth.Config{Enabled: cfg.Auth.Enabled, Token: cfg.Auth.Token},
		Clients:  clients,
	})

	// Graceful shutdown on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	interval := time.Duration(cfg.Tracker.IntervalSeconds * float64(time.Second))
	trackerHandle := tracker.Start(ctx, interval)

	// Background goroutine to update the TLE age gauge.
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			if age := store.AgeSeconds(); age >= 0 {
				metrics.SetTLEAge(age)
			}
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		logger.Info("starting server",
			"addr", cfg.HTTPAddr,
			"auth_enabled", cfg.Auth.Enabled,
			"tle_source", source.Name(),
			"workers", cfg.Workers,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server listen error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	trackerHandle.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.HTTPServer().Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

// apiDefaults maps configuration onto the query defaults of the HTTP API.
func apiDefaults(cfg config.Config) (api.Defaults, error) {
	start, err := cfg.StartTime()
	if err != nil {
		return api.Defaults{}, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return api.Defaults{}, err
	}
	obs := passes.Observer{LatDeg: cfg.Observer.Lat, LonDeg: cfg.Observer.Lon, AltM: cfg.Observer.Alt}
	if err := obs.Validate(); err != nil {
		return api.Defaults{}, fmt.Errorf("default observer: %w", err)
	}
	return api.Defaults{
		Observer:     obs,
		Start:        start,
		SearchHours:  cfg.Search.SearchHours,
		MaxPasses:    cfg.Search.MaxPasses,
		Step:         time.Duration(cfg.Search.StepSeconds) * time.Second,
		HoursForward: cfg.Search.HoursForward,
		TrackStep:    time.Duration(cfg.Search.TrackStepSeconds) * time.Second,
		Location:     loc,
	}, nil
}
