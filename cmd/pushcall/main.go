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

	"github.com/flowpbx/pushcall/internal/api"
	"github.com/flowpbx/pushcall/internal/api/middleware"
	"github.com/flowpbx/pushcall/internal/app"
	"github.com/flowpbx/pushcall/internal/call"
	"github.com/flowpbx/pushcall/internal/call/claim"
	"github.com/flowpbx/pushcall/internal/config"
	"github.com/flowpbx/pushcall/internal/history"
	"github.com/flowpbx/pushcall/internal/inbound"
	"github.com/flowpbx/pushcall/internal/metrics"
	"github.com/flowpbx/pushcall/internal/notify"
	"github.com/flowpbx/pushcall/internal/ratelimit"
	"github.com/flowpbx/pushcall/internal/ringer"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Configure structured logging.
	logger := slog.New(cfg.SlogHandler(os.Stdout))
	slog.SetDefault(logger)

	startTime := time.Now()
	slog.Info("starting pushcall agent",
		"http_port", cfg.HTTPPort,
		"data_dir", cfg.DataDir,
		"call_timeout", cfg.CallTimeout,
	)

	// Open the history database and run migrations.
	store, err := history.Open(cfg.DataDir, logger)
	if err != nil {
		slog.Error("failed to open history database", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	// Audio: a WAV ringtone if configured, otherwise the synthesized tone.
	var tone ringer.Tone
	if cfg.Ringtone != "" {
		tone, err = ringer.LoadWAV(cfg.Ringtone)
		if err != nil {
			slog.Error("failed to load ringtone", "error", err, "path", cfg.Ringtone)
			os.Exit(1)
		}
	}
	var device ringer.Opener
	if cfg.AudioDevice != "" {
		device = ringer.FileDevice(cfg.AudioDevice)
	} else {
		slog.Warn("no --audio-device configured, ringing will be silent")
	}
	rg := ringer.New(device, tone, logger)
	defer rg.Stop()

	// Claims shared with other agent processes, if configured.
	var claims claim.Store
	if cfg.RedisAddr != "" {
		rs, err := claim.OpenRedisStore(context.Background(), claim.RedisConfig{
			Addr: cfg.RedisAddr,
			TTL:  cfg.ClaimTTL,
		})
		if err != nil {
			slog.Error("failed to connect to redis claim store", "error", err, "addr", cfg.RedisAddr)
			os.Exit(1)
		}
		defer rs.Close()
		claims = rs
		slog.Info("shared claim store enabled", "addr", cfg.RedisAddr)
	}

	tray := notify.NewMemoryTray(logger)

	resolver := call.NewResolver(call.ResolverConfig{
		Claims:    claims,
		Ringer:    rg,
		Tray:      tray,
		Retention: cfg.ClaimTTL,
	}, logger)
	defer resolver.Stop()

	outcomes := metrics.NewOutcomeCounter()
	resolver.AddSink(history.NewRecorder(store))
	resolver.AddSink(outcomes)

	foreground := app.New(cfg.Foreground, logger)

	dispatcher := inbound.NewDispatcher(inbound.DispatcherDeps{
		Registrar:  notify.NewRegistrar(tray, logger),
		Ringer:     rg,
		Resolver:   resolver,
		Presenter:  call.NewPresenter(resolver, tray, cfg.CallTimeout, logger),
		Screens:    app.NewScreens(resolver, cfg.CallTimeout, logger),
		Foreground: foreground,
		Tray:       tray,
		History:    store,
	}, logger)

	collector := metrics.NewCollector(metrics.Providers{
		Pending:  resolver,
		Ringer:   rg,
		Outcomes: outcomes,
		History:  store,
		Tray:     tray,
	}, startTime)

	ingestLimit := ratelimit.New(middleware.DefaultIngestLimit(), logger.With("subsystem", "ingest-limit"))
	defer ingestLimit.Stop()

	handler := api.NewServer(api.Deps{
		Dispatcher:  dispatcher,
		Resolver:    resolver,
		Receiver:    call.NewActionReceiver(resolver, rg, tray, foreground, logger),
		Tray:        tray,
		History:     store,
		App:         foreground,
		Ringer:      rg,
		Metrics:     metrics.Handler(metrics.NewRegistry(collector)),
		IngestLimit: ingestLimit,
	}, logger)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine.
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for interrupt or server error.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		slog.Error("http server error", "error", err)
	}

	// Graceful shutdown with timeout.
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutting down http server", "pending_calls", resolver.PendingCount())
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("http server shutdown error", "error", err)
		os.Exit(1)
	}

	slog.Info("pushcall agent stopped")
}
