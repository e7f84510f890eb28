package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"sms-bridge/internal/factory"
	"sms-bridge/internal/handler"
	"sms-bridge/internal/util"
)

func main() {
	// Initialize factory (which loads config and initializes all clients)
	f, err := factory.NewFactory()
	if err != nil {
		util.Fatal("Failed to initialize factory", util.ErrorField(err))
	}
	defer f.Close()
	defer util.Sync()

	cfg := f.Config()

	router := setupRouter(f)

	server := &http.Server{
		Addr:         cfg.GetServerAddress(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Background workers
	group, workerCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return f.SyncWorker().Run(workerCtx) })
	group.Go(func() error { return f.AuditWorker().Run(workerCtx) })
	group.Go(func() error { return f.ResilienceManager().Run(workerCtx) })

	go func() {
		util.Info("Starting HTTP server",
			util.String("environment", cfg.Environment),
			util.Int("port", cfg.Server.Port),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			util.Error("HTTP server failed", util.ErrorField(err))
			stop()
		}
	}()

	<-ctx.Done()
	util.Info("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		util.Error("HTTP server shutdown failed", util.ErrorField(err))
	}

	// Workers exit via context cancellation; wait for them before the final
	// drains so nothing races on the queues.
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		util.Error("Worker exited with error", util.ErrorField(err))
	}

	f.SyncWorker().Drain(shutdownCtx)
	f.AuditWorker().Flush(shutdownCtx)
	dumpState(shutdownCtx, f)

	util.Info("Shutdown complete")
}

// setupRouter creates the HTTP router with all handlers using Chi
func setupRouter(f *factory.Factory) http.Handler {
	bridgeHandler := handler.NewBridgeHandler(
		f.ChallengeService(),
		f.VerificationService(),
		f.RecoveryService(),
		f.BlacklistService(),
		f.SettingsService(),
		f.SettingsStore(),
		util.Get(),
	)
	healthHandler := handler.NewHealthHandler(f.RedisClient(), f.PostgresClient(), f.ResilienceManager())
	return handler.NewRouter(bridgeHandler, healthHandler, util.Get())
}

// dumpState persists the live verification state so the next start can
// restore challenges and verification flags with their remaining TTLs.
func dumpState(ctx context.Context, f *factory.Factory) {
	records, failures := f.StateDump().DumpState(ctx)
	for _, err := range failures {
		util.Warn("Partial state dump at shutdown", util.ErrorField(err))
	}
	if len(records) == 0 {
		return
	}
	if err := f.PowerDownRepo().SaveRecords(ctx, records); err != nil {
		util.Error("Failed to persist state at shutdown", util.ErrorField(err))
		return
	}
	util.Info("State persisted for next start", util.Int("records", len(records)))
}
