package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/intermernet/finishline/internal/api"
	"github.com/intermernet/finishline/internal/config"
	"github.com/intermernet/finishline/internal/database"
	"github.com/intermernet/finishline/internal/metrics"
	"github.com/intermernet/finishline/internal/raceclock"
	"github.com/intermernet/finishline/internal/realtime"
	"github.com/intermernet/finishline/pkg/logging"
)

const shutdownTimeout = 10 * time.Second

// main is the entry point for the finishline authority.
func main() {
	logging.Setup()

	// --- 1. Load Configuration ---
	// A .env file is a development convenience; in production the values
	// come from the real environment.
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables from the system")
	}

	if err := run(); err != nil {
		slog.Error("Authority stopped", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	// --- 2. Open the Store ---
	// The schema is created on first start; it is safe to run every time.
	dbService, err := database.NewService(cfg.DbPath)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer dbService.Close()
	slog.Info("Database ready", "path", cfg.DbPath)

	// --- 3. Restore the Race Clock ---
	clock := raceclock.New(nil)
	state, err := database.LoadClock(dbService.DB())
	if err != nil {
		return fmt.Errorf("restore race clock: %w", err)
	}
	clock.Restore(state)
	slog.Info("Race clock restored", "status", state.Status)

	// --- 4. Metrics and Push Channel ---
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewAuthority(reg)
	broker := realtime.NewBroker(cfg.BroadcastBuffer, m)

	// --- 5. Routes ---
	serverAPI := api.NewServer(cfg, dbService, broker, clock, m, reg)
	router := chi.NewRouter()
	serverAPI.RegisterRoutes(router)

	// --- 6. Serve until Interrupted ---
	// Stream handlers derive their context from ctx, so a signal ends every
	// open push channel before Shutdown waits on them.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("Finishline authority starting", "addr", cfg.ServerAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down", "clients", broker.ClientCount())
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
