// Command server runs the deadline and reminder scheduling API: HTTP
// transport, background dispatcher, and the periodic stuck-condition sweep,
// all over a single SQLite database.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-deadman-backend/internal/config"
	"github.com/tbourn/go-deadman-backend/internal/dispatch"
	"github.com/tbourn/go-deadman-backend/internal/events"
	httpapi "github.com/tbourn/go-deadman-backend/internal/http"
	"github.com/tbourn/go-deadman-backend/internal/notify"
	"github.com/tbourn/go-deadman-backend/internal/observability"
	"github.com/tbourn/go-deadman-backend/internal/repo"
	"github.com/tbourn/go-deadman-backend/internal/services"
	"github.com/tbourn/go-deadman-backend/internal/sysutil"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := config.MustLoad()
	sysutil.SetupLogger(cfg.LogLevel, cfg.LogPretty)
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("OTel setup failed")
	}

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("Database open failed")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("Schema migration failed")
	}

	bus := events.NewBus()
	reconciler := services.NewReconciler(db, bus)
	condSvc := services.NewConditionService(db, reconciler, bus)

	dispatcher := dispatch.NewDispatcher(db, notify.LogSender{}, reconciler, bus)
	dispatcher.Interval = cfg.Dispatch.Interval
	dispatcher.MaxRetries = cfg.Dispatch.MaxRetries
	dispatcher.BackoffBase = cfg.Dispatch.BackoffBase
	dispatcher.BackoffCap = cfg.Dispatch.BackoffCap

	sweeper := dispatch.NewSweeper(db, reconciler, dispatcher)
	sweeper.Grace = cfg.Dispatch.StuckGrace

	go dispatcher.Run(ctx)

	sweepCron := cron.New()
	if _, err := sweeper.Schedule(sweepCron, cfg.Dispatch.SweepSpec); err != nil {
		log.Fatal().Err(err).Str("spec", cfg.Dispatch.SweepSpec).Msg("Sweep schedule invalid")
	}
	sweepCron.Start()

	r := gin.New()
	httpapi.RegisterRoutes(r, httpapi.Deps{
		DB:         db,
		Conditions: condSvc,
		Admin:      dispatch.Admin{Dispatcher: dispatcher, Sweeper: sweeper},
		Bus:        bus,
	}, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP shutdown failed")
	}
	<-sweepCron.Stop().Done()
	if err := shutdownOTel(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("OTel shutdown failed")
	}
	log.Info().Msg("Stopped")
}
