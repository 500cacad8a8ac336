// Command server runs one simulation and serves its state over HTTP.
//
// Startup sequence:
//  1. Load configuration from environment (.env supported)
//  2. Open and migrate the run database
//  3. Build the market, transport and decision pipeline
//  4. Create the run and its agents
//  5. Optionally start the cron scheduler for automatic day stepping
//  6. Serve the API until interrupted, then back up the run if configured
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/stockagent/internal/config"
	"github.com/aristath/stockagent/internal/decision"
	"github.com/aristath/stockagent/internal/events"
	"github.com/aristath/stockagent/internal/llm"
	"github.com/aristath/stockagent/internal/market"
	"github.com/aristath/stockagent/internal/reliability"
	"github.com/aristath/stockagent/internal/report"
	"github.com/aristath/stockagent/internal/secretary"
	"github.com/aristath/stockagent/internal/server"
	"github.com/aristath/stockagent/internal/sim"
	"github.com/aristath/stockagent/internal/storage"
	"github.com/aristath/stockagent/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	logger.SetGlobalLogger(log)

	log.Info().Msg("Starting StockAgent")

	db, err := storage.New(storage.Config{Path: filepath.Join(cfg.DataDir, "run.db")})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open run database")
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to migrate run database")
	}

	store := storage.NewRunStore(db, log)
	quotes := market.NewQuoteBoard(cfg.Sim.InitialPriceA, cfg.Sim.InitialPriceB, log)
	bus := events.NewBus(log)
	reports := report.NewBuilder(store, log)

	transport := llm.NewClient(llm.Config{
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		Timeout:     cfg.LLM.Timeout,
		MaxRetries:  cfg.LLM.MaxRetries,
	}, log)
	maker := decision.NewMaker(transport, cfg.Sim.MaxAttempts, log)
	sec := secretary.New(log)

	driver, err := sim.NewDriver(cfg.Sim, quotes, maker, sec, store, reports, bus, sim.NewTemplatePrompts(), log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize simulation")
	}

	var scheduler *sim.Scheduler
	if cfg.Sim.StepCron != "" {
		scheduler, err = sim.NewScheduler(cfg.Sim.StepCron, driver, log)
		if err != nil {
			log.Fatal().Err(err).Str("cron", cfg.Sim.StepCron).Msg("Invalid step schedule")
		}
		scheduler.Start()
	}

	srv := server.New(server.Config{
		Port:    cfg.Port,
		DevMode: cfg.DevMode,
		Log:     log,
		Driver:  driver,
		Store:   store,
		Quotes:  quotes,
		Reports: reports,
		Bus:     bus,
		DB:      db,
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutdown signal received")

	if scheduler != nil {
		scheduler.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	if cfg.Backup.Enabled {
		backupRun(shutdownCtx, cfg, db, driver.RunID(), log)
	}

	log.Info().Msg("StockAgent stopped")
}

// backupRun checkpoints the WAL and uploads the run database
func backupRun(ctx context.Context, cfg *config.Config, db *storage.DB, runID string, log zerolog.Logger) {
	if err := db.WALCheckpoint(); err != nil {
		log.Error().Err(err).Msg("WAL checkpoint before backup failed")
		return
	}

	backup, err := reliability.NewBackupService(ctx, cfg.Backup, log)
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize backup service")
		return
	}
	if err := backup.UploadRun(ctx, db.Path(), runID); err != nil {
		log.Error().Err(err).Msg("Run backup failed")
	}
}
