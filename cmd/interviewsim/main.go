// Package main provides the interviewsim worker service entry point.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	gormlogger "gorm.io/gorm/logger"

	"github.com/interviewsim/interviewsim/internal/auth"
	"github.com/interviewsim/interviewsim/internal/config"
	dbgorm "github.com/interviewsim/interviewsim/internal/db/gorm"
	"github.com/interviewsim/interviewsim/internal/inference"
	"github.com/interviewsim/interviewsim/internal/store"
	"github.com/interviewsim/interviewsim/internal/watcher"
	"github.com/interviewsim/interviewsim/internal/worker"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	port := flag.Int("port", 0, "Listen port (default: from settings)")
	dataDir := flag.String("data-dir", "", "Data directory (default: ~/.interviewsim)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, NoColor: true})

	if err := config.EnsureAll(); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure data directories")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load config, using defaults")
		cfg = config.Default()
	}
	if *port != 0 {
		cfg.Port = *port
	}

	dbPath := cfg.Database.Path
	if *dataDir != "" {
		dbPath = *dataDir + "/interviewsim.db"
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info().Msg("Shutting down worker service")
		cancel()
	}()

	db, err := dbgorm.NewStore(dbgorm.Config{
		Driver:   cfg.Database.Driver,
		Path:     dbPath,
		DSN:      cfg.Database.DSN,
		MaxConns: cfg.Database.MaxConns,
		LogLevel: gormlogger.Silent,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize store")
	}
	defer db.Close()

	adapter := store.NewAdapter(db)
	authService := auth.NewService(db, time.Duration(cfg.TokenTTLMinutes)*time.Minute)
	inferClient := inference.NewClient(inference.Config{
		Endpoint:   cfg.Inference.Endpoint,
		Token:      cfg.Inference.Token,
		MaxRetries: cfg.Inference.MaxRetries,
		BaseDelay:  time.Duration(cfg.Inference.BaseDelayMS) * time.Millisecond,
		Timeout:    time.Duration(cfg.Inference.TimeoutSec) * time.Second,
	})

	if cfg.Inference.Token == "" {
		log.Warn().Str("endpoint", cfg.Inference.Endpoint).
			Msg("No inference token configured; only acceptable for a local backend")
	}

	svc := worker.New(Version, cfg, adapter, authService, inferClient)

	// Pick up settings edits without a restart. The reload swaps a fresh
	// snapshot into the service; the running config is never mutated in place.
	settingsWatcher, err := watcher.New(config.SettingsPath(), func() {
		reloaded, err := config.Load()
		if err != nil {
			log.Warn().Err(err).Msg("Failed to reload settings")
			return
		}
		if *port != 0 {
			reloaded.Port = *port
		}
		svc.UpdateConfig(reloaded)
		log.Info().Msg("Settings reloaded")
	})
	if err != nil {
		log.Warn().Err(err).Msg("Settings watcher unavailable")
	} else {
		if err := settingsWatcher.Start(); err != nil {
			log.Warn().Err(err).Msg("Failed to start settings watcher")
		}
		defer settingsWatcher.Stop()
	}

	if err := svc.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("Worker service failed")
	}
}
