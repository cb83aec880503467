package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/dkeye/voicegrid/internal/adapters/http"
	"github.com/dkeye/voicegrid/internal/adapters/ws"
	"github.com/dkeye/voicegrid/internal/app"
	"github.com/dkeye/voicegrid/internal/config"
	"github.com/dkeye/voicegrid/internal/directory"
	"github.com/dkeye/voicegrid/internal/liveness"
	"github.com/dkeye/voicegrid/internal/media/pion"
	"github.com/dkeye/voicegrid/internal/pool"
	"github.com/dkeye/voicegrid/internal/presence"
	"github.com/dkeye/voicegrid/internal/room"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	dir, err := directory.NewSQLite(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DatabasePath).Msg("failed to open directory store")
	}
	defer dir.Close()

	var pres presence.Store
	if cfg.RedisAddr != "" {
		pres, err = presence.NewRedis(cfg.RedisAddr)
		if err != nil {
			log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("failed to connect presence store")
		}
	} else {
		pres = presence.NewMemory()
	}
	defer pres.Close()

	engine, err := pion.NewEngine(cfg.RTCMinPort, cfg.RTCMaxPort, cfg.WorkerPool)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create media engine")
	}

	workers, err := pool.Init(ctx, engine, cfg.WorkerPool)
	if err != nil {
		// Worker startup failure is unrecoverable: no media can be served.
		log.Fatal().Err(err).Msg("failed to start worker pool")
	}
	defer workers.Close()

	registry := room.NewRegistry(workers)
	hub := app.NewHub()
	tracker := liveness.NewTracker()

	relay := &app.Relay{
		Registry:  registry,
		Pool:      workers,
		Hub:       hub,
		Directory: dir,
		Presence:  pres,
		Tracker:   tracker,
	}

	monitor := &liveness.Monitor{
		Tracker:   tracker,
		Registry:  registry,
		Directory: dir,
		Poll:      cfg.HeartbeatPoll,
		Stale:     cfg.HeartbeatStale,
	}
	go monitor.Run(ctx)

	ctl := &ws.Controller{
		Relay:      relay,
		ReadLimit:  cfg.ReadLimit,
		SendBuffer: cfg.SendBuffer,
		Limiter:    ws.NewRateLimiter(int(cfg.MessageRate), time.Second),
	}

	r := router.SetupRouter(ctx, cfg, ctl)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Int("workers", cfg.WorkerPool).Msg("VoiceGrid server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
