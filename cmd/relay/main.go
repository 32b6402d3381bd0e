// Package main runs the relay: the shared room store served to game clients over
// websockets.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/scythe504/skribblr-sync/internal/config"
	"github.com/scythe504/skribblr-sync/internal/logger"
	"github.com/scythe504/skribblr-sync/internal/server"
	"github.com/scythe504/skribblr-sync/internal/storage"
	"github.com/scythe504/skribblr-sync/internal/storage/migrations"
	"github.com/scythe504/skribblr-sync/internal/store"
	"github.com/scythe504/skribblr-sync/internal/websocket"
)

func main() {
	envFile := flag.String("env", "", "optional env file to load before the environment")
	flag.Parse()

	var files []string
	if *envFile != "" {
		files = append(files, *envFile)
	}
	cfg, err := config.Load(files...)
	if err != nil {
		log.Fatal().Err(err).Msg("[main] load config")
	}
	logger.Setup(cfg.LogLevel, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("[main] relay stopped")
	}
}

func run(ctx context.Context, cfg config.Config) error {
	var (
		mem       *store.Memory
		persisted = make(chan struct{})
	)
	persistCtx, stopPersist := context.WithCancel(ctx)
	defer stopPersist()

	if cfg.DatabaseURL != "" {
		if err := migrations.Migrate(ctx, cfg.DatabaseURL); err != nil {
			return err
		}
		repo, err := storage.NewPostgresRepo(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer repo.Close()

		p := storage.NewPersister(repo, cfg.PersistInterval)
		mem = store.NewMemory(p.Option())
		p.Attach(mem)
		if _, err := p.Restore(ctx); err != nil {
			mem.Close()
			return err
		}
		go func() {
			defer close(persisted)
			p.Run(persistCtx)
		}()
	} else {
		log.Warn().Msg("[run] SKRIBBLR_DATABASE_URL not set, rooms live in memory only")
		mem = store.NewMemory()
		close(persisted)
	}
	defer mem.Close()

	hub := websocket.NewHub(mem, websocket.WithRateLimit(cfg.RelayRate, cfg.RelayBurst))
	srv := server.NewServer(cfg.Addr, mem, hub)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("[run] relay listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	log.Info().Msg("[run] shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("[run] http shutdown")
	}

	// Rooms are saved while their players are still connected, so dropping the
	// sockets afterwards does not expire them.
	stopPersist()
	select {
	case <-persisted:
	case <-shutdownCtx.Done():
		log.Warn().Msg("[run] final persist did not finish")
	}
	// Hijacked sockets are not closed by Shutdown.
	hub.Close()
	return nil
}
