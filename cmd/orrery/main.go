package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Nolaskote/Simulation/internal/api"
	"github.com/Nolaskote/Simulation/internal/cache"
	"github.com/Nolaskote/Simulation/internal/config"
	"github.com/Nolaskote/Simulation/internal/field"
	"github.com/Nolaskote/Simulation/internal/metrics"
	"github.com/Nolaskote/Simulation/internal/neo"
	"github.com/Nolaskote/Simulation/internal/propagation"
	"github.com/Nolaskote/Simulation/internal/simclock"
	"github.com/Nolaskote/Simulation/internal/stream"
	"github.com/Nolaskote/Simulation/web"
)

func main() {
	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))

	cfg, err := config.Load(logger)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	level.Set(cfg.LogLevel)

	store := neo.NewStore()
	popCache := neo.NewCache(cfg.Population.CacheDir, cfg.Population.MaxFiles)
	var fetcher *neo.Fetcher
	if cfg.Population.EnableFetch {
		fetcher = neo.NewFetcher(cfg.Population.SourceURL, logger, cfg.Population.ExtraURLs...)
	}

	// Graceful shutdown on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pop := loadPopulation(ctx, cfg.Population, popCache, fetcher, logger)
	store.Set(pop)

	prop := propagation.NewPropagator(cfg.Propagation, logger)
	frames := cache.NewFrameCache(cfg.CacheFrames, logger)
	clock := simclock.New(cfg.Clock.StartDays, cfg.Clock.Rate, simclock.System())
	fld := field.New(cfg.Field, clock, frames, prop, simclock.System(), logger)
	fld.Load(pop)

	streamHandler := stream.NewHandler(fld, cfg.Stream, logger)

	srv := api.NewServer(cfg.Addr, logger, cfg.Auth, api.Deps{
		Field:   fld,
		Store:   store,
		Fetcher: fetcher,
		Cache:   popCache,
		Stream:  streamHandler,
		Web:     web.Content,
	})

	go func() {
		if err := fld.Run(ctx); err != nil {
			logger.Error("field stopped with error", "error", err)
		}
	}()

	// Background goroutine to update the population age gauge.
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if age := store.AgeSeconds(); age >= 0 {
					metrics.SetPopulationAge(age)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		logger.Info("starting server",
			"addr", cfg.Addr,
			"auth_enabled", cfg.Auth.Enabled,
			"fetch_enabled", cfg.Population.EnableFetch,
			"body_count", pop.Len(),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server listen error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.HTTPServer().Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

// loadPopulation tries the configured file, then the snapshot cache, then a
// fetch. With none available the service starts with an empty population
// and planets only.
func loadPopulation(ctx context.Context, cfg config.PopulationConfig, popCache *neo.Cache, fetcher *neo.Fetcher, logger *slog.Logger) *neo.Population {
	if cfg.Path != "" {
		pop, err := neo.LoadFile(cfg.Path, logger)
		if err == nil {
			logger.Info("loaded population from file", "path", cfg.Path, "body_count", pop.Len())
			return pop
		}
		logger.Warn("failed to load population file", "path", cfg.Path, "error", err)
	}

	pop, err := neo.LoadCached(popCache, logger)
	if err == nil {
		logger.Info("loaded population from cache",
			"body_count", pop.Len(),
			"cached_at", pop.LoadedAt.Format(time.RFC3339),
		)
		return pop
	}
	logger.Info("no population cache found", "error", err)

	if fetcher != nil {
		fetchCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
		defer cancel()
		pop, err := neo.Fetch(fetchCtx, fetcher, popCache, logger)
		if err == nil {
			logger.Info("fetched population", "source", pop.Source, "body_count", pop.Len())
			return pop
		}
		logger.Warn("population fetch failed", "error", err)
	}

	logger.Warn("starting without NEO data, planets only")
	return neo.NewPopulation(nil, "empty", time.Now(), logger)
}
