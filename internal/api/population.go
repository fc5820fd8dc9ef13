package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/Nolaskote/Simulation/internal/cache"
	"github.com/Nolaskote/Simulation/internal/httputil"
	"github.com/Nolaskote/Simulation/internal/neo"
)

const reloadTimeout = 60 * time.Second

type populationResponse struct {
	Source     string           `json:"source"`
	LoadedAt   string           `json:"loaded_at,omitempty"`
	AgeSeconds int              `json:"age_seconds"`
	Version    uint64           `json:"version"`
	Stats      neo.Stats        `json:"stats"`
	Ready      bool             `json:"ready"`
	Degraded   bool             `json:"degraded"`
	Frames     cache.CacheStats `json:"frames"`
}

func describePopulation(f Field) populationResponse {
	pop, version := f.Population()
	resp := populationResponse{
		Version:  version,
		Stats:    pop.Stats(),
		Ready:    f.Ready(),
		Degraded: f.Degraded(),
		Frames:   f.Frames().Stats(),
	}
	if pop != nil {
		resp.Source = pop.Source
		if !pop.LoadedAt.IsZero() {
			resp.LoadedAt = pop.LoadedAt.UTC().Format(time.RFC3339)
			resp.AgeSeconds = int(time.Since(pop.LoadedAt).Seconds())
		}
	}
	return resp
}

// populationHandler serves GET /api/v1/population.
func populationHandler(f Field) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, describePopulation(f))
	}
}

// reloadHandler serves POST /api/v1/population/reload: fetch, cache, and
// hand the new population to the field. Only one reload runs at a time.
func reloadHandler(logger *slog.Logger, deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Fetcher == nil {
			httputil.WriteError(w, http.StatusServiceUnavailable, "population fetch is disabled")
			return
		}
		if !deps.Store.TryLock() {
			httputil.WriteError(w, http.StatusConflict, "reload already in progress")
			return
		}
		defer deps.Store.Unlock()

		// The fetch can outlast the server's WriteTimeout.
		rc := http.NewResponseController(w)
		if err := rc.SetWriteDeadline(time.Now().Add(reloadTimeout + 5*time.Second)); err != nil {
			logger.Debug("could not extend write deadline", "component", "api", "error", err)
		}

		ctx, cancel := context.WithTimeout(r.Context(), reloadTimeout)
		defer cancel()

		start := time.Now()
		pop, err := neo.Fetch(ctx, deps.Fetcher, deps.Cache, logger)
		if err != nil {
			logger.Error("population reload failed", "component", "api", "error", err)
			status := http.StatusBadGateway
			if errors.Is(err, context.DeadlineExceeded) {
				status = http.StatusGatewayTimeout
			}
			httputil.WriteError(w, status, "reload failed: "+err.Error())
			return
		}

		deps.Field.Load(pop)
		deps.Store.Set(pop)

		logger.Info("population reloaded",
			"component", "api",
			"source", pop.Source,
			"body_count", pop.Len(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
		httputil.WriteJSON(w, http.StatusOK, describePopulation(deps.Field))
	}
}
