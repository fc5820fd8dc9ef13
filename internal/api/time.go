package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Nolaskote/Simulation/internal/httputil"
	"github.com/Nolaskote/Simulation/internal/simclock"
	"github.com/Nolaskote/Simulation/internal/transform"
)

// maxRate bounds |days per wall second|.
const maxRate = 36525.0

type timeResponse struct {
	Days       float64 `json:"t"`
	UTC        string  `json:"utc"`
	Rate       float64 `json:"days_per_second"`
	Paused     bool    `json:"paused"`
	Generation uint64  `json:"generation"`
}

func describeTime(clock *simclock.Clock) timeResponse {
	s := clock.Sample()
	return timeResponse{
		Days:       s.Days,
		UTC:        utc(s.Days),
		Rate:       s.Rate,
		Paused:     s.Paused,
		Generation: s.Generation,
	}
}

// timeHandler serves GET /api/v1/time.
func timeHandler(clock *simclock.Clock) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, describeTime(clock))
	}
}

// seekHandler serves POST /api/v1/time/seek?t=days. Seeking starts a new
// clock generation, so trails restart and the next compute is not throttled.
func seekHandler(logger *slog.Logger, clock *simclock.Clock) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v := r.URL.Query().Get("t")
		if v == "" {
			httputil.WriteError(w, http.StatusBadRequest, "missing t parameter")
			return
		}
		days, ok := transform.ParseStart(v, time.Now())
		if !ok {
			httputil.WriteError(w, http.StatusBadRequest, "invalid t parameter, must be days since J2000, RFC 3339, or now")
			return
		}
		clock.Seek(days)
		logger.Info("clock seek", "component", "api", "days", days)
		httputil.WriteJSON(w, http.StatusOK, describeTime(clock))
	}
}

// rateHandler serves POST /api/v1/time/rate?days_per_second=x.
func rateHandler(logger *slog.Logger, clock *simclock.Clock) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rate, err := strconv.ParseFloat(r.URL.Query().Get("days_per_second"), 64)
		if err != nil || !transform.Finite(rate) || rate < -maxRate || rate > maxRate {
			httputil.WriteError(w, http.StatusBadRequest, "invalid days_per_second parameter, must be a number within ±36525")
			return
		}
		clock.SetRate(rate)
		logger.Info("clock rate changed", "component", "api", "days_per_second", rate)
		httputil.WriteJSON(w, http.StatusOK, describeTime(clock))
	}
}

// pauseHandler serves POST /api/v1/time/pause.
func pauseHandler(logger *slog.Logger, clock *simclock.Clock) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clock.Pause()
		logger.Info("clock paused", "component", "api")
		httputil.WriteJSON(w, http.StatusOK, describeTime(clock))
	}
}

// resumeHandler serves POST /api/v1/time/resume.
func resumeHandler(logger *slog.Logger, clock *simclock.Clock) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clock.Resume()
		logger.Info("clock resumed", "component", "api")
		httputil.WriteJSON(w, http.StatusOK, describeTime(clock))
	}
}
