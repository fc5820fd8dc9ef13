package api

import (
	"errors"
	"net/http"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/Nolaskote/Simulation/internal/ephem"
	"github.com/Nolaskote/Simulation/internal/httputil"
	"github.com/Nolaskote/Simulation/internal/kepler"
	"github.com/Nolaskote/Simulation/internal/neo"
	"github.com/Nolaskote/Simulation/internal/simclock"
	"github.com/Nolaskote/Simulation/internal/transform"
)

// vec encodes non-finite components as null.
type vec [3]neo.Number

func toVec(v r3.Vec) vec {
	return vec{neo.Number(v.X), neo.Number(v.Y), neo.Number(v.Z)}
}

type bodyResponse struct {
	ID         neo.ID     `json:"id"`
	Name       string     `json:"name,omitempty"`
	Class      neo.Class  `json:"class"`
	Index      int        `json:"index"`
	Elements   neo.Record `json:"elements"`
	Days       float64    `json:"t"`
	UTC        string     `json:"utc"`
	Position   vec        `json:"position_au"`
	Scene      vec        `json:"scene"`
	DistanceAU neo.Number `json:"distance_au"`
	Finite     bool       `json:"finite"`
	Warnings   []string   `json:"warnings,omitempty"`
}

type planetResponse struct {
	Name       string     `json:"name"`
	Position   vec        `json:"position_au"`
	Scene      vec        `json:"scene"`
	DistanceAU neo.Number `json:"distance_au"`
	Spin       float64    `json:"spin"`
}

type planetsResponse struct {
	Days    float64          `json:"t"`
	UTC     string           `json:"utc"`
	Planets []planetResponse `json:"planets"`
}

// queryDays reads ?t= as days since J2000 or an RFC 3339 time, defaulting
// to the simulation clock.
func queryDays(r *http.Request, clock *simclock.Clock) (float64, bool) {
	v := r.URL.Query().Get("t")
	if v == "" {
		return clock.Now(), true
	}
	return transform.ParseStart(v, time.Now())
}

func utc(days float64) string {
	return transform.TimeFromDays(days).Format(time.RFC3339)
}

// bodyHandler serves GET /api/v1/bodies/{id}?t=days with a single-body
// position computed on demand.
func bodyHandler(f Field) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := neo.ID(r.PathValue("id"))
		days, ok := queryDays(r, f.Clock())
		if !ok {
			httputil.WriteError(w, http.StatusBadRequest, "invalid t parameter, must be days since J2000 or RFC 3339")
			return
		}

		pop, _ := f.Population()
		i, err := pop.Lookup(id)
		if err != nil {
			if errors.Is(err, neo.ErrNotFound) {
				httputil.WriteError(w, http.StatusNotFound, "body not found")
				return
			}
			httputil.WriteError(w, http.StatusInternalServerError, err.Error())
			return
		}
		b := pop.Body(i)

		pos := kepler.Position(b.Elements, days)
		httputil.WriteJSON(w, http.StatusOK, bodyResponse{
			ID:         b.ID,
			Name:       b.Name,
			Class:      b.Class,
			Index:      i,
			Elements:   b.Record(),
			Days:       days,
			UTC:        utc(days),
			Position:   toVec(pos),
			Scene:      toVec(transform.EclipticToScene(pos, f.Scale())),
			DistanceAU: neo.Number(r3.Norm(pos)),
			Finite:     transform.FiniteVec(pos),
			Warnings:   neo.Validate(b.Elements),
		})
	}
}

// planetsHandler serves GET /api/v1/planets?t=days.
func planetsHandler(f Field) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		days, ok := queryDays(r, f.Clock())
		if !ok {
			httputil.WriteError(w, http.StatusBadRequest, "invalid t parameter, must be days since J2000 or RFC 3339")
			return
		}

		states := ephem.Positions(days, nil)
		resp := planetsResponse{
			Days:    days,
			UTC:     utc(days),
			Planets: make([]planetResponse, len(states)),
		}
		for i, s := range states {
			resp.Planets[i] = planetResponse{
				Name:       s.Name,
				Position:   toVec(s.Position),
				Scene:      toVec(transform.EclipticToScene(s.Position, f.Scale())),
				DistanceAU: neo.Number(r3.Norm(s.Position)),
				Spin:       s.Spin,
			}
		}
		httputil.WriteJSON(w, http.StatusOK, resp)
	}
}
