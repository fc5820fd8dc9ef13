package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/Nolaskote/Simulation/internal/auth"
	"github.com/Nolaskote/Simulation/internal/cache"
	"github.com/Nolaskote/Simulation/internal/field"
	"github.com/Nolaskote/Simulation/internal/kepler"
	"github.com/Nolaskote/Simulation/internal/neo"
	"github.com/Nolaskote/Simulation/internal/propagation"
	"github.com/Nolaskote/Simulation/internal/simclock"
	"github.com/Nolaskote/Simulation/internal/stream"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

const testBodies = `[
	{"id":"433","name":"Eros","type":"NEO","a":1.458,"e":0.2227,"i":10.83,"Omega":304.3,"omega":178.9,"M":310.5,"period":643.2},
	{"id":"99942","name":"Apophis","type":"PHA","a":0.9224,"e":0.1911,"i":3.339,"Omega":203.96,"omega":126.6,"M":142.0,"period":323.6},
	{"id":"bad","type":"NEO","a":"?","e":0.1,"i":1,"Omega":1,"omega":1,"M":1,"period":100}
]`

const token = "test-token"

type testEnv struct {
	field  *field.Field
	store  *neo.Store
	server *Server
}

func newTestEnv(t *testing.T, fetcher *neo.Fetcher) *testEnv {
	t.Helper()
	logger := testLogger()

	pop, err := neo.FromBytes([]byte(testBodies), "test", time.Now(), logger)
	require.NoError(t, err)

	wall := simclock.NewMockWallClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	clock := simclock.New(9500, 1, wall)
	frames := cache.NewFrameCache(8, logger)
	prop := propagation.NewPropagator(propagation.PropConfig{Workers: 1}, logger)
	f := field.New(field.Config{UpdateHz: 12, FrameHz: 60, Scale: 50}, clock, frames, prop, wall, logger)
	f.Load(pop)

	store := neo.NewStore()
	store.Set(pop)

	srv := NewServer(":0", logger, auth.Config{Enabled: true, Token: token}, Deps{
		Field:   f,
		Store:   store,
		Fetcher: fetcher,
		Stream:  stream.NewHandler(f, stream.Config{}, logger),
		Web:     fstest.MapFS{"index.html": {Data: []byte("<html>orrery</html>")}},
	})
	return &testEnv{field: f, store: store, server: srv}
}

func (e *testEnv) do(method, target string, authorized bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	if authorized {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestProbes(t *testing.T) {
	env := newTestEnv(t, nil)

	assert.Equal(t, http.StatusOK, env.do("GET", "/healthz", false).Code)

	w := env.do("GET", "/readyz", false)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code, "worker has not acknowledged the population")

	assert.Equal(t, http.StatusOK, env.do("GET", "/metrics", false).Code)
}

func TestPopulationEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do("GET", "/api/v1/population", false)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)

	assert.Equal(t, "test", body["source"])
	assert.EqualValues(t, 1, body["version"])
	stats := body["stats"].(map[string]any)
	assert.EqualValues(t, 3, stats["total"])
	assert.EqualValues(t, 1, stats["pha"])
	assert.Equal(t, false, body["ready"])
}

func TestBodyEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do("GET", "/api/v1/bodies/433?t=1000", false)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)

	pop, _ := env.field.Population()
	b, err := pop.Get("433")
	require.NoError(t, err)
	want := kepler.Position(b.Elements, 1000)

	pos := body["position_au"].([]any)
	assert.InDelta(t, want.X, pos[0].(float64), 1e-12)
	assert.InDelta(t, want.Y, pos[1].(float64), 1e-12)
	assert.InDelta(t, want.Z, pos[2].(float64), 1e-12)
	assert.InDelta(t, r3.Norm(want), body["distance_au"].(float64), 1e-12)

	scene := body["scene"].([]any)
	assert.InDelta(t, want.X*50, scene[0].(float64), 1e-9)
	assert.InDelta(t, want.Z*50, scene[1].(float64), 1e-9)
	assert.InDelta(t, -want.Y*50, scene[2].(float64), 1e-9)

	assert.Equal(t, true, body["finite"])
	assert.Equal(t, "Eros", body["name"])
	assert.EqualValues(t, 1000, body["t"])
}

func TestBodyEndpointDefaultsToClock(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do("GET", "/api/v1/bodies/99942", false)
	require.Equal(t, http.StatusOK, w.Code)
	assert.InDelta(t, 9500, decode(t, w)["t"].(float64), 1e-9)
}

func TestBodyEndpointMalformed(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do("GET", "/api/v1/bodies/bad", false)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)

	assert.Equal(t, false, body["finite"])
	assert.Nil(t, body["position_au"].([]any)[0], "non-finite coordinates encode as null")
	assert.NotEmpty(t, body["warnings"])
}

func TestBodyEndpointErrors(t *testing.T) {
	env := newTestEnv(t, nil)

	assert.Equal(t, http.StatusNotFound, env.do("GET", "/api/v1/bodies/nope", false).Code)
	assert.Equal(t, http.StatusBadRequest, env.do("GET", "/api/v1/bodies/433?t=soon", false).Code)
}

func TestPlanetsEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do("GET", "/api/v1/planets?t=0", false)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)

	planets := body["planets"].([]any)
	require.Len(t, planets, 8)
	earth := planets[2].(map[string]any)
	assert.Equal(t, "Earth", earth["name"])
	d := earth["distance_au"].(float64)
	assert.True(t, d > 0.98 && d < 1.02, "Earth distance %v", d)
}

func TestTimeControl(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do("POST", "/api/v1/time/seek?t=12000", false)
	assert.Equal(t, http.StatusUnauthorized, w.Code, "clock control requires the token")

	w = env.do("POST", "/api/v1/time/seek?t=12000", true)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.InDelta(t, 12000, body["t"].(float64), 1e-9)
	assert.EqualValues(t, 1, body["generation"])

	w = env.do("POST", "/api/v1/time/rate?days_per_second=30", true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 30, decode(t, w)["days_per_second"])

	assert.Equal(t, http.StatusBadRequest, env.do("POST", "/api/v1/time/rate?days_per_second=NaN", true).Code)
	assert.Equal(t, http.StatusBadRequest, env.do("POST", "/api/v1/time/rate?days_per_second=1e9", true).Code)
	assert.Equal(t, http.StatusBadRequest, env.do("POST", "/api/v1/time/seek", true).Code)

	w = env.do("POST", "/api/v1/time/pause", true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["paused"])

	w = env.do("POST", "/api/v1/time/resume", true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decode(t, w)["paused"])

	w = env.do("GET", "/api/v1/time", false)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode(t, w)["generation"], "rate changes are not discontinuities")
}

func TestReloadDisabled(t *testing.T) {
	env := newTestEnv(t, nil)
	assert.Equal(t, http.StatusServiceUnavailable, env.do("POST", "/api/v1/population/reload", true).Code)
}

func TestReload(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"neos":[{"id":"1","type":"PHA","a":1,"e":0.1,"i":1,"Omega":1,"omega":1,"M":1,"period":365}]}`)
	}))
	defer upstream.Close()

	env := newTestEnv(t, neo.NewFetcher(upstream.URL, testLogger()))

	w := env.do("POST", "/api/v1/population/reload", false)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do("POST", "/api/v1/population/reload", true)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.EqualValues(t, 2, body["version"])
	assert.EqualValues(t, 1, body["stats"].(map[string]any)["total"])

	pop, version := env.field.Population()
	assert.Equal(t, uint64(2), version)
	assert.Same(t, pop, env.store.Get())
}

func TestReloadUpstreamFailure(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer upstream.Close()

	env := newTestEnv(t, neo.NewFetcher(upstream.URL, testLogger()))
	w := env.do("POST", "/api/v1/population/reload", true)
	assert.Equal(t, http.StatusBadGateway, w.Code)

	_, version := env.field.Population()
	assert.Equal(t, uint64(1), version, "failed reload keeps the current population")
}

func TestReloadInProgress(t *testing.T) {
	env := newTestEnv(t, neo.NewFetcher("http://127.0.0.1:1", testLogger()))
	env.store.Lock()
	defer env.store.Unlock()

	assert.Equal(t, http.StatusConflict, env.do("POST", "/api/v1/population/reload", true).Code)
}

func TestStreamRoutes(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do("GET", "/api/v1/stream/frames?select=433&trail=999", false)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = env.do("GET", "/api/v1/stream/ws?select=nope", false)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestWebRoot(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do("GET", "/", false)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "orrery"))
}

func TestVecEncodesNonFinite(t *testing.T) {
	data, err := json.Marshal(toVec(r3.Vec{X: 1, Y: math.NaN(), Z: math.Inf(-1)}))
	require.NoError(t, err)
	assert.Equal(t, "[1,null,null]", string(data))
}
