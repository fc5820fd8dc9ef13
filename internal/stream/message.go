package stream

import (
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Nolaskote/Simulation/internal/cache"
	"github.com/Nolaskote/Simulation/internal/neo"
	"github.com/Nolaskote/Simulation/internal/transform"
)

const maxTrail = 120

// params are the query parameters shared by both stream transports.
type params struct {
	selectID  neo.ID
	trail     int
	positions bool
}

// parseParams reads ?select=id&trail=n&positions=bool. The returned string
// is a client-facing error message.
func parseParams(q url.Values) (params, string) {
	p := params{positions: true}

	p.selectID = neo.ID(strings.TrimSpace(q.Get("select")))

	if v := q.Get("trail"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 || n > maxTrail {
			return p, "invalid trail parameter, must be 0-120"
		}
		p.trail = n
	}

	if v := q.Get("positions"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return p, "invalid positions parameter, must be a boolean"
		}
		p.positions = b
	}

	if p.trail > 0 && p.selectID == "" {
		return p, "trail requires select"
	}
	return p, ""
}

// resolve returns the index of id in pop, or -1 when id is empty or absent.
func resolve(pop *neo.Population, id neo.ID) int {
	if id == "" {
		return -1
	}
	i, err := pop.Lookup(id)
	if err != nil {
		return -1
	}
	return i
}

// floats encodes non-finite values as null so one bad body cannot fail a
// whole frame.
type floats []float32

func (fs floats) MarshalJSON() ([]byte, error) {
	buf := make([]byte, 0, 2+len(fs)*10)
	buf = append(buf, '[')
	for i, v := range fs {
		if i > 0 {
			buf = append(buf, ',')
		}
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			buf = append(buf, "null"...)
			continue
		}
		buf = strconv.AppendFloat(buf, f, 'g', -1, 32)
	}
	return append(buf, ']'), nil
}

type metadataMessage struct {
	Type       string    `json:"type"`
	Source     string    `json:"source"`
	LoadedAt   string    `json:"loaded_at,omitempty"`
	AgeSeconds int       `json:"age_seconds"`
	Population uint64    `json:"population"`
	Stats      neo.Stats `json:"stats"`
	Frame      string    `json:"frame"`
	Scale      float64   `json:"scale"`
	Classes    string    `json:"classes,omitempty"`
}

type frameMessage struct {
	Type       string           `json:"type"`
	Seq        uint64           `json:"seq"`
	Days       float64          `json:"t"`
	UTC        string           `json:"utc"`
	Population uint64           `json:"population"`
	Bodies     int              `json:"bodies"`
	NonFinite  int              `json:"non_finite"`
	P          floats           `json:"p,omitempty"`
	Planets    []planetPayload  `json:"planets"`
	Selected   *selectedPayload `json:"selected,omitempty"`
}

type planetPayload struct {
	Name string     `json:"name"`
	P    [3]float64 `json:"p"`
	Spin float64    `json:"spin"`
}

type selectedPayload struct {
	ID    neo.ID    `json:"id"`
	Name  string    `json:"name,omitempty"`
	Class neo.Class `json:"class"`
	Index int       `json:"index"`
	P     floats    `json:"p"`
	Tr    []floats  `json:"tr,omitempty"`
}

// classCode is the one-letter class code used in metadata.
func classCode(c neo.Class) byte {
	switch c {
	case neo.ClassPHA:
		return 'P'
	case neo.ClassPlanet:
		return 'L'
	}
	return 'N'
}

func buildMetadata(pop *neo.Population, version uint64, scale float64, withClasses bool, now time.Time) metadataMessage {
	meta := metadataMessage{
		Type:       "metadata",
		Population: version,
		Stats:      pop.Stats(),
		Frame:      "heliocentric_ecliptic",
		Scale:      scale,
	}
	if pop == nil {
		return meta
	}
	meta.Source = pop.Source
	if !pop.LoadedAt.IsZero() {
		meta.LoadedAt = pop.LoadedAt.UTC().Format(time.RFC3339)
		meta.AgeSeconds = int(now.Sub(pop.LoadedAt).Seconds())
	}
	if withClasses {
		codes := make([]byte, pop.Len())
		for i := range codes {
			codes[i] = classCode(pop.Body(i).Class)
		}
		meta.Classes = string(codes)
	}
	return meta
}

// buildFrameMessage formats a frame into the SSE payload. sel is the
// selected body index or -1; trail frames are oldest first.
func buildFrameMessage(f *cache.Frame, trail []*cache.Frame, pop *neo.Population, sel int, positions bool) frameMessage {
	msg := frameMessage{
		Type:       "frame",
		Seq:        f.Seq,
		Days:       f.Days,
		UTC:        transform.TimeFromDays(f.Days).Format(time.RFC3339),
		Population: f.Population,
		Bodies:     f.Bodies(),
		NonFinite:  f.NonFinite,
		Planets:    make([]planetPayload, len(f.Planets)),
	}
	if positions {
		msg.P = floats(f.Positions)
	}
	for i, pl := range f.Planets {
		msg.Planets[i] = planetPayload{
			Name: pl.Name,
			P:    [3]float64{pl.Position.X * f.Scale, pl.Position.Y * f.Scale, pl.Position.Z * f.Scale},
			Spin: pl.Spin,
		}
	}

	if sel >= 0 && sel < f.Bodies() {
		b := pop.Body(sel)
		x, y, z := f.At(sel)
		s := &selectedPayload{
			ID:    b.ID,
			Name:  b.Name,
			Class: b.Class,
			Index: sel,
			P:     floats{x, y, z},
		}
		for _, tf := range trail {
			if sel >= tf.Bodies() {
				continue
			}
			tx, ty, tz := tf.At(sel)
			s.Tr = append(s.Tr, floats{tx, ty, tz})
		}
		msg.Selected = s
	}
	return msg
}
