package neo

import (
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/Nolaskote/Simulation/internal/kepler"
	"github.com/Nolaskote/Simulation/internal/propagation"
)

// Body is one population member.
type Body struct {
	ID       ID
	Name     string
	Class    Class
	Elements kepler.Elements
}

// Record converts the body back into its catalogue form. Non-finite
// elements encode as null.
func (b Body) Record() Record {
	return Record{
		ID:      b.ID,
		Name:    b.Name,
		Type:    string(b.Class),
		A:       Number(b.Elements.A),
		E:       Number(b.Elements.E),
		I:       Number(b.Elements.I),
		Node:    Number(b.Elements.Node),
		ArgPeri: Number(b.Elements.ArgPeri),
		M:       Number(b.Elements.MeanAnomaly),
		Period:  Number(b.Elements.Period),
	}
}

// Population is an immutable, ordered set of bodies. Body i owns slot i of
// every position buffer computed from it.
type Population struct {
	Source   string
	LoadedAt time.Time

	bodies []Body
	index  map[ID]int
	stats  Stats
	arrays *propagation.ElementArrays
}

// NewPopulation builds a population from parsed records. No record is
// dropped: invalid elements are logged and left to produce non-finite
// positions. Records without an id get their input position as id.
func NewPopulation(records []Record, source string, loadedAt time.Time, logger *slog.Logger) *Population {
	p := &Population{
		Source:   source,
		LoadedAt: loadedAt,
		bodies:   make([]Body, len(records)),
		index:    make(map[ID]int, len(records)),
	}

	duplicates := 0
	for i, rec := range records {
		class, known := ParseClass(rec.Type)
		if !known {
			logger.Warn("unknown body type, treating as NEO", "component", "neo", "id", string(rec.ID), "type", rec.Type)
		}

		id := rec.ID
		if id == "" {
			id = ID("#" + strconv.Itoa(i))
		}

		b := Body{
			ID:    id,
			Name:  rec.Name,
			Class: class,
			Elements: kepler.Elements{
				A:           float64(rec.A),
				E:           float64(rec.E),
				I:           float64(rec.I),
				Node:        float64(rec.Node),
				ArgPeri:     float64(rec.ArgPeri),
				MeanAnomaly: float64(rec.M),
				Period:      float64(rec.Period),
			},
		}
		p.bodies[i] = b

		if issues := Validate(b.Elements); len(issues) > 0 {
			logger.Warn("body elements out of range", "component", "neo", "id", string(id), "issues", issues)
		}

		if _, exists := p.index[id]; exists {
			duplicates++
		} else {
			p.index[id] = i
		}

		p.stats.Total++
		switch class {
		case ClassPHA:
			p.stats.PHA++
		case ClassPlanet:
			p.stats.Planets++
		default:
			p.stats.NEO++
		}
	}

	if duplicates > 0 {
		logger.Warn("duplicate body ids, first occurrence indexed", "component", "neo", "duplicates", duplicates)
	}

	els := make([]kepler.Elements, len(p.bodies))
	for i, b := range p.bodies {
		els[i] = b.Elements
	}
	p.arrays = propagation.FromElements(els)

	return p
}

// Validate returns human-readable range problems with el. An empty result
// means the elements describe a bound elliptical orbit.
func Validate(el kepler.Elements) []string {
	var issues []string
	if !finite(el.A) || el.A <= 0 {
		issues = append(issues, fmt.Sprintf("a=%v must be positive", el.A))
	}
	if !finite(el.E) || el.E < 0 || el.E >= 1 {
		issues = append(issues, fmt.Sprintf("e=%v outside [0,1)", el.E))
	}
	if !finite(el.Period) || el.Period <= 0 {
		issues = append(issues, fmt.Sprintf("period=%v must be positive", el.Period))
	}
	for _, a := range []struct {
		name string
		v    float64
	}{{"i", el.I}, {"Omega", el.Node}, {"omega", el.ArgPeri}, {"M", el.MeanAnomaly}} {
		if !finite(a.v) {
			issues = append(issues, a.name+" is not finite")
		}
	}
	return issues
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// Len returns the number of bodies.
func (p *Population) Len() int {
	if p == nil {
		return 0
	}
	return len(p.bodies)
}

// Body returns body i.
func (p *Population) Body(i int) Body {
	return p.bodies[i]
}

// Bodies returns the ordered bodies. Callers must not modify the slice.
func (p *Population) Bodies() []Body {
	return p.bodies
}

// Lookup returns the index of id in O(1).
func (p *Population) Lookup(id ID) (int, error) {
	if p == nil {
		return -1, ErrNotFound
	}
	i, ok := p.index[id]
	if !ok {
		return -1, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return i, nil
}

// Get returns the body with the given id.
func (p *Population) Get(id ID) (Body, error) {
	i, err := p.Lookup(id)
	if err != nil {
		return Body{}, err
	}
	return p.bodies[i], nil
}

func (p *Population) Stats() Stats {
	if p == nil {
		return Stats{}
	}
	return p.stats
}

// ElementArrays returns the normalized structure-of-arrays form, built once
// at load. Shared and read-only.
func (p *Population) ElementArrays() *propagation.ElementArrays {
	if p == nil {
		return propagation.NewElementArrays(0)
	}
	return p.arrays
}
