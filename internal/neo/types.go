// Package neo loads near-Earth object populations: record parsing, range
// validation, the immutable id index, and the fetch/cache/store plumbing
// around a population snapshot.
package neo

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"
)

// ErrNotFound is returned when an id is not in the population.
var ErrNotFound = errors.New("neo: body not found")

// Class is the body classification.
type Class string

const (
	ClassPHA    Class = "PHA"
	ClassNEO    Class = "NEO"
	ClassPlanet Class = "planet"
)

// ParseClass maps a record type onto a Class, case-insensitively. The second
// result is false for unknown types, which map to ClassNEO.
func ParseClass(s string) (Class, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pha":
		return ClassPHA, true
	case "neo", "":
		return ClassNEO, true
	case "planet":
		return ClassPlanet, true
	}
	return ClassNEO, false
}

// Number is a float that decodes from a JSON number or a numeric string.
// Anything else decodes to NaN rather than failing the whole document.
type Number float64

func (n *Number) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*n = Number(math.NaN())
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*n = Number(parseFloat(s))
		return nil
	}
	*n = Number(parseFloat(string(b)))
	return nil
}

func (n Number) MarshalJSON() ([]byte, error) {
	f := float64(n)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return []byte("null"), nil
	}
	return strconv.AppendFloat(nil, f, 'g', -1, 64), nil
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return math.NaN()
	}
	return f
}

// ID is a body identifier; it decodes from a JSON string or number.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(strings.TrimSpace(s))
		return nil
	}
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	*id = ID(b)
	return nil
}

// Record is one catalogue entry as found in the population JSON. Angles are
// in degrees, a in AU, period in days.
type Record struct {
	ID      ID     `json:"id"`
	Name    string `json:"name,omitempty"`
	Type    string `json:"type"`
	A       Number `json:"a"`
	E       Number `json:"e"`
	I       Number `json:"i"`
	Node    Number `json:"Omega"`
	ArgPeri Number `json:"omega"`
	M       Number `json:"M"`
	Period  Number `json:"period"`
}

// Stats counts a population by class.
type Stats struct {
	Total   int `json:"total"`
	PHA     int `json:"pha"`
	NEO     int `json:"neo"`
	Planets int `json:"planets"`
}
