package neo

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
)

// newRecord returns a record whose numeric fields are NaN, so fields missing
// from the JSON come out non-finite instead of zero.
func newRecord() Record {
	nan := Number(math.NaN())
	return Record{A: nan, E: nan, I: nan, Node: nan, ArgPeri: nan, M: nan, Period: nan}
}

// Parse reads a population document: a JSON array of records, or an object
// holding that array under "neos" or "data". Records that are not JSON
// objects are kept as all-NaN placeholders so indices stay aligned with the
// input order.
func Parse(r io.Reader, logger *slog.Logger) ([]Record, error) {
	raw, err := decodeArray(r)
	if err != nil {
		return nil, err
	}

	records := make([]Record, len(raw))
	for i, msg := range raw {
		rec := newRecord()
		if err := json.Unmarshal(msg, &rec); err != nil {
			logger.Warn("malformed population record", "component", "neo", "index", i, "error", err)
			rec = newRecord()
		}
		records[i] = rec
	}
	return records, nil
}

func decodeArray(r io.Reader) ([]json.RawMessage, error) {
	var doc json.RawMessage
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decoding population: %w", err)
	}

	var arr []json.RawMessage
	if err := json.Unmarshal(doc, &arr); err == nil {
		return arr, nil
	}

	var wrapped struct {
		NEOs []json.RawMessage `json:"neos"`
		Data []json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(doc, &wrapped); err != nil {
		return nil, fmt.Errorf("population is neither an array nor an object: %w", err)
	}
	if wrapped.NEOs != nil {
		return wrapped.NEOs, nil
	}
	if wrapped.Data != nil {
		return wrapped.Data, nil
	}
	return nil, fmt.Errorf("population object has no \"neos\" or \"data\" array")
}
