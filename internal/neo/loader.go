package neo

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"
)

// FromBytes parses a population document.
func FromBytes(data []byte, source string, loadedAt time.Time, logger *slog.Logger) (*Population, error) {
	records, err := Parse(bytes.NewReader(data), logger)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", source, err)
	}
	return NewPopulation(records, source, loadedAt, logger), nil
}

// LoadFile reads a population from a local JSON file.
func LoadFile(path string, logger *slog.Logger) (*Population, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading population file: %w", err)
	}
	return FromBytes(data, "file:"+path, time.Now(), logger)
}

// LoadCached parses the newest cached snapshot.
func LoadCached(cache *Cache, logger *slog.Logger) (*Population, error) {
	data, ts, err := cache.LoadLatest()
	if err != nil {
		return nil, err
	}
	return FromBytes(data, "cache", ts, logger)
}

// Fetch downloads a population, writes it to the cache, and parses it. A
// cache write failure is logged and does not fail the fetch.
func Fetch(ctx context.Context, fetcher *Fetcher, cache *Cache, logger *slog.Logger) (*Population, error) {
	data, err := fetcher.Fetch(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	pop, err := FromBytes(data, fetcher.SourceURL(), now, logger)
	if err != nil {
		return nil, err
	}

	if cache != nil {
		if err := cache.Write(data, now); err != nil {
			logger.Warn("failed to write population cache", "component", "neo", "error", err)
		}
	}
	return pop, nil
}
