// Package cache is the key to JSON-blob store with age-checked reads. It
// backs the market overview, scan results, the penny universe and the
// trial ledger.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// Store keeps raw JSON values with their last update time
type Store interface {
	// Get returns the value when it is younger than maxAge
	Get(ctx context.Context, key string, maxAge time.Duration) ([]byte, bool, error)

	// GetStale returns the value regardless of age
	GetStale(ctx context.Context, key string) ([]byte, bool, error)

	// Set upserts the value and stamps it with the current time
	Set(ctx context.Context, key string, value []byte) error

	Close() error
}

// Keys and TTLs shared by the services
const (
	KeyMarketOverview = "market_overview"
	KeyNews           = "news_intelligence"
	KeyMoonshots      = "moonshot_hunter"
	KeyUniverse       = "universe:penny"

	TTLMarketOverview = 15 * time.Minute
	TTLNews           = 60 * time.Minute
	TTLMoonshots      = 240 * time.Minute
	TTLUniverse       = 24 * time.Hour
)

// Drivers accepted by Open
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config selects and configures a backend
type Config struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"` // sqlite file
	URL    string `yaml:"url"`  // postgres connection string
}

// Open builds the configured store
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", DriverMemory:
		return NewMemoryStore(), nil
	case DriverSQLite:
		s, err := NewSQLiteStore(cfg.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case DriverPostgres:
		pool, err := NewPool(ctx, cfg.URL, PoolConfigFromEnv())
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		s, err := NewPostgresStore(ctx, pool)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown cache driver %q", cfg.Driver)
	}
}

// GetJSON decodes a fresh entry into out. Store and decode failures are
// logged and reported as a miss.
func GetJSON(ctx context.Context, s Store, key string, maxAge time.Duration, out any) bool {
	raw, ok, err := s.Get(ctx, key, maxAge)
	return decode(key, raw, ok, err, out)
}

// GetStaleJSON decodes an entry of any age into out
func GetStaleJSON(ctx context.Context, s Store, key string, out any) bool {
	raw, ok, err := s.GetStale(ctx, key)
	return decode(key, raw, ok, err, out)
}

// SetJSON encodes value and stores it. Failures are logged and returned.
func SetJSON(ctx context.Context, s Store, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("cache encode failed")
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := s.Set(ctx, key, raw); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("cache write failed")
		return err
	}
	return nil
}

func decode(key string, raw []byte, ok bool, err error, out any) bool {
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("cache read failed")
		return false
	}
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, out); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("cache decode failed")
		return false
	}
	return true
}
