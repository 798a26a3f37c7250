// Package symbols builds the ticker universes the scanner walks: the dynamic
// penny universe, refreshed daily from screener sources, and a few static
// index lists.
package symbols

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"manin/internal/cache"
	"manin/pkg/model"
)

// ErrNoUniverse is returned when no source succeeded and nothing is cached
var ErrNoUniverse = errors.New("penny universe unavailable")

// Config bounds the penny universe
type Config struct {
	TTL      time.Duration `yaml:"ttl"`
	MinPrice float64       `yaml:"min_price"`
	MaxPrice float64       `yaml:"max_price"`
}

// DefaultConfig returns the daily refresh, $0.01 to $5 band
func DefaultConfig() Config {
	return Config{
		TTL:      cache.TTLUniverse,
		MinPrice: 0.01,
		MaxPrice: 5.0,
	}
}

// Meta is the sector metadata kept alongside each ticker
type Meta struct {
	Sector   string `json:"sector"`
	Industry string `json:"industry"`
}

// Snapshot is the cached universe, in source order
type Snapshot struct {
	Tickers   []string        `json:"tickers"`
	Metadata  map[string]Meta `json:"metadata"`
	Source    string          `json:"source"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Service resolves the penny universe through the cache
type Service struct {
	store   cache.Store
	sources []Source
	cfg     Config
	now     func() time.Time

	mu sync.Mutex // serializes refreshes
}

// NewService creates a universe service. Sources are tried in order and the
// first one yielding tickers wins.
func NewService(store cache.Store, cfg Config, sources ...Source) *Service {
	if cfg.TTL <= 0 {
		cfg.TTL = cache.TTLUniverse
	}
	return &Service{
		store:   store,
		sources: sources,
		cfg:     cfg,
		now:     time.Now,
	}
}

// Tickers returns the penny universe
func (s *Service) Tickers(ctx context.Context) ([]string, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return snap.Tickers, nil
}

// Snapshot returns the cached universe, refreshing it once the TTL lapses.
// A failed refresh serves the stale copy.
func (s *Service) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	if cache.GetJSON(ctx, s.store, cache.KeyUniverse, s.cfg.TTL, &snap) {
		return snap, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// another caller may have refreshed while we waited
	if cache.GetJSON(ctx, s.store, cache.KeyUniverse, s.cfg.TTL, &snap) {
		return snap, nil
	}

	fresh, err := s.refreshLocked(ctx)
	if err == nil {
		return fresh, nil
	}

	if cache.GetStaleJSON(ctx, s.store, cache.KeyUniverse, &snap) && len(snap.Tickers) > 0 {
		log.Warn().Err(err).Int("tickers", len(snap.Tickers)).Time("updated_at", snap.UpdatedAt).
			Msg("universe refresh failed, serving stale copy")
		return snap, nil
	}
	return Snapshot{}, fmt.Errorf("%w: %v", ErrNoUniverse, err)
}

// Refresh rebuilds the universe from the sources regardless of age
func (s *Service) Refresh(ctx context.Context) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshLocked(ctx)
}

func (s *Service) refreshLocked(ctx context.Context) (Snapshot, error) {
	if len(s.sources) == 0 {
		return Snapshot{}, errors.New("no universe sources configured")
	}

	var errs []error
	for _, src := range s.sources {
		stocks, err := src.Fetch(ctx)
		if err != nil {
			log.Warn().Err(err).Str("source", src.Name()).Msg("universe source failed")
			errs = append(errs, fmt.Errorf("%s: %w", src.Name(), err))
			if ctx.Err() != nil {
				break
			}
			continue
		}

		snap := s.build(src.Name(), stocks)
		if len(snap.Tickers) == 0 {
			errs = append(errs, fmt.Errorf("%s: no tickers in price band", src.Name()))
			continue
		}

		if err := cache.SetJSON(ctx, s.store, cache.KeyUniverse, snap); err != nil {
			log.Warn().Err(err).Str("source", src.Name()).Msg("universe not cached")
		}
		log.Info().Str("source", src.Name()).Int("tickers", len(snap.Tickers)).Msg("universe refreshed")
		return snap, nil
	}
	return Snapshot{}, errors.Join(errs...)
}

// build dedupes and price-filters stocks, keeping first-seen order.
// Unpriced listings pass the band; the scanner's own price screen drops them.
func (s *Service) build(source string, stocks []model.Stock) Snapshot {
	snap := Snapshot{
		Tickers:   make([]string, 0, len(stocks)),
		Metadata:  make(map[string]Meta, len(stocks)),
		Source:    source,
		UpdatedAt: s.now(),
	}
	for _, st := range stocks {
		if _, dup := snap.Metadata[st.Symbol]; dup {
			continue
		}
		if !s.inBand(st.LastPrice) {
			continue
		}
		snap.Tickers = append(snap.Tickers, st.Symbol)
		snap.Metadata[st.Symbol] = Meta{
			Sector:   labelOrUnknown(st.Sector),
			Industry: labelOrUnknown(st.Industry),
		}
	}
	return snap
}

func (s *Service) inBand(price float64) bool {
	if price == 0 {
		return true
	}
	return price > s.cfg.MinPrice && price < s.cfg.MaxPrice
}

// Resolve returns the tickers of any universe
func (s *Service) Resolve(ctx context.Context, u Universe) ([]string, error) {
	if u == "" || u == UniversePenny {
		return s.Tickers(ctx)
	}
	if list := GetUniverse(u); list != nil {
		return list, nil
	}
	return nil, fmt.Errorf("unknown universe %q", u)
}

// Metadata returns the cached sector labels for ticker
func (s *Service) Metadata(ctx context.Context, ticker string) (Meta, bool) {
	var snap Snapshot
	if !cache.GetStaleJSON(ctx, s.store, cache.KeyUniverse, &snap) {
		return Meta{}, false
	}
	m, ok := snap.Metadata[ticker]
	return m, ok
}
