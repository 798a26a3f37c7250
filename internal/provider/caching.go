package provider

import (
	"context"
	"sync"

	"manin/pkg/model"
)

// CachingProvider memoizes daily candles and fundamentals in memory for the
// lifetime of one scan, so the screen and deep phases share fetches.
type CachingProvider struct {
	inner        Provider
	mu           sync.Mutex
	candles      map[string][]model.Candle
	fundamentals map[string]model.Fundamentals
	maxDays      int
}

// NewCachingProvider creates a caching wrapper. maxDays is the number of days
// always fetched so any later, shorter request is a cache hit.
func NewCachingProvider(inner Provider, maxDays int) *CachingProvider {
	return &CachingProvider{
		inner:        inner,
		candles:      make(map[string][]model.Candle),
		fundamentals: make(map[string]model.Fundamentals),
		maxDays:      maxDays,
	}
}

func (p *CachingProvider) Name() string      { return p.inner.Name() }
func (p *CachingProvider) IsAvailable() bool { return p.inner.IsAvailable() }
func (p *CachingProvider) RateLimit() int    { return p.inner.RateLimit() }

func (p *CachingProvider) GetNews(ctx context.Context, symbol string, limit int) ([]model.Headline, error) {
	return p.inner.GetNews(ctx, symbol, limit)
}

func (p *CachingProvider) GetSymbols(ctx context.Context, exchange string) ([]model.Stock, error) {
	return p.inner.GetSymbols(ctx, exchange)
}

func (p *CachingProvider) fetchDays(days int) int {
	if days > p.maxDays {
		return days
	}
	return p.maxDays
}

func (p *CachingProvider) lookup(symbol string, days int) ([]model.Candle, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cached, ok := p.candles[symbol]
	if !ok {
		return nil, false
	}
	return trimDays(cached, days), true
}

func (p *CachingProvider) GetDailyCandles(ctx context.Context, symbol string, days int) ([]model.Candle, error) {
	if cached, ok := p.lookup(symbol, days); ok {
		return cached, nil
	}

	candles, err := p.inner.GetDailyCandles(ctx, symbol, p.fetchDays(days))
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.candles[symbol] = candles
	p.mu.Unlock()

	return trimDays(candles, days), nil
}

func (p *CachingProvider) GetDailyCandlesBatch(ctx context.Context, symbols []string, days int) (map[string][]model.Candle, error) {
	out := make(map[string][]model.Candle, len(symbols))
	var missing []string
	for _, s := range symbols {
		if cached, ok := p.lookup(s, days); ok {
			out[s] = cached
		} else {
			missing = append(missing, s)
		}
	}
	if len(missing) == 0 {
		return out, nil
	}

	fetched, err := p.inner.GetDailyCandlesBatch(ctx, missing, p.fetchDays(days))
	p.mu.Lock()
	for s, candles := range fetched {
		p.candles[s] = candles
		out[s] = trimDays(candles, days)
	}
	p.mu.Unlock()

	if err != nil && len(out) == 0 {
		return out, err
	}
	return out, nil
}

func (p *CachingProvider) GetFundamentals(ctx context.Context, symbol string) (model.Fundamentals, error) {
	p.mu.Lock()
	f, ok := p.fundamentals[symbol]
	p.mu.Unlock()
	if ok {
		return f, nil
	}

	f, err := p.inner.GetFundamentals(ctx, symbol)
	if err != nil {
		return f, err
	}

	p.mu.Lock()
	p.fundamentals[symbol] = f
	p.mu.Unlock()
	return f, nil
}
