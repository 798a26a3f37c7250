// Package provider supplies market data (daily bars, fundamentals, news and
// symbol listings) from upstream APIs behind one interface.
package provider

import (
	"context"
	"errors"
	"fmt"

	"manin/pkg/model"
)

// Provider defines the interface for data providers
type Provider interface {
	// Name returns the provider name
	Name() string

	// GetDailyCandles fetches up to days daily bars, oldest first
	GetDailyCandles(ctx context.Context, symbol string, days int) ([]model.Candle, error)

	// GetDailyCandlesBatch fetches daily bars for many symbols. Symbols
	// without data are absent from the map; only a failure of the whole
	// request is an error.
	GetDailyCandlesBatch(ctx context.Context, symbols []string, days int) (map[string][]model.Candle, error)

	// GetFundamentals fetches the sparse company record
	GetFundamentals(ctx context.Context, symbol string) (model.Fundamentals, error)

	// GetNews fetches up to limit recent headlines
	GetNews(ctx context.Context, symbol string, limit int) ([]model.Headline, error)

	// GetSymbols returns the list of symbols for the given exchange
	GetSymbols(ctx context.Context, exchange string) ([]model.Stock, error)

	// IsAvailable checks if the provider is usable (has credentials)
	IsAvailable() bool

	// RateLimit returns the rate limit per minute
	RateLimit() int
}

// ErrNoData is wrapped by providers when the upstream has nothing for a symbol
var ErrNoData = errors.New("no data available")

// ErrUnsupported is wrapped when a provider lacks a capability
var ErrUnsupported = errors.New("not supported")

// ProviderError represents a provider-specific error
type ProviderError struct {
	Provider  string
	Err       error
	Retryable bool
}

func (e *ProviderError) Error() string {
	return e.Provider + ": " + e.Err.Error()
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err is worth another attempt. Errors that are
// not ProviderErrors are treated as transient, except cancellation.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return true
}

func unsupported(p Provider, what string) error {
	return &ProviderError{Provider: p.Name(), Err: fmt.Errorf("%s %w", what, ErrUnsupported)}
}

func noData(p Provider, symbol string) error {
	return &ProviderError{Provider: p.Name(), Err: fmt.Errorf("%s: %w", symbol, ErrNoData)}
}

// multiSymbolBatcher marks providers whose GetDailyCandlesBatch is one
// upstream request instead of a loop over GetDailyCandles
type multiSymbolBatcher interface {
	multiSymbolBatch()
}

// batchBySymbol implements GetDailyCandlesBatch with one call per symbol
func batchBySymbol(ctx context.Context, p Provider, symbols []string, days int) (map[string][]model.Candle, error) {
	out := make(map[string][]model.Candle, len(symbols))
	for _, s := range symbols {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		candles, err := p.GetDailyCandles(ctx, s, days)
		if err != nil || len(candles) == 0 {
			continue
		}
		out[s] = candles
	}
	return out, nil
}

// trimDays keeps the newest days candles
func trimDays(candles []model.Candle, days int) []model.Candle {
	if days > 0 && len(candles) > days {
		return candles[len(candles)-days:]
	}
	return candles
}

// FallbackProvider tries multiple providers in order
type FallbackProvider struct {
	providers []Provider
}

// NewFallbackProvider creates a fallback chain of the available providers
func NewFallbackProvider(providers ...Provider) *FallbackProvider {
	available := make([]Provider, 0, len(providers))
	for _, p := range providers {
		if p.IsAvailable() {
			available = append(available, p)
		}
	}
	return &FallbackProvider{providers: available}
}

// Name returns the combined provider name
func (f *FallbackProvider) Name() string {
	return "fallback"
}

func (f *FallbackProvider) noProviders() error {
	return &ProviderError{Provider: f.Name(), Err: errors.New("no providers available")}
}

// GetDailyCandles tries each provider in order
func (f *FallbackProvider) GetDailyCandles(ctx context.Context, symbol string, days int) ([]model.Candle, error) {
	lastErr := f.noProviders()
	for _, p := range f.providers {
		data, err := p.GetDailyCandles(ctx, symbol, days)
		if err == nil && len(data) > 0 {
			return data, nil
		}
		if err != nil {
			lastErr = err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

// GetDailyCandlesBatch asks each provider for the symbols still missing
func (f *FallbackProvider) GetDailyCandlesBatch(ctx context.Context, symbols []string, days int) (map[string][]model.Candle, error) {
	if len(f.providers) == 0 {
		return nil, f.noProviders()
	}

	out := make(map[string][]model.Candle, len(symbols))
	missing := symbols
	var lastErr error
	for _, p := range f.providers {
		if len(missing) == 0 {
			break
		}
		data, err := p.GetDailyCandlesBatch(ctx, missing, days)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
		}
		for s, candles := range data {
			if len(candles) > 0 {
				out[s] = candles
			}
		}
		next := missing[:0:0]
		for _, s := range missing {
			if _, ok := out[s]; !ok {
				next = append(next, s)
			}
		}
		missing = next
	}

	if len(out) == 0 && lastErr != nil {
		return out, lastErr
	}
	return out, nil
}

// GetFundamentals tries each provider in order
func (f *FallbackProvider) GetFundamentals(ctx context.Context, symbol string) (model.Fundamentals, error) {
	lastErr := f.noProviders()
	for _, p := range f.providers {
		data, err := p.GetFundamentals(ctx, symbol)
		if err == nil {
			return data, nil
		}
		lastErr = err
	}
	return model.EmptyFundamentals(), lastErr
}

// GetNews tries each provider in order
func (f *FallbackProvider) GetNews(ctx context.Context, symbol string, limit int) ([]model.Headline, error) {
	lastErr := f.noProviders()
	for _, p := range f.providers {
		data, err := p.GetNews(ctx, symbol, limit)
		if err == nil {
			return data, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// GetSymbols returns symbols from the first provider that lists them
func (f *FallbackProvider) GetSymbols(ctx context.Context, exchange string) ([]model.Stock, error) {
	lastErr := f.noProviders()
	for _, p := range f.providers {
		symbols, err := p.GetSymbols(ctx, exchange)
		if err == nil {
			return symbols, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// IsAvailable returns true if any provider is available
func (f *FallbackProvider) IsAvailable() bool {
	return len(f.providers) > 0
}

// RateLimit returns the highest rate limit among providers
func (f *FallbackProvider) RateLimit() int {
	maxRate := 0
	for _, p := range f.providers {
		if p.RateLimit() > maxRate {
			maxRate = p.RateLimit()
		}
	}
	return maxRate
}

// Providers returns the list of underlying providers
func (f *FallbackProvider) Providers() []Provider {
	return f.providers
}
