package provider

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"manin/pkg/model"
)

// RetryPolicy is the single retry rule for every upstream fetch
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	AttemptTimeout  time.Duration
	Retryable       func(error) bool
}

// DefaultRetryPolicy makes three attempts with exponential backoff
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		Multiplier:      2,
		AttemptTimeout:  15 * time.Second,
		Retryable:       IsRetryable,
	}
}

// Do runs op until it succeeds, returns a non-retryable error, exhausts
// MaxAttempts or ctx ends. The last error is returned.
func (p RetryPolicy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsRetryable
	}

	expo := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		expo.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		expo.MaxInterval = p.MaxInterval
	}
	if p.Multiplier > 0 {
		expo.Multiplier = p.Multiplier
	}
	expo.MaxElapsedTime = 0
	strategy := backoff.WithContext(backoff.WithMaxRetries(expo, uint64(attempts-1)), ctx)

	attempt := 0
	operation := func() error {
		attempt++
		actx := ctx
		if p.AttemptTimeout > 0 {
			var cancel context.CancelFunc
			actx, cancel = context.WithTimeout(ctx, p.AttemptTimeout)
			defer cancel()
		}

		err := op(actx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || !retryable(err) {
			return backoff.Permanent(err)
		}
		log.Debug().Err(err).Int("attempt", attempt).Msg("retrying fetch")
		return err
	}

	return backoff.Retry(operation, strategy)
}

// RetryingProvider applies a RetryPolicy to every call of the wrapped provider
type RetryingProvider struct {
	inner  Provider
	policy RetryPolicy
}

// NewRetryingProvider wraps inner with policy
func NewRetryingProvider(inner Provider, policy RetryPolicy) *RetryingProvider {
	return &RetryingProvider{inner: inner, policy: policy}
}

func (p *RetryingProvider) Name() string      { return p.inner.Name() }
func (p *RetryingProvider) IsAvailable() bool { return p.inner.IsAvailable() }
func (p *RetryingProvider) RateLimit() int    { return p.inner.RateLimit() }

func (p *RetryingProvider) GetDailyCandles(ctx context.Context, symbol string, days int) ([]model.Candle, error) {
	var out []model.Candle
	err := p.policy.Do(ctx, func(ctx context.Context) error {
		var err error
		out, err = p.inner.GetDailyCandles(ctx, symbol, days)
		return err
	})
	return out, err
}

// GetDailyCandlesBatch retries a native multi-symbol request as a whole.
// Otherwise each symbol is fetched, retried and timed out on its own, so one
// flaky ticker neither drops silently nor restarts the rest of the batch.
func (p *RetryingProvider) GetDailyCandlesBatch(ctx context.Context, symbols []string, days int) (map[string][]model.Candle, error) {
	if _, ok := p.inner.(multiSymbolBatcher); ok {
		var out map[string][]model.Candle
		err := p.policy.Do(ctx, func(ctx context.Context) error {
			var err error
			out, err = p.inner.GetDailyCandlesBatch(ctx, symbols, days)
			return err
		})
		return out, err
	}

	out := make(map[string][]model.Candle, len(symbols))
	failed := 0
	for _, s := range symbols {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		candles, err := p.GetDailyCandles(ctx, s, days)
		if err != nil {
			if !errors.Is(err, ErrNoData) {
				failed++
				log.Debug().Err(err).Str("provider", p.Name()).Str("symbol", s).Msg("candle fetch failed")
			}
			continue
		}
		if len(candles) > 0 {
			out[s] = candles
		}
	}
	if failed > 0 {
		log.Warn().Str("provider", p.Name()).Int("failed", failed).Int("requested", len(symbols)).Msg("batch fetch incomplete")
	}
	return out, nil
}

func (p *RetryingProvider) GetFundamentals(ctx context.Context, symbol string) (model.Fundamentals, error) {
	out := model.EmptyFundamentals()
	err := p.policy.Do(ctx, func(ctx context.Context) error {
		var err error
		out, err = p.inner.GetFundamentals(ctx, symbol)
		return err
	})
	return out, err
}

func (p *RetryingProvider) GetNews(ctx context.Context, symbol string, limit int) ([]model.Headline, error) {
	var out []model.Headline
	err := p.policy.Do(ctx, func(ctx context.Context) error {
		var err error
		out, err = p.inner.GetNews(ctx, symbol, limit)
		return err
	})
	return out, err
}

func (p *RetryingProvider) GetSymbols(ctx context.Context, exchange string) ([]model.Stock, error) {
	var out []model.Stock
	err := p.policy.Do(ctx, func(ctx context.Context) error {
		var err error
		out, err = p.inner.GetSymbols(ctx, exchange)
		return err
	})
	return out, err
}
