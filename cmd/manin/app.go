package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"manin/internal/analyzer"
	"manin/internal/cache"
	"manin/internal/config"
	"manin/internal/market"
	"manin/internal/moonshot"
	"manin/internal/news"
	"manin/internal/provider"
	"manin/internal/ratelimit"
	"manin/internal/scanner"
	"manin/internal/symbols"
)

// app holds the wired services shared by every command
type app struct {
	cfg       *config.Config
	store     cache.Store
	provider  provider.Provider
	session   *market.Session
	universe  *symbols.Service
	scanner   *scanner.Scanner
	overview  *market.OverviewService
	news      *news.Service
	moonshots *moonshot.Service
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	store, err := cache.Open(ctx, cfg.Cache)
	if err != nil {
		return nil, fmt.Errorf("opening cache: %w", err)
	}

	limits := ratelimit.NewMultiLimiter()
	alpaca := provider.NewAlpacaProvider(provider.AlpacaConfig{
		APIKey:    cfg.API.Alpaca.Key,
		APISecret: cfg.API.Alpaca.Secret,
		Feed:      cfg.API.Alpaca.Feed,
		RateLimit: cfg.API.Alpaca.RateLimit,
	}, provider.WithLimiter(limits.Add("alpaca", cfg.API.Alpaca.RateLimit)))
	p := createProvider(cfg, limits, alpaca)
	log.Info().Str("providers", p.Name()).Msg("data providers ready")

	sources := []symbols.Source{symbols.NewNasdaqSource("")}
	if alpaca.IsAvailable() {
		sources = append(sources, symbols.NewProviderSource(alpaca, ""))
	}
	if cfg.API.Finnhub.Key != "" {
		sources = append(sources, symbols.NewProviderSource(p, "US"))
	}
	universe := symbols.NewService(store, cfg.Universe, sources...)

	session := market.NewSession()
	sc := scanner.NewScanner(p, universe, analyzer.New(), session, cfg.Scanner)
	overview := market.NewOverviewService(p, store, session)
	newsSvc := news.NewService(p, store, overview, sc, cfg.Scanner.Workers)

	return &app{
		cfg:       cfg,
		store:     store,
		provider:  p,
		session:   session,
		universe:  universe,
		scanner:   sc,
		overview:  overview,
		news:      newsSvc,
		moonshots: moonshot.NewService(sc, universe, newsSvc, store),
	}, nil
}

// createProvider chains the configured upstreams. Each one retries on its
// own before the chain falls through to the next.
func createProvider(cfg *config.Config, limits *ratelimit.MultiLimiter, alpaca *provider.AlpacaProvider) provider.Provider {
	policy := cfg.RetryPolicy()
	var providers []provider.Provider

	// Yahoo Finance (primary - no key needed, full fundamentals)
	yahoo := provider.NewYahooProvider(provider.WithLimiter(limits.Add("yahoo", cfg.API.Yahoo.RateLimit)))
	providers = append(providers, provider.NewRetryingProvider(yahoo, policy))

	// Alpaca (multi-symbol bars)
	if alpaca.IsAvailable() {
		providers = append(providers, provider.NewRetryingProvider(alpaca, policy))
	}

	if cfg.API.Finnhub.Key != "" {
		fh := provider.NewFinnhubProvider(cfg.API.Finnhub.Key, cfg.API.Finnhub.RateLimit,
			provider.WithLimiter(limits.Add("finnhub", cfg.API.Finnhub.RateLimit)))
		providers = append(providers, provider.NewRetryingProvider(fh, policy))
	}

	if cfg.API.AlphaVantage.Key != "" {
		av := provider.NewAlphaVantageProvider(cfg.API.AlphaVantage.Key, cfg.API.AlphaVantage.RateLimit,
			provider.WithLimiter(limits.Add("alphavantage", cfg.API.AlphaVantage.RateLimit)))
		providers = append(providers, provider.NewRetryingProvider(av, policy))
	}

	return provider.NewFallbackProvider(providers...)
}

func (a *app) Close() error {
	return a.store.Close()
}
