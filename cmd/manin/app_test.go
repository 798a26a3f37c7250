package main

import (
	"testing"

	"manin/internal/config"
	"manin/internal/provider"
	"manin/internal/ratelimit"
)

func TestCreateProviderSharesLimiters(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.API.Finnhub.Key = "fh"
	cfg.API.AlphaVantage.Key = "av"

	limits := ratelimit.NewMultiLimiter()
	alpaca := provider.NewAlpacaProvider(provider.AlpacaConfig{})
	p := createProvider(cfg, limits, alpaca)

	fb, ok := p.(*provider.FallbackProvider)
	if !ok {
		t.Fatalf("Expected a fallback chain, got %T", p)
	}
	if n := len(fb.Providers()); n != 3 {
		t.Errorf("Expected 3 providers without Alpaca credentials, got %d", n)
	}
	for _, name := range []string{"yahoo", "finnhub", "alphavantage"} {
		if limits.Get(name) == nil {
			t.Errorf("Expected a shared %s limiter", name)
		}
	}
}
