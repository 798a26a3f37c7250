package provider

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"time"

	"github.com/guregu/null/v6"

	"manin/pkg/model"
)

const finnhubBaseURL = "https://finnhub.io/api/v1"

// FinnhubProvider implements the Provider interface for Finnhub API
type FinnhubProvider struct {
	apiKey string
	http   *httpClient
}

// NewFinnhubProvider creates a new Finnhub provider
func NewFinnhubProvider(apiKey string, rateLimitPerMin int, opts ...Option) *FinnhubProvider {
	return &FinnhubProvider{
		apiKey: apiKey,
		http:   newHTTPClient("finnhub", finnhubBaseURL, rateLimitPerMin, opts),
	}
}

// Name returns the provider name
func (p *FinnhubProvider) Name() string {
	return "finnhub"
}

// IsAvailable checks if the provider has an API key
func (p *FinnhubProvider) IsAvailable() bool {
	return p.apiKey != ""
}

// RateLimit returns the rate limit per minute
func (p *FinnhubProvider) RateLimit() int {
	return p.http.rateLimit
}

// finnhubCandle represents the Finnhub candle response
type finnhubCandle struct {
	C []float64 `json:"c"` // Close prices
	H []float64 `json:"h"` // High prices
	L []float64 `json:"l"` // Low prices
	O []float64 `json:"o"` // Open prices
	S string    `json:"s"` // Status
	T []int64   `json:"t"` // Timestamps
	V []int64   `json:"v"` // Volumes
}

// finnhubSymbol represents a stock symbol from Finnhub
type finnhubSymbol struct {
	Symbol      string `json:"symbol"`
	Description string `json:"description"`
	Type        string `json:"type"`
}

type finnhubProfile struct {
	Name                 string   `json:"name"`
	Industry             string   `json:"finnhubIndustry"`
	MarketCapitalization *float64 `json:"marketCapitalization"` // millions
}

type finnhubMetrics struct {
	Metric map[string]*float64 `json:"metric"`
}

type finnhubNews struct {
	Headline string `json:"headline"`
	Source   string `json:"source"`
	URL      string `json:"url"`
	Datetime int64  `json:"datetime"`
}

func (p *FinnhubProvider) endpoint(path string, params url.Values) string {
	params.Set("token", p.apiKey)
	return p.http.baseURL + path + "?" + params.Encode()
}

// GetDailyCandles fetches daily OHLCV data
func (p *FinnhubProvider) GetDailyCandles(ctx context.Context, symbol string, days int) ([]model.Candle, error) {
	now := time.Now()
	from := now.AddDate(0, 0, -days*2) // Buffer for weekends

	u := p.endpoint("/stock/candle", url.Values{
		"symbol":     {symbol},
		"resolution": {"D"},
		"from":       {fmt.Sprint(from.Unix())},
		"to":         {fmt.Sprint(now.Unix())},
	})

	var data finnhubCandle
	if err := p.http.getJSON(ctx, u, &data); err != nil {
		return nil, err
	}

	if data.S == "no_data" || len(data.T) == 0 {
		return nil, noData(p, symbol)
	}

	loc := etLocation()
	candles := make([]model.Candle, 0, len(data.T))
	for i := range data.T {
		if i >= len(data.O) || i >= len(data.H) || i >= len(data.L) || i >= len(data.C) {
			continue
		}

		var volume int64
		if i < len(data.V) {
			volume = data.V[i]
		}

		candles = append(candles, model.Candle{
			Time:   time.Unix(data.T[i], 0).In(loc),
			Open:   data.O[i],
			High:   data.H[i],
			Low:    data.L[i],
			Close:  data.C[i],
			Volume: volume,
		})
	}

	// Sort by date ascending
	sort.Slice(candles, func(i, j int) bool {
		return candles[i].Time.Before(candles[j].Time)
	})

	return trimDays(candles, days), nil
}

// GetDailyCandlesBatch loops over symbols; Finnhub has no batch candle call
func (p *FinnhubProvider) GetDailyCandlesBatch(ctx context.Context, symbols []string, days int) (map[string][]model.Candle, error) {
	return batchBySymbol(ctx, p, symbols, days)
}

// GetFundamentals merges profile2 with the basic financials metric block
func (p *FinnhubProvider) GetFundamentals(ctx context.Context, symbol string) (model.Fundamentals, error) {
	f := model.EmptyFundamentals()

	var profile finnhubProfile
	if err := p.http.getJSON(ctx, p.endpoint("/stock/profile2", url.Values{"symbol": {symbol}}), &profile); err != nil {
		return f, err
	}
	if profile.Name == "" && profile.MarketCapitalization == nil {
		return f, noData(p, symbol)
	}
	if profile.MarketCapitalization != nil {
		f.MarketCap = model.FloatOf(*profile.MarketCapitalization * 1e6)
	}
	if profile.Industry != "" {
		f.Industry = profile.Industry
	}

	var metrics finnhubMetrics
	if err := p.http.getJSON(ctx, p.endpoint("/stock/metric", url.Values{"symbol": {symbol}, "metric": {"all"}}), &metrics); err != nil {
		return f.Normalize(), nil
	}
	m := metrics.Metric
	f.ProfitMargin = percentToFraction(m["netProfitMarginTTM"])
	f.RevenueGrowth = percentToFraction(m["revenueGrowthTTMYoy"])
	f.TrailingPE = pointer(m["peTTM"])
	f.YearHigh = pointer(m["52WeekHigh"])
	f.YearLow = pointer(m["52WeekLow"])

	return f.Normalize(), nil
}

// GetNews fetches company news from the last week
func (p *FinnhubProvider) GetNews(ctx context.Context, symbol string, limit int) ([]model.Headline, error) {
	now := time.Now()
	u := p.endpoint("/company-news", url.Values{
		"symbol": {symbol},
		"from":   {now.AddDate(0, 0, -7).Format("2006-01-02")},
		"to":     {now.Format("2006-01-02")},
	})

	var items []finnhubNews
	if err := p.http.getJSON(ctx, u, &items); err != nil {
		return nil, err
	}

	headlines := make([]model.Headline, 0, len(items))
	for _, n := range items {
		headlines = append(headlines, model.Headline{
			Title:       n.Headline,
			Publisher:   n.Source,
			Link:        n.URL,
			PublishedAt: time.Unix(n.Datetime, 0).UTC(),
		})
		if limit > 0 && len(headlines) == limit {
			break
		}
	}
	return headlines, nil
}

// GetSymbols returns the list of symbols for the given exchange
func (p *FinnhubProvider) GetSymbols(ctx context.Context, exchange string) ([]model.Stock, error) {
	var symbols []finnhubSymbol
	if err := p.http.getJSON(ctx, p.endpoint("/stock/symbol", url.Values{"exchange": {exchange}}), &symbols); err != nil {
		return nil, err
	}

	result := make([]model.Stock, 0, len(symbols))
	for _, s := range symbols {
		// Filter to common stocks only
		if s.Type == "Common Stock" || s.Type == "" {
			result = append(result, model.Stock{
				Symbol:   s.Symbol,
				Name:     s.Description,
				Exchange: exchange,
			})
		}
	}

	return result, nil
}

func pointer(v *float64) null.Float {
	if v == nil {
		return null.Float{}
	}
	return model.FloatOf(*v)
}

func percentToFraction(v *float64) null.Float {
	if v == nil {
		return null.Float{}
	}
	return model.FloatOf(*v / 100)
}
