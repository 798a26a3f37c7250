package provider

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/guregu/null/v6"

	"manin/pkg/model"
)

const alphaVantageBaseURL = "https://www.alphavantage.co"

// AlphaVantageProvider implements the Provider interface for Alpha Vantage API
type AlphaVantageProvider struct {
	apiKey string
	http   *httpClient
}

// NewAlphaVantageProvider creates a new Alpha Vantage provider
func NewAlphaVantageProvider(apiKey string, rateLimitPerMin int, opts ...Option) *AlphaVantageProvider {
	return &AlphaVantageProvider{
		apiKey: apiKey,
		http:   newHTTPClient("alphavantage", alphaVantageBaseURL, rateLimitPerMin, opts),
	}
}

// Name returns the provider name
func (p *AlphaVantageProvider) Name() string {
	return "alphavantage"
}

// IsAvailable checks if the provider has an API key
func (p *AlphaVantageProvider) IsAvailable() bool {
	return p.apiKey != ""
}

// RateLimit returns the rate limit per minute
func (p *AlphaVantageProvider) RateLimit() int {
	return p.http.rateLimit
}

// alphaVantageStatus carries the soft errors Alpha Vantage returns with HTTP 200
type alphaVantageStatus struct {
	Note        string `json:"Note"`        // Rate limit message
	Information string `json:"Information"` // Premium endpoint or daily quota
	Error       string `json:"Error Message"`
}

func (s alphaVantageStatus) err(name string) error {
	switch {
	case s.Note != "":
		return &ProviderError{Provider: name, Err: fmt.Errorf("rate limited: %s", s.Note), Retryable: true}
	case s.Information != "":
		return &ProviderError{Provider: name, Err: fmt.Errorf("%s", s.Information)}
	case s.Error != "":
		return &ProviderError{Provider: name, Err: fmt.Errorf("%s", s.Error)}
	}
	return nil
}

type alphaVantageDaily struct {
	alphaVantageStatus
	TimeSeries map[string]map[string]string `json:"Time Series (Daily)"`
}

type alphaVantageOverview struct {
	alphaVantageStatus
	Symbol                    string `json:"Symbol"`
	Sector                    string `json:"Sector"`
	Industry                  string `json:"Industry"`
	MarketCapitalization      string `json:"MarketCapitalization"`
	ProfitMargin              string `json:"ProfitMargin"`
	TrailingPE                string `json:"TrailingPE"`
	WeekHigh52                string `json:"52WeekHigh"`
	WeekLow52                 string `json:"52WeekLow"`
	SharesFloat               string `json:"SharesFloat"`
	QuarterlyRevenueGrowthYOY string `json:"QuarterlyRevenueGrowthYOY"`
}

type alphaVantageNews struct {
	alphaVantageStatus
	Feed []struct {
		Title         string `json:"title"`
		URL           string `json:"url"`
		Source        string `json:"source"`
		TimePublished string `json:"time_published"` // 20240102T130000
	} `json:"feed"`
}

func (p *AlphaVantageProvider) query(params url.Values) string {
	params.Set("apikey", p.apiKey)
	return p.http.baseURL + "/query?" + params.Encode()
}

// GetDailyCandles fetches TIME_SERIES_DAILY
func (p *AlphaVantageProvider) GetDailyCandles(ctx context.Context, symbol string, days int) ([]model.Candle, error) {
	size := "compact" // last 100 bars
	if days > 100 {
		size = "full"
	}

	var data alphaVantageDaily
	if err := p.http.getJSON(ctx, p.query(url.Values{
		"function":   {"TIME_SERIES_DAILY"},
		"symbol":     {symbol},
		"outputsize": {size},
	}), &data); err != nil {
		return nil, err
	}
	if err := data.err(p.Name()); err != nil {
		if pe, ok := err.(*ProviderError); ok && pe.Retryable {
			p.http.limiter.SignalRateLimited()
		}
		return nil, err
	}
	if len(data.TimeSeries) == 0 {
		return nil, noData(p, symbol)
	}

	candles := parseDailySeries(data.TimeSeries, etLocation())
	return trimDays(candles, days), nil
}

// parseDailySeries converts the date-keyed map to ascending candles
func parseDailySeries(series map[string]map[string]string, loc *time.Location) []model.Candle {
	candles := make([]model.Candle, 0, len(series))
	for dateStr, values := range series {
		t, err := time.ParseInLocation("2006-01-02", dateStr, loc)
		if err != nil {
			continue
		}

		open, _ := strconv.ParseFloat(values["1. open"], 64)
		high, _ := strconv.ParseFloat(values["2. high"], 64)
		low, _ := strconv.ParseFloat(values["3. low"], 64)
		closePrice, _ := strconv.ParseFloat(values["4. close"], 64)
		volume, _ := strconv.ParseInt(values["5. volume"], 10, 64)

		candles = append(candles, model.Candle{
			Time:   t,
			Open:   open,
			High:   high,
			Low:    low,
			Close:  closePrice,
			Volume: volume,
		})
	}

	sort.Slice(candles, func(i, j int) bool {
		return candles[i].Time.Before(candles[j].Time)
	})
	return candles
}

// GetDailyCandlesBatch loops over symbols
func (p *AlphaVantageProvider) GetDailyCandlesBatch(ctx context.Context, symbols []string, days int) (map[string][]model.Candle, error) {
	return batchBySymbol(ctx, p, symbols, days)
}

// GetFundamentals reads the OVERVIEW function
func (p *AlphaVantageProvider) GetFundamentals(ctx context.Context, symbol string) (model.Fundamentals, error) {
	var o alphaVantageOverview
	if err := p.http.getJSON(ctx, p.query(url.Values{"function": {"OVERVIEW"}, "symbol": {symbol}}), &o); err != nil {
		return model.EmptyFundamentals(), err
	}
	if err := o.err(p.Name()); err != nil {
		return model.EmptyFundamentals(), err
	}
	if o.Symbol == "" {
		return model.EmptyFundamentals(), noData(p, symbol)
	}

	f := model.Fundamentals{
		ProfitMargin:  parseNumber(o.ProfitMargin),
		MarketCap:     parseNumber(o.MarketCapitalization),
		TrailingPE:    parseNumber(o.TrailingPE),
		YearHigh:      parseNumber(o.WeekHigh52),
		YearLow:       parseNumber(o.WeekLow52),
		FloatShares:   parseNumber(o.SharesFloat),
		RevenueGrowth: parseNumber(o.QuarterlyRevenueGrowthYOY),
		Sector:        o.Sector,
		Industry:      o.Industry,
	}
	return f.Normalize(), nil
}

// GetNews reads NEWS_SENTIMENT for one ticker
func (p *AlphaVantageProvider) GetNews(ctx context.Context, symbol string, limit int) ([]model.Headline, error) {
	var data alphaVantageNews
	if err := p.http.getJSON(ctx, p.query(url.Values{
		"function": {"NEWS_SENTIMENT"},
		"tickers":  {symbol},
		"limit":    {strconv.Itoa(limit)},
	}), &data); err != nil {
		return nil, err
	}
	if err := data.err(p.Name()); err != nil {
		return nil, err
	}

	headlines := make([]model.Headline, 0, len(data.Feed))
	for _, item := range data.Feed {
		published, _ := time.Parse("20060102T150405", item.TimePublished)
		headlines = append(headlines, model.Headline{
			Title:       item.Title,
			Publisher:   item.Source,
			Link:        item.URL,
			PublishedAt: published,
		})
		if limit > 0 && len(headlines) == limit {
			break
		}
	}
	return headlines, nil
}

// GetSymbols is not offered on the free tier
func (p *AlphaVantageProvider) GetSymbols(ctx context.Context, exchange string) ([]model.Stock, error) {
	return nil, unsupported(p, "symbol listing")
}

// parseNumber reads Alpha Vantage's stringly numbers; "None" and "-" are missing
func parseNumber(s string) null.Float {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return null.Float{}
	}
	return model.FloatOf(v)
}
