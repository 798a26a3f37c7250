package provider

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"

	"manin/pkg/model"
)

const (
	alpacaDataURL    = "https://data.alpaca.markets"
	alpacaTradingURL = "https://paper-api.alpaca.markets"
)

// AlpacaConfig holds Alpaca credentials and endpoints
type AlpacaConfig struct {
	APIKey     string
	APISecret  string
	TradingURL string // asset listing goes through the trading API
	Feed       string // iex (free) or sip
	RateLimit  int
}

// AlpacaProvider serves multi-symbol daily bars and news from the market
// data API and the tradable asset list from the trading API.
type AlpacaProvider struct {
	cfg    AlpacaConfig
	http   *httpClient
	client *alpaca.Client
}

// NewAlpacaProvider creates a new Alpaca provider
func NewAlpacaProvider(cfg AlpacaConfig, opts ...Option) *AlpacaProvider {
	if cfg.TradingURL == "" {
		cfg.TradingURL = alpacaTradingURL
	}
	if cfg.Feed == "" {
		cfg.Feed = "iex"
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 200
	}

	hc := newHTTPClient("alpaca", alpacaDataURL, cfg.RateLimit, opts)
	hc.headers["APCA-API-KEY-ID"] = cfg.APIKey
	hc.headers["APCA-API-SECRET-KEY"] = cfg.APISecret

	return &AlpacaProvider{
		cfg:  cfg,
		http: hc,
		client: alpaca.NewClient(alpaca.ClientOpts{
			APIKey:    cfg.APIKey,
			APISecret: cfg.APISecret,
			BaseURL:   cfg.TradingURL,
		}),
	}
}

// Name returns the provider name
func (p *AlpacaProvider) Name() string {
	return "alpaca"
}

// IsAvailable checks if both key and secret are configured
func (p *AlpacaProvider) IsAvailable() bool {
	return p.cfg.APIKey != "" && p.cfg.APISecret != ""
}

// RateLimit returns the rate limit per minute
func (p *AlpacaProvider) RateLimit() int {
	return p.http.rateLimit
}

type alpacaBar struct {
	T time.Time `json:"t"`
	O float64   `json:"o"`
	H float64   `json:"h"`
	L float64   `json:"l"`
	C float64   `json:"c"`
	V int64     `json:"v"`
}

type alpacaBarsResponse struct {
	Bars          map[string][]alpacaBar `json:"bars"`
	NextPageToken *string                `json:"next_page_token"`
}

type alpacaNewsResponse struct {
	News []struct {
		Headline  string    `json:"headline"`
		Source    string    `json:"source"`
		URL       string    `json:"url"`
		CreatedAt time.Time `json:"created_at"`
	} `json:"news"`
}

// GetDailyCandles fetches one symbol through the batch endpoint
func (p *AlpacaProvider) GetDailyCandles(ctx context.Context, symbol string, days int) ([]model.Candle, error) {
	bars, err := p.GetDailyCandlesBatch(ctx, []string{symbol}, days)
	if err != nil {
		return nil, err
	}
	candles, ok := bars[symbol]
	if !ok || len(candles) == 0 {
		return nil, noData(p, symbol)
	}
	return candles, nil
}

func (p *AlpacaProvider) multiSymbolBatch() {}

// GetDailyCandlesBatch fetches all symbols in one paginated request
func (p *AlpacaProvider) GetDailyCandlesBatch(ctx context.Context, symbols []string, days int) (map[string][]model.Candle, error) {
	out := make(map[string][]model.Candle, len(symbols))
	if len(symbols) == 0 {
		return out, nil
	}

	start := time.Now().UTC().AddDate(0, 0, -(days*7/5 + 10))
	params := url.Values{
		"symbols":    {strings.Join(symbols, ",")},
		"timeframe":  {"1Day"},
		"start":      {start.Format(time.RFC3339)},
		"limit":      {"10000"},
		"adjustment": {"raw"},
		"feed":       {p.cfg.Feed},
	}

	loc := etLocation()
	for {
		var page alpacaBarsResponse
		if err := p.http.getJSON(ctx, p.http.baseURL+"/v2/stocks/bars?"+params.Encode(), &page); err != nil {
			if len(out) > 0 {
				break
			}
			return out, err
		}

		for sym, bars := range page.Bars {
			for _, b := range bars {
				out[sym] = append(out[sym], model.Candle{
					Time:   b.T.In(loc),
					Open:   b.O,
					High:   b.H,
					Low:    b.L,
					Close:  b.C,
					Volume: b.V,
				})
			}
		}

		if page.NextPageToken == nil || *page.NextPageToken == "" {
			break
		}
		params.Set("page_token", *page.NextPageToken)
	}

	for sym, candles := range out {
		sort.Slice(candles, func(i, j int) bool {
			return candles[i].Time.Before(candles[j].Time)
		})
		out[sym] = trimDays(candles, days)
	}
	return out, nil
}

// GetFundamentals is not offered by Alpaca
func (p *AlpacaProvider) GetFundamentals(ctx context.Context, symbol string) (model.Fundamentals, error) {
	return model.EmptyFundamentals(), unsupported(p, "fundamentals")
}

// GetNews reads the v1beta1 news endpoint
func (p *AlpacaProvider) GetNews(ctx context.Context, symbol string, limit int) ([]model.Headline, error) {
	params := url.Values{"symbols": {symbol}, "limit": {fmt.Sprint(limit)}}

	var data alpacaNewsResponse
	if err := p.http.getJSON(ctx, p.http.baseURL+"/v1beta1/news?"+params.Encode(), &data); err != nil {
		return nil, err
	}

	headlines := make([]model.Headline, 0, len(data.News))
	for _, n := range data.News {
		headlines = append(headlines, model.Headline{
			Title:       n.Headline,
			Publisher:   n.Source,
			Link:        n.URL,
			PublishedAt: n.CreatedAt,
		})
	}
	return headlines, nil
}

// GetSymbols lists active tradable US equities, optionally for one exchange
func (p *AlpacaProvider) GetSymbols(ctx context.Context, exchange string) ([]model.Stock, error) {
	if err := p.http.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	assets, err := p.client.GetAssets(alpaca.GetAssetsRequest{
		Status:     "active",
		AssetClass: "us_equity",
		Exchange:   exchange,
	})
	if err != nil {
		return nil, &ProviderError{Provider: p.Name(), Err: err, Retryable: true}
	}

	stocks := make([]model.Stock, 0, len(assets))
	for _, a := range assets {
		if !a.Tradable {
			continue
		}
		stocks = append(stocks, model.Stock{
			Symbol:   a.Symbol,
			Name:     a.Name,
			Exchange: a.Exchange,
		})
	}
	return stocks, nil
}
