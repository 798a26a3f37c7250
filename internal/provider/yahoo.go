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

const yahooBaseURL = "https://query1.finance.yahoo.com"

// YahooProvider implements the Provider interface for Yahoo Finance (unofficial API)
type YahooProvider struct {
	http *httpClient
}

// NewYahooProvider creates a new Yahoo Finance provider
func NewYahooProvider(opts ...Option) *YahooProvider {
	return &YahooProvider{http: newHTTPClient("yahoo", yahooBaseURL, 30, opts)}
}

// Name returns the provider name
func (p *YahooProvider) Name() string {
	return "yahoo"
}

// IsAvailable always returns true (no API key needed)
func (p *YahooProvider) IsAvailable() bool {
	return true
}

// RateLimit returns the rate limit per minute
func (p *YahooProvider) RateLimit() int {
	return p.http.rateLimit
}

// yahooChartResponse is the v8 chart payload. Missing bars come back as null.
type yahooChartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol string `json:"symbol"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*int64   `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *yahooError `json:"error"`
	} `json:"chart"`
}

type yahooError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

// yahooRaw is the {"raw": 1.23, "fmt": "1.23"} wrapper used by quoteSummary
type yahooRaw struct {
	Raw *float64 `json:"raw"`
}

func (r yahooRaw) value() null.Float {
	if r.Raw == nil {
		return null.Float{}
	}
	return model.FloatOf(*r.Raw)
}

type yahooSummaryResponse struct {
	QuoteSummary struct {
		Result []struct {
			FinancialData struct {
				ProfitMargins yahooRaw `json:"profitMargins"`
				RevenueGrowth yahooRaw `json:"revenueGrowth"`
			} `json:"financialData"`
			DefaultKeyStatistics struct {
				FloatShares yahooRaw `json:"floatShares"`
			} `json:"defaultKeyStatistics"`
			SummaryDetail struct {
				MarketCap        yahooRaw `json:"marketCap"`
				TrailingPE       yahooRaw `json:"trailingPE"`
				FiftyTwoWeekHigh yahooRaw `json:"fiftyTwoWeekHigh"`
				FiftyTwoWeekLow  yahooRaw `json:"fiftyTwoWeekLow"`
			} `json:"summaryDetail"`
			AssetProfile struct {
				Sector   string `json:"sector"`
				Industry string `json:"industry"`
			} `json:"assetProfile"`
		} `json:"result"`
		Error *yahooError `json:"error"`
	} `json:"quoteSummary"`
}

type yahooSearchResponse struct {
	News []struct {
		Title               string `json:"title"`
		Publisher           string `json:"publisher"`
		Link                string `json:"link"`
		ProviderPublishTime int64  `json:"providerPublishTime"`
	} `json:"news"`
}

// GetDailyCandles fetches daily OHLCV data
func (p *YahooProvider) GetDailyCandles(ctx context.Context, symbol string, days int) ([]model.Candle, error) {
	now := time.Now()
	// calendar buffer for weekends and holidays
	from := now.AddDate(0, 0, -(days*7/5 + 10))

	u := fmt.Sprintf("%s/v8/finance/chart/%s?period1=%d&period2=%d&interval=1d&includePrePost=false",
		p.http.baseURL, url.PathEscape(symbol), from.Unix(), now.Unix())

	var data yahooChartResponse
	if err := p.http.getJSON(ctx, u, &data); err != nil {
		return nil, err
	}

	if data.Chart.Error != nil {
		return nil, &ProviderError{Provider: p.Name(), Err: fmt.Errorf("%s", data.Chart.Error.Description)}
	}

	if len(data.Chart.Result) == 0 || len(data.Chart.Result[0].Timestamp) == 0 ||
		len(data.Chart.Result[0].Indicators.Quote) == 0 {
		return nil, noData(p, symbol)
	}

	result := data.Chart.Result[0]
	quotes := result.Indicators.Quote[0]
	loc := etLocation()

	candles := make([]model.Candle, 0, len(result.Timestamp))
	for i := range result.Timestamp {
		if i >= len(quotes.Open) || i >= len(quotes.High) || i >= len(quotes.Low) || i >= len(quotes.Close) {
			continue
		}
		if quotes.Open[i] == nil || quotes.High[i] == nil || quotes.Low[i] == nil || quotes.Close[i] == nil {
			continue
		}

		var volume int64
		if i < len(quotes.Volume) && quotes.Volume[i] != nil {
			volume = *quotes.Volume[i]
		}

		candles = append(candles, model.Candle{
			Time:   time.Unix(result.Timestamp[i], 0).In(loc),
			Open:   *quotes.Open[i],
			High:   *quotes.High[i],
			Low:    *quotes.Low[i],
			Close:  *quotes.Close[i],
			Volume: volume,
		})
	}

	if len(candles) == 0 {
		return nil, noData(p, symbol)
	}

	sort.Slice(candles, func(i, j int) bool {
		return candles[i].Time.Before(candles[j].Time)
	})

	return trimDays(candles, days), nil
}

// GetDailyCandlesBatch has no multi-symbol endpoint on Yahoo
func (p *YahooProvider) GetDailyCandlesBatch(ctx context.Context, symbols []string, days int) (map[string][]model.Candle, error) {
	return batchBySymbol(ctx, p, symbols, days)
}

// GetFundamentals reads quoteSummary modules
func (p *YahooProvider) GetFundamentals(ctx context.Context, symbol string) (model.Fundamentals, error) {
	u := fmt.Sprintf("%s/v10/finance/quoteSummary/%s?modules=financialData,defaultKeyStatistics,summaryDetail,assetProfile",
		p.http.baseURL, url.PathEscape(symbol))

	var data yahooSummaryResponse
	if err := p.http.getJSON(ctx, u, &data); err != nil {
		return model.EmptyFundamentals(), err
	}

	if data.QuoteSummary.Error != nil {
		return model.EmptyFundamentals(), &ProviderError{Provider: p.Name(), Err: fmt.Errorf("%s", data.QuoteSummary.Error.Description)}
	}
	if len(data.QuoteSummary.Result) == 0 {
		return model.EmptyFundamentals(), noData(p, symbol)
	}

	r := data.QuoteSummary.Result[0]
	f := model.Fundamentals{
		ProfitMargin:  r.FinancialData.ProfitMargins.value(),
		RevenueGrowth: r.FinancialData.RevenueGrowth.value(),
		FloatShares:   r.DefaultKeyStatistics.FloatShares.value(),
		MarketCap:     r.SummaryDetail.MarketCap.value(),
		TrailingPE:    r.SummaryDetail.TrailingPE.value(),
		YearHigh:      r.SummaryDetail.FiftyTwoWeekHigh.value(),
		YearLow:       r.SummaryDetail.FiftyTwoWeekLow.value(),
		Sector:        r.AssetProfile.Sector,
		Industry:      r.AssetProfile.Industry,
	}
	return f.Normalize(), nil
}

// GetNews reads the news block of the search endpoint
func (p *YahooProvider) GetNews(ctx context.Context, symbol string, limit int) ([]model.Headline, error) {
	u := fmt.Sprintf("%s/v1/finance/search?q=%s&quotesCount=0&newsCount=%d",
		p.http.baseURL, url.QueryEscape(symbol), limit)

	var data yahooSearchResponse
	if err := p.http.getJSON(ctx, u, &data); err != nil {
		return nil, err
	}

	headlines := make([]model.Headline, 0, len(data.News))
	for _, n := range data.News {
		if n.Title == "" {
			continue
		}
		headlines = append(headlines, model.Headline{
			Title:       n.Title,
			Publisher:   n.Publisher,
			Link:        n.Link,
			PublishedAt: time.Unix(n.ProviderPublishTime, 0).UTC(),
		})
		if limit > 0 && len(headlines) == limit {
			break
		}
	}
	return headlines, nil
}

// GetSymbols is not supported by Yahoo Finance unofficial API
func (p *YahooProvider) GetSymbols(ctx context.Context, exchange string) ([]model.Stock, error) {
	return nil, unsupported(p, "symbol listing")
}

func etLocation() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return time.UTC
	}
	return loc
}
