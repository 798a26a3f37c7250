// Package news rates recent headlines for a set of tickers and assembles the
// hourly news intelligence feed.
package news

import (
	"context"
	"sort"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"manin/internal/cache"
	"manin/internal/market"
	"manin/internal/provider"
	"manin/internal/scanner"
	"manin/internal/sentiment"
	"manin/internal/workerpool"
	"manin/pkg/model"
)

const (
	// HeadlinesPerTicker is how many headlines are scored per ticker
	HeadlinesPerTicker = 5
	// MaxHotTickers caps the intelligence candidate list
	MaxHotTickers = 15
	// FeedSize is how many items the intelligence feed keeps
	FeedSize = 10
	// PennyMovers is how many basic-screen rows feed the candidate list
	PennyMovers = 20

	noHeadline  = "No recent headlines detected"
	unavailable = "Analysis data unavailable"
	noOutlook   = "Unable to retrieve news data at this time."
)

// Item is the sentiment summary for one ticker
type Item struct {
	Ticker         string  `json:"ticker"`
	Price          float64 `json:"price"`
	ChangePct      float64 `json:"changePct"`
	SentimentScore int     `json:"sentimentScore"`
	Sentiment      string  `json:"sentiment"`
	NewsCount      int     `json:"newsCount"`
	Headline       string  `json:"headline"`
	Outlook        string  `json:"outlook"`
}

// OverviewSource supplies the market movers
type OverviewSource interface {
	Get(ctx context.Context) (market.Overview, error)
}

// ScanSource supplies the basic penny screen
type ScanSource interface {
	Scan(ctx context.Context, req scanner.Request) (*model.ScanResult, error)
}

// Service rates headlines through a provider
type Service struct {
	provider provider.Provider
	store    cache.Store
	overview OverviewSource
	scans    ScanSource
	pool     *workerpool.Pool
	log      zerolog.Logger
}

// NewService creates a news service. overview and scans may be nil when only
// AnalyzeTickers is needed.
func NewService(p provider.Provider, store cache.Store, overview OverviewSource, scans ScanSource, workers int) *Service {
	return &Service{
		provider: p,
		store:    store,
		overview: overview,
		scans:    scans,
		pool:     workerpool.New(workers),
		log:      log.With().Str("component", "news").Logger(),
	}
}

// AnalyzeTickers rates each ticker and returns the items ordered by
// sentiment magnitude, then score. Every ticker yields an item.
func (s *Service) AnalyzeTickers(ctx context.Context, tickers []string) []Item {
	items, _ := workerpool.Map(ctx, s.pool, len(tickers), func(ctx context.Context, i int) (Item, bool) {
		return s.analyze(ctx, tickers[i]), true
	})
	SortItems(items)
	return items
}

func (s *Service) analyze(ctx context.Context, ticker string) Item {
	headlines, newsErr := s.provider.GetNews(ctx, ticker, HeadlinesPerTicker)
	if newsErr != nil {
		s.log.Debug().Err(newsErr).Str("ticker", ticker).Msg("news fetch failed")
		headlines = nil
	}
	if len(headlines) > HeadlinesPerTicker {
		headlines = headlines[:HeadlinesPerTicker]
	}

	candles, priceErr := s.provider.GetDailyCandles(ctx, ticker, 1)
	if priceErr != nil {
		s.log.Debug().Err(priceErr).Str("ticker", ticker).Msg("price fetch failed")
	}

	if newsErr != nil && priceErr != nil {
		return unavailableItem(ticker)
	}

	titles := make([]string, len(headlines))
	for i, h := range headlines {
		titles[i] = h.Title
	}
	rated := sentiment.Analyze(titles)

	item := Item{
		Ticker:         ticker,
		SentimentScore: rated.Score,
		Sentiment:      rated.Label,
		NewsCount:      len(headlines),
		Headline:       noHeadline,
		Outlook:        sentiment.Outlook(rated.Score, ticker),
	}
	if len(rated.Titles) > 0 {
		item.Headline = rated.Titles[0]
	}
	if len(candles) > 0 {
		last := candles[len(candles)-1]
		item.Price = model.Round(last.Close, 2)
		if last.Open > 0 {
			item.ChangePct = model.Round((last.Close-last.Open)/last.Open*100, 2)
		}
	}
	return item
}

func unavailableItem(ticker string) Item {
	return Item{
		Ticker:    ticker,
		Sentiment: sentiment.Neutral,
		Headline:  unavailable,
		Outlook:   noOutlook,
	}
}

// SortItems orders by |score| then score, both descending
func SortItems(items []Item) {
	sort.SliceStable(items, func(i, j int) bool {
		ai, aj := abs(items[i].SentimentScore), abs(items[j].SentimentScore)
		if ai != aj {
			return ai > aj
		}
		return items[i].SentimentScore > items[j].SentimentScore
	})
}

// Intelligence returns the cached feed, rebuilding it from the market movers
// and the basic penny screen once it is older than an hour.
func (s *Service) Intelligence(ctx context.Context) ([]Item, error) {
	var items []Item
	if cache.GetJSON(ctx, s.store, cache.KeyNews, cache.TTLNews, &items) {
		return items, nil
	}

	items = s.AnalyzeTickers(ctx, s.hotTickers(ctx))
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(items) > FeedSize {
		items = items[:FeedSize]
	}
	if err := cache.SetJSON(ctx, s.store, cache.KeyNews, items); err != nil {
		s.log.Warn().Err(err).Int("items", len(items)).Msg("news feed not cached")
	}
	return items, nil
}

// hotTickers merges movers and penny volume leaders, first seen wins
func (s *Service) hotTickers(ctx context.Context) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(t string) {
		if t == "" || seen[t] {
			return
		}
		seen[t] = true
		out = append(out, t)
	}

	if s.overview != nil {
		ov, err := s.overview.Get(ctx)
		if err != nil {
			s.log.Warn().Err(err).Msg("overview unavailable for news feed")
		}
		for _, m := range ov.TopMovers {
			add(m.Ticker)
		}
	}

	if s.scans != nil {
		res, err := s.scans.Scan(ctx, scanner.Request{Mode: model.ModeBasic, Limit: PennyMovers})
		if err != nil {
			s.log.Warn().Err(err).Msg("penny screen unavailable for news feed")
		} else {
			for _, q := range res.Quotes {
				add(q.Ticker)
			}
		}
	}

	if len(out) > MaxHotTickers {
		out = out[:MaxHotTickers]
	}
	return out
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
