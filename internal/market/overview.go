package market

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"manin/internal/cache"
	"manin/internal/provider"
	"manin/pkg/model"
)

// Index is one headline index
type Index struct {
	Name   string
	Symbol string
}

// Indices are the headline indices, in display order
var Indices = []Index{
	{"S&P 500", "^GSPC"},
	{"NASDAQ", "^IXIC"},
	{"Dow Jones", "^DJI"},
	{"Russell 2000", "^RUT"},
	{"VIX", "^VIX"},
}

// MoverWatchlist is the set of liquid names scanned for top movers
var MoverWatchlist = []string{
	"AAPL", "MSFT", "NVDA", "TSLA", "AMD", "AMZN", "GOOGL", "META",
	"NFLX", "PLTR", "SOFI", "INTC", "BAC", "DIS", "NIO", "RIVN",
}

// TopMovers is how many movers the overview keeps
const TopMovers = 10

// IndexQuote is the daily change of an index
type IndexQuote struct {
	Name      string  `json:"name"`
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	Change    float64 `json:"change"`
	ChangePct float64 `json:"changePct"`
}

// Mover is a watchlist ticker ranked by absolute daily change
type Mover struct {
	Ticker    string  `json:"ticker"`
	Price     float64 `json:"price"`
	ChangePct float64 `json:"changePct"`
}

// Overview is the market dashboard payload
type Overview struct {
	Indices    []IndexQuote `json:"indices"`
	TopMovers  []Mover      `json:"topMovers"`
	MarketOpen bool         `json:"marketOpen"`
}

// OverviewService builds the market overview and caches it for 15 minutes
type OverviewService struct {
	provider provider.Provider
	store    cache.Store
	session  *Session
}

// NewOverviewService creates an overview service
func NewOverviewService(p provider.Provider, store cache.Store, session *Session) *OverviewService {
	if session == nil {
		session = NewSession()
	}
	return &OverviewService{provider: p, store: store, session: session}
}

// Get returns the cached overview or builds a fresh one
func (o *OverviewService) Get(ctx context.Context) (Overview, error) {
	var ov Overview
	if cache.GetJSON(ctx, o.store, cache.KeyMarketOverview, cache.TTLMarketOverview, &ov) {
		return ov, nil
	}
	return o.Refresh(ctx)
}

// Refresh rebuilds the overview and stores it. Individual index or mover
// failures are skipped; the result may be partially empty.
func (o *OverviewService) Refresh(ctx context.Context) (Overview, error) {
	start := time.Now()
	ov := Overview{
		Indices:    o.indices(ctx),
		TopMovers:  o.movers(ctx),
		MarketOpen: o.session.IsOpen(),
	}
	if err := ctx.Err(); err != nil {
		return ov, err
	}
	if err := cache.SetJSON(ctx, o.store, cache.KeyMarketOverview, ov); err != nil {
		log.Warn().Err(err).Msg("market overview not cached")
	}
	o.logSummary(ov, time.Since(start))
	return ov, nil
}

func (o *OverviewService) indices(ctx context.Context) []IndexQuote {
	out := make([]IndexQuote, 0, len(Indices))
	for _, idx := range Indices {
		candles, err := o.provider.GetDailyCandles(ctx, idx.Symbol, 5)
		if err != nil {
			log.Debug().Err(err).Str("symbol", idx.Symbol).Msg("index fetch failed")
			continue
		}
		cur, prev, ok := lastTwoCloses(candles)
		if !ok {
			continue
		}
		change := cur - prev
		out = append(out, IndexQuote{
			Name:      idx.Name,
			Symbol:    idx.Symbol,
			Price:     model.Round(cur, 2),
			Change:    model.Round(change, 2),
			ChangePct: model.Round(change/prev*100, 2),
		})
	}
	return out
}

func (o *OverviewService) movers(ctx context.Context) []Mover {
	data, err := o.provider.GetDailyCandlesBatch(ctx, MoverWatchlist, 5)
	if err != nil {
		log.Debug().Err(err).Msg("mover fetch failed")
	}

	out := make([]Mover, 0, len(MoverWatchlist))
	for _, ticker := range MoverWatchlist {
		cur, prev, ok := lastTwoCloses(data[ticker])
		if !ok {
			continue
		}
		out = append(out, Mover{
			Ticker:    ticker,
			Price:     model.Round(cur, 2),
			ChangePct: model.Round((cur-prev)/prev*100, 2),
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return math.Abs(out[i].ChangePct) > math.Abs(out[j].ChangePct)
	})
	if len(out) > TopMovers {
		out = out[:TopMovers]
	}
	return out
}

func lastTwoCloses(candles []model.Candle) (cur, prev float64, ok bool) {
	if len(candles) < 2 {
		return 0, 0, false
	}
	cur = candles[len(candles)-1].Close
	prev = candles[len(candles)-2].Close
	if prev == 0 || math.IsNaN(cur) || math.IsNaN(prev) {
		return 0, 0, false
	}
	return cur, prev, true
}

func (o *OverviewService) logSummary(ov Overview, took time.Duration) {
	log.Info().Int("indices", len(ov.Indices)).Int("movers", len(ov.TopMovers)).
		Bool("market_open", ov.MarketOpen).Dur("took", took).Msg("market overview refreshed")
}
