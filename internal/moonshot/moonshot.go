// Package moonshot ranks micro-caps with outsized upside potential by
// blending growth, technical thrust and news sentiment.
package moonshot

import (
	"context"
	"fmt"
	"sort"

	"github.com/guregu/null/v6"
	"github.com/rs/zerolog/log"

	"manin/internal/analyzer"
	"manin/internal/cache"
	"manin/internal/news"
	"manin/internal/scanner"
	"manin/internal/sentiment"
	"manin/internal/signal"
	"manin/pkg/model"
)

const (
	UniverseSample = 150
	SentimentPool  = 10
	TopN           = 5

	MinMarketCap = 10_000_000
	MaxMarketCap = 600_000_000

	MaxGrowthScore    = 40
	MaxTechnicalScore = 30
)

// Candidate is a scored moonshot. The analysis fields are inlined.
type Candidate struct {
	model.AnalysisResult
	MoonScore      int      `json:"moonScore"`
	MoonReasoning  []string `json:"moonReasoning"`
	Sentiment      string   `json:"sentiment,omitempty"`
	SentimentScore int      `json:"sentimentScore"`
	Outlook        string   `json:"outlook,omitempty"`
}

type deepAnalyzer interface {
	DeepAnalyze(ctx context.Context, tickers []string) ([]scanner.Analysis, error)
}

type tickerSource interface {
	Tickers(ctx context.Context) ([]string, error)
}

type sentimentRater interface {
	AnalyzeTickers(ctx context.Context, tickers []string) []news.Item
}

// Service runs the moonshot hunt and caches it for four hours
type Service struct {
	deep     deepAnalyzer
	universe tickerSource
	news     sentimentRater
	store    cache.Store
}

// NewService wires the hunt
func NewService(deep deepAnalyzer, universe tickerSource, rater sentimentRater, store cache.Store) *Service {
	return &Service{deep: deep, universe: universe, news: rater, store: store}
}

// Top returns the cached top moonshots or runs a fresh hunt
func (s *Service) Top(ctx context.Context) ([]Candidate, error) {
	var out []Candidate
	if cache.GetJSON(ctx, s.store, cache.KeyMoonshots, cache.TTLMoonshots, &out) {
		return out, nil
	}

	out, err := s.Hunt(ctx)
	if err != nil {
		return nil, err
	}
	if err := cache.SetJSON(ctx, s.store, cache.KeyMoonshots, out); err != nil {
		log.Warn().Err(err).Int("moonshots", len(out)).Msg("moonshots not cached")
	}
	return out, nil
}

// Hunt scores the head of the universe without touching the cache
func (s *Service) Hunt(ctx context.Context) ([]Candidate, error) {
	tickers, err := s.universe.Tickers(ctx)
	if err != nil {
		return nil, fmt.Errorf("moonshot universe: %w", err)
	}
	if len(tickers) > UniverseSample {
		tickers = tickers[:UniverseSample]
	}

	analyses, err := s.deep.DeepAnalyze(ctx, tickers)
	if err != nil {
		return nil, err
	}

	scored := make([]Candidate, 0, len(analyses))
	for _, a := range analyses {
		if !InBand(a.Result.MarketCap) {
			continue
		}
		score, reasons := Score(a)
		scored = append(scored, Candidate{
			AnalysisResult: a.Result,
			MoonScore:      score,
			MoonReasoning:  reasons,
		})
	}
	sortByMoonScore(scored)
	if len(scored) > SentimentPool {
		scored = scored[:SentimentPool]
	}

	if len(scored) > 0 {
		names := make([]string, len(scored))
		for i, c := range scored {
			names[i] = c.Ticker
		}
		byTicker := make(map[string]news.Item, len(scored))
		for _, item := range s.news.AnalyzeTickers(ctx, names) {
			byTicker[item.Ticker] = item
		}
		for i := range scored {
			if item, ok := byTicker[scored[i].Ticker]; ok {
				applySentiment(&scored[i], item)
			}
		}
	}

	sortByMoonScore(scored)
	if len(scored) > TopN {
		scored = scored[:TopN]
	}
	log.Info().Int("sampled", len(tickers)).Int("analyzed", len(analyses)).Int("kept", len(scored)).
		Msg("moonshot hunt finished")
	return scored, nil
}

// InBand reports whether a market cap is inside the micro-cap window
func InBand(marketCap null.Float) bool {
	return marketCap.Valid && marketCap.Float64 > MinMarketCap && marketCap.Float64 < MaxMarketCap
}

// Score is the growth plus technical part of the moonshot score
func Score(a scanner.Analysis) (int, []string) {
	r := a.Result
	reasons := []string{}

	growth := 0
	if r.IsProfitable {
		growth += 15
		reasons = append(reasons, "Profitable micro-cap foundation")
	}
	if g := a.Fundamentals.RevenueGrowth; g.Valid {
		switch {
		case g.Float64 > 0.5:
			growth += 25
			reasons = append(reasons, fmt.Sprintf("Explosive Revenue Growth (%.1f%%)", g.Float64*100))
		case g.Float64 > 0.2:
			growth += 15
			reasons = append(reasons, fmt.Sprintf("Strong Revenue Growth (%.1f%%)", g.Float64*100))
		}
	}

	tech := 0
	if r.Score >= 5 {
		tech += 15
	}
	if r.HasSignal(analyzer.PrefixMassiveVolume) {
		tech += 15
		reasons = append(reasons, "Abnormal Institutional Accumulation")
	}
	switch {
	case r.HasSignal(signal.PrefixVerticalMove):
		tech += 15
		reasons = append(reasons, "Explosive Vertical Momentum Detected")
	case r.HasSignal(signal.PrefixHighVelocity):
		tech += 10
		reasons = append(reasons, "Strong Velocity Breakout")
	}
	if r.Price > 0 && r.YearHigh.Valid && r.YearHigh.Float64 > 0 && r.Price >= 0.9*r.YearHigh.Float64 {
		tech += 10
		reasons = append(reasons, "Breaking 52-Week High Resistance")
	}

	return min(growth, MaxGrowthScore) + min(tech, MaxTechnicalScore), reasons
}

func applySentiment(c *Candidate, item news.Item) {
	c.Sentiment = item.Sentiment
	c.SentimentScore = item.SentimentScore
	c.Outlook = item.Outlook
	switch item.Sentiment {
	case sentiment.Bullish:
		c.MoonScore += 20
		c.MoonReasoning = append(c.MoonReasoning, "Highly Bullish AI Sentiment")
	case sentiment.Neutral:
		c.MoonScore += 10
	}
}

func sortByMoonScore(cs []Candidate) {
	sort.SliceStable(cs, func(i, j int) bool {
		return cs[i].MoonScore > cs[j].MoonScore
	})
}
