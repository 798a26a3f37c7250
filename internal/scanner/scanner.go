// Package scanner walks a ticker universe in three modes: a cheap liquidity
// screen (basic), a two-phase screen plus deep analysis (full) and a paged
// variant of full (batch).
package scanner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"manin/internal/analyzer"
	"manin/internal/provider"
	"manin/internal/symbols"
	"manin/internal/workerpool"
	"manin/pkg/model"
)

// Phase names the stage a progress update refers to
type Phase string

const (
	PhaseScreen  Phase = "screen"
	PhaseAnalyze Phase = "analyze"
)

// ProgressCallback is called with progress updates. It may be called from
// several goroutines.
type ProgressCallback func(phase Phase, done, total int)

// Universe resolves a named universe to tickers and knows the listing
// metadata of the penny universe
type Universe interface {
	Resolve(ctx context.Context, u symbols.Universe) ([]string, error)
	Metadata(ctx context.Context, ticker string) (symbols.Meta, bool)
}

// ProgressSource reports how far the trading session has run
type ProgressSource interface {
	Progress() float64
}

// Config holds the screen thresholds and scan bounds
type Config struct {
	Workers          int           `yaml:"workers"`
	Timeout          time.Duration `yaml:"timeout"`
	MaxPrice         float64       `yaml:"max_price"`
	BasicMinVolume   int64         `yaml:"basic_min_volume"`
	FullMinVolume    int64         `yaml:"full_min_volume"`
	BasicUniverseCap int           `yaml:"basic_universe_cap"`
	BasicChunk       int           `yaml:"basic_chunk"`
	FullChunk        int           `yaml:"full_chunk"`
	DeepCap          int           `yaml:"deep_cap"`
	DeepDays         int           `yaml:"deep_days"`
	ScreenDays       int           `yaml:"screen_days"`
}

// DefaultConfig returns the stock thresholds
func DefaultConfig() Config {
	return Config{
		Workers:          8,
		Timeout:          5 * time.Minute,
		MaxPrice:         5.0,
		BasicMinVolume:   10000,
		FullMinVolume:    20000,
		BasicUniverseCap: 200,
		BasicChunk:       50,
		FullChunk:        200,
		DeepCap:          300,
		DeepDays:         130,
		ScreenDays:       5,
	}
}

// Request describes one scan invocation
type Request struct {
	Mode     model.ScanMode
	Limit    int
	Offset   int
	Universe symbols.Universe
	Tickers  []string // overrides Universe when set
}

// Scanner performs chunked screening and parallel deep analysis
type Scanner struct {
	provider     provider.Provider
	universe     Universe
	analyzer     *analyzer.Analyzer
	session      ProgressSource
	pool         *workerpool.Pool
	cfg          Config
	progressFunc ProgressCallback
	log          zerolog.Logger
}

// NewScanner creates a new scanner
func NewScanner(p provider.Provider, u Universe, a *analyzer.Analyzer, session ProgressSource, cfg Config) *Scanner {
	if a == nil {
		a = analyzer.New()
	}
	return &Scanner{
		provider: p,
		universe: u,
		analyzer: a,
		session:  session,
		pool:     workerpool.New(cfg.Workers),
		cfg:      cfg,
		log:      log.With().Str("component", "scanner").Logger(),
	}
}

// SetProgressCallback sets the progress callback function
func (s *Scanner) SetProgressCallback(fn ProgressCallback) {
	s.progressFunc = fn
}

// Config returns the scanner thresholds
func (s *Scanner) Config() Config {
	return s.cfg
}

type progressKey struct{}

// WithProgress attaches a per-invocation progress callback to ctx. It is
// called in addition to the scanner-wide one.
func WithProgress(ctx context.Context, fn ProgressCallback) context.Context {
	return context.WithValue(ctx, progressKey{}, fn)
}

func (s *Scanner) progress(ctx context.Context, phase Phase, done, total int) {
	if s.progressFunc != nil {
		s.progressFunc(phase, done, total)
	}
	if fn, ok := ctx.Value(progressKey{}).(ProgressCallback); ok && fn != nil {
		fn(phase, done, total)
	}
}

// Scan dispatches on req.Mode. An error means the scan could not run; an
// empty result is not an error.
func (s *Scanner) Scan(ctx context.Context, req Request) (*model.ScanResult, error) {
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	tickers := req.Tickers
	if len(tickers) == 0 {
		var err error
		tickers, err = s.universe.Resolve(ctx, req.Universe)
		if err != nil {
			return nil, fmt.Errorf("resolving universe: %w", err)
		}
	}

	switch req.Mode {
	case model.ModeBasic, "":
		return s.Basic(ctx, tickers, req.Limit)
	case model.ModeFull:
		return s.Full(ctx, tickers, req.Limit)
	case model.ModeBatch:
		return s.Batch(ctx, tickers, req.Offset, req.Limit)
	default:
		return nil, fmt.Errorf("unknown scan mode %q", req.Mode)
	}
}

// Basic screens the head of the universe for cheap, liquid names and returns
// raw quotes ranked by volume. No analysis runs.
func (s *Scanner) Basic(ctx context.Context, tickers []string, limit int) (*model.ScanResult, error) {
	start := time.Now()
	if s.cfg.BasicUniverseCap > 0 && len(tickers) > s.cfg.BasicUniverseCap {
		tickers = tickers[:s.cfg.BasicUniverseCap]
	}

	quotes, err := s.screen(ctx, s.provider, tickers, s.cfg.BasicChunk, s.cfg.ScreenDays, s.cfg.BasicMinVolume)
	if err != nil {
		return nil, err
	}
	candidates := len(quotes)
	if limit > 0 && len(quotes) > limit {
		quotes = quotes[:limit]
	}

	return &model.ScanResult{
		Mode:         model.ModeBasic,
		TotalScanned: len(tickers),
		Candidates:   candidates,
		Quotes:       quotes,
		ScanTime:     time.Since(start),
	}, nil
}

// Full screens the whole universe with the higher volume floor, then deep
// analyzes the top min(limit, DeepCap) candidates.
func (s *Scanner) Full(ctx context.Context, tickers []string, limit int) (*model.ScanResult, error) {
	start := time.Now()
	p, screenDays := s.scanProvider(len(tickers))

	quotes, err := s.screen(ctx, p, tickers, s.cfg.FullChunk, screenDays, s.cfg.FullMinVolume)
	if err != nil {
		return nil, err
	}

	n := len(quotes)
	if s.cfg.DeepCap > 0 && n > s.cfg.DeepCap {
		n = s.cfg.DeepCap
	}
	if limit > 0 && n > limit {
		n = limit
	}
	targets := make([]string, n)
	for i := range targets {
		targets[i] = quotes[i].Ticker
	}

	results, err := s.deep(ctx, p, targets)
	if err != nil {
		return nil, err
	}

	return &model.ScanResult{
		Mode:         model.ModeFull,
		TotalScanned: len(tickers),
		Candidates:   len(quotes),
		Results:      results,
		ScanTime:     time.Since(start),
	}, nil
}

// Batch runs the full pipeline over tickers[offset:offset+limit] so a client
// can page through a fixed-order universe.
func (s *Scanner) Batch(ctx context.Context, tickers []string, offset, limit int) (*model.ScanResult, error) {
	start := time.Now()
	if offset < 0 {
		offset = 0
	}
	if offset > len(tickers) {
		offset = len(tickers)
	}
	end := len(tickers)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	page := tickers[offset:end]

	p, screenDays := s.scanProvider(len(page))
	quotes, err := s.screen(ctx, p, page, s.cfg.FullChunk, screenDays, s.cfg.FullMinVolume)
	if err != nil {
		return nil, err
	}

	targets := make([]string, len(quotes))
	for i, q := range quotes {
		targets[i] = q.Ticker
	}
	results, err := s.deep(ctx, p, targets)
	if err != nil {
		return nil, err
	}

	return &model.ScanResult{
		Mode:         model.ModeBatch,
		TotalScanned: len(page),
		Candidates:   len(quotes),
		Results:      results,
		NextOffset:   end,
		HasMore:      end < len(tickers),
		ScanTime:     time.Since(start),
	}, nil
}

// Analyze deep analyzes one ticker. A nil result with a nil error means
// insufficient data.
func (s *Scanner) Analyze(ctx context.Context, ticker string) (*model.AnalysisResult, error) {
	candles, err := s.provider.GetDailyCandles(ctx, ticker, s.cfg.DeepDays)
	if err != nil {
		if errors.Is(err, provider.ErrNoData) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetching %s: %w", ticker, err)
	}
	f := s.fundamentals(ctx, s.provider, ticker)
	return s.analyzer.Analyze(ticker, candles, f, s.marketProgress()), nil
}

// scanProvider returns the provider for one scan invocation. Small scans
// fetch the deep window during the screen through an in-memory memo, so the
// deep phase costs no extra round trip.
func (s *Scanner) scanProvider(n int) (provider.Provider, int) {
	if n > 0 && n <= s.cfg.DeepCap {
		return provider.NewCachingProvider(s.provider, s.cfg.DeepDays), s.cfg.DeepDays
	}
	return s.provider, s.cfg.ScreenDays
}

func (s *Scanner) marketProgress() float64 {
	if s.session == nil {
		return 1
	}
	return s.session.Progress()
}

// screen fetches candles chunk by chunk and keeps tickers whose last bar is
// under MaxPrice and over minVolume, ranked by volume descending. Failed
// chunks are skipped; only a cancelled context fails the screen.
func (s *Scanner) screen(ctx context.Context, p provider.Provider, tickers []string, chunk, days int, minVolume int64) ([]model.Quote, error) {
	if chunk <= 0 {
		chunk = len(tickers)
	}

	var quotes []model.Quote
	for i := 0; i < len(tickers); i += chunk {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		end := i + chunk
		if end > len(tickers) {
			end = len(tickers)
		}
		batch := tickers[i:end]

		data, err := p.GetDailyCandlesBatch(ctx, batch, days)
		if err != nil {
			s.log.Warn().Err(err).Int("offset", i).Int("size", len(batch)).Msg("screen chunk failed")
		}

		for _, ticker := range batch {
			candles := data[ticker]
			if len(candles) == 0 {
				continue
			}
			latest := candles[len(candles)-1]
			if latest.Close <= 0 || latest.Close >= s.cfg.MaxPrice || latest.Volume <= minVolume {
				continue
			}
			quotes = append(quotes, model.Quote{
				Ticker: ticker,
				Price:  model.Round(latest.Close, 4),
				Volume: latest.Volume,
				High:   model.Round(latest.High, 4),
				Low:    model.Round(latest.Low, 4),
			})
		}
		s.progress(ctx, PhaseScreen, end, len(tickers))
	}

	if quotes == nil {
		quotes = []model.Quote{}
	}
	sort.SliceStable(quotes, func(i, j int) bool {
		return quotes[i].Volume > quotes[j].Volume
	})
	return quotes, nil
}

// Analysis pairs a result with the fundamentals it was scored on
type Analysis struct {
	Result       model.AnalysisResult
	Fundamentals model.Fundamentals
}

// DeepAnalyze runs the deep phase over tickers without screening and
// returns the surviving analyses in input order.
func (s *Scanner) DeepAnalyze(ctx context.Context, tickers []string) ([]Analysis, error) {
	p, _ := s.scanProvider(len(tickers))
	return s.analyzeAll(ctx, p, tickers)
}

// deep analyzes targets and ranks the results
func (s *Scanner) deep(ctx context.Context, p provider.Provider, targets []string) ([]model.AnalysisResult, error) {
	analyses, err := s.analyzeAll(ctx, p, targets)
	if err != nil {
		return nil, err
	}
	results := make([]model.AnalysisResult, len(analyses))
	for i, a := range analyses {
		results[i] = a.Result
	}
	SortResults(results)
	return results, nil
}

// analyzeAll fetches the long window per chunk and analyzes each ticker on
// the pool. Every call shares one market progress snapshot.
func (s *Scanner) analyzeAll(ctx context.Context, p provider.Provider, targets []string) ([]Analysis, error) {
	if len(targets) == 0 {
		return []Analysis{}, nil
	}

	progress := s.marketProgress()
	series := make(map[string][]model.Candle, len(targets))
	chunk := s.cfg.FullChunk
	if chunk <= 0 {
		chunk = len(targets)
	}
	for i := 0; i < len(targets); i += chunk {
		end := i + chunk
		if end > len(targets) {
			end = len(targets)
		}
		data, err := p.GetDailyCandlesBatch(ctx, targets[i:end], s.cfg.DeepDays)
		if err != nil {
			s.log.Warn().Err(err).Int("offset", i).Msg("deep chunk failed")
		}
		for k, v := range data {
			series[k] = v
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	var done int64
	return workerpool.Map(ctx, s.pool, len(targets), func(ctx context.Context, i int) (Analysis, bool) {
		defer func() {
			s.progress(ctx, PhaseAnalyze, int(atomic.AddInt64(&done, 1)), len(targets))
		}()
		ticker := targets[i]
		candles := series[ticker]
		if len(candles) < analyzer.MinBars {
			s.log.Debug().Str("ticker", ticker).Int("bars", len(candles)).Msg("dropped: insufficient history")
			return Analysis{}, false
		}
		f := s.fundamentals(ctx, p, ticker)
		res := s.analyzer.Analyze(ticker, candles, f, progress)
		if res == nil {
			return Analysis{}, false
		}
		return Analysis{Result: *res, Fundamentals: f}, true
	})
}

// fundamentals never fails; a missing record yields empty fundamentals.
// Sector and industry the provider left unknown come from the universe listing.
func (s *Scanner) fundamentals(ctx context.Context, p provider.Provider, ticker string) model.Fundamentals {
	f, err := p.GetFundamentals(ctx, ticker)
	if err != nil {
		s.log.Debug().Err(err).Str("ticker", ticker).Msg("fundamentals unavailable")
		f = model.EmptyFundamentals()
	}
	f = f.Normalize()
	if f.Sector != model.UnknownLabel && f.Industry != model.UnknownLabel {
		return f
	}
	if s.universe == nil {
		return f
	}
	if meta, ok := s.universe.Metadata(ctx, ticker); ok {
		if f.Sector == model.UnknownLabel {
			f.Sector = meta.Sector
		}
		if f.Industry == model.UnknownLabel {
			f.Industry = meta.Industry
		}
	}
	return f
}

// SortResults orders profitable names first, then by upside descending
func SortResults(results []model.AnalysisResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].IsProfitable != results[j].IsProfitable {
			return results[i].IsProfitable
		}
		return results[i].Upside > results[j].Upside
	})
}
