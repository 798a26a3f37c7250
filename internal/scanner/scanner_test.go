package scanner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/guregu/null/v6"

	"manin/internal/symbols"
	"manin/pkg/model"
)

type fakeProvider struct {
	mu           sync.Mutex
	series       map[string][]model.Candle
	fundamentals map[string]model.Fundamentals
	failBatch    map[string]bool // first symbol of a chunk that fails
	batchCalls   int
	fundCalls    int
}

func (f *fakeProvider) Name() string      { return "fake" }
func (f *fakeProvider) IsAvailable() bool { return true }
func (f *fakeProvider) RateLimit() int    { return 0 }

func (f *fakeProvider) GetDailyCandles(ctx context.Context, symbol string, days int) ([]model.Candle, error) {
	c, ok := f.series[symbol]
	if !ok {
		return nil, errors.New("no data")
	}
	return tail(c, days), nil
}

func (f *fakeProvider) GetDailyCandlesBatch(ctx context.Context, syms []string, days int) (map[string][]model.Candle, error) {
	f.mu.Lock()
	f.batchCalls++
	f.mu.Unlock()
	if len(syms) > 0 && f.failBatch[syms[0]] {
		return nil, errors.New("chunk failed")
	}
	out := make(map[string][]model.Candle)
	for _, s := range syms {
		if c, ok := f.series[s]; ok {
			out[s] = tail(c, days)
		}
	}
	return out, nil
}

func (f *fakeProvider) GetFundamentals(ctx context.Context, symbol string) (model.Fundamentals, error) {
	f.mu.Lock()
	f.fundCalls++
	f.mu.Unlock()
	if fd, ok := f.fundamentals[symbol]; ok {
		return fd, nil
	}
	return model.Fundamentals{}, errors.New("no fundamentals")
}

func (f *fakeProvider) GetNews(ctx context.Context, symbol string, limit int) ([]model.Headline, error) {
	return nil, nil
}

func (f *fakeProvider) GetSymbols(ctx context.Context, exchange string) ([]model.Stock, error) {
	return nil, nil
}

func tail(c []model.Candle, days int) []model.Candle {
	if days > 0 && len(c) > days {
		return c[len(c)-days:]
	}
	return c
}

// flat builds n identical bars ending on 2026-10-15
func flat(n int, price float64, volume int64) []model.Candle {
	start := time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -(n - 1))
	out := make([]model.Candle, n)
	for i := range out {
		out[i] = model.Candle{
			Time:   start.AddDate(0, 0, i),
			Open:   price,
			High:   price,
			Low:    price,
			Close:  price,
			Volume: volume,
		}
	}
	return out
}

type staticUniverse struct {
	tickers []string
	meta    map[string]symbols.Meta
	err     error
}

func (u staticUniverse) Resolve(ctx context.Context, _ symbols.Universe) ([]string, error) {
	return u.tickers, u.err
}

func (u staticUniverse) Metadata(ctx context.Context, ticker string) (symbols.Meta, bool) {
	m, ok := u.meta[ticker]
	return m, ok
}

type countingSession struct {
	mu    sync.Mutex
	calls int
	value float64
}

func (c *countingSession) Progress() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return c.value
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Workers = 4
	cfg.Timeout = 0
	return cfg
}

func testProvider() *fakeProvider {
	margin := func(v float64) model.Fundamentals {
		return model.Fundamentals{ProfitMargin: null.FloatFrom(v)}
	}
	return &fakeProvider{
		series: map[string][]model.Candle{
			"AAA":  flat(40, 1.00, 50000),
			"BBB":  flat(40, 2.00, 90000),
			"CCC":  flat(40, 3.00, 30000),
			"LOWV": flat(40, 1.50, 15000),
			"DEAD": flat(40, 0.50, 5000),
			"BIG":  flat(40, 25.0, 900000),
			"NEW":  flat(10, 1.20, 70000),
		},
		fundamentals: map[string]model.Fundamentals{
			"AAA": margin(0.10),
			"BBB": margin(-0.20),
		},
	}
}

var testTickers = []string{"AAA", "BBB", "CCC", "LOWV", "DEAD", "BIG", "NEW", "GONE"}

func TestBasicScan(t *testing.T) {
	p := testProvider()
	s := NewScanner(p, staticUniverse{tickers: testTickers}, nil, nil, testConfig())

	res, err := s.Scan(context.Background(), Request{Mode: model.ModeBasic, Limit: 50})
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}

	want := []string{"BBB", "NEW", "AAA", "CCC", "LOWV"}
	if len(res.Quotes) != len(want) {
		t.Fatalf("Expected %d quotes, got %d: %+v", len(want), len(res.Quotes), res.Quotes)
	}
	for i, q := range res.Quotes {
		if q.Ticker != want[i] {
			t.Errorf("Expected quote %d to be %s, got %s", i, want[i], q.Ticker)
		}
	}
	if res.Results != nil {
		t.Errorf("Expected no analysis in basic mode, got %d results", len(res.Results))
	}
	if res.TotalScanned != len(testTickers) || res.Candidates != 5 {
		t.Errorf("Expected scanned=%d candidates=5, got %d/%d", len(testTickers), res.TotalScanned, res.Candidates)
	}
	if p.fundCalls != 0 {
		t.Errorf("Expected no fundamentals fetches in basic mode, got %d", p.fundCalls)
	}
}

func TestBasicScanLimitAndCap(t *testing.T) {
	cfg := testConfig()
	cfg.BasicUniverseCap = 3
	cfg.BasicChunk = 2
	p := testProvider()
	s := NewScanner(p, staticUniverse{tickers: testTickers}, nil, nil, cfg)

	res, err := s.Basic(context.Background(), testTickers, 2)
	if err != nil {
		t.Fatalf("Basic failed: %v", err)
	}
	if res.TotalScanned != 3 {
		t.Errorf("Expected universe capped at 3, got %d", res.TotalScanned)
	}
	if len(res.Quotes) != 2 || res.Quotes[0].Ticker != "BBB" || res.Quotes[1].Ticker != "AAA" {
		t.Errorf("Expected [BBB AAA], got %+v", res.Quotes)
	}
	if p.batchCalls != 2 {
		t.Errorf("Expected 2 chunked fetches, got %d", p.batchCalls)
	}
}

func TestFullScan(t *testing.T) {
	session := &countingSession{value: 0.5}
	p := testProvider()
	s := NewScanner(p, staticUniverse{tickers: testTickers}, nil, session, testConfig())

	res, err := s.Scan(context.Background(), Request{Mode: model.ModeFull, Limit: 100})
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}

	// LOWV is below the 20k floor; NEW is too short for analysis
	want := []string{"AAA", "BBB", "CCC"}
	if len(res.Results) != len(want) {
		t.Fatalf("Expected %d results, got %d", len(want), len(res.Results))
	}
	for i, r := range res.Results {
		if r.Ticker != want[i] {
			t.Errorf("Expected result %d to be %s, got %s", i, want[i], r.Ticker)
		}
	}
	if !res.Results[0].IsProfitable {
		t.Error("Expected the profitable ticker first")
	}
	if res.Results[2].Sector != model.UnknownLabel {
		t.Errorf("Expected missing fundamentals to default, got sector %q", res.Results[2].Sector)
	}
	if session.calls != 1 {
		t.Errorf("Expected one market progress snapshot per scan, got %d", session.calls)
	}
	if res.Candidates != 4 {
		t.Errorf("Expected 4 screen candidates, got %d", res.Candidates)
	}
}

func TestFullScanLargeUniverse(t *testing.T) {
	cfg := testConfig()
	cfg.DeepCap = 2
	p := testProvider()
	s := NewScanner(p, staticUniverse{tickers: testTickers}, nil, nil, cfg)

	res, err := s.Full(context.Background(), testTickers, 100)
	if err != nil {
		t.Fatalf("Full failed: %v", err)
	}
	// deep targets are the top 2 by volume: BBB and NEW; NEW is too short
	if len(res.Results) != 1 || res.Results[0].Ticker != "BBB" {
		t.Errorf("Expected only BBB analyzed, got %+v", res.Results)
	}
	if p.batchCalls != 2 {
		t.Errorf("Expected a screen fetch and a deep fetch, got %d", p.batchCalls)
	}
}

func TestFullScanLimit(t *testing.T) {
	s := NewScanner(testProvider(), staticUniverse{tickers: testTickers}, nil, nil, testConfig())

	res, err := s.Full(context.Background(), testTickers, 1)
	if err != nil {
		t.Fatalf("Full failed: %v", err)
	}
	if len(res.Results) != 1 || res.Results[0].Ticker != "BBB" {
		t.Errorf("Expected only the top-volume candidate, got %+v", res.Results)
	}
}

func TestBatchScan(t *testing.T) {
	s := NewScanner(testProvider(), staticUniverse{tickers: testTickers}, nil, nil, testConfig())
	ctx := context.Background()

	tests := []struct {
		offset, limit int
		scanned       int
		next          int
		more          bool
		tickers       []string
	}{
		{0, 3, 3, 3, true, []string{"AAA", "BBB", "CCC"}},
		{3, 3, 3, 6, true, []string{}},
		{6, 3, 2, 8, false, []string{}},
		{20, 3, 0, 8, false, []string{}},
	}

	for _, tt := range tests {
		res, err := s.Scan(ctx, Request{Mode: model.ModeBatch, Offset: tt.offset, Limit: tt.limit})
		if err != nil {
			t.Fatalf("offset %d: Scan failed: %v", tt.offset, err)
		}
		if res.TotalScanned != tt.scanned || res.NextOffset != tt.next || res.HasMore != tt.more {
			t.Errorf("offset %d: expected scanned=%d next=%d more=%v, got %d/%d/%v",
				tt.offset, tt.scanned, tt.next, tt.more, res.TotalScanned, res.NextOffset, res.HasMore)
		}
		if len(res.Results) != len(tt.tickers) {
			t.Errorf("offset %d: expected %v, got %d results", tt.offset, tt.tickers, len(res.Results))
			continue
		}
		for i, r := range res.Results {
			if r.Ticker != tt.tickers[i] {
				t.Errorf("offset %d: expected %s at %d, got %s", tt.offset, tt.tickers[i], i, r.Ticker)
			}
		}
	}
}

func TestBatchScanSingleFetchPerPage(t *testing.T) {
	p := testProvider()
	s := NewScanner(p, staticUniverse{tickers: testTickers}, nil, nil, testConfig())

	if _, err := s.Batch(context.Background(), testTickers, 0, 3); err != nil {
		t.Fatalf("Batch failed: %v", err)
	}
	if p.batchCalls != 1 {
		t.Errorf("Expected the deep phase served from the page fetch, got %d fetches", p.batchCalls)
	}
}

func TestScanChunkFailureSkipped(t *testing.T) {
	cfg := testConfig()
	cfg.BasicChunk = 2
	p := testProvider()
	p.failBatch = map[string]bool{"AAA": true}
	s := NewScanner(p, staticUniverse{tickers: testTickers}, nil, nil, cfg)

	res, err := s.Basic(context.Background(), testTickers, 50)
	if err != nil {
		t.Fatalf("Expected a failed chunk to be skipped, got %v", err)
	}
	for _, q := range res.Quotes {
		if q.Ticker == "AAA" || q.Ticker == "BBB" {
			t.Errorf("Expected tickers of the failed chunk dropped, got %s", q.Ticker)
		}
	}
	if len(res.Quotes) != 3 {
		t.Errorf("Expected 3 quotes from surviving chunks, got %d", len(res.Quotes))
	}
}

func TestScanErrors(t *testing.T) {
	tests := []struct {
		name     string
		universe staticUniverse
		req      Request
		wantErr  bool
		wantLen  int
	}{
		{"universe unavailable", staticUniverse{err: errors.New("down")}, Request{Mode: model.ModeFull}, true, 0},
		{"unknown mode", staticUniverse{tickers: testTickers}, Request{Mode: "turbo"}, true, 0},
		{"no survivors", staticUniverse{tickers: []string{"BIG", "GONE"}}, Request{Mode: model.ModeFull}, false, 0},
		{"explicit tickers", staticUniverse{err: errors.New("down")}, Request{Mode: model.ModeFull, Tickers: []string{"AAA"}}, false, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewScanner(testProvider(), tt.universe, nil, nil, testConfig())
			res, err := s.Scan(context.Background(), tt.req)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Expected err=%v, got %v", tt.wantErr, err)
			}
			if err != nil {
				return
			}
			if res.Results == nil {
				t.Error("Expected an empty slice, got nil")
			}
			if len(res.Results) != tt.wantLen {
				t.Errorf("Expected %d results, got %d", tt.wantLen, len(res.Results))
			}
		})
	}
}

func TestScanProgress(t *testing.T) {
	var mu sync.Mutex
	last := map[Phase][2]int{}
	s := NewScanner(testProvider(), staticUniverse{tickers: testTickers}, nil, nil, testConfig())
	s.SetProgressCallback(func(phase Phase, done, total int) {
		mu.Lock()
		defer mu.Unlock()
		if done > last[phase][0] {
			last[phase] = [2]int{done, total}
		}
	})

	if _, err := s.Full(context.Background(), testTickers, 100); err != nil {
		t.Fatalf("Full failed: %v", err)
	}
	if got := last[PhaseScreen]; got[0] != len(testTickers) || got[1] != len(testTickers) {
		t.Errorf("Expected screen progress %d/%d, got %v", len(testTickers), len(testTickers), got)
	}
	if got := last[PhaseAnalyze]; got[0] != 4 || got[1] != 4 {
		t.Errorf("Expected analyze progress 4/4, got %v", got)
	}
}

func TestAnalyze(t *testing.T) {
	s := NewScanner(testProvider(), staticUniverse{}, nil, &countingSession{value: 1}, testConfig())
	ctx := context.Background()

	res, err := s.Analyze(ctx, "AAA")
	if err != nil || res == nil {
		t.Fatalf("Expected a result, got %v / %v", res, err)
	}
	if !res.IsProfitable || res.Margin != 10 {
		t.Errorf("Expected profitable at 10%%, got %v / %.1f", res.IsProfitable, res.Margin)
	}

	res, err = s.Analyze(ctx, "NEW")
	if err != nil || res != nil {
		t.Errorf("Expected nil for a short series, got %v / %v", res, err)
	}
}

func TestSortResults(t *testing.T) {
	results := []model.AnalysisResult{
		{Ticker: "A", IsProfitable: false, Upside: 50},
		{Ticker: "B", IsProfitable: true, Upside: -5},
		{Ticker: "C", IsProfitable: true, Upside: 10},
		{Ticker: "D", IsProfitable: false, Upside: 80},
	}
	SortResults(results)

	want := []string{"C", "B", "D", "A"}
	for i, r := range results {
		if r.Ticker != want[i] {
			t.Errorf("Expected %s at %d, got %s", want[i], i, r.Ticker)
		}
	}
}

func TestWithProgress(t *testing.T) {
	s := NewScanner(testProvider(), staticUniverse{tickers: testTickers}, nil, nil, testConfig())

	var mu sync.Mutex
	calls := 0
	ctx := WithProgress(context.Background(), func(phase Phase, done, total int) {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	if _, err := s.Scan(ctx, Request{Mode: model.ModeBasic}); err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected one screen update for a single chunk, got %d", calls)
	}

	calls = 0
	if _, err := s.Scan(context.Background(), Request{Mode: model.ModeBasic}); err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if calls != 0 {
		t.Errorf("Expected the callback scoped to its context, got %d calls", calls)
	}
}

func TestAnalyzeFillsSectorFromUniverse(t *testing.T) {
	p := testProvider()
	p.fundamentals["BBB"] = model.Fundamentals{ProfitMargin: null.FloatFrom(0.05), Sector: "Energy"}
	u := staticUniverse{meta: map[string]symbols.Meta{
		"AAA": {Sector: "Technology", Industry: "Software"},
		"BBB": {Sector: "Utilities", Industry: "Oil & Gas"},
	}}
	s := NewScanner(p, u, nil, nil, testConfig())
	ctx := context.Background()

	tests := []struct {
		ticker       string
		wantSector   string
		wantIndustry string
	}{
		{"AAA", "Technology", "Software"},
		{"BBB", "Energy", "Oil & Gas"},
		{"CCC", model.UnknownLabel, model.UnknownLabel},
	}

	for _, tt := range tests {
		res, err := s.Analyze(ctx, tt.ticker)
		if err != nil || res == nil {
			t.Fatalf("Expected a result for %s, got %v / %v", tt.ticker, res, err)
		}
		if res.Sector != tt.wantSector || res.Industry != tt.wantIndustry {
			t.Errorf("Expected %s to be %s / %s, got %s / %s",
				tt.ticker, tt.wantSector, tt.wantIndustry, res.Sector, res.Industry)
		}
	}
}
