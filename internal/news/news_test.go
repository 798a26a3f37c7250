package news

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"manin/internal/cache"
	"manin/internal/market"
	"manin/internal/scanner"
	"manin/internal/sentiment"
	"manin/pkg/model"
)

type fakeProvider struct {
	mu        sync.Mutex
	headlines map[string][]string
	bars      map[string]model.Candle
	newsCalls int
}

func (f *fakeProvider) Name() string      { return "fake" }
func (f *fakeProvider) IsAvailable() bool { return true }
func (f *fakeProvider) RateLimit() int    { return 0 }

func (f *fakeProvider) GetDailyCandles(ctx context.Context, symbol string, days int) ([]model.Candle, error) {
	bar, ok := f.bars[symbol]
	if !ok {
		return nil, errors.New("no bars")
	}
	return []model.Candle{bar}, nil
}

func (f *fakeProvider) GetDailyCandlesBatch(ctx context.Context, symbols []string, days int) (map[string][]model.Candle, error) {
	return nil, nil
}

func (f *fakeProvider) GetFundamentals(ctx context.Context, symbol string) (model.Fundamentals, error) {
	return model.EmptyFundamentals(), nil
}

func (f *fakeProvider) GetNews(ctx context.Context, symbol string, limit int) ([]model.Headline, error) {
	f.mu.Lock()
	f.newsCalls++
	f.mu.Unlock()
	titles, ok := f.headlines[symbol]
	if !ok {
		return nil, errors.New("no news")
	}
	out := make([]model.Headline, len(titles))
	for i, t := range titles {
		out[i] = model.Headline{Title: t, PublishedAt: time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)}
	}
	return out, nil
}

func (f *fakeProvider) GetSymbols(ctx context.Context, exchange string) ([]model.Stock, error) {
	return nil, nil
}

func bar(open, close float64) model.Candle {
	return model.Candle{Time: time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC), Open: open, Close: close}
}

func TestAnalyzeTickers(t *testing.T) {
	p := &fakeProvider{
		headlines: map[string][]string{
			"BULL": {"Analyst upgrade sparks rally", "Record growth"},
			"BEAR": {"Shares plunge after earnings miss", "Debt warning", "Quiet day"},
			"MILD": {"Upgrade"},
			"NONE": {},
		},
		bars: map[string]model.Candle{
			"BULL": bar(2.00, 2.50),
			"BEAR": bar(4.00, 3.00),
			"MILD": bar(1.00, 1.00),
			"NONE": bar(0, 1.234),
		},
	}
	s := NewService(p, cache.NewMemoryStore(), nil, nil, 3)

	items := s.AnalyzeTickers(context.Background(), []string{"MILD", "NONE", "BEAR", "BULL", "GONE"})
	if len(items) != 5 {
		t.Fatalf("Expected an item per ticker, got %d", len(items))
	}

	want := []struct {
		ticker string
		score  int
		label  string
	}{
		{"BULL", 4, sentiment.Bullish},
		{"BEAR", -4, sentiment.Bearish},
		{"MILD", 1, sentiment.Neutral},
		{"NONE", 0, sentiment.Neutral},
		{"GONE", 0, sentiment.Neutral},
	}
	for i, w := range want {
		if items[i].Ticker != w.ticker || items[i].SentimentScore != w.score || items[i].Sentiment != w.label {
			t.Errorf("Expected %s %d %s at %d, got %+v", w.ticker, w.score, w.label, i, items[i])
		}
	}

	bull := items[0]
	if bull.Price != 2.5 || bull.ChangePct != 25 || bull.NewsCount != 2 {
		t.Errorf("Expected BULL 2.5 +25%% with 2 headlines, got %+v", bull)
	}
	if bull.Headline != "Analyst upgrade sparks rally" {
		t.Errorf("Expected first headline, got %q", bull.Headline)
	}
	if items[3].Headline != noHeadline || items[3].Price != 1.23 || items[3].ChangePct != 0 {
		t.Errorf("Expected placeholder headline with zero change, got %+v", items[3])
	}
	if items[4].Headline != unavailable || items[4].Outlook != noOutlook {
		t.Errorf("Expected safe default for GONE, got %+v", items[4])
	}
}

func TestSortItems(t *testing.T) {
	items := []Item{
		{Ticker: "A", SentimentScore: 1},
		{Ticker: "B", SentimentScore: -3},
		{Ticker: "C", SentimentScore: 3},
		{Ticker: "D", SentimentScore: -1},
		{Ticker: "E", SentimentScore: 0},
	}
	SortItems(items)
	want := "CBADE"
	for i, it := range items {
		if it.Ticker != string(want[i]) {
			t.Errorf("Expected %c at %d, got %s", want[i], i, it.Ticker)
		}
	}
}

type fakeOverview struct {
	movers []string
	err    error
}

func (f fakeOverview) Get(ctx context.Context) (market.Overview, error) {
	ov := market.Overview{}
	for _, m := range f.movers {
		ov.TopMovers = append(ov.TopMovers, market.Mover{Ticker: m})
	}
	return ov, f.err
}

type fakeScans struct {
	tickers []string
	limit   int
}

func (f *fakeScans) Scan(ctx context.Context, req scanner.Request) (*model.ScanResult, error) {
	f.limit = req.Limit
	res := &model.ScanResult{Mode: req.Mode}
	for _, t := range f.tickers {
		res.Quotes = append(res.Quotes, model.Quote{Ticker: t})
	}
	return res, nil
}

func TestIntelligence(t *testing.T) {
	p := &fakeProvider{headlines: map[string][]string{}, bars: map[string]model.Candle{}}
	var movers, pennies []string
	for i := 0; i < 10; i++ {
		movers = append(movers, fmt.Sprintf("MOV%d", i))
		p.headlines[movers[i]] = []string{"Upgrade"}
	}
	pennies = append(pennies, "MOV0", "MOV1")
	for i := 0; i < 10; i++ {
		pennies = append(pennies, fmt.Sprintf("PEN%d", i))
	}
	p.headlines["PEN0"] = []string{"Record surge", "Strong rally"}

	scans := &fakeScans{tickers: pennies}
	s := NewService(p, cache.NewMemoryStore(), fakeOverview{movers: movers}, scans, 4)
	ctx := context.Background()

	items, err := s.Intelligence(ctx)
	if err != nil {
		t.Fatalf("Intelligence failed: %v", err)
	}
	if scans.limit != PennyMovers {
		t.Errorf("Expected basic screen limit %d, got %d", PennyMovers, scans.limit)
	}
	if len(items) != FeedSize {
		t.Fatalf("Expected %d items, got %d", FeedSize, len(items))
	}
	if items[0].Ticker != "PEN0" {
		t.Errorf("Expected strongest sentiment first, got %s", items[0].Ticker)
	}
	if p.newsCalls != MaxHotTickers {
		t.Errorf("Expected %d deduped candidates, got %d news fetches", MaxHotTickers, p.newsCalls)
	}

	if _, err := s.Intelligence(ctx); err != nil {
		t.Fatalf("Intelligence failed: %v", err)
	}
	if p.newsCalls != MaxHotTickers {
		t.Errorf("Expected cached feed on second call, got %d news fetches", p.newsCalls)
	}
}

func TestHotTickersSurviveOverviewFailure(t *testing.T) {
	s := NewService(&fakeProvider{}, cache.NewMemoryStore(),
		fakeOverview{err: errors.New("down")}, &fakeScans{tickers: []string{"SNDL", "NOK"}}, 1)

	got := s.hotTickers(context.Background())
	if len(got) != 2 || got[0] != "SNDL" {
		t.Errorf("Expected penny tickers only, got %v", got)
	}
}
