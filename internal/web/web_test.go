package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"manin/internal/analyzer"
	"manin/internal/auth"
	"manin/internal/cache"
	"manin/internal/market"
	"manin/internal/moonshot"
	"manin/internal/news"
	"manin/internal/scanner"
	"manin/internal/symbols"
	"manin/pkg/model"
)

const testSecret = "test-secret"

type fakeScanner struct {
	mu       sync.Mutex
	reqs     []scanner.Request
	universe []string
	quotes   []model.Quote
	results  []model.AnalysisResult
	analysis map[string]*model.AnalysisResult
	err      error
	block    chan struct{}
}

func (f *fakeScanner) Scan(ctx context.Context, req scanner.Request) (*model.ScanResult, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()

	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}

	res := &model.ScanResult{Mode: req.Mode, TotalScanned: len(f.universe)}
	switch req.Mode {
	case model.ModeBasic:
		res.Quotes = f.quotes
	case model.ModeFull:
		res.Results = f.results
	case model.ModeBatch:
		start := min(req.Offset, len(f.universe))
		end := min(start+req.Limit, len(f.universe))
		for _, t := range f.universe[start:end] {
			res.Results = append(res.Results, model.AnalysisResult{Ticker: t})
		}
		res.NextOffset = end
		res.HasMore = end < len(f.universe)
	}
	return res, nil
}

func (f *fakeScanner) Analyze(ctx context.Context, ticker string) (*model.AnalysisResult, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, scanner.Request{Tickers: []string{ticker}})
	f.mu.Unlock()
	return f.analysis[ticker], nil
}

func (f *fakeScanner) requests() []scanner.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]scanner.Request(nil), f.reqs...)
}

type fakeOverview struct{}

func (fakeOverview) Get(ctx context.Context) (market.Overview, error) {
	return market.Overview{Indices: []market.IndexQuote{{Name: "S&P 500", Symbol: "^GSPC", Price: 5000}}}, nil
}

type fakeMoonshots struct{}

func (fakeMoonshots) Top(ctx context.Context) ([]moonshot.Candidate, error) {
	return []moonshot.Candidate{{AnalysisResult: model.AnalysisResult{Ticker: "MOON"}, MoonScore: 60}}, nil
}

type fakeNews struct {
	mu  sync.Mutex
	got []string
}

func (f *fakeNews) Intelligence(ctx context.Context) ([]news.Item, error) {
	return nil, nil
}

func (f *fakeNews) AnalyzeTickers(ctx context.Context, tickers []string) []news.Item {
	f.mu.Lock()
	f.got = tickers
	f.mu.Unlock()
	out := make([]news.Item, len(tickers))
	for i, t := range tickers {
		out[i] = news.Item{Ticker: t}
	}
	return out
}

type fakeUniverse struct{}

func (fakeUniverse) Snapshot(ctx context.Context) (symbols.Snapshot, error) {
	return symbols.Snapshot{Tickers: []string{"SNDL", "NOK"}, Source: "nasdaq"}, nil
}

type fakeSession struct{}

func (fakeSession) Status() market.Status { return market.Status{IsOpen: true, Reason: "open"} }

type testEnvelope struct {
	Status string          `json:"status"`
	Count  *int            `json:"count"`
	Data   json.RawMessage `json:"data"`
	Meta   json.RawMessage `json:"meta"`
	Detail string          `json:"detail"`
}

type testEnv struct {
	srv     *Server
	handler http.Handler
	scan    *fakeScanner
	news    *fakeNews
	auth    *auth.Verifier
}

func newTestEnv(t *testing.T, scan *fakeScanner) *testEnv {
	t.Helper()
	v, err := auth.NewVerifier(auth.Config{JWTSecret: testSecret})
	if err != nil {
		t.Fatalf("NewVerifier failed: %v", err)
	}
	store := cache.NewMemoryStore()
	n := &fakeNews{}
	srv := NewServer(Deps{
		Scanner:   scan,
		Overview:  fakeOverview{},
		Moonshots: fakeMoonshots{},
		News:      n,
		Universe:  fakeUniverse{},
		Session:   fakeSession{},
		Store:     store,
		Auth:      v,
		Trials:    auth.NewTrialLedger(store),
	})
	t.Cleanup(func() { srv.Shutdown(context.Background()) })
	return &testEnv{srv: srv, handler: srv.Routes(), scan: scan, news: n, auth: v}
}

func (e *testEnv) token(t *testing.T, user string, pro bool) string {
	t.Helper()
	c := auth.Claims{Email: user + "@example.com"}
	c.Subject = user
	c.UserMetadata.IsPro = pro
	tok, err := e.auth.Sign(c, time.Hour)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	return tok
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) (int, testEnvelope) {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		rd = bytes.NewReader(raw)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)

	var env testEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("Expected JSON from %s %s, got %q", method, path, rec.Body.String())
	}
	return rec.Code, env
}

func TestHealth(t *testing.T) {
	e := newTestEnv(t, &fakeScanner{})
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)

	var resp HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode health: %v", err)
	}
	if rec.Code != http.StatusOK || resp.Status != "ok" || resp.Service != "manin-api" {
		t.Errorf("Expected healthy manin-api, got %d %+v", rec.Code, resp)
	}
	if !resp.Market.IsOpen {
		t.Error("Expected market status in health response")
	}
}

func TestPublicEndpoints(t *testing.T) {
	e := newTestEnv(t, &fakeScanner{})

	code, env := e.do(t, http.MethodGet, "/api/market/overview", "", nil)
	if code != http.StatusOK || env.Status != "ok" {
		t.Errorf("Expected overview 200 ok, got %d %s", code, env.Status)
	}

	code, env = e.do(t, http.MethodGet, "/api/meta/universe", "", nil)
	var info UniverseInfo
	json.Unmarshal(env.Data, &info)
	if code != http.StatusOK || info.Count != 2 || info.Source != "nasdaq" {
		t.Errorf("Expected 2 nasdaq tickers, got %d %+v", code, info)
	}
}

func TestAuthRequired(t *testing.T) {
	e := newTestEnv(t, &fakeScanner{})
	tests := []struct {
		path string
	}{
		{"/api/penny/basic"},
		{"/api/penny/analyze/AAA"},
		{"/api/penny/scan"},
		{"/api/penny/moonshots"},
		{"/api/news/intelligence"},
	}
	for _, tt := range tests {
		code, env := e.do(t, http.MethodGet, tt.path, "", nil)
		if code != http.StatusUnauthorized || env.Status != "error" {
			t.Errorf("%s: expected 401 error, got %d %s", tt.path, code, env.Status)
		}
	}
}

func TestBasicLimits(t *testing.T) {
	tests := []struct {
		name      string
		query     string
		wantCode  int
		wantLimit int
	}{
		{"default", "", http.StatusOK, 50},
		{"lower bound", "?limit=10", http.StatusOK, 10},
		{"upper bound", "?limit=200", http.StatusOK, 200},
		{"too small", "?limit=5", http.StatusBadRequest, 0},
		{"too large", "?limit=201", http.StatusBadRequest, 0},
		{"not a number", "?limit=abc", http.StatusBadRequest, 0},
		{"unknown universe", "?universe=mars", http.StatusBadRequest, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEnv(t, &fakeScanner{})
			code, _ := e.do(t, http.MethodGet, "/api/penny/basic"+tt.query, e.token(t, "u1", false), nil)
			if code != tt.wantCode {
				t.Fatalf("Expected %d, got %d", tt.wantCode, code)
			}
			reqs := e.scan.requests()
			if tt.wantCode != http.StatusOK {
				if len(reqs) != 0 {
					t.Errorf("Expected no scan on a bad request, got %d", len(reqs))
				}
				return
			}
			if len(reqs) != 1 || reqs[0].Limit != tt.wantLimit || reqs[0].Mode != model.ModeBasic {
				t.Errorf("Expected one basic scan with limit %d, got %+v", tt.wantLimit, reqs)
			}
		})
	}
}

func TestBasicEmptyAndCached(t *testing.T) {
	e := newTestEnv(t, &fakeScanner{})
	tok := e.token(t, "u1", false)

	code, env := e.do(t, http.MethodGet, "/api/penny/basic", tok, nil)
	if code != http.StatusOK || env.Status != "ok" {
		t.Fatalf("Expected 200 ok, got %d %s", code, env.Status)
	}
	if env.Count == nil || *env.Count != 0 || string(env.Data) != "[]" {
		t.Errorf("Expected count 0 and an empty list, got %v %s", env.Count, env.Data)
	}

	e.do(t, http.MethodGet, "/api/penny/basic", tok, nil)
	if n := len(e.scan.requests()); n != 1 {
		t.Errorf("Expected the second call served from cache, got %d scans", n)
	}

	e.do(t, http.MethodGet, "/api/penny/basic?limit=20", tok, nil)
	if n := len(e.scan.requests()); n != 2 {
		t.Errorf("Expected a new limit to miss the cache, got %d scans", n)
	}
}

func TestScanError(t *testing.T) {
	e := newTestEnv(t, &fakeScanner{err: errors.New("provider down")})
	code, env := e.do(t, http.MethodGet, "/api/penny/scan", e.token(t, "pro", true), nil)
	if code != http.StatusInternalServerError || env.Status != "error" {
		t.Errorf("Expected 500 error, got %d %s", code, env.Status)
	}
}

func TestFullScanLimits(t *testing.T) {
	e := newTestEnv(t, &fakeScanner{results: []model.AnalysisResult{{Ticker: "AAA"}}})
	tok := e.token(t, "pro", true)

	code, _ := e.do(t, http.MethodGet, "/api/penny/scan?limit=19", tok, nil)
	if code != http.StatusBadRequest {
		t.Errorf("Expected 400 below the floor, got %d", code)
	}

	code, env := e.do(t, http.MethodGet, "/api/penny/scan", tok, nil)
	if code != http.StatusOK || env.Count == nil || *env.Count != 1 {
		t.Fatalf("Expected one result, got %d %v", code, env.Count)
	}
	reqs := e.scan.requests()
	if len(reqs) != 1 || reqs[0].Limit != 100 || reqs[0].Mode != model.ModeFull {
		t.Errorf("Expected a full scan with limit 100, got %+v", reqs)
	}
}

func TestBatchScan(t *testing.T) {
	e := newTestEnv(t, &fakeScanner{universe: []string{"A", "B", "C", "D", "E"}})
	tok := e.token(t, "pro", true)

	code, env := e.do(t, http.MethodGet, "/api/penny/scan_batch?limit=2&offset=2", tok, nil)
	if code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	var meta ScanMeta
	json.Unmarshal(env.Meta, &meta)
	if *env.Count != 2 || meta.NextOffset != 4 || !meta.HasMore {
		t.Errorf("Expected 2 results with next offset 4, got %d %+v", *env.Count, meta)
	}

	for _, q := range []string{"?limit=0", "?limit=51", "?offset=-1"} {
		if code, _ := e.do(t, http.MethodGet, "/api/penny/scan_batch"+q, tok, nil); code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", q, code)
		}
	}
}

func TestAnalyzeGating(t *testing.T) {
	full := "Price is rising. Volume is heavy. RSI is neutral. Forecast is up."
	e := newTestEnv(t, &fakeScanner{analysis: map[string]*model.AnalysisResult{
		"AAA": {Ticker: "AAA", Reasoning: full},
	}})

	_, env := e.do(t, http.MethodGet, "/api/penny/analyze/aaa", e.token(t, "pro", true), nil)
	var res model.AnalysisResult
	json.Unmarshal(env.Data, &res)
	if res.Reasoning != full {
		t.Errorf("Expected full reasoning for pro, got %q", res.Reasoning)
	}

	_, env = e.do(t, http.MethodGet, "/api/penny/analyze/AAA", e.token(t, "free", false), nil)
	json.Unmarshal(env.Data, &res)
	if !strings.HasSuffix(res.Reasoning, analyzer.GateDisclosure) || strings.Contains(res.Reasoning, "Forecast") {
		t.Errorf("Expected gated reasoning for free user, got %q", res.Reasoning)
	}
	if n := len(e.scan.requests()); n != 1 {
		t.Errorf("Expected the analysis cached across users, got %d calls", n)
	}

	code, env := e.do(t, http.MethodGet, "/api/penny/analyze/ZZZ", e.token(t, "pro", true), nil)
	if code != http.StatusNotFound || env.Detail != "No data for ZZZ" {
		t.Errorf("Expected 404 No data for ZZZ, got %d %q", code, env.Detail)
	}
}

func TestProTrial(t *testing.T) {
	e := newTestEnv(t, &fakeScanner{})
	free := e.token(t, "free", false)

	code, env := e.do(t, http.MethodGet, "/api/penny/moonshots", free, nil)
	if code != http.StatusOK || *env.Count != 1 {
		t.Fatalf("Expected the trial request to pass, got %d", code)
	}
	code, env = e.do(t, http.MethodGet, "/api/penny/moonshots", free, nil)
	if code != http.StatusForbidden || env.Detail != auth.MsgTrialExpired {
		t.Errorf("Expected 403 after the trial, got %d %q", code, env.Detail)
	}
	code, _ = e.do(t, http.MethodGet, "/api/penny/moonshots", e.token(t, "pro", true), nil)
	if code != http.StatusOK {
		t.Errorf("Expected pro access, got %d", code)
	}
}

func TestNewsAnalyze(t *testing.T) {
	e := newTestEnv(t, &fakeScanner{})
	tok := e.token(t, "pro", true)

	many := make([]string, MaxNewsTickers+1)
	for i := range many {
		many[i] = fmt.Sprintf("T%02d", i)
	}

	tests := []struct {
		name     string
		body     any
		wantCode int
	}{
		{"empty", NewsRequest{}, http.StatusBadRequest},
		{"too many", NewsRequest{Tickers: many}, http.StatusBadRequest},
		{"bad body", "nope", http.StatusBadRequest},
		{"ok", NewsRequest{Tickers: []string{" aaa", "BBB", "AAA"}}, http.StatusOK},
	}
	for _, tt := range tests {
		code, _ := e.do(t, http.MethodPost, "/api/news/analyze", tok, tt.body)
		if code != tt.wantCode {
			t.Errorf("%s: expected %d, got %d", tt.name, tt.wantCode, code)
		}
	}

	if got := strings.Join(e.news.got, ","); got != "AAA,BBB" {
		t.Errorf("Expected normalized tickers AAA,BBB, got %s", got)
	}

	code, env := e.do(t, http.MethodGet, "/api/news/intelligence", tok, nil)
	if code != http.StatusOK || *env.Count != 0 || string(env.Data) != "[]" {
		t.Errorf("Expected an empty feed, got %d %s", code, env.Data)
	}
}

func TestScanJobs(t *testing.T) {
	block := make(chan struct{})
	e := newTestEnv(t, &fakeScanner{block: block, results: []model.AnalysisResult{{Ticker: "AAA"}}})
	owner := e.token(t, "owner", true)

	code, env := e.do(t, http.MethodPost, "/api/penny/jobs", owner, JobRequest{Limit: 20})
	if code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d %s", code, env.Detail)
	}
	var job Job
	json.Unmarshal(env.Data, &job)
	if job.ID == "" || job.Status != JobRunning || job.Mode != model.ModeFull {
		t.Fatalf("Expected a running full job, got %+v", job)
	}

	if code, _ := e.do(t, http.MethodPost, "/api/penny/jobs", owner, nil); code != http.StatusConflict {
		t.Errorf("Expected 409 while a job runs, got %d", code)
	}
	if code, _ := e.do(t, http.MethodGet, "/api/penny/jobs/"+job.ID, e.token(t, "other", true), nil); code != http.StatusNotFound {
		t.Errorf("Expected another user to get 404, got %d", code)
	}

	close(block)
	deadline := time.Now().Add(2 * time.Second)
	for {
		_, env = e.do(t, http.MethodGet, "/api/penny/jobs/"+job.ID, owner, nil)
		json.Unmarshal(env.Data, &job)
		if job.Status != JobRunning || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if job.Status != JobDone || job.Result == nil || len(job.Result.Results) != 1 || !job.FinishedAt.Valid {
		t.Errorf("Expected a finished job with one result, got %+v", job)
	}
}

func TestStartJobValidation(t *testing.T) {
	e := newTestEnv(t, &fakeScanner{})
	tok := e.token(t, "pro", true)
	tests := []JobRequest{
		{Mode: "turbo"},
		{Mode: model.ModeBasic, Limit: 5},
		{Universe: "mars"},
		{Mode: model.ModeBatch, Offset: -1},
	}
	for _, tt := range tests {
		if code, _ := e.do(t, http.MethodPost, "/api/penny/jobs", tok, tt); code != http.StatusBadRequest {
			t.Errorf("%+v: expected 400, got %d", tt, code)
		}
	}
}

func TestScanStream(t *testing.T) {
	universe := make([]string, 25)
	for i := range universe {
		universe[i] = fmt.Sprintf("T%02d", i)
	}
	e := newTestEnv(t, &fakeScanner{universe: universe})
	ts := httptest.NewServer(e.handler)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/penny/scan/stream?limit=10&token=" + e.token(t, "pro", true)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	var got []int
	for {
		var msg StreamMessage
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("ReadJSON failed: %v", err)
		}
		if msg.Type == "done" {
			break
		}
		if msg.Type != "page" {
			t.Fatalf("Expected a page, got %+v", msg)
		}
		got = append(got, len(msg.Data.Results))
	}

	if fmt.Sprint(got) != "[10 10 5]" {
		t.Errorf("Expected pages of [10 10 5], got %v", got)
	}
	var offsets []int
	for _, r := range e.scan.requests() {
		offsets = append(offsets, r.Offset)
	}
	if fmt.Sprint(offsets) != "[0 10 20]" {
		t.Errorf("Expected offsets [0 10 20], got %v", offsets)
	}
}

func TestCORSPreflight(t *testing.T) {
	e := newTestEnv(t, &fakeScanner{})
	req := httptest.NewRequest(http.MethodOptions, "/api/penny/scan", nil)
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200 for preflight, got %d", rec.Code)
	}
	if !strings.Contains(rec.Header().Get("Access-Control-Allow-Headers"), "Authorization") {
		t.Errorf("Expected Authorization allowed, got %q", rec.Header().Get("Access-Control-Allow-Headers"))
	}
}
