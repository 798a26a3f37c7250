package web

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"manin/internal/analyzer"
	"manin/internal/auth"
	"manin/internal/cache"
	"manin/internal/market"
	"manin/internal/news"
	"manin/internal/scanner"
	"manin/internal/symbols"
	"manin/pkg/model"
)

// Query limits per endpoint
const (
	BasicMinLimit, BasicMaxLimit, BasicDefaultLimit = 10, 200, 50
	FullMinLimit, FullMaxLimit, FullDefaultLimit    = 20, 500, 100
	BatchMinLimit, BatchMaxLimit, BatchDefaultLimit = 1, 50, 10
	MaxNewsTickers                                  = 20
)

// Result cache lifetimes
const (
	TTLBasicScan = 15 * time.Minute
	TTLFullScan  = 30 * time.Minute
	TTLAnalyze   = 15 * time.Minute
)

// envelope is the shape of every JSON response
type envelope struct {
	Status string `json:"status"`
	Count  *int   `json:"count,omitempty"`
	Data   any    `json:"data,omitempty"`
	Meta   any    `json:"meta,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// ScanMeta summarizes a scan next to its rows
type ScanMeta struct {
	Mode         model.ScanMode `json:"mode"`
	TotalScanned int            `json:"totalScanned"`
	Candidates   int            `json:"candidates"`
	NextOffset   int            `json:"nextOffset,omitempty"`
	HasMore      bool           `json:"hasMore"`
	ScanTime     string         `json:"scanTime"`
}

// HealthResponse is returned by /api/health
type HealthResponse struct {
	Status  string        `json:"status"`
	Service string        `json:"service"`
	Market  market.Status `json:"market"`
}

// UniverseInfo describes the cached penny universe
type UniverseInfo struct {
	Count     int       `json:"count"`
	Source    string    `json:"source"`
	UpdatedAt time.Time `json:"updatedAt"`
	Tickers   []string  `json:"tickers"`
}

// NewsRequest is the body of POST /api/news/analyze
type NewsRequest struct {
	Tickers []string `json:"tickers"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("response write failed")
	}
}

func writeOK(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope{Status: "ok", Data: data})
}

func writeList(w http.ResponseWriter, count int, data, meta any) {
	writeJSON(w, http.StatusOK, envelope{Status: "ok", Count: &count, Data: data, Meta: meta})
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, envelope{Status: "error", Detail: detail})
}

// intParam reads an integer query parameter, falling back to def when absent
func intParam(r *http.Request, name string, def, min, max int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	if v < min || v > max {
		return 0, fmt.Errorf("%s must be between %d and %d", name, min, max)
	}
	return v, nil
}

func universeParam(r *http.Request) (symbols.Universe, error) {
	raw := r.URL.Query().Get("universe")
	u, ok := symbols.ParseUniverse(raw)
	if !ok {
		return "", fmt.Errorf("unknown universe: %s", raw)
	}
	return u, nil
}

func scanMeta(res *model.ScanResult) ScanMeta {
	return ScanMeta{
		Mode:         res.Mode,
		TotalScanned: res.TotalScanned,
		Candidates:   res.Candidates,
		NextOffset:   res.NextOffset,
		HasMore:      res.HasMore,
		ScanTime:     res.ScanTime.Round(time.Millisecond).String(),
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Service: "manin-api"}
	if s.Session != nil {
		resp.Market = s.Session.Status()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	ov, err := s.Overview.Get(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("market overview failed")
		writeError(w, http.StatusInternalServerError, "market overview unavailable")
		return
	}
	writeOK(w, ov)
}

func (s *Server) handleUniverse(w http.ResponseWriter, r *http.Request) {
	snap, err := s.Universe.Snapshot(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("universe lookup failed")
		writeError(w, http.StatusServiceUnavailable, "universe unavailable")
		return
	}
	writeOK(w, UniverseInfo{
		Count:     len(snap.Tickers),
		Source:    snap.Source,
		UpdatedAt: snap.UpdatedAt,
		Tickers:   snap.Tickers,
	})
}

// cachedScan serves a scan from the store or runs it and stores the result
func (s *Server) cachedScan(w http.ResponseWriter, r *http.Request, key string, ttl time.Duration, req scanner.Request) (*model.ScanResult, bool) {
	ctx := r.Context()
	var res model.ScanResult
	if key != "" && cache.GetJSON(ctx, s.Store, key, ttl, &res) {
		return &res, true
	}

	out, err := s.Scanner.Scan(ctx, req)
	if err != nil {
		log.Error().Err(err).Str("mode", string(req.Mode)).Msg("scan failed")
		writeError(w, http.StatusInternalServerError, "scan failed")
		return nil, false
	}
	if key != "" {
		if err := cache.SetJSON(ctx, s.Store, key, out); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("scan cache write failed")
		}
	}
	return out, true
}

func (s *Server) handleBasic(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", BasicDefaultLimit, BasicMinLimit, BasicMaxLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	u, err := universeParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	key := fmt.Sprintf("scan:basic:%s:%d", u, limit)
	res, ok := s.cachedScan(w, r, key, TTLBasicScan, scanner.Request{Mode: model.ModeBasic, Limit: limit, Universe: u})
	if !ok {
		return
	}
	quotes := res.Quotes
	if quotes == nil {
		quotes = []model.Quote{}
	}
	writeList(w, len(quotes), quotes, scanMeta(res))
}

func (s *Server) handleFullScan(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", FullDefaultLimit, FullMinLimit, FullMaxLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	u, err := universeParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	key := fmt.Sprintf("scan:full:%s:%d", u, limit)
	res, ok := s.cachedScan(w, r, key, TTLFullScan, scanner.Request{Mode: model.ModeFull, Limit: limit, Universe: u})
	if !ok {
		return
	}
	writeList(w, len(res.Results), resultsOrEmpty(res.Results), scanMeta(res))
}

func (s *Server) handleBatchScan(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", BatchDefaultLimit, BatchMinLimit, BatchMaxLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	offset, err := intParam(r, "offset", 0, 0, math.MaxInt)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	u, err := universeParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, ok := s.cachedScan(w, r, "", 0, scanner.Request{Mode: model.ModeBatch, Limit: limit, Offset: offset, Universe: u})
	if !ok {
		return
	}
	writeList(w, len(res.Results), resultsOrEmpty(res.Results), scanMeta(res))
}

func resultsOrEmpty(rs []model.AnalysisResult) []model.AnalysisResult {
	if rs == nil {
		return []model.AnalysisResult{}
	}
	return rs
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	ticker := strings.ToUpper(strings.TrimSpace(chi.URLParam(r, "ticker")))
	if ticker == "" {
		writeError(w, http.StatusBadRequest, "ticker is required")
		return
	}

	ctx := r.Context()
	key := "analyze:" + ticker
	var res model.AnalysisResult
	if !cache.GetJSON(ctx, s.Store, key, TTLAnalyze, &res) {
		out, err := s.Scanner.Analyze(ctx, ticker)
		if err != nil {
			log.Error().Err(err).Str("ticker", ticker).Msg("analysis failed")
			writeError(w, http.StatusInternalServerError, "analysis failed")
			return
		}
		if out == nil {
			writeError(w, http.StatusNotFound, "No data for "+ticker)
			return
		}
		res = *out
		if err := cache.SetJSON(ctx, s.Store, key, res); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("analysis cache write failed")
		}
	}

	claims, _ := auth.FromContext(ctx)
	if !s.Auth.IsPro(claims) {
		res = analyzer.Gated(res)
	}
	writeOK(w, res)
}

func (s *Server) handleMoonshots(w http.ResponseWriter, r *http.Request) {
	top, err := s.Moonshots.Top(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("moonshot hunt failed")
		writeError(w, http.StatusInternalServerError, "moonshot hunt failed")
		return
	}
	writeList(w, len(top), top, nil)
}

func (s *Server) handleNewsIntelligence(w http.ResponseWriter, r *http.Request) {
	items, err := s.News.Intelligence(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("news intelligence failed")
		writeError(w, http.StatusInternalServerError, "news intelligence failed")
		return
	}
	if items == nil {
		items = []news.Item{}
	}
	writeList(w, len(items), items, nil)
}

func (s *Server) handleNewsAnalyze(w http.ResponseWriter, r *http.Request) {
	var req NewsRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	tickers := normalizeTickers(req.Tickers)
	if len(tickers) == 0 {
		writeError(w, http.StatusBadRequest, "tickers is required")
		return
	}
	if len(tickers) > MaxNewsTickers {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("at most %d tickers per request", MaxNewsTickers))
		return
	}

	items := s.News.AnalyzeTickers(r.Context(), tickers)
	writeList(w, len(items), items, nil)
}

// normalizeTickers uppercases, trims and dedupes, keeping order
func normalizeTickers(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, t := range in {
		t = strings.ToUpper(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}
