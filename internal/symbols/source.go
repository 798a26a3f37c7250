package symbols

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"manin/internal/provider"
	"manin/internal/ratelimit"
	"manin/pkg/model"
)

// Source lists candidate symbols for the penny universe
type Source interface {
	Name() string
	Fetch(ctx context.Context) ([]model.Stock, error)
}

const (
	nasdaqBaseURL   = "https://api.nasdaq.com"
	nasdaqUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"
)

// NasdaqSource reads the public NASDAQ stock screener
type NasdaqSource struct {
	baseURL string
	client  *http.Client
	limiter *ratelimit.Limiter
}

// NewNasdaqSource creates a screener source. An empty baseURL uses the
// public API host.
func NewNasdaqSource(baseURL string) *NasdaqSource {
	if baseURL == "" {
		baseURL = nasdaqBaseURL
	}
	return &NasdaqSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 60 * time.Second},
		limiter: ratelimit.NewLimiter("nasdaq", 30),
	}
}

// Name returns the source name
func (n *NasdaqSource) Name() string { return "nasdaq" }

type nasdaqResponse struct {
	Data struct {
		Rows []struct {
			Symbol   string `json:"symbol"`
			Name     string `json:"name"`
			LastSale string `json:"lastsale"`
			Sector   string `json:"sector"`
			Industry string `json:"industry"`
		} `json:"rows"`
	} `json:"data"`
}

// Fetch downloads the full screener table
func (n *NasdaqSource) Fetch(ctx context.Context) ([]model.Stock, error) {
	if err := n.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	url := n.baseURL + "/api/screener/stocks?tableonly=true&limit=25&offset=0&download=true"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", nasdaqUserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("nasdaq screener: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		n.limiter.SignalRateLimited()
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("nasdaq screener: status %d", resp.StatusCode)
	}
	n.limiter.ResetBackoff()

	var body nasdaqResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decoding nasdaq screener: %w", err)
	}

	stocks := make([]model.Stock, 0, len(body.Data.Rows))
	for _, row := range body.Data.Rows {
		sym := sanitizeSymbol(row.Symbol)
		if sym == "" {
			continue
		}
		stocks = append(stocks, model.Stock{
			Symbol:    sym,
			Name:      strings.TrimSpace(row.Name),
			Exchange:  "NASDAQ",
			Sector:    labelOrUnknown(row.Sector),
			Industry:  labelOrUnknown(row.Industry),
			LastPrice: parseLastSale(row.LastSale),
		})
	}
	return stocks, nil
}

// ProviderSource lists symbols through a data provider, e.g. Alpaca assets.
// Listings carry no price, so the price band does not apply to them.
type ProviderSource struct {
	provider provider.Provider
	exchange string
}

// NewProviderSource wraps p. exchange may be empty for all exchanges.
func NewProviderSource(p provider.Provider, exchange string) *ProviderSource {
	return &ProviderSource{provider: p, exchange: exchange}
}

// Name returns the source name
func (s *ProviderSource) Name() string { return s.provider.Name() }

// Fetch lists the provider's symbols
func (s *ProviderSource) Fetch(ctx context.Context) ([]model.Stock, error) {
	stocks, err := s.provider.GetSymbols(ctx, s.exchange)
	if err != nil {
		return nil, err
	}
	out := make([]model.Stock, 0, len(stocks))
	for _, st := range stocks {
		st.Symbol = sanitizeSymbol(st.Symbol)
		if st.Symbol == "" {
			continue
		}
		out = append(out, st)
	}
	return out, nil
}

// sanitizeSymbol normalizes screener notation (BRK/B, ABC^A) and returns ""
// for anything that is not a plain ticker.
func sanitizeSymbol(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	s = strings.ReplaceAll(s, "^", "-P")
	s = strings.ReplaceAll(s, "/", "-")
	if !isValidSymbol(s) {
		return ""
	}
	return s
}

// isValidSymbol accepts letters with an optional dash-separated class suffix
func isValidSymbol(symbol string) bool {
	if len(symbol) == 0 || len(symbol) > 8 {
		return false
	}
	for i, c := range symbol {
		switch {
		case c >= 'A' && c <= 'Z':
		case c == '-' && i > 0 && i < len(symbol)-1:
		default:
			return false
		}
	}
	return true
}

// parseLastSale reads "$1.23"; anything unparsable is 0 (unknown)
func parseLastSale(s string) float64 {
	s = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "$"))
	s = strings.ReplaceAll(s, ",", "")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 {
		return 0
	}
	return v
}

func labelOrUnknown(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return model.UnknownLabel
	}
	return s
}
