package model

import (
	"math"
	"time"

	"github.com/guregu/null/v6"
	"github.com/shopspring/decimal"
)

// Candle represents a single daily bar (OHLCV data)
type Candle struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}

// Stock represents basic stock information
type Stock struct {
	Symbol    string  `json:"symbol"`
	Name      string  `json:"name"`
	Exchange  string  `json:"exchange"`
	Sector    string  `json:"sector,omitempty"`
	Industry  string  `json:"industry,omitempty"`
	LastPrice float64 `json:"lastPrice,omitempty"`
}

// UnknownLabel is used for missing sector/industry metadata
const UnknownLabel = "Unknown"

// Fundamentals is a sparse per-ticker snapshot. Missing numeric fields are
// invalid (null), never zero-as-absent.
type Fundamentals struct {
	ProfitMargin  null.Float `json:"profitMargin"` // fraction, 0.12 = 12%
	MarketCap     null.Float `json:"marketCap"`
	TrailingPE    null.Float `json:"trailingPE"`
	YearHigh      null.Float `json:"yearHigh"`
	YearLow       null.Float `json:"yearLow"`
	FloatShares   null.Float `json:"floatShares"`
	RevenueGrowth null.Float `json:"revenueGrowth"` // fraction
	Sector        string     `json:"sector"`
	Industry      string     `json:"industry"`
}

// EmptyFundamentals returns a record with every field missing
func EmptyFundamentals() Fundamentals {
	return Fundamentals{Sector: UnknownLabel, Industry: UnknownLabel}
}

// Normalize fills defaults for missing labels and drops non-finite numbers
func (f Fundamentals) Normalize() Fundamentals {
	if f.Sector == "" {
		f.Sector = UnknownLabel
	}
	if f.Industry == "" {
		f.Industry = UnknownLabel
	}
	f.ProfitMargin = FiniteNull(f.ProfitMargin)
	f.MarketCap = FiniteNull(f.MarketCap)
	f.TrailingPE = FiniteNull(f.TrailingPE)
	f.YearHigh = FiniteNull(f.YearHigh)
	f.YearLow = FiniteNull(f.YearLow)
	f.FloatShares = FiniteNull(f.FloatShares)
	f.RevenueGrowth = FiniteNull(f.RevenueGrowth)
	return f
}

// Headline is a single news item for a ticker
type Headline struct {
	Title       string    `json:"title"`
	Publisher   string    `json:"publisher,omitempty"`
	Link        string    `json:"link,omitempty"`
	PublishedAt time.Time `json:"publishedAt"`
}

// Quote is a row of the cheap liquidity screen
type Quote struct {
	Ticker string  `json:"ticker"`
	Price  float64 `json:"price"`
	Volume int64   `json:"volume"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
}

// PricePoint is one point of the chart history
type PricePoint struct {
	Date  string  `json:"date"`
	Close float64 `json:"close"`
}

// AnalysisResult is the scored output for one ticker. It is built once per
// analysis and never mutated afterwards.
//
// JSON policy: price, predicted, upside, changePct, margin, volumeRatio,
// volume and projVolume are always numbers (non-finite becomes 0). rsi,
// marketCap, pe, yearHigh, yearLow and float are null when missing.
type AnalysisResult struct {
	Ticker       string       `json:"ticker"`
	Price        float64      `json:"price"`
	Predicted    float64      `json:"predicted"`
	Upside       float64      `json:"upside"`
	ChangePct    float64      `json:"changePct"`
	Margin       float64      `json:"margin"`
	IsProfitable bool         `json:"isProfitable"`
	Score        int          `json:"score"`
	Signals      []string     `json:"signals"`
	Reasoning    string       `json:"reasoning"`
	Volume       int64        `json:"volume"`
	ProjVolume   int64        `json:"projVolume"`
	VolumeRatio  float64      `json:"volumeRatio"`
	RSI          null.Float   `json:"rsi"`
	PriceHistory []PricePoint `json:"priceHistory"`
	MarketCap    null.Float   `json:"marketCap"`
	PE           null.Float   `json:"pe"`
	Sector       string       `json:"sector"`
	Industry     string       `json:"industry"`
	YearHigh     null.Float   `json:"yearHigh"`
	YearLow      null.Float   `json:"yearLow"`
	Float        null.Float   `json:"float"`
}

// Clone returns a deep copy safe to hand to another caller
func (r AnalysisResult) Clone() AnalysisResult {
	r.Signals = append([]string(nil), r.Signals...)
	r.PriceHistory = append([]PricePoint(nil), r.PriceHistory...)
	return r
}

// HasSignal reports whether any label starts with prefix
func (r AnalysisResult) HasSignal(prefix string) bool {
	for _, s := range r.Signals {
		if len(s) >= len(prefix) && s[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}

// ScanMode selects the scanner behaviour
type ScanMode string

const (
	ModeBasic ScanMode = "basic"
	ModeFull  ScanMode = "full"
	ModeBatch ScanMode = "batch"
)

// ScanResult represents the final scan output
type ScanResult struct {
	Mode         ScanMode         `json:"mode"`
	TotalScanned int              `json:"totalScanned"`
	Candidates   int              `json:"candidates"`
	Quotes       []Quote          `json:"quotes,omitempty"`
	Results      []AnalysisResult `json:"results,omitempty"`
	NextOffset   int              `json:"nextOffset,omitempty"`
	HasMore      bool             `json:"hasMore,omitempty"`
	ScanTime     time.Duration    `json:"scanTime"`
}

// Round rounds half away from zero to the given decimal places.
// Non-finite input yields 0.
func Round(v float64, places int32) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return decimal.NewFromFloat(v).Round(places).InexactFloat64()
}

// Finite maps NaN and Inf to 0
func Finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// FiniteNull invalidates NaN and Inf values
func FiniteNull(v null.Float) null.Float {
	if !v.Valid {
		return v
	}
	if math.IsNaN(v.Float64) || math.IsInf(v.Float64, 0) {
		return null.Float{}
	}
	return v
}

// FloatOf wraps a raw provider number, treating NaN/Inf as missing
func FloatOf(v float64) null.Float {
	return FiniteNull(null.FloatFrom(v))
}
