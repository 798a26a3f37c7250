// Package sentiment scores headlines against a small financial lexicon.
package sentiment

import (
	"fmt"
	"strings"
)

// Labels
const (
	Bullish = "Bullish"
	Bearish = "Bearish"
	Neutral = "Neutral"
)

// LabelThreshold is the absolute score at which a label leaves Neutral
const LabelThreshold = 2

var bullishWords = []string{
	"upgrade", "buy", "outperform", "growth", "gain", "surpass", "profit", "beat",
	"bullish", "breakout", "record", "high", "surge", "rally", "momentum", "strong",
	"opportunity", "expansion", "optimistic", "positive", "win", "success",
}

var bearishWords = []string{
	"downgrade", "sell", "underperform", "loss", "drop", "miss", "decline", "bearish",
	"breakdown", "crash", "low", "slump", "plunge", "weak", "risk", "negative",
	"pessimistic", "fail", "warning", "concern", "debt", "cut",
}

// Result is the lexicon score over a set of titles
type Result struct {
	Score  int
	Label  string
	Titles []string // non-empty titles that were scored, in input order
}

// ScoreTitle returns bullish minus bearish hits. Words match as substrings,
// so "higher" counts as "high".
func ScoreTitle(title string) int {
	lower := strings.ToLower(title)
	score := 0
	for _, w := range bullishWords {
		if strings.Contains(lower, w) {
			score++
		}
	}
	for _, w := range bearishWords {
		if strings.Contains(lower, w) {
			score--
		}
	}
	return score
}

// Analyze sums the per-title scores. Blank titles are skipped.
func Analyze(titles []string) Result {
	r := Result{Titles: make([]string, 0, len(titles))}
	for _, t := range titles {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		r.Score += ScoreTitle(t)
		r.Titles = append(r.Titles, t)
	}
	r.Label = Label(r.Score)
	return r
}

// Label maps a score onto Bullish, Bearish or Neutral
func Label(score int) string {
	switch {
	case score >= LabelThreshold:
		return Bullish
	case score <= -LabelThreshold:
		return Bearish
	default:
		return Neutral
	}
}

// Outlook is the one-line commentary for a score
func Outlook(score int, ticker string) string {
	switch {
	case score > 2:
		return fmt.Sprintf("%s is seeing strong positive news flow. Momentum likely to persist for 3-5 days.", ticker)
	case score > 0:
		return fmt.Sprintf("Moderate bullish sentiment for %s. Watch for volume confirmation.", ticker)
	case score < -2:
		return fmt.Sprintf("Warning: Heavy negative news pressure on %s. Short-term downside risk is high.", ticker)
	case score < 0:
		return fmt.Sprintf("%s facing some headwinds. News tone is cautious.", ticker)
	default:
		return fmt.Sprintf("Neutral news cycle for %s. Price action will likely follow technical levels.", ticker)
	}
}
