package analyzer

import (
	"fmt"
	"strings"

	"manin/internal/signal"
	"manin/pkg/model"
)

// GatedSentences is the number of reasoning sentences shown to callers
// without a pro entitlement.
const GatedSentences = 2

// GateDisclosure is appended to truncated reasoning
const GateDisclosure = "Upgrade to Pro for the full breakdown."

// Reasoning composes the explanation for a result. Sentences follow a fixed
// order: verdict, volume, upside, fundamentals, patterns, moving averages
// and RSI.
func Reasoning(r *model.AnalysisResult) string {
	var s []string

	s = append(s, verdict(r))

	switch {
	case r.HasSignal(PrefixMassiveVolume):
		s = append(s, fmt.Sprintf("Volume is running %.1fx its 20-day average, far above normal participation.", r.VolumeRatio))
	case r.HasSignal(PrefixHighVolume):
		s = append(s, fmt.Sprintf("Volume is elevated at %.1fx its 20-day average.", r.VolumeRatio))
	case r.VolumeRatio > 0 && r.VolumeRatio < 0.5:
		s = append(s, fmt.Sprintf("Volume is thin at %.1fx its 20-day average.", r.VolumeRatio))
	}

	if r.Upside >= 0 {
		s = append(s, fmt.Sprintf("The naive next-close model points to %+.1f%% upside (%.4f); it is a rough single-ticker fit, not a validated forecast.", r.Upside, r.Predicted))
	} else {
		s = append(s, fmt.Sprintf("The naive next-close model points to %.1f%% downside (%.4f); it is a rough single-ticker fit, not a validated forecast.", r.Upside, r.Predicted))
	}

	if r.IsProfitable {
		s = append(s, fmt.Sprintf("The company is profitable with a %.1f%% margin.", r.Margin))
	} else {
		s = append(s, "The company is not profitable or reports no margin data.")
	}

	for _, label := range r.Signals {
		if sentence := patternSentence(label); sentence != "" {
			s = append(s, sentence)
		}
	}

	if r.HasSignal(LabelAboveSMA20) {
		if r.HasSignal(LabelUpperBollinger) {
			s = append(s, "Price holds above its 20-day average and closed outside the upper Bollinger band.")
		} else {
			s = append(s, "Price holds above its 20-day average.")
		}
	} else {
		s = append(s, "Price sits at or below its 20-day average.")
	}

	if r.RSI.Valid {
		rsi := r.RSI.Float64
		switch {
		case rsi >= 70:
			s = append(s, fmt.Sprintf("RSI is %.1f, overbought territory.", rsi))
		case rsi <= 30:
			s = append(s, fmt.Sprintf("RSI is %.1f, oversold territory.", rsi))
		default:
			s = append(s, fmt.Sprintf("RSI is %.1f, neutral.", rsi))
		}
	}

	return strings.Join(s, " ")
}

func verdict(r *model.AnalysisResult) string {
	switch {
	case r.Score >= 8:
		return fmt.Sprintf("%s shows a strong setup with a score of %d.", r.Ticker, r.Score)
	case r.Score >= 4:
		return fmt.Sprintf("%s shows a constructive setup with a score of %d.", r.Ticker, r.Score)
	case r.Score > 0:
		return fmt.Sprintf("%s shows a weak setup with a score of %d.", r.Ticker, r.Score)
	default:
		return fmt.Sprintf("%s shows no actionable setup.", r.Ticker)
	}
}

func patternSentence(label string) string {
	switch {
	case label == signal.LabelSweepBullish:
		return "Price undercut its 20-day low and reclaimed it by the close, a bullish liquidity sweep."
	case label == signal.LabelSweepBearish:
		return "Price pierced its 20-day high and closed back below it, a bearish liquidity sweep."
	case label == signal.LabelWyckoffSpring:
		return "A Wyckoff spring formed: support was broken on light volume and recovered."
	case strings.HasPrefix(label, signal.PrefixVerticalMove):
		return "The three-day move is vertical, so expect sharp pullbacks."
	case strings.HasPrefix(label, signal.PrefixHighVelocity):
		return "Three-day velocity is high."
	case label == signal.LabelParabolic:
		return "The latest day accelerated faster than the three-day pace."
	}
	return ""
}

// GateReasoning keeps the first max sentences of text and appends the
// gating disclosure.
func GateReasoning(text string, max int) string {
	sentences := splitSentences(text)
	if len(sentences) > max {
		sentences = sentences[:max]
	}
	sentences = append(sentences, GateDisclosure)
	return strings.Join(sentences, " ")
}

// Gated returns a copy of r with reasoning truncated for non-pro callers
func Gated(r model.AnalysisResult) model.AnalysisResult {
	g := r.Clone()
	g.Reasoning = GateReasoning(r.Reasoning, GatedSentences)
	return g
}

// splitSentences breaks on '.', '!' or '?' followed by whitespace
func splitSentences(text string) []string {
	var out []string
	start := 0
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '.', '!', '?':
			if i+1 == len(text) || text[i+1] == ' ' {
				if s := strings.TrimSpace(text[start : i+1]); s != "" {
					out = append(out, s)
				}
				start = i + 1
			}
		}
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		out = append(out, s)
	}
	return out
}
