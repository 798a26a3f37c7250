package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/guregu/null/v6"
	"github.com/olekukonko/tablewriter"

	"manin/internal/moonshot"
	"manin/internal/news"
	"manin/pkg/model"
)

func outputJSON(v any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func outputScanTable(result *model.ScanResult) error {
	if result.Mode == model.ModeBasic || len(result.Quotes) > 0 {
		outputQuotes(result.Quotes)
	} else {
		outputResults(result.Results)
	}

	fmt.Printf("\nScanned %d stocks, %d candidates in %s\n", result.TotalScanned, result.Candidates, result.ScanTime.Round(time.Second))
	if result.HasMore {
		fmt.Printf("More available: --mode batch --offset %d\n", result.NextOffset)
	}
	return nil
}

func outputQuotes(quotes []model.Quote) {
	if len(quotes) == 0 {
		fmt.Println("No stocks passed the screen.")
		return
	}
	table := tablewriter.NewTable(os.Stdout,
		tablewriter.WithHeader([]string{"Ticker", "Price", "Volume", "High", "Low"}),
	)
	for _, q := range quotes {
		table.Append([]string{
			q.Ticker,
			fmt.Sprintf("$%.4f", q.Price),
			fmt.Sprintf("%d", q.Volume),
			fmt.Sprintf("$%.4f", q.High),
			fmt.Sprintf("$%.4f", q.Low),
		})
	}
	table.Render()
}

func outputResults(results []model.AnalysisResult) {
	if len(results) == 0 {
		fmt.Println("No stocks survived analysis.")
		return
	}
	table := tablewriter.NewTable(os.Stdout,
		tablewriter.WithHeader([]string{"Ticker", "Price", "Target", "Upside", "Score", "Vol Ratio", "RSI", "Signals"}),
	)
	for _, r := range results {
		table.Append([]string{
			r.Ticker,
			fmt.Sprintf("$%.4f", r.Price),
			fmt.Sprintf("$%.4f", r.Predicted),
			fmt.Sprintf("%+.1f%%", r.Upside),
			fmt.Sprintf("%d", r.Score),
			fmt.Sprintf("%.1fx", r.VolumeRatio),
			formatFloat(r.RSI, "%.0f"),
			truncate(strings.Join(r.Signals, ", "), 45),
		})
	}
	table.Render()
}

func outputAnalysis(r *model.AnalysisResult, full bool) {
	fmt.Printf("[%s] %s / %s\n", r.Ticker, r.Sector, r.Industry)
	fmt.Printf("  Price: $%.4f | Target: $%.4f | Upside: %+.1f%%\n", r.Price, r.Predicted, r.Upside)
	fmt.Printf("  Volume: %d (projected %d, %.1fx avg) | RSI: %s\n", r.Volume, r.ProjVolume, r.VolumeRatio, formatFloat(r.RSI, "%.1f"))
	fmt.Printf("  Market cap: %s | P/E: %s | Margin: %.1f%%\n", formatFloat(r.MarketCap, "$%.0f"), formatFloat(r.PE, "%.1f"), r.Margin)
	for _, s := range r.Signals {
		fmt.Printf("  >> %s\n", s)
	}
	fmt.Printf("\n%s\n", r.Reasoning)

	if full && len(r.PriceHistory) > 0 {
		fmt.Println()
		table := tablewriter.NewTable(os.Stdout, tablewriter.WithHeader([]string{"Date", "Close"}))
		for _, p := range r.PriceHistory {
			table.Append([]string{p.Date, fmt.Sprintf("$%.4f", p.Close)})
		}
		table.Render()
	}
}

func outputNews(items []news.Item) {
	if len(items) == 0 {
		fmt.Println("No news found.")
		return
	}
	table := tablewriter.NewTable(os.Stdout,
		tablewriter.WithHeader([]string{"Ticker", "Price", "Change", "Sentiment", "News", "Headline"}),
	)
	for _, it := range items {
		table.Append([]string{
			it.Ticker,
			fmt.Sprintf("$%.2f", it.Price),
			fmt.Sprintf("%+.2f%%", it.ChangePct),
			fmt.Sprintf("%s (%+d)", it.Sentiment, it.SentimentScore),
			fmt.Sprintf("%d", it.NewsCount),
			truncate(it.Headline, 50),
		})
	}
	table.Render()
}

func outputMoonshots(cs []moonshot.Candidate) {
	if len(cs) == 0 {
		fmt.Println("No moonshot candidates found.")
		return
	}
	table := tablewriter.NewTable(os.Stdout,
		tablewriter.WithHeader([]string{"Ticker", "Price", "Moon Score", "Market Cap", "Sentiment", "Why"}),
	)
	for _, c := range cs {
		table.Append([]string{
			c.Ticker,
			fmt.Sprintf("$%.4f", c.Price),
			fmt.Sprintf("%d", c.MoonScore),
			formatFloat(c.MarketCap, "$%.0f"),
			c.Sentiment,
			truncate(strings.Join(c.MoonReasoning, "; "), 50),
		})
	}
	table.Render()
}

func formatFloat(v null.Float, format string) string {
	if !v.Valid {
		return "-"
	}
	return fmt.Sprintf(format, v.Float64)
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
