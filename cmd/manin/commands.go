package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"manin/internal/analyzer"
	"manin/internal/moonshot"
	"manin/internal/news"
	"manin/internal/symbols"
)

func newAnalyzeCmd() *cobra.Command {
	var full, asJSON bool
	cmd := &cobra.Command{
		Use:   "analyze TICKER",
		Short: "Deep-analyze a single ticker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, false)
			if err != nil {
				return err
			}
			ctx, cancel := interruptContext()
			defer cancel()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			ticker := strings.ToUpper(strings.TrimSpace(args[0]))
			res, err := a.scanner.Analyze(ctx, ticker)
			if err != nil {
				return fmt.Errorf("analyzing %s: %w", ticker, err)
			}
			if res == nil {
				return fmt.Errorf("no data for %s", ticker)
			}
			if !full {
				gated := analyzer.Gated(*res)
				res = &gated
			}
			if asJSON {
				return outputJSON(res)
			}
			outputAnalysis(res, full)
			return nil
		},
	}
	cmd.Flags().BoolVar(&full, "full", false, "full reasoning and price history")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newUniverseCmd() *cobra.Command {
	var refresh bool
	var show int
	cmd := &cobra.Command{
		Use:   "universe",
		Short: "Show the cached penny universe",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, false)
			if err != nil {
				return err
			}
			ctx, cancel := interruptContext()
			defer cancel()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			var snap symbols.Snapshot
			if refresh {
				snap, err = a.universe.Refresh(ctx)
			} else {
				snap, err = a.universe.Snapshot(ctx)
			}
			if err != nil {
				return err
			}

			fmt.Printf("%d tickers from %s (updated %s)\n", len(snap.Tickers), snap.Source, snap.UpdatedAt.Format("2006-01-02 15:04"))
			head := snap.Tickers
			if show > 0 && len(head) > show {
				head = head[:show]
			}
			fmt.Println(strings.Join(head, " "))
			return nil
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "refetch from the sources")
	cmd.Flags().IntVar(&show, "show", 20, "number of symbols to print")
	return cmd
}

func newNewsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "news [TICKER...]",
		Short: "Headline sentiment for tickers, or the hot-ticker feed",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, false)
			if err != nil {
				return err
			}
			ctx, cancel := interruptContext()
			defer cancel()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			var items []news.Item
			if len(args) == 0 {
				items, err = a.news.Intelligence(ctx)
				if err != nil {
					return err
				}
			} else {
				tickers := make([]string, len(args))
				for i, t := range args {
					tickers[i] = strings.ToUpper(t)
				}
				items = a.news.AnalyzeTickers(ctx, tickers)
			}
			outputNews(items)
			return nil
		},
	}
	return cmd
}

func newMoonshotsCmd() *cobra.Command {
	var refresh bool
	cmd := &cobra.Command{
		Use:   "moonshots",
		Short: "Hunt for small caps with breakout potential",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, false)
			if err != nil {
				return err
			}
			ctx, cancel := interruptContext()
			defer cancel()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			var top []moonshot.Candidate
			if refresh {
				top, err = a.moonshots.Hunt(ctx)
			} else {
				top, err = a.moonshots.Top(ctx)
			}
			if err != nil {
				return err
			}
			outputMoonshots(top)
			return nil
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "ignore the cached hunt")
	return cmd
}
