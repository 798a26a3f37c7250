package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"manin/internal/scanner"
	"manin/internal/symbols"
	"manin/pkg/model"
)

func newScanCmd() *cobra.Command {
	var (
		mode       string
		limit      int
		offset     int
		universe   string
		symbolList string
		format     string
	)

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan the penny universe",
		Long: `Scan screens the universe by price and volume.

Modes:
  basic  - price/volume screen only, sorted by volume
  full   - screen, then deep-analyze the top candidates
  batch  - deep-analyze one page of the universe (--offset, --limit)`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, false)
			if err != nil {
				return err
			}
			u, ok := symbols.ParseUniverse(universe)
			if !ok {
				return fmt.Errorf("unknown universe: %s", universe)
			}

			ctx, cancel := interruptContext()
			defer cancel()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			req := scanner.Request{Mode: model.ScanMode(mode), Limit: limit, Offset: offset, Universe: u}
			if symbolList != "" {
				req.Tickers = strings.Split(strings.ToUpper(symbolList), ",")
			}

			var bar *phaseBar
			if format != "json" {
				bar = &phaseBar{}
				ctx = scanner.WithProgress(ctx, bar.update)
			}

			result, err := a.scanner.Scan(ctx, req)
			if bar != nil {
				bar.finish()
			}
			if err != nil {
				return fmt.Errorf("scanning: %w", err)
			}

			if format == "json" {
				return outputJSON(result)
			}
			return outputScanTable(result)
		},
	}

	cmd.Flags().StringVar(&mode, "mode", "basic", "scan mode: basic, full, batch")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum results")
	cmd.Flags().IntVar(&offset, "offset", 0, "universe offset (batch mode)")
	cmd.Flags().StringVar(&universe, "universe", "penny", "universe: penny, sp500, nasdaq100, test")
	cmd.Flags().StringVar(&symbolList, "symbols", "", "comma-separated list of symbols to scan instead of a universe")
	cmd.Flags().StringVar(&format, "format", "table", "output format: table, json")
	return cmd
}

// interruptContext is cancelled on SIGINT or SIGTERM
func interruptContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigChan:
			fmt.Println("\nInterrupted. Stopping scan...")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()
	return ctx, cancel
}

// phaseBar shows one progress bar per scan phase
type phaseBar struct {
	mu    sync.Mutex
	phase scanner.Phase
	bar   *progressbar.ProgressBar
}

func (p *phaseBar) update(phase scanner.Phase, done, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.bar == nil || phase != p.phase {
		if p.bar != nil {
			p.bar.Finish()
			fmt.Fprintln(os.Stderr)
		}
		p.phase = phase
		p.bar = newBar(total, phaseLabel(phase))
	}
	p.bar.Set(done)
}

func (p *phaseBar) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar != nil {
		p.bar.Finish()
		fmt.Fprintln(os.Stderr)
	}
}

func phaseLabel(phase scanner.Phase) string {
	if phase == scanner.PhaseAnalyze {
		return "Analyzing"
	}
	return "Screening"
}

func newBar(total int, desc string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription(desc),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]█[reset]",
			SaucerHead:    "[green]█[reset]",
			SaucerPadding: "░",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}
