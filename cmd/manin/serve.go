package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"manin/internal/auth"
	"manin/internal/scheduler"
	"manin/internal/web"
)

func newServeCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the refresh scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, true)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			verifier, err := auth.NewVerifier(cfg.Auth)
			if err != nil {
				return fmt.Errorf("auth: %w", err)
			}
			if verifier.Disabled() {
				log.Warn().Msg("auth disabled: every caller is treated as pro")
			}

			sched := scheduler.NewScheduler(ctx, cfg.Scheduler.TaskTimeout)
			err = sched.RegisterAll(cfg.Scheduler,
				func(ctx context.Context) error {
					_, err := a.overview.Refresh(ctx)
					return err
				},
				func(ctx context.Context) error {
					_, err := a.universe.Refresh(ctx)
					return err
				},
			)
			if err != nil {
				return err
			}
			sched.Start()
			defer sched.Stop()

			// warm the universe so the first scan does not pay for it
			go sched.RunNow("universe")

			srv := web.NewServer(web.Deps{
				Scanner:   a.scanner,
				Overview:  a.overview,
				Moonshots: a.moonshots,
				News:      a.news,
				Universe:  a.universe,
				Session:   a.session,
				Store:     a.store,
				Auth:      verifier,
				Trials:    auth.NewTrialLedger(a.store),
			})

			errCh := make(chan error, 1)
			go func() {
				errCh <- srv.Start(cfg.Server.Port)
			}()

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("server: %w", err)
				}
			case <-sigChan:
				log.Info().Msg("shutting down")
			}

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().IntVar(&port, "port", 8000, "listen port (overrides config and PORT)")
	return cmd
}
