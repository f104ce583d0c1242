package cli

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/soyeahso/callpilot/internal/config"
	"github.com/soyeahso/callpilot/internal/gateway"
)

func newServeCmd() *cobra.Command {
	var (
		port int
		bind string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the chat gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if port != 0 {
				cfg.Gateway.Port = port
			}
			if bind != "" {
				cfg.Gateway.Bind = bind
			}
			if err := config.RequireServing(&cfg); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, true)
			if err != nil {
				return err
			}

			opts := []gateway.ServerOption{
				gateway.WithRunner(a.runner),
				gateway.WithHooks(a.hooks),
				gateway.WithProviders(a.llmName, a.speech),
			}
			if a.provider != nil {
				opts = append(opts, gateway.WithMetrics(a.provider.Metrics, a.provider.Handler(), cfg.Metrics.Path))
				log.Info().Str("path", cfg.Metrics.Path).Msg("metrics endpoint enabled")
			}
			srv := gateway.New(cfg, log, opts...)

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return srv.Start(gctx)
			})
			g.Go(func() error {
				<-gctx.Done()
				log.Info().Msg("shutting down")
				return nil
			})
			err = g.Wait()

			closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			a.Close(closeCtx)
			return err
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "override gateway port")
	cmd.Flags().StringVar(&bind, "bind", "", "override bind mode (auto, lan, loopback, custom)")

	return cmd
}
