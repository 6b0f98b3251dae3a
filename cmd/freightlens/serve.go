package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	lhttp "github.com/laneiq/freightlens/internal/interfaces/http"
)

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the schedule executor and read-only ops server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := buildApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.close()

			srv := lhttp.NewServer(lhttp.ServerConfig{Addr: a.cfg.ListenAddr()},
				a.engine, a.registry, a.promRegistry, a.log)

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				err := a.executor.Run(ctx)
				if err == context.Canceled {
					return nil
				}
				return err
			})
			g.Go(srv.Start)
			g.Go(func() error {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})
			return g.Wait()
		},
	}
}
