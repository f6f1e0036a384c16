package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"metax/internal/adapters/httpapi"
	"metax/internal/tasks"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd(opts *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the REST API and run scheduled jobs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := opts.load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.HTTP.Addr = addr
			}
			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer a.close()

			api := httpapi.New(httpapi.Deps{
				Core:     a.core,
				Files:    a.files,
				REMS:     a.rems,
				Refdata:  a.refdata,
				Migrator: a.migrator,
				Tasks:    a.runner,
				Cache:    a.cache,
				DataCite: a.datacite,
				Blobs:    a.blobs,
				Metrics:  a.metrics,
				Watchman: a.watchman(),
				Auth:     cfg.Auth,
				BaseURL:  cfg.HTTP.BaseURL,
				Log:      log,
			})

			a.runner.Start()
			sched := tasks.NewScheduler(a.runner, log)
			if err := a.schedule(sched, api.Render); err != nil {
				return err
			}
			sched.Start(ctx)
			defer sched.Stop()

			srv := &http.Server{
				Addr:              cfg.HTTP.Addr,
				Handler:           api.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}
			errc := make(chan error, 1)
			go func() {
				log.Infow("listening", "addr", cfg.HTTP.Addr, "storage", cfg.Storage.Driver, "v2_sync", cfg.V2.Enabled, "rems", cfg.REMS.Enabled)
				errc <- srv.ListenAndServe()
			}()

			select {
			case err := <-errc:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-ctx.Done():
			}
			log.Infow("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address, overrides http.addr")
	return cmd
}
