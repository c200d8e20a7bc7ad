package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"vpc-mesh/pkg/api"
)

func serveCmd(c *cli) *cobra.Command {
	var (
		listen string
		run    bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the status API, optionally building the mesh in the background",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("listen") {
				c.cfg.API.Listen = listen
			}
			ctx := cmd.Context()
			a, err := c.open(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			server, err := a.Server()
			if err != nil {
				return err
			}
			tlsCfg, err := api.ServerTLSConfig(api.TLSOptions{
				CertFile: a.Config.API.CertFile,
				KeyFile:  a.Config.API.KeyFile,
				ClientCA: a.Config.API.ClientCA,
			})
			if err != nil {
				return err
			}
			srv := &http.Server{
				Addr:              a.Config.API.Listen,
				Handler:           server.Handler(),
				TLSConfig:         tlsCfg,
				ReadHeaderTimeout: 5 * time.Second,
			}

			if run {
				go func() {
					report, err := a.Orchestrator().Run(ctx, a.Config.Regions)
					server.SetReport(report)
					if err != nil {
						a.Log.Error().Err(err).Str("run", report.RunID).Msg("background mesh run failed")
						return
					}
					a.Log.Info().Str("run", report.RunID).Int("links", len(report.Links)).Msg("background mesh run finished")
				}()
			}

			errCh := make(chan error, 1)
			go func() {
				a.Log.Info().Str("addr", srv.Addr).Bool("tls", tlsCfg != nil).Msg("status api listening")
				if tlsCfg != nil {
					errCh <- srv.ListenAndServeTLS("", "")
					return
				}
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return fmt.Errorf("serve: %w", err)
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				a.Log.Info().Msg("shutting down status api")
				return srv.Shutdown(shutdownCtx)
			}
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "Listen address (default from config)")
	cmd.Flags().BoolVar(&run, "run", false, "Build the configured mesh while serving")
	return cmd
}
