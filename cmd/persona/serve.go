package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kingrea/persona/internal/bridge"
)

var (
	serveHost string
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the session over the local HTTP bridge until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		rt, err := openRuntime(ctx, projectDir)
		if err != nil {
			return err
		}
		defer rt.Close()

		settings := bridge.SettingsFromConfig(rt.config)
		settings.Enabled = true
		if cmd.Flags().Changed("host") {
			settings.Host = serveHost
		}
		if cmd.Flags().Changed("port") {
			settings.Port = servePort
		}
		srv := bridge.NewServer(settings, rt.session, bridge.WithLogger(rt.logger))
		if err := srv.Start(ctx); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "persona bridge listening on %s (service %s)\n", srv.BaseURL(), rt.session.ServiceURL())
		rt.logbook.Info("Bridge listening on %s", srv.BaseURL())

		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		rt.logbook.Info("Bridge stopping")
		return srv.Shutdown(shutdownCtx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", bridge.DefaultHost, "interface to bind")
	serveCmd.Flags().IntVar(&servePort, "port", bridge.DefaultPort, "port to bind (0 picks a free port)")
}
