package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sells-group/autofill/internal/secrets"
	"github.com/sells-group/autofill/internal/server"
)

var (
	servePort int
	serveHost string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the local confirmation API for the browser extension",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEngine(ctx, secrets.New(cfg.Secrets.Service, cfg.Secrets.UseKeyring))
		if err != nil {
			return err
		}
		defer env.Close()

		srv := server.New(env.Coordinator,
			server.WithFills(env.Fills),
			server.WithVersion(version),
			server.WithCORSOrigins(cfg.Server.CORSOrigins),
		)

		addr := fmt.Sprintf("%s:%d", resolveHost(serveHost, cfg.Server.Host), resolvePort(servePort, cfg.Server.Port))
		return server.Run(ctx, addr, srv.Routes())
	},
}

func resolvePort(flag, configured int) int {
	if flag != 0 {
		return flag
	}
	return configured
}

func resolveHost(flag, configured string) string {
	if flag != "" {
		return flag
	}
	return configured
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().StringVar(&serveHost, "host", "", "bind address (default from config)")
	rootCmd.AddCommand(serveCmd)
}
