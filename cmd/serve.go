package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BioHazard786/roomlink/internal/config"
	"github.com/BioHazard786/roomlink/internal/logging"
	"github.com/BioHazard786/roomlink/internal/relay"
	"github.com/labstack/echo/v4"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the signaling relay",
	Long: `Run the signaling relay that admits peers into rooms and forwards their
negotiation messages. Configuration comes from the environment:

  PORT              listen port (default 8080)
  METRICS_PORT      separate port for /metrics, 0 to serve it on PORT
  ROOMLINK_SECRET   shared secret for credential checks, empty to admit anyone
  MAX_ROOM_PEERS    upper bound on room capacity (default 32)
  LOG_LEVEL         debug, info, warn or error`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadServer()
		if err != nil {
			return err
		}
		if globalOpts.LogLevel == "" {
			logging.Init(cfg.LogLevel)
		}
		return serve(cmd.Context(), cfg)
	},
}

func serve(ctx context.Context, cfg config.Server) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log := logging.For("relay")

	hub := relay.NewHub(cfg, log)
	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		hub.Run(ctx)
	}()

	servers := []*echo.Echo{relay.NewServer(hub, log)}
	addrs := []string{fmt.Sprintf(":%d", cfg.Port)}
	if cfg.MetricsPort > 0 {
		servers = append(servers, relay.NewMetricsServer())
		addrs = append(addrs, fmt.Sprintf(":%d", cfg.MetricsPort))
	}

	errCh := make(chan error, len(servers))
	for i, srv := range servers {
		go func() {
			errCh <- srv.Start(addrs[i])
		}()
	}

	log.Info().
		Int("port", cfg.Port).
		Int("metrics_port", cfg.MetricsPort).
		Int("max_room_peers", cfg.MaxRoomPeers).
		Bool("credentials", cfg.Secret != "").
		Msg("relay listening")

	var runErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("relay server: %w", err)
		}
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("graceful shutdown failed")
		}
	}
	<-hubDone
	return runErr
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
