package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/BioHazard786/roomsync/internal/broker"
	"github.com/BioHazard786/roomsync/internal/server"
	"github.com/BioHazard786/roomsync/internal/ui"
	"github.com/BioHazard786/roomsync/internal/version"
)

var flagListen string

var brokerCmd = &cobra.Command{
	Use:   "broker",
	Short: "Run the pub/sub broker devices connect to",
	Long: `Run the websocket broker that hosts rooms.

Endpoints:
  /ws      websocket for devices
  /health  liveness probe
  /stats   connected clients, topics and retained messages (JSON)

Examples:
  roomsync broker
  roomsync broker --listen 127.0.0.1:9000`,
	Args: cobra.NoArgs,
	RunE: runBroker,
}

func init() {
	rootCmd.AddCommand(brokerCmd)
	brokerCmd.Flags().StringVarP(&flagListen, "listen", "l", "", "Address to listen on (default :8080)")
}

func runBroker(cmd *cobra.Command, args []string) error {
	cfg, err := LoadConfig(flagListen)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	hub := broker.NewHub()
	hubCtx, stopHub := context.WithCancel(context.Background())
	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		hub.Run(hubCtx)
	}()

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.NewRouter(hub),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("broker listening", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()
	fmt.Println(ui.TitleStyle.Render("roomsync broker " + version.Version))
	ui.PrintSuccessf("Broker listening on %s", ui.BoldStyle.Render(cfg.ListenAddr))

	select {
	case err := <-serveErr:
		stopHub()
		<-hubDone
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if stats, err := hub.Stats(shutdownCtx); err == nil {
		ui.PrintInfof("Shutting down with %d client(s), %d topic(s), %d retained message(s)", stats.Clients, stats.Topics, stats.Retained)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown failed", "error", err)
	}
	stopHub()
	<-hubDone
	return nil
}
