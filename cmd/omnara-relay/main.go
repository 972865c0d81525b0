package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/omnara-ai/omnara/internal/auth"
	"github.com/omnara-ai/omnara/internal/config"
	"github.com/omnara-ai/omnara/internal/logger"
	"github.com/omnara-ai/omnara/internal/relay"
)

func main() {
	root := &cobra.Command{
		Use:          "omnara-relay",
		Short:        "omnara terminal relay server",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()
			cfg := config.LoadRelay()
			if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
				return run(cfg, addr)
			}
			return run(cfg, cfg.Addr())
		},
	}

	root.Flags().String("addr", "", "listen address (overrides OMNARA_RELAY_WS_HOST/PORT)")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cfg config.Relay, addr string) error {
	logger.Init(cfg.LogLevel, cfg.LogFile)

	if cfg.JWTSecret == "" {
		return fmt.Errorf("OMNARA_RELAY_JWT_SECRET is required")
	}

	verifier := auth.NewVerifier([]byte(cfg.JWTSecret), cfg.SupabaseURL, cfg.SupabaseAnonKey)
	manager := relay.NewManager(cfg.HistoryBytes, cfg.HeartbeatInterval, cfg.EndedRetention)
	srv := relay.NewServer(cfg, verifier, manager)

	httpSrv := &http.Server{
		Addr:    addr,
		Handler: srv,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go manager.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("relay listening", "addr", addr)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
