package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sebas/softphone/internal/api"
	"github.com/sebas/softphone/internal/banner"
	"github.com/sebas/softphone/internal/config"
	"github.com/sebas/softphone/internal/engine/sipua"
	"github.com/sebas/softphone/internal/lifecycle"
	"github.com/sebas/softphone/internal/logger"
)

const shutdownTimeout = 5 * time.Second

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the softphone in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			loader := config.NewLoader(cfgFile)
			if err := loader.BindFlags(cmd.Flags()); err != nil {
				return err
			}
			cfg, err := loader.Load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(cmd.Context(), loader, cfg)
		},
	}
	config.RegisterFlags(cmd.Flags())
	return cmd
}

func run(parent context.Context, loader *config.Loader, cfg config.Config) error {
	logger.InitLogger(os.Stdout)
	logger.SetLevel(cfg.Log.Level)
	logger.ConfigureSIPStack(cfg.Log.SIPLevel, os.Stdout)

	banner.Print("Softphone", []banner.ConfigLine{
		{Label: "Server", Value: cfg.SIP.Server},
		{Label: "Transport", Value: cfg.SIP.Transport},
		{Label: "AOR", Value: cfg.SIP.AOR},
		{Label: "Bind", Value: cfg.SIP.BindAddr},
		{Label: "Auto register", Value: strconv.FormatBool(cfg.Client.AutoRegister)},
		{Label: "Max sessions", Value: strconv.Itoa(cfg.Client.MaxConcurrentSessions)},
		{Label: "HTTP API", Value: orNone(cfg.API.HTTPAddr)},
		{Label: "gRPC health", Value: orNone(cfg.API.GRPCHealthAddr)},
	})

	orch, err := lifecycle.New(cfg, sipua.Factory)
	if err != nil {
		return fmt.Errorf("create orchestrator: %w", err)
	}

	var apiSrv *api.Server
	if cfg.API.HTTPAddr != "" {
		apiSrv = api.NewServer(cfg.API.HTTPAddr, orch)
		if err := apiSrv.Start(); err != nil {
			_ = orch.Close(context.Background())
			return fmt.Errorf("start HTTP API: %w", err)
		}
	}

	var healthSrv *api.HealthServer
	if cfg.API.GRPCHealthAddr != "" {
		healthSrv = api.NewHealthServer(orch.ReadyView())
		if err := healthSrv.Start(cfg.API.GRPCHealthAddr); err != nil {
			slog.Error("[Main] Failed to start gRPC health server", "error", err)
			healthSrv = nil
		}
	}

	loader.Watch(func(next config.Config) {
		ctx, cancel := context.WithTimeout(context.Background(), next.SIP.CommandTimeout+shutdownTimeout)
		defer cancel()
		if err := orch.Reinitialize(ctx, next); err != nil {
			slog.Error("[Main] Reinitialization failed", "error", err)
		}
	})

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := orch.Start(ctx); err != nil {
		// The API stays up so the operator can inspect the failure and retry.
		slog.Error("[Main] Initial connect failed", "error", err)
	}

	<-ctx.Done()
	slog.Info("[Main] Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if healthSrv != nil {
		healthSrv.Stop()
	}
	if apiSrv != nil {
		if err := apiSrv.Stop(shutdownCtx); err != nil {
			slog.Warn("[Main] HTTP API shutdown", "error", err)
		}
	}
	if err := orch.Close(shutdownCtx); err != nil {
		slog.Warn("[Main] Orchestrator shutdown", "error", err)
	}
	slog.Info("[Main] Softphone stopped")
	return nil
}

func orNone(s string) string {
	if s == "" {
		return "(disabled)"
	}
	return s
}
