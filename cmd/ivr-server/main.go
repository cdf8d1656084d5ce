package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tetrixcorps/compliantivr/internal/app"
	"github.com/tetrixcorps/compliantivr/internal/config"
	"github.com/tetrixcorps/compliantivr/internal/grpcapi"
	"github.com/tetrixcorps/compliantivr/internal/httpapi"
	"github.com/tetrixcorps/compliantivr/internal/logging"
)

const reminderInterval = time.Minute

func main() {
	var configPath string
	cmd := &cobra.Command{
		Use:           "ivr-server",
		Short:         "Compliant IVR webhook server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", os.Getenv("IVR_CONFIG"), "Configuration file path")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		return err
	}
	logger = logger.With("service", "ivr-server")

	a, err := app.Open(ctx, cfg, logger, app.Options{Lock: true})
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := context.WithCancel(ctx)
	defer stop()

	a.Pruner.Start(ctx)
	go sendReminders(ctx, a, logger)

	srv := httpapi.NewServer(httpapi.Dependencies{
		Logger:        logger.With("component", "http"),
		Addr:          cfg.HTTPAddr,
		Orchestrator:  a.Orchestrator,
		Audit:         a.Audit,
		Consents:      a.Consents,
		WebhookSecret: cfg.WebhookSecret,
		Ready:         a.Ready,
	})
	go func() {
		logger.Info("listening", "addr", cfg.HTTPAddr, "store", cfg.Store, "env", cfg.Env)
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			stop()
		}
	}()

	var health *grpcapi.Server
	if cfg.GRPCAddr != "" {
		health = grpcapi.NewServer(grpcapi.Dependencies{
			Logger: logger.With("component", "grpc"),
			Addr:   cfg.GRPCAddr,
			Ready:  a.Ready,
		})
		go func() {
			logger.Info("health service listening", "addr", cfg.GRPCAddr)
			if err := health.Start(); err != nil {
				logger.Error("grpc server error", "error", err)
				stop()
			}
		}()
	}
	if cfg.WebhookSecret == "" {
		logger.Warn("webhook signature checks are disabled")
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if health != nil {
		_ = health.Shutdown(shutdownCtx)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	a.Pruner.Stop()
	return nil
}

// sendReminders dispatches due reminders until ctx is cancelled.
func sendReminders(ctx context.Context, a *app.App, logger *slog.Logger) {
	t := time.NewTicker(reminderInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := a.Reminders.SendDue(ctx); n > 0 {
				logger.Info("reminders sent", "count", n)
			}
		}
	}
}
