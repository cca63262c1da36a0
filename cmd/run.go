package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nextlevelbuilder/astra/internal/config"
	"github.com/nextlevelbuilder/astra/internal/core"
)

func runBot() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(log)

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		log.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if !cfg.Discord.Enabled {
		log.Error("no Discord token configured: set ASTRA_DISCORD_TOKEN")
		os.Exit(1)
	}
	if len(cfg.AI.Providers) == 0 {
		log.Error("no AI providers configured: add at least one under ai.providers")
		os.Exit(1)
	}

	startCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
	c, err := core.Start(startCtx, cfg, log)
	cancel()
	if err != nil {
		log.Error("startup failed", "error", err)
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("shutting down", "signal", sig.String())

	shCtx, shCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shCancel()
	if err := c.Shutdown(shCtx); err != nil {
		log.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}
