package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/orpheus-ai/zeus/internal/config"
	"github.com/orpheus-ai/zeus/internal/miner"
	"github.com/orpheus-ai/zeus/internal/utils/logger"
	"github.com/orpheus-ai/zeus/pkg/signature"
)

func main() {
	logger.Init()
	log.Info().Msg("Starting miner...")

	cfg, err := config.LoadMinerConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load environment configuration")
	}

	keypair, err := signature.LoadKeypairFromHotkey(cfg.BittensorDir, cfg.WalletColdkey, cfg.WalletHotkey)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load miner hotkey")
	}

	m, err := miner.NewMiner(cfg, signature.ToSs58Address(keypair))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init miner")
	}
	go func() {
		if err := m.Run(); err != nil {
			log.Error().Err(err).Msg("miner server stopped")
		}
	}()

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	log.Info().Msg("Miner is running. Press Ctrl+C to shutdown...")
	<-sigChan
	log.Info().Msg("Shutdown signal received, gracefully shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.Stop(ctx); err != nil {
		log.Error().Err(err).Msg("miner shutdown failed")
	}
	log.Info().Msg("Miner shutdown complete")
}
