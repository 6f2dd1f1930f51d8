package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/orpheus-ai/zeus/internal/api"
	"github.com/orpheus-ai/zeus/internal/challenge"
	"github.com/orpheus-ai/zeus/internal/config"
	"github.com/orpheus-ai/zeus/internal/dataapi"
	"github.com/orpheus-ai/zeus/internal/dispatch"
	"github.com/orpheus-ai/zeus/internal/kami"
	"github.com/orpheus-ai/zeus/internal/lease"
	"github.com/orpheus-ai/zeus/internal/metagraph"
	"github.com/orpheus-ai/zeus/internal/reputation"
	"github.com/orpheus-ai/zeus/internal/reward"
	"github.com/orpheus-ai/zeus/internal/store"
	"github.com/orpheus-ai/zeus/internal/telemetry"
	"github.com/orpheus-ai/zeus/internal/utils/logger"
	"github.com/orpheus-ai/zeus/internal/validator"
	"github.com/orpheus-ai/zeus/pkg/schnitz"
	"github.com/orpheus-ai/zeus/pkg/signature"
)

func main() {
	logger.Init()
	log.Info().Msg("Starting validator...")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load environment configuration")
	}

	keypair, err := signature.LoadKeypairFromHotkey(cfg.BittensorDir, cfg.WalletColdkey, cfg.WalletHotkey)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load validator hotkey")
	}
	signer, err := signature.NewProvider(keypair)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init signer")
	}
	hotkey := signer.Address()

	k, err := kami.NewKami(&cfg.KamiEnvConfig)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init kami client")
	}
	if kamiHotkey, err := k.GetHotkey(context.Background()); err != nil {
		log.Warn().Err(err).Msg("could not read kami keyring pair")
	} else if kamiHotkey != hotkey {
		log.Warn().Str("kami", kamiHotkey).Str("wallet", hotkey).Msg("kami signs with a different hotkey than the wallet")
	}

	registry, err := metagraph.NewRegistry(k, cfg.Netuid, cfg.ValidatorStakeThreshold)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init metagraph registry")
	}

	data, err := dataapi.NewClient(&cfg.DataAPIEnvConfig)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init data api client")
	}
	sampler, err := challenge.NewSampler(data, cfg.GroundTruthDelay)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init challenge sampler")
	}

	client, err := schnitz.NewClient(&schnitz.ClientConfig{Timeout: cfg.ClientTimeout, Signer: signer})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init schnitz client")
	}
	defer client.Close()
	transport, err := dispatch.NewSchnitzTransport(client)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init transport")
	}
	dispatcher, err := dispatch.NewDispatcher(transport)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init dispatcher")
	}

	// the signal context also cancels a standby still waiting for leadership
	ctx, stopSignals := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()

	var leaderLost <-chan struct{}
	if cfg.RedisHost != "" {
		rc, err := lease.NewRedisClient(&cfg.RedisEnvConfig)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to init redis client")
		}
		defer rc.Close()
		leader, err := lease.NewRedis(rc, cfg.LeaseKey, cfg.LeaseTTL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to init leader lease")
		}
		log.Info().Str("key", cfg.LeaseKey).Msg("waiting for leader lease")
		held, err := leader.Lead(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Info().Msg("shutdown before leadership was acquired")
				return
			}
			log.Fatal().Err(err).Msg("failed to acquire leader lease")
		}
		defer held.Release()
		leaderLost = held.Lost()
	}

	st, err := store.Open(cfg.StorePath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open pending store")
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close pending store")
		}
	}()

	aggregator, err := reputation.NewAggregator(cfg.MovingAvgAlpha, st)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init score aggregator")
	}

	metrics := telemetry.NewPrometheusSink(telemetry.WithGoCollector())

	v, err := validator.NewValidator(&cfg.ValidatorEnvConfig, validator.Deps{
		Chain:      k,
		Registry:   registry,
		Sampler:    sampler,
		Truth:      data,
		Dispatcher: dispatcher,
		Store:      st,
		Aggregator: aggregator,
		Engine:     reward.NewEngine(),
		Lease:      lease.NewLocal(),
		Telemetry:  telemetry.Multi{telemetry.LogSink{}, metrics},
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init validator")
	}

	apiServer, err := api.NewServer(api.Config{
		Host:       cfg.Address,
		Port:       cfg.APIPort,
		DefaultTop: cfg.TopPerformers,
		Hotkey:     hotkey,
		Metrics:    metrics.Handler(),
	}, v)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init api server")
	}
	go func() {
		if err := apiServer.Start(); err != nil {
			log.Error().Err(err).Msg("api server stopped")
		}
	}()

	log.Info().Str("hotkey", hotkey).Int("netuid", cfg.Netuid).Msg("validator running")
	v.Start()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received, stopping validator")
	case <-leaderLost:
		log.Error().Msg("leader lease lost, stopping validator")
	}
	v.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("failed to shut down api server")
	}
	log.Info().Msg("validator stopped")
}
