// Package miner is a reference forecasting worker. It answers every request
// with a persistence forecast: the last observed frame, repeated.
package miner

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/orpheus-ai/zeus/internal/config"
	"github.com/orpheus-ai/zeus/pkg/schnitz"
	"github.com/orpheus-ai/zeus/pkg/synapse"
)

type Miner struct {
	server *schnitz.Server
	hotkey string
}

func NewMiner(cfg *config.MinerEnvConfig, hotkey string) (*Miner, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration cannot be nil")
	}

	srv := schnitz.NewServer(&schnitz.ServerConfig{
		Host:      cfg.Address,
		Port:      cfg.Port,
		BodyLimit: cfg.BodySizeLimit,
	})
	m := &Miner{server: srv, hotkey: hotkey}

	srv.App.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(synapse.HealthResponse{Status: "ok", Hotkey: m.hotkey})
	})
	schnitz.ServeRoute(srv, m.handleForecast)
	return m, nil
}

func (m *Miner) handleForecast(c *fiber.Ctx, req synapse.ForecastRequest) (synapse.ForecastResponse, error) {
	rc := schnitz.GetRequestContext(c)
	start := time.Now()

	pred, err := Persistence(req.Input, req.PredictHours)
	if err != nil {
		return synapse.ForecastResponse{}, err
	}

	log.Info().
		Str("challenge_id", req.ChallengeID).
		Str("validator", rc.Auth.Hotkey).
		Ints("shape", pred.Shape).
		Dur("took", time.Since(start)).
		Msg("served forecast")
	return synapse.ForecastResponse{ChallengeID: req.ChallengeID, Prediction: pred}, nil
}

// Persistence repeats the last frame of input, shaped (hours, ...), hours times.
func Persistence(input synapse.Tensor, hours int) (synapse.Tensor, error) {
	if hours <= 0 {
		return synapse.Tensor{}, fmt.Errorf("predict hours must be positive, got %d", hours)
	}
	if len(input.Shape) == 0 || input.Shape[0] <= 0 {
		return synapse.Tensor{}, fmt.Errorf("input has no frames")
	}

	frame := 1
	for _, d := range input.Shape[1:] {
		frame *= d
	}
	if frame*input.Shape[0] != len(input.Data) {
		return synapse.Tensor{}, fmt.Errorf("input shape %v does not hold %d values", input.Shape, len(input.Data))
	}

	last := input.Data[len(input.Data)-frame:]
	out := synapse.Tensor{
		Shape: append([]int{hours}, input.Shape[1:]...),
		Data:  make([]float64, 0, hours*frame),
	}
	for range hours {
		out.Data = append(out.Data, last...)
	}
	return out, nil
}

func (m *Miner) Addr() string {
	return m.server.Addr()
}

// Run serves until Stop is called.
func (m *Miner) Run() error {
	log.Info().Str("address", m.Addr()).Str("hotkey", m.hotkey).Msg("miner server starting")
	return m.server.Start()
}

func (m *Miner) Stop(ctx context.Context) error {
	if err := m.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown miner server: %w", err)
	}
	log.Info().Msg("miner stopped")
	return nil
}
