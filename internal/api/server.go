// Package api serves the validator's reputation state over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/bytedance/sonic"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog/log"

	"github.com/orpheus-ai/zeus/internal/forecast"
	"github.com/orpheus-ai/zeus/internal/reputation"
)

// Ranking is implemented by the validator.
type Ranking interface {
	TopPerformers(n int) ([]reputation.Ranked, error)
	Scores() ([]forecast.ScoreRecord, error)
}

type Config struct {
	Host string
	Port int
	// DefaultTop is used when /top-performers has no n.
	DefaultTop int
	Hotkey     string
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
}

type HealthResponse struct {
	Status string `json:"status"`
	Hotkey string `json:"hotkey,omitempty"`
}

type Performer struct {
	UID    int     `json:"uid"`
	Hotkey string  `json:"hotkey"`
	Score  float64 `json:"score"`
}

type Server struct {
	App     *fiber.App
	cfg     Config
	ranking Ranking
}

func NewServer(cfg Config, ranking Ranking) (*Server, error) {
	if ranking == nil {
		return nil, fmt.Errorf("ranking cannot be nil")
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          errHandler,
		JSONEncoder:           sonic.Marshal,
		JSONDecoder:           sonic.Unmarshal,
	})
	app.Use(recover.New())

	s := &Server{App: app, cfg: cfg, ranking: ranking}
	app.Get("/health", s.health)
	app.Get("/top-performers", s.topPerformers)
	app.Get("/scores", s.scores)
	if cfg.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(cfg.Metrics))
	}
	return s, nil
}

func errHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
	}
	log.Error().Err(err).Int("status_code", code).Str("path", c.Path()).Msg("api request failed")
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}

func (s *Server) health(c *fiber.Ctx) error {
	return c.JSON(HealthResponse{Status: "ok", Hotkey: s.cfg.Hotkey})
}

func (s *Server) topPerformers(c *fiber.Ctx) error {
	n := s.cfg.DefaultTop
	if raw := c.Query("n"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			return fiber.NewError(fiber.StatusBadRequest, "n must be a non-negative integer")
		}
		n = v
	}

	ranked, err := s.ranking.TopPerformers(n)
	if err != nil {
		return fmt.Errorf("rank workers: %w", err)
	}
	out := make([]Performer, 0, len(ranked))
	for _, r := range ranked {
		out = append(out, Performer{UID: r.Worker.UID, Hotkey: r.Worker.Hotkey, Score: r.Score})
	}
	return c.JSON(out)
}

func (s *Server) scores(c *fiber.Ctx) error {
	records, err := s.ranking.Scores()
	if err != nil {
		return fmt.Errorf("read scores: %w", err)
	}
	if records == nil {
		records = []forecast.ScoreRecord{}
	}
	return c.JSON(records)
}

func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
}

func (s *Server) Start() error {
	log.Info().Str("addr", s.Addr()).Msg("starting api server")
	return s.App.Listen(s.Addr())
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.App.ShutdownWithContext(ctx)
}
