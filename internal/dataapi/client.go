// Package dataapi is the HTTP client for the ERA5 sampling service.
package dataapi

import (
	"context"
	"fmt"
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"github.com/orpheus-ai/zeus/internal/challenge"
	"github.com/orpheus-ai/zeus/internal/config"
	"github.com/orpheus-ai/zeus/internal/forecast"
)

// statusTooEarly is sent while a window is still being published.
const statusTooEarly = 425

type Client struct {
	cfg    *config.DataAPIEnvConfig
	client *resty.Client
}

func NewClient(cfg *config.DataAPIEnvConfig) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration cannot be nil")
	}

	client := resty.New().
		SetBaseURL(cfg.DataAPIURL).
		SetJSONMarshaler(sonic.Marshal).
		SetJSONUnmarshaler(sonic.Unmarshal).
		SetTimeout(cfg.DataAPITimeout)
	if cfg.DataAPIKey != "" {
		client.SetHeader("X-API-Key", cfg.DataAPIKey)
	}

	return &Client{cfg: cfg, client: client}, nil
}

func (c *Client) GetSample(ctx context.Context) (forecast.Challenge, error) {
	var out SampleResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/sample")
	if err := check("sample", resp, err, out.Success, out.Error); err != nil {
		return forecast.Challenge{}, err
	}
	return out.Data.challenge(), nil
}

func (c *Client) GetGroundTruth(ctx context.Context, ch forecast.Challenge) (forecast.Grid, error) {
	return c.postGrid(ctx, "/ground-truth", ch)
}

func (c *Client) GetDifficulty(ctx context.Context, ch forecast.Challenge) (forecast.Grid, error) {
	return c.postGrid(ctx, "/difficulty", ch)
}

func (c *Client) postGrid(ctx context.Context, path string, ch forecast.Challenge) (forecast.Grid, error) {
	var out GridResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(windowOf(ch)).
		SetResult(&out).
		Post(path)
	if err := check(path, resp, err, out.Success, out.Error); err != nil {
		return forecast.Grid{}, fmt.Errorf("challenge %s: %w", ch.ID, err)
	}
	if !out.Data.Valid() {
		return forecast.Grid{}, fmt.Errorf("%w: %s returned shape %v with %d values",
			challenge.ErrSourceUnavailable, path, out.Data.Shape, len(out.Data.Data))
	}
	return out.Data, nil
}

func check(name string, resp *resty.Response, err error, success bool, apiErr string) error {
	if err != nil {
		log.Error().Err(err).Str("endpoint", name).Msg("data api request failed")
		return fmt.Errorf("%w: %s: %w", challenge.ErrSourceUnavailable, name, err)
	}
	switch code := resp.StatusCode(); {
	case code == http.StatusNotFound || code == statusTooEarly:
		return fmt.Errorf("%w: %s status %d", challenge.ErrGroundTruthNotReady, name, code)
	case resp.IsError():
		log.Error().Int("status", code).Str("body", resp.String()).Str("endpoint", name).Msg("data api non-2xx")
		return fmt.Errorf("%w: %s status %d: %s", challenge.ErrSourceUnavailable, name, code, resp.String())
	}
	if !success {
		return fmt.Errorf("%w: %s api returned success=false: %s", challenge.ErrSourceUnavailable, name, apiErr)
	}
	return nil
}
