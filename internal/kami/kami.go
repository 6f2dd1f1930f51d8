// Package kami provides a Bittensor subtensor client which relies on Kami as the RPC endpoint.
package kami

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"github.com/orpheus-ai/zeus/internal/config"
)

// Kami is a client wrapper for the Kami HTTP API.
type Kami struct {
	client        *resty.Client
	WalletHotkey  string
	WalletColdkey string
	BaseURL       string
}

// NewKami creates a new Kami client using the provided environment configuration.
func NewKami(cfg *config.KamiEnvConfig) (*Kami, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration cannot be nil")
	}

	url := fmt.Sprintf("http://%s:%s", cfg.KamiHost, cfg.KamiPort)

	client := resty.New().
		SetBaseURL(url).
		SetJSONMarshaler(sonic.Marshal).
		SetJSONUnmarshaler(sonic.Unmarshal).
		SetTimeout(15 * time.Second)

	return &Kami{
		client:        client,
		WalletHotkey:  cfg.WalletHotkey,
		WalletColdkey: cfg.WalletColdkey,
		BaseURL:       url,
	}, nil
}

// SetBaseURL points the client at a different Kami endpoint.
func (k *Kami) SetBaseURL(url string) {
	k.BaseURL = url
	k.client.SetBaseURL(url)
}

func getJSON[T any](ctx context.Context, client *resty.Client, path string) (KamiResponse[T], error) {
	var result KamiResponse[T]
	resp, err := client.R().
		SetContext(ctx).
		SetResult(&result).
		Get(path)
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("get request failed")
		return KamiResponse[T]{}, fmt.Errorf("get %s: %w", path, err)
	}
	if resp.IsError() {
		log.Error().Int("status", resp.StatusCode()).Str("body", resp.String()).Str("path", path).Msg("get non-2xx")
		return KamiResponse[T]{}, fmt.Errorf("request returned status %d: %s", resp.StatusCode(), resp.String())
	}
	if result.Error != nil {
		log.Error().Interface("error", result.Error).Str("path", path).Msg("response contains error")
		return KamiResponse[T]{}, fmt.Errorf("response error: %v", result.Error)
	}
	return result, nil
}

// GetMetagraph fetches the subnet metagraph for the given netuid.
func (k *Kami) GetMetagraph(ctx context.Context, netuid int) (SubnetMetagraphResponse, error) {
	path := fmt.Sprintf("/chain/subnet-metagraph/%d", netuid)
	return getJSON[SubnetMetagraph](ctx, k.client, path)
}

// GetLatestBlock retrieves the latest block details from the chain.
func (k *Kami) GetLatestBlock(ctx context.Context) (LatestBlockResponse, error) {
	return getJSON[LatestBlock](ctx, k.client, "/chain/latest-block")
}

// GetKeyringPair returns information about the node's keyring pair.
func (k *Kami) GetKeyringPair(ctx context.Context) (KeyringPairInfoResponse, error) {
	return getJSON[KeyringPairInfo](ctx, k.client, "/substrate/keyring-pair-info")
}

// GetHotkey is the ss58 address of the keyring pair Kami signs with.
func (k *Kami) GetHotkey(ctx context.Context) (string, error) {
	pair, err := k.GetKeyringPair(ctx)
	if err != nil {
		return "", err
	}
	return pair.Data.KeyringPair.Address, nil
}
