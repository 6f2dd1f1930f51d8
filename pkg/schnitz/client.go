package schnitz

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog/log"

	"github.com/orpheus-ai/zeus/pkg/signature"
)

// ClientConfig configures a schnitz client.
type ClientConfig struct {
	Timeout time.Duration
	// Signer signs the ownership message for the client's hotkey.
	Signer signature.Signer
}

type Client struct {
	config      *ClientConfig
	restyClient *resty.Client
	encoder     *zstd.Encoder
	decoder     *zstd.Decoder
}

// NewClient creates a new schnitz client. Requests are always zstd-compressed.
func NewClient(config *ClientConfig) (*Client, error) {
	if config == nil {
		config = &ClientConfig{}
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultClientTimeout
	}

	restyClient := resty.New().
		SetTimeout(config.Timeout).
		SetJSONMarshaler(sonic.Marshal).
		SetJSONUnmarshaler(sonic.Unmarshal).
		SetHeader("Accept-Encoding", "zstd")

	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		encoder.Close()
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}

	return &Client{
		config:      config,
		restyClient: restyClient,
		encoder:     encoder,
		decoder:     decoder,
	}, nil
}

// Close cleans up client resources
func (c *Client) Close() {
	c.encoder.Close()
	c.decoder.Close()
}

// CreateAuthParams signs the ownership message for the configured hotkey.
func (c *Client) CreateAuthParams() (AuthParams, error) {
	if c.config.Signer == nil {
		return AuthParams{}, fmt.Errorf("signature provider not initialized - signer required in ClientConfig")
	}

	hotkey := c.config.Signer.Address()
	message := signature.OwnershipMessage(hotkey)
	sig, err := c.config.Signer.Sign(message)
	if err != nil {
		return AuthParams{}, fmt.Errorf("failed to sign message: %w", err)
	}

	return AuthParams{Hotkey: hotkey, Message: message, Signature: sig}, nil
}

func buildHeaders(auth AuthParams) map[string]string {
	return map[string]string{
		"Content-Type":     "application/json",
		"Content-Encoding": "zstd",
		"Accept-Encoding":  "zstd",
		SignatureHeader:    auth.Signature,
		MessageHeader:      auth.Message,
		HotkeyHeader:       auth.Hotkey,
	}
}

// SendContext posts request to the Req route at baseURL and decodes the
// StdResponse body. ctx cancels the in-flight request.
func SendContext[Req, Resp any](ctx context.Context, c *Client, baseURL string, request Req, auth AuthParams) (Resp, error) {
	var zero Resp
	endpoint := strings.TrimSuffix(baseURL, "/") + "/" + RouteName[Req]()

	jsonData, err := sonic.Marshal(request)
	if err != nil {
		return zero, fmt.Errorf("failed to marshal request: %w", err)
	}

	log.Trace().Str("endpoint", endpoint).Int("size", len(jsonData)).Msg("Sending request")

	resp, err := c.restyClient.R().
		SetContext(ctx).
		SetHeaders(buildHeaders(auth)).
		SetBody(c.encoder.EncodeAll(jsonData, nil)).
		Post(endpoint)
	if err != nil {
		return zero, fmt.Errorf("failed to make request: %w", err)
	}

	responseBody := resp.Body()
	if strings.EqualFold(resp.Header().Get("Content-Encoding"), "zstd") {
		responseBody, err = c.decoder.DecodeAll(responseBody, nil)
		if err != nil {
			return zero, fmt.Errorf("failed to decompress response: %w", err)
		}
	}

	if resp.IsError() {
		return zero, fmt.Errorf("HTTP error %d: %s", resp.StatusCode(), string(responseBody))
	}

	var std StdResponse[Resp]
	if err := sonic.Unmarshal(responseBody, &std); err != nil {
		return zero, fmt.Errorf("failed to unmarshal StdResponse: %w", err)
	}
	if std.Error != nil {
		return zero, fmt.Errorf("server error: %s", *std.Error)
	}
	return std.Body, nil
}

// Send is SendContext without cancellation beyond the client timeout.
func Send[Req, Resp any](c *Client, baseURL string, request Req, auth AuthParams) (Resp, error) {
	return SendContext[Req, Resp](context.Background(), c, baseURL, request, auth)
}
