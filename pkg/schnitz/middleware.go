package schnitz

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog/log"

	"github.com/orpheus-ai/zeus/pkg/signature"
)

// ZstdMiddleware decompresses zstd request bodies and compresses responses
// for clients that accept zstd.
func ZstdMiddleware(whitelistedRoutes []string) fiber.Handler {
	if whitelistedRoutes == nil {
		whitelistedRoutes = defaultWhitelist
	}

	// EncodeAll and DecodeAll are safe for concurrent use.
	encoder, encErr := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	decoder, decErr := zstd.NewReader(nil)
	if encErr != nil || decErr != nil {
		log.Error().AnErr("encoder", encErr).AnErr("decoder", decErr).Msg("Failed to create zstd codecs")
	}

	return func(c *fiber.Ctx) error {
		if whitelisted(whitelistedRoutes, c.Path()) {
			return c.Next()
		}

		if strings.EqualFold(c.Get(fiber.HeaderContentEncoding), "zstd") {
			if decoder == nil {
				return c.Status(fiber.StatusUnsupportedMediaType).JSON(
					createResponse(map[string]any{}, fmt.Errorf("zstd decoding unavailable")))
			}
			if body := c.Body(); len(body) > 0 {
				decompressed, err := decoder.DecodeAll(body, nil)
				if err != nil {
					log.Err(err).Msg("Failed to decompress request")
					return c.Status(fiber.StatusBadRequest).JSON(
						createResponse(map[string]any{}, fmt.Errorf("failed to decompress zstd data: %w", err)))
				}
				c.Request().SetBody(decompressed)
				c.Request().Header.Del(fiber.HeaderContentEncoding)
			}
		}

		if err := c.Next(); err != nil {
			return err
		}

		if encoder == nil || !strings.Contains(strings.ToLower(c.Get(fiber.HeaderAcceptEncoding)), "zstd") {
			return nil
		}
		responseBody := c.Response().Body()
		if len(responseBody) == 0 {
			return nil
		}
		compressed := encoder.EncodeAll(responseBody, nil)
		c.Response().SetBody(compressed)
		c.Set(fiber.HeaderContentEncoding, "zstd")
		c.Set(fiber.HeaderContentLength, strconv.Itoa(len(compressed)))

		log.Trace().
			Int("original_size", len(responseBody)).
			Int("compressed_size", len(compressed)).
			Msg("Response body compressed")
		return nil
	}
}

// SignatureMiddleware rejects requests whose x-signature does not prove
// ownership of the x-hotkey.
func SignatureMiddleware(signatureVerifier signature.Verifier, whitelistedRoutes []string) fiber.Handler {
	if whitelistedRoutes == nil {
		whitelistedRoutes = defaultWhitelist
	}

	return func(c *fiber.Ctx) error {
		if whitelisted(whitelistedRoutes, c.Path()) {
			return c.Next()
		}

		sig := c.Get(SignatureHeader)
		hotkey := c.Get(HotkeyHeader)
		message := c.Get(MessageHeader)

		if hotkey == "" || sig == "" || message == "" {
			errMsg := fmt.Sprintf("%s, missing headers, expected: %s, %s, %s",
				http.StatusText(http.StatusBadRequest),
				SignatureHeader, HotkeyHeader, MessageHeader)
			return c.Status(fiber.StatusBadRequest).JSON(
				createResponse(map[string]any{}, fmt.Errorf("%s", errMsg)))
		}

		ok, err := signature.VerifyOwnership(signatureVerifier, message, sig, hotkey)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(
				createResponse(map[string]any{}, fmt.Errorf("signature verification error: %w", err)))
		}
		if !ok {
			return c.Status(fiber.StatusForbidden).JSON(
				createResponse(map[string]any{}, fmt.Errorf("%s due to invalid signature", http.StatusText(http.StatusForbidden))))
		}

		log.Debug().Str("hotkey", hotkey).Str("path", c.Path()).Msg("Verified signature successfully")
		return c.Next()
	}
}
