package schnitz

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/orpheus-ai/zeus/pkg/signature"
)

const (
	SignatureHeader string = "x-signature"
	HotkeyHeader    string = "x-hotkey"
	MessageHeader   string = "x-message"

	// Server defaults
	DefaultServerHost = "0.0.0.0"
	DefaultServerPort = 8888
	DefaultBodyLimit  = 16 * 1024 * 1024 // forecast grids are large

	// Client defaults
	DefaultClientTimeout = 30 * time.Second
)

var defaultWhitelist = []string{"/docs", "/health"}

// Server represents the messaging server
type Server struct {
	App    *fiber.App
	config *ServerConfig
}

type ServerConfig struct {
	Host      string
	Port      int
	BodyLimit int
	// Verifier checks request signatures; the sr25519 verifier when nil.
	Verifier signature.Verifier
	// WhitelistedRoutes skip signature checks and zstd handling.
	WhitelistedRoutes []string
}

// StdResponse represents the standardized response structure
type StdResponse[T any] struct {
	Body  T       `json:"body"`
	Error *string `json:"error,omitempty"`
}

// AuthParams holds authentication parameters for requests
type AuthParams struct {
	Hotkey    string `validate:"required,len=48"`
	Message   string `validate:"required,min=1"`
	Signature string `validate:"required,startswith=0x,len=130"`
}

// RequestContext wraps fiber.Ctx to provide easy header access
type RequestContext struct {
	c    *fiber.Ctx
	Auth AuthParams
}

// RouterHandler handles one typed route. Req selects the route path.
type RouterHandler[Req, Resp any] func(*fiber.Ctx, Req) (Resp, error)
