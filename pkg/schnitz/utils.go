package schnitz

import (
	"reflect"
	"slices"

	"github.com/gofiber/fiber/v2"
)

// createResponse creates a StdResponse with the given body and error
func createResponse[T any](body T, err error) StdResponse[T] {
	if err != nil {
		errMsg := err.Error()
		return StdResponse[T]{Body: body, Error: &errMsg}
	}
	return StdResponse[T]{Body: body}
}

// RouteName is the path segment a request type is served under.
func RouteName[T any]() string {
	t := reflect.TypeFor[T]()
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Name()
}

// GetRequestContext extracts the auth headers from the request for your own
// business specific logic
func GetRequestContext(c *fiber.Ctx) *RequestContext {
	return &RequestContext{
		c: c,
		Auth: AuthParams{
			Hotkey:    c.Get(HotkeyHeader),
			Message:   c.Get(MessageHeader),
			Signature: c.Get(SignatureHeader),
		},
	}
}

func whitelisted(routes []string, path string) bool {
	return slices.Contains(routes, path)
}
