package schnitz

import (
	"bytes"
	"errors"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/gofiber/fiber/v2"
	"github.com/klauspost/compress/zstd"
)

// Mock signature verifier for testing
type MockSignatureVerifier struct {
	shouldVerify bool
	shouldError  bool
}

func (m *MockSignatureVerifier) Verify(message, signature, hotkey string) (bool, error) {
	if m.shouldError {
		return false, errors.New("verification error")
	}
	return m.shouldVerify, nil
}

type TestRequest struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

type TestResponse struct {
	Doubled int `json:"doubled"`
}

func createTestServerWithoutMiddleware() *Server {
	config := &ServerConfig{Host: "localhost", Port: 8080, BodyLimit: DefaultBodyLimit}
	app := fiber.New(fiber.Config{ErrorHandler: fiberErrHandler, BodyLimit: config.BodyLimit})
	return &Server{App: app, config: config}
}

func decodeStd[T any](t *testing.T, body io.Reader) StdResponse[T] {
	t.Helper()
	raw, _ := io.ReadAll(body)
	var response StdResponse[T]
	if err := sonic.Unmarshal(raw, &response); err != nil {
		t.Fatalf("Failed to unmarshal response %q: %v", raw, err)
	}
	return response
}

func TestNewServer(t *testing.T) {
	t.Run("creates server with default config when nil config passed", func(t *testing.T) {
		server := NewServer(nil)
		if server.App == nil {
			t.Fatal("Expected server.App to be initialized")
		}
		if server.config.Host != DefaultServerHost {
			t.Errorf("Expected host %s, got %s", DefaultServerHost, server.config.Host)
		}
		if server.config.Port != DefaultServerPort {
			t.Errorf("Expected port %d, got %d", DefaultServerPort, server.config.Port)
		}
		if server.config.BodyLimit != DefaultBodyLimit {
			t.Errorf("Expected body limit %d, got %d", DefaultBodyLimit, server.config.BodyLimit)
		}
		if server.config.Verifier == nil {
			t.Error("Expected default verifier")
		}
	})

	t.Run("uses provided config when passed", func(t *testing.T) {
		server := NewServer(&ServerConfig{Host: "127.0.0.1", Port: 9999, BodyLimit: 1024})
		if server.Addr() != "127.0.0.1:9999" {
			t.Errorf("Expected addr 127.0.0.1:9999, got %s", server.Addr())
		}
		if server.config.BodyLimit != 1024 {
			t.Errorf("Expected body limit 1024, got %d", server.config.BodyLimit)
		}
	})
}

func TestFiberErrHandler(t *testing.T) {
	t.Run("handles fiber.Error correctly", func(t *testing.T) {
		server := NewServer(&ServerConfig{Host: "localhost", Port: 8080})
		server.App.Get("/health", func(c *fiber.Ctx) error {
			return fiber.NewError(fiber.StatusBadRequest, "test error")
		})

		resp, err := server.App.Test(httptest.NewRequest("GET", "/health", nil))
		if err != nil {
			t.Fatalf("Failed to execute request: %v", err)
		}
		if resp.StatusCode != fiber.StatusBadRequest {
			t.Errorf("Expected status code %d, got %d", fiber.StatusBadRequest, resp.StatusCode)
		}
		response := decodeStd[map[string]any](t, resp.Body)
		if response.Error == nil || *response.Error != "test error" {
			t.Errorf("Expected error message 'test error', got %v", response.Error)
		}
	})

	t.Run("handles generic error correctly", func(t *testing.T) {
		server := NewServer(&ServerConfig{Host: "localhost", Port: 8080})
		server.App.Post("/docs", func(c *fiber.Ctx) error {
			return errors.New("generic error")
		})

		resp, err := server.App.Test(httptest.NewRequest("POST", "/docs", nil))
		if err != nil {
			t.Fatalf("Failed to execute request: %v", err)
		}
		if resp.StatusCode != fiber.StatusInternalServerError {
			t.Errorf("Expected status code %d, got %d", fiber.StatusInternalServerError, resp.StatusCode)
		}
		response := decodeStd[map[string]any](t, resp.Body)
		if response.Error == nil || *response.Error != "generic error" {
			t.Errorf("Expected error message 'generic error', got %v", response.Error)
		}
	})
}

func TestServeRoute(t *testing.T) {
	double := func(c *fiber.Ctx, req TestRequest) (TestResponse, error) {
		return TestResponse{Doubled: req.Value * 2}, nil
	}

	t.Run("routes by request type name", func(t *testing.T) {
		server := createTestServerWithoutMiddleware()
		ServeRoute(server, double)

		body, _ := sonic.Marshal(TestRequest{Name: "test", Value: 5})
		req := httptest.NewRequest("POST", "/TestRequest", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")

		resp, err := server.App.Test(req)
		if err != nil {
			t.Fatalf("Failed to execute request: %v", err)
		}
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("Expected status code %d, got %d", fiber.StatusOK, resp.StatusCode)
		}
		response := decodeStd[TestResponse](t, resp.Body)
		if response.Error != nil {
			t.Errorf("Expected no error in response, got %s", *response.Error)
		}
		if response.Body.Doubled != 10 {
			t.Errorf("Expected 10, got %d", response.Body.Doubled)
		}
	})

	t.Run("handles invalid JSON request body", func(t *testing.T) {
		server := createTestServerWithoutMiddleware()
		ServeRoute(server, double)

		req := httptest.NewRequest("POST", "/TestRequest", bytes.NewReader([]byte("invalid json")))
		req.Header.Set("Content-Type", "application/json")
		resp, err := server.App.Test(req)
		if err != nil {
			t.Fatalf("Failed to execute request: %v", err)
		}
		if resp.StatusCode != fiber.StatusBadRequest {
			t.Errorf("Expected status code %d, got %d", fiber.StatusBadRequest, resp.StatusCode)
		}
	})

	t.Run("handles handler error", func(t *testing.T) {
		server := createTestServerWithoutMiddleware()
		ServeRoute(server, func(c *fiber.Ctx, req TestRequest) (TestResponse, error) {
			return TestResponse{}, errors.New("handler error")
		})

		body, _ := sonic.Marshal(TestRequest{Name: "test", Value: 5})
		req := httptest.NewRequest("POST", "/TestRequest", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		resp, err := server.App.Test(req)
		if err != nil {
			t.Fatalf("Failed to execute request: %v", err)
		}
		if resp.StatusCode != fiber.StatusInternalServerError {
			t.Errorf("Expected status code %d, got %d", fiber.StatusInternalServerError, resp.StatusCode)
		}
		response := decodeStd[TestResponse](t, resp.Body)
		if response.Error == nil || *response.Error != "handler error" {
			t.Errorf("Expected error message 'handler error', got %v", response.Error)
		}
	})
}

func TestSignatureMiddleware(t *testing.T) {
	newApp := func(v *MockSignatureVerifier) *fiber.App {
		app := fiber.New(fiber.Config{ErrorHandler: fiberErrHandler})
		app.Use(SignatureMiddleware(v, nil))
		app.Post("/Thing", func(c *fiber.Ctx) error { return c.SendString("ok") })
		app.Get("/health", func(c *fiber.Ctx) error { return c.SendString("ok") })
		return app
	}
	cases := []struct {
		name     string
		verifier *MockSignatureVerifier
		path     string
		headers  map[string]string
		want     int
	}{
		{name: "whitelisted route skips checks", verifier: &MockSignatureVerifier{}, path: "/health", want: fiber.StatusOK},
		{name: "missing headers", verifier: &MockSignatureVerifier{shouldVerify: true}, path: "/Thing", want: fiber.StatusBadRequest},
		{
			name: "invalid signature", verifier: &MockSignatureVerifier{shouldVerify: false}, path: "/Thing",
			headers: map[string]string{HotkeyHeader: "hk", MessageHeader: "I swear that I am the owner of hotkey:hk", SignatureHeader: "0x00"},
			want:    fiber.StatusForbidden,
		},
		{
			name: "message for another hotkey", verifier: &MockSignatureVerifier{shouldVerify: true}, path: "/Thing",
			headers: map[string]string{HotkeyHeader: "hk", MessageHeader: "I swear that I am the owner of hotkey:other", SignatureHeader: "0x00"},
			want:    fiber.StatusUnauthorized,
		},
		{
			name: "verifier error", verifier: &MockSignatureVerifier{shouldError: true}, path: "/Thing",
			headers: map[string]string{HotkeyHeader: "hk", MessageHeader: "I swear that I am the owner of hotkey:hk", SignatureHeader: "0x00"},
			want:    fiber.StatusUnauthorized,
		},
		{
			name: "valid signature", verifier: &MockSignatureVerifier{shouldVerify: true}, path: "/Thing",
			headers: map[string]string{HotkeyHeader: "hk", MessageHeader: "I swear that I am the owner of hotkey:hk", SignatureHeader: "0x00"},
			want:    fiber.StatusOK,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			method := "POST"
			if tc.path == "/health" {
				method = "GET"
			}
			req := httptest.NewRequest(method, tc.path, nil)
			for k, v := range tc.headers {
				req.Header.Set(k, v)
			}
			resp, err := newApp(tc.verifier).Test(req)
			if err != nil {
				t.Fatalf("Failed to execute request: %v", err)
			}
			if resp.StatusCode != tc.want {
				t.Errorf("Expected status %d, got %d", tc.want, resp.StatusCode)
			}
		})
	}
}

func TestZstdMiddleware(t *testing.T) {
	app := fiber.New()
	app.Use(ZstdMiddleware(nil))
	app.Post("/Echo", func(c *fiber.Ctx) error { return c.Send(c.Body()) })

	enc, _ := zstd.NewWriter(nil)
	dec, _ := zstd.NewReader(nil)
	defer enc.Close()
	defer dec.Close()

	payload := []byte(`{"name":"compressed"}`)
	req := httptest.NewRequest("POST", "/Echo", bytes.NewReader(enc.EncodeAll(payload, nil)))
	req.Header.Set("Content-Encoding", "zstd")
	req.Header.Set("Accept-Encoding", "zstd")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("Failed to execute request: %v", err)
	}
	if resp.Header.Get("Content-Encoding") != "zstd" {
		t.Fatalf("Expected zstd response, got %q", resp.Header.Get("Content-Encoding"))
	}
	raw, _ := io.ReadAll(resp.Body)
	out, err := dec.DecodeAll(raw, nil)
	if err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if !bytes.Equal(out, payload) {
		t.Errorf("Expected echo %q, got %q", payload, out)
	}

	bad := httptest.NewRequest("POST", "/Echo", bytes.NewReader([]byte("not zstd")))
	bad.Header.Set("Content-Encoding", "zstd")
	resp, err = app.Test(bad)
	if err != nil {
		t.Fatalf("Failed to execute request: %v", err)
	}
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Errorf("Expected status %d for corrupt body, got %d", fiber.StatusBadRequest, resp.StatusCode)
	}
}

func BenchmarkServeRoute(b *testing.B) {
	server := createTestServerWithoutMiddleware()
	ServeRoute(server, func(c *fiber.Ctx, req TestRequest) (TestResponse, error) {
		return TestResponse{Doubled: req.Value * 2}, nil
	})

	body, _ := sonic.Marshal(TestRequest{Name: "benchmark", Value: 42})

	for b.Loop() {
		req := httptest.NewRequest("POST", "/TestRequest", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		_, _ = server.App.Test(req)
	}
}
