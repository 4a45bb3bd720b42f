// ABOUTME: Tests for the gateway's REST endpoints and CORS behavior.
// ABOUTME: Exercises handlers through the full middleware stack with httptest.

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolgate/toolgate/internal/config"
	"github.com/toolgate/toolgate/internal/contextstore"
	"github.com/toolgate/toolgate/internal/plugin"
	"github.com/toolgate/toolgate/internal/protocol"
	"github.com/toolgate/toolgate/internal/registry"
)

type stubProvider struct {
	exec func(ctx context.Context, operation string, args map[string]any) (any, error)
}

func (stubProvider) Name() string { return "stub" }

func (stubProvider) Capabilities() []plugin.Capability {
	return []plugin.Capability{{
		Name:        "run",
		Description: "stub operation",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"n":{"type":"integer"}}}`),
	}}
}

func (stubProvider) Init(ctx context.Context) error     { return nil }
func (stubProvider) Shutdown(ctx context.Context) error { return nil }

func (s stubProvider) Execute(ctx context.Context, operation string, args map[string]any) (any, error) {
	if s.exec != nil {
		return s.exec(ctx, operation, args)
	}
	return map[string]any{"ran": true}, nil
}

type gatewayOptions struct {
	exec    func(ctx context.Context, operation string, args map[string]any) (any, error)
	timeout time.Duration
	browser contextstore.Browser
	cors    config.CORSConfig
}

func newTestGateway(t *testing.T, opts gatewayOptions) *Gateway {
	t.Helper()

	reg := registry.New(registry.Config{Logger: slog.Default()})
	require.NoError(t, reg.Register(context.Background(), stubProvider{exec: opts.exec}))

	dispatcher := protocol.NewDispatcher(protocol.DispatcherConfig{
		Registry:       reg,
		Logger:         slog.Default(),
		ExecuteTimeout: opts.timeout,
	})

	cfg := config.Default()
	cfg.CORS = opts.cors

	gw, err := New(NewConfig{
		Config:     cfg,
		Registry:   reg,
		Dispatcher: dispatcher,
		Browser:    opts.browser,
		Logger:     slog.Default(),
		Version:    "test",
	})
	require.NoError(t, err)
	return gw
}

func doRequest(gw *Gateway, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHandleHealth(t *testing.T) {
	gw := newTestGateway(t, gatewayOptions{})

	rec := doRequest(gw, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var health HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "test", health.Version)
}

func TestHandleCapabilities(t *testing.T) {
	gw := newTestGateway(t, gatewayOptions{})

	rec := doRequest(gw, http.MethodGet, "/capabilities", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var listing CapabilitiesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	require.Len(t, listing.Capabilities, 1)
	assert.Equal(t, "stub.run", listing.Capabilities[0].Name)
	assert.Equal(t, "stub operation", listing.Capabilities[0].Description)
	assert.NotEmpty(t, listing.Capabilities[0].InputSchema)
}

func TestHandleInvoke(t *testing.T) {
	t.Run("successful invocation returns text content", func(t *testing.T) {
		gw := newTestGateway(t, gatewayOptions{})

		rec := doRequest(gw, http.MethodPost, "/invoke", `{"tool_name":"stub","arguments":{"n":1}}`)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp InvokeResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.True(t, resp.Success)
		assert.Nil(t, resp.Error)
		require.Len(t, resp.Content, 1)
		assert.Equal(t, "text", resp.Content[0].Type)
		assert.Contains(t, resp.Content[0].Text, `"ran":true`)
	})

	t.Run("unknown tool returns 400", func(t *testing.T) {
		gw := newTestGateway(t, gatewayOptions{})

		rec := doRequest(gw, http.MethodPost, "/invoke", `{"tool_name":"ghost"}`)
		require.Equal(t, http.StatusBadRequest, rec.Code)

		var resp InvokeResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.False(t, resp.Success)
		require.NotNil(t, resp.Error)
		assert.Contains(t, *resp.Error, "capability not found")
		assert.Nil(t, resp.Content)
	})

	t.Run("invalid arguments return 400", func(t *testing.T) {
		gw := newTestGateway(t, gatewayOptions{})

		rec := doRequest(gw, http.MethodPost, "/invoke", `{"tool_name":"stub.run","arguments":{"n":"NaN"}}`)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("provider failure returns 500", func(t *testing.T) {
		gw := newTestGateway(t, gatewayOptions{
			exec: func(ctx context.Context, op string, args map[string]any) (any, error) {
				return nil, errors.New("backend down")
			},
		})

		rec := doRequest(gw, http.MethodPost, "/invoke", `{"tool_name":"stub"}`)
		require.Equal(t, http.StatusInternalServerError, rec.Code)

		var resp InvokeResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.False(t, resp.Success)
	})

	t.Run("timeout returns 500", func(t *testing.T) {
		gw := newTestGateway(t, gatewayOptions{
			timeout: 50 * time.Millisecond,
			exec: func(ctx context.Context, op string, args map[string]any) (any, error) {
				<-ctx.Done()
				return nil, ctx.Err()
			},
		})

		rec := doRequest(gw, http.MethodPost, "/invoke", `{"tool_name":"stub"}`)
		require.Equal(t, http.StatusInternalServerError, rec.Code)
	})

	t.Run("missing tool_name returns 400", func(t *testing.T) {
		gw := newTestGateway(t, gatewayOptions{})
		rec := doRequest(gw, http.MethodPost, "/invoke", `{"arguments":{}}`)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("invalid JSON body returns 400", func(t *testing.T) {
		gw := newTestGateway(t, gatewayOptions{})
		rec := doRequest(gw, http.MethodPost, "/invoke", "{nope")
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("GET is rejected", func(t *testing.T) {
		gw := newTestGateway(t, gatewayOptions{})
		rec := doRequest(gw, http.MethodGet, "/invoke", "")
		require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

func TestHandleInteractions(t *testing.T) {
	t.Run("returns recorded interactions", func(t *testing.T) {
		store, err := contextstore.NewSQLiteStore(":memory:")
		require.NoError(t, err)
		defer store.Close()

		require.NoError(t, store.Record(context.Background(), "stub.run", true, 12*time.Millisecond))

		gw := newTestGateway(t, gatewayOptions{browser: store})

		rec := doRequest(gw, http.MethodGet, "/interactions?limit=5", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var resp InteractionsResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Len(t, resp.Interactions, 1)
		assert.Equal(t, "stub.run", resp.Interactions[0].Method)
		assert.True(t, resp.Interactions[0].Success)
	})

	t.Run("applies the default limit when none is given", func(t *testing.T) {
		store, err := contextstore.NewSQLiteStore(":memory:")
		require.NoError(t, err)
		defer store.Close()

		for i := 0; i < 3; i++ {
			require.NoError(t, store.Record(context.Background(), "stub.run", true, time.Millisecond))
		}

		gw := newTestGateway(t, gatewayOptions{browser: store})
		rec := doRequest(gw, http.MethodGet, "/interactions", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var resp InteractionsResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Len(t, resp.Interactions, 3)
	})

	t.Run("caps oversized limits instead of rejecting them", func(t *testing.T) {
		store, err := contextstore.NewSQLiteStore(":memory:")
		require.NoError(t, err)
		defer store.Close()

		gw := newTestGateway(t, gatewayOptions{browser: store})
		rec := doRequest(gw, http.MethodGet, "/interactions?limit=5000", "")
		require.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("rejects a non-numeric limit", func(t *testing.T) {
		store, err := contextstore.NewSQLiteStore(":memory:")
		require.NoError(t, err)
		defer store.Close()

		gw := newTestGateway(t, gatewayOptions{browser: store})
		rec := doRequest(gw, http.MethodGet, "/interactions?limit=lots", "")
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("404 when no store is configured", func(t *testing.T) {
		gw := newTestGateway(t, gatewayOptions{})
		rec := doRequest(gw, http.MethodGet, "/interactions", "")
		require.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestCORS(t *testing.T) {
	corsAll := config.CORSConfig{AllowedOrigins: []string{"*"}}
	corsOff := false

	t.Run("adds CORS headers for allowed origins", func(t *testing.T) {
		gw := newTestGateway(t, gatewayOptions{cors: corsAll})

		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("Origin", "http://example.com")
		rec := httptest.NewRecorder()
		gw.Handler().ServeHTTP(rec, req)

		assert.Equal(t, "http://example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("answers preflight with 204", func(t *testing.T) {
		gw := newTestGateway(t, gatewayOptions{cors: corsAll})

		req := httptest.NewRequest(http.MethodOptions, "/invoke", nil)
		req.Header.Set("Origin", "http://example.com")
		rec := httptest.NewRecorder()
		gw.Handler().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")
	})

	t.Run("CORS is on by default", func(t *testing.T) {
		gw := newTestGateway(t, gatewayOptions{})

		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("Origin", "http://example.com")
		rec := httptest.NewRecorder()
		gw.Handler().ServeHTTP(rec, req)

		assert.Equal(t, "http://example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("omits headers for disallowed origins", func(t *testing.T) {
		gw := newTestGateway(t, gatewayOptions{cors: config.CORSConfig{
			AllowedOrigins: []string{"http://trusted.example"},
		}})

		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("Origin", "http://evil.example")
		rec := httptest.NewRecorder()
		gw.Handler().ServeHTTP(rec, req)

		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("no CORS headers when disabled", func(t *testing.T) {
		gw := newTestGateway(t, gatewayOptions{cors: config.CORSConfig{Enabled: &corsOff}})

		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("Origin", "http://example.com")
		rec := httptest.NewRecorder()
		gw.Handler().ServeHTTP(rec, req)

		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})
}
