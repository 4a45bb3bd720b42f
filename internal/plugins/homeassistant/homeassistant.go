// ABOUTME: Home Assistant provider speaking the REST API with bearer auth.
// ABOUTME: Exposes state queries and service calls against one configured instance.

package homeassistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cast"

	"github.com/toolgate/toolgate/internal/plugin"
)

// ProviderName is the registry name for this provider.
const ProviderName = "homeassistant"

// ErrMissingToken is returned from Init when no access token is configured.
var ErrMissingToken = errors.New("homeassistant: access token is required")

// Provider talks to a single Home Assistant instance.
type Provider struct {
	baseURL string
	token   string
	client  *http.Client
	logger  *slog.Logger
}

// Config contains configuration options for the Provider.
type Config struct {
	BaseURL string // e.g. "http://homeassistant.local:8123"
	Token   string // long-lived access token
	Logger  *slog.Logger
}

// New creates a Home Assistant provider.
func New(cfg Config) *Provider {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  logger,
	}
}

func (p *Provider) Name() string { return ProviderName }

func (p *Provider) Capabilities() []plugin.Capability {
	entityProp := map[string]any{
		"type":        "string",
		"description": "Entity ID, e.g. light.living_room",
	}
	return []plugin.Capability{
		{
			Name:        "get_states",
			Description: "List the current state of every entity",
			InputSchema: plugin.ObjectSchema(map[string]any{}),
		},
		{
			Name:        "get_state",
			Description: "Get the current state of one entity",
			InputSchema: plugin.ObjectSchema(map[string]any{
				"entity_id": entityProp,
			}, "entity_id"),
		},
		{
			Name:        "call_service",
			Description: "Call a Home Assistant service, e.g. light.turn_on",
			InputSchema: plugin.ObjectSchema(map[string]any{
				"domain": map[string]any{
					"type":        "string",
					"description": "Service domain, e.g. light",
				},
				"service": map[string]any{
					"type":        "string",
					"description": "Service name, e.g. turn_on",
				},
				"service_data": map[string]any{
					"type":        "object",
					"description": "Service call payload, typically including entity_id",
				},
			}, "domain", "service"),
		},
		{
			Name:        "get_services",
			Description: "List available service domains and their services",
			InputSchema: plugin.ObjectSchema(map[string]any{}),
		},
	}
}

// Init verifies the provider is usable. A missing token fails fast here so
// misconfiguration surfaces at registration, not on the first call.
func (p *Provider) Init(ctx context.Context) error {
	if p.token == "" {
		return ErrMissingToken
	}
	if p.baseURL == "" {
		return errors.New("homeassistant: base URL is required")
	}
	if _, err := url.Parse(p.baseURL); err != nil {
		return fmt.Errorf("homeassistant: invalid base URL: %w", err)
	}
	return nil
}

func (p *Provider) Shutdown(ctx context.Context) error {
	p.client.CloseIdleConnections()
	return nil
}

func (p *Provider) Execute(ctx context.Context, operation string, args map[string]any) (any, error) {
	switch operation {
	case "get_states":
		return p.get(ctx, "/api/states")
	case "get_state":
		entityID := cast.ToString(args["entity_id"])
		if entityID == "" {
			return nil, errors.New("entity_id is required")
		}
		return p.get(ctx, "/api/states/"+url.PathEscape(entityID))
	case "call_service":
		return p.callService(ctx, args)
	case "get_services":
		return p.get(ctx, "/api/services")
	default:
		return nil, fmt.Errorf("unknown operation %q", operation)
	}
}

func (p *Provider) callService(ctx context.Context, args map[string]any) (any, error) {
	domain := cast.ToString(args["domain"])
	service := cast.ToString(args["service"])
	if domain == "" || service == "" {
		return nil, errors.New("domain and service are required")
	}

	payload := args["service_data"]
	if payload == nil {
		payload = map[string]any{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding service data: %w", err)
	}

	path := fmt.Sprintf("/api/services/%s/%s", url.PathEscape(domain), url.PathEscape(service))
	return p.do(ctx, http.MethodPost, path, bytes.NewReader(body))
}

func (p *Provider) get(ctx context.Context, path string) (any, error) {
	return p.do(ctx, http.MethodGet, path, nil)
}

func (p *Provider) do(ctx context.Context, method, path string, body io.Reader) (any, error) {
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("home assistant request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		p.logger.Warn("home assistant error response",
			"method", method,
			"path", path,
			"status", resp.StatusCode,
		)
		return nil, fmt.Errorf("home assistant returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var result any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return result, nil
}
