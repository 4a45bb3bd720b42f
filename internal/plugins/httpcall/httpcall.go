// ABOUTME: Outbound HTTP request provider with method, header, and body control.
// ABOUTME: Enforces per-request timeouts and a response size cap from config.

package httpcall

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cast"

	"github.com/toolgate/toolgate/internal/plugin"
)

// ProviderName is the registry name for this provider.
const ProviderName = "http_request"

// defaultTimeout applies when the caller does not pass one.
const defaultTimeout = 30 * time.Second

var allowedMethods = []string{
	http.MethodGet, http.MethodPost, http.MethodPut,
	http.MethodDelete, http.MethodPatch,
}

// Provider performs HTTP requests on behalf of callers. One shared client is
// reused across invocations; per-request timeouts ride on the context.
type Provider struct {
	client     *http.Client
	maxTimeout time.Duration
	maxBody    int64
	logger     *slog.Logger
}

// Config contains configuration options for the Provider.
type Config struct {
	MaxTimeout time.Duration // ceiling on caller-supplied timeouts
	MaxBody    int64         // response body cap in bytes
	Logger     *slog.Logger
}

// New creates an HTTP request provider.
func New(cfg Config) *Provider {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxTimeout := cfg.MaxTimeout
	if maxTimeout == 0 {
		maxTimeout = 60 * time.Second
	}
	maxBody := cfg.MaxBody
	if maxBody == 0 {
		maxBody = 1 << 20
	}
	return &Provider{
		client:     &http.Client{},
		maxTimeout: maxTimeout,
		maxBody:    maxBody,
		logger:     logger,
	}
}

func (p *Provider) Name() string { return ProviderName }

func (p *Provider) Capabilities() []plugin.Capability {
	return []plugin.Capability{
		{
			Name:        "request",
			Description: "Perform an HTTP request and return status, headers, and body",
			InputSchema: plugin.ObjectSchema(map[string]any{
				"method": map[string]any{
					"type":        "string",
					"description": "HTTP method",
					"enum":        allowedMethods,
				},
				"url": map[string]any{
					"type":        "string",
					"description": "Target URL, http or https",
				},
				"headers": map[string]any{
					"type":        "object",
					"description": "Request headers as string key-value pairs",
				},
				"body": map[string]any{
					"type":        "string",
					"description": "Request body",
				},
				"timeout": map[string]any{
					"type":        "number",
					"description": "Request timeout in seconds",
				},
			}, "url"),
		},
	}
}

func (p *Provider) Init(ctx context.Context) error     { return nil }
func (p *Provider) Shutdown(ctx context.Context) error { return nil }

func (p *Provider) Execute(ctx context.Context, operation string, args map[string]any) (any, error) {
	if operation != "request" {
		return nil, fmt.Errorf("unknown operation %q", operation)
	}

	method := strings.ToUpper(cast.ToString(args["method"]))
	if method == "" {
		method = http.MethodGet
	}
	if !slices.Contains(allowedMethods, method) {
		return nil, fmt.Errorf("unsupported method %q", method)
	}

	rawURL := cast.ToString(args["url"])
	target, err := url.Parse(rawURL)
	if err != nil || (target.Scheme != "http" && target.Scheme != "https") {
		return nil, fmt.Errorf("invalid url %q", rawURL)
	}

	timeout := defaultTimeout
	if secs := cast.ToFloat64(args["timeout"]); secs > 0 {
		timeout = time.Duration(secs * float64(time.Second))
	}
	timeout = min(timeout, p.maxTimeout)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var bodyReader io.Reader
	if body := cast.ToString(args["body"]); body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), bodyReader)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	for name, value := range cast.ToStringMapString(args["headers"]) {
		req.Header.Set(name, value)
	}

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, p.maxBody))
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	p.logger.Debug("outbound request complete",
		"method", method,
		"url", target.String(),
		"status", resp.StatusCode,
		"latency", time.Since(start),
	)

	headers := make(map[string]string, len(resp.Header))
	for name := range resp.Header {
		headers[name] = resp.Header.Get(name)
	}

	return map[string]any{
		"status":      resp.StatusCode,
		"status_text": http.StatusText(resp.StatusCode),
		"headers":     headers,
		"body":        string(body),
	}, nil
}
