// ABOUTME: Tests for the dispatcher's routing, validation, and timeout behavior.
// ABOUTME: Validates the one-response guarantee across every failure mode.

package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/toolgate/toolgate/internal/plugin"
	"github.com/toolgate/toolgate/internal/registry"
)

// echoProvider is a test provider with a pluggable execute function.
type echoProvider struct {
	name string
	ops  []string
	exec func(ctx context.Context, operation string, args map[string]any) (any, error)
}

func (e *echoProvider) Name() string { return e.name }

func (e *echoProvider) Capabilities() []plugin.Capability {
	caps := make([]plugin.Capability, 0, len(e.ops))
	for _, op := range e.ops {
		caps = append(caps, plugin.Capability{
			Name:        op,
			InputSchema: json.RawMessage(`{"type":"object"}`),
		})
	}
	return caps
}

func (e *echoProvider) Init(ctx context.Context) error     { return nil }
func (e *echoProvider) Shutdown(ctx context.Context) error { return nil }

func (e *echoProvider) Execute(ctx context.Context, operation string, args map[string]any) (any, error) {
	if e.exec != nil {
		return e.exec(ctx, operation, args)
	}
	return map[string]any{"operation": operation}, nil
}

func newTestDispatcher(t *testing.T, timeout time.Duration, providers ...*echoProvider) *Dispatcher {
	t.Helper()
	reg := registry.New(registry.Config{Logger: slog.Default()})
	for _, p := range providers {
		if err := reg.Register(context.Background(), p); err != nil {
			t.Fatalf("registering %s: %v", p.name, err)
		}
	}
	return NewDispatcher(DispatcherConfig{
		Registry:       reg,
		Logger:         slog.Default(),
		ExecuteTimeout: timeout,
	})
}

func request(id, method string, params map[string]any) *Request {
	raw, _ := json.Marshal(id)
	return &Request{Version: Version, ID: raw, Method: method, Params: params}
}

func TestHandleSuccess(t *testing.T) {
	d := newTestDispatcher(t, time.Second, &echoProvider{name: "echo", ops: []string{"say"}})

	t.Run("routes namespaced method and echoes the correlation id", func(t *testing.T) {
		resp := d.Handle(context.Background(), request("req-1", "echo.say", nil))
		if resp.Error != nil {
			t.Fatalf("unexpected error: %v", resp.Error)
		}
		if string(resp.ID) != `"req-1"` {
			t.Errorf("expected id %q, got %s", `"req-1"`, resp.ID)
		}
		result, ok := resp.Result.(map[string]any)
		if !ok || result["operation"] != "say" {
			t.Errorf("unexpected result: %#v", resp.Result)
		}
	})

	t.Run("bare provider name selects the default operation", func(t *testing.T) {
		resp := d.Handle(context.Background(), request("req-2", "echo", nil))
		if resp.Error != nil {
			t.Fatalf("unexpected error: %v", resp.Error)
		}
		result := resp.Result.(map[string]any)
		if result["operation"] != "say" {
			t.Errorf("expected default operation 'say', got %v", result["operation"])
		}
	})

	t.Run("numeric correlation ids survive the round trip", func(t *testing.T) {
		resp := d.Handle(context.Background(), &Request{
			Version: Version,
			ID:      json.RawMessage(`42`),
			Method:  "echo.say",
		})
		if string(resp.ID) != "42" {
			t.Errorf("expected id 42, got %s", resp.ID)
		}
	})
}

func TestHandleValidation(t *testing.T) {
	d := newTestDispatcher(t, time.Second, &echoProvider{name: "echo", ops: []string{"say"}})

	tests := []struct {
		name     string
		req      *Request
		wantCode int
	}{
		{
			name:     "missing correlation id",
			req:      &Request{Version: Version, Method: "echo.say"},
			wantCode: CodeMalformedRequest,
		},
		{
			name:     "null correlation id",
			req:      &Request{Version: Version, ID: json.RawMessage("null"), Method: "echo.say"},
			wantCode: CodeMalformedRequest,
		},
		{
			name:     "unsupported version",
			req:      &Request{Version: "9", ID: json.RawMessage(`"r"`), Method: "echo.say"},
			wantCode: CodeMalformedRequest,
		},
		{
			name:     "missing method",
			req:      &Request{Version: Version, ID: json.RawMessage(`"r"`)},
			wantCode: CodeMalformedRequest,
		},
		{
			name:     "unknown provider",
			req:      request("r", "ghost.say", nil),
			wantCode: CodeCapabilityNotFound,
		},
		{
			name:     "unknown operation",
			req:      request("r", "echo.shout", nil),
			wantCode: CodeCapabilityNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := d.Handle(context.Background(), tt.req)
			if resp == nil {
				t.Fatal("Handle must never return nil")
			}
			if resp.Error == nil {
				t.Fatal("expected an error response")
			}
			if resp.Error.Code != tt.wantCode {
				t.Errorf("expected code %d, got %d", tt.wantCode, resp.Error.Code)
			}
			if resp.Result != nil {
				t.Error("error response must not carry a result")
			}
		})
	}
}

func TestHandleInvalidArguments(t *testing.T) {
	reg := registry.New(registry.Config{Logger: slog.Default()})
	err := reg.Register(context.Background(), &schemaProvider{
		exec: func(ctx context.Context, op string, args map[string]any) (any, error) {
			t.Error("provider must not run on invalid arguments")
			return nil, nil
		},
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	d := NewDispatcher(DispatcherConfig{Registry: reg, Logger: slog.Default()})

	resp := d.Handle(context.Background(), request("r", "strict.run", map[string]any{"count": "nope"}))
	if resp.Error == nil || resp.Error.Code != CodeInvalidArguments {
		t.Fatalf("expected CodeInvalidArguments, got %v", resp.Error)
	}
}

// schemaProvider declares a required integer argument.
type schemaProvider struct {
	exec func(ctx context.Context, operation string, args map[string]any) (any, error)
}

func (s *schemaProvider) Name() string { return "strict" }

func (s *schemaProvider) Capabilities() []plugin.Capability {
	return []plugin.Capability{{
		Name: "run",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {"count": {"type": "integer"}},
			"required": ["count"]
		}`),
	}}
}

func (s *schemaProvider) Init(ctx context.Context) error     { return nil }
func (s *schemaProvider) Shutdown(ctx context.Context) error { return nil }

func (s *schemaProvider) Execute(ctx context.Context, operation string, args map[string]any) (any, error) {
	return s.exec(ctx, operation, args)
}

func TestHandleExecutionFailures(t *testing.T) {
	t.Run("provider error becomes ExecutionFailed", func(t *testing.T) {
		p := &echoProvider{name: "echo", ops: []string{"say"}}
		p.exec = func(ctx context.Context, op string, args map[string]any) (any, error) {
			return nil, errors.New("backend unreachable")
		}
		d := newTestDispatcher(t, time.Second, p)

		resp := d.Handle(context.Background(), request("r", "echo.say", nil))
		if resp.Error == nil || resp.Error.Code != CodeExecutionFailed {
			t.Fatalf("expected CodeExecutionFailed, got %v", resp.Error)
		}
		if resp.Error.Data != "backend unreachable" {
			t.Errorf("expected provider message in data, got %v", resp.Error.Data)
		}
	})

	t.Run("provider panic becomes ExecutionFailed", func(t *testing.T) {
		p := &echoProvider{name: "echo", ops: []string{"say"}}
		p.exec = func(ctx context.Context, op string, args map[string]any) (any, error) {
			panic("boom")
		}
		d := newTestDispatcher(t, time.Second, p)

		resp := d.Handle(context.Background(), request("r", "echo.say", nil))
		if resp.Error == nil || resp.Error.Code != CodeExecutionFailed {
			t.Fatalf("expected CodeExecutionFailed, got %v", resp.Error)
		}
	})

	t.Run("slow provider becomes ExecutionTimeout", func(t *testing.T) {
		p := &echoProvider{name: "echo", ops: []string{"say"}}
		p.exec = func(ctx context.Context, op string, args map[string]any) (any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		d := newTestDispatcher(t, 50*time.Millisecond, p)

		start := time.Now()
		resp := d.Handle(context.Background(), request("r", "echo.say", nil))
		if resp.Error == nil || resp.Error.Code != CodeExecutionTimeout {
			t.Fatalf("expected CodeExecutionTimeout, got %v", resp.Error)
		}
		if elapsed := time.Since(start); elapsed > time.Second {
			t.Errorf("timeout not enforced, took %v", elapsed)
		}
	})
}

func TestDispatchRaw(t *testing.T) {
	d := newTestDispatcher(t, time.Second, &echoProvider{name: "echo", ops: []string{"say"}})

	t.Run("garbage bytes yield MalformedRequest with null id", func(t *testing.T) {
		resp := d.DispatchRaw(context.Background(), []byte("not json at all"))
		if resp.Error == nil || resp.Error.Code != CodeMalformedRequest {
			t.Fatalf("expected CodeMalformedRequest, got %v", resp.Error)
		}
		if string(resp.ID) != "null" {
			t.Errorf("expected null id, got %s", resp.ID)
		}
	})

	t.Run("valid bytes dispatch normally", func(t *testing.T) {
		resp := d.DispatchRaw(context.Background(),
			[]byte(`{"v":"1","id":"raw-1","method":"echo.say","params":{}}`))
		if resp.Error != nil {
			t.Fatalf("unexpected error: %v", resp.Error)
		}
		if string(resp.ID) != `"raw-1"` {
			t.Errorf("expected id raw-1, got %s", resp.ID)
		}
	})
}

func TestHandleConcurrent(t *testing.T) {
	p := &echoProvider{name: "echo", ops: []string{"say"}}
	d := newTestDispatcher(t, time.Second, p)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, _ := json.Marshal(i)
			resp := d.Handle(context.Background(), &Request{
				Version: Version,
				ID:      id,
				Method:  "echo.say",
			})
			if resp == nil {
				t.Error("nil response")
				return
			}
			if string(resp.ID) != string(id) {
				t.Errorf("response id %s does not match request id %s", resp.ID, id)
			}
		}(i)
	}
	wg.Wait()
}
