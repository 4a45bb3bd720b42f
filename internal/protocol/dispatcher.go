// ABOUTME: Protocol dispatcher routing request envelopes to capability providers.
// ABOUTME: The single chokepoint for validation, timeouts, and error disposition.

package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/toolgate/toolgate/internal/contextstore"
	"github.com/toolgate/toolgate/internal/registry"
)

// DefaultExecuteTimeout bounds provider execution when no explicit timeout is
// configured.
const DefaultExecuteTimeout = 30 * time.Second

// recordTimeout bounds the asynchronous interaction write so a stuck store
// cannot leak goroutines forever.
const recordTimeout = 5 * time.Second

// Dispatcher routes request envelopes to providers via the registry and
// guarantees exactly one response envelope per request, whatever fails.
//
// Method names are namespaced "<provider>.<operation>"; a bare provider name
// selects the provider's default (first declared) operation.
type Dispatcher struct {
	registry *registry.Registry
	recorder contextstore.Recorder
	logger   *slog.Logger
	timeout  time.Duration
}

// DispatcherConfig contains configuration options for the Dispatcher.
type DispatcherConfig struct {
	Registry       *registry.Registry
	Recorder       contextstore.Recorder // nil disables interaction recording
	Logger         *slog.Logger
	ExecuteTimeout time.Duration
}

// NewDispatcher creates a Dispatcher with the given configuration.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.ExecuteTimeout
	if timeout == 0 {
		timeout = DefaultExecuteTimeout
	}
	return &Dispatcher{
		registry: cfg.Registry,
		recorder: cfg.Recorder,
		logger:   logger,
		timeout:  timeout,
	}
}

// DispatchRaw parses one serialized envelope and handles it. Bytes that do
// not parse as an envelope at all yield a MalformedRequest response with a
// null correlation id, since none could be recovered.
func (d *Dispatcher) DispatchRaw(ctx context.Context, data []byte) *Response {
	req, err := DecodeRequest(data)
	if err != nil {
		d.logger.Debug("unparseable request", "error", err)
		return NewError(nil, CodeMalformedRequest, "parse error", err.Error())
	}
	return d.Handle(ctx, req)
}

// Handle processes one request envelope and always returns exactly one
// response envelope carrying the request's correlation id.
func (d *Dispatcher) Handle(ctx context.Context, req *Request) (resp *Response) {
	defer func() {
		if rec := recover(); rec != nil {
			d.logger.Error("dispatch panic", "method", req.Method, "panic", rec)
			resp = NewError(req.ID, CodeExecutionFailed, "internal dispatch error", nil)
		}
	}()

	if resp := validate(req); resp != nil {
		return resp
	}

	providerName, operation, _ := strings.Cut(req.Method, ".")

	handle, err := d.registry.Lookup(providerName)
	if err != nil {
		d.logger.Debug("capability not found", "method", req.Method)
		return NewError(req.ID, CodeCapabilityNotFound,
			fmt.Sprintf("capability not found: %s", providerName), nil)
	}

	if state := handle.State(); state != registry.StateReady {
		d.logger.Warn("provider not ready", "method", req.Method, "state", state)
		return NewError(req.ID, CodeRegistryFault,
			fmt.Sprintf("provider %s is %s", providerName, state), nil)
	}

	operation, err = handle.ResolveOperation(operation)
	if err != nil {
		d.logger.Debug("operation not found", "method", req.Method)
		return NewError(req.ID, CodeCapabilityNotFound, err.Error(), nil)
	}

	// Schema validation happens here, before the provider is invoked;
	// providers are not trusted to validate their own input.
	if err := handle.ValidateArgs(operation, req.Params); err != nil {
		d.logger.Debug("invalid arguments", "method", req.Method, "error", err)
		return NewError(req.ID, CodeInvalidArguments, "invalid arguments", err.Error())
	}

	start := time.Now()
	result, err := d.execute(ctx, handle, operation, req.Params)
	latency := time.Since(start)

	d.record(req.Method, err == nil, latency)

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		d.logger.Warn("execution timed out",
			"method", req.Method,
			"timeout", d.timeout,
		)
		return NewError(req.ID, CodeExecutionTimeout,
			fmt.Sprintf("execution exceeded %s", d.timeout), nil)
	case err != nil:
		d.logger.Warn("execution failed",
			"method", req.Method,
			"error", err,
			"latency", latency,
		)
		return NewError(req.ID, CodeExecutionFailed, "execution failed", err.Error())
	}

	d.logger.Debug("execution complete",
		"method", req.Method,
		"latency", latency,
	)
	return NewResult(req.ID, result)
}

// execute runs the provider on its own goroutine under the configured
// execution bound. On timeout the dispatcher stops waiting and the invocation
// is abandoned: the provider sees its context cancelled and owns its own
// cleanup. A late result or panic from an abandoned invocation is logged and
// dropped.
func (d *Dispatcher) execute(ctx context.Context, handle *registry.Handle, operation string, args map[string]any) (any, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	type outcome struct {
		result any
		err    error
	}
	done := make(chan outcome, 1)
	provider := handle.Provider()

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- outcome{err: fmt.Errorf("provider panic: %v", rec)}
			}
		}()
		result, err := provider.Execute(ctx, operation, args)
		done <- outcome{result: result, err: err}
	}()

	select {
	case out := <-done:
		return out.result, out.err
	case <-ctx.Done():
		go func() {
			// Drain the abandoned invocation so its goroutine can exit.
			out := <-done
			if out.err != nil {
				d.logger.Debug("abandoned invocation finished",
					"provider", provider.Name(),
					"operation", operation,
					"error", out.err,
				)
			}
		}()
		return nil, ctx.Err()
	}
}

// record writes the interaction off the response path. Failures are logged
// and never affect the response already produced.
func (d *Dispatcher) record(method string, success bool, latency time.Duration) {
	if d.recorder == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		defer cancel()
		if err := d.recorder.Record(ctx, method, success, latency); err != nil {
			d.logger.Warn("failed to record interaction", "method", method, "error", err)
		}
	}()
}

// validate checks envelope shape. It returns a ready error response on
// violation, echoing the correlation id when one could be parsed.
func validate(req *Request) *Response {
	if !hasCorrelationID(req.ID) {
		return NewError(nil, CodeMalformedRequest, "missing correlation id", nil)
	}
	if req.Version != Version {
		return NewError(req.ID, CodeMalformedRequest,
			fmt.Sprintf("unsupported protocol version %q", req.Version), nil)
	}
	if req.Method == "" {
		return NewError(req.ID, CodeMalformedRequest, "missing method", nil)
	}
	return nil
}

// hasCorrelationID reports whether the request carries a usable id.
// JSON null does not count: a response would be uncorrelatable.
func hasCorrelationID(id json.RawMessage) bool {
	return len(id) > 0 && string(id) != "null"
}
