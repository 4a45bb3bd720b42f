// ABOUTME: Thread-safe registry of capability providers and their lifecycle.
// ABOUTME: Manages registration, atomic replacement, lookup, and shutdown aggregation.

package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/toolgate/toolgate/internal/plugin"
)

// ErrNotFound indicates no provider is registered under the requested name.
var ErrNotFound = errors.New("provider not found")

// ErrInitFailed indicates a provider's Init hook returned an error or timed out.
var ErrInitFailed = errors.New("provider initialization failed")

// ErrSchemaInvalid indicates a provider declared a capability whose input
// schema does not compile.
var ErrSchemaInvalid = errors.New("capability schema invalid")

// ErrNoCapabilities indicates a provider declared no capabilities.
var ErrNoCapabilities = errors.New("provider declares no capabilities")

// DefaultLifecycleTimeout bounds Init and Shutdown hooks when no explicit
// timeout is configured.
const DefaultLifecycleTimeout = 10 * time.Second

// Registry is the single source of truth for which capabilities exist and
// whether they are usable. The provider map is read-mostly: lookups take the
// read lock, and the only writer critical section is the handle pointer swap
// during registration (no provider I/O happens under the lock).
type Registry struct {
	mu      sync.RWMutex
	handles map[string]*Handle
	order   []string // first-registration order, preserved across replacement

	logger           *slog.Logger
	lifecycleTimeout time.Duration
}

// Config contains configuration options for the Registry.
type Config struct {
	Logger           *slog.Logger
	LifecycleTimeout time.Duration
}

// New creates an empty Registry.
func New(cfg Config) *Registry {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.LifecycleTimeout
	if timeout == 0 {
		timeout = DefaultLifecycleTimeout
	}
	return &Registry{
		handles:          make(map[string]*Handle),
		logger:           logger,
		lifecycleTimeout: timeout,
	}
}

// Register initializes the provider and installs it under its name,
// atomically superseding any prior provider with that name. The prior
// provider's shutdown runs after the swap; its failure is logged but does not
// block the registration. On init failure nothing is installed and the prior
// provider (if any) stays active.
func (r *Registry) Register(ctx context.Context, p plugin.Provider) error {
	name := p.Name()
	if name == "" {
		return fmt.Errorf("%w: empty provider name", ErrInitFailed)
	}

	caps := p.Capabilities()
	if len(caps) == 0 {
		return fmt.Errorf("%w: %s", ErrNoCapabilities, name)
	}

	// Compile schemas before touching the provider or the map, so a bad
	// descriptor never costs an Init call.
	schemas, err := compileSchemas(name, caps)
	if err != nil {
		return err
	}

	handle := newHandle(p, caps, schemas)

	if err := r.runLifecycle(ctx, p.Init); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInitFailed, name, err)
	}
	handle.setState(StateReady)

	r.mu.Lock()
	old := r.handles[name]
	r.handles[name] = handle
	if old == nil {
		r.order = append(r.order, name)
	}
	r.mu.Unlock()

	r.logger.Info("provider registered",
		"provider", name,
		"capabilities", len(caps),
		"replaced", old != nil,
	)

	if old != nil {
		r.shutdownHandle(ctx, name, old)
	}

	return nil
}

// Lookup returns the live handle for the named provider.
// Safe to call concurrently with registrations for other names.
func (r *Registry) Lookup(name string) (*Handle, error) {
	r.mu.RLock()
	handle, ok := r.handles[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return handle, nil
}

// Capabilities returns a snapshot of every Ready provider's capabilities,
// one descriptor per operation, named "<provider>.<operation>". Ordering is
// provider first-registration order, then each provider's declaration order.
func (r *Registry) Capabilities() []plugin.Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []plugin.Capability
	for _, name := range r.order {
		handle, ok := r.handles[name]
		if !ok || handle.State() != StateReady {
			continue
		}
		for _, cap := range handle.caps {
			result = append(result, plugin.Capability{
				Name:        name + "." + cap.Name,
				Description: cap.Description,
				InputSchema: cap.InputSchema,
			})
		}
	}
	return result
}

// Providers returns the names of all registered providers in registration order.
func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.order))
	for _, name := range r.order {
		if _, ok := r.handles[name]; ok {
			names = append(names, name)
		}
	}
	return names
}

// ShutdownAll invokes every provider's shutdown hook. Hooks run
// independently; one failure never prevents the others from running. All
// failures are collected into a single aggregate error so operators see the
// full picture of what failed to release resources.
func (r *Registry) ShutdownAll(ctx context.Context) error {
	r.mu.Lock()
	handles := r.handles
	r.handles = make(map[string]*Handle)
	order := r.order
	r.order = nil
	r.mu.Unlock()

	var errs []error
	for _, name := range order {
		handle, ok := handles[name]
		if !ok {
			continue
		}
		if err := r.shutdownHandle(ctx, name, handle); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	r.logger.Info("registry shut down", "providers", len(order), "failures", len(errs))
	return errors.Join(errs...)
}

// shutdownHandle drives one handle through ShuttingDown to Closed.
// The returned error is also logged, so callers that must not fail
// (replacement) can ignore it.
func (r *Registry) shutdownHandle(ctx context.Context, name string, handle *Handle) error {
	if !handle.beginShutdown() {
		return nil
	}
	err := r.runLifecycle(ctx, handle.provider.Shutdown)
	handle.setState(StateClosed)

	if err != nil {
		r.logger.Warn("provider shutdown failed", "provider", name, "error", err)
		return err
	}
	r.logger.Debug("provider shut down", "provider", name)
	return nil
}

// runLifecycle invokes an init/shutdown hook with the configured bound.
// The hook runs on its own goroutine so a hook that ignores its context
// cannot wedge the registry; an abandoned hook's late error is dropped.
func (r *Registry) runLifecycle(ctx context.Context, hook func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, r.lifecycleTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- fmt.Errorf("panic: %v", rec)
			}
		}()
		done <- hook(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// compileSchemas compiles each capability's input schema. A capability with
// no schema accepts any arguments.
func compileSchemas(provider string, caps []plugin.Capability) (map[string]*jsonschema.Schema, error) {
	schemas := make(map[string]*jsonschema.Schema, len(caps))
	for _, cap := range caps {
		if len(cap.InputSchema) == 0 {
			continue
		}
		url := fmt.Sprintf("toolgate://%s/%s.json", provider, cap.Name)
		schema, err := jsonschema.CompileString(url, string(cap.InputSchema))
		if err != nil {
			return nil, fmt.Errorf("%w: %s.%s: %v", ErrSchemaInvalid, provider, cap.Name, err)
		}
		schemas[cap.Name] = schema
	}
	return schemas, nil
}
