// ABOUTME: Provider handle owning one registered provider and its lifecycle state.
// ABOUTME: At most one live handle exists per provider name at any time.

package registry

import (
	"errors"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/toolgate/toolgate/internal/plugin"
)

// ErrUnknownOperation indicates the provider does not declare the requested operation.
var ErrUnknownOperation = errors.New("unknown operation")

// ErrArgumentsInvalid indicates the arguments failed the operation's input schema.
var ErrArgumentsInvalid = errors.New("arguments invalid")

// State is a provider handle's lifecycle state.
type State int

const (
	StateUninitialized State = iota
	StateReady
	StateShuttingDown
	StateClosed
)

// String returns the state name for logs.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	case StateShuttingDown:
		return "shutting_down"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Handle wraps a registered provider with its lifecycle state and compiled
// argument schemas. Handles are created by the registry and immutable except
// for the state field.
type Handle struct {
	provider plugin.Provider
	caps     []plugin.Capability
	schemas  map[string]*jsonschema.Schema

	// defaultOp is the first declared capability, selected when a caller
	// addresses the bare provider name.
	defaultOp string

	mu    sync.Mutex
	state State
}

func newHandle(p plugin.Provider, caps []plugin.Capability, schemas map[string]*jsonschema.Schema) *Handle {
	return &Handle{
		provider:  p,
		caps:      caps,
		schemas:   schemas,
		defaultOp: caps[0].Name,
		state:     StateUninitialized,
	}
}

// Provider returns the wrapped provider.
func (h *Handle) Provider() plugin.Provider {
	return h.provider
}

// State returns the handle's current lifecycle state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *Handle) setState(s State) {
	h.mu.Lock()
	h.state = s
	h.mu.Unlock()
}

// beginShutdown transitions Ready to ShuttingDown.
// Returns false if the handle is already shutting down or closed, making
// shutdown idempotent.
func (h *Handle) beginShutdown() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == StateShuttingDown || h.state == StateClosed {
		return false
	}
	h.state = StateShuttingDown
	return true
}

// ResolveOperation maps a requested operation to one the provider declares.
// An empty operation selects the provider's default (first declared)
// operation.
func (h *Handle) ResolveOperation(op string) (string, error) {
	if op == "" {
		return h.defaultOp, nil
	}
	for _, cap := range h.caps {
		if cap.Name == op {
			return op, nil
		}
	}
	return "", fmt.Errorf("%w: %s.%s", ErrUnknownOperation, h.provider.Name(), op)
}

// ValidateArgs checks the arguments against the operation's compiled input
// schema. Operations without a schema accept anything.
func (h *Handle) ValidateArgs(op string, args map[string]any) error {
	schema, ok := h.schemas[op]
	if !ok {
		return nil
	}
	// The validator wants plain decoded JSON; a nil map is an empty object.
	var doc any = map[string]any{}
	if args != nil {
		doc = normalize(args)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrArgumentsInvalid, err)
	}
	return nil
}

// normalize rewrites a decoded-JSON value into the shapes the schema
// validator accepts (map[string]any / []any / primitives).
func normalize(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalize(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalize(item)
		}
		return out
	default:
		return v
	}
}
