// ABOUTME: Provider interface and capability descriptors for toolgate plugins.
// ABOUTME: Every capability provider implements Provider; the registry owns its lifecycle.

package plugin

import (
	"context"
	"encoding/json"
)

// Capability describes one operation a provider can perform.
// The input schema is raw JSON Schema; it is compiled and enforced by the
// registry, never by the provider itself.
type Capability struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// Provider is the interface every capability provider implements.
// Execute must be safe under concurrent invocation; providers hold no
// per-request state or synchronize internally.
type Provider interface {
	// Name returns the provider's unique registry name.
	Name() string

	// Capabilities returns the operations this provider performs, in
	// declaration order. The first capability is the provider's default
	// operation, selected when a caller addresses the bare provider name.
	Capabilities() []Capability

	// Init prepares the provider for traffic. Called once by the registry
	// before the provider becomes visible to lookups.
	Init(ctx context.Context) error

	// Shutdown releases the provider's resources. Called once by the
	// registry when the provider is replaced or the registry shuts down.
	Shutdown(ctx context.Context) error

	// Execute runs one operation. The context carries the server-enforced
	// execution deadline; a provider that outlives it is abandoned, so it
	// should watch ctx and clean up on cancellation.
	Execute(ctx context.Context, operation string, args map[string]any) (any, error)
}

// ObjectSchema builds a JSON Schema for an object with the given properties
// and required field names. Providers use it to keep descriptor literals
// readable.
func ObjectSchema(properties map[string]any, required ...string) json.RawMessage {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		// Only reachable with non-marshalable property values, which would
		// be a programming error in the provider's descriptor literal.
		panic(err)
	}
	return raw
}
