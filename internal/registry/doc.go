// Package registry tracks capability providers and their lifecycle.
//
// # Overview
//
// A provider is a named bundle of operations (capabilities), each described
// by a JSON Schema for its arguments. The registry owns the full provider
// lifecycle: schemas are compiled and Init runs before a provider is
// visible; Shutdown runs after it is removed.
//
// # Lifecycle
//
// Every provider handle moves through four states:
//
//	Uninitialized -> Ready -> ShuttingDown -> Closed
//
// Only Ready providers are returned by Lookup and Capabilities. Init and
// Shutdown are bounded by the configured lifecycle timeout; a hook that
// panics or overruns counts as a failure.
//
// # Replacement
//
// Registering a provider under an existing name is an atomic swap. The new
// provider is fully initialized before the swap; callers never observe a
// missing or half-ready provider. The displaced provider is shut down after
// the swap, and a shutdown failure is logged rather than propagated, since
// the replacement already succeeded.
//
// # Usage
//
// Create a registry and register providers:
//
//	reg := registry.New(registry.Config{Logger: logger})
//	err := reg.Register(ctx, sysinfo.New(logger))
//
// Resolve and validate a call:
//
//	handle, err := reg.Lookup("system_info")
//	op, err := handle.ResolveOperation("inspect")
//	err = handle.ValidateArgs(op, args)
package registry
