// ABOUTME: Recorder interface and data types for interaction persistence.
// ABOUTME: The dispatcher records {method, outcome, latency} fire-and-forget.

package contextstore

import (
	"context"
	"time"
)

// Interaction is one recorded capability invocation.
type Interaction struct {
	ID        string
	Method    string
	Success   bool
	LatencyMS int64
	CreatedAt time.Time
}

// Recorder is the narrow interface the dispatcher depends on. Record is
// fire-and-forget from the dispatcher's point of view: it runs off the
// response path and its failure never affects a response already produced.
type Recorder interface {
	Record(ctx context.Context, method string, success bool, latency time.Duration) error
	Close() error
}

// Browser is implemented by recorders that can also read interactions back,
// used by the gateway's /interactions endpoint.
type Browser interface {
	Recent(ctx context.Context, limit int) ([]*Interaction, error)
}

// Nop is a Recorder that discards everything, used when no database is
// configured.
type Nop struct{}

// Record discards the interaction.
func (Nop) Record(context.Context, string, bool, time.Duration) error { return nil }

// Close is a no-op.
func (Nop) Close() error { return nil }
