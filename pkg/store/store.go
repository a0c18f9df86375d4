// Package store provides the durable, per-context append-only event log.
//
// Three backends implement the same contract: fsstore (one JSONL file per
// context under a data directory), memstore (for tests), and pgstore (a
// single events table in PostgreSQL). Only persisted variants are ever
// appended; TextDelta is rejected as a programming error.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/agentchain-dev/agentchain/pkg/event"
)

// ErrEphemeralEvent is returned when a TextDelta event reaches Append.
// Ephemeral events are broadcast-only and must be filtered by the caller.
var ErrEphemeralEvent = errors.New("store: ephemeral event cannot be persisted")

// EventStore is the durable append-only log, keyed by context name.
//
// Append is atomic with respect to concurrent appends on the same context:
// either the whole batch is durable before return, or nothing from the batch
// is visible. Appending an empty batch is a no-op.
type EventStore interface {
	// Load returns all persisted events for the context in append order.
	// A context that was never written loads as an empty slice, not an error.
	Load(ctx context.Context, name string) ([]event.Event, error)

	// Append durably writes the batch at the end of the context's log.
	Append(ctx context.Context, name string, events []event.Event) error

	// Exists reports whether the context has ever been appended to.
	Exists(ctx context.Context, name string) (bool, error)

	// List returns all known context names.
	List(ctx context.Context) ([]string, error)
}

// ValidateBatch rejects ephemeral variants before they reach a backend.
// Shared by all backends.
func ValidateBatch(events []event.Event) error {
	for _, ev := range events {
		if !ev.Persisted() {
			return fmt.Errorf("%w: %s (%s)", ErrEphemeralEvent, ev.Tag, ev.ID)
		}
	}
	return nil
}
