// Package record holds the authoritative in-memory patient collection and
// keeps it consistent with a pluggable persistence backend. Mutations apply
// locally first (optimistic), listeners are notified synchronously, and the
// resulting document is forwarded to the backend without blocking the
// caller. When the backend delivers a change feed, feed documents reconcile
// the local state; when it is unconfigured the local state is the sole
// source of truth.
package record

import (
	"context"

	"github.com/wardflow/wardflow/internal/domain/patient"
)

// PersistenceAdapter abstracts the remote store. Implementations must
// tolerate being unconfigured: a non-live adapter no-ops every write and
// never fires Subscribe, which puts the Store into local-only mode.
type PersistenceAdapter interface {
	// Subscribe registers a change-feed callback and returns a stop
	// function. The callback receives the full authoritative collection,
	// first once at subscription time and then after every remote change,
	// always from a single goroutine in delivery order.
	Subscribe(onChange func([]patient.Patient)) (stop func(), err error)

	// Put writes the full patient document.
	Put(ctx context.Context, id string, doc patient.Patient) error

	// Patch writes a partial top-level update to the patient document.
	Patch(ctx context.Context, id string, partial map[string]any) error

	// Append adds an event to a named append-only collection.
	Append(ctx context.Context, collection string, event any) error

	// Live reports whether a remote backend is actually connected.
	Live() bool
}

// NoopAdapter is the local-only fallback: every write is a no-op and the
// change feed never fires.
type NoopAdapter struct{}

func (NoopAdapter) Subscribe(func([]patient.Patient)) (func(), error) {
	return func() {}, nil
}

func (NoopAdapter) Put(context.Context, string, patient.Patient) error { return nil }

func (NoopAdapter) Patch(context.Context, string, map[string]any) error { return nil }

func (NoopAdapter) Append(context.Context, string, any) error { return nil }

func (NoopAdapter) Live() bool { return false }
