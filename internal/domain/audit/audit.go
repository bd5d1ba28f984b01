// Package audit records who did what to which patient record. Events are
// append-only: assigned an id and timestamp synchronously, visible in the
// local log immediately, and forwarded to the persistence backend without
// blocking or visibly failing the clinical action that produced them.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/wardflow/wardflow/internal/record"
)

// Collection is the append-only collection name used on the persistence
// adapter.
const Collection = "audit_events"

const forwardTimeout = 10 * time.Second

// Event is one immutable audit entry. The application never updates or
// deletes events; retention is an external policy concern.
type Event struct {
	ID         uuid.UUID      `json:"id"`
	ActorID    uuid.UUID      `json:"actor_id"`
	PatientID  uuid.UUID      `json:"patient_id"`
	Action     string         `json:"action"`
	EntityKind string         `json:"entity_kind"`
	EntityID   *uuid.UUID     `json:"entity_id,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
	RecordedAt time.Time      `json:"recorded_at"`
}

// Input is what callers supply; id and timestamp are assigned by the sink.
type Input struct {
	ActorID    uuid.UUID
	PatientID  uuid.UUID
	Action     string
	EntityKind string
	EntityID   *uuid.UUID
	Payload    map[string]any
}

// Sink appends events to an in-memory newest-first log and forwards each
// to the adapter. Delivery is at-least-once locally and best-effort
// remotely: forward failures are logged, never retried, never surfaced.
type Sink struct {
	adapter record.PersistenceAdapter
	logger  zerolog.Logger
	now     func() time.Time

	mu       sync.RWMutex
	events   []Event
	forwards sync.WaitGroup
}

// NewSink creates a sink bound to the given adapter.
func NewSink(adapter record.PersistenceAdapter, logger zerolog.Logger) *Sink {
	return &Sink{adapter: adapter, logger: logger, now: time.Now}
}

// SetClock overrides the sink's clock. Tests only.
func (s *Sink) SetClock(now func() time.Time) {
	s.now = now
}

// Record assigns id and timestamp, appends the event locally, then
// forwards it in the background. The returned event is already visible via
// Events before Record returns.
func (s *Sink) Record(in Input) Event {
	ev := Event{
		ID:         uuid.New(),
		ActorID:    in.ActorID,
		PatientID:  in.PatientID,
		Action:     in.Action,
		EntityKind: in.EntityKind,
		EntityID:   in.EntityID,
		Payload:    in.Payload,
		RecordedAt: s.now(),
	}

	s.mu.Lock()
	log := make([]Event, 0, len(s.events)+1)
	log = append(log, ev)
	log = append(log, s.events...)
	s.events = log
	s.mu.Unlock()

	s.forwards.Add(1)
	go func() {
		defer s.forwards.Done()
		ctx, cancel := context.WithTimeout(context.Background(), forwardTimeout)
		defer cancel()
		if err := s.adapter.Append(ctx, Collection, ev); err != nil {
			s.logger.Error().Err(err).Str("action", ev.Action).Msg("audit forward failed")
		}
	}()

	return ev
}

// Events returns the local log, newest first.
func (s *Sink) Events() []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Event(nil), s.events...)
}

// EventsForPatient filters the local log by patient id, newest first.
func (s *Sink) EventsForPatient(patientID uuid.UUID) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Event
	for _, ev := range s.events {
		if ev.PatientID == patientID {
			out = append(out, ev)
		}
	}
	return out
}

// Flush waits for in-flight forwards. Tests and shutdown only.
func (s *Sink) Flush() {
	s.forwards.Wait()
}
