package record

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/wardflow/wardflow/internal/domain/patient"
)

var (
	// ErrNotFound is returned for operations on an unknown patient id.
	ErrNotFound = errors.New("patient not found")
	// ErrDuplicateID is returned when registering an id that already exists.
	ErrDuplicateID = errors.New("patient id already registered")
	// ErrStatusRegression is returned for a workflow-status transition that
	// would move the patient backwards.
	ErrStatusRegression = errors.New("status transition not allowed")
	// ErrUnknownSection is returned for a patch addressed to a section the
	// clinical file does not have.
	ErrUnknownSection = errors.New("unknown clinical-file section")
)

// Mode names the store's operating mode, fixed at Start.
type Mode string

const (
	// ModeConnected means a live backend feed is the source of truth and
	// local mutations are reconciled against it.
	ModeConnected Mode = "connected"
	// ModeLocal means there is no backend; local state is the sole source
	// of truth.
	ModeLocal Mode = "local"
)

// Listener receives the full patient collection after every change.
type Listener func([]patient.Patient)

const forwardTimeout = 10 * time.Second

// Store owns the in-memory patient collection. It is the only shared
// mutable resource in the system; everything else is stateless. Construct
// one instance at process start and hand it to consumers explicitly.
type Store struct {
	adapter PersistenceAdapter
	logger  zerolog.Logger
	now     func() time.Time

	mu        sync.RWMutex
	patients  map[uuid.UUID]patient.Patient
	order     []uuid.UUID
	listeners map[int]Listener
	nextSub   int
	mode      Mode
	ready     bool
	seeded    bool
	stopFeed  func()

	forwards sync.WaitGroup
}

// NewStore creates a store bound to the given adapter. Call Start before
// use.
func NewStore(adapter PersistenceAdapter, logger zerolog.Logger) *Store {
	return &Store{
		adapter:   adapter,
		logger:    logger,
		now:       time.Now,
		patients:  make(map[uuid.UUID]patient.Patient),
		listeners: make(map[int]Listener),
		mode:      ModeLocal,
	}
}

// SetClock overrides the store's clock. Tests only.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// Start fixes the operating mode and, in connected mode, attaches to the
// adapter's change feed. In local mode the (empty) state is immediately
// known.
func (s *Store) Start() error {
	if !s.adapter.Live() {
		s.mu.Lock()
		s.mode = ModeLocal
		s.ready = true
		s.mu.Unlock()
		s.logger.Info().Msg("record store running in local-only mode")
		return nil
	}

	s.mu.Lock()
	s.mode = ModeConnected
	s.mu.Unlock()

	stop, err := s.adapter.Subscribe(s.reconcile)
	if err != nil {
		return fmt.Errorf("subscribe to change feed: %w", err)
	}
	s.mu.Lock()
	s.stopFeed = stop
	s.mu.Unlock()
	s.logger.Info().Msg("record store running in connected mode")
	return nil
}

// Stop detaches from the change feed and waits for in-flight forwards.
// In-flight forwards are never cancelled, only awaited.
func (s *Store) Stop() {
	s.mu.Lock()
	stop := s.stopFeed
	s.stopFeed = nil
	s.mu.Unlock()
	if stop != nil {
		stop()
	}
	s.forwards.Wait()
}

// Mode reports the operating mode fixed at Start.
func (s *Store) Mode() Mode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode
}

// Flush waits for all in-flight adapter forwards. Tests and shutdown only.
func (s *Store) Flush() {
	s.forwards.Wait()
}

// Subscribe registers a listener and returns an unsubscribe func. If the
// initial state is already known the listener is invoked once,
// synchronously, before Subscribe returns; otherwise its first invocation
// is the first feed delivery.
func (s *Store) Subscribe(fn Listener) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.listeners[id] = fn
	ready := s.ready
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	if ready {
		fn(snapshot)
	}

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// Get returns a copy of the patient.
func (s *Store) Get(id uuid.UUID) (patient.Patient, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.patients[id]
	return p, ok
}

// List returns the collection in stable registration order.
func (s *Store) List() []patient.Patient {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Register adds a new patient, notifies listeners and forwards the
// document to the backend.
func (s *Store) Register(p patient.Patient) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid patient: %w", err)
	}
	if p.ID == uuid.Nil {
		return fmt.Errorf("invalid patient: missing id")
	}

	s.mu.Lock()
	if _, exists := s.patients[p.ID]; exists {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateID, p.ID)
	}
	s.patients[p.ID] = p
	s.order = append(s.order, p.ID)
	snapshot := s.snapshotLocked()
	listeners := s.listenersLocked()
	s.mu.Unlock()

	s.notify(listeners, snapshot)
	s.forwardPut(p)
	return nil
}

// Mutate applies updater to the latest local copy of the patient under the
// store lock (read-modify-write per call, so back-to-back mutations both
// apply), replaces it, notifies listeners synchronously, then forwards the
// full document to the backend without blocking the caller.
//
// Invariant violations fail fast before any state change: an unknown id
// returns ErrNotFound, and an updater that regresses a discharged patient's
// status returns ErrStatusRegression.
func (s *Store) Mutate(id uuid.UUID, updater func(patient.Patient) (patient.Patient, error)) error {
	s.mu.Lock()
	current, ok := s.patients[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	updated, err := updater(current)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if updated.ID != id {
		s.mu.Unlock()
		return fmt.Errorf("updater changed patient id from %s to %s", id, updated.ID)
	}
	if !patient.ValidStatus(updated.Status) {
		s.mu.Unlock()
		return fmt.Errorf("invalid status: %s", updated.Status)
	}
	if !patient.CanTransition(current.Status, updated.Status) {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrStatusRegression, current.Status, updated.Status)
	}

	s.patients[id] = updated
	snapshot := s.snapshotLocked()
	listeners := s.listenersLocked()
	s.mu.Unlock()

	s.notify(listeners, snapshot)
	s.forwardPut(updated)
	return nil
}

// SubmitVitals appends an immutable vitals record (newest-first), replaces
// the current snapshot, recomputes triage deterministically and records a
// timeline event.
func (s *Store) SubmitVitals(id, recordedBy uuid.UUID, source patient.VitalsSource, m patient.Measurements) (patient.VitalsRecord, error) {
	rec := patient.VitalsRecord{
		ID:           uuid.New(),
		PatientID:    id,
		RecordedBy:   recordedBy,
		RecordedAt:   s.now(),
		Source:       source,
		Measurements: m,
	}

	err := s.Mutate(id, func(p patient.Patient) (patient.Patient, error) {
		p = p.AppendVitals(rec)
		p = prependTimeline(p, "vitals", fmt.Sprintf("Vitals recorded (%s)", p.Triage.Level), rec.RecordedAt)
		return p, nil
	})
	if err != nil {
		return patient.VitalsRecord{}, err
	}
	return rec, nil
}

// PatchSection merges a partial update into one clinical-file section
// without clobbering sibling fields.
func (s *Store) PatchSection(id uuid.UUID, section patient.SectionName, patch patient.SectionPatch) error {
	if !patient.ValidSection(section) {
		return fmt.Errorf("%w: %s", ErrUnknownSection, section)
	}
	now := s.now()
	return s.Mutate(id, func(p patient.Patient) (patient.Patient, error) {
		current, _ := p.File.SectionByName(section)
		p.File = p.File.WithSection(section, patient.MergeSection(current, patch))
		p.UpdatedAt = now
		return p, nil
	})
}

// SetStatus moves the patient forward in the workflow. Backward transitions
// are rejected by Mutate's invariant check.
func (s *Store) SetStatus(id uuid.UUID, status patient.Status) error {
	now := s.now()
	return s.Mutate(id, func(p patient.Patient) (patient.Patient, error) {
		p.Status = status
		p.UpdatedAt = now
		return prependTimeline(p, "status", fmt.Sprintf("Status changed to %s", status), now), nil
	})
}

// ApplyAISuggestion stores an advisory classification on the patient. It
// touches only the suggestion field; Status is never derived from it.
func (s *Store) ApplyAISuggestion(id uuid.UUID, sug patient.AISuggestion) error {
	return s.Mutate(id, func(p patient.Patient) (patient.Patient, error) {
		p.AISuggestion = &sug
		return p, nil
	})
}

// AddOrder prepends an order and a matching timeline event.
func (s *Store) AddOrder(id uuid.UUID, o patient.Order) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	if o.OrderedAt.IsZero() {
		o.OrderedAt = s.now()
	}
	if o.Status == "" {
		o.Status = "placed"
	}
	return s.Mutate(id, func(p patient.Patient) (patient.Patient, error) {
		p.Orders = prependOrder(p.Orders, o)
		p.UpdatedAt = o.OrderedAt
		return prependTimeline(p, "order", fmt.Sprintf("Order placed: %s", o.Kind), o.OrderedAt), nil
	})
}

// AddResult prepends a result and marks the matching order complete.
func (s *Store) AddResult(id uuid.UUID, r patient.Result) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.ReportedAt.IsZero() {
		r.ReportedAt = s.now()
	}
	return s.Mutate(id, func(p patient.Patient) (patient.Patient, error) {
		p.Results = prependResult(p.Results, r)
		for i := range p.Orders {
			if p.Orders[i].ID == r.OrderID {
				orders := append([]patient.Order(nil), p.Orders...)
				rid := r.ID
				orders[i].Status = "resulted"
				orders[i].ResultID = &rid
				p.Orders = orders
				break
			}
		}
		p.UpdatedAt = r.ReportedAt
		return prependTimeline(p, "result", "Result reported", r.ReportedAt), nil
	})
}

// AddRound prepends a ward-round note.
func (s *Store) AddRound(id uuid.UUID, r patient.Round) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.SeenAt.IsZero() {
		r.SeenAt = s.now()
	}
	return s.Mutate(id, func(p patient.Patient) (patient.Patient, error) {
		p.Rounds = prependRound(p.Rounds, r)
		p.UpdatedAt = r.SeenAt
		return prependTimeline(p, "round", "Ward round recorded", r.SeenAt), nil
	})
}

// reconcile applies an authoritative change-feed delivery. Delivered
// documents replace the local entry for the same id; a later local mutation
// or the next delivery wins, whichever comes last — the store accepts
// eventual consistency. An empty first delivery seeds the deterministic
// fixture set exactly once; the seeded flag guards against repeated empty
// deliveries re-triggering it.
func (s *Store) reconcile(docs []patient.Patient) {
	s.mu.Lock()
	first := !s.ready
	s.ready = true

	if len(docs) == 0 && first && !s.seeded {
		s.seeded = true
		s.mu.Unlock()
		s.seedFixtures()
		return
	}

	for _, doc := range docs {
		if _, exists := s.patients[doc.ID]; !exists {
			s.order = append(s.order, doc.ID)
		}
		s.patients[doc.ID] = doc
	}
	snapshot := s.snapshotLocked()
	listeners := s.listenersLocked()
	s.mu.Unlock()

	s.notify(listeners, snapshot)
}

func (s *Store) seedFixtures() {
	for _, p := range Fixtures() {
		if err := s.Register(p); err != nil {
			s.logger.Error().Err(err).Str("patient", p.Name).Msg("fixture seeding failed")
		}
	}
	s.logger.Info().Msg("seeded fixture patients into empty collection")
}

// SeedIfEmpty injects the fixture set into an empty local-mode store. The
// connected path seeds through the feed instead.
func (s *Store) SeedIfEmpty() {
	s.mu.Lock()
	empty := len(s.patients) == 0 && !s.seeded
	if empty {
		s.seeded = true
	}
	s.mu.Unlock()
	if empty {
		s.seedFixtures()
	}
}

func (s *Store) snapshotLocked() []patient.Patient {
	out := make([]patient.Patient, 0, len(s.order))
	for _, id := range s.order {
		if p, ok := s.patients[id]; ok {
			out = append(out, p)
		}
	}
	return out
}

func (s *Store) listenersLocked() []Listener {
	out := make([]Listener, 0, len(s.listeners))
	for _, fn := range s.listeners {
		out = append(out, fn)
	}
	return out
}

func (s *Store) notify(listeners []Listener, snapshot []patient.Patient) {
	for _, fn := range listeners {
		fn(snapshot)
	}
}

// forwardPut sends the full document to the backend on a separate
// goroutine. The caller never waits; failures are logged and local state
// stays authoritative until the next reconciliation.
func (s *Store) forwardPut(p patient.Patient) {
	s.forwards.Add(1)
	go func() {
		defer s.forwards.Done()
		ctx, cancel := context.WithTimeout(context.Background(), forwardTimeout)
		defer cancel()
		if err := s.adapter.Put(ctx, p.ID.String(), p); err != nil {
			s.logger.Error().Err(err).Str("patient_id", p.ID.String()).Msg("persistence forward failed")
		}
	}()
}

func prependTimeline(p patient.Patient, kind, summary string, at time.Time) patient.Patient {
	ev := patient.TimelineEvent{ID: uuid.New(), Kind: kind, Summary: summary, OccurredAt: at}
	timeline := make([]patient.TimelineEvent, 0, len(p.Timeline)+1)
	timeline = append(timeline, ev)
	timeline = append(timeline, p.Timeline...)
	p.Timeline = timeline
	return p
}

func prependOrder(existing []patient.Order, o patient.Order) []patient.Order {
	out := make([]patient.Order, 0, len(existing)+1)
	out = append(out, o)
	return append(out, existing...)
}

func prependResult(existing []patient.Result, r patient.Result) []patient.Result {
	out := make([]patient.Result, 0, len(existing)+1)
	out = append(out, r)
	return append(out, existing...)
}

func prependRound(existing []patient.Round, r patient.Round) []patient.Round {
	out := make([]patient.Round, 0, len(existing)+1)
	out = append(out, r)
	return append(out, existing...)
}
