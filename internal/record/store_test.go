package record

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/wardflow/wardflow/internal/domain/patient"
)

// slowAdapter is a live fake whose writes block until released, so tests
// can mutate repeatedly before any forward resolves.
type slowAdapter struct {
	mu      sync.Mutex
	puts    []patient.Patient
	appends []any
	gate    chan struct{}
	feed    func([]patient.Patient)
}

func newSlowAdapter() *slowAdapter {
	return &slowAdapter{gate: make(chan struct{})}
}

func (a *slowAdapter) release() { close(a.gate) }

func (a *slowAdapter) Subscribe(onChange func([]patient.Patient)) (func(), error) {
	a.mu.Lock()
	a.feed = onChange
	a.mu.Unlock()
	return func() {}, nil
}

func (a *slowAdapter) deliver(docs []patient.Patient) {
	a.mu.Lock()
	feed := a.feed
	a.mu.Unlock()
	if feed != nil {
		feed(docs)
	}
}

func (a *slowAdapter) Put(ctx context.Context, _ string, doc patient.Patient) error {
	select {
	case <-a.gate:
	case <-ctx.Done():
		return ctx.Err()
	}
	a.mu.Lock()
	a.puts = append(a.puts, doc)
	a.mu.Unlock()
	return nil
}

func (a *slowAdapter) Patch(context.Context, string, map[string]any) error { return nil }

func (a *slowAdapter) Append(_ context.Context, _ string, event any) error {
	a.mu.Lock()
	a.appends = append(a.appends, event)
	a.mu.Unlock()
	return nil
}

func (a *slowAdapter) Live() bool { return true }

func (a *slowAdapter) putCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.puts)
}

func newLocalStore(t *testing.T) *Store {
	t.Helper()
	s := NewStore(NoopAdapter{}, zerolog.Nop())
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return s
}

func registerTestPatient(t *testing.T, s *Store) patient.Patient {
	t.Helper()
	p := patient.New("Test Patient", 40, "female", "", "fever", time.Unix(1700000000, 0))
	if err := s.Register(p); err != nil {
		t.Fatalf("Register: %v", err)
	}
	return p
}

func TestLocalModeWhenAdapterNotLive(t *testing.T) {
	s := newLocalStore(t)
	if s.Mode() != ModeLocal {
		t.Errorf("mode = %s, want local", s.Mode())
	}
}

func TestSubscribeInitialDeliveryWhenStateKnown(t *testing.T) {
	s := newLocalStore(t)
	registerTestPatient(t, s)

	var got [][]patient.Patient
	unsub := s.Subscribe(func(ps []patient.Patient) {
		got = append(got, ps)
	})
	defer unsub()

	if len(got) != 1 {
		t.Fatalf("initial deliveries = %d, want 1", len(got))
	}
	if len(got[0]) != 1 {
		t.Errorf("snapshot size = %d, want 1", len(got[0]))
	}
}

func TestListenerNotifiedSynchronouslyOnMutate(t *testing.T) {
	adapter := newSlowAdapter()
	s := NewStore(adapter, zerolog.Nop())
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { adapter.release(); s.Flush() })

	p := registerTestPatient(t, s)

	notified := 0
	unsub := s.Subscribe(func([]patient.Patient) { notified++ })
	defer unsub()
	before := notified

	err := s.Mutate(p.ID, func(p patient.Patient) (patient.Patient, error) {
		p.Name = "Renamed"
		return p, nil
	})
	if err != nil {
		t.Fatalf("Mutate: %v", err)
	}

	// The forward is still gated, yet the listener has already fired.
	if notified != before+1 {
		t.Errorf("notifications = %d, want %d before forward resolves", notified, before+1)
	}
	if adapter.putCount() != 0 {
		t.Errorf("forward resolved before notification check")
	}
}

func TestBackToBackMutatesBothApply(t *testing.T) {
	adapter := newSlowAdapter()
	s := NewStore(adapter, zerolog.Nop())
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { adapter.release(); s.Flush() })

	p := registerTestPatient(t, s)

	// Neither forward has resolved; each updater must still see the
	// latest local state.
	if err := s.Mutate(p.ID, func(p patient.Patient) (patient.Patient, error) {
		p.Contact = "first-update"
		return p, nil
	}); err != nil {
		t.Fatalf("first Mutate: %v", err)
	}
	if err := s.Mutate(p.ID, func(p patient.Patient) (patient.Patient, error) {
		p.Complaint = p.Complaint + " and cough"
		return p, nil
	}); err != nil {
		t.Fatalf("second Mutate: %v", err)
	}

	got, _ := s.Get(p.ID)
	if got.Contact != "first-update" {
		t.Error("first update lost")
	}
	if got.Complaint != "fever and cough" {
		t.Errorf("second update built on stale state: %q", got.Complaint)
	}
}

func TestMutateUnknownPatientFailsFast(t *testing.T) {
	s := newLocalStore(t)
	err := s.Mutate(uuid.New(), func(p patient.Patient) (patient.Patient, error) {
		return p, nil
	})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestDischargedStatusCannotRegress(t *testing.T) {
	s := newLocalStore(t)
	p := registerTestPatient(t, s)

	if err := s.SetStatus(p.ID, patient.StatusDischarged); err != nil {
		t.Fatalf("SetStatus(discharged): %v", err)
	}
	err := s.SetStatus(p.ID, patient.StatusInTreatment)
	if !errors.Is(err, ErrStatusRegression) {
		t.Fatalf("err = %v, want ErrStatusRegression", err)
	}

	got, _ := s.Get(p.ID)
	if got.Status != patient.StatusDischarged {
		t.Errorf("status = %s after rejected regression, want discharged", got.Status)
	}
}

func TestSubmitVitalsRecomputesTriage(t *testing.T) {
	s := newLocalStore(t)
	p := registerTestPatient(t, s)

	spo2 := 88
	pulse := 80
	rec, err := s.SubmitVitals(p.ID, uuid.New(), patient.SourceNurse, patient.Measurements{
		SpO2: &spo2, Pulse: &pulse,
	})
	if err != nil {
		t.Fatalf("SubmitVitals: %v", err)
	}

	got, _ := s.Get(p.ID)
	if got.Triage.Level != patient.TriageRed {
		t.Errorf("triage = %s, want red", got.Triage.Level)
	}
	if len(got.VitalsHistory) != 1 || got.VitalsHistory[0].ID != rec.ID {
		t.Error("vitals record not prepended")
	}
	if got.Vitals == nil || *got.Vitals.SpO2 != 88 {
		t.Error("current vitals snapshot not replaced")
	}
	if len(got.Timeline) == 0 || got.Timeline[0].Kind != "vitals" {
		t.Error("timeline event missing")
	}
}

func TestPatchSectionPreservesSiblings(t *testing.T) {
	s := newLocalStore(t)
	p := registerTestPatient(t, s)

	if err := s.PatchSection(p.ID, patient.SectionGeneralExam, patient.SectionPatch{
		Vitals: map[string]float64{"pulse": 88, "spo2": 97},
	}); err != nil {
		t.Fatalf("first patch: %v", err)
	}
	if err := s.PatchSection(p.ID, patient.SectionGeneralExam, patient.SectionPatch{
		Vitals: map[string]float64{"pulse": 110},
	}); err != nil {
		t.Fatalf("second patch: %v", err)
	}

	got, _ := s.Get(p.ID)
	if got.File.GeneralExam.Vitals["spo2"] != 97 {
		t.Error("sibling vitals field clobbered by partial patch")
	}
	if got.File.GeneralExam.Vitals["pulse"] != 110 {
		t.Error("patched vitals field not updated")
	}
}

func TestPatchSectionUnknownSection(t *testing.T) {
	s := newLocalStore(t)
	p := registerTestPatient(t, s)
	err := s.PatchSection(p.ID, patient.SectionName("nope"), patient.SectionPatch{})
	if !errors.Is(err, ErrUnknownSection) {
		t.Errorf("err = %v, want ErrUnknownSection", err)
	}
}

func TestConnectedModeSeedsEmptyFirstDeliveryOnce(t *testing.T) {
	adapter := newSlowAdapter()
	adapter.release() // forwards resolve immediately here
	s := NewStore(adapter, zerolog.Nop())
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if s.Mode() != ModeConnected {
		t.Fatalf("mode = %s, want connected", s.Mode())
	}

	adapter.deliver(nil)
	if got := len(s.List()); got != len(Fixtures()) {
		t.Fatalf("patients after empty first delivery = %d, want %d", got, len(Fixtures()))
	}

	// A repeated empty delivery after writes must not reseed.
	adapter.deliver(nil)
	s.Flush()
	if got := len(s.List()); got != len(Fixtures()) {
		t.Errorf("reseed race: patients = %d after second empty delivery", got)
	}
}

func TestReconcileReplacesLocalEntry(t *testing.T) {
	adapter := newSlowAdapter()
	adapter.release()
	s := NewStore(adapter, zerolog.Nop())
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	p := patient.New("Feed Patient", 25, "male", "", "", time.Unix(1700000000, 0))
	adapter.deliver([]patient.Patient{p})

	authoritative := p
	authoritative.Name = "Feed Patient (confirmed)"
	adapter.deliver([]patient.Patient{authoritative})

	got, ok := s.Get(p.ID)
	if !ok {
		t.Fatal("feed patient missing")
	}
	if got.Name != "Feed Patient (confirmed)" {
		t.Errorf("name = %q, reconciliation did not replace entry", got.Name)
	}
	if len(s.List()) != 1 {
		t.Errorf("duplicate entries after reconcile: %d", len(s.List()))
	}
}

func TestSeedIfEmptyLocalMode(t *testing.T) {
	s := newLocalStore(t)
	s.SeedIfEmpty()
	if got := len(s.List()); got != len(Fixtures()) {
		t.Fatalf("patients = %d, want %d", got, len(Fixtures()))
	}
	s.SeedIfEmpty()
	if got := len(s.List()); got != len(Fixtures()) {
		t.Errorf("second SeedIfEmpty reseeded: %d", got)
	}
}

func TestApplyAISuggestionNeverTouchesStatus(t *testing.T) {
	s := newLocalStore(t)
	p := registerTestPatient(t, s)

	if err := s.ApplyAISuggestion(p.ID, patient.AISuggestion{
		Department:  "Cardiology",
		TriageLevel: patient.TriageRed,
		Confidence:  0.9,
	}); err != nil {
		t.Fatalf("ApplyAISuggestion: %v", err)
	}

	got, _ := s.Get(p.ID)
	if got.AISuggestion == nil || got.AISuggestion.Department != "Cardiology" {
		t.Error("suggestion not stored")
	}
	if got.Status != patient.StatusWaitingForTriage {
		t.Errorf("status = %s, advisory suggestion must not change it", got.Status)
	}
	if got.Triage.Level != patient.TriageNone {
		t.Errorf("triage = %s, advisory suggestion must not change it", got.Triage.Level)
	}
}

func TestAddOrderAndResult(t *testing.T) {
	s := newLocalStore(t)
	p := registerTestPatient(t, s)

	order := patient.Order{Kind: "lab", Detail: "CBC"}
	if err := s.AddOrder(p.ID, order); err != nil {
		t.Fatalf("AddOrder: %v", err)
	}
	got, _ := s.Get(p.ID)
	if len(got.Orders) != 1 || got.Orders[0].Status != "placed" {
		t.Fatalf("orders = %+v", got.Orders)
	}

	if err := s.AddResult(p.ID, patient.Result{OrderID: got.Orders[0].ID, Summary: "WNL"}); err != nil {
		t.Fatalf("AddResult: %v", err)
	}
	got, _ = s.Get(p.ID)
	if len(got.Results) != 1 {
		t.Fatal("result not prepended")
	}
	if got.Orders[0].Status != "resulted" || got.Orders[0].ResultID == nil {
		t.Errorf("order not linked to result: %+v", got.Orders[0])
	}
}

func TestForwardFailureDoesNotDisturbLocalState(t *testing.T) {
	s := NewStore(failingAdapter{}, zerolog.Nop())
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	p := registerTestPatient(t, s)
	s.Flush()

	if _, ok := s.Get(p.ID); !ok {
		t.Error("local state lost after forward failure")
	}
}

// failingAdapter is live but every write fails.
type failingAdapter struct{}

func (failingAdapter) Subscribe(func([]patient.Patient)) (func(), error) {
	return func() {}, nil
}

func (failingAdapter) Put(context.Context, string, patient.Patient) error {
	return errors.New("backend down")
}

func (failingAdapter) Patch(context.Context, string, map[string]any) error {
	return errors.New("backend down")
}

func (failingAdapter) Append(context.Context, string, any) error {
	return errors.New("backend down")
}

func (failingAdapter) Live() bool { return true }
