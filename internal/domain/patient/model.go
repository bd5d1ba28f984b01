// Package patient defines the Patient aggregate for the wardflow record
// keeper: demographics, workflow status, clinical-file sections, vitals
// history, and the pure engines that derive state from it (section merging
// and vitals triage).
package patient

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the patient's position in the clinical workflow. Transitions
// move forward only; a discharged patient never re-enters the workflow.
type Status string

const (
	StatusWaitingForTriage Status = "waiting_for_triage"
	StatusWaitingForDoctor Status = "waiting_for_doctor"
	StatusInTreatment      Status = "in_treatment"
	StatusDischarged       Status = "discharged"
)

var statusRank = map[Status]int{
	StatusWaitingForTriage: 0,
	StatusWaitingForDoctor: 1,
	StatusInTreatment:      2,
	StatusDischarged:       3,
}

// ValidStatus reports whether s is one of the known workflow statuses.
func ValidStatus(s Status) bool {
	_, ok := statusRank[s]
	return ok
}

// CanTransition reports whether a patient may move from one status to
// another. Equal statuses are allowed (idempotent writes); regression from
// discharged is not.
func CanTransition(from, to Status) bool {
	fr, ok := statusRank[from]
	if !ok {
		return false
	}
	tr, ok := statusRank[to]
	if !ok {
		return false
	}
	return tr >= fr
}

// TriageLevel is the coarse urgency classification.
type TriageLevel string

const (
	TriageRed    TriageLevel = "red"
	TriageYellow TriageLevel = "yellow"
	TriageGreen  TriageLevel = "green"
	TriageNone   TriageLevel = "none"
)

// Triage is the derived urgency classification plus ordered human-readable
// reasons. It is recomputed from the latest vitals on every submission and
// treated as authoritative state, so it must be deterministic.
type Triage struct {
	Level   TriageLevel `json:"level"`
	Reasons []string    `json:"reasons"`
}

// AISuggestion is the advisory output of the complaint classifier. It is
// never applied to Status without explicit human action.
type AISuggestion struct {
	Department  string      `json:"department"`
	TriageLevel TriageLevel `json:"suggested_triage"`
	Confidence  float64     `json:"confidence"`
	FromCache   bool        `json:"from_cache"`
	SuggestedAt time.Time   `json:"suggested_at"`
}

// VitalsSource tags who or what produced a vitals record.
type VitalsSource string

const (
	SourceManual  VitalsSource = "manual"
	SourceDevice  VitalsSource = "device"
	SourceNurse   VitalsSource = "nurse"
	SourceMonitor VitalsSource = "monitor"
)

// Measurements is one vital-sign snapshot. Optional signs are pointers so
// "not measured" and "zero" stay distinct.
type Measurements struct {
	Pulse           *int     `json:"pulse,omitempty"`
	BPSystolic      *int     `json:"bp_sys,omitempty"`
	BPDiastolic     *int     `json:"bp_dia,omitempty"`
	RespiratoryRate *int     `json:"rr,omitempty"`
	SpO2            *int     `json:"spo2,omitempty"`
	Temperature     *float64 `json:"temp,omitempty"`
	Glucose         *float64 `json:"glucose,omitempty"`
	PainScale       *int     `json:"pain_scale,omitempty"`
	UrineOutput     *float64 `json:"urine_output,omitempty"`
}

// VitalsRecord is immutable once created: it is appended to the patient's
// history and never updated.
type VitalsRecord struct {
	ID           uuid.UUID    `json:"id"`
	PatientID    uuid.UUID    `json:"patient_id"`
	RecordedBy   uuid.UUID    `json:"recorded_by"`
	RecordedAt   time.Time    `json:"recorded_at"`
	Source       VitalsSource `json:"source"`
	Measurements Measurements `json:"measurements"`
}

// Order is a clinical order (lab, imaging, medication) placed for a patient.
type Order struct {
	ID        uuid.UUID  `json:"id"`
	Kind      string     `json:"kind"`
	Detail    string     `json:"detail"`
	OrderedBy uuid.UUID  `json:"ordered_by"`
	OrderedAt time.Time  `json:"ordered_at"`
	Status    string     `json:"status"`
	ResultID  *uuid.UUID `json:"result_id,omitempty"`
}

// Result is a completed finding for an order.
type Result struct {
	ID         uuid.UUID `json:"id"`
	OrderID    uuid.UUID `json:"order_id"`
	Summary    string    `json:"summary"`
	ReportedAt time.Time `json:"reported_at"`
}

// Round is a ward-round note.
type Round struct {
	ID       uuid.UUID `json:"id"`
	DoctorID uuid.UUID `json:"doctor_id"`
	Note     string    `json:"note"`
	SeenAt   time.Time `json:"seen_at"`
}

// TimelineEvent is a display-oriented entry in the patient's activity feed.
type TimelineEvent struct {
	ID         uuid.UUID `json:"id"`
	Kind       string    `json:"kind"`
	Summary    string    `json:"summary"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Patient is the root aggregate. All ordered collections are newest-first.
type Patient struct {
	ID           uuid.UUID     `json:"id"`
	Name         string        `json:"name"`
	Age          int           `json:"age"`
	Gender       string        `json:"gender"`
	Contact      string        `json:"contact"`
	Complaint    string        `json:"complaint"`
	Status       Status        `json:"status"`
	Triage       Triage        `json:"triage"`
	AISuggestion *AISuggestion `json:"ai_suggestion,omitempty"`

	File ClinicalFile `json:"clinical_file"`

	Vitals        *Measurements   `json:"vitals,omitempty"`
	VitalsHistory []VitalsRecord  `json:"vitals_history"`
	Orders        []Order         `json:"orders"`
	Results       []Result        `json:"results"`
	Rounds        []Round         `json:"rounds"`
	Timeline      []TimelineEvent `json:"timeline"`

	RegisteredAt time.Time `json:"registered_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// New creates a patient in the initial workflow state.
func New(name string, age int, gender, contact, complaint string, now time.Time) Patient {
	return Patient{
		ID:           uuid.New(),
		Name:         name,
		Age:          age,
		Gender:       gender,
		Contact:      contact,
		Complaint:    complaint,
		Status:       StatusWaitingForTriage,
		Triage:       Triage{Level: TriageNone},
		RegisteredAt: now,
		UpdatedAt:    now,
	}
}

// Validate checks the fields a registration must carry.
func (p *Patient) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("name is required")
	}
	if p.Age < 0 || p.Age > 150 {
		return fmt.Errorf("age %d out of range", p.Age)
	}
	if p.Status != "" && !ValidStatus(p.Status) {
		return fmt.Errorf("invalid status: %s", p.Status)
	}
	return nil
}

// AppendVitals returns a copy of the patient with the record prepended to
// the history, the current vitals snapshot replaced, and triage recomputed
// from the new measurements. The receiver is not modified.
func (p Patient) AppendVitals(rec VitalsRecord) Patient {
	history := make([]VitalsRecord, 0, len(p.VitalsHistory)+1)
	history = append(history, rec)
	history = append(history, p.VitalsHistory...)
	p.VitalsHistory = history

	m := rec.Measurements
	p.Vitals = &m
	p.Triage = ClassifyVitals(rec.Measurements)
	p.UpdatedAt = rec.RecordedAt
	return p
}
