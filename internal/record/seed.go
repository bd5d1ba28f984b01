package record

import (
	"time"

	"github.com/google/uuid"

	"github.com/wardflow/wardflow/internal/domain/patient"
)

// Fixture ids and timestamps are fixed so seeding is deterministic: every
// empty deployment starts from the same collection.
var (
	fixtureBaseTime = time.Date(2025, 1, 6, 8, 0, 0, 0, time.UTC)

	fixtureIDAsha  = uuid.MustParse("5e570d9d-1c1b-4f65-9a41-0d3a8f1c9001")
	fixtureIDRohan = uuid.MustParse("5e570d9d-1c1b-4f65-9a41-0d3a8f1c9002")
	fixtureIDMeera = uuid.MustParse("5e570d9d-1c1b-4f65-9a41-0d3a8f1c9003")
)

func intp(i int) *int { return &i }

// Fixtures returns the deterministic demo collection injected into an
// observed-empty store exactly once.
func Fixtures() []patient.Patient {
	asha := patient.Patient{
		ID:           fixtureIDAsha,
		Name:         "Asha Rao",
		Age:          54,
		Gender:       "female",
		Contact:      "+91-98000-11111",
		Complaint:    "Breathlessness since morning",
		Status:       patient.StatusWaitingForTriage,
		Triage:       patient.Triage{Level: patient.TriageNone},
		RegisteredAt: fixtureBaseTime,
		UpdatedAt:    fixtureBaseTime,
	}
	asha = asha.AppendVitals(patient.VitalsRecord{
		ID:         uuid.MustParse("5e570d9d-1c1b-4f65-9a41-0d3a8f1c9101"),
		PatientID:  asha.ID,
		RecordedAt: fixtureBaseTime.Add(5 * time.Minute),
		Source:     patient.SourceNurse,
		Measurements: patient.Measurements{
			Pulse: intp(92), BPSystolic: intp(128), BPDiastolic: intp(84),
			RespiratoryRate: intp(27), SpO2: intp(94),
		},
	})

	rohan := patient.Patient{
		ID:           fixtureIDRohan,
		Name:         "Rohan Mehta",
		Age:          31,
		Gender:       "male",
		Contact:      "+91-98000-22222",
		Complaint:    "Twisted ankle playing football",
		Status:       patient.StatusWaitingForDoctor,
		Triage:       patient.Triage{Level: patient.TriageNone},
		RegisteredAt: fixtureBaseTime.Add(10 * time.Minute),
		UpdatedAt:    fixtureBaseTime.Add(10 * time.Minute),
	}
	rohan = rohan.AppendVitals(patient.VitalsRecord{
		ID:         uuid.MustParse("5e570d9d-1c1b-4f65-9a41-0d3a8f1c9102"),
		PatientID:  rohan.ID,
		RecordedAt: fixtureBaseTime.Add(12 * time.Minute),
		Source:     patient.SourceManual,
		Measurements: patient.Measurements{
			Pulse: intp(78), BPSystolic: intp(122), BPDiastolic: intp(80),
			RespiratoryRate: intp(15), SpO2: intp(99),
		},
	})

	meera := patient.Patient{
		ID:           fixtureIDMeera,
		Name:         "Meera Iyer",
		Age:          67,
		Gender:       "female",
		Contact:      "+91-98000-33333",
		Complaint:    "Dizzy spells, known hypertensive",
		Status:       patient.StatusWaitingForTriage,
		Triage:       patient.Triage{Level: patient.TriageNone},
		RegisteredAt: fixtureBaseTime.Add(20 * time.Minute),
		UpdatedAt:    fixtureBaseTime.Add(20 * time.Minute),
		File: patient.ClinicalFile{
			History: patient.Section{
				Summary:   "Hypertension for 12 years, on amlodipine.",
				Allergies: []string{"sulfa drugs"},
			},
		},
	}
	meera = meera.AppendVitals(patient.VitalsRecord{
		ID:         uuid.MustParse("5e570d9d-1c1b-4f65-9a41-0d3a8f1c9103"),
		PatientID:  meera.ID,
		RecordedAt: fixtureBaseTime.Add(22 * time.Minute),
		Source:     patient.SourceNurse,
		Measurements: patient.Measurements{
			Pulse: intp(104), BPSystolic: intp(86), BPDiastolic: intp(58),
			RespiratoryRate: intp(18), SpO2: intp(96),
		},
	})

	return []patient.Patient{asha, rohan, meera}
}
