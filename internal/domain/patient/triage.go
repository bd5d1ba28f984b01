package patient

import "fmt"

// ClassifyVitals derives a triage classification from one vitals snapshot.
// Conditions are evaluated top-down with short-circuit precedence: red
// conditions first, yellow only if no red fired, green otherwise. Reasons
// are collected only from the tier that set the level, in evaluation order,
// so two identical snapshots always produce byte-identical output.
func ClassifyVitals(m Measurements) Triage {
	var red []string
	if m.SpO2 != nil && *m.SpO2 < 90 {
		red = append(red, fmt.Sprintf("Low SpO2 (%d%%)", *m.SpO2))
	}
	if m.BPSystolic != nil && *m.BPSystolic < 90 {
		red = append(red, fmt.Sprintf("Low Blood Pressure (%d mmHg systolic)", *m.BPSystolic))
	}
	if len(red) > 0 {
		return Triage{Level: TriageRed, Reasons: red}
	}

	var yellow []string
	if m.RespiratoryRate != nil && *m.RespiratoryRate > 24 {
		yellow = append(yellow, fmt.Sprintf("High Respiratory Rate (%d breaths/min)", *m.RespiratoryRate))
	}
	if m.Pulse != nil && *m.Pulse > 120 {
		yellow = append(yellow, fmt.Sprintf("High Heart Rate (%d bpm)", *m.Pulse))
	}
	if len(yellow) > 0 {
		return Triage{Level: TriageYellow, Reasons: yellow}
	}

	return Triage{Level: TriageGreen, Reasons: []string{"Vitals are stable."}}
}
