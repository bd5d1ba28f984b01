package patient

// SectionName addresses one independently-updatable sub-document of the
// clinical file.
type SectionName string

const (
	SectionHistory      SectionName = "history"
	SectionGeneralExam  SectionName = "general_exam"
	SectionSystemicExam SectionName = "systemic_exam"
)

// ValidSection reports whether s names a clinical-file section.
func ValidSection(s SectionName) bool {
	switch s {
	case SectionHistory, SectionGeneralExam, SectionSystemicExam:
		return true
	}
	return false
}

// Section is one clinical-file sub-document. Scalar narrative fields sit
// alongside three sub-maps: boolean flags, numeric vitals-style fields, and
// a free-form overflow map for fields the schema does not name. Partial
// updates go through MergeSection so sibling fields survive.
type Section struct {
	Summary   string             `json:"summary,omitempty"`
	Narrative string             `json:"narrative,omitempty"`
	Allergies []string           `json:"allergies,omitempty"`
	Flags     map[string]bool    `json:"flags,omitempty"`
	Vitals    map[string]float64 `json:"vitals,omitempty"`
	Extra     map[string]any     `json:"extra,omitempty"`
}

// ClinicalFile is owned by exactly one patient.
type ClinicalFile struct {
	History      Section `json:"history"`
	GeneralExam  Section `json:"general_exam"`
	SystemicExam Section `json:"systemic_exam"`
}

// SectionByName returns the named section; ok is false for unknown names.
func (f ClinicalFile) SectionByName(name SectionName) (Section, bool) {
	switch name {
	case SectionHistory:
		return f.History, true
	case SectionGeneralExam:
		return f.GeneralExam, true
	case SectionSystemicExam:
		return f.SystemicExam, true
	}
	return Section{}, false
}

// WithSection returns a copy of the file with the named section replaced.
// Unknown names return the file unchanged.
func (f ClinicalFile) WithSection(name SectionName, s Section) ClinicalFile {
	switch name {
	case SectionHistory:
		f.History = s
	case SectionGeneralExam:
		f.GeneralExam = s
	case SectionSystemicExam:
		f.SystemicExam = s
	}
	return f
}
