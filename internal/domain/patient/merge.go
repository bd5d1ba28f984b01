package patient

// SectionPatch is a partial update to a Section. Nil fields are "leave
// alone"; set fields follow the merge rules in MergeSection.
type SectionPatch struct {
	Summary   *string            `json:"summary,omitempty"`
	Narrative *string            `json:"narrative,omitempty"`
	Allergies []string           `json:"allergies,omitempty"`
	Flags     map[string]bool    `json:"flags,omitempty"`
	Vitals    map[string]float64 `json:"vitals,omitempty"`
	Extra     map[string]any     `json:"extra,omitempty"`
}

// MergeSection applies a partial patch to a section without clobbering
// sibling fields. The rules:
//
//   - Scalar fields present in the patch overwrite the current value.
//   - The Flags, Vitals and Extra sub-maps merge key-wise: patched keys
//     overwrite, keys absent from the patch are preserved. Within Extra,
//     a key whose value is a nested map on both sides merges one level
//     deep; any other value replaces wholesale.
//   - Allergies (and every other array) is replaced wholesale by the
//     patch's array. Callers append by sending the full desired array.
//
// The function is pure and total: neither argument is modified, nil maps
// are treated as empty, and applying the same patch twice yields the same
// result as applying it once.
func MergeSection(current Section, patch SectionPatch) Section {
	out := current

	if patch.Summary != nil {
		out.Summary = *patch.Summary
	}
	if patch.Narrative != nil {
		out.Narrative = *patch.Narrative
	}
	if patch.Allergies != nil {
		out.Allergies = append([]string(nil), patch.Allergies...)
	}
	if patch.Flags != nil {
		out.Flags = mergeBoolMap(current.Flags, patch.Flags)
	}
	if patch.Vitals != nil {
		out.Vitals = mergeFloatMap(current.Vitals, patch.Vitals)
	}
	if patch.Extra != nil {
		out.Extra = mergeAnyMap(current.Extra, patch.Extra)
	}
	return out
}

func mergeBoolMap(current, patch map[string]bool) map[string]bool {
	out := make(map[string]bool, len(current)+len(patch))
	for k, v := range current {
		out[k] = v
	}
	for k, v := range patch {
		out[k] = v
	}
	return out
}

func mergeFloatMap(current, patch map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(current)+len(patch))
	for k, v := range current {
		out[k] = v
	}
	for k, v := range patch {
		out[k] = v
	}
	return out
}

// mergeAnyMap merges one level deep: a key mapping to a nested map on both
// sides keeps the current map's sibling keys; everything else is replaced by
// the patch value. Arrays are values here, so they replace wholesale.
func mergeAnyMap(current, patch map[string]any) map[string]any {
	out := make(map[string]any, len(current)+len(patch))
	for k, v := range current {
		out[k] = v
	}
	for k, pv := range patch {
		cm, cok := out[k].(map[string]any)
		pm, pok := pv.(map[string]any)
		if cok && pok {
			sub := make(map[string]any, len(cm)+len(pm))
			for sk, sv := range cm {
				sub[sk] = sv
			}
			for sk, sv := range pm {
				sub[sk] = sv
			}
			out[k] = sub
			continue
		}
		out[k] = pv
	}
	return out
}
