package rules

// ProgramTaxonomy describes the rule-variant programs a firm offers (e.g.
// one-step vs two-step evaluation) and any externally observed aliases for
// each program's canonical ID. It is consulted only by the resolver and the
// review path; the monitor engine only ever sees resolved Rules.
type ProgramTaxonomy struct {
	OfficialPrograms map[string]string // id -> display name
	Aliases          map[string]string // alias -> id
}

// CanonicalProgramID resolves an externally observed program string
// (official ID or alias) to its canonical ID. Returns ok=false if unknown.
func (t ProgramTaxonomy) CanonicalProgramID(observed string) (string, bool) {
	if _, ok := t.OfficialPrograms[observed]; ok {
		return observed, true
	}
	if id, ok := t.Aliases[observed]; ok {
		return id, true
	}
	return "", false
}

// Taxonomies is keyed by normalized firm name.
type Taxonomies map[string]ProgramTaxonomy

// DefaultTaxonomies is a small compiled-in taxonomy table mirroring the
// preset registry's known firms; a real deployment extends it from the
// (out of scope here) rule-extraction pipeline's output.
var DefaultTaxonomies = Taxonomies{
	NormalizeFirmName("FundedNext"): {
		OfficialPrograms: map[string]string{
			"stellar_1step": "Stellar 1-Step",
			"stellar_2step": "Stellar 2-Step",
			"evaluation":    "Standard Evaluation",
		},
		Aliases: map[string]string{
			"1step":      "stellar_1step",
			"one-step":   "stellar_1step",
			"2step":      "stellar_2step",
			"two-step":   "stellar_2step",
		},
	},
	NormalizeFirmName("FTMO"): {
		OfficialPrograms: map[string]string{
			"challenge":  "FTMO Challenge",
			"normal":     "Normal Account",
			"aggressive": "Aggressive Account",
		},
	},
}
