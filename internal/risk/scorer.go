package risk

import (
	"fmt"
	"strings"
)

// Source tags identify which signal contributed to a badge.
const (
	SourceVulnerability = "vulnerability"
	SourceThreatIntel   = "threat_intel"
	SourceCVSS          = "cvss"
	SourceThreatLabels  = "threat_labels"
)

// noSignalDescription is used when a host carries no risk signal at all.
const noSignalDescription = "No elevated risk signals detected"

// Badge is the composite risk indicator surfaced per host.
type Badge struct {
	Level       Level    `json:"level"`
	Label       string   `json:"label"`
	Description string   `json:"description"`
	Sources     []string `json:"sources"`
}

// Signals are the per-host inputs to the badge computation.
type Signals struct {
	// MaxSeverity is the highest normalised severity across all raw
	// vulnerability entries on the host.
	MaxSeverity Level

	// HighestCVSS is the highest CVSS score seen, nil when no entry had one.
	HighestCVSS *float64

	// ThreatRisk is the parsed threat-intel risk level, nil when absent or
	// unparseable.
	ThreatRisk *Level

	// HasThreatLabels is true when security labels, malware families or
	// service-level malware detections are present.
	HasThreatLabels bool
}

// candidate is one signal's proposal for the badge level.
type candidate struct {
	level     Level
	source    string
	rationale string
	priority  int // lower wins ties
}

// rule inspects the signals and proposes at most one candidate.
type rule func(Signals) (candidate, bool)

// Scorer combines independent signals into a Badge. Every rule proposes a
// candidate; the highest rank wins and ties are ordered by source priority
// (vulnerability severity, then threat intel, then CVSS-derived).
type Scorer struct {
	rules []rule
}

// NewScorer returns a Scorer loaded with the default rule set.
func NewScorer() *Scorer {
	return &Scorer{
		rules: []rule{
			ruleVulnerabilitySeverity,
			ruleThreatIntel,
			ruleCVSS,
		},
	}
}

// Score computes the badge for a host's signals.
func (s *Scorer) Score(sig Signals) Badge {
	var candidates []candidate
	for _, r := range s.rules {
		if c, ok := r(sig); ok && c.level.Rank() > 0 {
			candidates = append(candidates, c)
		}
	}

	best := 0
	for _, c := range candidates {
		if c.level.Rank() > best {
			best = c.level.Rank()
		}
	}

	var winners []candidate
	for _, c := range candidates {
		if c.level.Rank() == best {
			winners = append(winners, c)
		}
	}
	sortByPriority(winners)

	if len(winners) == 0 {
		if sig.HasThreatLabels {
			return Badge{
				Level:       Informational,
				Label:       Informational.Label(),
				Description: "Threat labels present",
				Sources:     []string{SourceThreatLabels},
			}
		}
		return Badge{
			Level:       None,
			Label:       None.Label(),
			Description: noSignalDescription,
			Sources:     []string{},
		}
	}

	level := winners[0].level
	sources := make([]string, 0, len(winners))
	parts := make([]string, 0, len(winners))
	for _, w := range winners {
		sources = append(sources, w.source)
		parts = append(parts, w.rationale)
	}

	return Badge{
		Level:       level,
		Label:       level.Label(),
		Description: strings.Join(parts, "; "),
		Sources:     sources,
	}
}

// sortByPriority is an insertion sort; there are at most three candidates.
func sortByPriority(cs []candidate) {
	for i := 1; i < len(cs); i++ {
		for j := i; j > 0 && cs[j].priority < cs[j-1].priority; j-- {
			cs[j], cs[j-1] = cs[j-1], cs[j]
		}
	}
}

// ── Rules ─────────────────────────────────────────────────────────────────────

func ruleVulnerabilitySeverity(sig Signals) (candidate, bool) {
	if sig.MaxSeverity == "" || sig.MaxSeverity == None || sig.MaxSeverity == Unknown {
		return candidate{}, false
	}
	return candidate{
		level:     sig.MaxSeverity,
		source:    SourceVulnerability,
		rationale: "Max vulnerability severity " + sig.MaxSeverity.Label(),
		priority:  0,
	}, true
}

func ruleThreatIntel(sig Signals) (candidate, bool) {
	if sig.ThreatRisk == nil {
		return candidate{}, false
	}
	lvl := *sig.ThreatRisk
	return candidate{
		level:     lvl,
		source:    SourceThreatIntel,
		rationale: "Threat intel risk " + lvl.Label(),
		priority:  1,
	}, true
}

// ruleCVSS is deliberately independent of ruleVulnerabilitySeverity: the
// free-text severity and the numeric score may disagree.
func ruleCVSS(sig Signals) (candidate, bool) {
	if sig.HighestCVSS == nil {
		return candidate{}, false
	}
	lvl := FromCVSS(*sig.HighestCVSS)
	return candidate{
		level:     lvl,
		source:    SourceCVSS,
		rationale: fmt.Sprintf("Highest CVSS %.1f maps to %s", *sig.HighestCVSS, lvl.Label()),
		priority:  2,
	}, true
}
