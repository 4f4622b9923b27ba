// Package risk ranks severity signals observed on scanned hosts and combines
// them into a single composite badge.
//
// Free-text severities coming from scan data are normalised through a fixed
// alias table into the closed Level enum. Levels are totally ordered by rank;
// Unknown shares rank 0 with None but never outranks a named level.
package risk

import "strings"

// Level is a normalised severity.
type Level string

const (
	Critical      Level = "critical"
	High          Level = "high"
	Medium        Level = "medium"
	Low           Level = "low"
	Informational Level = "informational"
	None          Level = "none"
	Unknown       Level = "unknown"
)

var ranks = map[Level]int{
	None:          0,
	Informational: 1,
	Low:           2,
	Medium:        3,
	High:          4,
	Critical:      5,
	Unknown:       0,
}

var aliases = map[string]Level{
	"critical":      Critical,
	"high":          High,
	"medium":        Medium,
	"moderate":      Medium,
	"low":           Low,
	"informational": Informational,
	"info":          Informational,
	"none":          None,
	"unknown":       Unknown,
}

// Rank returns the ordering weight of l. Unrecognised values rank 0.
func (l Level) Rank() int {
	return ranks[l]
}

// Label returns l with its first letter capitalised ("critical" → "Critical").
func (l Level) Label() string {
	return Capitalise(string(l))
}

// Parse normalises a free-text severity through the alias table.
// Empty or unrecognised input yields Unknown.
func Parse(value string) Level {
	key := strings.ToLower(strings.TrimSpace(value))
	if key == "" {
		return Unknown
	}
	if lvl, ok := aliases[key]; ok {
		return lvl
	}
	return Unknown
}

// Max returns the higher-ranked of a and b. On equal rank a named level wins
// over Unknown, so Max is commutative, associative and idempotent.
func Max(a, b Level) Level {
	ra, rb := a.Rank(), b.Rank()
	switch {
	case rb > ra:
		return b
	case ra > rb:
		return a
	case a == Unknown:
		return b
	default:
		return a
	}
}

// FromCVSS maps a CVSS v3 base score onto a Level using the NVD rating bands.
func FromCVSS(score float64) Level {
	switch {
	case score >= 9.0:
		return Critical
	case score >= 7.0:
		return High
	case score >= 4.0:
		return Medium
	case score > 0:
		return Low
	default:
		return None
	}
}

// Capitalise upper-cases the first byte of an ASCII word.
func Capitalise(value string) string {
	if value == "" {
		return ""
	}
	return strings.ToUpper(value[:1]) + value[1:]
}
