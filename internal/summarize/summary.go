package summarize

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jmerrifield20/hostscope/internal/normalize"
)

// Summary is the provider output shape.
type Summary struct {
	Highlights []string `json:"highlights"`
	Risks      []string `json:"risks"`
	Narrative  string   `json:"narrative"`
}

// Meta describes how a Result was produced.
type Meta struct {
	Attempts         int    `json:"attempts"`
	DurationMs       int64  `json:"duration_ms"`
	UsedFallback     bool   `json:"used_fallback"`
	Provider         string `json:"provider"`
	PromptVersion    string `json:"prompt_version"`
	PromptCharacters int    `json:"prompt_characters"`
	MaxTokens        int    `json:"max_tokens"`
}

// Result is always returned by SummarizeHost. When UsedFallback is set the
// summary fields hold the deterministic fallback and ErrorKind says why.
type Result struct {
	Highlights   []string  `json:"highlights"`
	Risks        []string  `json:"risks"`
	Narrative    string    `json:"narrative"`
	ErrorKind    ErrorKind `json:"error_kind"`
	ErrorMessage string    `json:"error_message,omitempty"`
	Meta         Meta      `json:"meta"`
}

// Fallback builds a summary from the normalised fields alone. It is pure and
// never fails.
func Fallback(h *normalize.Host) Summary {
	vc := h.Vulnerabilities
	threat := h.Threat

	highlights := []string{
		"Risk badge " + h.RiskBadge.Label,
		fmt.Sprintf("%d services across %d protocols", h.ServiceCount, len(h.ServiceCountsByProtocol)),
	}
	if len(vc.Top) > 0 {
		highlights = append(highlights, "Top CVE "+cveSnippet(vc.Top[0]))
	}
	if len(threat.SecurityLabels) > 0 {
		highlights = append(highlights, "Security labels: "+strings.Join(threat.SecurityLabels, ", "))
	}

	var risks []string
	if vc.Total > 0 {
		risks = append(risks, fmt.Sprintf("%d known vulnerabilities with max severity %s", vc.Total, vc.MaxSeverity))
	}
	if threat.RiskLevel != nil {
		risks = append(risks, fmt.Sprintf("Threat intel flags risk as %s", *threat.RiskLevel))
	}
	if len(threat.DetectedMalwareNames) > 0 {
		risks = append(risks, "Malware detected: "+strings.Join(threat.DetectedMalwareNames, ", "))
	}
	if h.HasSelfSignedCert {
		risks = append(risks, "Self-signed certificate detected on at least one service")
	}
	if len(risks) == 0 {
		risks = []string{"No heightened risk indicators beyond baseline exposure"}
	}

	cause := "limited direct findings"
	if vc.Total > 0 {
		cause = fmt.Sprintf("%d documented vulnerabilities", vc.Total)
	}
	parts := []string{fmt.Sprintf("%s (%s) is tracked as %s risk due to %s.",
		h.IP, h.GeoSummary, strings.ToLower(h.RiskBadge.Label), cause)}

	if len(vc.Top) > 0 {
		top := vc.Top
		if len(top) > 2 {
			top = top[:2]
		}
		snippets := make([]string, len(top))
		for i, v := range top {
			snippets[i] = cveSnippet(v)
		}
		parts = append(parts, "Key exposures: "+strings.Join(snippets, "; ")+".")
	}
	if threat.RiskLevel != nil || len(threat.SecurityLabels) > 0 {
		var intel []string
		if threat.RiskLevel != nil {
			intel = append(intel, string(*threat.RiskLevel))
		}
		labels := threat.SecurityLabels
		if len(labels) > 3 {
			labels = labels[:3]
		}
		if len(labels) > 0 {
			intel = append(intel, strings.Join(labels, ", "))
		}
		parts = append(parts, "Threat intel: "+strings.Join(intel, " / ")+".")
	}
	if len(threat.MalwareFamilies) > 0 {
		parts = append(parts, "Known malware families: "+strings.Join(threat.MalwareFamilies, ", ")+".")
	}
	if h.TLSEnabledCount > 0 {
		tail := "."
		if h.HasSelfSignedCert {
			tail = ", including self-signed chains that require hardening."
		}
		parts = append(parts, fmt.Sprintf("%d services present TLS certificates%s", h.TLSEnabledCount, tail))
	}
	if len(parts) == 1 {
		parts = append(parts, "No additional critical findings were identified in the current snapshot.")
	}

	return Summary{
		Highlights: highlights,
		Risks:      risks,
		Narrative:  strings.Join(strings.Fields(strings.Join(parts, " ")), " "),
	}
}

func cveSnippet(v normalize.VulnerabilitySummary) string {
	if v.CVSSScore == nil {
		return fmt.Sprintf("%s (%s)", v.CVEID, v.Severity)
	}
	return fmt.Sprintf("%s (%s %s)", v.CVEID, v.Severity, strconv.FormatFloat(*v.CVSSScore, 'f', 1, 64))
}

func fallbackResult(h *normalize.Host, kind ErrorKind, message string, meta Meta) Result {
	s := Fallback(h)
	meta.UsedFallback = true
	return Result{
		Highlights:   s.Highlights,
		Risks:        s.Risks,
		Narrative:    s.Narrative,
		ErrorKind:    kind,
		ErrorMessage: message,
		Meta:         meta,
	}
}
