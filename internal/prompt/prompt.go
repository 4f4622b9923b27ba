// Package prompt renders a normalised host into the bounded text prompt sent
// to the summarisation provider.
package prompt

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/jmerrifield20/hostscope/internal/normalize"
)

// Version identifies the prompt layout. Bump it whenever the rendered lines
// change so cached summaries can be told apart.
const Version = "2025-10-01"

const (
	charsPerToken    = 4
	maxSectionLength = 350
	maxDescription   = 120
	maxOpenPorts     = 20
	maxLabels        = 12
	maxFamilies      = 10
	maxMalwareNames  = 10

	truncationMarker = "[Content truncated to respect token budget]"
)

var guidance = []string{
	"Deliver the most critical exploit or compromise scenarios first.",
	"Highlight remediation or mitigation steps informed by the observed services and CVEs.",
	"Call out data gaps or missing telemetry when risk cannot be confirmed.",
}

// Options tunes the rendered prompt. Zero values select the defaults.
type Options struct {
	MaxTokens     int // default 512
	MaxCharacters int // optional further cap on MaxTokens*4
	MaxBanners    int // default 2
	MaxCVEs       int // default 5
}

// DefaultOptions returns the defaults used when a field is left zero.
func DefaultOptions() Options {
	return Options{MaxTokens: 512, MaxBanners: 2, MaxCVEs: 5}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MaxTokens <= 0 {
		o.MaxTokens = d.MaxTokens
	}
	if o.MaxBanners <= 0 {
		o.MaxBanners = d.MaxBanners
	}
	if o.MaxCVEs <= 0 {
		o.MaxCVEs = d.MaxCVEs
	}
	return o
}

// Budget is the character ceiling for o.
func (o Options) Budget() int {
	o = o.withDefaults()
	budget := o.MaxTokens * charsPerToken
	if o.MaxCharacters > 0 && o.MaxCharacters < budget {
		budget = o.MaxCharacters
	}
	return budget
}

// Truncation reports which sections were capped by their own per-section
// limit, independent of the global character budget.
type Truncation struct {
	Banners         bool `json:"banners"`
	CVEs            bool `json:"cves"`
	MalwareFamilies bool `json:"malware_families"`
	SecurityLabels  bool `json:"security_labels"`
}

// Payload is a rendered prompt.
type Payload struct {
	Version    string     `json:"version"`
	Prompt     string     `json:"prompt"`
	Characters int        `json:"characters"`
	Truncated  Truncation `json:"truncated"`
}

// Build renders h. The result never exceeds opts.Budget() characters and
// never contains a partial line.
func Build(h *normalize.Host, opts Options) Payload {
	opts = opts.withDefaults()
	var tr Truncation

	sources := strings.Join(h.RiskBadge.Sources, ", ")
	if sources == "" {
		sources = "n/a"
	}

	lines := []string{
		"# Prompt Version " + Version,
		"Host: " + h.IP,
		"Location: " + h.GeoSummary,
		"Autonomous System: " + h.ASNSummary,
		fmt.Sprintf("Risk Badge: %s (sources: %s)", h.RiskBadge.Label, sources),
		fmt.Sprintf("Services: %d total; per protocol %s", h.ServiceCount, formatCounts(h.ServiceCountsByProtocol)),
	}

	if len(h.OpenPorts) > 0 {
		ports := h.OpenPorts
		suffix := ""
		if len(ports) > maxOpenPorts {
			ports = ports[:maxOpenPorts]
			suffix = " (truncated)"
		}
		parts := make([]string, len(ports))
		for i, p := range ports {
			parts[i] = strconv.Itoa(p)
		}
		lines = append(lines, "Open Ports: "+strings.Join(parts, ", ")+suffix)
	}

	banners := h.RepresentativeBanners
	if len(banners) > opts.MaxBanners {
		banners = banners[:opts.MaxBanners]
		tr.Banners = true
	}
	for i, b := range banners {
		lines = append(lines, fmt.Sprintf("Banner %d: %s", i+1, truncateText(b, maxSectionLength)))
	}

	vc := h.Vulnerabilities
	if vc.Total > 0 {
		cves := vc.Top
		if len(cves) > opts.MaxCVEs {
			cves = cves[:opts.MaxCVEs]
		}
		tr.CVEs = vc.UniqueCVECount > opts.MaxCVEs
		entries := make([]string, 0, len(cves))
		for _, v := range cves {
			parts := []string{v.CVEID, string(v.Severity)}
			if v.CVSSScore != nil {
				parts = append(parts, strconv.FormatFloat(*v.CVSSScore, 'f', 1, 64))
			}
			if d := truncateText(v.Description, maxDescription); d != "" {
				parts = append(parts, d)
			}
			entries = append(entries, strings.Join(parts, " | "))
		}
		lines = append(lines, fmt.Sprintf("Top CVEs (%d/%d): %s", len(cves), vc.UniqueCVECount, strings.Join(entries, "; ")))
	} else {
		lines = append(lines, "Top CVEs: none observed")
	}

	if len(h.Threat.SecurityLabels) > 0 {
		values, cut := limit(h.Threat.SecurityLabels, maxLabels)
		tr.SecurityLabels = cut
		lines = append(lines, fmt.Sprintf("Security Labels (%d): %s%s", len(values), strings.Join(values, ", "), truncatedSuffix(cut)))
	}
	if len(h.Threat.MalwareFamilies) > 0 {
		values, cut := limit(h.Threat.MalwareFamilies, maxFamilies)
		tr.MalwareFamilies = cut
		lines = append(lines, fmt.Sprintf("Malware Families (%d): %s%s", len(values), strings.Join(values, ", "), truncatedSuffix(cut)))
	}
	if len(h.Threat.DetectedMalwareNames) > 0 {
		values, cut := limit(h.Threat.DetectedMalwareNames, maxMalwareNames)
		lines = append(lines, "Observed Malware: "+strings.Join(values, ", ")+truncatedSuffix(cut))
	}

	lines = append(lines, fmt.Sprintf("TLS Insight: %d services with TLS; certificates present: %s; self-signed: %s",
		h.TLSEnabledCount, yesNo(h.HasCertificates), yesNo(h.HasSelfSignedCert)))

	lines = append(lines, "Guidance:")
	for i, g := range guidance {
		lines = append(lines, fmt.Sprintf("%d. %s", i+1, g))
	}

	text := fitToBudget(lines, opts.Budget())
	return Payload{
		Version:    Version,
		Prompt:     text,
		Characters: runeLen(text),
		Truncated:  tr,
	}
}

// fitToBudget joins lines with newlines, stopping before the first line that
// would overflow budget. When lines were dropped the truncation marker is
// appended, removing earlier lines if needed so the marker itself fits.
func fitToBudget(lines []string, budget int) string {
	kept := make([]string, 0, len(lines))
	length := 0
	overflow := false

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		next := length + runeLen(line)
		if len(kept) > 0 {
			next++
		}
		if next > budget {
			overflow = true
			break
		}
		kept = append(kept, line)
		length = next
	}

	if overflow {
		marker := runeLen(truncationMarker)
		for len(kept) > 0 && length+1+marker > budget {
			last := kept[len(kept)-1]
			kept = kept[:len(kept)-1]
			length -= runeLen(last)
			if len(kept) > 0 {
				length--
			}
		}
		if len(kept) > 0 || marker <= budget {
			kept = append(kept, truncationMarker)
		}
	}

	return strings.Join(kept, "\n")
}

func formatCounts(counts map[string]int) string {
	keys := make([]string, 0, len(counts))
	for k, n := range counts {
		if n > 0 {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return "none"
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s:%d", k, counts[k])
	}
	return strings.Join(parts, ", ")
}

func truncateText(value string, n int) string {
	r := []rune(value)
	if len(r) <= n {
		return value
	}
	return string(r[:n-3]) + "..."
}

func limit(values []string, n int) ([]string, bool) {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	if len(out) > n {
		return out[:n], true
	}
	return out, false
}

func truncatedSuffix(cut bool) string {
	if cut {
		return " (truncated)"
	}
	return ""
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func runeLen(s string) int {
	return len([]rune(s))
}
