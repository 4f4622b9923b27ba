// Package normalize derives the canonical, read-only view of a scanned host
// that every downstream consumer (prompt builder, summariser, API) works from.
package normalize

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/jmerrifield20/hostscope/internal/dataset"
	"github.com/jmerrifield20/hostscope/internal/risk"
)

const (
	maxBanners = 3

	// TopVulnerabilities bounds VulnerabilityContext.Top.
	TopVulnerabilities = 10
)

// Host is the normalised form of a dataset.Host. It is built once and never
// mutated afterwards; Raw is shared read-only with the source dataset.
type Host struct {
	Raw                     *dataset.Host        `json:"host"`
	IP                      string               `json:"ip"`
	GeoSummary              string               `json:"geo_summary"`
	ASNSummary              string               `json:"asn_summary"`
	ServiceCount            int                  `json:"service_count"`
	ServiceCountsByProtocol map[string]int       `json:"service_counts_by_protocol"`
	OpenPorts               []int                `json:"open_ports"`
	TLSEnabledCount         int                  `json:"tls_enabled_count"`
	HasCertificates         bool                 `json:"has_certificates"`
	HasSelfSignedCert       bool                 `json:"has_self_signed_certificate"`
	RepresentativeBanners   []string             `json:"representative_banners"`
	SoftwareFingerprints    []string             `json:"software_fingerprints"`
	Vulnerabilities         VulnerabilityContext `json:"vulnerabilities"`
	Threat                  ThreatInfo           `json:"threat"`
	RiskBadge               risk.Badge           `json:"risk_badge"`
}

// VulnerabilitySummary is one deduplicated CVE.
type VulnerabilitySummary struct {
	CVEID       string     `json:"cve_id"`
	Severity    risk.Level `json:"severity"`
	CVSSScore   *float64   `json:"cvss_score"`
	Description string     `json:"description,omitempty"`
}

// VulnerabilityContext rolls up every vulnerability across a host's services.
// Total counts raw entries; UniqueCVECount counts distinct CVE ids.
type VulnerabilityContext struct {
	Total          int                    `json:"total"`
	UniqueCVECount int                    `json:"unique_cve_count"`
	MaxSeverity    risk.Level             `json:"max_severity"`
	HighestCVSS    *float64               `json:"highest_cvss"`
	Top            []VulnerabilitySummary `json:"top"`
}

// ThreatInfo aggregates host-level intel with service-level detections.
// RiskLevel is nil when the raw level is absent or unparseable.
type ThreatInfo struct {
	RiskLevel            *risk.Level `json:"risk_level"`
	RawRiskLevel         *string     `json:"raw_risk_level"`
	SecurityLabels       []string    `json:"security_labels"`
	MalwareFamilies      []string    `json:"malware_families"`
	DetectedMalwareNames []string    `json:"detected_malware_names"`
	ThreatActors         []string    `json:"threat_actors"`
}

var scorer = risk.NewScorer()

// FromDataset normalises every host in ds, preserving order.
func FromDataset(ds *dataset.Dataset) []*Host {
	out := make([]*Host, 0, len(ds.Hosts))
	for i := range ds.Hosts {
		out = append(out, FromRaw(&ds.Hosts[i]))
	}
	return out
}

// FromRaw normalises a single host in one pass over its services.
func FromRaw(h *dataset.Host) *Host {
	var (
		protocols   = map[string]int{}
		ports       = map[int]struct{}{}
		banners     = make([]string, 0, maxBanners)
		bannerSeen  = map[string]struct{}{}
		software    = map[string]struct{}{}
		vulns       = map[string]VulnerabilitySummary{}
		malware     = map[string]struct{}{}
		actors      = map[string]struct{}{}
		total       int
		highest     *float64
		maxSeverity = risk.None
		tlsCount    int
		hasCerts    bool
		selfSigned  bool
	)

	for i := range h.Services {
		svc := &h.Services[i]

		protocol := strings.ToLower(svc.Protocol)
		if protocol == "" {
			protocol = "unknown"
		}
		protocols[protocol]++
		ports[svc.Port] = struct{}{}

		if b := strings.TrimSpace(svc.Banner); b != "" {
			if _, ok := bannerSeen[b]; !ok {
				bannerSeen[b] = struct{}{}
				banners = append(banners, b)
			}
		}

		for _, sw := range svc.Software {
			if fp := fingerprint(sw); fp != "" {
				software[fp] = struct{}{}
			}
		}

		for _, v := range svc.Vulnerabilities {
			summary := summarise(v)
			total++
			maxSeverity = risk.Max(maxSeverity, summary.Severity)
			highest = higherScore(highest, summary.CVSSScore)
			if prev, ok := vulns[summary.CVEID]; ok {
				vulns[summary.CVEID] = better(prev, summary)
			} else {
				vulns[summary.CVEID] = summary
			}
		}

		if svc.TLSEnabled {
			tlsCount++
		}
		if svc.Certificate != nil {
			hasCerts = true
			if svc.Certificate.SelfSigned {
				selfSigned = true
			}
		}

		if m := svc.MalwareDetected; m != nil {
			if m.Name != "" {
				malware[m.Name] = struct{}{}
			}
			for _, a := range m.ThreatActors {
				if a != "" {
					actors[a] = struct{}{}
				}
			}
		}
	}

	if len(banners) > maxBanners {
		banners = banners[:maxBanners]
	}

	openPorts := make([]int, 0, len(ports))
	for p := range ports {
		openPorts = append(openPorts, p)
	}
	sort.Ints(openPorts)

	vc := VulnerabilityContext{
		Total:          total,
		UniqueCVECount: len(vulns),
		MaxSeverity:    maxSeverity,
		HighestCVSS:    highest,
		Top:            topVulnerabilities(vulns),
	}
	threat := threatInfo(h.ThreatIntelligence, malware, actors)

	return &Host{
		Raw:                     h,
		IP:                      h.IP,
		GeoSummary:              GeoSummary(h),
		ASNSummary:              ASNSummary(h),
		ServiceCount:            len(h.Services),
		ServiceCountsByProtocol: protocols,
		OpenPorts:               openPorts,
		TLSEnabledCount:         tlsCount,
		HasCertificates:         hasCerts,
		HasSelfSignedCert:       selfSigned,
		RepresentativeBanners:   banners,
		SoftwareFingerprints:    sortedSet(software),
		Vulnerabilities:         vc,
		Threat:                  threat,
		RiskBadge: scorer.Score(risk.Signals{
			MaxSeverity:     vc.MaxSeverity,
			HighestCVSS:     vc.HighestCVSS,
			ThreatRisk:      threat.RiskLevel,
			HasThreatLabels: len(threat.SecurityLabels) > 0 || len(threat.MalwareFamilies) > 0 || len(threat.DetectedMalwareNames) > 0,
		}),
	}
}

// GeoSummary renders "City, Country (CC)", falling back to the country code
// when neither name is known.
func GeoSummary(h *dataset.Host) string {
	parts := make([]string, 0, 2)
	if h.Location.City != "" {
		parts = append(parts, h.Location.City)
	}
	if h.Location.Country != "" {
		parts = append(parts, h.Location.Country)
	}
	if len(parts) == 0 {
		parts = append(parts, h.Location.CountryCode)
	}
	return fmt.Sprintf("%s (%s)", strings.Join(parts, ", "), h.Location.CountryCode)
}

// ASNSummary renders "AS<asn> <name> (CC)".
func ASNSummary(h *dataset.Host) string {
	as := h.AutonomousSystem
	parts := []string{"AS" + strconv.FormatFloat(as.ASN, 'f', -1, 64)}
	if as.Name != "" {
		parts = append(parts, as.Name)
	}
	if as.CountryCode != "" {
		parts = append(parts, "("+as.CountryCode+")")
	}
	return strings.Join(parts, " ")
}

func fingerprint(sw dataset.Software) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{sw.Vendor, sw.Product, sw.Version} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

func summarise(v dataset.Vulnerability) VulnerabilitySummary {
	s := VulnerabilitySummary{
		CVEID:       v.CVEID,
		Severity:    risk.Parse(v.Severity),
		Description: strings.TrimSpace(v.Description),
	}
	if v.CVSSScore != nil && !math.IsNaN(*v.CVSSScore) && !math.IsInf(*v.CVSSScore, 0) {
		score := *v.CVSSScore
		s.CVSSScore = &score
	}
	return s
}

func higherScore(current, incoming *float64) *float64 {
	if incoming == nil {
		return current
	}
	if current == nil || *incoming > *current {
		v := *incoming
		return &v
	}
	return current
}

func scoreOf(v VulnerabilitySummary) float64 {
	if v.CVSSScore == nil {
		return -1
	}
	return *v.CVSSScore
}

// better keeps the record with the higher CVSS score, then the higher
// severity. Equal records keep the one seen first.
func better(current, incoming VulnerabilitySummary) VulnerabilitySummary {
	ci, ii := scoreOf(current), scoreOf(incoming)
	switch {
	case ii > ci:
		return incoming
	case ii < ci:
		return current
	case incoming.Severity.Rank() > current.Severity.Rank():
		return incoming
	default:
		return current
	}
}

func topVulnerabilities(vulns map[string]VulnerabilitySummary) []VulnerabilitySummary {
	out := make([]VulnerabilitySummary, 0, len(vulns))
	for _, v := range vulns {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if sa, sb := scoreOf(a), scoreOf(b); sa != sb {
			return sa > sb
		}
		if ra, rb := a.Severity.Rank(), b.Severity.Rank(); ra != rb {
			return ra > rb
		}
		return a.CVEID < b.CVEID
	})
	if len(out) > TopVulnerabilities {
		out = out[:TopVulnerabilities]
	}
	return out
}

func threatInfo(ti *dataset.ThreatIntelligence, malware, actors map[string]struct{}) ThreatInfo {
	info := ThreatInfo{
		SecurityLabels:       []string{},
		MalwareFamilies:      []string{},
		DetectedMalwareNames: sortedSet(malware),
		ThreatActors:         sortedSet(actors),
	}
	if ti == nil {
		return info
	}
	info.SecurityLabels = sortedStrings(ti.SecurityLabels)
	info.MalwareFamilies = sortedStrings(ti.MalwareFamilies)
	if ti.RiskLevel != nil {
		raw := *ti.RiskLevel
		info.RawRiskLevel = &raw
		if lvl := risk.Parse(raw); lvl != risk.Unknown {
			info.RiskLevel = &lvl
		}
	}
	return info
}

func sortedSet(set map[string]struct{}) []string {
	values := make([]string, 0, len(set))
	for v := range set {
		values = append(values, v)
	}
	return sortedStrings(values)
}

// sortedStrings trims, drops empties, dedupes and sorts into a new slice.
func sortedStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
