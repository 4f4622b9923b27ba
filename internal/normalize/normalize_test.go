package normalize

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/jmerrifield20/hostscope/internal/dataset"
	"github.com/jmerrifield20/hostscope/internal/risk"
)

func ptr[T any](v T) *T { return &v }

func baseHost() dataset.Host {
	return dataset.Host{
		IP: "1.92.135.168",
		Location: dataset.Location{
			City:        "Beijing",
			Country:     "China",
			CountryCode: "CN",
		},
		AutonomousSystem: dataset.AutonomousSystem{ASN: 55990, Name: "HWCSNET Huawei Cloud Service", CountryCode: "CN"},
		Services:         []dataset.Service{},
	}
}

func TestFromRaw_serviceTallies(t *testing.T) {
	h := baseHost()
	h.Services = []dataset.Service{
		{Port: 22, Protocol: "SSH", Banner: "  SSH-2.0-OpenSSH_8.7 "},
		{Port: 8074, Protocol: "http", Banner: "SSH-2.0-OpenSSH_8.7"},
		{Port: 8082, Protocol: "http", TLSEnabled: true},
	}

	got := FromRaw(&h)

	if got.ServiceCount != 3 {
		t.Errorf("ServiceCount: got %d, want 3", got.ServiceCount)
	}
	if diff := cmp.Diff(map[string]int{"http": 2, "ssh": 1}, got.ServiceCountsByProtocol); diff != "" {
		t.Errorf("protocols mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{22, 8074, 8082}, got.OpenPorts); diff != "" {
		t.Errorf("ports mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"SSH-2.0-OpenSSH_8.7"}, got.RepresentativeBanners); diff != "" {
		t.Errorf("banners mismatch (-want +got):\n%s", diff)
	}
	if got.TLSEnabledCount != 1 || got.HasCertificates {
		t.Errorf("tls: count=%d certs=%v", got.TLSEnabledCount, got.HasCertificates)
	}
}

func TestFromRaw_unknownProtocolAndDuplicatePorts(t *testing.T) {
	h := baseHost()
	h.Services = []dataset.Service{{Port: 80}, {Port: 80, Protocol: "HTTP"}}

	got := FromRaw(&h)
	if diff := cmp.Diff(map[string]int{"http": 1, "unknown": 1}, got.ServiceCountsByProtocol); diff != "" {
		t.Errorf("protocols mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{80}, got.OpenPorts); diff != "" {
		t.Errorf("ports mismatch (-want +got):\n%s", diff)
	}
}

func TestFromRaw_bannerCap(t *testing.T) {
	h := baseHost()
	for _, b := range []string{"a", "b", "a", "", "c", "d"} {
		h.Services = append(h.Services, dataset.Service{Port: 1, Protocol: "tcp", Banner: b})
	}
	got := FromRaw(&h)
	if diff := cmp.Diff([]string{"a", "b", "c"}, got.RepresentativeBanners); diff != "" {
		t.Errorf("banners mismatch (-want +got):\n%s", diff)
	}
}

func TestFromRaw_softwareFingerprints(t *testing.T) {
	h := baseHost()
	h.Services = []dataset.Service{
		{Port: 80, Protocol: "http", Software: []dataset.Software{
			{Vendor: "nginx", Product: "nginx", Version: "1.20.1"},
			{Product: "openssh", Version: " 8.7 "},
		}},
		{Port: 81, Protocol: "http", Software: []dataset.Software{
			{Vendor: "nginx", Product: "nginx", Version: "1.20.1"},
			{},
		}},
	}
	got := FromRaw(&h)
	if diff := cmp.Diff([]string{"nginx nginx 1.20.1", "openssh 8.7"}, got.SoftwareFingerprints); diff != "" {
		t.Errorf("fingerprints mismatch (-want +got):\n%s", diff)
	}
}

func TestFromRaw_vulnerabilityRollup(t *testing.T) {
	h := baseHost()
	h.Services = []dataset.Service{{
		Port: 22, Protocol: "ssh",
		Vulnerabilities: []dataset.Vulnerability{
			{CVEID: "CVE-2024-1", Severity: "critical", CVSSScore: ptr(9.8)},
			{CVEID: "CVE-2024-2", Severity: "high", CVSSScore: ptr(7.1)},
		},
	}}

	got := FromRaw(&h)
	if got.Vulnerabilities.MaxSeverity != risk.Critical {
		t.Errorf("MaxSeverity: got %q", got.Vulnerabilities.MaxSeverity)
	}
	if got.Vulnerabilities.UniqueCVECount != 2 {
		t.Errorf("UniqueCVECount: got %d", got.Vulnerabilities.UniqueCVECount)
	}
	if got.RiskBadge.Level != risk.Critical {
		t.Errorf("badge: got %q", got.RiskBadge.Level)
	}
	if hc := got.Vulnerabilities.HighestCVSS; hc == nil || *hc != 9.8 {
		t.Errorf("HighestCVSS: got %v", hc)
	}
}

func TestFromRaw_duplicateCVEKeepsBetterRecord(t *testing.T) {
	h := baseHost()
	h.Services = []dataset.Service{
		{Port: 80, Protocol: "http", Vulnerabilities: []dataset.Vulnerability{
			{CVEID: "CVE-2023-9", Severity: "medium", CVSSScore: ptr(5.0)},
		}},
		{Port: 443, Protocol: "https", Vulnerabilities: []dataset.Vulnerability{
			{CVEID: "CVE-2023-9", Severity: "critical", CVSSScore: ptr(9.1)},
		}},
	}

	got := FromRaw(&h)
	vc := got.Vulnerabilities
	if vc.Total != 2 || vc.UniqueCVECount != 1 {
		t.Fatalf("total=%d unique=%d", vc.Total, vc.UniqueCVECount)
	}
	if s := vc.Top[0].CVSSScore; s == nil || *s != 9.1 {
		t.Errorf("retained cvss: got %v", s)
	}
	// The raw per-service lists are untouched.
	if len(h.Services[0].Vulnerabilities) != 1 || *h.Services[0].Vulnerabilities[0].CVSSScore != 5.0 {
		t.Error("raw vulnerability list was modified")
	}
}

func TestFromRaw_equalScoreTieBreaksOnSeverity(t *testing.T) {
	h := baseHost()
	h.Services = []dataset.Service{{Port: 80, Protocol: "http", Vulnerabilities: []dataset.Vulnerability{
		{CVEID: "CVE-1", Severity: "low", CVSSScore: ptr(6.0)},
		{CVEID: "CVE-1", Severity: "moderate", CVSSScore: ptr(6.0)},
	}}}
	got := FromRaw(&h)
	if sev := got.Vulnerabilities.Top[0].Severity; sev != risk.Medium {
		t.Errorf("severity: got %q, want medium", sev)
	}
}

func TestFromRaw_topOrdering(t *testing.T) {
	h := baseHost()
	h.Services = []dataset.Service{{Port: 80, Protocol: "http", Vulnerabilities: []dataset.Vulnerability{
		{CVEID: "CVE-C", Severity: "high"},
		{CVEID: "CVE-B", Severity: "low", CVSSScore: ptr(7.0)},
		{CVEID: "CVE-A", Severity: "high", CVSSScore: ptr(7.0)},
		{CVEID: "CVE-D", Severity: "high", CVSSScore: ptr(7.0)},
		{CVEID: "CVE-E", Severity: "medium"},
	}}}
	got := FromRaw(&h)

	var ids []string
	for _, v := range got.Vulnerabilities.Top {
		ids = append(ids, v.CVEID)
	}
	want := []string{"CVE-A", "CVE-D", "CVE-B", "CVE-C", "CVE-E"}
	if diff := cmp.Diff(want, ids); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestFromRaw_threatRollup(t *testing.T) {
	h := baseHost()
	h.Services = []dataset.Service{
		{Port: 443, Protocol: "https", MalwareDetected: &dataset.MalwareDetection{
			Name: "Cobalt Strike", ThreatActors: []string{"FIN7", "APT41", ""},
		}},
		{Port: 8443, Protocol: "https", MalwareDetected: &dataset.MalwareDetection{
			Name: "Cobalt Strike", ThreatActors: []string{"Cobalt Group", "APT41"},
		}},
	}
	h.ThreatIntelligence = &dataset.ThreatIntelligence{
		SecurityLabels:  []string{"tor", "c2", "tor"},
		MalwareFamilies: []string{"Cobalt Strike"},
		RiskLevel:       ptr("Critical"),
	}

	got := FromRaw(&h)
	want := ThreatInfo{
		RiskLevel:            ptr(risk.Critical),
		RawRiskLevel:         ptr("Critical"),
		SecurityLabels:       []string{"c2", "tor"},
		MalwareFamilies:      []string{"Cobalt Strike"},
		DetectedMalwareNames: []string{"Cobalt Strike"},
		ThreatActors:         []string{"APT41", "Cobalt Group", "FIN7"},
	}
	if diff := cmp.Diff(want, got.Threat); diff != "" {
		t.Errorf("threat mismatch (-want +got):\n%s", diff)
	}
}

func TestFromRaw_unparseableRiskLevelIsNil(t *testing.T) {
	h := baseHost()
	h.ThreatIntelligence = &dataset.ThreatIntelligence{SecurityLabels: []string{}, RiskLevel: ptr("spicy")}
	got := FromRaw(&h)
	if got.Threat.RiskLevel != nil {
		t.Errorf("RiskLevel: got %v, want nil", *got.Threat.RiskLevel)
	}
	if got.Threat.RawRiskLevel == nil || *got.Threat.RawRiskLevel != "spicy" {
		t.Errorf("RawRiskLevel: got %v", got.Threat.RawRiskLevel)
	}
	if got.RiskBadge.Level != risk.None {
		t.Errorf("badge: got %q", got.RiskBadge.Level)
	}
}

func TestFromRaw_riskBadgeSources(t *testing.T) {
	t.Run("threat intel outranks vulnerabilities", func(t *testing.T) {
		h := baseHost()
		h.Services = []dataset.Service{{Port: 80, Protocol: "http", Vulnerabilities: []dataset.Vulnerability{
			{CVEID: "CVE-1", Severity: "medium"},
		}}}
		h.ThreatIntelligence = &dataset.ThreatIntelligence{SecurityLabels: []string{}, RiskLevel: ptr("critical")}

		got := FromRaw(&h).RiskBadge
		if got.Level != risk.Critical {
			t.Errorf("level: got %q", got.Level)
		}
		if diff := cmp.Diff([]string{risk.SourceThreatIntel}, got.Sources); diff != "" {
			t.Errorf("sources mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("malware families only", func(t *testing.T) {
		h := baseHost()
		h.ThreatIntelligence = &dataset.ThreatIntelligence{SecurityLabels: []string{}, MalwareFamilies: []string{"Mirai"}}

		got := FromRaw(&h).RiskBadge
		if got.Level != risk.Informational {
			t.Errorf("level: got %q", got.Level)
		}
		if diff := cmp.Diff([]string{risk.SourceThreatLabels}, got.Sources); diff != "" {
			t.Errorf("sources mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("service malware only", func(t *testing.T) {
		h := baseHost()
		h.Services = []dataset.Service{{Port: 80, Protocol: "http", MalwareDetected: &dataset.MalwareDetection{Name: "XMRig"}}}
		if got := FromRaw(&h).RiskBadge.Level; got != risk.Informational {
			t.Errorf("level: got %q", got)
		}
	})
}

func TestFromRaw_certificates(t *testing.T) {
	h := baseHost()
	h.Services = []dataset.Service{
		{Port: 443, Protocol: "https", TLSEnabled: true},
		{Port: 8443, Protocol: "https", Certificate: &dataset.Certificate{FingerprintSHA256: "ab", SelfSigned: true}},
	}
	got := FromRaw(&h)
	if got.TLSEnabledCount != 1 || !got.HasCertificates || !got.HasSelfSignedCert {
		t.Errorf("tls=%d certs=%v self=%v", got.TLSEnabledCount, got.HasCertificates, got.HasSelfSignedCert)
	}
}

func TestFromRaw_idempotent(t *testing.T) {
	h := baseHost()
	h.Services = []dataset.Service{
		{Port: 22, Protocol: "ssh", Banner: "b", Vulnerabilities: []dataset.Vulnerability{
			{CVEID: "CVE-1", Severity: "high", CVSSScore: ptr(8.0)},
		}},
		{Port: 80, Protocol: "http", Software: []dataset.Software{{Product: "nginx"}}},
	}
	h.ThreatIntelligence = &dataset.ThreatIntelligence{SecurityLabels: []string{"x"}, RiskLevel: ptr("low")}

	if diff := cmp.Diff(FromRaw(&h), FromRaw(&h)); diff != "" {
		t.Errorf("FromRaw is not deterministic (-first +second):\n%s", diff)
	}
}

func TestSummaries(t *testing.T) {
	h := baseHost()
	if got, want := GeoSummary(&h), "Beijing, China (CN)"; got != want {
		t.Errorf("GeoSummary: got %q, want %q", got, want)
	}
	if got, want := ASNSummary(&h), "AS55990 HWCSNET Huawei Cloud Service (CN)"; got != want {
		t.Errorf("ASNSummary: got %q, want %q", got, want)
	}

	bare := dataset.Host{Location: dataset.Location{CountryCode: "ZZ"}, AutonomousSystem: dataset.AutonomousSystem{ASN: -1, Name: "Unknown"}}
	if got, want := GeoSummary(&bare), "ZZ (ZZ)"; got != want {
		t.Errorf("GeoSummary: got %q, want %q", got, want)
	}
	if got, want := ASNSummary(&bare), "AS-1 Unknown"; got != want {
		t.Errorf("ASNSummary: got %q, want %q", got, want)
	}
}

func TestFromDataset(t *testing.T) {
	ds := &dataset.Dataset{Hosts: []dataset.Host{baseHost(), baseHost()}}
	got := FromDataset(ds)
	if len(got) != 2 {
		t.Fatalf("got %d hosts", len(got))
	}
	if got[1].Raw != &ds.Hosts[1] {
		t.Error("raw host should be shared by reference")
	}
}
