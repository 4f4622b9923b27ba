// Package dataset defines the host scan document and validates untrusted
// input into it.
//
// A document is a metadata block plus a list of host records. Metadata is
// validated strictly; host records that fail validation are degraded to a
// best-effort record rather than dropped, so the host count of a dataset
// never shrinks because of bad input.
package dataset

// Dataset is the root document.
type Dataset struct {
	Metadata Metadata `json:"metadata"`
	Hosts    []Host   `json:"hosts"`
}

// Metadata describes the corpus.
type Metadata struct {
	Description string   `json:"description"`
	CreatedAt   string   `json:"created_at"`
	DataSources []string `json:"data_sources"`
	HostsCount  int      `json:"hosts_count"`
	IPsAnalyzed []string `json:"ips_analyzed"`
}

// Host is a single scanned network endpoint.
type Host struct {
	IP                 string              `json:"ip"`
	Location           Location            `json:"location"`
	AutonomousSystem   AutonomousSystem    `json:"autonomous_system"`
	DNS                *DNSRecord          `json:"dns,omitempty"`
	OperatingSystem    *OperatingSystem    `json:"operating_system,omitempty"`
	Services           []Service           `json:"services"`
	ThreatIntelligence *ThreatIntelligence `json:"threat_intelligence,omitempty"`
}

// Location is the reported geographic position of a host.
type Location struct {
	City        string      `json:"city,omitempty"`
	Country     string      `json:"country,omitempty"`
	CountryCode string      `json:"country_code"`
	Coordinates Coordinates `json:"coordinates"`
}

// Coordinates are WGS84.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// AutonomousSystem describes network ownership.
type AutonomousSystem struct {
	ASN         float64 `json:"asn"`
	Name        string  `json:"name"`
	CountryCode string  `json:"country_code,omitempty"`
}

// DNSRecord holds the reverse hostname when one was observed.
type DNSRecord struct {
	Hostname string `json:"hostname"`
}

// OperatingSystem is an OS fingerprint.
type OperatingSystem struct {
	Vendor  string `json:"vendor,omitempty"`
	Product string `json:"product"`
	Version string `json:"version,omitempty"`
}

// Service is one protocol/port combination observed on a host.
type Service struct {
	Port                   int               `json:"port"`
	Protocol               string            `json:"protocol"`
	Banner                 string            `json:"banner,omitempty"`
	Software               []Software        `json:"software,omitempty"`
	Vulnerabilities        []Vulnerability   `json:"vulnerabilities,omitempty"`
	MalwareDetected        *MalwareDetection `json:"malware_detected,omitempty"`
	AuthenticationRequired *bool             `json:"authentication_required,omitempty"`
	TLSEnabled             bool              `json:"tls_enabled,omitempty"`
	Certificate            *Certificate      `json:"certificate,omitempty"`
	ResponseDetails        *ResponseDetails  `json:"response_details,omitempty"`
	ErrorMessage           string            `json:"error_message,omitempty"`
	AccessRestricted       *bool             `json:"access_restricted,omitempty"`
}

// Software is a component fingerprinted from a service.
type Software struct {
	Vendor  string `json:"vendor,omitempty"`
	Product string `json:"product"`
	Version string `json:"version,omitempty"`
}

// Vulnerability is a CVE reported against a service.
type Vulnerability struct {
	CVEID       string   `json:"cve_id"`
	Severity    string   `json:"severity"`
	CVSSScore   *float64 `json:"cvss_score,omitempty"`
	Description string   `json:"description,omitempty"`
}

// MalwareDetection is a service-level malware finding.
type MalwareDetection struct {
	Name         string   `json:"name"`
	Type         string   `json:"type,omitempty"`
	Confidence   *float64 `json:"confidence,omitempty"`
	ThreatActors []string `json:"threat_actors,omitempty"`
}

// ResponseDetails are HTTP response attributes.
type ResponseDetails struct {
	StatusCode      int    `json:"status_code"`
	Title           string `json:"title,omitempty"`
	ContentLanguage string `json:"content_language,omitempty"`
}

// Certificate is a TLS certificate observed on a service. A service may be
// TLS-enabled without a certificate being captured.
type Certificate struct {
	FingerprintSHA256 string   `json:"fingerprint_sha256"`
	Subject           string   `json:"subject,omitempty"`
	Issuer            string   `json:"issuer,omitempty"`
	SelfSigned        bool     `json:"self_signed,omitempty"`
	SubjectAltNames   []string `json:"subject_alt_names,omitempty"`
}

// ThreatIntelligence holds host-level annotations.
type ThreatIntelligence struct {
	SecurityLabels  []string `json:"security_labels"`
	MalwareFamilies []string `json:"malware_families,omitempty"`
	RiskLevel       *string  `json:"risk_level,omitempty"`
}

// HostIssue records why a host record was degraded. IP is nil when the
// record had no string ip.
type HostIssue struct {
	IP     *string  `json:"ip"`
	Issues []string `json:"issues"`
}
