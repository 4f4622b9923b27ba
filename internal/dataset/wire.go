package dataset

// The wire types mirror the canonical model with pointer fields so that an
// absent value can be told apart from a zero value during validation.

type wireMetadata struct {
	Description *string  `json:"description" validate:"required"`
	CreatedAt   *string  `json:"created_at" validate:"required"`
	DataSources []string `json:"data_sources"`
	HostsCount  *float64 `json:"hosts_count" validate:"required"`
	IPsAnalyzed []string `json:"ips_analyzed"`
}

type wireHost struct {
	IP                 *string          `json:"ip" validate:"required"`
	Location           *wireLocation    `json:"location" validate:"required"`
	AutonomousSystem   *wireAS          `json:"autonomous_system" validate:"required"`
	DNS                *wireDNS         `json:"dns"`
	OperatingSystem    *wireOS          `json:"operating_system"`
	Services           []wireService    `json:"services" validate:"dive"`
	ThreatIntelligence *wireThreatIntel `json:"threat_intelligence"`
}

type wireLocation struct {
	City        *string          `json:"city"`
	Country     *string          `json:"country"`
	CountryCode *string          `json:"country_code" validate:"required"`
	Coordinates *wireCoordinates `json:"coordinates" validate:"required"`
}

type wireCoordinates struct {
	Latitude  *float64 `json:"latitude" validate:"required"`
	Longitude *float64 `json:"longitude" validate:"required"`
}

type wireAS struct {
	ASN         *float64 `json:"asn" validate:"required"`
	Name        *string  `json:"name" validate:"required"`
	CountryCode *string  `json:"country_code"`
}

type wireDNS struct {
	Hostname *string `json:"hostname" validate:"required"`
}

type wireOS struct {
	Vendor  *string `json:"vendor"`
	Product *string `json:"product" validate:"required"`
	Version *string `json:"version"`
}

type wireService struct {
	Port                   *int                `json:"port" validate:"required"`
	Protocol               *string             `json:"protocol" validate:"required"`
	Banner                 *string             `json:"banner"`
	Software               []wireSoftware      `json:"software" validate:"dive"`
	Vulnerabilities        []wireVulnerability `json:"vulnerabilities" validate:"dive"`
	MalwareDetected        *wireMalware        `json:"malware_detected"`
	AuthenticationRequired *bool               `json:"authentication_required"`
	TLSEnabled             *bool               `json:"tls_enabled"`
	Certificate            *wireCertificate    `json:"certificate"`
	ResponseDetails        *wireResponse       `json:"response_details"`
	ErrorMessage           *string             `json:"error_message"`
	AccessRestricted       *bool               `json:"access_restricted"`
}

type wireSoftware struct {
	Product *string `json:"product" validate:"required"`
	Vendor  *string `json:"vendor"`
	Version *string `json:"version"`
}

type wireVulnerability struct {
	CVEID       *string  `json:"cve_id" validate:"required"`
	Severity    *string  `json:"severity" validate:"required"`
	CVSSScore   *float64 `json:"cvss_score"`
	Description *string  `json:"description"`
}

type wireMalware struct {
	Name         *string  `json:"name" validate:"required"`
	Type         *string  `json:"type"`
	Confidence   *float64 `json:"confidence" validate:"omitempty,min=0,max=1"`
	ThreatActors []string `json:"threat_actors"`
}

type wireResponse struct {
	StatusCode      *int    `json:"status_code" validate:"required"`
	Title           *string `json:"title"`
	ContentLanguage *string `json:"content_language"`
}

type wireCertificate struct {
	FingerprintSHA256 *string  `json:"fingerprint_sha256" validate:"required"`
	Subject           *string  `json:"subject"`
	Issuer            *string  `json:"issuer"`
	SelfSigned        *bool    `json:"self_signed"`
	SubjectAltNames   []string `json:"subject_alt_names"`
}

type wireThreatIntel struct {
	SecurityLabels  []string `json:"security_labels"`
	MalwareFamilies []string `json:"malware_families"`
	RiskLevel       *string  `json:"risk_level"`
}

// ── Conversion ────────────────────────────────────────────────────────────────

func (w *wireMetadata) toMetadata() Metadata {
	return Metadata{
		Description: deref(w.Description),
		CreatedAt:   deref(w.CreatedAt),
		DataSources: nonNil(w.DataSources),
		HostsCount:  int(derefFloat(w.HostsCount)),
		IPsAnalyzed: nonNil(w.IPsAnalyzed),
	}
}

func (w *wireHost) toHost() Host {
	h := Host{
		IP: deref(w.IP),
		Location: Location{
			City:        deref(w.Location.City),
			Country:     deref(w.Location.Country),
			CountryCode: deref(w.Location.CountryCode),
			Coordinates: Coordinates{
				Latitude:  derefFloat(w.Location.Coordinates.Latitude),
				Longitude: derefFloat(w.Location.Coordinates.Longitude),
			},
		},
		AutonomousSystem: AutonomousSystem{
			ASN:         derefFloat(w.AutonomousSystem.ASN),
			Name:        deref(w.AutonomousSystem.Name),
			CountryCode: deref(w.AutonomousSystem.CountryCode),
		},
		Services: make([]Service, 0, len(w.Services)),
	}
	if w.DNS != nil {
		h.DNS = w.DNS.toDNS()
	}
	if w.OperatingSystem != nil {
		h.OperatingSystem = w.OperatingSystem.toOS()
	}
	for i := range w.Services {
		h.Services = append(h.Services, w.Services[i].toService())
	}
	if w.ThreatIntelligence != nil {
		h.ThreatIntelligence = &ThreatIntelligence{
			SecurityLabels:  nonNil(w.ThreatIntelligence.SecurityLabels),
			MalwareFamilies: w.ThreatIntelligence.MalwareFamilies,
			RiskLevel:       w.ThreatIntelligence.RiskLevel,
		}
	}
	return h
}

func (w *wireDNS) toDNS() *DNSRecord {
	return &DNSRecord{Hostname: deref(w.Hostname)}
}

func (w *wireOS) toOS() *OperatingSystem {
	return &OperatingSystem{
		Vendor:  deref(w.Vendor),
		Product: deref(w.Product),
		Version: deref(w.Version),
	}
}

func (w *wireService) toService() Service {
	s := Service{
		Port:                   derefInt(w.Port),
		Protocol:               deref(w.Protocol),
		Banner:                 deref(w.Banner),
		AuthenticationRequired: w.AuthenticationRequired,
		TLSEnabled:             w.TLSEnabled != nil && *w.TLSEnabled,
		ErrorMessage:           deref(w.ErrorMessage),
		AccessRestricted:       w.AccessRestricted,
	}
	for _, sw := range w.Software {
		s.Software = append(s.Software, Software{
			Vendor:  deref(sw.Vendor),
			Product: deref(sw.Product),
			Version: deref(sw.Version),
		})
	}
	for _, v := range w.Vulnerabilities {
		s.Vulnerabilities = append(s.Vulnerabilities, Vulnerability{
			CVEID:       deref(v.CVEID),
			Severity:    deref(v.Severity),
			CVSSScore:   v.CVSSScore,
			Description: deref(v.Description),
		})
	}
	if m := w.MalwareDetected; m != nil {
		s.MalwareDetected = &MalwareDetection{
			Name:         deref(m.Name),
			Type:         deref(m.Type),
			Confidence:   m.Confidence,
			ThreatActors: m.ThreatActors,
		}
	}
	if c := w.Certificate; c != nil {
		s.Certificate = &Certificate{
			FingerprintSHA256: deref(c.FingerprintSHA256),
			Subject:           deref(c.Subject),
			Issuer:            deref(c.Issuer),
			SelfSigned:        c.SelfSigned != nil && *c.SelfSigned,
			SubjectAltNames:   c.SubjectAltNames,
		}
	}
	if r := w.ResponseDetails; r != nil {
		s.ResponseDetails = &ResponseDetails{
			StatusCode:      derefInt(r.StatusCode),
			Title:           deref(r.Title),
			ContentLanguage: deref(r.ContentLanguage),
		}
	}
	return s
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func derefInt(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

func derefFloat(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
