package dataset

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// MaxUploadBytes is the size ceiling for uploaded documents.
const MaxUploadBytes = 2 << 20

// Result is the output of a validation run.
type Result struct {
	Dataset *Dataset
	Issues  []HostIssue
}

// Validator validates raw documents into Datasets.
type Validator struct {
	validate *validator.Validate
	logger   *zap.Logger
}

// NewValidator creates a Validator.
func NewValidator(logger *zap.Logger) *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Validator{validate: v, logger: logger}
}

// ParseUpload applies the upload size checks before validating data.
func (v *Validator) ParseUpload(data []byte) (*Result, error) {
	if len(data) == 0 {
		return nil, ErrEmptyUpload
	}
	if len(data) > MaxUploadBytes {
		return nil, ErrUploadTooLarge
	}
	return v.Validate(data)
}

// Validate parses and validates a raw JSON document.
//
// Metadata failures and unparseable JSON are fatal and returned as a
// *LoadError. Host records that fail validation are degraded to a
// best-effort record and reported in Result.Issues.
func (v *Validator) Validate(raw []byte) (*Result, error) {
	var root map[string]json.RawMessage
	if err := json.Unmarshal(raw, &root); err != nil {
		var syntaxErr *json.SyntaxError
		if errors.As(err, &syntaxErr) {
			return nil, &LoadError{Message: fmt.Sprintf("could not parse dataset JSON: %v", err), Err: err}
		}
		return nil, &LoadError{Message: "parsed dataset is not an object"}
	}
	if root == nil {
		return nil, &LoadError{Message: "parsed dataset is not an object"}
	}

	metadata, issues := v.decodeMetadata(root["metadata"])
	if len(issues) > 0 {
		return nil, &LoadError{Message: "metadata validation failed", Issues: issues}
	}

	var rawHosts []json.RawMessage
	if node, ok := root["hosts"]; ok {
		if err := json.Unmarshal(node, &rawHosts); err != nil {
			rawHosts = nil
		}
	}
	if rawHosts == nil {
		v.logger.Warn("dataset: hosts list missing or invalid, defaulting to empty")
	}

	res := &Result{
		Dataset: &Dataset{Metadata: metadata, Hosts: make([]Host, 0, len(rawHosts))},
		Issues:  []HostIssue{},
	}

	for i, entry := range rawHosts {
		host, hostIssues := v.decodeHost(entry)
		if len(hostIssues) == 0 {
			res.Dataset.Hosts = append(res.Dataset.Hosts, host)
			continue
		}

		ip := extractIP(entry)
		ref := fmt.Sprintf("index %d", i)
		if ip != nil {
			ref = *ip
		}
		v.logger.Warn("dataset: host validation failed",
			zap.String("host", ref),
			zap.Strings("issues", hostIssues),
		)
		res.Issues = append(res.Issues, HostIssue{IP: ip, Issues: hostIssues})
		res.Dataset.Hosts = append(res.Dataset.Hosts, v.degradeHost(entry, ip))
	}

	return res, nil
}

func (v *Validator) decodeMetadata(raw json.RawMessage) (Metadata, []string) {
	if len(raw) == 0 || string(raw) == "null" {
		return Metadata{}, []string{"metadata: is required"}
	}
	var w wireMetadata
	issues := v.check(raw, &w)
	if len(issues) > 0 {
		for i := range issues {
			issues[i] = "metadata." + issues[i]
		}
		return Metadata{}, issues
	}
	return w.toMetadata(), nil
}

func (v *Validator) decodeHost(raw json.RawMessage) (Host, []string) {
	var w wireHost
	if issues := v.check(raw, &w); len(issues) > 0 {
		return Host{}, issues
	}
	return w.toHost(), nil
}

func (v *Validator) decodeService(raw json.RawMessage) (Service, []string) {
	var w wireService
	if issues := v.check(raw, &w); len(issues) > 0 {
		return Service{}, issues
	}
	return w.toService(), nil
}

// check decodes raw into target field by field and then runs the struct
// rules. A field with a type mismatch is reported once; the "is required"
// failure it would otherwise cause is suppressed.
func (v *Validator) check(raw json.RawMessage, target any) []string {
	d := &fieldDecoder{failed: map[string]struct{}{}}
	d.decode(raw, reflect.ValueOf(target).Elem(), "")
	issues := d.issues
	for _, issue := range v.structIssues(target) {
		if !d.covers(issue) {
			issues = append(issues, issue)
		}
	}
	return dedupe(issues)
}

// structIssues runs the struct tags and renders each failure as "path: message".
func (v *Validator) structIssues(s any) []string {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{err.Error()}
	}
	issues := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		issues = append(issues, formatPath(fe.Namespace())+": "+describe(fe))
	}
	return issues
}

// ── Field decoding ────────────────────────────────────────────────────────────

// fieldDecoder walks a wire struct and decodes each JSON member into its
// field separately, so every mismatched field produces its own issue.
// Mismatched fields are left at their zero value.
type fieldDecoder struct {
	issues []string
	failed map[string]struct{}
}

func (d *fieldDecoder) decode(raw json.RawMessage, rv reflect.Value, path string) {
	if len(raw) == 0 || string(raw) == "null" {
		return
	}

	switch {
	case rv.Kind() == reflect.Struct:
		d.decodeStruct(raw, rv, path)
	case rv.Kind() == reflect.Pointer && rv.Type().Elem().Kind() == reflect.Struct:
		elem := reflect.New(rv.Type().Elem())
		if d.decodeStruct(raw, elem.Elem(), path) {
			rv.Set(elem)
		}
	case rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Struct:
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			d.fail(path, "expected array, got "+jsonKind(raw))
			return
		}
		out := reflect.MakeSlice(rv.Type(), len(items), len(items))
		for i, item := range items {
			d.decode(item, out.Index(i), join(path, strconv.Itoa(i)))
		}
		rv.Set(out)
	default:
		tmp := reflect.New(rv.Type())
		if err := json.Unmarshal(raw, tmp.Interface()); err != nil {
			d.fail(path, mismatch(err, raw))
			return
		}
		rv.Set(tmp.Elem())
	}
}

// decodeStruct reports false when raw is not a JSON object.
func (d *fieldDecoder) decodeStruct(raw json.RawMessage, rv reflect.Value, path string) bool {
	var members map[string]json.RawMessage
	if err := json.Unmarshal(raw, &members); err != nil || members == nil {
		d.fail(path, "expected object, got "+jsonKind(raw))
		return false
	}
	t := rv.Type()
	for i := range t.NumField() {
		name := strings.SplitN(t.Field(i).Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			continue
		}
		if member, ok := members[name]; ok {
			d.decode(member, rv.Field(i), join(path, name))
		}
	}
	return true
}

func (d *fieldDecoder) fail(path, message string) {
	d.failed[path] = struct{}{}
	if path == "" {
		d.issues = append(d.issues, message)
		return
	}
	d.issues = append(d.issues, path+": "+message)
}

// covers reports whether issue is a rule failure on a field, or inside a
// field, that already failed to decode.
func (d *fieldDecoder) covers(issue string) bool {
	path, _, ok := strings.Cut(issue, ": ")
	if !ok {
		return false
	}
	for failed := range d.failed {
		if failed == "" || path == failed || strings.HasPrefix(path, failed+".") {
			return true
		}
	}
	return false
}

func mismatch(err error, raw json.RawMessage) string {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return fmt.Sprintf("expected %s, got %s", typeErr.Type, typeErr.Value)
	}
	return "unexpected " + jsonKind(raw)
}

func jsonKind(raw json.RawMessage) string {
	b := bytes.TrimSpace(raw)
	if len(b) == 0 {
		return "nothing"
	}
	switch b[0] {
	case '{':
		return "object"
	case '[':
		return "array"
	case '"':
		return "string"
	case 't', 'f':
		return "bool"
	case 'n':
		return "null"
	default:
		return "number"
	}
}

func join(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}

var indexPattern = regexp.MustCompile(`\[(\d+)\]`)

// formatPath turns "wireHost.services[1].port" into "services.1.port".
func formatPath(namespace string) string {
	if i := strings.IndexByte(namespace, '.'); i >= 0 {
		namespace = namespace[i+1:]
	}
	return indexPattern.ReplaceAllString(namespace, ".$1")
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	default:
		return "failed " + fe.Tag() + " validation"
	}
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// ── Degradation ───────────────────────────────────────────────────────────────

func extractIP(raw json.RawMessage) *string {
	var probe struct {
		IP any `json:"ip"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil
	}
	if s, ok := probe.IP.(string); ok {
		return &s
	}
	return nil
}

// degradeHost synthesises a minimal host from whatever fields of raw are
// usable. Services inside it are re-validated one by one and only the
// failing ones are dropped.
func (v *Validator) degradeHost(raw json.RawMessage, ip *string) Host {
	var m map[string]any
	_ = json.Unmarshal(raw, &m) // non-objects degrade from an empty map

	ipValue := "unknown"
	if ip != nil {
		ipValue = *ip
	}

	loc := asMap(m["location"])
	coords := asMap(loc["coordinates"])
	as := asMap(m["autonomous_system"])

	countryCode, ok := loc["country_code"].(string)
	if !ok {
		countryCode = "ZZ"
	}
	asName, ok := as["name"].(string)
	if !ok {
		asName = "Unknown"
	}
	asn := -1.0
	if n, ok := finite(as["asn"]); ok {
		asn = n
	}
	lat, _ := finite(coords["latitude"])
	lon, _ := finite(coords["longitude"])

	h := Host{
		IP: ipValue,
		Location: Location{
			City:        asString(loc["city"]),
			Country:     asString(loc["country"]),
			CountryCode: countryCode,
			Coordinates: Coordinates{Latitude: lat, Longitude: lon},
		},
		AutonomousSystem: AutonomousSystem{
			ASN:         asn,
			Name:        asName,
			CountryCode: asString(as["country_code"]),
		},
		Services: []Service{},
	}

	if node, ok := m["dns"]; ok {
		var w wireDNS
		if v.recheck(node, &w) {
			h.DNS = w.toDNS()
		}
	}
	if node, ok := m["operating_system"]; ok {
		var w wireOS
		if v.recheck(node, &w) {
			h.OperatingSystem = w.toOS()
		}
	}

	if services, ok := m["services"].([]any); ok {
		for i, node := range services {
			b, err := json.Marshal(node)
			if err != nil {
				continue
			}
			svc, issues := v.decodeService(b)
			if len(issues) > 0 {
				v.logger.Warn("dataset: service dropped",
					zap.String("host", ipValue),
					zap.Int("index", i),
					zap.Strings("issues", issues),
				)
				continue
			}
			h.Services = append(h.Services, svc)
		}
	}

	threat := asMap(m["threat_intelligence"])
	labels := stringsOnly(threat["security_labels"])
	families := stringsOnly(threat["malware_families"])
	riskLevel, hasRisk := threat["risk_level"].(string)
	if len(labels) > 0 || len(families) > 0 || (hasRisk && riskLevel != "") {
		ti := &ThreatIntelligence{SecurityLabels: labels}
		if len(families) > 0 {
			ti.MalwareFamilies = families
		}
		if hasRisk && riskLevel != "" {
			ti.RiskLevel = &riskLevel
		}
		h.ThreatIntelligence = ti
	}

	return h
}

// recheck strictly validates a sub-document taken from a degraded host.
func (v *Validator) recheck(node any, target any) bool {
	if node == nil {
		return false
	}
	b, err := json.Marshal(node)
	if err != nil {
		return false
	}
	return len(v.check(b, target)) == 0
}

func asMap(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func finite(v any) (float64, bool) {
	n, ok := v.(float64)
	if !ok || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return n, true
}

func stringsOnly(v any) []string {
	items, _ := v.([]any)
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
