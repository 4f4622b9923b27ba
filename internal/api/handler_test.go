package api_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/hostscope/internal/api"
	"github.com/jmerrifield20/hostscope/internal/dataset"
	"github.com/jmerrifield20/hostscope/internal/loader"
	"github.com/jmerrifield20/hostscope/internal/normalize"
	"github.com/jmerrifield20/hostscope/internal/selection"
	"github.com/jmerrifield20/hostscope/internal/store"
	"github.com/jmerrifield20/hostscope/internal/summarize"
)

const samplePath = "../../sampledata/hosts_dataset.json"

const validUpload = `{
	"metadata": {"description": "Test dataset", "created_at": "2025-10-01T00:00:00Z", "hosts_count": 1},
	"hosts": [{
		"ip": "203.0.113.10",
		"location": {"country_code": "TC", "coordinates": {"latitude": 10, "longitude": 20}},
		"autonomous_system": {"asn": 12345, "name": "Test Net"}
	}]
}`

// ── Stub summarizer ──────────────────────────────────────────────────────

type stubSummarizer struct {
	calls atomic.Int32
	kind  summarize.ErrorKind
}

func (s *stubSummarizer) SummarizeHost(_ context.Context, h *normalize.Host) summarize.Result {
	s.calls.Add(1)
	kind := s.kind
	if kind == "" {
		kind = summarize.KindNone
	}
	return summarize.Result{
		Highlights: []string{"summary for " + h.IP},
		Risks:      []string{},
		Narrative:  h.IP,
		ErrorKind:  kind,
	}
}

func setupTestRouter(t *testing.T, s summarize.Summarizer) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := zap.NewNop()
	l := loader.New(samplePath, nil, logger)
	st := store.New(store.Config{})
	h := api.NewHandler(selection.NewAction(l, st, logger), selection.NewResolver(l, st), s, logger)

	r := gin.New()
	h.Register(r.Group("/api/v1"))
	return r
}

func do(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func formRequest(values url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/datasets", strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func uploadRequest(t *testing.T, name string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("mode", "upload"); err != nil {
		t.Fatalf("write field: %v", err)
	}
	fw, err := mw.CreateFormFile("dataset", name)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := fw.Write(data); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/datasets", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return out
}

// ── Selection ────────────────────────────────────────────────────────────

func TestSelectDataset_sample303(t *testing.T) {
	r := setupTestRouter(t, &stubSummarizer{})
	w := do(r, formRequest(url.Values{"mode": {"sample"}}))

	if w.Code != http.StatusSeeOther {
		t.Fatalf("expected 303, got %d: %s", w.Code, w.Body.String())
	}
	if loc := w.Header().Get("Location"); loc != "/hosts?dataset=sample" {
		t.Errorf("Location = %q", loc)
	}
}

func TestSelectDataset_uploadThenResolve(t *testing.T) {
	r := setupTestRouter(t, &stubSummarizer{})
	w := do(r, uploadRequest(t, "unit.json", []byte(validUpload)))
	if w.Code != http.StatusSeeOther {
		t.Fatalf("expected 303, got %d: %s", w.Code, w.Body.String())
	}

	out := decode(t, w)
	id, _ := out["dataset_id"].(string)
	if id == "" || w.Header().Get("Location") != "/hosts?dataset="+id {
		t.Fatalf("unexpected redirect: id=%q location=%q", id, w.Header().Get("Location"))
	}

	w = do(r, httptest.NewRequest(http.MethodGet, "/api/v1/datasets/"+id, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	got := decode(t, w)
	if got["source"] != "upload" || got["label"] != "unit.json" || got["is_fallback"] != false {
		t.Errorf("unexpected dataset: %v", got)
	}
	if hosts, _ := got["hosts"].([]any); len(hosts) != 1 {
		t.Errorf("expected 1 host, got %v", got["hosts"])
	}
}

func TestSelectDataset_errors(t *testing.T) {
	tests := []struct {
		name     string
		req      func(t *testing.T) *http.Request
		wantCode int
		wantErr  string
	}{
		{
			name:     "no file",
			req:      func(*testing.T) *http.Request { return formRequest(url.Values{"mode": {"upload"}}) },
			wantCode: http.StatusBadRequest,
			wantErr:  "no_file",
		},
		{
			name:     "empty file",
			req:      func(t *testing.T) *http.Request { return uploadRequest(t, "empty.json", nil) },
			wantCode: http.StatusBadRequest,
			wantErr:  "empty",
		},
		{
			name:     "invalid json",
			req:      func(t *testing.T) *http.Request { return uploadRequest(t, "bad.json", []byte("{not-json")) },
			wantCode: http.StatusBadRequest,
			wantErr:  "invalid_json",
		},
		{
			name: "too large",
			req: func(t *testing.T) *http.Request {
				return uploadRequest(t, "large.json", bytes.Repeat([]byte(" "), dataset.MaxUploadBytes+1))
			},
			wantCode: http.StatusRequestEntityTooLarge,
			wantErr:  "too_large",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := setupTestRouter(t, &stubSummarizer{})
			w := do(r, tt.req(t))
			if w.Code != tt.wantCode {
				t.Fatalf("expected %d, got %d: %s", tt.wantCode, w.Code, w.Body.String())
			}
			out := decode(t, w)
			if out["status"] != "error" || out["code"] != tt.wantErr {
				t.Errorf("unexpected outcome: %v", out)
			}
		})
	}
}

// ── Datasets and hosts ───────────────────────────────────────────────────

func TestGetDataset_unknownFallsBackToSample(t *testing.T) {
	r := setupTestRouter(t, &stubSummarizer{})
	w := do(r, httptest.NewRequest(http.MethodGet, "/api/v1/datasets/missing-id", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	out := decode(t, w)
	if out["dataset_id"] != "sample" || out["is_fallback"] != true {
		t.Errorf("expected sample fallback, got %v", out)
	}
}

func TestGetHost(t *testing.T) {
	r := setupTestRouter(t, &stubSummarizer{})

	tests := []struct {
		path     string
		wantCode int
	}{
		{"/api/v1/datasets/sample/hosts/1.92.135.168", http.StatusOK},
		{"/api/v1/datasets/sample/hosts/10.9.9.9", http.StatusNotFound},
		{"/api/v1/datasets/missing-id/hosts/1.92.135.168", http.StatusNotFound},
	}
	for _, tt := range tests {
		w := do(r, httptest.NewRequest(http.MethodGet, tt.path, nil))
		if w.Code != tt.wantCode {
			t.Errorf("GET %s: expected %d, got %d", tt.path, tt.wantCode, w.Code)
		}
	}

	w := do(r, httptest.NewRequest(http.MethodGet, "/api/v1/datasets/sample/hosts/1.92.135.168", nil))
	out := decode(t, w)
	badge, _ := out["risk_badge"].(map[string]any)
	if out["ip"] != "1.92.135.168" || badge["level"] != "critical" {
		t.Errorf("unexpected host: ip=%v badge=%v", out["ip"], badge)
	}
}

func TestGetPrompt(t *testing.T) {
	r := setupTestRouter(t, &stubSummarizer{})
	w := do(r, httptest.NewRequest(http.MethodGet, "/api/v1/datasets/sample/hosts/1.94.62.205/prompt", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	out := decode(t, w)
	text, _ := out["prompt"].(string)
	if !strings.Contains(text, "Host: 1.94.62.205") {
		t.Errorf("prompt missing host line:\n%s", text)
	}
	if out["version"] != "2025-10-01" {
		t.Errorf("version = %v", out["version"])
	}
}

// ── Summaries ────────────────────────────────────────────────────────────

func TestSummarizeHost_memoisesLiveResults(t *testing.T) {
	stub := &stubSummarizer{}
	r := setupTestRouter(t, stub)
	path := "/api/v1/datasets/sample/hosts/168.196.241.227/summary"

	w := do(r, httptest.NewRequest(http.MethodPost, path, nil))
	if w.Code != http.StatusOK || w.Header().Get("X-Summary-Cache") != "miss" {
		t.Fatalf("first call: %d cache=%q", w.Code, w.Header().Get("X-Summary-Cache"))
	}
	w = do(r, httptest.NewRequest(http.MethodPost, path, nil))
	if w.Header().Get("X-Summary-Cache") != "hit" {
		t.Errorf("second call should hit the cache")
	}
	if n := stub.calls.Load(); n != 1 {
		t.Errorf("expected 1 summarizer call, got %d", n)
	}

	do(r, httptest.NewRequest(http.MethodPost, path+"?refresh=true", nil))
	if n := stub.calls.Load(); n != 2 {
		t.Errorf("refresh should bypass the cache, calls=%d", n)
	}

	out := decode(t, w)
	if out["narrative"] != "168.196.241.227" || out["error_kind"] != "none" {
		t.Errorf("unexpected result: %v", out)
	}
}

func TestSummarizeHost_fallbacksNotMemoised(t *testing.T) {
	stub := &stubSummarizer{kind: summarize.KindRateLimit}
	r := setupTestRouter(t, stub)
	path := "/api/v1/datasets/sample/hosts/1.92.135.168/summary"

	for range 2 {
		w := do(r, httptest.NewRequest(http.MethodPost, path, nil))
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
	}
	if n := stub.calls.Load(); n != 2 {
		t.Errorf("expected 2 summarizer calls, got %d", n)
	}
}

func TestStreamSummaries(t *testing.T) {
	stub := &stubSummarizer{}
	r := setupTestRouter(t, stub)

	w := do(r, httptest.NewRequest(http.MethodGet, "/api/v1/datasets/sample/summaries?concurrency=2", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/x-ndjson" {
		t.Errorf("Content-Type = %q", ct)
	}

	seen := map[string]bool{}
	sc := bufio.NewScanner(w.Body)
	for sc.Scan() {
		var item struct {
			Index  int              `json:"index"`
			IP     string           `json:"ip"`
			Result summarize.Result `json:"result"`
		}
		if err := json.Unmarshal(sc.Bytes(), &item); err != nil {
			t.Fatalf("decode line %q: %v", sc.Text(), err)
		}
		if item.Result.Narrative != item.IP {
			t.Errorf("result for %s carries %q", item.IP, item.Result.Narrative)
		}
		seen[item.IP] = true
	}
	if len(seen) != 3 {
		t.Errorf("expected 3 distinct hosts, got %v", seen)
	}
}

func TestStreamSummaries_badRequests(t *testing.T) {
	r := setupTestRouter(t, &stubSummarizer{})

	tests := []struct {
		path     string
		wantCode int
	}{
		{"/api/v1/datasets/sample/summaries?concurrency=0", http.StatusBadRequest},
		{"/api/v1/datasets/sample/summaries?concurrency=abc", http.StatusBadRequest},
		{"/api/v1/datasets/sample/summaries?concurrency=99", http.StatusBadRequest},
		{"/api/v1/datasets/missing-id/summaries", http.StatusNotFound},
	}
	for _, tt := range tests {
		w := do(r, httptest.NewRequest(http.MethodGet, tt.path, nil))
		if w.Code != tt.wantCode {
			t.Errorf("GET %s: expected %d, got %d", tt.path, tt.wantCode, w.Code)
		}
	}
}

// ── Middleware ───────────────────────────────────────────────────────────

func TestRateLimiter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := gin.New()
	r.Use(api.RateLimiter(ctx, 1, 1))
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	first := do(r, httptest.NewRequest(http.MethodGet, "/ping", nil))
	second := do(r, httptest.NewRequest(http.MethodGet, "/ping", nil))

	if first.Code != http.StatusNoContent {
		t.Errorf("first request: expected 204, got %d", first.Code)
	}
	if second.Code != http.StatusTooManyRequests || second.Header().Get("Retry-After") != "1" {
		t.Errorf("second request: expected 429 with Retry-After, got %d", second.Code)
	}
}

func TestBodyLimitRejectsOversizedUpload(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()
	l := loader.New(samplePath, nil, logger)
	st := store.New(store.Config{})
	h := api.NewHandler(selection.NewAction(l, st, logger), selection.NewResolver(l, st), &stubSummarizer{}, logger)

	r := gin.New()
	r.Use(api.BodyLimit(1024))
	h.Register(r.Group("/api/v1"))

	w := do(r, uploadRequest(t, "big.json", bytes.Repeat([]byte("x"), 4096)))
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d: %s", w.Code, w.Body.String())
	}
}
