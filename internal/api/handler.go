// Package api exposes dataset selection, host inspection and summarization
// over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/jmerrifield20/hostscope/internal/dataset"
	"github.com/jmerrifield20/hostscope/internal/normalize"
	"github.com/jmerrifield20/hostscope/internal/prompt"
	"github.com/jmerrifield20/hostscope/internal/selection"
	"github.com/jmerrifield20/hostscope/internal/summarize"
)

// Defaults for the summary memo cache and batch fan-out.
const (
	DefaultSummaryCacheSize = 256
	DefaultSummaryCacheTTL  = 5 * time.Minute
	DefaultConcurrency      = 3
	MaxConcurrency          = 16

	multipartMemory = 8 << 20
)

// Handler serves the dataset API.
type Handler struct {
	action      *selection.Action
	resolver    *selection.Resolver
	summarizer  summarize.Summarizer
	promptOpts  prompt.Options
	summaries   *expirable.LRU[string, summarize.Result]
	concurrency int
	logger      *zap.Logger
}

// NewHandler creates a Handler with the default cache and concurrency.
func NewHandler(action *selection.Action, resolver *selection.Resolver, s summarize.Summarizer, logger *zap.Logger) *Handler {
	return &Handler{
		action:      action,
		resolver:    resolver,
		summarizer:  s,
		promptOpts:  prompt.DefaultOptions(),
		summaries:   expirable.NewLRU[string, summarize.Result](DefaultSummaryCacheSize, nil, DefaultSummaryCacheTTL),
		concurrency: DefaultConcurrency,
		logger:      logger,
	}
}

// SetSummaryCacheTTL replaces the summary cache. A non-positive ttl
// disables memoisation.
func (h *Handler) SetSummaryCacheTTL(ttl time.Duration) {
	if ttl <= 0 {
		h.summaries = nil
		return
	}
	h.summaries = expirable.NewLRU[string, summarize.Result](DefaultSummaryCacheSize, nil, ttl)
}

// SetConcurrency sets the default batch concurrency.
func (h *Handler) SetConcurrency(n int) {
	h.concurrency = max(1, min(n, MaxConcurrency))
}

// SetPromptOptions sets the options used for prompt previews.
func (h *Handler) SetPromptOptions(opts prompt.Options) {
	h.promptOpts = opts
}

// Register registers all dataset routes on the given router group.
func (h *Handler) Register(rg *gin.RouterGroup) {
	datasets := rg.Group("/datasets")
	{
		datasets.POST("", h.SelectDataset)
		datasets.GET("/:id", h.GetDataset)
		datasets.GET("/:id/hosts/:ip", h.GetHost)
		datasets.GET("/:id/hosts/:ip/prompt", h.GetPrompt)
		datasets.POST("/:id/hosts/:ip/summary", h.SummarizeHost)
		datasets.GET("/:id/summaries", h.StreamSummaries)
	}
}

// SelectDataset handles POST /datasets. The form carries mode=sample or a
// multipart "dataset" file. Success answers 303 to the hosts page.
func (h *Handler) SelectDataset(c *gin.Context) {
	var out selection.Outcome
	if err := c.Request.ParseMultipartForm(multipartMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		if isTooLarge(err) {
			out = h.action.UploadError(dataset.ErrUploadTooLarge)
		} else {
			h.logger.Warn("api: parsing selection form failed", zap.Error(err))
			out = h.action.UploadError(err)
		}
		h.respondOutcome(c, out)
		return
	}

	if selection.ParseMode(c.PostForm("mode")) == selection.ModeSample {
		out = h.action.SelectSample(c.Request.Context())
	} else if up, err := readUpload(c); err != nil {
		h.logger.Warn("api: reading upload failed", zap.Error(err))
		out = h.action.UploadError(err)
	} else {
		out = h.action.SelectUpload(c.Request.Context(), up)
	}
	h.respondOutcome(c, out)
}

func (h *Handler) respondOutcome(c *gin.Context, out selection.Outcome) {
	if out.Kind == selection.OutcomeRedirect {
		RecordUpload("redirect")
		c.Header("Location", out.To)
		c.JSON(http.StatusSeeOther, out)
		return
	}
	RecordUpload(string(out.Code))
	c.JSON(outcomeStatus(out.Code), out)
}

// GetDataset handles GET /datasets/:id. Unknown ids resolve to the sample
// with is_fallback set.
func (h *Handler) GetDataset(c *gin.Context) {
	res, err := h.resolver.Resolve(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.logger.Error("api: resolve dataset", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "dataset unavailable"})
		return
	}
	c.JSON(http.StatusOK, res)
}

// GetHost handles GET /datasets/:id/hosts/:ip.
func (h *Handler) GetHost(c *gin.Context) {
	host, ok := h.lookupHost(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, host)
}

// GetPrompt handles GET /datasets/:id/hosts/:ip/prompt.
func (h *Handler) GetPrompt(c *gin.Context) {
	host, ok := h.lookupHost(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, prompt.Build(host, h.promptOpts))
}

// SummarizeHost handles POST /datasets/:id/hosts/:ip/summary. Live results
// are memoised per dataset and ip; ?refresh=true bypasses the memo.
func (h *Handler) SummarizeHost(c *gin.Context) {
	host, ok := h.lookupHost(c)
	if !ok {
		return
	}

	key := c.Param("id") + "|" + host.IP
	refresh, _ := strconv.ParseBool(c.Query("refresh"))
	if h.summaries != nil && !refresh {
		if res, hit := h.summaries.Get(key); hit {
			c.Header("X-Summary-Cache", "hit")
			c.JSON(http.StatusOK, res)
			return
		}
	}

	res := h.summarizer.SummarizeHost(c.Request.Context(), host)
	if h.summaries != nil && res.ErrorKind == summarize.KindNone {
		h.summaries.Add(key, res)
	}
	c.Header("X-Summary-Cache", "miss")
	c.JSON(http.StatusOK, res)
}

// StreamSummaries handles GET /datasets/:id/summaries. Results are written
// as newline-delimited JSON in completion order.
func (h *Handler) StreamSummaries(c *gin.Context) {
	concurrency := h.concurrency
	if v := c.Query("concurrency"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > MaxConcurrency {
			c.JSON(http.StatusBadRequest, gin.H{"error": "concurrency must be an integer between 1 and " + strconv.Itoa(MaxConcurrency)})
			return
		}
		concurrency = n
	}

	res, ok := h.lookupDataset(c)
	if !ok {
		return
	}

	c.Header("Content-Type", "application/x-ndjson")
	c.Header("Cache-Control", "no-store")
	c.Status(http.StatusOK)

	enc := json.NewEncoder(c.Writer)
	for item, err := range summarize.SummarizeAll(c.Request.Context(), h.summarizer, res.Hosts, concurrency) {
		if err != nil {
			h.logger.Info("api: summary stream cancelled", zap.Error(err))
			_ = enc.Encode(gin.H{"error": err.Error()})
			c.Writer.Flush()
			return
		}
		if err := enc.Encode(item); err != nil {
			h.logger.Warn("api: summary stream write failed", zap.Error(err))
			return
		}
		c.Writer.Flush()
	}
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func (h *Handler) lookupDataset(c *gin.Context) (*selection.Resolved, bool) {
	res, err := h.resolver.Lookup(c.Request.Context(), c.Param("id"))
	switch {
	case errors.Is(err, selection.ErrDatasetNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return nil, false
	case err != nil:
		h.logger.Error("api: lookup dataset", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "dataset unavailable"})
		return nil, false
	}
	return res, true
}

func (h *Handler) lookupHost(c *gin.Context) (*normalize.Host, bool) {
	res, ok := h.lookupDataset(c)
	if !ok {
		return nil, false
	}
	host, err := res.Host(c.Param("ip"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return nil, false
	}
	return host, true
}

// readUpload returns nil, nil when the request carries no dataset file.
func readUpload(c *gin.Context) (*selection.Upload, error) {
	fh, err := c.FormFile("dataset")
	if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, dataset.MaxUploadBytes+1))
	if err != nil {
		return nil, err
	}
	return &selection.Upload{Name: fh.Filename, Data: data}, nil
}

func isTooLarge(err error) bool {
	if errors.Is(err, multipart.ErrMessageTooLarge) {
		return true
	}
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe)
}

func outcomeStatus(code selection.ErrorCode) int {
	switch code {
	case selection.CodeTooLarge:
		return http.StatusRequestEntityTooLarge
	case selection.CodeInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}
