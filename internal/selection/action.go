// Package selection turns a user's dataset choice into a stored dataset id
// and resolves ids back into normalized hosts.
package selection

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"

	"go.uber.org/zap"

	"github.com/jmerrifield20/hostscope/internal/dataset"
	"github.com/jmerrifield20/hostscope/internal/loader"
	"github.com/jmerrifield20/hostscope/internal/normalize"
	"github.com/jmerrifield20/hostscope/internal/store"
)

// MaxDetails caps the validation details attached to an error outcome.
const MaxDetails = 8

// HostsPath is the page a successful selection redirects to.
const HostsPath = "/hosts"

// Mode selects between the bundled sample and an uploaded file.
type Mode string

const (
	ModeSample Mode = "sample"
	ModeUpload Mode = "upload"
)

// ParseMode maps a form value onto a Mode. Anything other than "sample" is
// treated as an upload.
func ParseMode(v string) Mode {
	if Mode(v) == ModeSample {
		return ModeSample
	}
	return ModeUpload
}

// OutcomeKind discriminates Outcome.
type OutcomeKind string

const (
	OutcomeRedirect OutcomeKind = "redirect"
	OutcomeError    OutcomeKind = "error"
)

// ErrorCode is a machine-readable reason attached to error outcomes.
type ErrorCode string

const (
	CodeNoFile      ErrorCode = "no_file"
	CodeEmpty       ErrorCode = "empty"
	CodeTooLarge    ErrorCode = "too_large"
	CodeInvalidJSON ErrorCode = "invalid_json"
	CodeSchema      ErrorCode = "schema"
	CodeInternal    ErrorCode = "internal"
)

// Outcome is the result of a selection. Redirect outcomes carry To and
// DatasetID; error outcomes carry Code, Message and optional Details.
type Outcome struct {
	Kind      OutcomeKind `json:"status"`
	To        string      `json:"to,omitempty"`
	DatasetID string      `json:"dataset_id,omitempty"`
	Code      ErrorCode   `json:"code,omitempty"`
	Message   string      `json:"message,omitempty"`
	Details   []string    `json:"details,omitempty"`
}

// Upload is a file submitted for selection.
type Upload struct {
	Name string
	Data []byte
}

// User-facing messages.
const (
	msgChooseFile    = "Please choose a JSON file that matches the Censys dataset schema."
	msgEmptyFile     = "The selected file is empty. Please upload a populated dataset."
	msgTooLarge      = "The dataset exceeds the 2MB upload limit. Please provide a smaller file."
	msgInvalidJSON   = "Uploaded file is not valid JSON."
	msgSchemaInvalid = "Dataset did not match the expected schema. Please review the structure."
	msgUnexpected    = "We could not process that dataset. Please verify the contents and try again."
)

// Action handles dataset selection requests.
type Action struct {
	validator *dataset.Validator
	loader    *loader.Loader
	store     *store.Store
	logger    *zap.Logger
}

// NewAction creates an Action.
func NewAction(l *loader.Loader, s *store.Store, logger *zap.Logger) *Action {
	return &Action{
		validator: dataset.NewValidator(logger),
		loader:    l,
		store:     s,
		logger:    logger,
	}
}

// Select dispatches on mode. up is ignored for ModeSample.
func (a *Action) Select(ctx context.Context, mode Mode, up *Upload) Outcome {
	if mode == ModeSample {
		return a.SelectSample(ctx)
	}
	return a.SelectUpload(ctx, up)
}

// SelectSample ensures the bundled sample loads and redirects to it.
func (a *Action) SelectSample(ctx context.Context) Outcome {
	if _, err := a.loader.State(ctx); err != nil {
		a.logger.Error("selection: sample dataset failed to load", zap.Error(err))
		return errorOutcome(CodeInternal, msgUnexpected, nil)
	}
	return redirect(SampleID)
}

// SelectUpload validates an uploaded document, stores it and redirects to
// its id. A nil upload means no file was provided.
func (a *Action) SelectUpload(ctx context.Context, up *Upload) Outcome {
	if up == nil {
		return errorOutcome(CodeNoFile, msgChooseFile, nil)
	}
	if err := ctx.Err(); err != nil {
		return errorOutcome(CodeInternal, msgUnexpected, nil)
	}

	res, err := a.validator.ParseUpload(up.Data)
	if err != nil {
		return a.UploadError(err)
	}

	if len(res.Issues) > 0 {
		a.logger.Info("selection: upload accepted with degraded hosts",
			zap.String("file", up.Name),
			zap.Int("degraded", len(res.Issues)),
		)
	}

	id := a.store.Save(store.SaveInput{
		Dataset:    res.Dataset,
		Normalized: normalize.FromDataset(res.Dataset),
		Source:     store.SourceUpload,
		Label:      up.Name,
	})
	return redirect(id)
}

// UploadError maps an upload failure onto its error outcome.
func (a *Action) UploadError(err error) Outcome {
	switch {
	case errors.Is(err, dataset.ErrEmptyUpload):
		return errorOutcome(CodeEmpty, msgEmptyFile, nil)
	case errors.Is(err, dataset.ErrUploadTooLarge):
		return errorOutcome(CodeTooLarge, msgTooLarge, nil)
	}

	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return errorOutcome(CodeInvalidJSON, msgInvalidJSON+" "+syntaxErr.Error(), nil)
	}

	var loadErr *dataset.LoadError
	if errors.As(err, &loadErr) {
		details := loadErr.Issues
		if len(details) == 0 {
			details = []string{loadErr.Message}
		}
		return errorOutcome(CodeSchema, msgSchemaInvalid, details)
	}

	a.logger.Error("selection: unexpected upload failure", zap.Error(err))
	return errorOutcome(CodeInternal, msgUnexpected, nil)
}

func redirect(id string) Outcome {
	q := url.Values{}
	q.Set("dataset", id)
	return Outcome{
		Kind:      OutcomeRedirect,
		To:        HostsPath + "?" + q.Encode(),
		DatasetID: id,
	}
}

func errorOutcome(code ErrorCode, message string, details []string) Outcome {
	if len(details) > MaxDetails {
		details = details[:MaxDetails]
	}
	return Outcome{Kind: OutcomeError, Code: code, Message: message, Details: details}
}
