package selection

import (
	"context"
	"errors"
	"strings"

	"github.com/jmerrifield20/hostscope/internal/loader"
	"github.com/jmerrifield20/hostscope/internal/normalize"
	"github.com/jmerrifield20/hostscope/internal/store"
)

// SampleID is the reserved dataset id of the bundled sample.
const SampleID = "sample"

const sampleLabel = "Bundled sample dataset"

var (
	// ErrDatasetNotFound is returned by Lookup for unknown or expired ids.
	ErrDatasetNotFound = errors.New("dataset not found or expired")

	// ErrHostNotFound is returned when an ip is not part of a dataset.
	ErrHostNotFound = errors.New("host not found in dataset")
)

// Notices shown alongside a resolved dataset.
const (
	noticeUpload   = "Uploaded datasets remain cached in-memory for 15 minutes to support navigation."
	noticeAPI      = "API datasets are cached for this session only."
	noticeReady    = "Dataset ready. Explore risk indicators below."
	noticeFallback = "The requested dataset was not found or has expired. Showing the bundled sample instead."
)

// Resolved is a dataset id resolved to its hosts.
type Resolved struct {
	DatasetID  string            `json:"dataset_id"`
	Source     store.Source      `json:"source"`
	Label      string            `json:"label"`
	Notice     string            `json:"notice,omitempty"`
	IsFallback bool              `json:"is_fallback"`
	Hosts      []*normalize.Host `json:"hosts"`
}

// Host returns the host with the given ip.
func (r *Resolved) Host(ip string) (*normalize.Host, error) {
	for _, h := range r.Hosts {
		if h.IP == ip {
			return h, nil
		}
	}
	return nil, ErrHostNotFound
}

// Resolver maps dataset ids onto stored datasets or the bundled sample.
type Resolver struct {
	loader *loader.Loader
	store  *store.Store
}

// NewResolver creates a Resolver.
func NewResolver(l *loader.Loader, s *store.Store) *Resolver {
	return &Resolver{loader: l, store: s}
}

// Resolve returns the dataset for id. An empty id or SampleID selects the
// sample; an unknown or expired id also falls back to the sample with
// IsFallback set. The only error is a failure to load the sample.
func (r *Resolver) Resolve(ctx context.Context, id string) (*Resolved, error) {
	if id == "" || id == SampleID {
		return r.sample(ctx, "", false)
	}
	if res, ok := r.stored(id); ok {
		return res, nil
	}
	return r.sample(ctx, noticeFallback, true)
}

// Lookup is Resolve without the fallback: unknown ids return
// ErrDatasetNotFound.
func (r *Resolver) Lookup(ctx context.Context, id string) (*Resolved, error) {
	if id == "" || id == SampleID {
		return r.sample(ctx, "", false)
	}
	if res, ok := r.stored(id); ok {
		return res, nil
	}
	return nil, ErrDatasetNotFound
}

func (r *Resolver) sample(ctx context.Context, notice string, fallback bool) (*Resolved, error) {
	hosts, err := r.loader.Normalized(ctx)
	if err != nil {
		return nil, err
	}
	return &Resolved{
		DatasetID:  SampleID,
		Source:     store.SourceSample,
		Label:      sampleLabel,
		Notice:     notice,
		IsFallback: fallback,
		Hosts:      hosts,
	}, nil
}

func (r *Resolver) stored(id string) (*Resolved, bool) {
	e, ok := r.store.Get(id)
	if !ok {
		return nil, false
	}
	return &Resolved{
		DatasetID: id,
		Source:    e.Source,
		Label:     label(e),
		Notice:    notice(e.Source),
		Hosts:     e.Normalized,
	}, true
}

func label(e *store.Entry) string {
	if l := strings.TrimSpace(e.Label); l != "" {
		return l
	}
	if e.Dataset != nil {
		if d := strings.TrimSpace(e.Dataset.Metadata.Description); d != "" {
			return d
		}
	}
	switch e.Source {
	case store.SourceUpload:
		return "Uploaded dataset"
	case store.SourceAPI:
		return "API dataset"
	default:
		return "Selected dataset"
	}
}

func notice(src store.Source) string {
	switch src {
	case store.SourceUpload:
		return noticeUpload
	case store.SourceAPI:
		return noticeAPI
	default:
		return noticeReady
	}
}
