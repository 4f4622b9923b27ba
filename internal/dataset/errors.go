package dataset

import (
	"errors"
	"strings"
)

var (
	// ErrEmptyUpload is returned when an upload buffer has no content.
	ErrEmptyUpload = errors.New("dataset upload is empty")

	// ErrUploadTooLarge is returned when an upload exceeds MaxUploadBytes.
	ErrUploadTooLarge = errors.New("dataset upload exceeds the 2MB limit")
)

// LoadError is a fatal, dataset-level validation failure. No partial dataset
// is produced when it is returned.
type LoadError struct {
	Message string
	Issues  []string
	Err     error
}

func (e *LoadError) Error() string {
	if len(e.Issues) == 0 {
		return e.Message
	}
	return e.Message + ": " + strings.Join(e.Issues, ", ")
}

func (e *LoadError) Unwrap() error { return e.Err }
