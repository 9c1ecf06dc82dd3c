package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/codyseavey/mtg-finder/internal/models"
)

var (
	// ErrInvalidThreshold is returned when an underpriced threshold is not a finite value above 1.0
	ErrInvalidThreshold = errors.New("threshold must be a finite number greater than 1.0")

	// ErrUpdateInProgress is returned when a dataset update is triggered while one is running
	ErrUpdateInProgress = errors.New("dataset update already in progress")

	// ErrInvalidInput wraps caller mistakes such as a malformed commander url
	ErrInvalidInput = errors.New("invalid input")
)

// AcquisitionError means no usable data could be acquired for a dataset.
type AcquisitionError struct {
	Dataset models.DatasetKind
	Err     error
}

func (e *AcquisitionError) Error() string {
	return fmt.Sprintf("failed to acquire %s dataset: %v", e.Dataset, e.Err)
}

func (e *AcquisitionError) Unwrap() error { return e.Err }

// PartialAcquisitionWarning records a page that was skipped during acquisition.
// It is logged and reported, never returned as a failure.
type PartialAcquisitionWarning struct {
	Dataset models.DatasetKind `json:"dataset"`
	Page    int                `json:"page"`
	Err     error              `json:"-"`
}

func (w PartialAcquisitionWarning) Error() string {
	return fmt.Sprintf("%s page %d skipped: %v", w.Dataset, w.Page, w.Err)
}

func (w PartialAcquisitionWarning) Unwrap() error { return w.Err }

// NotFoundError means a commander URL or dataset does not resolve to any data.
type NotFoundError struct {
	Resource string
	Key      string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.Key)
}

// RateLimitSignal is returned when an upstream throttles us. It triggers backoff, not failure.
type RateLimitSignal struct {
	URL        string
	RetryAfter time.Duration
}

func (e *RateLimitSignal) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited by %s, retry after %s", e.URL, e.RetryAfter)
	}
	return fmt.Sprintf("rate limited by %s", e.URL)
}

// IsNotFound reports whether err is (or wraps) a NotFoundError
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
