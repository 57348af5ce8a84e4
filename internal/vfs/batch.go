package vfs

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// Reporter receives the failures of individual items. name is the display
// name of the failed object, e.g. USER.PDS(MEMBER).
type Reporter interface {
	ItemFailed(name string, err error)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(name string, err error)

func (f ReporterFunc) ItemFailed(name string, err error) { f(name, err) }

type tee []Reporter

func (t tee) ItemFailed(name string, err error) {
	for _, r := range t {
		if r != nil {
			r.ItemFailed(name, err)
		}
	}
}

// BatchResult aggregates a sequential batch of moves or copies.
type BatchResult struct {
	Total     int
	Succeeded int
	Cancelled int
	errs      *multierror.Error
}

// ItemFailed records a per-item failure.
func (r *BatchResult) ItemFailed(name string, err error) {
	r.errs = multierror.Append(r.errs, fmt.Errorf("%s: %w", name, err))
}

// Err returns the aggregated item failures, or nil.
func (r *BatchResult) Err() error {
	return r.errs.ErrorOrNil()
}

// Failures returns the individual item failures.
func (r *BatchResult) Failures() []error {
	if r.errs == nil {
		return nil
	}
	return r.errs.Errors
}

func (r *BatchResult) String() string {
	s := fmt.Sprintf("%d of %d succeeded", r.Succeeded, r.Total)
	if r.Cancelled > 0 {
		s += fmt.Sprintf(", %d cancelled", r.Cancelled)
	}
	return s
}
