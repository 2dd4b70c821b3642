package segmentation

import (
	"errors"
	"fmt"
)

var (
	ErrNotTabular      = errors.New("input is not tabular")
	ErrNoColumns       = errors.New("input has no columns")
	ErrTooManyClusters = errors.New("more clusters than persona names")
	ErrLengthMismatch  = errors.New("cluster assignments do not match records")
)

// ValidationError reports an upload that cannot be read as a table at all.
// Individual bad rows never produce one.
type ValidationError struct {
	Err    error
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%v: %s", e.Err, e.Detail)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// LabelingError reports a mismatch between the classifier output and the
// persona ladder. It points at a model/config mismatch, not at bad input.
type LabelingError struct {
	Err      error
	Clusters int
	Personas int
}

func (e *LabelingError) Error() string {
	return fmt.Sprintf("labeling failed: %v (clusters=%d, personas=%d)", e.Err, e.Clusters, e.Personas)
}

func (e *LabelingError) Unwrap() error { return e.Err }
