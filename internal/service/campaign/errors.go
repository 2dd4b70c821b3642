package campaign

import (
	"errors"
	"fmt"
)

// Sentinel errors for the campaign service layer.
var (
	ErrNotFound         = errors.New("campaign not found")
	ErrUnknownSegment   = errors.New("segment has no destination")
	ErrMissingField     = errors.New("required field missing")
	ErrStoreUnavailable = errors.New("campaign store unavailable")
)

// StartError rejects a start request before anything is written.
type StartError struct {
	Err     error
	Segment string
	Field   string
}

func (e *StartError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("start campaign: %v: %s", e.Err, e.Field)
	}
	return fmt.Sprintf("start campaign: %v: %q", e.Err, e.Segment)
}

func (e *StartError) Unwrap() error { return e.Err }
