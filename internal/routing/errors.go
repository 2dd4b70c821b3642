package routing

import (
	"errors"
	"fmt"

	"github.com/ignite/persona-segmentation/internal/domain"
)

var (
	ErrStoreUnavailable = errors.New("destination store unavailable")
	ErrDuplicatePersona = errors.New("persona mapped to more than one table")
	ErrDuplicateTable   = errors.New("table mapped to more than one persona")
	ErrUnknownPersona   = errors.New("persona has no destination")
)

// RouteWriteError reports a failed write to one destination. Other
// destinations of the same batch are unaffected.
type RouteWriteError struct {
	Persona domain.Persona
	Table   string
	Err     error
}

func (e *RouteWriteError) Error() string {
	return fmt.Sprintf("route %q to %s: %v", e.Persona, e.Table, e.Err)
}

func (e *RouteWriteError) Unwrap() error { return e.Err }

// PartialWriteError is returned by a store whose Upsert failed after some
// records were already stored.
type PartialWriteError struct {
	Written int
	Err     error
}

func (e *PartialWriteError) Error() string {
	return fmt.Sprintf("%d records written before failure: %v", e.Written, e.Err)
}

func (e *PartialWriteError) Unwrap() error { return e.Err }
