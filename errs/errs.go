// Package errs defines the error taxonomy shared by every component of the
// irrigation core. Callers use errors.Is/errors.As against these sentinels
// instead of parsing log strings.
package errs

import "errors"

// Kind classifies an error into one of the categories the core
// distinguishes when deciding how to log, retry, or surface a failure.
type Kind int

const (
	// KindValidation marks a configuration document or zone definition
	// that failed an invariant at load time. The previously loaded
	// configuration remains in effect.
	KindValidation Kind = iota
	// KindResolution marks a time code that could not be resolved to an
	// absolute instant. The offending schedule entry is skipped.
	KindResolution
	// KindPersistence marks a snapshot read or write failure.
	KindPersistence
	// KindHardware marks a driver operation that returned an error.
	KindHardware
	// KindOverlap marks a manual start request against an already-active zone.
	KindOverlap
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindResolution:
		return "resolution"
	case KindPersistence:
		return "persistence"
	case KindHardware:
		return "hardware"
	case KindOverlap:
		return "overlap"
	default:
		return "unknown"
	}
}

// Error is a taxonomy-tagged error. Wrap an underlying cause with New so
// that errors.Is(err, errs.ErrHardware) (etc.) keeps working through
// fmt.Errorf("...: %w", err) chains.
type Error struct {
	Kind Kind
	Op   string // component/operation that raised the error, e.g. "registry.start"
	Err  error
}

func (e *Error) Error() string {
	if e.Op != "" {
		return e.Kind.String() + " error in " + e.Op + ": " + e.Err.Error()
	}
	return e.Kind.String() + " error: " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	switch e.Kind {
	case KindValidation:
		return target == ErrValidation
	case KindResolution:
		return target == ErrResolution
	case KindPersistence:
		return target == ErrPersistence
	case KindHardware:
		return target == ErrHardware
	case KindOverlap:
		return target == ErrOverlap
	default:
		return false
	}
}

// New wraps err with a Kind and the operation name that raised it.
func New(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Sentinel errors, one per Kind, for errors.Is comparisons against Error values.
var (
	ErrValidation  = errors.New("validation failed")
	ErrResolution  = errors.New("time code resolution failed")
	ErrPersistence = errors.New("persistence failed")
	ErrHardware    = errors.New("hardware operation failed")
	ErrOverlap     = errors.New("zone already active")
)
