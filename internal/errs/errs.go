// Package errs defines the process-wide error vocabulary shared by
// target, dm, lva and blockdev (§7 of the design spec). A single Kind
// enum keeps the thirteen named error kinds comparable with errors.Is
// across package boundaries instead of each package growing its own
// sentinel set.
package errs

import (
	"errors"
	"fmt"
)

// Kind is one of the named error kinds that the core's public operations
// may return.
type Kind byte

const (
	NoDevice Kind = iota
	InUse
	Busy
	Duplicate
	NoMemory
	BadTable
	BadParam
	InsufficientSpace
	NotActive
	NotSupported
	Permission
	Interrupted
	IoError
	// NotFound is a supplement: §4.1 describes target lookup failing
	// with "NotFound", a label the canonical §7 list omits. It is kept
	// distinct from NoDevice (which names a missing mapped device, not
	// a missing target kind).
	NotFound
)

func (k Kind) String() string {
	switch k {
	case NoDevice:
		return "no device"
	case InUse:
		return "in use"
	case Busy:
		return "busy"
	case Duplicate:
		return "duplicate"
	case NoMemory:
		return "no memory"
	case BadTable:
		return "bad table"
	case BadParam:
		return "bad param"
	case InsufficientSpace:
		return "insufficient space"
	case NotActive:
		return "not active"
	case NotSupported:
		return "not supported"
	case Permission:
		return "permission"
	case Interrupted:
		return "interrupted"
	case IoError:
		return "i/o error"
	case NotFound:
		return "not found"
	default:
		return "unknown error kind"
	}
}

// Error wraps a Kind with the operation that produced it and, optionally,
// an underlying cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// New builds an *Error. err may be nil when the kind itself is the whole
// story.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error with the same Kind, so callers
// can write errors.Is(err, errs.ErrBusy) regardless of Op/Err.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinels for errors.Is comparisons. Only Kind is compared; Op and Err
// on these values are never read.
var (
	ErrNoDevice          = &Error{Kind: NoDevice}
	ErrInUse             = &Error{Kind: InUse}
	ErrBusy              = &Error{Kind: Busy}
	ErrDuplicate         = &Error{Kind: Duplicate}
	ErrNoMemory          = &Error{Kind: NoMemory}
	ErrBadTable          = &Error{Kind: BadTable}
	ErrBadParam          = &Error{Kind: BadParam}
	ErrInsufficientSpace = &Error{Kind: InsufficientSpace}
	ErrNotActive         = &Error{Kind: NotActive}
	ErrNotSupported      = &Error{Kind: NotSupported}
	ErrPermission        = &Error{Kind: Permission}
	ErrInterrupted       = &Error{Kind: Interrupted}
	ErrIoError           = &Error{Kind: IoError}
	ErrNotFound          = &Error{Kind: NotFound}
)

// Of reports the Kind of err if it (or something it wraps) is an *Error,
// and ok=false otherwise.
func Of(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}
