// Package storageerr defines the error taxonomy shared by every engine
// component: invariant violations, transient and persistent I/O failures,
// protocol errors, timeouts, concurrency rejections and user syntax errors.
package storageerr

import (
	"errors"
	"fmt"
)

// Kind classifies a Error for callers that branch on failure category
// rather than on a specific sentinel.
type Kind int

const (
	KindUnknown Kind = iota
	KindInvariant
	KindTransientIO
	KindPersistentIO
	KindProtocol
	KindTimeout
	KindConcurrencyReject
	KindUserSyntax
)

func (k Kind) String() string {
	switch k {
	case KindInvariant:
		return "invariant_violation"
	case KindTransientIO:
		return "transient_io"
	case KindPersistentIO:
		return "persistent_io"
	case KindProtocol:
		return "protocol"
	case KindTimeout:
		return "timeout"
	case KindConcurrencyReject:
		return "concurrency_reject"
	case KindUserSyntax:
		return "user_syntax"
	default:
		return "unknown"
	}
}

// Sentinel errors matched via errors.Is across package boundaries.
var (
	ErrNotFound        = errors.New("not found")
	ErrClosed          = errors.New("closed")
	ErrAlreadyRunning  = errors.New("operation already running")
	ErrCorruptRecord   = errors.New("corrupt record")
	ErrTimeout         = errors.New("operation timed out")
	ErrBudgetExceeded  = errors.New("memory budget exceeded")
	ErrUnderRepaired   = errors.New("row left under-repaired")
)

// Error is the structured error type every package-local constructor
// returns. It chains to Cause via Unwrap so errors.Is/As keep working.
type Error struct {
	Kind    Kind
	Op      string // operation that failed, e.g. "wal.Append"
	Entity  string // e.g. "table", "wal", "sstable"
	ID      string // row id, table name, node address — whatever identifies it
	Cause   error
	Context string
}

func (e *Error) Error() string {
	switch {
	case e.ID != "" && e.Context != "":
		return fmt.Sprintf("%s %s %s (%s): %v", e.Op, e.Entity, e.ID, e.Context, e.Cause)
	case e.ID != "":
		return fmt.Sprintf("%s %s %s: %v", e.Op, e.Entity, e.ID, e.Cause)
	case e.Context != "":
		return fmt.Sprintf("%s %s (%s): %v", e.Op, e.Entity, e.Context, e.Cause)
	default:
		return fmt.Sprintf("%s %s: %v", e.Op, e.Entity, e.Cause)
	}
}

func (e *Error) Unwrap() error { return e.Cause }

func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	return errors.Is(e.Cause, target)
}

// Builder provides the fluent construction the rest of the engine uses to
// attach context to a failure without allocating a new struct literal at
// every call site.
type Builder struct {
	err Error
}

func New(op string, kind Kind) *Builder {
	return &Builder{err: Error{Op: op, Kind: kind}}
}

func (b *Builder) Entity(entity, id string) *Builder {
	b.err.Entity = entity
	b.err.ID = id
	return b
}

func (b *Builder) Context(ctx string) *Builder {
	b.err.Context = ctx
	return b
}

func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

func (b *Builder) Build() *Error { return &b.err }
func (b *Builder) Err() error    { return &b.err }

// KindOf extracts the Kind from err if it (or something it wraps) is an
// *Error, returning KindUnknown otherwise.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindUnknown
}

func IsNotFound(err error) bool      { return errors.Is(err, ErrNotFound) }
func IsClosed(err error) bool        { return errors.Is(err, ErrClosed) }
func IsTimeout(err error) bool       { return errors.Is(err, ErrTimeout) }
func IsAlreadyRunning(err error) bool { return errors.Is(err, ErrAlreadyRunning) }
