// Package errors defines the kinds of failure surfaced by the catalog adapter.
//
// Validation and selector errors are raised locally before any backend is
// contacted. Backend errors are reclassified with Classify at the orchestrator
// boundary; anything not recognised is kept as an opaque KindBackend error
// with the original message preserved.
package errors

import (
	"fmt"
	"sort"
	"strings"

	pkgerrors "github.com/pkg/errors"
)

// Kind is a machine-checkable error category.
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidInput
	KindReservedKey
	KindBackendDisabled
	KindBackendMisconfigured
	KindConflict
	KindNotFound
	KindSearch
	KindBackend
	KindPartialCreation
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindReservedKey:
		return "reserved_key"
	case KindBackendDisabled:
		return "backend_disabled"
	case KindBackendMisconfigured:
		return "backend_misconfigured"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindSearch:
		return "search"
	case KindBackend:
		return "backend"
	case KindPartialCreation:
		return "partial_creation"
	default:
		return "unknown"
	}
}

// kinded is implemented by every error type of this package.
type kinded interface {
	error
	ErrorKind() Kind
}

// Error is the general error value carrying a Kind and a human-readable
// detail. Err, when present, is the underlying cause.
type Error struct {
	Kind   Kind
	Detail string
	Err    error
}

var _ kinded = (*Error)(nil)

func (e *Error) Error() string {
	switch {
	case e.Err == nil:
		return e.Detail
	case e.Detail == "":
		return e.Err.Error()
	default:
		return e.Detail + ": " + e.Err.Error()
	}
}

func (e *Error) ErrorKind() Kind { return e.Kind }

func (e *Error) Unwrap() error { return e.Err }

// Cause implements the pkg/errors causer interface.
func (e *Error) Cause() error { return e.Err }

// ReservedKeyError is returned when user-supplied extras collide with the
// reserved key set of a resource kind. Keys is sorted.
type ReservedKeyError struct {
	Keys []string
}

var _ kinded = (*ReservedKeyError)(nil)

func NewReservedKeyError(keys []string) *ReservedKeyError {
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)
	return &ReservedKeyError{Keys: sorted}
}

func (e *ReservedKeyError) Error() string {
	return fmt.Sprintf("extras contain reserved keys: %s", strings.Join(e.Keys, ", "))
}

func (e *ReservedKeyError) ErrorKind() Kind { return KindReservedKey }

// PartialCreationError reports that a dataset was created but one of its
// resources could not be. The dataset is left behind unless RolledBack.
type PartialCreationError struct {
	DatasetID  string
	Resources  []string // IDs of the resources created before the failure.
	RolledBack bool
	CleanupErr error
	Err        error
}

var _ kinded = (*PartialCreationError)(nil)

func (e *PartialCreationError) Error() string {
	msg := fmt.Sprintf("dataset %s was created but its resources were not: %v", e.DatasetID, e.Err)
	switch {
	case e.RolledBack:
		msg += " (dataset purged)"
	case e.CleanupErr != nil:
		msg += fmt.Sprintf(" (purge failed: %v)", e.CleanupErr)
	}
	return msg
}

func (e *PartialCreationError) ErrorKind() Kind { return KindPartialCreation }

func (e *PartialCreationError) Unwrap() error { return e.Err }

func (e *PartialCreationError) Cause() error { return e.Err }

// KindOf returns the Kind of the first error in the chain that carries one.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var k kinded
	if pkgerrors.As(err, &k) {
		return k.ErrorKind()
	}
	return KindUnknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

func newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

func InvalidInput(format string, args ...interface{}) error {
	return newf(KindInvalidInput, format, args...)
}

func BackendDisabled(format string, args ...interface{}) error {
	return newf(KindBackendDisabled, format, args...)
}

func BackendMisconfigured(format string, args ...interface{}) error {
	return newf(KindBackendMisconfigured, format, args...)
}

func Conflict(format string, args ...interface{}) error {
	return newf(KindConflict, format, args...)
}

func NotFound(format string, args ...interface{}) error {
	return newf(KindNotFound, format, args...)
}

// Search wraps a backend failure that happened while searching.
func Search(err error) error {
	return &Error{Kind: KindSearch, Detail: "error searching for datasets", Err: err}
}

// Backend wraps an unrecognised backend failure.
func Backend(err error, detail string) error {
	return &Error{Kind: KindBackend, Detail: detail, Err: err}
}

// Backend message fragments used to reclassify failures. Matching is done
// on the lower-cased message.
var (
	schemeFragments   = []string{"no scheme supplied", "unsupported protocol scheme", "missing protocol scheme"}
	conflictFragments = []string{"already exists", "already in use"}
	notFoundFragments = []string{"not found"}
)

// Classify maps a backend error into the taxonomy. detail describes the
// operation that failed and is prefixed to the message. Errors that already
// carry a kind are returned untouched.
func Classify(err error, detail string) error {
	if err == nil {
		return nil
	}
	if KindOf(err) != KindUnknown {
		return err
	}
	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, schemeFragments):
		return &Error{Kind: KindBackendMisconfigured, Detail: "server is not configured or unreachable", Err: err}
	case containsAny(msg, conflictFragments):
		return &Error{Kind: KindConflict, Detail: detail, Err: err}
	case containsAny(msg, notFoundFragments):
		return &Error{Kind: KindNotFound, Detail: detail, Err: err}
	}
	return Backend(err, detail)
}

func containsAny(s string, fragments []string) bool {
	for _, f := range fragments {
		if strings.Contains(s, f) {
			return true
		}
	}
	return false
}
