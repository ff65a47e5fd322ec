// Package orcherr defines the typed sentinel errors observable at the core
// orchestration boundary. Node-local code wraps these with fmt.Errorf("%w")
// to attach context; callers distinguish kinds with errors.Is/errors.As.
package orcherr

import (
	"errors"
	"fmt"
)

// Kind identifies one of the error kinds observable to the core.
type Kind string

const (
	KindProviderMissing       Kind = "ProviderMissing"
	KindProviderTransient     Kind = "ProviderTransient"
	KindNodeTimeout           Kind = "NodeTimeout"
	KindInvalidState          Kind = "InvalidState"
	KindToolError             Kind = "ToolError"
	KindSynthesizerParseError Kind = "SynthesizerParseError"
	KindSessionCanceled       Kind = "SessionCanceled"
	KindDuplicateFingerprint  Kind = "DuplicateFingerprint"
)

// Sentinel errors, one per Kind, for errors.Is comparisons against the
// un-wrapped cause.
var (
	ErrProviderMissing       = errors.New("provider missing")
	ErrProviderTransient     = errors.New("provider transient failure")
	ErrNodeTimeout           = errors.New("node timeout")
	ErrInvalidState          = errors.New("invalid state")
	ErrToolError             = errors.New("tool error")
	ErrSynthesizerParseError = errors.New("synthesizer parse error")
	ErrSessionCanceled       = errors.New("session canceled")
	ErrDuplicateFingerprint  = errors.New("duplicate fingerprint")
)

var sentinelByKind = map[Kind]error{
	KindProviderMissing:       ErrProviderMissing,
	KindProviderTransient:     ErrProviderTransient,
	KindNodeTimeout:           ErrNodeTimeout,
	KindInvalidState:          ErrInvalidState,
	KindToolError:             ErrToolError,
	KindSynthesizerParseError: ErrSynthesizerParseError,
	KindSessionCanceled:       ErrSessionCanceled,
	KindDuplicateFingerprint:  ErrDuplicateFingerprint,
}

// Error is a wrapped sentinel carrying the Kind plus caller-supplied context.
// errors.Is(err, ErrNodeTimeout) works, and errors.As with a *Error target
// (var e *orcherr.Error; errors.As(err, &e)) extracts it.
type Error struct {
	Kind    Kind
	Node    string
	Message string
	cause   error
}

// New builds an *Error of the given kind with a formatted message.
func New(kind Kind, node, format string, args ...any) *Error {
	return &Error{
		Kind:    kind,
		Node:    node,
		Message: fmt.Sprintf(format, args...),
		cause:   sentinelByKind[kind],
	}
}

// Wrap builds an *Error of the given kind around an existing error.
func Wrap(kind Kind, node string, err error) *Error {
	return &Error{
		Kind:    kind,
		Node:    node,
		Message: err.Error(),
		cause:   err,
	}
}

func (e *Error) Error() string {
	if e.Node == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s[%s]: %s", e.Kind, e.Node, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is reports whether target is the canonical sentinel for e.Kind, so
// errors.Is(err, orcherr.ErrNodeTimeout) matches regardless of wrapping depth.
func (e *Error) Is(target error) bool {
	sentinel, ok := sentinelByKind[e.Kind]
	return ok && sentinel == target
}

// Retryable reports whether C2 should retry an error of this kind.
// Per spec: only transient-provider and timeout errors are retried.
func Retryable(kind Kind) bool {
	return kind == KindProviderTransient || kind == KindNodeTimeout
}

// KindOf extracts the Kind from err if it (or something it wraps) is an
// *Error, otherwise reports ok=false.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
