package upload

import (
	"errors"
	"fmt"

	"github.com/dharsanguruparan/ChunkDrop/internal/model"
)

// Kind classifies every error returned by Service.
type Kind string

const (
	KindInvalid          Kind = "invalid"
	KindNotFound         Kind = "not_found"
	KindUnauthorized     Kind = "unauthorized"
	KindInvalidState     Kind = "invalid_state"
	KindIncompleteUpload Kind = "incomplete_upload"
	KindStoreUnavailable Kind = "store_unavailable"
	KindInternal         Kind = "internal"
)

// Error is the only error type that crosses the package boundary. ID names the
// session or file the failure concerns.
type Error struct {
	Kind      Kind
	ID        string
	Reason    string
	Missing   int
	Retryable bool
	Err       error
}

// Sentinels for errors.Is; matching is by Kind only.
var (
	ErrInvalid          = &Error{Kind: KindInvalid}
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrUnauthorized     = &Error{Kind: KindUnauthorized}
	ErrInvalidState     = &Error{Kind: KindInvalidState}
	ErrIncompleteUpload = &Error{Kind: KindIncompleteUpload}
	ErrStoreUnavailable = &Error{Kind: KindStoreUnavailable}
	ErrInternal         = &Error{Kind: KindInternal}
)

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.ID != "" {
		msg += " " + e.ID
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrIncompleteUpload) match any error of that kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// AsError extracts the typed error from err.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

func invalid(id, format string, args ...any) *Error {
	return &Error{Kind: KindInvalid, ID: id, Reason: fmt.Sprintf(format, args...)}
}

func unauthorized(id string) *Error {
	return &Error{Kind: KindUnauthorized, ID: id, Reason: "caller does not own this upload"}
}

func invalidState(id, format string, args ...any) *Error {
	return &Error{Kind: KindInvalidState, ID: id, Reason: fmt.Sprintf(format, args...)}
}

func incomplete(id string, missing int) *Error {
	return &Error{
		Kind:    KindIncompleteUpload,
		ID:      id,
		Reason:  fmt.Sprintf("%d chunk(s) missing", missing),
		Missing: missing,
	}
}

// metadataError maps a persistence failure onto the boundary taxonomy.
func metadataError(id, what string, err error) *Error {
	if errors.Is(err, model.ErrNotFound) {
		return &Error{Kind: KindNotFound, ID: id, Reason: what + " not found"}
	}
	return &Error{Kind: KindInternal, ID: id, Reason: what, Retryable: true, Err: err}
}

// storeError maps an object store failure. Store errors expose Temporary and
// NotFound through method sets so this package never imports minio.
func storeError(id, op string, err error) *Error {
	return &Error{
		Kind:      KindStoreUnavailable,
		ID:        id,
		Reason:    op,
		Retryable: isTemporary(err),
		Err:       err,
	}
}

func isTemporary(err error) bool {
	var t interface{ Temporary() bool }
	if errors.As(err, &t) {
		return t.Temporary()
	}
	return true
}

func isStoreNotFound(err error) bool {
	var nf interface{ NotFound() bool }
	return errors.As(err, &nf) && nf.NotFound()
}
