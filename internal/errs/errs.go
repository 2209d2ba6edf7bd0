// Package errs provides the tagged error taxonomy shared across memsearch.
// Every public method of the Index Store, Embedding Provider, Sync Engine,
// and Manager Facade fails with one of these kinds rather than an opaque error.
package errs

import (
	"errors"
	"fmt"
)

// Kind identifies the category of a memsearch error.
type Kind string

const (
	ConfigInvalid        Kind = "config_invalid"
	PathDenied           Kind = "path_denied"
	IOError              Kind = "io_error"
	StoreCorrupt         Kind = "store_corrupt"
	ProviderAuthMissing  Kind = "provider_auth_missing"
	ProviderHTTPError    Kind = "provider_http_error"
	ProviderRequestFail  Kind = "provider_request_failed"
	ProviderDimMismatch  Kind = "provider_dim_mismatch"
	EmbeddingQueryFailed Kind = "embedding_query_failed"
	Cancelled            Kind = "cancelled"
)

// Error is the structured error type returned by memsearch's public methods.
type Error struct {
	Kind Kind
	Op   string // the method/stage that produced the error, e.g. "sync.force"
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s: %v", e.Op, e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is allows errors.Is(err, errs.New(kind, "", "", nil)) to match by Kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind == "" {
		return false
	}
	return e.Kind == t.Kind
}

// New constructs an *Error with the given kind.
func New(kind Kind, op, msg string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg, Err: cause}
}

// Wrap tags an existing error with a kind, preserving it as the cause.
func Wrap(kind Kind, op string, err error) *Error {
	if err == nil {
		return nil
	}
	return New(kind, op, err.Error(), err)
}

// KindOf extracts the Kind from err, returning "" if err is not a tagged *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether the first tagged *Error in err's chain carries the given
// Kind; kinds of tagged errors nested deeper under it are not consulted.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
