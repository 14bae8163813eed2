package order

import (
	"fmt"

	"github.com/go-faster/errors"
)

// Kind classifies checkout and lookup failures.
type Kind string

// Error kinds surfaced to API callers.
const (
	KindInvalidPayload        Kind = "InvalidPayload"
	KindUnknownShippingMethod Kind = "UnknownShippingMethod"
	KindExternalProvider      Kind = "ExternalProviderError"
	KindDuplicateOrderID      Kind = "DuplicateOrderId"
	KindStorage               Kind = "StorageError"
	KindNotFound              Kind = "NotFound"
	KindUnauthorized          Kind = "Unauthorized"
)

// Error is a classified failure. Message is safe to return to clients.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// InvalidPayload builds a KindInvalidPayload error.
func InvalidPayload(format string, args ...any) *Error {
	return newError(KindInvalidPayload, nil, format, args...)
}

// KindOf returns the kind of err. Store sentinels map to their own kinds and
// anything else reports "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrDuplicateOrderID):
		return KindDuplicateOrderID
	}
	return ""
}
