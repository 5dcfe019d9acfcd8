package model

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failed detect request.
type ErrorKind string

const (
	KindMissingFile         ErrorKind = "missing_file"
	KindEmptyFilename       ErrorKind = "empty_filename"
	KindPayloadTooLarge     ErrorKind = "payload_too_large"
	KindUnreadableImage     ErrorKind = "unreadable_image"
	KindOversizedDimensions ErrorKind = "oversized_dimensions"
	KindInferenceFailure    ErrorKind = "inference_failure"
	KindStorageFailure      ErrorKind = "storage_failure"
	KindBusy                ErrorKind = "busy"
)

// ErrorKinds lists every kind a request can fail with.
var ErrorKinds = []ErrorKind{
	KindMissingFile,
	KindEmptyFilename,
	KindPayloadTooLarge,
	KindUnreadableImage,
	KindOversizedDimensions,
	KindInferenceFailure,
	KindStorageFailure,
	KindBusy,
}

// IsInput reports whether the kind is caused by the client's upload.
func (k ErrorKind) IsInput() bool {
	switch k {
	case KindMissingFile, KindEmptyFilename, KindPayloadTooLarge, KindUnreadableImage, KindOversizedDimensions:
		return true
	}
	return false
}

// Error carries the kind of failure together with its cause.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err with kind.
func NewError(kind ErrorKind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// Errorf builds an Error with a formatted cause.
func Errorf(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the kind from err. Errors without a kind are reported as ok=false.
func KindOf(err error) (ErrorKind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
