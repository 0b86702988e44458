// Package apierr defines the client-facing error taxonomy shared by the
// validators and codecs, and its mapping onto HTTP status codes.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a client-facing failure.
type Kind string

const (
	KindEncoding        Kind = "encoding"
	KindTypeMismatch    Kind = "type_mismatch"
	KindMissingField    Kind = "missing_field"
	KindForbiddenChange Kind = "forbidden_change"
	KindDuplicate       Kind = "duplicate"
	KindStateConflict   Kind = "state_conflict"
	KindPolicyDenied    Kind = "policy_denied"
	KindFileTooLarge    Kind = "file_too_large"
	KindMissingFile     Kind = "missing_file"
	KindInvalidDate     Kind = "invalid_date"
	KindIngestion       Kind = "ingestion"
	KindValidation      Kind = "validation"
	KindNotFound        Kind = "not_found"
	KindUnauthorized    Kind = "unauthorized"
	KindForbidden       Kind = "forbidden"
)

// Fine-grained codes carried alongside a Kind.
const (
	CodeInvalidJSON = "invalid_json"
	CodeNotAList    = "not_a_list"
	CodeNotADict    = "not_a_dict"
	CodeNotAString  = "not_a_str"
	CodeRequired    = "required"
	CodeInvalid     = "invalid"
)

// Error is a typed failure surfaced verbatim to the transport layer.
type Error struct {
	Kind    Kind
	Code    string
	Field   string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// New returns an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf is New with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WithField sets the offending payload field and returns e.
func (e *Error) WithField(field string) *Error {
	e.Field = field
	return e
}

// WithCode sets the fine-grained code and returns e.
func (e *Error) WithCode(code string) *Error {
	e.Code = code
	return e
}

// Wrap attaches an underlying cause and returns e.
func (e *Error) Wrap(err error) *Error {
	e.Err = err
	return e
}

func Validation(field, message string) *Error {
	return &Error{Kind: KindValidation, Code: CodeInvalid, Field: field, Message: message}
}

func MissingField(field, message string) *Error {
	return &Error{Kind: KindMissingField, Code: CodeRequired, Field: field, Message: message}
}

func NotFound(what string) *Error {
	return &Error{Kind: KindNotFound, Message: what + " not found"}
}

// As returns the *Error in err's chain, if any.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsKind reports whether err carries an *Error of kind k.
func IsKind(err error, k Kind) bool {
	e, ok := As(err)
	return ok && e.Kind == k
}

// Status maps err to the HTTP status the transport layer responds with.
// Errors outside the taxonomy are server faults.
func Status(err error) int {
	e, ok := As(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch e.Kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindDuplicate:
		return http.StatusConflict
	case KindFileTooLarge:
		return http.StatusRequestEntityTooLarge
	case KindEncoding, KindTypeMismatch, KindMissingField, KindForbiddenChange,
		KindStateConflict, KindPolicyDenied, KindMissingFile, KindInvalidDate,
		KindIngestion, KindValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
