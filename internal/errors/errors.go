package errors

import (
	stdErrors "errors"
	"fmt"
	"strings"
)

type Code string

const (
	CodeMalformedRecord     Code = "MALFORMED_SOURCE_RECORD"
	CodeConnection          Code = "CONNECTION_ERROR"
	CodePublish             Code = "PUBLISH_ERROR"
	CodeWrite               Code = "WRITE_ERROR"
	CodeConstraintViolation Code = "CONSTRAINT_VIOLATION"
	CodeInternal            Code = "INTERNAL_ERROR"
)

// Metadata describes how the pipeline reacts to a code.
type Metadata struct {
	// Retryable errors are retried at the call site under the retry policy.
	Retryable bool
	// Fatal errors stop the affected worker.
	Fatal bool
}

var metadataByCode = map[Code]Metadata{
	CodeMalformedRecord:     {Retryable: false, Fatal: false},
	CodeConnection:          {Retryable: false, Fatal: true},
	CodePublish:             {Retryable: true, Fatal: false},
	CodeWrite:               {Retryable: true, Fatal: false},
	CodeConstraintViolation: {Retryable: false, Fatal: true},
	CodeInternal:            {Retryable: false, Fatal: true},
}

func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeInternal]
}

// Error is the pipeline error type. Kind, BatchID and Keys are optional
// context that ends up in the message of fatal errors.
type Error struct {
	code    Code
	message string
	cause   error

	Kind    string
	BatchID string
	Keys    []string
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Newf(code Code, format string, args ...any) *Error {
	return &Error{code: code, message: fmt.Sprintf(format, args...)}
}

func Wrap(code Code, err error, message string) *Error {
	if err == nil {
		return New(code, message)
	}
	return &Error{code: code, message: message, cause: err}
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

// WithBatch attaches the entity kind, batch id and failing keys.
func (e *Error) WithBatch(kind, batchID string, keys []string) *Error {
	if e == nil {
		return nil
	}
	e.Kind = kind
	e.BatchID = batchID
	e.Keys = keys
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", e.code, e.message)
	if e.Kind != "" {
		fmt.Fprintf(&b, " [kind=%s", e.Kind)
		if e.BatchID != "" {
			fmt.Fprintf(&b, " batch=%s", e.BatchID)
		}
		if len(e.Keys) > 0 {
			fmt.Fprintf(&b, " keys=%s", summarizeKeys(e.Keys, 10))
		}
		b.WriteString("]")
	}
	if e.cause != nil {
		fmt.Fprintf(&b, ": %v", e.cause)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// As returns the outermost *Error in err's chain.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var typed *Error
	if stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

// IsCode reports whether any *Error in err's chain carries code.
func IsCode(err error, code Code) bool {
	for err != nil {
		var typed *Error
		if !stdErrors.As(err, &typed) {
			return false
		}
		if typed.code == code {
			return true
		}
		err = typed.cause
	}
	return false
}

// IsRetryable reports whether the outermost pipeline error may be retried.
// Errors outside the taxonomy are not retryable.
func IsRetryable(err error) bool {
	typed := As(err)
	if typed == nil {
		return false
	}
	return MetadataFor(typed.code).Retryable
}

func summarizeKeys(keys []string, limit int) string {
	if len(keys) <= limit {
		return strings.Join(keys, ",")
	}
	return fmt.Sprintf("%s,…(+%d)", strings.Join(keys[:limit], ","), len(keys)-limit)
}
