package errors

import "errors"

type Category string

const (
	CategoryMalformedInput     Category = "malformed_input"
	CategoryCryptographic      Category = "cryptographic_failure"
	CategoryExpiredDeclaration Category = "expired_declaration"
	CategoryNetworkFailure     Category = "network_failure"
	CategoryConflictingState   Category = "conflicting_state"
	CategoryServiceUnavailable Category = "service_unavailable"
	CategoryIntegrityViolation Category = "integrity_violation"
	CategoryInternalFailure    Category = "internal_failure"
)

type classifiedError struct {
	category  Category
	code      string
	hint      string
	retryable bool
	cause     error
}

func (e *classifiedError) Error() string {
	if e.cause == nil {
		return "unknown error"
	}
	return e.cause.Error()
}

func (e *classifiedError) Unwrap() error {
	return e.cause
}

func Wrap(cause error, category Category, code, hint string, retryable bool) error {
	if cause == nil {
		return nil
	}
	return &classifiedError{
		category:  category,
		code:      code,
		hint:      hint,
		retryable: retryable,
		cause:     cause,
	}
}

func New(message string, category Category, code, hint string, retryable bool) error {
	return Wrap(errors.New(message), category, code, hint, retryable)
}

func CategoryOf(err error) Category {
	var classified *classifiedError
	if errors.As(err, &classified) {
		return classified.category
	}
	return ""
}

func CodeOf(err error) string {
	var classified *classifiedError
	if errors.As(err, &classified) {
		return classified.code
	}
	return ""
}

func HintOf(err error) string {
	var classified *classifiedError
	if errors.As(err, &classified) {
		return classified.hint
	}
	return ""
}

func RetryableOf(err error) bool {
	var classified *classifiedError
	if errors.As(err, &classified) {
		return classified.retryable
	}
	return false
}
