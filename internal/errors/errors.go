package errors

import (
	stderrors "errors"
)

type ErrorCode string

const (
	CodeValidation      ErrorCode = "validation"
	CodeCredential      ErrorCode = "credential"
	CodeLedgerTransient ErrorCode = "ledger_transient"
	CodeLedgerRejection ErrorCode = "ledger_rejection"
	CodeSerialization   ErrorCode = "serialization"
	CodeConflict        ErrorCode = "conflict"
	CodeNotFound        ErrorCode = "not_found"
	CodeInternal        ErrorCode = "internal"
)

type ServiceError struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (se ServiceError) Error() string {
	if se.Err != nil && se.Message == "" {
		return se.Err.Error()
	}
	return se.Message
}

func (se ServiceError) Unwrap() error {
	return se.Err
}

// Is makes two service errors with the same code and message match, so that
// package level sentinels can be compared with errors.Is after wrapping.
func (se ServiceError) Is(target error) bool {
	t, ok := target.(ServiceError)
	if !ok {
		return false
	}
	return t.Code == se.Code && t.Message == se.Message
}

func Validation(message string) ServiceError {
	return ServiceError{Code: CodeValidation, Message: message}
}

func Credential(message string) ServiceError {
	return ServiceError{Code: CodeCredential, Message: message}
}

func Conflict(message string) ServiceError {
	return ServiceError{Code: CodeConflict, Message: message}
}

func NotFound(message string) ServiceError {
	return ServiceError{Code: CodeNotFound, Message: message}
}

// LedgerTransient wraps a lookup failure that is worth retrying.
func LedgerTransient(message string, err error) ServiceError {
	return ServiceError{Code: CodeLedgerTransient, Message: message, Err: err}
}

// LedgerRejection marks a confirmed transaction that does not match what the
// checkout expected. It must never be retried.
func LedgerRejection(message string) ServiceError {
	return ServiceError{Code: CodeLedgerRejection, Message: message}
}

func Serialization(message string, err error) ServiceError {
	return ServiceError{Code: CodeSerialization, Message: message, Err: err}
}

// Internal marks a server-side fault. It takes precedence over any code
// further down err's chain, so a failure on data the server produced is
// never reported as the client's.
func Internal(message string, err error) ServiceError {
	return ServiceError{Code: CodeInternal, Message: message, Err: err}
}

// CodeOf returns the code of the first ServiceError in err's chain.
func CodeOf(err error) (ErrorCode, bool) {
	var se ServiceError
	if stderrors.As(err, &se) {
		return se.Code, true
	}
	return "", false
}

func HasCode(err error, code ErrorCode) bool {
	c, ok := CodeOf(err)
	return ok && c == code
}

func IsValidation(err error) bool      { return HasCode(err, CodeValidation) }
func IsCredential(err error) bool      { return HasCode(err, CodeCredential) }
func IsLedgerTransient(err error) bool { return HasCode(err, CodeLedgerTransient) }
func IsLedgerRejection(err error) bool { return HasCode(err, CodeLedgerRejection) }
func IsSerialization(err error) bool   { return HasCode(err, CodeSerialization) }
func IsConflict(err error) bool        { return HasCode(err, CodeConflict) }
func IsNotFound(err error) bool        { return HasCode(err, CodeNotFound) }
func IsInternal(err error) bool        { return HasCode(err, CodeInternal) }
