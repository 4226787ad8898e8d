package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrCode represents an error code
type ErrCode string

const (
	ErrCodeTransport        ErrCode = "TRANSPORT"
	ErrCodeDecode           ErrCode = "DECODE"
	ErrCodeUnknownFlow      ErrCode = "UNKNOWN_FLOW"
	ErrCodeInvalidReference ErrCode = "INVALID_REFERENCE"
	ErrCodeExternalCommand  ErrCode = "EXTERNAL_COMMAND"
	ErrCodeInvalidArgument  ErrCode = "INVALID_ARGUMENT"
	ErrCodeConfig           ErrCode = "CONFIG"
	ErrCodeInternal         ErrCode = "INTERNAL_ERROR"
)

// AppError represents an application error
type AppError struct {
	Code    ErrCode
	Message string
	Err     error

	// StatusCode and Body are set for transport and decode failures.
	StatusCode int
	Body       string
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewTransportError creates an error for a non-success HTTP response
func NewTransportError(method, url string, status int, body string) *AppError {
	return &AppError{
		Code:       ErrCodeTransport,
		Message:    fmt.Sprintf("GitLab request failed: %s %s: %d %s", method, url, status, body),
		StatusCode: status,
		Body:       body,
	}
}

// NewDecodeError creates an error for a declared-JSON body that does not parse
func NewDecodeError(body string, err error) *AppError {
	return &AppError{
		Code:    ErrCodeDecode,
		Message: fmt.Sprintf("failed to parse JSON response: %q", body),
		Err:     err,
		Body:    body,
	}
}

// NewUnknownFlowError creates an error for an unregistered flow name
func NewUnknownFlowError(name string) *AppError {
	return &AppError{
		Code:    ErrCodeUnknownFlow,
		Message: fmt.Sprintf("Unknown flow: %s", name),
	}
}

// NewInvalidReferenceError creates an error for a malformed merge request URL
func NewInvalidReferenceError(ref string, reason string) *AppError {
	return &AppError{
		Code:    ErrCodeInvalidReference,
		Message: fmt.Sprintf("invalid merge request URL %q: %s", ref, reason),
	}
}

// NewExternalCommandError creates an error for a failed subprocess.
// Callers must redact message before passing it in.
func NewExternalCommandError(message string) *AppError {
	return &AppError{
		Code:    ErrCodeExternalCommand,
		Message: message,
	}
}

// NewInvalidArgumentError creates a new invalid argument error
func NewInvalidArgumentError(message string) *AppError {
	return &AppError{
		Code:    ErrCodeInvalidArgument,
		Message: message,
	}
}

// NewConfigError creates a new configuration error
func NewConfigError(message string) *AppError {
	return &AppError{
		Code:    ErrCodeConfig,
		Message: message,
	}
}

// NewInternalError creates a new internal error
func NewInternalError(message string, err error) *AppError {
	return &AppError{
		Code:    ErrCodeInternal,
		Message: message,
		Err:     err,
	}
}

// CodeOf returns the code of the first AppError in err's chain, or "" if there is none.
func CodeOf(err error) ErrCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// IsTransport checks if the error is a transport error
func IsTransport(err error) bool {
	return CodeOf(err) == ErrCodeTransport
}

// IsDecode checks if the error is a decode error
func IsDecode(err error) bool {
	return CodeOf(err) == ErrCodeDecode
}

// IsUnknownFlow checks if the error is an unknown flow error
func IsUnknownFlow(err error) bool {
	return CodeOf(err) == ErrCodeUnknownFlow
}

// IsInvalidReference checks if the error is an invalid reference error
func IsInvalidReference(err error) bool {
	return CodeOf(err) == ErrCodeInvalidReference
}

// IsExternalCommand checks if the error is an external command error
func IsExternalCommand(err error) bool {
	return CodeOf(err) == ErrCodeExternalCommand
}

// IsInvalidArgument checks if the error is an invalid argument error
func IsInvalidArgument(err error) bool {
	return CodeOf(err) == ErrCodeInvalidArgument
}

// IsConfig checks if the error is a configuration error
func IsConfig(err error) bool {
	return CodeOf(err) == ErrCodeConfig
}
