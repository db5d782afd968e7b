package provider

import (
	"errors"
	"fmt"
	"time"

	"github.com/plumwheel/ragnos-vault/pkg/capability"
)

// Code classifies a provider failure. The set is closed: every error that
// crosses a capability or registry boundary carries exactly one Code, and
// each Code has a fixed retryability that callers can rely on for their
// retry/backoff logic.
type Code string

const (
	CodeInvalidConfig         Code = "INVALID_CONFIG"
	CodeAuthFailure           Code = "AUTH_FAILURE"
	CodePermissionDenied      Code = "PERMISSION_DENIED"
	CodeNotFound              Code = "NOT_FOUND"
	CodeAlreadyExists         Code = "ALREADY_EXISTS"
	CodeQuotaExceeded         Code = "QUOTA_EXCEEDED"
	CodeThrottled             Code = "THROTTLED"
	CodeTransientNetwork      Code = "TRANSIENT_NETWORK"
	CodeDeadlineExceeded      Code = "DEADLINE_EXCEEDED"
	CodeUnsupportedCapability Code = "UNSUPPORTED_CAPABILITY"
	CodeDataIntegrity         Code = "DATA_INTEGRITY"
	CodeInternal              Code = "INTERNAL"
)

// retryableCodes is the fixed retryability table. Codes absent from the map
// are non-retryable.
var retryableCodes = map[Code]bool{
	CodeThrottled:        true,
	CodeTransientNetwork: true,
	CodeDeadlineExceeded: true,
}

// Retryable reports whether the code's class of failure may succeed on retry.
func (c Code) Retryable() bool {
	return retryableCodes[c]
}

// Error is the typed failure surfaced by capability and registry operations.
// It records which provider failed, the operation, and the type name of the
// causing error so logs can distinguish SDK failures from local ones.
type Error struct {
	Code      Code
	Provider  string
	Op        string
	Message   string
	Timestamp time.Time
	CauseType string
	cause     error
}

// NewError builds a typed provider error wrapping cause (which may be nil).
func NewError(code Code, providerName, op, message string, cause error) *Error {
	e := &Error{
		Code:      code,
		Provider:  providerName,
		Op:        op,
		Message:   message,
		Timestamp: time.Now().UTC(),
		cause:     cause,
	}
	if cause != nil {
		e.CauseType = fmt.Sprintf("%T", cause)
	}
	return e
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s %s: %s", e.Code, e.Provider, e.Op, e.Message)
	if e.cause != nil {
		msg += ": " + e.cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Retryable reports whether this error's code is retryable.
func (e *Error) Retryable() bool {
	return e.Code.Retryable()
}

// CodeOf extracts the Code from err. Capability model errors map onto
// UNSUPPORTED_CAPABILITY, context deadline expiry onto DEADLINE_EXCEEDED,
// anything untyped onto INTERNAL.
func CodeOf(err error) Code {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	var ue *capability.UnsupportedError
	if errors.As(err, &ue) {
		return CodeUnsupportedCapability
	}
	if errors.Is(err, ErrDeadlineExceeded) {
		return CodeDeadlineExceeded
	}
	return CodeInternal
}

// IsRetryable reports whether err carries a retryable code.
func IsRetryable(err error) bool {
	return CodeOf(err).Retryable()
}

// ErrDeadlineExceeded is returned by deadline checks on an expired Context.
var ErrDeadlineExceeded = errors.New("provider context deadline exceeded")
