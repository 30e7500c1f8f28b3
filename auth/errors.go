package auth

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	CodeProviderNotFound      ErrorCode = "AUTH_PROVIDER_NOT_FOUND"
	CodeProviderNotInjectable ErrorCode = "AUTH_PROVIDER_NOT_INJECTABLE"
	CodeUnauthorized          ErrorCode = "AUTH_UNAUTHORIZED"
	CodeStateMismatch         ErrorCode = "AUTH_STATE_MISMATCH"
	CodeLoginUnauthorized     ErrorCode = "LOGIN_UNAUTHORIZED"
	CodeUnknown               ErrorCode = "UNKNOWN_ERROR"
)

var (
	ErrProviderNotFound      = errors.New("auth provider not found")
	ErrProviderNotInjectable = errors.New("auth provider not injectable")
	ErrAuthFailed            = errors.New("authentication failed")
	ErrNotLoggedIn           = errors.New("user not logged in")
)

// ProviderError reports a failed authentication attempt against one provider.
type ProviderError struct {
	ProviderID string
	Code       ErrorCode
	Err        error // one of the sentinels above
	Cause      error
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("provider %q: %v", e.ProviderID, e.Err)
	if e.Code != "" && e.Err == ErrAuthFailed {
		msg += " (" + string(e.Code) + ")"
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

func (e *ProviderError) ErrorCode() ErrorCode {
	return e.Code
}

// APIError is implemented by errors that already carry a code, such as the
// typed errors returned by the remote session client.
type APIError interface {
	error
	ErrorCode() ErrorCode
}

// CodeOf normalizes err to an ErrorCode. Errors without a code are UNKNOWN_ERROR.
func CodeOf(err error) ErrorCode {
	var coded APIError
	if errors.As(err, &coded) && coded.ErrorCode() != "" {
		return coded.ErrorCode()
	}
	return CodeUnknown
}
