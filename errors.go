package authkit

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode classifies failures returned across the Authenticating contract.
type ErrorCode string

const (
	ErrCodeUnsupportedProvider       ErrorCode = "unsupported_provider"
	ErrCodePresentingViewUnavailable ErrorCode = "presenting_view_unavailable"
	ErrCodeProviderCancelled         ErrorCode = "provider_cancelled"
	ErrCodeExchangeFailed            ErrorCode = "exchange_failed"
	ErrCodeMalformedCredential       ErrorCode = "malformed_credential"
	ErrCodeNoCurrentUser             ErrorCode = "no_current_user"
	ErrCodeSignOutFailed             ErrorCode = "sign_out_failed"
	ErrCodeRevocationFailed          ErrorCode = "revocation_failed"
	ErrCodeNotImplemented            ErrorCode = "not_implemented"
	ErrCodeTokenUnavailable          ErrorCode = "token_unavailable"
	ErrCodeRequestFailed             ErrorCode = "request_failed"
)

// AuthError is the only error type adapters return from contract operations.
// Backend errors are folded into Message; they are not unwrappable.
type AuthError struct {
	Code    ErrorCode
	Message string
}

// NewAuthError creates an AuthError with the given code and message.
func NewAuthError(code ErrorCode, msg string) *AuthError {
	return &AuthError{Code: code, Message: msg}
}

// Errorf creates an AuthError with a formatted message.
// A %w verb is formatted like %v and does not wrap.
func Errorf(code ErrorCode, format string, args ...any) *AuthError {
	format = strings.ReplaceAll(format, "%w", "%v")
	return &AuthError{Code: code, Message: fmt.Sprintf(format, args...)}
}

func (e *AuthError) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return string(e.Code) + ": " + e.Message
}

// Is matches any AuthError carrying the same code, so the sentinels below
// work with errors.Is.
func (e *AuthError) Is(target error) bool {
	t, ok := target.(*AuthError)
	return ok && t.Code == e.Code
}

var (
	ErrUnsupportedProvider       = &AuthError{Code: ErrCodeUnsupportedProvider}
	ErrPresentingViewUnavailable = &AuthError{Code: ErrCodePresentingViewUnavailable}
	ErrProviderCancelled         = &AuthError{Code: ErrCodeProviderCancelled}
	ErrExchangeFailed            = &AuthError{Code: ErrCodeExchangeFailed}
	ErrMalformedCredential       = &AuthError{Code: ErrCodeMalformedCredential}
	ErrNoCurrentUser             = &AuthError{Code: ErrCodeNoCurrentUser}
	ErrSignOutFailed             = &AuthError{Code: ErrCodeSignOutFailed}
	ErrRevocationFailed          = &AuthError{Code: ErrCodeRevocationFailed}
	ErrNotImplemented            = &AuthError{Code: ErrCodeNotImplemented}
	ErrTokenUnavailable          = &AuthError{Code: ErrCodeTokenUnavailable}
	ErrRequestFailed             = &AuthError{Code: ErrCodeRequestFailed}
)

// CodeOf returns the ErrorCode carried by err, or "" if err is not an AuthError.
func CodeOf(err error) ErrorCode {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}

// IsNotImplemented reports whether err is a declared capability gap.
func IsNotImplemented(err error) bool {
	return errors.Is(err, ErrNotImplemented)
}

// IsCancelled reports whether the user dismissed a provider flow.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrProviderCancelled)
}
