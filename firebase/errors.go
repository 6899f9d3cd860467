package firebase

import (
	"errors"

	"github.com/panyam/authkit"
)

// Backend error codes.
const (
	CodeEmailNotFound       = "EMAIL_NOT_FOUND"
	CodeUserNotFound        = "USER_NOT_FOUND"
	CodeInvalidPassword     = "INVALID_PASSWORD"
	CodeInvalidIDPResponse  = "INVALID_IDP_RESPONSE"
	CodeInvalidCredential   = "INVALID_CREDENTIAL"
	CodeInvalidEmail        = "INVALID_EMAIL"
	CodeWeakPassword        = "WEAK_PASSWORD"
	CodeEmailExists         = "EMAIL_EXISTS"
	CodeCredentialInUse     = "CREDENTIAL_ALREADY_IN_USE"
	CodeRequiresRecentAuth  = "CREDENTIAL_TOO_OLD_LOGIN_AGAIN"
	CodeTokenExpired        = "TOKEN_EXPIRED"
	CodeUserDisabled        = "USER_DISABLED"
	CodeNoCurrentUser       = "NO_CURRENT_USER"
	CodeNoSuchProvider      = "NO_SUCH_PROVIDER"
	CodeOperationNotAllowed = "OPERATION_NOT_ALLOWED"
	CodeInvalidOOBCode      = "INVALID_OOB_CODE"
	CodeProviderLinked      = "PROVIDER_ALREADY_LINKED"
	CodeUserMismatch        = "USER_MISMATCH"
)

// Error is an error reported by the backend.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" || e.Message == e.Code {
		return "firebase: " + e.Code
	}
	return "firebase: " + e.Code + ": " + e.Message
}

// NewError creates a backend error.
func NewError(code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// ErrorCode returns the backend code carried by err, or "".
func ErrorCode(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}

func isUserNotFound(err error) bool {
	switch ErrorCode(err) {
	case CodeEmailNotFound, CodeUserNotFound:
		return true
	}
	return false
}

// classify folds a backend error into the authkit taxonomy. fallback is the
// kind used for failures that have no more specific kind, including a
// backend rejecting a credential.
func classify(err error, fallback authkit.ErrorCode) error {
	if err == nil {
		return nil
	}
	var ae *authkit.AuthError
	if errors.As(err, &ae) {
		return ae
	}
	switch ErrorCode(err) {
	case CodeNoCurrentUser:
		return authkit.Errorf(authkit.ErrCodeNoCurrentUser, "%v", err)
	case CodeTokenExpired:
		return authkit.Errorf(authkit.ErrCodeTokenUnavailable, "%v", err)
	case CodeOperationNotAllowed:
		return authkit.Errorf(authkit.ErrCodeUnsupportedProvider, "%v", err)
	}
	return authkit.Errorf(fallback, "%v", err)
}
