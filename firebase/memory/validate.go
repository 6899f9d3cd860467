package memory

import (
	"regexp"

	"github.com/panyam/authkit/firebase"
)

// MinPasswordLength is the shortest password the backend accepts.
const MinPasswordLength = 6

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

func validateEmail(email string) error {
	if !emailRegex.MatchString(email) {
		return firebase.NewError(firebase.CodeInvalidEmail, "invalid email format")
	}
	return nil
}

func validatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return firebase.NewError(firebase.CodeWeakPassword, "password should be at least 6 characters")
	}
	return nil
}
