package auth

import "errors"

// Error vocabulary for identity operations. Handlers map these onto the
// user-facing strings via UserMessage.
var (
	ErrNotFound            = errors.New("auth: user not found")
	ErrBadCredential       = errors.New("auth: wrong password")
	ErrAlreadyRegistered   = errors.New("auth: email already in use")
	ErrMalformedIdentifier = errors.New("auth: invalid email")
	ErrWeakCredential      = errors.New("auth: weak password")
	ErrBadToken            = errors.New("auth: invalid or expired token")
)

// UserMessage converts an identity error into the string shown to the user.
func UserMessage(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "No account found with this email. Please sign up."
	case errors.Is(err, ErrBadCredential):
		return "Incorrect password. Please try again."
	case errors.Is(err, ErrAlreadyRegistered):
		return "This email is already registered. Try signing in."
	case errors.Is(err, ErrMalformedIdentifier):
		return "Please enter a valid email address."
	case errors.Is(err, ErrWeakCredential):
		return "Password must be at least 6 characters long."
	case errors.Is(err, ErrBadToken):
		return "Your session has expired. Please sign in again."
	}
	return "Authentication failed. Please try again."
}
