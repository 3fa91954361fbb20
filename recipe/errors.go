package recipe

import (
	"errors"
)

// BadInputError is returned for malformed requests. The app turns it into a
// 400 with the message as body.
type BadInputError struct {
	Message string
}

func (e *BadInputError) Error() string { return e.Message }

// NewBadInputError returns a *BadInputError.
func NewBadInputError(msg string) error {
	return &BadInputError{Message: msg}
}

// IsBadInput reports whether err wraps a *BadInputError.
func IsBadInput(err error) (*BadInputError, bool) {
	var bad *BadInputError
	if errors.As(err, &bad) {
		return bad, true
	}
	return nil, false
}

// UnauthorisedError is returned when a session is required but missing or
// invalid. The app turns it into a 401 and clears the session tokens when
// ClearTokens is set.
type UnauthorisedError struct {
	Message     string
	ClearTokens bool
}

func (e *UnauthorisedError) Error() string { return e.Message }

// NewUnauthorisedError returns an *UnauthorisedError that clears tokens.
func NewUnauthorisedError(msg string) error {
	return &UnauthorisedError{Message: msg, ClearTokens: true}
}

// IsUnauthorised reports whether err wraps an *UnauthorisedError.
func IsUnauthorised(err error) (*UnauthorisedError, bool) {
	var u *UnauthorisedError
	if errors.As(err, &u) {
		return u, true
	}
	return nil, false
}

// InvalidClaimError is returned when a session fails a claim check, such as
// an unverified email. The app turns it into a 403.
type InvalidClaimError struct {
	ClaimID string
	Message string
}

func (e *InvalidClaimError) Error() string { return e.Message }

// IsInvalidClaim reports whether err wraps an *InvalidClaimError.
func IsInvalidClaim(err error) (*InvalidClaimError, bool) {
	var c *InvalidClaimError
	if errors.As(err, &c) {
		return c, true
	}
	return nil, false
}
