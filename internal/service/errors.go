package service

import "errors"

// Rotation outcomes. Every error except ErrInvalidCredential and
// ErrStoreUnavailable is returned only after the family has been revoked.
var (
	ErrInvalidCredential = errors.New("invalid refresh credential")
	ErrUnknownCredential = errors.New("unknown refresh credential")
	ErrReplayDetected    = errors.New("refresh credential replay detected")
	ErrTampered          = errors.New("refresh credential tampered")
	ErrDeviceMismatch    = errors.New("refresh credential device mismatch")
	ErrIPMismatch        = errors.New("refresh credential ip mismatch")
	ErrBindingMismatch   = errors.New("refresh credential subject binding mismatch")
	ErrStoreUnavailable  = errors.New("credential store unavailable")
	ErrInvalidSubject    = errors.New("subject must not be empty")
)

// IsAuthFailure reports whether err should send the caller back to login.
func IsAuthFailure(err error) bool {
	return errors.Is(err, ErrInvalidCredential) ||
		errors.Is(err, ErrUnknownCredential) ||
		errors.Is(err, ErrReplayDetected) ||
		errors.Is(err, ErrTampered) ||
		errors.Is(err, ErrDeviceMismatch) ||
		errors.Is(err, ErrIPMismatch) ||
		errors.Is(err, ErrBindingMismatch)
}
