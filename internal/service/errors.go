package service

import "errors"

var (
	// ErrInvalidCredentials deliberately covers both "no such user" and
	// "wrong password" so responses cannot be used to probe for accounts.
	ErrInvalidCredentials = errors.New("invalid username or password")

	// ErrInvalidToken covers expired, malformed or unknown-session tokens on
	// the refresh path.
	ErrInvalidToken = errors.New("invalid token")

	ErrTooManySessions = errors.New("maximum concurrent sessions reached")

	// ErrCooldownActive signals the abuse guard's exponential backoff on
	// repeated authentication failures.
	ErrCooldownActive = errors.New("too many failed attempts, retry later")

	// ErrPasswordMismatch is the single generic failure for every
	// change-password validation branch.
	ErrPasswordMismatch = errors.New("password confirmation failed")

	// ErrSessionStore wraps persistence faults on session write paths; the
	// underlying cause is logged server-side only.
	ErrSessionStore = errors.New("session storage unavailable")
)
