package queue

import "errors"

// ErrInvalidTransition is returned when an operator action is not valid from
// the entry's current state (for example retrying a completed entry). The
// control layer maps this to a conflict response; it is never silently
// swallowed.
var ErrInvalidTransition = errors.New("invalid queue transition")

// ErrJobNotFound is returned when a referenced media job does not exist.
var ErrJobNotFound = errors.New("media job not found")

// ErrSessionNotFound is returned when a referenced guest session does not exist.
var ErrSessionNotFound = errors.New("guest session not found")
