package domain

import (
	"errors"
	"fmt"
)

// ErrInvalidCredentials means the conversation id or token is missing.
// A source fails fast with it and never starts its loop.
var ErrInvalidCredentials = errors.New("missing conversation id or token")

// ErrUnsupportedCapability means a speech capability is not available in
// this environment (e.g. no API key configured). Reported once; the feature
// degrades to a no-op.
var ErrUnsupportedCapability = errors.New("capability unavailable")

// RemoteError is a network or HTTP failure from the remote conversation
// endpoint. It is reported for observability but never stops a polling loop.
type RemoteError struct {
	Status int
	Reason string
}

func (e *RemoteError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("remote error (status %d): %s", e.Status, e.Reason)
	}
	return "remote error: " + e.Reason
}

// ObservationError means the observed widget subtree is not available yet
// (the container never appeared, or the page is mid-navigation). Retried
// with backoff; never fatal.
type ObservationError struct {
	Target string
	Err    error
}

func (e *ObservationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("cannot observe %q: %v", e.Target, e.Err)
	}
	return fmt.Sprintf("cannot observe %q: container not present", e.Target)
}

func (e *ObservationError) Unwrap() error { return e.Err }
