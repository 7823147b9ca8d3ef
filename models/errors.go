package models

import (
	"errors"
	"fmt"
)

var (
	// ErrMetadataUnavailable means the vision collaborator could not produce a
	// usable proposal.
	ErrMetadataUnavailable = errors.New("metadata unavailable")
	// ErrQuotaExceeded means the vision collaborator throttled the request.
	ErrQuotaExceeded = errors.New("quota exceeded")
	// ErrSetup means the browser automation collaborator cannot be reached.
	ErrSetup = errors.New("automation setup failed")
	// ErrAuthenticationRequired is returned by a browser that detects a login
	// prompt it cannot handle on its own.
	ErrAuthenticationRequired = errors.New("authentication required")
)

// StageError is a transport failure tied to a submission stage.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
