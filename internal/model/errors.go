package model

import "github.com/pkg/errors"

// Error kinds. Callers attach context with errors.Wrapf and match with errors.Is.
var (
	// ErrConfiguration means a required file or runtime is unavailable at startup.
	ErrConfiguration = errors.New("configuration error")
	// ErrWeightMismatch means the checkpoint does not fit the network.
	ErrWeightMismatch = errors.New("weight mismatch")
	// ErrInvalidInput means the caller supplied something that is not a usable image.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInference means the forward pass failed on an accepted input.
	ErrInference = errors.New("inference failed")
)

// kindError tags cause with an error kind. errors.Is matches the kind, but the
// message is the cause alone.
type kindError struct {
	kind  error
	cause error
}

func withKind(kind, cause error) error {
	return &kindError{kind: kind, cause: cause}
}

func (e *kindError) Error() string { return e.cause.Error() }

func (e *kindError) Unwrap() error { return e.cause }

func (e *kindError) Is(target error) bool { return target == e.kind }
