package transcript

import (
	"errors"
	"fmt"
)

// ErrTranscription is matched by every *Error.
var ErrTranscription = errors.New("transcript: transcription failed")

// Error wraps a transcription backend failure.
type Error struct {
	Provider string
	Err      error
}

func (e *Error) Error() string { return fmt.Sprintf("transcript: %s: %v", e.Provider, e.Err) }

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == ErrTranscription }

func newErr(provider, format string, args ...any) error {
	return &Error{Provider: provider, Err: fmt.Errorf(format, args...)}
}
