package interview

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidMode is returned by ParseMode and Prepare for an unknown mode.
	ErrInvalidMode = errors.New("interview: invalid mode")
	// ErrEmptyDossier means there are no prepared questions and no fallback set.
	ErrEmptyDossier = errors.New("interview: no questions available")
	// ErrInvalidPhase is matched by every *PhaseError.
	ErrInvalidPhase = errors.New("interview: operation not allowed in current phase")
	// ErrSessionClosed is returned by structural operations after End.
	ErrSessionClosed = errors.New("interview: session closed")
	// ErrPoolExhausted signals that every prepared question has been asked.
	ErrPoolExhausted = errors.New("interview: question pool exhausted")
	// ErrThemeExhausted signals that the selected theme has no unasked question left.
	ErrThemeExhausted = errors.New("interview: no questions left in theme")
	// ErrTimeBudgetExhausted ends a timed simulation.
	ErrTimeBudgetExhausted = errors.New("interview: time budget exhausted")
	// ErrUnknownTheme is returned when a theme does not exist in the pool.
	ErrUnknownTheme = errors.New("interview: unknown theme")
	// ErrQuestionUnavailable is returned when a named question is unknown or already asked.
	ErrQuestionUnavailable = errors.New("interview: question unavailable")
	// ErrEmptyTurn rejects blank candidate or coach text.
	ErrEmptyTurn = errors.New("interview: empty turn")
	// ErrNotFound is returned by the Store for an unknown session id.
	ErrNotFound = errors.New("interview: session not found")
)

// PhaseError describes an operation attempted in a phase that does not allow it.
type PhaseError struct {
	Op    string
	Phase Phase
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("interview: %s not allowed in phase %s", e.Op, e.Phase)
}

func (e *PhaseError) Is(target error) bool { return target == ErrInvalidPhase }

// IsCompletion reports whether err is one of the normal end-of-questions signals.
func IsCompletion(err error) bool {
	return errors.Is(err, ErrPoolExhausted) || errors.Is(err, ErrTimeBudgetExhausted)
}
