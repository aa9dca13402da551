package interview

import (
	"fmt"
	"strings"
)

// Mode selects how questions are chosen and whether feedback is immediate.
type Mode int

const (
	ModeSequential Mode = iota + 1
	ModeThematic
	ModeTimed
)

// ParseMode accepts the canonical names plus the aliases older clients send.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sequential", "question_by_question":
		return ModeSequential, nil
	case "thematic", "theme":
		return ModeThematic, nil
	case "timed", "timed_simulation", "full_interview":
		return ModeTimed, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidMode, s)
}

func (m Mode) String() string {
	switch m {
	case ModeSequential:
		return "sequential"
	case ModeThematic:
		return "thematic"
	case ModeTimed:
		return "timed"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeSequential, ModeThematic, ModeTimed:
		return true
	}
	return false
}

// ImmediateFeedback reports whether the coach comments on each answer.
// The timed simulation keeps every remark for the debrief.
func (m Mode) ImmediateFeedback() bool {
	switch m {
	case ModeSequential, ModeThematic:
		return true
	case ModeTimed:
		return false
	}
	return false
}

// AutoAdvance reports whether the next question follows an answer without
// the client choosing it.
func (m Mode) AutoAdvance() bool {
	switch m {
	case ModeSequential, ModeTimed:
		return true
	case ModeThematic:
		return false
	}
	return false
}
