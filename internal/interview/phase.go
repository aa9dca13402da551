package interview

import "fmt"

// Phase is the state of a Session.
//
// AwaitingAnswer and Feedback together form the question loop: a question is
// open in AwaitingAnswer, and Feedback is the gap between questions.
type Phase int

const (
	PhaseCreated Phase = iota
	PhaseAwaitingPresentation
	PhaseAwaitingAnswer
	PhaseFeedback
	PhaseDebriefed
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseCreated:
		return "created"
	case PhaseAwaitingPresentation:
		return "awaiting_presentation"
	case PhaseAwaitingAnswer:
		return "awaiting_answer"
	case PhaseFeedback:
		return "feedback"
	case PhaseDebriefed:
		return "debriefed"
	case PhaseClosed:
		return "closed"
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}
