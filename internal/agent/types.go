package agent

import (
	"context"

	"github.com/nicolascatez-wq/xhec-interview-coach/internal/interview"
	"github.com/nicolascatez-wq/xhec-interview-coach/internal/llm"
)

// Transcriber turns one recorded candidate turn (mono PCM16LE) into text.
type Transcriber interface {
	Transcribe(ctx context.Context, pcm []byte) (string, error)
}

// LLM generates a single reply for a chat conversation.
type LLM interface {
	Generate(ctx context.Context, msgs []llm.Message) (string, error)
}

// TTS streams mono PCM16LE audio at the session sample rate for the given text.
type TTS interface {
	StreamPCM(ctx context.Context, text string) (<-chan []byte, <-chan error)
}

// Reply is a coach utterance whose text is known and whose audio is still
// being produced. Audio is closed when synthesis ends or the context is cancelled.
type Reply struct {
	Text  string
	Audio <-chan []byte
	Err   <-chan error
}

// ReplyGenerator produces coach replies. Cancelling ctx stops generation and synthesis.
type ReplyGenerator interface {
	GenerateReply(ctx context.Context, history []interview.Turn, instructions string) (*Reply, error)
	Speak(ctx context.Context, text string) *Reply
}

// Sink receives the events an orchestrator emits towards the client.
type Sink interface {
	SendAudio(pcm []byte) error
	SendTranscript(role, text string) error
	SendStatus(status string) error
	SendError(message string) error
}

// Transcript roles as seen by the client.
const (
	RoleAssistant = "assistant"
	RoleUser      = "user"
)

// Status values sent to the client.
const (
	StatusReady             = "ready"
	StatusSpeaking          = "speaking"
	StatusListening         = "listening"
	StatusInterrupted       = "interrupted"
	StatusBargeIn           = "barge_in"
	StatusAwaitingSelection = "awaiting_selection"
	StatusDebriefReady      = "debrief_ready"
	StatusEnded             = "ended"
)
