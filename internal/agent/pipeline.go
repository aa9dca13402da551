package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nicolascatez-wq/xhec-interview-coach/internal/interview"
	"github.com/nicolascatez-wq/xhec-interview-coach/internal/llm"
)

// chunkReply splits a reply into sentence-like chunks so synthesis can start
// on the first sentence while the rest is still queued.
// Heuristic: split on '.', '?', '!' and newlines, retaining punctuation.
func chunkReply(reply string) []string {
	txt := strings.TrimSpace(reply)
	if txt == "" {
		return nil
	}
	var chunks []string
	var b strings.Builder
	flush := func() {
		chunk := strings.TrimSpace(b.String())
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		b.Reset()
	}
	for _, r := range txt {
		switch r {
		case '.', '!', '?':
			b.WriteRune(r)
			flush()
		case '\n', '\r':
			flush()
		default:
			b.WriteRune(r)
		}
	}
	flush()
	return chunks
}

// Pipeline generates the reply text with an LLM, then synthesizes it
// sentence by sentence.
type Pipeline struct {
	LLM LLM
	// TTS may be nil; replies are then text only.
	TTS TTS
	// GenerateTimeout bounds the text generation step only.
	GenerateTimeout time.Duration
}

// ConversationMessages maps the interview history onto chat roles behind a
// system message carrying instructions.
func ConversationMessages(history []interview.Turn, instructions string) []llm.Message {
	msgs := make([]llm.Message, 0, len(history)+1)
	if instructions != "" {
		msgs = append(msgs, llm.System(instructions))
	}
	for _, t := range history {
		switch t.Role {
		case interview.RoleCoach:
			msgs = append(msgs, llm.Assistant(t.Text))
		case interview.RoleCandidate:
			msgs = append(msgs, llm.User(t.Text))
		}
	}
	return msgs
}

func (p *Pipeline) GenerateReply(ctx context.Context, history []interview.Turn, instructions string) (*Reply, error) {
	if p.LLM == nil {
		return nil, &llm.Error{Provider: "pipeline", Err: fmt.Errorf("no language backend configured")}
	}
	genCtx := ctx
	if p.GenerateTimeout > 0 {
		var cancel context.CancelFunc
		genCtx, cancel = context.WithTimeout(ctx, p.GenerateTimeout)
		defer cancel()
	}
	text, err := p.LLM.Generate(genCtx, ConversationMessages(history, instructions))
	if err != nil {
		return nil, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, &llm.Error{Provider: "pipeline", Err: fmt.Errorf("empty reply")}
	}
	return p.Speak(ctx, text), nil
}

func (p *Pipeline) Speak(ctx context.Context, text string) *Reply {
	audioCh := make(chan []byte, 64)
	errCh := make(chan error, 1)
	r := &Reply{Text: text, Audio: audioCh, Err: errCh}
	go func() {
		defer close(audioCh)
		defer close(errCh)
		if p.TTS == nil {
			return
		}
		for _, chunk := range chunkReply(text) {
			if ctx.Err() != nil {
				return
			}
			pcmCh, ttsErr := p.TTS.StreamPCM(ctx, chunk)
			for pcmCh != nil || ttsErr != nil {
				select {
				case b, ok := <-pcmCh:
					if !ok {
						pcmCh = nil
						continue
					}
					if len(b) == 0 {
						continue
					}
					select {
					case audioCh <- b:
					case <-ctx.Done():
						return
					}
				case e, ok := <-ttsErr:
					if !ok {
						ttsErr = nil
						continue
					}
					if e != nil {
						select {
						case errCh <- e:
						default:
						}
					}
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return r
}
