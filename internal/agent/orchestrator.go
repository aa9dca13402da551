package agent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nicolascatez-wq/xhec-interview-coach/internal/audio"
	"github.com/nicolascatez-wq/xhec-interview-coach/internal/barge"
	"github.com/nicolascatez-wq/xhec-interview-coach/internal/interview"
)

// Config tunes an Orchestrator.
type Config struct {
	Format audio.Format
	// QueueSize bounds committed turns waiting for the worker.
	QueueSize int
	// TranscribeTimeout bounds one transcription call.
	TranscribeTimeout time.Duration
	// Barge enables server-side interruption when the candidate talks over the coach.
	Barge *barge.Detector
}

type job struct {
	pcm   []byte
	speak string
}

// Orchestrator runs the voice turns of one session: it buffers incoming
// audio, transcribes committed turns, records them, and streams the coach's
// reply back, honouring interrupts.
//
// OnAudio, OnCommit, OnInterrupt and OnEnd are meant to be called from the
// connection's reader; committed turns run on a single worker so turns of a
// session never overlap.
type Orchestrator struct {
	sess   *interview.Session
	tr     Transcriber
	gen    ReplyGenerator
	sink   Sink
	cfg    Config
	framer *audio.Framer

	ctx    context.Context
	cancel context.CancelFunc
	jobs   chan job
	done   chan struct{}

	mu          sync.Mutex
	buf         []byte
	started     bool
	ended       bool
	speaking    bool
	interrupted bool
	replyCancel context.CancelFunc
}

// NewOrchestrator binds a session to its backends and client sink.
func NewOrchestrator(sess *interview.Session, tr Transcriber, gen ReplyGenerator, sink Sink, cfg Config) *Orchestrator {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 8
	}
	if cfg.TranscribeTimeout <= 0 {
		cfg.TranscribeTimeout = 30 * time.Second
	}
	if cfg.Format.SampleRate <= 0 {
		cfg.Format = audio.DefaultFormat()
	}
	return &Orchestrator{
		sess:   sess,
		tr:     tr,
		gen:    gen,
		sink:   sink,
		cfg:    cfg,
		framer: audio.NewFramer(cfg.Format),
		jobs:   make(chan job, cfg.QueueSize),
		done:   make(chan struct{}),
	}
}

// Start launches the worker. A non-empty opening is spoken first; otherwise
// the client is told the coach is ready. Start must be called once.
func (o *Orchestrator) Start(ctx context.Context, opening string) {
	o.mu.Lock()
	o.started = true
	o.ctx, o.cancel = context.WithCancel(ctx)
	o.mu.Unlock()
	go o.run()
	if opening != "" {
		o.jobs <- job{speak: opening}
		return
	}
	_ = o.sink.SendStatus(StatusReady)
}

// Done is closed when the worker has stopped.
func (o *Orchestrator) Done() <-chan struct{} { return o.done }

func (o *Orchestrator) run() {
	defer close(o.done)
	for {
		select {
		case <-o.ctx.Done():
			return
		case j := <-o.jobs:
			if j.speak != "" {
				o.speakTurn(j.speak)
				continue
			}
			o.handleTurn(j.pcm)
		}
	}
}

// OnAudio appends a decoded frame to the current turn.
func (o *Orchestrator) OnAudio(pcm []byte) {
	o.mu.Lock()
	if o.ended {
		o.mu.Unlock()
		return
	}
	o.buf = append(o.buf, pcm...)
	speaking := o.speaking
	o.mu.Unlock()

	if speaking && o.cfg.Barge != nil && o.cfg.Barge.Feed(pcm) {
		log.Printf("[%s] barge-in detected", o.sess.ID())
		_ = o.sink.SendStatus(StatusBargeIn)
		o.OnInterrupt()
	}
}

// OnCommit closes the current recording and queues it for processing.
func (o *Orchestrator) OnCommit() {
	o.mu.Lock()
	if o.ended {
		o.mu.Unlock()
		return
	}
	pcm := o.buf
	o.buf = nil
	o.mu.Unlock()

	if len(pcm) == 0 {
		_ = o.sink.SendError("aucun audio reçu pour ce tour")
		return
	}
	select {
	case o.jobs <- job{pcm: pcm}:
	default:
		log.Printf("[%s] turn queue full, dropping commit of %d bytes", o.sess.ID(), len(pcm))
		_ = o.sink.SendError("trop de tours en attente, réessaie dans un instant")
	}
}

// OnInterrupt cancels the reply in flight. Audio already sent stays sent and
// history is not rolled back. The interrupted status is sent under the lock
// so it precedes anything the worker emits next.
func (o *Orchestrator) OnInterrupt() {
	o.mu.Lock()
	cancel := o.replyCancel
	inFlight := cancel != nil && !o.interrupted
	if inFlight {
		o.interrupted = true
		o.framer.Reset()
		if o.cfg.Barge != nil {
			o.cfg.Barge.SetSpeaking(false)
		}
		_ = o.sink.SendStatus(StatusInterrupted)
	}
	o.mu.Unlock()
	if !inFlight {
		return
	}
	cancel()
	log.Printf("[%s] reply interrupted", o.sess.ID())
}

// OnEnd stops all work, releases buffers and closes the session. It is idempotent.
func (o *Orchestrator) OnEnd() {
	o.mu.Lock()
	if o.ended {
		o.mu.Unlock()
		return
	}
	o.ended = true
	o.buf = nil
	cancel := o.cancel
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	o.framer.Reset()
	if o.sess.End() {
		log.Printf("[%s] session ended", o.sess.ID())
	}
	_ = o.sink.SendStatus(StatusEnded)
}

// Close stops the worker and drops buffered audio without ending the
// session, which stays available to REST calls and a later channel.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.ended {
		o.mu.Unlock()
		return
	}
	o.ended = true
	o.buf = nil
	cancel := o.cancel
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	o.framer.Reset()
	log.Printf("[%s] channel detached", o.sess.ID())
}

// Ended reports whether OnEnd or Close was called.
func (o *Orchestrator) Ended() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.ended
}

func (o *Orchestrator) handleTurn(pcm []byte) {
	id := o.sess.ID()
	tctx, cancel := context.WithTimeout(o.ctx, o.cfg.TranscribeTimeout)
	text, err := o.tr.Transcribe(tctx, pcm)
	cancel()
	if o.ctx.Err() != nil {
		return
	}
	if err != nil {
		log.Printf("[%s] transcription error: %v", id, err)
		_ = o.sink.SendError("transcription impossible, réessaie d'enregistrer ta réponse")
		return
	}
	if text == "" {
		_ = o.sink.SendError("je n'ai rien entendu, réessaie d'enregistrer ta réponse")
		return
	}

	answered, hadQuestion := o.sess.CurrentQuestion()
	if _, err := o.sess.RecordCandidateTurn(text); err != nil {
		log.Printf("[%s] record candidate turn: %v", id, err)
		_ = o.sink.SendError(err.Error())
		return
	}
	log.Printf("[%s] heard: %s", id, text)
	_ = o.sink.SendTranscript(RoleUser, text)

	var last *interview.Question
	if hadQuestion {
		last = &answered
	}
	interrupted := o.reply(func(ctx context.Context) (*Reply, error) {
		return o.gen.GenerateReply(ctx, o.sess.History(), o.sess.ReplyInstructions(last))
	})
	if o.ctx.Err() != nil {
		return
	}
	if interrupted {
		log.Printf("[%s] reply cut short, moving on", id)
	}
	o.afterTurn()
}

// afterTurn moves the interview on once the coach has answered or was cut
// off: an interrupted feedback still leads to the next question.
func (o *Orchestrator) afterTurn() {
	mode := o.sess.Mode()
	switch mode {
	case interview.ModeSequential, interview.ModeTimed:
		o.advance()
	case interview.ModeThematic:
		_ = o.sink.SendStatus(StatusAwaitingSelection)
	}
}

func (o *Orchestrator) advance() {
	id := o.sess.ID()
	turn, _, err := o.sess.Advance()
	switch {
	case err == nil:
		o.speak(turn.Text)
	case errors.Is(err, interview.ErrPoolExhausted):
		o.closingLine(interview.PoolExhaustedText)
	case errors.Is(err, interview.ErrTimeBudgetExhausted):
		o.closingLine(interview.TimeUpText)
	default:
		log.Printf("[%s] advance: %v", id, err)
		_ = o.sink.SendError(err.Error())
	}
}

func (o *Orchestrator) closingLine(text string) {
	if _, err := o.sess.RecordCoachTurn(text); err != nil {
		log.Printf("[%s] record closing line: %v", o.sess.ID(), err)
		return
	}
	o.speak(text)
	_ = o.sink.SendStatus(StatusDebriefReady)
}

// speakTurn voices a coach turn already recorded in history.
func (o *Orchestrator) speakTurn(text string) {
	o.speak(text)
}

// speak streams text that is already part of history. It reports whether
// the candidate interrupted it.
func (o *Orchestrator) speak(text string) bool {
	return o.reply(func(ctx context.Context) (*Reply, error) {
		return o.gen.Speak(ctx, text), nil
	})
}

// reply runs one coach reply under a cancellable context and streams it.
// Generated replies are recorded in history as soon as their text is known.
func (o *Orchestrator) reply(produce func(ctx context.Context) (*Reply, error)) (interrupted bool) {
	id := o.sess.ID()
	ctx, cancel := context.WithCancel(o.ctx)
	o.mu.Lock()
	o.replyCancel = cancel
	o.interrupted = false
	o.mu.Unlock()
	defer func() {
		cancel()
		o.mu.Lock()
		interrupted = o.interrupted
		o.replyCancel = nil
		o.interrupted = false
		o.speaking = false
		o.mu.Unlock()
		if o.cfg.Barge != nil {
			o.cfg.Barge.SetSpeaking(false)
		}
		if !interrupted && o.ctx.Err() == nil {
			_ = o.sink.SendStatus(StatusListening)
		}
	}()

	r, err := produce(ctx)
	if err != nil {
		if ctx.Err() == nil {
			log.Printf("[%s] generation error: %v", id, err)
			_ = o.sink.SendError("le coach n'a pas pu répondre, réessaie")
		}
		return
	}
	if r == nil {
		return
	}
	if !o.isSpoken(r.Text) {
		if _, err := o.sess.RecordCoachTurn(r.Text); err != nil {
			log.Printf("[%s] record coach turn: %v", id, err)
		}
	}
	if ctx.Err() != nil {
		return
	}
	_ = o.sink.SendTranscript(RoleAssistant, r.Text)
	o.stream(ctx, r)
	return
}

// isSpoken reports whether text is the latest coach turn, which is the case
// for questions and closing lines recorded before they are voiced.
func (o *Orchestrator) isSpoken(text string) bool {
	h := o.sess.History()
	return len(h) > 0 && h[len(h)-1].Role == interview.RoleCoach && h[len(h)-1].Text == text
}

func (o *Orchestrator) stream(ctx context.Context, r *Reply) {
	o.mu.Lock()
	o.speaking = true
	o.mu.Unlock()
	if o.cfg.Barge != nil {
		o.cfg.Barge.SetSpeaking(true)
	}
	_ = o.sink.SendStatus(StatusSpeaking)

	audioCh, errCh := r.Audio, r.Err
	for audioCh != nil || errCh != nil {
		select {
		case b, ok := <-audioCh:
			if !ok {
				audioCh = nil
				continue
			}
			for _, frame := range o.framer.Write(b) {
				if !o.sendFrame(frame) {
					return
				}
			}
		case e, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if e != nil && ctx.Err() == nil {
				log.Printf("[%s] speech synthesis error: %v", o.sess.ID(), e)
				_ = o.sink.SendError(fmt.Sprintf("synthèse vocale interrompue: %v", e))
			}
		case <-ctx.Done():
			o.framer.Reset()
			return
		}
	}
	if tail := o.framer.Flush(); len(tail) > 0 {
		o.sendFrame(tail)
	}
}

// sendFrame writes one frame unless the reply was interrupted. The check and
// the write happen under the lock so no frame leaves after OnInterrupt returns.
func (o *Orchestrator) sendFrame(frame []byte) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.interrupted || o.ended {
		return false
	}
	if err := o.sink.SendAudio(frame); err != nil {
		log.Printf("[%s] send audio: %v", o.sess.ID(), err)
		return false
	}
	return true
}
