package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/nicolascatez-wq/xhec-interview-coach/internal/agent"
	"github.com/nicolascatez-wq/xhec-interview-coach/internal/audio"
	"github.com/nicolascatez-wq/xhec-interview-coach/internal/barge"
	"github.com/nicolascatez-wq/xhec-interview-coach/internal/debrief"
	"github.com/nicolascatez-wq/xhec-interview-coach/internal/interview"
	"github.com/nicolascatez-wq/xhec-interview-coach/internal/llm"
	"github.com/nicolascatez-wq/xhec-interview-coach/internal/rtc"
)

// Storage abstracts archive uploads.
type Storage interface {
	Upload(objectKey string, contentType string, body []byte) error
}

// Channel is a client connection able to carry a voice session.
type Channel interface {
	agent.Sink
	Serve(ctx context.Context, h rtc.Handler) error
}

// Utterance is a coach line with its synthesized audio as WAV. Audio is
// empty when no speech backend is configured or synthesis failed.
type Utterance struct {
	Text  string
	Audio []byte
}

// DebriefResult is the cached outcome of a debrief.
type DebriefResult struct {
	Report      *debrief.Report
	SummaryText string
	Audio       []byte
}

// Kinds of text-turn outcomes.
const (
	RespondFeedback     = "feedback"
	RespondNextQuestion = "next_question"
	RespondEnd          = "end"
)

// Response is the coach's answer to a typed candidate turn. Text holds
// everything the coach says, Feedback only the reply to the turn.
type Response struct {
	Type     string
	Text     string
	Feedback string
	Question *interview.Question
	Audio    []byte
}

// Backends are the external capabilities the service drives. TTS may be nil.
type Backends struct {
	LLM         agent.LLM
	Debrief     debrief.JSONLLM
	Transcriber agent.Transcriber
	TTS         agent.TTS
}

// Options tune the service.
type Options struct {
	Format audio.Format
	// Barge enables server-side barge-in with these thresholds.
	Barge            *barge.Config
	GenerateTimeout  time.Duration
	SynthesisTimeout time.Duration
}

// CoachService defines the coaching operations used by the HTTP layer.
type CoachService interface {
	Prepare(mode, dossier string, questions []interview.Question) (*interview.Session, error)
	Session(id string) (*interview.Session, error)
	Intro(ctx context.Context, id string) (Utterance, error)
	Themes(id string) ([]interview.ThemeCount, error)
	Questions(id, theme string) ([]interview.Question, error)
	SelectTheme(ctx context.Context, id, theme string) (Utterance, []interview.Question, error)
	SelectQuestion(ctx context.Context, id, theme, questionID string, random bool) (Utterance, interview.Question, error)
	Respond(ctx context.Context, id, text string) (*Response, error)
	Debrief(ctx context.Context, id string) (*DebriefResult, error)
	Transcript(id string) (string, []interview.Turn, error)
	End(id string) error
	OpenChannel(ctx context.Context, id string, ch Channel) error
	Sessions() int
}

type coachService struct {
	store    *interview.Store
	backends Backends
	pipeline *agent.Pipeline
	debriefs *debrief.Generator
	storage  Storage
	opts     Options

	mu         sync.Mutex
	live       map[string]*agent.Orchestrator
	archived   map[string]bool
	debriefing map[string]chan struct{}
}

// NewCoachService wires the service to the session store. Evicted sessions
// are ended and archived.
func NewCoachService(store *interview.Store, backends Backends, storage Storage, opts Options) CoachService {
	if opts.Format.SampleRate <= 0 {
		opts.Format = audio.DefaultFormat()
	}
	if opts.GenerateTimeout <= 0 {
		opts.GenerateTimeout = 30 * time.Second
	}
	if opts.SynthesisTimeout <= 0 {
		opts.SynthesisTimeout = 30 * time.Second
	}
	if backends.Transcriber == nil {
		backends.Transcriber = unavailableTranscriber{}
	}
	s := &coachService{
		store:      store,
		backends:   backends,
		pipeline:   &agent.Pipeline{LLM: backends.LLM, TTS: backends.TTS, GenerateTimeout: opts.GenerateTimeout},
		debriefs:   debrief.NewGenerator(backends.Debrief),
		storage:    storage,
		opts:       opts,
		live:       make(map[string]*agent.Orchestrator),
		archived:   make(map[string]bool),
		debriefing: make(map[string]chan struct{}),
	}
	store.OnEvict(s.evicted)
	return s
}

func (s *coachService) Prepare(mode, dossier string, questions []interview.Question) (*interview.Session, error) {
	m, err := interview.ParseMode(mode)
	if err != nil {
		return nil, err
	}
	return s.store.Prepare(m, dossier, questions)
}

func (s *coachService) Session(id string) (*interview.Session, error) {
	return s.store.Get(id)
}

func (s *coachService) Intro(ctx context.Context, id string) (Utterance, error) {
	sess, err := s.store.Get(id)
	if err != nil {
		return Utterance{}, err
	}
	turn, err := s.begin(ctx, sess)
	if err != nil {
		return Utterance{}, err
	}
	return Utterance{Text: turn.Text, Audio: s.synthesize(ctx, sess.ID(), turn.Text)}, nil
}

// begin opens the session with a generated greeting, or the built-in one
// when generation fails.
func (s *coachService) begin(ctx context.Context, sess *interview.Session) (interview.Turn, error) {
	if p := sess.Phase(); p != interview.PhaseCreated {
		if p == interview.PhaseClosed {
			return interview.Turn{}, interview.ErrSessionClosed
		}
		return interview.Turn{}, &interview.PhaseError{Op: "begin", Phase: p}
	}
	return sess.Begin(s.introText(ctx, sess))
}

func (s *coachService) introText(ctx context.Context, sess *interview.Session) string {
	if s.backends.LLM == nil {
		return ""
	}
	cctx, cancel := context.WithTimeout(ctx, s.opts.GenerateTimeout)
	defer cancel()
	text, err := s.backends.LLM.Generate(cctx, []llm.Message{
		llm.System(sess.IntroInstructions()),
		llm.User("Bonjour."),
	})
	if err != nil {
		log.Printf("[%s] intro generation failed, using default greeting: %v", sess.ID(), err)
		return ""
	}
	return text
}

func (s *coachService) Themes(id string) ([]interview.ThemeCount, error) {
	sess, err := s.store.Get(id)
	if err != nil {
		return nil, err
	}
	return sess.Themes(), nil
}

func (s *coachService) Questions(id, theme string) ([]interview.Question, error) {
	sess, err := s.store.Get(id)
	if err != nil {
		return nil, err
	}
	return sess.AvailableQuestions(theme)
}

func (s *coachService) SelectTheme(ctx context.Context, id, theme string) (Utterance, []interview.Question, error) {
	sess, err := s.store.Get(id)
	if err != nil {
		return Utterance{}, nil, err
	}
	turn, qs, err := sess.SelectTheme(theme)
	if err != nil {
		return Utterance{}, nil, err
	}
	log.Printf("[%s] theme selected: %s (%d left)", id, theme, len(qs))
	return Utterance{Text: turn.Text, Audio: s.synthesize(ctx, id, turn.Text)}, qs, nil
}

func (s *coachService) SelectQuestion(ctx context.Context, id, theme, questionID string, random bool) (Utterance, interview.Question, error) {
	sess, err := s.store.Get(id)
	if err != nil {
		return Utterance{}, interview.Question{}, err
	}
	turn, q, err := sess.SelectQuestion(theme, questionID, random)
	if err != nil {
		return Utterance{}, interview.Question{}, err
	}
	log.Printf("[%s] question posed: %s", id, q.ID)
	return Utterance{Text: turn.Text, Audio: s.synthesize(ctx, id, turn.Text)}, q, nil
}

// Respond records a typed candidate turn and returns the coach's reply. Modes
// that move on by themselves also pose the next question, or close the
// interview when nothing is left.
func (s *coachService) Respond(ctx context.Context, id, text string) (*Response, error) {
	sess, err := s.store.Get(id)
	if err != nil {
		return nil, err
	}
	answered, hadQuestion := sess.CurrentQuestion()
	if _, err := sess.RecordCandidateTurn(text); err != nil {
		return nil, err
	}
	var last *interview.Question
	if hadQuestion {
		last = &answered
	}

	rctx, cancel := context.WithTimeout(ctx, s.opts.GenerateTimeout+s.opts.SynthesisTimeout)
	defer cancel()
	res := &Response{Type: RespondFeedback}
	var pcm []byte
	reply, genErr := s.pipeline.GenerateReply(rctx, sess.History(), sess.ReplyInstructions(last))
	if genErr != nil {
		log.Printf("[%s] text turn generation failed: %v", id, genErr)
	} else {
		if _, err := sess.RecordCoachTurn(reply.Text); err != nil {
			log.Printf("[%s] record coach turn: %v", id, err)
		}
		res.Feedback = reply.Text
		pcm = append(pcm, s.drain(id, reply)...)
	}
	spoken := []string{res.Feedback}

	if sess.Mode().AutoAdvance() {
		turn, q, err := sess.Advance()
		switch {
		case err == nil:
			res.Type, res.Question = RespondNextQuestion, &q
			spoken = append(spoken, turn.Text)
			pcm = append(pcm, s.drain(id, s.pipeline.Speak(rctx, turn.Text))...)
		case interview.IsCompletion(err):
			closing := interview.PoolExhaustedText
			if errors.Is(err, interview.ErrTimeBudgetExhausted) {
				closing = interview.TimeUpText
			}
			if _, err := sess.RecordCoachTurn(closing); err != nil {
				log.Printf("[%s] record closing line: %v", id, err)
			}
			res.Type = RespondEnd
			spoken = append(spoken, closing)
			pcm = append(pcm, s.drain(id, s.pipeline.Speak(rctx, closing))...)
		default:
			return nil, err
		}
	} else if genErr != nil {
		return nil, genErr
	}

	res.Text = strings.TrimSpace(strings.Join(spoken, " "))
	if len(pcm) > 0 {
		res.Audio = audio.WAV(pcm, s.opts.Format.SampleRate)
	}
	log.Printf("[%s] text turn answered: %s", id, res.Type)
	return res, nil
}

// Debrief analyses the session once; later calls return the cached result.
// Concurrent callers wait for the analysis in flight.
func (s *coachService) Debrief(ctx context.Context, id string) (*DebriefResult, error) {
	sess, err := s.store.Get(id)
	if err != nil {
		return nil, err
	}
	for {
		if r := cachedDebrief(sess); r != nil {
			return r, nil
		}
		s.mu.Lock()
		wait, busy := s.debriefing[id]
		if !busy {
			s.debriefing[id] = make(chan struct{})
		}
		s.mu.Unlock()
		if !busy {
			break
		}
		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	defer func() {
		s.mu.Lock()
		close(s.debriefing[id])
		delete(s.debriefing, id)
		s.mu.Unlock()
	}()
	if r := cachedDebrief(sess); r != nil {
		return r, nil
	}

	if sess.Phase() == interview.PhaseCreated {
		return nil, &interview.PhaseError{Op: "debrief", Phase: interview.PhaseCreated}
	}
	report, err := s.debriefs.Generate(ctx, sess.Mode(), sess.History())
	if err != nil {
		return nil, err
	}
	summary := debrief.SummaryText(report)
	if _, err := sess.RecordCoachTurn(summary); err != nil && !errors.Is(err, interview.ErrSessionClosed) {
		log.Printf("[%s] record debrief summary: %v", id, err)
	}
	res := &DebriefResult{Report: report, SummaryText: summary, Audio: s.synthesize(ctx, id, summary)}
	if err := sess.MarkDebriefed(res); err != nil {
		return nil, err
	}
	log.Printf("[%s] debrief ready: score=%s degraded=%v", id, report.OverallScore.Value, report.Degraded)
	return res, nil
}

func cachedDebrief(sess *interview.Session) *DebriefResult {
	if cached, ok := sess.Report(); ok {
		if r, ok := cached.(*DebriefResult); ok {
			return r
		}
	}
	return nil
}

func (s *coachService) Transcript(id string) (string, []interview.Turn, error) {
	sess, err := s.store.Get(id)
	if err != nil {
		return "", nil, err
	}
	turns := sess.History()
	return interview.FormatTranscript(turns), turns, nil
}

// End closes the session, stops its channel and archives it. Ending an
// already closed session is a no-op.
func (s *coachService) End(id string) error {
	sess, err := s.store.Get(id)
	if err != nil {
		return err
	}
	s.finish(sess)
	return nil
}

func (s *coachService) finish(sess *interview.Session) {
	id := sess.ID()
	if sess.End() {
		log.Printf("[%s] session ended after %d turns", id, len(sess.History()))
	}
	s.mu.Lock()
	orch := s.live[id]
	delete(s.live, id)
	first := !s.archived[id]
	s.archived[id] = true
	s.mu.Unlock()
	if orch != nil {
		orch.OnEnd()
	}
	if first {
		s.archive(sess)
	}
}

// evicted ends and archives a session dropped by the store janitor.
func (s *coachService) evicted(sess *interview.Session) {
	s.finish(sess)
	s.mu.Lock()
	delete(s.archived, sess.ID())
	s.mu.Unlock()
}

// OpenChannel runs a voice session over ch until the client leaves or ends
// the session. A fresh session is opened with a spoken greeting. A second
// channel on the same session replaces the first.
func (s *coachService) OpenChannel(ctx context.Context, id string, ch Channel) error {
	sess, err := s.store.Get(id)
	if err != nil {
		return err
	}
	if sess.Phase() == interview.PhaseClosed {
		return interview.ErrSessionClosed
	}
	opening := ""
	if sess.Phase() == interview.PhaseCreated {
		turn, err := s.begin(ctx, sess)
		if err != nil {
			return err
		}
		opening = turn.Text
	}

	var det *barge.Detector
	if s.opts.Barge != nil {
		det = barge.NewDetector(*s.opts.Barge)
	}
	orch := agent.NewOrchestrator(sess, s.backends.Transcriber, s.pipeline, ch, agent.Config{Format: s.opts.Format, Barge: det})

	s.mu.Lock()
	if old := s.live[id]; old != nil {
		log.Printf("[%s] replacing previous channel", id)
		old.Close()
	}
	s.live[id] = orch
	s.mu.Unlock()

	log.Printf("[%s] channel opened (phase=%s)", id, sess.Phase())
	orch.Start(ctx, opening)
	// A REST end or a replacing channel stops the worker; drop the socket too.
	sctx, cancel := context.WithCancel(ctx)
	go func() {
		<-orch.Done()
		cancel()
	}()
	err = ch.Serve(sctx, channelHandler{Orchestrator: orch, end: func() { s.finish(sess) }})
	cancel()

	orch.Close()
	<-orch.Done()
	s.mu.Lock()
	if s.live[id] == orch {
		delete(s.live, id)
	}
	s.mu.Unlock()
	log.Printf("[%s] channel closed", id)
	return err
}

func (s *coachService) Sessions() int { return s.store.Len() }

// channelHandler routes the client's "end" through the service so the
// session is archived.
type channelHandler struct {
	*agent.Orchestrator
	end func()
}

func (h channelHandler) OnEnd() { h.end() }

func (s *coachService) synthesize(ctx context.Context, id, text string) []byte {
	if s.backends.TTS == nil || text == "" {
		return nil
	}
	cctx, cancel := context.WithTimeout(ctx, s.opts.SynthesisTimeout)
	defer cancel()
	pcmCh, errCh := s.backends.TTS.StreamPCM(cctx, text)
	pcm := collectPCM(id, pcmCh, errCh)
	if len(pcm) == 0 {
		return nil
	}
	return audio.WAV(pcm, s.opts.Format.SampleRate)
}

// drain collects the raw audio of a pipeline reply.
func (s *coachService) drain(id string, r *agent.Reply) []byte {
	if r == nil {
		return nil
	}
	return collectPCM(id, r.Audio, r.Err)
}

func collectPCM(id string, pcmCh <-chan []byte, errCh <-chan error) []byte {
	var pcm []byte
	for pcmCh != nil || errCh != nil {
		select {
		case b, ok := <-pcmCh:
			if !ok {
				pcmCh = nil
				continue
			}
			pcm = append(pcm, b...)
		case e, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if e != nil {
				log.Printf("[%s] speech synthesis error: %v", id, e)
			}
		}
	}
	return pcm
}

type archiveRecord struct {
	Session   interview.Snapshot   `json:"session"`
	Questions []interview.Question `json:"questions"`
	Turns     []interview.Turn     `json:"turns"`
	Debrief   *debrief.Report      `json:"debrief,omitempty"`
}

func (s *coachService) archive(sess *interview.Session) {
	if s.storage == nil {
		return
	}
	turns := sess.History()
	if len(turns) == 0 {
		return
	}
	snap := sess.Snapshot()
	prefix := fmt.Sprintf("sessions/%s/%s", snap.CreatedAt.UTC().Format("2006-01-02"), sess.ID())

	if err := s.storage.Upload(prefix+"/transcript.txt", "text/plain; charset=utf-8", []byte(interview.FormatTranscript(turns))); err != nil {
		log.Printf("[%s] archive transcript: %v", sess.ID(), err)
	}
	rec := archiveRecord{Session: snap, Questions: sess.Pool().Questions(), Turns: turns}
	if r := cachedDebrief(sess); r != nil {
		rec.Debrief = r.Report
	}
	body, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		log.Printf("[%s] archive encode: %v", sess.ID(), err)
		return
	}
	if err := s.storage.Upload(prefix+"/session.json", "application/json", body); err != nil {
		log.Printf("[%s] archive record: %v", sess.ID(), err)
		return
	}
	log.Printf("[%s] archived under %s", sess.ID(), prefix)
}

type unavailableTranscriber struct{}

func (unavailableTranscriber) Transcribe(ctx context.Context, pcm []byte) (string, error) {
	return "", errors.New("no transcription backend configured")
}
