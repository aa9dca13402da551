package agent

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nicolascatez-wq/xhec-interview-coach/internal/audio"
	"github.com/nicolascatez-wq/xhec-interview-coach/internal/barge"
	"github.com/nicolascatez-wq/xhec-interview-coach/internal/interview"
	"github.com/nicolascatez-wq/xhec-interview-coach/internal/llm"
)

var testFormat = audio.Format{SampleRate: 1000, FrameDuration: 10 * time.Millisecond} // 20-byte frames

type fakeTranscriber struct {
	mu     sync.Mutex
	inputs [][]byte
	text   string
	err    error
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, pcm []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	f.inputs = append(f.inputs, cp)
	return f.text, f.err
}

func (f *fakeTranscriber) lastInput() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.inputs) == 0 {
		return nil
	}
	return f.inputs[len(f.inputs)-1]
}

// fakeGen emits `frames` 20-byte frames per reply, pausing between them.
type fakeGen struct {
	reply  string
	err    error
	frames int
	pause  time.Duration

	mu           sync.Mutex
	instructions []string
}

func (g *fakeGen) GenerateReply(ctx context.Context, history []interview.Turn, instructions string) (*Reply, error) {
	g.mu.Lock()
	g.instructions = append(g.instructions, instructions)
	g.mu.Unlock()
	if g.err != nil {
		return nil, g.err
	}
	return g.Speak(ctx, g.reply), nil
}

func (g *fakeGen) Speak(ctx context.Context, text string) *Reply {
	audioCh := make(chan []byte)
	errCh := make(chan error)
	go func() {
		defer close(audioCh)
		defer close(errCh)
		for i := 0; i < g.frames; i++ {
			select {
			case audioCh <- bytes.Repeat([]byte{byte(i + 1)}, 20):
			case <-ctx.Done():
				return
			}
			if g.pause > 0 {
				select {
				case <-time.After(g.pause):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return &Reply{Text: text, Audio: audioCh, Err: errCh}
}

type event struct {
	kind string
	role string
	text string
	pcm  []byte
}

type recordingSink struct {
	mu     sync.Mutex
	events []event
}

func (s *recordingSink) add(e event) error {
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
	return nil
}

func (s *recordingSink) SendAudio(pcm []byte) error {
	return s.add(event{kind: "audio", pcm: pcm})
}

func (s *recordingSink) SendTranscript(role, text string) error {
	return s.add(event{kind: "transcript", role: role, text: text})
}

func (s *recordingSink) SendStatus(status string) error {
	return s.add(event{kind: "status", text: status})
}

func (s *recordingSink) SendError(msg string) error {
	return s.add(event{kind: "error", text: msg})
}

func (s *recordingSink) snapshot() []event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]event, len(s.events))
	copy(out, s.events)
	return out
}

func (s *recordingSink) count(kind string) int {
	n := 0
	for _, e := range s.snapshot() {
		if e.kind == kind {
			n++
		}
	}
	return n
}

func (s *recordingSink) has(kind, text string) bool {
	for _, e := range s.snapshot() {
		if e.kind == kind && (text == "" || strings.Contains(e.text, text)) {
			return true
		}
	}
	return false
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

func newBegunSession(t *testing.T, mode interview.Mode, qs ...string) *interview.Session {
	t.Helper()
	var pool []interview.Question
	for _, q := range qs {
		pool = append(pool, interview.Question{Text: q, Theme: "Motivation"})
	}
	s, err := interview.New("sess", interview.Options{Mode: mode, Dossier: "dossier", Pool: interview.NewPool(pool)})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if _, err := s.Begin(""); err != nil {
		t.Fatalf("begin: %v", err)
	}
	return s
}

func startOrchestrator(t *testing.T, s *interview.Session, tr Transcriber, gen ReplyGenerator) (*Orchestrator, *recordingSink) {
	t.Helper()
	sink := &recordingSink{}
	o := NewOrchestrator(s, tr, gen, sink, Config{Format: testFormat})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		<-o.Done()
	})
	o.Start(ctx, "")
	return o, sink
}

func TestChunkReply(t *testing.T) {
	got := chunkReply("Bien. Mais trop long !\nDonne un exemple? fin")
	want := []string{"Bien.", "Mais trop long !", "Donne un exemple?", "fin"}
	if len(got) != len(want) {
		t.Fatalf("got %q", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("chunk %d: %q != %q", i, got[i], want[i])
		}
	}
	if chunkReply("   ") != nil {
		t.Fatalf("expected nil for blank reply")
	}
}

func TestOrchestrator_FramesReachTranscriberInOrder(t *testing.T) {
	s := newBegunSession(t, interview.ModeSequential, "Q1", "Q2")
	tr := &fakeTranscriber{text: "réponse"}
	o, _ := startOrchestrator(t, s, tr, &fakeGen{reply: "Bien."})
	f1, f2, f3 := []byte{1, 1}, []byte{2, 2}, []byte{3, 3}
	o.OnAudio(f1)
	o.OnAudio(f2)
	o.OnAudio(f3)
	o.OnCommit()
	waitFor(t, "transcription", func() bool { return tr.lastInput() != nil })
	if !bytes.Equal(tr.lastInput(), []byte{1, 1, 2, 2, 3, 3}) {
		t.Fatalf("frames out of order: %v", tr.lastInput())
	}
}

func TestOrchestrator_SequentialTurn(t *testing.T) {
	s := newBegunSession(t, interview.ModeSequential, "Q1", "Q2")
	tr := &fakeTranscriber{text: "Parce que je veux entreprendre."}
	gen := &fakeGen{reply: "Bonne accroche. Ajoute un exemple.", frames: 3}
	o, sink := startOrchestrator(t, s, tr, gen)
	o.OnAudio(make([]byte, 40))
	o.OnCommit()

	waitFor(t, "next question", func() bool { return s.Phase() == interview.PhaseAwaitingAnswer && s.QuestionsAnswered() == 1 })
	waitFor(t, "question audio", func() bool { return sink.count("audio") == 6 })

	var order []string
	for _, e := range sink.snapshot() {
		if e.kind == "transcript" {
			order = append(order, e.role+":"+e.text)
		}
	}
	if len(order) != 3 || !strings.HasPrefix(order[0], "user:") || !strings.HasPrefix(order[1], "assistant:Bonne") {
		t.Fatalf("unexpected transcript order %v", order)
	}
	h := s.History()
	if len(h) != 4 || h[1].Role != interview.RoleCandidate || h[2].Text != gen.reply || !strings.Contains(h[3].Text, "Q2") {
		t.Fatalf("unexpected history %+v", h)
	}
	if q, _ := s.CurrentQuestion(); q.Text != "Q2" {
		t.Fatalf("expected Q2 open, got %+v", q)
	}
	if len(gen.instructions) != 1 || !strings.Contains(gen.instructions[0], "Q1") {
		t.Fatalf("instructions should carry the answered question: %v", gen.instructions)
	}
}

func TestOrchestrator_InterruptStopsAudioKeepsTranscripts(t *testing.T) {
	s := newBegunSession(t, interview.ModeSequential, "Q1", "Q2")
	tr := &fakeTranscriber{text: "réponse"}
	gen := &fakeGen{reply: "Un long feedback.", frames: 1000, pause: 2 * time.Millisecond}
	o, sink := startOrchestrator(t, s, tr, gen)
	o.OnAudio(make([]byte, 20))
	o.OnCommit()

	waitFor(t, "some audio", func() bool { return sink.count("audio") >= 3 })
	o.OnInterrupt()
	waitFor(t, "next question", func() bool { return sink.has("transcript", "Q2") })

	if !sink.has("status", StatusInterrupted) {
		t.Fatalf("expected interrupted status")
	}
	if !sink.has("transcript", "Un long feedback.") || !sink.has("transcript", "réponse") {
		t.Fatalf("transcripts already sent must remain")
	}
	// No feedback frame may follow the interrupt; the next audio belongs to Q2.
	cut := false
	for _, e := range sink.snapshot() {
		if e.kind == "status" && e.text == StatusInterrupted {
			cut = true
			continue
		}
		if cut && e.kind == "transcript" && strings.Contains(e.text, "Q2") {
			break
		}
		if cut && e.kind == "audio" {
			t.Fatalf("feedback audio sent after interrupt")
		}
	}
	h := s.History()
	if len(h) != 4 || h[2].Text != "Un long feedback." || !strings.Contains(h[3].Text, "Q2") {
		t.Fatalf("history must keep the cut feedback before Q2: %+v", h)
	}
}

func TestOrchestrator_InterruptedFeedbackThenNextAnswer(t *testing.T) {
	s := newBegunSession(t, interview.ModeSequential, "Q1", "Q2", "Q3")
	tr := &fakeTranscriber{text: "réponse"}
	gen := &fakeGen{reply: "Un long feedback.", frames: 1000, pause: 2 * time.Millisecond}
	o, sink := startOrchestrator(t, s, tr, gen)
	o.OnAudio(make([]byte, 20))
	o.OnCommit()

	waitFor(t, "feedback audio", func() bool { return sink.count("audio") >= 2 })
	o.OnInterrupt()
	waitFor(t, "Q2 posed", func() bool { return sink.has("transcript", "Q2") })
	if q, open := s.CurrentQuestion(); !open || q.Text != "Q2" || s.Phase() != interview.PhaseAwaitingAnswer {
		t.Fatalf("expected Q2 open, got phase=%s open=%v", s.Phase(), open)
	}
	o.OnInterrupt()

	o.OnAudio(make([]byte, 20))
	o.OnCommit()
	waitFor(t, "second reply", func() bool {
		gen.mu.Lock()
		defer gen.mu.Unlock()
		return len(gen.instructions) == 2
	})
	gen.mu.Lock()
	second := gen.instructions[1]
	gen.mu.Unlock()
	if !strings.Contains(second, "Question posée : Q2") {
		t.Fatalf("second turn should answer Q2: %s", second)
	}
	if strings.Contains(second, "thème") {
		t.Fatalf("sequential instructions must not offer a theme menu: %s", second)
	}
	if s.QuestionsAnswered() != 2 {
		t.Fatalf("expected 2 answers, got %d", s.QuestionsAnswered())
	}
}

func TestOrchestrator_TimedInterruptedAcknowledgement(t *testing.T) {
	s := newBegunSession(t, interview.ModeTimed, "Q1", "Q2")
	tr := &fakeTranscriber{text: "Je m'appelle Léa."}
	gen := &fakeGen{reply: "Merci.", frames: 1000, pause: 2 * time.Millisecond}
	o, sink := startOrchestrator(t, s, tr, gen)
	o.OnAudio(make([]byte, 20))
	o.OnCommit()

	waitFor(t, "ack audio", func() bool { return sink.count("audio") >= 2 })
	o.OnInterrupt()
	waitFor(t, "first question", func() bool { return sink.has("transcript", "Q1") })
	o.OnInterrupt()

	o.OnAudio(make([]byte, 20))
	o.OnCommit()
	waitFor(t, "second reply", func() bool {
		gen.mu.Lock()
		defer gen.mu.Unlock()
		return len(gen.instructions) == 2
	})
	gen.mu.Lock()
	first, second := gen.instructions[0], gen.instructions[1]
	gen.mu.Unlock()
	if !strings.Contains(first, "vient de se présenter") {
		t.Fatalf("first turn is the presentation: %s", first)
	}
	if strings.Contains(second, "présenter") {
		t.Fatalf("later turns are not the presentation: %s", second)
	}
}

func TestOrchestrator_BargeInCutsReply(t *testing.T) {
	s := newBegunSession(t, interview.ModeSequential, "Q1", "Q2")
	tr := &fakeTranscriber{text: "réponse"}
	gen := &fakeGen{reply: "Un long feedback.", frames: 1000, pause: 2 * time.Millisecond}
	sink := &recordingSink{}
	det := barge.NewDetector(barge.DefaultConfig(testFormat.SampleRate))
	o := NewOrchestrator(s, tr, gen, sink, Config{Format: testFormat, Barge: det})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		<-o.Done()
	})
	o.Start(ctx, "")

	// Loud audio while the coach is silent is just the answer.
	o.OnAudio(loud(300))
	if sink.has("status", StatusBargeIn) {
		t.Fatalf("no barge-in while the coach is silent")
	}
	o.OnCommit()

	waitFor(t, "feedback audio", func() bool { return sink.count("audio") >= 3 })
	o.OnAudio(loud(300))
	waitFor(t, "barge-in", func() bool { return sink.has("status", StatusBargeIn) })
	if !sink.has("status", StatusInterrupted) {
		t.Fatalf("barge-in should interrupt the reply")
	}
	waitFor(t, "next question", func() bool { return sink.has("transcript", "Q2") })
	cut := false
	for _, e := range sink.snapshot() {
		if e.kind == "status" && e.text == StatusInterrupted {
			cut = true
			continue
		}
		if cut && e.kind == "transcript" && strings.Contains(e.text, "Q2") {
			break
		}
		if cut && e.kind == "audio" {
			t.Fatalf("feedback audio sent after barge-in")
		}
	}
}

// loud returns ms of a square wave well above the default barge threshold.
func loud(ms int) []byte {
	n := ms * testFormat.SampleRate / 1000
	b := make([]byte, 2*n)
	for i := 0; i < n; i++ {
		v := int16(3000)
		if i%2 == 1 {
			v = -3000
		}
		binary.LittleEndian.PutUint16(b[2*i:], uint16(v))
	}
	return b
}

func TestOrchestrator_InterruptWithoutReplyIsNoop(t *testing.T) {
	s := newBegunSession(t, interview.ModeSequential, "Q1")
	o, sink := startOrchestrator(t, s, &fakeTranscriber{}, &fakeGen{})
	o.OnInterrupt()
	if sink.has("status", StatusInterrupted) {
		t.Fatalf("nothing to interrupt")
	}
}

func TestOrchestrator_TranscriptionErrorLeavesStateUnchanged(t *testing.T) {
	s := newBegunSession(t, interview.ModeSequential, "Q1", "Q2")
	tr := &fakeTranscriber{err: errors.New("backend down")}
	o, sink := startOrchestrator(t, s, tr, &fakeGen{reply: "x"})
	phase := s.Phase()
	q, _ := s.CurrentQuestion()
	turns := len(s.History())
	o.OnAudio(make([]byte, 20))
	o.OnCommit()
	waitFor(t, "error event", func() bool { return sink.count("error") == 1 })
	if s.Phase() != phase || len(s.History()) != turns {
		t.Fatalf("state changed after transcription error")
	}
	if q2, _ := s.CurrentQuestion(); q2.ID != q.ID {
		t.Fatalf("current question changed")
	}

	tr.mu.Lock()
	tr.err, tr.text = nil, "deuxième essai"
	tr.mu.Unlock()
	o.OnAudio(make([]byte, 20))
	o.OnCommit()
	waitFor(t, "retry recorded", func() bool { return s.QuestionsAnswered() == 1 })
}

func TestOrchestrator_GenerationErrorKeepsSessionOpen(t *testing.T) {
	s := newBegunSession(t, interview.ModeSequential, "Q1", "Q2")
	gen := &fakeGen{err: &llm.Error{Provider: "fake", Err: errors.New("boom")}}
	o, sink := startOrchestrator(t, s, &fakeTranscriber{text: "réponse"}, gen)
	o.OnAudio(make([]byte, 20))
	o.OnCommit()
	waitFor(t, "next question", func() bool { return sink.has("transcript", "Q2") })
	if sink.count("error") != 1 {
		t.Fatalf("expected one error event, got %d", sink.count("error"))
	}
	if s.Phase() == interview.PhaseClosed {
		t.Fatalf("session should remain open")
	}
}

func TestOrchestrator_PoolExhaustedSignalsDebrief(t *testing.T) {
	s := newBegunSession(t, interview.ModeSequential, "Q1")
	o, sink := startOrchestrator(t, s, &fakeTranscriber{text: "réponse"}, &fakeGen{reply: "Bien."})
	o.OnAudio(make([]byte, 20))
	o.OnCommit()
	waitFor(t, "debrief ready", func() bool { return sink.has("status", StatusDebriefReady) })
	if s.Phase() != interview.PhaseDebriefed {
		t.Fatalf("expected debriefed, got %s", s.Phase())
	}
	if !sink.has("transcript", interview.PoolExhaustedText) {
		t.Fatalf("expected closing line")
	}
}

func TestOrchestrator_ThematicWaitsForSelection(t *testing.T) {
	s := newBegunSession(t, interview.ModeThematic, "Q1", "Q2")
	if _, _, err := s.SelectQuestion("Motivation", "", false); err != nil {
		t.Fatalf("select: %v", err)
	}
	o, sink := startOrchestrator(t, s, &fakeTranscriber{text: "réponse"}, &fakeGen{reply: "Bien."})
	o.OnAudio(make([]byte, 20))
	o.OnCommit()
	waitFor(t, "awaiting selection", func() bool { return sink.has("status", StatusAwaitingSelection) })
	if _, open := s.CurrentQuestion(); open {
		t.Fatalf("thematic mode must not auto-advance")
	}
}

func TestOrchestrator_EmptyCommit(t *testing.T) {
	s := newBegunSession(t, interview.ModeSequential, "Q1")
	tr := &fakeTranscriber{text: "x"}
	o, sink := startOrchestrator(t, s, tr, &fakeGen{})
	o.OnCommit()
	if sink.count("error") != 1 || tr.lastInput() != nil {
		t.Fatalf("empty commit should only report an error")
	}
}

func TestOrchestrator_EndIdempotent(t *testing.T) {
	s := newBegunSession(t, interview.ModeSequential, "Q1")
	o, sink := startOrchestrator(t, s, &fakeTranscriber{}, &fakeGen{})
	o.OnEnd()
	o.OnEnd()
	if s.Phase() != interview.PhaseClosed {
		t.Fatalf("expected closed")
	}
	n := 0
	for _, e := range sink.snapshot() {
		if e.kind == "status" && e.text == StatusEnded {
			n++
		}
	}
	if n != 1 {
		t.Fatalf("expected one ended status, got %d", n)
	}
	select {
	case <-o.Done():
	case <-time.After(time.Second):
		t.Fatalf("worker did not stop")
	}
	o.OnAudio([]byte{1, 2})
	o.OnCommit()
	if sink.count("error") != 0 {
		t.Fatalf("ended orchestrator should ignore input")
	}
}

func TestOrchestrator_StartSpeaksOpening(t *testing.T) {
	s := newBegunSession(t, interview.ModeSequential, "Q1")
	opening := s.History()[0].Text
	sink := &recordingSink{}
	o := NewOrchestrator(s, &fakeTranscriber{}, &fakeGen{frames: 2}, sink, Config{Format: testFormat})
	ctx, cancel := context.WithCancel(context.Background())
	defer func() { cancel(); <-o.Done() }()
	o.Start(ctx, opening)
	waitFor(t, "opening audio", func() bool { return sink.count("audio") == 2 })
	if len(s.History()) != 1 {
		t.Fatalf("opening must not be recorded twice")
	}
	if !sink.has("transcript", "Q1") {
		t.Fatalf("expected opening transcript")
	}
}

type fakeLLM struct {
	reply string
	got   []llm.Message
}

func (f *fakeLLM) Generate(ctx context.Context, msgs []llm.Message) (string, error) {
	f.got = msgs
	return f.reply, nil
}

type fakeTTS struct{}

func (fakeTTS) StreamPCM(ctx context.Context, text string) (<-chan []byte, <-chan error) {
	pcm := make(chan []byte, 2)
	errc := make(chan error)
	pcm <- []byte(text[:1])
	pcm <- []byte(text[1:2])
	close(pcm)
	close(errc)
	return pcm, errc
}

func TestPipeline_GenerateReply(t *testing.T) {
	l := &fakeLLM{reply: "Ab. Cd."}
	p := &Pipeline{LLM: l, TTS: fakeTTS{}}
	history := []interview.Turn{{Role: interview.RoleCoach, Text: "Q"}, {Role: interview.RoleCandidate, Text: "R"}}
	r, err := p.GenerateReply(context.Background(), history, "sys")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	var got []byte
	for b := range r.Audio {
		got = append(got, b...)
	}
	if string(got) != "AbCd" {
		t.Fatalf("audio out of order: %q", got)
	}
	if len(l.got) != 3 || l.got[0].Role != llm.RoleSystem || l.got[1].Role != llm.RoleAssistant || l.got[2].Role != llm.RoleUser {
		t.Fatalf("unexpected messages %+v", l.got)
	}
	if _, err := (&Pipeline{LLM: &fakeLLM{reply: " "}}).GenerateReply(context.Background(), nil, ""); !errors.Is(err, llm.ErrGeneration) {
		t.Fatalf("expected generation error for blank reply, got %v", err)
	}
}

func TestOrchestrator_CloseKeepsSessionOpen(t *testing.T) {
	s := newBegunSession(t, interview.ModeSequential, "Q1")
	o, sink := startOrchestrator(t, s, &fakeTranscriber{}, &fakeGen{})
	o.Close()
	<-o.Done()
	if s.Phase() == interview.PhaseClosed {
		t.Fatalf("detaching must not close the session")
	}
	if sink.has("status", StatusEnded) {
		t.Fatalf("no ended status on detach")
	}
	if !o.Ended() {
		t.Fatalf("expected orchestrator stopped")
	}
}
