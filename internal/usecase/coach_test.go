package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nicolascatez-wq/xhec-interview-coach/internal/audio"
	"github.com/nicolascatez-wq/xhec-interview-coach/internal/debrief"
	"github.com/nicolascatez-wq/xhec-interview-coach/internal/interview"
	"github.com/nicolascatez-wq/xhec-interview-coach/internal/llm"
	"github.com/nicolascatez-wq/xhec-interview-coach/internal/rtc"
)

type fakeLLM struct {
	mu        sync.Mutex
	reply     string
	err       error
	jsonCalls int
}

func (f *fakeLLM) Generate(ctx context.Context, msgs []llm.Message) (string, error) {
	return f.reply, f.err
}

func (f *fakeLLM) GenerateJSON(ctx context.Context, msgs []llm.Message) (string, error) {
	f.mu.Lock()
	f.jsonCalls++
	f.mu.Unlock()
	return `{"points_forts":[{"titre":"Clarté","detail":"ok"}],"points_amelioration":[],"note_globale":{"score":"7/10","commentaire":"Bien."},"prochain_objectif":"Chiffrer"}`, nil
}

type fakeTTS struct{}

func (fakeTTS) StreamPCM(ctx context.Context, text string) (<-chan []byte, <-chan error) {
	pcm := make(chan []byte, 1)
	errc := make(chan error)
	pcm <- make([]byte, 8)
	close(pcm)
	close(errc)
	return pcm, errc
}

type fakeTranscriber struct{ text string }

func (f fakeTranscriber) Transcribe(ctx context.Context, pcm []byte) (string, error) {
	return f.text, nil
}

type upload struct {
	key, contentType string
	body             []byte
}

type memStorage struct {
	mu      sync.Mutex
	uploads []upload
}

func (m *memStorage) Upload(key, contentType string, body []byte) error {
	m.mu.Lock()
	m.uploads = append(m.uploads, upload{key, contentType, body})
	m.mu.Unlock()
	return nil
}

func (m *memStorage) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.uploads)
}

func newService(t *testing.T, l *fakeLLM) (CoachService, *memStorage, *interview.Store) {
	t.Helper()
	store := interview.NewStore(interview.StoreConfig{Fallback: true})
	st := &memStorage{}
	svc := NewCoachService(store, Backends{LLM: l, Debrief: l, Transcriber: fakeTranscriber{text: "Ma réponse."}, TTS: fakeTTS{}}, st,
		Options{Format: audio.Format{SampleRate: 1000, FrameDuration: 10 * time.Millisecond}})
	return svc, st, store
}

var twoQuestions = []interview.Question{
	{Text: "Pourquoi X-HEC ?", Theme: "Motivation"},
	{Text: "Parle-moi de ton projet.", Theme: "Projet"},
}

func TestPrepare_InvalidMode(t *testing.T) {
	svc, _, _ := newService(t, &fakeLLM{})
	if _, err := svc.Prepare("karaoke", "dossier", nil); !errors.Is(err, interview.ErrInvalidMode) {
		t.Fatalf("expected ErrInvalidMode, got %v", err)
	}
	sess, err := svc.Prepare("question_by_question", "dossier", nil)
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if sess.Pool().Len() != len(interview.FallbackQuestions()) {
		t.Fatalf("expected fallback questions, got %d", sess.Pool().Len())
	}
}

func TestIntro_UsesGeneratedGreetingAndAudio(t *testing.T) {
	svc, _, _ := newService(t, &fakeLLM{reply: "Salut, je suis ton coach."})
	sess, _ := svc.Prepare("sequential", "dossier", twoQuestions)
	u, err := svc.Intro(context.Background(), sess.ID())
	if err != nil {
		t.Fatalf("intro: %v", err)
	}
	if !strings.HasPrefix(u.Text, "Salut, je suis ton coach.") || !strings.Contains(u.Text, "Pourquoi X-HEC ?") {
		t.Fatalf("unexpected intro %q", u.Text)
	}
	if !bytes.HasPrefix(u.Audio, []byte("RIFF")) {
		t.Fatalf("expected WAV audio")
	}
	if _, err := svc.Intro(context.Background(), sess.ID()); !errors.Is(err, interview.ErrInvalidPhase) {
		t.Fatalf("second intro should fail with ErrInvalidPhase, got %v", err)
	}
}

func TestIntro_FallsBackWhenGenerationFails(t *testing.T) {
	svc, _, _ := newService(t, &fakeLLM{err: errors.New("down")})
	sess, _ := svc.Prepare("timed", "dossier", twoQuestions)
	u, err := svc.Intro(context.Background(), sess.ID())
	if err != nil {
		t.Fatalf("intro: %v", err)
	}
	if !strings.HasPrefix(u.Text, "Bonjour") {
		t.Fatalf("expected default greeting, got %q", u.Text)
	}
}

func TestThematicSelection(t *testing.T) {
	svc, _, _ := newService(t, &fakeLLM{})
	sess, _ := svc.Prepare("thematic", "dossier", twoQuestions)
	if _, err := svc.Intro(context.Background(), sess.ID()); err != nil {
		t.Fatalf("intro: %v", err)
	}
	themes, err := svc.Themes(sess.ID())
	if err != nil || len(themes) != 2 {
		t.Fatalf("themes: %v %v", themes, err)
	}
	_, qs, err := svc.SelectTheme(context.Background(), sess.ID(), "projet")
	if err != nil || len(qs) != 1 {
		t.Fatalf("select theme: %v %v", qs, err)
	}
	u, q, err := svc.SelectQuestion(context.Background(), sess.ID(), "", "", true)
	if err != nil {
		t.Fatalf("select question: %v", err)
	}
	if q.Text != "Parle-moi de ton projet." || u.Text != q.Text {
		t.Fatalf("unexpected question %+v %q", q, u.Text)
	}
	if _, _, err := svc.SelectQuestion(context.Background(), sess.ID(), "Projet", "", false); !errors.Is(err, interview.ErrThemeExhausted) {
		t.Fatalf("expected ErrThemeExhausted, got %v", err)
	}
	left, _ := svc.Questions(sess.ID(), "Projet")
	if len(left) != 0 {
		t.Fatalf("listing should reflect asked questions")
	}
}

func TestDebrief_RequiresConversationAndCaches(t *testing.T) {
	l := &fakeLLM{}
	svc, _, _ := newService(t, l)
	sess, _ := svc.Prepare("sequential", "dossier", twoQuestions)
	if _, err := svc.Intro(context.Background(), sess.ID()); err != nil {
		t.Fatalf("intro: %v", err)
	}
	if _, err := svc.Debrief(context.Background(), sess.ID()); !errors.Is(err, debrief.ErrTooShort) {
		t.Fatalf("expected ErrTooShort, got %v", err)
	}
	if _, err := sess.RecordCandidateTurn("Parce que..."); err != nil {
		t.Fatalf("record: %v", err)
	}
	res, err := svc.Debrief(context.Background(), sess.ID())
	if err != nil {
		t.Fatalf("debrief: %v", err)
	}
	if res.Report.OverallScore.Value != "7/10" || !strings.Contains(res.SummaryText, "Chiffrer") || len(res.Audio) == 0 {
		t.Fatalf("unexpected debrief %+v", res)
	}
	if sess.Phase() != interview.PhaseDebriefed {
		t.Fatalf("expected debriefed, got %s", sess.Phase())
	}
	again, _ := svc.Debrief(context.Background(), sess.ID())
	if again != res || l.jsonCalls != 1 {
		t.Fatalf("debrief should be cached")
	}
}

func TestEnd_ArchivesOnce(t *testing.T) {
	svc, st, _ := newService(t, &fakeLLM{})
	sess, _ := svc.Prepare("sequential", "dossier", twoQuestions)
	_, _ = svc.Intro(context.Background(), sess.ID())
	if err := svc.End(sess.ID()); err != nil {
		t.Fatalf("end: %v", err)
	}
	if err := svc.End(sess.ID()); err != nil {
		t.Fatalf("second end: %v", err)
	}
	if st.count() != 2 {
		t.Fatalf("expected transcript and record uploads, got %d", st.count())
	}
	if !strings.HasSuffix(st.uploads[0].key, sess.ID()+"/transcript.txt") || !strings.HasPrefix(string(st.uploads[0].body), "Coach: ") {
		t.Fatalf("unexpected transcript upload %+v", st.uploads[0])
	}
	if _, _, err := svc.SelectQuestion(context.Background(), sess.ID(), "", "", false); !errors.Is(err, interview.ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed, got %v", err)
	}
	if text, _, err := svc.Transcript(sess.ID()); err != nil || text == "" {
		t.Fatalf("transcript should remain readable: %q %v", text, err)
	}
	if err := svc.End("missing"); !errors.Is(err, interview.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

// scriptedChannel runs script as the client side of the channel.
type scriptedChannel struct {
	mu     sync.Mutex
	events []string
	script func(h rtc.Handler, c *scriptedChannel)
}

func (c *scriptedChannel) add(e string) error {
	c.mu.Lock()
	c.events = append(c.events, e)
	c.mu.Unlock()
	return nil
}

func (c *scriptedChannel) SendAudio(pcm []byte) error             { return c.add("audio") }
func (c *scriptedChannel) SendTranscript(role, text string) error { return c.add(role + ":" + text) }
func (c *scriptedChannel) SendStatus(status string) error         { return c.add("status:" + status) }
func (c *scriptedChannel) SendError(msg string) error             { return c.add("error:" + msg) }

func (c *scriptedChannel) Serve(ctx context.Context, h rtc.Handler) error {
	c.script(h, c)
	return nil
}

func (c *scriptedChannel) has(prefix string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.events {
		if strings.HasPrefix(e, prefix) {
			return true
		}
	}
	return false
}

func waitFor(t *testing.T, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

func TestOpenChannel_VoiceTurnThenEnd(t *testing.T) {
	svc, st, _ := newService(t, &fakeLLM{reply: "Bonne réponse."})
	sess, _ := svc.Prepare("sequential", "dossier", twoQuestions)
	ch := &scriptedChannel{}
	ch.script = func(h rtc.Handler, c *scriptedChannel) {
		if !waitFor(t, func() bool { return c.has("status:listening") }) {
			t.Errorf("opening was not spoken")
			return
		}
		h.OnAudio(make([]byte, 20))
		h.OnCommit()
		if !waitFor(t, func() bool { return c.has("assistant:Question suivante") }) {
			t.Errorf("turn did not advance")
		}
		h.OnEnd()
	}
	if err := svc.OpenChannel(context.Background(), sess.ID(), ch); err != nil {
		t.Fatalf("open channel: %v", err)
	}
	if !ch.has("user:Ma réponse.") || !ch.has("status:ended") {
		t.Fatalf("unexpected events %v", ch.events)
	}
	if sess.Phase() != interview.PhaseClosed || st.count() != 2 {
		t.Fatalf("end over the channel should close and archive the session")
	}
	if err := svc.OpenChannel(context.Background(), sess.ID(), ch); !errors.Is(err, interview.ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed, got %v", err)
	}
}

func TestOpenChannel_DisconnectKeepsSession(t *testing.T) {
	svc, st, _ := newService(t, &fakeLLM{reply: "ok"})
	sess, _ := svc.Prepare("thematic", "dossier", twoQuestions)
	ch := &scriptedChannel{script: func(h rtc.Handler, c *scriptedChannel) {}}
	if err := svc.OpenChannel(context.Background(), sess.ID(), ch); err != nil {
		t.Fatalf("open channel: %v", err)
	}
	if sess.Phase() == interview.PhaseClosed || st.count() != 0 {
		t.Fatalf("disconnect must not end the session")
	}
	if _, _, err := svc.SelectTheme(context.Background(), sess.ID(), "Motivation"); err != nil {
		t.Fatalf("session should stay usable: %v", err)
	}
}

func TestEvictionArchives(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	store := interview.NewStore(interview.StoreConfig{IdleTimeout: time.Minute, Now: clock})
	st := &memStorage{}
	svc := NewCoachService(store, Backends{}, st, Options{})
	sess, err := svc.Prepare("sequential", "dossier", twoQuestions)
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if _, err := svc.Intro(context.Background(), sess.ID()); err != nil {
		t.Fatalf("intro: %v", err)
	}
	now = now.Add(2 * time.Minute)
	if n := store.Sweep(); n != 1 {
		t.Fatalf("expected 1 eviction, got %d", n)
	}
	if st.count() != 2 {
		t.Fatalf("idle eviction should archive, got %d uploads", st.count())
	}
	var rec archiveRecord
	for _, u := range st.uploads {
		if strings.HasSuffix(u.key, "/session.json") {
			if err := json.Unmarshal(u.body, &rec); err != nil {
				t.Fatalf("decode record: %v", err)
			}
		}
	}
	if len(rec.Questions) != len(twoQuestions) || rec.Questions[1].Theme != "Projet" {
		t.Fatalf("record should carry the question pool, got %+v", rec.Questions)
	}
}

func TestRespond_TimedAcknowledgesThenAsks(t *testing.T) {
	svc, _, _ := newService(t, &fakeLLM{reply: "Merci."})
	sess, _ := svc.Prepare("timed", "dossier", twoQuestions)
	if _, err := svc.Intro(context.Background(), sess.ID()); err != nil {
		t.Fatalf("intro: %v", err)
	}
	res, err := svc.Respond(context.Background(), sess.ID(), "Je m'appelle Léa.")
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if res.Type != RespondNextQuestion || res.Feedback != "Merci." || res.Question == nil {
		t.Fatalf("unexpected response %+v", res)
	}
	if !strings.HasPrefix(res.Text, "Merci. ") || !strings.Contains(res.Text, res.Question.Text) {
		t.Fatalf("text should carry the acknowledgement and the question: %q", res.Text)
	}
	if !bytes.HasPrefix(res.Audio, []byte("RIFF")) {
		t.Fatalf("expected WAV audio")
	}
	if q, open := sess.CurrentQuestion(); !open || q.ID != res.Question.ID {
		t.Fatalf("question should be open")
	}
}

func TestRespond_GenerationFailureStillAdvances(t *testing.T) {
	svc, _, _ := newService(t, &fakeLLM{err: &llm.Error{Provider: "fake", Err: errors.New("down")}})
	sess, _ := svc.Prepare("sequential", "dossier", twoQuestions)
	_, _ = svc.Intro(context.Background(), sess.ID())
	res, err := svc.Respond(context.Background(), sess.ID(), "Parce que...")
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if res.Type != RespondNextQuestion || res.Feedback != "" || !strings.Contains(res.Text, "Parle-moi de ton projet.") {
		t.Fatalf("unexpected response %+v", res)
	}

	them, _ := svc.Prepare("thematic", "dossier", twoQuestions)
	_, _ = svc.Intro(context.Background(), them.ID())
	if _, err := svc.Respond(context.Background(), them.ID(), "Bonjour."); !errors.Is(err, llm.ErrGeneration) {
		t.Fatalf("thematic turn without reply should fail, got %v", err)
	}
}

// gatedLLM holds debrief generation until release is closed.
type gatedLLM struct {
	fakeLLM
	entered chan struct{}
	release chan struct{}
}

func (g *gatedLLM) GenerateJSON(ctx context.Context, msgs []llm.Message) (string, error) {
	g.entered <- struct{}{}
	<-g.release
	return g.fakeLLM.GenerateJSON(ctx, msgs)
}

func TestDebrief_ConcurrentCallersShareOneAnalysis(t *testing.T) {
	g := &gatedLLM{entered: make(chan struct{}, 2), release: make(chan struct{})}
	store := interview.NewStore(interview.StoreConfig{Fallback: true})
	svc := NewCoachService(store, Backends{LLM: g, Debrief: g, Transcriber: fakeTranscriber{}}, &memStorage{}, Options{})
	sess, _ := svc.Prepare("sequential", "dossier", twoQuestions)
	_, _ = svc.Intro(context.Background(), sess.ID())
	if _, err := sess.RecordCandidateTurn("Parce que..."); err != nil {
		t.Fatalf("record: %v", err)
	}

	results := make(chan *DebriefResult, 2)
	for i := 0; i < 2; i++ {
		go func() {
			r, err := svc.Debrief(context.Background(), sess.ID())
			if err != nil {
				t.Errorf("debrief: %v", err)
			}
			results <- r
		}()
	}
	<-g.entered
	time.Sleep(20 * time.Millisecond)
	close(g.release)
	a, b := <-results, <-results
	if a == nil || a != b {
		t.Fatalf("callers should share one result")
	}
	if g.jsonCalls != 1 {
		t.Fatalf("expected one analysis, got %d", g.jsonCalls)
	}
	n := 0
	for _, turn := range sess.History() {
		if turn.Text == a.SummaryText {
			n++
		}
	}
	if n != 1 {
		t.Fatalf("summary recorded %d times", n)
	}
}
