package interview

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"
)

// Role identifies who spoke a Turn.
type Role string

const (
	RoleCoach     Role = "coach"
	RoleCandidate Role = "candidate"
)

// Turn is one utterance. Turns are never modified once appended.
type Turn struct {
	Role Role      `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"timestamp"`
	// QuestionID is set on coach turns that pose a question.
	QuestionID string `json:"question_id,omitempty"`
}

const (
	DefaultTimeBudget   = 20 * time.Minute
	DefaultMaxQuestions = 10
)

// Options configures a new Session.
type Options struct {
	Mode    Mode
	Dossier string
	Pool    Pool
	// TimeBudget and MaxQuestions bound a timed simulation.
	TimeBudget   time.Duration
	MaxQuestions int
	// DeferFeedback keeps per-answer feedback for the debrief in every mode.
	DeferFeedback bool
	// ProgramContext describes the master programme to the coach. Optional.
	ProgramContext string
	Rand           *rand.Rand
	Now            func() time.Time
}

// Session is one candidate's interview. All methods are safe for concurrent use.
type Session struct {
	id             string
	mode           Mode
	dossier        string
	programContext string
	pool           Pool
	timeBudget     time.Duration
	maxQuestions   int
	deferFeedback  bool
	rng            *rand.Rand
	now            func() time.Time

	mu           sync.Mutex
	phase        Phase
	asked        map[string]bool
	askedOrder   []string
	current      *Question
	currentTheme string
	presented    bool
	history      []Turn
	answered     int
	report       any
	createdAt    time.Time
	startedAt    time.Time
	closedAt     time.Time
	lastActivity time.Time
}

// New builds a session in PhaseCreated.
func New(id string, opts Options) (*Session, error) {
	if !opts.Mode.Valid() {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMode, opts.Mode)
	}
	if opts.Pool.Len() == 0 {
		return nil, ErrEmptyDossier
	}
	if opts.TimeBudget <= 0 {
		opts.TimeBudget = DefaultTimeBudget
	}
	if opts.MaxQuestions <= 0 {
		opts.MaxQuestions = DefaultMaxQuestions
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	now := opts.Now()
	return &Session{
		id:             id,
		mode:           opts.Mode,
		dossier:        opts.Dossier,
		programContext: strings.TrimSpace(opts.ProgramContext),
		pool:           opts.Pool,
		timeBudget:     opts.TimeBudget,
		maxQuestions:   opts.MaxQuestions,
		deferFeedback:  opts.DeferFeedback,
		rng:            opts.Rand,
		now:            opts.Now,
		phase:          PhaseCreated,
		asked:          map[string]bool{},
		createdAt:      now,
		lastActivity:   now,
	}, nil
}

func (s *Session) ID() string { return s.id }
func (s *Session) Mode() Mode  { return s.mode }
func (s *Session) Pool() Pool  { return s.pool }

// GivesFeedback reports whether the coach comments on each answer.
func (s *Session) GivesFeedback() bool { return s.mode.ImmediateFeedback() && !s.deferFeedback }

func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// CurrentQuestion returns the open question, if any.
func (s *Session) CurrentQuestion() (Question, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return Question{}, false
	}
	return *s.current, true
}

func (s *Session) QuestionsAnswered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.answered
}

// Asked returns asked question ids in the order they were posed.
func (s *Session) Asked() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.askedOrder))
	copy(out, s.askedOrder)
	return out
}

// History returns a copy of all turns.
func (s *Session) History() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Turn, len(s.history))
	copy(out, s.history)
	return out
}

// LastActivity is the time of the last state change.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// ClosedAt returns when End was first called.
func (s *Session) ClosedAt() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closedAt, s.phase == PhaseClosed
}

// Snapshot is a read-only view used by the HTTP surface.
type Snapshot struct {
	ID                string    `json:"session_id"`
	Mode              string    `json:"mode"`
	Phase             string    `json:"phase"`
	CurrentQuestion   *Question `json:"current_question,omitempty"`
	CurrentTheme      string    `json:"current_theme,omitempty"`
	QuestionsAnswered int       `json:"questions_answered"`
	QuestionsAsked    int       `json:"questions_asked"`
	PoolSize          int       `json:"pool_size"`
	Turns             int       `json:"turns"`
	CreatedAt         time.Time `json:"created_at"`
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		ID:                s.id,
		Mode:              s.mode.String(),
		Phase:             s.phase.String(),
		CurrentTheme:      s.currentTheme,
		QuestionsAnswered: s.answered,
		QuestionsAsked:    len(s.askedOrder),
		PoolSize:          s.pool.Len(),
		Turns:             len(s.history),
		CreatedAt:         s.createdAt,
	}
	if s.current != nil {
		q := *s.current
		snap.CurrentQuestion = &q
	}
	return snap
}

// Begin appends the opening coach utterance and enters the mode's first phase.
// intro replaces the built-in greeting when not blank.
func (s *Session) Begin(intro string) (Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkPhase("begin", PhaseCreated); err != nil {
		return Turn{}, err
	}
	greeting := strings.TrimSpace(intro)
	if greeting == "" {
		greeting = defaultGreeting
	}
	s.startedAt = s.now()
	switch s.mode {
	case ModeSequential:
		q, ok := s.pool.NextInOrder(s.asked)
		if !ok {
			return Turn{}, ErrPoolExhausted
		}
		s.pose(q)
		s.phase = PhaseAwaitingAnswer
		return s.appendTurn(RoleCoach, greeting+" "+firstQuestionText(q), q.ID), nil
	case ModeThematic:
		s.phase = PhaseFeedback
		return s.appendTurn(RoleCoach, greeting+" "+themeMenuText(s.pool.Themes()), ""), nil
	case ModeTimed:
		s.phase = PhaseAwaitingPresentation
		return s.appendTurn(RoleCoach, greeting+" "+presentationText(s.timeBudget), ""), nil
	}
	return Turn{}, fmt.Errorf("%w: %v", ErrInvalidMode, s.mode)
}

// RecordCandidateTurn appends the candidate's transcribed answer. If a
// question was open it counts as answered and is closed.
func (s *Session) RecordCandidateTurn(text string) (Turn, error) {
	text = strings.TrimSpace(text)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkPhase("record candidate turn", PhaseAwaitingPresentation, PhaseAwaitingAnswer, PhaseFeedback); err != nil {
		return Turn{}, err
	}
	if text == "" {
		return Turn{}, ErrEmptyTurn
	}
	qid := ""
	if s.current != nil {
		qid = s.current.ID
		s.answered++
		s.current = nil
	}
	if s.phase == PhaseAwaitingPresentation {
		s.presented = true
	}
	s.phase = PhaseFeedback
	return s.appendTurn(RoleCandidate, text, qid), nil
}

// RecordCoachTurn appends a coach utterance that does not pose a question,
// such as feedback, an acknowledgement or the spoken debrief.
func (s *Session) RecordCoachTurn(text string) (Turn, error) {
	text = strings.TrimSpace(text)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkPhase("record coach turn", PhaseAwaitingPresentation, PhaseAwaitingAnswer, PhaseFeedback, PhaseDebriefed); err != nil {
		return Turn{}, err
	}
	if text == "" {
		return Turn{}, ErrEmptyTurn
	}
	return s.appendTurn(RoleCoach, text, ""), nil
}

// Advance poses the next question according to the mode. It returns the
// coach turn that poses it, or one of ErrPoolExhausted,
// ErrTimeBudgetExhausted (both move the session to PhaseDebriefed) or
// ErrThemeExhausted (session unchanged).
func (s *Session) Advance() (Turn, Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkPhase("advance", PhaseFeedback); err != nil {
		return Turn{}, Question{}, err
	}
	if _, ok := s.pool.NextInOrder(s.asked); !ok {
		s.toDebrief()
		return Turn{}, Question{}, ErrPoolExhausted
	}
	var (
		q  Question
		ok bool
	)
	switch s.mode {
	case ModeSequential:
		q, ok = s.pool.NextInOrder(s.asked)
	case ModeTimed:
		if s.now().Sub(s.startedAt) >= s.timeBudget || len(s.askedOrder) >= s.maxQuestions {
			s.toDebrief()
			return Turn{}, Question{}, ErrTimeBudgetExhausted
		}
		q, ok = s.pool.Pick("", s.asked, false, s.rng)
	case ModeThematic:
		if s.currentTheme == "" {
			return Turn{}, Question{}, fmt.Errorf("%w: no theme selected", ErrUnknownTheme)
		}
		q, ok = s.pool.Pick(s.currentTheme, s.asked, false, s.rng)
		if !ok {
			return Turn{}, Question{}, ErrThemeExhausted
		}
	}
	if !ok {
		s.toDebrief()
		return Turn{}, Question{}, ErrPoolExhausted
	}
	s.pose(q)
	s.phase = PhaseAwaitingAnswer
	return s.appendTurn(RoleCoach, nextQuestionText(s.mode, q), q.ID), q, nil
}

// SelectTheme sets the working theme of a thematic session and appends the
// coach's announcement. It returns the unasked questions of the theme.
func (s *Session) SelectTheme(theme string) (Turn, []Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkThematic("select theme"); err != nil {
		return Turn{}, nil, err
	}
	name, ok := s.pool.canonicalTheme(theme)
	if !ok {
		return Turn{}, nil, fmt.Errorf("%w: %q", ErrUnknownTheme, theme)
	}
	s.currentTheme = name
	available := s.pool.Unasked(name, s.asked)
	text := themeSelectedText(name, len(available))
	if len(available) == 0 {
		text = themeExhaustedText
	}
	return s.appendTurn(RoleCoach, text, ""), available, nil
}

// SelectQuestion poses a question of theme in a thematic session: the one
// named by id, a random unasked one, or the first unasked one. A question
// left unanswered is skipped; it stays asked.
func (s *Session) SelectQuestion(theme, id string, random bool) (Turn, Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkThematic("select question"); err != nil {
		return Turn{}, Question{}, err
	}
	if theme == "" {
		theme = s.currentTheme
	}
	name, ok := s.pool.canonicalTheme(theme)
	if !ok {
		return Turn{}, Question{}, fmt.Errorf("%w: %q", ErrUnknownTheme, theme)
	}
	var q Question
	if id != "" {
		q, ok = s.pool.Get(id)
		if !ok || s.asked[id] || !strings.EqualFold(q.Theme, name) {
			return Turn{}, Question{}, fmt.Errorf("%w: %q", ErrQuestionUnavailable, id)
		}
	} else {
		q, ok = s.pool.Pick(name, s.asked, random, s.rng)
		if !ok {
			return Turn{}, Question{}, ErrThemeExhausted
		}
	}
	s.currentTheme = name
	s.pose(q)
	s.phase = PhaseAwaitingAnswer
	return s.appendTurn(RoleCoach, q.Text, q.ID), q, nil
}

// AvailableQuestions lists the unasked questions of theme without marking them.
func (s *Session) AvailableQuestions(theme string) ([]Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	name, ok := s.pool.canonicalTheme(theme)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTheme, theme)
	}
	return s.pool.Unasked(name, s.asked), nil
}

// Themes lists the themes of the pool with the number of unasked questions left.
func (s *Session) Themes() []ThemeCount {
	s.mu.Lock()
	defer s.mu.Unlock()
	themes := s.pool.Themes()
	for i := range themes {
		themes[i].Count = len(s.pool.Unasked(themes[i].Name, s.asked))
	}
	return themes
}

// MarkDebriefed caches the debrief report. A closed session stays closed.
func (s *Session) MarkDebriefed(report any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase == PhaseCreated {
		return &PhaseError{Op: "debrief", Phase: s.phase}
	}
	s.report = report
	if s.phase != PhaseClosed {
		s.current = nil
		s.phase = PhaseDebriefed
	}
	s.lastActivity = s.now()
	return nil
}

// Report returns the cached debrief report.
func (s *Session) Report() (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.report, s.report != nil
}

// End closes the session. It reports whether this call did the closing;
// later calls change nothing.
func (s *Session) End() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase == PhaseClosed {
		return false
	}
	s.phase = PhaseClosed
	s.current = nil
	s.closedAt = s.now()
	s.lastActivity = s.closedAt
	return true
}

// TranscriptText renders the history as "Coach:" and "Vous:" paragraphs.
func (s *Session) TranscriptText() string {
	return FormatTranscript(s.History())
}

// FormatTranscript renders turns as "Coach:" and "Vous:" paragraphs.
func FormatTranscript(turns []Turn) string {
	parts := make([]string, 0, len(turns))
	for _, t := range turns {
		label := "Vous"
		if t.Role == RoleCoach {
			label = "Coach"
		}
		parts = append(parts, label+": "+t.Text)
	}
	return strings.Join(parts, "\n\n")
}

func (s *Session) checkPhase(op string, allowed ...Phase) error {
	if s.phase == PhaseClosed {
		return ErrSessionClosed
	}
	for _, p := range allowed {
		if s.phase == p {
			return nil
		}
	}
	return &PhaseError{Op: op, Phase: s.phase}
}

func (s *Session) checkThematic(op string) error {
	if err := s.checkPhase(op, PhaseAwaitingAnswer, PhaseFeedback); err != nil {
		return err
	}
	if s.mode != ModeThematic {
		return fmt.Errorf("%w: %s requires thematic mode", ErrInvalidMode, op)
	}
	return nil
}

// pose must be called with q unasked.
func (s *Session) pose(q Question) {
	s.asked[q.ID] = true
	s.askedOrder = append(s.askedOrder, q.ID)
	s.current = &q
}

func (s *Session) toDebrief() {
	s.current = nil
	s.phase = PhaseDebriefed
	s.lastActivity = s.now()
}

func (s *Session) appendTurn(role Role, text, questionID string) Turn {
	t := Turn{Role: role, Text: text, At: s.now(), QuestionID: questionID}
	s.history = append(s.history, t)
	s.lastActivity = t.At
	return t
}
