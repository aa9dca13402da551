package interview

import (
	"context"
	"fmt"
	"log"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
)

// StoreConfig holds the defaults applied to prepared sessions.
type StoreConfig struct {
	// Fallback enables the built-in question bank for sessions prepared without questions.
	Fallback        bool
	TimeBudget      time.Duration
	MaxQuestions    int
	DeferFeedback   bool
	ProgramContext  string
	IdleTimeout     time.Duration
	ClosedRetention time.Duration
	Now             func() time.Time
	Rand            *rand.Rand
}

// Store is the process-wide session registry. It is created once at start
// and handed to every component that needs session lookup.
type Store struct {
	cfg StoreConfig

	mu       sync.RWMutex
	sessions map[string]*Session
	onEvict  []func(*Session)
}

// NewStore creates an empty registry.
func NewStore(cfg StoreConfig) *Store {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 30 * time.Minute
	}
	if cfg.ClosedRetention <= 0 {
		cfg.ClosedRetention = 10 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Store{cfg: cfg, sessions: make(map[string]*Session)}
}

// OnEvict registers fn to run for every session removed by the janitor.
func (st *Store) OnEvict(fn func(*Session)) {
	st.mu.Lock()
	st.onEvict = append(st.onEvict, fn)
	st.mu.Unlock()
}

// Prepare creates and registers a session. An empty question list falls back
// to the built-in bank when enabled.
func (st *Store) Prepare(mode Mode, dossier string, questions []Question) (*Session, error) {
	if !mode.Valid() {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMode, mode)
	}
	pool := NewPool(questions)
	if pool.Len() == 0 && st.cfg.Fallback {
		pool = NewPool(FallbackQuestions())
	}
	if pool.Len() == 0 {
		return nil, ErrEmptyDossier
	}
	s, err := New(uuid.NewString(), Options{
		Mode:           mode,
		Dossier:        dossier,
		Pool:           pool,
		TimeBudget:     st.cfg.TimeBudget,
		MaxQuestions:   st.cfg.MaxQuestions,
		DeferFeedback:  st.cfg.DeferFeedback,
		ProgramContext: st.cfg.ProgramContext,
		Rand:           st.cfg.Rand,
		Now:            st.cfg.Now,
	})
	if err != nil {
		return nil, err
	}
	st.mu.Lock()
	st.sessions[s.ID()] = s
	st.mu.Unlock()
	log.Printf("[%s] session prepared: mode=%s questions=%d", s.ID(), mode, pool.Len())
	return s, nil
}

// Get returns the session registered under id.
func (st *Store) Get(id string) (*Session, error) {
	st.mu.RLock()
	s, ok := st.sessions[id]
	st.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s, nil
}

// Len returns the number of registered sessions.
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// Sweep evicts idle sessions and closed sessions past their retention. It
// returns the number of sessions removed.
func (st *Store) Sweep() int {
	now := st.cfg.Now()
	var expired []*Session
	st.mu.Lock()
	for id, s := range st.sessions {
		if closedAt, closed := s.ClosedAt(); closed {
			if now.Sub(closedAt) >= st.cfg.ClosedRetention {
				expired = append(expired, s)
				delete(st.sessions, id)
			}
			continue
		}
		if now.Sub(s.LastActivity()) >= st.cfg.IdleTimeout {
			expired = append(expired, s)
			delete(st.sessions, id)
		}
	}
	hooks := st.onEvict
	st.mu.Unlock()
	for _, s := range expired {
		s.End()
		log.Printf("[%s] session evicted", s.ID())
		for _, fn := range hooks {
			fn(s)
		}
	}
	return len(expired)
}

// Run sweeps every interval until ctx is done.
func (st *Store) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st.Sweep()
		}
	}
}
