package interview

import (
	"fmt"
	"math/rand/v2"
	"strings"
)

// DefaultTheme labels questions that came without a theme.
const DefaultTheme = "Général"

// Question is one prepared interview question.
type Question struct {
	ID         string `json:"id"`
	Text       string `json:"question"`
	Theme      string `json:"theme"`
	Difficulty string `json:"difficulty,omitempty"`
	// Answer is the candidate's own prepared answer, if any.
	Answer string `json:"answer,omitempty"`
}

// ThemeCount is one entry of Pool.Themes.
type ThemeCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Pool is an ordered, read-only list of questions.
type Pool struct {
	questions []Question
	byID      map[string]int
}

// NewPool copies qs, drops blank entries, fills missing themes and assigns
// ids ("q001", "q002", ...) to entries without a unique one. File order is kept.
func NewPool(qs []Question) Pool {
	p := Pool{byID: make(map[string]int, len(qs))}
	for _, q := range qs {
		q.Text = strings.TrimSpace(q.Text)
		if q.Text == "" {
			continue
		}
		q.Theme = strings.TrimSpace(q.Theme)
		if q.Theme == "" {
			q.Theme = DefaultTheme
		}
		q.ID = strings.TrimSpace(q.ID)
		if _, dup := p.byID[q.ID]; q.ID == "" || dup {
			q.ID = p.freeID()
		}
		p.byID[q.ID] = len(p.questions)
		p.questions = append(p.questions, q)
	}
	return p
}

func (p Pool) freeID() string {
	for n := len(p.questions) + 1; ; n++ {
		id := fmt.Sprintf("q%03d", n)
		if _, taken := p.byID[id]; !taken {
			return id
		}
	}
}

// Len returns the number of questions.
func (p Pool) Len() int { return len(p.questions) }

// Questions returns a copy of the pool in file order.
func (p Pool) Questions() []Question {
	out := make([]Question, len(p.questions))
	copy(out, p.questions)
	return out
}

// Get looks a question up by id.
func (p Pool) Get(id string) (Question, bool) {
	i, ok := p.byID[id]
	if !ok {
		return Question{}, false
	}
	return p.questions[i], true
}

// Themes lists distinct themes in order of first appearance with their sizes.
func (p Pool) Themes() []ThemeCount {
	var out []ThemeCount
	idx := map[string]int{}
	for _, q := range p.questions {
		k := strings.ToLower(q.Theme)
		if i, ok := idx[k]; ok {
			out[i].Count++
			continue
		}
		idx[k] = len(out)
		out = append(out, ThemeCount{Name: q.Theme, Count: 1})
	}
	return out
}

func (p Pool) canonicalTheme(theme string) (string, bool) {
	theme = strings.TrimSpace(theme)
	for _, q := range p.questions {
		if strings.EqualFold(q.Theme, theme) {
			return q.Theme, true
		}
	}
	return "", false
}

// Unasked lists questions of theme not in asked, in file order. An empty
// theme means the whole pool. Listing never marks anything asked.
func (p Pool) Unasked(theme string, asked map[string]bool) []Question {
	var out []Question
	for _, q := range p.questions {
		if theme != "" && !strings.EqualFold(q.Theme, theme) {
			continue
		}
		if asked[q.ID] {
			continue
		}
		out = append(out, q)
	}
	return out
}

// NextInOrder returns the first unasked question of the whole pool.
func (p Pool) NextInOrder(asked map[string]bool) (Question, bool) {
	for _, q := range p.questions {
		if !asked[q.ID] {
			return q, true
		}
	}
	return Question{}, false
}

// Pick chooses among the unasked questions of theme: uniformly at random when
// random is set, otherwise the first in file order.
func (p Pool) Pick(theme string, asked map[string]bool, random bool, rng *rand.Rand) (Question, bool) {
	candidates := p.Unasked(theme, asked)
	if len(candidates) == 0 {
		return Question{}, false
	}
	if !random {
		return candidates[0], true
	}
	if rng == nil {
		return candidates[rand.IntN(len(candidates))], true
	}
	return candidates[rng.IntN(len(candidates))], true
}
