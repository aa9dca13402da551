// Package debrief turns a finished coaching session into a structured report.
package debrief

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/kaptinlin/jsonrepair"

	"github.com/nicolascatez-wq/xhec-interview-coach/internal/interview"
	"github.com/nicolascatez-wq/xhec-interview-coach/internal/llm"
)

// MinTurns is the shortest history worth debriefing.
const MinTurns = 2

// ErrTooShort is returned when the session has fewer than MinTurns turns.
var ErrTooShort = errors.New("debrief: not enough conversation to debrief")

// Point is one strength or improvement area.
type Point struct {
	Title  string `json:"titre"`
	Detail string `json:"detail"`
	Advice string `json:"conseil,omitempty"`
}

// Score is the overall mark, formatted "X/10", with a short comment.
type Score struct {
	Value   string `json:"score"`
	Comment string `json:"commentaire"`
}

// Report is the structured debrief returned to the client.
type Report struct {
	Strengths    []Point `json:"points_forts"`
	Improvements []Point `json:"points_amelioration"`
	OverallScore Score   `json:"note_globale"`
	NextGoal     string  `json:"prochain_objectif"`
	// Degraded is set when the language backend could not produce a report.
	Degraded bool `json:"degraded,omitempty"`
}

// JSONLLM generates a reply constrained to a JSON object.
type JSONLLM interface {
	GenerateJSON(ctx context.Context, msgs []llm.Message) (string, error)
}

// Generator produces reports with a language backend.
type Generator struct {
	LLM JSONLLM
	// Attempts is the number of requests made before giving up; 2 when zero.
	Attempts int
	// Timeout bounds each request; 60s when zero.
	Timeout time.Duration
}

// NewGenerator returns a Generator with default settings.
func NewGenerator(l JSONLLM) *Generator {
	return &Generator{LLM: l, Attempts: 2, Timeout: 60 * time.Second}
}

// Generate analyses history. It fails only when history is too short or ctx
// is done; backend or parse failures yield a degraded report.
func (g *Generator) Generate(ctx context.Context, mode interview.Mode, history []interview.Turn) (*Report, error) {
	if len(history) < MinTurns {
		return nil, ErrTooShort
	}
	attempts := g.Attempts
	if attempts <= 0 {
		attempts = 2
	}
	timeout := g.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	msgs := []llm.Message{llm.User(Prompt(mode, history))}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r, err := g.once(ctx, timeout, msgs)
		if err == nil {
			return r, nil
		}
		lastErr = err
		log.Printf("debrief attempt %d/%d failed: %v", i+1, attempts, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return Degraded(lastErr), nil
}

func (g *Generator) once(ctx context.Context, timeout time.Duration, msgs []llm.Message) (*Report, error) {
	if g.LLM == nil {
		return nil, errors.New("no language backend configured")
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	raw, err := g.LLM.GenerateJSON(cctx, msgs)
	if err != nil {
		return nil, err
	}
	return Parse(raw)
}

// Parse decodes a report, repairing malformed JSON when needed. A report
// without any section is rejected.
func Parse(raw string) (*Report, error) {
	var r Report
	if err := unmarshalJSON([]byte(trimFence(raw)), &r); err != nil {
		return nil, fmt.Errorf("parse report: %w", err)
	}
	if len(r.Strengths) == 0 && len(r.Improvements) == 0 && r.OverallScore.Value == "" && r.NextGoal == "" {
		return nil, errors.New("parse report: empty report")
	}
	return &r, nil
}

func unmarshalJSON(data []byte, v any) error {
	err := json.Unmarshal(data, v)
	if err == nil {
		return nil
	}
	var se *json.SyntaxError
	if errors.As(err, &se) {
		fixed, rerr := jsonrepair.JSONRepair(string(data))
		if rerr != nil {
			return err
		}
		return json.Unmarshal([]byte(fixed), v)
	}
	return err
}

// trimFence drops a markdown code fence around the object, if any.
func trimFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// Degraded is the report returned when no analysis could be produced.
func Degraded(cause error) *Report {
	comment := "Le débrief détaillé n'a pas pu être généré. Relis ton transcript et réessaie dans un instant."
	if cause != nil {
		log.Printf("debrief degraded: %v", cause)
	}
	return &Report{
		Strengths:    []Point{},
		Improvements: []Point{},
		OverallScore: Score{Value: "N/A", Comment: comment},
		Degraded:     true,
	}
}

// SummaryText is the short spoken version of a report.
func SummaryText(r *Report) string {
	if r == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString("Voici mon analyse de ta session. ")
	if r.OverallScore.Value != "" || r.OverallScore.Comment != "" {
		score := r.OverallScore.Value
		if score == "" {
			score = "N/A"
		}
		fmt.Fprintf(&b, "Note globale : %s. %s ", score, r.OverallScore.Comment)
	}
	if r.NextGoal != "" {
		fmt.Fprintf(&b, "Pour ta prochaine session, concentre-toi sur : %s", r.NextGoal)
	}
	return strings.TrimSpace(b.String())
}
