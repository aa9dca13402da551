package httpserver

import (
	"context"
	"encoding/base64"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/nicolascatez-wq/xhec-interview-coach/internal/audio"
	"github.com/nicolascatez-wq/xhec-interview-coach/internal/debrief"
	"github.com/nicolascatez-wq/xhec-interview-coach/internal/interview"
	authmw "github.com/nicolascatez-wq/xhec-interview-coach/internal/middleware"
	"github.com/nicolascatez-wq/xhec-interview-coach/internal/rtc"
	"github.com/nicolascatez-wq/xhec-interview-coach/internal/usecase"
)

// Options configure the handlers.
type Options struct {
	AccessToken string
	Format      audio.Format
	Providers   map[string]string
}

type Handlers struct {
	Coach usecase.CoachService
	opts  Options
}

func NewHandlers(coach usecase.CoachService, opts Options) Handlers {
	if opts.Format.SampleRate <= 0 {
		opts.Format = audio.DefaultFormat()
	}
	return Handlers{Coach: coach, opts: opts}
}

func (h Handlers) Register(e *echo.Echo) {
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/health", h.health)

	api := e.Group("/api/session")
	api.POST("", h.prepare)
	api.GET("/:id", h.snapshot)
	api.GET("/:id/intro", h.intro)
	api.GET("/:id/themes", h.themes)
	api.GET("/:id/themes/:theme/questions", h.questions)
	api.POST("/:id/select-theme", h.selectTheme)
	api.POST("/:id/select-question", h.selectQuestion)
	api.POST("/:id/respond", h.respond)
	api.POST("/:id/debrief", h.debrief)
	api.GET("/:id/transcript", h.transcript)
	api.POST("/:id/end", h.end)
	api.GET("/:id/ws", h.channel)
}

func (h Handlers) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":    "ok",
		"sessions":  h.Coach.Sessions(),
		"providers": h.opts.Providers,
	})
}

type prepareRequest struct {
	Mode        string               `json:"mode"`
	DossierText string               `json:"dossier_text"`
	Questions   []interview.Question `json:"questions"`
}

func (h Handlers) prepare(c echo.Context) error {
	var req prepareRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid request body"))
	}
	sess, err := h.Coach.Prepare(req.Mode, req.DossierText, req.Questions)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success":    true,
		"session_id": sess.ID(),
		"mode":       sess.Mode().String(),
		"questions":  sess.Pool().Len(),
	})
}

func (h Handlers) snapshot(c echo.Context) error {
	sess, err := h.Coach.Session(c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, sess.Snapshot())
}

func (h Handlers) intro(c echo.Context) error {
	u, err := h.Coach.Intro(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success":      true,
		"text":         u.Text,
		"audio_base64": encodeAudio(u.Audio),
	})
}

func (h Handlers) themes(c echo.Context) error {
	themes, err := h.Coach.Themes(c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"themes": themes})
}

func (h Handlers) questions(c echo.Context) error {
	theme := c.Param("theme")
	qs, err := h.Coach.Questions(c.Param("id"), theme)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"theme": theme, "questions": qs})
}

type selectThemeRequest struct {
	Theme string `json:"theme"`
}

func (h Handlers) selectTheme(c echo.Context) error {
	var req selectThemeRequest
	if err := c.Bind(&req); err != nil || req.Theme == "" {
		return c.JSON(http.StatusBadRequest, errorBody("theme is required"))
	}
	u, qs, err := h.Coach.SelectTheme(c.Request().Context(), c.Param("id"), req.Theme)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success":      true,
		"theme":        req.Theme,
		"questions":    qs,
		"text":         u.Text,
		"audio_base64": encodeAudio(u.Audio),
	})
}

type selectQuestionRequest struct {
	Theme      string `json:"theme"`
	QuestionID string `json:"question_id"`
	Random     bool   `json:"random"`
}

func (h Handlers) selectQuestion(c echo.Context) error {
	var req selectQuestionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid request body"))
	}
	u, q, err := h.Coach.SelectQuestion(c.Request().Context(), c.Param("id"), req.Theme, req.QuestionID, req.Random)
	if errors.Is(err, interview.ErrThemeExhausted) {
		return c.JSON(http.StatusOK, map[string]any{"success": false, "message": interview.ThemeExhaustedText})
	}
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success":      true,
		"question":     q,
		"text":         u.Text,
		"audio_base64": encodeAudio(u.Audio),
	})
}

// respondRequest accepts JSON or the form field used by the web client.
type respondRequest struct {
	Text     string `json:"text" form:"text"`
	UserText string `json:"user_text" form:"user_text"`
}

func (h Handlers) respond(c echo.Context) error {
	var req respondRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid request body"))
	}
	text := req.Text
	if text == "" {
		text = req.UserText
	}
	res, err := h.Coach.Respond(c.Request().Context(), c.Param("id"), text)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success":      true,
		"type":         res.Type,
		"text":         res.Text,
		"feedback":     res.Feedback,
		"question":     res.Question,
		"audio_base64": encodeAudio(res.Audio),
	})
}

func (h Handlers) debrief(c echo.Context) error {
	res, err := h.Coach.Debrief(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success":      true,
		"debrief":      res.Report,
		"summary_text": res.SummaryText,
		"audio_base64": encodeAudio(res.Audio),
	})
}

func (h Handlers) transcript(c echo.Context) error {
	text, turns, err := h.Coach.Transcript(c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"transcript": text, "raw": turns})
}

func (h Handlers) end(c echo.Context) error {
	if err := h.Coach.End(c.Param("id")); err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true})
}

// channel upgrades to the session's websocket. Without a token on the
// request, the first message must authenticate.
func (h Handlers) channel(c echo.Context) error {
	id := c.Param("id")
	sess, err := h.Coach.Session(id)
	if err != nil {
		return respondError(c, err)
	}
	if sess.Phase() == interview.PhaseClosed {
		return respondError(c, interview.ErrSessionClosed)
	}
	r := c.Request()
	ch, err := rtc.Upgrade(c.Response(), r, id, h.opts.Format)
	if err != nil {
		log.Printf("[%s] %v", id, err)
		return nil
	}
	defer ch.Close()
	if !authmw.TokenOK(r, h.opts.AccessToken) {
		if err := ch.Authenticate(h.opts.AccessToken, 10*time.Second); err != nil {
			log.Printf("[%s] channel auth failed: %v", id, err)
			return nil
		}
	}
	// The request context ends with the handler; the channel owns its lifetime.
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()
	go func() {
		select {
		case <-ch.Done():
			cancel()
		case <-ctx.Done():
		}
	}()
	if err := h.Coach.OpenChannel(ctx, id, ch); err != nil {
		log.Printf("[%s] channel: %v", id, err)
		_ = ch.SendError(err.Error())
	}
	return nil
}

func encodeAudio(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return base64.StdEncoding.EncodeToString(b)
}

func errorBody(msg string) map[string]any {
	return map[string]any{"success": false, "error": msg}
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, interview.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, interview.ErrSessionClosed):
		return http.StatusGone
	case errors.Is(err, interview.ErrInvalidPhase),
		errors.Is(err, interview.ErrPoolExhausted),
		errors.Is(err, interview.ErrThemeExhausted),
		errors.Is(err, interview.ErrTimeBudgetExhausted):
		return http.StatusConflict
	case errors.Is(err, interview.ErrInvalidMode),
		errors.Is(err, interview.ErrEmptyDossier),
		errors.Is(err, interview.ErrUnknownTheme),
		errors.Is(err, interview.ErrQuestionUnavailable),
		errors.Is(err, interview.ErrEmptyTurn),
		errors.Is(err, debrief.ErrTooShort):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func respondError(c echo.Context, err error) error {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		log.Printf("request %s %s failed: %v", c.Request().Method, c.Request().URL.Path, err)
	}
	return c.JSON(code, errorBody(err.Error()))
}
