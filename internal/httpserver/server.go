package httpserver

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/nicolascatez-wq/xhec-interview-coach/internal/audio"
	"github.com/nicolascatez-wq/xhec-interview-coach/internal/config"
	authmw "github.com/nicolascatez-wq/xhec-interview-coach/internal/middleware"
	"github.com/nicolascatez-wq/xhec-interview-coach/internal/usecase"
)

// Server bundles HTTP router and dependencies.
type Server struct {
	Router http.Handler
}

// New constructs the HTTP server with routes.
func New(cfg config.Config, coach usecase.CoachService) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	// Browser clients are served from another origin.
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAuthorization, "X-Auth-Token"},
	}))
	e.Use(authmw.AccessToken(func() string { return cfg.AccessToken }))

	h := NewHandlers(coach, Options{
		AccessToken: cfg.AccessToken,
		Format:      audio.Format{SampleRate: cfg.SampleRate, FrameDuration: cfg.FrameDuration},
		Providers: map[string]string{
			"llm":     cfg.LLMProvider,
			"stt":     cfg.STTProvider,
			"tts":     cfg.TTSProvider,
			"archive": cfg.ArchiveProvider,
		},
	})
	h.Register(e)
	return &Server{Router: e}
}
