package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/openai/openai-go/option"

	"github.com/nicolascatez-wq/xhec-interview-coach/internal/agent"
	"github.com/nicolascatez-wq/xhec-interview-coach/internal/audio"
	"github.com/nicolascatez-wq/xhec-interview-coach/internal/barge"
	"github.com/nicolascatez-wq/xhec-interview-coach/internal/config"
	"github.com/nicolascatez-wq/xhec-interview-coach/internal/debrief"
	httpserver "github.com/nicolascatez-wq/xhec-interview-coach/internal/httpserver"
	"github.com/nicolascatez-wq/xhec-interview-coach/internal/infra/storage"
	"github.com/nicolascatez-wq/xhec-interview-coach/internal/interview"
	"github.com/nicolascatez-wq/xhec-interview-coach/internal/llm"
	"github.com/nicolascatez-wq/xhec-interview-coach/internal/transcript"
	"github.com/nicolascatez-wq/xhec-interview-coach/internal/tts"
	"github.com/nicolascatez-wq/xhec-interview-coach/internal/usecase"
)

func main() {
	// Include sub-second precision in all log timestamps
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	cfg := config.Load()
	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	backends := buildBackends(ctx, cfg)
	store := interview.NewStore(interview.StoreConfig{
		Fallback:        cfg.FallbackQuestions,
		TimeBudget:      cfg.TimeBudget,
		MaxQuestions:    cfg.MaxQuestions,
		DeferFeedback:   cfg.DeferFeedback,
		ProgramContext:  cfg.ProgramContext,
		IdleTimeout:     cfg.SessionIdleTimeout,
		ClosedRetention: cfg.SessionClosedRetention,
	})
	go store.Run(ctx, time.Minute)

	opts := usecase.Options{Format: audio.Format{SampleRate: cfg.SampleRate, FrameDuration: cfg.FrameDuration}}
	if cfg.BargeIn {
		bc := barge.DefaultConfig(cfg.SampleRate)
		bc.Threshold = cfg.BargeThreshold
		opts.Barge = &bc
	}
	coach := usecase.NewCoachService(store, backends, buildArchive(cfg), opts)

	srv := httpserver.New(cfg, coach)

	server := &http.Server{
		Addr:              cfg.HTTPAddress,
		Handler:           srv.Router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Start server in background
	serverErrors := make(chan error, 1)
	go func() {
		log.Printf("server listening on %s", cfg.HTTPAddress)
		serverErrors <- server.ListenAndServe()
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	case sig := <-sigChan:
		log.Printf("shutdown signal received: %v", sig)
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = server.Close()
	}
}

type languageBackend interface {
	agent.LLM
	debrief.JSONLLM
}

func buildBackends(ctx context.Context, cfg config.Config) usecase.Backends {
	var openaiOpts []option.RequestOption
	if cfg.OpenAIBaseURL != "" {
		openaiOpts = append(openaiOpts, option.WithBaseURL(cfg.OpenAIBaseURL))
	}

	var lang languageBackend
	switch cfg.LLMProvider {
	case "cerebras":
		lang = llm.NewCerebrasClient(cfg.CerebrasKey, cfg.CerebrasModelID).WithMaxTokens(int64(cfg.LLMMaxTokens))
	case "gemini":
		g, err := llm.NewGeminiClient(ctx, cfg.GeminiKey, cfg.GeminiModel)
		if err != nil {
			log.Printf("gemini client unavailable, falling back to OpenAI: %v", err)
			lang = llm.NewOpenAIClient(cfg.OpenAIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel).WithMaxTokens(int64(cfg.LLMMaxTokens))
		} else {
			lang = g
		}
	default:
		lang = llm.NewOpenAIClient(cfg.OpenAIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel).WithMaxTokens(int64(cfg.LLMMaxTokens))
	}

	var tr agent.Transcriber
	switch cfg.STTProvider {
	case "assemblyai":
		tr = transcript.NewAssemblyAIClient(cfg.AssemblyAIKey, cfg.SampleRate)
	default:
		tr = transcript.NewWhisperClient(cfg.OpenAIKey, cfg.TranscriptionLanguage, cfg.SampleRate, openaiOpts...)
	}

	var speech agent.TTS
	switch cfg.TTSProvider {
	case "none":
	case "deepgram":
		speech = tts.NewDeepgramClient(cfg.DeepgramKey, cfg.DeepgramModel, cfg.SampleRate)
	case "elevenlabs":
		speech = tts.NewElevenLabsClient(cfg.ElevenLabsKey, cfg.ElevenLabsVoiceID, cfg.SampleRate)
	default:
		speech = tts.NewOpenAIClient(cfg.OpenAIKey, cfg.OpenAIVoice, openaiOpts...)
	}

	return usecase.Backends{LLM: lang, Debrief: lang, Transcriber: tr, TTS: speech}
}

func buildArchive(cfg config.Config) usecase.Storage {
	switch cfg.ArchiveProvider {
	case "supabase":
		s, err := storage.NewSupabaseStorage(storage.SupabaseConfig{
			URL:            cfg.SupabaseURL,
			ServiceRoleKey: cfg.SupabaseServiceRoleKey,
			Bucket:         cfg.SupabaseBucket,
		})
		if err != nil {
			log.Printf("archive disabled: %v", err)
			return storage.Nop{}
		}
		return s
	case "local":
		return storage.NewLocalStorage(cfg.ArchiveDir)
	}
	return storage.Nop{}
}
