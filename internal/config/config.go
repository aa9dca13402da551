package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	HTTPAddress string
	// AccessToken gates /api routes and the channel when set.
	AccessToken string

	SampleRate    int
	FrameDuration time.Duration

	// LLMProvider is one of "openai", "cerebras", "gemini".
	LLMProvider     string
	OpenAIKey       string
	OpenAIBaseURL   string
	OpenAIModel     string
	CerebrasKey     string
	CerebrasModelID string
	GeminiKey       string
	GeminiModel     string
	// LLMMaxTokens bounds spoken replies on OpenAI-compatible backends.
	LLMMaxTokens int

	// STTProvider is one of "whisper", "assemblyai".
	STTProvider           string
	AssemblyAIKey         string
	TranscriptionLanguage string

	// TTSProvider is one of "openai", "deepgram", "elevenlabs", "none".
	TTSProvider       string
	OpenAIVoice       string
	DeepgramKey       string
	DeepgramModel     string
	ElevenLabsKey     string
	ElevenLabsVoiceID string

	SessionIdleTimeout     time.Duration
	SessionClosedRetention time.Duration
	TimeBudget             time.Duration
	MaxQuestions           int
	DeferFeedback          bool
	FallbackQuestions      bool
	// ProgramContext is loaded from PROGRAM_CONTEXT or the file named by PROGRAM_CONTEXT_FILE.
	ProgramContext string

	BargeIn        bool
	BargeThreshold float64

	// ArchiveProvider is one of "none", "supabase", "local".
	ArchiveProvider        string
	ArchiveDir             string
	SupabaseURL            string
	SupabaseServiceRoleKey string
	SupabaseBucket         string
}

// Load reads environment variables and returns Config with sane defaults.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found or error loading it: %v", err)
	}

	cfg := Config{
		HTTPAddress: getEnv("HTTP_ADDRESS", ":8080"),
		AccessToken: os.Getenv("ACCESS_TOKEN"),

		SampleRate:    getInt("AUDIO_SAMPLE_RATE", 24000),
		FrameDuration: getDuration("AUDIO_FRAME_DURATION", 100*time.Millisecond),

		LLMProvider:     strings.ToLower(getEnv("LLM_PROVIDER", "openai")),
		OpenAIKey:       os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL:   os.Getenv("OPENAI_BASE_URL"),
		OpenAIModel:     getEnv("OPENAI_MODEL", "gpt-4o"),
		CerebrasKey:     os.Getenv("CEREBRAS_API_KEY"),
		CerebrasModelID: getEnv("CEREBRAS_MODEL_ID", "gpt-oss-120b"),
		GeminiKey:       os.Getenv("GEMINI_API_KEY"),
		GeminiModel:     getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		LLMMaxTokens:    getInt("LLM_MAX_TOKENS", 400),

		STTProvider:           strings.ToLower(getEnv("STT_PROVIDER", "whisper")),
		AssemblyAIKey:         os.Getenv("ASSEMBLYAI_API_KEY"),
		TranscriptionLanguage: getEnv("TRANSCRIPTION_LANGUAGE", "fr"),

		TTSProvider:       strings.ToLower(getEnv("TTS_PROVIDER", "openai")),
		OpenAIVoice:       getEnv("OPENAI_TTS_VOICE", "onyx"),
		DeepgramKey:       os.Getenv("DEEPGRAM_API_KEY"),
		DeepgramModel:     getEnv("DEEPGRAM_TTS_MODEL", "aura-2-agathe-fr"),
		ElevenLabsKey:     os.Getenv("ELEVENLABS_API_KEY"),
		ElevenLabsVoiceID: os.Getenv("ELEVENLABS_VOICE_ID"),

		SessionIdleTimeout:     getDuration("SESSION_IDLE_TIMEOUT", 30*time.Minute),
		SessionClosedRetention: getDuration("SESSION_CLOSED_RETENTION", 10*time.Minute),
		TimeBudget:             getDuration("SESSION_TIME_BUDGET", 20*time.Minute),
		MaxQuestions:           getInt("SESSION_MAX_QUESTIONS", 10),
		DeferFeedback:          getBool("DEFER_FEEDBACK", false),
		FallbackQuestions:      getBool("FALLBACK_QUESTIONS", true),
		ProgramContext:         programContext(),

		BargeIn:        getBool("BARGE_IN", false),
		BargeThreshold: getFloat("BARGE_IN_THRESHOLD", 300),

		ArchiveProvider:        strings.ToLower(getEnv("ARCHIVE_PROVIDER", "none")),
		ArchiveDir:             getEnv("ARCHIVE_DIR", "./archive"),
		SupabaseURL:            os.Getenv("SUPABASE_URL"),
		SupabaseServiceRoleKey: os.Getenv("SUPABASE_SERVICE_ROLE_KEY"),
		SupabaseBucket:         getEnv("SUPABASE_BUCKET", "interview-transcripts"),
	}
	cfg.warn()
	log.Printf("config: HTTP_ADDRESS=%s LLM=%s STT=%s TTS=%s ARCHIVE=%s", cfg.HTTPAddress, cfg.LLMProvider, cfg.STTProvider, cfg.TTSProvider, cfg.ArchiveProvider)
	return cfg
}

func (c Config) warn() {
	switch c.LLMProvider {
	case "openai":
		if c.OpenAIKey == "" {
			log.Println("Warning: OPENAI_API_KEY not set - LLM will not work")
		}
	case "cerebras":
		if c.CerebrasKey == "" {
			log.Println("Warning: CEREBRAS_API_KEY not set - LLM will not work")
		}
	case "gemini":
		if c.GeminiKey == "" {
			log.Println("Warning: GEMINI_API_KEY not set - LLM will not work")
		}
	default:
		log.Printf("Warning: unknown LLM_PROVIDER %q", c.LLMProvider)
	}
	switch c.STTProvider {
	case "whisper":
		if c.OpenAIKey == "" {
			log.Println("Warning: OPENAI_API_KEY not set - transcription will not work")
		}
	case "assemblyai":
		if c.AssemblyAIKey == "" {
			log.Println("Warning: ASSEMBLYAI_API_KEY not set - transcription will not work")
		}
	default:
		log.Printf("Warning: unknown STT_PROVIDER %q", c.STTProvider)
	}
	switch c.TTSProvider {
	case "openai":
		if c.OpenAIKey == "" {
			log.Println("Warning: OPENAI_API_KEY not set - TTS will not work")
		}
		if c.SampleRate != 24000 {
			log.Printf("Warning: OpenAI TTS produces 24000 Hz audio but AUDIO_SAMPLE_RATE=%d", c.SampleRate)
		}
	case "deepgram":
		if c.DeepgramKey == "" {
			log.Println("Warning: DEEPGRAM_API_KEY not set - TTS will not work")
		}
	case "elevenlabs":
		if c.ElevenLabsKey == "" {
			log.Println("Warning: ELEVENLABS_API_KEY not set - TTS will not work")
		}
		if c.ElevenLabsVoiceID == "" {
			log.Println("Warning: ELEVENLABS_VOICE_ID not set - set a concrete voice ID from your ElevenLabs dashboard")
		}
	case "none":
	default:
		log.Printf("Warning: unknown TTS_PROVIDER %q", c.TTSProvider)
	}
	if c.ArchiveProvider == "supabase" && (c.SupabaseURL == "" || c.SupabaseServiceRoleKey == "") {
		log.Println("Warning: SUPABASE_URL or SUPABASE_SERVICE_ROLE_KEY not set - archives will be skipped")
	}
}

func programContext() string {
	if v := os.Getenv("PROGRAM_CONTEXT"); v != "" {
		return v
	}
	path := os.Getenv("PROGRAM_CONTEXT_FILE")
	if path == "" {
		return ""
	}
	b, err := os.ReadFile(path)
	if err != nil {
		log.Printf("Warning: cannot read PROGRAM_CONTEXT_FILE: %v", err)
		return ""
	}
	return string(b)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		log.Printf("Warning: invalid %s=%q, using %d", key, v, defaultValue)
		return defaultValue
	}
	return n
}

func getFloat(key string, defaultValue float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		log.Printf("Warning: invalid %s=%q, using %v", key, v, defaultValue)
		return defaultValue
	}
	return f
}

func getBool(key string, defaultValue bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("Warning: invalid %s=%q, using %v", key, v, defaultValue)
		return defaultValue
	}
	return b
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		log.Printf("Warning: invalid %s=%q, using %s", key, v, defaultValue)
		return defaultValue
	}
	return d
}
