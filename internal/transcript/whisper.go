package transcript

import (
	"bytes"
	"context"
	"strings"

	"github.com/nicolascatez-wq/xhec-interview-coach/internal/audio"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// WhisperClient transcribes a whole recorded turn with the OpenAI audio API.
type WhisperClient struct {
	apiKey     string
	language   string
	sampleRate int
	model      openai.AudioModel
	client     openai.Client
}

// NewWhisperClient returns a client expecting mono PCM16LE at sampleRate.
func NewWhisperClient(apiKey, language string, sampleRate int, opts ...option.RequestOption) *WhisperClient {
	if language == "" {
		language = "fr"
	}
	if sampleRate <= 0 {
		sampleRate = audio.DefaultSampleRate
	}
	all := append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &WhisperClient{
		apiKey:     apiKey,
		language:   language,
		sampleRate: sampleRate,
		model:      openai.AudioModelWhisper1,
		client:     openai.NewClient(all...),
	}
}

// Transcribe uploads pcm as a WAV file and returns the recognised text.
func (w *WhisperClient) Transcribe(ctx context.Context, pcm []byte) (string, error) {
	if w.apiKey == "" {
		return "", newErr("whisper", "api key missing")
	}
	if len(pcm) == 0 {
		return "", newErr("whisper", "no audio")
	}
	wav := audio.WAV(pcm, w.sampleRate)
	resp, err := w.client.Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		File:     openai.File(bytes.NewReader(wav), "audio.wav", "audio/wav"),
		Model:    w.model,
		Language: openai.String(w.language),
	})
	if err != nil {
		return "", &Error{Provider: "whisper", Err: err}
	}
	return strings.TrimSpace(resp.Text), nil
}
