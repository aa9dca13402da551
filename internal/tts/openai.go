package tts

import (
	"context"
	"fmt"
	"io"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIClient synthesizes speech with the OpenAI audio API. Its pcm output
// is fixed at 24 kHz mono PCM16LE.
type OpenAIClient struct {
	apiKey string
	voice  string
	model  openai.SpeechModel
	client openai.Client
}

func NewOpenAIClient(apiKey, voice string, opts ...option.RequestOption) *OpenAIClient {
	if voice == "" {
		voice = "alloy"
	}
	all := append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &OpenAIClient{apiKey: apiKey, voice: voice, model: openai.SpeechModelTTS1, client: openai.NewClient(all...)}
}

// StreamPCM synthesizes text as 24 kHz mono PCM16LE.
func (o *OpenAIClient) StreamPCM(ctx context.Context, text string) (<-chan []byte, <-chan error) {
	pcmCh := make(chan []byte, 256)
	errCh := make(chan error, 1)
	go func() {
		defer close(pcmCh)
		defer close(errCh)
		if o.apiKey == "" {
			errCh <- fmt.Errorf("openai tts: api key missing")
			return
		}
		if text == "" {
			return
		}
		resp, err := o.client.Audio.Speech.New(ctx, openai.AudioSpeechNewParams{
			Input:          text,
			Model:          o.model,
			Voice:          openai.AudioSpeechNewParamsVoice(o.voice),
			ResponseFormat: openai.AudioSpeechNewParamsResponseFormatPCM,
		})
		if err != nil {
			if ctx.Err() == nil {
				errCh <- fmt.Errorf("openai tts: %w", err)
			}
			return
		}
		defer resp.Body.Close()
		buf := make([]byte, 4096)
		for {
			n, rerr := resp.Body.Read(buf)
			if n > 0 {
				out := make([]byte, n)
				copy(out, buf[:n])
				if !send(ctx, pcmCh, out) {
					return
				}
			}
			if rerr != nil {
				if rerr != io.EOF && ctx.Err() == nil {
					errCh <- fmt.Errorf("openai tts: read: %w", rerr)
				}
				return
			}
		}
	}()
	return pcmCh, errCh
}
