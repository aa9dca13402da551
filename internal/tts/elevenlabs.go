package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
)

// ElevenLabsClient streams speech from the ElevenLabs HTTP streaming endpoint.
type ElevenLabsClient struct {
	APIKey     string
	VoiceID    string
	Model      string
	SampleRate int
	BaseURL    string
	HTTPClient *http.Client
}

func NewElevenLabsClient(apiKey, voiceID string, sampleRate int) *ElevenLabsClient {
	if sampleRate <= 0 {
		sampleRate = 24000
	}
	return &ElevenLabsClient{
		APIKey:     apiKey,
		VoiceID:    voiceID,
		Model:      "eleven_flash_v2_5",
		SampleRate: sampleRate,
		BaseURL:    "https://api.elevenlabs.io",
		HTTPClient: &http.Client{},
	}
}

// StreamPCM synthesizes text as mono PCM16LE at SampleRate.
func (e *ElevenLabsClient) StreamPCM(ctx context.Context, text string) (<-chan []byte, <-chan error) {
	pcmCh := make(chan []byte, 256)
	errCh := make(chan error, 1)
	go func() {
		defer close(pcmCh)
		defer close(errCh)
		if e.APIKey == "" || e.VoiceID == "" {
			errCh <- fmt.Errorf("elevenlabs: api key or voice id missing")
			return
		}
		if text == "" {
			return
		}
		if err := e.httpStream(ctx, text, pcmCh); err != nil && ctx.Err() == nil {
			errCh <- err
		}
	}()
	return pcmCh, errCh
}

func (e *ElevenLabsClient) httpStream(ctx context.Context, text string, pcmCh chan<- []byte) error {
	u, err := url.Parse(e.BaseURL)
	if err != nil {
		return fmt.Errorf("elevenlabs: base url: %w", err)
	}
	u = u.JoinPath("/v1/text-to-speech", e.VoiceID, "stream")
	q := u.Query()
	q.Set("output_format", fmt.Sprintf("pcm_%d", e.SampleRate))
	// 0..4, lower trades quality for latency
	q.Set("optimize_streaming_latency", "2")
	u.RawQuery = q.Encode()

	body := map[string]any{
		"model_id": e.Model,
		"text":     text,
		"voice_settings": map[string]any{
			"stability":         0.4,
			"similarity_boost":  0.7,
			"style":             0.0,
			"use_speaker_boost": true,
		},
	}
	buf, _ := json.Marshal(body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("xi-api-key", e.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("elevenlabs: http stream error: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("elevenlabs: http status=%d body=%s", resp.StatusCode, string(b))
	}

	bufChunk := make([]byte, 4096)
	logged := false
	for {
		n, rerr := resp.Body.Read(bufChunk)
		if n > 0 {
			if !logged {
				log.Printf("elevenlabs: receiving audio stream (%d bytes first chunk)", n)
				logged = true
			}
			out := make([]byte, n)
			copy(out, bufChunk[:n])
			if !send(ctx, pcmCh, out) {
				return ctx.Err()
			}
		}
		if rerr != nil {
			if rerr == io.EOF {
				return nil
			}
			return fmt.Errorf("elevenlabs: http read error: %w", rerr)
		}
	}
}
