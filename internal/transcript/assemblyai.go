package transcript

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nicolascatez-wq/xhec-interview-coach/internal/audio"
)

const assemblyAIStreamingURL = "wss://streaming.assemblyai.com/v3/ws"

// AssemblyAIClient transcribes a recorded turn through the AssemblyAI v3
// streaming API: the audio is replayed in chunks, the session is terminated,
// and every finished turn is collected until the Termination message.
type AssemblyAIClient struct {
	APIKey     string
	URL        string
	SampleRate int
	// ChunkDuration is the size of each audio message; the API accepts 50 ms to 1 s.
	ChunkDuration time.Duration
	Dialer        *websocket.Dialer
}

// NewAssemblyAIClient returns a client expecting mono PCM16LE at sampleRate.
func NewAssemblyAIClient(apiKey string, sampleRate int) *AssemblyAIClient {
	if sampleRate <= 0 {
		sampleRate = audio.DefaultSampleRate
	}
	return &AssemblyAIClient{
		APIKey:        apiKey,
		URL:           assemblyAIStreamingURL,
		SampleRate:    sampleRate,
		ChunkDuration: 100 * time.Millisecond,
		Dialer:        &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

type assemblyMessage struct {
	Type       string `json:"type"`
	Transcript string `json:"transcript"`
	TurnOrder  int    `json:"turn_order"`
	EndOfTurn  bool   `json:"end_of_turn"`
	Error      string `json:"error"`
}

func (c *AssemblyAIClient) Transcribe(ctx context.Context, pcm []byte) (string, error) {
	if c.APIKey == "" {
		return "", newErr("assemblyai", "api key missing")
	}
	if len(pcm) == 0 {
		return "", newErr("assemblyai", "no audio")
	}

	params := url.Values{}
	params.Set("sample_rate", strconv.Itoa(c.SampleRate))
	params.Set("encoding", "pcm_s16le")
	params.Set("format_turns", "true")
	wsURL := fmt.Sprintf("%s?%s", c.URL, params.Encode())

	headers := http.Header{"Authorization": {c.APIKey}}
	conn, resp, err := c.Dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			log.Printf("assemblyai: connection failed with status %d", resp.StatusCode)
		}
		return "", &Error{Provider: "assemblyai", Err: err}
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	chunk := audio.Format{SampleRate: c.SampleRate}.BytesInDuration(c.ChunkDuration)
	if chunk <= 0 {
		chunk = len(pcm)
	}
	go func() {
		for off := 0; off < len(pcm); off += chunk {
			end := min(off+chunk, len(pcm))
			if err := conn.WriteMessage(websocket.BinaryMessage, pcm[off:end]); err != nil {
				return
			}
		}
		_ = conn.WriteJSON(map[string]string{"type": "Terminate"})
	}()

	turns := map[int]string{}
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return "", &Error{Provider: "assemblyai", Err: ctx.Err()}
			}
			return "", &Error{Provider: "assemblyai", Err: err}
		}
		var msg assemblyMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("assemblyai: bad message: %v", err)
			continue
		}
		switch msg.Type {
		case "Turn":
			if msg.Transcript != "" {
				turns[msg.TurnOrder] = msg.Transcript
			}
		case "Termination":
			return joinTurns(turns), nil
		case "Error":
			return "", newErr("assemblyai", "%s", msg.Error)
		}
	}
}

func joinTurns(turns map[int]string) string {
	order := make([]int, 0, len(turns))
	for k := range turns {
		order = append(order, k)
	}
	sort.Ints(order)
	parts := make([]string, 0, len(order))
	for _, k := range order {
		if t := strings.TrimSpace(turns[k]); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}
