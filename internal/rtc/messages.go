package rtc

// Client to server message types.
const (
	TypeAuth      = "auth"
	TypeAudio     = "audio"
	TypeCommit    = "commit"
	TypeInterrupt = "interrupt"
	TypeEnd       = "end"
)

// Server to client message types.
const (
	TypeTranscript = "transcript"
	TypeStatus     = "status"
	TypeError      = "error"
)

// inbound is the union of client messages. Types: "auth", "audio",
// "commit", "interrupt", "end".
type inbound struct {
	Type string `json:"type"`
	// audio: base64 PCM16LE frame
	Data string `json:"data,omitempty"`
	// auth
	Password string `json:"password,omitempty"`
}

// Outbound messages, one struct per type so each carries only its fields.
type audioMessage struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

type transcriptMessage struct {
	Type string `json:"type"`
	Role string `json:"role"`
	Text string `json:"text"`
}

type statusMessage struct {
	Type   string `json:"type"`
	Status string `json:"status"`
}

type errorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
