// Package rtc carries a coaching session over a websocket: typed JSON
// messages in both directions, with audio as base64 PCM16LE frames.
package rtc

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nicolascatez-wq/xhec-interview-coach/internal/audio"
)

// Handler receives the client's control and audio events in arrival order.
type Handler interface {
	OnAudio(pcm []byte)
	OnCommit()
	OnInterrupt()
	OnEnd()
}

// ErrClosed is returned by Send* once the channel is closed.
var ErrClosed = errors.New("rtc: channel closed")

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  65536,
	WriteBufferSize: 65536,
	CheckOrigin: func(r *http.Request) bool {
		// Browser clients are served from another origin; access is gated by token.
		return true
	},
}

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 25 * time.Second
	maxMessage   = 1 << 20
)

// Channel is one client connection. Writes are serialized; it is safe to
// call the Send methods from several goroutines.
type Channel struct {
	id     string
	conn   *websocket.Conn
	format audio.Format

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

// Upgrade switches an HTTP request to a websocket channel for session id.
func Upgrade(w http.ResponseWriter, r *http.Request, id string, format audio.Format) (*Channel, error) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("ws upgrade: %w", err)
	}
	return NewChannel(conn, id, format), nil
}

// NewChannel wraps an established connection.
func NewChannel(conn *websocket.Conn, id string, format audio.Format) *Channel {
	conn.SetReadLimit(maxMessage)
	return &Channel{id: id, conn: conn, format: format, closed: make(chan struct{})}
}

// Authenticate expects the first message to be {"type":"auth","password":...}.
// It is used when the upgrade request carried no valid token.
func (c *Channel) Authenticate(password string, timeout time.Duration) error {
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	defer func() { _ = c.conn.SetReadDeadline(time.Time{}) }()
	mt, data, err := c.conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("auth required: %w", err)
	}
	if mt != websocket.TextMessage {
		_ = c.SendError("invalid auth frame")
		return errors.New("invalid auth frame")
	}
	var m inbound
	if err := json.Unmarshal(data, &m); err != nil || strings.ToLower(m.Type) != TypeAuth ||
		subtle.ConstantTimeCompare([]byte(m.Password), []byte(password)) != 1 {
		_ = c.SendError("unauthorized")
		return errors.New("unauthorized")
	}
	return nil
}

// Serve reads client messages until the connection drops, ctx is done or
// the client sends "end". Malformed messages are logged and skipped; a
// frame that fails to decode is dropped with an error event.
func (c *Channel) Serve(ctx context.Context, h Handler) error {
	defer c.Close()
	stop := context.AfterFunc(ctx, c.Close)
	defer stop()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go c.pingLoop()

	for {
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || c.isClosed() {
				return nil
			}
			return fmt.Errorf("ws read: %w", err)
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		if mt != websocket.TextMessage {
			log.Printf("[%s] ignoring binary message of %d bytes", c.id, len(data))
			continue
		}
		var m inbound
		if err := json.Unmarshal(data, &m); err != nil {
			log.Printf("[%s] malformed message: %v", c.id, err)
			continue
		}
		switch strings.ToLower(m.Type) {
		case TypeAudio:
			pcm, err := c.format.DecodeFrame(m.Data)
			if err != nil {
				log.Printf("[%s] dropping frame: %v", c.id, err)
				_ = c.SendError(err.Error())
				continue
			}
			h.OnAudio(pcm)
		case TypeCommit:
			h.OnCommit()
		case TypeInterrupt:
			h.OnInterrupt()
		case TypeEnd:
			h.OnEnd()
			c.closeWith(websocket.CloseNormalClosure, "session ended")
			return nil
		case TypeAuth:
		default:
			log.Printf("[%s] unknown message type %q", c.id, m.Type)
		}
	}
}

func (c *Channel) pingLoop() {
	t := time.NewTicker(pingInterval)
	defer t.Stop()
	for {
		select {
		case <-c.closed:
			return
		case <-t.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.writeMu.Unlock()
			if err != nil {
				c.Close()
				return
			}
		}
	}
}

// SendAudio sends one outgoing frame.
func (c *Channel) SendAudio(pcm []byte) error {
	return c.write(audioMessage{Type: TypeAudio, Data: c.format.EncodeFramePCM(pcm)})
}

// SendTranscript sends a transcript line for role "assistant" or "user".
func (c *Channel) SendTranscript(role, text string) error {
	return c.write(transcriptMessage{Type: TypeTranscript, Role: role, Text: text})
}

// SendStatus sends a status change.
func (c *Channel) SendStatus(status string) error {
	return c.write(statusMessage{Type: TypeStatus, Status: status})
}

// SendError sends a non-fatal error event.
func (c *Channel) SendError(message string) error {
	return c.write(errorMessage{Type: TypeError, Message: message})
}

func (c *Channel) write(v any) error {
	if c.isClosed() {
		return ErrClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(v)
}

func (c *Channel) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// Close closes the connection. It is idempotent.
func (c *Channel) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.conn.Close()
	})
}

func (c *Channel) closeWith(code int, reason string) {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
	c.writeMu.Unlock()
	c.Close()
}

// Done is closed when the channel is closed.
func (c *Channel) Done() <-chan struct{} { return c.closed }
