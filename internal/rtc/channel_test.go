package rtc

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nicolascatez-wq/xhec-interview-coach/internal/audio"
)

var testFormat = audio.Format{SampleRate: 1000, FrameDuration: 10 * time.Millisecond}

type recordingHandler struct {
	mu     sync.Mutex
	events []string
	audio  [][]byte
}

func (h *recordingHandler) add(e string) {
	h.mu.Lock()
	h.events = append(h.events, e)
	h.mu.Unlock()
}

func (h *recordingHandler) OnAudio(pcm []byte) {
	h.mu.Lock()
	h.audio = append(h.audio, pcm)
	h.events = append(h.events, "audio")
	h.mu.Unlock()
}
func (h *recordingHandler) OnCommit()    { h.add("commit") }
func (h *recordingHandler) OnInterrupt() { h.add("interrupt") }
func (h *recordingHandler) OnEnd()       { h.add("end") }

func (h *recordingHandler) snapshot() ([]string, [][]byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.events...), append([][]byte(nil), h.audio...)
}

// serve starts a server running Serve with h; the returned channel yields
// the server-side Channel once connected.
func serve(t *testing.T, h Handler, password string) (*websocket.Conn, <-chan *Channel, <-chan error) {
	t.Helper()
	chans := make(chan *Channel, 1)
	errs := make(chan error, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ch, err := Upgrade(w, r, "test", testFormat)
		if err != nil {
			errs <- err
			return
		}
		if password != "" {
			if err := ch.Authenticate(password, time.Second); err != nil {
				ch.Close()
				errs <- err
				return
			}
		}
		chans <- ch
		errs <- ch.Serve(context.Background(), h)
	}))
	t.Cleanup(srv.Close)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn, chans, errs
}

func frame(b ...byte) map[string]string {
	return map[string]string{"type": "audio", "data": base64.StdEncoding.EncodeToString(b)}
}

func TestChannel_DispatchesInOrder(t *testing.T) {
	h := &recordingHandler{}
	conn, _, errs := serve(t, h, "")
	msgs := []any{
		frame(1, 0),
		frame(2, 0),
		map[string]string{"type": "commit"},
		map[string]string{"type": "interrupt"},
		map[string]string{"type": "end"},
	}
	for _, m := range msgs {
		if err := conn.WriteJSON(m); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	select {
	case err := <-errs:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("serve did not return after end")
	}
	events, frames := h.snapshot()
	if strings.Join(events, ",") != "audio,audio,commit,interrupt,end" {
		t.Fatalf("unexpected events %v", events)
	}
	if frames[0][0] != 1 || frames[1][0] != 2 {
		t.Fatalf("frames out of order: %v", frames)
	}
}

func TestChannel_MalformedAndBadFrames(t *testing.T) {
	h := &recordingHandler{}
	conn, _, _ := serve(t, h, "")
	_ = conn.WriteMessage(websocket.TextMessage, []byte("{not json"))
	_ = conn.WriteJSON(map[string]string{"type": "audio", "data": "!!!"})
	_ = conn.WriteJSON(frame(1, 2, 3))
	_ = conn.WriteJSON(map[string]string{"type": "commit"})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got map[string]string
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got["type"] != TypeError {
		t.Fatalf("expected error event for bad frame, got %v", got)
	}
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got["type"] != TypeError {
		t.Fatalf("expected error event for odd-length frame, got %v", got)
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if events, _ := h.snapshot(); len(events) == 1 && events[0] == "commit" {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	events, _ := h.snapshot()
	t.Fatalf("channel should survive bad input, events %v", events)
}

func TestChannel_SendEvents(t *testing.T) {
	conn, chans, _ := serve(t, &recordingHandler{}, "")
	ch := <-chans
	if err := ch.SendTranscript("assistant", "Bonjour"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := ch.SendAudio([]byte{1, 0, 2, 0}); err != nil {
		t.Fatalf("send audio: %v", err)
	}
	_ = ch.SendStatus("speaking")

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var tr transcriptMessage
	if err := conn.ReadJSON(&tr); err != nil || tr.Type != TypeTranscript || tr.Role != "assistant" || tr.Text != "Bonjour" {
		t.Fatalf("unexpected transcript %+v %v", tr, err)
	}
	var am audioMessage
	if err := conn.ReadJSON(&am); err != nil || am.Data != base64.StdEncoding.EncodeToString([]byte{1, 0, 2, 0}) {
		t.Fatalf("unexpected audio %+v %v", am, err)
	}
	var st statusMessage
	if err := conn.ReadJSON(&st); err != nil || st.Status != "speaking" {
		t.Fatalf("unexpected status %+v %v", st, err)
	}

	ch.Close()
	ch.Close()
	if err := ch.SendStatus("listening"); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestChannel_Authenticate(t *testing.T) {
	h := &recordingHandler{}
	conn, chans, _ := serve(t, h, "secret")
	_ = conn.WriteJSON(map[string]string{"type": "auth", "password": "secret"})
	select {
	case <-chans:
	case <-time.After(2 * time.Second):
		t.Fatalf("auth not accepted")
	}

	conn2, _, errs := serve(t, h, "secret")
	_ = conn2.WriteJSON(map[string]string{"type": "auth", "password": "wrong"})
	select {
	case err := <-errs:
		if err == nil || !strings.Contains(err.Error(), "unauthorized") {
			t.Fatalf("expected unauthorized, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("wrong password not rejected")
	}
}
