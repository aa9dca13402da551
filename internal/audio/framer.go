package audio

import "sync"

// Framer re-cuts arbitrary PCM16LE chunks into fixed-size frames while keeping
// their order. Synthesis backends deliver audio in whatever sizes the network
// produces; the transport wants frames of one duration.
type Framer struct {
	mu         sync.Mutex
	frameBytes int
	buf        []byte
}

// NewFramer returns a framer emitting frames of f.FrameBytes().
func NewFramer(f Format) *Framer {
	return &Framer{frameBytes: f.FrameBytes()}
}

// Write buffers pcm and returns every full frame now available.
func (w *Framer) Write(pcm []byte) [][]byte {
	if len(pcm) == 0 {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, pcm...)
	var frames [][]byte
	for len(w.buf) >= w.frameBytes {
		frame := make([]byte, w.frameBytes)
		copy(frame, w.buf[:w.frameBytes])
		frames = append(frames, frame)
		n := copy(w.buf, w.buf[w.frameBytes:])
		w.buf = w.buf[:n]
	}
	return frames
}

// Flush returns the buffered partial frame, if any, trimmed to whole samples.
func (w *Framer) Flush() []byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := len(w.buf) &^ 1
	if n == 0 {
		w.buf = w.buf[:0]
		return nil
	}
	tail := make([]byte, n)
	copy(tail, w.buf[:n])
	w.buf = w.buf[:0]
	return tail
}

// Reset drops anything buffered.
func (w *Framer) Reset() {
	w.mu.Lock()
	w.buf = w.buf[:0]
	w.mu.Unlock()
}

// Buffered reports the number of bytes waiting for a full frame.
func (w *Framer) Buffered() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.buf)
}
