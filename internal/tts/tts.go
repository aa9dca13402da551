package tts

import "context"

// send delivers b unless ctx is cancelled first. Audio is never dropped on a
// full channel; the consumer paces the producer.
func send(ctx context.Context, ch chan<- []byte, b []byte) bool {
	select {
	case ch <- b:
		return true
	case <-ctx.Done():
		return false
	}
}
