package audio

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrFraming marks any payload that is not a valid transport frame.
var ErrFraming = errors.New("audio: framing error")

// FramingError reports why a frame was rejected.
type FramingError struct {
	Reason string
	Err    error
}

func (e *FramingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("audio: framing error: %s: %v", e.Reason, e.Err)
	}
	return "audio: framing error: " + e.Reason
}

func (e *FramingError) Unwrap() error { return e.Err }

func (e *FramingError) Is(target error) bool { return target == ErrFraming }

// EncodeSamples converts float samples in [-1, 1] to PCM16LE. Values outside the range are clamped.
func EncodeSamples(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := float64(s)
		if math.IsNaN(v) {
			v = 0
		}
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		binary.LittleEndian.PutUint16(out[2*i:], uint16(int16(math.Round(v*32767))))
	}
	return out
}

// DecodeSamples converts PCM16LE back to float samples in [-1, 1].
func DecodeSamples(pcm []byte) ([]float32, error) {
	if len(pcm)%2 != 0 {
		return nil, &FramingError{Reason: fmt.Sprintf("odd byte length %d", len(pcm))}
	}
	out := make([]float32, len(pcm)/2)
	for i := range out {
		v := float32(int16(binary.LittleEndian.Uint16(pcm[2*i:]))) / 32767
		if v < -1 {
			v = -1
		}
		out[i] = v
	}
	return out, nil
}

// Samples16 reinterprets PCM16LE bytes as samples. A trailing odd byte is ignored.
func Samples16(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[2*i:]))
	}
	return out
}

// EncodeFrame converts float samples to the base64 text carried by an audio message.
func (f Format) EncodeFrame(samples []float32) (string, error) {
	if len(samples) > f.FrameSamples() {
		return "", &FramingError{Reason: fmt.Sprintf("%d samples exceed frame size %d", len(samples), f.FrameSamples())}
	}
	return base64.StdEncoding.EncodeToString(EncodeSamples(samples)), nil
}

// EncodeFramePCM wraps raw PCM16LE bytes as base64 text.
func (f Format) EncodeFramePCM(pcm []byte) string {
	return base64.StdEncoding.EncodeToString(pcm)
}

// DecodeFrame validates base64 frame text and returns its PCM16LE bytes.
// Frames shorter than FrameBytes are accepted since the final frame of a
// recording is usually partial.
func (f Format) DecodeFrame(data string) ([]byte, error) {
	if data == "" {
		return nil, &FramingError{Reason: "empty payload"}
	}
	pcm, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, &FramingError{Reason: "invalid base64", Err: err}
	}
	if len(pcm) == 0 {
		return nil, &FramingError{Reason: "empty payload"}
	}
	if len(pcm)%2 != 0 {
		return nil, &FramingError{Reason: fmt.Sprintf("odd byte length %d", len(pcm))}
	}
	if len(pcm) > f.FrameBytes() {
		return nil, &FramingError{Reason: fmt.Sprintf("%d bytes exceed frame size %d", len(pcm), f.FrameBytes())}
	}
	return pcm, nil
}
