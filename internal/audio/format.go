package audio

import "time"

const (
	// DefaultSampleRate is the rate both directions of a session use unless configured otherwise.
	DefaultSampleRate = 24000
	// DefaultFrameDuration is the nominal length of one transport frame.
	DefaultFrameDuration = 100 * time.Millisecond
)

// Format describes mono PCM16LE audio cut into fixed frames.
type Format struct {
	SampleRate    int
	FrameDuration time.Duration
}

// DefaultFormat returns 24 kHz mono PCM16 with 100 ms frames.
func DefaultFormat() Format {
	return Format{SampleRate: DefaultSampleRate, FrameDuration: DefaultFrameDuration}
}

func (f Format) normalized() Format {
	if f.SampleRate <= 0 {
		f.SampleRate = DefaultSampleRate
	}
	if f.FrameDuration <= 0 {
		f.FrameDuration = DefaultFrameDuration
	}
	return f
}

// FrameSamples returns the number of samples carried by one full frame.
func (f Format) FrameSamples() int {
	f = f.normalized()
	return int(time.Duration(f.SampleRate) * f.FrameDuration / time.Second)
}

// FrameBytes returns the byte length of one full frame.
func (f Format) FrameBytes() int { return f.FrameSamples() * 2 }

// BytesInDuration returns the PCM16 byte length of d.
func (f Format) BytesInDuration(d time.Duration) int {
	f = f.normalized()
	return int(time.Duration(f.SampleRate)*d/time.Second) * 2
}

// Duration returns the playback length of n PCM16 bytes.
func (f Format) Duration(n int) time.Duration {
	f = f.normalized()
	return time.Duration(n/2) * time.Second / time.Duration(f.SampleRate)
}
