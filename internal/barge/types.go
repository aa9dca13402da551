package barge

import "time"

// Config holds the thresholds of the energy detector.
type Config struct {
	// Threshold is the RMS level (on the int16 scale) above which a window counts as voiced.
	Threshold float64
	// SmoothN is the number of recent windows voting on each decision.
	SmoothN int
	// MinSpeech is how long voiced audio must last before a trigger.
	MinSpeech time.Duration
	// WindowMs is the analysis window size.
	WindowMs   int
	SampleRate int
}

// DefaultConfig suits a browser microphone with echo cancellation enabled.
func DefaultConfig(sampleRate int) Config {
	if sampleRate <= 0 {
		sampleRate = 24000
	}
	return Config{
		Threshold:  300.0,
		SmoothN:    4,
		MinSpeech:  200 * time.Millisecond,
		WindowMs:   10,
		SampleRate: sampleRate,
	}
}
