package barge

import (
	"math"
	"sync"
	"time"

	"github.com/nicolascatez-wq/xhec-interview-coach/internal/audio"
)

type simpleVAD struct {
	threshold float64
	smoothN   int
	win       []bool
}

func newSimpleVAD(threshold float64, smoothN int) *simpleVAD {
	if smoothN <= 0 {
		smoothN = 1
	}
	return &simpleVAD{threshold: threshold, smoothN: smoothN}
}

// isSpeech votes over the last smoothN windows; a tie counts as speech.
func (v *simpleVAD) isSpeech(frame []int16) bool {
	if len(frame) == 0 {
		return false
	}
	var sum float64
	for _, s := range frame {
		f := float64(s)
		sum += f * f
	}
	rms := math.Sqrt(sum / float64(len(frame)))
	v.win = append(v.win, rms >= v.threshold)
	if len(v.win) > v.smoothN {
		v.win = v.win[len(v.win)-v.smoothN:]
	}
	trueCount := 0
	for _, x := range v.win {
		if x {
			trueCount++
		}
	}
	return trueCount*2 >= len(v.win)
}

func (v *simpleVAD) reset() { v.win = v.win[:0] }

// Detector watches microphone audio while the coach speaks and reports when
// the candidate starts talking over it.
type Detector struct {
	cfg       Config
	winBytes  int
	minVoiced int

	mu       sync.Mutex
	vad      *simpleVAD
	speaking bool
	pending  []byte
	voiced   int
	fired    bool
}

func NewDetector(cfg Config) *Detector {
	if cfg.SampleRate <= 0 {
		cfg = DefaultConfig(cfg.SampleRate)
	}
	if cfg.WindowMs <= 0 {
		cfg.WindowMs = 10
	}
	winBytes := audio.Format{SampleRate: cfg.SampleRate}.BytesInDuration(time.Duration(cfg.WindowMs) * time.Millisecond)
	minVoiced := int(cfg.MinSpeech / (time.Duration(cfg.WindowMs) * time.Millisecond))
	if minVoiced < 1 {
		minVoiced = 1
	}
	return &Detector{cfg: cfg, winBytes: winBytes, minVoiced: minVoiced, vad: newSimpleVAD(cfg.Threshold, cfg.SmoothN)}
}

// SetSpeaking toggles detection. Turning it off or on clears any partial state.
func (d *Detector) SetSpeaking(on bool) {
	d.mu.Lock()
	d.speaking = on
	d.resetLocked()
	d.mu.Unlock()
}

// Feed analyses pcm and reports true once per speaking period, when voiced
// audio has lasted MinSpeech.
func (d *Detector) Feed(pcm []byte) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.speaking || d.fired {
		return false
	}
	d.pending = append(d.pending, pcm...)
	for len(d.pending) >= d.winBytes {
		win := audio.Samples16(d.pending[:d.winBytes])
		n := copy(d.pending, d.pending[d.winBytes:])
		d.pending = d.pending[:n]
		if d.vad.isSpeech(win) {
			d.voiced++
		} else {
			d.voiced = 0
		}
		if d.voiced >= d.minVoiced {
			d.fired = true
			d.pending = d.pending[:0]
			return true
		}
	}
	return false
}

func (d *Detector) resetLocked() {
	d.vad.reset()
	d.pending = d.pending[:0]
	d.voiced = 0
	d.fired = false
}
