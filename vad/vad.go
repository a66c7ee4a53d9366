// Package vad implements the voice activity detector: a four-state machine
// (idle, speech_detected, speaking, silence_detected) driven by exponentially
// smoothed RMS energy on a fixed update cadence. The detector owns all
// transition timing; consumers react through callbacks.
package vad

import (
	"math"
	"sync"
	"time"
)

type State int

const (
	StateIdle State = iota
	StateSpeechDetected
	StateSpeaking
	StateSilenceDetected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSpeechDetected:
		return "speech_detected"
	case StateSpeaking:
		return "speaking"
	case StateSilenceDetected:
		return "silence_detected"
	}
	return "unknown"
}

type Config struct {
	EnergyThreshold float64       // smoothed RMS level that counts as speech
	SpeechDuration  time.Duration // sustained energy before speaking is confirmed
	SilenceDuration time.Duration // sustained silence before the episode ends
	Smoothing       float64       // weight of the prior smoothed value
	UpdateInterval  time.Duration
}

func DefaultConfig() Config {
	return Config{
		EnergyThreshold: 0.02,
		SpeechDuration:  300 * time.Millisecond,
		SilenceDuration: 2000 * time.Millisecond,
		Smoothing:       0.85,
		UpdateInterval:  100 * time.Millisecond,
	}
}

type Event struct {
	State           State
	IsSpeaking      bool
	EnergyLevel     float64
	SpeechDuration  time.Duration
	SilenceDuration time.Duration
	Timestamp       time.Time
}

type Callbacks struct {
	OnSpeechDetected  func()
	OnSilenceDetected func()
	OnUpdate          func(Event)
}

type Detector struct {
	cfg Config
	cb  Callbacks

	mu           sync.Mutex
	sumSquares   float64
	sampleCount  int
	smoothed     float64
	state        State
	speechTicks  int
	silenceTicks int
	started      bool

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func New(cfg Config, cb Callbacks) *Detector {
	def := DefaultConfig()
	if cfg.EnergyThreshold <= 0 {
		cfg.EnergyThreshold = def.EnergyThreshold
	}
	if cfg.SpeechDuration <= 0 {
		cfg.SpeechDuration = def.SpeechDuration
	}
	if cfg.SilenceDuration <= 0 {
		cfg.SilenceDuration = def.SilenceDuration
	}
	if cfg.Smoothing <= 0 || cfg.Smoothing >= 1 {
		cfg.Smoothing = def.Smoothing
	}
	if cfg.UpdateInterval <= 0 {
		cfg.UpdateInterval = def.UpdateInterval
	}
	return &Detector{
		cfg:  cfg,
		cb:   cb,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// Process accumulates tap samples into the current analysis window.
// Non-blocking; safe to call from the capture callback.
func (d *Detector) Process(samples []float32) {
	d.mu.Lock()
	for _, s := range samples {
		d.sumSquares += float64(s) * float64(s)
	}
	d.sampleCount += len(samples)
	d.mu.Unlock()
}

func (d *Detector) Start() {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return
	}
	d.started = true
	d.mu.Unlock()

	go func() {
		defer close(d.done)
		ticker := time.NewTicker(d.cfg.UpdateInterval)
		defer ticker.Stop()
		for {
			select {
			case <-d.stop:
				return
			case <-ticker.C:
				d.step(time.Now())
			}
		}
	}()
}

// Stop halts the update cadence. Idempotent; no further callbacks fire.
func (d *Detector) Stop() {
	d.stopOnce.Do(func() {
		d.mu.Lock()
		started := d.started
		d.mu.Unlock()
		close(d.stop)
		if started {
			<-d.done
		}
	})
}

func (d *Detector) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// step runs one update tick: drain the analysis window, smooth against the
// prior value only, and advance the state machine. Exposed to tests.
func (d *Detector) step(now time.Time) {
	d.mu.Lock()

	energy := 0.0
	if d.sampleCount > 0 {
		energy = math.Sqrt(d.sumSquares / float64(d.sampleCount))
	}
	d.sumSquares = 0
	d.sampleCount = 0

	d.smoothed = d.cfg.Smoothing*d.smoothed + (1-d.cfg.Smoothing)*energy
	above := d.smoothed > d.cfg.EnergyThreshold

	var fireSpeech, fireSilence bool

	switch d.state {
	case StateIdle:
		if above {
			d.state = StateSpeechDetected
			d.speechTicks = 1
		}
	case StateSpeechDetected:
		if !above {
			// False alarm: energy dropped before the duration was met.
			d.state = StateIdle
			d.speechTicks = 0
		} else {
			d.speechTicks++
			if time.Duration(d.speechTicks)*d.cfg.UpdateInterval >= d.cfg.SpeechDuration {
				d.state = StateSpeaking
				fireSpeech = true
			}
		}
	case StateSpeaking:
		if above {
			d.speechTicks++
		} else {
			d.state = StateSilenceDetected
			d.silenceTicks = 1
		}
	case StateSilenceDetected:
		if above {
			// Speech resumed; the silence timer resets.
			d.state = StateSpeaking
			d.silenceTicks = 0
		} else {
			d.silenceTicks++
			if time.Duration(d.silenceTicks)*d.cfg.UpdateInterval >= d.cfg.SilenceDuration {
				d.state = StateIdle
				d.speechTicks = 0
				d.silenceTicks = 0
				fireSilence = true
			}
		}
	}

	ev := Event{
		State:           d.state,
		IsSpeaking:      d.state == StateSpeaking || d.state == StateSilenceDetected,
		EnergyLevel:     d.smoothed,
		SpeechDuration:  time.Duration(d.speechTicks) * d.cfg.UpdateInterval,
		SilenceDuration: time.Duration(d.silenceTicks) * d.cfg.UpdateInterval,
		Timestamp:       now,
	}
	d.mu.Unlock()

	if fireSpeech && d.cb.OnSpeechDetected != nil {
		d.cb.OnSpeechDetected()
	}
	if fireSilence && d.cb.OnSilenceDetected != nil {
		d.cb.OnSilenceDetected()
	}
	if d.cb.OnUpdate != nil {
		d.cb.OnUpdate(ev)
	}
}
