// Package quality estimates perceptual loudness and basic pathologies (too
// quiet, clipping, background noise) from the live capture tap. The monitor
// is advisory only: it never blocks or mutates the audio path, and only the
// latest metrics matter.
package quality

import (
	"math"
	"sync"
	"time"
)

type Level string

const (
	LevelGood       Level = "good"
	LevelAcceptable Level = "acceptable"
	LevelPoor       Level = "poor"
)

const (
	DefaultInterval = 100 * time.Millisecond

	// volumeScale maps typical speech RMS (0.05-0.25) into the middle of the
	// 0-100 range.
	volumeScale = 400

	quietVolume     = 10
	lowVolume       = 25
	clipRatioPoor   = 0.02
	clipRatioWarn   = 0.002
	noiseFloorNoisy = 0.05
	clipSampleLevel = 0.985
)

type Metrics struct {
	Volume         int // 0-100
	Level          Level
	Recommendation string // advisory text, empty when conditions are fine
	RMS            float64
	Peak           float64
	ClipRatio      float64
	NoiseFloor     float64
	Timestamp      time.Time
}

type UpdateFunc func(Metrics)

type Monitor struct {
	interval time.Duration
	onUpdate UpdateFunc

	mu          sync.Mutex
	sumSquares  float64
	peak        float64
	clipped     int
	sampleCount int
	noiseFloor  float64
	started     bool

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func NewMonitor(interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Monitor{
		interval:   interval,
		noiseFloor: 1,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Process accumulates tap samples into the current analysis window.
// Non-blocking; safe to call from the capture callback.
func (m *Monitor) Process(samples []float32) {
	m.mu.Lock()
	for _, s := range samples {
		f := math.Abs(float64(s))
		m.sumSquares += f * f
		if f > m.peak {
			m.peak = f
		}
		if f >= clipSampleLevel {
			m.clipped++
		}
	}
	m.sampleCount += len(samples)
	m.mu.Unlock()
}

func (m *Monitor) Start(onUpdate UpdateFunc) {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.onUpdate = onUpdate
	m.mu.Unlock()

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stop:
				return
			case <-ticker.C:
				m.step(time.Now())
			}
		}
	}()
}

// Stop tears down the analysis cadence. Idempotent.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		m.mu.Lock()
		started := m.started
		m.mu.Unlock()
		close(m.stop)
		if started {
			<-m.done
		}
	})
}

// step computes metrics for the elapsed window and resets it. Windows with no
// samples are skipped entirely rather than reported as silence.
func (m *Monitor) step(now time.Time) {
	m.mu.Lock()
	if m.sampleCount == 0 {
		m.mu.Unlock()
		return
	}
	rms := math.Sqrt(m.sumSquares / float64(m.sampleCount))
	clipRatio := float64(m.clipped) / float64(m.sampleCount)
	peak := m.peak
	if rms > 0 && rms < m.noiseFloor {
		m.noiseFloor = rms
	}
	noiseFloor := m.noiseFloor
	onUpdate := m.onUpdate

	m.sumSquares = 0
	m.peak = 0
	m.clipped = 0
	m.sampleCount = 0
	m.mu.Unlock()

	metrics := classify(rms, peak, clipRatio, noiseFloor)
	metrics.Timestamp = now
	if onUpdate != nil {
		onUpdate(metrics)
	}
}

func classify(rms, peak, clipRatio, noiseFloor float64) Metrics {
	volume := int(math.Round(rms * volumeScale))
	if volume > 100 {
		volume = 100
	}

	m := Metrics{
		Volume:     volume,
		Level:      LevelGood,
		RMS:        rms,
		Peak:       peak,
		ClipRatio:  clipRatio,
		NoiseFloor: noiseFloor,
	}

	switch {
	case clipRatio > clipRatioPoor:
		m.Level = LevelPoor
		m.Recommendation = "Audio is clipping. Move away from the microphone or lower the input gain."
	case volume < quietVolume:
		m.Level = LevelPoor
		m.Recommendation = "Microphone level is very low. Move closer or raise the input gain."
	case clipRatio > clipRatioWarn:
		m.Level = LevelAcceptable
		m.Recommendation = "Occasional clipping detected. Consider lowering the input gain."
	case volume < lowVolume:
		m.Level = LevelAcceptable
		m.Recommendation = "Microphone level is low. Speaking closer to the microphone may help."
	case noiseFloor > noiseFloorNoisy:
		m.Level = LevelAcceptable
		m.Recommendation = "High background noise detected. A quieter environment may improve accuracy."
	}
	return m
}
