package audio

import (
	"encoding/binary"
	"os"
	"sync"
	"time"
)

const (
	fakeFrameSize  = 1024
	fakeHeaderSize = 44
	fakeSampleRate = 16000
)

// FakeContext replays a prepared sample buffer through the CaptureDevice
// interface, optionally paced at real time. Once the buffer is exhausted it
// keeps delivering silence so timer-driven consumers stay alive.
type FakeContext struct {
	samples  []float32
	realtime bool
}

// NewFakeContext loads 16-bit mono PCM from a WAV file.
func NewFakeContext(wavPath string, realtime bool) (*FakeContext, error) {
	data, err := os.ReadFile(wavPath)
	if err != nil {
		return nil, err
	}
	if len(data) > fakeHeaderSize {
		data = data[fakeHeaderSize:]
	}
	samples := make([]float32, len(data)/2)
	for i := range samples {
		s := int16(binary.LittleEndian.Uint16(data[i*2:]))
		samples[i] = float32(s) / 32768.0
	}
	return &FakeContext{samples: samples, realtime: realtime}, nil
}

// NewFakeContextFromSamples wraps an in-memory buffer; used by tests.
func NewFakeContextFromSamples(samples []float32, realtime bool) *FakeContext {
	return &FakeContext{samples: samples, realtime: realtime}
}

func (f *FakeContext) Devices() ([]DeviceInfo, error) { return nil, nil }
func (f *FakeContext) Close()                         {}

func (f *FakeContext) NewCapture(_ *DeviceInfo, _ CaptureConfig) (CaptureDevice, error) {
	return &FakeCapture{samples: f.samples, realtime: f.realtime, audioDone: make(chan struct{})}, nil
}

type FakeCapture struct {
	samples   []float32
	realtime  bool
	audioDone chan struct{}

	mu       sync.Mutex
	cb       DataCallback
	stopCh   chan struct{}
	feedDone chan struct{}
}

// AudioDone closes once the prepared buffer has been fully delivered.
func (f *FakeCapture) AudioDone() <-chan struct{} { return f.audioDone }

func (f *FakeCapture) SetCallback(cb DataCallback) {
	f.mu.Lock()
	f.cb = cb
	f.mu.Unlock()
}

func (f *FakeCapture) ClearCallback() {
	f.mu.Lock()
	f.cb = nil
	f.mu.Unlock()
}

func (f *FakeCapture) DeviceName() string { return "fake" }

func (f *FakeCapture) feedChunk(cb DataCallback, pos int) int {
	end := min(pos+fakeFrameSize, len(f.samples))
	chunk := make([]float32, end-pos)
	copy(chunk, f.samples[pos:end])
	cb(chunk, uint32(len(chunk)))
	return end
}

func (f *FakeCapture) Start() error {
	f.stopCh = make(chan struct{})
	f.feedDone = make(chan struct{})
	// audioDone is NOT recreated here -- callers may already be waiting on it.
	// It's reset in Stop() for replay.

	if !f.realtime {
		f.mu.Lock()
		cb := f.cb
		f.mu.Unlock()
		if cb != nil {
			for pos := 0; pos < len(f.samples); {
				pos = f.feedChunk(cb, pos)
			}
		}
		close(f.audioDone)

		go func() {
			defer close(f.feedDone)
			silence := make([]float32, fakeFrameSize)
			for {
				select {
				case <-f.stopCh:
					return
				case <-time.After(time.Millisecond):
				}
				f.mu.Lock()
				cb := f.cb
				f.mu.Unlock()
				if cb != nil {
					cb(silence, fakeFrameSize)
				}
			}
		}()
		return nil
	}

	interval := time.Duration(fakeFrameSize) * time.Second / time.Duration(fakeSampleRate)
	go func() {
		defer close(f.feedDone)
		pos := 0
		silence := make([]float32, fakeFrameSize)
		audioFinished := false

		for {
			select {
			case <-f.stopCh:
				return
			default:
			}

			f.mu.Lock()
			cb := f.cb
			f.mu.Unlock()
			if cb == nil {
				time.Sleep(time.Millisecond)
				continue
			}

			if pos < len(f.samples) {
				pos = f.feedChunk(cb, pos)
			} else {
				if !audioFinished {
					audioFinished = true
					close(f.audioDone)
				}
				cb(silence, fakeFrameSize)
			}

			select {
			case <-f.stopCh:
				return
			case <-time.After(interval):
			}
		}
	}()

	return nil
}

func (f *FakeCapture) Stop() {
	select {
	case <-f.stopCh:
	default:
		close(f.stopCh)
	}
	if f.feedDone != nil {
		<-f.feedDone
	}
	f.audioDone = make(chan struct{}) // reset for replay
}

func (f *FakeCapture) Close() {}
