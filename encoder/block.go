package encoder

import (
	"sync"
	"time"
)

// DefaultFlushInterval amortizes per-message overhead against transcription
// latency: one container frame per second of audio.
const DefaultFlushInterval = time.Second

type FrameFunc func(Frame)

// BlockEncoder is the streaming-mode pipeline: each capture-tap block is
// clamped and quantized into a rolling buffer, and a fixed timer flushes the
// buffer as one Frame with container header. Indices are strictly increasing
// from zero for the life of the encoder; a new transport session gets a new
// encoder.
type BlockEncoder struct {
	interval time.Duration
	onFrame  FrameFunc

	mu      sync.Mutex
	buf     []int16
	index   uint64
	started bool

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func NewBlockEncoder(interval time.Duration, onFrame FrameFunc) *BlockEncoder {
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	return &BlockEncoder{
		interval: interval,
		onFrame:  onFrame,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (e *BlockEncoder) Start() {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return
	}
	e.started = true
	e.mu.Unlock()

	go func() {
		defer close(e.done)
		ticker := time.NewTicker(e.interval)
		defer ticker.Stop()
		for {
			select {
			case <-e.stop:
				return
			case <-ticker.C:
				e.flush()
			}
		}
	}()
}

// Push quantizes one tap block into the rolling buffer. Non-blocking; safe to
// call from the capture callback.
func (e *BlockEncoder) Push(block []float32) {
	if len(block) == 0 {
		return
	}
	pcm := Quantize(block)
	e.mu.Lock()
	select {
	case <-e.stop:
		e.mu.Unlock()
		return
	default:
	}
	e.buf = append(e.buf, pcm...)
	e.mu.Unlock()
}

// flush emits the accumulated buffer as one frame and resets it. Nothing is
// emitted for an empty interval.
func (e *BlockEncoder) flush() {
	e.mu.Lock()
	if len(e.buf) == 0 {
		e.mu.Unlock()
		return
	}
	pcm := e.buf
	e.buf = nil
	idx := e.index
	e.index++
	e.mu.Unlock()

	e.onFrame(Frame{Data: EncodeWAV(pcm), Index: idx, Captured: time.Now()})
}

// Stop halts the flush timer and emits any buffered PCM as a final frame.
// Idempotent.
func (e *BlockEncoder) Stop() {
	e.stopOnce.Do(func() {
		e.mu.Lock()
		started := e.started
		e.mu.Unlock()

		close(e.stop)
		if started {
			<-e.done
		}
		e.flush()
	})
}
