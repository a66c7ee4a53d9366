// Package capture orchestrates one voice capture session: exclusive
// microphone ownership, the tap fan-out to encoder, quality monitor and
// activity detector, the active recognition method, and the accumulated
// transcript.
package capture

import (
	"context"
	"errors"
	"sync"
	"time"

	"vox/audio"
	"vox/encoder"
	"vox/fallback"
	"vox/fault"
	"vox/quality"
	"vox/recognize"
	"vox/transport"
	"vox/vad"
)

var ErrSessionActive = errors.New("capture: a session is already active")

const defaultDropThreshold = 5

// Recognition method labels. The streaming transport carries the remote
// method; the batch backend stands in for local recognition when streaming
// is demoted.
const (
	methodStreaming = fallback.MethodAzureSpeech
	methodBatch     = fallback.MethodWebSpeech
)

// Streamer is the transport surface a session drives; satisfied by
// *transport.Client and by fakes in tests.
type Streamer interface {
	Connect(ctx context.Context) error
	StartSession(ctx context.Context, language string, sampleRate, channels int) error
	SendChunk(frame encoder.Frame) error
	StopSession(ctx context.Context) error
	Events() <-chan transport.Event
}

type Options struct {
	Context     audio.Context
	Device      *audio.DeviceInfo
	Streamer    Streamer
	Fallback    *fallback.Manager
	Batch       recognize.Backend
	Interpreter Interpreter
	Language    string

	VAD             vad.Config
	QualityInterval time.Duration
	FlushInterval   time.Duration
	DropThreshold   int // chunk drops before one fallback failure record

	OnQuality func(quality.Metrics)
	OnVAD     func(vad.Event)
	OnInterim func(string)
	OnFinal   func(text string, confidence float64)
	OnError   func(error)
}

// Recorder guards the microphone: at most one live session at a time.
type Recorder struct {
	opts  Options
	coord *Coordinator

	mu     sync.Mutex
	active *Session
}

func NewRecorder(opts Options) *Recorder {
	if opts.DropThreshold <= 0 {
		opts.DropThreshold = defaultDropThreshold
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = encoder.DefaultFlushInterval
	}
	return &Recorder{
		opts:  opts,
		coord: NewCoordinator(opts.Interpreter),
	}
}

func (r *Recorder) Coordinator() *Coordinator { return r.coord }

func (r *Recorder) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active != nil
}

// Start acquires the microphone and opens a session on the currently
// authoritative recognition method. A second Start while one session is
// live returns ErrSessionActive.
func (r *Recorder) Start(ctx context.Context) (*Session, error) {
	r.mu.Lock()
	if r.active != nil {
		r.mu.Unlock()
		return nil, ErrSessionActive
	}
	s := newSession(r)
	r.active = s
	r.mu.Unlock()

	if err := s.start(ctx); err != nil {
		r.release(s)
		return nil, err
	}
	return s, nil
}

// Stop ends the active session, if any.
func (r *Recorder) Stop(ctx context.Context) {
	r.mu.Lock()
	s := r.active
	r.mu.Unlock()
	if s != nil {
		s.Stop(ctx)
	}
}

// Submit hands the accumulated transcript to the interpreter.
func (r *Recorder) Submit(ctx context.Context) (string, error) {
	return r.coord.Submit(ctx)
}

func (r *Recorder) release(s *Session) {
	r.mu.Lock()
	if r.active == s {
		r.active = nil
	}
	r.mu.Unlock()
}

// startFault maps a device acquisition error into the taxonomy. Both codes
// are terminal: no fallback method fixes a missing or locked microphone.
func startFault(err error) error {
	if errors.Is(err, audio.ErrNoDevice) {
		return fault.Wrap(fault.CodeMicNotFound, "no capture device found", err).
			WithSuggestion("Connect a microphone and try again.")
	}
	return fault.Wrap(fault.CodeMicAccessDenied, "capture device could not be opened", err).
		WithSuggestion("Grant microphone access in your system settings.")
}
