package capture

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"vox/audio"
	"vox/encoder"
	"vox/fallback"
	"vox/fault"
	"vox/log"
	"vox/quality"
	"vox/transport"
	"vox/vad"
)

const maxClipSamples = int(encoder.MaxClipDuration/time.Second) * encoder.SampleRate

// Session owns every resource acquired for one capture: the tap device, the
// block encoder, the quality monitor, the activity detector and the remote
// session. Everything acquired in start is released in Stop, error paths
// included.
type Session struct {
	id     string
	r      *Recorder
	opts   *Options
	method fallback.Method

	tap      audio.CaptureDevice
	enc      *encoder.BlockEncoder
	monitor  *quality.Monitor
	detector *vad.Detector

	quit      chan struct{}
	drainDone chan struct{}

	clipMu sync.Mutex
	clip   []int16

	sent     atomic.Int32
	dropped  atomic.Int32
	hadError atomic.Bool
	overflow atomic.Bool

	stopOnce sync.Once
}

func newSession(r *Recorder) *Session {
	return &Session{
		id:        uuid.NewString(),
		r:         r,
		opts:      &r.opts,
		quit:      make(chan struct{}),
		drainDone: make(chan struct{}),
	}
}

func (s *Session) ID() string              { return s.id }
func (s *Session) Method() fallback.Method { return s.method }

func (s *Session) start(ctx context.Context) error {
	s.r.coord.Reset()

	s.method = methodStreaming
	if s.opts.Fallback != nil {
		s.method = s.opts.Fallback.Current()
	}
	if s.method == methodBatch && s.opts.Batch == nil {
		s.method = methodStreaming
	}

	tap, err := s.opts.Context.NewCapture(s.opts.Device, audio.CaptureConfig{
		SampleRate: encoder.SampleRate,
		Channels:   encoder.Channels,
	})
	if err != nil {
		return startFault(err)
	}
	s.tap = tap

	if s.method == methodStreaming {
		if err := s.openStream(ctx); err != nil {
			tap.Close()
			return err
		}
	} else {
		close(s.drainDone) // batch mode runs no drain goroutine
	}

	s.monitor = quality.NewMonitor(s.opts.QualityInterval)
	s.monitor.Start(s.opts.OnQuality)
	s.detector = vad.New(s.opts.VAD, vad.Callbacks{
		OnSilenceDetected: func() { go s.Stop(context.Background()) },
		OnUpdate:          s.opts.OnVAD,
	})
	s.detector.Start()

	tap.SetCallback(s.onTap)
	if err := tap.Start(); err != nil {
		s.monitor.Stop()
		s.detector.Stop()
		if s.method == methodStreaming {
			s.enc.Stop()
			s.opts.Streamer.StopSession(ctx)
			close(s.quit)
			<-s.drainDone
		}
		tap.Close()
		return startFault(err)
	}

	log.SessionStart(s.id, tap.DeviceName(), s.opts.Language)
	return nil
}

// openStream connects the transport and opens the remote session. Failures
// pass through to the caller and are also recorded with the fallback manager
// so an unreachable recognizer demotes streaming instead of being re-dialed
// on every session.
func (s *Session) openStream(ctx context.Context) error {
	if err := s.opts.Streamer.Connect(ctx); err != nil {
		if fallbackEligible(err) {
			s.recordFailure(err)
		}
		return err
	}
	if err := s.opts.Streamer.StartSession(ctx, s.opts.Language, encoder.SampleRate, encoder.Channels); err != nil {
		if fallbackEligible(err) {
			s.recordFailure(err)
		}
		return err
	}
	s.enc = encoder.NewBlockEncoder(s.opts.FlushInterval, s.onFrame)
	s.enc.Start()
	go s.drainEvents()
	return nil
}

// onTap is the capture callback: fan out to the active encoding path, the
// quality monitor and the activity detector. Must never block.
func (s *Session) onTap(samples []float32, _ uint32) {
	if s.method == methodStreaming {
		s.enc.Push(samples)
	} else {
		s.clipMu.Lock()
		over := len(s.clip)+len(samples) > maxClipSamples
		if !over {
			s.clip = append(s.clip, encoder.Quantize(samples)...)
		}
		s.clipMu.Unlock()
		// An oversized clip is rejected, never truncated: surface the fault
		// once and end the session.
		if over && !s.overflow.Swap(true) {
			s.hadError.Store(true)
			if s.opts.OnError != nil {
				s.opts.OnError(fault.New(fault.CodeConversion, "clip exceeds the maximum recording length").
					WithSuggestion("Keep a single recording under one minute."))
			}
			go s.Stop(context.Background())
		}
	}
	s.monitor.Process(samples)
	s.detector.Process(samples)
}

// onFrame forwards one encoded frame to the transport. Drops are logged and
// counted; only crossing the threshold records a fallback failure.
func (s *Session) onFrame(frame encoder.Frame) {
	if err := s.opts.Streamer.SendChunk(frame); err != nil {
		n := s.dropped.Add(1)
		log.Warnf("chunk %d dropped: %v", frame.Index, err)
		if int(n) == s.opts.DropThreshold {
			s.recordFailure(err)
		}
		return
	}
	s.sent.Add(1)
}

func (s *Session) drainEvents() {
	defer close(s.drainDone)
	events := s.opts.Streamer.Events()
	for {
		select {
		case <-s.quit:
			return
		case ev := <-events:
			s.handleEvent(ev)
		}
	}
}

func (s *Session) handleEvent(ev transport.Event) {
	switch ev.Kind {
	case transport.EventInterim:
		s.r.coord.SetInterim(ev.Transcript)
		if s.opts.OnInterim != nil {
			s.opts.OnInterim(ev.Transcript)
		}
	case transport.EventFinal:
		s.r.coord.AppendFinal(ev.Transcript)
		if s.opts.OnFinal != nil {
			s.opts.OnFinal(ev.Transcript, ev.Confidence)
		}
	case transport.EventError:
		s.hadError.Store(true)
		if fallbackEligible(ev.Err) {
			s.recordFailure(ev.Err)
		}
		if s.opts.OnError != nil {
			s.opts.OnError(ev.Err)
		}
	}
}

// Stop tears the session down in a fixed order: tap first so no further
// callbacks fire, then analysis, then the final chunk flush, then the remote
// session, and the device handle last. Idempotent; a caller stop and the
// silence auto-stop converge here.
func (s *Session) Stop(ctx context.Context) {
	s.stopOnce.Do(func() {
		s.tap.Stop()
		s.tap.ClearCallback()

		s.monitor.Stop()
		s.detector.Stop()

		if s.method == methodStreaming {
			s.enc.Stop()
			s.opts.Streamer.StopSession(ctx)
			close(s.quit)
			<-s.drainDone
			s.sweepEvents()
			if !s.hadError.Load() && s.sent.Load() > 0 {
				s.recordSuccess()
			}
		} else {
			s.finishBatch(ctx)
		}

		s.tap.Close()
		s.r.release(s)
		log.SessionEnd(s.id, int(s.sent.Load()), int(s.dropped.Load()), string(s.method))
	})
}

// sweepEvents consumes transcripts that were queued after the drain
// goroutine exited, so a final arriving with the stop acknowledgment is not
// lost.
func (s *Session) sweepEvents() {
	events := s.opts.Streamer.Events()
	for {
		select {
		case ev := <-events:
			s.handleEvent(ev)
		default:
			return
		}
	}
}

// finishBatch uploads the accumulated clip to the batch backend and commits
// the transcript.
func (s *Session) finishBatch(ctx context.Context) {
	s.clipMu.Lock()
	clip := s.clip
	s.clip = nil
	s.clipMu.Unlock()
	// Overflowed clips were already rejected in onTap.
	if s.overflow.Load() || len(clip) == 0 {
		return
	}

	res, err := s.opts.Batch.Transcribe(ctx, clip)
	if err != nil {
		s.hadError.Store(true)
		if fallbackEligible(err) {
			s.recordFailure(err)
		}
		if s.opts.OnError != nil {
			s.opts.OnError(err)
		}
		return
	}
	s.r.coord.AppendFinal(res.Text)
	s.recordSuccess()
	if s.opts.OnFinal != nil {
		s.opts.OnFinal(res.Text, res.Confidence)
	}
}

// fallbackEligible reports whether a fault is recorded with the fallback
// manager. Device and credential faults bypass it: no alternate recognition
// method fixes a missing microphone or a bad login. Connection-level faults
// count even when terminal, exhausted reconnect budgets included.
func fallbackEligible(err error) bool {
	switch fault.CodeOf(err) {
	case fault.CodeMicAccessDenied, fault.CodeMicNotFound, fault.CodeAuth:
		return false
	}
	return true
}

func (s *Session) recordFailure(err error) {
	if s.opts.Fallback != nil {
		s.opts.Fallback.RecordFailure(s.method, err)
	}
}

func (s *Session) recordSuccess() {
	if s.opts.Fallback != nil {
		s.opts.Fallback.RecordSuccess(s.method)
	}
}
