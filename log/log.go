// Package log is the process-wide diagnostic logger. Events go to a file when
// a directory is configured, stderr otherwise. All entry points are safe to
// call before Init; they drop silently until the logger is ready.
package log

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
)

var (
	diagLog  zerolog.Logger
	diagFile *os.File
	logMu    sync.Mutex
	logReady bool
)

// Init opens the diagnostics log under dir, or attaches to stderr when dir is
// empty.
func Init(dir string) error {
	logMu.Lock()
	defer logMu.Unlock()

	out := os.Stderr
	if dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(filepath.Join(dir, "diagnostics_log.txt"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return err
		}
		diagFile = f
		out = f
	}

	consoleWriter := zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: "2006-01-02 15:04:05",
		NoColor:    true,
	}
	diagLog = zerolog.New(consoleWriter).With().Timestamp().Int("pid", os.Getpid()).Logger()

	logReady = true
	return nil
}

func Close() {
	logMu.Lock()
	defer logMu.Unlock()
	if diagFile != nil {
		diagFile.Close()
		diagFile = nil
	}
	logReady = false
}

func Info(msg string) {
	if logReady {
		diagLog.Info().Msg(msg)
	}
}

func Infof(format string, args ...any) {
	if logReady {
		diagLog.Info().Msg(fmt.Sprintf(format, args...))
	}
}

func Warn(msg string) {
	if logReady {
		diagLog.Warn().Msg(msg)
	}
}

func Warnf(format string, args ...any) {
	if logReady {
		diagLog.Warn().Msg(fmt.Sprintf(format, args...))
	}
}

func Error(msg string) {
	if logReady {
		diagLog.Error().Msg(msg)
	}
}

func Errorf(format string, args ...any) {
	if logReady {
		diagLog.Error().Msg(fmt.Sprintf(format, args...))
	}
}

// SessionStart records the opening of a capture session.
func SessionStart(sessionID, device, language string) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("session", sessionID).
		Str("device", device).
		Str("language", language).
		Msg("session_start")
}

// SessionEnd records a closed capture session and its outcome.
func SessionEnd(sessionID string, chunks int, dropped int, reason string) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("session", sessionID).
		Int("chunks", chunks).
		Int("dropped", dropped).
		Str("reason", reason).
		Msg("session_end")
}

// StreamMetricsData summarizes one transport session.
type StreamMetricsData struct {
	ConnectMs    float64
	TotalMs      float64
	AudioS       float64
	SentChunks   int
	SentKB       float64
	RecvMessages int
	RecvFinal    int
	RecvInterim  int
	Reconnects   int
}

func StreamMetrics(m StreamMetricsData) {
	if !logReady {
		return
	}
	diagLog.Info().
		Float64("connect_ms", m.ConnectMs).
		Float64("total_ms", m.TotalMs).
		Float64("audio_s", m.AudioS).
		Int("sent_chunks", m.SentChunks).
		Float64("sent_kb", m.SentKB).
		Int("recv_messages", m.RecvMessages).
		Int("recv_final", m.RecvFinal).
		Int("recv_interim", m.RecvInterim).
		Int("reconnects", m.Reconnects).
		Msg("stream_session")
}

// BatchMetricsData summarizes one batch recognition upload.
type BatchMetricsData struct {
	AudioS     float64
	PayloadKB  float64
	Format     string
	DNSMs      float64
	TLSMs      float64
	TTFBMs     float64
	TotalMs    float64
	ConnReused bool
}

func BatchMetrics(m BatchMetricsData) {
	if !logReady {
		return
	}
	connStatus := "new"
	if m.ConnReused {
		connStatus = "reused"
	}
	diagLog.Info().
		Float64("audio_s", m.AudioS).
		Float64("payload_kb", m.PayloadKB).
		Str("format", m.Format).
		Str("conn", connStatus).
		Float64("dns_ms", m.DNSMs).
		Float64("tls_ms", m.TLSMs).
		Float64("ttfb_ms", m.TTFBMs).
		Float64("total_ms", m.TotalMs).
		Msg("batch_recognition")
}

// MethodChange records a fallback transition between recognition methods.
func MethodChange(from, to, reason string) {
	if !logReady {
		return
	}
	diagLog.Warn().
		Str("from", from).
		Str("to", to).
		Str("reason", reason).
		Msg("method_change")
}
