package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vox.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadEmptyPathYieldsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.VAD.EnergyThreshold != 0.02 || cfg.VAD.SilenceDurationMs != 2000 {
		t.Fatalf("vad defaults: %+v", cfg.VAD)
	}
	if cfg.Fallback.MaxConsecutiveFailures != 3 || cfg.Fallback.SuccessesForRecovery != 5 {
		t.Fatalf("fallback defaults: %+v", cfg.Fallback)
	}
}

func TestDefaultsSurviveEmptyFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Transport.AckTimeoutMs != 5000 {
		t.Fatalf("ack timeout default: %d", cfg.Transport.AckTimeoutMs)
	}
	if cfg.Audio.Language != "en-US" {
		t.Fatalf("language default: %q", cfg.Audio.Language)
	}
}

func TestPartialFileOverridesOnlyNamedKeys(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
transport:
  url: wss://recognizer.example.com/stream
vad:
  silence_duration_ms: 1500
`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Transport.URL != "wss://recognizer.example.com/stream" {
		t.Fatalf("url: %q", cfg.Transport.URL)
	}
	if cfg.VAD.SilenceDurationMs != 1500 {
		t.Fatalf("silence duration: %d", cfg.VAD.SilenceDurationMs)
	}
	if cfg.VAD.EnergyThreshold != 0.02 {
		t.Fatalf("untouched default changed: %v", cfg.VAD.EnergyThreshold)
	}
}

func TestValidationNamesTheField(t *testing.T) {
	tests := []struct {
		name   string
		yaml   string
		wantIn string
	}{
		{"energy threshold", "vad:\n  energy_threshold: 1.5\n", "vad.energy_threshold"},
		{"smoothing", "vad:\n  smoothing: 1.0\n", "vad.smoothing"},
		{"silence duration", "vad:\n  silence_duration_ms: -5\n", "vad.silence_duration_ms"},
		{"failure window", "fallback:\n  failure_window_s: 0\n", "fallback.failure_window_s"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.yaml))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantIn) {
				t.Fatalf("error %q does not name %q", err, tt.wantIn)
			}
		})
	}
}

func TestUnparsableFileRejected(t *testing.T) {
	if _, err := Load(writeConfig(t, "vad: [not a mapping")); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestSectionConversions(t *testing.T) {
	cfg := Default()
	d := cfg.VAD.Detector()
	if d.SilenceDuration.Milliseconds() != 2000 {
		t.Fatalf("detector silence duration: %v", d.SilenceDuration)
	}
	m := cfg.Fallback.Manager()
	if m.FailureWindow.Seconds() != 60 {
		t.Fatalf("manager failure window: %v", m.FailureWindow)
	}
	if cfg.Quality.Interval().Milliseconds() != 100 {
		t.Fatalf("quality interval: %v", cfg.Quality.Interval())
	}
}
