// Package config loads the YAML configuration file. Absent keys keep their
// defaults; validation names the offending field.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"vox/fallback"
	"vox/vad"
)

type Config struct {
	Audio     AudioConfig     `yaml:"audio"`
	VAD       VADConfig       `yaml:"vad"`
	Quality   QualityConfig   `yaml:"quality"`
	Transport TransportConfig `yaml:"transport"`
	Fallback  FallbackConfig  `yaml:"fallback"`
	Batch     BatchConfig     `yaml:"batch"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type AudioConfig struct {
	Device   string `yaml:"device"`
	Language string `yaml:"language"`
}

type VADConfig struct {
	EnergyThreshold   float64 `yaml:"energy_threshold"`
	SpeechDurationMs  int     `yaml:"speech_duration_ms"`
	SilenceDurationMs int     `yaml:"silence_duration_ms"`
	Smoothing         float64 `yaml:"smoothing"`
	UpdateIntervalMs  int     `yaml:"update_interval_ms"`
}

type QualityConfig struct {
	UpdateIntervalMs int `yaml:"update_interval_ms"`
}

type TransportConfig struct {
	URL            string `yaml:"url"`
	AckTimeoutMs   int    `yaml:"ack_timeout_ms"`
	PingIntervalMs int    `yaml:"ping_interval_ms"`
}

type FallbackConfig struct {
	MaxConsecutiveFailures int `yaml:"max_consecutive_failures"`
	FailureWindowS         int `yaml:"failure_window_s"`
	SuccessesForRecovery   int `yaml:"successes_for_recovery"`
}

type BatchConfig struct {
	URL string `yaml:"url"`
}

type LoggingConfig struct {
	Dir string `yaml:"dir"`
}

func Default() Config {
	return Config{
		Audio: AudioConfig{Language: "en-US"},
		VAD: VADConfig{
			EnergyThreshold:   0.02,
			SpeechDurationMs:  300,
			SilenceDurationMs: 2000,
			Smoothing:         0.85,
			UpdateIntervalMs:  100,
		},
		Quality: QualityConfig{UpdateIntervalMs: 100},
		Transport: TransportConfig{
			AckTimeoutMs:   5000,
			PingIntervalMs: 15000,
		},
		Fallback: FallbackConfig{
			MaxConsecutiveFailures: 3,
			FailureWindowS:         60,
			SuccessesForRecovery:   5,
		},
	}
}

// Load reads path into a default-initialized Config. An empty path yields
// the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.VAD.EnergyThreshold <= 0 || c.VAD.EnergyThreshold >= 1 {
		return fmt.Errorf("vad.energy_threshold must be within (0, 1)")
	}
	if c.VAD.Smoothing < 0 || c.VAD.Smoothing >= 1 {
		return fmt.Errorf("vad.smoothing must be within [0, 1)")
	}
	if c.VAD.SpeechDurationMs <= 0 {
		return fmt.Errorf("vad.speech_duration_ms must be positive")
	}
	if c.VAD.SilenceDurationMs <= 0 {
		return fmt.Errorf("vad.silence_duration_ms must be positive")
	}
	if c.VAD.UpdateIntervalMs <= 0 {
		return fmt.Errorf("vad.update_interval_ms must be positive")
	}
	if c.Quality.UpdateIntervalMs <= 0 {
		return fmt.Errorf("quality.update_interval_ms must be positive")
	}
	if c.Transport.AckTimeoutMs <= 0 {
		return fmt.Errorf("transport.ack_timeout_ms must be positive")
	}
	if c.Transport.PingIntervalMs <= 0 {
		return fmt.Errorf("transport.ping_interval_ms must be positive")
	}
	if c.Fallback.MaxConsecutiveFailures <= 0 {
		return fmt.Errorf("fallback.max_consecutive_failures must be positive")
	}
	if c.Fallback.FailureWindowS <= 0 {
		return fmt.Errorf("fallback.failure_window_s must be positive")
	}
	if c.Fallback.SuccessesForRecovery <= 0 {
		return fmt.Errorf("fallback.successes_for_recovery must be positive")
	}
	return nil
}

// Detector converts the section into the detector's native config.
func (c VADConfig) Detector() vad.Config {
	return vad.Config{
		EnergyThreshold: c.EnergyThreshold,
		SpeechDuration:  time.Duration(c.SpeechDurationMs) * time.Millisecond,
		SilenceDuration: time.Duration(c.SilenceDurationMs) * time.Millisecond,
		Smoothing:       c.Smoothing,
		UpdateInterval:  time.Duration(c.UpdateIntervalMs) * time.Millisecond,
	}
}

// Manager converts the section into the fallback manager's native config.
func (c FallbackConfig) Manager() fallback.Config {
	return fallback.Config{
		MaxConsecutiveFailures: c.MaxConsecutiveFailures,
		FailureWindow:          time.Duration(c.FailureWindowS) * time.Second,
		SuccessesForRecovery:   c.SuccessesForRecovery,
	}
}

func (c QualityConfig) Interval() time.Duration {
	return time.Duration(c.UpdateIntervalMs) * time.Millisecond
}

func (c TransportConfig) AckTimeout() time.Duration {
	return time.Duration(c.AckTimeoutMs) * time.Millisecond
}

func (c TransportConfig) PingInterval() time.Duration {
	return time.Duration(c.PingIntervalMs) * time.Millisecond
}
