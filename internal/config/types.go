// Package config resolves, parses, validates, and defaults resound configuration.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Config is the fully materialized runtime configuration used by resound.
type Config struct {
	Endpoint  EndpointConfig
	Audio     AudioConfig
	Indicator IndicatorConfig
	Result    ResultConfig
	Clipboard CommandConfig
	Metrics   MetricsConfig
	Log       LogConfig
	Debug     DebugConfig
	Timing    Timing
}

// EndpointConfig locates the identification service.
type EndpointConfig struct {
	URL  string
	Path string
}

// AudioConfig controls the capture backend and preferred/fallback input source.
type AudioConfig struct {
	Backend  string
	Input    string
	Fallback string
}

// IndicatorConfig controls visual indicator and audio cue behavior.
type IndicatorConfig struct {
	Enable            bool
	Backend           string
	DesktopAppName    string
	SoundEnable       bool
	SoundStartFile    string
	SoundStopFile     string
	SoundCompleteFile string
	SoundErrorFile    string
}

// ResultConfig controls side effects applied to a successful match.
type ResultConfig struct {
	CopyToClipboard bool
}

// CommandConfig stores a raw command string and its parsed argv form.
type CommandConfig struct {
	Raw  string
	Argv []string
}

// MetricsConfig controls the optional Prometheus listener.
type MetricsConfig struct {
	Listen string
}

// LogConfig controls the log level and file rotation.
type LogConfig struct {
	Level     string
	MaxSizeKB int
	MaxFiles  int
}

// SlogLevel parses Level; blank means info.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if strings.TrimSpace(l.Level) == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(strings.TrimSpace(l.Level))); err != nil {
		return slog.LevelInfo, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}

// DebugConfig controls optional debug artifact output.
type DebugConfig struct {
	EnableAudioDump bool
}

// Timing holds the fixed session durations. It is not settable from the
// config file.
type Timing struct {
	RecordDuration time.Duration
	UploadTimeout  time.Duration
	ErrorFade      time.Duration
	ResultFade     time.Duration
}

// Warning is a non-fatal parse/validation message.
type Warning struct {
	Line    int
	Message string
}
