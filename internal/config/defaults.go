package config

import "time"

const (
	// RecordDuration is the length of every captured clip.
	RecordDuration = 7 * time.Second
	// UploadTimeout bounds one identification request.
	UploadTimeout = 20 * time.Second
	// ErrorFade is how long recoverable error messages stay visible.
	ErrorFade = 4 * time.Second
	// ResultFade is how long match results stay visible; zero keeps them until
	// the next recording starts.
	ResultFade time.Duration = 0
)

// DefaultTiming returns the compiled-in session durations.
func DefaultTiming() Timing {
	return Timing{
		RecordDuration: RecordDuration,
		UploadTimeout:  UploadTimeout,
		ErrorFade:      ErrorFade,
		ResultFade:     ResultFade,
	}
}

// Default returns the canonical runtime configuration used when no file is present.
func Default() Config {
	return Config{
		Endpoint: EndpointConfig{
			URL:  "http://127.0.0.1:8080",
			Path: "/id",
		},
		Audio: AudioConfig{
			Backend:  "pulse",
			Input:    "default",
			Fallback: "default",
		},
		Indicator: IndicatorConfig{
			Enable:         true,
			Backend:        "hypr",
			DesktopAppName: "resound-indicator",
			SoundEnable:    true,
		},
		Clipboard: MustParseCommand("wl-copy --trim-newline"),
		Log: LogConfig{
			Level:     "info",
			MaxSizeKB: 1024,
			MaxFiles:  10,
		},
		Timing: DefaultTiming(),
	}
}
