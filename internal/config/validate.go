package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Validate enforces config invariants and returns non-fatal warnings.
func Validate(cfg Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	if strings.TrimSpace(cfg.Endpoint.URL) == "" {
		return nil, fmt.Errorf("endpoint.url must not be empty")
	}
	parsed, err := url.Parse(strings.TrimSpace(cfg.Endpoint.URL))
	if err != nil {
		return nil, fmt.Errorf("endpoint.url is invalid: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("endpoint.url must use http or https")
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("endpoint.url must include a host")
	}
	if !strings.HasPrefix(strings.TrimSpace(cfg.Endpoint.Path), "/") {
		return nil, fmt.Errorf("endpoint.path must start with '/'")
	}
	if parsed.Path != "" && parsed.Path != "/" {
		warnings = append(warnings, Warning{Message: fmt.Sprintf("endpoint.url path %q is prefixed to endpoint.path", parsed.Path)})
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Audio.Backend)) {
	case "pulse", "malgo":
	case "":
		return nil, fmt.Errorf("audio.backend must not be empty")
	default:
		return nil, fmt.Errorf("audio.backend must be one of: pulse, malgo")
	}

	backend := strings.ToLower(strings.TrimSpace(cfg.Indicator.Backend))
	if backend == "" {
		return nil, fmt.Errorf("indicator.backend must not be empty")
	}
	if backend != "hypr" && backend != "desktop" {
		return nil, fmt.Errorf("indicator.backend must be one of: hypr, desktop")
	}
	if backend == "desktop" && strings.TrimSpace(cfg.Indicator.DesktopAppName) == "" {
		return nil, fmt.Errorf("indicator.desktop_app_name must not be empty when indicator.backend=desktop")
	}

	if _, err := cfg.Log.SlogLevel(); err != nil {
		return nil, err
	}
	if cfg.Log.MaxSizeKB <= 0 {
		return nil, fmt.Errorf("log.max_size_kb must be > 0")
	}
	if cfg.Log.MaxFiles <= 0 {
		return nil, fmt.Errorf("log.max_files must be > 0")
	}

	if cfg.Timing.RecordDuration <= 0 {
		return nil, fmt.Errorf("record duration must be > 0")
	}
	if cfg.Timing.UploadTimeout <= 0 {
		return nil, fmt.Errorf("upload timeout must be > 0")
	}
	if cfg.Timing.ErrorFade < 0 || cfg.Timing.ResultFade < 0 {
		return nil, fmt.Errorf("fade durations must be >= 0")
	}

	return warnings, nil
}

// UploadURL joins the endpoint base URL and path.
func (e EndpointConfig) UploadURL() string {
	return strings.TrimRight(strings.TrimSpace(e.URL), "/") + strings.TrimSpace(e.Path)
}
