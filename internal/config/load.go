package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/go-homedir"
)

const (
	// EnvConfigPath overrides the config file location when --config is unset.
	EnvConfigPath = "RESOUND_CONFIG"
	// EnvEndpointURL overrides endpoint.url after the file is applied.
	EnvEndpointURL = "RESOUND_ENDPOINT"
)

// Loaded captures resolved config path, parsed values, and non-fatal warnings.
type Loaded struct {
	Path     string
	Config   Config
	Warnings []Warning
	Exists   bool
}

// ResolvePath picks the config location: explicit flag, $RESOUND_CONFIG,
// $XDG_CONFIG_HOME/resound/config.jsonc, then ~/.config/resound/config.jsonc.
// A leading ~ is expanded in explicit paths.
func ResolvePath(explicit string) (string, error) {
	for _, candidate := range []string{explicit, os.Getenv(EnvConfigPath)} {
		if candidate = strings.TrimSpace(candidate); candidate != "" {
			expanded, err := homedir.Expand(candidate)
			if err != nil {
				return "", fmt.Errorf("expand config path %q: %w", candidate, err)
			}
			return expanded, nil
		}
	}

	if xdg := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); xdg != "" {
		return filepath.Join(xdg, "resound", "config.jsonc"), nil
	}

	home, err := homedir.Dir()
	if err != nil {
		return "", errors.New("unable to resolve user home for config fallback")
	}
	return filepath.Join(home, ".config", "resound", "config.jsonc"), nil
}

// Load resolves, reads, parses, and validates the runtime configuration.
// Environment overrides are applied last and validated with the rest.
func Load(explicitPath string) (Loaded, error) {
	path, err := ResolvePath(explicitPath)
	if err != nil {
		return Loaded{}, err
	}
	loaded := Loaded{Path: path, Config: Default()}

	content, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		loaded.Warnings = append(loaded.Warnings, Warning{
			Message: fmt.Sprintf("config file %q not found; using defaults", path),
		})
	case err != nil:
		return Loaded{}, fmt.Errorf("read config %q: %w", path, err)
	default:
		cfg, warnings, err := Parse(string(content), loaded.Config)
		if err != nil {
			return Loaded{}, fmt.Errorf("parse config %q: %w", path, err)
		}
		loaded.Config = cfg
		loaded.Warnings = warnings
		loaded.Exists = true
	}

	if applyEnv(&loaded.Config) {
		if _, err := Validate(loaded.Config); err != nil {
			return Loaded{}, fmt.Errorf("environment override: %w", err)
		}
	}
	return loaded, nil
}

// applyEnv layers environment overrides onto cfg and reports whether any
// were set.
func applyEnv(cfg *Config) bool {
	url := strings.TrimSpace(os.Getenv(EnvEndpointURL))
	if url == "" {
		return false
	}
	cfg.Endpoint.URL = url
	return true
}
