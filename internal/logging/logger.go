// Package logging writes JSON log records to a size-rotated file under the
// user's state directory. Listener and trigger processes share the file, so
// every record carries the writer's pid.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/jrick/logrotate/rotator"
	"github.com/mitchellh/go-homedir"
)

// Options configures the log sink. Zero sizes fall back to 1 MiB files and
// ten rotations.
type Options struct {
	Level     slog.Level
	MaxSizeKB int
	MaxFiles  int
}

func (o Options) withDefaults() Options {
	if o.MaxSizeKB <= 0 {
		o.MaxSizeKB = 1024
	}
	if o.MaxFiles <= 0 {
		o.MaxFiles = 10
	}
	return o
}

// Runtime is an open log sink. Close it before the process exits.
type Runtime struct {
	Logger *slog.Logger
	Path   string
	closer io.Closer
}

func (r Runtime) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

// New opens the rotating log file and returns a JSON logger writing to it.
func New(opts Options) (Runtime, error) {
	opts = opts.withDefaults()

	path, err := logPath()
	if err != nil {
		return Runtime{}, fmt.Errorf("resolve log path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return Runtime{}, fmt.Errorf("create log dir: %w", err)
	}

	rot, err := rotator.New(path, int64(opts.MaxSizeKB), false, opts.MaxFiles)
	if err != nil {
		return Runtime{}, fmt.Errorf("open log rotator: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil && !os.IsNotExist(err) {
		_ = rot.Close()
		return Runtime{}, fmt.Errorf("restrict log permissions: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(rot, &slog.HandlerOptions{Level: opts.Level})).
		With("pid", os.Getpid())
	return Runtime{Logger: logger, Path: path, closer: rot}, nil
}

// logPath is $XDG_STATE_HOME/resound/log.jsonl, defaulting XDG_STATE_HOME to
// ~/.local/state.
func logPath() (string, error) {
	state := strings.TrimSpace(os.Getenv("XDG_STATE_HOME"))
	if state == "" {
		home, err := homedir.Dir()
		if err != nil {
			return "", err
		}
		state = filepath.Join(home, ".local", "state")
	}
	return filepath.Join(state, "resound", "log.jsonl"), nil
}
