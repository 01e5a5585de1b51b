// Package output applies match side effects such as copying the formatted
// result to the clipboard.
package output

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"github.com/atotto/clipboard"
	"github.com/rbright/resound/internal/config"
	"github.com/rbright/resound/internal/upload"
)

const clipboardTimeout = 2 * time.Second

// writeAll is the system clipboard used when no clipboard_cmd is configured.
var writeAll = clipboard.WriteAll

// Clipboard copies formatted match text through the configured command.
type Clipboard struct {
	argv   []string
	enable bool
	logger *slog.Logger
}

// NewClipboard constructs a clipboard writer from runtime config.
func NewClipboard(cfg config.Config, logger *slog.Logger) *Clipboard {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Clipboard{
		argv:   cfg.Clipboard.Argv,
		enable: cfg.Result.CopyToClipboard,
		logger: logger,
	}
}

// Enabled reports whether matches should be copied.
func (c *Clipboard) Enabled() bool { return c.enable }

// Copy writes text to the clipboard command's stdin, or to the system
// clipboard when no command is configured.
func (c *Clipboard) Copy(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}
	if len(c.argv) == 0 {
		if err := writeAll(text); err != nil {
			return fmt.Errorf("set clipboard: %w", err)
		}
		return nil
	}

	copyCtx, cancel := context.WithTimeout(ctx, clipboardTimeout)
	defer cancel()
	if err := runCommandWithInput(copyCtx, c.argv, text); err != nil {
		return fmt.Errorf("set clipboard: %w", err)
	}
	return nil
}

// OnMatch copies the displayed result when clipboard output is enabled.
// Failures are logged; the result stays on screen either way.
func (c *Clipboard) OnMatch(ctx context.Context, match upload.MatchRecord, text string) {
	if !c.enable {
		return
	}
	if err := c.Copy(ctx, text); err != nil {
		c.logger.Error("clipboard copy failed", "artist", match.Artist, "title", match.Title, "error", err.Error())
		return
	}
	c.logger.Debug("match copied to clipboard", "artist", match.Artist, "title", match.Title)
}

// runCommandWithInput executes argv and optionally writes input to stdin.
func runCommandWithInput(ctx context.Context, argv []string, input string) error {
	if len(argv) == 0 {
		return fmt.Errorf("command argv cannot be empty")
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("open stdin for %s: %w", argv[0], err)
	}

	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		return fmt.Errorf("start command %s: %w", argv[0], err)
	}

	if input != "" {
		if _, err := stdin.Write([]byte(input)); err != nil {
			_ = stdin.Close()
			_ = cmd.Wait()
			return fmt.Errorf("write stdin for %s: %w", argv[0], err)
		}
	}
	_ = stdin.Close()

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("wait for %s: %w", argv[0], err)
	}
	return nil
}
