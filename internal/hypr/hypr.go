// Package hypr talks to the Hyprland compositor through hyprctl.
package hypr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// QueryFocusedMonitor returns the name of the focused monitor, or of the
// first monitor when none reports focus.
func QueryFocusedMonitor(ctx context.Context) (string, error) {
	out, err := hyprctl(ctx, "-j", "monitors")
	if err != nil {
		return "", err
	}

	var monitors []struct {
		Name    string `json:"name"`
		Focused bool   `json:"focused"`
	}
	if err := json.Unmarshal(out, &monitors); err != nil {
		return "", fmt.Errorf("decode hyprctl monitors: %w", err)
	}
	if len(monitors) == 0 {
		return "", errors.New("hyprctl monitors returned no outputs")
	}

	chosen := monitors[0]
	for _, m := range monitors {
		if m.Focused {
			chosen = m
			break
		}
	}
	return strings.TrimSpace(chosen.Name), nil
}

// hyprctl runs hyprctl with args and returns stdout and stderr combined.
// Failures carry the command output when there is any.
func hyprctl(ctx context.Context, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, "hyprctl", args...).CombinedOutput()
	if err == nil {
		return out, nil
	}
	cmd := "hyprctl " + strings.Join(args, " ")
	if detail := strings.TrimSpace(string(out)); detail != "" {
		return nil, fmt.Errorf("%s: %w (%s)", cmd, err, detail)
	}
	return nil, fmt.Errorf("%s: %w", cmd, err)
}
