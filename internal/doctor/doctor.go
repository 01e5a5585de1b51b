// Package doctor checks that the config, desktop tools, capture device and
// recognition endpoint are usable before a listener is started.
package doctor

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rbright/resound/internal/audio"
	"github.com/rbright/resound/internal/config"
	"github.com/rbright/resound/internal/hypr"
	"github.com/rbright/resound/internal/ipc"
)

const probeTimeout = 2 * time.Second

// Check is the outcome of one diagnostic.
type Check struct {
	Name    string
	Pass    bool
	Message string
}

func pass(name, format string, args ...any) Check {
	return Check{Name: name, Pass: true, Message: fmt.Sprintf(format, args...)}
}

func fail(name, format string, args ...any) Check {
	return Check{Name: name, Message: fmt.Sprintf(format, args...)}
}

// Report is the ordered list of checks from one Run.
type Report struct {
	Checks []Check
}

// OK reports whether every check passed.
func (r Report) OK() bool {
	for _, check := range r.Checks {
		if !check.Pass {
			return false
		}
	}
	return true
}

func (r Report) String() string {
	lines := make([]string, 0, len(r.Checks))
	for _, check := range r.Checks {
		status := "OK"
		if !check.Pass {
			status = "FAIL"
		}
		lines = append(lines, fmt.Sprintf("[%s] %s: %s", status, check.Name, check.Message))
	}
	return strings.Join(lines, "\n")
}

// Run executes all checks that apply to cfg.
func Run(ctx context.Context, cfg config.Loaded) Report {
	c := cfg.Config
	checks := []Check{
		pass("config", "loaded %q", cfg.Path),
		checkEnv("XDG_RUNTIME_DIR", "runtime dir set for listener socket", "XDG_RUNTIME_DIR is empty; socket falls back to /tmp"),
		checkListener(ctx),
	}

	if c.Indicator.Enable {
		if strings.EqualFold(strings.TrimSpace(c.Indicator.Backend), "desktop") {
			checks = append(checks, checkBinary("busctl", "desktop notifications require busctl"))
		} else {
			checks = append(checks,
				checkEnv("HYPRLAND_INSTANCE_SIGNATURE", "Hyprland session detected", "HYPRLAND_INSTANCE_SIGNATURE is empty"),
				checkHyprctl(ctx),
			)
		}
	}

	if c.Result.CopyToClipboard {
		if len(c.Clipboard.Argv) == 0 {
			checks = append(checks, pass("clipboard", "clipboard_cmd unset; using the system clipboard"))
		} else {
			checks = append(checks, checkCommand(c.Clipboard.Argv, "clipboard_cmd"))
		}
	}

	return Report{Checks: append(checks, checkAudioSelection(ctx, c), checkEndpoint(ctx, c))}
}

// checkEnv passes when the variable is set to a non-blank value.
func checkEnv(name, okMsg, failMsg string) Check {
	if strings.TrimSpace(os.Getenv(name)) != "" {
		return pass(name, "%s", okMsg)
	}
	return fail(name, "%s", failMsg)
}

// checkListener reports whether a listener already owns the runtime socket.
// Either answer passes; it only tells the user which mode trigger will use.
func checkListener(ctx context.Context) Check {
	path := ipc.RuntimeSocketPath()
	alive, err := ipc.Probe(ctx, path, probeTimeout)
	switch {
	case err != nil:
		return fail("listener", "socket %s did not answer: %v", path, err)
	case alive:
		return pass("listener", "running on %s; trigger will forward to it", path)
	default:
		return pass("listener", "not running; trigger will record in-process")
	}
}

func checkCommand(argv []string, name string) Check {
	if len(argv) == 0 {
		return fail(name, "command is empty")
	}
	return checkBinary(argv[0], name+" command is available")
}

func checkBinary(bin string, okMsg string) Check {
	path, err := exec.LookPath(bin)
	if err != nil {
		return fail(bin, "binary not found in PATH: %s", bin)
	}
	return pass(bin, "found at %s (%s)", path, okMsg)
}

// checkHyprctl asks Hyprland for the focused monitor, which proves hyprctl
// can reach the compositor socket.
func checkHyprctl(ctx context.Context) Check {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	monitor, err := hypr.QueryFocusedMonitor(ctx)
	if err != nil {
		return fail("hyprctl", "%v", err)
	}
	return pass("hyprctl", "notifications will show on %s", monitor)
}

func checkAudioSelection(ctx context.Context, cfg config.Config) Check {
	if strings.EqualFold(strings.TrimSpace(cfg.Audio.Backend), "malgo") {
		return pass("audio.device", "malgo backend selects its device when capture opens")
	}
	selection, err := audio.SelectDevice(ctx, cfg.Audio.Input, cfg.Audio.Fallback)
	if err != nil {
		return fail("audio.device", "%v", err)
	}
	if selection.Warning != "" {
		return pass("audio.device", "selected %q (%s)", selection.Device.ID, selection.Warning)
	}
	return pass("audio.device", "selected %q", selection.Device.ID)
}

// checkEndpoint sends HEAD to the upload URL. Any response below 500 counts
// as reachable.
func checkEndpoint(ctx context.Context, cfg config.Config) Check {
	if strings.TrimSpace(cfg.Endpoint.URL) == "" {
		return fail("endpoint", "endpoint url is empty")
	}

	url := cfg.Endpoint.UploadURL()
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return fail("endpoint", "build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fail("endpoint", "request failed: %v", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 256))

	if resp.StatusCode >= http.StatusInternalServerError {
		return fail("endpoint", "HTTP %d from %s", resp.StatusCode, url)
	}
	return pass("endpoint", "reachable at %s (HTTP %d)", url, resp.StatusCode)
}
