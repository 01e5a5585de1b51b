package indicator

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rbright/resound/internal/config"
	"github.com/rbright/resound/internal/fsm"
	"github.com/stretchr/testify/require"
)

func TestNotifierHyprDispatchPerState(t *testing.T) {
	argsFile := filepath.Join(t.TempDir(), "hypr-args.log")
	t.Setenv("HYPR_ARGS_FILE", argsFile)
	installHyprctlStub(t, `
printf '%s\n' "$*" >> "${HYPR_ARGS_FILE}"
`)

	cfg := config.Default().Indicator
	cfg.Enable = true
	cfg.SoundEnable = false

	ctx := context.Background()
	n := NewNotifier(cfg, nil)
	n.ShowDialog(ctx, fsm.StateRecording, "Recording...")
	n.ShowDialog(ctx, fsm.StateProcessing, "Processing...")
	n.HideDialog(ctx)
	n.ShowResult(ctx, fsm.StateResult, "Daft Punk - One More Time (2000)", 0)
	n.ClearResult(ctx)
	n.ShowResult(ctx, fsm.StateError, "Request timed out", 4*time.Second)

	lines := readLines(t, argsFile)
	require.Equal(t, []string{
		"--quiet dispatch notify 1 300000 rgb(89b4fa) Recording...",
		"--quiet dispatch dismissnotify",
		"--quiet dispatch notify 1 300000 rgb(cba6f7) Processing...",
		"--quiet dispatch dismissnotify",
		"--quiet dispatch notify 5 86400000 rgb(a6e3a1) Daft Punk - One More Time (2000)",
		"--quiet dispatch dismissnotify",
		"--quiet dispatch notify 3 4000 rgb(f38ba8) Request timed out",
	}, lines)
}

func TestNotifierHyprDialogIsDismissedOnlyWhenLive(t *testing.T) {
	argsFile := filepath.Join(t.TempDir(), "hypr-args.log")
	t.Setenv("HYPR_ARGS_FILE", argsFile)
	installHyprctlStub(t, `
printf '%s\n' "$*" >> "${HYPR_ARGS_FILE}"
`)

	cfg := config.Default().Indicator
	cfg.Enable = true
	cfg.SoundEnable = false

	ctx := context.Background()
	n := NewNotifier(cfg, nil)
	n.ShowDialog(ctx, fsm.StateRecording, "Recording...")
	n.ShowDialog(ctx, fsm.StateProcessing, "Processing...")
	n.ShowDialog(ctx, fsm.StateProcessing, "Processing...")
	n.HideDialog(ctx)
	n.ShowDialog(ctx, fsm.StateRecording, "Recording...")

	require.Equal(t, []string{
		"--quiet dispatch notify 1 300000 rgb(89b4fa) Recording...",
		"--quiet dispatch dismissnotify",
		"--quiet dispatch notify 1 300000 rgb(cba6f7) Processing...",
		"--quiet dispatch dismissnotify",
		"--quiet dispatch notify 1 300000 rgb(cba6f7) Processing...",
		"--quiet dispatch dismissnotify",
		"--quiet dispatch notify 1 300000 rgb(89b4fa) Recording...",
	}, readLines(t, argsFile))
}

func TestNotifierDisabledSkipsHyprctlDispatch(t *testing.T) {
	argsFile := filepath.Join(t.TempDir(), "hypr-args.log")
	t.Setenv("HYPR_ARGS_FILE", argsFile)
	installHyprctlStub(t, `
printf '%s\n' "$*" >> "${HYPR_ARGS_FILE}"
`)

	cfg := config.Default().Indicator
	cfg.Enable = false
	cfg.SoundEnable = false

	ctx := context.Background()
	n := NewNotifier(cfg, nil)
	n.ShowDialog(ctx, fsm.StateRecording, "Recording...")
	n.HideDialog(ctx)
	n.ShowResult(ctx, fsm.StateError, "ignored", 0)
	n.ClearResult(ctx)
	n.SetControlEnabled(ctx, true)

	_, err := os.Stat(argsFile)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestNotifierDispatchFailureIsSwallowed(t *testing.T) {
	installHyprctlStub(t, `
exit 1
`)

	cfg := config.Default().Indicator
	cfg.Enable = true
	cfg.SoundEnable = false

	n := NewNotifier(cfg, nil)
	require.NotPanics(t, func() {
		n.ShowDialog(context.Background(), fsm.StateRecording, "Recording...")
		n.HideDialog(context.Background())
	})
}

func TestNotifierDesktopBackendReplacesAndClosesNotification(t *testing.T) {
	argsFile := filepath.Join(t.TempDir(), "busctl-args.log")
	t.Setenv("BUSCTL_ARGS_FILE", argsFile)
	installStub(t, "busctl", `
printf '%s\n' "$*" >> "${BUSCTL_ARGS_FILE}"
if [[ "$*" == *" Notify "* ]]; then
  echo 'u 42'
fi
`)

	cfg := config.Default().Indicator
	cfg.Enable = true
	cfg.SoundEnable = false
	cfg.Backend = "desktop"
	cfg.DesktopAppName = ""

	ctx := context.Background()
	n := NewNotifier(cfg, nil)
	n.ShowDialog(ctx, fsm.StateRecording, "Recording...")
	n.ShowDialog(ctx, fsm.StateProcessing, "Processing...")
	n.HideDialog(ctx)
	n.HideDialog(ctx)

	lines := readLines(t, argsFile)
	require.Len(t, lines, 3)
	require.Contains(t, lines[0], "Notify susssasa{sv}i resound-indicator 0  Recording...")
	require.Contains(t, lines[1], "Notify susssasa{sv}i resound-indicator 42  Processing...")
	require.True(t, strings.HasSuffix(lines[2], "CloseNotification u 42"))
}

func TestNotificationArgsCarryUrgencyAndTimeout(t *testing.T) {
	args := notification{
		appName:   "resound",
		replaceID: 7,
		summary:   "Microphone access was denied.",
		urgency:   urgencyCritical,
		timeoutMS: 4000,
	}.args()

	require.Equal(t, []string{
		"Notify", "susssasa{sv}i", "resound", "7", "", "Microphone access was denied.", "",
		"0", "1", "urgency", "y", "2", "4000",
	}, args[5:])
}

func TestParseNotifyReply(t *testing.T) {
	id, err := parseNotifyReply("u 42")
	require.NoError(t, err)
	require.Equal(t, uint32(42), id)

	for _, bad := range []string{"", "u", "s 42", "u nope", "u 99999999999"} {
		_, err := parseNotifyReply(bad)
		require.Error(t, err, bad)
	}
}

func TestNotifierDesktopErrorIsCritical(t *testing.T) {
	argsFile := filepath.Join(t.TempDir(), "busctl-args.log")
	t.Setenv("BUSCTL_ARGS_FILE", argsFile)
	installStub(t, "busctl", `
printf '%s\n' "$*" >> "${BUSCTL_ARGS_FILE}"
echo 'u 9'
`)

	cfg := config.Default().Indicator
	cfg.Enable = true
	cfg.SoundEnable = false
	cfg.Backend = "desktop"
	cfg.DesktopAppName = "resound-test"

	n := NewNotifier(cfg, nil)
	n.ShowResult(context.Background(), fsm.StateError, "Sorry! No match found.", 0)

	lines := readLines(t, argsFile)
	require.Len(t, lines, 1)
	require.Contains(t, lines[0], "resound-test 0  Sorry! No match found.  0 1 urgency y 2 86400000")
}

func TestStyleForStates(t *testing.T) {
	require.Equal(t, cueStart, styleFor(fsm.StateRecording).cue)
	require.Equal(t, cueStop, styleFor(fsm.StateProcessing).cue)
	require.Equal(t, cueComplete, styleFor(fsm.StateResult).cue)
	require.Equal(t, cueError, styleFor(fsm.StateError).cue)
	require.Equal(t, cueKind(0), styleFor(fsm.StateIdle).cue)
}

func TestConsoleWritesVisibleStates(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf)
	ctx := context.Background()

	c.ShowDialog(ctx, fsm.StateRecording, "Recording...")
	c.HideDialog(ctx)
	c.ShowResult(ctx, fsm.StateResult, "Artist - Title", 0)
	c.ClearResult(ctx)
	c.SetControlEnabled(ctx, true)

	require.Equal(t, "[recording] Recording...\n[result] Artist - Title\n", buf.String())
}

func TestFanoutForwardsInOrder(t *testing.T) {
	var first, second bytes.Buffer
	f := Fanout{NewConsole(&first), NewConsole(&second)}

	f.ShowDialog(context.Background(), fsm.StateProcessing, "Processing...")
	f.ShowResult(context.Background(), fsm.StateError, "No match found", time.Second)
	f.HideDialog(context.Background())
	f.ClearResult(context.Background())
	f.SetControlEnabled(context.Background(), false)

	want := "[processing] Processing...\n[error] No match found\n"
	require.Equal(t, want, first.String())
	require.Equal(t, want, second.String())
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

func installHyprctlStub(t *testing.T, body string) {
	t.Helper()
	installStub(t, "hyprctl", body)
}

func installStub(t *testing.T, name string, body string) {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, name)
	script := "#!/usr/bin/env bash\nset -euo pipefail\n" + body + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	t.Setenv("PATH", dir+":"+os.Getenv("PATH"))
}
