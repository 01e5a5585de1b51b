// Package indicator renders session UI states as desktop notifications and
// audio cues.
package indicator

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/rbright/resound/internal/config"
	"github.com/rbright/resound/internal/fsm"
	"github.com/rbright/resound/internal/hypr"
)

const (
	// dialogTimeoutMS keeps the dialog up until it is explicitly dismissed.
	dialogTimeoutMS = 300000
	// persistentTimeoutMS is used for results that stay until replaced.
	persistentTimeoutMS = 86400000
)

// style is the notification styling for one UI state.
type style struct {
	icon    int
	color   string
	urgency byte
	cue     cueKind
}

var stateStyles = map[fsm.State]style{
	fsm.StateRecording:  {icon: 1, color: hypr.DefaultColor, urgency: urgencyNormal, cue: cueStart},
	fsm.StateProcessing: {icon: 1, color: "rgb(cba6f7)", urgency: urgencyNormal, cue: cueStop},
	fsm.StateResult:     {icon: 5, color: "rgb(a6e3a1)", urgency: urgencyNormal, cue: cueComplete},
	fsm.StateError:      {icon: 3, color: "rgb(f38ba8)", urgency: urgencyCritical, cue: cueError},
}

func styleFor(state fsm.State) style {
	if s, ok := stateStyles[state]; ok {
		return s
	}
	return style{icon: 1, color: hypr.DefaultColor, urgency: urgencyNormal}
}

// Notifier shows the dialog and result surfaces through Hyprland or
// freedesktop notifications and plays the matching cue for each state.
type Notifier struct {
	cfg    config.IndicatorConfig
	logger *slog.Logger

	mu                    sync.Mutex
	desktopNotificationID uint32
	soundMu               sync.Mutex

	// hyprDialog is set while a Hyprland dialog notification is up;
	// hyprctl cannot replace one in place.
	hyprDialog bool
}

// NewNotifier creates a notifier from indicator config.
func NewNotifier(cfg config.IndicatorConfig, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Notifier{cfg: cfg, logger: logger}
}

// ShowDialog displays the in-progress dialog for Recording or Processing.
func (n *Notifier) ShowDialog(ctx context.Context, state fsm.State, text string) {
	s := styleFor(state)
	n.playCue(s.cue)
	if !n.cfg.Enable {
		return
	}
	n.run(ctx, func(ctx context.Context) error {
		if n.desktopBackend() {
			return n.notify(ctx, s, dialogTimeoutMS, text)
		}
		return n.replaceHyprDialog(ctx, s, text)
	})
}

// replaceHyprDialog dismisses a live dialog before showing the next one.
func (n *Notifier) replaceHyprDialog(ctx context.Context, s style, text string) error {
	n.mu.Lock()
	live := n.hyprDialog
	n.mu.Unlock()

	if live {
		if err := hypr.DismissNotify(ctx); err != nil {
			return err
		}
	}
	err := hypr.Notify(ctx, s.icon, dialogTimeoutMS, s.color, text)

	n.mu.Lock()
	n.hyprDialog = err == nil
	n.mu.Unlock()
	return err
}

// HideDialog dismisses the dialog.
func (n *Notifier) HideDialog(ctx context.Context) {
	if !n.cfg.Enable {
		return
	}
	n.run(ctx, n.dismiss)
}

// ShowResult displays a result or error message. A zero fade keeps the
// notification up until it is replaced or cleared.
func (n *Notifier) ShowResult(ctx context.Context, state fsm.State, text string, fade time.Duration) {
	s := styleFor(state)
	n.playCue(s.cue)
	if !n.cfg.Enable {
		return
	}
	timeout := persistentTimeoutMS
	if fade > 0 {
		timeout = int(fade.Milliseconds())
	}
	n.run(ctx, func(ctx context.Context) error {
		return n.notify(ctx, s, timeout, text)
	})
}

// ClearResult dismisses the result message.
func (n *Notifier) ClearResult(ctx context.Context) {
	if !n.cfg.Enable {
		return
	}
	n.run(ctx, n.dismiss)
}

// SetControlEnabled is informational; the trigger control lives in the
// listener, which consults the session directly.
func (n *Notifier) SetControlEnabled(_ context.Context, enabled bool) {
	n.logger.Debug("record control", "enabled", enabled)
}

// notify dispatches indicator output through the configured backend.
func (n *Notifier) notify(ctx context.Context, s style, timeoutMS int, text string) error {
	if n.desktopBackend() {
		return n.notifyDesktop(ctx, s.urgency, timeoutMS, text)
	}
	return hypr.Notify(ctx, s.icon, timeoutMS, s.color, text)
}

// dismiss removes indicator output from the configured backend.
func (n *Notifier) dismiss(ctx context.Context) error {
	if n.desktopBackend() {
		return n.dismissDesktop(ctx)
	}
	n.mu.Lock()
	n.hyprDialog = false
	n.mu.Unlock()
	return hypr.DismissNotify(ctx)
}

func (n *Notifier) desktopBackend() bool {
	return strings.EqualFold(strings.TrimSpace(n.cfg.Backend), "desktop")
}

// notifyDesktop sends a replaceable desktop notification and stores its ID.
func (n *Notifier) notifyDesktop(ctx context.Context, urgency byte, timeoutMS int, text string) error {
	n.mu.Lock()
	replaceID := n.desktopNotificationID
	n.mu.Unlock()

	appName := strings.TrimSpace(n.cfg.DesktopAppName)
	if appName == "" {
		appName = "resound-indicator"
	}

	id, err := desktopNotify(ctx, notification{
		appName:   appName,
		replaceID: replaceID,
		summary:   text,
		urgency:   urgency,
		timeoutMS: timeoutMS,
	})
	if err != nil {
		return err
	}

	n.mu.Lock()
	n.desktopNotificationID = id
	n.mu.Unlock()
	return nil
}

// dismissDesktop closes the current desktop notification ID when present.
func (n *Notifier) dismissDesktop(ctx context.Context) error {
	n.mu.Lock()
	id := n.desktopNotificationID
	n.desktopNotificationID = 0
	n.mu.Unlock()

	if id == 0 {
		return nil
	}
	return desktopDismiss(ctx, id)
}

// run executes an indicator operation with a bounded timeout.
func (n *Notifier) run(ctx context.Context, fn func(context.Context) error) {
	runCtx, cancel := context.WithTimeout(ctx, 400*time.Millisecond)
	defer cancel()
	if err := fn(runCtx); err != nil {
		n.logger.Debug("indicator dispatch failed", "error", err.Error())
	}
}

// playCue serializes cue playback and emits audio asynchronously.
func (n *Notifier) playCue(kind cueKind) {
	if !n.cfg.SoundEnable || kind == 0 {
		return
	}
	go func() {
		n.soundMu.Lock()
		defer n.soundMu.Unlock()
		ctx, cancel := context.WithTimeout(context.Background(), 4*time.Second)
		defer cancel()
		if err := emitCue(ctx, kind, n.cfg); err != nil {
			n.logger.Debug("indicator audio cue failed", "error", err.Error())
		}
	}()
}
