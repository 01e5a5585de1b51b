package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/rbright/resound/internal/audio"
	"github.com/rbright/resound/internal/config"
	"github.com/rbright/resound/internal/fsm"
	"github.com/rbright/resound/internal/indicator"
	"github.com/rbright/resound/internal/ipc"
	"github.com/rbright/resound/internal/metrics"
	"github.com/rbright/resound/internal/output"
	"github.com/rbright/resound/internal/recorder"
	"github.com/rbright/resound/internal/session"
	"github.com/rbright/resound/internal/upload"
	"golang.org/x/sync/errgroup"
)

// oneShotTimeout bounds a trigger run without a listener.
const oneShotTimeout = 45 * time.Second

type sessionParts struct {
	machine   *session.Machine
	access    *audio.Access
	clipboard *output.Clipboard
}

func (p sessionParts) close(logger *slog.Logger) {
	if err := p.access.Close(); err != nil {
		logger.Debug("close capture stream", "error", err.Error())
	}
}

// buildSession wires capture access, recorder, uploader and surfaces into a
// session machine.
func buildSession(cfg config.Config, logger *slog.Logger, surface session.Surface, observer session.Observer, copyOnMatch bool) (sessionParts, error) {
	opener, err := audio.OpenerFor(audio.Options{
		Backend:  cfg.Audio.Backend,
		Input:    cfg.Audio.Input,
		Fallback: cfg.Audio.Fallback,
		Format:   audio.DefaultFormat,
	})
	if err != nil {
		return sessionParts{}, err
	}

	access := audio.NewAccess(opener)
	clipboard := output.NewClipboard(cfg, logger)
	opts := session.Options{
		Logger: logger,
		Access: access,
		Recorder: recorder.New(recorder.Options{
			AudioDump: cfg.Debug.EnableAudioDump,
			Logger:    logger,
		}),
		Uploader: upload.NewClient(cfg.Endpoint.UploadURL(), upload.WithLogger(logger)),
		Surface:  surface,
		Observer: observer,
		Timing:   cfg.Timing,
	}
	if copyOnMatch {
		opts.OnMatch = clipboard.OnMatch
	}

	return sessionParts{
		machine:   session.New(opts),
		access:    access,
		clipboard: clipboard,
	}, nil
}

// commandListen owns the runtime socket and serves triggers until ctx ends.
func (r Runner) commandListen(ctx context.Context, cfg config.Config, logger *slog.Logger) int {
	socketPath := ipc.RuntimeSocketPath()
	listener, err := ipc.Acquire(ctx, socketPath, 180*time.Millisecond, 8, nil)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() {
		_ = listener.Close()
		_ = os.Remove(socketPath)
	}()

	m := metrics.New()
	parts, err := buildSession(cfg, logger, indicator.NewNotifier(cfg.Indicator, logger), m, true)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer parts.close(logger)

	parts.machine.Setup()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return parts.machine.Run(gctx) })
	g.Go(func() error { return ipc.Serve(gctx, listener, parts.machine) })
	if addr := cfg.Metrics.Listen; addr != "" {
		g.Go(func() error {
			if err := m.Serve(gctx, addr); err != nil {
				return fmt.Errorf("metrics listener: %w", err)
			}
			return nil
		})
	}

	logger.Info("listener ready", "socket", socketPath, "metrics", cfg.Metrics.Listen)
	fmt.Fprintf(r.Stderr, "listening on %s\n", socketPath)

	if err := g.Wait(); err != nil {
		logger.Error("listener failed", "error", err.Error())
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	logger.Info("listener stopped")
	return 0
}

// commandTrigger forwards to a running listener and waits for the outcome,
// or runs a single cycle in-process when none is running.
func (r Runner) commandTrigger(ctx context.Context, cfg config.Config, logger *slog.Logger) int {
	req := ipc.Request{Command: ipc.CommandTrigger, Wait: true}
	if resp, handled, err := tryForward(ctx, ipc.RuntimeSocketPath(), req, triggerWaitTimeout); handled {
		return r.printTriggerResponse(resp, err)
	}

	surface := indicator.Fanout{
		indicator.NewConsole(r.Stderr),
		indicator.NewNotifier(cfg.Indicator, logger),
	}
	parts, err := buildSession(cfg, logger, surface, nil, false)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer parts.close(logger)

	last, err := runOneShot(ctx, parts.machine)
	if err != nil {
		logger.Error("one-shot trigger failed", "error", err.Error())
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	logger.Info("one-shot trigger finished", "state", last.State, "message", last.Message)

	if last.State != fsm.StateResult {
		fmt.Fprintf(r.Stderr, "error: %s\n", last.Message)
		return 1
	}
	if parts.clipboard.Enabled() {
		if err := parts.clipboard.Copy(ctx, last.Message); err != nil {
			logger.Error("clipboard copy failed", "error", err.Error())
		}
	}
	fmt.Fprintln(r.Stdout, last.Message)
	return 0
}

// runOneShot sets up capture, triggers a single cycle and returns its
// terminal UI state.
func runOneShot(ctx context.Context, machine *session.Machine) (session.UIState, error) {
	runCtx, cancel := context.WithTimeout(ctx, oneShotTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- machine.Run(runCtx) }()
	defer func() {
		cancel()
		<-done
	}()

	machine.Setup()
	snap, err := machine.Await(runCtx, session.CapabilityResolved)
	if err != nil {
		return session.UIState{}, fmt.Errorf("await capture access: %w", err)
	}
	if !snap.ControlEnabled {
		return snap.UI, nil
	}

	res, err := machine.Trigger(runCtx)
	if err != nil {
		return session.UIState{}, err
	}
	if !res.Accepted {
		return session.UIState{}, fmt.Errorf("trigger ignored: %s", res.Reason)
	}

	snap, err = machine.Await(runCtx, session.CycleFinished(res.Cycle))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return session.UIState{}, errors.New("timed out waiting for identification")
		}
		return session.UIState{}, err
	}
	return snap.Last, nil
}

func (r Runner) printTriggerResponse(resp ipc.Response, err error) int {
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if !resp.OK {
		fmt.Fprintf(r.Stderr, "error: %s\n", resp.Message)
		return 1
	}
	fmt.Fprintln(r.Stdout, resp.Message)
	return 0
}
