package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rbright/resound/internal/ipc"
)

const (
	forwardTimeout = 220 * time.Millisecond
	// triggerWaitTimeout covers one full cycle: record, upload, and margin.
	triggerWaitTimeout = 40 * time.Second
)

// commandStatus prints the listener's UI state, or "idle" with no listener.
func (r Runner) commandStatus(ctx context.Context) int {
	resp, handled, err := tryForward(ctx, ipc.RuntimeSocketPath(), ipc.Request{Command: ipc.CommandStatus}, forwardTimeout)
	switch {
	case !handled:
		fmt.Fprintln(r.Stdout, "idle")
		return 0
	case err != nil:
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	state := resp.State
	if state == "" {
		state = "idle"
	}
	if resp.Message == "" {
		fmt.Fprintln(r.Stdout, state)
	} else {
		fmt.Fprintf(r.Stdout, "%s: %s\n", state, resp.Message)
	}
	return 0
}

// tryForward sends req to a running listener. handled is false when no
// listener owns the socket.
func tryForward(ctx context.Context, socketPath string, req ipc.Request, timeout time.Duration) (ipc.Response, bool, error) {
	resp, err := ipc.Send(ctx, socketPath, req, timeout)
	switch {
	case errors.Is(err, ipc.ErrNoListener):
		return ipc.Response{}, false, nil
	case err != nil:
		return ipc.Response{}, true, fmt.Errorf("forward %s: %w", req.Command, err)
	case !resp.OK && resp.Error != "":
		return resp, true, errors.New(resp.Error)
	default:
		return resp, true, nil
	}
}
