package audio

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

var (
	// ErrCapabilityUnavailable indicates no audio runtime could be reached.
	ErrCapabilityUnavailable = errors.New("audio capture unavailable")
	// ErrPermissionDenied indicates the runtime refused or could not open an input device.
	ErrPermissionDenied = errors.New("microphone access denied")
)

// Status is the lifecycle position of a Capability.
type Status string

const (
	StatusUnrequested Status = "unrequested"
	StatusGranted     Status = "granted"
	StatusDenied      Status = "denied"
)

// Capability records whether microphone access was granted.
type Capability struct {
	Status Status
	Stream Stream
	Reason error
}

// Granted wraps an open stream as a granted capability.
func Granted(stream Stream) Capability {
	return Capability{Status: StatusGranted, Stream: stream}
}

// Denied records a refused capability. Unclassified reasons are treated as
// permission denials.
func Denied(reason error) Capability {
	if reason == nil {
		reason = ErrPermissionDenied
	}
	if !errors.Is(reason, ErrCapabilityUnavailable) && !errors.Is(reason, ErrPermissionDenied) {
		reason = fmt.Errorf("%w: %w", ErrPermissionDenied, reason)
	}
	return Capability{Status: StatusDenied, Reason: reason}
}

// IsGranted reports whether the capability holds a usable stream.
func (c Capability) IsGranted() bool {
	return c.Status == StatusGranted && c.Stream != nil
}

// Opener acquires the continuous input stream for one process lifetime.
type Opener func(context.Context) (Stream, error)

// Options selects the capture backend and input device.
type Options struct {
	Backend  string
	Input    string
	Fallback string
	Format   Format
}

// OpenerFor resolves the configured backend to an Opener.
func OpenerFor(opts Options) (Opener, error) {
	if opts.Format == (Format{}) {
		opts.Format = DefaultFormat
	}
	switch strings.ToLower(strings.TrimSpace(opts.Backend)) {
	case "", "pulse":
		return func(ctx context.Context) (Stream, error) { return openPulse(ctx, opts) }, nil
	case "malgo":
		return func(ctx context.Context) (Stream, error) { return openMalgo(ctx, opts) }, nil
	default:
		return nil, fmt.Errorf("unknown audio backend %q", opts.Backend)
	}
}

// Access requests device access at most once and caches the outcome.
type Access struct {
	open Opener

	mu         sync.Mutex
	capability Capability
}

// NewAccess constructs an Access around a backend opener.
func NewAccess(open Opener) *Access {
	return &Access{
		open:       open,
		capability: Capability{Status: StatusUnrequested},
	}
}

// Request opens the input stream on first call; later calls return the cached
// capability without prompting again.
func (a *Access) Request(ctx context.Context) Capability {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.capability.Status != StatusUnrequested {
		return a.capability
	}
	if a.open == nil {
		a.capability = Denied(fmt.Errorf("%w: no capture backend configured", ErrCapabilityUnavailable))
		return a.capability
	}

	stream, err := a.open(ctx)
	if err != nil {
		a.capability = Denied(err)
		return a.capability
	}
	a.capability = Granted(stream)
	return a.capability
}

// Close releases the granted stream, if any.
func (a *Access) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.capability.IsGranted() {
		return nil
	}
	return a.capability.Stream.Close()
}
