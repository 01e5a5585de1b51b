package session

import (
	"context"
	"time"

	"github.com/rbright/resound/internal/fsm"
)

// Surface renders UI state. Dialog and result are separate surfaces; the
// machine never shows both at once.
type Surface interface {
	// ShowDialog displays the in-progress indicator for Recording or Processing.
	ShowDialog(context.Context, fsm.State, string)
	HideDialog(context.Context)
	// ShowResult displays a Result or Error message; a zero fade means the
	// message persists.
	ShowResult(context.Context, fsm.State, string, time.Duration)
	ClearResult(context.Context)
	SetControlEnabled(context.Context, bool)
}

// noopSurface preserves session flow when no surface is wired.
type noopSurface struct{}

func (noopSurface) ShowDialog(context.Context, fsm.State, string)                {}
func (noopSurface) HideDialog(context.Context)                                   {}
func (noopSurface) ShowResult(context.Context, fsm.State, string, time.Duration) {}
func (noopSurface) ClearResult(context.Context)                                  {}
func (noopSurface) SetControlEnabled(context.Context, bool)                      {}

// Observer receives lifecycle counters.
type Observer interface {
	TriggerAccepted()
	TriggerIgnored(reason string)
	UploadFinished(kind string, latency time.Duration)
	StateChanged(state string)
}

type noopObserver struct{}

func (noopObserver) TriggerAccepted()                     {}
func (noopObserver) TriggerIgnored(string)                {}
func (noopObserver) UploadFinished(string, time.Duration) {}
func (noopObserver) StateChanged(string)                  {}
