package indicator

import (
	"context"
	"time"

	"github.com/rbright/resound/internal/fsm"
)

// Surface mirrors the session surface contract so the indicator package can
// compose surfaces without importing session.
type Surface interface {
	ShowDialog(context.Context, fsm.State, string)
	HideDialog(context.Context)
	ShowResult(context.Context, fsm.State, string, time.Duration)
	ClearResult(context.Context)
	SetControlEnabled(context.Context, bool)
}

// Fanout forwards every call to each surface in order.
type Fanout []Surface

func (f Fanout) ShowDialog(ctx context.Context, state fsm.State, text string) {
	for _, s := range f {
		s.ShowDialog(ctx, state, text)
	}
}

func (f Fanout) HideDialog(ctx context.Context) {
	for _, s := range f {
		s.HideDialog(ctx)
	}
}

func (f Fanout) ShowResult(ctx context.Context, state fsm.State, text string, fade time.Duration) {
	for _, s := range f {
		s.ShowResult(ctx, state, text, fade)
	}
}

func (f Fanout) ClearResult(ctx context.Context) {
	for _, s := range f {
		s.ClearResult(ctx)
	}
}

func (f Fanout) SetControlEnabled(ctx context.Context, enabled bool) {
	for _, s := range f {
		s.SetControlEnabled(ctx, enabled)
	}
}
