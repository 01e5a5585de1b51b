package indicator

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rbright/resound/internal/fsm"
)

// Console writes each visible UI state as one line, for one-shot runs from a
// terminal.
type Console struct {
	mu  sync.Mutex
	out io.Writer
}

// NewConsole returns a console surface writing to out.
func NewConsole(out io.Writer) *Console {
	return &Console{out: out}
}

func (c *Console) ShowDialog(_ context.Context, state fsm.State, text string) {
	c.printf("[%s] %s\n", state, text)
}

func (c *Console) ShowResult(_ context.Context, state fsm.State, text string, _ time.Duration) {
	c.printf("[%s] %s\n", state, text)
}

func (c *Console) HideDialog(context.Context)              {}
func (c *Console) ClearResult(context.Context)             {}
func (c *Console) SetControlEnabled(context.Context, bool) {}

func (c *Console) printf(format string, args ...any) {
	if c.out == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = fmt.Fprintf(c.out, format, args...)
}
