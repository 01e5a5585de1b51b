//go:build !cgo

package audio

import (
	"context"
	"fmt"
)

func openMalgo(context.Context, Options) (Stream, error) {
	return nil, fmt.Errorf("%w: malgo backend requires a cgo build", ErrCapabilityUnavailable)
}
