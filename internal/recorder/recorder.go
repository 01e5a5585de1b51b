// Package recorder turns a granted capture stream into fixed WAV clips.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rbright/resound/internal/audio"
)

var (
	ErrNotGranted       = errors.New("microphone capability not granted")
	ErrAlreadyRecording = errors.New("recording already in progress")
	ErrHandleClosed     = errors.New("recording handle already stopped")
)

// ContentTypeWAV is the media type of every encoded clip.
const ContentTypeWAV = "audio/wav"

// Clip is one encoded recording. It is never mutated after Stop returns it.
type Clip struct {
	ID          string
	Data        []byte
	ContentType string
	Format      audio.Format
	Samples     int
	Duration    time.Duration
	CreatedAt   time.Time
}

// Encoder converts buffered PCM into an uploadable container.
type Encoder func(samples []int16, format audio.Format) ([]byte, error)

// Options configures a Recorder.
type Options struct {
	Encoder   Encoder
	AudioDump bool
	Logger    *slog.Logger
	Now       func() time.Time
}

// Handle is a single-use reference to an in-progress recording.
type Handle struct {
	id        string
	format    audio.Format
	startedAt time.Time

	mu       sync.Mutex
	samples  []int16
	untap    func()
	detached bool
	stopped  bool
}

// ID returns the identifier the finished clip will carry.
func (h *Handle) ID() string { return h.id }

func (h *Handle) append(frame []int16) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.detached {
		return
	}
	h.samples = append(h.samples, frame...)
}

// Detach ends sampling for this handle and keeps the buffered samples for
// Stop. Calling it again is a no-op.
func (h *Handle) Detach() {
	h.mu.Lock()
	h.detached = true
	untap := h.untap
	h.untap = nil
	h.mu.Unlock()

	if untap != nil {
		untap()
	}
}

// Recorder buffers samples from the capture stream between Start and Stop.
type Recorder struct {
	encode    Encoder
	audioDump bool
	logger    *slog.Logger
	now       func() time.Time

	mu     sync.Mutex
	active *Handle
}

// New constructs a Recorder. A nil encoder defaults to EncodeWAV.
func New(opts Options) *Recorder {
	r := &Recorder{
		encode:    opts.Encoder,
		audioDump: opts.AudioDump,
		logger:    opts.Logger,
		now:       opts.Now,
	}
	if r.encode == nil {
		r.encode = EncodeWAV
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

// Start attaches a tap to the granted stream and begins buffering.
func (r *Recorder) Start(capability audio.Capability) (*Handle, error) {
	if !capability.IsGranted() {
		return nil, ErrNotGranted
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active != nil {
		return nil, ErrAlreadyRecording
	}

	h := &Handle{
		id:        uuid.NewString(),
		format:    capability.Stream.Format(),
		startedAt: r.now(),
	}
	untap, err := capability.Stream.Tap(h.append)
	if err != nil {
		return nil, fmt.Errorf("attach capture tap: %w", err)
	}
	h.untap = untap
	r.active = h
	return h, nil
}

// Stop detaches the tap if still attached, encodes the buffered samples and
// releases the buffer. A handle can be stopped once.
func (r *Recorder) Stop(ctx context.Context, h *Handle) (Clip, error) {
	if h == nil {
		return Clip{}, ErrHandleClosed
	}

	h.Detach()
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return Clip{}, ErrHandleClosed
	}
	h.stopped = true
	samples := h.samples
	h.samples = nil
	h.mu.Unlock()

	r.mu.Lock()
	if r.active == h {
		r.active = nil
	}
	r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return Clip{}, err
	}

	data, err := r.encode(samples, h.format)
	if err != nil {
		return Clip{}, fmt.Errorf("encode clip: %w", err)
	}

	clip := Clip{
		ID:          h.id,
		Data:        data,
		ContentType: ContentTypeWAV,
		Format:      h.format,
		Samples:     len(samples),
		Duration:    sampleDuration(len(samples), h.format),
		CreatedAt:   r.now(),
	}

	if r.audioDump {
		if path, derr := dumpClip(clip); derr != nil {
			r.logWarn("unable to write debug audio dump", "error", derr.Error())
		} else if r.logger != nil {
			r.logger.Debug("wrote debug audio dump", "clip_id", clip.ID, "path", path)
		}
	}

	return clip, nil
}

func sampleDuration(samples int, format audio.Format) time.Duration {
	if format.SampleRate <= 0 || format.Channels <= 0 {
		return 0
	}
	frames := samples / format.Channels
	return time.Duration(frames) * time.Second / time.Duration(format.SampleRate)
}

func (r *Recorder) logWarn(message string, args ...any) {
	if r.logger == nil {
		return
	}
	r.logger.Warn(message, args...)
}
