package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rbright/resound/internal/audio"
	"github.com/rbright/resound/internal/config"
	"github.com/rbright/resound/internal/fsm"
	"github.com/rbright/resound/internal/ipc"
	"github.com/rbright/resound/internal/recorder"
	"github.com/rbright/resound/internal/upload"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

type fakeStream struct{}

func (fakeStream) Format() audio.Format { return audio.Format{SampleRate: 8000, Channels: 1} }
func (fakeStream) Device() audio.Device { return audio.Device{ID: "mic"} }
func (fakeStream) Close() error         { return nil }

func (fakeStream) Tap(fn func([]int16)) (func(), error) {
	fn([]int16{1, 2, 3})
	return func() {}, nil
}

type fakeAccess struct {
	capability audio.Capability
	calls      atomic.Int32
}

func (f *fakeAccess) Request(context.Context) audio.Capability {
	f.calls.Add(1)
	return f.capability
}

type fakeTimer struct {
	d       time.Duration
	f       func()
	stopped atomic.Bool
}

type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) func() bool {
	t := &fakeTimer{d: d, f: f}
	c.mu.Lock()
	c.timers = append(c.timers, t)
	c.mu.Unlock()
	return func() bool { return !t.stopped.Swap(true) }
}

// pending returns the most recent armed timer of duration d, if any.
func (c *fakeClock) pending(d time.Duration) *fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.timers) - 1; i >= 0; i-- {
		t := c.timers[i]
		if t.d == d && !t.stopped.Load() {
			return t
		}
	}
	return nil
}

func (c *fakeClock) fire(t *testing.T, d time.Duration) {
	t.Helper()
	var timer *fakeTimer
	require.Eventually(t, func() bool {
		timer = c.pending(d)
		return timer != nil
	}, waitFor, 5*time.Millisecond, "no timer armed for %s", d)
	timer.stopped.Store(true)
	timer.f()
}

func (c *fakeClock) durations() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, 0, len(c.timers))
	for _, t := range c.timers {
		out = append(out, t.d)
	}
	return out
}

type fakeSurface struct {
	mu    sync.Mutex
	calls []string
}

func (s *fakeSurface) record(call string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)
}

func (s *fakeSurface) ShowDialog(_ context.Context, _ fsm.State, text string) {
	s.record("dialog:" + text)
}
func (s *fakeSurface) HideDialog(context.Context) { s.record("hide") }
func (s *fakeSurface) ShowResult(_ context.Context, _ fsm.State, text string, fade time.Duration) {
	s.record(fmt.Sprintf("result:%s:%s", text, fade))
}
func (s *fakeSurface) ClearResult(context.Context) { s.record("clear") }
func (s *fakeSurface) SetControlEnabled(_ context.Context, enabled bool) {
	s.record(fmt.Sprintf("control:%t", enabled))
}

func (s *fakeSurface) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

type fakeObserver struct {
	accepted atomic.Int32
	ignored  atomic.Int32
	outcomes sync.Map
}

func (o *fakeObserver) TriggerAccepted()      { o.accepted.Add(1) }
func (o *fakeObserver) TriggerIgnored(string) { o.ignored.Add(1) }
func (o *fakeObserver) StateChanged(string)   {}
func (o *fakeObserver) UploadFinished(kind string, _ time.Duration) {
	o.outcomes.Store(kind, true)
}

type uploaderFunc func(context.Context, recorder.Clip, time.Duration) upload.Outcome

func (f uploaderFunc) Upload(ctx context.Context, clip recorder.Clip, timeout time.Duration) upload.Outcome {
	return f(ctx, clip, timeout)
}

type harness struct {
	machine  *Machine
	clock    *fakeClock
	surface  *fakeSurface
	observer *fakeObserver
	access   *fakeAccess
	uploads  atomic.Int32
	cancel   context.CancelFunc
	done     chan error
}

type harnessOptions struct {
	capability audio.Capability
	upload     func(context.Context, recorder.Clip, time.Duration) upload.Outcome
	encoder    recorder.Encoder
	onMatch    func(context.Context, upload.MatchRecord, string)
}

func newHarness(t *testing.T, opts harnessOptions) *harness {
	t.Helper()

	if opts.capability.Status == "" {
		opts.capability = audio.Granted(fakeStream{})
	}
	if opts.encoder == nil {
		opts.encoder = func([]int16, audio.Format) ([]byte, error) { return []byte("RIFF"), nil }
	}
	if opts.upload == nil {
		opts.upload = func(context.Context, recorder.Clip, time.Duration) upload.Outcome {
			return upload.Success(upload.MatchRecord{Artist: "A", Title: "B", Year: "1999"})
		}
	}

	h := &harness{
		clock:    &fakeClock{},
		surface:  &fakeSurface{},
		observer: &fakeObserver{},
		access:   &fakeAccess{capability: opts.capability},
		done:     make(chan error, 1),
	}
	uploadFn := opts.upload
	h.machine = New(Options{
		Access:   h.access,
		Recorder: recorder.New(recorder.Options{Encoder: opts.encoder}),
		Uploader: uploaderFunc(func(ctx context.Context, clip recorder.Clip, timeout time.Duration) upload.Outcome {
			h.uploads.Add(1)
			return uploadFn(ctx, clip, timeout)
		}),
		Surface:   h.surface,
		Observer:  h.observer,
		Timing:    config.DefaultTiming(),
		AfterFunc: h.clock.AfterFunc,
		OnMatch:   opts.onMatch,
	})

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- h.machine.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-h.done)
	})
	return h
}

func (h *harness) await(t *testing.T, pred func(Snapshot) bool) Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	snap, err := h.machine.Await(ctx, pred)
	require.NoError(t, err)
	return snap
}

func (h *harness) setup(t *testing.T) Snapshot {
	t.Helper()
	h.machine.Setup()
	return h.await(t, CapabilityResolved)
}

func (h *harness) trigger(t *testing.T) TriggerResult {
	t.Helper()
	res, err := h.machine.Trigger(context.Background())
	require.NoError(t, err)
	return res
}

func inState(state fsm.State) func(Snapshot) bool {
	return func(s Snapshot) bool { return s.UI.State == state }
}

func TestSetupGrantedEnablesControl(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	require.False(t, h.machine.ControlEnabled())
	snap := h.setup(t)
	require.Equal(t, fsm.StateIdle, snap.UI.State)
	require.True(t, snap.ControlEnabled)
	require.Equal(t, audio.StatusGranted, snap.Capability)

	h.machine.Setup()
	h.trigger(t)
	require.Equal(t, int32(1), h.access.calls.Load())
	require.Contains(t, h.surface.snapshot(), "control:true")
}

func TestDeniedCapabilityIsPersistentAndControlNeverEnables(t *testing.T) {
	tests := []struct {
		name    string
		reason  error
		message string
	}{
		{name: "permission denied", reason: audio.ErrPermissionDenied, message: MessageDenied},
		{name: "capability unavailable", reason: audio.ErrCapabilityUnavailable, message: MessageUnavailable},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, harnessOptions{capability: audio.Denied(tc.reason)})

			snap := h.setup(t)
			require.Equal(t, fsm.StateError, snap.UI.State)
			require.Equal(t, tc.message, snap.UI.Message)
			require.Zero(t, snap.UI.Fade)
			require.False(t, snap.ControlEnabled)

			for i := 0; i < 3; i++ {
				res := h.trigger(t)
				require.False(t, res.Accepted)
				require.Equal(t, ReasonUnavailable, res.Reason)
			}

			require.Equal(t, tc.message, h.machine.State().Message)
			require.False(t, h.machine.ControlEnabled())
			require.NotContains(t, h.surface.snapshot(), "control:true")
			require.Contains(t, h.surface.snapshot(), "result:"+tc.message+":0s")
			require.Empty(t, h.clock.durations())
			require.Equal(t, int32(3), h.observer.ignored.Load())
		})
	}
}

func TestTriggerBeforeSetupIsIgnored(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	res := h.trigger(t)
	require.False(t, res.Accepted)
	require.Equal(t, fsm.StateIdle, h.machine.State().State)
}

func TestSuccessfulCycle(t *testing.T) {
	matched := make(chan string, 1)
	h := newHarness(t, harnessOptions{
		onMatch: func(_ context.Context, _ upload.MatchRecord, text string) { matched <- text },
	})
	h.setup(t)

	res := h.trigger(t)
	require.True(t, res.Accepted)
	require.Equal(t, uint64(1), res.Cycle)
	require.Equal(t, fsm.StateRecording, h.machine.State().State)
	require.False(t, h.machine.ControlEnabled())

	h.clock.fire(t, config.RecordDuration)
	snap := h.await(t, CycleFinished(res.Cycle))

	require.Equal(t, fsm.StateResult, snap.UI.State)
	require.Equal(t, "Best Match: A - B (1999)", snap.UI.Message)
	require.True(t, snap.ControlEnabled)
	require.Equal(t, int32(1), h.uploads.Load())

	calls := h.surface.snapshot()
	require.Equal(t, []string{
		"control:true",
		"control:false",
		"clear",
		"dialog:" + MessageRecording,
		"dialog:" + MessageProcessing,
		"hide",
		"result:Best Match: A - B (1999):0s",
		"control:true",
	}, calls)

	require.Equal(t, "Best Match: A - B (1999)", <-matched)
	_, ok := h.observer.outcomes.Load("success")
	require.True(t, ok)
}

type timedStream struct {
	fakeStream

	mu       sync.Mutex
	tapped   time.Time
	untapped time.Time
}

func (s *timedStream) Tap(fn func([]int16)) (func(), error) {
	s.mu.Lock()
	s.tapped = time.Now()
	s.mu.Unlock()
	fn([]int16{1, 2, 3})
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.untapped = time.Now()
	}, nil
}

func (s *timedStream) interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.untapped.Sub(s.tapped)
}

type slowSurface struct {
	fakeSurface
	delay time.Duration
}

func (s *slowSurface) ShowDialog(ctx context.Context, state fsm.State, text string) {
	time.Sleep(s.delay)
	s.fakeSurface.ShowDialog(ctx, state, text)
}

func TestCaptureIntervalMatchesRecordDurationWithSlowSurface(t *testing.T) {
	const record = 200 * time.Millisecond
	stream := &timedStream{}
	uploader := uploaderFunc(func(context.Context, recorder.Clip, time.Duration) upload.Outcome {
		return upload.Success(upload.MatchRecord{Artist: "A", Title: "B"})
	})
	timing := config.Timing{
		RecordDuration: record,
		UploadTimeout:  5 * time.Second,
		ErrorFade:      time.Second,
	}
	m := New(Options{
		Access:   &fakeAccess{capability: audio.Granted(stream)},
		Uploader: uploader,
		Surface:  &slowSurface{delay: 300 * time.Millisecond},
		Timing:   timing,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})

	waitCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()

	m.Setup()
	_, err := m.Await(waitCtx, CapabilityResolved)
	require.NoError(t, err)

	res, err := m.Trigger(waitCtx)
	require.NoError(t, err)
	require.True(t, res.Accepted)

	snap, err := m.Await(waitCtx, CycleFinished(res.Cycle))
	require.NoError(t, err)
	require.Equal(t, fsm.StateResult, snap.Last.State)
	require.InDelta(t, record.Seconds(), stream.interval().Seconds(), 0.05)
}

func TestRecordingTimerUsesRecordDuration(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.setup(t)

	h.trigger(t)
	require.Equal(t, []time.Duration{config.RecordDuration}, h.clock.durations())
}

func TestSpuriousTriggersDuringCycleAreNoOps(t *testing.T) {
	release := make(chan struct{})
	h := newHarness(t, harnessOptions{
		upload: func(ctx context.Context, _ recorder.Clip, _ time.Duration) upload.Outcome {
			select {
			case <-release:
			case <-ctx.Done():
			}
			return upload.Success(upload.MatchRecord{Artist: "A", Title: "B", Year: "1999"})
		},
	})
	h.setup(t)

	first := h.trigger(t)
	require.True(t, first.Accepted)

	for i := 0; i < 5; i++ {
		res := h.trigger(t)
		require.False(t, res.Accepted)
		require.Equal(t, ReasonBusy, res.Reason)
	}

	h.clock.fire(t, config.RecordDuration)
	h.await(t, inState(fsm.StateProcessing))
	require.Eventually(t, func() bool { return h.uploads.Load() == 1 }, waitFor, 5*time.Millisecond)

	for i := 0; i < 5; i++ {
		res := h.trigger(t)
		require.False(t, res.Accepted)
	}

	close(release)
	h.await(t, CycleFinished(first.Cycle))

	require.Equal(t, int32(1), h.uploads.Load())
	require.Equal(t, int32(1), h.observer.accepted.Load())
	require.Equal(t, int32(10), h.observer.ignored.Load())
	require.Len(t, h.clock.durations(), 2) // record + upload timeout
}

func TestOutcomeMapping(t *testing.T) {
	tests := []struct {
		name    string
		outcome upload.Outcome
		message string
	}{
		{name: "http error", outcome: upload.HTTPError(500, "boom", nil), message: MessageHTTPError},
		{name: "network error", outcome: upload.HTTPError(0, "", errors.New("connection refused")), message: MessageHTTPError},
		{name: "timeout", outcome: upload.Timeout(), message: MessageTimeout},
		{name: "parse error", outcome: upload.ParseError(""), message: MessageNoMatch},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, harnessOptions{
				upload: func(context.Context, recorder.Clip, time.Duration) upload.Outcome { return tc.outcome },
			})
			h.setup(t)

			res := h.trigger(t)
			h.clock.fire(t, config.RecordDuration)
			snap := h.await(t, CycleFinished(res.Cycle))

			require.Equal(t, fsm.StateError, snap.UI.State)
			require.Equal(t, tc.message, snap.UI.Message)
			require.Equal(t, config.ErrorFade, snap.UI.Fade)
			require.True(t, snap.ControlEnabled)

			calls := h.surface.snapshot()
			require.Equal(t, "hide", calls[len(calls)-3])
			require.Equal(t, fmt.Sprintf("result:%s:%s", tc.message, config.ErrorFade), calls[len(calls)-2])

			h.clock.fire(t, config.ErrorFade)
			snap = h.await(t, inState(fsm.StateIdle))
			require.Empty(t, snap.UI.Message)
			require.True(t, snap.ControlEnabled)
			require.Equal(t, "clear", h.surface.snapshot()[len(h.surface.snapshot())-1])
		})
	}
}

func TestLateResponseAfterTimeoutIsDiscarded(t *testing.T) {
	release := make(chan struct{})
	returned := make(chan struct{})
	h := newHarness(t, harnessOptions{
		upload: func(context.Context, recorder.Clip, time.Duration) upload.Outcome {
			<-release
			defer close(returned)
			return upload.Success(upload.MatchRecord{Artist: "Late", Title: "Song", Year: "2001"})
		},
	})
	h.setup(t)

	res := h.trigger(t)
	h.clock.fire(t, config.RecordDuration)
	require.Eventually(t, func() bool { return h.uploads.Load() == 1 }, waitFor, 5*time.Millisecond)

	h.clock.fire(t, config.UploadTimeout)
	snap := h.await(t, CycleFinished(res.Cycle))
	require.Equal(t, fsm.StateError, snap.UI.State)
	require.Equal(t, MessageTimeout, snap.UI.Message)

	close(release)
	<-returned

	require.Never(t, func() bool {
		return h.machine.State().Message != MessageTimeout
	}, 100*time.Millisecond, 5*time.Millisecond)
	require.Equal(t, fsm.StateError, h.machine.State().State)
	_, ok := h.observer.outcomes.Load("success")
	require.False(t, ok)
}

func TestNewRecordingClearsPreviousMessageAndIgnoresStaleFade(t *testing.T) {
	h := newHarness(t, harnessOptions{
		upload: func(context.Context, recorder.Clip, time.Duration) upload.Outcome {
			return upload.HTTPError(503, "", nil)
		},
	})
	h.setup(t)

	first := h.trigger(t)
	h.clock.fire(t, config.RecordDuration)
	h.await(t, CycleFinished(first.Cycle))

	staleFade := h.clock.pending(config.ErrorFade)
	require.NotNil(t, staleFade)

	second := h.trigger(t)
	require.True(t, second.Accepted)
	require.True(t, staleFade.stopped.Load())

	staleFade.f()
	require.False(t, h.trigger(t).Accepted)
	snap := h.machine.Snapshot()
	require.Equal(t, fsm.StateRecording, snap.UI.State)
	require.Equal(t, second.Cycle, snap.Cycle)
}

func TestResultPersistsUntilNextRecording(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.setup(t)

	res := h.trigger(t)
	h.clock.fire(t, config.RecordDuration)
	h.await(t, CycleFinished(res.Cycle))

	require.Equal(t, []time.Duration{config.RecordDuration, config.UploadTimeout}, h.clock.durations())

	next := h.trigger(t)
	require.True(t, next.Accepted)
	require.Equal(t, "clear", h.surface.snapshot()[len(h.surface.snapshot())-2])
}

func TestEncodeFailureIsRecoverableError(t *testing.T) {
	h := newHarness(t, harnessOptions{
		encoder: func([]int16, audio.Format) ([]byte, error) { return nil, errors.New("encoder exploded") },
	})
	h.setup(t)

	res := h.trigger(t)
	h.clock.fire(t, config.RecordDuration)
	snap := h.await(t, CycleFinished(res.Cycle))

	require.Equal(t, fsm.StateError, snap.UI.State)
	require.Equal(t, MessageHTTPError, snap.UI.Message)
	require.True(t, snap.ControlEnabled)
	require.Zero(t, h.uploads.Load())
}

func TestHandleCommands(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	resp := h.machine.Handle(context.Background(), ipc.Request{Command: "bogus"})
	require.False(t, resp.OK)
	require.Contains(t, resp.Error, "unknown command")

	resp = h.machine.Handle(context.Background(), ipc.Request{Command: ipc.CommandTrigger})
	require.False(t, resp.OK)
	require.Contains(t, resp.Error, "trigger ignored: unavailable")

	h.setup(t)

	resp = h.machine.Handle(context.Background(), ipc.Request{Command: ipc.CommandStatus})
	require.True(t, resp.OK)
	require.Equal(t, "idle", resp.State)
	require.True(t, resp.ControlEnabled)
	require.Equal(t, "granted", resp.Capability)

	resp = h.machine.Handle(context.Background(), ipc.Request{Command: ipc.CommandTrigger})
	require.True(t, resp.OK)
	require.Equal(t, "recording", resp.State)
	require.False(t, resp.ControlEnabled)

	h.clock.fire(t, config.RecordDuration)
	h.await(t, inState(fsm.StateResult))

	waited := make(chan ipc.Response, 1)
	go func() {
		waited <- h.machine.Handle(context.Background(), ipc.Request{Command: ipc.CommandTrigger, Wait: true})
	}()
	h.clock.fire(t, config.RecordDuration)

	select {
	case resp = <-waited:
	case <-time.After(waitFor):
		t.Fatal("waiting trigger did not return")
	}
	require.True(t, resp.OK)
	require.Equal(t, "result", resp.State)
	require.Equal(t, "Best Match: A - B (1999)", resp.Message)
}

func TestRunTwiceFails(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	require.Eventually(t, func() bool { return h.machine.running.Load() }, waitFor, 5*time.Millisecond)
	require.ErrorIs(t, h.machine.Run(context.Background()), ErrAlreadyRunning)
}

func TestFormatMatch(t *testing.T) {
	require.Equal(t, "Best Match: A - B (1999)", FormatMatch(upload.MatchRecord{Artist: "A", Title: "B", Year: "1999"}))
	require.Equal(t, "Best Match: A - B", FormatMatch(upload.MatchRecord{Artist: "A", Title: "B"}))
}
