// Package session coordinates capture access, clip recording, upload and the
// UI state projected from them.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rbright/resound/internal/audio"
	"github.com/rbright/resound/internal/config"
	"github.com/rbright/resound/internal/fsm"
	"github.com/rbright/resound/internal/ipc"
	"github.com/rbright/resound/internal/recorder"
	"github.com/rbright/resound/internal/upload"
)

// ErrAlreadyRunning is returned when Run is called twice.
var ErrAlreadyRunning = errors.New("session machine already running")

const (
	ReasonUnavailable = "unavailable"
	ReasonBusy        = "busy"
)

// UIState is the single source of truth for what the user sees.
type UIState struct {
	State   fsm.State     `json:"state"`
	Message string        `json:"message,omitempty"`
	Fade    time.Duration `json:"fade,omitempty"`
}

// Snapshot is a consistent view of machine state for callers off the loop.
type Snapshot struct {
	UI             UIState
	ControlEnabled bool
	Capability     audio.Status
	Cycle          uint64
	// Last is the terminal UIState of the most recent cycle.
	Last UIState
}

// TriggerResult reports whether a trigger started a new cycle.
type TriggerResult struct {
	Accepted bool
	Cycle    uint64
	State    fsm.State
	Reason   string
}

// CaptureAccess yields the process-wide capture capability.
type CaptureAccess interface {
	Request(context.Context) audio.Capability
}

// ClipRecorder buffers one clip at a time.
type ClipRecorder interface {
	Start(audio.Capability) (*recorder.Handle, error)
	Stop(context.Context, *recorder.Handle) (recorder.Clip, error)
}

// Uploader classifies one upload attempt.
type Uploader interface {
	Upload(context.Context, recorder.Clip, time.Duration) upload.Outcome
}

// AfterFunc arms a one-shot timer and returns its stop function.
type AfterFunc func(time.Duration, func()) (stop func() bool)

func realAfterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

// Options wires a Machine. Nil collaborators fall back to no-ops where safe.
type Options struct {
	Logger   *slog.Logger
	Access   CaptureAccess
	Recorder ClipRecorder
	Uploader Uploader
	Surface  Surface
	Observer Observer
	Timing   config.Timing
	// OnMatch runs off the event loop after a successful identification.
	OnMatch   func(context.Context, upload.MatchRecord, string)
	AfterFunc AfterFunc
}

type event interface{}

type (
	evSetup      struct{}
	evPermission struct{ capability audio.Capability }
	evTrigger    struct{ reply chan TriggerResult }
	evElapsed    struct{ cycle uint64 }
	evClip       struct {
		cycle uint64
		clip  recorder.Clip
		err   error
	}
	evOutcome struct {
		cycle   uint64
		outcome upload.Outcome
	}
	evUploadTimeout struct{ cycle uint64 }
	evFade          struct{ generation uint64 }
)

// Machine owns the capability, the active recording, the control flag and
// the current UIState. All mutation happens on the Run goroutine.
type Machine struct {
	logger   *slog.Logger
	access   CaptureAccess
	recorder ClipRecorder
	uploader Uploader
	surface  Surface
	observer Observer
	timing   config.Timing
	onMatch  func(context.Context, upload.MatchRecord, string)
	after    AfterFunc

	events  chan event
	done    chan struct{}
	running atomic.Bool

	mu      sync.RWMutex
	snap    Snapshot
	changed chan struct{}

	// Loop-owned.
	setupStarted bool
	capability   audio.Capability
	state        fsm.State
	active       *recorder.Handle
	recordStop   func() bool
	uploading    bool
	uploadCancel context.CancelFunc
	uploadStop   func() bool
	fadeGen      uint64
	fadeStop     func() bool
	cycle        uint64
}

// New constructs a Machine in the Idle state with the control disabled.
func New(opts Options) *Machine {
	m := &Machine{
		logger:   opts.Logger,
		access:   opts.Access,
		recorder: opts.Recorder,
		uploader: opts.Uploader,
		surface:  opts.Surface,
		observer: opts.Observer,
		timing:   opts.Timing,
		onMatch:  opts.OnMatch,
		after:    opts.AfterFunc,

		events:  make(chan event, 16),
		done:    make(chan struct{}),
		changed: make(chan struct{}),

		capability: audio.Capability{Status: audio.StatusUnrequested},
		state:      fsm.StateIdle,
	}
	if m.logger == nil {
		m.logger = slog.New(slog.DiscardHandler)
	}
	if m.recorder == nil {
		m.recorder = recorder.New(recorder.Options{Logger: m.logger})
	}
	if m.surface == nil {
		m.surface = noopSurface{}
	}
	if m.observer == nil {
		m.observer = noopObserver{}
	}
	if m.after == nil {
		m.after = realAfterFunc
	}
	if m.timing == (config.Timing{}) {
		m.timing = config.DefaultTiming()
	}
	m.snap = Snapshot{
		UI:         UIState{State: fsm.StateIdle},
		Capability: audio.StatusUnrequested,
	}
	return m
}

// Run processes events until ctx is cancelled.
func (m *Machine) Run(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(m.done)
	defer m.shutdown()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-m.events:
			m.handle(ctx, ev)
		}
	}
}

// Setup requests capture access once. Later calls are ignored.
func (m *Machine) Setup() {
	m.post(evSetup{})
}

// Trigger asks the machine to start a recording. Triggers while the control
// is disabled are ignored.
func (m *Machine) Trigger(ctx context.Context) (TriggerResult, error) {
	reply := make(chan TriggerResult, 1)
	select {
	case m.events <- evTrigger{reply: reply}:
	case <-m.done:
		return TriggerResult{}, errors.New("session machine stopped")
	case <-ctx.Done():
		return TriggerResult{}, ctx.Err()
	}

	select {
	case res := <-reply:
		return res, nil
	case <-m.done:
		return TriggerResult{}, errors.New("session machine stopped")
	case <-ctx.Done():
		return TriggerResult{}, ctx.Err()
	}
}

// State returns the current UIState.
func (m *Machine) State() UIState {
	return m.Snapshot().UI
}

// ControlEnabled reports whether a trigger would currently be accepted.
func (m *Machine) ControlEnabled() bool {
	return m.Snapshot().ControlEnabled
}

// Snapshot returns a consistent copy of the observable state.
func (m *Machine) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snap
}

// Await blocks until pred holds for a snapshot or ctx ends.
func (m *Machine) Await(ctx context.Context, pred func(Snapshot) bool) (Snapshot, error) {
	for {
		m.mu.RLock()
		snap, changed := m.snap, m.changed
		m.mu.RUnlock()

		if pred(snap) {
			return snap, nil
		}
		select {
		case <-ctx.Done():
			return snap, ctx.Err()
		case <-changed:
		}
	}
}

// CapabilityResolved holds once setup has granted or denied access.
func CapabilityResolved(s Snapshot) bool {
	return s.Capability != audio.StatusUnrequested && s.UI.State != fsm.StateAwaitingPermission
}

// CycleFinished returns a predicate that holds once cycle left Recording and
// Processing.
func CycleFinished(cycle uint64) func(Snapshot) bool {
	return func(s Snapshot) bool {
		return s.Cycle == cycle && !fsm.Busy(s.UI.State)
	}
}

// Handle serves IPC commands for the listening owner.
func (m *Machine) Handle(ctx context.Context, req ipc.Request) ipc.Response {
	switch req.Command {
	case ipc.CommandStatus:
		return m.response(m.Snapshot(), true, "", "")
	case ipc.CommandTrigger:
		res, err := m.Trigger(ctx)
		if err != nil {
			return m.response(m.Snapshot(), false, "", err.Error())
		}
		if !res.Accepted {
			return m.response(m.Snapshot(), false, "", fmt.Sprintf("trigger ignored: %s", res.Reason))
		}
		if !req.Wait {
			return m.response(m.Snapshot(), true, "recording started", "")
		}
		snap, err := m.Await(ctx, CycleFinished(res.Cycle))
		if err != nil {
			return m.response(snap, false, "", err.Error())
		}
		return m.response(snap, snap.Last.State == fsm.StateResult, snap.Last.Message, "")
	default:
		return m.response(m.Snapshot(), false, "", fmt.Sprintf("unknown command: %s", req.Command))
	}
}

func (m *Machine) response(snap Snapshot, ok bool, message string, errText string) ipc.Response {
	state := snap.UI.State
	if message == "" && errText == "" {
		message = snap.UI.Message
	}
	return ipc.Response{
		OK:             ok,
		State:          string(state),
		Message:        message,
		Error:          errText,
		ControlEnabled: snap.ControlEnabled,
		Capability:     string(snap.Capability),
	}
}

// post enqueues an event unless the loop has exited.
func (m *Machine) post(ev event) {
	select {
	case m.events <- ev:
	case <-m.done:
	}
}

func (m *Machine) handle(ctx context.Context, ev event) {
	switch e := ev.(type) {
	case evSetup:
		m.onSetup(ctx)
	case evPermission:
		m.onPermission(ctx, e.capability)
	case evTrigger:
		e.reply <- m.onTrigger(ctx)
	case evElapsed:
		m.onElapsed(ctx, e.cycle)
	case evClip:
		m.onClip(ctx, e)
	case evOutcome:
		m.onOutcome(ctx, e)
	case evUploadTimeout:
		m.onUploadTimeout(ctx, e.cycle)
	case evFade:
		m.onFade(ctx, e.generation)
	default:
		m.logger.Warn("unknown session event", "event", fmt.Sprintf("%T", ev))
	}
}

func (m *Machine) onSetup(ctx context.Context) {
	if m.setupStarted {
		return
	}
	m.setupStarted = true

	if !m.transition(fsm.EventRequestPermission) {
		return
	}
	m.publish(UIState{State: fsm.StateAwaitingPermission}, false)

	access := m.access
	go func() {
		capability := audio.Denied(fmt.Errorf("%w: no capture access configured", audio.ErrCapabilityUnavailable))
		if access != nil {
			capability = access.Request(ctx)
		}
		m.post(evPermission{capability: capability})
	}()
}

func (m *Machine) onPermission(ctx context.Context, capability audio.Capability) {
	m.capability = capability

	if capability.IsGranted() {
		if !m.transition(fsm.EventGranted) {
			return
		}
		device := capability.Stream.Device()
		m.logger.Info("capture access granted", "device", device.ID, "description", device.Description)
		m.surface.SetControlEnabled(ctx, true)
		m.publish(UIState{State: fsm.StateIdle}, true)
		return
	}

	if !m.transition(fsm.EventDenied) {
		return
	}
	reason := "unknown"
	if capability.Reason != nil {
		reason = capability.Reason.Error()
	}
	m.logger.Error("capture access denied", "reason", reason)

	ui := UIState{State: fsm.StateError, Message: denialMessage(capability.Reason)}
	m.surface.SetControlEnabled(ctx, false)
	m.surface.ShowResult(ctx, ui.State, ui.Message, 0)
	m.publish(ui, false)
}

func (m *Machine) onTrigger(ctx context.Context) TriggerResult {
	if !m.capability.IsGranted() {
		m.observer.TriggerIgnored(ReasonUnavailable)
		return TriggerResult{State: m.state, Reason: ReasonUnavailable}
	}
	if m.active != nil || fsm.Busy(m.state) || !m.Snapshot().ControlEnabled {
		m.observer.TriggerIgnored(ReasonBusy)
		return TriggerResult{State: m.state, Reason: ReasonBusy}
	}
	if !m.transition(fsm.EventStart) {
		m.observer.TriggerIgnored(ReasonBusy)
		return TriggerResult{State: m.state, Reason: ReasonBusy}
	}

	m.cancelFade()
	m.cycle++
	cycle := m.cycle

	m.surface.SetControlEnabled(ctx, false)
	m.surface.ClearResult(ctx)
	m.surface.ShowDialog(ctx, fsm.StateRecording, MessageRecording)
	m.publish(UIState{State: fsm.StateRecording, Message: MessageRecording}, false)

	m.observer.TriggerAccepted()
	handle, err := m.recorder.Start(m.capability)
	if err != nil {
		m.logger.Error("start recording failed", "cycle", cycle, "error", err.Error())
		m.fail(ctx, MessageHTTPError)
		return TriggerResult{Accepted: true, Cycle: cycle, State: m.state}
	}

	m.active = handle
	m.recordStop = m.after(m.timing.RecordDuration, func() {
		m.post(evElapsed{cycle: cycle})
	})
	m.logger.Info("recording started", "cycle", cycle, "clip_id", handle.ID(), "duration_ms", m.timing.RecordDuration.Milliseconds())
	return TriggerResult{Accepted: true, Cycle: cycle, State: m.state}
}

func (m *Machine) onElapsed(ctx context.Context, cycle uint64) {
	if cycle != m.cycle || m.active == nil {
		return
	}
	if !m.transition(fsm.EventElapsed) {
		return
	}

	handle := m.active
	m.active = nil
	m.recordStop = nil
	handle.Detach()

	m.surface.ShowDialog(ctx, fsm.StateProcessing, MessageProcessing)
	m.publish(UIState{State: fsm.StateProcessing, Message: MessageProcessing}, false)

	rec := m.recorder
	go func() {
		clip, err := rec.Stop(ctx, handle)
		m.post(evClip{cycle: cycle, clip: clip, err: err})
	}()
}

func (m *Machine) onClip(ctx context.Context, e evClip) {
	if e.cycle != m.cycle || m.state != fsm.StateProcessing || m.uploading {
		return
	}
	if e.err != nil {
		m.logger.Error("encode clip failed", "cycle", e.cycle, "error", e.err.Error())
		m.fail(ctx, MessageHTTPError)
		return
	}
	if m.uploader == nil {
		m.logger.Error("upload client not configured", "cycle", e.cycle)
		m.fail(ctx, MessageHTTPError)
		return
	}

	m.logger.Info("clip encoded", "cycle", e.cycle, "clip_id", e.clip.ID, "bytes", len(e.clip.Data), "samples", e.clip.Samples)

	uploadCtx, cancel := context.WithCancel(ctx)
	m.uploading = true
	m.uploadCancel = cancel

	cycle := e.cycle
	timeout := m.timing.UploadTimeout
	m.uploadStop = m.after(timeout, func() {
		m.post(evUploadTimeout{cycle: cycle})
	})

	uploader := m.uploader
	clip := e.clip
	go func() {
		outcome := uploader.Upload(uploadCtx, clip, timeout)
		m.post(evOutcome{cycle: cycle, outcome: outcome})
	}()
}

func (m *Machine) onUploadTimeout(ctx context.Context, cycle uint64) {
	if cycle != m.cycle || !m.uploading {
		return
	}
	m.logger.Warn("upload timed out", "cycle", cycle, "timeout_ms", m.timing.UploadTimeout.Milliseconds())
	m.resolve(ctx, upload.Outcome{Kind: upload.KindTimeout, Latency: m.timing.UploadTimeout})
}

func (m *Machine) onOutcome(ctx context.Context, e evOutcome) {
	if e.cycle != m.cycle || !m.uploading {
		m.logger.Info("discarding late upload outcome", "cycle", e.cycle, "outcome", string(e.outcome.Kind))
		return
	}
	m.resolve(ctx, e.outcome)
}

// resolve applies the first outcome of the current upload and abandons the
// request.
func (m *Machine) resolve(ctx context.Context, outcome upload.Outcome) {
	m.uploading = false
	if m.uploadStop != nil {
		m.uploadStop()
		m.uploadStop = nil
	}
	if m.uploadCancel != nil {
		m.uploadCancel()
		m.uploadCancel = nil
	}
	m.observer.UploadFinished(string(outcome.Kind), outcome.Latency)

	if outcome.Kind != upload.KindSuccess {
		attrs := []any{"cycle", m.cycle, "outcome", string(outcome.Kind), "status", upload.StatusText(outcome.Status)}
		if outcome.Err != nil {
			attrs = append(attrs, "error", outcome.Err.Error())
		}
		m.logger.Warn("identification failed", attrs...)
		m.fail(ctx, outcomeMessage(outcome))
		return
	}

	if !m.transition(fsm.EventMatched) {
		return
	}
	text := FormatMatch(outcome.Match)
	m.logger.Info("identification matched", "cycle", m.cycle, "artist", outcome.Match.Artist, "title", outcome.Match.Title, "year", outcome.Match.Year)
	m.showTerminal(ctx, UIState{State: fsm.StateResult, Message: text, Fade: m.timing.ResultFade})

	if m.onMatch != nil {
		go m.onMatch(ctx, outcome.Match, text)
	}
}

// fail moves a recording or processing cycle to a recoverable Error.
func (m *Machine) fail(ctx context.Context, message string) {
	if m.active != nil {
		handle := m.active
		m.active = nil
		handle.Detach()
		rec := m.recorder
		go func() { _, _ = rec.Stop(context.Background(), handle) }()
	}
	if m.recordStop != nil {
		m.recordStop()
		m.recordStop = nil
	}
	if !m.transition(fsm.EventFail) {
		return
	}
	m.showTerminal(ctx, UIState{State: fsm.StateError, Message: message, Fade: m.timing.ErrorFade})
}

// showTerminal clears the dialog before showing the message, re-enables the
// control and arms the fade timer.
func (m *Machine) showTerminal(ctx context.Context, ui UIState) {
	m.surface.HideDialog(ctx)
	m.surface.ShowResult(ctx, ui.State, ui.Message, ui.Fade)

	if ui.Fade > 0 {
		m.fadeGen++
		generation := m.fadeGen
		m.fadeStop = m.after(ui.Fade, func() {
			m.post(evFade{generation: generation})
		})
	}

	m.surface.SetControlEnabled(ctx, true)
	m.publish(ui, true)
}

func (m *Machine) onFade(ctx context.Context, generation uint64) {
	if generation != m.fadeGen {
		return
	}
	m.fadeStop = nil
	if m.state != fsm.StateResult && m.state != fsm.StateError {
		return
	}
	if !m.transition(fsm.EventFade) {
		return
	}
	m.surface.ClearResult(ctx)
	m.publish(UIState{State: fsm.StateIdle}, true)
}

func (m *Machine) cancelFade() {
	m.fadeGen++
	if m.fadeStop != nil {
		m.fadeStop()
		m.fadeStop = nil
	}
}

// transition applies one FSM event to the loop-owned state.
func (m *Machine) transition(event fsm.Event) bool {
	next, err := fsm.Transition(m.state, event)
	if err != nil {
		m.logger.Error("session transition rejected", "state", string(m.state), "event", string(event), "error", err.Error())
		return false
	}
	m.state = next
	return true
}

// publish updates the snapshot and wakes Await callers.
func (m *Machine) publish(ui UIState, controlEnabled bool) {
	m.mu.Lock()
	m.snap.UI = ui
	m.snap.ControlEnabled = controlEnabled && m.capability.IsGranted()
	m.snap.Capability = m.capability.Status
	m.snap.Cycle = m.cycle
	if ui.State == fsm.StateResult || ui.State == fsm.StateError {
		m.snap.Last = ui
	}
	close(m.changed)
	m.changed = make(chan struct{})
	m.mu.Unlock()

	m.observer.StateChanged(string(ui.State))
}

func (m *Machine) shutdown() {
	if m.recordStop != nil {
		m.recordStop()
	}
	if m.uploadStop != nil {
		m.uploadStop()
	}
	if m.uploadCancel != nil {
		m.uploadCancel()
	}
	if m.fadeStop != nil {
		m.fadeStop()
	}
	if m.active != nil {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, _ = m.recorder.Stop(ctx, m.active)
		m.active = nil
	}
}
