// Package audio opens the microphone once per process and fans captured PCM
// out to recorders.
package audio

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/jfreymuth/pulse"
	pulseproto "github.com/jfreymuth/pulse/proto"
)

// ListDevices returns the server's capture sources.
func ListDevices(_ context.Context) ([]Device, error) {
	client, err := newPulseClient()
	if err != nil {
		return nil, fmt.Errorf("connect pulse server: %w", err)
	}
	defer client.Close()
	return pulseSources(client)
}

func newPulseClient() (*pulse.Client, error) {
	return pulse.NewClient(
		pulse.ClientApplicationName("resound"),
		pulse.ClientApplicationIconName("audio-input-microphone"),
	)
}

// pulseSources maps the server's source list to Devices, marking the default.
func pulseSources(client *pulse.Client) ([]Device, error) {
	def, err := client.DefaultSource()
	if err != nil {
		return nil, fmt.Errorf("read default source: %w", err)
	}

	var reply pulseproto.GetSourceInfoListReply
	if err := client.RawRequest(&pulseproto.GetSourceInfoList{}, &reply); err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}

	devices := make([]Device, 0, len(reply))
	for _, src := range reply {
		if src == nil {
			continue
		}
		devices = append(devices, Device{
			ID:          src.SourceName,
			Description: src.Device,
			State:       sourceState(src.State),
			Available:   activePortAvailable(src),
			Muted:       src.Mute,
			Default:     src.SourceName == def.ID(),
		})
	}
	return devices, nil
}

// pulseStream is a continuous Pulse record stream; it is corked while no tap
// is attached.
type pulseStream struct {
	device Device
	format Format

	client *pulse.Client
	stream *pulse.RecordStream

	taps    *tapSet
	decoder pcmDecoder
	closed  atomic.Bool
}

// openPulse connects to the Pulse server, selects the configured source and
// prepares a corked record stream.
func openPulse(ctx context.Context, opts Options) (Stream, error) {
	client, err := newPulseClient()
	if err != nil {
		return nil, fmt.Errorf("%w: connect pulse server: %w", ErrCapabilityUnavailable, err)
	}

	devices, err := pulseSources(client)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %w", ErrCapabilityUnavailable, err)
	}
	selection, err := chooseDevice(devices, opts.Input, opts.Fallback)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %w", ErrPermissionDenied, err)
	}

	source, err := client.SourceByID(selection.Device.ID)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: resolve source %q: %w", ErrPermissionDenied, selection.Device.ID, err)
	}

	format := opts.Format
	if format == (Format{}) {
		format = DefaultFormat
	}

	ps := &pulseStream{
		device: selection.Device,
		format: format,
		client: client,
	}

	channelOpt := pulse.RecordMono
	if format.Channels == 2 {
		channelOpt = pulse.RecordStereo
	}

	writer := pulse.NewWriter(writerFunc(ps.onPCM), pulseproto.FormatInt16LE)
	stream, err := client.NewRecord(
		writer,
		pulse.RecordSource(source),
		channelOpt,
		pulse.RecordSampleRate(format.SampleRate),
		pulse.RecordMediaName("resound clip"),
	)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: create pulse record stream: %w", ErrPermissionDenied, err)
	}
	ps.stream = stream
	ps.taps = newTapSet(
		func() error {
			stream.Start()
			return nil
		},
		stream.Stop,
	)

	go func() {
		<-ctx.Done()
		_ = ps.Close()
	}()

	return ps, nil
}

func (s *pulseStream) Format() Format { return s.format }

func (s *pulseStream) Device() Device { return s.device }

func (s *pulseStream) Tap(fn func([]int16)) (func(), error) {
	return s.taps.add(fn)
}

// Close tears down the record stream and client exactly once.
func (s *pulseStream) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.taps.close()
	if s.stream != nil {
		s.stream.Stop()
		s.stream.Close()
	}
	if s.client != nil {
		s.client.Close()
	}
	return nil
}

// onPCM receives raw Pulse frames and fans decoded samples out to taps.
func (s *pulseStream) onPCM(buffer []byte) (int, error) {
	if s.closed.Load() {
		return 0, io.EOF
	}
	if len(buffer) == 0 {
		return 0, nil
	}
	s.taps.emit(s.decoder.decode(buffer))
	return len(buffer), nil
}

// writerFunc adapts a function to io.Writer for pulse.NewWriter.
type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(b []byte) (int, error) {
	return f(b)
}

var sourceStates = map[uint32]string{0: "running", 1: "idle", 2: "suspended"}

func sourceState(state uint32) string {
	if name, ok := sourceStates[state]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", state)
}

// activePortAvailable reports whether the source's active port may carry
// audio. Sources without ports, and ports in the unknown state, count as
// available.
func activePortAvailable(src *pulseproto.GetSourceInfoReply) bool {
	if src == nil {
		return false
	}
	const portNo = 1
	for _, port := range src.Ports {
		if port.Name == src.ActivePortName {
			return port.Available != portNo
		}
	}
	return true
}
