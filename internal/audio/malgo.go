//go:build cgo

package audio

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/gen2brain/malgo"
)

// malgoStream captures through miniaudio. The device is started while taps
// are attached and stopped otherwise.
type malgoStream struct {
	device Device
	format Format

	ctx *malgo.AllocatedContext
	dev *malgo.Device

	taps    *tapSet
	decoder pcmDecoder
	closed  atomic.Bool
}

func openMalgo(ctx context.Context, opts Options) (Stream, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: init miniaudio context: %w", ErrCapabilityUnavailable, err)
	}
	freeContext := func() {
		_ = mctx.Uninit()
		mctx.Free()
	}

	infos, err := mctx.Devices(malgo.Capture)
	if err != nil {
		freeContext()
		return nil, fmt.Errorf("%w: list capture devices: %w", ErrCapabilityUnavailable, err)
	}
	selected, id, err := selectMalgoDevice(infos, opts.Input, opts.Fallback)
	if err != nil {
		freeContext()
		return nil, fmt.Errorf("%w: %w", ErrPermissionDenied, err)
	}

	format := opts.Format
	if format == (Format{}) {
		format = DefaultFormat
	}

	ms := &malgoStream{device: selected, format: format, ctx: mctx}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.SampleRate = uint32(format.SampleRate)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(format.Channels)
	if id != nil {
		deviceConfig.Capture.DeviceID = id.Pointer()
	}
	deviceConfig.Alsa.NoMMap = 1

	dev, err := malgo.InitDevice(mctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: ms.onData,
	})
	if err != nil {
		freeContext()
		return nil, fmt.Errorf("%w: init capture device: %w", ErrPermissionDenied, err)
	}
	ms.dev = dev
	ms.taps = newTapSet(dev.Start, func() { _ = dev.Stop() })

	go func() {
		<-ctx.Done()
		_ = ms.Close()
	}()

	return ms, nil
}

// selectMalgoDevice maps miniaudio capture devices onto the shared selection
// policy. A nil id means the backend default.
func selectMalgoDevice(infos []malgo.DeviceInfo, input, fallback string) (Device, *malgo.DeviceID, error) {
	devices := make([]Device, 0, len(infos))
	for _, info := range infos {
		devices = append(devices, Device{
			ID:          malgoDeviceKey(info.ID),
			Description: info.Name(),
			State:       "idle",
			Available:   true,
			Default:     info.IsDefault == 1,
		})
	}
	if len(devices) > 0 && !hasDefault(devices) {
		devices[0].Default = true
	}

	selection, err := chooseDevice(devices, input, fallback)
	if err != nil {
		return Device{}, nil, err
	}
	if strings.TrimSpace(input) == "" || strings.EqualFold(strings.TrimSpace(input), "default") {
		return selection.Device, nil, nil
	}
	for i := range infos {
		if malgoDeviceKey(infos[i].ID) == selection.Device.ID {
			id := infos[i].ID
			return selection.Device, &id, nil
		}
	}
	return selection.Device, nil, nil
}

func malgoDeviceKey(id malgo.DeviceID) string {
	return hex.EncodeToString(bytes.TrimRight(id[:], "\x00"))
}

func hasDefault(devices []Device) bool {
	for _, dev := range devices {
		if dev.Default {
			return true
		}
	}
	return false
}

func (s *malgoStream) Format() Format { return s.format }

func (s *malgoStream) Device() Device { return s.device }

func (s *malgoStream) Tap(fn func([]int16)) (func(), error) {
	return s.taps.add(fn)
}

func (s *malgoStream) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.taps.close()
	if s.dev != nil {
		s.dev.Uninit()
	}
	if s.ctx != nil {
		_ = s.ctx.Uninit()
		s.ctx.Free()
	}
	return nil
}

func (s *malgoStream) onData(_, input []byte, _ uint32) {
	if s.closed.Load() || len(input) == 0 {
		return
	}
	s.taps.emit(s.decoder.decode(input))
}
