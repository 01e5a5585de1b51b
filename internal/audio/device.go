package audio

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Device is one capture source as reported by the audio server.
type Device struct {
	ID          string
	Description string
	State       string
	Available   bool
	Muted       bool
	Default     bool
}

// Selection is the source chosen for capture. Warning is set when the
// preferred input was unusable and the fallback was taken instead.
type Selection struct {
	Device   Device
	Warning  string
	Fallback bool
}

// SelectDevice lists live sources and applies the input/fallback preferences.
func SelectDevice(ctx context.Context, input string, fallback string) (Selection, error) {
	devices, err := ListDevices(ctx)
	if err != nil {
		return Selection{}, err
	}
	return chooseDevice(devices, input, fallback)
}

// chooseDevice picks input, or fallback when input is muted or unavailable.
// An empty preference or "default" means the server's default source.
func chooseDevice(devices []Device, input string, fallback string) (Selection, error) {
	if len(devices) == 0 {
		return Selection{}, errors.New("no audio input devices found")
	}

	primary, err := findPreferred(devices, input)
	if err != nil {
		return Selection{}, fmt.Errorf("audio.input: %w", err)
	}
	reason := unusableReason(primary)
	if reason == "" {
		return Selection{Device: primary}, nil
	}

	alt, err := findPreferred(devices, fallback)
	if err != nil {
		return Selection{}, fmt.Errorf("input %q is %s and audio.fallback is unusable: %w", primary.ID, reason, err)
	}
	if altReason := unusableReason(alt); altReason != "" {
		return Selection{}, fmt.Errorf("input %q is %s and fallback %q is %s", primary.ID, reason, alt.ID, altReason)
	}

	return Selection{
		Device:   alt,
		Warning:  fmt.Sprintf("audio.input %q is %s; falling back to %q", primary.ID, reason, alt.ID),
		Fallback: alt.ID != primary.ID,
	}, nil
}

func findPreferred(devices []Device, pref string) (Device, error) {
	pref = strings.ToLower(strings.TrimSpace(pref))
	if pref == "" || pref == "default" {
		for _, d := range devices {
			if d.Default {
				return d, nil
			}
		}
		return Device{}, errors.New("default audio source is unavailable")
	}
	for _, d := range devices {
		if deviceMatches(d, pref) {
			return d, nil
		}
	}
	return Device{}, fmt.Errorf("%q did not match any device", pref)
}

func unusableReason(d Device) string {
	switch {
	case d.Muted:
		return "muted"
	case !d.Available:
		return "unavailable"
	default:
		return ""
	}
}

// deviceMatches reports whether the lowercase term occurs in the device ID or
// description.
func deviceMatches(d Device, term string) bool {
	if term == "" {
		return false
	}
	return strings.Contains(strings.ToLower(d.ID), term) ||
		strings.Contains(strings.ToLower(d.Description), term)
}
