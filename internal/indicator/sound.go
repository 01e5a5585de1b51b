package indicator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-audio/wav"
	"github.com/jfreymuth/pulse"
	"github.com/mitchellh/go-homedir"
	"github.com/rbright/resound/internal/config"
)

type cueKind int

const (
	cueStart cueKind = iota + 1
	cueStop
	cueComplete
	cueError
)

const (
	synthRate = 16000
	toneGap   = 22 * time.Millisecond
	toneRamp  = 5 * time.Millisecond
	toneLevel = 0.18
)

// tone is one sine segment of a synthesized cue.
type tone struct {
	hz     float64
	length time.Duration
	level  float64
}

// cue pairs a built-in tone sequence with the config field that overrides it.
type cue struct {
	override func(config.IndicatorConfig) string
	pcm      []int16
}

var cues = map[cueKind]cue{
	cueStart: {
		override: func(c config.IndicatorConfig) string { return c.SoundStartFile },
		pcm:      synthesize(tone{880, 70 * time.Millisecond, toneLevel}, tone{1175, 70 * time.Millisecond, toneLevel}),
	},
	cueStop: {
		override: func(c config.IndicatorConfig) string { return c.SoundStopFile },
		pcm:      synthesize(tone{620, 120 * time.Millisecond, toneLevel}),
	},
	cueComplete: {
		override: func(c config.IndicatorConfig) string { return c.SoundCompleteFile },
		pcm:      synthesize(tone{740, 65 * time.Millisecond, toneLevel}, tone{988, 90 * time.Millisecond, toneLevel}),
	},
	cueError: {
		override: func(c config.IndicatorConfig) string { return c.SoundErrorFile },
		pcm:      synthesize(tone{480, 75 * time.Millisecond, toneLevel}, tone{360, 90 * time.Millisecond, toneLevel}),
	},
}

// emitCue plays the configured file for kind and falls back to the built-in
// tone when no file is set or the file cannot be played.
func emitCue(ctx context.Context, kind cueKind, cfg config.IndicatorConfig) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c, ok := cues[kind]
	if !ok {
		return nil
	}
	if path := cuePath(kind, cfg); path != "" && playCueFile(ctx, path) == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return playPCM(c.pcm, synthRate)
}

// cuePath returns the expanded override file for kind, or "" when unset.
func cuePath(kind cueKind, cfg config.IndicatorConfig) string {
	c, ok := cues[kind]
	if !ok {
		return ""
	}
	raw := strings.TrimSpace(c.override(cfg))
	if raw == "" {
		return ""
	}
	if expanded, err := homedir.Expand(raw); err == nil {
		return expanded
	}
	return raw
}

// playCueFile streams WAV files directly and hands anything else to pw-play.
func playCueFile(ctx context.Context, path string) error {
	if strings.EqualFold(filepath.Ext(path), ".wav") {
		samples, rate, err := loadWAV(path)
		if err == nil {
			return playPCM(samples, rate)
		}
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("cue file: %w", err)
	}
	if err := exec.CommandContext(ctx, "pw-play", "--media-role", "Notification", path).Run(); err != nil {
		return fmt.Errorf("pw-play %s: %w", path, err)
	}
	return nil
}

// loadWAV decodes a PCM WAV file to mono 16-bit samples.
func loadWAV(path string) ([]int16, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, 0, fmt.Errorf("%s: not a PCM wav file", path)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("decode %s: %w", path, err)
	}

	channels := buf.Format.NumChannels
	if channels < 1 {
		channels = 1
	}
	shift := buf.SourceBitDepth - 16
	out := make([]int16, 0, len(buf.Data)/channels)
	for i := 0; i+channels <= len(buf.Data); i += channels {
		sum := 0
		for _, v := range buf.Data[i : i+channels] {
			switch {
			case shift > 0:
				v >>= shift
			case shift < 0:
				// 8-bit wav is unsigned
				v = (v - 128) << -shift
			}
			sum += v
		}
		out = append(out, int16(sum/channels))
	}
	if len(out) == 0 {
		return nil, 0, errors.New("empty wav cue")
	}
	return out, buf.Format.SampleRate, nil
}

func playPCM(samples []int16, rate int) error {
	if len(samples) == 0 {
		return nil
	}
	client, err := pulse.NewClient(
		pulse.ClientApplicationName("resound"),
		pulse.ClientApplicationIconName("audio-input-microphone"),
	)
	if err != nil {
		return fmt.Errorf("connect pulse server: %w", err)
	}
	defer client.Close()

	remaining := samples
	stream, err := client.NewPlayback(
		pulse.Int16Reader(func(buf []int16) (int, error) {
			n := copy(buf, remaining)
			remaining = remaining[n:]
			if len(remaining) == 0 {
				return n, pulse.EndOfData
			}
			return n, nil
		}),
		pulse.PlaybackMono,
		pulse.PlaybackSampleRate(rate),
		pulse.PlaybackLatency(0.02),
		pulse.PlaybackMediaName("resound indicator cue"),
	)
	if err != nil {
		return fmt.Errorf("open cue playback: %w", err)
	}
	defer stream.Close()

	stream.Start()
	stream.Drain()
	if err := stream.Error(); err != nil {
		return fmt.Errorf("play cue: %w", err)
	}
	return nil
}

// synthesize renders tones back to back with a short silence between them.
func synthesize(tones ...tone) []int16 {
	var pcm []int16
	for i, t := range tones {
		if i > 0 {
			pcm = append(pcm, make([]int16, sampleCount(toneGap))...)
		}
		pcm = append(pcm, renderTone(t)...)
	}
	return pcm
}

// renderTone renders a sine with linear attack and release ramps.
func renderTone(t tone) []int16 {
	n := sampleCount(t.length)
	if n == 0 || t.hz <= 0 || t.level <= 0 {
		return nil
	}
	ramp := min(max(n/10, 1), sampleCount(toneRamp))

	pcm := make([]int16, n)
	for i := range pcm {
		env := min(1, float64(i)/float64(ramp), float64(n-1-i)/float64(ramp))
		phase := 2 * math.Pi * t.hz * float64(i) / synthRate
		pcm[i] = int16(math.Round(math.Sin(phase) * t.level * env * math.MaxInt16))
	}
	return pcm
}

func sampleCount(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Round(d.Seconds() * synthRate))
}
