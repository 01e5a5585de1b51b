package recorder

import (
	"errors"
	"fmt"
	"io"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/orcaman/writerseeker"
	"github.com/rbright/resound/internal/audio"
)

// ErrEmptyClip is returned when there are no samples to encode.
var ErrEmptyClip = errors.New("no audio samples captured")

// EncodeWAV encodes signed 16-bit PCM as a RIFF/WAVE container.
func EncodeWAV(samples []int16, format audio.Format) ([]byte, error) {
	if len(samples) == 0 {
		return nil, ErrEmptyClip
	}
	if format.SampleRate <= 0 || format.Channels <= 0 {
		return nil, fmt.Errorf("invalid clip format %+v", format)
	}

	// The encoder seeks back to patch chunk sizes on Close.
	out := &writerseeker.WriterSeeker{}
	enc := wav.NewEncoder(out, format.SampleRate, 16, format.Channels, 1)

	buf := &goaudio.IntBuffer{
		Format: &goaudio.Format{
			NumChannels: format.Channels,
			SampleRate:  format.SampleRate,
		},
		Data:           make([]int, len(samples)),
		SourceBitDepth: 16,
	}
	for i, s := range samples {
		buf.Data[i] = int(s)
	}

	if err := enc.Write(buf); err != nil {
		return nil, fmt.Errorf("write wav samples: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("finalize wav header: %w", err)
	}
	data, err := io.ReadAll(out.Reader())
	if err != nil {
		return nil, fmt.Errorf("read encoded clip: %w", err)
	}
	return data, nil
}
