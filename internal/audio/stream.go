package audio

import (
	"encoding/binary"
	"errors"
	"sync"
)

// ErrStreamClosed is returned when tapping a closed stream.
var ErrStreamClosed = errors.New("audio stream closed")

// Format describes the PCM layout delivered to taps.
type Format struct {
	SampleRate int
	Channels   int
}

// DefaultFormat is mono 44.1kHz signed 16-bit PCM.
var DefaultFormat = Format{SampleRate: 44100, Channels: 1}

// Stream is a continuous input handle that stays open across recordings.
// Raw sampling runs only while at least one tap is attached.
type Stream interface {
	Format() Format
	Device() Device
	Tap(func([]int16)) (untap func(), err error)
	Close() error
}

// tapSet fans captured frames out to attached taps and starts/stops the
// underlying device as taps come and go.
type tapSet struct {
	start func() error
	stop  func()

	mu     sync.Mutex
	nextID uint64
	taps   map[uint64]func([]int16)
	closed bool
}

func newTapSet(start func() error, stop func()) *tapSet {
	return &tapSet{
		start: start,
		stop:  stop,
		taps:  make(map[uint64]func([]int16)),
	}
}

// add registers fn and starts sampling when it is the first tap.
func (s *tapSet) add(fn func([]int16)) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStreamClosed
	}
	if len(s.taps) == 0 && s.start != nil {
		if err := s.start(); err != nil {
			return nil, err
		}
	}

	s.nextID++
	id := s.nextID
	s.taps[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() { s.remove(id) })
	}, nil
}

// remove drops one tap and stops sampling when none remain.
func (s *tapSet) remove(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.taps[id]; !ok {
		return
	}
	delete(s.taps, id)
	if len(s.taps) == 0 && !s.closed && s.stop != nil {
		s.stop()
	}
}

// emit delivers a frame to every tap attached at call time.
func (s *tapSet) emit(frame []int16) {
	if len(frame) == 0 {
		return
	}

	s.mu.Lock()
	if s.closed || len(s.taps) == 0 {
		s.mu.Unlock()
		return
	}
	fns := make([]func([]int16), 0, len(s.taps))
	for _, fn := range s.taps {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(frame)
	}
}

// close detaches every tap; it reports whether this call performed the close.
func (s *tapSet) close() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.closed = true
	s.taps = map[uint64]func([]int16){}
	return true
}

// pcmDecoder converts little-endian s16 bytes to samples, carrying an odd
// trailing byte over to the next buffer.
type pcmDecoder struct {
	carry []byte
}

func (d *pcmDecoder) decode(buffer []byte) []int16 {
	data := buffer
	if len(d.carry) > 0 {
		data = append(d.carry, buffer...)
		d.carry = nil
	}

	n := len(data) / 2
	samples := make([]int16, n)
	for i := 0; i < n; i++ {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	if len(data)%2 == 1 {
		d.carry = []byte{data[len(data)-1]}
	}
	return samples
}
