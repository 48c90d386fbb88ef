package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
)

// Source delivers chunks of mono 16 kHz float32 samples from the capture
// layer. Implementations close the returned channel when the stream ends.
type Source interface {
	// Chunks returns the sample stream. Each element is a chunk of
	// arbitrary length; windowing is the pipeline's concern.
	Chunks() <-chan []float32

	// Close stops the source and releases capture resources. It returns
	// the first fatal stream error, if any.
	Close() error
}

// ReaderSource adapts an io.Reader carrying raw little-endian float32
// samples (mono, 16 kHz) into a [Source]. It is the thin glue that lets the
// daemon consume audio piped from an external capture tool, e.g.
//
//	pw-record --format=f32 --rate=16000 --channels=1 - | voxd
type ReaderSource struct {
	ch   chan []float32
	stop chan struct{}

	mu      sync.Mutex
	readErr error
}

// chunkSamples is the read granularity: 50 ms of audio per chunk.
const chunkSamples = SampleRate / 20

// NewReaderSource starts a goroutine reading samples from r until EOF or
// Close. Read errors other than EOF terminate the stream and are reported
// by Close.
func NewReaderSource(r io.Reader) *ReaderSource {
	s := &ReaderSource{
		ch:   make(chan []float32, 8),
		stop: make(chan struct{}),
	}
	go s.readLoop(r)
	return s
}

// Chunks returns the sample stream channel.
func (s *ReaderSource) Chunks() <-chan []float32 { return s.ch }

// Close stops the read loop and returns any fatal read error.
func (s *ReaderSource) Close() error {
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readErr
}

func (s *ReaderSource) readLoop(r io.Reader) {
	defer close(s.ch)

	buf := make([]byte, chunkSamples*4)
	for {
		select {
		case <-s.stop:
			return
		default:
		}

		n, err := io.ReadFull(r, buf)
		if n >= 4 {
			samples := make([]float32, n/4)
			for i := range samples {
				bits := binary.LittleEndian.Uint32(buf[i*4:])
				samples[i] = math.Float32frombits(bits)
			}
			select {
			case s.ch <- samples:
			case <-s.stop:
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				s.mu.Lock()
				s.readErr = fmt.Errorf("audio: source read: %w", err)
				s.mu.Unlock()
			}
			return
		}
	}
}
