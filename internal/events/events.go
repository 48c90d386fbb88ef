// Package events carries the pipeline's outward-facing event stream:
// speech segment boundaries, transcription results, dropped segments,
// model tier changes, and resource pressure transitions.
//
// Events flow through a [Bus]. Publishing never blocks the pipeline: a
// subscriber that stops draining its channel loses events rather than
// stalling audio processing.
package events

import (
	"sync"
	"time"
)

// Type discriminates pipeline events.
type Type string

const (
	// TypeStateChanged fires when the pipeline moves between idle,
	// recording, processing and error.
	TypeStateChanged Type = "state_changed"

	// TypeSegmentCompleted fires when a speech segment is finalized,
	// whether by trailing silence, by the segment length cap, or by a
	// forced flush on stop.
	TypeSegmentCompleted Type = "segment_completed"

	// TypeTranscription fires when a finalized segment has been decoded.
	TypeTranscription Type = "transcription"

	// TypeSegmentDropped fires when the decode queue was full and the
	// oldest waiting segment was discarded to admit a new one.
	TypeSegmentDropped Type = "segment_dropped"

	// TypeModelChanged fires on initial model selection and on every
	// demotion to a lower tier.
	TypeModelChanged Type = "model_changed"

	// TypeResourceEvent fires when GPU memory pressure crosses into a
	// different band or pressure forces a cache release.
	TypeResourceEvent Type = "resource_event"
)

// Pipeline states carried by state_changed events.
const (
	StateIdle       = "idle"
	StateRecording  = "recording"
	StateProcessing = "processing"
	StateError      = "error"
)

// Event is one occurrence on the pipeline event stream. Exactly one of the
// payload pointers is set, matching Type.
type Event struct {
	// Seq is a monotonically increasing sequence number assigned at
	// publish time. Gaps in a subscriber's view indicate lost events.
	Seq uint64

	// Time is the publish timestamp.
	Time time.Time

	Type Type

	// State is set for state_changed events.
	State string `json:",omitempty"`

	Segment       *SegmentInfo       `json:",omitempty"`
	Transcription *TranscriptionInfo `json:",omitempty"`
	Model         *ModelInfo         `json:",omitempty"`
	Resource      *ResourceInfo      `json:",omitempty"`
}

// SegmentInfo describes a finalized speech segment.
type SegmentInfo struct {
	// Start is the segment onset position in the audio stream.
	Start time.Duration

	// Duration is the segment length.
	Duration time.Duration

	// SampleCount is the number of samples in the segment.
	SampleCount int

	// Forced marks segments finalized by the length cap or by a stop
	// flush rather than by trailing silence.
	Forced bool
}

// TranscriptionInfo carries a decode result.
type TranscriptionInfo struct {
	Text  string
	Model string

	// AudioDuration and DecodeTime give the segment length and the wall
	// time spent decoding it.
	AudioDuration time.Duration
	DecodeTime    time.Duration

	// Symbols is the number of tokens the decode emitted.
	Symbols int
}

// ModelInfo describes a model tier transition.
type ModelInfo struct {
	// Model is the active tier name after the transition.
	Model string

	// Previous is the prior tier name, empty on initial selection.
	Previous string

	// Reason explains the transition, e.g. "initial selection" or
	// "device failure".
	Reason string
}

// ResourceInfo describes a memory pressure band transition.
type ResourceInfo struct {
	// Band is the new pressure band name.
	Band string

	// Previous is the prior band name.
	Previous string

	// UsedPercent is the GPU memory utilisation that triggered the
	// transition, in [0, 100].
	UsedPercent float64

	// Action names what the tier policy did about it, e.g.
	// "released caches". Empty for pure band transitions.
	Action string
}

// subscriberBuffer is each subscriber channel's capacity. Slow consumers
// lose events beyond this backlog.
const subscriberBuffer = 64

// Bus fans events out to subscribers. The zero value is not usable; create
// one with NewBus. All methods are safe for concurrent use.
type Bus struct {
	mu     sync.Mutex
	seq    uint64
	nextID int
	subs   map[int]chan Event
	closed bool
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe registers a new subscriber and returns its event channel plus a
// cancel function. The channel is closed on cancel and on bus Close.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Event, subscriberBuffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish stamps the event with a sequence number and timestamp and offers
// it to every subscriber without blocking.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.seq++
	ev.Seq = b.seq
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Close closes all subscriber channels. Publish becomes a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
