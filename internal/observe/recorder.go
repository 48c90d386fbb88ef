package observe

import (
	"context"

	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/voxd/internal/events"
)

// Recorder translates pipeline events into metric observations, so the
// pipeline itself stays free of instrumentation concerns. Create one with
// [NewRecorder] and run it against a bus subscription.
type Recorder struct {
	m *Metrics
}

// NewRecorder returns a Recorder feeding m. A nil m uses [DefaultMetrics].
func NewRecorder(m *Metrics) *Recorder {
	if m == nil {
		m = DefaultMetrics()
	}
	return &Recorder{m: m}
}

// Run subscribes to bus and records every event until ctx is cancelled or
// the bus closes. It always returns nil on bus close, making it suitable for
// an errgroup.
func (r *Recorder) Run(ctx context.Context, bus *events.Bus) error {
	sub, cancel := bus.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-sub:
			if !ok {
				return nil
			}
			r.Record(ctx, ev)
		}
	}
}

// Record maps a single event onto the matching instruments. Events carrying
// no metric signal (idle state changes) are ignored.
func (r *Recorder) Record(ctx context.Context, ev events.Event) {
	switch ev.Type {
	case events.TypeSegmentCompleted:
		r.m.RecordSegment(ctx, "completed", ev.Segment.Forced, ev.Segment.Duration.Seconds())
	case events.TypeSegmentDropped:
		r.m.RecordSegment(ctx, "dropped", ev.Segment.Forced, ev.Segment.Duration.Seconds())
	case events.TypeTranscription:
		r.m.RecordTranscription(ctx, ev.Transcription.Model, ev.Transcription.DecodeTime.Seconds())
	case events.TypeModelChanged:
		r.m.RecordModelChange(ctx, ev.Model.Model, ev.Model.Reason)
	case events.TypeResourceEvent:
		r.m.ResourceTransitions.Add(ctx, 1,
			metric.WithAttributes(Attr("band", ev.Resource.Band)),
		)
		r.m.GPUMemoryUsedPercent.Record(ctx, ev.Resource.UsedPercent)
	case events.TypeStateChanged:
		if ev.State == events.StateError {
			r.m.DecodeErrors.Add(ctx, 1)
		}
	}
}
