// Package instrument wraps a frame processor so that every chunk flowing
// through it is observed for turn segmentation and latency statistics,
// without altering the data path. Frames are forwarded unmodified and in
// order; the wrapper buffers timestamps, never chunk data.
package instrument

import (
	"context"
	"sync"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/meander-labs/voicetrace/src/frames"
	"github.com/meander-labs/voicetrace/src/observability"
	"github.com/meander-labs/voicetrace/src/observer"
	"github.com/meander-labs/voicetrace/src/processors"
	"github.com/meander-labs/voicetrace/src/telemetry"
)

// Style is display configuration for one stage, passed to the visualizer.
// It is injected per stage rather than looked up in any global table.
type Style struct {
	Short string
	Color string
}

const previewLimit = 60

// Processor wraps an inner FrameProcessor with telemetry. It exposes the
// same FrameProcessor contract as the inner stage, so instrumented and plain
// stages compose interchangeably.
type Processor struct {
	inner processors.FrameProcessor
	meter *telemetry.StageMeter
	sink  observer.Sink
	tap   *outputTap

	prev processors.FrameProcessor
	mu   sync.RWMutex

	// meterMu serializes meter access: input observations run on the
	// upstream stage's goroutine, output observations on the inner one's.
	meterMu  sync.Mutex
	finished bool

	log zerolog.Logger
}

// Wrap instruments inner. The meter must be owned exclusively by this
// wrapper; the sink receives the stage's telemetry event stream.
func Wrap(inner processors.FrameProcessor, meter *telemetry.StageMeter, sink observer.Sink, style Style) *Processor {
	p := &Processor{
		inner: inner,
		meter: meter,
		sink:  sink,
		log:   log.With().Str("stage", inner.Name()).Logger(),
	}
	p.tap = &outputTap{p: p}
	inner.Link(p.tap)
	inner.SetPrev(p)

	sink.Emit(telemetry.NewStageRegistered(inner.Name(), style.Short, style.Color))
	return p
}

func (p *Processor) Name() string {
	return p.inner.Name()
}

// Link connects the wrapper's output side (the tap) to the next processor.
func (p *Processor) Link(next processors.FrameProcessor) {
	p.tap.mu.Lock()
	p.tap.next = next
	p.tap.mu.Unlock()
	if next != nil {
		next.SetPrev(p)
	}
}

func (p *Processor) SetPrev(prev processors.FrameProcessor) {
	p.mu.Lock()
	p.prev = prev
	p.mu.Unlock()
}

func (p *Processor) Start(ctx context.Context) error {
	return p.inner.Start(ctx)
}

func (p *Processor) Stop() error {
	return p.inner.Stop()
}

func (p *Processor) ProcessFrame(ctx context.Context, frame frames.Frame, direction frames.FrameDirection) error {
	return p.inner.ProcessFrame(ctx, frame, direction)
}

// QueueFrame is the wrapper's input side. Downstream frames are observed and
// handed to the inner stage, inheriting its backpressure. Upstream frames
// bubble straight toward the source.
func (p *Processor) QueueFrame(frame frames.Frame, direction frames.FrameDirection) error {
	if direction == frames.Upstream {
		p.mu.RLock()
		prev := p.prev
		p.mu.RUnlock()
		if prev == nil {
			return nil
		}
		return prev.QueueFrame(frame, direction)
	}

	p.observeInput(frame)
	return p.inner.QueueFrame(frame, direction)
}

func (p *Processor) PushFrame(frame frames.Frame, direction frames.FrameDirection) error {
	if direction == frames.Downstream {
		p.tap.mu.RLock()
		next := p.tap.next
		p.tap.mu.RUnlock()
		if next == nil {
			return nil
		}
		return next.QueueFrame(frame, direction)
	}
	p.mu.RLock()
	prev := p.prev
	p.mu.RUnlock()
	if prev == nil {
		return nil
	}
	return prev.QueueFrame(frame, direction)
}

// observeInput classifies and records one downstream frame entering the
// stage. Binary audio arrives continuously and is not a discrete
// conversational unit, so it passes through untimed.
func (p *Processor) observeInput(frame frames.Frame) {
	text, significant := significance(frame)
	if !significant {
		return
	}

	p.meterMu.Lock()
	turn, isNew := p.meter.RecordInput()
	p.meterMu.Unlock()

	if isNew {
		p.sink.Emit(telemetry.NewTurnStart(p.Name(), turn))
	}
	preview := truncate(text, previewLimit)
	p.sink.Emit(telemetry.NewStageInput(p.Name(), turn, preview))
	p.sink.Emit(telemetry.NewStageProcessing(p.Name(), turn))
}

// observeOutput records one frame produced by the inner stage.
func (p *Processor) observeOutput(frame frames.Frame) {
	switch f := frame.(type) {
	case *frames.EndFrame, *frames.CancelFrame:
		p.finish()
		return
	case *frames.AudioFrame:
		p.recordOutput(len(f.Data), "")
	case *frames.TTSAudioFrame:
		p.recordOutput(len(f.Data), "")
	case *frames.TextFrame:
		p.recordOutput(len(f.Text), f.Text)
	case *frames.TranscriptionFrame:
		p.recordOutput(len(f.Text), f.Text)
	}
}

func (p *Processor) recordOutput(size int, text string) {
	p.meterMu.Lock()
	obs := p.meter.RecordOutput(size)
	snapshot := p.meter.Snapshot()
	p.meterMu.Unlock()

	observability.RecordChunk(p.Name(), size)

	preview := truncate(text, previewLimit)
	if obs.FirstOfTurn {
		observability.RecordTurn(p.Name(), obs.TTFC.Seconds())
		p.sink.Emit(telemetry.NewFirstChunk(p.Name(), obs.Turn, obs.TTFC, preview))
		p.sink.Emit(telemetry.NewLatencyUpdate(p.Name(), obs))
	} else {
		p.sink.Emit(telemetry.NewChunk(p.Name(), snapshot, preview))
	}
}

// finish closes the open turn and emits the stage's final summary. Runs at
// most once, on the first End or Cancel frame leaving the stage.
func (p *Processor) finish() {
	p.meterMu.Lock()
	if p.finished {
		p.meterMu.Unlock()
		return
	}
	p.finished = true
	p.meter.Finish()
	snapshot := p.meter.Snapshot()
	p.meterMu.Unlock()

	p.sink.Emit(telemetry.NewStageComplete(p.Name(), snapshot))
	p.log.Debug().Int64("chunks", snapshot.TotalChunks).Msg("stage complete")
}

// Snapshot exposes the stage's current metrics for the pipeline summary.
func (p *Processor) Snapshot() telemetry.MetricsSnapshot {
	p.meterMu.Lock()
	defer p.meterMu.Unlock()
	return p.meter.Snapshot()
}

// outputTap sits between the inner stage and the next processor. It observes
// synchronously in the producer's goroutine and forwards immediately, adding
// no buffering of its own, so downstream backpressure reaches the inner
// stage unchanged.
type outputTap struct {
	p    *Processor
	next processors.FrameProcessor
	mu   sync.RWMutex
}

func (t *outputTap) Name() string { return t.p.Name() + ".tap" }

func (t *outputTap) QueueFrame(frame frames.Frame, direction frames.FrameDirection) error {
	if direction == frames.Upstream {
		// Upstream frames enter the stage through the wrapper, not the tap.
		return t.p.QueueFrame(frame, direction)
	}

	t.p.observeOutput(frame)

	t.mu.RLock()
	next := t.next
	t.mu.RUnlock()
	if next == nil {
		return nil
	}
	return next.QueueFrame(frame, direction)
}

func (t *outputTap) PushFrame(frame frames.Frame, direction frames.FrameDirection) error {
	return t.QueueFrame(frame, direction)
}

func (t *outputTap) ProcessFrame(ctx context.Context, frame frames.Frame, direction frames.FrameDirection) error {
	return t.QueueFrame(frame, direction)
}

func (t *outputTap) Link(next processors.FrameProcessor) {
	t.mu.Lock()
	t.next = next
	t.mu.Unlock()
}

func (t *outputTap) SetPrev(processors.FrameProcessor) {}

func (t *outputTap) Start(context.Context) error { return nil }

func (t *outputTap) Stop() error { return nil }

// significance reports whether a frame is a discrete conversational unit.
// Significant frames are textual and non-empty; binary audio and
// control/system frames are not.
func significance(frame frames.Frame) (text string, significant bool) {
	switch f := frame.(type) {
	case *frames.TextFrame:
		return f.Text, f.Text != ""
	case *frames.TranscriptionFrame:
		return f.Text, f.Text != ""
	default:
		return "", false
	}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	// Back up to a rune boundary so a multi-byte sequence is never split.
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
