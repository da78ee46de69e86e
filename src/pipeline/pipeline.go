package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/meander-labs/voicetrace/src/frames"
	"github.com/meander-labs/voicetrace/src/instrument"
	"github.com/meander-labs/voicetrace/src/observability"
	"github.com/meander-labs/voicetrace/src/observer"
	"github.com/meander-labs/voicetrace/src/processors"
	"github.com/meander-labs/voicetrace/src/telemetry"
)

// Stage pairs a processor with its display style for live event consumers.
type Stage struct {
	Proc  processors.FrameProcessor
	Style instrument.Style
}

// Options configures instrumentation shared by every stage of a pipeline.
type Options struct {
	// IdleThreshold separates turns. Zero means telemetry.DefaultIdleThreshold.
	IdleThreshold time.Duration

	// Sink receives instrumentation events. Nil means observer.Nop.
	Sink observer.Sink

	// Clock drives turn attribution. Nil means the system clock.
	Clock telemetry.Clock
}

// pipelineSource is the entry point for frames into the pipeline.
type pipelineSource struct {
	*processors.BaseProcessor
	task *Task
}

func newPipelineSource(task *Task) *pipelineSource {
	ps := &pipelineSource{task: task}
	ps.BaseProcessor = processors.NewBaseProcessor("PipelineSource", ps)
	return ps
}

func (p *pipelineSource) HandleFrame(ctx context.Context, frame frames.Frame, direction frames.FrameDirection) error {
	if direction == frames.Upstream {
		if p.task != nil {
			return p.task.handleUpstreamFrame(frame)
		}
		return nil
	}
	return p.PushFrame(frame, direction)
}

// pipelineSink is the exit point for frames from the pipeline.
type pipelineSink struct {
	*processors.BaseProcessor
	task *Task
}

func newPipelineSink(task *Task) *pipelineSink {
	ps := &pipelineSink{task: task}
	ps.BaseProcessor = processors.NewBaseProcessor("PipelineSink", ps)
	return ps
}

func (p *pipelineSink) HandleFrame(ctx context.Context, frame frames.Frame, direction frames.FrameDirection) error {
	if direction == frames.Downstream {
		if p.task != nil {
			return p.task.handleDownstreamFrame(frame)
		}
		return nil
	}
	return p.PushFrame(frame, direction)
}

// Pipeline connects stages in a linear chain, wrapping each one with the
// instrumentation layer. Frames move through bounded single-slot queues, so
// at most one data chunk is in flight per stage and a slow stage stalls its
// producer instead of accumulating a backlog.
type Pipeline struct {
	opts    Options
	stages  []Stage
	wrapped []*instrument.Processor
	source  *pipelineSource
	sink    *pipelineSink
	log     zerolog.Logger
}

// NewPipeline creates a pipeline over the given stages.
func NewPipeline(stages []Stage, opts Options) *Pipeline {
	if opts.IdleThreshold == 0 {
		opts.IdleThreshold = telemetry.DefaultIdleThreshold
	}
	if opts.Sink == nil {
		opts.Sink = observer.Nop{}
	}
	if opts.Clock == nil {
		opts.Clock = telemetry.SystemClock
	}
	return &Pipeline{
		opts:   opts,
		stages: stages,
		log:    observability.Component("pipeline"),
	}
}

// initialize wraps every stage and links the chain source -> stages -> sink.
func (p *Pipeline) initialize(task *Task) {
	p.source = newPipelineSource(task)
	p.sink = newPipelineSink(task)

	p.wrapped = make([]*instrument.Processor, len(p.stages))
	for i, stage := range p.stages {
		meter := telemetry.NewStageMeter(stage.Proc.Name(), i, p.opts.IdleThreshold, p.opts.Clock)
		p.wrapped[i] = instrument.Wrap(stage.Proc, meter, p.opts.Sink, stage.Style)
	}

	chain := make([]processors.FrameProcessor, 0, len(p.wrapped)+2)
	chain = append(chain, p.source)
	for _, w := range p.wrapped {
		chain = append(chain, w)
	}
	chain = append(chain, p.sink)

	for i := 0; i < len(chain)-1; i++ {
		chain[i].Link(chain[i+1])
	}

	p.log.Info().Int("stages", len(p.stages)).Msg("pipeline initialized")
}

func (p *Pipeline) start(ctx context.Context) error {
	if err := p.source.Start(ctx); err != nil {
		return fmt.Errorf("start source: %w", err)
	}
	for _, w := range p.wrapped {
		if err := w.Start(ctx); err != nil {
			return fmt.Errorf("start stage %s: %w", w.Name(), err)
		}
	}
	if err := p.sink.Start(ctx); err != nil {
		return fmt.Errorf("start sink: %w", err)
	}
	observability.PipelineStarted()
	return nil
}

// stop shuts the chain down sink first so upstream stages never push into a
// stopped consumer.
func (p *Pipeline) stop() {
	if err := p.sink.Stop(); err != nil {
		p.log.Warn().Err(err).Msg("stopping sink")
	}
	for i := len(p.wrapped) - 1; i >= 0; i-- {
		if err := p.wrapped[i].Stop(); err != nil {
			p.log.Warn().Err(err).Str("stage", p.wrapped[i].Name()).Msg("stopping stage")
		}
	}
	if err := p.source.Stop(); err != nil {
		p.log.Warn().Err(err).Msg("stopping source")
	}
	observability.PipelineStopped()
}

// QueueFrame queues a frame at the head of the pipeline.
func (p *Pipeline) QueueFrame(frame frames.Frame) error {
	return p.source.QueueFrame(frame, frames.Downstream)
}

// Snapshots returns the current metrics of every stage in pipeline order.
func (p *Pipeline) Snapshots() []telemetry.MetricsSnapshot {
	out := make([]telemetry.MetricsSnapshot, len(p.wrapped))
	for i, w := range p.wrapped {
		out[i] = w.Snapshot()
	}
	return out
}
