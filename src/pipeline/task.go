package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/meander-labs/voicetrace/src/frames"
	"github.com/meander-labs/voicetrace/src/observability"
	"github.com/meander-labs/voicetrace/src/telemetry"
)

// Task orchestrates one run of a pipeline: it owns the lifecycle frames,
// pumps caller-queued frames into the source, and publishes the final
// per-stage summary when the EndFrame reaches the sink.
type Task struct {
	pipeline *Pipeline
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	log      zerolog.Logger

	sampleRate     int
	userFrameQueue chan frames.Frame

	started  bool
	finished bool
	mu       sync.RWMutex

	onFinished func(summary telemetry.PipelineSummary)
	onError    func(error)
}

// NewTask creates a task bound to the pipeline. sampleRate seeds the
// StartFrame that initializes every stage.
func NewTask(p *Pipeline, sampleRate int) *Task {
	t := &Task{
		pipeline:       p,
		sampleRate:     sampleRate,
		userFrameQueue: make(chan frames.Frame, 100),
		log:            observability.Component("task"),
	}
	p.initialize(t)
	return t
}

// OnFinished sets a callback invoked once with the final summary.
func (t *Task) OnFinished(callback func(telemetry.PipelineSummary)) {
	t.onFinished = callback
}

// OnError sets a callback for errors surfaced by any stage.
func (t *Task) OnError(callback func(error)) {
	t.onError = callback
}

// QueueFrame adds a frame to be processed by the pipeline.
func (t *Task) QueueFrame(frame frames.Frame) error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if !t.started {
		return fmt.Errorf("pipeline not started")
	}
	if t.finished {
		return fmt.Errorf("pipeline already finished")
	}

	select {
	case t.userFrameQueue <- frame:
		return nil
	case <-t.ctx.Done():
		return t.ctx.Err()
	}
}

// Run starts the pipeline and blocks until the EndFrame drains through the
// sink or ctx is cancelled.
func (t *Task) Run(ctx context.Context) error {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return fmt.Errorf("pipeline already started")
	}
	t.started = true
	t.ctx, t.cancel = context.WithCancel(ctx)
	t.mu.Unlock()

	if err := t.pipeline.start(t.ctx); err != nil {
		return fmt.Errorf("start pipeline: %w", err)
	}

	t.wg.Add(1)
	go t.pumpUserFrames()

	if err := t.pipeline.QueueFrame(frames.NewStartFrame(t.sampleRate)); err != nil {
		return fmt.Errorf("queue start frame: %w", err)
	}

	t.wg.Wait()
	t.pipeline.stop()
	t.log.Info().Msg("pipeline finished")
	return nil
}

// Cancel stops the pipeline immediately, skipping the drain.
func (t *Task) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		t.cancel()
	}
}

func (t *Task) pumpUserFrames() {
	defer t.wg.Done()
	for {
		select {
		case <-t.ctx.Done():
			return
		case frame := <-t.userFrameQueue:
			if err := t.pipeline.QueueFrame(frame); err != nil {
				t.log.Warn().Err(err).Msg("queueing user frame")
				if t.onError != nil {
					t.onError(err)
				}
			}
		}
	}
}

// handleDownstreamFrame handles frames that reach the sink.
func (t *Task) handleDownstreamFrame(frame frames.Frame) error {
	switch f := frame.(type) {
	case *frames.EndFrame:
		t.finish()
	case *frames.CancelFrame:
		t.finish()
	case *frames.ErrorFrame:
		if t.onError != nil {
			t.onError(f.Error)
		}
	}
	return nil
}

// handleUpstreamFrame handles frames that bubble back past the source.
func (t *Task) handleUpstreamFrame(frame frames.Frame) error {
	if ef, ok := frame.(*frames.ErrorFrame); ok {
		t.log.Error().Err(ef.Error).Msg("stage error")
		if t.onError != nil {
			t.onError(ef.Error)
		}
	}
	return nil
}

// finish publishes the final summary exactly once, then unblocks Run.
func (t *Task) finish() {
	t.mu.Lock()
	if t.finished {
		t.mu.Unlock()
		return
	}
	t.finished = true
	t.mu.Unlock()

	summary := telemetry.NewPipelineSummary(t.pipeline.Snapshots())
	t.pipeline.opts.Sink.Emit(summary)
	if t.onFinished != nil {
		t.onFinished(summary)
	}
	t.Cancel()
}
