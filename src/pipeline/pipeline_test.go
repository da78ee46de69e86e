package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/meander-labs/voicetrace/src/frames"
	"github.com/meander-labs/voicetrace/src/instrument"
	"github.com/meander-labs/voicetrace/src/processors"
	"github.com/meander-labs/voicetrace/src/telemetry"
)

// upperStage rewrites text frames, standing in for a real transform.
type upperStage struct {
	*processors.BaseProcessor
}

func newUpperStage() *upperStage {
	s := &upperStage{}
	s.BaseProcessor = processors.NewBaseProcessor("upper", s)
	return s
}

func (s *upperStage) HandleFrame(ctx context.Context, frame frames.Frame, direction frames.FrameDirection) error {
	if tf, ok := frame.(*frames.TextFrame); ok {
		return s.PushFrame(frames.NewTextFrame(tf.Text+"!"), direction)
	}
	return s.PushFrame(frame, direction)
}

type captureSink struct {
	mu     sync.Mutex
	events []telemetry.Event
}

func (s *captureSink) Emit(ev telemetry.Event) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *captureSink) byKind(kind telemetry.EventKind) []telemetry.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []telemetry.Event
	for _, ev := range s.events {
		if ev.EventKind() == kind {
			out = append(out, ev)
		}
	}
	return out
}

func TestTaskRunsToCompletion(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	p := NewPipeline([]Stage{
		{Proc: newUpperStage(), Style: instrument.Style{Short: "UP"}},
	}, Options{Sink: sink})
	task := NewTask(p, 16000)

	var finished sync.WaitGroup
	finished.Add(1)
	var summary telemetry.PipelineSummary
	task.OnFinished(func(s telemetry.PipelineSummary) {
		summary = s
		finished.Done()
	})

	done := make(chan error, 1)
	go func() { done <- task.Run(context.Background()) }()

	// Wait for the task to accept frames.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if err := task.QueueFrame(frames.NewTextFrame("hello")); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("task never became ready")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err := task.QueueFrame(frames.NewEndFrame()); err != nil {
		t.Fatalf("queue end: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after EndFrame")
	}

	finished.Wait()
	if len(summary.Stages) != 1 {
		t.Fatalf("summary has %d stages, want 1", len(summary.Stages))
	}
	if summary.Stages[0].Stage != "upper" {
		t.Errorf("stage name = %q, want upper", summary.Stages[0].Stage)
	}
	if summary.Stages[0].TotalChunks != 1 {
		t.Errorf("TotalChunks = %d, want 1", summary.Stages[0].TotalChunks)
	}

	if got := sink.byKind(telemetry.KindPipelineSummary); len(got) != 1 {
		t.Errorf("pipeline summary events = %d, want 1", len(got))
	}
	if got := sink.byKind(telemetry.KindStageRegistered); len(got) != 1 {
		t.Errorf("stage registered events = %d, want 1", len(got))
	}
}

func TestQueueFrameBeforeRunFails(t *testing.T) {
	t.Parallel()

	p := NewPipeline(nil, Options{})
	task := NewTask(p, 16000)
	if err := task.QueueFrame(frames.NewTextFrame("early")); err == nil {
		t.Error("QueueFrame succeeded before Run")
	}
}

func TestCancelStopsRun(t *testing.T) {
	t.Parallel()

	p := NewPipeline([]Stage{
		{Proc: newUpperStage(), Style: instrument.Style{Short: "UP"}},
	}, Options{})
	task := NewTask(p, 16000)

	done := make(chan error, 1)
	go func() { done <- task.Run(context.Background()) }()

	time.Sleep(50 * time.Millisecond)
	task.Cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Cancel")
	}
}

func TestSamePipelineCannotRunTwice(t *testing.T) {
	t.Parallel()

	p := NewPipeline(nil, Options{})
	task := NewTask(p, 16000)

	done := make(chan error, 1)
	go func() { done <- task.Run(context.Background()) }()
	time.Sleep(50 * time.Millisecond)

	if err := task.Run(context.Background()); err == nil {
		t.Error("second Run succeeded")
	}
	task.Cancel()
	<-done
}
