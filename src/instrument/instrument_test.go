package instrument

import (
	"context"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/meander-labs/voicetrace/src/frames"
	"github.com/meander-labs/voicetrace/src/processors"
	"github.com/meander-labs/voicetrace/src/telemetry"
)

// captureSink records every emitted event.
type captureSink struct {
	mu     sync.Mutex
	events []telemetry.Event
}

func (s *captureSink) Emit(ev telemetry.Event) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *captureSink) kinds() []telemetry.EventKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]telemetry.EventKind, len(s.events))
	for i, ev := range s.events {
		out[i] = ev.EventKind()
	}
	return out
}

func (s *captureSink) count(kind telemetry.EventKind) int {
	n := 0
	for _, k := range s.kinds() {
		if k == kind {
			n++
		}
	}
	return n
}

// echoStage forwards every frame unchanged.
type echoStage struct {
	*processors.BaseProcessor
}

func newEchoStage(name string) *echoStage {
	s := &echoStage{}
	s.BaseProcessor = processors.NewBaseProcessor(name, s)
	return s
}

func (s *echoStage) HandleFrame(ctx context.Context, frame frames.Frame, direction frames.FrameDirection) error {
	return s.PushFrame(frame, direction)
}

// terminal collects frames at the end of the chain.
type terminal struct {
	*processors.BaseProcessor
	mu   sync.Mutex
	seen []frames.Frame
}

func newTerminal() *terminal {
	s := &terminal{}
	s.BaseProcessor = processors.NewBaseProcessor("terminal", s)
	return s
}

func (s *terminal) HandleFrame(ctx context.Context, frame frames.Frame, direction frames.FrameDirection) error {
	s.mu.Lock()
	s.seen = append(s.seen, frame)
	s.mu.Unlock()
	return nil
}

func (s *terminal) frames() []frames.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]frames.Frame, len(s.seen))
	copy(out, s.seen)
	return out
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal(msg)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func newWrappedStage(t *testing.T, sink *captureSink) (*Processor, *terminal, func()) {
	t.Helper()

	stage := newEchoStage("echo")
	meter := telemetry.NewStageMeter("echo", 0, time.Second, nil)
	wrapper := Wrap(stage, meter, sink, Style{Short: "EC", Color: "#ffffff"})

	end := newTerminal()
	wrapper.Link(end)

	ctx, cancel := context.WithCancel(context.Background())
	if err := wrapper.Start(ctx); err != nil {
		t.Fatalf("start wrapper: %v", err)
	}
	if err := end.Start(ctx); err != nil {
		t.Fatalf("start terminal: %v", err)
	}

	cleanup := func() {
		end.Stop()
		wrapper.Stop()
		cancel()
	}
	return wrapper, end, cleanup
}

func TestWrapEmitsRegistration(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	_, _, cleanup := newWrappedStage(t, sink)
	defer cleanup()

	if sink.count(telemetry.KindStageRegistered) != 1 {
		t.Errorf("stage registration events = %d, want 1", sink.count(telemetry.KindStageRegistered))
	}
}

func TestEventSequenceForOneTurn(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	wrapper, end, cleanup := newWrappedStage(t, sink)
	defer cleanup()

	if err := wrapper.QueueFrame(frames.NewTranscriptionFrame("hello there", true), frames.Downstream); err != nil {
		t.Fatalf("queue: %v", err)
	}

	waitFor(t, func() bool { return len(end.frames()) == 1 }, "frame did not reach terminal")
	waitFor(t, func() bool { return sink.count(telemetry.KindFirstChunk) == 1 }, "no first chunk event")

	want := []telemetry.EventKind{
		telemetry.KindStageRegistered,
		telemetry.KindTurnStart,
		telemetry.KindStageInput,
		telemetry.KindStageProcessing,
		telemetry.KindFirstChunk,
		telemetry.KindLatencyUpdate,
	}
	got := sink.kinds()
	if len(got) != len(want) {
		t.Fatalf("event kinds = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d = %v, want %v (full: %v)", i, got[i], want[i], got)
		}
	}
}

func TestSubsequentChunksEmitChunkEvents(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	wrapper, end, cleanup := newWrappedStage(t, sink)
	defer cleanup()

	wrapper.QueueFrame(frames.NewTextFrame("one"), frames.Downstream)
	wrapper.QueueFrame(frames.NewTextFrame("two"), frames.Downstream)
	wrapper.QueueFrame(frames.NewTextFrame("three"), frames.Downstream)

	waitFor(t, func() bool { return len(end.frames()) == 3 }, "frames did not reach terminal")

	if sink.count(telemetry.KindFirstChunk) != 1 {
		t.Errorf("first chunk events = %d, want 1", sink.count(telemetry.KindFirstChunk))
	}
	if sink.count(telemetry.KindChunk) != 2 {
		t.Errorf("chunk events = %d, want 2", sink.count(telemetry.KindChunk))
	}
}

func TestAudioFramesAreNotSignificantInputs(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	wrapper, end, cleanup := newWrappedStage(t, sink)
	defer cleanup()

	wrapper.QueueFrame(frames.NewAudioFrame(make([]byte, 320), 16000, 1), frames.Downstream)
	waitFor(t, func() bool { return len(end.frames()) == 1 }, "audio frame did not pass through")

	if sink.count(telemetry.KindStageInput) != 0 {
		t.Error("binary audio counted as a significant input")
	}
	// Output side still counts the chunk.
	if sink.count(telemetry.KindFirstChunk) != 1 {
		t.Error("audio output chunk not recorded")
	}
}

func TestEndFrameEmitsStageCompleteOnce(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	wrapper, end, cleanup := newWrappedStage(t, sink)
	defer cleanup()

	wrapper.QueueFrame(frames.NewTextFrame("hi"), frames.Downstream)
	wrapper.QueueFrame(frames.NewEndFrame(), frames.Downstream)

	waitFor(t, func() bool { return len(end.frames()) == 2 }, "frames did not reach terminal")
	waitFor(t, func() bool { return sink.count(telemetry.KindStageComplete) == 1 }, "no stage complete event")

	// The end frame is forwarded, not swallowed.
	last := end.frames()[1]
	if _, ok := last.(*frames.EndFrame); !ok {
		t.Errorf("last frame at terminal is %T, want EndFrame", last)
	}

	snap := wrapper.Snapshot()
	if snap.Turns != 1 {
		t.Errorf("closed turns = %d, want 1", snap.Turns)
	}
}

// holdStage blocks in its handler until released, so several inputs can be
// observed before the stage produces any output.
type holdStage struct {
	*processors.BaseProcessor
	release chan struct{}
}

func newHoldStage() *holdStage {
	s := &holdStage{release: make(chan struct{})}
	s.BaseProcessor = processors.NewBaseProcessor("hold", s)
	return s
}

func (s *holdStage) HandleFrame(ctx context.Context, frame frames.Frame, direction frames.FrameDirection) error {
	select {
	case <-s.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.PushFrame(frame, direction)
}

func TestTurnStartEmittedOncePerTurn(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	stage := newHoldStage()
	meter := telemetry.NewStageMeter("hold", 0, time.Second, nil)
	wrapper := Wrap(stage, meter, sink, Style{Short: "HD", Color: "#000000"})

	end := newTerminal()
	wrapper.Link(end)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := wrapper.Start(ctx); err != nil {
		t.Fatalf("start wrapper: %v", err)
	}
	defer wrapper.Stop()
	if err := end.Start(ctx); err != nil {
		t.Fatalf("start terminal: %v", err)
	}
	defer end.Stop()

	// Two significant inputs land before the stage emits anything; only the
	// first opens the turn.
	wrapper.QueueFrame(frames.NewTranscriptionFrame("first part", true), frames.Downstream)
	wrapper.QueueFrame(frames.NewTranscriptionFrame("second part", true), frames.Downstream)

	waitFor(t, func() bool { return sink.count(telemetry.KindStageInput) == 2 }, "inputs not observed")
	if got := sink.count(telemetry.KindTurnStart); got != 1 {
		t.Fatalf("turn start events before output = %d, want 1", got)
	}

	close(stage.release)
	waitFor(t, func() bool { return len(end.frames()) == 2 }, "frames did not reach terminal")
	if got := sink.count(telemetry.KindTurnStart); got != 1 {
		t.Errorf("turn start events after output = %d, want 1", got)
	}
}

func TestUpstreamFramesBypassTheInnerStage(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	wrapper, _, cleanup := newWrappedStage(t, sink)
	defer cleanup()

	prev := newTerminal()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := prev.Start(ctx); err != nil {
		t.Fatalf("start prev: %v", err)
	}
	defer prev.Stop()
	wrapper.SetPrev(prev)

	wrapper.QueueFrame(frames.NewErrorFrame(context.Canceled), frames.Upstream)

	waitFor(t, func() bool { return len(prev.frames()) >= 1 }, "upstream frame did not reach prev")
}

func TestTruncatePreview(t *testing.T) {
	t.Parallel()

	if got := truncate("short", 60); got != "short" {
		t.Errorf("truncate short = %q", got)
	}
	long := make([]byte, 100)
	for i := range long {
		long[i] = 'a'
	}
	got := truncate(string(long), 60)
	if len(got) != 63 || got[60:] != "..." {
		t.Errorf("truncate long = %q (len %d)", got, len(got))
	}
}

func TestTruncateKeepsRuneBoundaries(t *testing.T) {
	t.Parallel()

	// 3-byte runes; a byte-boundary cut at 8 would land mid-rune.
	s := "日本語のテスト"
	got := truncate(s, 8)
	if !utf8.ValidString(got) {
		t.Fatalf("truncate produced invalid UTF-8: %q", got)
	}
	if got != "日本..." {
		t.Errorf("truncate = %q, want %q", got, "日本...")
	}
}
