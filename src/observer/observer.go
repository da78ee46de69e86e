// Package observer delivers telemetry events to external visualizers. The
// pipeline depends only on the Sink interface; everything else here is one
// possible implementation.
package observer

import (
	"github.com/rs/zerolog"

	"github.com/meander-labs/voicetrace/src/telemetry"
)

// Sink receives the ordered telemetry event stream. Emit must not block the
// pipeline; slow consumers drop events rather than stall chunk flow.
type Sink interface {
	Emit(ev telemetry.Event)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Emit(telemetry.Event) {}

// LogSink writes events to a structured logger at debug level.
type LogSink struct {
	log zerolog.Logger
}

func NewLogSink(log zerolog.Logger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) Emit(ev telemetry.Event) {
	// Exhaustive over the closed event set; unknown kinds cannot occur.
	switch e := ev.(type) {
	case telemetry.StageRegistered:
		s.log.Debug().Str("stage", e.Stage).Str("short", e.ShortName).Msg("stage registered")
	case telemetry.TurnStart:
		s.log.Debug().Str("stage", e.Stage).Int("turn", e.Turn).Msg("turn start")
	case telemetry.StageInput:
		s.log.Debug().Str("stage", e.Stage).Int("turn", e.Turn).Str("preview", e.Preview).Msg("stage input")
	case telemetry.StageProcessing:
		s.log.Debug().Str("stage", e.Stage).Int("turn", e.Turn).Msg("stage processing")
	case telemetry.FirstChunk:
		s.log.Debug().Str("stage", e.Stage).Int("turn", e.Turn).Float64("ttfcMs", e.TTFCMs).Msg("first chunk")
	case telemetry.Chunk:
		s.log.Debug().Str("stage", e.Stage).Int64("chunks", e.Metrics.TotalChunks).Msg("chunk")
	case telemetry.LatencyUpdate:
		s.log.Debug().
			Str("stage", e.Stage).
			Int("turn", e.Turn).
			Float64("ttfcMs", e.TTFCMs).
			Float64("inputToOutputMs", e.InputToOutputMs).
			Float64("p95", e.Stats.P95).
			Msg("latency update")
	case telemetry.StageComplete:
		s.log.Debug().Str("stage", e.Stage).Int64("chunks", e.Metrics.TotalChunks).Msg("stage complete")
	case telemetry.PipelineSummary:
		s.log.Info().Int("stages", len(e.Stages)).Msg("pipeline summary")
	}
}

// Multi fans one event out to several sinks in order.
type Multi []Sink

func (m Multi) Emit(ev telemetry.Event) {
	for _, s := range m {
		s.Emit(ev)
	}
}
