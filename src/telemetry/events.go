package telemetry

import "time"

// EventKind discriminates the closed set of telemetry events.
type EventKind string

const (
	KindStageRegistered EventKind = "stage_registered"
	KindTurnStart       EventKind = "turn_start"
	KindStageInput      EventKind = "stage_input"
	KindStageProcessing EventKind = "stage_processing"
	KindFirstChunk      EventKind = "first_chunk"
	KindChunk           EventKind = "chunk"
	KindLatencyUpdate   EventKind = "latency_update"
	KindStageComplete   EventKind = "stage_complete"
	KindPipelineSummary EventKind = "pipeline_summary"
)

// Event is one telemetry occurrence emitted to observer sinks. Every event
// carries its kind and a unix-millisecond timestamp; the concrete types below
// are the only implementations.
type Event interface {
	EventKind() EventKind
}

func nowMs() int64 {
	return time.Now().UnixMilli()
}

// StageRegistered announces a stage when it is attached to a pipeline.
type StageRegistered struct {
	Type      EventKind `json:"type"`
	TS        int64     `json:"ts"`
	Stage     string    `json:"stage"`
	ShortName string    `json:"shortName"`
	Color     string    `json:"color"`
}

func NewStageRegistered(stage, shortName, color string) StageRegistered {
	return StageRegistered{Type: KindStageRegistered, TS: nowMs(), Stage: stage, ShortName: shortName, Color: color}
}

func (e StageRegistered) EventKind() EventKind { return e.Type }

// TurnStart marks the first significant input of a new turn.
type TurnStart struct {
	Type  EventKind `json:"type"`
	TS    int64     `json:"ts"`
	Stage string    `json:"stage"`
	Turn  int       `json:"turnNumber"`
}

func NewTurnStart(stage string, turn int) TurnStart {
	return TurnStart{Type: KindTurnStart, TS: nowMs(), Stage: stage, Turn: turn}
}

func (e TurnStart) EventKind() EventKind { return e.Type }

// StageInput reports a significant input chunk entering a stage.
type StageInput struct {
	Type    EventKind `json:"type"`
	TS      int64     `json:"ts"`
	Stage   string    `json:"stage"`
	Turn    int       `json:"turnNumber"`
	Preview string    `json:"preview,omitempty"`
}

func NewStageInput(stage string, turn int, preview string) StageInput {
	return StageInput{Type: KindStageInput, TS: nowMs(), Stage: stage, Turn: turn, Preview: preview}
}

func (e StageInput) EventKind() EventKind { return e.Type }

// StageProcessing reports that a stage has started working on a turn.
type StageProcessing struct {
	Type  EventKind `json:"type"`
	TS    int64     `json:"ts"`
	Stage string    `json:"stage"`
	Turn  int       `json:"turnNumber"`
}

func NewStageProcessing(stage string, turn int) StageProcessing {
	return StageProcessing{Type: KindStageProcessing, TS: nowMs(), Stage: stage, Turn: turn}
}

func (e StageProcessing) EventKind() EventKind { return e.Type }

// FirstChunk reports the first output chunk of a turn.
type FirstChunk struct {
	Type    EventKind `json:"type"`
	TS      int64     `json:"ts"`
	Stage   string    `json:"stage"`
	Turn    int       `json:"turnNumber"`
	TTFCMs  float64   `json:"ttfcMs"`
	Preview string    `json:"preview,omitempty"`
}

func NewFirstChunk(stage string, turn int, ttfc time.Duration, preview string) FirstChunk {
	return FirstChunk{
		Type: KindFirstChunk, TS: nowMs(), Stage: stage, Turn: turn,
		TTFCMs:  float64(ttfc) / float64(time.Millisecond),
		Preview: preview,
	}
}

func (e FirstChunk) EventKind() EventKind { return e.Type }

// Chunk is the lighter event for every subsequent output chunk of a turn.
type Chunk struct {
	Type    EventKind       `json:"type"`
	TS      int64           `json:"ts"`
	Stage   string          `json:"stage"`
	Metrics MetricsSnapshot `json:"metrics"`
	Preview string          `json:"preview,omitempty"`
}

func NewChunk(stage string, metrics MetricsSnapshot, preview string) Chunk {
	return Chunk{Type: KindChunk, TS: nowMs(), Stage: stage, Metrics: metrics, Preview: preview}
}

func (e Chunk) EventKind() EventKind { return e.Type }

// LatencyUpdate carries refreshed latency statistics for a turn. It is
// emitted at most once per turn, immediately after that turn's first output.
type LatencyUpdate struct {
	Type            EventKind    `json:"type"`
	TS              int64        `json:"ts"`
	Stage           string       `json:"stage"`
	Turn            int          `json:"turnNumber"`
	TTFCMs          float64      `json:"ttfc"`
	InputToOutputMs float64      `json:"inputToOutput"`
	InterChunkAvgMs float64      `json:"interChunkAvg"`
	Stats           LatencyStats `json:"stats"`
}

func NewLatencyUpdate(stage string, obs OutputObservation) LatencyUpdate {
	return LatencyUpdate{
		Type: KindLatencyUpdate, TS: nowMs(), Stage: stage, Turn: obs.Turn,
		TTFCMs:          float64(obs.TTFC) / float64(time.Millisecond),
		InputToOutputMs: float64(obs.InputToOutput) / float64(time.Millisecond),
		InterChunkAvgMs: obs.InterChunkAvg,
		Stats:           obs.Stats,
	}
}

func (e LatencyUpdate) EventKind() EventKind { return e.Type }

// StageComplete reports a stage's final metrics after upstream exhaustion.
type StageComplete struct {
	Type    EventKind       `json:"type"`
	TS      int64           `json:"ts"`
	Stage   string          `json:"stage"`
	Metrics MetricsSnapshot `json:"metrics"`
}

func NewStageComplete(stage string, metrics MetricsSnapshot) StageComplete {
	return StageComplete{Type: KindStageComplete, TS: nowMs(), Stage: stage, Metrics: metrics}
}

func (e StageComplete) EventKind() EventKind { return e.Type }

// PipelineSummary carries every stage's final metrics at pipeline teardown.
type PipelineSummary struct {
	Type   EventKind         `json:"type"`
	TS     int64             `json:"ts"`
	Stages []MetricsSnapshot `json:"stages"`
}

func NewPipelineSummary(stages []MetricsSnapshot) PipelineSummary {
	return PipelineSummary{Type: KindPipelineSummary, TS: nowMs(), Stages: stages}
}

func (e PipelineSummary) EventKind() EventKind { return e.Type }
