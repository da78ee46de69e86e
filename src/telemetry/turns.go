package telemetry

import (
	"time"
)

// DefaultIdleThreshold is the silence gap that separates two turns.
const DefaultIdleThreshold = time.Second

// Turn is one inferred segment of stage activity. Turn boundaries are
// anchored on the stage's output stream: responses stream incrementally and
// go quiet between exchanges, while requests often arrive as one burst.
type Turn struct {
	Number        int           `json:"number"`
	StartedAt     time.Time     `json:"startedAt"`
	FirstInputAt  time.Time     `json:"firstInputAt,omitzero"`
	FirstOutputAt time.Time     `json:"firstOutputAt,omitzero"`
	Chunks        int           `json:"chunks"`
	Bytes         int           `json:"bytes"`
	TTFC          time.Duration `json:"ttfc"`
	InputToOutput time.Duration `json:"inputToOutput"`
}

// OutputObservation reports what one output chunk did to the stage's turn
// state. FirstOfTurn is true exactly once per turn.
type OutputObservation struct {
	Turn          int
	FirstOfTurn   bool
	TTFC          time.Duration
	InputToOutput time.Duration
	InterChunkAvg float64
	Stats         LatencyStats
}

// MetricsSnapshot is the read-only view of one stage's metrics handed to
// observer sinks. The meter itself is single-writer and never shared.
type MetricsSnapshot struct {
	Stage         string       `json:"stage"`
	Position      int          `json:"position"`
	TotalChunks   int64        `json:"totalChunks"`
	TotalBytes    int64        `json:"totalBytes"`
	FirstChunkAt  time.Time    `json:"firstChunkAt,omitzero"`
	LastChunkAt   time.Time    `json:"lastChunkAt,omitzero"`
	Turns         int          `json:"turns"`
	CurrentTurn   int          `json:"currentTurn"`
	InterChunkAvg float64      `json:"interChunkAvgMs"`
	Stats         LatencyStats `json:"stats"`
}

// StageMeter owns the per-stage metrics record and the turn segmentation
// state machine. It decides turn boundaries from arrival timestamps alone,
// with no content inspection. All methods must be called from a single
// goroutine (the instrumentation wrapper).
type StageMeter struct {
	name     string
	position int
	idle     time.Duration
	clock    Clock

	totalChunks int64
	totalBytes  int64
	firstChunk  time.Time
	lastChunk   time.Time

	turns   []Turn
	current *Turn

	// pendingInput holds the arrival time of the first significant input
	// seen while no turn is open. It is attached to the next turn created
	// on the output side; later inputs in the same gap do not replace it.
	pendingInput time.Time
	lastOutput   time.Time
	nextNumber   int

	gaps GapRing
	agg  *Aggregator
}

// NewStageMeter creates a meter for one stage. idle <= 0 selects
// DefaultIdleThreshold; a nil clock selects the system clock.
func NewStageMeter(name string, position int, idle time.Duration, clock Clock) *StageMeter {
	if idle <= 0 {
		idle = DefaultIdleThreshold
	}
	if clock == nil {
		clock = SystemClock
	}
	return &StageMeter{
		name:       name,
		position:   position,
		idle:       idle,
		clock:      clock,
		nextNumber: 1,
		agg:        NewAggregator(),
	}
}

func (m *StageMeter) Name() string { return m.name }

// RecordInput observes one significant input chunk. It returns the turn
// number the input is attributed to and whether this input opened that turn.
// isNew is true exactly once per turn: for the input whose timestamp was
// recorded as pending. Later inputs in the same gap return isNew false.
func (m *StageMeter) RecordInput() (turn int, isNew bool) {
	now := m.clock.Now()

	if m.current == nil {
		if m.pendingInput.IsZero() {
			m.pendingInput = now
			return m.nextNumber, true
		}
		return m.nextNumber, false
	}

	// Output-anchored boundary: input after an idle output gap belongs to
	// the turn the next output chunk will open.
	if !m.lastOutput.IsZero() && now.Sub(m.lastOutput) > m.idle {
		if m.pendingInput.IsZero() {
			m.pendingInput = now
			return m.current.Number + 1, true
		}
		return m.current.Number + 1, false
	}

	if m.current.FirstInputAt.IsZero() {
		m.current.FirstInputAt = now
	}
	return m.current.Number, false
}

// RecordOutput observes one output chunk of size bytes.
func (m *StageMeter) RecordOutput(bytes int) OutputObservation {
	now := m.clock.Now()

	newTurn := m.current == nil ||
		(!m.lastOutput.IsZero() && now.Sub(m.lastOutput) > m.idle)
	if newTurn {
		m.closeCurrent()
		m.openTurn(now)
	}

	if !m.lastOutput.IsZero() {
		m.gaps.Add(float64(now.Sub(m.lastOutput)) / float64(time.Millisecond))
	}

	m.totalChunks++
	m.totalBytes += int64(bytes)
	if m.firstChunk.IsZero() {
		m.firstChunk = now
	}
	m.lastChunk = now
	m.lastOutput = now

	m.current.Chunks++
	m.current.Bytes += bytes

	obs := OutputObservation{
		Turn:          m.current.Number,
		InterChunkAvg: m.gaps.Average(),
	}

	if m.current.FirstOutputAt.IsZero() {
		m.current.FirstOutputAt = now
		m.current.TTFC = now.Sub(m.current.StartedAt)
		if !m.current.FirstInputAt.IsZero() {
			m.current.InputToOutput = now.Sub(m.current.FirstInputAt)
		}
		obs.FirstOfTurn = true
		obs.TTFC = m.current.TTFC
		obs.InputToOutput = m.current.InputToOutput
		obs.Stats = m.agg.Stats()
	}

	return obs
}

// Finish closes any open turn. Called on upstream exhaustion.
func (m *StageMeter) Finish() {
	m.closeCurrent()
}

// openTurn creates the turn object on the output side. A pending first-input
// timestamp recorded before the turn existed is consumed here and also backs
// the turn's start time, so TTFC measures from when work for the turn began.
func (m *StageMeter) openTurn(now time.Time) {
	t := &Turn{
		Number:    m.nextNumber,
		StartedAt: now,
	}
	if !m.pendingInput.IsZero() {
		t.StartedAt = m.pendingInput
		t.FirstInputAt = m.pendingInput
		m.pendingInput = time.Time{}
	}
	m.current = t
	m.nextNumber++
}

// closeCurrent finalizes the open turn, appending it to the completed list
// and feeding its input-to-output latency to the percentile engine.
func (m *StageMeter) closeCurrent() {
	if m.current == nil {
		return
	}
	if m.current.InputToOutput > 0 {
		m.agg.Record(float64(m.current.InputToOutput) / float64(time.Millisecond))
	}
	m.turns = append(m.turns, *m.current)
	m.current = nil
}

// Turns returns a copy of the completed turns.
func (m *StageMeter) Turns() []Turn {
	out := make([]Turn, len(m.turns))
	copy(out, m.turns)
	return out
}

// Snapshot returns the read-only metrics view for observer sinks.
func (m *StageMeter) Snapshot() MetricsSnapshot {
	s := MetricsSnapshot{
		Stage:         m.name,
		Position:      m.position,
		TotalChunks:   m.totalChunks,
		TotalBytes:    m.totalBytes,
		FirstChunkAt:  m.firstChunk,
		LastChunkAt:   m.lastChunk,
		Turns:         len(m.turns),
		InterChunkAvg: m.gaps.Average(),
		Stats:         m.agg.Stats(),
	}
	if m.current != nil {
		s.CurrentTurn = m.current.Number
	}
	return s
}
