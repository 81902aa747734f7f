package trace

import "sync"

// TraceLevel controls the verbosity of scheduler tracing.
type TraceLevel string

const (
	// TraceLevelNone disables tracing (zero overhead).
	TraceLevelNone TraceLevel = "none"
	// TraceLevelDecisions captures every routing decision.
	TraceLevelDecisions TraceLevel = "decisions"
	// TraceLevelFrames captures routing decisions and every sealed frame.
	TraceLevelFrames TraceLevel = "frames"
)

// validTraceLevels maps accepted trace level strings.
var validTraceLevels = map[TraceLevel]bool{
	TraceLevelNone:      true,
	TraceLevelDecisions: true,
	TraceLevelFrames:    true,
	"":                  true, // empty defaults to none
}

// IsValidTraceLevel returns true if the given level string is a recognized trace level.
func IsValidTraceLevel(level string) bool {
	return validTraceLevels[TraceLevel(level)]
}

// Enabled returns true for any level that records something.
func (l TraceLevel) Enabled() bool {
	return l == TraceLevelDecisions || l == TraceLevelFrames
}

// TracesDecisions returns true if routing decisions are recorded at this level.
func (l TraceLevel) TracesDecisions() bool {
	return l.Enabled()
}

// TracesFrames returns true if sealed frames are recorded at this level.
func (l TraceLevel) TracesFrames() bool {
	return l == TraceLevelFrames
}

// TraceConfig controls trace collection behavior.
type TraceConfig struct {
	Level TraceLevel
}

// SimulationTrace collects routing and frame records while a world runs.
//
// Thread-safety: records arrive from the routing caller and from whichever
// shard seals a frame, so every method takes the trace lock.
type SimulationTrace struct {
	Config TraceConfig

	mu       sync.Mutex
	routings []RoutingRecord
	frames   []FrameRecord
}

// NewSimulationTrace creates a SimulationTrace ready for recording.
func NewSimulationTrace(config TraceConfig) *SimulationTrace {
	return &SimulationTrace{
		Config:   config,
		routings: make([]RoutingRecord, 0),
		frames:   make([]FrameRecord, 0),
	}
}

// RecordRouting appends a routing decision record.
func (st *SimulationTrace) RecordRouting(record RoutingRecord) {
	st.mu.Lock()
	st.routings = append(st.routings, record)
	st.mu.Unlock()
}

// RecordFrame appends a sealed frame record.
func (st *SimulationTrace) RecordFrame(record FrameRecord) {
	st.mu.Lock()
	st.frames = append(st.frames, record)
	st.mu.Unlock()
}

// Routings returns a copy of the routing records in recording order.
func (st *SimulationTrace) Routings() []RoutingRecord {
	st.mu.Lock()
	defer st.mu.Unlock()
	return append([]RoutingRecord(nil), st.routings...)
}

// Frames returns a copy of the frame records in seal order.
func (st *SimulationTrace) Frames() []FrameRecord {
	st.mu.Lock()
	defer st.mu.Unlock()
	return append([]FrameRecord(nil), st.frames...)
}
