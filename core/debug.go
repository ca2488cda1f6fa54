package core

// DebugWriter is a function type for writing debug messages
type DebugWriter func(string)

// PipelineEvent captures a pipeline event for post-mortem analysis
type PipelineEvent struct {
	EventType uint8  // Event type code
	Clock     uint32 // Low word of the hardware clock at the event
	Value1    uint32 // Context-dependent value
	Value2    uint32 // Context-dependent value
}

// Event type codes
const (
	EvtOverrun        = 1 // producer overwrote an unread sample
	EvtLateTick       = 2 // sampler missed a deadline
	EvtWindowRequest  = 3 // window request accepted
	EvtWindowComplete = 4 // window request fully extracted
	EvtWindowFlush    = 5 // window request force-flushed
	EvtSyncApplied    = 6 // time sync anchor replaced
	EvtSyncFailed     = 7 // time sync attempt failed
)

const (
	EventRingSize = 32 // Keep last 32 events for post-mortem
)

var (
	// debugPrintln is the global debug print function (set by platform code)
	debugPrintln DebugWriter = func(s string) {} // No-op by default

	// debugEnabled controls whether debug output is active.
	// Disabled by default; the core never prints on its own.
	debugEnabled bool = false

	// Event capture ring (non-blocking, for post-mortem)
	eventRing     [EventRingSize]PipelineEvent
	eventRingHead uint8
	eventsEnabled bool = true
)

// SetDebugWriter sets the platform-specific debug output function.
// Targets redirect output to UART or USB; host tests capture it.
func SetDebugWriter(writer DebugWriter) {
	debugPrintln = writer
}

// SetDebugEnabled enables or disables debug output.
// Keep disabled on the producer core; printing there costs deadlines.
func SetDebugEnabled(enabled bool) {
	debugEnabled = enabled
}

// DebugPrintln writes a debug message using the platform-specific writer
func DebugPrintln(msg string) {
	if debugEnabled && debugPrintln != nil {
		debugPrintln(msg)
	}
}

// RecordEvent captures a pipeline event in the ring buffer.
// Always non-blocking and cheap enough for the acquisition path.
func RecordEvent(eventType uint8, clock, value1, value2 uint32) {
	if !eventsEnabled {
		return
	}
	idx := eventRingHead
	eventRing[idx] = PipelineEvent{
		EventType: eventType,
		Clock:     clock,
		Value1:    value1,
		Value2:    value2,
	}
	eventRingHead = (idx + 1) % EventRingSize
}

// DumpEventRing outputs the event ring (call after stopping the pipeline)
func DumpEventRing() {
	if debugPrintln == nil {
		return
	}

	debugPrintln("[EVENTS] === Pipeline Event Dump ===")

	// Read from oldest to newest
	start := eventRingHead
	for i := uint8(0); i < EventRingSize; i++ {
		idx := (start + i) % EventRingSize
		evt := &eventRing[idx]
		if evt.EventType == 0 {
			continue // Empty slot
		}

		var name string
		switch evt.EventType {
		case EvtOverrun:
			name = "OVERRUN"
		case EvtLateTick:
			name = "LATE_TICK"
		case EvtWindowRequest:
			name = "WIN_REQUEST"
		case EvtWindowComplete:
			name = "WIN_COMPLETE"
		case EvtWindowFlush:
			name = "WIN_FLUSH"
		case EvtSyncApplied:
			name = "SYNC_OK"
		case EvtSyncFailed:
			name = "SYNC_FAIL"
		default:
			name = "UNKNOWN"
		}

		debugPrintln("[EVENTS] " + name +
			" clock=" + utoa(evt.Clock) +
			" v1=" + utoa(evt.Value1) +
			" v2=" + utoa(evt.Value2))
	}
	debugPrintln("[EVENTS] === End Dump ===")
}

// ClearEventRing clears the event buffer
func ClearEventRing() {
	for i := range eventRing {
		eventRing[i] = PipelineEvent{}
	}
	eventRingHead = 0
}
