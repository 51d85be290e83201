package events

// Event represents a structured state change emitted by a vault.
type Event interface {
	EventType() string
}

// Emitter broadcasts events to downstream subscribers (e.g. journals, metrics).
type Emitter interface {
	Emit(Event)
}

// Record is the flattened form of an event: its type plus string attributes.
type Record struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// Recorder is implemented by events that can be flattened into a Record.
type Recorder interface {
	Event() *Record
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// MultiEmitter forwards every event to each emitter in order. Nil entries are
// skipped.
type MultiEmitter []Emitter

// Emit implements the Emitter interface.
func (m MultiEmitter) Emit(evt Event) {
	for _, emitter := range m {
		if emitter != nil {
			emitter.Emit(evt)
		}
	}
}
