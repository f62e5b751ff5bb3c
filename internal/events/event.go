package events

import (
	"sync"
	"time"
)

// Type identifies a surfaced state change
type Type string

const (
	CaptureStateChanged Type = "capture.state"
	CapturePartial      Type = "capture.partial"
	CaptureFinal        Type = "capture.final"
	CaptureError        Type = "capture.error"

	SpeechStarted Type = "speech.started"
	SpeechEnded   Type = "speech.ended"
	SpeechError   Type = "speech.error"
	SpeechWarning Type = "speech.warning"
	AudioBlocked  Type = "audio.blocked"
	AudioUnlocked Type = "audio.unlocked"

	DeliveryUpdated Type = "delivery.updated"
	DeliveryError   Type = "delivery.error"

	TriageCompleted      Type = "triage.completed"
	EligibilityCompleted Type = "eligibility.completed"
	AssistantError       Type = "assistant.error"
)

// Warning codes carried by SpeechWarning events
const (
	WarningFallbackVoice = "fallback voice in use"
	WarningNoLocalVoice  = "no local voice for language"
)

// Event is one notification for the presentation layer
type Event struct {
	Type       Type              `json:"type"`
	SessionID  string            `json:"session_id,omitempty"`
	Text       string            `json:"text,omitempty"`
	State      string            `json:"state,omitempty"`
	Language   string            `json:"language,omitempty"`
	Engine     string            `json:"engine,omitempty"`
	Generation uint64            `json:"generation,omitempty"`
	Error      string            `json:"error,omitempty"`
	Attrs      map[string]string `json:"attrs,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

// Sink receives events. Implementations must not block for long; they are
// called from capture, playback and polling goroutines.
type Sink interface {
	Emit(event Event)
}

// SinkFunc adapts a function to Sink
type SinkFunc func(Event)

func (f SinkFunc) Emit(event Event) { f(event) }

// Nop discards events
var Nop Sink = SinkFunc(func(Event) {})

type multiSink []Sink

// Multi fans one event out to every sink in order
func Multi(sinks ...Sink) Sink {
	out := make(multiSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (m multiSink) Emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	for _, s := range m {
		s.Emit(event)
	}
}

// WithSession stamps every event with a session id
func WithSession(sink Sink, sessionID string) Sink {
	return SinkFunc(func(event Event) {
		if event.SessionID == "" {
			event.SessionID = sessionID
		}
		sink.Emit(event)
	})
}

// Recorder keeps every event it receives
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

// Events returns a copy of the recorded events
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// OfType returns the recorded events of one type
func (r *Recorder) OfType(t Type) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// Last returns the most recent event of type t
func (r *Recorder) Last(t Type) (Event, bool) {
	matches := r.OfType(t)
	if len(matches) == 0 {
		return Event{}, false
	}
	return matches[len(matches)-1], true
}
