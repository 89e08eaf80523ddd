package session

import (
	"time"

	"github.com/MeKo-Tech/bpvoice/internal/orientation"
	"github.com/MeKo-Tech/bpvoice/internal/pipeline"
)

// EventType identifies what changed in a session.
type EventType string

const (
	EventState    EventType = "state"
	EventCamera   EventType = "camera"
	EventAuto     EventType = "auto"
	EventGuidance EventType = "guidance"
	EventReading  EventType = "reading"
	EventError    EventType = "error"
)

// Event describes one session change. Only the fields relevant to Type are set.
type Event struct {
	Type      EventType
	Session   string
	Time      time.Time
	State     State
	Streaming bool
	Auto      bool
	Guidance  orientation.Guidance
	Verdict   *orientation.Verdict
	Result    *pipeline.Result
	Err       error
	Message   string
}
