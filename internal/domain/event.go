package domain

import "time"

type EventKind uint8

const (
	EventNewReading EventKind = iota + 1
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventNewReading:
		return "new_reading"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is what the acquisition pipeline publishes to its listeners.
// Reading is set for EventNewReading, Message for EventError.
type Event struct {
	Kind    EventKind
	Reading Reading
	Message string
	At      time.Time
}

func ReadingEvent(r Reading) Event {
	return Event{Kind: EventNewReading, Reading: r, At: time.Now()}
}

func ErrorEvent(err error) Event {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return Event{Kind: EventError, Message: msg, At: time.Now()}
}
