package events

import (
	"github.com/Audric-Dune/mondon-server/internal/domain"
	"github.com/Audric-Dune/mondon-server/internal/ports"
)

// LogListener writes every event to the log under the SPEED_THREAD component.
type LogListener struct {
	obs ports.Observability
}

func NewLogListener(obs ports.Observability) *LogListener {
	return &LogListener{obs: obs}
}

func (l *LogListener) Name() string { return "log" }

func (l *LogListener) HandleEvent(e domain.Event) {
	switch e.Kind {
	case domain.EventNewReading:
		l.obs.LogDebug("new_reading",
			ports.Field{Key: "component", Value: "SPEED_THREAD"},
			ports.Field{Key: "speed", Value: e.Reading.Speed},
			ports.Field{Key: "ts", Value: e.Reading.TimestampMillis})
	case domain.EventError:
		l.obs.LogInfo("error_event",
			ports.Field{Key: "component", Value: "SPEED_THREAD"},
			ports.Field{Key: "message", Value: e.Message})
	}
}
