package ports

import "github.com/Audric-Dune/mondon-server/internal/domain"

// Observability is the diagnostic sink injected into every component.
type Observability interface {
	LogDebug(msg string, fields ...Field)
	LogInfo(msg string, fields ...Field)
	LogError(msg string, err error, fields ...Field)
	LogCritical(msg string, err error, fields ...Field)

	IncCounter(name string, v float64)
	ObserveLatency(name string, seconds float64)

	SetGauge(name string, v float64)

	RecordDeadLetter(r domain.Reading, err error)
}

type Field struct {
	Key   string
	Value any
}
