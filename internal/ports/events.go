package ports

import "github.com/Audric-Dune/mondon-server/internal/domain"

// EventEmitter publishes pipeline events. Emit must not block the caller.
type EventEmitter interface {
	Emit(e domain.Event)
}

// EventListener consumes events asynchronously from the pipeline.
type EventListener interface {
	HandleEvent(e domain.Event)
	Name() string
}
