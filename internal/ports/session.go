package ports

import "context"

// ControllerSession talks to one speed controller. Implementations are not
// safe for concurrent use; a failed call leaves the session disconnected
// until Connect succeeds again.
type ControllerSession interface {
	Connect(ctx context.Context) error
	RequestSpeed(ctx context.Context) (uint32, error)
	Close() error
	Name() string
}
