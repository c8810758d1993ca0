package ports

import (
	"context"

	"github.com/Audric-Dune/mondon-server/internal/domain"
)

// ReadingStore durably records readings keyed by their timestamp. Insert
// treats an existing row for the same timestamp as success.
type ReadingStore interface {
	Insert(ctx context.Context, r domain.Reading) error
	Close() error
	Name() string
}
