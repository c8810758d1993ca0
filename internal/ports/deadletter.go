package ports

import "github.com/Audric-Dune/mondon-server/internal/domain"

type DeadLetterID uint64

// DeadLetterJournal keeps readings the store gave up on so they can be
// replayed once storage is healthy again.
type DeadLetterJournal interface {
	Append(r domain.Reading) (DeadLetterID, error)
	Iterate(from DeadLetterID, fn func(id DeadLetterID, r domain.Reading) error) error
	Commit(upto DeadLetterID) error
	Stats() DeadLetterStats
	Close() error
}

type DeadLetterStats struct {
	OldestUncommitted DeadLetterID
	LatestAppended    DeadLetterID
	SizeBytes         int64
}

// Pending is the number of journaled readings not yet replayed.
func (s DeadLetterStats) Pending() uint64 {
	if s.LatestAppended < s.OldestUncommitted {
		return 0
	}
	return uint64(s.LatestAppended - s.OldestUncommitted + 1)
}
