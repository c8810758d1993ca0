package store

import (
	"context"
	"encoding/binary"
	"errors"
	"time"

	"github.com/boltdb/bolt"

	"github.com/Audric-Dune/mondon-server/internal/domain"
)

var errDuplicateKey = errors.New("store: reading already recorded for timestamp")

// boltBackend keys each reading by its big-endian timestamp so that keys
// sort chronologically.
type boltBackend struct {
	db     *bolt.DB
	bucket []byte
}

func boltConnector(path, bucket string, lockTimeout time.Duration) connector {
	return func(ctx context.Context) (backend, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: lockTimeout})
		if err != nil {
			return nil, err
		}
		err = db.Update(func(tx *bolt.Tx) error {
			_, err := tx.CreateBucketIfNotExists([]byte(bucket))
			return err
		})
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		return &boltBackend{db: db, bucket: []byte(bucket)}, nil
	}
}

func (b *boltBackend) insert(ctx context.Context, r domain.Reading) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var key [8]byte
	binary.BigEndian.PutUint64(key[:], r.TimestampMillis)
	var val [4]byte
	binary.BigEndian.PutUint32(val[:], r.Speed)

	return b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(b.bucket)
		if bkt == nil {
			return bolt.ErrBucketNotFound
		}
		if bkt.Get(key[:]) != nil {
			return errDuplicateKey
		}
		return bkt.Put(key[:], val[:])
	})
}

func (b *boltBackend) close() error { return b.db.Close() }

func (b *boltBackend) count() (int, error) {
	var n int
	err := b.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(b.bucket)
		if bkt == nil {
			return nil
		}
		n = bkt.Stats().KeyN
		return nil
	})
	return n, err
}
