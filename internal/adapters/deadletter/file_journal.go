package deadletter

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/Audric-Dune/mondon-server/internal/domain"
	"github.com/Audric-Dune/mondon-server/internal/ports"
)

// record layout: [8 id][8 timestamp ms][4 speed][4 crc32 of the first 20 bytes]
const recordLen = 24

var ErrCorruptRecord = errors.New("deadletter: corrupt record")

// FileJournal is an append-only file of readings plus a meta file holding
// the highest replayed id. Once every record is replayed the file is
// truncated.
type FileJournal struct {
	mu        sync.Mutex
	path      string
	metaPath  string
	file      *os.File
	writer    *bufio.Writer
	nextID    ports.DeadLetterID
	committed ports.DeadLetterID
	sizeBytes int64
}

func NewFileJournal(dir string) (*FileJournal, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, "deadletter.log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}

	j := &FileJournal{
		path:     path,
		metaPath: filepath.Join(dir, "deadletter.meta"),
		file:     f,
		writer:   bufio.NewWriter(f),
	}
	if err := j.bootstrap(); err != nil {
		_ = f.Close()
		return nil, err
	}
	return j, nil
}

func (j *FileJournal) bootstrap() error {
	if err := j.scanExisting(); err != nil {
		return err
	}
	if err := j.loadCommitted(); err != nil {
		return err
	}
	if j.nextID < j.committed {
		j.nextID = j.committed
	}
	_, err := j.file.Seek(0, io.SeekEnd)
	return err
}

// scanExisting finds the last intact record and cuts off anything after it,
// such as a record torn by a crash mid-write.
func (j *FileJournal) scanExisting() error {
	rf, err := os.Open(j.path)
	if err != nil {
		return err
	}
	defer rf.Close()

	reader := bufio.NewReader(rf)
	var (
		offset int64
		lastID ports.DeadLetterID
	)
	for {
		var buf [recordLen]byte
		if _, err := io.ReadFull(reader, buf[:]); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return fmt.Errorf("deadletter scan: %w", err)
		}
		id, _, err := decodeRecord(buf)
		if err != nil {
			break
		}
		lastID = id
		offset += recordLen
	}

	if err := j.file.Truncate(offset); err != nil {
		return err
	}
	j.sizeBytes = offset
	j.nextID = lastID
	return nil
}

func (j *FileJournal) loadCommitted() error {
	data, err := os.ReadFile(j.metaPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	val := strings.TrimSpace(string(data))
	if val == "" {
		return nil
	}
	u, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		return fmt.Errorf("deadletter meta parse: %w", err)
	}
	j.committed = ports.DeadLetterID(u)
	return nil
}

func encodeRecord(id ports.DeadLetterID, r domain.Reading) [recordLen]byte {
	var buf [recordLen]byte
	binary.BigEndian.PutUint64(buf[0:8], uint64(id))
	binary.BigEndian.PutUint64(buf[8:16], r.TimestampMillis)
	binary.BigEndian.PutUint32(buf[16:20], r.Speed)
	binary.BigEndian.PutUint32(buf[20:24], crc32.ChecksumIEEE(buf[0:20]))
	return buf
}

func decodeRecord(buf [recordLen]byte) (ports.DeadLetterID, domain.Reading, error) {
	if crc32.ChecksumIEEE(buf[0:20]) != binary.BigEndian.Uint32(buf[20:24]) {
		return 0, domain.Reading{}, ErrCorruptRecord
	}
	id := ports.DeadLetterID(binary.BigEndian.Uint64(buf[0:8]))
	r := domain.Reading{
		TimestampMillis: binary.BigEndian.Uint64(buf[8:16]),
		Speed:           binary.BigEndian.Uint32(buf[16:20]),
	}
	return id, r, nil
}

// Append writes r and syncs it to disk before returning its id.
func (j *FileJournal) Append(r domain.Reading) (ports.DeadLetterID, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	id := j.nextID + 1
	buf := encodeRecord(id, r)
	if _, err := j.writer.Write(buf[:]); err != nil {
		return 0, err
	}
	if err := j.writer.Flush(); err != nil {
		return 0, err
	}
	if err := j.file.Sync(); err != nil {
		return 0, err
	}

	j.nextID = id
	j.sizeBytes += recordLen
	return id, nil
}

// Iterate calls fn for every record with id >= from, oldest first, and
// stops at the first error fn returns.
func (j *FileJournal) Iterate(from ports.DeadLetterID, fn func(id ports.DeadLetterID, r domain.Reading) error) error {
	j.mu.Lock()
	if err := j.writer.Flush(); err != nil {
		j.mu.Unlock()
		return err
	}
	size := j.sizeBytes
	j.mu.Unlock()

	f, err := os.Open(j.path)
	if err != nil {
		return err
	}
	defer f.Close()

	reader := bufio.NewReader(io.LimitReader(f, size))
	for {
		var buf [recordLen]byte
		if _, err := io.ReadFull(reader, buf[:]); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("deadletter iterate: %w", err)
		}
		id, r, err := decodeRecord(buf)
		if err != nil {
			return err
		}
		if id < from {
			continue
		}
		if err := fn(id, r); err != nil {
			return err
		}
	}
}

// Commit marks every record up to and including upto as replayed.
func (j *FileJournal) Commit(upto ports.DeadLetterID) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if upto > j.committed {
		j.committed = upto
	}
	if err := j.persistMetaLocked(); err != nil {
		return err
	}
	if j.committed >= j.nextID && j.sizeBytes > 0 {
		return j.truncateLocked()
	}
	return nil
}

func (j *FileJournal) truncateLocked() error {
	if err := j.writer.Flush(); err != nil {
		return err
	}
	if err := j.file.Truncate(0); err != nil {
		return err
	}
	j.sizeBytes = 0
	return nil
}

func (j *FileJournal) Stats() ports.DeadLetterStats {
	j.mu.Lock()
	defer j.mu.Unlock()
	return ports.DeadLetterStats{
		OldestUncommitted: j.committed + 1,
		LatestAppended:    j.nextID,
		SizeBytes:         j.sizeBytes,
	}
}

func (j *FileJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return errors.Join(j.writer.Flush(), j.file.Close())
}

func (j *FileJournal) persistMetaLocked() error {
	tmp := j.metaPath + ".tmp"
	if err := os.WriteFile(tmp, []byte(fmt.Sprintf("%d\n", j.committed)), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, j.metaPath)
}

var _ ports.DeadLetterJournal = (*FileJournal)(nil)
