package logkv

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Options define store specific options.
type Options struct {
	// SegmentSize is the size threshold in bytes after which the
	// open segment is sealed and a new one is opened.
	// Default: 4MiB.
	SegmentSize int64

	// MaxKeySize is the maximum accepted key size in bytes.
	// Default: 4KiB.
	MaxKeySize int

	// MaxValueSize is the maximum accepted value size in bytes.
	// Default: 1MiB.
	MaxValueSize int

	// CompactEvery is the interval at which the background compactor
	// checks the dead-record ratio. Set to a negative duration to
	// disable background compaction.
	// Default: 1m.
	CompactEvery time.Duration

	// MinDeadRatio is the fraction of dead bytes in the log that
	// triggers a background compaction.
	// Default: 0.5.
	MinDeadRatio float64
}

func (o *Options) norm() *Options {
	var oo Options
	if o != nil {
		oo = *o
	}

	if oo.SegmentSize < 1 {
		oo.SegmentSize = 4 << 20
	}
	if oo.MaxKeySize < 1 {
		oo.MaxKeySize = 4 << 10
	}
	if oo.MaxValueSize < 1 {
		oo.MaxValueSize = 1 << 20
	}
	if oo.CompactEvery == 0 {
		oo.CompactEvery = time.Minute
	}
	if oo.MinDeadRatio <= 0 || oo.MinDeadRatio > 1 {
		oo.MinDeadRatio = 0.5
	}

	return &oo
}

// Store is a persistent log-structured key-value store. It is safe
// for concurrent use by multiple goroutines: reads proceed in
// parallel with each other and with appends, appends are serialized
// by a single log writer.
type Store struct {
	dir  string
	opts *Options

	writer *logWriter

	mu       sync.RWMutex
	idx      *index
	segments map[uint64]*segment
	openID   uint64 // id of the segment the writer appends to
	total    int64  // bytes of valid records across all segments
	dead     int64  // bytes of superseded and tombstoned records
	seqBase  uint64 // records removed from the log by compaction
	closed   bool

	degraded   int32
	compacting int32

	closeC chan struct{}
	wg     sync.WaitGroup

	replayed uint64 // records counted during recovery
}

// Open opens a store in dir, creating it when necessary. Existing
// segments are replayed in id order to rebuild the in-memory index;
// a partially written record at the tail of the open segment is
// truncated away.
func Open(dir string, o *Options) (*Store, error) {
	opts := o.norm()

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	if err := removeStrays(dir); err != nil {
		return nil, err
	}

	base, err := loadSeqBase(dir)
	if err != nil {
		return nil, err
	}

	ids, err := listSegmentIDs(dir)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		file, err := os.OpenFile(segmentPath(dir, 1), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err != nil {
			return nil, err
		}
		if err := file.Close(); err != nil {
			return nil, err
		}
		ids = []uint64{1}
	}

	s := &Store{
		dir:      dir,
		opts:     opts,
		idx:      newIndex(),
		segments: make(map[uint64]*segment, len(ids)),
		seqBase:  base,
		closeC:   make(chan struct{}),
	}

	for i, id := range ids {
		if err := s.replaySegment(id, i == len(ids)-1); err != nil {
			s.releaseSegments()
			return nil, err
		}
	}

	tailID := ids[len(ids)-1]
	s.openID = tailID
	writer, err := openLogWriter(dir, tailID, s.segments[tailID].size, base+s.replayed, opts.SegmentSize)
	if err != nil {
		s.releaseSegments()
		return nil, err
	}
	writer.onRotate = s.sealAndRotate
	s.writer = writer

	if opts.CompactEvery > 0 {
		s.wg.Add(1)
		go s.compactLoop()
	}
	return s, nil
}

// replaySegment scans one segment in offset order and replays every
// record into the index. Later records always win, since scan order
// follows sequence order.
func (s *Store) replaySegment(id uint64, tail bool) error {
	seg, err := openSegment(s.dir, id)
	if err != nil {
		return err
	}

	sc := newRecordScanner(io.NewSectionReader(seg.file, 0, seg.size))
	for sc.Next() {
		s.replayed++
		loc := location{segID: id, off: sc.Offset(), size: sc.Size(), seq: s.replayed}
		s.total += sc.Size()

		switch sc.Kind() {
		case kindPut:
			if prev, ok := s.idx.Upsert(sc.Key(), loc); ok {
				s.dead += prev.size
			}
		case kindDelete:
			if prev, ok := s.idx.Remove(sc.Key()); ok {
				s.dead += prev.size
			}
			s.dead += sc.Size()
		}
	}

	if sc.Err() != nil {
		valid := sc.ValidSize()
		if tail {
			log.Printf("logkv: truncating segment %s at offset %d after unclean shutdown", segmentName(id), valid)
			if err := os.Truncate(segmentPath(s.dir, id), valid); err != nil {
				_ = seg.Close()
				return err
			}
		} else {
			log.Printf("logkv: segment %s is damaged at offset %d, flagged for inspection", segmentName(id), valid)
		}
		seg.size = valid
	}

	s.segments[id] = seg
	return nil
}

// Get retrieves the value stored under key.
// It may return an ErrNotFound error.
func (s *Store) Get(key []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, errClosed
	}

	loc, ok := s.idx.Lookup(key)
	if !ok {
		return nil, ErrNotFound
	}

	kind, _, value, err := s.segments[loc.segID].ReadRecord(loc)
	if err != nil {
		return nil, err
	}
	if kind != kindPut {
		return nil, ErrCorrupted
	}
	return value, nil
}

// Has reports whether key is present without touching the log.
func (s *Store) Has(key []byte) bool {
	s.mu.RLock()
	_, ok := s.idx.Lookup(key)
	s.mu.RUnlock()
	return ok
}

// Put stores a value under key. The record is synced to stable
// storage before Put returns.
func (s *Store) Put(key, value []byte) error {
	if err := s.check(key, value); err != nil {
		return err
	}

	loc, err := s.writer.Append(kindPut, key, value)
	if err != nil {
		return s.fail(err)
	}

	s.mu.Lock()
	if prev, ok := s.idx.Upsert(key, loc); ok {
		s.dead += prev.size
	}
	s.total += loc.size
	s.mu.Unlock()
	return nil
}

// PutBatch stores a run of key-value pairs with a single sync at the
// end, which is considerably faster than calling Put in a loop. The
// whole batch is validated before anything is appended.
func (s *Store) PutBatch(pairs []KV) error {
	for _, kv := range pairs {
		if err := s.check(kv.Key, kv.Value); err != nil {
			return err
		}
	}
	if len(pairs) == 0 {
		return nil
	}

	locs, err := s.writer.AppendBatch(pairs)
	if err != nil {
		return s.fail(err)
	}

	s.mu.Lock()
	for i, kv := range pairs {
		if prev, ok := s.idx.Upsert(kv.Key, locs[i]); ok {
			s.dead += prev.size
		}
		s.total += locs[i].size
	}
	s.mu.Unlock()
	return nil
}

// Delete removes key from the store by appending a tombstone.
// Deleting an absent key succeeds; the tombstone is still written so
// that a compacted log cannot resurrect the key on replay.
func (s *Store) Delete(key []byte) error {
	if err := s.check(key, nil); err != nil {
		return err
	}

	loc, err := s.writer.Append(kindDelete, key, nil)
	if err != nil {
		return s.fail(err)
	}

	s.mu.Lock()
	if prev, ok := s.idx.Remove(key); ok {
		s.dead += prev.size
	}
	s.total += loc.size
	s.dead += loc.size
	s.mu.Unlock()
	return nil
}

// Len returns the number of live keys.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.idx.Len()
}

// Seq returns the most recently assigned sequence number.
func (s *Store) Seq() uint64 {
	return s.writer.Seq()
}

// DiskSize returns the number of valid record bytes in the log.
func (s *Store) DiskSize() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.total
}

// Close stops the background compactor, syncs the open segment and
// releases all file handles.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.closeC)
	s.wg.Wait()

	err := s.writer.Close()
	s.mu.Lock()
	s.releaseSegments()
	s.mu.Unlock()
	return err
}

// --------------------------------------------------------------------

func (s *Store) check(key, value []byte) error {
	if len(key) == 0 {
		return ErrEmptyKey
	}
	if len(key) > s.opts.MaxKeySize {
		return ErrKeyTooLarge
	}
	if len(value) > s.opts.MaxValueSize {
		return ErrValueTooLarge
	}
	if atomic.LoadInt32(&s.degraded) != 0 {
		return ErrDegraded
	}

	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return errClosed
	}
	return nil
}

// fail marks the store degraded after a durable append failed.
// Accepting further writes without durability would silently lose
// data, so all later writes fail fast with ErrDegraded.
func (s *Store) fail(err error) error {
	if err == errClosed {
		return err
	}
	if atomic.CompareAndSwapInt32(&s.degraded, 0, 1) {
		log.Printf("logkv: write failed, store degraded: %v", err)
	}
	return fmt.Errorf("logkv: append failed: %v", err)
}

// sealAndRotate records the final size of a freshly sealed segment
// and registers a read handle for its successor. The open segment id
// changes under the store lock, so a compaction snapshot can never
// mistake the segment the writer appends to for a sealed one.
func (s *Store) sealAndRotate(next, sealed uint64, sealedSize int64) error {
	seg, err := openSegment(s.dir, next)
	if err != nil {
		return err
	}
	s.mu.Lock()
	if prev := s.segments[sealed]; prev != nil {
		prev.size = sealedSize
	}
	s.segments[next] = seg
	s.openID = next
	s.mu.Unlock()
	return nil
}

func (s *Store) releaseSegments() {
	for id, seg := range s.segments {
		_ = seg.Close()
		delete(s.segments, id)
	}
}
