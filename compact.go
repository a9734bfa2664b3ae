package logkv

import (
	"io"
	"log"
	"os"
	"sort"
	"sync/atomic"
	"time"
)

// Compact rewrites the live records of all sealed segments into a
// single new segment and retires the old ones, reclaiming the space
// held by superseded records and resolved tombstones.
//
// The protocol is write-new-then-retire-old: the replacement segment
// is fully written and synced under a temporary name, then swapped in
// under the highest retired id, then the remaining retired files are
// deleted. A crash at any point leaves a valid store: stray temporary
// files are ignored by recovery, and a replay of the swapped-in
// segment followed by not-yet-deleted older segments yields the same
// index. Deleted keys that still have a put record somewhere in the
// compacted set keep a tombstone in the output, so that a stale put
// in a retired file that survived the crash cannot win the replay.
//
// Compaction runs concurrently with reads and appends; it only takes
// the store lock to publish the new segment set.
func (s *Store) Compact() error {
	if !atomic.CompareAndSwapInt32(&s.compacting, 0, 1) {
		return nil // already running
	}
	defer atomic.StoreInt32(&s.compacting, 0)

	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return errClosed
	}
	sealed := make(map[uint64]bool, len(s.segments))
	segs := make([]*segment, 0, len(s.segments))
	for id, seg := range s.segments {
		if id != s.openID {
			sealed[id] = true
			segs = append(segs, seg)
		}
	}
	live := s.idx.LiveIn(sealed)
	s.mu.RUnlock()

	if len(segs) == 0 {
		return nil
	}
	sort.Slice(segs, func(i, j int) bool { return segs[i].id < segs[j].id })

	ids := make([]uint64, 0, len(segs))
	for _, seg := range segs {
		ids = append(ids, seg.id)
	}
	outID := ids[len(ids)-1]

	tombs, setRecords, err := s.deadKeys(segs)
	if err != nil {
		return err
	}

	rewrites, outSize, outRecords, err := s.writeOutput(outID, live, tombs)
	if err != nil {
		return err
	}
	return s.publish(ids, outID, outSize, rewrites, outRecords, setRecords)
}

// deadKeys scans the segments selected for compaction and returns the
// keys that still have a put record in them but are no longer live,
// along with the total number of records in the set.
func (s *Store) deadKeys(segs []*segment) ([]string, int, error) {
	present := make(map[string]bool)
	records := 0

	for _, seg := range segs {
		sc := newRecordScanner(io.NewSectionReader(seg.file, 0, seg.size))
		for sc.Next() {
			records++
			if sc.Kind() == kindPut {
				present[string(sc.Key())] = true
			}
		}
		if err := sc.Err(); err != nil {
			return nil, 0, err
		}
	}

	var tombs []string
	s.mu.RLock()
	for key := range present {
		if _, ok := s.idx.Lookup([]byte(key)); !ok {
			tombs = append(tombs, key)
		}
	}
	s.mu.RUnlock()

	sort.Strings(tombs)
	return tombs, records, nil
}

// rewrite tracks one live record copied into the compaction output.
type rewrite struct {
	key  string
	old  location
	off  int64
	size int64
}

// writeOutput copies the given live records, plus one tombstone per
// dead key, into a temporary segment file and syncs it. Tombstones
// follow the puts, so a key that is both rewritten and deleted while
// the copy runs always replays as deleted. It holds no locks beyond
// individual record reads.
func (s *Store) writeOutput(outID uint64, live []liveEntry, tombs []string) ([]rewrite, int64, int, error) {
	if len(live) == 0 && len(tombs) == 0 {
		return nil, 0, 0, nil
	}

	tmp := segmentPath(s.dir, outID) + ".tmp"
	file, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return nil, 0, 0, err
	}

	var buf []byte
	var off int64
	rewrites := make([]rewrite, 0, len(live))

	for _, ent := range live {
		s.mu.RLock()
		seg := s.segments[ent.loc.segID]
		if seg == nil {
			s.mu.RUnlock()
			continue
		}
		kind, key, value, err := seg.ReadRecord(ent.loc)
		s.mu.RUnlock()

		if err == nil && kind != kindPut {
			err = ErrCorrupted
		}
		if err == nil {
			buf = appendRecord(buf[:0], kindPut, key, value)
			_, err = file.Write(buf)
		}
		if err != nil {
			_ = file.Close()
			_ = os.Remove(tmp)
			return nil, 0, 0, err
		}

		rewrites = append(rewrites, rewrite{key: ent.key, old: ent.loc, off: off, size: int64(len(buf))})
		off += int64(len(buf))
	}

	for _, key := range tombs {
		buf = appendRecord(buf[:0], kindDelete, []byte(key), nil)
		if _, err := file.Write(buf); err != nil {
			_ = file.Close()
			_ = os.Remove(tmp)
			return nil, 0, 0, err
		}
		off += int64(len(buf))
	}

	if err := file.Sync(); err != nil {
		_ = file.Close()
		_ = os.Remove(tmp)
		return nil, 0, 0, err
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmp)
		return nil, 0, 0, err
	}
	return rewrites, off, len(rewrites) + len(tombs), nil
}

// publish atomically swaps the compacted segment into place, updates
// the index entries it now serves and deletes the retired segments.
// The count of removed records is persisted before any retired file
// disappears, so that a restart cannot hand out sequence numbers
// again. This is the compactor's only critical section.
func (s *Store) publish(ids []uint64, outID uint64, outSize int64, rewrites []rewrite, outRecords, setRecords int) error {
	tmp := segmentPath(s.dir, outID) + ".tmp"

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		_ = os.Remove(tmp)
		return errClosed
	}

	var removed int64
	for _, id := range ids {
		if seg := s.segments[id]; seg != nil {
			removed += seg.size
		}
	}

	if outRecords == 0 {
		// nothing to carry over, drop the set wholesale
		if err := s.storeSeqBase(setRecords); err != nil {
			return err
		}
		for _, id := range ids {
			s.retireSegment(id)
		}
	} else {
		if err := os.Rename(tmp, segmentPath(s.dir, outID)); err != nil {
			_ = os.Remove(tmp)
			return err
		}

		seg, err := openSegment(s.dir, outID)
		if err != nil {
			// the old handles still serve the unlinked files, and a
			// restart replays a consistent set
			return err
		}
		if old := s.segments[outID]; old != nil {
			_ = old.Close()
		}
		s.segments[outID] = seg

		for _, rw := range rewrites {
			repl := location{segID: outID, off: rw.off, size: rw.size, seq: rw.old.seq}
			s.idx.Relocate(rw.key, rw.old, repl)
		}

		if err := s.storeSeqBase(setRecords - outRecords); err != nil {
			return err
		}

		for _, id := range ids {
			if id != outID {
				s.retireSegment(id)
			}
		}
	}

	s.total += outSize - removed
	s.dead = s.total - s.idx.LiveBytes()
	return nil
}

// storeSeqBase persists the updated count of records removed by
// compaction. Called with the store lock held.
func (s *Store) storeSeqBase(delta int) error {
	next := s.seqBase + uint64(delta)
	if err := writeSeqBase(s.dir, next); err != nil {
		return err
	}
	s.seqBase = next
	return nil
}

// retireSegment closes and deletes a segment file. Called with the
// store lock held.
func (s *Store) retireSegment(id uint64) {
	if seg := s.segments[id]; seg != nil {
		_ = seg.Close()
		delete(s.segments, id)
	}
	if err := os.Remove(segmentPath(s.dir, id)); err != nil {
		log.Printf("logkv: failed to remove retired segment %s: %v", segmentName(id), err)
	}
}

// compactLoop periodically compacts the store once the dead-record
// ratio exceeds the configured threshold.
func (s *Store) compactLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.opts.CompactEvery)
	defer ticker.Stop()

	for {
		select {
		case <-s.closeC:
			return
		case <-ticker.C:
			if s.deadRatio() < s.opts.MinDeadRatio {
				continue
			}
			if err := s.Compact(); err != nil {
				log.Printf("logkv: compaction failed: %v", err)
			}
		}
	}
}

func (s *Store) deadRatio() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.total == 0 {
		return 0
	}
	return float64(s.dead) / float64(s.total)
}
