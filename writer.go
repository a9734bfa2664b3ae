package logkv

import (
	"os"
	"sync"
)

// logWriter owns the open tail segment. It serializes appends,
// assigns monotonically increasing sequence numbers and syncs every
// record to stable storage before acknowledging it. Once the open
// segment exceeds the size threshold the writer seals it and opens a
// fresh segment under the next id.
type logWriter struct {
	dir       string
	threshold int64

	mu   sync.Mutex
	file *os.File
	id   uint64
	off  int64
	seq  uint64
	buf  []byte

	// invoked with mu held right after a rollover opened a new segment
	onRotate func(next, sealed uint64, sealedSize int64) error
}

func openLogWriter(dir string, id uint64, off int64, seq uint64, threshold int64) (*logWriter, error) {
	file, err := os.OpenFile(segmentPath(dir, id), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	return &logWriter{
		dir:       dir,
		threshold: threshold,
		file:      file,
		id:        id,
		off:       off,
		seq:       seq,
	}, nil
}

// Append durably writes a single record and returns its location.
func (w *logWriter) Append(kind byte, key, value []byte) (location, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	loc, err := w.append(kind, key, value)
	if err != nil {
		return location{}, err
	}
	if err := w.file.Sync(); err != nil {
		return location{}, err
	}
	return loc, nil
}

// AppendBatch writes a run of put records back to back, syncing once
// at the end. No other append can interleave with the batch.
func (w *logWriter) AppendBatch(pairs []KV) ([]location, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	locs := make([]location, 0, len(pairs))
	for _, kv := range pairs {
		loc, err := w.append(kindPut, kv.Key, kv.Value)
		if err != nil {
			return nil, err
		}
		locs = append(locs, loc)
	}
	if err := w.file.Sync(); err != nil {
		return nil, err
	}
	return locs, nil
}

func (w *logWriter) append(kind byte, key, value []byte) (location, error) {
	if w.file == nil {
		return location{}, errClosed
	}

	if w.off >= w.threshold && w.off > 0 {
		if err := w.rotate(); err != nil {
			return location{}, err
		}
	}

	w.buf = appendRecord(w.buf[:0], kind, key, value)
	n, err := w.file.Write(w.buf)
	w.off += int64(n) // a torn write is truncated away on recovery
	if err != nil {
		return location{}, err
	}

	w.seq++
	return location{
		segID: w.id,
		off:   w.off - int64(len(w.buf)),
		size:  int64(len(w.buf)),
		seq:   w.seq,
	}, nil
}

// rotate seals the open segment and opens the next one. Readers never
// observe a half-sealed segment: sealing only syncs and closes the
// write handle, the store's read handle stays valid throughout.
func (w *logWriter) rotate() error {
	if err := w.file.Sync(); err != nil {
		return err
	}
	if err := w.file.Close(); err != nil {
		return err
	}

	sealed, sealedSize := w.id, w.off
	next := w.id + 1
	file, err := os.OpenFile(segmentPath(w.dir, next), os.O_CREATE|os.O_EXCL|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}

	w.file = file
	w.id = next
	w.off = 0

	if w.onRotate != nil {
		return w.onRotate(next, sealed, sealedSize)
	}
	return nil
}

// Seq returns the most recently assigned sequence number.
func (w *logWriter) Seq() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.seq
}

// Close syncs and closes the open segment.
func (w *logWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return errClosed
	}
	if err := w.file.Sync(); err != nil {
		return err
	}
	err := w.file.Close()
	w.file = nil
	return err
}
