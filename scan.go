package logkv

import (
	"bytes"
	"sort"
)

// ScanOptions restrict a scan to a subset of the key space. A nil
// options value scans every key.
type ScanOptions struct {
	// Prefix limits the scan to keys starting with the given bytes.
	Prefix []byte

	// Start and End limit the scan to Start <= key <= End. Either
	// bound may be nil to leave that side open.
	Start []byte
	End   []byte
}

func (o *ScanOptions) match(key []byte) bool {
	if o == nil {
		return true
	}
	if o.Prefix != nil && !bytes.HasPrefix(key, o.Prefix) {
		return false
	}
	if o.Start != nil && bytes.Compare(key, o.Start) < 0 {
		return false
	}
	if o.End != nil && bytes.Compare(key, o.End) > 0 {
		return false
	}
	return true
}

// Scan returns an iterator over the live keys matching opts, in
// ascending key order. The key set is captured when Scan is called;
// values are resolved lazily as the iterator advances, so entries
// written concurrently may or may not be observed, but no entry is
// ever returned twice.
func (s *Store) Scan(opts *ScanOptions) *Iterator {
	s.mu.RLock()
	keys := s.idx.Keys()
	s.mu.RUnlock()

	matched := keys[:0]
	for _, key := range keys {
		if opts.match([]byte(key)) {
			matched = append(matched, key)
		}
	}
	sort.Strings(matched)

	return &Iterator{s: s, keys: matched, pos: -1}
}

// Iterator iterates over a snapshot of the store's key space in
// ascending key order.
type Iterator struct {
	s    *Store
	keys []string
	pos  int

	key []byte
	val []byte
	err error
}

// Next advances the cursor to the next entry and returns true if
// successful. Keys deleted since the scan started are skipped.
func (i *Iterator) Next() bool {
	if i.err != nil {
		return false
	}

	for i.pos+1 < len(i.keys) {
		i.pos++
		key := []byte(i.keys[i.pos])

		val, err := i.s.Get(key)
		if err == ErrNotFound {
			continue
		} else if err != nil {
			i.err = err
			return false
		}

		i.key = key
		i.val = val
		return true
	}
	return false
}

// More returns true if more entries may be read.
func (i *Iterator) More() bool {
	return i.err == nil && i.pos+1 < len(i.keys)
}

// Key returns the key of the current entry.
func (i *Iterator) Key() []byte { return i.key }

// Value returns the value of the current entry.
func (i *Iterator) Value() []byte { return i.val }

// Err exposes iterator errors, if any.
func (i *Iterator) Err() error {
	if i.err == errReleased {
		return nil
	}
	return i.err
}

// Release releases the iterator. It must not be used after this
// method is called.
func (i *Iterator) Release() {
	i.keys = nil
	i.err = errReleased
}
