package logkv

// location points at a single record within the log.
type location struct {
	segID uint64 // segment id
	off   int64  // byte offset within the segment
	size  int64  // framed record size
	seq   uint64 // sequence number assigned on append
}

// index maps keys to the location of their most recent live record.
// It holds no lock of its own; the store guards all access.
type index struct {
	m map[string]location
}

func newIndex() *index {
	return &index{m: make(map[string]location)}
}

// Lookup returns the location of the latest live record for key.
func (x *index) Lookup(key []byte) (location, bool) {
	loc, ok := x.m[string(key)]
	return loc, ok
}

// Upsert points key at loc and returns the superseded location, if any.
func (x *index) Upsert(key []byte, loc location) (location, bool) {
	prev, ok := x.m[string(key)]
	x.m[string(key)] = loc
	return prev, ok
}

// Remove drops key and returns the removed location, if any.
func (x *index) Remove(key []byte) (location, bool) {
	prev, ok := x.m[string(key)]
	if ok {
		delete(x.m, string(key))
	}
	return prev, ok
}

// Relocate re-points key at repl if it still points at old, which
// guards against writes that landed while a compaction was copying
// the record.
func (x *index) Relocate(key string, old, repl location) bool {
	if cur, ok := x.m[key]; ok && cur == old {
		x.m[key] = repl
		return true
	}
	return false
}

// Len returns the number of live keys.
func (x *index) Len() int { return len(x.m) }

// Keys returns an unordered snapshot of the live key set.
func (x *index) Keys() []string {
	keys := make([]string, 0, len(x.m))
	for key := range x.m {
		keys = append(keys, key)
	}
	return keys
}

// LiveBytes sums the framed sizes of all live records.
func (x *index) LiveBytes() int64 {
	var n int64
	for _, loc := range x.m {
		n += loc.size
	}
	return n
}

// liveEntry pairs a key with the location of its live record.
type liveEntry struct {
	key string
	loc location
}

// LiveIn collects the entries whose live record resides in one of
// the given segments.
func (x *index) LiveIn(ids map[uint64]bool) []liveEntry {
	var live []liveEntry
	for key, loc := range x.m {
		if ids[loc.segID] {
			live = append(live, liveEntry{key: key, loc: loc})
		}
	}
	return live
}
