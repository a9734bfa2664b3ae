package logkv

import (
	"io"

	"github.com/golang/snappy"
)

// Backup streams a snappy-compressed snapshot of the live key set to
// w, using the same record framing as the log itself. The snapshot
// is weakly consistent: it captures the key set at call time and
// resolves values as it goes, like a scan.
func (s *Store) Backup(w io.Writer) error {
	sw := snappy.NewBufferedWriter(w)

	var buf []byte
	iter := s.Scan(nil)
	defer iter.Release()

	for iter.Next() {
		buf = appendRecord(buf[:0], kindPut, iter.Key(), iter.Value())
		if _, err := sw.Write(buf); err != nil {
			return err
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	return sw.Close()
}

// Restore replays a backup stream produced by Backup into the store.
// Existing keys are overwritten, keys not present in the backup are
// left alone.
func (s *Store) Restore(r io.Reader) error {
	sc := newRecordScanner(snappy.NewReader(r))

	for sc.Next() {
		switch sc.Kind() {
		case kindPut:
			if err := s.Put(sc.Key(), sc.Value()); err != nil {
				return err
			}
		case kindDelete:
			if err := s.Delete(sc.Key()); err != nil {
				return err
			}
		}
	}
	return sc.Err()
}
