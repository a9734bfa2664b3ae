package logkv

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

const seqMetaName = "sequence.meta"

var segmentPattern = regexp.MustCompile(`^(\d{6})\.seg$`)

func segmentName(id uint64) string {
	return fmt.Sprintf("%06d.seg", id)
}

func segmentPath(dir string, id uint64) string {
	return filepath.Join(dir, segmentName(id))
}

// segment is a read handle on a single log segment file. The open
// segment shares its file with the log writer; sealed segments are
// immutable until retired by compaction.
type segment struct {
	id   uint64
	file *os.File
	size int64
}

func openSegment(dir string, id uint64) (*segment, error) {
	file, err := os.Open(segmentPath(dir, id))
	if err != nil {
		return nil, err
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	return &segment{id: id, file: file, size: info.Size()}, nil
}

// ReadRecord reads and verifies the record at the given location.
func (g *segment) ReadRecord(loc location) (kind byte, key, value []byte, err error) {
	buf := make([]byte, loc.size)
	if _, err := g.file.ReadAt(buf, loc.off); err != nil {
		return 0, nil, nil, err
	}
	return decodeRecord(buf)
}

func (g *segment) Close() error {
	return g.file.Close()
}

// --------------------------------------------------------------------

// listSegmentIDs scans a store directory and returns its segment ids
// in ascending order, so that replay follows sequence order.
func listSegmentIDs(dir string) ([]uint64, error) {
	file, err := os.Open(dir)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	names, err := file.Readdirnames(-1)
	if err != nil {
		return nil, err
	}

	var ids []uint64
	for _, name := range names {
		m := segmentPattern.FindStringSubmatch(name)
		if m == nil {
			continue
		}
		id, err := strconv.ParseUint(m[1], 10, 64)
		if err != nil || id == 0 {
			return nil, fmt.Errorf("logkv: invalid segment file name %q", name)
		}
		ids = append(ids, id)
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// removeStrays deletes leftover temporary files from an interrupted
// compaction run.
func removeStrays(dir string) error {
	strays, err := filepath.Glob(filepath.Join(dir, "*.tmp"))
	if err != nil {
		return err
	}
	for _, name := range strays {
		if err := os.Remove(name); err != nil {
			return err
		}
	}
	return nil
}

// --------------------------------------------------------------------

// loadSeqBase reads the count of records removed from the log by
// compaction. Recovery adds it to the replay count so that sequence
// numbers keep increasing across restarts even after compaction has
// shrunk the log.
func loadSeqBase(dir string) (uint64, error) {
	buf, err := ioutil.ReadFile(filepath.Join(dir, seqMetaName))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	n, err := strconv.ParseUint(strings.TrimSpace(string(buf)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("logkv: invalid %s: %v", seqMetaName, err)
	}
	return n, nil
}

// writeSeqBase durably replaces the sequence meta file.
func writeSeqBase(dir string, n uint64) error {
	tmp := filepath.Join(dir, seqMetaName+".tmp")
	file, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	if _, err := file.WriteString(strconv.FormatUint(n, 10) + "\n"); err != nil {
		_ = file.Close()
		return err
	}
	if err := file.Sync(); err != nil {
		_ = file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(dir, seqMetaName))
}
