package indexing

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"

	"github.com/RoaringBitmap/roaring"
	"github.com/poiesic/sift/bitmap"
	"github.com/poiesic/sift/core"
	"github.com/poiesic/sift/storage"
)

// entryOverhead approximates the map and slice headers of a buffered entry.
const entryOverhead = 64

// sorter buffers the entries one worker produces for one database. Bitmap
// databases accumulate document ids per key, the others keep the last value
// written. When the buffer outgrows its limit it is written as a sorted run
// to dir.
type sorter struct {
	db    storage.Database
	dir   string
	limit int
	name  string

	bitmaps map[string]*roaring.Bitmap
	values  map[string][]byte
	size    int
	runs    []string
}

func newSorter(db storage.Database, dir, name string, limit int) *sorter {
	return &sorter{
		db:      db,
		dir:     dir,
		name:    name,
		limit:   limit,
		bitmaps: make(map[string]*roaring.Bitmap),
		values:  make(map[string][]byte),
	}
}

// addID adds id to the bitmap under key.
func (s *sorter) addID(key []byte, id core.DocumentID) error {
	bm, ok := s.bitmaps[string(key)]
	if !ok {
		bm = bitmap.New()
		s.bitmaps[string(key)] = bm
		s.size += len(key) + entryOverhead
	}
	if bm.CheckedAdd(uint32(id)) {
		s.size += 4
	}
	return s.maybeSpill()
}

// put sets the value under key.
func (s *sorter) put(key, value []byte) error {
	if old, ok := s.values[string(key)]; ok {
		s.size -= len(old)
	} else {
		s.size += len(key) + entryOverhead
	}
	s.values[string(key)] = value
	s.size += len(value)
	return s.maybeSpill()
}

func (s *sorter) maybeSpill() error {
	if s.limit <= 0 || s.size < s.limit {
		return nil
	}
	return s.spill()
}

// sortedEntries drains the buffer in key order.
func (s *sorter) sortedEntries() ([]kvEntry, error) {
	var out []kvEntry
	if s.db.IsBitmap() {
		out = make([]kvEntry, 0, len(s.bitmaps))
		for _, key := range slices.Sorted(maps.Keys(s.bitmaps)) {
			data, err := bitmap.Encode(s.bitmaps[key])
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %w", storage.ErrSerializationFailed, s.db, err)
			}
			out = append(out, kvEntry{key: []byte(key), value: data})
		}
	} else {
		out = make([]kvEntry, 0, len(s.values))
		for _, key := range slices.Sorted(maps.Keys(s.values)) {
			out = append(out, kvEntry{key: []byte(key), value: s.values[key]})
		}
	}
	clear(s.bitmaps)
	clear(s.values)
	s.size = 0
	return out, nil
}

// spill writes the buffer as a run file.
func (s *sorter) spill() error {
	entries, err := s.sortedEntries()
	if err != nil || len(entries) == 0 {
		return err
	}
	path := filepath.Join(s.dir, fmt.Sprintf("%s-%s-%04d.run", s.name, s.db, len(s.runs)))
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w: create run: %w", core.ErrResource, err)
	}
	w := bufio.NewWriter(f)
	var lenBuf [binary.MaxVarintLen64]byte
	for _, e := range entries {
		for _, part := range [][]byte{e.key, e.value} {
			n := binary.PutUvarint(lenBuf[:], uint64(len(part)))
			if _, err := w.Write(lenBuf[:n]); err != nil {
				f.Close()
				return fmt.Errorf("%w: write run: %w", core.ErrResource, err)
			}
			if _, err := w.Write(part); err != nil {
				f.Close()
				return fmt.Errorf("%w: write run: %w", core.ErrResource, err)
			}
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("%w: write run: %w", core.ErrResource, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: close run: %w", core.ErrResource, err)
	}
	s.runs = append(s.runs, path)
	return nil
}

// finish returns an iterator per run: the spilled files in spill order,
// then the remaining buffer.
func (s *sorter) finish() ([]runIterator, error) {
	var out []runIterator
	for _, path := range s.runs {
		it, err := openFileRun(path)
		if err != nil {
			closeRuns(out)
			return nil, err
		}
		out = append(out, it)
	}
	entries, err := s.sortedEntries()
	if err != nil {
		closeRuns(out)
		return nil, err
	}
	if len(entries) > 0 {
		out = append(out, &memoryRun{entries: entries})
	}
	return out, nil
}

type kvEntry struct {
	key, value []byte
}

// runIterator yields the entries of one sorted run.
type runIterator interface {
	// next returns the following entry, or io.EOF.
	next() (kvEntry, error)
	close() error
}

type memoryRun struct {
	entries []kvEntry
	pos     int
}

func (m *memoryRun) next() (kvEntry, error) {
	if m.pos >= len(m.entries) {
		return kvEntry{}, io.EOF
	}
	e := m.entries[m.pos]
	m.pos++
	return e, nil
}

func (m *memoryRun) close() error { return nil }

type fileRun struct {
	f *os.File
	r *bufio.Reader
}

func openFileRun(path string) (*fileRun, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open run: %w", core.ErrResource, err)
	}
	return &fileRun{f: f, r: bufio.NewReader(f)}, nil
}

func (fr *fileRun) readPart() ([]byte, error) {
	n, err := binary.ReadUvarint(fr.r)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(fr.r, buf); err != nil {
		return nil, fmt.Errorf("%w: %w", storage.ErrTruncatedData, err)
	}
	return buf, nil
}

func (fr *fileRun) next() (kvEntry, error) {
	key, err := fr.readPart()
	if err != nil {
		return kvEntry{}, err
	}
	value, err := fr.readPart()
	if err == io.EOF {
		return kvEntry{}, fmt.Errorf("%w: run ends after key", storage.ErrTruncatedData)
	}
	if err != nil {
		return kvEntry{}, err
	}
	return kvEntry{key: key, value: value}, nil
}

func (fr *fileRun) close() error {
	return fr.f.Close()
}

func closeRuns(runs []runIterator) {
	for _, r := range runs {
		r.close()
	}
}
