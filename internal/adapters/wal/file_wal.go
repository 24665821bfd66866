package wal

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/ghalamif/AegisIsolate/internal/domain"
	"github.com/ghalamif/AegisIsolate/internal/ports"
)

const recordHeaderLen = 12

var ErrClosed = errors.New("wal: closed")

// FileWAL is an append-only journal of isolation events. Records are framed
// as [8 bytes id][4 bytes len][len bytes json]; the highest committed id is
// kept in a sidecar meta file.
type FileWAL struct {
	mu        sync.Mutex
	dir       string
	path      string
	metaPath  string
	file      *os.File
	writer    *bufio.Writer
	nextID    ports.WALEntryID
	committed ports.WALEntryID
	sizeBytes int64
	closed    bool
}

func NewFileWAL(dir string) (*FileWAL, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, "isolation.wal")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}

	w := &FileWAL{
		dir:      dir,
		path:     path,
		metaPath: filepath.Join(dir, "isolation.meta"),
		file:     f,
		writer:   bufio.NewWriterSize(f, 64<<10),
	}
	if err := w.bootstrap(); err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

func (w *FileWAL) bootstrap() error {
	if err := w.scanExisting(); err != nil {
		return err
	}
	if err := w.loadCommitted(); err != nil {
		return err
	}
	if w.nextID < w.committed {
		w.nextID = w.committed
	}
	_, err := w.file.Seek(0, io.SeekEnd)
	return err
}

// scanExisting finds the last complete record and cuts off a torn tail.
func (w *FileWAL) scanExisting() error {
	rf, err := os.Open(w.path)
	if err != nil {
		return err
	}
	defer rf.Close()

	var (
		offset int64
		lastID ports.WALEntryID
	)
	err = readRecords(bufio.NewReader(rf), func(id ports.WALEntryID, body []byte) error {
		offset += recordHeaderLen + int64(len(body))
		lastID = id
		return nil
	})
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("wal scan: %w", err)
	}

	if err := w.file.Truncate(offset); err != nil {
		return err
	}
	w.sizeBytes = offset
	w.nextID = lastID
	return nil
}

func (w *FileWAL) loadCommitted() error {
	data, err := os.ReadFile(w.metaPath)
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
		return fmt.Errorf("wal meta parse: %w", err)
	}
	w.committed = ports.WALEntryID(u)
	return nil
}

func (w *FileWAL) Append(ev *domain.IsolationEvent) (ports.WALEntryID, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0, ErrClosed
	}

	b, err := json.Marshal(ev)
	if err != nil {
		return 0, err
	}
	id := w.nextID + 1
	if err := writeRecord(w.writer, id, b); err != nil {
		return 0, err
	}
	// Isolation events are rare and must survive a crash right after the
	// unit goes offline.
	if err := w.writer.Flush(); err != nil {
		return 0, err
	}

	w.nextID = id
	w.sizeBytes += recordHeaderLen + int64(len(b))
	return id, nil
}

// Iterate calls fn for every record with id >= from, in append order. The
// records are read under the lock and fn runs without it, so fn may call
// Commit or Append.
func (w *FileWAL) Iterate(from ports.WALEntryID, fn func(id ports.WALEntryID, ev *domain.IsolationEvent) error) error {
	entries, err := w.snapshot(from)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := fn(e.id, e.ev); err != nil {
			return err
		}
	}
	return nil
}

type walEntry struct {
	id ports.WALEntryID
	ev *domain.IsolationEvent
}

func (w *FileWAL) snapshot(from ports.WALEntryID) ([]walEntry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, ErrClosed
	}
	if err := w.writer.Flush(); err != nil {
		return nil, err
	}

	f, err := os.Open(w.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []walEntry
	err = readRecords(bufio.NewReader(f), func(id ports.WALEntryID, body []byte) error {
		if id < from {
			return nil
		}
		var ev domain.IsolationEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			return fmt.Errorf("corrupt wal entry %d: %w", id, err)
		}
		entries = append(entries, walEntry{id: id, ev: &ev})
		return nil
	})
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, fmt.Errorf("corrupt wal: %w", err)
	}
	return entries, err
}

func (w *FileWAL) Commit(upto ports.WALEntryID) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if upto > w.committed {
		w.committed = upto
	}
	return w.persistMetaLocked()
}

// TruncateCommitted rewrites the log without records at or below the
// committed id.
func (w *FileWAL) TruncateCommitted() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	if err := w.writer.Flush(); err != nil {
		return err
	}

	src, err := os.Open(w.path)
	if err != nil {
		return err
	}
	tmpPath := w.path + ".tmp"
	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		src.Close()
		return err
	}

	bw := bufio.NewWriter(tmp)
	var kept int64
	err = readRecords(bufio.NewReader(src), func(id ports.WALEntryID, body []byte) error {
		if id <= w.committed {
			return nil
		}
		kept += recordHeaderLen + int64(len(body))
		return writeRecord(bw, id, body)
	})
	src.Close()
	if err == nil {
		err = bw.Flush()
	}
	if err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("wal truncate: %w", err)
	}

	if err := w.file.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, w.path); err != nil {
		return err
	}
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		w.closed = true
		return err
	}
	w.file = f
	w.writer.Reset(f)
	w.sizeBytes = kept
	return nil
}

func (w *FileWAL) Stats() ports.WALStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return ports.WALStats{
		OldestUncommitted: w.committed + 1,
		LatestAppended:    w.nextID,
		SizeBytes:         w.sizeBytes,
	}
}

func (w *FileWAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	err := w.writer.Flush()
	if serr := w.file.Sync(); err == nil {
		err = serr
	}
	return errors.Join(err, w.file.Close())
}

func (w *FileWAL) persistMetaLocked() error {
	data := []byte(fmt.Sprintf("%d\n", w.committed))
	return os.WriteFile(w.metaPath, data, 0o644)
}

func writeRecord(bw *bufio.Writer, id ports.WALEntryID, body []byte) error {
	var hdr [recordHeaderLen]byte
	binary.BigEndian.PutUint64(hdr[0:8], uint64(id))
	binary.BigEndian.PutUint32(hdr[8:12], uint32(len(body)))
	if _, err := bw.Write(hdr[:]); err != nil {
		return err
	}
	_, err := bw.Write(body)
	return err
}

// readRecords walks framed records until EOF. A record cut short returns
// io.ErrUnexpectedEOF after all complete records were delivered.
func readRecords(r *bufio.Reader, fn func(id ports.WALEntryID, body []byte) error) error {
	for {
		var hdr [recordHeaderLen]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		id := ports.WALEntryID(binary.BigEndian.Uint64(hdr[0:8]))
		body := make([]byte, binary.BigEndian.Uint32(hdr[8:12]))
		if _, err := io.ReadFull(r, body); err != nil {
			if errors.Is(err, io.EOF) {
				return io.ErrUnexpectedEOF
			}
			return err
		}
		if err := fn(id, body); err != nil {
			return err
		}
	}
}

var _ ports.WAL = (*FileWAL)(nil)
