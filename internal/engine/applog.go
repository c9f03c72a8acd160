// Package engine implements the append-only log store described by the
// design: AppendLog, a byte-oriented, single-file log with an in-memory
// offset index and compaction, and KvStore, the thin string-oriented
// adapter built on top of it (see store.go).
package engine

import (
	"log/slog"
	"os"
	"time"

	"github.com/pkg/errors"

	"github.com/aetherkv/kvs/internal/format"
	"github.com/aetherkv/kvs/internal/storage"
)

const lengthPrefixSize = 4 // u32_be frame length, precedes every record body

// AppendLog owns one log file: its two OS handles (via storage.File), its
// in-memory offset index, and the single-writer append/compact protocol.
// The index maps a key to the file offset of the most recent live Set frame
// for that key (design invariant I1); Remove erases the entry.
type AppendLog struct {
	file  *storage.File
	index map[string]int64

	entryCount int // total frames physically present, live and dead (I3)
}

// Load opens path (which must already be an existing regular file) and
// rebuilds the index by scanning it front to back.
func Load(path string, batchSize uint32, syncInterval time.Duration) (*AppendLog, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidLogFile, "stat %s: %v", path, err)
	}
	if !info.Mode().IsRegular() {
		return nil, errors.Wrapf(ErrInvalidLogFile, "%s is not a regular file", path)
	}

	f, err := storage.Open(path, batchSize, syncInterval)
	if err != nil {
		return nil, errors.Wrap(err, "engine: load")
	}

	log := &AppendLog{
		file:  f,
		index: make(map[string]int64),
	}
	if err := log.buildIndex(); err != nil {
		f.Close()
		return nil, err
	}
	return log, nil
}

// buildIndex implements the index-by-scan algorithm (design §4.1.2): seek to
// 0, read frame-by-frame, recording each Set's offset and erasing on Remove,
// until the cursor reaches the file's length at scan time.
func (l *AppendLog) buildIndex() error {
	size, err := l.file.Size()
	if err != nil {
		return errors.Wrap(err, "engine: build index")
	}

	var cursor int64
	count := 0
	for cursor < size {
		offset := cursor

		lenBytes, err := l.file.ReadAt(cursor, lengthPrefixSize)
		if err != nil {
			return errors.Wrap(format.ErrCorruption, "engine: build index: truncated length prefix")
		}
		cursor += lengthPrefixSize

		bodyLen := beUint32(lenBytes)
		body, err := l.file.ReadAt(cursor, int(bodyLen))
		if err != nil {
			return errors.Wrap(format.ErrCorruption, "engine: build index: truncated frame body")
		}
		cursor += int64(bodyLen)

		rec, err := format.Decode(body)
		if err != nil {
			return errors.Wrap(err, "engine: build index")
		}
		count++

		switch rec.Cmd {
		case format.Set:
			l.index[string(rec.Key)] = offset
		case format.Remove:
			delete(l.index, string(rec.Key))
		}
	}

	l.entryCount = count
	slog.Debug("engine: index built", "entries", count, "live_keys", len(l.index))
	return nil
}

// Append serializes cmd/key/val into a frame, writes it at end of file, and
// updates the index. cmd == format.Set requires val != nil; cmd ==
// format.Remove requires val == nil.
func (l *AppendLog) Append(cmd format.Cmd, key, val []byte) error {
	if len(key) == 0 {
		return errors.New("engine: key must not be empty")
	}
	if cmd == format.Set && val == nil {
		return errors.New("engine: Set requires a value")
	}
	if cmd == format.Remove && val != nil {
		return errors.New("engine: Remove must not carry a value")
	}

	rec := &format.Record{Cmd: cmd, Key: key, Val: val}
	body := rec.Encode()
	frame := make([]byte, lengthPrefixSize+len(body))
	putBeUint32(frame[:lengthPrefixSize], uint32(len(body)))
	copy(frame[lengthPrefixSize:], body)

	offset, err := l.file.Append(frame)
	if err != nil {
		return errors.Wrap(err, "engine: append")
	}

	l.entryCount++
	switch cmd {
	case format.Set:
		l.index[string(key)] = offset
	case format.Remove:
		delete(l.index, string(key))
	}
	return nil
}

// FetchByKey looks the key up in the index and, if present, reads its frame
// back from disk. Returns (nil, nil) if the key is absent.
func (l *AppendLog) FetchByKey(key []byte) ([]byte, error) {
	offset, ok := l.index[string(key)]
	if !ok {
		return nil, nil
	}

	lenBytes, err := l.file.ReadAt(offset, lengthPrefixSize)
	if err != nil {
		return nil, errors.Wrap(format.ErrCorruption, "engine: fetch: truncated length prefix")
	}
	bodyLen := beUint32(lenBytes)

	body, err := l.file.ReadAt(offset+lengthPrefixSize, int(bodyLen))
	if err != nil {
		return nil, errors.Wrap(format.ErrCorruption, "engine: fetch: truncated frame body")
	}

	rec, err := format.Decode(body)
	if err != nil {
		return nil, errors.Wrap(err, "engine: fetch")
	}
	if string(rec.Key) != string(key) {
		return nil, errors.Wrapf(format.ErrCorruption, "engine: fetch: index points at key %q, frame holds %q", key, rec.Key)
	}

	return rec.Val, nil
}

// Contains is a pure index membership test; it never touches the file.
func (l *AppendLog) Contains(key []byte) bool {
	_, ok := l.index[string(key)]
	return ok
}

// Len returns the total number of frames physically present (I3): live,
// superseded, and removed.
func (l *AppendLog) Len() int { return l.entryCount }

// IndexLen returns the number of live keys.
func (l *AppendLog) IndexLen() int { return len(l.index) }

// IsEmpty reports whether the log has zero frames.
func (l *AppendLog) IsEmpty() bool { return l.entryCount == 0 }

// Flush ensures any writes are durable on disk.
func (l *AppendLog) Flush() error {
	return errors.Wrap(l.file.Flush(), "engine: flush")
}

// Close releases the underlying file handles.
func (l *AppendLog) Close() error {
	return errors.Wrap(l.file.Close(), "engine: close")
}

// Compact writes every live key/value pair to a fresh log at newPath (which
// must not already exist), rebuilds that log's index by scan, and returns
// it. The caller is responsible for swapping its own AppendLog for the
// returned one and deleting the old file — Compact never mutates the
// receiver or touches the old file beyond reading it.
func (l *AppendLog) Compact(newPath string) (*AppendLog, error) {
	if _, err := os.Stat(newPath); err == nil {
		return nil, errors.Wrapf(ErrInvalidLogFile, "compact target %s already exists", newPath)
	} else if !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "engine: compact: stat %s", newPath)
	}

	f, err := os.Create(newPath)
	if err != nil {
		return nil, errors.Wrapf(err, "engine: compact: create %s", newPath)
	}
	f.Close()

	dst, err := Load(newPath, l.file.BatchSize(), l.file.SyncInterval())
	if err != nil {
		return nil, errors.Wrap(err, "engine: compact: open target")
	}

	// Snapshot the index: writes into dst below must not perturb the loop.
	keys := make([]string, 0, len(l.index))
	for k := range l.index {
		keys = append(keys, k)
	}

	for _, k := range keys {
		val, err := l.FetchByKey([]byte(k))
		if err != nil {
			dst.Close()
			return nil, errors.Wrapf(err, "engine: compact: fetch %q", k)
		}
		if val == nil {
			// Design note: a live index entry whose frame yields no value
			// violates I1 and should not occur. Skip rather than writing
			// an ill-formed Set with no value (see SPEC_FULL.md §9).
			slog.Warn("engine: compact: live key resolved to no value, skipping", "key", k)
			continue
		}
		if err := dst.Append(format.Set, []byte(k), val); err != nil {
			dst.Close()
			return nil, errors.Wrapf(err, "engine: compact: write %q", k)
		}
	}

	if err := dst.Flush(); err != nil {
		dst.Close()
		return nil, errors.Wrap(err, "engine: compact: flush target")
	}

	dst.index = make(map[string]int64)
	if err := dst.buildIndex(); err != nil {
		dst.Close()
		return nil, errors.Wrap(err, "engine: compact: rebuild index")
	}

	return dst, nil
}

func beUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func putBeUint32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}
