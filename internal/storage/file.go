// Package storage owns the raw OS file handles behind one append log file.
// It provides the two primitives the engine package's AppendLog is built on:
// Append, which always lands at end-of-file, and ReadAt, a positioned read
// that never shares or moves a cursor with any other caller. Splitting read
// and write onto separate handles — and making reads positional — is what
// lets KvStore serve reads under its read lock rather than its write lock.
package storage

import (
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// File owns the read and append handles for a single log file, plus the
// best-effort fsync batching policy described in spec §5/§7: every write is
// immediately visible to ReadAt (the OS buffer cache, not an in-process
// buffer, mediates this), but fsync — durability against a crash, not
// against a concurrent reader — is deferred until BatchSize bytes have
// accumulated or SyncInterval has elapsed.
type File struct {
	mu sync.Mutex

	path string
	w    *os.File // opened O_APPEND; writes always land at current EOF
	r    *os.File // opened O_RDONLY; read only via ReadAt, cursor unused

	writeOffset   int64 // cached end-of-file, authoritative for Append's offset bookkeeping
	unsynced      int64 // bytes written since the last Sync
	lastSync      time.Time
	batchSize     uint32
	syncInterval  time.Duration
}

// Open opens the two handles AppendLog needs over path, which must already
// exist (engine.Open and AppendLog.Compact create the generation files).
func Open(path string, batchSize uint32, syncInterval time.Duration) (*File, error) {
	w, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "storage: open write handle for %s", path)
	}

	r, err := os.OpenFile(path, os.O_RDONLY, 0644)
	if err != nil {
		w.Close()
		return nil, errors.Wrapf(err, "storage: open read handle for %s", path)
	}

	info, err := w.Stat()
	if err != nil {
		w.Close()
		r.Close()
		return nil, errors.Wrapf(err, "storage: stat %s", path)
	}

	slog.Debug("storage: opened log file", "path", path, "size", info.Size())

	return &File{
		path:         path,
		w:            w,
		r:            r,
		writeOffset:  info.Size(),
		lastSync:     time.Now(),
		batchSize:    batchSize,
		syncInterval: syncInterval,
	}, nil
}

// Append writes data at the current end of file and returns the offset it
// was written at. The write is immediately visible to ReadAt; durability to
// disk (fsync) is batched per the BatchSize/SyncInterval policy.
func (f *File) Append(data []byte) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	offset := f.writeOffset

	n, err := f.w.Write(data)
	if err != nil {
		return 0, errors.Wrapf(err, "storage: write %d bytes at offset %d", len(data), offset)
	}
	if n != len(data) {
		slog.Warn("storage: short write", "expected", len(data), "written", n, "offset", offset)
	}

	f.writeOffset += int64(n)
	f.unsynced += int64(n)

	if f.unsynced >= int64(f.batchSize) || time.Since(f.lastSync) >= f.syncInterval {
		if err := f.syncLocked(); err != nil {
			return 0, err
		}
	}

	return offset, nil
}

// ReadAt reads exactly n bytes starting at offset, using a positioned read
// so it never disturbs any other reader's or writer's notion of "current
// position". Safe to call concurrently with Append and with other ReadAt
// calls.
func (f *File) ReadAt(offset int64, n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := f.r.ReadAt(buf, offset); err != nil {
		return nil, errors.Wrapf(err, "storage: read %d bytes at offset %d", n, offset)
	}
	return buf, nil
}

// BatchSize returns the fsync batching threshold this file was opened with.
func (f *File) BatchSize() uint32 { return f.batchSize }

// SyncInterval returns the fsync batching interval this file was opened with.
func (f *File) SyncInterval() time.Duration { return f.syncInterval }

// Size returns the file's current length.
func (f *File) Size() (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writeOffset, nil
}

// Flush forces a durable sync of any writes not yet fsynced to disk.
func (f *File) Flush() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.syncLocked()
}

func (f *File) syncLocked() error {
	if err := f.w.Sync(); err != nil {
		return errors.Wrapf(err, "storage: sync %s", f.path)
	}
	f.unsynced = 0
	f.lastSync = time.Now()
	slog.Debug("storage: synced to disk", "path", f.path, "last_sync_time", f.lastSync)
	return nil
}

// Close flushes and closes both handles.
func (f *File) Close() error {
	if err := f.Flush(); err != nil {
		slog.Error("storage: failed to flush before close", "path", f.path, "error", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	writeErr := f.w.Close()
	readErr := f.r.Close()
	if writeErr != nil {
		return errors.Wrapf(writeErr, "storage: close write handle for %s", f.path)
	}
	if readErr != nil {
		return errors.Wrapf(readErr, "storage: close read handle for %s", f.path)
	}

	slog.Info("storage: closed log file", "path", f.path)
	return nil
}
