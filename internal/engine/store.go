package engine

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/pkg/errors"

	"github.com/aetherkv/kvs/internal/format"
)

// defaultCompactionRatio is the multiplier used to decide when a log has
// accumulated enough dead frames to be worth rewriting: compaction triggers
// once entryCount exceeds compactionRatio * indexLen.
const defaultCompactionRatio = 10

// KvStore is the string-oriented façade over an AppendLog. It owns the log
// directory: picking the newest generation file on Open, creating the first
// one when the directory is empty, and rewriting to the next generation
// during compaction. All public methods are safe for concurrent use.
type KvStore struct {
	mu     sync.RWMutex
	dir    string
	log    *AppendLog
	gen    int
	ratio  int
	prefix string
}

// Open selects (or creates) the active generation file under dir and loads
// its index. dir must already exist and be a directory.
func Open(dir string, prefix string, batchSize uint32, syncInterval time.Duration, compactionRatio int) (*KvStore, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidPath, "stat %s: %v", dir, err)
	}
	if !info.IsDir() {
		return nil, errors.Wrapf(ErrInvalidPath, "%s is not a directory", dir)
	}
	if compactionRatio <= 0 {
		compactionRatio = defaultCompactionRatio
	}

	gen, path, err := latestGeneration(dir, prefix)
	if err != nil {
		return nil, err
	}
	if path == "" {
		gen = 0
		path = generationPath(dir, prefix, gen)
		f, err := os.Create(path)
		if err != nil {
			return nil, errors.Wrapf(err, "engine: create initial log file %s", path)
		}
		f.Close()
		slog.Info("store: created initial generation file", "path", path)
	}

	log, err := Load(path, batchSize, syncInterval)
	if err != nil {
		return nil, errors.Wrap(err, "engine: open store")
	}

	return &KvStore{
		dir:    dir,
		log:    log,
		gen:    gen,
		ratio:  compactionRatio,
		prefix: prefix,
	}, nil
}

// generationPath renders the on-disk name for generation gen under prefix:
// "<dir>/<prefix>.<gen>".
func generationPath(dir, prefix string, gen int) string {
	return filepath.Join(dir, fmt.Sprintf("%s.%d", prefix, gen))
}

// latestGeneration scans dir for files named "<prefix>.<N>" and returns the
// highest N found along with its full path. Files with the bare prefix (no
// numeric suffix) are ignored, per the design's resolution of the
// generation-suffix parsing ambiguity. Returns (0, "", nil) if none exist.
func latestGeneration(dir, prefix string) (int, string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, "", errors.Wrapf(err, "engine: read dir %s", dir)
	}

	best := -1
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasPrefix(name, prefix+".") {
			continue
		}
		suffix := strings.TrimPrefix(name, prefix+".")
		n, err := strconv.Atoi(suffix)
		if err != nil {
			continue // not a "<prefix>.<N>" file, ignore
		}
		if n > best {
			best = n
		}
	}

	if best < 0 {
		return 0, "", nil
	}
	return best, generationPath(dir, prefix, best), nil
}

// Get returns the value stored for key, or "", false if absent. Stored
// bytes that are not valid UTF-8 surface as ErrEncoding — the wire format
// is byte-transparent, but this façade's contract is string-in, string-out.
func (s *KvStore) Get(key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	val, err := s.log.FetchByKey([]byte(key))
	if err != nil {
		return "", false, errors.Wrapf(err, "engine: get %q", key)
	}
	if val == nil {
		return "", false, nil
	}
	if !utf8.Valid(val) {
		return "", false, errors.Wrapf(ErrEncoding, "key %q", key)
	}
	return string(val), true, nil
}

// Contains reports whether key is currently live in the store.
func (s *KvStore) Contains(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.log.Contains([]byte(key))
}

// Len returns the number of live keys in the store.
func (s *KvStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.log.IndexLen()
}

// Set writes key/value and, if the log has accumulated enough dead frames,
// triggers a compaction afterward.
func (s *KvStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.log.Append(format.Set, []byte(key), []byte(value)); err != nil {
		return errors.Wrapf(err, "engine: set %q", key)
	}
	return s.tryCompactLocked()
}

// Remove deletes key, returning ErrKeyNotFound if it is not currently live.
func (s *KvStore) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.log.Contains([]byte(key)) {
		return errors.Wrapf(ErrKeyNotFound, "%q", key)
	}
	if err := s.log.Append(format.Remove, []byte(key), nil); err != nil {
		return errors.Wrapf(err, "engine: remove %q", key)
	}
	return s.tryCompactLocked()
}

// CompactLog unconditionally rewrites the active log to the next generation,
// regardless of the dead-frame ratio.
func (s *KvStore) CompactLog() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.compactLocked()
}

// tryCompactLocked applies the design's compaction heuristic: recompact once
// entryCount exceeds ratio * indexLen. This holds even at indexLen == 0 —
// e.g. a set followed by a remove of the same key — where the threshold
// collapses to entryCount > 0, so any accumulated dead frames trigger a
// rewrite down to an empty generation file. Called with mu already held.
func (s *KvStore) tryCompactLocked() error {
	if s.log.Len() <= s.ratio*s.log.IndexLen() {
		return nil
	}
	slog.Info("store: compaction threshold reached",
		"entries", s.log.Len(), "live_keys", s.log.IndexLen(), "ratio", s.ratio)
	return s.compactLocked()
}

func (s *KvStore) compactLocked() error {
	nextGen := s.gen + 1
	newPath := generationPath(s.dir, s.prefix, nextGen)

	newLog, err := s.log.Compact(newPath)
	if err != nil {
		return errors.Wrap(err, "engine: compact")
	}

	oldPath := generationPath(s.dir, s.prefix, s.gen)
	if err := s.log.Close(); err != nil {
		slog.Warn("store: failed to close old generation cleanly", "path", oldPath, "error", err)
	}
	if err := os.Remove(oldPath); err != nil {
		slog.Warn("store: failed to remove old generation file", "path", oldPath, "error", err)
	}

	s.log = newLog
	s.gen = nextGen
	slog.Info("store: compaction complete", "generation", nextGen, "live_keys", newLog.IndexLen())
	return nil
}

// Close flushes and closes the active log file.
func (s *KvStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return errors.Wrap(s.log.Close(), "engine: close store")
}
