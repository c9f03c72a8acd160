package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

const testPrefix = "kv_store.log"

func newTestStore(t *testing.T, ratio int) (*KvStore, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := Open(dir, testPrefix, testBatchSize, testSyncInterval, ratio)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return store, dir
}

func TestStore_OpenEmptyDir(t *testing.T) {
	store, dir := newTestStore(t, defaultCompactionRatio)
	defer store.Close()

	if store.Len() != 0 {
		t.Errorf("Len() = %d, want 0", store.Len())
	}

	if _, err := os.Stat(filepath.Join(dir, testPrefix+".0")); err != nil {
		t.Errorf("expected generation 0 file to be created: %v", err)
	}
}

func TestStore_SetGetRemove(t *testing.T) {
	store, _ := newTestStore(t, defaultCompactionRatio)
	defer store.Close()

	keys := map[string]string{"alpha": "1", "beta": "2", "gamma": "3", "delta": "4"}
	for k, v := range keys {
		if err := store.Set(k, v); err != nil {
			t.Fatalf("Set(%q) error = %v", k, err)
		}
	}

	for k, v := range keys {
		got, ok, err := store.Get(k)
		if err != nil {
			t.Fatalf("Get(%q) error = %v", k, err)
		}
		if !ok {
			t.Fatalf("Get(%q) ok = false, want true", k)
		}
		if got != v {
			t.Errorf("Get(%q) = %q, want %q", k, got, v)
		}
	}

	if err := store.Remove("beta"); err != nil {
		t.Fatalf("Remove(beta) error = %v", err)
	}
	if _, ok, err := store.Get("beta"); err != nil || ok {
		t.Errorf("Get(beta) after remove = (ok=%v, err=%v), want (false, nil)", ok, err)
	}
	if store.Len() != 3 {
		t.Errorf("Len() = %d, want 3", store.Len())
	}
}

func TestStore_GetMissingKey(t *testing.T) {
	store, _ := newTestStore(t, defaultCompactionRatio)
	defer store.Close()

	_, ok, err := store.Get("ghost")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ok {
		t.Error("Get() on missing key returned ok = true")
	}
}

func TestStore_RemoveMissingKeyErrors(t *testing.T) {
	store, _ := newTestStore(t, defaultCompactionRatio)
	defer store.Close()

	err := store.Remove("ghost")
	if err == nil {
		t.Fatal("Remove() on missing key should error")
	}
}

func TestStore_SetRemoveReAdd(t *testing.T) {
	store, _ := newTestStore(t, defaultCompactionRatio)
	defer store.Close()

	if err := store.Set("k", "v1"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := store.Remove("k"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if err := store.Set("k", "v2"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, ok, err := store.Get("k")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !ok {
		t.Fatal("Get() ok = false, want true")
	}
	if got != "v2" {
		t.Errorf("Get() = %q, want %q", got, "v2")
	}
}

func TestStore_ReopenAfterWrites(t *testing.T) {
	dir := t.TempDir()

	store, err := Open(dir, testPrefix, testBatchSize, testSyncInterval, defaultCompactionRatio)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	const n = 100
	for i := 0; i < n; i++ {
		k := fmt.Sprintf("key-%d", i)
		if err := store.Set(k, "value"); err != nil {
			t.Fatalf("Set() error = %v", err)
		}
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened, err := Open(dir, testPrefix, testBatchSize, testSyncInterval, defaultCompactionRatio)
	if err != nil {
		t.Fatalf("Open() on reopen error = %v", err)
	}
	defer reopened.Close()

	if reopened.Len() != n {
		t.Errorf("Len() after reopen = %d, want %d", reopened.Len(), n)
	}
}

// TestStore_CompactionTriggersAtRatio is a lower-ratio variant of the literal
// scenario: with ratio 3, setting and overwriting the same key 11 times
// accumulates dead frames until the heuristic fires (at 4 frames, so after the
// 4th, 7th and 10th Set), each time rewriting the log down to a single live
// entry; after the 11th Set the log holds 2 frames.
func TestStore_CompactionTriggersAtRatio(t *testing.T) {
	store, dir := newTestStore(t, 3) // entryCount > 3 * indexLen triggers compaction

	for i := 0; i < 11; i++ {
		if err := store.Set("k", "v"); err != nil {
			t.Fatalf("Set() iteration %d error = %v", i, err)
		}
	}

	if store.Len() != 1 {
		t.Errorf("Len() = %d, want 1 (single live key)", store.Len())
	}
	if store.log.Len() >= 11 {
		t.Errorf("entry count = %d, expected compaction to have rewritten the log down", store.log.Len())
	}

	got, ok, err := store.Get("k")
	if err != nil || !ok || got != "v" {
		t.Errorf("Get(k) = (%q, %v, %v), want (\"v\", true, nil)", got, ok, err)
	}

	if _, err := os.Stat(filepath.Join(dir, testPrefix+".0")); !os.IsNotExist(err) {
		t.Error("generation 0 file should have been removed after compaction")
	}
}

// TestStore_CompactionTriggersAtZeroLiveKeys covers the literal formula
// len > ratio*indexLen at indexLen == 0: a set followed by a remove of the
// same key leaves no live keys at all, so the threshold collapses to
// "entryCount > 0" and compaction must still fire, rewriting the log down
// to an empty generation file rather than leaving the dead frames in place.
func TestStore_CompactionTriggersAtZeroLiveKeys(t *testing.T) {
	store, dir := newTestStore(t, 3)

	if err := store.Set("a", "1"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := store.Remove("a"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}

	if store.Len() != 0 {
		t.Errorf("Len() = %d, want 0", store.Len())
	}
	if store.log.Len() != 0 {
		t.Errorf("entry count = %d, want 0 (compaction should have rewritten to an empty log)", store.log.Len())
	}

	if _, err := os.Stat(filepath.Join(dir, testPrefix+".0")); !os.IsNotExist(err) {
		t.Error("generation 0 file should have been removed after compaction")
	}
	if _, err := os.Stat(filepath.Join(dir, testPrefix+".1")); err != nil {
		t.Errorf("expected generation 1 file to exist after compaction: %v", err)
	}
}

func TestStore_ManualCompactLog(t *testing.T) {
	store, _ := newTestStore(t, defaultCompactionRatio) // high ratio: auto-compact won't fire
	defer store.Close()

	for i := 0; i < 5; i++ {
		if err := store.Set("k", "v"); err != nil {
			t.Fatalf("Set() error = %v", err)
		}
	}
	if store.log.Len() != 5 {
		t.Fatalf("entry count before manual compaction = %d, want 5", store.log.Len())
	}

	if err := store.CompactLog(); err != nil {
		t.Fatalf("CompactLog() error = %v", err)
	}
	if store.log.Len() != 1 {
		t.Errorf("entry count after manual compaction = %d, want 1", store.log.Len())
	}
}

func TestStore_OpenRejectsNonDirectory(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "not-a-dir")
	if err := os.WriteFile(file, []byte("x"), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	if _, err := Open(file, testPrefix, testBatchSize, testSyncInterval, defaultCompactionRatio); err == nil {
		t.Error("Open() on a non-directory path should error")
	}
}

func TestStore_OpenSelectsNewestGeneration(t *testing.T) {
	dir := t.TempDir()

	for _, name := range []string{testPrefix + ".0", testPrefix + ".3", testPrefix + ".1", testPrefix} {
		f, err := os.Create(filepath.Join(dir, name))
		if err != nil {
			t.Fatalf("Create(%q) error = %v", name, err)
		}
		f.Close()
	}

	gen, path, err := latestGeneration(dir, testPrefix)
	if err != nil {
		t.Fatalf("latestGeneration() error = %v", err)
	}
	if gen != 3 {
		t.Errorf("latestGeneration() gen = %d, want 3", gen)
	}
	if filepath.Base(path) != testPrefix+".3" {
		t.Errorf("latestGeneration() path = %q, want suffix %q", path, testPrefix+".3")
	}
}
