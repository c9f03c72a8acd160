// Command test is a standalone performance and integrity harness for the
// engine package: it opens a KvStore directly (bypassing the CLI) and drives
// it through write-heavy and read-heavy workloads too large to fit in a
// table-driven unit test.
package main

import (
	"fmt"
	"log"
	"math/rand"
	"os"
	"strings"
	"time"

	"github.com/aetherkv/kvs/internal/config"
	"github.com/aetherkv/kvs/internal/engine"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	dir, err := os.MkdirTemp("", "kvs-harness-*")
	if err != nil {
		log.Fatalf("Failed to create scratch dir: %v", err)
	}
	defer os.RemoveAll(dir)

	switch os.Args[1] {
	case "100k-write":
		test100kWrite(cfg, dir)
	case "overlapping":
		testOverlappingKey(cfg, dir)
	case "integrity":
		testIntegrity(cfg, dir)
	default:
		fmt.Printf("Unknown test: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: go run tests/test.go <test-name>")
	fmt.Println("\nAvailable tests:")
	fmt.Println("  100k-write  - Write 100,000 unique keys and measure performance")
	fmt.Println("  overlapping - Test overlapping key writes (key_1 with value_A, then value_B)")
	fmt.Println("  integrity   - Write 100k keys, then randomly read 1,000 to verify integrity")
}

func mustOpen(cfg *config.Config, dir string) *engine.KvStore {
	store, err := engine.Open(dir, cfg.LOG_PREFIX, cfg.BATCH_SIZE, cfg.SyncInterval(), cfg.COMPACTION_RATIO)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	return store
}

// Test 1: 100k Write Test (Speed & Integrity)
func test100kWrite(cfg *config.Config, dir string) {
	fmt.Println(strings.Repeat("=", 61))
	fmt.Println("Test 1: 100k Write Test (Speed & Integrity)")
	fmt.Println(strings.Repeat("=", 61))

	store := mustOpen(cfg, dir)
	defer store.Close()

	totalKeys := 100000
	startTime := time.Now()
	errCount := 0

	fmt.Printf("Writing %d keys...\n", totalKeys)
	for i := 0; i < totalKeys; i++ {
		key := fmt.Sprintf("key_%d", i)
		value := fmt.Sprintf("value_%d", i)

		if err := store.Set(key, value); err != nil {
			errCount++
			if errCount <= 10 {
				fmt.Printf("ERROR: Failed to set key_%d: %v\n", i, err)
			}
		}

		if (i+1)%10000 == 0 {
			elapsed := time.Since(startTime)
			rate := float64(i+1) / elapsed.Seconds()
			fmt.Printf("Progress: %d/%d keys written (%.2f keys/sec)\n", i+1, totalKeys, rate)
		}
	}

	elapsed := time.Since(startTime)
	rate := float64(totalKeys) / elapsed.Seconds()

	fmt.Println(strings.Repeat("-", 61))
	fmt.Printf("Total time: %v\n", elapsed)
	fmt.Printf("Write rate: %.2f keys/second\n", rate)
	fmt.Printf("Errors: %d\n", errCount)

	if errCount > 0 {
		fmt.Printf("\nFAILED: %d errors occurred\n", errCount)
		os.Exit(1)
	}

	liveKeys := store.Len()
	fmt.Printf("Live keys in index: %d\n", liveKeys)
	if liveKeys != totalKeys {
		fmt.Printf("WARNING: index has %d keys, expected %d\n", liveKeys, totalKeys)
	}

	fmt.Println("\nPASSED: all 100,000 keys written successfully")
}

// Test 2: Overlapping Key Test
func testOverlappingKey(cfg *config.Config, dir string) {
	fmt.Println(strings.Repeat("=", 61))
	fmt.Println("Test 2: Overlapping Key Test")
	fmt.Println(strings.Repeat("=", 61))

	store := mustOpen(cfg, dir)
	defer store.Close()

	key := "key_1"
	valueA := "value_A"
	valueB := "value_B"

	fmt.Printf("Step 1: setting %s to %q\n", key, valueA)
	if err := store.Set(key, valueA); err != nil {
		log.Fatalf("Failed to set key_1 to value_A: %v", err)
	}

	fmt.Printf("Step 2: setting %s to %q (overwrite)\n", key, valueB)
	if err := store.Set(key, valueB); err != nil {
		log.Fatalf("Failed to set key_1 to value_B: %v", err)
	}

	fmt.Printf("Step 3: getting %s\n", key)
	value, ok, err := store.Get(key)
	if err != nil {
		log.Fatalf("Failed to get key_1: %v", err)
	}
	if !ok {
		log.Fatalf("key_1 unexpectedly absent")
	}
	fmt.Printf("  Retrieved value: %q\n", value)

	if value != valueB {
		fmt.Printf("\nFAILED: expected %q, got %q\n", valueB, value)
		os.Exit(1)
	}

	if liveKeys := store.Len(); liveKeys != 1 {
		fmt.Printf("WARNING: index has %d keys, expected 1\n", liveKeys)
	} else {
		fmt.Println("  index contains 1 key (correct: latest offset only)")
	}

	fmt.Println("\nPASSED: latest value correctly returned")
}

// Test 3: Integrity Test (Read-Back)
func testIntegrity(cfg *config.Config, dir string) {
	fmt.Println(strings.Repeat("=", 61))
	fmt.Println("Test 3: Integrity Test (Read-Back)")
	fmt.Println(strings.Repeat("=", 61))

	store := mustOpen(cfg, dir)
	defer store.Close()

	totalKeys := 100000
	fmt.Printf("Step 1: writing %d keys...\n", totalKeys)
	startTime := time.Now()

	for i := 0; i < totalKeys; i++ {
		key := fmt.Sprintf("key_%d", i)
		value := fmt.Sprintf("value_%d", i)
		if err := store.Set(key, value); err != nil {
			log.Fatalf("Failed to set key_%d: %v", i, err)
		}
	}
	fmt.Printf("  write completed in %v\n", time.Since(startTime))

	fmt.Println("\nStep 2: randomly reading 1,000 keys to verify integrity...")
	readStart := time.Now()
	errCount := 0

	for i := 0; i < 1000; i++ {
		idx := rand.Intn(totalKeys)
		key := fmt.Sprintf("key_%d", idx)
		want := fmt.Sprintf("value_%d", idx)

		got, ok, err := store.Get(key)
		if err != nil {
			errCount++
			if errCount <= 10 {
				fmt.Printf("  ERROR: failed to get %s: %v\n", key, err)
			}
			continue
		}
		if !ok || got != want {
			errCount++
			if errCount <= 10 {
				fmt.Printf("  ERROR: value mismatch for %s: got %q, want %q (present=%v)\n", key, got, want, ok)
			}
		}
	}

	fmt.Printf("\n  read completed in %v (%.2f keys/sec)\n", time.Since(readStart), 1000.0/time.Since(readStart).Seconds())
	fmt.Println(strings.Repeat("-", 61))
	fmt.Printf("Errors: %d\n", errCount)

	if errCount > 0 {
		fmt.Printf("\nFAILED: %d errors occurred\n", errCount)
		os.Exit(1)
	}

	fmt.Println("\nPASSED: all 1,000 random reads returned correct values")
}
