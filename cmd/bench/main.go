package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/aretw0/beacon"
	"github.com/aretw0/beacon/pkg/core"
)

func main() {
	count := flag.Int("count", 1000, "Number of config documents to generate")
	entries := flag.Int("cache", 0, "Cache entry limit (0 keeps the default)")
	keep := flag.Bool("keep", false, "Keep the benchmark directory after running")
	flag.Parse()

	benchDir, err := os.MkdirTemp("", "beacon_bench_")
	if err != nil {
		panic(err)
	}
	defer func() {
		if !*keep {
			os.RemoveAll(benchDir)
		} else {
			fmt.Printf("Keeping bench dir: %s\n", benchDir)
		}
	}()

	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	sys, err := beacon.New(benchDir, beacon.WithLogger(logger), beacon.WithCache(*entries, 0))
	if err != nil {
		panic(err)
	}
	defer sys.Close(ctx)

	fmt.Printf("Saving %d configs in %s...\n", *count, benchDir)
	names := make([]string, *count)
	start := time.Now()
	for i := range names {
		names[i] = fmt.Sprintf("service_%05d", i)
		body := core.Body{
			"replicas": i % 7,
			"hosts":    []any{"a.local", "b.local"},
			"limits":   map[string]any{"cpu": 0.5, "memory": "256Mi"},
		}
		if _, err := sys.Store.Save(ctx, names[i], body, ""); err != nil {
			panic(err)
		}
	}
	saveTook := time.Since(start)

	// Cold: every load goes to disk.
	sys.Store.ClearCache()
	start = time.Now()
	if _, err := sys.Store.BulkLoad(ctx, names); err != nil {
		panic(err)
	}
	cold := time.Since(start)

	// Warm: loads are served by the cache as far as it holds them.
	start = time.Now()
	if _, err := sys.Store.BulkLoad(ctx, names); err != nil {
		panic(err)
	}
	warm := time.Since(start)

	stats := sys.Store.CacheStats()
	fmt.Printf("--------------------------------------------------\n")
	fmt.Printf("Benchmark Result (%d configs):\n", *count)
	fmt.Printf("  Save:       %v\n", saveTook)
	fmt.Printf("  Load cold:  %v\n", cold)
	fmt.Printf("  Load warm:  %v\n", warm)
	fmt.Printf("  Cache:      %d/%d entries, %d bytes, hit rate %.2f, %d evictions\n",
		stats.Entries, stats.MaxEntries, stats.MemoryUsed, stats.HitRate, stats.Evictions)
	fmt.Printf("--------------------------------------------------\n")
}
