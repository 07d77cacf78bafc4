package main

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"
)

const memoryLogEnv = "DISPATCH_MEMORY_LOG_INTERVAL"

// memoryLogIntervalFromEnv accepts a Go duration or a bare number of seconds.
func memoryLogIntervalFromEnv(logger *slog.Logger) time.Duration {
	value := strings.TrimSpace(os.Getenv(memoryLogEnv))
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
	} else if parsed, err := time.ParseDuration(value); err == nil && parsed > 0 {
		return parsed
	}
	if logger != nil {
		logger.Warn("Invalid memory log interval; skipping memory logger", "env", memoryLogEnv, "value", value)
	}
	return 0
}

func startMemoryLogger(ctx context.Context, logger *slog.Logger, interval time.Duration) {
	if logger == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			logMemoryStats(logger)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

func logMemoryStats(logger *slog.Logger) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	attrs := []any{
		"heap_alloc_bytes", m.HeapAlloc,
		"heap_inuse_bytes", m.HeapInuse,
		"num_gc", m.NumGC,
		"goroutines", runtime.NumGoroutine(),
	}
	if rss, ok := readRSSBytes(); ok {
		attrs = append(attrs, "rss_bytes", rss)
	}
	logger.Debug("Process memory", attrs...)
}

func readRSSBytes() (uint64, bool) {
	if runtime.GOOS != "linux" {
		return 0, false
	}
	data, err := os.ReadFile("/proc/self/status")
	if err != nil {
		return 0, false
	}
	for _, line := range strings.Split(string(data), "\n") {
		if !strings.HasPrefix(line, "VmRSS:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0, false
		}
		kb, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return 0, false
		}
		return kb * 1024, true
	}
	return 0, false
}
