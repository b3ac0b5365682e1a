// Package orphan runs the scheduled sweep that deletes backend objects with
// no corresponding FileRecord: artifacts left behind by a crash between a
// successful Put and a failed metadata Save, or by any other partial write
// the Engine's teardown path did not observe.
package orphan

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/sagarc03/blobcache"
)

// Config controls a Reaper's schedule and safety margins.
type Config struct {
	// Schedule is a standard 5-field cron expression. Empty disables the
	// scheduled run; Sweep can still be called directly.
	Schedule string

	// GraceWindow excludes backend objects newer than this from deletion,
	// so an upload still mid-flight (object written, record not yet saved)
	// is never mistaken for an orphan. Defaults to 60s.
	GraceWindow time.Duration

	// DryRun logs candidates without deleting them.
	DryRun bool
}

// Stats is a point-in-time snapshot of a Reaper's lifetime counters.
type Stats struct {
	LastRunAt    time.Time
	LastDuration time.Duration
	TotalDeleted int64
	TotalErrors  int64
	LastError    string
}

// Reaper deletes backend objects unreachable from any FileRecord. It builds
// its reachable set from blobcache.MetadataStore.AllIDs and its filePath
// convention, and its candidate set from blobcache.ObjectBackend.ListKeys,
// so it works against any pair of backend implementations without knowing
// their concrete types.
type Reaper struct {
	backend  blobcache.ObjectBackend
	metadata blobcache.MetadataStore
	config   Config
	cron     *cron.Cron

	mu    sync.Mutex
	stats Stats
}

// New constructs a Reaper bound to backend and metadata directly, since
// orphan detection operates below the Engine's record-oriented API.
func New(backend blobcache.ObjectBackend, metadata blobcache.MetadataStore, config Config) *Reaper {
	if config.GraceWindow <= 0 {
		config.GraceWindow = 60 * time.Second
	}
	return &Reaper{backend: backend, metadata: metadata, config: config}
}

// Start schedules the sweep per Config.Schedule.
func (r *Reaper) Start(ctx context.Context) error {
	if r.config.Schedule == "" {
		return nil
	}

	r.cron = cron.New()
	_, err := r.cron.AddFunc(r.config.Schedule, func() {
		if _, err := r.Sweep(ctx); err != nil {
			slog.Error("orphan sweep failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule orphan sweep: %w", err)
	}
	r.cron.Start()
	return nil
}

// Stop halts the schedule and waits for any in-flight run to finish.
func (r *Reaper) Stop() {
	if r.cron != nil {
		<-r.cron.Stop().Done()
	}
}

// Sweep compares the backend's keys against every record's filePath and
// deletes whichever backend objects aren't referenced by any record (expired
// or not) and are older than GraceWindow. Returns the number of orphans deleted.
func (r *Reaper) Sweep(ctx context.Context) (int64, error) {
	start := time.Now()

	reachable, err := r.reachablePaths(ctx)
	if err != nil {
		r.recordRun(start, 0, err)
		return 0, fmt.Errorf("orphan sweep: %w", err)
	}

	keys, err := r.backend.ListKeys(ctx)
	if err != nil {
		r.recordRun(start, 0, err)
		return 0, fmt.Errorf("orphan sweep: list keys: %w", err)
	}

	cutoff := time.Now().Add(-r.config.GraceWindow)

	var deleted, failed int64
	for _, key := range keys {
		if _, ok := reachable[key.Key]; ok {
			continue
		}
		if key.ModTime.After(cutoff) {
			continue // too recent, may be an in-flight upload
		}

		if r.config.DryRun {
			slog.Info("orphan sweep: would delete", "key", key.Key)
			continue
		}

		if err := r.backend.Delete(ctx, key.Key); err != nil {
			slog.Error("orphan sweep: delete failed", "key", key.Key, "error", err)
			failed++
			continue
		}
		deleted++
	}

	var runErr error
	if failed > 0 {
		runErr = fmt.Errorf("orphan sweep: %d deletions failed", failed)
	}
	r.recordRun(start, deleted, runErr)

	slog.Info("orphan sweep complete", "scanned", len(keys), "deleted", deleted, "failed", failed)
	return deleted, nil
}

func (r *Reaper) reachablePaths(ctx context.Context) (map[string]struct{}, error) {
	ids, err := r.metadata.AllIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("all ids: %w", err)
	}

	reachable := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		record, err := r.metadata.Get(ctx, id)
		if err != nil {
			continue // raced with a concurrent delete, safe to skip
		}
		reachable[record.FilePath] = struct{}{}
	}
	return reachable, nil
}

func (r *Reaper) recordRun(start time.Time, deleted int64, runErr error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stats.LastRunAt = start
	r.stats.LastDuration = time.Since(start)
	r.stats.TotalDeleted += deleted
	if runErr != nil {
		r.stats.TotalErrors++
		r.stats.LastError = runErr.Error()
	}
}

// Stats returns a snapshot of the Reaper's lifetime counters.
func (r *Reaper) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}
