// Package expiry runs the scheduled sweep that deletes FileRecords whose
// TTL has elapsed, reclaiming both the metadata row and its backing object
// through the Engine so the two stores never drift apart.
package expiry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/sagarc03/blobcache"
)

// Config controls a Reaper's schedule and batch shape.
type Config struct {
	// Schedule is a standard 5-field cron expression, e.g. "*/5 * * * *".
	// Empty disables the scheduled run; Sweep can still be called directly.
	Schedule string

	// BatchSize is the page size Sweep uses when searching for expired
	// records; Sweep keeps paging until a short page, so it is not a cap on
	// how many records one run deletes.
	BatchSize int

	// DryRun logs what would be deleted without deleting anything.
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

// Reaper periodically deletes expired files through the Engine. It finds
// records only through Engine.SearchFiles (MetadataStore.Search), never a
// backend-specific index, so the same Reaper works unmodified regardless
// of which MetadataStore implementation the Engine was built with.
type Reaper struct {
	engine *blobcache.Engine
	config Config
	cron   *cron.Cron

	mu    sync.Mutex
	stats Stats
}

// New constructs a Reaper bound to engine.
func New(engine *blobcache.Engine, config Config) *Reaper {
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	return &Reaper{engine: engine, config: config}
}

// Start schedules the sweep per Config.Schedule. A zero Schedule is a no-op;
// the caller can still invoke Sweep directly for on-demand runs.
func (r *Reaper) Start(ctx context.Context) error {
	if r.config.Schedule == "" {
		return nil
	}

	r.cron = cron.New()
	_, err := r.cron.AddFunc(r.config.Schedule, func() {
		if err := r.Sweep(ctx); err != nil {
			slog.Error("expiry sweep failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule expiry sweep: %w", err)
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

// maxSweepRecords caps how many expired records a single Sweep call will
// process, regardless of how many pages that takes. It bounds one tick's
// runtime against an unbounded backlog; anything past the ceiling is picked
// up by the next scheduled tick.
const maxSweepRecords = 10_000

// Sweep runs one expiry pass: find expired records in pages of BatchSize,
// deleting each through the Engine, and keeps paging until a short page
// comes back or maxSweepRecords is reached. A single record's failure does
// not abort the batch; it is counted and logged.
func (r *Reaper) Sweep(ctx context.Context) error {
	start := time.Now()

	var totalScanned int
	var deleted, failed int64

	for totalScanned < maxSweepRecords {
		result, err := r.engine.SearchFiles(ctx, blobcache.SearchFilter{
			ExpiredOnly: true,
			Limit:       r.config.BatchSize,
		})
		if err != nil {
			r.recordRun(start, deleted, err)
			return fmt.Errorf("expiry sweep: search: %w", err)
		}
		totalScanned += len(result.Records)

		for _, record := range result.Records {
			if r.config.DryRun {
				slog.Info("expiry sweep: would delete", "id", record.ID, "original_name", record.OriginalName)
				continue
			}

			if _, err := r.engine.DeleteFile(ctx, record.ID); err != nil {
				slog.Error("expiry sweep: delete failed", "id", record.ID, "error", err)
				failed++
				continue
			}
			deleted++
		}

		if r.config.DryRun {
			// Nothing was deleted, so the next page would be identical; one
			// page is enough to report candidates for a dry run.
			break
		}
		if len(result.Records) < r.config.BatchSize {
			break
		}
	}

	if totalScanned >= maxSweepRecords {
		slog.Warn("expiry sweep: hit the per-run record ceiling, remainder deferred to next run", "ceiling", maxSweepRecords)
	}

	var runErr error
	if failed > 0 {
		runErr = fmt.Errorf("expiry sweep: %d deletions failed", failed)
	}
	r.recordRun(start, deleted, runErr)

	slog.Info("expiry sweep complete", "scanned", totalScanned, "deleted", deleted, "failed", failed)
	return nil
}

// SweepOlderThan is the on-demand variant: delete live or expired records
// uploaded before cutoff, regardless of their own TTL.
func (r *Reaper) SweepOlderThan(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	if limit <= 0 {
		limit = r.config.BatchSize
	}

	result, err := r.engine.SearchFiles(ctx, blobcache.SearchFilter{
		UploadedBefore: cutoff,
		Limit:          limit,
	})
	if err != nil {
		return 0, fmt.Errorf("sweep older than: search: %w", err)
	}

	var deleted int64
	for _, record := range result.Records {
		if r.config.DryRun {
			slog.Info("sweep older than: would delete", "id", record.ID)
			continue
		}
		if _, err := r.engine.DeleteFile(ctx, record.ID); err != nil {
			slog.Error("sweep older than: delete failed", "id", record.ID, "error", err)
			continue
		}
		deleted++
	}
	return deleted, nil
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
