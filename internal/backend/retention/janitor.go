package retention

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jo-hoe/faceswap/internal/backend/database"
	"github.com/jo-hoe/faceswap/internal/backend/metrics"
	"github.com/jo-hoe/faceswap/internal/backend/storage"
)

// Report summarizes one sweep.
type Report struct {
	Records     int
	UploadFiles int
	ResultFiles int
}

// Janitor removes results and uploads older than a TTL.
type Janitor struct {
	databaseService database.DatabaseService
	paths           *storage.Paths
	metrics         *metrics.Registry
	ttl             time.Duration
	interval        time.Duration
	now             func() time.Time
}

// NewJanitor creates a janitor. A non-positive ttl disables pruning; metrics may be nil.
func NewJanitor(databaseService database.DatabaseService, paths *storage.Paths, registry *metrics.Registry, ttl, interval time.Duration) *Janitor {
	return &Janitor{
		databaseService: databaseService,
		paths:           paths,
		metrics:         registry,
		ttl:             ttl,
		interval:        interval,
		now:             time.Now,
	}
}

func (j *Janitor) Enabled() bool {
	return j.ttl > 0
}

// Prune runs a single sweep.
func (j *Janitor) Prune(ctx context.Context) (Report, error) {
	var report Report
	if !j.Enabled() {
		return report, nil
	}
	cutoff := j.now().Add(-j.ttl)

	expired, err := j.databaseService.DeleteResultsBefore(ctx, cutoff)
	if err != nil {
		return report, fmt.Errorf("failed to delete expired results: %w", err)
	}
	report.Records = len(expired)
	for _, result := range expired {
		for _, path := range []string{result.ResultPath, result.SourcePath, result.TargetPath} {
			if err := storage.Remove(path); err != nil {
				slog.Warn("retention: failed to remove file", "result_id", result.ID, "path", path, "error", err)
			}
		}
	}

	// uploads of failed requests have no record
	report.UploadFiles, err = storage.RemoveOlderThan(j.paths.UploadDir, cutoff)
	if err != nil {
		return report, err
	}
	report.ResultFiles, err = storage.RemoveOlderThan(j.paths.ResultDir, cutoff)
	if err != nil {
		return report, err
	}

	if j.metrics != nil {
		j.metrics.AddPrunedFiles("uploads", report.UploadFiles)
		j.metrics.AddPrunedFiles("results", report.ResultFiles)
	}
	slog.Info("retention: sweep complete",
		"cutoff", cutoff,
		"records", report.Records,
		"upload_files", report.UploadFiles,
		"result_files", report.ResultFiles)
	return report, nil
}

// Run sweeps immediately and then every interval until ctx is done.
func (j *Janitor) Run(ctx context.Context) {
	if !j.Enabled() {
		slog.Info("retention: disabled")
		return
	}
	interval := j.interval
	if interval <= 0 {
		interval = j.ttl
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := j.Prune(ctx); err != nil {
			slog.Error("retention: sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
