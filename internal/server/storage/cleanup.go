package storage

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"intake/internal/server/database"
)

// spoolMaxAge is how long an in-flight multipart temp file may sit in
// the spool directory before it is considered abandoned. Sessions
// remove their own temp files on cleanup; anything this old belongs to
// a request whose process died mid-parse.
const spoolMaxAge = 24 * time.Hour

// CleanupService periodically removes expired uploads from both the
// database and file storage, and sweeps abandoned multipart temp files
// out of the spool directory.
type CleanupService struct {
	repo      *database.Repository
	store     Store
	spoolPath string
	interval  time.Duration
	done      chan struct{}
}

// NewCleanupService creates a new cleanup service.
func NewCleanupService(repo *database.Repository, store Store, spoolPath string, interval time.Duration) *CleanupService {
	return &CleanupService{
		repo:      repo,
		store:     store,
		spoolPath: spoolPath,
		interval:  interval,
		done:      make(chan struct{}),
	}
}

// Start begins the cleanup loop in a background goroutine.
func (cs *CleanupService) Start(ctx context.Context) {
	slog.Info("cleanup service started", "interval", cs.interval)

	go func() {
		ticker := time.NewTicker(cs.interval)
		defer ticker.Stop()

		// Run once immediately on start
		cs.runCleanup(ctx)

		for {
			select {
			case <-ticker.C:
				cs.runCleanup(ctx)
			case <-ctx.Done():
				slog.Info("cleanup service stopping")
				close(cs.done)
				return
			}
		}
	}()
}

// Wait blocks until the cleanup service has fully stopped.
func (cs *CleanupService) Wait() {
	<-cs.done
}

func (cs *CleanupService) runCleanup(ctx context.Context) {
	slog.Info("running cleanup cycle")

	cs.sweepSpool()

	expired, err := cs.repo.GetExpired(ctx)
	if err != nil {
		slog.Error("failed to get expired uploads", "error", err)
		return
	}

	if len(expired) == 0 {
		slog.Info("no expired uploads to clean up")
		return
	}

	var cleaned, failed int
	for _, upload := range expired {
		// Delete file from storage
		if err := cs.store.Delete(upload.ID); err != nil {
			slog.Error("failed to delete file",
				"upload_id", upload.ID,
				"error", err,
			)
			failed++
			continue
		}

		// Delete record from database
		if err := cs.repo.Delete(ctx, upload.ID); err != nil {
			slog.Error("failed to delete db record",
				"upload_id", upload.ID,
				"error", err,
			)
			failed++
			continue
		}

		cleaned++
		slog.Info("cleaned up expired upload",
			"upload_id", upload.ID,
			"filename", upload.Filename,
			"expired_at", upload.ExpiresAt,
		)
	}

	slog.Info("cleanup cycle complete",
		"cleaned", cleaned,
		"failed", failed,
		"total_expired", len(expired),
	)
}

// sweepSpool removes abandoned multipart temp files. Only files that
// match the engine's upload_*.tmp naming and are older than
// spoolMaxAge are touched; live sessions keep their temp files young.
func (cs *CleanupService) sweepSpool() {
	if cs.spoolPath == "" {
		return
	}

	entries, err := os.ReadDir(cs.spoolPath)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Error("failed to read spool directory", "path", cs.spoolPath, "error", err)
		}
		return
	}

	cutoff := time.Now().Add(-spoolMaxAge)
	var swept int
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, "upload_") || !strings.HasSuffix(name, ".tmp") {
			continue
		}

		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}

		path := filepath.Join(cs.spoolPath, name)
		if err := os.Remove(path); err != nil {
			slog.Error("failed to remove abandoned temp file", "path", path, "error", err)
			continue
		}
		swept++
	}

	if swept > 0 {
		slog.Info("swept abandoned temp files", "count", swept)
	}
}
