package lifecycle

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// CleanupResidualData removes a user's stale cached partner rows and any
// export artifacts older than the given number of days. Days below one fall
// back to the configured cleanup window. Best-effort housekeeping,
// independent of the deletion workflow.
func (s *Service) CleanupResidualData(ctx context.Context, userID string, days int) (int64, error) {
	if days < 1 {
		days = s.cleanupDays
	}
	removed, err := s.store.DeleteCachedPartnerDataOlderThan(ctx, userID, days)
	if err != nil {
		return 0, err
	}
	artifacts := s.sweepArtifacts(s.now().AddDate(0, 0, -days))

	s.audit.Record("residual_cleanup", "", map[string]any{
		"userId":           userID,
		"olderThan":        days,
		"rowsRemoved":      removed,
		"artifactsRemoved": artifacts,
	})
	return removed, nil
}

// CleanupExpiredArtifacts sweeps the export directory and removes files past
// the expiry window, returning how many were deleted.
func (s *Service) CleanupExpiredArtifacts(ctx context.Context) int {
	cutoff := s.now().Add(-s.exportExpiry)
	removed := s.sweepArtifacts(cutoff)
	if removed > 0 {
		s.audit.Record("expired_artifacts_removed", "", map[string]any{
			"count":  removed,
			"cutoff": cutoff.UTC().Format(time.RFC3339),
		})
	}
	return removed
}

// sweepArtifacts deletes export files whose modification time is at or
// before the cutoff. Unreadable entries are skipped.
func (s *Service) sweepArtifacts(cutoff time.Time) int {
	entries, err := os.ReadDir(s.exportDir)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("export directory sweep failed", "dir", s.exportDir, "error", err)
		}
		return 0
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".json") && !strings.HasSuffix(name, ".pdf") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(s.exportDir, name)
		if err := os.Remove(path); err != nil {
			slog.Warn("expired artifact removal failed", "path", path, "error", err)
			continue
		}
		removed++
	}
	return removed
}
