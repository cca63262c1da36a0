package store

import (
	"context"
	"time"
)

// RetentionPolicy bounds how long derived data is kept.
type RetentionPolicy struct {
	Conversations    time.Duration // stale session rows
	ResolvedRecords  time.Duration // resolved violations
	ImageGenerations time.Duration
}

// DefaultRetention matches the documented defaults: 90 days for
// conversations, 30 for resolved violations and image logs.
func DefaultRetention() RetentionPolicy {
	return RetentionPolicy{
		Conversations:    90 * 24 * time.Hour,
		ResolvedRecords:  30 * 24 * time.Hour,
		ImageGenerations: 30 * 24 * time.Hour,
	}
}

// Maintain purges data past retention, evicts expired cache rows, and
// compacts the file. Runs from the scheduled maintenance job.
func (s *Store) Maintain(ctx context.Context, now time.Time, policy RetentionPolicy) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE last_updated < ?`,
		unixf(now.Add(-policy.Conversations))); err != nil {
		return unavailable("purge sessions", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM violations WHERE resolved = 1 AND timestamp < ?`,
		unixf(now.Add(-policy.ResolvedRecords))); err != nil {
		return unavailable("purge violations", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM image_generations WHERE created_at < ?`,
		unixf(now.Add(-policy.ImageGenerations))); err != nil {
		return unavailable("purge image generations", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM adaptation_events WHERE status != ? AND applied_at < ?`,
		AdaptationActive, unixf(now.Add(-policy.ResolvedRecords))); err != nil {
		return unavailable("purge adaptations", err)
	}
	if _, err := s.EvictExpiredCache(ctx, now); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `VACUUM`); err != nil {
		return unavailable("vacuum", err)
	}
	return nil
}
