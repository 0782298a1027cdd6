package store

import (
	"context"
	"time"
)

// VacuumInterval is how long the cache goes between VACUUM runs. Retention
// deletes rows continuously, so the file only shrinks when SQLite rebuilds it.
const VacuumInterval = 30 * 24 * time.Hour

// VacuumIfNeeded rebuilds the database file when the previous rebuild is
// older than VacuumInterval and reports whether it did.
func (s *Store) VacuumIfNeeded(ctx context.Context) (bool, error) {
	last, err := s.metaTime(ctx, metaLastVacuum)
	if err != nil {
		return false, err
	}
	now := s.now()
	if now.Sub(last) < VacuumInterval {
		return false, nil
	}

	started := time.Now()
	if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
		return false, err
	}
	s.logger.Info("cache vacuumed", "previous", last, "elapsed", time.Since(started))

	if err := setMeta(ctx, s.db, metaLastVacuum, formatTime(now)); err != nil {
		// The next start simply vacuums again.
		s.logger.Warn("vacuum marker not saved", "error", err)
	}
	return true, nil
}
