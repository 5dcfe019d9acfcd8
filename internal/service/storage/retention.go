package storage

import (
	"context"
	"time"
)

// Run starts a ticker loop that periodically applies the retention policy until ctx is done.
func (s *ArtifactStore) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Prune(); err != nil {
				s.logger.Error("Artifact retention failed: %v", err)
			}
		}
	}
}

// Prune removes artifacts older than the configured maximum age, then the oldest
// artifacts until the total size fits the configured budget. A zero age or budget
// disables that rule. It returns the number of artifacts removed.
func (s *ArtifactStore) Prune() (int, error) {
	removed := 0

	if s.maxAge > 0 {
		expired, err := s.artifacts.ListOlderThan(s.now().Add(-s.maxAge))
		if err != nil {
			return removed, err
		}
		for i := range expired {
			if err := s.remove(&expired[i]); err != nil {
				s.logger.Warning("Failed to remove expired artifact %s: %v", expired[i].ID, err)
				continue
			}
			removed++
		}
	}

	if s.maxBytes > 0 {
		total, err := s.artifacts.TotalSize()
		if err != nil {
			return removed, err
		}
		if total > s.maxBytes {
			all, err := s.artifacts.ListOldestFirst()
			if err != nil {
				return removed, err
			}
			for i := 0; i < len(all) && total > s.maxBytes; i++ {
				if err := s.remove(&all[i]); err != nil {
					s.logger.Warning("Failed to evict artifact %s: %v", all[i].ID, err)
					continue
				}
				total -= all[i].Size
				removed++
			}
		}
	}

	if removed > 0 {
		s.logger.Info("Retention removed %d artifacts", removed)
	}
	s.metrics.AddPruned(removed)
	return removed, nil
}
