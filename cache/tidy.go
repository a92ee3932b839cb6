package cache

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

// Tidy removes stale rows on a ticker until the context is cancelled. Runs
// once immediately so a long-dormant cache is trimmed at startup.
func (s *Store) Tidy(ctx context.Context, interval time.Duration, maxAge time.Duration) {
	if err := s.InvalidateStale(maxAge); err != nil {
		log.Error("Error tidying cache: ", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			log.Info("Tidying cache")
			if err := s.InvalidateStale(maxAge); err != nil {
				log.Error("Error tidying cache: ", err)
			}
		}
	}
}
