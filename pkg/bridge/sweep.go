package bridge

import (
	"context"
	"time"
)

// Run sweeps stale sessions every SweepInterval until ctx is done.
func (svc *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(svc.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			svc.Sweep(now)
		}
	}
}

// Sweep closes every session older than MaxAge at now and returns how many
// it closed.
func (svc *Service) Sweep(now time.Time) int {
	svc.mu.Lock()
	var stale []*Session
	for _, s := range svc.sessions {
		if now.Sub(s.CreatedAt) > svc.cfg.MaxAge {
			stale = append(stale, s)
		}
	}
	for id, at := range svc.recent {
		if now.Sub(at) > svc.cfg.MaxAge {
			delete(svc.recent, id)
		}
	}
	svc.mu.Unlock()

	for _, s := range stale {
		s.logger.Info("stale session cleanup", "age", now.Sub(s.CreatedAt).Round(time.Second))
		s.Close("max age exceeded")
	}
	return len(stale)
}
