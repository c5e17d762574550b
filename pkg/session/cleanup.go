package session

import (
	"context"
	"errors"
	"time"

	"github.com/aretw0/chatflow/pkg/domain"
)

// SweepStats summarizes one cleanup pass.
type SweepStats struct {
	Examined int
	Expired  int
	Archived int
	Purged   int
	Skipped  int
}

// StartCleanup launches the background sweep. It stops when ctx is done.
func (m *Manager) StartCleanup(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(m.cfg.CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats, err := m.Sweep(ctx)
				if err != nil {
					m.logger.Error("session sweep failed", "err", err)
					continue
				}
				if stats.Expired+stats.Archived+stats.Purged > 0 {
					m.logger.Info("session sweep",
						"examined", stats.Examined,
						"expired", stats.Expired,
						"archived", stats.Archived,
						"purged", stats.Purged,
					)
				}
			}
		}
	}()
}

// Sweep examines up to one batch of sessions and applies the lifecycle
// policy: soft-expire TTL-elapsed sessions, archive inactive ones, and
// physically purge ended sessions past retention. A session whose lock
// is held by an in-flight turn is skipped, never evicted mid-turn.
// Sessions carrying lead data are never purged unless preservation is
// explicitly disabled; that is a hard policy, not a default.
func (m *Manager) Sweep(ctx context.Context) (SweepStats, error) {
	var stats SweepStats

	ids, err := m.store.List(ctx)
	if err != nil {
		return stats, err
	}

	for _, id := range ids {
		if stats.Examined >= m.cfg.CleanupBatchSize {
			break
		}
		if m.Busy(id) {
			stats.Skipped++
			continue
		}
		stats.Examined++

		err := m.WithLock(ctx, id, func(ctx context.Context) error {
			s, err := m.store.Load(ctx, id)
			if err != nil {
				if errors.Is(err, domain.ErrSessionNotFound) {
					return nil
				}
				return err
			}

			now := m.now()
			switch {
			case s.IsActive() && s.IsExpiredAt(now):
				stats.Expired++
				return m.softExpire(ctx, s, domain.EndReasonExpired)

			case s.IsActive() && now.Sub(s.LastActivityAt) > m.cfg.InactivityTimeout:
				// TTL-valid but abandoned: archive it. Soft, like all
				// lifecycle transitions here.
				stats.Archived++
				s.End(domain.SessionArchived, domain.EndReasonEvicted, now)
				s.UpdatedAt = now
				if err := m.store.Save(ctx, s); err != nil {
					return err
				}
				m.cacheDrop(s.ID)
				m.metrics.ObserveEviction(string(domain.EndReasonEvicted))
				return nil

			case !s.IsActive() && now.Sub(s.UpdatedAt) > m.cfg.PurgeAfter:
				if !m.cfg.DisableLeadPreservation && !s.Lead.IsEmpty() {
					return nil
				}
				stats.Purged++
				m.cacheDrop(s.ID)
				return m.store.Delete(ctx, s.ID)
			}
			return nil
		})
		if err != nil {
			m.logger.Warn("sweep could not process session", "session_id", id, "err", err)
		}
	}

	return stats, nil
}
