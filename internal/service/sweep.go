package service

import (
	"context"
	"time"

	"github.com/weiawesome/wes-match-chat/internal/audit"
	"github.com/weiawesome/wes-match-chat/internal/domain"
	"github.com/weiawesome/wes-match-chat/pkg/log"
)

// runSweep closes inactive connections every CloseInactiveEvery until ctx is
// done.
func (m *Manager) runSweep(ctx context.Context) error {
	interval := m.cfg.CloseInactiveEvery
	if interval <= 0 || m.cfg.InactivityMax <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if n := m.SweepInactive(ctx); n > 0 {
				l := log.L()
				l.Info().Int("closed", n).Msg("closed inactive connections")
			}
		}
	}
}

// SweepInactive removes every connection that has not received a frame for
// longer than InactivityMax and returns how many were removed. Expired rate
// windows are dropped on the same pass.
func (m *Manager) SweepInactive(ctx context.Context) int {
	ctx, release := m.section.Enter(ctx)
	defer release()

	if n := m.limiter.Prune(); n > 0 {
		l := log.Ctx(ctx)
		l.Debug().Int("windows", n).Msg("pruned rate windows")
	}

	cutoff := m.now().Add(-m.cfg.InactivityMax)
	var stale []string
	for userID, c := range m.conns {
		if c.lastReceived.Before(cutoff) {
			stale = append(stale, userID)
		}
	}

	for _, userID := range stale {
		// Remove re-enters the section held above
		if err := m.Remove(ctx, userID, domain.CloseNormal, domain.ReasonInactive); err == nil {
			audit.Log(ctx, audit.ActionEvicted, userID, "inactive connection closed")
		}
	}
	return len(stale)
}
