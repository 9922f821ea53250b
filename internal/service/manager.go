package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/weiawesome/wes-match-chat/internal/config"
	"github.com/weiawesome/wes-match-chat/internal/domain"
	"github.com/weiawesome/wes-match-chat/internal/gateway"
	"github.com/weiawesome/wes-match-chat/internal/queue"
	"github.com/weiawesome/wes-match-chat/internal/ratelimit"
	"github.com/weiawesome/wes-match-chat/internal/section"
	"github.com/weiawesome/wes-match-chat/pkg/log"
	"golang.org/x/sync/errgroup"
)

// Manager owns every live connection of this process together with the
// offline queues and rate windows of their users.
type Manager struct {
	cfg     config.ChatConfig
	section *section.Section
	conns   map[string]*connection
	queue   *queue.OfflineQueue
	limiter *ratelimit.Limiter
	broker  Broker
	gateway gateway.MessageGateway
	now     func() time.Time

	cancel context.CancelFunc
	group  *errgroup.Group
}

// connection is a registered Conn. Fields are guarded by the section.
type connection struct {
	conn         Conn
	connectedAt  time.Time
	lastReceived time.Time
}

func NewManager(cfg config.ChatConfig, b Broker, gw gateway.MessageGateway) *Manager {
	return &Manager{
		cfg:     cfg,
		section: section.New(),
		conns:   make(map[string]*connection),
		queue:   queue.New(cfg.MaxQueue),
		limiter: ratelimit.New(cfg.RatePeriod, cfg.RateNumber, nil),
		broker:  b,
		gateway: gw,
		now:     time.Now,
	}
}

// Start binds the broker and runs its listener and the inactivity sweep
// until Stop is called.
func (m *Manager) Start(ctx context.Context) error {
	if m.group != nil {
		return errors.New("chat manager already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := m.broker.Start(runCtx, m.handleBrokerPayload, m.handleClaim); err != nil {
		cancel()
		return fmt.Errorf("failed to start broker: %w", err)
	}

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return m.broker.Listen(gctx) })
	g.Go(func() error { return m.runSweep(gctx) })

	m.cancel = cancel
	m.group = g

	l := log.L()
	l.Info().
		Int("max_connections", m.cfg.MaxConnections).
		Dur("inactivity_max", m.cfg.InactivityMax).
		Msg("chat manager started")
	return nil
}

// Stop cancels the background tasks, closes every remaining connection with
// going-away and closes the broker.
func (m *Manager) Stop(ctx context.Context) error {
	l := log.L()

	if m.cancel != nil {
		m.cancel()
		if err := m.group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			l.Error().Err(err).Msg("chat background task failed")
		}
	}

	sctx, release := m.section.Enter(ctx)
	for userID, c := range m.conns {
		m.removeLocked(sctx, userID, c, domain.CloseGoingAway, domain.ReasonShutdown)
	}
	release()

	if err := m.broker.Close(); err != nil {
		return fmt.Errorf("failed to close broker: %w", err)
	}
	l.Info().Msg("chat manager stopped")
	return nil
}
