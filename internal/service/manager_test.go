package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weiawesome/wes-match-chat/internal/broker"
	"github.com/weiawesome/wes-match-chat/internal/domain"
	"github.com/weiawesome/wes-match-chat/pkg/pubsub"
)

func createContent(receiver uuid.UUID, text string, clientID uuid.UUID) map[string]any {
	return map[string]any{
		"receiver_id": receiver.String(),
		"text":        text,
		"client_id":   clientID.String(),
	}
}

func pingContent() map[string]any {
	return map[string]any{"ping_timestamp": nil}
}

func TestCreateMessageLocal(t *testing.T) {
	gw := newFakeGateway()
	m := newTestManager(t, testConfig(), nil, gw)

	alice, bob := uuid.New(), uuid.New()
	gw.connect(alice, bob)
	gw.names[alice] = "alice"

	a := connectUser(t, m, alice)
	b := connectUser(t, m, bob)

	clientID := uuid.New()
	a.conn.push(t, "create", createContent(bob, "hello bob", clientID))

	got := b.conn.next(t)
	require.Equal(t, domain.PayloadNew, got.Type)
	msg, ok := got.Content.(*domain.MessageRead)
	require.True(t, ok)
	assert.Equal(t, alice, msg.SenderID)
	assert.Equal(t, bob, msg.ReceiverID)
	assert.Equal(t, "hello bob", msg.Text)
	require.NotNil(t, msg.SenderName)
	assert.Equal(t, "alice", *msg.SenderName)
	assert.Nil(t, msg.ReceiverName)

	ack := a.conn.next(t)
	require.Equal(t, domain.PayloadSent, ack.Type)
	sent, ok := ack.Content.(*domain.MessageSent)
	require.True(t, ok)
	assert.Equal(t, bob, sent.ReceiverID)
	assert.Equal(t, clientID, sent.ClientID)
	assert.True(t, sent.CreatedAt.Equal(msg.CreatedAt))
	assert.Equal(t, got.Timestamp, ack.Timestamp)

	a.conn.quiet(t)
	b.conn.quiet(t)
	assert.Equal(t, 1, gw.stored())

	// delivery to a connected receiver counts as read
	require.Equal(t, 1, gw.markCount())
	mark := gw.lastMark()
	require.NotNil(t, mark.sender)
	assert.Equal(t, alice, *mark.sender)
	assert.Equal(t, bob, mark.receiver)
	assert.True(t, mark.upTo.Equal(msg.CreatedAt))
}

func TestCreateMessageAcrossProcesses(t *testing.T) {
	gw := newFakeGateway()
	bus := pubsub.NewMemoryBus()
	m1 := newTestManager(t, testConfig(), bus, gw)
	m2 := newTestManager(t, testConfig(), bus, gw)

	alice, bob := uuid.New(), uuid.New()
	gw.connect(alice, bob)

	a := connectUser(t, m1, alice)
	b := connectUser(t, m2, bob)

	a.conn.push(t, "create", createContent(bob, "over the wire", uuid.New()))

	assert.Equal(t, domain.PayloadSent, a.conn.next(t).Type)
	got := b.conn.next(t)
	require.Equal(t, domain.PayloadNew, got.Type)
	assert.Equal(t, "over the wire", got.Content.(*domain.MessageRead).Text)

	assert.False(t, m1.IsLocal(context.Background(), bob.String()))
	assert.Equal(t, 1, gw.stored())
	require.Eventually(t, func() bool { return gw.markCount() == 1 }, time.Second, 5*time.Millisecond)
}

func TestPingEchoesTimestamp(t *testing.T) {
	m := newTestManager(t, testConfig(), nil, newFakeGateway())
	s := connectUser(t, m, uuid.New())

	ts := s.conn.push(t, "ping", pingContent())

	got := s.conn.next(t)
	require.Equal(t, domain.PayloadPong, got.Type)
	pong := got.Content.(*domain.PingPong)
	require.NotNil(t, pong.PingTimestamp)
	assert.Equal(t, ts, *pong.PingTimestamp)

	// pongs from the client are not answered
	s.conn.push(t, "pong", pingContent())
	s.conn.quiet(t)
}

func TestReadPayloadIsUnexpected(t *testing.T) {
	gw := newFakeGateway()
	m := newTestManager(t, testConfig(), nil, gw)

	alice, bob := uuid.New(), uuid.New()
	s := connectUser(t, m, bob)

	s.conn.push(t, "read", map[string]any{"id": alice.String()})

	got := s.conn.next(t)
	require.Equal(t, domain.PayloadError, got.Type)
	assert.Equal(t, domain.ReasonUnexpectedPayload, got.Content.(*domain.MessageError).Error)
	assert.Zero(t, gw.markCount())
	assert.True(t, m.IsLocal(context.Background(), bob.String()))
}

func TestGatewayErrorKeepsConnection(t *testing.T) {
	gw := newFakeGateway()
	m := newTestManager(t, testConfig(), nil, gw)

	alice, stranger := uuid.New(), uuid.New()
	s := connectUser(t, m, alice)

	s.conn.push(t, "create", createContent(stranger, "hi", uuid.New()))

	got := s.conn.next(t)
	require.Equal(t, domain.PayloadError, got.Type)
	assert.Contains(t, got.Content.(*domain.MessageError).Error, "Contact not found")
	assert.Zero(t, gw.stored())

	s.conn.push(t, "ping", pingContent())
	assert.Equal(t, domain.PayloadPong, s.conn.next(t).Type)
	assert.True(t, m.IsLocal(context.Background(), alice.String()))
}

func TestUnknownErrorEndsSession(t *testing.T) {
	gw := newFakeGateway()
	m := newTestManager(t, testConfig(), nil, gw)

	alice, bob := uuid.New(), uuid.New()
	gw.connect(alice, bob)
	gw.setCreateErr(errors.New("database unreachable"))

	s := connectUser(t, m, alice)
	s.conn.push(t, "create", createContent(bob, "hi", uuid.New()))

	code, reason := s.conn.waitClosed(t)
	assert.Equal(t, domain.CloseInternalError, code)
	assert.Equal(t, domain.ReasonUnexpectedError, reason)

	result, err := s.wait(t)
	assert.Equal(t, domain.ReasonInternalError, result)
	assert.ErrorContains(t, err, "database unreachable")
	assert.Zero(t, m.Count())
}

func TestUnexpectedPayloadType(t *testing.T) {
	m := newTestManager(t, testConfig(), nil, newFakeGateway())
	s := connectUser(t, m, uuid.New())

	s.conn.push(t, "error", map[string]any{"error": "clients do not send these"})

	got := s.conn.next(t)
	require.Equal(t, domain.PayloadError, got.Type)
	assert.Equal(t, domain.ReasonUnexpectedPayload, got.Content.(*domain.MessageError).Error)
}

func TestMalformedFrameIsDropped(t *testing.T) {
	m := newTestManager(t, testConfig(), nil, newFakeGateway())
	s := connectUser(t, m, uuid.New())

	s.conn.in <- []byte("not json")
	s.conn.push(t, "create", map[string]any{"text": ""})
	s.conn.push(t, "ping", pingContent())

	assert.Equal(t, domain.PayloadPong, s.conn.next(t).Type)
	s.conn.quiet(t)
}

func TestRateLimitClosesConnection(t *testing.T) {
	cfg := testConfig()
	cfg.RateNumber = 3
	m := newTestManager(t, cfg, nil, newFakeGateway())

	userID := uuid.New()
	s := connectUser(t, m, userID)

	for i := 0; i < cfg.RateNumber; i++ {
		s.conn.push(t, "ping", pingContent())
		assert.Equal(t, domain.PayloadPong, s.conn.next(t).Type)
	}
	s.conn.push(t, "ping", pingContent())

	code, reason := s.conn.waitClosed(t)
	assert.Equal(t, domain.ClosePolicyViolation, code)
	assert.Equal(t, domain.ReasonRateLimited, reason)

	result, err := s.wait(t)
	require.NoError(t, err)
	assert.Equal(t, domain.ReasonRateLimited, result)
	assert.False(t, m.IsLocal(context.Background(), userID.String()))
}

func TestRateWindowSurvivesReconnect(t *testing.T) {
	cfg := testConfig()
	cfg.RateNumber = 3
	m := newTestManager(t, cfg, nil, newFakeGateway())
	userID := uuid.New()

	s := connectUser(t, m, userID)
	for i := 0; i < cfg.RateNumber; i++ {
		s.conn.push(t, "ping", pingContent())
		assert.Equal(t, domain.PayloadPong, s.conn.next(t).Type)
	}
	s.conn.leave()
	_, err := s.wait(t)
	require.NoError(t, err)

	s = connectUser(t, m, userID)
	s.conn.push(t, "ping", pingContent())

	code, reason := s.conn.waitClosed(t)
	assert.Equal(t, domain.ClosePolicyViolation, code)
	assert.Equal(t, domain.ReasonRateLimited, reason)

	// the sweep keeps windows that are still live
	m.SweepInactive(context.Background())
	assert.Equal(t, 1, m.limiter.Tracked())
}

func TestExpiredTokenClosesConnection(t *testing.T) {
	m := newTestManager(t, testConfig(), nil, newFakeGateway())
	s := connectUntil(t, m, uuid.New(), time.Now().Add(-time.Second))

	s.conn.push(t, "ping", pingContent())

	code, reason := s.conn.waitClosed(t)
	assert.Equal(t, domain.ClosePolicyViolation, code)
	assert.Equal(t, domain.ReasonTokenExpired, reason)

	result, err := s.wait(t)
	require.NoError(t, err)
	assert.Equal(t, domain.ReasonTokenExpired, result)
	s.conn.quiet(t)
}

func TestCapacityRejectsBeforeUpgrade(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConnections = 1
	m := newTestManager(t, cfg, nil, newFakeGateway())

	alice := uuid.New()
	connectUser(t, m, alice)

	upgraded := false
	result, err := m.Run(context.Background(), uuid.NewString(), time.Time{}, func() (Conn, error) {
		upgraded = true
		return newFakeConn(), nil
	})
	assert.ErrorIs(t, err, ErrCapacityExceeded)
	assert.Equal(t, ResultRejected, result)
	assert.False(t, upgraded)
	assert.Equal(t, 1, m.Count())

	// a connected user may still reconnect at capacity
	connectUser(t, m, alice)
	assert.Equal(t, 1, m.Count())
}

func TestSecondConnectionReplacesFirst(t *testing.T) {
	m := newTestManager(t, testConfig(), nil, newFakeGateway())
	userID := uuid.New()

	first := connectUser(t, m, userID)
	second := connectUser(t, m, userID)

	code, reason := first.conn.waitClosed(t)
	assert.Equal(t, domain.CloseNormal, code)
	assert.Equal(t, domain.ReasonReplaced, reason)

	result, err := first.wait(t)
	require.NoError(t, err)
	assert.Equal(t, ResultClosed, result)

	assert.Equal(t, 1, m.Count())
	second.conn.push(t, "ping", pingContent())
	assert.Equal(t, domain.PayloadPong, second.conn.next(t).Type)
}

func TestConnectElsewhereReplacesSession(t *testing.T) {
	bus := pubsub.NewMemoryBus()
	m1 := newTestManager(t, testConfig(), bus, newFakeGateway())
	m2 := newTestManager(t, testConfig(), bus, newFakeGateway())
	userID := uuid.New()

	first := connectUser(t, m1, userID)
	second := connectUser(t, m2, userID)

	code, reason := first.conn.waitClosed(t)
	assert.Equal(t, domain.CloseNormal, code)
	assert.Equal(t, domain.ReasonReplaced, reason)

	result, err := first.wait(t)
	require.NoError(t, err)
	assert.Equal(t, ResultClosed, result)

	assert.False(t, m1.IsLocal(context.Background(), userID.String()))
	assert.True(t, m2.IsLocal(context.Background(), userID.String()))
	second.conn.push(t, "ping", pingContent())
	assert.Equal(t, domain.PayloadPong, second.conn.next(t).Type)
}

func TestClientCloseUnregisters(t *testing.T) {
	m := newTestManager(t, testConfig(), nil, newFakeGateway())
	userID := uuid.New()
	s := connectUser(t, m, userID)

	s.conn.leave()

	result, err := s.wait(t)
	require.NoError(t, err)
	assert.Equal(t, domain.ReasonNormalClosure, result)
	assert.False(t, m.IsLocal(context.Background(), userID.String()))
	assert.ErrorIs(t, m.Remove(context.Background(), userID.String(), domain.CloseNormal, ""), ErrNotConnected)
}

func TestOfflineQueueWhenPublishFails(t *testing.T) {
	b := failingBroker{broker.New(pubsub.NewMemoryPubSub(nil))}
	m := newTestManagerWithBroker(t, testConfig(), b, newFakeGateway())
	ctx := context.Background()
	userID := uuid.New()

	require.NoError(t, m.Deliver(ctx, userID.String(), domain.NewErrorPayload("first")))
	require.NoError(t, m.Deliver(ctx, userID.String(), domain.NewPayload(domain.PayloadPing, &domain.PingPong{})))
	require.NoError(t, m.Deliver(ctx, userID.String(), domain.NewErrorPayload("second")))
	assert.Equal(t, 2, m.queue.Len(userID.String()))

	s := connectUser(t, m, userID)
	assert.Equal(t, "first", s.conn.next(t).Content.(*domain.MessageError).Error)
	assert.Equal(t, "second", s.conn.next(t).Content.(*domain.MessageError).Error)
	s.conn.quiet(t)
	assert.Zero(t, m.queue.Len(userID.String()))
}

func TestOfflineQueueBounded(t *testing.T) {
	cfg := testConfig()
	cfg.MaxQueue = 2
	b := failingBroker{broker.New(pubsub.NewMemoryPubSub(nil))}
	m := newTestManagerWithBroker(t, cfg, b, newFakeGateway())
	ctx := context.Background()
	userID := uuid.NewString()

	for _, text := range []string{"one", "two", "three"} {
		require.NoError(t, m.Deliver(ctx, userID, domain.NewErrorPayload(text)))
	}
	assert.Equal(t, 2, m.queue.Len(userID))
}

func TestDeliverRejectsInvalidPayload(t *testing.T) {
	m := newTestManager(t, testConfig(), nil, newFakeGateway())

	err := m.Deliver(context.Background(), uuid.NewString(), domain.NewPayload(domain.PayloadPing, &domain.TargetUser{ID: uuid.New()}))
	var verr *domain.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestConnectBackfillsUnread(t *testing.T) {
	gw := newFakeGateway()
	m := newTestManager(t, testConfig(), nil, gw)
	ctx := context.Background()

	alice, bob := uuid.New(), uuid.New()
	gw.connect(alice, bob)
	for _, text := range []string{"are you there", "hello?"} {
		_, err := gw.CreateMessage(ctx, alice, bob, text)
		require.NoError(t, err)
	}

	s := connectUser(t, m, bob)
	assert.Equal(t, "are you there", s.conn.next(t).Content.(*domain.MessageRead).Text)
	assert.Equal(t, "hello?", s.conn.next(t).Content.(*domain.MessageRead).Text)

	unread, err := gw.ListUnread(ctx, bob, 0)
	require.NoError(t, err)
	assert.Empty(t, unread)
}

func TestSweepInactive(t *testing.T) {
	clock := &testClock{}
	m := NewManager(testConfig(), broker.New(pubsub.NewMemoryPubSub(nil)), newFakeGateway())
	m.now = clock.Now
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(func() { m.Stop(context.Background()) })

	idle, active := uuid.New(), uuid.New()
	i := connectUser(t, m, idle)
	a := connectUser(t, m, active)

	clock.Advance(4 * time.Minute)
	a.conn.push(t, "ping", pingContent())
	a.conn.next(t)
	clock.Advance(2 * time.Minute)

	assert.Equal(t, 1, m.SweepInactive(context.Background()))

	code, reason := i.conn.waitClosed(t)
	assert.Equal(t, domain.CloseNormal, code)
	assert.Equal(t, domain.ReasonInactive, reason)
	result, err := i.wait(t)
	require.NoError(t, err)
	assert.Equal(t, ResultClosed, result)

	assert.True(t, m.IsLocal(context.Background(), active.String()))
	assert.Zero(t, m.SweepInactive(context.Background()))
}

func TestStopClosesConnections(t *testing.T) {
	m := NewManager(testConfig(), broker.New(pubsub.NewMemoryPubSub(nil)), newFakeGateway())
	require.NoError(t, m.Start(context.Background()))
	assert.Error(t, m.Start(context.Background()))

	s := connectUser(t, m, uuid.New())

	require.NoError(t, m.Stop(context.Background()))

	code, reason := s.conn.waitClosed(t)
	assert.Equal(t, domain.CloseGoingAway, code)
	assert.Equal(t, domain.ReasonShutdown, reason)
	result, err := s.wait(t)
	require.NoError(t, err)
	assert.Equal(t, ResultClosed, result)
	assert.Zero(t, m.Count())
}
