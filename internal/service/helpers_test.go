package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/weiawesome/wes-match-chat/internal/broker"
	"github.com/weiawesome/wes-match-chat/internal/config"
	"github.com/weiawesome/wes-match-chat/internal/domain"
	"github.com/weiawesome/wes-match-chat/internal/gateway"
	"github.com/weiawesome/wes-match-chat/pkg/pubsub"
)

// fakeConn is an in-memory Conn. The test plays the client through push and
// next.
type fakeConn struct {
	in     chan []byte
	out    chan []byte
	closed chan struct{}
	gone   chan struct{}

	closeOnce sync.Once
	leaveOnce sync.Once

	mu          sync.Mutex
	closeCode   int
	closeReason string
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 64),
		out:    make(chan []byte, 64),
		closed: make(chan struct{}),
		gone:   make(chan struct{}),
	}
}

func (c *fakeConn) Receive() ([]byte, error) {
	select {
	case data := <-c.in:
		return data, nil
	case <-c.gone:
		return nil, fmt.Errorf("%w: 1000", domain.ErrConnectionClosed)
	case <-c.closed:
		return nil, net.ErrClosed
	}
}

func (c *fakeConn) Send(data []byte) error {
	select {
	case <-c.closed:
		return net.ErrClosed
	default:
	}
	select {
	case c.out <- data:
		return nil
	default:
		return fmt.Errorf("send buffer full")
	}
}

func (c *fakeConn) Close(code int, reason string) error {
	err := net.ErrClosed
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closeCode, c.closeReason = code, reason
		c.mu.Unlock()
		close(c.closed)
		err = nil
	})
	return err
}

// push sends a frame from the client and returns its timestamp.
func (c *fakeConn) push(t *testing.T, payloadType string, content any) string {
	t.Helper()
	ts := domain.NowTimestamp()
	data, err := json.Marshal(map[string]any{
		"payload_type":    payloadType,
		"related_content": content,
		"timestamp":       ts,
	})
	require.NoError(t, err)
	c.in <- data
	return ts
}

// leave simulates the client closing the connection.
func (c *fakeConn) leave() {
	c.leaveOnce.Do(func() { close(c.gone) })
}

// next waits for the next frame sent to the client.
func (c *fakeConn) next(t *testing.T) *domain.Payload {
	t.Helper()
	select {
	case data := <-c.out:
		p, err := domain.DecodePayload(data)
		require.NoError(t, err)
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("no payload received")
		return nil
	}
}

// quiet asserts nothing else is sent for a short while.
func (c *fakeConn) quiet(t *testing.T) {
	t.Helper()
	select {
	case data := <-c.out:
		t.Fatalf("unexpected payload %s", data)
	case <-time.After(50 * time.Millisecond):
	}
}

// waitClosed waits for the server to close the connection and returns the
// close code and reason.
func (c *fakeConn) waitClosed(t *testing.T) (int, string) {
	t.Helper()
	select {
	case <-c.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("connection not closed")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCode, c.closeReason
}

type markCall struct {
	sender   *uuid.UUID
	receiver uuid.UUID
	upTo     time.Time
}

// fakeGateway keeps messages in memory.
type fakeGateway struct {
	mu        sync.Mutex
	contacts  map[[2]uuid.UUID]bool
	names     map[uuid.UUID]string
	messages  []*domain.Message
	marks     []markCall
	createErr error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		contacts: make(map[[2]uuid.UUID]bool),
		names:    make(map[uuid.UUID]string),
	}
}

func (g *fakeGateway) connect(a, b uuid.UUID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.contacts[[2]uuid.UUID{a, b}] = true
	g.contacts[[2]uuid.UUID{b, a}] = true
}

func (g *fakeGateway) CreateMessage(ctx context.Context, senderID, receiverID uuid.UUID, text string) (*domain.Message, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.createErr != nil {
		return nil, g.createErr
	}
	if !g.contacts[[2]uuid.UUID{senderID, receiverID}] {
		return nil, gateway.NotFound("Contact not found for my_user_id=%s, other_user_id=%s", senderID, receiverID)
	}
	msg := &domain.Message{
		ID:         uint64(len(g.messages) + 1),
		SenderID:   senderID,
		ReceiverID: receiverID,
		Text:       text,
		CreatedAt:  time.Now().UTC().Truncate(time.Microsecond),
	}
	g.messages = append(g.messages, msg)
	return msg, nil
}

func (g *fakeGateway) view(m *domain.Message) *domain.MessageRead {
	var senderName, receiverName *string
	if n, ok := g.names[m.SenderID]; ok {
		senderName = &n
	}
	if n, ok := g.names[m.ReceiverID]; ok {
		receiverName = &n
	}
	return &domain.MessageRead{
		SenderID:     m.SenderID,
		SenderName:   senderName,
		ReceiverID:   m.ReceiverID,
		ReceiverName: receiverName,
		Text:         m.Text,
		CreatedAt:    m.CreatedAt,
		Time:         domain.ClockTime(m.CreatedAt),
	}
}

func (g *fakeGateway) ReadLastMessage(ctx context.Context, senderID, receiverID uuid.UUID) (*domain.MessageRead, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for i := len(g.messages) - 1; i >= 0; i-- {
		m := g.messages[i]
		if m.SenderID == senderID && m.ReceiverID == receiverID {
			return g.view(m), nil
		}
	}
	return nil, nil
}

func (g *fakeGateway) MarkAsRead(ctx context.Context, senderID *uuid.UUID, receiverID uuid.UUID, upTo time.Time) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.marks = append(g.marks, markCall{sender: senderID, receiver: receiverID, upTo: upTo})
	for _, m := range g.messages {
		if m.ReceiverID == receiverID && !m.CreatedAt.After(upTo) && (senderID == nil || m.SenderID == *senderID) {
			m.IsRead = true
		}
	}
	return nil
}

func (g *fakeGateway) ListUnread(ctx context.Context, receiverID uuid.UUID, limit int) ([]*domain.MessageRead, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	var out []*domain.MessageRead
	for _, m := range g.messages {
		if m.ReceiverID == receiverID && !m.IsRead {
			out = append(out, g.view(m))
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (g *fakeGateway) stored() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.messages)
}

func (g *fakeGateway) markCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.marks)
}

func (g *fakeGateway) lastMark() markCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.marks[len(g.marks)-1]
}

func (g *fakeGateway) setCreateErr(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.createErr = err
}

// testClock is a settable time source.
type testClock struct {
	offset atomic.Int64
}

func (c *testClock) Now() time.Time {
	return time.Now().Add(time.Duration(c.offset.Load()))
}

func (c *testClock) Advance(d time.Duration) {
	c.offset.Add(int64(d))
}

// failingBroker cannot publish.
type failingBroker struct {
	*broker.Bridge
}

func (failingBroker) Publish(ctx context.Context, userID string, payload []byte) error {
	return fmt.Errorf("broker unavailable")
}

func testConfig() config.ChatConfig {
	return config.ChatConfig{
		MaxConnections:     10,
		MaxQueue:           20,
		RateNumber:         100,
		RatePeriod:         time.Minute,
		InactivityMax:      5 * time.Minute,
		CloseInactiveEvery: time.Hour,
		UnreadBackfill:     20,
	}
}

// newTestManager starts a manager on bus. A nil bus gets a private one.
func newTestManager(t *testing.T, cfg config.ChatConfig, bus *pubsub.MemoryBus, gw gateway.MessageGateway) *Manager {
	t.Helper()
	return newTestManagerWithBroker(t, cfg, broker.New(pubsub.NewMemoryPubSub(bus)), gw)
}

func newTestManagerWithBroker(t *testing.T, cfg config.ChatConfig, b Broker, gw gateway.MessageGateway) *Manager {
	t.Helper()

	m := NewManager(cfg, b, gw)
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(func() { m.Stop(context.Background()) })
	return m
}

type session struct {
	conn   *fakeConn
	result chan string
	err    chan error
}

// connectUser runs a session for userID and waits until it is registered.
func connectUser(t *testing.T, m *Manager, userID uuid.UUID) *session {
	t.Helper()
	return connectUntil(t, m, userID, time.Time{})
}

func connectUntil(t *testing.T, m *Manager, userID uuid.UUID, expiresAt time.Time) *session {
	t.Helper()

	s := &session{conn: newFakeConn(), result: make(chan string, 1), err: make(chan error, 1)}
	registered := make(chan struct{})
	go func() {
		result, err := m.Run(context.Background(), userID.String(), expiresAt, func() (Conn, error) {
			defer close(registered)
			return s.conn, nil
		})
		s.result <- result
		s.err <- err
	}()

	select {
	case <-registered:
	case <-time.After(2 * time.Second):
		t.Fatal("session not registered")
	}
	require.Eventually(t, func() bool { return m.IsLocal(context.Background(), userID.String()) }, time.Second, 5*time.Millisecond)
	return s
}

func (s *session) wait(t *testing.T) (string, error) {
	t.Helper()
	select {
	case result := <-s.result:
		return result, <-s.err
	case <-time.After(2 * time.Second):
		t.Fatal("session did not end")
		return "", nil
	}
}
