package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeConn is an in-memory stand-in for the client connection.
type fakeConn struct {
	mu        sync.Mutex
	state     ConnectionState
	feed      *statusFeed
	subs      map[string]*Subscription
	published []publishedEvent
}

type publishedEvent struct {
	Destination string
	Event       Event
}

func newFakeConn(state ConnectionState) *fakeConn {
	return &fakeConn{
		state: state,
		feed:  newStatusFeed(),
		subs:  make(map[string]*Subscription),
	}
}

func (f *fakeConn) Subscribe(_ context.Context, topic string) (*Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub := &Subscription{ID: topic, Topic: topic, events: make(chan Event, 32)}
	f.subs[topic] = sub
	return sub, nil
}

func (f *fakeConn) Unsubscribe(_ context.Context, topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if sub, ok := f.subs[topic]; ok && !sub.closed {
		sub.closed = true
		close(sub.events)
	}
	delete(f.subs, topic)
	return nil
}

func (f *fakeConn) Publish(_ context.Context, destination string, ev Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != StateConnected {
		return ErrNotConnected
	}
	f.published = append(f.published, publishedEvent{Destination: destination, Event: ev})
	return nil
}

func (f *fakeConn) State() ConnectionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeConn) States() (<-chan StateEvent, func()) { return f.feed.subscribe() }

func (f *fakeConn) setState(st ConnectionState) {
	f.mu.Lock()
	old := f.state
	f.state = st
	f.mu.Unlock()
	f.feed.publish(StateEvent{Old: old, New: st})
}

// dropSubs simulates a transport disconnect invalidating every subscription.
func (f *fakeConn) dropSubs() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for topic, sub := range f.subs {
		if !sub.closed {
			sub.closed = true
			close(sub.events)
		}
		delete(f.subs, topic)
	}
}

func (f *fakeConn) deliver(topic string, ev Event) {
	f.mu.Lock()
	sub := f.subs[topic]
	f.mu.Unlock()
	if sub != nil {
		sub.events <- ev
	}
}

func (f *fakeConn) publishedTo(destination string) []Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Event
	for _, p := range f.published {
		if p.Destination == destination {
			out = append(out, p.Event)
		}
	}
	return out
}

// fakeHistory serves canned pages; rooms listed in blocks hold the fetch open
// until the channel is closed.
type fakeHistory struct {
	mu     sync.Mutex
	pages  map[int64][]Event
	err    error
	blocks map[int64]chan struct{}
}

func newFakeHistory() *fakeHistory {
	return &fakeHistory{
		pages:  make(map[int64][]Event),
		blocks: make(map[int64]chan struct{}),
	}
}

func (h *fakeHistory) History(_ context.Context, roomID int64, _, _ int) ([]Event, error) {
	h.mu.Lock()
	page := append([]Event(nil), h.pages[roomID]...)
	block := h.blocks[roomID]
	err := h.err
	h.mu.Unlock()
	if block != nil {
		<-block
	}
	return page, err
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.User = "me"
	cfg.UserID = 7
	cfg.JoinSettleDelay = 10 * time.Millisecond
	cfg.ReconnectInterval = 20 * time.Millisecond
	return cfg
}

func waitForState(t *testing.T, s *Session, want SessionState) {
	t.Helper()
	require.Eventually(t, func() bool { return s.State() == want },
		2*time.Second, 5*time.Millisecond, "session never reached %s", want)
}

func at(sec int) time.Time {
	return time.Date(2024, 3, 1, 12, 0, sec, 0, time.UTC)
}

func TestSessionHistoryReversedToChronological(t *testing.T) {
	conn := newFakeConn(StateConnected)
	hist := newFakeHistory()
	// Backend pages are newest first.
	hist.pages[1] = []Event{
		{ID: "3", SenderName: "alice", Content: "three", Kind: KindChat, Timestamp: at(3)},
		{ID: "2", SenderName: "alice", Content: "two", Kind: KindChat, Timestamp: at(2)},
		{ID: "1", SenderName: "alice", Content: "one", Kind: KindChat, Timestamp: at(1)},
	}
	s := NewSession(conn, hist, nil, testConfig())
	defer s.Close()

	require.NoError(t, s.Select(context.Background(), 1))
	waitForState(t, s, SessionLive)

	events := s.Events()
	require.Len(t, events, 3)
	require.Equal(t, []string{"one", "two", "three"}, []string{events[0].Content, events[1].Content, events[2].Content})
}

func TestSessionStaleHistoryDiscardedOnRoomSwitch(t *testing.T) {
	conn := newFakeConn(StateConnected)
	hist := newFakeHistory()
	release := make(chan struct{})
	hist.blocks[1] = release
	hist.pages[1] = []Event{{ID: "a1", RoomID: 1, SenderName: "alice", Content: "from room A", Kind: KindChat, Timestamp: at(1)}}
	hist.pages[2] = []Event{{ID: "b1", RoomID: 2, SenderName: "bob", Content: "from room B", Kind: KindChat, Timestamp: at(2)}}

	s := NewSession(conn, hist, nil, testConfig())
	defer s.Close()

	require.NoError(t, s.Select(context.Background(), 1))
	require.NoError(t, s.Select(context.Background(), 2))
	waitForState(t, s, SessionLive)

	// Room A's fetch completes after the switch; its page must not leak into
	// room B's history.
	close(release)
	time.Sleep(50 * time.Millisecond)

	events := s.Events()
	require.Len(t, events, 1)
	require.Equal(t, "from room B", events[0].Content)
	require.Equal(t, int64(2), s.Room())
}

func TestSessionHistoryFailureProceedsEmpty(t *testing.T) {
	conn := newFakeConn(StateConnected)
	hist := newFakeHistory()
	hist.err = errors.New("network down")

	s := NewSession(conn, hist, nil, testConfig())
	defer s.Close()

	require.NoError(t, s.Select(context.Background(), 1))
	waitForState(t, s, SessionLive)
	require.Empty(t, s.Events())
}

func TestSessionDuplicateDeliveryAppendedOnce(t *testing.T) {
	conn := newFakeConn(StateConnected)
	s := NewSession(conn, newFakeHistory(), nil, testConfig())
	defer s.Close()

	require.NoError(t, s.Select(context.Background(), 1))
	waitForState(t, s, SessionLive)

	ev := Event{ID: "m1", RoomID: 1, SenderName: "alice", Content: "hello", Kind: KindChat, Timestamp: at(1)}
	conn.deliver(TopicChat(1), ev)
	conn.deliver(TopicChat(1), ev)

	require.Eventually(t, func() bool { return len(s.Events()) == 1 },
		time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	require.Len(t, s.Events(), 1)
}

func TestSessionFallbackIdentityCollisionSuppresses(t *testing.T) {
	conn := newFakeConn(StateConnected)
	s := NewSession(conn, newFakeHistory(), nil, testConfig())
	defer s.Close()

	require.NoError(t, s.Select(context.Background(), 1))
	waitForState(t, s, SessionLive)

	// No server id, identical sender and content, same second: the second
	// event is dropped. Documented behavior of the synthetic identity.
	conn.deliver(TopicChat(1), Event{RoomID: 1, SenderName: "alice", Content: "hi", Kind: KindChat, Timestamp: at(1)})
	conn.deliver(TopicChat(1), Event{RoomID: 1, SenderName: "alice", Content: "hi", Kind: KindChat, Timestamp: at(1).Add(200 * time.Millisecond)})

	require.Eventually(t, func() bool { return len(s.Events()) == 1 },
		time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	require.Len(t, s.Events(), 1)
}

func TestSessionSelfJoinNeverRendered(t *testing.T) {
	conn := newFakeConn(StateConnected)
	s := NewSession(conn, newFakeHistory(), nil, testConfig())
	defer s.Close()

	require.NoError(t, s.Select(context.Background(), 1))
	waitForState(t, s, SessionLive)

	conn.deliver(TopicChat(1), Event{RoomID: 1, SenderName: "me", Content: "me joined", Kind: KindJoin, Timestamp: at(1)})
	conn.deliver(TopicChat(1), Event{RoomID: 1, SenderName: "alice", Content: "alice joined", Kind: KindJoin, Timestamp: at(2)})

	require.Eventually(t, func() bool { return len(s.Events()) == 1 },
		time.Second, 5*time.Millisecond)
	require.Equal(t, "alice joined", s.Events()[0].Content)
}

func TestSessionSendWhileNotLiveIsDropped(t *testing.T) {
	conn := newFakeConn(StateDisconnected)
	s := NewSession(conn, newFakeHistory(), nil, testConfig())
	defer s.Close()

	err := s.SendMessage(context.Background(), "hello")
	require.ErrorIs(t, err, ErrSendWhileDisconnected)
	require.Empty(t, s.Events())
	require.Empty(t, conn.publishedTo(DestSendMessage))
}

func TestSessionSendValidation(t *testing.T) {
	conn := newFakeConn(StateConnected)
	s := NewSession(conn, newFakeHistory(), nil, testConfig())
	defer s.Close()

	require.NoError(t, s.Select(context.Background(), 1))
	waitForState(t, s, SessionLive)

	require.Error(t, s.SendMessage(context.Background(), "   "))
	require.Empty(t, s.Events())

	require.NoError(t, s.SendMessage(context.Background(), "  trimmed  "))
	require.Len(t, s.Events(), 1)
	require.Equal(t, "trimmed", s.Events()[0].Content)
}

func TestSessionBrokerEchoSuppressed(t *testing.T) {
	conn := newFakeConn(StateConnected)
	s := NewSession(conn, newFakeHistory(), nil, testConfig())
	defer s.Close()

	require.NoError(t, s.Select(context.Background(), 1))
	waitForState(t, s, SessionLive)

	require.NoError(t, s.SendMessage(context.Background(), "ping"))
	require.Len(t, s.Events(), 1)

	// The broker echoes the published event back on the subscribed topic. Its
	// identity was recorded before transmission, so it is not rendered twice.
	sent := conn.publishedTo(DestSendMessage)
	require.Len(t, sent, 1)
	conn.deliver(TopicChat(1), sent[0])

	time.Sleep(50 * time.Millisecond)
	require.Len(t, s.Events(), 1)
}

func TestSessionAnnouncesJoinAfterSettle(t *testing.T) {
	conn := newFakeConn(StateConnected)
	s := NewSession(conn, newFakeHistory(), nil, testConfig())
	defer s.Close()

	require.NoError(t, s.Select(context.Background(), 1))
	waitForState(t, s, SessionLive)

	require.Eventually(t, func() bool { return len(conn.publishedTo(DestAddUser)) == 1 },
		time.Second, 5*time.Millisecond)

	joins := conn.publishedTo(DestAddUser)
	require.Equal(t, KindJoin, joins[0].Kind)
	require.Equal(t, "me", joins[0].SenderName)
	require.Equal(t, int64(1), joins[0].RoomID)
}

func TestSessionReconnectResubscribes(t *testing.T) {
	conn := newFakeConn(StateConnected)
	s := NewSession(conn, newFakeHistory(), nil, testConfig())
	defer s.Close()

	require.NoError(t, s.Select(context.Background(), 1))
	waitForState(t, s, SessionLive)

	// Transport drops: subscriptions are invalidated and the session reports
	// disconnected.
	conn.setState(StateReconnecting)
	conn.dropSubs()
	waitForState(t, s, SessionDisconnected)

	// Reconnect: the session re-subscribes on its own and goes live again.
	conn.setState(StateConnected)
	waitForState(t, s, SessionLive)

	conn.deliver(TopicChat(1), Event{ID: "post", RoomID: 1, SenderName: "alice", Content: "back", Kind: KindChat, Timestamp: at(5)})
	require.Eventually(t, func() bool { return len(s.Events()) == 1 },
		time.Second, 5*time.Millisecond)
}

func TestSessionCrossRoomEventDropped(t *testing.T) {
	conn := newFakeConn(StateConnected)
	s := NewSession(conn, newFakeHistory(), nil, testConfig())
	defer s.Close()

	require.NoError(t, s.Select(context.Background(), 1))
	waitForState(t, s, SessionLive)

	conn.deliver(TopicChat(1), Event{ID: "x", RoomID: 99, SenderName: "alice", Content: "wrong room", Kind: KindChat, Timestamp: at(1)})
	time.Sleep(30 * time.Millisecond)
	require.Empty(t, s.Events())
}

func TestSessionTypingEventsNotAppended(t *testing.T) {
	conn := newFakeConn(StateConnected)
	s := NewSession(conn, newFakeHistory(), nil, testConfig())
	defer s.Close()

	var typingMu sync.Mutex
	var typing []string
	s.OnTyping(func(ev Event) {
		typingMu.Lock()
		typing = append(typing, ev.SenderName)
		typingMu.Unlock()
	})

	require.NoError(t, s.Select(context.Background(), 1))
	waitForState(t, s, SessionLive)

	conn.deliver(TopicTyping(1), Event{RoomID: 1, SenderName: "alice", Kind: KindTyping, Timestamp: at(1)})
	require.Eventually(t, func() bool {
		typingMu.Lock()
		defer typingMu.Unlock()
		return len(typing) == 1
	}, time.Second, 5*time.Millisecond)
	require.Empty(t, s.Events())
}

func TestSessionSendTypingThrottled(t *testing.T) {
	conn := newFakeConn(StateConnected)
	cfg := testConfig()
	cfg.TypingInterval = time.Hour
	s := NewSession(conn, newFakeHistory(), nil, cfg)
	defer s.Close()

	require.NoError(t, s.Select(context.Background(), 1))
	waitForState(t, s, SessionLive)

	require.NoError(t, s.SendTyping(context.Background()))
	require.NoError(t, s.SendTyping(context.Background()))
	require.Len(t, conn.publishedTo(DestTyping), 1)
}

func TestSessionSharedLedgerAcrossSessions(t *testing.T) {
	conn := newFakeConn(StateConnected)
	ledger := NewLedger(200)
	cfg := testConfig()

	s1 := NewSession(conn, newFakeHistory(), ledger, cfg)
	require.NoError(t, s1.Select(context.Background(), 1))
	waitForState(t, s1, SessionLive)
	conn.deliver(TopicChat(1), Event{ID: "shared", RoomID: 1, SenderName: "alice", Content: "hi", Kind: KindChat, Timestamp: at(1)})
	require.Eventually(t, func() bool { return len(s1.Events()) == 1 }, time.Second, 5*time.Millisecond)
	s1.Close()

	// A later session sharing the ledger suppresses a redelivery of the same
	// identity.
	s2 := NewSession(conn, newFakeHistory(), ledger, cfg)
	defer s2.Close()
	require.NoError(t, s2.Select(context.Background(), 1))
	waitForState(t, s2, SessionLive)
	conn.deliver(TopicChat(1), Event{ID: "shared", RoomID: 1, SenderName: "alice", Content: "hi", Kind: KindChat, Timestamp: at(1)})
	time.Sleep(30 * time.Millisecond)
	require.Empty(t, s2.Events())
}
