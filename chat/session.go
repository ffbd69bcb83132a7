package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// HistoryLoader fetches one page of past messages for a room, newest first.
// Fetch failures are treated by the session as an empty page, never as fatal.
type HistoryLoader interface {
	History(ctx context.Context, roomID int64, page, size int) ([]Event, error)
}

// Connection is the slice of Client the session depends on. The session does
// not own the connection; its lifetime spans rooms.
type Connection interface {
	Subscribe(ctx context.Context, topic string) (*Subscription, error)
	Unsubscribe(ctx context.Context, topic string) error
	Publish(ctx context.Context, destination string, ev Event) error
	State() ConnectionState
	States() (<-chan StateEvent, func())
}

// Session coordinates join, history backfill, live subscription, send and
// leave for a single chat room. Only one room is active at a time: selecting
// a new room tears down the previous topic synchronously before the new one
// is requested, so two rooms' handlers are never concurrently live.
type Session struct {
	conn     Connection
	history  HistoryLoader
	ledger   *Ledger
	typing   *rate.Limiter
	cfg      Config
	user     string
	userID   int64
	resolver IdentityResolver

	mu         sync.Mutex
	logger     Logger
	state      SessionState
	roomID     int64
	events     []Event
	sub        *Subscription
	epoch      int
	cancelRoom context.CancelFunc
	onEvent    func(Event)
	onTyping   func(Event)
	onState    func(SessionState)
}

// NewSession creates a session bound to a shared connection and history
// loader. Pass a shared Ledger to dedup across sessions, or nil to create one
// from cfg.LedgerCapacity.
func NewSession(conn Connection, history HistoryLoader, ledger *Ledger, cfg Config) *Session {
	if ledger == nil {
		ledger = NewLedger(cfg.LedgerCapacity)
	}
	return &Session{
		conn:     conn,
		history:  history,
		ledger:   ledger,
		typing:   rate.NewLimiter(rate.Every(cfg.TypingInterval), 1),
		cfg:      cfg,
		user:     cfg.User,
		userID:   cfg.UserID,
		resolver: IdentityResolverFunc(DefaultIdentity),
		logger:   noopLogger{},
		state:    SessionIdle,
	}
}

// SetLogger overrides the logger (optional).
func (s *Session) SetLogger(l Logger) {
	if l == nil {
		return
	}
	s.mu.Lock()
	s.logger = l
	s.mu.Unlock()
}

// SetIdentityResolver replaces the dedup identity strategy. Must be called
// before Select.
func (s *Session) SetIdentityResolver(r IdentityResolver) {
	if r == nil {
		return
	}
	s.resolver = r
}

// OnEvent registers a callback fired for every event appended to history.
func (s *Session) OnEvent(fn func(Event)) {
	s.mu.Lock()
	s.onEvent = fn
	s.mu.Unlock()
}

// OnTyping registers a callback for typing indicators. Typing events are
// never appended to history. Registering also makes the session subscribe to
// the room's typing topic when it goes live.
func (s *Session) OnTyping(fn func(Event)) {
	s.mu.Lock()
	s.onTyping = fn
	s.mu.Unlock()
}

// OnStateChange registers a callback for session state transitions.
func (s *Session) OnStateChange(fn func(SessionState)) {
	s.mu.Lock()
	s.onState = fn
	s.mu.Unlock()
}

// State returns the current session state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Room returns the currently selected room id, 0 when none.
func (s *Session) Room() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomID
}

// Events returns a copy of the room history, oldest first.
func (s *Session) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

// Select switches the session to roomID: the previous room's subscription and
// history are torn down, a history page is fetched, and once the connection
// reports connected the room topic is subscribed and the session goes live.
// The connection itself is untouched across room switches. In-flight work for
// the previous room is discarded when it completes.
func (s *Session) Select(ctx context.Context, roomID int64) error {
	if roomID <= 0 {
		return NewError(ErrorBadRequest, "invalid room id")
	}

	s.mu.Lock()
	s.epoch++
	epoch := s.epoch
	cancel := s.cancelRoom
	s.cancelRoom = nil
	prev := s.roomID
	s.roomID = roomID
	s.events = nil
	s.sub = nil
	changed := s.state != SessionIdle
	s.state = SessionIdle
	cb := s.onState
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if changed && cb != nil {
		cb(SessionIdle)
	}

	// Old topic goes away before the new topic is requested, so cross-room
	// events can never be double-rendered through a stale handler.
	if prev != 0 {
		s.teardownTopics(ctx, prev)
	}

	roomCtx, cancelRoom := context.WithCancel(context.Background())
	s.mu.Lock()
	if epoch != s.epoch {
		s.mu.Unlock()
		cancelRoom()
		return nil
	}
	s.cancelRoom = cancelRoom
	s.mu.Unlock()

	go s.run(roomCtx, epoch, roomID)
	return nil
}

// Close leaves the current room and returns the session to idle. The shared
// connection stays up.
func (s *Session) Close() {
	s.mu.Lock()
	s.epoch++
	cancel := s.cancelRoom
	s.cancelRoom = nil
	room := s.roomID
	s.roomID = 0
	s.events = nil
	s.sub = nil
	changed := s.state != SessionIdle
	s.state = SessionIdle
	cb := s.onState
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if room != 0 {
		ctx, cancelCtx := context.WithTimeout(context.Background(), s.cfg.WriteTimeout)
		s.teardownTopics(ctx, room)
		cancelCtx()
	}
	if changed && cb != nil {
		cb(SessionIdle)
	}
}

// SendMessage publishes a chat message to the current room. Valid only while
// live: when the session is not live the message is dropped, not queued, and
// ErrSendWhileDisconnected is returned. The event identity is recorded before
// transmission so the broker's echo is recognized and suppressed.
func (s *Session) SendMessage(ctx context.Context, content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return NewError(ErrorInvalidMessage, "empty message")
	}

	s.mu.Lock()
	if s.state != SessionLive {
		s.mu.Unlock()
		return ErrSendWhileDisconnected
	}
	roomID := s.roomID
	epoch := s.epoch
	s.mu.Unlock()

	ev := Event{
		RoomID:     roomID,
		SenderID:   s.userID,
		SenderName: s.user,
		Content:    content,
		Kind:       KindChat,
		Timestamp:  time.Now(),
	}
	s.ledger.Record(s.resolver.IdentityOf(ev))

	if err := s.conn.Publish(ctx, DestSendMessage, ev); err != nil {
		if errors.Is(err, ErrNotConnected) {
			return ErrSendWhileDisconnected
		}
		return err
	}
	s.append(epoch, ev)
	return nil
}

// SendTyping publishes a typing indicator for the current room, throttled to
// at most one per cfg.TypingInterval. Dropped silently when not live or when
// the throttle window is closed.
func (s *Session) SendTyping(ctx context.Context) error {
	s.mu.Lock()
	live := s.state == SessionLive
	roomID := s.roomID
	s.mu.Unlock()
	if !live || !s.typing.Allow() {
		return nil
	}
	ev := Event{
		RoomID:     roomID,
		SenderID:   s.userID,
		SenderName: s.user,
		Kind:       KindTyping,
		Timestamp:  time.Now(),
	}
	if err := s.conn.Publish(ctx, DestTyping, ev); err != nil && !errors.Is(err, ErrNotConnected) {
		return err
	}
	return nil
}

// run is the per-room goroutine: history backfill, then the live loop. It is
// pinned to an epoch; every completion checks the epoch so work for a room
// that is no longer selected is discarded.
func (s *Session) run(ctx context.Context, epoch int, roomID int64) {
	s.setState(epoch, SessionLoadingHistory)

	page, err := s.history.History(ctx, roomID, 0, s.cfg.HistoryPageSize)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		// Backfill failure never blocks the session; continue with an empty page.
		s.log().Warn("history backfill failed, continuing without history", map[string]any{
			"room": roomID, "error": err.Error(),
		})
		page = nil
	}
	if !s.mergeHistory(epoch, page) {
		return
	}
	s.setState(epoch, SessionConnecting)

	states, cancelStates := s.conn.States()
	defer cancelStates()

	for {
		if ctx.Err() != nil {
			return
		}
		if s.conn.State() == StateConnected {
			if done := s.goLive(ctx, epoch, roomID, states); done {
				return
			}
			continue
		}
		select {
		case _, ok := <-states:
			if !ok {
				return
			}
		case <-time.After(s.cfg.ReconnectInterval):
		case <-ctx.Done():
			return
		}
	}
}

// goLive subscribes the room topics and consumes events until the
// subscription is invalidated or the room is torn down. Returns true when the
// room context is done.
func (s *Session) goLive(ctx context.Context, epoch int, roomID int64, states <-chan StateEvent) bool {
	s.setState(epoch, SessionConnecting)

	sub, err := s.conn.Subscribe(ctx, TopicChat(roomID))
	if err != nil {
		s.log().Warn("room subscribe failed", map[string]any{"room": roomID, "error": err.Error()})
		select {
		case <-time.After(s.cfg.ReconnectInterval):
		case _, ok := <-states:
			if !ok {
				return true
			}
		case <-ctx.Done():
			return true
		}
		return false
	}

	s.mu.Lock()
	wantTyping := s.onTyping != nil
	s.mu.Unlock()
	var typingCh <-chan Event
	if wantTyping {
		if typingSub, terr := s.conn.Subscribe(ctx, TopicTyping(roomID)); terr != nil {
			s.log().Warn("typing subscribe failed", map[string]any{"room": roomID, "error": terr.Error()})
		} else {
			typingCh = typingSub.Events()
		}
	}

	s.mu.Lock()
	if epoch != s.epoch {
		s.mu.Unlock()
		// Lost a room-switch race after subscribing; release the topic.
		_ = s.conn.Unsubscribe(ctx, TopicChat(roomID))
		return true
	}
	s.sub = sub
	s.mu.Unlock()
	s.setState(epoch, SessionLive)

	// The join announcement waits out a short settle delay so it cannot race
	// the subscription's own confirmation.
	settle := time.NewTimer(s.cfg.JoinSettleDelay)
	defer settle.Stop()

	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				// Invalidated by a transport disconnect; wait for reconnect.
				s.setState(epoch, SessionDisconnected)
				return false
			}
			s.handleInbound(epoch, roomID, ev)
		case ev, ok := <-typingCh:
			if !ok {
				typingCh = nil
				continue
			}
			s.handleInbound(epoch, roomID, ev)
		case <-settle.C:
			s.announceJoin(ctx, roomID)
		case st, ok := <-states:
			if !ok {
				return true
			}
			if st.New != StateConnected {
				s.setState(epoch, SessionDisconnected)
				return false
			}
		case <-ctx.Done():
			return true
		}
	}
}

// handleInbound filters and deduplicates one delivered event, appending it to
// history when it survives.
func (s *Session) handleInbound(epoch int, roomID int64, ev Event) {
	if ev.RoomID != 0 && ev.RoomID != roomID {
		s.log().Debug("dropping event for another room", map[string]any{
			"room": roomID, "event_room": ev.RoomID,
		})
		return
	}
	if ev.Kind == KindTyping {
		s.mu.Lock()
		cb := s.onTyping
		s.mu.Unlock()
		if cb != nil && ev.SenderName != s.user {
			cb(ev)
		}
		return
	}
	// Own join/leave notifications are informational to other participants
	// only; they are never rendered locally.
	if (ev.Kind == KindJoin || ev.Kind == KindLeave) && ev.SenderName == s.user {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	id := s.resolver.IdentityOf(ev)
	if s.ledger.Seen(id) {
		return
	}
	s.ledger.Record(id)
	s.append(epoch, ev)
}

func (s *Session) append(epoch int, ev Event) {
	s.mu.Lock()
	if epoch != s.epoch {
		s.mu.Unlock()
		return
	}
	s.events = append(s.events, ev)
	cb := s.onEvent
	s.mu.Unlock()
	if cb != nil {
		cb(ev)
	}
}

// announceJoin publishes the local user's join notification, at most once per
// derived identity.
func (s *Session) announceJoin(ctx context.Context, roomID int64) {
	ev := Event{
		RoomID:     roomID,
		SenderID:   s.userID,
		SenderName: s.user,
		Content:    s.user + " joined",
		Kind:       KindJoin,
		Timestamp:  time.Now(),
	}
	id := s.resolver.IdentityOf(ev)
	if s.ledger.Seen(id) {
		return
	}
	s.ledger.Record(id)
	if err := s.conn.Publish(ctx, DestAddUser, ev); err != nil {
		s.log().Warn("join announcement failed", map[string]any{"room": roomID, "error": err.Error()})
	}
}

func (s *Session) setState(epoch int, st SessionState) {
	s.mu.Lock()
	if epoch != s.epoch || s.state == st {
		s.mu.Unlock()
		return
	}
	s.state = st
	cb := s.onState
	s.mu.Unlock()
	if cb != nil {
		cb(st)
	}
}

func (s *Session) teardownTopics(ctx context.Context, roomID int64) {
	for _, topic := range []string{TopicChat(roomID), TopicTyping(roomID)} {
		if err := s.conn.Unsubscribe(ctx, topic); err != nil {
			s.log().Warn("unsubscribe failed", map[string]any{"topic": topic, "error": err.Error()})
		}
	}
}

func (s *Session) log() Logger {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logger
}
