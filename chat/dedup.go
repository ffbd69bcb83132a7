package chat

import (
	"fmt"
	"sync"
)

// IdentityResolver derives a stable identity for an event, used as the dedup
// key. Pluggable so a stronger scheme (e.g. server-assigned monotonic ids)
// can replace the default without touching the ledger.
type IdentityResolver interface {
	IdentityOf(ev Event) string
}

// IdentityResolverFunc adapts a function to the IdentityResolver interface.
type IdentityResolverFunc func(Event) string

func (f IdentityResolverFunc) IdentityOf(ev Event) string { return f(ev) }

// DefaultIdentity returns the server-assigned id when present, otherwise a
// composite of sender, content and second-granularity timestamp. The fallback
// is best effort: two distinct events from the same sender with identical
// content within the same second collide and the second one is dropped.
func DefaultIdentity(ev Event) string {
	if ev.ID != "" {
		return ev.ID
	}
	return fmt.Sprintf("%s|%s|%d", ev.SenderName, ev.Content, ev.Timestamp.Unix())
}

// Ledger is a bounded, insertion-ordered record of recently seen event
// identities. When full, the single oldest identity is evicted (strict FIFO,
// not recency of access). One ledger is shared per client across rooms.
type Ledger struct {
	mu       sync.Mutex
	capacity int
	seen     map[string]struct{}
	order    []string
	head     int
}

// NewLedger creates a ledger holding at most capacity identities. A
// non-positive capacity falls back to the default of 200.
func NewLedger(capacity int) *Ledger {
	if capacity <= 0 {
		capacity = DefaultConfig().LedgerCapacity
	}
	return &Ledger{
		capacity: capacity,
		seen:     make(map[string]struct{}, capacity),
	}
}

// Seen reports whether identity is currently recorded.
func (l *Ledger) Seen(identity string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.seen[identity]
	return ok
}

// Record inserts identity, evicting the oldest entry when over capacity.
// Recording an identity that is already present is a no-op.
func (l *Ledger) Record(identity string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.seen[identity]; ok {
		return
	}
	l.seen[identity] = struct{}{}
	l.order = append(l.order, identity)
	if len(l.seen) > l.capacity {
		oldest := l.order[l.head]
		delete(l.seen, oldest)
		l.order[l.head] = ""
		l.head++
	}
	// Compact the evicted prefix once it dominates the backing slice.
	if l.head > l.capacity {
		l.order = append([]string(nil), l.order[l.head:]...)
		l.head = 0
	}
}

// Len returns the number of identities currently recorded.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.seen)
}
