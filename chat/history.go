package chat

import (
	"github.com/samber/lo"
)

// mergeHistory places a fetched page ahead of any live-received events. The
// backend orders pages newest first, so the page is reversed to chronological
// order; events already recorded in the ledger are filtered out and the rest
// are recorded so a live redelivery is suppressed. Returns false when the
// page belongs to a room that is no longer selected.
func (s *Session) mergeHistory(epoch int, page []Event) bool {
	ordered := lo.Reverse(append([]Event(nil), page...))

	s.mu.Lock()
	defer s.mu.Unlock()
	if epoch != s.epoch {
		return false
	}

	merged := make([]Event, 0, len(ordered))
	for _, ev := range ordered {
		if ev.Kind == KindTyping {
			continue
		}
		if (ev.Kind == KindJoin || ev.Kind == KindLeave) && ev.SenderName == s.user {
			continue
		}
		id := s.resolver.IdentityOf(ev)
		if s.ledger.Seen(id) {
			continue
		}
		s.ledger.Record(id)
		merged = append(merged, ev)
	}
	s.events = append(merged, s.events...)
	return true
}

// groupTimeLayout is the rendered time label; events sharing a label and a
// sender collapse into one visual group.
const groupTimeLayout = "15:04"

// MessageGroup is a display aggregation of consecutive chat events from the
// same sender under the same time label. Grouping is not deduplication: it
// operates on already-deduplicated, already-ordered history.
type MessageGroup struct {
	SenderName       string
	SenderProfileURL string
	TimeLabel        string
	Events           []Event
}

// GroupHistory folds an ordered history into message groups. Lifecycle events
// (join/leave) always stand alone.
func GroupHistory(events []Event) []MessageGroup {
	var groups []MessageGroup
	for _, ev := range events {
		label := ev.Timestamp.Format(groupTimeLayout)
		if ev.Kind == KindChat {
			if n := len(groups); n > 0 {
				last := &groups[n-1]
				if len(last.Events) > 0 && last.Events[0].Kind == KindChat &&
					last.SenderName == ev.SenderName && last.TimeLabel == label {
					last.Events = append(last.Events, ev)
					continue
				}
			}
		}
		groups = append(groups, MessageGroup{
			SenderName:       ev.SenderName,
			SenderProfileURL: ev.SenderProfileURL,
			TimeLabel:        label,
			Events:           []Event{ev},
		})
	}
	return groups
}
