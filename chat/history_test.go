package chat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGroupHistoryMergesConsecutiveSameSenderSameLabel(t *testing.T) {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	events := []Event{
		{SenderName: "alice", Content: "one", Kind: KindChat, Timestamp: base},
		{SenderName: "alice", Content: "two", Kind: KindChat, Timestamp: base.Add(10 * time.Second)},
		{SenderName: "bob", Content: "three", Kind: KindChat, Timestamp: base.Add(20 * time.Second)},
		{SenderName: "alice", Content: "four", Kind: KindChat, Timestamp: base.Add(30 * time.Second)},
	}

	groups := GroupHistory(events)
	require.Len(t, groups, 3)
	require.Len(t, groups[0].Events, 2)
	require.Equal(t, "alice", groups[0].SenderName)
	require.Equal(t, "bob", groups[1].SenderName)
	require.Equal(t, "alice", groups[2].SenderName)
}

func TestGroupHistorySplitsOnTimeLabel(t *testing.T) {
	base := time.Date(2024, 3, 1, 12, 0, 50, 0, time.UTC)
	events := []Event{
		{SenderName: "alice", Content: "one", Kind: KindChat, Timestamp: base},
		// Same sender, next minute: new group even though consecutive.
		{SenderName: "alice", Content: "two", Kind: KindChat, Timestamp: base.Add(20 * time.Second)},
	}

	groups := GroupHistory(events)
	require.Len(t, groups, 2)
	require.Equal(t, "12:00", groups[0].TimeLabel)
	require.Equal(t, "12:01", groups[1].TimeLabel)
}

func TestGroupHistoryLifecycleEventsStandAlone(t *testing.T) {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	events := []Event{
		{SenderName: "alice", Content: "hi", Kind: KindChat, Timestamp: base},
		{SenderName: "alice", Content: "alice joined", Kind: KindJoin, Timestamp: base.Add(time.Second)},
		{SenderName: "alice", Content: "more", Kind: KindChat, Timestamp: base.Add(2 * time.Second)},
	}

	groups := GroupHistory(events)
	require.Len(t, groups, 3)
	require.Equal(t, KindJoin, groups[1].Events[0].Kind)
}

func TestGroupHistoryEmpty(t *testing.T) {
	require.Empty(t, GroupHistory(nil))
}
