package preview

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stayfinder/chatsync/pkg/backend"
)

func snapshotRow(convId, peerId string, lastAt int64, unread int64) *backend.ConversationPreview {
	return &backend.ConversationPreview{
		Conversation: &backend.ConversationInfo{
			Id:            convId,
			PeerUserId:    peerId,
			LastText:      "snap " + convId,
			LastSenderId:  peerId,
			LastMessageAt: lastAt,
		},
		Peer:        &backend.PeerSummary{Id: peerId, Nickname: "peer " + peerId},
		UnreadCount: unread,
	}
}

func TestList_SortedByEffectiveTimestamp(t *testing.T) {
	a := NewAggregator()
	a.SetSnapshot([]*backend.ConversationPreview{
		snapshotRow("c1", "p1", 100, 0),
		snapshotRow("c2", "p2", 300, 0),
		snapshotRow("c3", "p3", 200, 0),
		snapshotRow("c4", "p4", 0, 0), // no messages yet
	})

	list := a.List()
	require.Len(t, list, 4)
	assert.Equal(t, "c2", list[0].ConversationId)
	assert.Equal(t, "c3", list[1].ConversationId)
	assert.Equal(t, "c1", list[2].ConversationId)
	// Messageless conversations sort last.
	assert.Equal(t, "c4", list[3].ConversationId)
}

func TestApplyMessage_OverridesWhenNewer(t *testing.T) {
	a := NewAggregator()
	a.SetSnapshot([]*backend.ConversationPreview{
		snapshotRow("c1", "p1", 100, 0),
		snapshotRow("c2", "p2", 300, 0),
	})

	a.ApplyMessage("c1", &backend.MessageInfo{Id: "m1", SenderId: "p1", Text: "fresh", SentAt: 400}, true, true)

	list := a.List()
	assert.Equal(t, "c1", list[0].ConversationId)
	assert.Equal(t, "fresh", list[0].LastText)
	assert.Equal(t, int64(400), list[0].LastMessageAt)

	// An older live message does not override the summary.
	a.ApplyMessage("c2", &backend.MessageInfo{Id: "m2", SenderId: "p2", Text: "stale", SentAt: 50}, true, true)
	for _, p := range a.List() {
		if p.ConversationId == "c2" {
			assert.Equal(t, "snap c2", p.LastText)
		}
	}
}

func TestUnread_GatedByAcknowledgement(t *testing.T) {
	a := NewAggregator()
	a.SetSnapshot([]*backend.ConversationPreview{
		snapshotRow("c1", "p1", 100, 3),
	})

	list := a.List()
	require.Len(t, list, 1)
	assert.True(t, list[0].Unread)
	assert.Equal(t, int64(3), a.UnreadTotal())

	// Opening the window acknowledges immediately, before any round-trip.
	a.Acknowledge("p1")
	assert.False(t, a.List()[0].Unread)
	assert.Equal(t, int64(0), a.UnreadTotal())
}

func TestUnread_OverrideClearedWhenServerReturnsToZero(t *testing.T) {
	a := NewAggregator()
	a.SetSnapshot([]*backend.ConversationPreview{snapshotRow("c1", "p1", 100, 3)})
	a.Acknowledge("p1")

	// Authoritative refresh confirms the read: count is zero, so the
	// override is dropped and a later unread shows again.
	a.SetSnapshot([]*backend.ConversationPreview{snapshotRow("c1", "p1", 100, 0)})
	a.SetSnapshot([]*backend.ConversationPreview{snapshotRow("c1", "p1", 200, 1)})

	assert.True(t, a.List()[0].Unread)
}

func TestApplyMessage_InboundWhileClosedCountsUnread(t *testing.T) {
	a := NewAggregator()
	a.SetSnapshot([]*backend.ConversationPreview{snapshotRow("c1", "p1", 100, 0)})
	a.Acknowledge("p1")

	a.ApplyMessage("c1", &backend.MessageInfo{Id: "m1", SenderId: "p1", Text: "hi", SentAt: 200}, true, false)

	list := a.List()
	assert.True(t, list[0].Unread)
	assert.Equal(t, int64(1), list[0].UnreadCount)
}

func TestApplyMessage_VisibleWindowStaysRead(t *testing.T) {
	a := NewAggregator()
	a.SetSnapshot([]*backend.ConversationPreview{snapshotRow("c1", "p1", 100, 0)})
	a.Acknowledge("p1")

	a.ApplyMessage("c1", &backend.MessageInfo{Id: "m1", SenderId: "p1", Text: "hi", SentAt: 200}, true, true)

	assert.False(t, a.List()[0].Unread)
	assert.Equal(t, int64(0), a.UnreadTotal())
}

func TestUpsert_RegistersHydratedConversation(t *testing.T) {
	a := NewAggregator()

	a.Upsert(
		&backend.ConversationInfo{Id: "c9", PeerUserId: "p9"},
		&backend.PeerSummary{Id: "p9"},
	)

	assert.True(t, a.HasPeer("p9"))
	id, ok := a.ConversationFor("p9")
	require.True(t, ok)
	assert.Equal(t, "c9", id)

	// Brand-new conversation with no messages sorts last with zero time.
	a.SetSnapshot(nil)
	a.Upsert(&backend.ConversationInfo{Id: "c9", PeerUserId: "p9"}, &backend.PeerSummary{Id: "p9"})
	list := a.List()
	require.Len(t, list, 1)
	assert.Zero(t, list[0].LastMessageAt)
}
