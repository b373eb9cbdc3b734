package store

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stayfinder/chatsync/pkg/backend"
)

func confirmed(id, text string, at int64) *backend.MessageInfo {
	return &backend.MessageInfo{
		Id:             id,
		ConversationId: "c1",
		SenderId:       "p1",
		RecvId:         "me",
		Text:           text,
		SentAt:         at,
	}
}

func TestAppendConfirmed_Idempotent(t *testing.T) {
	s := New()

	msg := confirmed("m1", "hello", 100)
	for i := 0; i < 5; i++ {
		added := s.AppendConfirmed("c1", msg)
		assert.Equal(t, i == 0, added, "delivery %d", i+1)
	}

	log := s.Messages("c1")
	require.Len(t, log, 1)
	assert.Equal(t, "m1", log[0].Id)
	assert.Equal(t, StateConfirmed, log[0].State)
}

func TestAppendConfirmed_FirstSeenOrder(t *testing.T) {
	s := New()

	// Appends after hydration are positional, not re-sorted, even when
	// timestamps arrive out of order.
	s.AppendConfirmed("c1", confirmed("m2", "second", 200))
	s.AppendConfirmed("c1", confirmed("m1", "first", 100))

	log := s.Messages("c1")
	require.Len(t, log, 2)
	assert.Equal(t, "m2", log[0].Id)
	assert.Equal(t, "m1", log[1].Id)
}

func TestHydrate_SortsOnce(t *testing.T) {
	s := New()

	// A live message arrives before hydration completes.
	s.AppendConfirmed("c1", confirmed("m3", "live", 300))

	s.Hydrate("c1", []*backend.MessageInfo{
		confirmed("m2", "older", 200),
		confirmed("m1", "oldest", 100),
		confirmed("m3", "live", 300), // already seen, merged not duplicated
	})

	log := s.Messages("c1")
	require.Len(t, log, 3)
	assert.Equal(t, "m1", log[0].Id)
	assert.Equal(t, "m2", log[1].Id)
	assert.Equal(t, "m3", log[2].Id)
}

func TestOptimisticRoundTrip_Success(t *testing.T) {
	s := New()
	s.AppendConfirmed("c1", confirmed("m1", "earlier", 100))

	prov := &backend.MessageInfo{ConversationId: "c1", SenderId: "me", Text: "hello", SentAt: 200}
	s.AppendProvisional("c1", "prov-1", prov)
	s.AppendConfirmed("c1", confirmed("m2", "later", 300))

	log := s.Messages("c1")
	require.Len(t, log, 3)
	assert.Equal(t, StatePending, log[1].State)

	err := s.ResolveProvisional("prov-1", confirmed("m-server", "hello", 250))
	require.NoError(t, err)

	// Replaced in place: same position, confirmed id, not duplicated.
	log = s.Messages("c1")
	require.Len(t, log, 3)
	assert.Equal(t, "m-server", log[1].Id)
	assert.Equal(t, StateConfirmed, log[1].State)
	assert.Equal(t, "hello", log[1].Text)

	// The push channel replaying the confirmed copy is absorbed.
	assert.False(t, s.AppendConfirmed("c1", confirmed("m-server", "hello", 250)))
}

func TestOptimisticRoundTrip_Failure(t *testing.T) {
	s := New()

	prov := &backend.MessageInfo{ConversationId: "c1", SenderId: "me", Text: "hello", SentAt: 200}
	s.AppendProvisional("c1", "prov-1", prov)

	require.NoError(t, s.ResolveProvisional("prov-1", nil))

	// Failed sends stay visible for manual retry.
	log := s.Messages("c1")
	require.Len(t, log, 1)
	assert.Equal(t, "prov-1", log[0].Id)
	assert.Equal(t, StateFailed, log[0].State)
}

func TestResolveProvisional_ConfirmedAlreadyArrived(t *testing.T) {
	s := New()

	prov := &backend.MessageInfo{ConversationId: "c1", SenderId: "me", Text: "hello", SentAt: 200}
	s.AppendProvisional("c1", "prov-1", prov)

	// The push copy beats the send response.
	require.True(t, s.AppendConfirmed("c1", confirmed("m-server", "hello", 250)))
	require.NoError(t, s.ResolveProvisional("prov-1", confirmed("m-server", "hello", 250)))

	// Exactly one entry for the id remains.
	log := s.Messages("c1")
	require.Len(t, log, 1)
	assert.Equal(t, "m-server", log[0].Id)
}

func TestResolveProvisional_Unknown(t *testing.T) {
	s := New()
	assert.Error(t, s.ResolveProvisional("nope", nil))
}

func TestProvisional_PositionSurvivesHydration(t *testing.T) {
	s := New()

	prov := &backend.MessageInfo{ConversationId: "c1", SenderId: "me", Text: "hello", SentAt: 500}
	s.AppendProvisional("c1", "prov-1", prov)

	s.Hydrate("c1", []*backend.MessageInfo{
		confirmed("m1", "a", 100),
		confirmed("m2", "b", 200),
	})

	// Hydration re-sorted the log; resolution must still find the entry.
	require.NoError(t, s.ResolveProvisional("prov-1", confirmed("m-server", "hello", 250)))

	log := s.Messages("c1")
	require.Len(t, log, 3)

	ids := make([]string, len(log))
	for i, m := range log {
		ids[i] = m.Id
	}
	assert.Contains(t, ids, "m-server")
	for _, m := range log {
		assert.NotEqual(t, StatePending, m.State)
	}
}

func TestMessages_SnapshotIsolation(t *testing.T) {
	s := New()
	s.AppendConfirmed("c1", confirmed("m1", "hello", 100))

	log := s.Messages("c1")
	log[0].Text = "mutated"

	assert.Equal(t, "hello", s.Messages("c1")[0].Text)
}

func TestLastMessage(t *testing.T) {
	s := New()
	assert.Nil(t, s.LastMessage("c1"))

	for i := 1; i <= 3; i++ {
		s.AppendConfirmed("c1", confirmed(fmt.Sprintf("m%d", i), fmt.Sprintf("t%d", i), int64(i*100)))
	}
	last := s.LastMessage("c1")
	require.NotNil(t, last)
	assert.Equal(t, "m3", last.Id)
}
