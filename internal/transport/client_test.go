package transport

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stayfinder/chatsync/internal/config"
	"github.com/stayfinder/chatsync/pkg/idgen"
)

type scriptConn struct {
	frames [][]byte
	pos    int
}

func (c *scriptConn) ReadMessage() ([]byte, error) {
	if c.pos >= len(c.frames) {
		return nil, errors.New("connection closed")
	}
	f := c.frames[c.pos]
	c.pos++
	return f, nil
}

func (c *scriptConn) WriteMessage([]byte) error { return nil }
func (c *scriptConn) Close() error              { return nil }

func newTestClient() *Client {
	return NewClient(config.TransportConfig{}, "me", "", idgen.NewUUIDGenerator())
}

func TestReadLoop_DropsServerConnectionHello(t *testing.T) {
	c := newTestClient()
	c.intentionalClose = true // no reconnect when the script runs out

	var events []*Event
	c.OnEvent(func(ev *Event) { events = append(events, ev) })

	// The dial itself already announced the connection, so the server's
	// hello must not trigger a second resync. A later hello is a genuine
	// server-side session refresh and passes through.
	conn := &scriptConn{frames: [][]byte{
		[]byte(`{"event":"connected","payload":{}}`),
		[]byte(`{"event":"message","payload":{"conversation_id":"c1","text":"hi","sender_id":"p1"}}`),
		[]byte(`{"event":"session:established","payload":{}}`),
	}}
	c.readLoop(context.Background(), context.Background(), conn)

	require.Len(t, events, 2)
	assert.Equal(t, KindNewMessage, events[0].Kind)
	assert.Equal(t, KindConnectionEstablished, events[1].Kind)
}

func TestAttach_CancelsPreviousConnectionContext(t *testing.T) {
	c := newTestClient()

	ctx1, cancel1 := context.WithCancel(context.Background())
	c.attach(&scriptConn{}, cancel1)

	ctx2, cancel2 := context.WithCancel(context.Background())
	c.attach(&scriptConn{}, cancel2)
	defer cancel2()

	// The superseded connection's context is torn down with it.
	assert.Error(t, ctx1.Err())
	assert.NoError(t, ctx2.Err())
	assert.Equal(t, StateConnected, c.State())
}

func TestReconnector_BackoffAndReset(t *testing.T) {
	r := &reconnector{baseDelay: 100 * time.Millisecond, maxDelay: time.Second, maxAttempts: 3}

	d1 := r.nextDelay()
	d2 := r.nextDelay()
	assert.Greater(t, d2, d1)
	assert.LessOrEqual(t, d2, time.Second)

	assert.True(t, r.shouldReconnect())
	r.nextDelay()
	assert.False(t, r.shouldReconnect())

	// A connection that stayed up resets the attempt counter.
	r.connectedAt = time.Now().Add(-2 * time.Minute)
	r.nextDelay()
	assert.True(t, r.shouldReconnect())
}
