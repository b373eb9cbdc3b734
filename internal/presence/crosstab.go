package presence

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mbeoliero/kit/log"
	"github.com/redis/go-redis/v9"
)

// Broadcast is the cross-tab availability write. Sibling clients of the
// same account observe it and react only when the acting user is a peer
// they currently render; conflicts resolve last-write-wins by timestamp.
type Broadcast struct {
	Value        bool   `json:"value"`
	ActingUserId string `json:"acting_user_id"`
	At           int64  `json:"at"`
}

// BroadcastHandler consumes observed cross-tab writes
type BroadcastHandler func(b Broadcast)

// CrossTab publishes and observes availability toggles through a fixed
// Redis key. The key itself holds the last write so late-joining clients
// can catch up; the channel delivers live updates. This is an event
// source, not shared mutable memory: observers only ever apply
// last-write-wins updates to their own state.
type CrossTab struct {
	rdb     *redis.Client
	key     string
	channel string
}

// NewCrossTab creates a cross-tab broadcaster with the given key prefix
func NewCrossTab(rdb *redis.Client, keyPrefix string) *CrossTab {
	return &CrossTab{
		rdb:     rdb,
		key:     keyPrefix + "availability",
		channel: keyPrefix + "availability:events",
	}
}

// Publish records the acting user's availability toggle for sibling tabs
func (c *CrossTab) Publish(ctx context.Context, actingUserId string, value bool) error {
	b := Broadcast{
		Value:        value,
		ActingUserId: actingUserId,
		At:           time.Now().UnixMilli(),
	}
	data, err := json.Marshal(&b)
	if err != nil {
		return err
	}

	if err := c.rdb.Set(ctx, c.key, data, 24*time.Hour).Err(); err != nil {
		return err
	}
	return c.rdb.Publish(ctx, c.channel, data).Err()
}

// Run subscribes to cross-tab writes and invokes the handler for each.
// The subscription is established before the stored write is replayed,
// so a write landing in between is delivered rather than lost; observers
// resolve the resulting replay/live interleaving last-write-wins.
// Blocks until ctx is cancelled.
func (c *CrossTab) Run(ctx context.Context, handler BroadcastHandler) {
	sub := c.rdb.Subscribe(ctx, c.channel)
	defer sub.Close()
	ch := sub.Channel()

	if data, err := c.rdb.Get(ctx, c.key).Bytes(); err == nil {
		var b Broadcast
		if json.Unmarshal(data, &b) == nil {
			handler(b)
		}
	}
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var b Broadcast
			if err := json.Unmarshal([]byte(msg.Payload), &b); err != nil {
				log.CtxDebug(ctx, "dropped malformed cross-tab write: %v", err)
				continue
			}
			handler(b)
		}
	}
}
