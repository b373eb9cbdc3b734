package transport

import (
	"context"
	"encoding/json"
	"math"
	"math/rand"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mbeoliero/kit/log"

	"github.com/stayfinder/chatsync/internal/config"
	"github.com/stayfinder/chatsync/pkg/errcode"
	"github.com/stayfinder/chatsync/pkg/idgen"
)

// State represents the connection state
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
)

// Handler consumes canonical events. The transport delivers events
// at-least-once and in no particular order; handlers must tolerate
// duplicates and reordering.
type Handler func(*Event)

// Client is the push transport client. It owns the websocket lifecycle:
// explicit connect/disconnect, heartbeat, and reconnect with backoff.
// Every (re)connect emits a connection-established canonical event so
// downstream components can re-synchronize stale state.
type Client struct {
	cfg    config.TransportConfig
	userId string
	token  string
	norm   *Normalizer
	opId   idgen.IDGenerator

	mu               sync.Mutex
	conn             Conn
	state            State
	intentionalClose bool
	handler          Handler
	recon            *reconnector
	cancel           context.CancelFunc
}

// NewClient creates a transport client for the given local participant
func NewClient(cfg config.TransportConfig, userId, token string, opId idgen.IDGenerator) *Client {
	return &Client{
		cfg:    cfg,
		userId: userId,
		token:  token,
		norm:   &Normalizer{LocalUserId: userId},
		opId:   opId,
		state:  StateDisconnected,
		recon: &reconnector{
			baseDelay:   cfg.ReconnectBaseDelay,
			maxDelay:    cfg.ReconnectMaxDelay,
			maxAttempts: cfg.MaxReconnectAttempts,
		},
	}
}

// OnEvent registers the single downstream consumer. Must be called before
// Connect.
func (c *Client) OnEvent(h Handler) {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
}

// State returns the current connection state
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect establishes the websocket connection and starts the read loop
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateConnected || c.state == StateConnecting {
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.intentionalClose = false
	c.mu.Unlock()

	opId, _ := c.opId.NextID()
	query := url.Values{}
	query.Set("token", c.token)
	query.Set("send_id", c.userId)
	query.Set("operation_id", opId)

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.cfg.URL+"?"+query.Encode(), nil)
	if err != nil {
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()
		return errcode.ErrNotConnected.Wrap(err)
	}

	wc := newWsConn(conn, c.cfg.MaxMessageSize, c.cfg.WriteWait, c.cfg.PongWait, c.cfg.PingPeriod)

	connCtx, cancel := context.WithCancel(ctx)
	c.attach(wc, cancel)

	// A fresh connection means accumulated push state may be stale.
	c.dispatch(&Event{Kind: KindConnectionEstablished, At: time.Now().UnixMilli()})

	go c.readLoop(ctx, connCtx, wc)

	return nil
}

// attach swaps in a fresh connection. The previous connection's context
// is cancelled here so an abandoned read loop cannot outlive its
// replacement.
func (c *Client) attach(conn Conn, cancel context.CancelFunc) {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.conn = conn
	c.state = StateConnected
	c.cancel = cancel
	c.mu.Unlock()
	c.recon.markConnected()
}

// Disconnect gracefully closes the connection; no reconnect is attempted
func (c *Client) Disconnect() error {
	c.mu.Lock()
	c.intentionalClose = true
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	conn := c.conn
	c.conn = nil
	c.state = StateDisconnected
	c.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

// SendTyping emits a typing signal for a conversation
func (c *Client) SendTyping(conversationId string, typing bool) error {
	return c.send("typing", &TypingPayload{ConversationId: conversationId, Typing: typing})
}

// SendAvailability emits the local participant's availability toggle
func (c *Client) SendAvailability(available bool) error {
	return c.send("availability", &AvailabilityPayload{Available: available})
}

func (c *Client) send(event string, payload interface{}) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return errcode.ErrNotConnected
	}

	opId, _ := c.opId.NextID()
	data, err := json.Marshal(&Command{Event: event, OperationId: opId, Payload: payload})
	if err != nil {
		return errcode.ErrInvalidProtocol.Wrap(err)
	}
	return conn.WriteMessage(data)
}

// readLoop drains the connection. ctx is the connection's own context;
// parent outlives individual connections so reconnect dials are not
// children of the context being torn down.
func (c *Client) readLoop(parent, ctx context.Context, conn Conn) {
	// Connect already announced this connection; the server's own hello
	// would trigger a second resync.
	serverHello := false
	for {
		raw, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			intentional := c.intentionalClose
			if c.conn == conn {
				c.conn = nil
				c.state = StateDisconnected
			}
			c.mu.Unlock()

			if intentional || ctx.Err() != nil {
				return
			}

			log.CtxWarn(ctx, "transport read error, reconnecting: %v", err)
			c.scheduleReconnect(parent)
			return
		}

		name, payload := DecodeFrame(raw)
		ev := c.norm.Normalize(name, payload)
		if ev == nil {
			// Unrelated housekeeping or unmappable payload.
			log.CtxDebug(ctx, "dropped transport event: name=%q", name)
			continue
		}
		if ev.Kind == KindConnectionEstablished && !serverHello {
			serverHello = true
			log.CtxDebug(ctx, "dropped duplicate connection hello: name=%q", name)
			continue
		}
		c.dispatch(ev)
	}
}

func (c *Client) dispatch(ev *Event) {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	if h != nil {
		h(ev)
	}
}

func (c *Client) scheduleReconnect(ctx context.Context) {
	for c.recon.shouldReconnect() {
		delay := c.recon.nextDelay()
		c.mu.Lock()
		c.state = StateReconnecting
		c.mu.Unlock()

		log.CtxInfo(ctx, "reconnect attempt %d in %s", c.recon.attempt, delay)

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		c.mu.Lock()
		if c.intentionalClose {
			c.mu.Unlock()
			return
		}
		c.state = StateDisconnected
		c.mu.Unlock()

		if err := c.Connect(ctx); err == nil {
			return
		}
	}

	c.mu.Lock()
	c.state = StateDisconnected
	c.mu.Unlock()
	log.CtxError(ctx, "transport reconnect exhausted after %d attempts", c.recon.attempt)
}

// reconnector tracks exponential backoff with jitter. The attempt counter
// resets once a connection has stayed up for a minute.
type reconnector struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	attempt     int
	connectedAt time.Time
}

func (r *reconnector) shouldReconnect() bool {
	return r.maxAttempts == 0 || r.attempt < r.maxAttempts
}

func (r *reconnector) markConnected() {
	r.connectedAt = time.Now()
}

func (r *reconnector) nextDelay() time.Duration {
	if !r.connectedAt.IsZero() && time.Since(r.connectedAt) > 60*time.Second {
		r.attempt = 0
	}
	jitter := time.Duration(rand.Float64() * float64(r.baseDelay) * 0.5)
	delay := time.Duration(math.Min(
		float64(r.baseDelay)*math.Pow(2, float64(r.attempt))+float64(jitter),
		float64(r.maxDelay),
	))
	r.attempt++
	return delay
}
