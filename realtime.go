package wavechat

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"
)

// ============================================================================
// Configuration
// ============================================================================

// RealtimeConfig configures the realtime hub client.
type RealtimeConfig struct {
	// BaseURL is the http(s) endpoint of the API; it is rewritten to ws(s)
	// for the hub connection.
	BaseURL string
	// Channel is the hub channel name.
	Channel string
	// Token is the bearer credential supplied at connect time. The client
	// does not refresh it; reconnecting with a new credential is the
	// caller's responsibility.
	Token string

	AutoReconnect        bool
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	HeartbeatInterval    time.Duration
	EventBuffer          int
}

func (c *RealtimeConfig) defaults() {
	if c.Channel == "" {
		c.Channel = "chat"
	}
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = 1 * time.Second
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 10
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 25 * time.Second
	}
	if c.EventBuffer == 0 {
		c.EventBuffer = 64
	}
}

// ConnState represents the connection state. It is driven only by the
// transport lifecycle, never by event handlers.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	StateReconnecting ConnState = "reconnecting"
)

// A LifecycleEvent reports a transport state transition.
type LifecycleEvent struct {
	State   ConnState
	Attempt int    // reconnect attempt counter, for reconnecting states
	Reason  string // close or failure cause, when known
	Resumed bool   // true when connected after a drop rather than initially
}

// A Command is a client-to-server hub message.
type Command struct {
	Type      string `json:"type"`
	Payload   any    `json:"payload,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

// Client-to-server command names.
const (
	CommandStartTyping = "StartTyping"
	CommandStopTyping  = "StopTyping"
)

// ============================================================================
// Reconnector
// ============================================================================

type reconnector struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	attempt     int
	connectedAt time.Time
}

func newReconnector(config *RealtimeConfig) *reconnector {
	return &reconnector{
		baseDelay:   config.ReconnectBaseDelay,
		maxDelay:    config.ReconnectMaxDelay,
		maxAttempts: config.MaxReconnectAttempts,
	}
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

// ============================================================================
// RealtimeClient
// ============================================================================

// RealtimeClient maintains one persistent hub connection and delivers every
// inbound event on a single channel of tagged envelopes, in arrival order.
// Lifecycle transitions are reported on a separate channel. Reconnection is
// handled here, at the transport level; consumers only observe the
// reconnecting/connected transitions.
type RealtimeClient struct {
	config *RealtimeConfig
	recon  *reconnector

	mu               sync.Mutex
	conn             *websocket.Conn
	state            ConnState
	intentionalClose bool
	cancelFn         context.CancelFunc

	events    chan Envelope
	lifecycle chan LifecycleEvent
}

// NewRealtimeClient creates a hub client. Call Connect to establish the
// connection.
func NewRealtimeClient(config *RealtimeConfig) *RealtimeClient {
	config.defaults()
	return &RealtimeClient{
		config:    config,
		recon:     newReconnector(config),
		state:     StateDisconnected,
		events:    make(chan Envelope, config.EventBuffer),
		lifecycle: make(chan LifecycleEvent, 16),
	}
}

// Events returns the inbound event channel. Envelopes arrive in the order
// the hub delivered them.
func (c *RealtimeClient) Events() <-chan Envelope {
	return c.events
}

// Lifecycle returns the state-transition channel.
func (c *RealtimeClient) Lifecycle() <-chan LifecycleEvent {
	return c.lifecycle
}

// State returns the current connection state.
func (c *RealtimeClient) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *RealtimeClient) setState(s ConnState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *RealtimeClient) emit(ev LifecycleEvent) {
	select {
	case c.lifecycle <- ev:
	default:
		// Lifecycle buffer full: drop the oldest so the newest state wins.
		select {
		case <-c.lifecycle:
		default:
		}
		c.lifecycle <- ev
	}
}

func (c *RealtimeClient) hubURL() string {
	u := strings.Replace(c.config.BaseURL, "https://", "wss://", 1)
	u = strings.Replace(u, "http://", "ws://", 1)
	return fmt.Sprintf("%s/hubs/%s?access_token=%s", u, c.config.Channel, c.config.Token)
}

// Connect dials the hub and waits for the explicit Connected event before
// reporting the connection as established. Socket-open alone is not enough.
func (c *RealtimeClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateConnected || c.state == StateConnecting {
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.intentionalClose = false
	c.mu.Unlock()

	conn, first, err := c.dial(ctx)
	if err != nil {
		c.setState(StateDisconnected)
		c.emit(LifecycleEvent{State: StateDisconnected, Reason: err.Error()})
		return err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.mu.Lock()
	c.conn = conn
	c.state = StateConnected
	c.cancelFn = cancel
	c.mu.Unlock()
	c.recon.markConnected()

	go c.run(runCtx, conn, first, false)
	return nil
}

// dial opens the socket and consumes the negotiation handshake.
func (c *RealtimeClient) dial(ctx context.Context) (*websocket.Conn, Envelope, error) {
	conn, _, err := websocket.Dial(ctx, c.hubURL(), nil)
	if err != nil {
		return nil, Envelope{}, fmt.Errorf("hub dial: %w", err)
	}

	_, data, err := conn.Read(ctx)
	if err != nil {
		conn.Close(websocket.StatusNormalClosure, "")
		return nil, Envelope{}, fmt.Errorf("read negotiation: %w", err)
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Type != EventConnected {
		conn.Close(websocket.StatusNormalClosure, "")
		return nil, Envelope{}, fmt.Errorf("expected %q event, got %q", EventConnected, env.Type)
	}
	return conn, env, nil
}

// run owns the connection for its whole life, including reconnects.
func (c *RealtimeClient) run(ctx context.Context, conn *websocket.Conn, first Envelope, resumed bool) {
	for {
		c.emit(LifecycleEvent{State: StateConnected, Resumed: resumed})
		c.deliver(ctx, first)

		readErr := c.readLoop(ctx, conn)

		c.mu.Lock()
		intentional := c.intentionalClose
		c.conn = nil
		c.mu.Unlock()
		if intentional || ctx.Err() != nil {
			return
		}

		reason := ""
		if readErr != nil {
			reason = readErr.Error()
		}

		if !c.config.AutoReconnect || !c.recon.shouldReconnect() {
			c.setState(StateDisconnected)
			c.emit(LifecycleEvent{State: StateDisconnected, Reason: reason})
			return
		}

		c.setState(StateReconnecting)
		c.emit(LifecycleEvent{State: StateReconnecting, Attempt: c.recon.attempt + 1, Reason: reason})

		var err error
		conn, first, err = c.redial(ctx)
		if err != nil {
			c.setState(StateDisconnected)
			c.emit(LifecycleEvent{State: StateDisconnected, Reason: err.Error()})
			return
		}
		resumed = true
	}
}

// redial retries the handshake with exponential backoff until it succeeds
// or the retry budget runs out.
func (c *RealtimeClient) redial(ctx context.Context) (*websocket.Conn, Envelope, error) {
	var lastErr error
	for c.recon.shouldReconnect() {
		delay := c.recon.nextDelay()
		select {
		case <-ctx.Done():
			return nil, Envelope{}, ctx.Err()
		case <-time.After(delay):
		}

		conn, first, err := c.dial(ctx)
		if err != nil {
			lastErr = err
			c.emit(LifecycleEvent{State: StateReconnecting, Attempt: c.recon.attempt + 1, Reason: err.Error()})
			continue
		}

		c.mu.Lock()
		c.conn = conn
		c.state = StateConnected
		c.mu.Unlock()
		c.recon.markConnected()
		return conn, first, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("reconnect attempts exhausted")
	}
	return nil, Envelope{}, lastErr
}

// readLoop reads envelopes until the connection fails or ctx is cancelled.
// Frames that do not decode into an envelope are dropped; the consumer's
// handlers own payload validation beyond that.
func (c *RealtimeClient) readLoop(ctx context.Context, conn *websocket.Conn) error {
	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go c.heartbeatLoop(hbCtx, conn)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		var env Envelope
		if json.Unmarshal(data, &env) != nil || env.Type == "" {
			continue
		}
		c.deliver(ctx, env)
	}
}

func (c *RealtimeClient) deliver(ctx context.Context, env Envelope) {
	select {
	case c.events <- env:
	case <-ctx.Done():
	}
}

// heartbeatLoop keeps the connection alive with protocol-level pings. A
// failed ping closes the socket, which surfaces through readLoop and the
// normal reconnect path.
func (c *RealtimeClient) heartbeatLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.config.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				conn.Close(websocket.StatusGoingAway, "heartbeat timeout")
				return
			}
		}
	}
}

// Send sends a command over the hub connection.
func (c *RealtimeClient) Send(ctx context.Context, cmd Command) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("not connected")
	}
	if cmd.RequestID == "" {
		cmd.RequestID = uuid.NewString()
	}
	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

// Close gracefully shuts the connection down. No lifecycle event follows;
// consumers detach before closing, so nothing is listening.
func (c *RealtimeClient) Close() error {
	c.mu.Lock()
	c.intentionalClose = true
	if c.cancelFn != nil {
		c.cancelFn()
		c.cancelFn = nil
	}
	conn := c.conn
	c.conn = nil
	c.state = StateDisconnected
	c.mu.Unlock()

	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	return nil
}
