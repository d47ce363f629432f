package chatsync

import (
	"context"
	"encoding/json"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
)

// ============================================================================
// Connection State
// ============================================================================

// ConnState represents the connection state. It is owned exclusively by Conn;
// every other component observes it read-only.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
)

// StateListener observes connection-state transitions. Listeners are invoked
// in transition order on a single delivery goroutine, so at most one
// invocation is in flight at a time.
type StateListener func(ConnState)

// EventHandler handles an inbound named event. Handlers registered for the
// same event run in registration order, on the connection's read goroutine.
type EventHandler func(payload json.RawMessage)

// ============================================================================
// Configuration
// ============================================================================

// ConnConfig configures a Conn.
type ConnConfig struct {
	HandshakeTimeout   time.Duration
	ConnectAttempts    int
	ReconnectBaseDelay time.Duration
	ReconnectMaxDelay  time.Duration
	Logger             zerolog.Logger
	loggerSet          bool
}

func (c *ConnConfig) defaults() {
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.ConnectAttempts == 0 {
		c.ConnectAttempts = 3
	}
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = time.Second
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if !c.loggerSet {
		c.Logger = zerolog.Nop()
	}
}

// WithLogger sets the logger used by the connection.
func (c *ConnConfig) WithLogger(log zerolog.Logger) *ConnConfig {
	c.Logger = log
	c.loggerSet = true
	return c
}

// SocketURL converts an http(s) endpoint plus socket path into a ws(s) URL.
func SocketURL(endpoint, path string) string {
	u := strings.Replace(endpoint, "https://", "wss://", 1)
	u = strings.Replace(u, "http://", "ws://", 1)
	return strings.TrimRight(u, "/") + path
}

// ============================================================================
// Reconnector
// ============================================================================

// reconnector computes exponential backoff delays with full ±20% jitter.
type reconnector struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	attempt     int
	connectedAt time.Time
}

func (r *reconnector) markConnected() {
	r.connectedAt = time.Now()
}

func (r *reconnector) nextDelay() time.Duration {
	// A connection that held for a minute earns a fresh backoff schedule.
	if !r.connectedAt.IsZero() && time.Since(r.connectedAt) > 60*time.Second {
		r.attempt = 0
	}
	delay := math.Min(
		float64(r.baseDelay)*math.Pow(2, float64(r.attempt)),
		float64(r.maxDelay),
	)
	jittered := delay * (0.8 + 0.4*rand.Float64())
	r.attempt++
	return time.Duration(jittered)
}

func (r *reconnector) reset() {
	r.attempt = 0
	r.connectedAt = time.Time{}
}

// ============================================================================
// Conn
// ============================================================================

// Conn owns the single duplex connection to the messaging server. No other
// component touches the transport directly.
//
// On an unexpected disconnect Conn retries indefinitely with exponential
// backoff until Disconnect is called or a dial succeeds, emitting a state
// transition on every attempt.
type Conn struct {
	url    string
	config ConnConfig
	log    zerolog.Logger

	mu               sync.Mutex
	state            ConnState
	ws               *websocket.Conn
	intentionalClose bool
	cancelFn         context.CancelFunc

	handlersMu sync.RWMutex
	handlers   map[string][]EventHandler
	stateSubs  []StateListener

	stateMu   sync.Mutex
	stateDone bool
	stateCh   chan ConnState

	closeOnce sync.Once
}

// NewConn creates a connection to the given ws(s) URL. The connection starts
// Disconnected; call Connect to establish it.
func NewConn(url string, config *ConnConfig) *Conn {
	cfg := ConnConfig{}
	if config != nil {
		cfg = *config
	}
	cfg.defaults()
	c := &Conn{
		url:      url,
		config:   cfg,
		log:      cfg.Logger.With().Str("component", "conn").Logger(),
		state:    StateDisconnected,
		handlers: make(map[string][]EventHandler),
		stateCh:  make(chan ConnState, 64),
	}
	go c.deliverStates()
	return c
}

// State returns the current connection state.
func (c *Conn) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OnStateChange subscribes to state transitions.
func (c *Conn) OnStateChange(l StateListener) {
	c.handlersMu.Lock()
	c.stateSubs = append(c.stateSubs, l)
	c.handlersMu.Unlock()
}

// OnEvent registers a handler for an inbound named event.
func (c *Conn) OnEvent(event string, h EventHandler) {
	c.handlersMu.Lock()
	c.handlers[event] = append(c.handlers[event], h)
	c.handlersMu.Unlock()
}

// Connect establishes the connection, dialing up to ConnectAttempts times.
// It is idempotent while already connected or connecting. When the retry
// budget is exhausted it returns a *ConnectionError.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateConnected || c.state == StateConnecting {
		c.mu.Unlock()
		return nil
	}
	c.intentionalClose = false
	// A reconnect loop still waiting out its backoff would dial a second
	// socket once the timer fires; this dial supersedes it.
	if c.cancelFn != nil {
		c.cancelFn()
		c.cancelFn = nil
	}
	c.mu.Unlock()
	c.setState(StateConnecting)

	var lastErr error
	for attempt := 0; attempt < c.config.ConnectAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				c.setState(StateDisconnected)
				return &ConnectionError{Endpoint: c.url, Attempts: attempt, Err: ctx.Err()}
			case <-time.After(c.config.ReconnectBaseDelay << attempt):
			}
		}
		ws, err := c.dial(ctx)
		if err != nil {
			lastErr = err
			c.log.Warn().Err(err).Int("attempt", attempt+1).Msg("dial failed")
			continue
		}
		c.adopt(ws)
		return nil
	}

	c.setState(StateDisconnected)
	return &ConnectionError{Endpoint: c.url, Attempts: c.config.ConnectAttempts, Err: lastErr}
}

// Disconnect tears the connection down: the transport is closed, the read
// loop and any in-flight reconnect backoff are cancelled. The Conn stays
// usable; a later Connect re-establishes the connection.
func (c *Conn) Disconnect() error {
	c.mu.Lock()
	c.intentionalClose = true
	if c.cancelFn != nil {
		c.cancelFn()
		c.cancelFn = nil
	}
	ws := c.ws
	c.ws = nil
	c.mu.Unlock()
	c.setState(StateDisconnected)

	if ws != nil {
		return ws.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	return nil
}

// Close permanently tears the Conn down: it disconnects and stops the state
// delivery goroutine. The Conn must not be reused afterwards; transitions
// occurring after Close are dropped.
func (c *Conn) Close() error {
	err := c.Disconnect()
	c.closeOnce.Do(func() {
		c.stateMu.Lock()
		c.stateDone = true
		c.stateMu.Unlock()
		close(c.stateCh)
	})
	return err
}

// Send emits a named event with a JSON payload. It returns ErrNotConnected
// when the state is not Connected; otherwise delivery is fire-and-forget.
func (c *Conn) Send(ctx context.Context, event string, payload any) error {
	c.mu.Lock()
	ws := c.ws
	connected := c.state == StateConnected
	c.mu.Unlock()
	if !connected || ws == nil {
		return ErrNotConnected
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(Envelope{Event: event, Payload: raw})
	if err != nil {
		return err
	}
	return ws.Write(ctx, websocket.MessageText, data)
}

// ── internals ────────────────────────────────────────────

func (c *Conn) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.config.HandshakeTimeout)
	defer cancel()
	ws, _, err := websocket.Dial(dialCtx, c.url, nil)
	return ws, err
}

// adopt installs a freshly dialed socket and starts its read loop.
func (c *Conn) adopt(ws *websocket.Conn) {
	runCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	if c.cancelFn != nil {
		c.cancelFn()
	}
	c.ws = ws
	c.cancelFn = cancel
	c.mu.Unlock()
	c.setState(StateConnected)

	go c.readLoop(runCtx, ws)
}

func (c *Conn) readLoop(ctx context.Context, ws *websocket.Conn) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			c.mu.Lock()
			intentional := c.intentionalClose
			c.ws = nil
			c.mu.Unlock()
			if intentional {
				return
			}
			c.log.Warn().Err(err).Msg("connection lost")
			c.setState(StateDisconnected)
			go c.reconnectLoop(ctx)
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.log.Debug().Err(err).Msg("dropping malformed frame")
			continue
		}
		c.dispatch(env)
	}
}

// dispatch runs handlers synchronously on the read goroutine, so events from
// one connection are handled as discrete, non-overlapping tasks in the order
// the transport received them.
func (c *Conn) dispatch(env Envelope) {
	c.handlersMu.RLock()
	handlers := append([]EventHandler{}, c.handlers[env.Event]...)
	c.handlersMu.RUnlock()
	for _, h := range handlers {
		h(env.Payload)
	}
}

// reconnectLoop retries indefinitely after an unexpected disconnect. The
// context is cancelled by Disconnect, which also cancels the backoff timer.
func (c *Conn) reconnectLoop(ctx context.Context) {
	recon := &reconnector{
		baseDelay: c.config.ReconnectBaseDelay,
		maxDelay:  c.config.ReconnectMaxDelay,
	}
	for {
		delay := recon.nextDelay()
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		c.setState(StateConnecting)
		c.log.Info().Int("attempt", recon.attempt).Dur("delay", delay).Msg("reconnecting")

		ws, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.setState(StateDisconnected)
			continue
		}

		c.mu.Lock()
		// A manual Connect may have superseded this loop between the timer
		// and the dial; its socket wins.
		if c.intentionalClose || ctx.Err() != nil || c.state == StateConnected {
			c.mu.Unlock()
			ws.Close(websocket.StatusNormalClosure, "superseded")
			return
		}
		c.ws = ws
		c.mu.Unlock()
		c.setState(StateConnected)
		recon.markConnected()

		go c.readLoop(ctx, ws)
		return
	}
}

func (c *Conn) setState(s ConnState) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	c.mu.Unlock()

	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if c.stateDone {
		return
	}
	c.stateCh <- s
}

// deliverStates fans state transitions out to listeners one at a time, in the
// order they occurred.
func (c *Conn) deliverStates() {
	for s := range c.stateCh {
		c.handlersMu.RLock()
		subs := append([]StateListener{}, c.stateSubs...)
		c.handlersMu.RUnlock()
		for _, l := range subs {
			l(s)
		}
	}
}
