// Package chatsync implements the realtime conversation sync engine of the
// Freelancer marketplace client: connection lifecycle, room membership,
// deduplicated message logs, and the order-derived visibility rule that
// restricts which conversations a user may see.
//
// Example:
//
//	engine := chatsync.New("https://api.example.com", "/api/socket", "user-1")
//	if err := engine.Connect(ctx); err != nil {
//		// endpoint unreachable after the retry budget
//	}
//	defer engine.Close()
//
//	engine.Join(ctx, "conv-1")
//	cancel := engine.Subscribe("conv-1", func() { render(engine.Messages("conv-1")) })
//	defer cancel()
//
//	engine.SendText(ctx, "conv-1", "Hello!")
package chatsync

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DirectorySource supplies the current marketplace snapshot (users, orders,
// conversations). The engine treats each snapshot as immutable.
type DirectorySource interface {
	Directory(ctx context.Context) (Directory, error)
}

// Engine wires the connection, room registry, message store and visibility
// filter together. It is the only component that calls Conn.Send and
// MessageStore.Append for the same message, enforcing the optimistic-send
// protocol: append locally, emit, and let the idempotent append collapse the
// server echo into a confirmation.
type Engine struct {
	userID string
	conn   *Conn
	rooms  *RoomRegistry
	store  *MessageStore
	source DirectorySource
	log    zerolog.Logger

	// opMu serializes coordinator operations so inbound events and outbound
	// sends never interleave mid-update.
	opMu sync.Mutex

	dirMu     sync.RWMutex
	directory Directory
}

// Option configures an Engine.
type Option func(*engineConfig)

type engineConfig struct {
	logger zerolog.Logger
	conn   ConnConfig
	source DirectorySource
}

// WithLogger sets the logger shared by the engine and its components.
func WithLogger(log zerolog.Logger) Option {
	return func(c *engineConfig) { c.logger = log }
}

// WithConnConfig overrides connection tuning (timeouts, retry budget,
// backoff bounds).
func WithConnConfig(cfg ConnConfig) Option {
	return func(c *engineConfig) { c.conn = cfg }
}

// WithDirectorySource lets Refresh pull snapshots from the given source,
// typically a *Client.
func WithDirectorySource(src DirectorySource) Option {
	return func(c *engineConfig) { c.source = src }
}

// New creates an engine for the session user. endpoint is the marketplace
// base URL; socketPath is the messaging server's socket path on that host.
func New(endpoint, socketPath, userID string, opts ...Option) *Engine {
	cfg := engineConfig{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&cfg)
	}

	connCfg := cfg.conn
	if !connCfg.loggerSet {
		connCfg.WithLogger(cfg.logger)
	}
	conn := NewConn(SocketURL(endpoint, socketPath), &connCfg)

	e := &Engine{
		userID: userID,
		conn:   conn,
		rooms:  NewRoomRegistry(conn, cfg.logger),
		store:  NewMessageStore(cfg.logger),
		source: cfg.source,
		log:    cfg.logger.With().Str("component", "engine").Logger(),
	}
	conn.OnEvent(EventReceiveMessage, e.handleReceive)
	return e
}

// Connect establishes the socket connection.
func (e *Engine) Connect(ctx context.Context) error {
	return e.conn.Connect(ctx)
}

// Close permanently tears the connection down, cancels any pending reconnect
// and releases the connection's internal goroutine. The engine must not be
// reused afterwards.
func (e *Engine) Close() error {
	return e.conn.Close()
}

// ConnectionState returns the current transport state.
func (e *Engine) ConnectionState() ConnState {
	return e.conn.State()
}

// OnStateChange subscribes to transport state transitions, e.g. to render
// "Connecting…" feedback.
func (e *Engine) OnStateChange(l StateListener) {
	e.conn.OnStateChange(l)
}

// ── Directory ────────────────────────────────────────────

// SetDirectory replaces the marketplace snapshot. Visibility is derived from
// it at query time, so callers invoke this on every order or user change.
func (e *Engine) SetDirectory(d Directory) {
	e.dirMu.Lock()
	e.directory = d
	e.dirMu.Unlock()
}

// Refresh pulls a fresh snapshot from the configured DirectorySource.
func (e *Engine) Refresh(ctx context.Context) error {
	if e.source == nil {
		return nil
	}
	d, err := e.source.Directory(ctx)
	if err != nil {
		return err
	}
	e.SetDirectory(d)
	return nil
}

// VisibleConversations returns the conversations userID is permitted to see,
// newest activity first, hydrated with cached summaries and unread counters.
// Permission is computed from the order set on every call; it is never
// cached, so a cancelled or newly created order takes effect immediately.
func (e *Engine) VisibleConversations(userID string) []Conversation {
	e.dirMu.RLock()
	orders := e.directory.Orders
	convs := append([]Conversation(nil), e.directory.Conversations...)
	e.dirMu.RUnlock()

	visible := FilterConversations(convs, userID, AllowedCounterparts(userID, orders))
	for i := range visible {
		if sum, ok := e.store.Summary(visible[i].ID); ok {
			visible[i].LastMessage = &sum
		}
		visible[i].UnreadCount = e.store.Unread(visible[i].ID)
	}
	sort.SliceStable(visible, func(i, j int) bool {
		a, b := visible[i].LastMessage, visible[j].LastMessage
		switch {
		case a == nil && b == nil:
			return visible[i].ID < visible[j].ID
		case b == nil:
			return true
		case a == nil:
			return false
		}
		return a.SentAt.After(b.SentAt)
	})
	return visible
}

// ── Rooms ────────────────────────────────────────────────

// Join ensures channel membership for the conversation, now and across
// reconnects.
func (e *Engine) Join(ctx context.Context, conversationID string) {
	e.rooms.Join(ctx, conversationID)
}

// Leave drops channel membership for the conversation.
func (e *Engine) Leave(ctx context.Context, conversationID string) {
	e.rooms.Leave(ctx, conversationID)
}

// Joined returns the recorded channel set.
func (e *Engine) Joined() []string {
	return e.rooms.Joined()
}

// ── Messages ─────────────────────────────────────────────

// Messages returns the conversation's ordered message snapshot.
func (e *Engine) Messages(conversationID string) []Message {
	return e.store.Ordered(conversationID)
}

// Subscribe registers a per-conversation update callback. The returned func
// cancels the subscription.
func (e *Engine) Subscribe(conversationID string, fn func()) (cancel func()) {
	return e.store.Subscribe(conversationID, fn)
}

// MarkRead clears the conversation's unread counter.
func (e *Engine) MarkRead(conversationID string) {
	e.store.ResetUnread(conversationID)
}

// SearchMessages searches the local logs. An empty conversationID searches
// every conversation.
func (e *Engine) SearchMessages(query, conversationID string, limit int) []Message {
	return e.store.SearchMessages(query, conversationID, limit)
}

// SendText sends a message through the optimistic-send protocol: a locally
// unique ID is generated, the message is appended to the store, then emitted
// over the connection. The server echo with the same ID lands on the
// idempotent append, which confirms delivery without a separate status flag.
//
// While not Connected it returns ErrNotConnected and appends nothing. If the
// emit fails after the append, the message stays visible locally; re-sending
// is a caller-initiated action, never an automatic retry.
func (e *Engine) SendText(ctx context.Context, conversationID, text string) (Message, error) {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	if e.conn.State() != StateConnected {
		return Message{}, ErrNotConnected
	}

	msg := Message{
		ID:       uuid.NewString(),
		SenderID: e.userID,
		Text:     text,
		SentAt:   time.Now().UTC(),
	}
	e.store.Append(conversationID, msg)

	if err := e.conn.Send(ctx, EventSendMessage, MessagePayload{
		Message:        msg,
		ConversationID: conversationID,
	}); err != nil {
		e.log.Warn().Err(err).Str("message_id", msg.ID).Msg("emit failed, message kept locally")
		return msg, err
	}
	return msg, nil
}

// handleReceive is the inbound receiveMessage path: decode, idempotent
// append, bump the unread counter for counterpart messages. Notification
// rides on the append.
func (e *Engine) handleReceive(payload json.RawMessage) {
	var p MessagePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		e.log.Debug().Err(err).Msg("dropping malformed receiveMessage payload")
		return
	}

	e.opMu.Lock()
	defer e.opMu.Unlock()

	if e.store.Append(p.ConversationID, p.Message) && p.Message.SenderID != e.userID {
		e.store.IncrementUnread(p.ConversationID)
	}
}
