package chatsync

import (
	"encoding/json"
	"time"
)

// ============================================================================
// Domain Types
// ============================================================================

// Role is a marketplace user's role.
type Role string

const (
	RoleClient     Role = "client"
	RoleFreelancer Role = "freelancer"
)

// User is an immutable marketplace identity.
type User struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
	Role   Role   `json:"role"`
}

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	OrderPending    OrderStatus = "Pending"
	OrderInProgress OrderStatus = "In Progress"
	OrderCompleted  OrderStatus = "Completed"
	OrderCancelled  OrderStatus = "Cancelled"
)

// Order links a client and a freelancer through a gig purchase. Orders are
// the sole source of truth for who may converse with whom.
type Order struct {
	ID           string      `json:"id"`
	GigID        string      `json:"gigId"`
	ClientID     string      `json:"clientId"`
	FreelancerID string      `json:"freelancerId"`
	Status       OrderStatus `json:"status"`
	CreatedAt    time.Time   `json:"createdAt"`
}

// Message is a single chat message. Messages are append-only: once stored
// they are never mutated or deleted.
type Message struct {
	ID       string    `json:"id"`
	SenderID string    `json:"senderId"`
	Text     string    `json:"text"`
	SentAt   time.Time `json:"timestamp"`
}

// MessageSummary is the cached tail of a conversation, used for list views.
type MessageSummary struct {
	Text   string    `json:"text"`
	SentAt time.Time `json:"timestamp"`
}

// Conversation is a two-party chat channel. Its existence does not grant
// permission to view it; permission is derived from orders at query time.
type Conversation struct {
	ID           string          `json:"id"`
	Participants [2]string       `json:"participants"`
	LastMessage  *MessageSummary `json:"lastMessage,omitempty"`
	UnreadCount  int             `json:"unreadCount"`
}

// Counterpart returns the participant that is not userID, or "" if userID is
// not a participant.
func (c Conversation) Counterpart(userID string) string {
	switch userID {
	case c.Participants[0]:
		return c.Participants[1]
	case c.Participants[1]:
		return c.Participants[0]
	}
	return ""
}

// Has reports whether userID is one of the two participants.
func (c Conversation) Has(userID string) bool {
	return c.Participants[0] == userID || c.Participants[1] == userID
}

// ============================================================================
// Wire Protocol
// ============================================================================

// Event names exchanged with the messaging server.
const (
	EventReceiveMessage    = "receiveMessage"
	EventSendMessage       = "sendMessage"
	EventJoinConversation  = "joinConversation"
	EventLeaveConversation = "leaveConversation"
)

// Envelope is the wire format for all socket events.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// MessagePayload carries a message for sendMessage and receiveMessage events.
type MessagePayload struct {
	Message        Message `json:"message"`
	ConversationID string  `json:"conversationId"`
}

// RoomPayload carries a channel reference for join and leave events.
type RoomPayload struct {
	ConversationID string `json:"conversationId"`
}

// ============================================================================
// API Types
// ============================================================================

// APIError represents an error response from the marketplace backend.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return e.Code + ": " + e.Message
}

// APIResult is the generic response wrapper of the marketplace backend.
type APIResult struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *APIError       `json:"error,omitempty"`
}

// Decode unmarshals the Data field into v.
func (r *APIResult) Decode(v any) error {
	return json.Unmarshal(r.Data, v)
}

// Directory is an immutable snapshot of the marketplace data the engine
// consumes: the current user and order sets plus the full conversation list.
// Callers refresh it as a whole; the engine never mutates it.
type Directory struct {
	Users         []User         `json:"users"`
	Orders        []Order        `json:"orders"`
	Conversations []Conversation `json:"conversations"`
}
