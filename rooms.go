package chatsync

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

// roomTransport is the slice of Conn the registry needs.
type roomTransport interface {
	State() ConnState
	Send(ctx context.Context, event string, payload any) error
	OnStateChange(l StateListener)
}

// RoomRegistry tracks which conversation channels the session has joined.
// The recorded set is the source of truth: the transport does not persist
// room membership across a reconnect, so the registry re-emits a join request
// for every recorded channel whenever the connection comes back up.
type RoomRegistry struct {
	transport roomTransport
	log       zerolog.Logger

	mu     sync.Mutex
	joined map[string]struct{}
}

// NewRoomRegistry creates a registry bound to the given transport. It
// subscribes to the Connected transition to converge transport membership
// with the recorded set.
func NewRoomRegistry(transport roomTransport, log zerolog.Logger) *RoomRegistry {
	r := &RoomRegistry{
		transport: transport,
		log:       log.With().Str("component", "rooms").Logger(),
		joined:    make(map[string]struct{}),
	}
	transport.OnStateChange(func(s ConnState) {
		if s == StateConnected {
			r.rejoinAll()
		}
	})
	return r
}

// Join records intent to receive events for the channel and, if currently
// connected, emits the join request immediately; otherwise it is deferred
// until the next Connected transition.
func (r *RoomRegistry) Join(ctx context.Context, conversationID string) {
	r.mu.Lock()
	r.joined[conversationID] = struct{}{}
	r.mu.Unlock()

	if r.transport.State() != StateConnected {
		return
	}
	if err := r.transport.Send(ctx, EventJoinConversation, RoomPayload{ConversationID: conversationID}); err != nil {
		// Deferred: the rejoin on the next Connected transition covers it.
		r.log.Debug().Err(err).Str("conversation_id", conversationID).Msg("join deferred")
	}
}

// Leave removes the channel from the registry. No-op if not joined.
func (r *RoomRegistry) Leave(ctx context.Context, conversationID string) {
	r.mu.Lock()
	if _, ok := r.joined[conversationID]; !ok {
		r.mu.Unlock()
		return
	}
	delete(r.joined, conversationID)
	r.mu.Unlock()

	if r.transport.State() != StateConnected {
		return
	}
	if err := r.transport.Send(ctx, EventLeaveConversation, RoomPayload{ConversationID: conversationID}); err != nil {
		r.log.Debug().Err(err).Str("conversation_id", conversationID).Msg("leave not sent")
	}
}

// Joined returns a sorted snapshot of the recorded channel set.
func (r *RoomRegistry) Joined() []string {
	r.mu.Lock()
	ids := make([]string, 0, len(r.joined))
	for id := range r.joined {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	sort.Strings(ids)
	return ids
}

func (r *RoomRegistry) rejoinAll() {
	for _, id := range r.Joined() {
		if err := r.transport.Send(context.Background(), EventJoinConversation, RoomPayload{ConversationID: id}); err != nil {
			r.log.Warn().Err(err).Str("conversation_id", id).Msg("rejoin failed")
		}
	}
}
