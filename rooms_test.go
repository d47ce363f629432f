package chatsync

import (
	"context"
	"reflect"
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

// fakeTransport is a scripted roomTransport for registry tests.
type fakeTransport struct {
	mu        sync.Mutex
	state     ConnState
	listeners []StateListener
	sent      []sentEvent
}

type sentEvent struct {
	Event          string
	ConversationID string
}

func newFakeTransport(state ConnState) *fakeTransport {
	return &fakeTransport{state: state}
}

func (f *fakeTransport) State() ConnState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeTransport) Send(_ context.Context, event string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != StateConnected {
		return ErrNotConnected
	}
	room, _ := payload.(RoomPayload)
	f.sent = append(f.sent, sentEvent{Event: event, ConversationID: room.ConversationID})
	return nil
}

func (f *fakeTransport) OnStateChange(l StateListener) {
	f.mu.Lock()
	f.listeners = append(f.listeners, l)
	f.mu.Unlock()
}

func (f *fakeTransport) setState(s ConnState) {
	f.mu.Lock()
	f.state = s
	listeners := append([]StateListener{}, f.listeners...)
	f.mu.Unlock()
	for _, l := range listeners {
		l(s)
	}
}

func (f *fakeTransport) sentEvents() []sentEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentEvent{}, f.sent...)
}

func TestRoomRegistry_JoinWhileConnectedEmitsImmediately(t *testing.T) {
	transport := newFakeTransport(StateConnected)
	reg := NewRoomRegistry(transport, zerolog.Nop())

	reg.Join(context.Background(), "conv-1")

	want := []sentEvent{{Event: EventJoinConversation, ConversationID: "conv-1"}}
	if got := transport.sentEvents(); !reflect.DeepEqual(got, want) {
		t.Errorf("sent = %v, want %v", got, want)
	}
}

func TestRoomRegistry_JoinWhileDisconnectedIsDeferred(t *testing.T) {
	transport := newFakeTransport(StateDisconnected)
	reg := NewRoomRegistry(transport, zerolog.Nop())

	reg.Join(context.Background(), "conv-1")
	reg.Join(context.Background(), "conv-2")

	if got := transport.sentEvents(); len(got) != 0 {
		t.Fatalf("nothing should be emitted while disconnected, got %v", got)
	}
	if got := reg.Joined(); !reflect.DeepEqual(got, []string{"conv-1", "conv-2"}) {
		t.Errorf("recorded set = %v", got)
	}

	// The Connected transition flushes the deferred joins.
	transport.setState(StateConnected)

	got := transport.sentEvents()
	want := []sentEvent{
		{Event: EventJoinConversation, ConversationID: "conv-1"},
		{Event: EventJoinConversation, ConversationID: "conv-2"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("sent = %v, want %v", got, want)
	}
}

func TestRoomRegistry_RejoinsEveryChannelAfterReconnect(t *testing.T) {
	transport := newFakeTransport(StateConnected)
	reg := NewRoomRegistry(transport, zerolog.Nop())

	ctx := context.Background()
	reg.Join(ctx, "conv-1")
	reg.Join(ctx, "conv-2")
	reg.Join(ctx, "conv-3")

	// Simulated drop and reconnect.
	transport.setState(StateDisconnected)
	transport.setState(StateConnecting)
	transport.setState(StateConnected)

	joined := make(map[string]int)
	for _, e := range transport.sentEvents() {
		if e.Event == EventJoinConversation {
			joined[e.ConversationID]++
		}
	}
	for _, id := range []string{"conv-1", "conv-2", "conv-3"} {
		// Once on Join, once on rejoin; no channel silently dropped.
		if joined[id] != 2 {
			t.Errorf("channel %s joined %d times, want 2", id, joined[id])
		}
	}
}

func TestRoomRegistry_LeftChannelIsNotRejoined(t *testing.T) {
	transport := newFakeTransport(StateConnected)
	reg := NewRoomRegistry(transport, zerolog.Nop())

	ctx := context.Background()
	reg.Join(ctx, "conv-1")
	reg.Join(ctx, "conv-2")
	reg.Leave(ctx, "conv-1")

	transport.setState(StateDisconnected)
	transport.setState(StateConnected)

	for _, e := range transport.sentEvents()[3:] {
		if e.ConversationID == "conv-1" {
			t.Errorf("left channel conv-1 must not be rejoined, got %v", e)
		}
	}
	if got := reg.Joined(); !reflect.DeepEqual(got, []string{"conv-2"}) {
		t.Errorf("recorded set = %v, want [conv-2]", got)
	}
}

func TestRoomRegistry_LeaveIsNoOpWhenNotJoined(t *testing.T) {
	transport := newFakeTransport(StateConnected)
	reg := NewRoomRegistry(transport, zerolog.Nop())

	reg.Leave(context.Background(), "conv-1")

	if got := transport.sentEvents(); len(got) != 0 {
		t.Errorf("leave of an unjoined channel must emit nothing, got %v", got)
	}
}

func TestRoomRegistry_LeaveEmitsWhileConnected(t *testing.T) {
	transport := newFakeTransport(StateConnected)
	reg := NewRoomRegistry(transport, zerolog.Nop())

	ctx := context.Background()
	reg.Join(ctx, "conv-1")
	reg.Leave(ctx, "conv-1")

	got := transport.sentEvents()
	want := []sentEvent{
		{Event: EventJoinConversation, ConversationID: "conv-1"},
		{Event: EventLeaveConversation, ConversationID: "conv-1"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("sent = %v, want %v", got, want)
	}
}
