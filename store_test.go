package chatsync

import (
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func ts(offset int) time.Time {
	return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC).Add(time.Duration(offset) * time.Second)
}

func msg(id string, offset int) Message {
	return Message{ID: id, SenderID: "user-a", Text: "text " + id, SentAt: ts(offset)}
}

func TestMessageStore_AppendDeduplicates(t *testing.T) {
	store := NewMessageStore(zerolog.Nop())

	if !store.Append("conv-1", msg("msg-1", 0)) {
		t.Fatal("first append should insert")
	}
	if store.Append("conv-1", msg("msg-1", 0)) {
		t.Error("second append of the same ID should be a no-op")
	}
	// Same ID, different body: still a duplicate.
	dup := msg("msg-1", 5)
	dup.Text = "changed"
	if store.Append("conv-1", dup) {
		t.Error("append with a repeated ID should not insert, regardless of body")
	}

	got := store.Ordered("conv-1")
	if len(got) != 1 {
		t.Fatalf("expected exactly one message, got %d", len(got))
	}
	if got[0].ID != "msg-1" || got[0].Text != "text msg-1" {
		t.Errorf("stored message mutated: %+v", got[0])
	}
}

func TestMessageStore_SameIDDifferentConversations(t *testing.T) {
	store := NewMessageStore(zerolog.Nop())

	if !store.Append("conv-1", msg("msg-1", 0)) {
		t.Fatal("append to conv-1 should insert")
	}
	if !store.Append("conv-2", msg("msg-1", 0)) {
		t.Error("IDs are unique per conversation; the same ID in another conversation should insert")
	}
}

func TestMessageStore_OrderedSortsByTimestamp(t *testing.T) {
	store := NewMessageStore(zerolog.Nop())

	// Arrival order t2, t1, t3.
	store.Append("conv-1", msg("m2", 2))
	store.Append("conv-1", msg("m1", 1))
	store.Append("conv-1", msg("m3", 3))

	got := store.Ordered("conv-1")
	want := []string{"m1", "m2", "m3"}
	if len(got) != len(want) {
		t.Fatalf("expected %d messages, got %d", len(want), len(got))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("position %d: got %s, want %s", i, got[i].ID, id)
		}
	}
}

func TestMessageStore_OrderedBreaksTiesByInsertionOrder(t *testing.T) {
	store := NewMessageStore(zerolog.Nop())

	for i := 0; i < 5; i++ {
		store.Append("conv-1", msg(fmt.Sprintf("tie-%d", i), 7))
	}

	got := store.Ordered("conv-1")
	for i := range got {
		want := fmt.Sprintf("tie-%d", i)
		if got[i].ID != want {
			t.Errorf("position %d: got %s, want %s", i, got[i].ID, want)
		}
	}
}

func TestMessageStore_Summary(t *testing.T) {
	store := NewMessageStore(zerolog.Nop())

	if _, ok := store.Summary("conv-1"); ok {
		t.Error("empty conversation should have no summary")
	}

	store.Append("conv-1", msg("m2", 2))
	store.Append("conv-1", msg("m1", 1)) // older arrives late

	sum, ok := store.Summary("conv-1")
	if !ok {
		t.Fatal("expected a summary after appends")
	}
	if sum.Text != "text m2" {
		t.Errorf("summary should reflect the newest message, got %q", sum.Text)
	}
	if !sum.SentAt.Equal(ts(2)) {
		t.Errorf("summary timestamp = %v, want %v", sum.SentAt, ts(2))
	}
}

func TestMessageStore_SubscribeNotifiesPerConversation(t *testing.T) {
	store := NewMessageStore(zerolog.Nop())

	var conv1, conv2 int
	cancel := store.Subscribe("conv-1", func() { conv1++ })
	store.Subscribe("conv-2", func() { conv2++ })

	store.Append("conv-1", msg("m1", 1))
	store.Append("conv-1", msg("m1", 1)) // duplicate, must not notify
	store.Append("conv-1", msg("m2", 2))

	if conv1 != 2 {
		t.Errorf("conv-1 subscriber fired %d times, want 2", conv1)
	}
	if conv2 != 0 {
		t.Errorf("conv-2 subscriber fired %d times, want 0", conv2)
	}

	cancel()
	store.Append("conv-1", msg("m3", 3))
	if conv1 != 2 {
		t.Error("cancelled subscriber should not fire")
	}
}

func TestMessageStore_UnreadCounters(t *testing.T) {
	store := NewMessageStore(zerolog.Nop())

	store.IncrementUnread("conv-1")
	store.IncrementUnread("conv-1")
	if got := store.Unread("conv-1"); got != 2 {
		t.Fatalf("unread = %d, want 2", got)
	}

	notified := 0
	store.Subscribe("conv-1", func() { notified++ })

	store.ResetUnread("conv-1")
	if got := store.Unread("conv-1"); got != 0 {
		t.Errorf("unread after reset = %d, want 0", got)
	}
	if notified != 1 {
		t.Errorf("reset should notify once, fired %d times", notified)
	}

	// Resetting an already-zero counter is silent.
	store.ResetUnread("conv-1")
	if notified != 1 {
		t.Error("reset of a zero counter should not notify")
	}
}

func TestMessageStore_SearchMessages(t *testing.T) {
	store := NewMessageStore(zerolog.Nop())

	store.Append("conv-1", Message{ID: "m1", SenderID: "a", Text: "Логотип draft ready", SentAt: ts(1)})
	store.Append("conv-1", Message{ID: "m2", SenderID: "b", Text: "looks great, thanks!", SentAt: ts(2)})
	store.Append("conv-2", Message{ID: "m3", SenderID: "a", Text: "Draft two attached", SentAt: ts(3)})

	if got := store.SearchMessages("draft", "conv-1", 10); len(got) != 1 || got[0].ID != "m1" {
		t.Errorf("scoped search = %v, want [m1]", ids(got))
	}
	if got := store.SearchMessages("draft", "", 10); len(got) != 2 {
		t.Errorf("global search found %d messages, want 2", len(got))
	}
	if got := store.SearchMessages("draft", "", 1); len(got) != 1 {
		t.Errorf("limit not honored, got %d results", len(got))
	}
	if got := store.SearchMessages("missing", "", 10); len(got) != 0 {
		t.Errorf("expected no results, got %v", ids(got))
	}
}

func ids(msgs []Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}
