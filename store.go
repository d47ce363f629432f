package chatsync

import (
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// MessageStore is the ordered, deduplicated per-conversation message log.
// It is the exclusive owner of the message sequences; the sync engine is the
// single writer. Messages are append-only.
type MessageStore struct {
	log zerolog.Logger

	mu        sync.RWMutex
	logs      map[string][]Message
	seen      map[string]map[string]struct{}
	summaries map[string]MessageSummary
	unread    map[string]int

	subsMu  sync.Mutex
	subs    map[string]map[int]func()
	nextSub int
}

// NewMessageStore creates an empty store.
func NewMessageStore(log zerolog.Logger) *MessageStore {
	return &MessageStore{
		log:       log.With().Str("component", "store").Logger(),
		logs:      make(map[string][]Message),
		seen:      make(map[string]map[string]struct{}),
		summaries: make(map[string]MessageSummary),
		unread:    make(map[string]int),
		subs:      make(map[string]map[int]func()),
	}
}

// Append inserts the message unless one with the same ID already exists in
// the conversation, and reports whether an insertion occurred. Duplicate
// delivery (optimistic append overlapping the server echo) is an idempotent,
// logged no-op. After a successful insert the conversation summary is
// recomputed and subscribers are notified.
func (s *MessageStore) Append(conversationID string, msg Message) bool {
	s.mu.Lock()
	ids := s.seen[conversationID]
	if ids == nil {
		ids = make(map[string]struct{})
		s.seen[conversationID] = ids
	}
	if _, dup := ids[msg.ID]; dup {
		s.mu.Unlock()
		s.log.Debug().
			Str("conversation_id", conversationID).
			Str("message_id", msg.ID).
			Msg("duplicate message ignored")
		return false
	}
	ids[msg.ID] = struct{}{}
	s.logs[conversationID] = append(s.logs[conversationID], msg)
	s.updateSummaryLocked(conversationID)
	s.mu.Unlock()

	s.notify(conversationID)
	return true
}

// Ordered returns the conversation's messages sorted by timestamp ascending,
// ties broken by insertion order. The snapshot is safe to render without
// further synchronization.
func (s *MessageStore) Ordered(conversationID string) []Message {
	s.mu.RLock()
	msgs := append([]Message(nil), s.logs[conversationID]...)
	s.mu.RUnlock()

	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].SentAt.Before(msgs[j].SentAt)
	})
	return msgs
}

// Summary returns the cached lastMessage summary, or false when the
// conversation has no messages.
func (s *MessageStore) Summary(conversationID string) (MessageSummary, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sum, ok := s.summaries[conversationID]
	return sum, ok
}

// UpdateSummary recomputes the lastMessage summary from the tail of the
// ordered sequence.
func (s *MessageStore) UpdateSummary(conversationID string) {
	s.mu.Lock()
	s.updateSummaryLocked(conversationID)
	s.mu.Unlock()
}

func (s *MessageStore) updateSummaryLocked(conversationID string) {
	msgs := s.logs[conversationID]
	if len(msgs) == 0 {
		delete(s.summaries, conversationID)
		return
	}
	last := msgs[0]
	for _, m := range msgs[1:] {
		if !m.SentAt.Before(last.SentAt) {
			last = m
		}
	}
	s.summaries[conversationID] = MessageSummary{Text: last.Text, SentAt: last.SentAt}
}

// SearchMessages returns up to limit messages whose text contains query,
// case-insensitively. An empty conversationID searches every conversation.
func (s *MessageStore) SearchMessages(query, conversationID string, limit int) []Message {
	if limit <= 0 {
		limit = 50
	}
	q := strings.ToLower(query)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var convIDs []string
	if conversationID != "" {
		convIDs = []string{conversationID}
	} else {
		for id := range s.logs {
			convIDs = append(convIDs, id)
		}
		sort.Strings(convIDs)
	}

	var results []Message
	for _, id := range convIDs {
		for _, m := range s.logs[id] {
			if strings.Contains(strings.ToLower(m.Text), q) {
				results = append(results, m)
				if len(results) >= limit {
					return results
				}
			}
		}
	}
	return results
}

// ── Unread counters ──────────────────────────────────────

// IncrementUnread bumps the conversation's unread counter.
func (s *MessageStore) IncrementUnread(conversationID string) {
	s.mu.Lock()
	s.unread[conversationID]++
	s.mu.Unlock()
}

// Unread returns the conversation's unread counter.
func (s *MessageStore) Unread(conversationID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.unread[conversationID]
}

// ResetUnread clears the conversation's unread counter and notifies
// subscribers so list views can drop the badge.
func (s *MessageStore) ResetUnread(conversationID string) {
	s.mu.Lock()
	changed := s.unread[conversationID] != 0
	s.unread[conversationID] = 0
	s.mu.Unlock()
	if changed {
		s.notify(conversationID)
	}
}

// ── Change notification ──────────────────────────────────

// Subscribe registers a callback fired whenever the conversation is updated,
// so callers can re-render only affected conversations. The returned func
// cancels the subscription.
func (s *MessageStore) Subscribe(conversationID string, fn func()) (cancel func()) {
	s.subsMu.Lock()
	id := s.nextSub
	s.nextSub++
	if s.subs[conversationID] == nil {
		s.subs[conversationID] = make(map[int]func())
	}
	s.subs[conversationID][id] = fn
	s.subsMu.Unlock()

	return func() {
		s.subsMu.Lock()
		delete(s.subs[conversationID], id)
		s.subsMu.Unlock()
	}
}

func (s *MessageStore) notify(conversationID string) {
	s.subsMu.Lock()
	fns := make([]func(), 0, len(s.subs[conversationID]))
	for _, fn := range s.subs[conversationID] {
		fns = append(fns, fn)
	}
	s.subsMu.Unlock()
	for _, fn := range fns {
		fn()
	}
}
