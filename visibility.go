package chatsync

// AllowedCounterparts returns the set of user IDs who appear as the other
// party on any order involving userID, whether userID ordered the gig or
// owns it. Order status is not consulted: a cancelled order still records a
// transactional relationship, so message history stays reachable.
func AllowedCounterparts(userID string, orders []Order) map[string]struct{} {
	allowed := make(map[string]struct{})
	for _, o := range orders {
		switch userID {
		case o.ClientID:
			allowed[o.FreelancerID] = struct{}{}
		case o.FreelancerID:
			allowed[o.ClientID] = struct{}{}
		}
	}
	return allowed
}

// FilterConversations returns only the conversations whose two participants
// are userID and a member of allowed. Message history alone never grants
// visibility; only a transactional relationship does, so a conversation with
// zero qualifying orders is excluded even when it already holds messages.
func FilterConversations(conversations []Conversation, userID string, allowed map[string]struct{}) []Conversation {
	visible := make([]Conversation, 0, len(conversations))
	for _, c := range conversations {
		if !c.Has(userID) {
			continue
		}
		if _, ok := allowed[c.Counterpart(userID)]; !ok {
			continue
		}
		visible = append(visible, c)
	}
	return visible
}
