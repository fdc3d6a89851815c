package wavechat

import "time"

// Paginated collections, newest page first and newest item first within a
// page. All transforms are pure: they return a new outer slice and copy only
// the pages they touch, sharing every untouched page with the input. Callers
// must treat the stored pages as immutable.

// A MessagePage is one fetched page of messages.
type MessagePage []Message

// MessagePages is a chat's cached message collection.
type MessagePages []MessagePage

// A ChatPage is one fetched page of chats.
type ChatPage []Chat

// ChatPages is the cached chat list.
type ChatPages []ChatPage

// ============================================================================
// Message projections
// ============================================================================

// Find locates a message by server id across all pages.
func (p MessagePages) Find(id string) (page, idx int, ok bool) {
	if id == "" {
		return 0, 0, false
	}
	for pi, pg := range p {
		for i, m := range pg {
			if m.ID == id {
				return pi, i, true
			}
		}
	}
	return 0, 0, false
}

// FindClient locates a provisional message by its client id.
func (p MessagePages) FindClient(clientID string) (page, idx int, ok bool) {
	if clientID == "" {
		return 0, 0, false
	}
	for pi, pg := range p {
		for i, m := range pg {
			if m.ClientID == clientID {
				return pi, i, true
			}
		}
	}
	return 0, 0, false
}

// Flatten assembles the pages into one logical sequence for display.
func (p MessagePages) Flatten() []Message {
	n := 0
	for _, pg := range p {
		n += len(pg)
	}
	out := make([]Message, 0, n)
	for _, pg := range p {
		out = append(out, pg...)
	}
	return out
}

// Len reports the total number of cached messages.
func (p MessagePages) Len() int {
	n := 0
	for _, pg := range p {
		n += len(pg)
	}
	return n
}

// withPage returns a copy of p where page pi has been replaced by the result
// of mutate applied to a private copy of that page. All other pages are
// shared with the input.
func (p MessagePages) withPage(pi int, mutate func(MessagePage) MessagePage) MessagePages {
	out := make(MessagePages, len(p))
	copy(out, p)
	pg := make(MessagePage, len(p[pi]))
	copy(pg, p[pi])
	out[pi] = mutate(pg)
	return out
}

// Prepend inserts a message at the head of the first page, creating the page
// if the collection is empty. The message lands in front because the hub
// delivers it strictly after everything already cached.
func (p MessagePages) Prepend(msg Message) MessagePages {
	if len(p) == 0 {
		return MessagePages{MessagePage{msg}}
	}
	return p.withPage(0, func(pg MessagePage) MessagePage {
		return append(MessagePage{msg}, pg...)
	})
}

// ReplaceClient swaps the provisional entry carrying clientID for msg,
// preserving its position. Reports whether a provisional entry was found.
func (p MessagePages) ReplaceClient(clientID string, msg Message) (MessagePages, bool) {
	pi, i, ok := p.FindClient(clientID)
	if !ok {
		return p, false
	}
	return p.withPage(pi, func(pg MessagePage) MessagePage {
		pg[i] = msg
		return pg
	}), true
}

// Patch applies fn to the message with the given server id. Reports whether
// the message was found.
func (p MessagePages) Patch(id string, fn func(Message) Message) (MessagePages, bool) {
	pi, i, ok := p.Find(id)
	if !ok {
		return p, false
	}
	return p.withPage(pi, func(pg MessagePage) MessagePage {
		pg[i] = fn(pg[i])
		return pg
	}), true
}

// PatchClient applies fn to the provisional message carrying clientID.
func (p MessagePages) PatchClient(clientID string, fn func(Message) Message) (MessagePages, bool) {
	pi, i, ok := p.FindClient(clientID)
	if !ok {
		return p, false
	}
	return p.withPage(pi, func(pg MessagePage) MessagePage {
		pg[i] = fn(pg[i])
		return pg
	}), true
}

// RemoveClient drops the provisional message carrying clientID.
func (p MessagePages) RemoveClient(clientID string) (MessagePages, bool) {
	pi, i, ok := p.FindClient(clientID)
	if !ok {
		return p, false
	}
	return p.withPage(pi, func(pg MessagePage) MessagePage {
		return append(pg[:i], pg[i+1:]...)
	}), true
}

// ============================================================================
// Message field transforms
// ============================================================================

// withReactionAdded adds userID to the emoji's user set. Idempotent.
func withReactionAdded(m Message, emoji, userID string) Message {
	for i, r := range m.Reactions {
		if r.Emoji != emoji {
			continue
		}
		for _, u := range r.UserIDs {
			if u == userID {
				return m
			}
		}
		reactions := make([]Reaction, len(m.Reactions))
		copy(reactions, m.Reactions)
		users := make([]string, len(r.UserIDs), len(r.UserIDs)+1)
		copy(users, r.UserIDs)
		reactions[i].UserIDs = append(users, userID)
		m.Reactions = reactions
		return m
	}
	reactions := make([]Reaction, len(m.Reactions), len(m.Reactions)+1)
	copy(reactions, m.Reactions)
	m.Reactions = append(reactions, Reaction{Emoji: emoji, UserIDs: []string{userID}})
	return m
}

// withReactionRemoved removes userID from the emoji's user set, dropping the
// reaction entry when the set empties. No-op if the user was not present.
func withReactionRemoved(m Message, emoji, userID string) Message {
	for i, r := range m.Reactions {
		if r.Emoji != emoji {
			continue
		}
		at := -1
		for j, u := range r.UserIDs {
			if u == userID {
				at = j
				break
			}
		}
		if at < 0 {
			return m
		}
		reactions := make([]Reaction, len(m.Reactions))
		copy(reactions, m.Reactions)
		if len(r.UserIDs) == 1 {
			m.Reactions = append(reactions[:i], reactions[i+1:]...)
			return m
		}
		users := make([]string, 0, len(r.UserIDs)-1)
		users = append(users, r.UserIDs[:at]...)
		users = append(users, r.UserIDs[at+1:]...)
		reactions[i].UserIDs = users
		m.Reactions = reactions
		return m
	}
	return m
}

// withEdit patches content and the edited flag. A nil attachments slice
// leaves the attachments untouched.
func withEdit(m Message, content string, editedAt time.Time, attachments []Attachment) Message {
	m.Content = content
	m.Edited = true
	at := editedAt
	m.EditedAt = &at
	if attachments != nil {
		m.Attachments = attachments
	}
	return m
}

// withDeleted soft-deletes: the entity survives so its id stays stable for
// reactions and replies, but displayed content is cleared.
func withDeleted(m Message) Message {
	m.Deleted = true
	m.Content = ""
	m.Attachments = []Attachment{}
	m.Embeds = []Embed{}
	return m
}

// withRestored reverses a soft delete.
func withRestored(m Message, content string, attachments []Attachment, embeds []Embed) Message {
	m.Deleted = false
	m.Content = content
	if attachments != nil {
		m.Attachments = attachments
	} else {
		m.Attachments = []Attachment{}
	}
	if embeds != nil {
		m.Embeds = embeds
	} else {
		m.Embeds = []Embed{}
	}
	return m
}

// ============================================================================
// Chat projections
// ============================================================================

// Find locates a chat by id across all pages.
func (p ChatPages) Find(id string) (page, idx int, ok bool) {
	for pi, pg := range p {
		for i, c := range pg {
			if c.ID == id {
				return pi, i, true
			}
		}
	}
	return 0, 0, false
}

// Get returns the cached chat with the given id.
func (p ChatPages) Get(id string) (Chat, bool) {
	pi, i, ok := p.Find(id)
	if !ok {
		return Chat{}, false
	}
	return p[pi][i], true
}

// Flatten assembles the pages into one logical sequence for display.
func (p ChatPages) Flatten() []Chat {
	n := 0
	for _, pg := range p {
		n += len(pg)
	}
	out := make([]Chat, 0, n)
	for _, pg := range p {
		out = append(out, pg...)
	}
	return out
}

func (p ChatPages) withPage(pi int, mutate func(ChatPage) ChatPage) ChatPages {
	out := make(ChatPages, len(p))
	copy(out, p)
	pg := make(ChatPage, len(p[pi]))
	copy(pg, p[pi])
	out[pi] = mutate(pg)
	return out
}

// Patch applies fn to the chat with the given id.
func (p ChatPages) Patch(id string, fn func(Chat) Chat) (ChatPages, bool) {
	pi, i, ok := p.Find(id)
	if !ok {
		return p, false
	}
	return p.withPage(pi, func(pg ChatPage) ChatPage {
		pg[i] = fn(pg[i])
		return pg
	}), true
}

// Remove drops the chat with the given id from its page.
func (p ChatPages) Remove(id string) (ChatPages, bool) {
	pi, i, ok := p.Find(id)
	if !ok {
		return p, false
	}
	return p.withPage(pi, func(pg ChatPage) ChatPage {
		return append(pg[:i], pg[i+1:]...)
	}), true
}

// Promote moves the chat with the given id to the head of the first page,
// keeping the list ordered by recency after it received a new message.
func (p ChatPages) Promote(id string) (ChatPages, bool) {
	pi, i, ok := p.Find(id)
	if !ok {
		return p, false
	}
	if pi == 0 && i == 0 {
		return p, true
	}
	chat := p[pi][i]
	out, _ := p.Remove(id)
	if len(out) == 0 {
		return ChatPages{ChatPage{chat}}, true
	}
	return out.withPage(0, func(pg ChatPage) ChatPage {
		return append(ChatPage{chat}, pg...)
	}), true
}

// ============================================================================
// Chat field transforms
// ============================================================================

// withParticipantJoined adds the participant. Idempotent on user id.
func withParticipantJoined(c Chat, part Participant) Chat {
	for _, existing := range c.Participants {
		if existing.UserID == part.UserID {
			return c
		}
	}
	parts := make([]Participant, len(c.Participants), len(c.Participants)+1)
	copy(parts, c.Participants)
	c.Participants = append(parts, part)
	return c
}

// withParticipantLeft removes the participant with the given user id.
func withParticipantLeft(c Chat, userID string) Chat {
	for i, existing := range c.Participants {
		if existing.UserID != userID {
			continue
		}
		parts := make([]Participant, 0, len(c.Participants)-1)
		parts = append(parts, c.Participants[:i]...)
		parts = append(parts, c.Participants[i+1:]...)
		c.Participants = parts
		return c
	}
	return c
}

// withReadReceipt updates a participant's read state.
func withReadReceipt(c Chat, userID, lastReadMessageID string, readAt time.Time) Chat {
	for i, existing := range c.Participants {
		if existing.UserID != userID {
			continue
		}
		parts := make([]Participant, len(c.Participants))
		copy(parts, c.Participants)
		at := readAt
		parts[i].LastReadAt = &at
		if lastReadMessageID != "" {
			parts[i].LastReadMessageID = lastReadMessageID
		}
		c.Participants = parts
		return c
	}
	return c
}

// withLastMessagePatched applies fn to the denormalized last message when it
// refers to messageID.
func withLastMessagePatched(c Chat, messageID string, fn func(Message) Message) Chat {
	if c.LastMessage == nil || c.LastMessage.ID != messageID {
		return c
	}
	last := fn(*c.LastMessage)
	c.LastMessage = &last
	return c
}
