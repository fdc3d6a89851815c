package wavechat

import (
	"sync"
	"time"
)

// defaultTypingTTL bounds how long a typing indicator survives without a
// refresh, so a lost UserStoppedTyping event cannot leave it stuck.
const defaultTypingTTL = 8 * time.Second

// PresenceTracker holds ephemeral, non-persisted state: which users are
// online and which users are typing in which chat. Typing entries expire on
// their own after the TTL and are additionally cleared the instant the
// user's message arrives in that chat.
type PresenceTracker struct {
	mu     sync.Mutex
	ttl    time.Duration
	now    func() time.Time
	online map[string]struct{}
	typing map[string]map[string]time.Time // chatID -> userID -> deadline
}

// NewPresenceTracker creates a tracker with the default typing TTL.
func NewPresenceTracker() *PresenceTracker {
	return &PresenceTracker{
		ttl:    defaultTypingTTL,
		now:    time.Now,
		online: make(map[string]struct{}),
		typing: make(map[string]map[string]time.Time),
	}
}

// SetOnline records whether a user is online.
func (t *PresenceTracker) SetOnline(userID string, online bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if online {
		t.online[userID] = struct{}{}
	} else {
		delete(t.online, userID)
	}
}

// Online reports whether a user is currently online.
func (t *PresenceTracker) Online(userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.online[userID]
	return ok
}

// OnlineUsers returns the ids of all users currently online.
func (t *PresenceTracker) OnlineUsers() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.online))
	for id := range t.online {
		out = append(out, id)
	}
	return out
}

// SetTyping starts or stops a user's typing indicator in a chat. Starting
// refreshes the expiry deadline.
func (t *PresenceTracker) SetTyping(chatID, userID string, isTyping bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !isTyping {
		t.clearTypingLocked(chatID, userID)
		return
	}
	if t.typing[chatID] == nil {
		t.typing[chatID] = make(map[string]time.Time)
	}
	t.typing[chatID][userID] = t.now().Add(t.ttl)
}

// ClearTyping removes a user's typing indicator in a chat.
func (t *PresenceTracker) ClearTyping(chatID, userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clearTypingLocked(chatID, userID)
}

func (t *PresenceTracker) clearTypingLocked(chatID, userID string) {
	users := t.typing[chatID]
	if users == nil {
		return
	}
	delete(users, userID)
	if len(users) == 0 {
		delete(t.typing, chatID)
	}
}

// TypingUsers returns the users currently typing in a chat, pruning expired
// entries on the way.
func (t *PresenceTracker) TypingUsers(chatID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	users := t.typing[chatID]
	if len(users) == 0 {
		return nil
	}
	now := t.now()
	out := make([]string, 0, len(users))
	for id, deadline := range users {
		if now.After(deadline) {
			delete(users, id)
			continue
		}
		out = append(out, id)
	}
	if len(users) == 0 {
		delete(t.typing, chatID)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Reset drops all presence and typing state. Called on teardown so state
// from a previous session cannot leak into the next one.
func (t *PresenceTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.online = make(map[string]struct{})
	t.typing = make(map[string]map[string]time.Time)
}
