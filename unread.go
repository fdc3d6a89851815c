package wavechat

import "sync"

// UnreadTracker maintains the per-chat unread counters and the global
// counter, plus the "currently active chat" the viewer is looking at. One
// mutex covers every counter so the invariant
//
//	global == sum(perChat)
//
// holds after each mutation; both sides of every change happen in the same
// critical section. Counters never go below zero.
type UnreadTracker struct {
	mu      sync.Mutex
	active  string
	perChat map[string]int
	global  int
}

// NewUnreadTracker creates a tracker with all counters at zero.
func NewUnreadTracker() *UnreadTracker {
	return &UnreadTracker{perChat: make(map[string]int)}
}

// SetActive marks the chat the viewer is currently looking at. Pass "" when
// no chat is open.
func (t *UnreadTracker) SetActive(chatID string) {
	t.mu.Lock()
	t.active = chatID
	t.mu.Unlock()
}

// Active returns the currently active chat id.
func (t *UnreadTracker) Active() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// Increment bumps a chat's counter and the global counter together and
// returns the chat's new value.
func (t *UnreadTracker) Increment(chatID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.perChat[chatID]++
	t.global++
	return t.perChat[chatID]
}

// Zero resets a chat's counter and subtracts its prior value from the global
// counter, clamping at zero. Returns the prior value.
func (t *UnreadTracker) Zero(chatID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	prior := t.perChat[chatID]
	if prior == 0 {
		return 0
	}
	delete(t.perChat, chatID)
	t.global -= prior
	if t.global < 0 {
		t.global = 0
	}
	return prior
}

// Forget drops a chat from tracking entirely (used when the viewer is
// removed from the chat). Equivalent to Zero for counter purposes.
func (t *UnreadTracker) Forget(chatID string) {
	t.Zero(chatID)
}

// Chat returns a chat's unread counter.
func (t *UnreadTracker) Chat(chatID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.perChat[chatID]
}

// Global returns the global unread counter.
func (t *UnreadTracker) Global() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.global
}

// ReplaceAll swaps in server-derived counters after a full refetch, keeping
// the active chat forced to zero. The global counter is recomputed from the
// new values in the same step.
func (t *UnreadTracker) ReplaceAll(counts map[string]int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.perChat = make(map[string]int, len(counts))
	t.global = 0
	for chatID, n := range counts {
		if n <= 0 || chatID == t.active {
			continue
		}
		t.perChat[chatID] = n
		t.global += n
	}
}
