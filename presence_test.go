package wavechat

import (
	"sort"
	"testing"
	"time"
)

func TestPresenceTracker_Online(t *testing.T) {
	tr := NewPresenceTracker()

	tr.SetOnline("u1", true)
	tr.SetOnline("u2", true)
	if !tr.Online("u1") {
		t.Fatal("u1 should be online")
	}

	tr.SetOnline("u1", false)
	if tr.Online("u1") {
		t.Fatal("u1 should be offline")
	}

	got := tr.OnlineUsers()
	if len(got) != 1 || got[0] != "u2" {
		t.Fatalf("online users = %v, want [u2]", got)
	}
}

func TestPresenceTracker_Typing(t *testing.T) {
	tr := NewPresenceTracker()

	tr.SetTyping("c1", "u1", true)
	tr.SetTyping("c1", "u2", true)
	tr.SetTyping("c2", "u1", true)

	got := tr.TypingUsers("c1")
	sort.Strings(got)
	if len(got) != 2 || got[0] != "u1" || got[1] != "u2" {
		t.Fatalf("typing in c1 = %v, want [u1 u2]", got)
	}

	tr.SetTyping("c1", "u1", false)
	if got := tr.TypingUsers("c1"); len(got) != 1 || got[0] != "u2" {
		t.Fatalf("typing in c1 = %v, want [u2]", got)
	}

	tr.ClearTyping("c2", "u1")
	if got := tr.TypingUsers("c2"); got != nil {
		t.Fatalf("typing in c2 = %v, want nil", got)
	}

	// Clearing a user who is not typing is safe.
	tr.ClearTyping("c9", "u9")
}

func TestPresenceTracker_TypingExpires(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	tr := NewPresenceTracker()
	tr.now = func() time.Time { return now }

	tr.SetTyping("c1", "u1", true)
	if got := tr.TypingUsers("c1"); len(got) != 1 {
		t.Fatalf("typing = %v, want [u1]", got)
	}

	// Just inside the TTL.
	now = now.Add(defaultTypingTTL - time.Second)
	if got := tr.TypingUsers("c1"); len(got) != 1 {
		t.Fatalf("typing = %v before expiry, want [u1]", got)
	}

	// Past the TTL the indicator is pruned on read.
	now = now.Add(2 * time.Second)
	if got := tr.TypingUsers("c1"); got != nil {
		t.Fatalf("typing = %v after expiry, want nil", got)
	}
}

func TestPresenceTracker_TypingRefreshExtendsDeadline(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	tr := NewPresenceTracker()
	tr.now = func() time.Time { return now }

	tr.SetTyping("c1", "u1", true)
	now = now.Add(defaultTypingTTL - time.Second)
	tr.SetTyping("c1", "u1", true)

	// The original deadline has passed but the refresh keeps it alive.
	now = now.Add(2 * time.Second)
	if got := tr.TypingUsers("c1"); len(got) != 1 {
		t.Fatalf("typing = %v after refresh, want [u1]", got)
	}
}

func TestPresenceTracker_Reset(t *testing.T) {
	tr := NewPresenceTracker()
	tr.SetOnline("u1", true)
	tr.SetTyping("c1", "u1", true)

	tr.Reset()
	if tr.Online("u1") {
		t.Error("online state survived reset")
	}
	if got := tr.TypingUsers("c1"); got != nil {
		t.Errorf("typing state survived reset: %v", got)
	}
}
