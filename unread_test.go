package wavechat

import "testing"

// checkUnreadInvariant asserts global == sum(perChat) over the given chats.
func checkUnreadInvariant(t *testing.T, tr *UnreadTracker, chats ...string) {
	t.Helper()
	sum := 0
	for _, id := range chats {
		sum += tr.Chat(id)
	}
	if got := tr.Global(); got != sum {
		t.Fatalf("global = %d, sum(perChat) = %d", got, sum)
	}
}

func TestUnreadTracker_IncrementAndZero(t *testing.T) {
	tr := NewUnreadTracker()

	if n := tr.Increment("c1"); n != 1 {
		t.Fatalf("first increment = %d, want 1", n)
	}
	tr.Increment("c1")
	tr.Increment("c2")
	checkUnreadInvariant(t, tr, "c1", "c2")

	if tr.Chat("c1") != 2 || tr.Chat("c2") != 1 || tr.Global() != 3 {
		t.Fatalf("counters c1=%d c2=%d global=%d, want 2,1,3", tr.Chat("c1"), tr.Chat("c2"), tr.Global())
	}

	if prior := tr.Zero("c1"); prior != 2 {
		t.Fatalf("zero returned %d, want 2", prior)
	}
	if tr.Chat("c1") != 0 || tr.Global() != 1 {
		t.Fatalf("after zero: c1=%d global=%d, want 0,1", tr.Chat("c1"), tr.Global())
	}
	checkUnreadInvariant(t, tr, "c1", "c2")
}

func TestUnreadTracker_ZeroIsIdempotent(t *testing.T) {
	tr := NewUnreadTracker()
	tr.Increment("c1")
	tr.Zero("c1")
	if prior := tr.Zero("c1"); prior != 0 {
		t.Fatalf("second zero returned %d, want 0", prior)
	}
	if tr.Global() != 0 {
		t.Fatalf("global = %d, want 0", tr.Global())
	}
}

func TestUnreadTracker_NeverNegative(t *testing.T) {
	tr := NewUnreadTracker()
	tr.Zero("c1")
	tr.Zero("c2")
	tr.Forget("c3")
	if tr.Global() != 0 || tr.Chat("c1") != 0 {
		t.Fatalf("counters went negative: global=%d c1=%d", tr.Global(), tr.Chat("c1"))
	}
}

func TestUnreadTracker_Active(t *testing.T) {
	tr := NewUnreadTracker()
	tr.SetActive("c1")
	if tr.Active() != "c1" {
		t.Fatalf("active = %q, want c1", tr.Active())
	}
	tr.SetActive("")
	if tr.Active() != "" {
		t.Fatalf("active = %q, want empty", tr.Active())
	}
}

func TestUnreadTracker_ReplaceAll(t *testing.T) {
	tr := NewUnreadTracker()
	tr.Increment("stale")
	tr.SetActive("c2")

	tr.ReplaceAll(map[string]int{
		"c1": 3,
		"c2": 5, // active: must be dropped
		"c3": 0, // non-positive: must be dropped
		"c4": -1,
	})

	if tr.Chat("stale") != 0 {
		t.Error("pre-replace counter survived")
	}
	if tr.Chat("c1") != 3 {
		t.Errorf("c1 = %d, want 3", tr.Chat("c1"))
	}
	if tr.Chat("c2") != 0 {
		t.Errorf("active chat counter = %d, want 0", tr.Chat("c2"))
	}
	if tr.Global() != 3 {
		t.Errorf("global = %d, want 3", tr.Global())
	}
	checkUnreadInvariant(t, tr, "c1", "c2", "c3", "c4", "stale")
}
