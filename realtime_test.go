package wavechat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"nhooyr.io/websocket"
)

// ============================================================================
// Test Helpers
// ============================================================================

// startHub serves a fake hub endpoint; accept runs once per connection.
func startHub(t *testing.T, accept func(conn *websocket.Conn, r *http.Request)) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		accept(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

func writeEnvelope(t *testing.T, conn *websocket.Conn, env Envelope) {
	t.Helper()
	data, err := json.Marshal(env)
	if err != nil {
		t.Errorf("marshal envelope: %v", err)
		return
	}
	if err := conn.Write(context.Background(), websocket.MessageText, data); err != nil {
		t.Logf("hub write: %v", err)
	}
}

func connectedEnvelope(t *testing.T, userID string) Envelope {
	t.Helper()
	payload, err := json.Marshal(ConnectedPayload{ConnectionID: "conn-1", UserID: userID})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return Envelope{Type: EventConnected, Payload: payload}
}

func recvEnvelope(t *testing.T, ch <-chan Envelope) Envelope {
	t.Helper()
	select {
	case env := <-ch:
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for an envelope")
		return Envelope{}
	}
}

func recvLifecycle(t *testing.T, ch <-chan LifecycleEvent) LifecycleEvent {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a lifecycle event")
		return LifecycleEvent{}
	}
}

// ============================================================================
// Connect / receive
// ============================================================================

func TestRealtimeClient_ConnectAndReceive(t *testing.T) {
	baseURL := startHub(t, func(conn *websocket.Conn, r *http.Request) {
		if r.URL.Path != "/hubs/chat" {
			t.Errorf("path = %s, want /hubs/chat", r.URL.Path)
		}
		if got := r.URL.Query().Get("access_token"); got != "test-token" {
			t.Errorf("access_token = %q", got)
		}
		writeEnvelope(t, conn, connectedEnvelope(t, "me"))
		payload, _ := json.Marshal(testMsg("m1", "c1", "u1", "hi"))
		writeEnvelope(t, conn, Envelope{Type: EventReceiveMessage, Payload: payload})
		// Hold the connection open until the client goes away.
		conn.Read(context.Background())
	})

	c := NewRealtimeClient(&RealtimeConfig{BaseURL: baseURL, Token: "test-token"})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Close()

	if c.State() != StateConnected {
		t.Fatalf("state = %s, want connected", c.State())
	}

	lc := recvLifecycle(t, c.Lifecycle())
	if lc.State != StateConnected || lc.Resumed {
		t.Fatalf("lifecycle = %+v, want initial connected", lc)
	}

	// The handshake envelope itself is delivered first, in order.
	first := recvEnvelope(t, c.Events())
	if first.Type != EventConnected {
		t.Fatalf("first event = %s, want Connected", first.Type)
	}
	second := recvEnvelope(t, c.Events())
	if second.Type != EventReceiveMessage {
		t.Fatalf("second event = %s, want ReceiveMessage", second.Type)
	}
	var msg Message
	if err := json.Unmarshal(second.Payload, &msg); err != nil || msg.ID != "m1" {
		t.Fatalf("payload did not survive the wire: %v %+v", err, msg)
	}
}

func TestRealtimeClient_RejectsBadHandshake(t *testing.T) {
	baseURL := startHub(t, func(conn *websocket.Conn, r *http.Request) {
		// First frame is not the Connected event.
		writeEnvelope(t, conn, Envelope{Type: EventUserOnline, Payload: json.RawMessage(`{"userId":"u1"}`)})
	})

	c := NewRealtimeClient(&RealtimeConfig{BaseURL: baseURL, Token: "test-token"})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.Connect(ctx); err == nil {
		t.Fatal("expected handshake rejection")
	}
	if c.State() != StateDisconnected {
		t.Fatalf("state = %s, want disconnected", c.State())
	}
}

func TestRealtimeClient_ConnectTwiceIsIdempotent(t *testing.T) {
	baseURL := startHub(t, func(conn *websocket.Conn, r *http.Request) {
		writeEnvelope(t, conn, connectedEnvelope(t, "me"))
		conn.Read(context.Background())
	})

	c := NewRealtimeClient(&RealtimeConfig{BaseURL: baseURL, Token: "test-token"})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Close()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("second connect: %v", err)
	}
}

// ============================================================================
// Send
// ============================================================================

func TestRealtimeClient_Send(t *testing.T) {
	received := make(chan Command, 1)
	baseURL := startHub(t, func(conn *websocket.Conn, r *http.Request) {
		writeEnvelope(t, conn, connectedEnvelope(t, "me"))
		_, data, err := conn.Read(context.Background())
		if err != nil {
			return
		}
		var cmd Command
		if json.Unmarshal(data, &cmd) == nil {
			received <- cmd
		}
	})

	c := NewRealtimeClient(&RealtimeConfig{BaseURL: baseURL, Token: "test-token"})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Close()

	if err := c.Send(ctx, Command{Type: CommandStartTyping, Payload: map[string]string{"chatId": "c1"}}); err != nil {
		t.Fatalf("send: %v", err)
	}

	select {
	case cmd := <-received:
		if cmd.Type != CommandStartTyping {
			t.Errorf("type = %s, want StartTyping", cmd.Type)
		}
		if cmd.RequestID == "" {
			t.Error("requestId not assigned")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("hub never received the command")
	}
}

func TestRealtimeClient_SendWhileDisconnected(t *testing.T) {
	c := NewRealtimeClient(&RealtimeConfig{BaseURL: "http://127.0.0.1:0", Token: "t"})
	if err := c.Send(context.Background(), Command{Type: CommandStartTyping}); err == nil {
		t.Fatal("expected send to fail while disconnected")
	}
}

// ============================================================================
// Reconnect
// ============================================================================

func TestRealtimeClient_Reconnect(t *testing.T) {
	var dials atomic.Int32
	baseURL := startHub(t, func(conn *websocket.Conn, r *http.Request) {
		n := dials.Add(1)
		writeEnvelope(t, conn, connectedEnvelope(t, "me"))
		if n == 1 {
			// Drop the first connection straight after the handshake.
			conn.Close(websocket.StatusInternalError, "kicked")
			return
		}
		conn.Read(context.Background())
	})

	c := NewRealtimeClient(&RealtimeConfig{
		BaseURL:            baseURL,
		Token:              "test-token",
		AutoReconnect:      true,
		ReconnectBaseDelay: 10 * time.Millisecond,
		ReconnectMaxDelay:  50 * time.Millisecond,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Close()

	if lc := recvLifecycle(t, c.Lifecycle()); lc.State != StateConnected || lc.Resumed {
		t.Fatalf("lifecycle = %+v, want initial connected", lc)
	}

	// The drop surfaces as reconnecting, then a resumed connection.
	lc := recvLifecycle(t, c.Lifecycle())
	if lc.State != StateReconnecting {
		t.Fatalf("lifecycle = %+v, want reconnecting", lc)
	}
	for lc.State == StateReconnecting {
		lc = recvLifecycle(t, c.Lifecycle())
	}
	if lc.State != StateConnected || !lc.Resumed {
		t.Fatalf("lifecycle = %+v, want resumed connected", lc)
	}
	if dials.Load() < 2 {
		t.Fatalf("dials = %d, want at least 2", dials.Load())
	}
}

func TestRealtimeClient_NoReconnectWhenDisabled(t *testing.T) {
	baseURL := startHub(t, func(conn *websocket.Conn, r *http.Request) {
		writeEnvelope(t, conn, connectedEnvelope(t, "me"))
		conn.Close(websocket.StatusInternalError, "kicked")
	})

	c := NewRealtimeClient(&RealtimeConfig{BaseURL: baseURL, Token: "test-token"})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Close()

	if lc := recvLifecycle(t, c.Lifecycle()); lc.State != StateConnected {
		t.Fatalf("lifecycle = %+v, want connected", lc)
	}
	if lc := recvLifecycle(t, c.Lifecycle()); lc.State != StateDisconnected {
		t.Fatalf("lifecycle = %+v, want terminal disconnected", lc)
	}
}

// ============================================================================
// Reconnector
// ============================================================================

func TestReconnector_Backoff(t *testing.T) {
	r := newReconnector(&RealtimeConfig{
		ReconnectBaseDelay:   100 * time.Millisecond,
		ReconnectMaxDelay:    1 * time.Second,
		MaxReconnectAttempts: 3,
	})

	var prev time.Duration
	for i := 0; i < 3; i++ {
		if !r.shouldReconnect() {
			t.Fatalf("attempt %d blocked inside the budget", i)
		}
		d := r.nextDelay()
		if d < prev {
			t.Fatalf("delay shrank: %v after %v", d, prev)
		}
		if d > 1*time.Second {
			t.Fatalf("delay %v exceeds the cap", d)
		}
		prev = d
	}
	if r.shouldReconnect() {
		t.Fatal("budget not exhausted after max attempts")
	}
}

func TestRealtimeClient_HubURL(t *testing.T) {
	tests := []struct {
		name    string
		baseURL string
		want    string
	}{
		{"https", "https://api.wavechat.io", "wss://api.wavechat.io/hubs/chat?access_token=tok"},
		{"http", "http://localhost:8080", "ws://localhost:8080/hubs/chat?access_token=tok"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewRealtimeClient(&RealtimeConfig{BaseURL: tt.baseURL, Token: "tok"})
			if got := c.hubURL(); got != tt.want {
				t.Errorf("hubURL = %q, want %q", got, tt.want)
			}
		})
	}
}
