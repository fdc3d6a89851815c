package wavechat

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// ============================================================================
// Test Helpers
// ============================================================================

const testSecret = "test-webhook-secret-key"

func makeTestSignature(body, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func makeTestBody(t *testing.T) string {
	t.Helper()
	env := mustEnvelope(t, EventReceiveMessage, testMsg("m-001", "c-001", "u-001", "Hello from test"))
	b, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return string(b)
}

// ============================================================================
// VerifyWebhookSignature
// ============================================================================

func TestVerifyWebhookSignature(t *testing.T) {
	t.Run("valid signature", func(t *testing.T) {
		body := makeTestBody(t)
		sig := makeTestSignature(body, testSecret)
		if !VerifyWebhookSignature(body, sig, testSecret) {
			t.Fatal("expected valid signature")
		}
	})

	t.Run("valid without prefix", func(t *testing.T) {
		body := makeTestBody(t)
		sig := strings.TrimPrefix(makeTestSignature(body, testSecret), "sha256=")
		if !VerifyWebhookSignature(body, sig, testSecret) {
			t.Fatal("expected valid signature without prefix")
		}
	})

	t.Run("wrong signature", func(t *testing.T) {
		body := makeTestBody(t)
		sig := "sha256=" + strings.Repeat("0", 64)
		if VerifyWebhookSignature(body, sig, testSecret) {
			t.Fatal("expected invalid signature")
		}
	})

	t.Run("wrong secret", func(t *testing.T) {
		body := makeTestBody(t)
		sig := makeTestSignature(body, "wrong-secret")
		if VerifyWebhookSignature(body, sig, testSecret) {
			t.Fatal("expected invalid signature with wrong secret")
		}
	})

	t.Run("tampered body", func(t *testing.T) {
		body := makeTestBody(t)
		sig := makeTestSignature(body, testSecret)
		if VerifyWebhookSignature(body+"tampered", sig, testSecret) {
			t.Fatal("expected invalid for tampered body")
		}
	})

	t.Run("empty body", func(t *testing.T) {
		if VerifyWebhookSignature("", "sha256=abc", testSecret) {
			t.Fatal("expected false for empty body")
		}
	})

	t.Run("empty signature", func(t *testing.T) {
		if VerifyWebhookSignature("body", "", testSecret) {
			t.Fatal("expected false for empty signature")
		}
	})

	t.Run("empty secret", func(t *testing.T) {
		if VerifyWebhookSignature("body", "sha256=abc", "") {
			t.Fatal("expected false for empty secret")
		}
	})
}

// ============================================================================
// ParseWebhookEnvelope
// ============================================================================

func TestParseWebhookEnvelope(t *testing.T) {
	t.Run("valid body", func(t *testing.T) {
		env, err := ParseWebhookEnvelope(makeTestBody(t))
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		if env.Type != EventReceiveMessage {
			t.Errorf("type = %q, want ReceiveMessage", env.Type)
		}
		var msg Message
		if err := json.Unmarshal(env.Payload, &msg); err != nil || msg.ID != "m-001" {
			t.Errorf("payload did not round-trip: %v %+v", err, msg)
		}
	})

	t.Run("invalid JSON", func(t *testing.T) {
		if _, err := ParseWebhookEnvelope("{not json"); err == nil {
			t.Fatal("expected parse error")
		}
	})

	t.Run("missing type", func(t *testing.T) {
		if _, err := ParseWebhookEnvelope(`{"payload":{}}`); err == nil {
			t.Fatal("expected error for missing type")
		}
	})
}

// ============================================================================
// Webhook
// ============================================================================

func TestNewWebhook(t *testing.T) {
	sink := func(Envelope) error { return nil }

	if _, err := NewWebhook("", sink); err == nil {
		t.Fatal("expected error for empty secret")
	}
	if _, err := NewWebhook(testSecret, nil); err == nil {
		t.Fatal("expected error for nil sink")
	}
	if _, err := NewWebhook(testSecret, sink); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestWebhook_Handle(t *testing.T) {
	t.Run("forwards verified envelope", func(t *testing.T) {
		var got Envelope
		wh, _ := NewWebhook(testSecret, func(env Envelope) error {
			got = env
			return nil
		})
		body := makeTestBody(t)
		status, _ := wh.Handle(body, makeTestSignature(body, testSecret))
		if status != http.StatusOK {
			t.Fatalf("status = %d, want 200", status)
		}
		if got.Type != EventReceiveMessage {
			t.Errorf("sink received type %q", got.Type)
		}
	})

	t.Run("rejects bad signature", func(t *testing.T) {
		called := false
		wh, _ := NewWebhook(testSecret, func(Envelope) error {
			called = true
			return nil
		})
		status, _ := wh.Handle(makeTestBody(t), "sha256="+strings.Repeat("0", 64))
		if status != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", status)
		}
		if called {
			t.Fatal("sink ran for an unverified delivery")
		}
	})

	t.Run("rejects unparseable body", func(t *testing.T) {
		wh, _ := NewWebhook(testSecret, func(Envelope) error { return nil })
		body := "{not json"
		status, _ := wh.Handle(body, makeTestSignature(body, testSecret))
		if status != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", status)
		}
	})

	t.Run("sink failure is a server error", func(t *testing.T) {
		wh, _ := NewWebhook(testSecret, func(Envelope) error {
			return fmt.Errorf("downstream broke")
		})
		body := makeTestBody(t)
		status, _ := wh.Handle(body, makeTestSignature(body, testSecret))
		if status != http.StatusInternalServerError {
			t.Fatalf("status = %d, want 500", status)
		}
	})
}

func TestWebhook_HTTPHandler(t *testing.T) {
	wh, _ := NewWebhook(testSecret, func(Envelope) error { return nil })
	srv := httptest.NewServer(wh.HTTPHandler())
	defer srv.Close()

	t.Run("valid delivery", func(t *testing.T) {
		body := makeTestBody(t)
		req, _ := http.NewRequest(http.MethodPost, srv.URL, strings.NewReader(body))
		req.Header.Set("X-WaveChat-Signature", makeTestSignature(body, testSecret))
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("request: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			data, _ := io.ReadAll(resp.Body)
			t.Fatalf("status = %d, body = %s", resp.StatusCode, data)
		}
	})

	t.Run("missing signature", func(t *testing.T) {
		resp, err := http.Post(srv.URL, "application/json", strings.NewReader(makeTestBody(t)))
		if err != nil {
			t.Fatalf("request: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", resp.StatusCode)
		}
	})

	t.Run("wrong method", func(t *testing.T) {
		resp, err := http.Get(srv.URL)
		if err != nil {
			t.Fatalf("request: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusMethodNotAllowed {
			t.Fatalf("status = %d, want 405", resp.StatusCode)
		}
	})
}
