package wavechat

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Server-side integrations (bots, bridges) can receive the same named events
// over signed HTTP webhooks instead of holding a hub connection open. The
// body is a wire Envelope; the signature is HMAC-SHA256 over the raw body.

// WebhookSink consumes a verified webhook envelope.
type WebhookSink func(env Envelope) error

// VerifyWebhookSignature verifies a WaveChat webhook signature using
// HMAC-SHA256 with constant-time comparison.
func VerifyWebhookSignature(body, signature, secret string) bool {
	if body == "" || signature == "" || secret == "" {
		return false
	}

	sig := strings.TrimPrefix(signature, "sha256=")
	if sig == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	expected := hex.EncodeToString(mac.Sum(nil))

	if len(sig) != len(expected) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(sig), []byte(expected)) == 1
}

// ParseWebhookEnvelope parses a raw webhook body into a wire envelope.
func ParseWebhookEnvelope(body string) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal([]byte(body), &env); err != nil {
		return nil, fmt.Errorf("invalid JSON in webhook body: %w", err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("missing type field in webhook body")
	}
	return &env, nil
}

// Webhook verifies, parses, and forwards WaveChat webhook deliveries.
type Webhook struct {
	secret string
	sink   WebhookSink
}

// NewWebhook creates a webhook receiver that forwards verified envelopes to
// sink.
func NewWebhook(secret string, sink WebhookSink) (*Webhook, error) {
	if secret == "" {
		return nil, fmt.Errorf("webhook secret is required")
	}
	if sink == nil {
		return nil, fmt.Errorf("webhook sink is required")
	}
	return &Webhook{secret: secret, sink: sink}, nil
}

// Verify verifies an HMAC-SHA256 signature against the raw body.
func (w *Webhook) Verify(body, signature string) bool {
	return VerifyWebhookSignature(body, signature, w.secret)
}

// Handle processes one delivery (verify + parse + forward). Returns the
// status code and response body for the caller to write.
func (w *Webhook) Handle(body, signature string) (int, any) {
	if !w.Verify(body, signature) {
		return http.StatusUnauthorized, map[string]string{"error": "Invalid signature"}
	}

	env, err := ParseWebhookEnvelope(body)
	if err != nil {
		return http.StatusBadRequest, map[string]string{"error": err.Error()}
	}

	if err := w.sink(*env); err != nil {
		return http.StatusInternalServerError, map[string]string{"error": err.Error()}
	}
	return http.StatusOK, map[string]bool{"ok": true}
}

// HTTPHandler returns an http.Handler that processes webhook deliveries.
//
// Example:
//
//	wh, _ := wavechat.NewWebhook("secret", sink)
//	http.Handle("/webhook", wh.HTTPHandler())
func (w *Webhook) HTTPHandler() http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.Header().Set("Content-Type", "application/json")
			rw.WriteHeader(http.StatusMethodNotAllowed)
			json.NewEncoder(rw).Encode(map[string]string{"error": "Method not allowed"})
			return
		}

		bodyBytes, err := io.ReadAll(r.Body)
		if err != nil {
			rw.Header().Set("Content-Type", "application/json")
			rw.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(rw).Encode(map[string]string{"error": "Failed to read body"})
			return
		}
		defer r.Body.Close()

		statusCode, data := w.Handle(string(bodyBytes), r.Header.Get("X-WaveChat-Signature"))

		rw.Header().Set("Content-Type", "application/json")
		rw.WriteHeader(statusCode)
		json.NewEncoder(rw).Encode(data)
	})
}

// HTTPHandlerFunc returns an http.HandlerFunc for convenience.
func (w *Webhook) HTTPHandlerFunc() http.HandlerFunc {
	return w.HTTPHandler().ServeHTTP
}
