package wavechat

import (
	"encoding/json"
	"fmt"
	"time"
)

// ============================================================================
// Shared Types
// ============================================================================

// APIError represents an error reported by the WaveChat API.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return fmt.Sprintf("api error (HTTP %d): %s", e.Status, e.Message)
}

// ============================================================================
// Domain Model
// ============================================================================

// A Reaction groups the users who reacted to a message with one emoji.
// User membership has set semantics: adding the same user twice is a no-op
// and removing the last user removes the reaction entry entirely.
type Reaction struct {
	Emoji   string   `json:"emoji"`
	UserIDs []string `json:"userIds"`
}

// An Attachment is a file attached to a message.
type Attachment struct {
	ID       string `json:"id"`
	URL      string `json:"url"`
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// An Embed is a rich preview rendered inline with a message.
type Embed struct {
	Type        string `json:"type"`
	URL         string `json:"url,omitempty"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
}

// A Message is a single chat message.
//
// ID is server-assigned. ClientID is the provisional identifier assigned
// locally when a message is sent optimistically; it is only meaningful until
// the server echo is reconciled. Within one chat's cached collection no two
// entries share an ID, and at most one entry carries a given ClientID.
type Message struct {
	ID          string       `json:"id,omitempty"`
	ClientID    string       `json:"clientId,omitempty"`
	ChatID      string       `json:"chatId"`
	SenderID    string       `json:"senderId"`
	Content     string       `json:"content"`
	CreatedAt   time.Time    `json:"createdAt"`
	Edited      bool         `json:"edited,omitempty"`
	EditedAt    *time.Time   `json:"editedAt,omitempty"`
	Deleted     bool         `json:"deleted,omitempty"`
	Failed      bool         `json:"-"` // local only: optimistic send failed
	Attachments []Attachment `json:"attachments"`
	Embeds      []Embed      `json:"embeds"`
	Reactions   []Reaction   `json:"reactions"`
}

// Normalize returns a copy with nil optional collections replaced by empty
// ones, so cache projections never have to branch on nil.
func (m Message) Normalize() Message {
	if m.Attachments == nil {
		m.Attachments = []Attachment{}
	}
	if m.Embeds == nil {
		m.Embeds = []Embed{}
	}
	if m.Reactions == nil {
		m.Reactions = []Reaction{}
	}
	return m
}

// A Participant is a member of a chat together with their read state.
type Participant struct {
	UserID            string     `json:"userId"`
	LastReadMessageID string     `json:"lastReadMessageId,omitempty"`
	LastReadAt        *time.Time `json:"lastReadAt,omitempty"`
	Online            bool       `json:"online,omitempty"`
}

// A Chat is a conversation with its denormalized last message and the
// viewer's unread counter. UnreadCount is never negative and is reset to
// zero exactly while the viewer is actively looking at the chat.
type Chat struct {
	ID           string        `json:"id"`
	Title        string        `json:"title"`
	Participants []Participant `json:"participants"`
	LastMessage  *Message      `json:"lastMessage,omitempty"`
	UnreadCount  int           `json:"unreadCount"`
}

// ============================================================================
// Wire Events
// ============================================================================

// Named events delivered by the realtime hub. The names and the payload
// field names are part of the wire contract.
const (
	EventReceiveMessage    = "ReceiveMessage"
	EventUserRead          = "UserRead"
	EventUserTyping        = "UserTyping"
	EventUserStoppedTyping = "UserStoppedTyping"
	EventConnected         = "Connected"
	EventUserOnline        = "UserOnline"
	EventUserOffline       = "UserOffline"
	EventReactionAdded     = "ReactionAdded"
	EventReactionRemoved   = "ReactionRemoved"
	EventMessageEdited     = "MessageEdited"
	EventMessageDeleted    = "MessageDeleted"
	EventMessageRestored   = "MessageRestored"
	EventParticipantJoined = "ParticipantJoined"
	EventParticipantLeft   = "ParticipantLeft"
	EventRemovedFromChat   = "RemovedFromChat"
	EventError             = "Error"
	EventChatCreated       = "ChatCreated"
	EventChatDeleted       = "ChatDeleted"
	EventChatUpdated       = "ChatUpdated"
)

// Envelope is the wire format for all hub events.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// ConnectedPayload confirms a negotiated hub connection.
type ConnectedPayload struct {
	ConnectionID string `json:"connectionId"`
	UserID       string `json:"userId"`
}

// UserReadPayload reports a participant's read receipt.
type UserReadPayload struct {
	UserID            string    `json:"userId"`
	ChatID            string    `json:"chatId"`
	ReadAt            time.Time `json:"readAt"`
	LastReadMessageID string    `json:"lastReadMessageId,omitempty"`
}

// TypingPayload is shared by UserTyping and UserStoppedTyping.
type TypingPayload struct {
	UserID string `json:"userId"`
	ChatID string `json:"chatId"`
}

// PresencePayload is shared by UserOnline and UserOffline.
type PresencePayload struct {
	UserID string `json:"userId"`
}

// ReactionPayload is shared by ReactionAdded and ReactionRemoved.
type ReactionPayload struct {
	MessageID string `json:"messageId"`
	ChatID    string `json:"chatId"`
	Emoji     string `json:"emoji"`
	UserID    string `json:"userId"`
}

// MessageEditedPayload patches a message in place. A nil Attachments slice
// means the attachments were not touched by the edit.
type MessageEditedPayload struct {
	ChatID      string       `json:"chatId"`
	MessageID   string       `json:"messageId"`
	Content     string       `json:"content"`
	EditedAt    time.Time    `json:"editedAt"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// MessageDeletedPayload soft-deletes a message.
type MessageDeletedPayload struct {
	MessageID string `json:"messageId"`
	ChatID    string `json:"chatId"`
}

// MessageRestoredPayload reverses a soft delete.
type MessageRestoredPayload struct {
	ChatID      string       `json:"chatId"`
	MessageID   string       `json:"messageId"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Embeds      []Embed      `json:"embeds,omitempty"`
}

// ParticipantJoinedPayload adds a participant to a chat.
type ParticipantJoinedPayload struct {
	ChatID      string      `json:"chatId"`
	Participant Participant `json:"participant"`
}

// ParticipantLeftPayload removes a participant from a chat.
type ParticipantLeftPayload struct {
	ChatID string `json:"chatId"`
	UserID string `json:"userId"`
}

// RemovedFromChatPayload notifies the viewer they were removed from a chat.
type RemovedFromChatPayload struct {
	ChatID    string `json:"chatId"`
	ChatTitle string `json:"chatTitle"`
}

// ErrorPayload carries a server-side error.
type ErrorPayload struct {
	Message string `json:"message"`
}
