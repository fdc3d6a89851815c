package wavechat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// A Transport is the persistent push channel the engine consumes. Satisfied
// by RealtimeClient; tests substitute their own.
type Transport interface {
	Connect(ctx context.Context) error
	Close() error
	Events() <-chan Envelope
	Lifecycle() <-chan LifecycleEvent
	Send(ctx context.Context, cmd Command) error
	State() ConnState
}

// A Notice is surfaced to the viewer when the server removes them from a
// chat.
type Notice struct {
	ChatID    string
	ChatTitle string
}

// Engine is the synchronization core. It owns the hub session, consumes the
// event stream on a single dispatch goroutine, and applies every event to
// the store through the pure page projections — so cache mutations happen
// in the order events arrive and never partially.
//
// Locally initiated sends go the other way: SendMessage inserts a
// provisional message, registers it in the optimistic registry, and
// reconciles or discards it once the server answers.
type Engine struct {
	client   *Client
	store    *Store
	registry *OptimisticRegistry
	unread   *UnreadTracker
	presence *PresenceTracker
	logger   *slog.Logger
	channel  string

	mu        sync.Mutex
	transport Transport
	status    ConnState
	selfID    string
	running   bool
	done      chan struct{}
	loopDone  chan struct{}

	notices chan Notice
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = logger }
}

// WithChannel sets the hub channel name.
func WithChannel(channel string) EngineOption {
	return func(e *Engine) { e.channel = channel }
}

// WithTransport substitutes the hub transport. When set, Start uses it
// instead of dialing through the REST client's endpoint.
func WithTransport(t Transport) EngineOption {
	return func(e *Engine) { e.transport = t }
}

// NewEngine creates a sync engine over the given REST client and store.
// client may be nil, in which case invalidations only mark collections
// stale and sends fail.
func NewEngine(client *Client, store *Store, opts ...EngineOption) *Engine {
	e := &Engine{
		client:   client,
		store:    store,
		registry: NewOptimisticRegistry(),
		unread:   NewUnreadTracker(),
		presence: NewPresenceTracker(),
		status:   StateDisconnected,
		notices:  make(chan Notice, 8),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

// Store returns the cache store the engine projects into.
func (e *Engine) Store() *Store { return e.store }

// Unread returns the unread tracker.
func (e *Engine) Unread() *UnreadTracker { return e.unread }

// Presence returns the presence and typing tracker.
func (e *Engine) Presence() *PresenceTracker { return e.presence }

// Registry returns the optimistic registry, for callers implementing their
// own send paths. Such callers own failure handling: a provisional message
// that never resolves must be released here and removed or flagged in the
// cache.
func (e *Engine) Registry() *OptimisticRegistry { return e.registry }

// Notices delivers removed-from-chat notices for the UI.
func (e *Engine) Notices() <-chan Notice { return e.notices }

// Status returns the connection status as driven by transport lifecycle
// callbacks.
func (e *Engine) Status() ConnState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

func (e *Engine) setStatus(s ConnState) {
	e.mu.Lock()
	e.status = s
	e.mu.Unlock()
}

// SelfID returns the viewer's user id as confirmed by the hub.
func (e *Engine) SelfID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.selfID
}

func (e *Engine) setSelfID(id string) {
	e.mu.Lock()
	e.selfID = id
	e.mu.Unlock()
}

// ============================================================================
// Lifecycle
// ============================================================================

// Start connects the hub and begins dispatching events. With an empty
// token the engine stays disconnected and makes no connection attempt.
func (e *Engine) Start(ctx context.Context, token string) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return fmt.Errorf("engine already started")
	}
	if token == "" {
		e.status = StateDisconnected
		e.mu.Unlock()
		e.logger.Info("No credential, staying disconnected")
		return nil
	}
	if e.transport == nil {
		if e.client == nil {
			e.mu.Unlock()
			return fmt.Errorf("no transport and no api client to build one from")
		}
		e.transport = e.client.Realtime(&RealtimeConfig{
			Token:         token,
			Channel:       e.channel,
			AutoReconnect: true,
		})
	}
	transport := e.transport
	e.status = StateConnecting
	e.running = true
	e.done = make(chan struct{})
	e.loopDone = make(chan struct{})
	e.mu.Unlock()

	// The dispatch loop starts before the handshake completes so the
	// Connected event and everything after it is consumed in order;
	// subscriptions survive transport-level reconnects.
	go e.loop(context.WithoutCancel(ctx), transport)

	if err := transport.Connect(ctx); err != nil {
		e.Stop()
		return fmt.Errorf("hub connect: %w", err)
	}
	return nil
}

// Stop detaches the dispatch loop first and only then stops the transport,
// so no handler ever fires against a torn-down cache. The cached
// collections themselves survive; call Store().Reset() on credential loss.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	close(e.done)
	loopDone := e.loopDone
	transport := e.transport
	e.mu.Unlock()

	<-loopDone
	if transport != nil {
		if err := transport.Close(); err != nil {
			e.logger.Error("Transport close failed", "error", err.Error())
		}
	}
	e.presence.Reset()
	e.setStatus(StateDisconnected)
}

func (e *Engine) loop(ctx context.Context, transport Transport) {
	defer close(e.loopDone)
	for {
		select {
		case <-e.done:
			return
		case env := <-transport.Events():
			e.handle(ctx, env)
		case lc := <-transport.Lifecycle():
			e.handleLifecycle(ctx, lc)
		}
	}
}

func (e *Engine) handleLifecycle(ctx context.Context, lc LifecycleEvent) {
	e.setStatus(lc.State)
	switch lc.State {
	case StateConnected:
		if lc.Resumed {
			// Events may have been missed while disconnected and the hub
			// does not replay them; refetch rather than trust the cache.
			e.logger.Info("Hub reconnected, reconciling cache")
			e.invalidateChats(ctx)
			e.reconcileMessages(ctx)
		} else {
			e.logger.Info("Hub connected")
		}
	case StateReconnecting:
		e.logger.Info("Hub reconnecting", "attempt", lc.Attempt, "reason", lc.Reason)
	case StateDisconnected:
		e.logger.Warn("Hub connection closed", "reason", lc.Reason)
	}
}

// ============================================================================
// Event dispatch
// ============================================================================

func decodePayload[T any](e *Engine, env Envelope) (T, bool) {
	var p T
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		e.logger.Error("Dropping malformed event", "type", env.Type, "error", err.Error())
		var zero T
		return zero, false
	}
	return p, true
}

func (e *Engine) handle(ctx context.Context, env Envelope) {
	switch env.Type {
	case EventConnected:
		if p, ok := decodePayload[ConnectedPayload](e, env); ok {
			e.setSelfID(p.UserID)
			e.logger.Info("Hub negotiated", "connectionId", p.ConnectionID, "userId", p.UserID)
		}
	case EventReceiveMessage:
		if p, ok := decodePayload[Message](e, env); ok {
			e.handleReceiveMessage(ctx, p)
		}
	case EventUserRead:
		if p, ok := decodePayload[UserReadPayload](e, env); ok {
			e.handleUserRead(ctx, p)
		}
	case EventUserTyping:
		if p, ok := decodePayload[TypingPayload](e, env); ok {
			e.presence.SetTyping(p.ChatID, p.UserID, true)
		}
	case EventUserStoppedTyping:
		if p, ok := decodePayload[TypingPayload](e, env); ok {
			e.presence.SetTyping(p.ChatID, p.UserID, false)
		}
	case EventUserOnline:
		if p, ok := decodePayload[PresencePayload](e, env); ok {
			e.presence.SetOnline(p.UserID, true)
		}
	case EventUserOffline:
		if p, ok := decodePayload[PresencePayload](e, env); ok {
			e.presence.SetOnline(p.UserID, false)
		}
	case EventReactionAdded:
		if p, ok := decodePayload[ReactionPayload](e, env); ok {
			e.handleReaction(ctx, p, true)
		}
	case EventReactionRemoved:
		if p, ok := decodePayload[ReactionPayload](e, env); ok {
			e.handleReaction(ctx, p, false)
		}
	case EventMessageEdited:
		if p, ok := decodePayload[MessageEditedPayload](e, env); ok {
			e.handleMessagePatch(ctx, p.ChatID, p.MessageID, func(m Message) Message {
				return withEdit(m, p.Content, p.EditedAt, p.Attachments)
			})
		}
	case EventMessageDeleted:
		if p, ok := decodePayload[MessageDeletedPayload](e, env); ok {
			e.handleMessagePatch(ctx, p.ChatID, p.MessageID, withDeleted)
		}
	case EventMessageRestored:
		if p, ok := decodePayload[MessageRestoredPayload](e, env); ok {
			e.handleMessagePatch(ctx, p.ChatID, p.MessageID, func(m Message) Message {
				return withRestored(m, p.Content, p.Attachments, p.Embeds)
			})
		}
	case EventParticipantJoined:
		if p, ok := decodePayload[ParticipantJoinedPayload](e, env); ok {
			e.handleChatPatch(ctx, p.ChatID, func(c Chat) Chat {
				return withParticipantJoined(c, p.Participant)
			})
		}
	case EventParticipantLeft:
		if p, ok := decodePayload[ParticipantLeftPayload](e, env); ok {
			e.handleChatPatch(ctx, p.ChatID, func(c Chat) Chat {
				return withParticipantLeft(c, p.UserID)
			})
		}
	case EventRemovedFromChat:
		if p, ok := decodePayload[RemovedFromChatPayload](e, env); ok {
			e.handleRemovedFromChat(p)
		}
	case EventChatCreated, EventChatDeleted:
		// The shape of a created or deleted chat cannot be safely
		// synthesized from a partial payload; refetch the list.
		e.invalidateChats(ctx)
	case EventChatUpdated:
		if p, ok := decodePayload[Chat](e, env); ok {
			e.handleChatUpdated(ctx, p)
		}
	case EventError:
		if p, ok := decodePayload[ErrorPayload](e, env); ok {
			e.logger.Warn("Hub error event", "message", p.Message)
		}
	default:
		e.logger.Warn("Ignoring unknown event", "type", env.Type)
	}
}

// ============================================================================
// Handlers
// ============================================================================

func (e *Engine) handleReceiveMessage(ctx context.Context, msg Message) {
	if msg.ChatID == "" || msg.ID == "" {
		e.logger.Error("Dropping ReceiveMessage without ids", "chatId", msg.ChatID, "messageId", msg.ID)
		return
	}
	msg = msg.Normalize()

	var clientID string
	var reconcile bool
	inserted := false
	if e.store.HasMessages(msg.ChatID) {
		// One transform so the duplicate check and the insert are atomic
		// against the send path completing on another goroutine. The registry
		// lookup happens under the same store lock the send path binds under,
		// so the mapping and the cache are always observed in one state.
		e.store.ApplyMessages(msg.ChatID, func(p MessagePages) MessagePages {
			clientID, reconcile = e.registry.Resolve(msg.ID)
			if _, _, dup := p.Find(msg.ID); dup {
				return p
			}
			inserted = true
			if reconcile {
				confirmed := msg
				confirmed.ClientID = clientID
				if out, ok := p.ReplaceClient(clientID, confirmed); ok {
					return out
				}
			} else if msg.ClientID != "" {
				// The server echoes the provisional id it was sent, so the
				// echo can reconcile even when the send response is still in
				// flight or was lost.
				if out, ok := p.ReplaceClient(msg.ClientID, msg); ok {
					return out
				}
			}
			return p.Prepend(msg)
		})
	} else {
		clientID, reconcile = e.registry.Resolve(msg.ID)
	}
	if reconcile {
		// Released on the duplicate path too: the mapping is orphaned once
		// the send path has already reconciled by id.
		e.registry.Release(clientID)
	}
	if !inserted && e.store.HasMessages(msg.ChatID) {
		// Duplicate echo; counters were already settled the first time.
		e.presence.ClearTyping(msg.ChatID, msg.SenderID)
		return
	}

	countUnread := msg.SenderID != e.SelfID() && !reconcile && e.unread.Active() != msg.ChatID
	e.bumpChat(ctx, msg, countUnread)
	e.presence.ClearTyping(msg.ChatID, msg.SenderID)
}

// bumpChat updates the denormalized lastMessage, moves the chat to the top
// of the list, and applies the unread increment when asked. A chat missing
// from the cached list degrades to a full list refetch.
func (e *Engine) bumpChat(ctx context.Context, msg Message, countUnread bool) {
	if _, ok := e.store.Chats().Get(msg.ChatID); !ok {
		e.invalidateChats(ctx)
		return
	}
	newCount := 0
	if countUnread {
		newCount = e.unread.Increment(msg.ChatID)
	}
	e.store.ApplyChats(func(p ChatPages) ChatPages {
		out, _ := p.Patch(msg.ChatID, func(c Chat) Chat {
			m := msg
			c.LastMessage = &m
			if countUnread {
				c.UnreadCount = newCount
			}
			return c
		})
		out, _ = out.Promote(msg.ChatID)
		return out
	})
}

func (e *Engine) handleUserRead(ctx context.Context, p UserReadPayload) {
	if p.ChatID == "" || p.UserID == "" {
		e.logger.Error("Dropping UserRead without ids")
		return
	}
	if _, ok := e.store.Chats().Get(p.ChatID); !ok {
		e.invalidateChats(ctx)
		return
	}
	selfRead := p.UserID == e.SelfID()
	if selfRead {
		e.unread.Zero(p.ChatID)
	}
	e.store.ApplyChats(func(pages ChatPages) ChatPages {
		out, _ := pages.Patch(p.ChatID, func(c Chat) Chat {
			c = withReadReceipt(c, p.UserID, p.LastReadMessageID, p.ReadAt)
			if selfRead {
				c.UnreadCount = 0
			}
			return c
		})
		return out
	})
}

func (e *Engine) handleReaction(ctx context.Context, p ReactionPayload, added bool) {
	if p.ChatID == "" || p.MessageID == "" {
		e.logger.Error("Dropping reaction event without ids")
		return
	}
	transform := func(m Message) Message {
		if added {
			return withReactionAdded(m, p.Emoji, p.UserID)
		}
		return withReactionRemoved(m, p.Emoji, p.UserID)
	}
	e.handleMessagePatch(ctx, p.ChatID, p.MessageID, transform)
}

// handleMessagePatch patches one message wherever it is cached: the chat's
// message pages and, when it is the chat's denormalized lastMessage, the
// chat list entry. A loaded collection that does not contain the message
// falls back to refetching that collection.
func (e *Engine) handleMessagePatch(ctx context.Context, chatID, messageID string, fn func(Message) Message) {
	if chatID == "" || messageID == "" {
		e.logger.Error("Dropping message patch event without ids")
		return
	}
	if pages := e.store.Messages(chatID); pages != nil {
		if _, _, ok := pages.Find(messageID); ok {
			e.store.ApplyMessages(chatID, func(p MessagePages) MessagePages {
				out, _ := p.Patch(messageID, fn)
				return out
			})
		} else {
			e.invalidateMessages(ctx, chatID)
		}
	}
	if chat, ok := e.store.Chats().Get(chatID); ok {
		if chat.LastMessage != nil && chat.LastMessage.ID == messageID {
			e.store.ApplyChats(func(p ChatPages) ChatPages {
				out, _ := p.Patch(chatID, func(c Chat) Chat {
					return withLastMessagePatched(c, messageID, fn)
				})
				return out
			})
		}
	}
}

// handleChatPatch patches one cached chat, degrading to a list refetch when
// the chat is not cached.
func (e *Engine) handleChatPatch(ctx context.Context, chatID string, fn func(Chat) Chat) {
	if chatID == "" {
		e.logger.Error("Dropping chat patch event without id")
		return
	}
	if _, ok := e.store.Chats().Get(chatID); !ok {
		e.invalidateChats(ctx)
		return
	}
	e.store.ApplyChats(func(p ChatPages) ChatPages {
		out, _ := p.Patch(chatID, fn)
		return out
	})
}

func (e *Engine) handleRemovedFromChat(p RemovedFromChatPayload) {
	if p.ChatID == "" {
		e.logger.Error("Dropping RemovedFromChat without id")
		return
	}
	e.unread.Forget(p.ChatID)
	e.store.RemoveChat(p.ChatID)
	select {
	case e.notices <- Notice{ChatID: p.ChatID, ChatTitle: p.ChatTitle}:
	default:
		e.logger.Warn("Notice buffer full, dropping", "chatId", p.ChatID)
	}
}

func (e *Engine) handleChatUpdated(ctx context.Context, chat Chat) {
	if chat.ID == "" {
		e.logger.Error("Dropping ChatUpdated without id")
		return
	}
	_, cached := e.store.Chats().Get(chat.ID)
	if !cached || chat.ID != e.unread.Active() {
		// Either a reconnect gap (unknown chat) or a background chat whose
		// server-side unread counter is authoritative: refetch the list.
		e.invalidateChats(ctx)
		return
	}
	// The viewer is looking at this chat; the server does not know that,
	// so its unread counter is overridden back to zero.
	e.unread.Zero(chat.ID)
	chat.UnreadCount = 0
	if chat.LastMessage != nil {
		last := chat.LastMessage.Normalize()
		chat.LastMessage = &last
	}
	e.store.ApplyChats(func(p ChatPages) ChatPages {
		out, _ := p.Patch(chat.ID, func(Chat) Chat { return chat })
		return out
	})
}

// ============================================================================
// Invalidation / refetch
// ============================================================================

// invalidateChats discards trust in the cached chat list and refetches the
// first page. Without an API client the list is only marked stale.
func (e *Engine) invalidateChats(ctx context.Context) {
	e.store.MarkChatsStale()
	if e.client == nil {
		return
	}
	page, err := e.client.ListChats(ctx, 1)
	if err != nil {
		e.logger.Error("Chat list refetch failed", "error", err.Error())
		return
	}
	counts := make(map[string]int, len(page))
	for i := range page {
		counts[page[i].ID] = page[i].UnreadCount
	}
	e.unread.ReplaceAll(counts)
	active := e.unread.Active()
	for i := range page {
		if page[i].ID == active {
			page[i].UnreadCount = 0
		}
		if page[i].LastMessage != nil {
			last := page[i].LastMessage.Normalize()
			page[i].LastMessage = &last
		}
	}
	e.store.ReplaceChats(ChatPages{page})
}

// invalidateMessages refetches the first page of one chat's messages.
func (e *Engine) invalidateMessages(ctx context.Context, chatID string) {
	e.store.MarkMessagesStale(chatID)
	if e.client == nil {
		return
	}
	page, err := e.client.ListMessages(ctx, chatID, 1)
	if err != nil {
		e.logger.Error("Message refetch failed", "chatId", chatID, "error", err.Error())
		return
	}
	for i := range page {
		page[i] = page[i].Normalize()
	}
	e.store.ReplaceMessages(chatID, MessagePages{page})
}

// reconcileMessages marks every loaded message collection stale after a
// reconnect and refetches the one the viewer is looking at.
func (e *Engine) reconcileMessages(ctx context.Context) {
	active := e.unread.Active()
	for _, chatID := range e.store.LoadedChats() {
		if chatID == active {
			e.invalidateMessages(ctx, chatID)
		} else {
			e.store.MarkMessagesStale(chatID)
		}
	}
}

// ============================================================================
// Viewer operations
// ============================================================================

// SetActiveChat marks the chat the viewer is looking at, zeroes its unread
// counters, and reports the read to the server. Pass "" when the viewer
// leaves the chat view.
func (e *Engine) SetActiveChat(ctx context.Context, chatID string) {
	e.unread.SetActive(chatID)
	if chatID == "" {
		return
	}
	e.unread.Zero(chatID)
	e.store.ApplyChats(func(p ChatPages) ChatPages {
		out, _ := p.Patch(chatID, func(c Chat) Chat {
			c.UnreadCount = 0
			return c
		})
		return out
	})
	if e.client != nil {
		if err := e.client.MarkRead(ctx, chatID); err != nil {
			e.logger.Error("Mark read failed", "chatId", chatID, "error", err.Error())
		}
	}
}

// OpenChat loads a chat's message collection if it is not cached yet and
// makes it the active chat.
func (e *Engine) OpenChat(ctx context.Context, chatID string) error {
	if !e.store.HasMessages(chatID) {
		if e.client == nil {
			return fmt.Errorf("no api client to load messages with")
		}
		page, err := e.client.ListMessages(ctx, chatID, 1)
		if err != nil {
			return fmt.Errorf("load messages: %w", err)
		}
		for i := range page {
			page[i] = page[i].Normalize()
		}
		e.store.ReplaceMessages(chatID, MessagePages{page})
	}
	e.SetActiveChat(ctx, chatID)
	return nil
}

// LoadMoreMessages fetches the next (older) page of a chat's messages and
// appends it after the cached pages. Entries already cached are dropped from
// the fetched page: a message arriving between fetches shifts the server's
// pagination, so the next page's head can repeat the cached tail.
func (e *Engine) LoadMoreMessages(ctx context.Context, chatID string) error {
	if e.client == nil {
		return fmt.Errorf("no api client to load messages with")
	}
	next := len(e.store.Messages(chatID)) + 1
	page, err := e.client.ListMessages(ctx, chatID, next)
	if err != nil {
		return fmt.Errorf("load messages page %d: %w", next, err)
	}
	for i := range page {
		page[i] = page[i].Normalize()
	}
	if !e.store.ApplyMessages(chatID, func(p MessagePages) MessagePages {
		fresh := make(MessagePage, 0, len(page))
		for _, m := range page {
			if _, _, cached := p.Find(m.ID); cached {
				continue
			}
			fresh = append(fresh, m)
		}
		if len(fresh) == 0 {
			return p
		}
		out := make(MessagePages, len(p), len(p)+1)
		copy(out, p)
		return append(out, fresh)
	}) {
		e.store.ReplaceMessages(chatID, MessagePages{page})
	}
	return nil
}

// SendMessage inserts an optimistic message, posts it, and reconciles the
// provisional entry with the server's copy. It returns the provisional id.
// When the chat's message collection is loaded and the send fails, the entry
// stays in the cache flagged failed until the caller discards it with
// DiscardFailed; for an unloaded chat there is no cached entry to flag and
// the failure is reported through the returned error alone.
func (e *Engine) SendMessage(ctx context.Context, chatID, content string) (string, error) {
	if e.client == nil {
		return "", fmt.Errorf("no api client to send with")
	}
	clientID := NewClientID()
	provisional := Message{
		ClientID:    clientID,
		ChatID:      chatID,
		SenderID:    e.SelfID(),
		Content:     content,
		CreatedAt:   time.Now(),
		Attachments: []Attachment{},
		Embeds:      []Embed{},
		Reactions:   []Reaction{},
	}

	e.registry.Register(clientID)
	cached := e.store.ApplyMessages(chatID, func(p MessagePages) MessagePages {
		return p.Prepend(provisional)
	})
	if _, ok := e.store.Chats().Get(chatID); ok {
		e.store.ApplyChats(func(p ChatPages) ChatPages {
			out, _ := p.Patch(chatID, func(c Chat) Chat {
				m := provisional
				c.LastMessage = &m
				return c
			})
			out, _ = out.Promote(chatID)
			return out
		})
	}

	sent, err := e.client.SendMessage(ctx, chatID, content, clientID)
	if err != nil {
		e.registry.Release(clientID)
		if cached {
			e.store.ApplyMessages(chatID, func(p MessagePages) MessagePages {
				out, _ := p.PatchClient(clientID, func(m Message) Message {
					m.Failed = true
					return m
				})
				return out
			})
		}
		return clientID, fmt.Errorf("send message: %w", err)
	}

	e.completeSend(ctx, clientID, sent.Normalize())
	return clientID, nil
}

// completeSend reconciles the provisional entry with the confirmed message.
// The hub echo races with this call in either order; the single transform
// below and the dedup in handleReceiveMessage keep exactly one entry.
func (e *Engine) completeSend(ctx context.Context, clientID string, sent Message) {
	confirmed := sent
	confirmed.ClientID = clientID
	echoWon := false
	replaced := false
	loaded := e.store.ApplyMessages(sent.ChatID, func(p MessagePages) MessagePages {
		if _, _, dup := p.Find(sent.ID); dup {
			// The echo arrived before the send response. Drop the provisional
			// copy if it is still provisional; when the echo carried the
			// client id the entry was already reconciled in place.
			echoWon = true
			if pi, i, ok := p.FindClient(clientID); ok && p[pi][i].ID == "" {
				out, _ := p.RemoveClient(clientID)
				return out
			}
			return p
		}
		out, ok := p.ReplaceClient(clientID, confirmed)
		if !ok {
			return p
		}
		replaced = true
		// Bound under the store lock so the echo handler's resolve and its
		// duplicate check see the mapping and the cache in the same state.
		// The mapping then lives until the echo arrives and is deduplicated.
		e.registry.Bind(clientID, sent.ID)
		return out
	})
	if !loaded || echoWon || !replaced {
		// Nothing left for the echo to reconcile against.
		e.registry.Release(clientID)
	}
	if echoWon {
		return
	}
	e.bumpChat(ctx, sent, false)
}

// DiscardFailed removes a failed provisional message from the cache and
// releases its registry entry.
func (e *Engine) DiscardFailed(chatID, clientID string) {
	e.registry.Release(clientID)
	e.store.ApplyMessages(chatID, func(p MessagePages) MessagePages {
		out, _ := p.RemoveClient(clientID)
		return out
	})
}

// AddReaction applies the viewer's reaction optimistically and posts it.
func (e *Engine) AddReaction(ctx context.Context, chatID, messageID, emoji string) error {
	if self := e.SelfID(); self != "" {
		e.handleMessagePatch(ctx, chatID, messageID, func(m Message) Message {
			return withReactionAdded(m, emoji, self)
		})
	}
	if e.client == nil {
		return fmt.Errorf("no api client to react with")
	}
	if err := e.client.AddReaction(ctx, chatID, messageID, emoji); err != nil {
		e.invalidateMessages(ctx, chatID)
		return fmt.Errorf("add reaction: %w", err)
	}
	return nil
}

// RemoveReaction removes the viewer's reaction optimistically and posts it.
func (e *Engine) RemoveReaction(ctx context.Context, chatID, messageID, emoji string) error {
	if self := e.SelfID(); self != "" {
		e.handleMessagePatch(ctx, chatID, messageID, func(m Message) Message {
			return withReactionRemoved(m, emoji, self)
		})
	}
	if e.client == nil {
		return fmt.Errorf("no api client to react with")
	}
	if err := e.client.RemoveReaction(ctx, chatID, messageID, emoji); err != nil {
		e.invalidateMessages(ctx, chatID)
		return fmt.Errorf("remove reaction: %w", err)
	}
	return nil
}

// StartTyping reports the viewer typing in a chat over the hub.
func (e *Engine) StartTyping(ctx context.Context, chatID string) error {
	e.mu.Lock()
	transport := e.transport
	e.mu.Unlock()
	if transport == nil {
		return fmt.Errorf("not connected")
	}
	return transport.Send(ctx, Command{Type: CommandStartTyping, Payload: map[string]string{"chatId": chatID}})
}

// StopTyping reports the viewer stopped typing in a chat over the hub.
func (e *Engine) StopTyping(ctx context.Context, chatID string) error {
	e.mu.Lock()
	transport := e.transport
	e.mu.Unlock()
	if transport == nil {
		return fmt.Errorf("not connected")
	}
	return transport.Send(ctx, Command{Type: CommandStopTyping, Payload: map[string]string{"chatId": chatID}})
}
