package wavechat

import (
	"context"
	"log/slog"
	"sync"
)

// DefaultListKey is the query key the chat-list collection is cached under.
const DefaultListKey = "chats"

// A Change describes a cache mutation delivered to store subscribers.
type Change struct {
	// Kind is "chats" for the chat list or "messages" for a chat's message
	// collection.
	Kind string
	// ChatID is set for message changes.
	ChatID string
}

// Store owns the cached chat list and the per-chat message collections for
// the lifetime of an authenticated session. External code reads collections
// and subscribes to changes; mutations go through the sync engine only, so
// the structural-sharing and ordering invariants of the page transforms are
// preserved.
type Store struct {
	logger    *slog.Logger
	listKey   string
	snapshots Storage

	mu            sync.RWMutex
	chats         ChatPages
	chatsStale    bool
	messages      map[string]MessagePages
	messagesStale map[string]bool

	lmu       sync.Mutex
	listeners map[int]func(Change)
	nextSub   int
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithListKey overrides the chat-list cache key.
func WithListKey(key string) StoreOption {
	return func(s *Store) { s.listKey = key }
}

// WithSnapshotStorage enables warm-start persistence of the cached
// collections through the given backend.
func WithSnapshotStorage(storage Storage) StoreOption {
	return func(s *Store) { s.snapshots = storage }
}

// WithStoreLogger sets the logger used for snapshot failures.
func WithStoreLogger(logger *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = logger }
}

// NewStore creates an empty store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		listKey:       DefaultListKey,
		messages:      make(map[string]MessagePages),
		messagesStale: make(map[string]bool),
		listeners:     make(map[int]func(Change)),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Subscribe registers a listener invoked after every cache mutation. The
// returned function unsubscribes it.
func (s *Store) Subscribe(fn func(Change)) func() {
	s.lmu.Lock()
	id := s.nextSub
	s.nextSub++
	s.listeners[id] = fn
	s.lmu.Unlock()
	return func() {
		s.lmu.Lock()
		delete(s.listeners, id)
		s.lmu.Unlock()
	}
}

func (s *Store) notify(change Change) {
	s.lmu.Lock()
	fns := make([]func(Change), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.lmu.Unlock()
	for _, fn := range fns {
		fn(change)
	}
}

// ============================================================================
// Chat list
// ============================================================================

// Chats returns the cached chat list pages. The pages must be treated as
// immutable.
func (s *Store) Chats() ChatPages {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.chats
}

// ChatsStale reports whether the chat list is awaiting a refetch.
func (s *Store) ChatsStale() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.chatsStale
}

// ReplaceChats installs a freshly fetched chat list and clears the stale
// flag.
func (s *Store) ReplaceChats(pages ChatPages) {
	s.mu.Lock()
	s.chats = pages
	s.chatsStale = false
	s.mu.Unlock()
	s.snapshotChats(pages)
	s.notify(Change{Kind: "chats"})
}

// ApplyChats runs a pure projection over the chat list and installs the
// result.
func (s *Store) ApplyChats(fn func(ChatPages) ChatPages) {
	s.mu.Lock()
	s.chats = fn(s.chats)
	pages := s.chats
	s.mu.Unlock()
	s.snapshotChats(pages)
	s.notify(Change{Kind: "chats"})
}

// MarkChatsStale flags the chat list for a full refetch. The cached pages
// remain readable until replaced.
func (s *Store) MarkChatsStale() {
	s.mu.Lock()
	s.chatsStale = true
	s.mu.Unlock()
	s.notify(Change{Kind: "chats"})
}

// ============================================================================
// Message collections
// ============================================================================

// Messages returns a chat's cached message pages, or nil when the chat has
// not been loaded.
func (s *Store) Messages(chatID string) MessagePages {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.messages[chatID]
}

// HasMessages reports whether a message collection exists for the chat.
func (s *Store) HasMessages(chatID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.messages[chatID]
	return ok
}

// MessagesStale reports whether a chat's messages await a refetch.
func (s *Store) MessagesStale(chatID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.messagesStale[chatID]
}

// ReplaceMessages installs freshly fetched message pages for a chat.
func (s *Store) ReplaceMessages(chatID string, pages MessagePages) {
	s.mu.Lock()
	s.messages[chatID] = pages
	delete(s.messagesStale, chatID)
	s.mu.Unlock()
	s.snapshotMessages(chatID, pages)
	s.notify(Change{Kind: "messages", ChatID: chatID})
}

// ApplyMessages runs a pure projection over a chat's message pages. It is a
// no-op when the chat has no cached collection; reports whether the
// projection ran.
func (s *Store) ApplyMessages(chatID string, fn func(MessagePages) MessagePages) bool {
	s.mu.Lock()
	pages, ok := s.messages[chatID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	pages = fn(pages)
	s.messages[chatID] = pages
	s.mu.Unlock()
	s.snapshotMessages(chatID, pages)
	s.notify(Change{Kind: "messages", ChatID: chatID})
	return true
}

// LoadedChats returns the ids of every chat with a cached message
// collection.
func (s *Store) LoadedChats() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.messages))
	for id := range s.messages {
		out = append(out, id)
	}
	return out
}

// MarkMessagesStale flags a chat's messages for refetch.
func (s *Store) MarkMessagesStale(chatID string) {
	s.mu.Lock()
	s.messagesStale[chatID] = true
	s.mu.Unlock()
	s.notify(Change{Kind: "messages", ChatID: chatID})
}

// RemoveChat drops a chat from the list and discards its message collection.
func (s *Store) RemoveChat(chatID string) {
	s.mu.Lock()
	s.chats, _ = s.chats.Remove(chatID)
	delete(s.messages, chatID)
	delete(s.messagesStale, chatID)
	pages := s.chats
	s.mu.Unlock()
	s.snapshotChats(pages)
	if s.snapshots != nil {
		if err := s.snapshots.DeleteMessages(context.Background(), chatID); err != nil {
			s.logger.Error("Could not delete message snapshot", "chatId", chatID, "error", err.Error())
		}
	}
	s.notify(Change{Kind: "chats"})
	s.notify(Change{Kind: "messages", ChatID: chatID})
}

// Reset clears every cached collection. Called when the session is torn
// down; the core is rebuilt from scratch on re-authentication.
func (s *Store) Reset() {
	s.mu.Lock()
	s.chats = nil
	s.chatsStale = false
	s.messages = make(map[string]MessagePages)
	s.messagesStale = make(map[string]bool)
	s.mu.Unlock()
	s.notify(Change{Kind: "chats"})
}

// ============================================================================
// Snapshots
// ============================================================================

// Prime loads the chat-list snapshot, if any, so the UI has data before the
// first fetch completes. The primed list is marked stale.
func (s *Store) Prime(ctx context.Context) error {
	if s.snapshots == nil {
		return nil
	}
	pages, err := s.snapshots.LoadChats(ctx, s.listKey)
	if err != nil {
		return err
	}
	if pages == nil {
		return nil
	}
	s.mu.Lock()
	s.chats = pages
	s.chatsStale = true
	s.mu.Unlock()
	s.notify(Change{Kind: "chats"})
	return nil
}

// PrimeMessages loads a chat's message snapshot, if any, marking it stale.
func (s *Store) PrimeMessages(ctx context.Context, chatID string) error {
	if s.snapshots == nil {
		return nil
	}
	pages, err := s.snapshots.LoadMessages(ctx, chatID)
	if err != nil {
		return err
	}
	if pages == nil {
		return nil
	}
	s.mu.Lock()
	s.messages[chatID] = pages
	s.messagesStale[chatID] = true
	s.mu.Unlock()
	s.notify(Change{Kind: "messages", ChatID: chatID})
	return nil
}

func (s *Store) snapshotChats(pages ChatPages) {
	if s.snapshots == nil {
		return
	}
	if err := s.snapshots.SaveChats(context.Background(), s.listKey, pages); err != nil {
		s.logger.Error("Could not snapshot chat list", "error", err.Error())
	}
}

func (s *Store) snapshotMessages(chatID string, pages MessagePages) {
	if s.snapshots == nil {
		return
	}
	if err := s.snapshots.SaveMessages(context.Background(), chatID, pages); err != nil {
		s.logger.Error("Could not snapshot messages", "chatId", chatID, "error", err.Error())
	}
}
