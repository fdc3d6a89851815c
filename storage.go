package wavechat

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// A Storage persists cache snapshots between runs so the UI can warm-start
// from local data while the first fetch is in flight. Load methods return
// (nil, nil) when no snapshot exists.
type Storage interface {
	SaveChats(ctx context.Context, key string, pages ChatPages) error
	LoadChats(ctx context.Context, key string) (ChatPages, error)
	SaveMessages(ctx context.Context, chatID string, pages MessagePages) error
	LoadMessages(ctx context.Context, chatID string) (MessagePages, error)
	DeleteMessages(ctx context.Context, chatID string) error
}

// ============================================================================
// MemoryStorage
// ============================================================================

// MemoryStorage is a goroutine-safe in-memory snapshot backend. Snapshots
// are stored as encoded JSON so backends stay interchangeable.
type MemoryStorage struct {
	mu       sync.RWMutex
	chats    map[string][]byte
	messages map[string][]byte
}

// NewMemoryStorage creates an empty in-memory backend.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		chats:    make(map[string][]byte),
		messages: make(map[string][]byte),
	}
}

func (s *MemoryStorage) SaveChats(_ context.Context, key string, pages ChatPages) error {
	data, err := json.Marshal(pages)
	if err != nil {
		return fmt.Errorf("encode chats: %w", err)
	}
	s.mu.Lock()
	s.chats[key] = data
	s.mu.Unlock()
	return nil
}

func (s *MemoryStorage) LoadChats(_ context.Context, key string) (ChatPages, error) {
	s.mu.RLock()
	data, ok := s.chats[key]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	var pages ChatPages
	if err := json.Unmarshal(data, &pages); err != nil {
		return nil, fmt.Errorf("decode chats: %w", err)
	}
	return pages, nil
}

func (s *MemoryStorage) SaveMessages(_ context.Context, chatID string, pages MessagePages) error {
	data, err := json.Marshal(pages)
	if err != nil {
		return fmt.Errorf("encode messages: %w", err)
	}
	s.mu.Lock()
	s.messages[chatID] = data
	s.mu.Unlock()
	return nil
}

func (s *MemoryStorage) LoadMessages(_ context.Context, chatID string) (MessagePages, error) {
	s.mu.RLock()
	data, ok := s.messages[chatID]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	var pages MessagePages
	if err := json.Unmarshal(data, &pages); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	return pages, nil
}

func (s *MemoryStorage) DeleteMessages(_ context.Context, chatID string) error {
	s.mu.Lock()
	delete(s.messages, chatID)
	s.mu.Unlock()
	return nil
}

// ============================================================================
// RedisStorage
// ============================================================================

const (
	chatsPrefix    = "wavechat:chats"
	messagesPrefix = "wavechat:messages"
)

// RedisStorage is a Redis-backed snapshot backend, useful for server-side
// agents that keep their cache across restarts.
type RedisStorage struct {
	cli *redis.Client
	ttl time.Duration
}

// ConnectRedis connects to the Redis server and pings it to ensure the
// connection is working. A zero ttl keeps snapshots forever.
func ConnectRedis(ctx context.Context, addr string, ttl time.Duration) (*RedisStorage, error) {
	cli := redis.NewClient(&redis.Options{
		Addr: addr,
	})
	if err := cli.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisStorage{cli: cli, ttl: ttl}, nil
}

// Close releases the underlying Redis connection.
func (s *RedisStorage) Close() error {
	return s.cli.Close()
}

func (s *RedisStorage) SaveChats(ctx context.Context, key string, pages ChatPages) error {
	data, err := json.Marshal(pages)
	if err != nil {
		return fmt.Errorf("encode chats: %w", err)
	}
	if err := s.cli.Set(ctx, fmt.Sprintf("%s:%s", chatsPrefix, key), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (s *RedisStorage) LoadChats(ctx context.Context, key string) (ChatPages, error) {
	data, err := s.cli.Get(ctx, fmt.Sprintf("%s:%s", chatsPrefix, key)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	var pages ChatPages
	if err := json.Unmarshal(data, &pages); err != nil {
		return nil, fmt.Errorf("decode chats: %w", err)
	}
	return pages, nil
}

func (s *RedisStorage) SaveMessages(ctx context.Context, chatID string, pages MessagePages) error {
	data, err := json.Marshal(pages)
	if err != nil {
		return fmt.Errorf("encode messages: %w", err)
	}
	if err := s.cli.Set(ctx, fmt.Sprintf("%s:%s", messagesPrefix, chatID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (s *RedisStorage) LoadMessages(ctx context.Context, chatID string) (MessagePages, error) {
	data, err := s.cli.Get(ctx, fmt.Sprintf("%s:%s", messagesPrefix, chatID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	var pages MessagePages
	if err := json.Unmarshal(data, &pages); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	return pages, nil
}

func (s *RedisStorage) DeleteMessages(ctx context.Context, chatID string) error {
	if err := s.cli.Del(ctx, fmt.Sprintf("%s:%s", messagesPrefix, chatID)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
