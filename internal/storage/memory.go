package storage

import (
	"context"
	"sync"
	"time"
)

// MemoryStore 記憶體持久層
//
// 開發模式與測試使用；行為對齊 PostgresStore（包括
// RecentChat 的時間正序與 UpsertFriendship 的冪等語義）。
type MemoryStore struct {
	mu          sync.Mutex
	messages    map[string][]ChatMessage // map:channel -> 訊息（時間正序）
	friendships map[[2]string]Friendship
	nextID      int64
	maxPerKey   int
}

// NewMemoryStore 創建記憶體持久層
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		messages:    make(map[string][]ChatMessage),
		friendships: make(map[[2]string]Friendship),
		nextID:      1,
		maxPerKey:   1000,
	}
}

// SaveChat 追加一則訊息
func (s *MemoryStore) SaveChat(_ context.Context, msg ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg.ID = s.nextID
	s.nextID++

	key := chatKey(msg.MapID, msg.ChannelID)
	list := append(s.messages[key], msg)
	if len(list) > s.maxPerKey {
		list = list[len(list)-s.maxPerKey:]
	}
	s.messages[key] = list
	return nil
}

// RecentChat 返回最近的訊息（時間正序）
func (s *MemoryStore) RecentChat(_ context.Context, mapID string, channelID, limit int) ([]ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.messages[chatKey(mapID, channelID)]
	if len(list) > limit {
		list = list[len(list)-limit:]
	}
	out := make([]ChatMessage, len(list))
	copy(out, list)
	return out, nil
}

// UpsertFriendship 寫入或更新好友關係
func (s *MemoryStore) UpsertFriendship(_ context.Context, f Friendship) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if f.UpdatedAt.IsZero() {
		f.UpdatedAt = time.Now()
	}
	s.friendships[[2]string{f.RequesterID, f.AddresseeID}] = f
	return nil
}

// Friendships 返回帳號的所有好友關係
func (s *MemoryStore) Friendships(_ context.Context, accountID string) ([]Friendship, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Friendship
	for key, f := range s.friendships {
		if key[0] == accountID || key[1] == accountID {
			out = append(out, f)
		}
	}
	return out, nil
}

// Friendship 查詢單條好友關係
func (s *MemoryStore) Friendship(_ context.Context, requesterID, addresseeID string) (Friendship, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.friendships[[2]string{requesterID, addresseeID}]
	if !ok {
		return Friendship{}, ErrNotFound
	}
	return f, nil
}

// Close 無資源需要釋放
func (s *MemoryStore) Close() {}
