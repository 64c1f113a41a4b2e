package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aiwuxian/recall-knowledge/internal/models"
)

// MemoryStore 进程内存储，值同样按JSON保存以与持久化实现行为一致
type MemoryStore struct {
	mu     sync.RWMutex
	flags  map[string]map[string]map[string][]byte // user -> namespace -> key -> JSON
	actors map[string]models.Actor
	users  map[string]models.User
	party  []string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		flags:  make(map[string]map[string]map[string][]byte),
		actors: make(map[string]models.Actor),
		users:  make(map[string]models.User),
	}
}

func (m *MemoryStore) GetFlag(_ context.Context, userID, namespace, key string, out any) (bool, error) {
	m.mu.RLock()
	data, ok := m.flags[userID][namespace][key]
	m.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("解析标记失败: %w", err)
	}
	return true, nil
}

func (m *MemoryStore) SetFlag(_ context.Context, userID, namespace, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("序列化标记失败: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.flags[userID] == nil {
		m.flags[userID] = make(map[string]map[string][]byte)
	}
	if m.flags[userID][namespace] == nil {
		m.flags[userID][namespace] = make(map[string][]byte)
	}
	m.flags[userID][namespace][key] = data
	return nil
}

func (m *MemoryStore) FlagKeys(_ context.Context, userID, namespace string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.flags[userID][namespace]))
	for k := range m.flags[userID][namespace] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *MemoryStore) FlagUsers(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	users := make([]string, 0, len(m.flags))
	for u := range m.flags {
		users = append(users, u)
	}
	sort.Strings(users)
	return users, nil
}

func (m *MemoryStore) SaveActor(_ context.Context, actor *models.Actor) error {
	actor.UpdatedAt = time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.actors[actor.ID] = *actor
	return nil
}

func (m *MemoryStore) Actor(_ context.Context, id string) (*models.Actor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.actors[id]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (m *MemoryStore) Actors(_ context.Context) ([]models.Actor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Actor, 0, len(m.actors))
	for _, a := range m.actors {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryStore) PartyMembers(_ context.Context) ([]models.Actor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Actor
	for _, id := range m.party {
		if a, ok := m.actors[id]; ok {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *MemoryStore) SetParty(_ context.Context, actorIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.party = append([]string{}, actorIDs...)
	return nil
}

func (m *MemoryStore) SaveUser(_ context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[user.ID] = *user
	return nil
}

func (m *MemoryStore) User(_ context.Context, id string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (m *MemoryStore) GMs(_ context.Context) ([]models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.User
	for _, u := range m.users {
		if u.IsGM {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
