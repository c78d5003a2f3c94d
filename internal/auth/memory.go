package auth

import (
	"context"
	"strings"
	"sync"
)

// MemoryRepository keeps users in process memory.
type MemoryRepository struct {
	mu    sync.RWMutex
	users map[string]User
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{users: make(map[string]User)}
}

func (r *MemoryRepository) Create(_ context.Context, u User) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.users {
		if existing.Username == u.Username {
			return User{}, ErrUsernameTaken
		}
		if existing.Email == u.Email {
			return User{}, ErrEmailTaken
		}
	}
	r.users[u.ID] = u
	return u, nil
}

func (r *MemoryRepository) FindByLogin(_ context.Context, identifier string) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	email := strings.ToLower(identifier)
	for _, u := range r.users {
		if u.Email == email || u.Username == identifier {
			return u, nil
		}
	}
	return User{}, ErrNotFound
}

func (r *MemoryRepository) Get(_ context.Context, id string) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}
