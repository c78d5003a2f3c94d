package files

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepository keeps files in process memory.
type MemoryRepository struct {
	mu    sync.RWMutex
	files map[string]File
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{files: make(map[string]File)}
}

func (r *MemoryRepository) Insert(_ context.Context, f File) (File, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f.Data = append([]byte(nil), f.Data...)
	r.files[f.ID] = f
	return f, nil
}

func (r *MemoryRepository) List(_ context.Context, ownerID string) ([]File, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var res []File
	for _, f := range r.files {
		if f.OwnerID == ownerID {
			f.Data = nil
			res = append(res, f)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.After(res[j].CreatedAt) })
	return res, nil
}

func (r *MemoryRepository) Get(_ context.Context, ownerID, id string) (File, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.files[id]
	if !ok || f.OwnerID != ownerID {
		return File{}, ErrNotFound
	}
	f.Data = append([]byte(nil), f.Data...)
	return f, nil
}

func (r *MemoryRepository) Delete(_ context.Context, ownerID, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.files[id]
	if !ok || f.OwnerID != ownerID {
		return ErrNotFound
	}
	delete(r.files, id)
	return nil
}
